package zarr

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/couchcryptid/wave-archive/internal/domain"
)

// Store reads a consolidated store. All metadata comes from .zmetadata;
// chunk data is read lazily per array.
type Store struct {
	root string
	cons ConsolidatedMeta
}

// Open loads a store's consolidated metadata. A directory without
// .zmetadata is a store that never finished publishing and fails with
// domain.ErrStoreIncomplete.
func Open(path string) (*Store, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open store %s: not a directory", path)
	}

	data, err := os.ReadFile(filepath.Join(path, ConsolidatedFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s has no %s: %w", path, ConsolidatedFile, domain.ErrStoreIncomplete)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ConsolidatedFile, err)
	}

	var cons ConsolidatedMeta
	if err := json.Unmarshal(data, &cons); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ConsolidatedFile, err)
	}
	if cons.Format != consolidatedFormat {
		return nil, fmt.Errorf("consolidated format %d, want %d", cons.Format, consolidatedFormat)
	}
	return &Store{root: path, cons: cons}, nil
}

func (s *Store) Path() string { return s.root }

// Consolidated exposes the raw metadata documents keyed by relative path.
func (s *Store) Consolidated() map[string]json.RawMessage { return s.cons.Metadata }

// Arrays lists array names in sorted order.
func (s *Store) Arrays() []string {
	var names []string
	for key := range s.cons.Metadata {
		if name, ok := strings.CutSuffix(key, "/"+ArrayFile); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ArrayMeta returns the .zarray document for one array.
func (s *Store) ArrayMeta(name string) (ArrayMeta, error) {
	raw, ok := s.cons.Metadata[name+"/"+ArrayFile]
	if !ok {
		return ArrayMeta{}, fmt.Errorf("store has no array %q", name)
	}
	var meta ArrayMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return ArrayMeta{}, fmt.Errorf("parse %s/%s: %w", name, ArrayFile, err)
	}
	return meta, nil
}

// GroupAttrs returns the root .zattrs document.
func (s *Store) GroupAttrs() (map[string]any, error) {
	return s.attrs(AttrsFile)
}

// ArrayAttrs returns one array's .zattrs document.
func (s *Store) ArrayAttrs(name string) (map[string]any, error) {
	return s.attrs(name + "/" + AttrsFile)
}

func (s *Store) attrs(key string) (map[string]any, error) {
	raw, ok := s.cons.Metadata[key]
	if !ok {
		return nil, fmt.Errorf("store has no %s", key)
	}
	var attrs map[string]any
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	return attrs, nil
}

// Float32 reads a whole <f4 array.
func (s *Store) Float32(name string) ([]float32, ArrayMeta, error) {
	raw, meta, err := s.readRaw(name, DTypeFloat32)
	if err != nil {
		return nil, meta, err
	}
	values := make([]float32, meta.Elements())
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return values, meta, nil
}

// Float64 reads a whole <f8 array.
func (s *Store) Float64(name string) ([]float64, ArrayMeta, error) {
	raw, meta, err := s.readRaw(name, DTypeFloat64)
	if err != nil {
		return nil, meta, err
	}
	values := make([]float64, meta.Elements())
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return values, meta, nil
}

// Int64 reads a whole <i8 array.
func (s *Store) Int64(name string) ([]int64, ArrayMeta, error) {
	raw, meta, err := s.readRaw(name, DTypeInt64)
	if err != nil {
		return nil, meta, err
	}
	values := make([]int64, meta.Elements())
	for i := range values {
		values[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return values, meta, nil
}

// readRaw assembles an array's little-endian bytes from its chunks. Chunks
// absent on disk read as the fill value; with a null fill value a missing
// chunk is an error.
func (s *Store) readRaw(name, wantDType string) ([]byte, ArrayMeta, error) {
	meta, err := s.ArrayMeta(name)
	if err != nil {
		return nil, meta, err
	}
	if meta.DType != wantDType {
		return nil, meta, fmt.Errorf("array %s is %s, want %s", name, meta.DType, wantDType)
	}
	codec, err := CodecFor(meta.Compressor)
	if err != nil {
		return nil, meta, fmt.Errorf("array %s: %w", name, err)
	}
	elem, err := meta.ElemSize()
	if err != nil {
		return nil, meta, fmt.Errorf("array %s: %w", name, err)
	}

	data := s.newBuffer(meta, elem)
	chunkElems := 1
	for _, c := range meta.Chunks {
		chunkElems *= c
	}

	grid := meta.ChunkGrid()
	idx := make([]int, len(grid))
	for {
		key := chunkKey(idx)
		raw, err := os.ReadFile(filepath.Join(s.root, name, key))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if meta.FillValue == nil {
				return nil, meta, fmt.Errorf("array %s: chunk %s missing and no fill value", name, key)
			}
		case err != nil:
			return nil, meta, fmt.Errorf("read chunk %s/%s: %w", name, key, err)
		default:
			chunk := raw
			if codec != nil {
				if chunk, err = codec.Decode(raw, chunkElems*elem); err != nil {
					return nil, meta, fmt.Errorf("chunk %s/%s: %w", name, key, err)
				}
			}
			if len(chunk) != chunkElems*elem {
				return nil, meta, fmt.Errorf("chunk %s/%s: %d bytes, want %d", name, key, len(chunk), chunkElems*elem)
			}
			chunkRuns(meta.Shape, meta.Chunks, idx, elem, func(arrOff, chunkOff, n int) {
				copy(data[arrOff:arrOff+n], chunk[chunkOff:chunkOff+n])
			})
		}

		d := len(idx) - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < grid[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return data, meta, nil
		}
	}
}

// newBuffer allocates the full array prefilled with the fill value, so
// missing chunks synthesize without a second pass.
func (s *Store) newBuffer(meta ArrayMeta, elem int) []byte {
	n := meta.Elements()
	if meta.FillValue == nil || float64(*meta.FillValue) == 0 {
		return make([]byte, n*elem)
	}
	pattern := make([]byte, elem)
	switch meta.DType {
	case DTypeFloat32:
		binary.LittleEndian.PutUint32(pattern, math.Float32bits(float32(*meta.FillValue)))
	case DTypeFloat64:
		binary.LittleEndian.PutUint64(pattern, math.Float64bits(float64(*meta.FillValue)))
	case DTypeInt64:
		binary.LittleEndian.PutUint64(pattern, uint64(int64(*meta.FillValue)))
	}
	return bytes.Repeat(pattern, n)
}
