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
	"syscall"

	"github.com/google/uuid"

	"github.com/couchcryptid/wave-archive/internal/domain"
)

// Array declares one array to be written: its dimension names (recorded as
// _ARRAY_DIMENSIONS for xarray), shape, chunk shape and extra attributes.
type Array struct {
	Name   string
	Dims   []string
	Shape  []int
	Chunks []int
	Attrs  map[string]any
}

// Writer builds a store in a hidden staging directory next to the final
// path and publishes it with a single rename, so readers never observe a
// half-written store. Abandoning the writer without Commit leaves the final
// path untouched.
type Writer struct {
	final     string
	staging   string
	codec     Codec
	meta      map[string]json.RawMessage
	attrsDone bool

	chunks     int
	chunkBytes int64
}

// NewWriter starts a store at path. It fails with domain.ErrStoreExists
// when the path is already occupied.
func NewWriter(path string, codec Codec) (*Writer, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%s: %w", path, domain.ErrStoreExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	staging := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".stage-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	w := &Writer{
		final:   path,
		staging: staging,
		codec:   codec,
		meta:    make(map[string]json.RawMessage),
	}
	if err := w.writeMeta(GroupFile, GroupMeta{ZarrFormat: zarrFormat}); err != nil {
		w.Abort()
		return nil, err
	}
	return w, nil
}

// SetGroupAttrs writes the root .zattrs document.
func (w *Writer) SetGroupAttrs(attrs map[string]any) error {
	if err := w.writeMeta(AttrsFile, attrs); err != nil {
		return err
	}
	w.attrsDone = true
	return nil
}

// Float32 writes a data array with a NaN fill value.
func (w *Writer) Float32(a Array, values []float32) error {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return w.writeArray(a, DTypeFloat32, 4, NaNFill(), nanPattern32(), buf)
}

// Float64 writes a coordinate array with a null fill value.
func (w *Writer) Float64(a Array, values []float64) error {
	buf := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return w.writeArray(a, DTypeFloat64, 8, nil, nil, buf)
}

// Int64 writes a coordinate array with a null fill value.
func (w *Writer) Int64(a Array, values []int64) error {
	buf := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	return w.writeArray(a, DTypeInt64, 8, nil, nil, buf)
}

// Commit consolidates metadata and publishes the staged store.
func (w *Writer) Commit() error {
	if !w.attrsDone {
		if err := w.SetGroupAttrs(map[string]any{}); err != nil {
			return err
		}
	}
	cons, err := marshalMeta(ConsolidatedMeta{Metadata: w.meta, Format: consolidatedFormat})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ConsolidatedFile, err)
	}
	if err := os.WriteFile(filepath.Join(w.staging, ConsolidatedFile), cons, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", ConsolidatedFile, err)
	}

	if err := os.Rename(w.staging, w.final); err != nil {
		if errors.Is(err, fs.ErrExist) || errors.Is(err, syscall.ENOTEMPTY) {
			return fmt.Errorf("%s: %w", w.final, domain.ErrStoreExists)
		}
		return fmt.Errorf("publish %s: %w", w.final, err)
	}
	return nil
}

// Abort discards the staging directory.
func (w *Writer) Abort() {
	_ = os.RemoveAll(w.staging)
}

// Stats reports the chunk files written so far and their compressed size.
func (w *Writer) Stats() (chunks int, bytes int64) {
	return w.chunks, w.chunkBytes
}

func (w *Writer) writeMeta(rel string, v any) error {
	data, err := marshalMeta(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", rel, err)
	}
	if err := os.WriteFile(filepath.Join(w.staging, filepath.FromSlash(rel)), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	w.meta[rel] = data
	return nil
}

func (w *Writer) writeArray(a Array, dtype string, elem int, fill *FillValue, fillPattern, data []byte) error {
	if len(a.Shape) == 0 || len(a.Chunks) != len(a.Shape) || len(a.Dims) != len(a.Shape) {
		return fmt.Errorf("array %s: dims/shape/chunks rank mismatch", a.Name)
	}
	elems := 1
	for d, s := range a.Shape {
		if s < 1 || a.Chunks[d] < 1 {
			return fmt.Errorf("array %s: non-positive shape or chunk extent", a.Name)
		}
		elems *= s
	}
	if len(data) != elems*elem {
		return fmt.Errorf("array %s: %d bytes for %d elements of %d bytes", a.Name, len(data), elems, elem)
	}

	if err := os.Mkdir(filepath.Join(w.staging, a.Name), 0o755); err != nil {
		return fmt.Errorf("create array dir %s: %w", a.Name, err)
	}

	var cm *CompressorMeta
	if w.codec != nil {
		cm = w.codec.Meta()
	}
	meta := ArrayMeta{
		Chunks:     a.Chunks,
		Compressor: cm,
		DType:      dtype,
		FillValue:  fill,
		Order:      "C",
		Shape:      a.Shape,
		ZarrFormat: zarrFormat,
	}
	if err := w.writeMeta(a.Name+"/"+ArrayFile, meta); err != nil {
		return err
	}
	attrs := make(map[string]any, len(a.Attrs)+1)
	attrs[DimsAttr] = a.Dims
	for k, v := range a.Attrs {
		attrs[k] = v
	}
	if err := w.writeMeta(a.Name+"/"+AttrsFile, attrs); err != nil {
		return err
	}

	return w.writeChunks(a, meta, elem, fillPattern, data)
}

func (w *Writer) writeChunks(a Array, meta ArrayMeta, elem int, fillPattern, data []byte) error {
	chunkElems := 1
	for _, c := range a.Chunks {
		chunkElems *= c
	}

	grid := meta.ChunkGrid()
	idx := make([]int, len(grid))
	for {
		var buf []byte
		if fillPattern != nil {
			buf = bytes.Repeat(fillPattern, chunkElems)
		} else {
			buf = make([]byte, chunkElems*elem)
		}
		chunkRuns(a.Shape, a.Chunks, idx, elem, func(arrOff, chunkOff, n int) {
			copy(buf[chunkOff:chunkOff+n], data[arrOff:arrOff+n])
		})

		out := buf
		if w.codec != nil {
			var err error
			if out, err = w.codec.Encode(buf); err != nil {
				return fmt.Errorf("array %s chunk %s: %w", a.Name, chunkKey(idx), err)
			}
		}
		name := filepath.Join(w.staging, a.Name, chunkKey(idx))
		if err := os.WriteFile(name, out, 0o644); err != nil {
			return fmt.Errorf("write chunk %s/%s: %w", a.Name, chunkKey(idx), err)
		}
		w.chunks++
		w.chunkBytes += int64(len(out))

		d := len(idx) - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < grid[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return nil
		}
	}
}

// chunkRuns calls fn for every contiguous byte run shared between the full
// C-order array and chunk idx: arrOff is the offset into the array data,
// chunkOff the offset into the chunk buffer.
func chunkRuns(shape, chunks, idx []int, elem int, fn func(arrOff, chunkOff, n int)) {
	nd := len(shape)
	start := make([]int, nd)
	extent := make([]int, nd)
	for d := range shape {
		start[d] = idx[d] * chunks[d]
		extent[d] = chunks[d]
		if rem := shape[d] - start[d]; rem < extent[d] {
			extent[d] = rem
		}
	}

	arrStride := make([]int, nd)
	chunkStride := make([]int, nd)
	as, cs := elem, elem
	for d := nd - 1; d >= 0; d-- {
		arrStride[d] = as
		chunkStride[d] = cs
		as *= shape[d]
		cs *= chunks[d]
	}

	run := extent[nd-1] * elem
	pos := make([]int, nd)
	for {
		arrOff, chunkOff := 0, 0
		for d := 0; d < nd; d++ {
			arrOff += (start[d] + pos[d]) * arrStride[d]
			chunkOff += pos[d] * chunkStride[d]
		}
		fn(arrOff, chunkOff, run)

		d := nd - 2
		for ; d >= 0; d-- {
			pos[d]++
			if pos[d] < extent[d] {
				break
			}
			pos[d] = 0
		}
		if d < 0 {
			return
		}
	}
}

func nanPattern32() []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(math.NaN())))
	return b[:]
}
