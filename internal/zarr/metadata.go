package zarr

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Store layout file names, as consumed by zarr v2 readers.
const (
	GroupFile        = ".zgroup"
	AttrsFile        = ".zattrs"
	ArrayFile        = ".zarray"
	ConsolidatedFile = ".zmetadata"
)

// Little-endian dtypes used by the archive.
const (
	DTypeFloat32 = "<f4"
	DTypeFloat64 = "<f8"
	DTypeInt64   = "<i8"
)

// DimsAttr is the xarray convention for naming array dimensions.
const DimsAttr = "_ARRAY_DIMENSIONS"

const (
	zarrFormat         = 2
	consolidatedFormat = 1
)

// FillValue is a fill value that survives JSON round trips: the v2 spec
// encodes non-finite floats as the strings "NaN", "Infinity" and
// "-Infinity", which encoding/json cannot produce for a plain float64.
type FillValue float64

// NaNFill is the fill value for data arrays; missing chunks read back as
// all-NaN.
func NaNFill() *FillValue {
	f := FillValue(math.NaN())
	return &f
}

func (f FillValue) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Infinity"`), nil
	default:
		return json.Marshal(v)
	}
}

func (f *FillValue) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"NaN"`:
		*f = FillValue(math.NaN())
		return nil
	case `"Infinity"`:
		*f = FillValue(math.Inf(1))
		return nil
	case `"-Infinity"`:
		*f = FillValue(math.Inf(-1))
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("fill_value %s: %w", data, err)
	}
	*f = FillValue(v)
	return nil
}

// CompressorMeta is the numcodecs codec configuration stored in .zarray.
type CompressorMeta struct {
	ID           string `json:"id"`
	Level        int    `json:"level,omitempty"`
	Acceleration int    `json:"acceleration,omitempty"`
}

// ArrayMeta is a .zarray document. Field order follows the sorted-key form
// zarr writers produce, so marshaling is stable.
type ArrayMeta struct {
	Chunks     []int           `json:"chunks"`
	Compressor *CompressorMeta `json:"compressor"`
	DType      string          `json:"dtype"`
	FillValue  *FillValue      `json:"fill_value"`
	Filters    []string        `json:"filters"`
	Order      string          `json:"order"`
	Shape      []int           `json:"shape"`
	ZarrFormat int             `json:"zarr_format"`
}

// GroupMeta is a .zgroup document.
type GroupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

// ConsolidatedMeta is the .zmetadata document: every metadata file in the
// store keyed by its relative path.
type ConsolidatedMeta struct {
	Metadata map[string]json.RawMessage `json:"metadata"`
	Format   int                        `json:"zarr_consolidated_format"`
}

// ElemSize returns the byte width of the array's dtype.
func (m ArrayMeta) ElemSize() (int, error) {
	switch m.DType {
	case DTypeFloat32:
		return 4, nil
	case DTypeFloat64, DTypeInt64:
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %q", m.DType)
	}
}

// Elements returns the total element count of the array.
func (m ArrayMeta) Elements() int {
	n := 1
	for _, s := range m.Shape {
		n *= s
	}
	return n
}

// ChunkGrid returns how many chunks each dimension splits into.
func (m ArrayMeta) ChunkGrid() []int {
	grid := make([]int, len(m.Shape))
	for i, s := range m.Shape {
		grid[i] = (s + m.Chunks[i] - 1) / m.Chunks[i]
	}
	return grid
}

// ChunkKeys lists every chunk key of the array in C order.
func (m ArrayMeta) ChunkKeys() []string {
	grid := m.ChunkGrid()
	total := 1
	for _, g := range grid {
		total *= g
	}
	keys := make([]string, 0, total)
	idx := make([]int, len(grid))
	for n := 0; n < total; n++ {
		keys = append(keys, chunkKey(idx))
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < grid[d] {
				break
			}
			idx[d] = 0
		}
	}
	return keys
}

func chunkKey(idx []int) string {
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ".")
}

// marshalMeta renders metadata documents with the 4-space indentation zarr
// tooling writes, so reprocessing a date yields identical bytes.
func marshalMeta(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "    ")
}
