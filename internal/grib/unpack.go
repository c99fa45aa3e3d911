package grib

import (
	"fmt"
	"math"
)

// bitReader reads big-endian fixed-width fields from a packed byte stream.
type bitReader struct {
	data []byte
	pos  int // bit offset
}

func (r *bitReader) read(width uint8) (uint32, error) {
	if width == 0 {
		return 0, nil
	}
	end := r.pos + int(width)
	if end > len(r.data)*8 {
		return 0, fmt.Errorf("bit stream exhausted at offset %d", r.pos)
	}
	var v uint32
	for i := 0; i < int(width); i++ {
		byteIdx := r.pos >> 3
		bitIdx := 7 - r.pos&7
		v = v<<1 | uint32(r.data[byteIdx]>>bitIdx)&1
		r.pos++
	}
	return v, nil
}

// unpackSimple decodes template 5.0 simple packing: Y = (R + X*2^E) / 10^D.
// The raw stream holds repr.numValues fields of repr.bits bits each; a zero
// bit width means every value equals the reference.
func unpackSimple(raw []byte, repr dataRepr) ([]float32, error) {
	if repr.bits > 32 {
		return nil, fmt.Errorf("unsupported bit width %d", repr.bits)
	}
	scale := math.Pow(2, float64(repr.binaryScale))
	dec := math.Pow(10, float64(repr.decimalScale))
	base := float64(repr.reference)

	values := make([]float32, repr.numValues)
	if repr.bits == 0 {
		for i := range values {
			values[i] = float32(base / dec)
		}
		return values, nil
	}

	br := &bitReader{data: raw}
	for i := range values {
		x, err := br.read(repr.bits)
		if err != nil {
			return nil, fmt.Errorf("value %d of %d: %w", i, repr.numValues, err)
		}
		values[i] = float32((base + float64(x)*scale) / dec)
	}
	return values, nil
}

// expandBitmap scatters packed values onto the full grid, filling masked
// points with NaN. The bitmap holds one bit per grid point, MSB first,
// 1 meaning a value is present.
func expandBitmap(packed []float32, bitmap []byte, points int) ([]float32, error) {
	if len(bitmap)*8 < points {
		return nil, fmt.Errorf("bitmap holds %d bits, grid has %d points", len(bitmap)*8, points)
	}
	nan := float32(math.NaN())
	values := make([]float32, points)
	next := 0
	for i := 0; i < points; i++ {
		if bitmap[i>>3]>>(7-i&7)&1 == 1 {
			if next >= len(packed) {
				return nil, fmt.Errorf("bitmap selects more than %d packed values", len(packed))
			}
			values[i] = packed[next]
			next++
		} else {
			values[i] = nan
		}
	}
	if next != len(packed) {
		return nil, fmt.Errorf("bitmap selects %d values, data section holds %d", next, len(packed))
	}
	return values, nil
}

// signMagnitude16 decodes GRIB's sign-and-magnitude int16 encoding, used by
// the binary and decimal scale factors.
func signMagnitude16(hi, lo byte) int {
	v := int(hi&0x7F)<<8 | int(lo)
	if hi&0x80 != 0 {
		return -v
	}
	return v
}

// signMagnitude32 decodes the sign-and-magnitude int32 encoding used by
// microdegree latitudes.
func signMagnitude32(b []byte) int64 {
	v := int64(b[0]&0x7F)<<24 | int64(b[1])<<16 | int64(b[2])<<8 | int64(b[3])
	if b[0]&0x80 != 0 {
		return -v
	}
	return v
}
