package grib

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/couchcryptid/wave-archive/internal/domain"
)

// Field describes one record to encode as a complete GRIB2 message. NaN
// values are masked through a bitmap, matching how the upstream producer
// marks land and ice points.
type Field struct {
	Discipline    uint8
	Category      uint8
	Number        uint8
	SurfaceType   uint8
	SurfaceValue  uint32
	ReferenceTime time.Time
	ForecastHours int
	Grid          domain.GridSpec
	Values        []float32
	Bits          uint8
	DecimalScale  int
}

// NewField builds a Field for a catalog entry with the band encoded the way
// the upstream producer does: sequence variables carry an ordered-sequence
// fixed surface whose value is the one-based band number. Band is ignored
// for scalar entries.
func NewField(spec domain.VariableSpec, band int, ref time.Time, hours int, grid domain.GridSpec, values []float32) Field {
	f := Field{
		Discipline:    spec.Discipline,
		Category:      spec.Category,
		Number:        spec.Number,
		SurfaceType:   surfaceGroundOrWater,
		ReferenceTime: ref,
		ForecastHours: hours,
		Grid:          grid,
		Values:        values,
		Bits:          12,
		DecimalScale:  2,
	}
	if spec.Bands > 1 {
		f.SurfaceType = surfaceOrderedSequence
		f.SurfaceValue = uint32(band + 1)
	}
	return f
}

// WriteMessage encodes the field with template 3.0 geometry, template 4.0
// product identity and template 5.0 simple packing.
func WriteMessage(w io.Writer, f Field) error {
	points := f.Grid.Ni * f.Grid.Nj
	if len(f.Values) != points {
		return fmt.Errorf("%d values for %dx%d grid", len(f.Values), f.Grid.Ni, f.Grid.Nj)
	}
	if f.Bits < 1 || f.Bits > 31 {
		return fmt.Errorf("bits per value %d outside 1..31", f.Bits)
	}

	ref, binScale, packed, bitmap, numValues := packValues(f.Values, f.Bits, f.DecimalScale)

	var body bytes.Buffer
	writeSection(&body, 1, identificationBody(f.ReferenceTime))
	writeSection(&body, 3, gridBody(f.Grid, points))
	writeSection(&body, 4, productBody(f))
	writeSection(&body, 5, reprBody(numValues, ref, binScale, f.DecimalScale, f.Bits))
	writeSection(&body, 6, bitmapBody(bitmap))
	writeSection(&body, 7, packed)
	body.WriteString("7777")

	head := make([]byte, 16)
	copy(head, magic)
	head[6] = f.Discipline
	head[7] = edition
	binary.BigEndian.PutUint64(head[8:], uint64(16+body.Len()))

	if _, err := w.Write(head); err != nil {
		return fmt.Errorf("write indicator: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("write message body: %w", err)
	}
	return nil
}

// packValues scales, offsets and bit-packs the non-NaN values. The bitmap
// return is nil when no value is masked.
func packValues(values []float32, bits uint8, decimalScale int) (ref float32, binScale int, packed, bitmap []byte, numValues int) {
	dec := math.Pow(10, float64(decimalScale))

	scaled := make([]float64, 0, len(values))
	masked := false
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(float64(v)) {
			masked = true
			continue
		}
		s := float64(v) * dec
		scaled = append(scaled, s)
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	if masked {
		bitmap = make([]byte, (len(values)+7)/8)
		for i, v := range values {
			if !math.IsNaN(float64(v)) {
				bitmap[i>>3] |= 1 << (7 - i&7)
			}
		}
	}
	numValues = len(scaled)
	if numValues == 0 {
		return 0, 0, nil, bitmap, 0
	}

	// The reference must not exceed the minimum after float32 rounding,
	// or offsets would go negative.
	ref = float32(min)
	if float64(ref) > min {
		ref = math.Nextafter32(ref, float32(math.Inf(-1)))
	}
	maxOffset := float64(uint32(1)<<bits - 1)
	for max-float64(ref) > maxOffset*math.Pow(2, float64(binScale)) {
		binScale++
	}

	step := math.Pow(2, float64(binScale))
	bw := &bitWriter{}
	for _, s := range scaled {
		x := math.Round((s - float64(ref)) / step)
		if x > maxOffset {
			x = maxOffset
		}
		bw.write(uint32(x), bits)
	}
	return ref, binScale, bw.buf, bitmap, numValues
}

type bitWriter struct {
	buf []byte
	pos int
}

func (w *bitWriter) write(v uint32, width uint8) {
	for i := int(width) - 1; i >= 0; i-- {
		if w.pos&7 == 0 {
			w.buf = append(w.buf, 0)
		}
		if v>>uint(i)&1 == 1 {
			w.buf[len(w.buf)-1] |= 1 << (7 - w.pos&7)
		}
		w.pos++
	}
}

func writeSection(buf *bytes.Buffer, num byte, body []byte) {
	var head [5]byte
	binary.BigEndian.PutUint32(head[:4], uint32(5+len(body)))
	head[4] = num
	buf.Write(head[:])
	buf.Write(body)
}

func identificationBody(ref time.Time) []byte {
	body := make([]byte, 16)
	binary.BigEndian.PutUint16(body[0:2], 7) // NCEP
	body[4] = 2                              // master tables version
	body[5] = 1                              // local tables version
	body[6] = 1                              // start of forecast
	binary.BigEndian.PutUint16(body[7:9], uint16(ref.Year()))
	body[9] = byte(ref.Month())
	body[10] = byte(ref.Day())
	body[11] = byte(ref.Hour())
	body[12] = byte(ref.Minute())
	body[13] = byte(ref.Second())
	body[15] = 1 // forecast products
	return body
}

func gridBody(g domain.GridSpec, points int) []byte {
	body := make([]byte, 67)
	binary.BigEndian.PutUint32(body[1:5], uint32(points))
	binary.BigEndian.PutUint16(body[7:9], gridTemplateLatLon)
	body[9] = 6 // spherical earth, radius 6,371,229 m
	binary.BigEndian.PutUint32(body[37:41], 0xFFFFFFFF)
	putSignMagnitude32(body[41:45], microdegrees(g.Lat1))
	binary.BigEndian.PutUint32(body[45:49], uint32(microdegrees(g.Lon1)))
	body[49] = 0x30 // both increments given
	putSignMagnitude32(body[50:54], microdegrees(g.Lat2))
	binary.BigEndian.PutUint32(body[54:58], uint32(microdegrees(g.Lon2)))
	binary.BigEndian.PutUint32(body[58:62], uint32(microdegrees(g.Di)))
	binary.BigEndian.PutUint32(body[62:66], uint32(microdegrees(g.Dj)))
	if g.Lat1 < g.Lat2 {
		body[66] = 0x40 // +j: south to north
	}
	return body
}

func productBody(f Field) []byte {
	body := make([]byte, 29)
	binary.BigEndian.PutUint16(body[2:4], productTemplateForecast)
	body[4] = f.Category
	body[5] = f.Number
	body[6] = 2 // forecast
	body[12] = timeUnitHour
	binary.BigEndian.PutUint32(body[13:17], uint32(f.ForecastHours))
	body[17] = f.SurfaceType
	binary.BigEndian.PutUint32(body[19:23], f.SurfaceValue)
	body[23] = surfaceMissing
	return body
}

func reprBody(numValues int, ref float32, binScale, decScale int, bits uint8) []byte {
	body := make([]byte, 16)
	binary.BigEndian.PutUint32(body[0:4], uint32(numValues))
	binary.BigEndian.PutUint16(body[4:6], packingTemplateSimple)
	binary.BigEndian.PutUint32(body[6:10], math.Float32bits(ref))
	putSignMagnitude16(body[10:12], binScale)
	putSignMagnitude16(body[12:14], decScale)
	body[14] = bits
	return body
}

func bitmapBody(bitmap []byte) []byte {
	if bitmap == nil {
		return []byte{bitmapAbsent}
	}
	body := make([]byte, 1+len(bitmap))
	body[0] = bitmapPresent
	copy(body[1:], bitmap)
	return body
}

func microdegrees(deg float64) int64 {
	return int64(math.Round(deg * 1e6))
}

func putSignMagnitude32(b []byte, v int64) {
	u := uint32(v)
	if v < 0 {
		u = uint32(-v) | 0x80000000
	}
	binary.BigEndian.PutUint32(b, u)
}

func putSignMagnitude16(b []byte, v int) {
	u := uint16(v)
	if v < 0 {
		u = uint16(-v) | 0x8000
	}
	binary.BigEndian.PutUint16(b, u)
}
