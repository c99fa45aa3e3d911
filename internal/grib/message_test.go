package grib

import (
	"bytes"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wave-archive/internal/domain"
)

// testSpec keeps fixtures small: a 4x3 grid scanned north to south.
var testSpec = domain.GridSpec{
	Ni: 4, Nj: 3,
	Lat1: 10, Lon1: 0,
	Lat2: 0, Lon2: 1.5,
	Di: 0.5, Dj: 5,
	HourlyThrough: 120, CoarseStep: 3, MaxHour: 240,
}

var testRefTime = time.Date(2024, 4, 26, 0, 0, 0, 0, time.UTC)

func mustFind(t *testing.T, name string) domain.VariableSpec {
	t.Helper()
	for _, s := range domain.GFSWave {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("catalog entry %q not found", name)
	return domain.VariableSpec{}
}

func encodeField(t *testing.T, f Field) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, f))
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	nan := float32(math.NaN())
	values := []float32{
		0.52, 1.07, nan, 2.44,
		nan, 0.98, 1.31, 3.2,
		2.75, nan, 0.5, 1.99,
	}
	f := NewField(mustFind(t, "swh"), 0, testRefTime, 6, testSpec, values)

	d := NewDecoder(bytes.NewReader(encodeField(t, f)), domain.GFSWave, testSpec)
	rec, err := d.Next()

	require.NoError(t, err)
	assert.Equal(t, "swh", rec.Name)
	assert.Equal(t, 6, rec.StepHours)
	assert.Equal(t, testRefTime, rec.ReferenceTime)
	assert.Equal(t, testRefTime.Add(6*time.Hour), rec.ValidTime)
	assert.Equal(t, []float64{10, 5, 0}, rec.Latitudes)
	assert.Equal(t, []float64{0, 0.5, 1, 1.5}, rec.Longitudes)

	require.Len(t, rec.Values, len(values))
	for i, want := range values {
		if math.IsNaN(float64(want)) {
			assert.True(t, math.IsNaN(float64(rec.Values[i])), "value %d should be NaN", i)
			continue
		}
		// decimal scale 2 quantizes to 0.01
		assert.InDelta(t, want, rec.Values[i], 0.006, "value %d", i)
	}

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRoundTripSequenceBands(t *testing.T) {
	spec := mustFind(t, "shts")
	var buf bytes.Buffer
	for band := 0; band < spec.Bands; band++ {
		values := make([]float32, 12)
		for i := range values {
			values[i] = float32(band) + float32(i)*0.1
		}
		require.NoError(t, WriteMessage(&buf, NewField(spec, band, testRefTime, 0, testSpec, values)))
	}

	d := NewDecoder(&buf, domain.GFSWave, testSpec)
	var names []string
	for {
		rec, err := d.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, rec.Name)
	}

	assert.Equal(t, []string{"shts_0", "shts_1", "shts_2"}, names)
}

func TestDecodeFile(t *testing.T) {
	var buf bytes.Buffer
	for _, name := range []string{"swh", "ws", "u"} {
		f := NewField(mustFind(t, name), 0, testRefTime, 3, testSpec, make([]float32, 12))
		require.NoError(t, WriteMessage(&buf, f))
	}
	path := filepath.Join(t.TempDir(), "gfswave.t00z.global.0p25.f003.grib2")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	recs, err := DecodeFile(path, domain.GFSWave, testSpec)

	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "swh", recs[0].Name)
	assert.Equal(t, "ws", recs[1].Name)
	assert.Equal(t, "u", recs[2].Name)

	t.Run("missing file", func(t *testing.T) {
		_, err := DecodeFile(filepath.Join(t.TempDir(), "absent.grib2"), domain.GFSWave, testSpec)
		assert.Error(t, err)
	})

	t.Run("decode error names the file", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.grib2")
		require.NoError(t, os.WriteFile(bad, []byte("NOPE not a grib file"), 0o644))
		_, err := DecodeFile(bad, domain.GFSWave, testSpec)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrFormatMismatch)
		assert.Contains(t, err.Error(), "bad.grib2")
	})
}

func TestDecoderSkipsUncataloged(t *testing.T) {
	unknown := Field{
		Discipline:    0,
		Category:      3,
		Number:        5,
		SurfaceType:   surfaceGroundOrWater,
		ReferenceTime: testRefTime,
		Grid:          testSpec,
		Values:        make([]float32, 12),
		Bits:          8,
	}
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, unknown))
	require.NoError(t, WriteMessage(&buf, NewField(mustFind(t, "ws"), 0, testRefTime, 3, testSpec, make([]float32, 12))))

	d := NewDecoder(&buf, domain.GFSWave, testSpec)

	rec, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "ws", rec.Name)
	assert.Equal(t, 1, d.Skipped())

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoderGeometryMismatch(t *testing.T) {
	other := testSpec
	other.Ni = 2
	other.Lon2 = 0.5
	f := NewField(mustFind(t, "swh"), 0, testRefTime, 0, other, make([]float32, 6))

	d := NewDecoder(bytes.NewReader(encodeField(t, f)), domain.GFSWave, testSpec)
	_, err := d.Next()

	assert.ErrorIs(t, err, domain.ErrFormatMismatch)
}

func TestDecoderBandSurfaceMismatch(t *testing.T) {
	// shts is a sequence variable but the record claims a plain surface
	f := Field{
		Discipline:    10,
		Category:      0,
		Number:        8,
		SurfaceType:   surfaceGroundOrWater,
		ReferenceTime: testRefTime,
		Grid:          testSpec,
		Values:        make([]float32, 12),
		Bits:          8,
	}

	d := NewDecoder(bytes.NewReader(encodeField(t, f)), domain.GFSWave, testSpec)
	_, err := d.Next()

	assert.ErrorIs(t, err, domain.ErrFormatMismatch)
}

func TestDecoderBadInput(t *testing.T) {
	t.Run("wrong magic", func(t *testing.T) {
		d := NewDecoder(bytes.NewReader([]byte("NOPEnope nope nope")), domain.GFSWave, testSpec)
		_, err := d.Next()
		assert.ErrorIs(t, err, domain.ErrFormatMismatch)
	})

	t.Run("truncated message", func(t *testing.T) {
		msg := encodeField(t, NewField(mustFind(t, "swh"), 0, testRefTime, 0, testSpec, make([]float32, 12)))
		d := NewDecoder(bytes.NewReader(msg[:len(msg)-10]), domain.GFSWave, testSpec)
		_, err := d.Next()
		assert.Error(t, err)
		assert.NotErrorIs(t, err, io.EOF)
	})

	t.Run("empty stream", func(t *testing.T) {
		d := NewDecoder(bytes.NewReader(nil), domain.GFSWave, testSpec)
		_, err := d.Next()
		assert.ErrorIs(t, err, io.EOF)
	})
}

func TestRoundTripAllMasked(t *testing.T) {
	nan := float32(math.NaN())
	values := make([]float32, 12)
	for i := range values {
		values[i] = nan
	}
	f := NewField(mustFind(t, "swh"), 0, testRefTime, 0, testSpec, values)

	d := NewDecoder(bytes.NewReader(encodeField(t, f)), domain.GFSWave, testSpec)
	rec, err := d.Next()

	require.NoError(t, err)
	for i := range rec.Values {
		assert.True(t, math.IsNaN(float64(rec.Values[i])), "value %d", i)
	}
}

func TestUnpackConstantField(t *testing.T) {
	values, err := unpackSimple(nil, dataRepr{numValues: 4, reference: 250, decimalScale: 2, bits: 0})

	require.NoError(t, err)
	assert.Equal(t, []float32{2.5, 2.5, 2.5, 2.5}, values)
}

func TestBitReaderWriter(t *testing.T) {
	samples := []uint32{0, 1, 2047, 1024, 513, 7, 4095}
	w := &bitWriter{}
	for _, v := range samples {
		w.write(v, 12)
	}

	r := &bitReader{data: w.buf}
	for i, want := range samples {
		got, err := r.read(12)
		require.NoError(t, err)
		assert.Equal(t, want, got, "sample %d", i)
	}

	_, err := r.read(12)
	assert.Error(t, err)
}

func TestSignMagnitude(t *testing.T) {
	assert.Equal(t, 2, signMagnitude16(0x00, 0x02))
	assert.Equal(t, -2, signMagnitude16(0x80, 0x02))
	assert.Equal(t, 0, signMagnitude16(0x00, 0x00))

	buf := make([]byte, 4)
	putSignMagnitude32(buf, microdegrees(-90))
	assert.Equal(t, int64(-90000000), signMagnitude32(buf))
	putSignMagnitude32(buf, microdegrees(359.75))
	assert.Equal(t, int64(359750000), signMagnitude32(buf))

	putSignMagnitude16(buf[:2], -3)
	assert.Equal(t, -3, signMagnitude16(buf[0], buf[1]))
}
