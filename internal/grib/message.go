package grib

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/couchcryptid/wave-archive/internal/domain"
)

const (
	edition = 2

	gridTemplateLatLon      = 0
	productTemplateForecast = 0
	packingTemplateSimple   = 0

	timeUnitHour = 1

	surfaceGroundOrWater   = 1
	surfaceOrderedSequence = 241
	surfaceMissing         = 255

	bitmapPresent = 0
	bitmapReuse   = 254
	bitmapAbsent  = 255
)

var magic = []byte("GRIB")

type gridDef struct {
	points             int
	ni, nj             int
	la1, lo1, la2, lo2 float64
	di, dj             float64
	scan               byte
}

type productDef struct {
	category, number uint8
	forecastHours    int
	surfaceType      uint8
	surfaceValue     uint32
}

type dataRepr struct {
	numValues    int
	reference    float32
	binaryScale  int
	decimalScale int
	bits         uint8
}

// Decode reads every message from r and returns the cataloged records in
// stream order. The first malformed record fails the whole read; callers
// that recover per record use Decoder directly.
func Decode(r io.Reader, catalog domain.Catalog, want domain.GridSpec) ([]*domain.SourceGrid, error) {
	d := NewDecoder(r, catalog, want)
	var recs []*domain.SourceGrid
	for {
		rec, err := d.Next()
		if errors.Is(err, io.EOF) {
			return recs, nil
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
}

// DecodeFile decodes one source file.
func DecodeFile(path string, catalog domain.Catalog, want domain.GridSpec) ([]*domain.SourceGrid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := Decode(bufio.NewReaderSize(f, 1<<16), catalog, want)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

// Decoder reads GRIB2 messages from a stream and yields one SourceGrid per
// cataloged record. Records whose parameter identity is not in the catalog
// are skipped and counted; records whose geometry or encoding disagrees with
// the expected grid fail with an error wrapping domain.ErrFormatMismatch.
type Decoder struct {
	r       io.Reader
	catalog domain.Catalog
	want    domain.GridSpec

	inMessage  bool
	remaining  int64
	discipline uint8

	refTime time.Time
	grid    *gridDef
	product *productDef
	repr    *dataRepr
	bitmap  []byte

	skipped int
}

func NewDecoder(r io.Reader, catalog domain.Catalog, want domain.GridSpec) *Decoder {
	return &Decoder{r: r, catalog: catalog, want: want}
}

// Skipped reports how many records were dropped for carrying a parameter
// identity outside the catalog.
func (d *Decoder) Skipped() int { return d.skipped }

// Next returns the next cataloged record, or io.EOF at a clean end of
// stream.
func (d *Decoder) Next() (*domain.SourceGrid, error) {
	for {
		if !d.inMessage {
			if err := d.readIndicator(); err != nil {
				return nil, err
			}
			d.inMessage = true
			d.grid, d.product, d.repr, d.bitmap = nil, nil, nil, nil
		}

		num, body, err := d.readSection()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1:
			err = d.parseIdentification(body)
		case 2:
			// local use section, nothing we need
		case 3:
			err = d.parseGridDefinition(body)
		case 4:
			err = d.parseProductDefinition(body)
		case 5:
			err = d.parseDataRepresentation(body)
		case 6:
			err = d.parseBitmap(body)
		case 7:
			var rec *domain.SourceGrid
			rec, err = d.emit(body)
			if err == nil && rec != nil {
				return rec, nil
			}
		case 8:
			if d.remaining != 0 {
				err = fmt.Errorf("message length off by %d bytes at end section", d.remaining)
			}
			d.inMessage = false
		default:
			err = fmt.Errorf("unexpected section number %d", num)
		}
		if err != nil {
			return nil, err
		}
	}
}

// readIndicator consumes the 16-byte section 0. A clean io.EOF here is the
// end of the stream.
func (d *Decoder) readIndicator() error {
	var buf [16]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("read indicator section: %w", err)
	}
	if !bytes.Equal(buf[:4], magic) {
		return fmt.Errorf("bad magic %q: %w", buf[:4], domain.ErrFormatMismatch)
	}
	if buf[7] != edition {
		return fmt.Errorf("edition %d, want %d: %w", buf[7], edition, domain.ErrFormatMismatch)
	}
	d.discipline = buf[6]
	total := binary.BigEndian.Uint64(buf[8:])
	if total < 16+4 {
		return fmt.Errorf("message length %d too short", total)
	}
	d.remaining = int64(total) - 16
	return nil
}

// readSection returns the next section's number and body. The end section
// "7777" is returned as number 8 with a nil body.
func (d *Decoder) readSection() (byte, []byte, error) {
	var head [5]byte
	if _, err := io.ReadFull(d.r, head[:4]); err != nil {
		return 0, nil, fmt.Errorf("read section header: %w", truncated(err))
	}
	if bytes.Equal(head[:4], []byte("7777")) {
		d.remaining -= 4
		return 8, nil, nil
	}
	if _, err := io.ReadFull(d.r, head[4:]); err != nil {
		return 0, nil, fmt.Errorf("read section number: %w", truncated(err))
	}
	length := int64(binary.BigEndian.Uint32(head[:4]))
	num := head[4]
	if length < 5 || length > d.remaining {
		return 0, nil, fmt.Errorf("section %d length %d exceeds message remainder %d", num, length, d.remaining)
	}
	body := make([]byte, length-5)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return 0, nil, fmt.Errorf("read section %d body: %w", num, truncated(err))
	}
	d.remaining -= length
	return num, body, nil
}

// truncated maps a bare EOF inside a message to ErrUnexpectedEOF, so Next
// reports io.EOF only at a clean message boundary.
func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (d *Decoder) parseIdentification(body []byte) error {
	if len(body) < 16 {
		return fmt.Errorf("identification section %d bytes, want at least 21", len(body)+5)
	}
	year := int(binary.BigEndian.Uint16(body[7:9]))
	d.refTime = time.Date(year, time.Month(body[9]), int(body[10]),
		int(body[11]), int(body[12]), int(body[13]), 0, time.UTC)
	return nil
}

func (d *Decoder) parseGridDefinition(body []byte) error {
	if len(body) < 67 {
		return fmt.Errorf("grid definition section %d bytes, want at least 72", len(body)+5)
	}
	if tmpl := binary.BigEndian.Uint16(body[7:9]); tmpl != gridTemplateLatLon {
		return fmt.Errorf("grid definition template %d, want %d: %w", tmpl, gridTemplateLatLon, domain.ErrFormatMismatch)
	}
	if body[5] != 0 {
		return fmt.Errorf("quasi-regular grids not supported: %w", domain.ErrFormatMismatch)
	}
	d.grid = &gridDef{
		points: int(binary.BigEndian.Uint32(body[1:5])),
		ni:     int(binary.BigEndian.Uint32(body[25:29])),
		nj:     int(binary.BigEndian.Uint32(body[29:33])),
		la1:    float64(signMagnitude32(body[41:45])) / 1e6,
		lo1:    float64(binary.BigEndian.Uint32(body[45:49])) / 1e6,
		la2:    float64(signMagnitude32(body[50:54])) / 1e6,
		lo2:    float64(binary.BigEndian.Uint32(body[54:58])) / 1e6,
		di:     float64(binary.BigEndian.Uint32(body[58:62])) / 1e6,
		dj:     float64(binary.BigEndian.Uint32(body[62:66])) / 1e6,
		scan:   body[66],
	}
	return nil
}

func (d *Decoder) parseProductDefinition(body []byte) error {
	if len(body) < 29 {
		return fmt.Errorf("product definition section %d bytes, want at least 34", len(body)+5)
	}
	if tmpl := binary.BigEndian.Uint16(body[2:4]); tmpl != productTemplateForecast {
		return fmt.Errorf("product definition template %d, want %d: %w", tmpl, productTemplateForecast, domain.ErrFormatMismatch)
	}
	if unit := body[12]; unit != timeUnitHour {
		return fmt.Errorf("forecast time unit %d, want hours: %w", unit, domain.ErrFormatMismatch)
	}
	d.product = &productDef{
		category:      body[4],
		number:        body[5],
		forecastHours: int(binary.BigEndian.Uint32(body[13:17])),
		surfaceType:   body[17],
		surfaceValue:  binary.BigEndian.Uint32(body[19:23]),
	}
	return nil
}

func (d *Decoder) parseDataRepresentation(body []byte) error {
	if len(body) < 16 {
		return fmt.Errorf("data representation section %d bytes, want at least 21", len(body)+5)
	}
	if tmpl := binary.BigEndian.Uint16(body[4:6]); tmpl != packingTemplateSimple {
		return fmt.Errorf("packing template %d, want %d (simple): %w", tmpl, packingTemplateSimple, domain.ErrFormatMismatch)
	}
	d.repr = &dataRepr{
		numValues:    int(binary.BigEndian.Uint32(body[0:4])),
		reference:    math.Float32frombits(binary.BigEndian.Uint32(body[6:10])),
		binaryScale:  signMagnitude16(body[10], body[11]),
		decimalScale: signMagnitude16(body[12], body[13]),
		bits:         body[14],
	}
	return nil
}

func (d *Decoder) parseBitmap(body []byte) error {
	if len(body) < 1 {
		return errors.New("bitmap section too short")
	}
	switch body[0] {
	case bitmapPresent:
		d.bitmap = body[1:]
	case bitmapReuse:
		if d.bitmap == nil {
			return errors.New("bitmap reuse with no previous bitmap")
		}
	case bitmapAbsent:
		d.bitmap = nil
	default:
		return fmt.Errorf("predefined bitmap %d not supported: %w", body[0], domain.ErrFormatMismatch)
	}
	return nil
}

// emit turns the current section state plus a data section body into a
// record. It returns (nil, nil) for records outside the catalog.
func (d *Decoder) emit(packed []byte) (*domain.SourceGrid, error) {
	switch {
	case d.grid == nil:
		return nil, errors.New("data section before grid definition")
	case d.product == nil:
		return nil, errors.New("data section before product definition")
	case d.repr == nil:
		return nil, errors.New("data section before data representation")
	}

	spec, ok := d.catalog.Find(d.discipline, d.product.category, d.product.number)
	if !ok {
		d.skipped++
		return nil, nil
	}
	name, err := d.resolveName(spec)
	if err != nil {
		return nil, err
	}
	if err := d.checkGeometry(); err != nil {
		return nil, fmt.Errorf("%s f%03d: %w", name, d.product.forecastHours, err)
	}
	if d.repr.numValues > d.grid.points {
		return nil, fmt.Errorf("%s f%03d: %d packed values for %d grid points: %w",
			name, d.product.forecastHours, d.repr.numValues, d.grid.points, domain.ErrFormatMismatch)
	}

	values, err := unpackSimple(packed, *d.repr)
	if err != nil {
		return nil, fmt.Errorf("unpack %s f%03d: %w", name, d.product.forecastHours, err)
	}
	if d.bitmap != nil {
		values, err = expandBitmap(values, d.bitmap, d.grid.points)
		if err != nil {
			return nil, fmt.Errorf("bitmap %s f%03d: %w", name, d.product.forecastHours, err)
		}
	} else if len(values) != d.grid.points {
		return nil, fmt.Errorf("%s f%03d: %d values for %d grid points: %w",
			name, d.product.forecastHours, len(values), d.grid.points, domain.ErrFormatMismatch)
	}

	axes := domain.GridSpec{
		Ni: d.grid.ni, Nj: d.grid.nj,
		Lat1: d.grid.la1, Lon1: d.grid.lo1,
		Lat2: d.grid.la2, Lon2: d.grid.lo2,
		Di: d.grid.di, Dj: d.grid.dj,
	}
	return &domain.SourceGrid{
		Name:          name,
		StepHours:     d.product.forecastHours,
		ReferenceTime: d.refTime,
		ValidTime:     d.refTime.Add(time.Duration(d.product.forecastHours) * time.Hour),
		Latitudes:     axes.Latitudes(),
		Longitudes:    axes.Longitudes(),
		Values:        values,
	}, nil
}

func (d *Decoder) resolveName(spec domain.VariableSpec) (string, error) {
	if spec.Bands <= 1 {
		return spec.Name, nil
	}
	if d.product.surfaceType != surfaceOrderedSequence {
		return "", fmt.Errorf("%s: surface type %d on a sequence variable: %w",
			spec.Name, d.product.surfaceType, domain.ErrFormatMismatch)
	}
	band := int(d.product.surfaceValue) - 1
	if band < 0 || band >= spec.Bands {
		return "", fmt.Errorf("%s: sequence member %d outside 1..%d: %w",
			spec.Name, d.product.surfaceValue, spec.Bands, domain.ErrFormatMismatch)
	}
	return spec.BandName(band), nil
}

func (d *Decoder) checkGeometry() error {
	g := d.grid
	if !d.want.Matches(g.ni, g.nj, g.la1, g.lo1, g.di, g.dj) {
		return fmt.Errorf("grid %dx%d origin (%g, %g) step (%g, %g), want %dx%d: %w",
			g.ni, g.nj, g.la1, g.lo1, g.di, g.dj, d.want.Ni, d.want.Nj, domain.ErrFormatMismatch)
	}
	if g.points != g.ni*g.nj {
		return fmt.Errorf("%d data points for %dx%d grid: %w", g.points, g.ni, g.nj, domain.ErrFormatMismatch)
	}
	if g.scan&^0x40 != 0 {
		return fmt.Errorf("unsupported scanning mode 0x%02x: %w", g.scan, domain.ErrFormatMismatch)
	}
	return nil
}
