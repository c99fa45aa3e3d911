package domain

import (
	"fmt"
	"math"
	"time"
)

// coordEpsilon absorbs microdegree rounding when comparing grid coordinates.
const coordEpsilon = 5e-7

// ForecastDate identifies one calendar day's 00Z forecast cycle, the unit of
// independent conversion work.
type ForecastDate struct {
	t time.Time
}

// ParseForecastDate parses a YYYYMMDD date key.
func ParseForecastDate(s string) (ForecastDate, error) {
	t, err := time.Parse("20060102", s)
	if err != nil {
		return ForecastDate{}, fmt.Errorf("invalid forecast date %q: %w", s, err)
	}
	return ForecastDate{t: t}, nil
}

func (d ForecastDate) String() string { return d.t.Format("20060102") }

// CycleTime is the cycle start (00Z on the date) that forecast steps count
// hours from.
func (d ForecastDate) CycleTime() time.Time { return d.t }

// StoreName is the store directory name for this date.
func (d ForecastDate) StoreName() string { return d.String() + ".zarr" }

// Next is the following day's cycle.
func (d ForecastDate) Next() ForecastDate { return ForecastDate{t: d.t.AddDate(0, 0, 1)} }

// IsZero reports whether the date is unset.
func (d ForecastDate) IsZero() bool { return d.t.IsZero() }

// GridSpec declares the spatial geometry and forecast cadence a dataset's
// source files must carry. Decoded records that disagree with it are
// rejected as ErrFormatMismatch.
type GridSpec struct {
	Ni, Nj     int     // longitude and latitude point counts
	Lat1, Lon1 float64 // first grid point, degrees
	Lat2, Lon2 float64 // last grid point, degrees
	Di, Dj     float64 // increments, degrees, always positive

	// Forecast cadence: hourly through HourlyThrough, then every
	// CoarseStep hours up to MaxHour.
	HourlyThrough int
	CoarseStep    int
	MaxHour       int
}

// GFSWaveQuarterDegree is the 0.25 degree global wave grid: 1440x721 points
// scanned west to east, north to south, hourly steps to 120h then 3-hourly
// to 240h (161 steps for a full horizon).
var GFSWaveQuarterDegree = GridSpec{
	Ni: 1440, Nj: 721,
	Lat1: 90, Lon1: 0,
	Lat2: -90, Lon2: 359.75,
	Di: 0.25, Dj: 0.25,
	HourlyThrough: 120,
	CoarseStep:    3,
	MaxHour:       240,
}

// Latitudes returns the latitude coordinate of each grid row in scan order.
func (g GridSpec) Latitudes() []float64 {
	step := g.Dj
	if g.Lat1 > g.Lat2 {
		step = -g.Dj
	}
	lats := make([]float64, g.Nj)
	for i := range lats {
		lats[i] = g.Lat1 + float64(i)*step
	}
	return lats
}

// Longitudes returns the longitude coordinate of each grid column.
func (g GridSpec) Longitudes() []float64 {
	lons := make([]float64, g.Ni)
	for i := range lons {
		lons[i] = g.Lon1 + float64(i)*g.Di
	}
	return lons
}

// Matches reports whether a decoded grid declaration agrees with this spec.
func (g GridSpec) Matches(ni, nj int, lat1, lon1, di, dj float64) bool {
	return ni == g.Ni && nj == g.Nj &&
		math.Abs(lat1-g.Lat1) < coordEpsilon &&
		math.Abs(lon1-g.Lon1) < coordEpsilon &&
		math.Abs(di-g.Di) < coordEpsilon &&
		math.Abs(dj-g.Dj) < coordEpsilon
}

// NextStep returns the forecast hour that should follow h per the cadence.
func (g GridSpec) NextStep(h int) int {
	if h < g.HourlyThrough {
		return h + 1
	}
	return h + g.CoarseStep
}

// NominalSteps lists the full-horizon step sequence.
func (g GridSpec) NominalSteps() []int {
	var steps []int
	for h := 0; h <= g.MaxHour; h = g.NextStep(h) {
		steps = append(steps, h)
	}
	return steps
}

// Coarsen derives a grid subsampled by an integer factor in both axes,
// keeping the forecast cadence. Synthetic fixtures use coarse grids to stay
// small; a factor below 2 returns the grid unchanged.
func (g GridSpec) Coarsen(factor int) GridSpec {
	if factor <= 1 {
		return g
	}
	c := g
	c.Ni = (g.Ni + factor - 1) / factor
	c.Nj = (g.Nj + factor - 1) / factor
	c.Di = g.Di * float64(factor)
	c.Dj = g.Dj * float64(factor)
	c.Lon2 = g.Lon1 + float64(c.Ni-1)*c.Di
	if g.Lat1 > g.Lat2 {
		c.Lat2 = g.Lat1 - float64(c.Nj-1)*c.Dj
	} else {
		c.Lat2 = g.Lat1 + float64(c.Nj-1)*c.Dj
	}
	return c
}

// Region is a closed latitude/longitude window, in the source grid's
// longitude convention.
type Region struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// DefaultRegion trims the global wave grid to the region of interest:
// 70S-0 and 0-135E.
var DefaultRegion = Region{MinLat: -70, MaxLat: 0, MinLon: 0, MaxLon: 135}

// IsZero reports whether the region is unset.
func (r Region) IsZero() bool { return r == Region{} }

// SourceGrid is one decoded record: a single variable at a single forecast
// step on a 2-D latitude/longitude grid. Values are row-major in axis order;
// missing points are NaN.
type SourceGrid struct {
	Name          string // store array name, bands resolved ("shts_0")
	StepHours     int
	ReferenceTime time.Time
	ValidTime     time.Time
	Latitudes     []float64
	Longitudes    []float64
	Values        []float32
}

// At returns the value at a (row, column) position.
func (g *SourceGrid) At(row, col int) float32 {
	return g.Values[row*len(g.Longitudes)+col]
}

// Ascending returns a grid whose latitude axis runs south to north,
// flipping the rows when the source scans north to south.
func (g *SourceGrid) Ascending() *SourceGrid {
	n := len(g.Latitudes)
	if n < 2 || g.Latitudes[0] <= g.Latitudes[n-1] {
		return g
	}
	out := &SourceGrid{
		Name:          g.Name,
		StepHours:     g.StepHours,
		ReferenceTime: g.ReferenceTime,
		ValidTime:     g.ValidTime,
		Latitudes:     make([]float64, n),
		Longitudes:    g.Longitudes,
		Values:        make([]float32, len(g.Values)),
	}
	width := len(g.Longitudes)
	for row := 0; row < n; row++ {
		src := n - 1 - row
		out.Latitudes[row] = g.Latitudes[src]
		copy(out.Values[row*width:(row+1)*width], g.Values[src*width:(src+1)*width])
	}
	return out
}

// Subset trims the grid to the rows and columns whose coordinates fall
// inside the region. The grid's axes must be ascending; rows and columns
// inside the window are contiguous.
func (g *SourceGrid) Subset(r Region) (*SourceGrid, error) {
	rowLo, rowHi, ok := axisWindow(g.Latitudes, r.MinLat, r.MaxLat)
	if !ok {
		return nil, fmt.Errorf("region %+v selects no latitudes", r)
	}
	colLo, colHi, ok := axisWindow(g.Longitudes, r.MinLon, r.MaxLon)
	if !ok {
		return nil, fmt.Errorf("region %+v selects no longitudes", r)
	}

	nLat := rowHi - rowLo + 1
	nLon := colHi - colLo + 1
	out := &SourceGrid{
		Name:          g.Name,
		StepHours:     g.StepHours,
		ReferenceTime: g.ReferenceTime,
		ValidTime:     g.ValidTime,
		Latitudes:     append([]float64(nil), g.Latitudes[rowLo:rowHi+1]...),
		Longitudes:    append([]float64(nil), g.Longitudes[colLo:colHi+1]...),
		Values:        make([]float32, nLat*nLon),
	}
	width := len(g.Longitudes)
	for row := 0; row < nLat; row++ {
		src := (rowLo + row) * width
		copy(out.Values[row*nLon:(row+1)*nLon], g.Values[src+colLo:src+colLo+nLon])
	}
	return out, nil
}

// axisWindow finds the inclusive index range of ascending axis values inside
// [lo, hi].
func axisWindow(axis []float64, lo, hi float64) (int, int, bool) {
	first, last := -1, -1
	for i, v := range axis {
		if v < lo-coordEpsilon || v > hi+coordEpsilon {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		return 0, 0, false
	}
	return first, last, true
}

// Variable is one quantity assembled across all forecast steps of a date:
// a (step, latitude, longitude) float32 array in C order.
type Variable struct {
	Name       string
	Steps      []int // forecast hours, ascending
	Latitudes  []float64
	Longitudes []float64
	Values     []float32
}

// StepSlice returns the 2-D slice for one step index, without copying.
func (v *Variable) StepSlice(i int) []float32 {
	size := len(v.Latitudes) * len(v.Longitudes)
	return v.Values[i*size : (i+1)*size]
}
