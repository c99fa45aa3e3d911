package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// VariableSpec describes one cataloged physical quantity and its GRIB2
// identification. Multi-band quantities (Bands > 0) arrive as one GRIB
// record per band on the "ordered sequence" surface and are stored as
// independent arrays suffixed _0.._N-1.
type VariableSpec struct {
	Name       string // short name used for the store array ("swh")
	LongName   string
	Units      string
	Discipline uint8 // GRIB2 discipline (0 meteorological, 10 oceanographic)
	Category   uint8 // parameter category within the discipline
	Number     uint8 // parameter number within the category
	Bands      int   // ordered-sequence band count; 0 for plain scalar fields
}

// StoreNames returns the array names this spec contributes to a store:
// the bare name for scalar fields, name_0..name_N-1 for banded fields.
func (s VariableSpec) StoreNames() []string {
	if s.Bands == 0 {
		return []string{s.Name}
	}
	names := make([]string, s.Bands)
	for i := range names {
		names[i] = s.BandName(i)
	}
	return names
}

// BandName returns the store array name for a 0-based band index.
func (s VariableSpec) BandName(band int) string {
	if s.Bands == 0 {
		return s.Name
	}
	return fmt.Sprintf("%s_%d", s.Name, band)
}

// Catalog is the fixed list of quantities a dataset's files carry.
type Catalog []VariableSpec

// GFSWave is the catalog for the GFS global wave product: 13 quantities, 3
// of them split into three swell partitions, giving 19 records per source
// file and 19 arrays per store.
var GFSWave = Catalog{
	{Name: "wdir", LongName: "Wind direction", Units: "degree true", Discipline: 0, Category: 2, Number: 0},
	{Name: "ws", LongName: "Wind speed", Units: "m s-1", Discipline: 0, Category: 2, Number: 1},
	{Name: "u", LongName: "U component of wind", Units: "m s-1", Discipline: 0, Category: 2, Number: 2},
	{Name: "v", LongName: "V component of wind", Units: "m s-1", Discipline: 0, Category: 2, Number: 3},
	{Name: "swh", LongName: "Significant height of combined wind waves and swell", Units: "m", Discipline: 10, Category: 0, Number: 3},
	{Name: "wvdir", LongName: "Direction of wind waves", Units: "degree true", Discipline: 10, Category: 0, Number: 4},
	{Name: "shww", LongName: "Significant height of wind waves", Units: "m", Discipline: 10, Category: 0, Number: 5},
	{Name: "mpww", LongName: "Mean period of wind waves", Units: "s", Discipline: 10, Category: 0, Number: 6},
	{Name: "swdir", LongName: "Direction of swell waves", Units: "degree true", Discipline: 10, Category: 0, Number: 7, Bands: 3},
	{Name: "shts", LongName: "Significant height of total swell", Units: "m", Discipline: 10, Category: 0, Number: 8, Bands: 3},
	{Name: "mpts", LongName: "Mean period of total swell", Units: "s", Discipline: 10, Category: 0, Number: 9, Bands: 3},
	{Name: "dirpw", LongName: "Primary wave direction", Units: "degree true", Discipline: 10, Category: 0, Number: 10},
	{Name: "perpw", LongName: "Primary wave mean period", Units: "s", Discipline: 10, Category: 0, Number: 11},
}

// Find locates the spec for a GRIB2 parameter identity.
func (c Catalog) Find(discipline, category, number uint8) (VariableSpec, bool) {
	for _, s := range c {
		if s.Discipline == discipline && s.Category == category && s.Number == number {
			return s, true
		}
	}
	return VariableSpec{}, false
}

// ByStoreName resolves a store array name back to its spec and 0-based band
// index (-1 for scalar fields).
func (c Catalog) ByStoreName(name string) (VariableSpec, int, bool) {
	base := name
	band := -1
	if i := strings.LastIndexByte(name, '_'); i > 0 {
		if n, err := strconv.Atoi(name[i+1:]); err == nil {
			base = name[:i]
			band = n
		}
	}
	for _, s := range c {
		if s.Name != base {
			continue
		}
		if s.Bands == 0 && band == -1 {
			return s, -1, true
		}
		if s.Bands > 0 && band >= 0 && band < s.Bands {
			return s, band, true
		}
	}
	return VariableSpec{}, 0, false
}

// StoreNames lists every array name the catalog contributes, in catalog
// order with bands expanded.
func (c Catalog) StoreNames() []string {
	var names []string
	for _, s := range c {
		names = append(names, s.StoreNames()...)
	}
	return names
}

// RecordCount is the number of GRIB records one complete source file holds.
func (c Catalog) RecordCount() int {
	n := 0
	for _, s := range c {
		if s.Bands == 0 {
			n++
		} else {
			n += s.Bands
		}
	}
	return n
}
