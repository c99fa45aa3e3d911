package source

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/couchcryptid/wave-archive/internal/domain"
)

// stepFileRe matches the producer's per-step file names, capturing the
// forecast hour: gfswave.t00z.global.0p25.f006.grib2.
var stepFileRe = regexp.MustCompile(`^gfswave\.t00z\.global\.0p25\.f(\d{3})\.grib2$`)

// StepFile is one discovered source file for a forecast step.
type StepFile struct {
	Path  string
	Hours int
}

// Layout maps forecast dates onto the producer's directory convention:
// {root}/gfs.{YYYYMMDD}/00/wave/gridded/gfswave.t00z.global.0p25.f{HHH}.grib2
type Layout struct {
	Root string
}

// DateDir returns the directory holding a date's gridded wave files.
func (l Layout) DateDir(d domain.ForecastDate) string {
	return filepath.Join(l.Root, "gfs."+d.String(), "00", "wave", "gridded")
}

// StepFile returns the expected path of one forecast step's file.
func (l Layout) StepFile(d domain.ForecastDate, hours int) string {
	return filepath.Join(l.DateDir(d), fmt.Sprintf("gfswave.t00z.global.0p25.f%03d.grib2", hours))
}

// Discover lists a date's step files in ascending step order. File names
// outside the convention (index sidecars, stray downloads) are ignored.
func (l Layout) Discover(d domain.ForecastDate) ([]StepFile, error) {
	dir := l.DateDir(d)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", d, err)
	}

	var files []StepFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := stepFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		hours, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		files = append(files, StepFile{Path: filepath.Join(dir, e.Name()), Hours: hours})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Hours < files[j].Hours })
	return files, nil
}
