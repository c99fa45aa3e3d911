// Command genmock writes a synthetic source date tree through the real
// encoder, giving conversion runs and local experiments deterministic input
// without the multi-gigabyte download. Every cataloged record is generated
// for the requested forecast steps with smooth fields that vary by variable,
// band, step and position; two rough continental boxes are masked to NaN the
// way land points are in real files.
//
// Usage:
//
//	go run ./cmd/genmock -date 20240426 -output-root data/mock -steps 8 -grid-scale 8
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/couchcryptid/wave-archive/internal/domain"
	"github.com/couchcryptid/wave-archive/internal/grib"
	"github.com/couchcryptid/wave-archive/internal/source"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dateArg := flag.String("date", "", "forecast date to generate (YYYYMMDD)")
	outputRoot := flag.String("output-root", "", "root directory for the source tree")
	stepCount := flag.Int("steps", 8, "number of forecast steps to write; 0 for the full horizon")
	gridScale := flag.Int("grid-scale", 8, "grid coarsening factor; 1 writes the full 0.25 degree grid")
	flag.Parse()

	if *dateArg == "" || *outputRoot == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -date, -output-root")
	}

	date, err := domain.ParseForecastDate(*dateArg)
	if err != nil {
		return err
	}

	grid := domain.GFSWaveQuarterDegree.Coarsen(*gridScale)
	steps := grid.NominalSteps()
	if n := *stepCount; n > 0 && n < len(steps) {
		steps = steps[:n]
	}

	layout := source.Layout{Root: *outputRoot}
	if err := os.MkdirAll(layout.DateDir(date), 0o755); err != nil {
		return err
	}

	totalRecords, totalBytes := 0, int64(0)
	for _, hours := range steps {
		data, records, err := encodeStepFile(date, hours, grid)
		if err != nil {
			return fmt.Errorf("f%03d: %w", hours, err)
		}
		if err := os.WriteFile(layout.StepFile(date, hours), data, 0o644); err != nil {
			return err
		}
		totalRecords += records
		totalBytes += int64(len(data))
		log.Printf("f%03d: %d records, %d bytes", hours, records, len(data))
	}

	log.Printf("wrote %s: %d files, %d records, %d bytes",
		layout.DateDir(date), len(steps), totalRecords, totalBytes)

	printStats(grid, steps)
	return nil
}

// encodeStepFile renders one forecast step's file: every cataloged record,
// banded variables expanded, concatenated in catalog order.
func encodeStepFile(date domain.ForecastDate, hours int, grid domain.GridSpec) ([]byte, int, error) {
	var buf bytes.Buffer
	records := 0
	for _, spec := range domain.GFSWave {
		bands := max(spec.Bands, 1)
		for band := 0; band < bands; band++ {
			field := grib.NewField(spec, band, date.CycleTime(), hours, grid, fieldValues(spec, band, hours, grid))
			if err := grib.WriteMessage(&buf, field); err != nil {
				return nil, 0, fmt.Errorf("%s band %d: %w", spec.Name, band, err)
			}
			records++
		}
	}
	return buf.Bytes(), records, nil
}

// fieldValues synthesizes one record's grid: a smooth function of position,
// forecast hour and parameter identity, so every record differs but
// regeneration is byte-identical.
func fieldValues(spec domain.VariableSpec, band, hours int, grid domain.GridSpec) []float32 {
	base, amp := valueRange(spec.Units)
	seed := float64(spec.Discipline)*31 + float64(spec.Category)*7 + float64(spec.Number) + float64(band)*0.7
	t := float64(hours)

	lats, lons := grid.Latitudes(), grid.Longitudes()
	values := make([]float32, 0, len(lats)*len(lons))
	for _, lat := range lats {
		y := lat * math.Pi / 180
		for _, lon := range lons {
			if land(lat, lon) {
				values = append(values, float32(math.NaN()))
				continue
			}
			x := lon * math.Pi / 180
			v := base + amp*(0.5*math.Sin(3*x+seed+t/12)*math.Cos(2*y-seed)+0.25*math.Sin(4*y+t/24))
			values = append(values, float32(v))
		}
	}
	return values
}

// valueRange gives each unit a plausible base level and swing: directions
// spread over the compass, heights in metres, periods in seconds, wind in
// metres per second.
func valueRange(units string) (base, amp float64) {
	switch units {
	case "degree true":
		return 180, 160
	case "m":
		return 2.5, 2.5
	case "s":
		return 9, 6
	default:
		return 8, 8
	}
}

// land masks two rough continental boxes, one per hemisphere, so fixtures
// carry NaN cover both inside and outside the default region of interest.
func land(lat, lon float64) bool {
	if lat > 10 && lat < 70 && lon > 235 && lon < 300 {
		return true
	}
	return lat > -35 && lat < -12 && lon > 114 && lon < 154
}

func printStats(grid domain.GridSpec, steps []int) {
	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Grid: %dx%d points (%g x %g degrees)\n", grid.Ni, grid.Nj, grid.Di, grid.Dj)
	fmt.Printf("Steps: %d (f%03d..f%03d)\n", len(steps), steps[0], steps[len(steps)-1])
	fmt.Printf("Records per file: %d\n", domain.GFSWave.RecordCount())
	fmt.Printf("Store arrays after conversion: %d data + 4 axes\n", len(domain.GFSWave.StoreNames()))

	spec, _, ok := domain.GFSWave.ByStoreName("swh")
	if !ok {
		return
	}
	vals := fieldValues(spec, 0, 0, grid)
	nan := 0
	for _, v := range vals {
		if math.IsNaN(float64(v)) {
			nan++
		}
	}
	r, c := grid.Nj/2, grid.Ni/4
	fmt.Printf("swh f000 at (%g, %g): %.3f before packing\n",
		grid.Latitudes()[r], grid.Longitudes()[c], vals[r*grid.Ni+c])
	fmt.Printf("swh f000 NaN cover: %d/%d points\n", nan, len(vals))
}
