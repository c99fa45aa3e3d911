package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/wave-archive/internal/domain"
	"github.com/couchcryptid/wave-archive/internal/grib"
	"github.com/couchcryptid/wave-archive/internal/observability"
	"github.com/couchcryptid/wave-archive/internal/source"
	"github.com/couchcryptid/wave-archive/internal/zarr"
)

// Publisher delivers completion reports to an external sink. Implementations
// must be safe for concurrent use.
type Publisher interface {
	PublishReport(ctx context.Context, rep *Report) error
}

// Options configure a Converter.
type Options struct {
	SourceRoot string
	OutputRoot string

	// Grid and Catalog default to the global 0.25 degree wave grid and its
	// variable catalog when left zero.
	Grid    domain.GridSpec
	Catalog domain.Catalog

	// Region trims every decoded grid; the zero value keeps the full grid.
	Region    domain.Region
	GapPolicy domain.GapPolicy

	// Strict aborts a date on the first decode or consistency error. The
	// default drops the failing file or variable and keeps going.
	Strict bool

	ChunkSteps       int
	Compressor       string
	CompressionLevel int

	// Workers bounds decode and assembly parallelism within one date.
	Workers int
}

// Converter turns one forecast date's source files into a published store.
type Converter struct {
	opts    Options
	layout  source.Layout
	codec   zarr.Codec
	pub     Publisher
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool
}

// NewConverter validates the options and builds a Converter. Pass a nil
// publisher to disable completion events.
func NewConverter(opts Options, pub Publisher, logger *slog.Logger, metrics *observability.Metrics) (*Converter, error) {
	if opts.Catalog == nil {
		opts.Catalog = domain.GFSWave
	}
	if opts.Grid == (domain.GridSpec{}) {
		opts.Grid = domain.GFSWaveQuarterDegree
	}
	if opts.GapPolicy == "" {
		opts.GapPolicy = domain.GapFail
	}
	if opts.ChunkSteps < 1 {
		opts.ChunkSteps = 81
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	codec, err := zarr.NewCodec(opts.Compressor, opts.CompressionLevel)
	if err != nil {
		return nil, err
	}

	return &Converter{
		opts:    opts,
		layout:  source.Layout{Root: opts.SourceRoot},
		codec:   codec,
		pub:     pub,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// CheckReadiness returns nil once at least one date has been converted, or an
// error describing why the service is not yet ready.
func (c *Converter) CheckReadiness(_ context.Context) error {
	if !c.ready.Load() {
		return errors.New("no date converted yet")
	}
	return nil
}

// RunDates converts each date with at most workers running concurrently.
// Dates are isolated: one date's failure never disturbs another's output.
func (c *Converter) RunDates(ctx context.Context, dates []domain.ForecastDate, workers int) []*Report {
	if workers < 1 {
		workers = 1
	}
	reps := make([]*Report, len(dates))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, d := range dates {
		g.Go(func() error {
			reps[i] = c.ConvertDate(ctx, d)
			return nil
		})
	}
	_ = g.Wait()
	return reps
}

// ConvertDate runs one date end to end and always returns a report; a failed
// date carries the error in the report and publishes no store.
func (c *Converter) ConvertDate(ctx context.Context, date domain.ForecastDate) *Report {
	rep := &Report{Date: date.String(), StartedAt: clock.Now().UTC()}

	c.metrics.ConvertRunning.Inc()
	defer c.metrics.ConvertRunning.Dec()

	err := c.convert(ctx, date, rep)
	rep.FinishedAt = clock.Now().UTC()

	if err != nil {
		rep.Error = err.Error()
		c.metrics.DateFailures.Inc()
		c.logger.Error("date conversion failed", "date", rep.Date, "error", err)
	} else {
		c.metrics.DatesConverted.Inc()
		c.metrics.ConvertDuration.Observe(rep.Duration().Seconds())
		c.ready.Store(true)
		c.logger.Info("date converted",
			"date", rep.Date,
			"store", rep.Store,
			"variables", len(rep.WrittenVariables()),
			"steps", len(rep.Steps),
			"chunks", rep.Chunks,
			"bytes", rep.Bytes,
			"duration", rep.Duration(),
		)
	}

	c.publish(ctx, rep)
	return rep
}

func (c *Converter) convert(ctx context.Context, date domain.ForecastDate, rep *Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	files, err := c.layout.Discover(date)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no source files under %s", c.layout.DateDir(date))
	}
	rep.Files = len(files)

	grids, err := c.decodeFiles(ctx, date, files, rep)
	if err != nil {
		return err
	}
	if len(grids) == 0 {
		return errors.New("no cataloged records decoded")
	}

	groups := make(map[string][]*domain.SourceGrid)
	for _, g := range grids {
		groups[g.Name] = append(groups[g.Name], g)
	}

	vars, err := c.assemble(ctx, groups, rep)
	if err != nil {
		return err
	}
	if len(vars) == 0 {
		return errors.New("no variable survived assembly")
	}

	steps := vars[0].Steps
	rep.Steps = steps
	if missing := domain.CheckStepGaps(c.opts.Grid, steps); len(missing) > 0 {
		rep.MissingSteps = missing
		c.metrics.StepGaps.Add(float64(len(missing)))
		if c.opts.GapPolicy == domain.GapFail {
			return &domain.ConsistencyError{Variable: rep.Date, Step: missing[0], Reason: fmt.Sprintf("%d missing steps", len(missing))}
		}
		c.logger.Warn("step sequence has gaps", "date", rep.Date, "missing", missing)
	}

	return c.writeStore(date, vars, rep)
}

// decodeFiles reads all source files with bounded parallelism. In lenient
// mode a failing file is skipped and noted; in strict mode it aborts.
func (c *Converter) decodeFiles(ctx context.Context, date domain.ForecastDate, files []source.StepFile, rep *Report) ([]*domain.SourceGrid, error) {
	results := make([][]*domain.SourceGrid, len(files))
	skipped := make([]int, len(files))
	problems := make([]string, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			grids, n, err := c.decodeFile(f, date.CycleTime())
			if err != nil {
				if c.opts.Strict {
					return fmt.Errorf("%s: %w", f.Path, err)
				}
				problems[i] = fmt.Sprintf("%s: %v", filepath.Base(f.Path), err)
				c.logger.Warn("skipping source file", "path", f.Path, "error", err)
				return nil
			}
			results[i], skipped[i] = grids, n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []*domain.SourceGrid
	for i, grids := range results {
		all = append(all, grids...)
		rep.Skipped += skipped[i]
		if problems[i] != "" {
			rep.Problems = append(rep.Problems, problems[i])
		}
	}
	rep.Records = len(all)
	c.metrics.RecordsDecoded.Add(float64(len(all)))
	c.metrics.RecordsSkipped.Add(float64(rep.Skipped))
	return all, nil
}

// decodeFile reads one step file and rejects records that do not belong in
// it: a reference time other than the date's cycle, or a forecast step other
// than the one the file name declares.
func (c *Converter) decodeFile(sf source.StepFile, cycle time.Time) ([]*domain.SourceGrid, int, error) {
	f, err := os.Open(sf.Path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := grib.NewDecoder(bufio.NewReaderSize(f, 1<<16), c.opts.Catalog, c.opts.Grid)
	var grids []*domain.SourceGrid
	for {
		rec, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return grids, dec.Skipped(), nil
		}
		if err != nil {
			return nil, dec.Skipped(), err
		}
		if !rec.ReferenceTime.Equal(cycle) {
			return nil, dec.Skipped(), fmt.Errorf("%s: reference time %s, want cycle %s: %w",
				rec.Name, rec.ReferenceTime.Format(time.RFC3339), cycle.Format(time.RFC3339), domain.ErrFormatMismatch)
		}
		if rec.StepHours != sf.Hours {
			return nil, dec.Skipped(), fmt.Errorf("%s: step %d in the f%03d file: %w",
				rec.Name, rec.StepHours, sf.Hours, domain.ErrFormatMismatch)
		}

		rec = rec.Ascending()
		if !c.opts.Region.IsZero() {
			if rec, err = rec.Subset(c.opts.Region); err != nil {
				return nil, dec.Skipped(), err
			}
		}
		grids = append(grids, rec)
	}
}

// assemble stacks each variable's records into a step-ordered block, drops or
// aborts on consistency failures per the strictness setting, and keeps only
// variables agreeing on the majority step sequence.
func (c *Converter) assemble(ctx context.Context, groups map[string][]*domain.SourceGrid, rep *Report) ([]*domain.Variable, error) {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	built := make([]*domain.Variable, len(names))
	outcomes := make([]VariableOutcome, len(names))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := domain.AssembleVariable(name, groups[name])
			if err != nil {
				if c.opts.Strict {
					return err
				}
				outcomes[i] = VariableOutcome{Name: name, Error: err.Error()}
				c.metrics.VariablesDropped.Inc()
				c.logger.Warn("dropping variable", "date", rep.Date, "variable", name, "error", err)
				return nil
			}
			built[i] = v
			outcomes[i] = VariableOutcome{Name: name, Steps: len(v.Steps)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var kept []*domain.Variable
	for _, v := range built {
		if v != nil {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		rep.Variables = outcomes
		return nil, nil
	}

	aligned, misaligned := domain.AlignSteps(kept)
	for _, v := range misaligned {
		err := &domain.ConsistencyError{Variable: v.Name, Step: -1, Reason: "step sequence disagrees with sibling variables"}
		if c.opts.Strict {
			return nil, err
		}
		for i := range outcomes {
			if outcomes[i].Name == v.Name {
				outcomes[i] = VariableOutcome{Name: v.Name, Error: err.Error()}
			}
		}
		c.metrics.VariablesDropped.Inc()
		c.logger.Warn("dropping variable", "date", rep.Date, "variable", v.Name, "error", err)
	}

	for _, v := range aligned[1:] {
		if !equalAxes(v.Latitudes, aligned[0].Latitudes) || !equalAxes(v.Longitudes, aligned[0].Longitudes) {
			return nil, &domain.ConsistencyError{Variable: v.Name, Step: -1, Reason: "grid axes disagree across variables"}
		}
	}

	rep.Variables = outcomes
	return aligned, nil
}

// writeStore stages all arrays and axes and publishes the store with a
// single rename.
func (c *Converter) writeStore(date domain.ForecastDate, vars []*domain.Variable, rep *Report) error {
	path := filepath.Join(c.opts.OutputRoot, date.StoreName())
	w, err := zarr.NewWriter(path, c.codec)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			w.Abort()
		}
	}()

	cycle := date.CycleTime().UTC()
	if err := w.SetGroupAttrs(map[string]any{
		"forecast_date":  date.String(),
		"reference_time": cycle.Format(time.RFC3339),
		"source":         "gfswave.t00z.global.0p25",
	}); err != nil {
		return err
	}

	base := vars[0]
	nLat, nLon := len(base.Latitudes), len(base.Longitudes)
	steps := make([]int64, len(base.Steps))
	for i, s := range base.Steps {
		steps[i] = int64(s)
	}

	if err := w.Float64(zarr.Array{
		Name: "latitude", Dims: []string{"latitude"},
		Shape: []int{nLat}, Chunks: []int{nLat},
		Attrs: map[string]any{"units": "degrees_north"},
	}, base.Latitudes); err != nil {
		return err
	}
	if err := w.Float64(zarr.Array{
		Name: "longitude", Dims: []string{"longitude"},
		Shape: []int{nLon}, Chunks: []int{nLon},
		Attrs: map[string]any{"units": "degrees_east"},
	}, base.Longitudes); err != nil {
		return err
	}
	if err := w.Int64(zarr.Array{
		Name: "step", Dims: []string{"step"},
		Shape: []int{len(steps)}, Chunks: []int{len(steps)},
		Attrs: map[string]any{"units": "hours"},
	}, steps); err != nil {
		return err
	}
	if err := w.Int64(zarr.Array{
		Name: "time", Dims: []string{"time"},
		Shape: []int{1}, Chunks: []int{1},
		Attrs: map[string]any{
			"units":    "seconds since 1970-01-01T00:00:00Z",
			"calendar": "proleptic_gregorian",
		},
	}, []int64{cycle.Unix()}); err != nil {
		return err
	}

	chunkSteps := min(c.opts.ChunkSteps, len(steps))
	for _, v := range vars {
		attrs := map[string]any{}
		if spec, _, ok := c.opts.Catalog.ByStoreName(v.Name); ok {
			attrs["long_name"] = spec.LongName
			attrs["units"] = spec.Units
		}
		if err := w.Float32(zarr.Array{
			Name: v.Name, Dims: []string{"step", "latitude", "longitude"},
			Shape:  []int{len(v.Steps), nLat, nLon},
			Chunks: []int{chunkSteps, nLat, nLon},
			Attrs:  attrs,
		}, v.Values); err != nil {
			return err
		}
	}

	if err := w.Commit(); err != nil {
		return err
	}
	committed = true

	rep.Store = path
	rep.Chunks, rep.Bytes = w.Stats()
	c.metrics.ChunksWritten.Add(float64(rep.Chunks))
	c.metrics.BytesWritten.Add(float64(rep.Bytes))
	return nil
}

func (c *Converter) publish(ctx context.Context, rep *Report) {
	if c.pub == nil {
		return
	}
	outcome := "success"
	if rep.Failed() {
		outcome = "error"
	}
	if err := c.pub.PublishReport(ctx, rep); err != nil {
		c.logger.Warn("publishing completion event failed", "date", rep.Date, "error", err)
		return
	}
	c.metrics.CompletionEvents.WithLabelValues(outcome).Inc()
}

func equalAxes(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
