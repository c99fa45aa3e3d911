// Command validate checks a published store for structural integrity: the
// file layout against the consolidated manifest, metadata coherence across
// arrays, chunk presence and decodability, and axis alignment. The default
// run stays metadata-level; -deep decodes every chunk.
//
// Usage:
//
//	go run ./cmd/validate -store /data/stores/20240426.zarr -deep
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/couchcryptid/wave-archive/internal/zarr"
)

// chunkKeyRe matches dot-joined chunk file names like 0.0.0.
var chunkKeyRe = regexp.MustCompile(`^\d+(\.\d+)*$`)

// axisNames are the coordinate arrays every store carries.
var axisNames = map[string]bool{"latitude": true, "longitude": true, "step": true, "time": true}

// dataDims is the dimension order of every data array.
var dataDims = []string{"step", "latitude", "longitude"}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	storePath := flag.String("store", "", "path of the store to check")
	deep := flag.Bool("deep", false, "decode every chunk of every array")
	flag.Parse()

	if *storePath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*storePath, *deep); code != 0 {
		os.Exit(code)
	}
}

func run(storePath string, deep bool) int {
	fmt.Println("=== Store Integrity Validation ===")
	fmt.Println()
	fmt.Printf("Store: %s\n", storePath)

	store, err := zarr.Open(storePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	files, err := listFiles(storePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: list store files: %v\n", err)
		return 1
	}

	// ── Run validation phases ──
	layout := validateLayout(store, files)
	metadata := validateMetadata(store)
	chunks, presentChunks, missingChunks := validateChunks(store, deep)
	axes := validateAxes(store)
	phases := []*phase{layout, metadata, chunks, axes}

	// ── Report results ──
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	axisCount := 0
	for _, name := range store.Arrays() {
		if axisNames[name] {
			axisCount++
		}
	}
	fmt.Println()
	fmt.Printf("Arrays: %d (%d axes, %d data); chunks: %d present, %d missing\n",
		len(store.Arrays()), axisCount, len(store.Arrays())-axisCount, presentChunks, missingChunks)

	// Print detailed errors.
	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// listFiles returns every regular file under root as a slash-separated
// relative path.
func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// ── Phase 1: Layout ──
// Validates the on-disk file set against the consolidated manifest: every
// manifest entry must exist with matching content, every metadata file must
// be in the manifest, and nothing else may be in the tree.

func validateLayout(store *zarr.Store, files []string) *phase {
	p := &phase{name: "Phase 1: Layout (files vs manifest)"}

	onDisk := map[string]bool{}
	for _, f := range files {
		onDisk[f] = true
	}
	arrays := map[string]bool{}
	for _, name := range store.Arrays() {
		arrays[name] = true
	}

	for key, raw := range store.Consolidated() {
		if !onDisk[key] {
			p.errorf("manifest entry %s has no file on disk", key)
			continue
		}
		data, err := os.ReadFile(filepath.Join(store.Path(), filepath.FromSlash(key)))
		if err != nil {
			p.errorf("%s: %v", key, err)
			continue
		}
		if !jsonEqual(raw, data) {
			p.errorf("%s differs from its manifest copy", key)
		}
	}

	for _, f := range files {
		switch f {
		case zarr.ConsolidatedFile, zarr.GroupFile, zarr.AttrsFile:
			continue
		}
		base := path.Base(f)
		if base == zarr.GroupFile || base == zarr.AttrsFile || base == zarr.ArrayFile {
			if _, ok := store.Consolidated()[f]; !ok {
				p.errorf("%s on disk but missing from the manifest", f)
			}
			continue
		}
		dir := path.Dir(f)
		if !arrays[dir] {
			p.errorf("unexpected file %s", f)
			continue
		}
		if !chunkKeyRe.MatchString(base) {
			p.errorf("unexpected file %s in array %s", f, dir)
		}
	}
	return p
}

// jsonEqual compares two JSON documents ignoring whitespace.
func jsonEqual(a, b []byte) bool {
	var ca, cb bytes.Buffer
	if err := json.Compact(&ca, a); err != nil {
		return false
	}
	if err := json.Compact(&cb, b); err != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

// ── Phase 2: Metadata coherence ──
// Validates each array's .zarray and .zattrs documents, and that all data
// arrays agree on shape, chunking, dtype and fill.

func validateMetadata(store *zarr.Store) *phase {
	p := &phase{name: "Phase 2: Metadata coherence"}

	if attrs, err := store.GroupAttrs(); err != nil {
		p.errorf("group attrs: %v", err)
	} else {
		for _, key := range []string{"forecast_date", "reference_time", "source"} {
			if _, ok := attrs[key]; !ok {
				p.errorf("group attrs missing %q", key)
			}
		}
	}

	var refShape, refChunks []int
	refName := ""
	for _, name := range store.Arrays() {
		meta, err := store.ArrayMeta(name)
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		checkArrayMeta(p, name, meta)
		if len(meta.Chunks) != len(meta.Shape) {
			continue
		}

		attrs, err := store.ArrayAttrs(name)
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		dims := dimNames(attrs)
		if dims == nil {
			p.errorf("%s: missing or malformed %s", name, zarr.DimsAttr)
		} else if len(dims) != len(meta.Shape) {
			p.errorf("%s: %d dimension names for a %d-d shape", name, len(dims), len(meta.Shape))
		}

		if axisNames[name] {
			if len(meta.Shape) != 1 {
				p.errorf("%s: axis array is %d-d", name, len(meta.Shape))
			}
			if len(dims) == 1 && dims[0] != name {
				p.errorf("%s: axis dimension named %q", name, dims[0])
			}
			continue
		}

		if meta.DType != zarr.DTypeFloat32 {
			p.errorf("%s: dtype %s, want %s", name, meta.DType, zarr.DTypeFloat32)
		}
		if meta.FillValue == nil || !math.IsNaN(float64(*meta.FillValue)) {
			p.errorf("%s: fill value is not NaN", name)
		}
		if dims != nil && !slices.Equal(dims, dataDims) {
			p.errorf("%s: dims %v, want %v", name, dims, dataDims)
		}
		if refShape == nil {
			refShape, refChunks, refName = meta.Shape, meta.Chunks, name
			continue
		}
		if !slices.Equal(meta.Shape, refShape) {
			p.errorf("%s: shape %v differs from %s's %v", name, meta.Shape, refName, refShape)
		}
		if !slices.Equal(meta.Chunks, refChunks) {
			p.errorf("%s: chunks %v differ from %s's %v", name, meta.Chunks, refName, refChunks)
		}
	}
	return p
}

func checkArrayMeta(p *phase, name string, meta zarr.ArrayMeta) {
	if meta.ZarrFormat != 2 {
		p.errorf("%s: zarr_format %d, want 2", name, meta.ZarrFormat)
	}
	if meta.Order != "C" {
		p.errorf("%s: order %q, want C", name, meta.Order)
	}
	if len(meta.Chunks) != len(meta.Shape) {
		p.errorf("%s: %d chunk extents for a %d-d shape", name, len(meta.Chunks), len(meta.Shape))
		return
	}
	for i, c := range meta.Chunks {
		switch {
		case c < 1:
			p.errorf("%s: chunk extent %d in dimension %d", name, c, i)
		case c > meta.Shape[i]:
			p.errorf("%s: chunk extent %d exceeds shape %d in dimension %d", name, c, meta.Shape[i], i)
		}
	}
	if _, err := meta.ElemSize(); err != nil {
		p.errorf("%s: %v", name, err)
	}
	if _, err := zarr.CodecFor(meta.Compressor); err != nil {
		p.errorf("%s: %v", name, err)
	}
}

// dimNames extracts the _ARRAY_DIMENSIONS attribute.
func dimNames(attrs map[string]any) []string {
	raw, ok := attrs[zarr.DimsAttr].([]any)
	if !ok {
		return nil
	}
	dims := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil
		}
		dims = append(dims, s)
	}
	return dims
}

// ── Phase 3: Chunk integrity ──
// Validates each array's chunk files against its chunk grid. Missing chunks
// are legal in a filtered copy and read back as fill; a missing chunk with a
// null fill value is not recoverable and fails.

func validateChunks(store *zarr.Store, deep bool) (p *phase, present, missing int) {
	name := "Phase 3: Chunk integrity"
	if deep {
		name = "Phase 3: Chunk integrity (deep)"
	}
	p = &phase{name: name}

	for _, arr := range store.Arrays() {
		meta, err := store.ArrayMeta(arr)
		if err != nil || len(meta.Chunks) != len(meta.Shape) {
			continue // phase 2 reports the metadata problem
		}
		codec, err := zarr.CodecFor(meta.Compressor)
		if err != nil {
			continue
		}
		elem, err := meta.ElemSize()
		if err != nil {
			continue
		}
		chunkBytes := elem
		for _, c := range meta.Chunks {
			chunkBytes *= c
		}

		for _, key := range meta.ChunkKeys() {
			raw, err := os.ReadFile(filepath.Join(store.Path(), arr, key))
			if errors.Is(err, fs.ErrNotExist) {
				missing++
				if meta.FillValue == nil {
					p.errorf("%s/%s: missing with a null fill value", arr, key)
				}
				continue
			}
			if err != nil {
				p.errorf("%s/%s: %v", arr, key, err)
				continue
			}
			present++
			if len(raw) == 0 {
				p.errorf("%s/%s: empty chunk file", arr, key)
				continue
			}
			if !deep {
				continue
			}
			data := raw
			if codec != nil {
				if data, err = codec.Decode(raw, chunkBytes); err != nil {
					p.errorf("%s/%s: %v", arr, key, err)
					continue
				}
			}
			if len(data) != chunkBytes {
				p.errorf("%s/%s: decodes to %d bytes, want %d", arr, key, len(data), chunkBytes)
			}
		}
	}

	if missing > 0 {
		fmt.Printf("  Note: %d missing chunk(s) read back as fill (filtered copy?)\n", missing)
	}
	return p, present, missing
}

// ── Phase 4: Axis alignment ──
// Validates the coordinate arrays themselves and that every data array's
// shape matches them.

func validateAxes(store *zarr.Store) *phase {
	p := &phase{name: "Phase 4: Axis alignment"}

	lats, _, latErr := store.Float64("latitude")
	lons, _, lonErr := store.Float64("longitude")
	steps, _, stepErr := store.Int64("step")
	times, _, timeErr := store.Int64("time")
	for _, axis := range []struct {
		name string
		err  error
	}{
		{"latitude", latErr}, {"longitude", lonErr}, {"step", stepErr}, {"time", timeErr},
	} {
		if axis.err != nil {
			p.errorf("%s: %v", axis.name, axis.err)
		}
	}
	if !p.passed() {
		return p
	}

	checkAscending(p, "latitude", lats)
	checkAscending(p, "longitude", lons)
	for i := range steps {
		if steps[i] < 0 {
			p.errorf("step[%d] is negative: %d", i, steps[i])
			break
		}
		if i > 0 && steps[i] <= steps[i-1] {
			p.errorf("step not strictly ascending at index %d: %d after %d", i, steps[i], steps[i-1])
			break
		}
	}
	if len(times) != 1 {
		p.errorf("time has %d elements, want 1", len(times))
	}

	if attrs, err := store.GroupAttrs(); err == nil {
		refRaw, _ := attrs["reference_time"].(string)
		ref, err := time.Parse(time.RFC3339, refRaw)
		if err != nil {
			p.errorf("reference_time %q: %v", refRaw, err)
		} else {
			if len(times) == 1 && times[0] != ref.Unix() {
				p.errorf("time[0]=%d disagrees with reference_time %s", times[0], refRaw)
			}
			if date, _ := attrs["forecast_date"].(string); date != ref.UTC().Format("20060102") {
				p.errorf("forecast_date %q disagrees with reference_time %s", date, refRaw)
			}
		}
	}

	want := []int{len(steps), len(lats), len(lons)}
	for _, name := range store.Arrays() {
		if axisNames[name] {
			continue
		}
		meta, err := store.ArrayMeta(name)
		if err != nil {
			continue
		}
		if !slices.Equal(meta.Shape, want) {
			p.errorf("%s: shape %v, want %v", name, meta.Shape, want)
		}
	}
	return p
}

func checkAscending(p *phase, name string, values []float64) {
	for i := 1; i < len(values); i++ {
		if values[i] <= values[i-1] {
			p.errorf("%s not strictly ascending at index %d: %g after %g", name, i, values[i], values[i-1])
			return
		}
	}
}
