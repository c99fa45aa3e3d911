package retrieval

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wave-archive/internal/zarr"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	got := map[string]string{}
	paths, err := listFiles(root)
	require.NoError(t, err)
	for _, p := range paths {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(p)))
		require.NoError(t, err)
		got[p] = string(data)
	}
	return got
}

func TestCopierRun(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")
	files := map[string]string{
		".zgroup":          `{"zarr_format": 2}`,
		".zattrs":          `{}`,
		".zmetadata":       `{"metadata": {}}`,
		"swh/.zarray":      `{"shape": [2]}`,
		"swh/.zattrs":      `{}`,
		"swh/0.0.0":        "chunk-a",
		"swh/1.0.0":        "chunk-b",
		"ws/.zarray":       `{"shape": [2]}`,
		"ws/0.0.0":         "chunk-c",
		"latitude/.zarray": `{"shape": [2]}`,
		"latitude/0":       "lat",
	}
	writeTree(t, src, files)

	f, err := ParseFilter(strings.NewReader("+ .z*\n+ swh/**\n+ latitude/**\n"))
	require.NoError(t, err)

	c := &Copier{Concurrency: 4, Logger: discardLogger()}
	report, err := c.Run(context.Background(), src, dst, f, false)

	require.NoError(t, err)
	assert.False(t, report.DryRun)
	assert.Equal(t, len(report.Selected), report.Copied)

	want := map[string]string{}
	var wantBytes int64
	for rel, content := range files {
		if strings.HasPrefix(rel, "ws/") {
			continue
		}
		want[rel] = content
		wantBytes += int64(len(content))
	}
	assert.Equal(t, want, readTree(t, dst))
	assert.Equal(t, wantBytes, report.Bytes)

	// source untouched
	assert.Equal(t, files, readTree(t, src))
}

func TestCopierDryRun(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")
	writeTree(t, src, map[string]string{".zmetadata": "{}", "swh/0.0.0": "chunk"})

	c := &Copier{Concurrency: 2, Logger: discardLogger()}
	report, err := c.Run(context.Background(), src, dst, IncludeAll(), true)

	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, []string{".zmetadata", "swh/0.0.0"}, report.Selected)
	assert.Zero(t, report.Copied)
	assert.NoDirExists(t, dst)
}

func TestCopierOverwritesDestinationPaths(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeTree(t, src, map[string]string{"swh/0.0.0": "fresh"})
	writeTree(t, dst, map[string]string{"swh/0.0.0": "stale", "keep.txt": "keep"})

	c := &Copier{Concurrency: 1, Logger: discardLogger()}
	_, err := c.Run(context.Background(), src, dst, IncludeAll(), false)

	require.NoError(t, err)
	got := readTree(t, dst)
	assert.Equal(t, "fresh", got["swh/0.0.0"])
	assert.Equal(t, "keep", got["keep.txt"])
}

func TestCopierMissingSource(t *testing.T) {
	c := &Copier{Concurrency: 1, Logger: discardLogger()}
	_, err := c.Run(context.Background(), filepath.Join(t.TempDir(), "absent"), t.TempDir(), IncludeAll(), false)
	assert.Error(t, err)
}

func TestCopierZeroValue(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")
	writeTree(t, src, map[string]string{"swh/0.0.0": "chunk"})

	var c Copier
	report, err := c.Run(context.Background(), src, dst, IncludeAll(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"swh/0.0.0"}, report.Selected)

	report, err = c.Run(context.Background(), src, dst, IncludeAll(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Copied)
	assert.Equal(t, "chunk", readTree(t, dst)["swh/0.0.0"])
}

// A selection that keeps the manifest, axes and one variable must land as a
// store that still opens; the excluded variable's chunks are simply gone and
// read back as fill.
func TestCopierYieldsOpenablePartialStore(t *testing.T) {
	srcRoot := t.TempDir()
	src := filepath.Join(srcRoot, "20240426.zarr")
	dst := filepath.Join(t.TempDir(), "20240426.zarr")

	codec, err := zarr.NewCodec("zlib", 6)
	require.NoError(t, err)
	w, err := zarr.NewWriter(src, codec)
	require.NoError(t, err)
	swh := []float32{0.5, 1.5, 2.5, 3.5}
	ws := []float32{5, 6, 7, 8}
	dims := []string{"step", "latitude"}
	require.NoError(t, w.Float32(zarr.Array{Name: "swh", Dims: dims, Shape: []int{2, 2}, Chunks: []int{1, 2}}, swh))
	require.NoError(t, w.Float32(zarr.Array{Name: "ws", Dims: dims, Shape: []int{2, 2}, Chunks: []int{1, 2}}, ws))
	require.NoError(t, w.Int64(zarr.Array{Name: "step", Dims: []string{"step"}, Shape: []int{2}, Chunks: []int{2}}, []int64{0, 1}))
	require.NoError(t, w.Float64(zarr.Array{Name: "latitude", Dims: []string{"latitude"}, Shape: []int{2}, Chunks: []int{2}}, []float64{-10, 0}))
	require.NoError(t, w.Commit())

	f, err := ParseFilter(strings.NewReader(`
+ .zmetadata
+ .zgroup
+ .zattrs
+ step/**
+ latitude/**
+ swh/**
`))
	require.NoError(t, err)

	c := &Copier{Concurrency: 4, Logger: discardLogger()}
	_, err = c.Run(context.Background(), src, dst, f, false)
	require.NoError(t, err)

	store, err := zarr.Open(dst)
	require.NoError(t, err)

	got, _, err := store.Float32("swh")
	require.NoError(t, err)
	assert.Equal(t, swh, got)

	// chunk payloads land byte-for-byte
	srcChunk, err := os.ReadFile(filepath.Join(src, "swh", "0.0"))
	require.NoError(t, err)
	dstChunk, err := os.ReadFile(filepath.Join(dst, "swh", "0.0"))
	require.NoError(t, err)
	assert.Equal(t, srcChunk, dstChunk)

	// the excluded variable's chunks are gone and synthesize as fill
	assert.NoFileExists(t, filepath.Join(dst, "ws", "0.0"))
	gone, _, err := store.Float32("ws")
	require.NoError(t, err)
	for i, v := range gone {
		assert.True(t, math.IsNaN(float64(v)), "value %d", i)
	}
}
