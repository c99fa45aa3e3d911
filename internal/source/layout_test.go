package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wave-archive/internal/domain"
)

func TestLayoutPaths(t *testing.T) {
	d, err := domain.ParseForecastDate("20240426")
	require.NoError(t, err)
	l := Layout{Root: "/data/incoming"}

	assert.Equal(t, "/data/incoming/gfs.20240426/00/wave/gridded", l.DateDir(d))
	assert.Equal(t,
		"/data/incoming/gfs.20240426/00/wave/gridded/gfswave.t00z.global.0p25.f006.grib2",
		l.StepFile(d, 6))
	assert.Equal(t,
		"/data/incoming/gfs.20240426/00/wave/gridded/gfswave.t00z.global.0p25.f123.grib2",
		l.StepFile(d, 123))
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	l := Layout{Root: root}
	d, err := domain.ParseForecastDate("20240426")
	require.NoError(t, err)

	dir := l.DateDir(d)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{
		"gfswave.t00z.global.0p25.f012.grib2",
		"gfswave.t00z.global.0p25.f000.grib2",
		"gfswave.t00z.global.0p25.f123.grib2",
		"gfswave.t00z.global.0p25.f006.grib2.idx", // sidecar, ignored
		"gfswave.t06z.global.0p25.f000.grib2",     // wrong cycle, ignored
		"notes.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "gfswave.t00z.global.0p25.f024.grib2"), 0o755))

	files, err := l.Discover(d)

	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, []int{0, 12, 123}, []int{files[0].Hours, files[1].Hours, files[2].Hours})
	assert.Equal(t, filepath.Join(dir, "gfswave.t00z.global.0p25.f000.grib2"), files[0].Path)
}

func TestDiscoverMissingDate(t *testing.T) {
	l := Layout{Root: t.TempDir()}
	d, err := domain.ParseForecastDate("20240426")
	require.NoError(t, err)

	_, err = l.Discover(d)
	assert.Error(t, err)
}
