package retrieval

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/wave-archive/internal/observability"
)

// Report summarizes one retrieval operation. In dry-run mode only Selected
// is populated.
type Report struct {
	DryRun   bool
	Selected []string
	Copied   int
	Bytes    int64
}

// Copier executes a selection against a source store directory. It never
// mutates the source; matched paths are copied to the destination through a
// temp file and rename, so a crashed transfer leaves no half-written path.
type Copier struct {
	Concurrency int
	Logger      *slog.Logger           // optional; nil discards logs
	Metrics     *observability.Metrics // optional
}

// Run lists the source namespace, selects paths with the filter, and copies
// them. With dryRun set it reports the selection without touching the
// destination. Run treats the source as a plain file tree; cmd/retrieve
// applies the published-store check before calling it.
func (c *Copier) Run(ctx context.Context, srcRoot, dstRoot string, f *Filter, dryRun bool) (*Report, error) {
	log := c.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	paths, err := listFiles(srcRoot)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", srcRoot, err)
	}

	report := &Report{DryRun: dryRun, Selected: Select(paths, f)}
	log.Info("retrieval selection resolved",
		"source", srcRoot, "paths", len(paths), "selected", len(report.Selected), "dry_run", dryRun)

	if dryRun {
		for _, p := range report.Selected {
			log.Info("would copy", "path", p)
		}
		return report, nil
	}

	limit := c.Concurrency
	if limit < 1 {
		limit = 1
	}
	start := time.Now()
	var copied, bytes atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, p := range report.Selected {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := copyFile(filepath.Join(srcRoot, filepath.FromSlash(p)), filepath.Join(dstRoot, filepath.FromSlash(p)))
			if err != nil {
				return fmt.Errorf("copy %s: %w", p, err)
			}
			copied.Add(1)
			bytes.Add(n)
			if c.Metrics != nil {
				c.Metrics.RetrievalFilesCopied.Inc()
				c.Metrics.RetrievalBytesCopied.Add(float64(n))
			}
			log.Debug("copied path", "path", p, "bytes", n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Copied = int(copied.Load())
	report.Bytes = bytes.Load()
	if c.Metrics != nil {
		c.Metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
	}
	log.Info("retrieval complete",
		"destination", dstRoot, "copied", report.Copied, "bytes", report.Bytes)
	return report, nil
}

// listFiles returns every regular file under root as a slash-separated
// relative path.
func listFiles(root string) ([]string, error) {
	var paths []string
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
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".partial-*")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, in)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), 0o644)
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dst)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	return n, nil
}
