package transfer

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// Progress is a snapshot of a running copy.
type Progress struct {
	NumberOfFiles    int64
	TotalSize        int64
	TotalTransferred int64
	Transferring     bool
}

// ProgressFunc receives snapshots. It is called from copy goroutines and must be safe for concurrent use.
type ProgressFunc func(Progress)

// Options tune [Copy].
type Options struct {
	// Threads is the number of files copied at once. Values below 1 mean 1.
	Threads int
	// Resume skips destination files that already have the source size.
	Resume bool
	// BytesPerSecond caps throughput across all threads. Zero means unlimited.
	BytesPerSecond int
	Progress       ProgressFunc
	Logger         *log.Logger
}

type job struct {
	src, dst string
	size     int64
}

// Copy copies the tree at src on srcFS to dst on dstFS. dst is created if missing.
//
// A single file src is copied to dst as a file. Cancelling ctx stops the copy between reads.
func Copy(ctx context.Context, srcFS FS, src string, dstFS FS, dst string, opts Options) error {
	threads := max(opts.Threads, 1)
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	var jobs []job
	var total int64
	err := srcFS.Walk(src, func(p string, info fs.FileInfo) error {
		rel := relative(src, p)
		target := dst
		if rel != "" {
			target = dstFS.Join(dst, rel)
		}
		switch {
		case info.IsDir():
			return dstFS.MkdirAll(target)
		case info.Mode().IsRegular():
			jobs = append(jobs, job{src: p, dst: target, size: info.Size()})
			total += info.Size()
		default:
			logger.Warn("skipping non-regular file", "path", p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", src, err)
	}

	c := &copier{
		ctx:   ctx,
		src:   srcFS,
		dst:   dstFS,
		opts:  opts,
		files: int64(len(jobs)),
		total: total,
	}
	if opts.BytesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.BytesPerSecond), opts.BytesPerSecond)
	}
	c.report()

	queue := make(chan job)
	errs := make(chan error, threads)
	var wg sync.WaitGroup
	for range threads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range queue {
				if err := c.copyFile(j); err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	var firstErr error
feed:
	for _, j := range jobs {
		select {
		case queue <- j:
		case firstErr = <-errs:
			break feed
		case <-ctx.Done():
			firstErr = ctx.Err()
			break feed
		}
	}
	close(queue)
	wg.Wait()
	close(errs)

	if firstErr == nil {
		firstErr = <-errs
	}
	c.report()
	return firstErr
}

type copier struct {
	ctx         context.Context
	src, dst    FS
	opts        Options
	limiter     *rate.Limiter
	files       int64
	total       int64
	transferred atomic.Int64
}

func (c *copier) report() {
	if c.opts.Progress == nil {
		return
	}
	c.opts.Progress(Progress{
		NumberOfFiles:    c.files,
		TotalSize:        c.total,
		TotalTransferred: c.transferred.Load(),
		Transferring:     true,
	})
}

func (c *copier) copyFile(j job) error {
	if c.opts.Resume {
		if info, err := c.dst.Stat(j.dst); err == nil && info.Size() == j.size {
			c.transferred.Add(j.size)
			c.report()
			return nil
		}
	}

	in, err := c.src.Open(j.src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", j.src, err)
	}
	defer in.Close()

	out, err := c.dst.Create(j.dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", j.dst, err)
	}

	_, err = io.Copy(out, &reader{c: c, r: in})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to copy %s: %w", j.src, err)
	}
	return nil
}

// reader counts bytes, applies the rate limit and checks for cancellation on every read.
type reader struct {
	c *copier
	r io.Reader
}

func (r *reader) Read(p []byte) (int, error) {
	if err := r.c.ctx.Err(); err != nil {
		return 0, err
	}
	if l := r.c.limiter; l != nil && len(p) > l.Burst() {
		p = p[:l.Burst()]
	}
	n, err := r.r.Read(p)
	if n > 0 {
		if l := r.c.limiter; l != nil {
			if werr := l.WaitN(r.c.ctx, n); werr != nil {
				return n, werr
			}
		}
		r.c.transferred.Add(int64(n))
		r.c.report()
	}
	return n, err
}

func relative(root, p string) string {
	root = path.Clean(filepath.ToSlash(root))
	p = path.Clean(filepath.ToSlash(p))
	if p == root {
		return ""
	}
	return strings.TrimPrefix(strings.TrimPrefix(p, root), "/")
}
