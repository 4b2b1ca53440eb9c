// Package diagnostics uploads screenshots and the recent log of a failed task
// so the failure can be inspected after the browsers are gone.
package diagnostics

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pharma-cart/internal/distributor"
)

const timestampLayout = "2006.01.02_15.04.05"

// Uploader stores a blob and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, container, name string, data []byte) (string, error)
}

// Source is an adapter whose screens can be captured.
type Source interface {
	Name() string
	Diagnostics() *distributor.Ring
	Screenshot(ctx context.Context) ([]byte, error)
}

// Options configures a Capturer.
type Options struct {
	ImageContainer string
	LogContainer   string
	Concurrency    int
}

// Capturer uploads diagnostics for a failed task.
type Capturer struct {
	blobs Uploader
	tail  *LogTail
	opts  Options
	now   func() time.Time
}

// NewCapturer returns a Capturer. tail may be nil when no log is kept.
func NewCapturer(blobs Uploader, tail *LogTail, opts Options) *Capturer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Capturer{blobs: blobs, tail: tail, opts: opts, now: time.Now}
}

type upload struct {
	name string
	data []byte
}

// Capture uploads each source's buffered screenshots, most recent first,
// followed by one live screenshot. URLs are returned in that order; failed
// uploads are logged and left out.
func (c *Capturer) Capture(ctx context.Context, sources []Source) []string {
	ts := c.now().Format(timestampLayout)

	var jobs []upload
	for _, src := range sources {
		for i, img := range src.Diagnostics().Drain() {
			jobs = append(jobs, upload{
				name: fmt.Sprintf("%s_%s_recent%d.png", ts, src.Name(), i+1),
				data: img,
			})
		}
		img, err := src.Screenshot(ctx)
		if err != nil {
			zap.L().Warn("diagnostics: final screenshot failed", zap.String("adapter", src.Name()), zap.Error(err))
			continue
		}
		jobs = append(jobs, upload{name: fmt.Sprintf("%s_%s_final.png", ts, src.Name()), data: img})
	}

	return c.uploadAll(ctx, c.opts.ImageContainer, jobs)
}

// Finals uploads one live screenshot per source.
func (c *Capturer) Finals(ctx context.Context, sources []Source) []string {
	ts := c.now().Format(timestampLayout)
	var jobs []upload
	for _, src := range sources {
		img, err := src.Screenshot(ctx)
		if err != nil {
			zap.L().Warn("diagnostics: final screenshot failed", zap.String("adapter", src.Name()), zap.Error(err))
			continue
		}
		jobs = append(jobs, upload{name: fmt.Sprintf("%s_%s_final.png", ts, src.Name()), data: img})
	}
	return c.uploadAll(ctx, c.opts.ImageContainer, jobs)
}

// Reset clears the log tail so the next upload covers a single task.
func (c *Capturer) Reset() {
	if c.tail != nil {
		c.tail.Reset()
	}
}

// UploadLog stores the log tail as {timestamp}_{source}.log.
func (c *Capturer) UploadLog(ctx context.Context, source string) (string, error) {
	if c.tail == nil {
		return "", nil
	}
	data := c.tail.Bytes()
	if len(data) == 0 {
		return "", nil
	}
	name := fmt.Sprintf("%s_%s.log", c.now().Format(timestampLayout), source)
	url, err := c.blobs.Upload(ctx, c.opts.LogContainer, name, data)
	if err != nil {
		return "", eris.Wrap(err, "diagnostics: upload log")
	}
	return url, nil
}

func (c *Capturer) uploadAll(ctx context.Context, container string, jobs []upload) []string {
	slots := make([]string, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			url, err := c.blobs.Upload(gctx, container, job.name, job.data)
			if err != nil {
				zap.L().Warn("diagnostics: upload failed", zap.String("name", job.name), zap.Error(err))
				return nil
			}
			slots[i] = url
			return nil
		})
	}
	_ = g.Wait()

	urls := make([]string, 0, len(slots))
	for _, u := range slots {
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}
