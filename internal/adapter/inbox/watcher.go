// Package inbox turns files dropped into a directory into queue jobs.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/bnema/webmclip/internal/infrastructure/logger"
	"github.com/bnema/webmclip/internal/infrastructure/metrics"
	"github.com/bnema/webmclip/internal/port"
)

type Options struct {
	Dir string
	// Accepts filters by name, usually Policy.Accepts.
	Accepts func(path string) bool
	// Check inspects the file contents before it is queued. Nil skips it.
	Check func(path string) (string, error)
	// SettleDelay is how long a file must keep the same size before it is
	// considered fully written.
	SettleDelay  time.Duration
	PollInterval time.Duration
	// ScanExisting queues files already present when Run starts.
	ScanExisting bool
}

type candidate struct {
	size    int64
	changed time.Time
}

type Watcher struct {
	queue   port.JobQueue
	opts    Options
	pending map[string]*candidate
	now     func() time.Time
	log     zerolog.Logger
}

func New(queue port.JobQueue, opts Options) (*Watcher, error) {
	if opts.Dir == "" {
		return nil, errors.New("inbox: directory is required")
	}
	if opts.Accepts == nil {
		return nil, errors.New("inbox: extension filter is required")
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("inbox: %w", err)
	}
	opts.Dir = dir
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 2 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &Watcher{
		queue:   queue,
		opts:    opts,
		pending: make(map[string]*candidate),
		now:     time.Now,
		log:     logger.WithComponent("inbox").With().Str("dir", logger.SanitizePath(dir)).Logger(),
	}, nil
}

// Run watches the directory until ctx is cancelled. Only the top level is
// watched; subdirectories are ignored.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close() //nolint:errcheck

	if err := fw.Add(w.opts.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.opts.Dir, err)
	}
	if w.opts.ScanExisting {
		w.scan()
	}
	w.log.Info().Msg("inbox watcher started")

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(w.pending)).Msg("inbox watcher stopped")
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error().Err(err).Msg("file watcher error")
		case <-ticker.C:
			w.settle()
		}
	}
}

func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		w.log.Error().Err(err).Msg("failed to list inbox")
		return
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			w.note(filepath.Join(w.opts.Dir, e.Name()))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		delete(w.pending, ev.Name)
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		w.note(ev.Name)
	}
}

// note starts or restarts the settle timer for path.
func (w *Watcher) note(path string) {
	if strings.HasPrefix(filepath.Base(path), ".") || !w.opts.Accepts(path) {
		return
	}
	if c, ok := w.pending[path]; ok {
		c.changed = w.now()
		return
	}
	w.pending[path] = &candidate{size: -1, changed: w.now()}
}

// settle queues every pending file whose size held still for SettleDelay.
func (w *Watcher) settle() {
	now := w.now()
	for path, c := range w.pending {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			delete(w.pending, path)
			continue
		}
		if info.Size() != c.size {
			c.size = info.Size()
			c.changed = now
			continue
		}
		if now.Sub(c.changed) < w.opts.SettleDelay {
			continue
		}
		delete(w.pending, path)
		w.submit(path)
	}
}

func (w *Watcher) submit(path string) {
	log := w.log.With().Str("file", logger.SanitizePath(filepath.Base(path))).Logger()

	if w.opts.Check != nil {
		if _, err := w.opts.Check(path); err != nil {
			log.Warn().Err(err).Msg("inbox file rejected")
			metrics.InboxFilesTotal.WithLabelValues("rejected").Inc()
			return
		}
	}

	job, err := w.queue.Enqueue(path)
	if err != nil {
		log.Error().Err(err).Msg("failed to enqueue inbox file")
		metrics.InboxFilesTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.InboxFilesTotal.WithLabelValues("enqueued").Inc()
	log.Info().Int64("job", job.ID).Msg("inbox file queued")
}
