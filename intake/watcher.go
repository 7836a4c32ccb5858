package intake

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobeaver/uploadkit"
)

// DefaultSettle is how long a file must stay unchanged before it is
// submitted.
const DefaultSettle = 500 * time.Millisecond

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithPatterns restricts the watched files.
func WithPatterns(patterns ...string) WatcherOption {
	return func(w *Watcher) {
		w.patterns = patterns
	}
}

// WithSettle sets the quiet period before submission.
func WithSettle(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// OnSubmit is called after each submission with the file path and the
// Submit outcome.
func OnSubmit(fn func(path string, report *uploadkit.BatchReport, err error)) WatcherOption {
	return func(w *Watcher) {
		w.onSubmit = fn
	}
}

// Watcher submits files created in a hot folder. Subdirectories are not
// watched.
type Watcher struct {
	dir       string
	submitter Submitter
	cc        uploadkit.CaseContext
	patterns  []string
	matcher   *Matcher
	settle    time.Duration
	logger    *slog.Logger
	onSubmit  func(string, *uploadkit.BatchReport, error)
}

// NewWatcher creates a watcher over dir that submits with cc.
func NewWatcher(dir string, sub Submitter, cc uploadkit.CaseContext, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		dir:       dir,
		submitter: sub,
		cc:        cc,
		settle:    DefaultSettle,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	m, err := NewMatcher(w.patterns...)
	if err != nil {
		return nil, err
	}
	w.matcher = m
	w.logger = w.logger.With(slog.String("component", "hot_folder"), slog.String("dir", dir))
	return w, nil
}

// Run watches until ctx is done. Files already present are ignored; each
// new or rewritten file is submitted once it settled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching hot folder")

	ready := make(chan string)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !w.matcher.Match(filepath.Base(ev.Name)) {
				continue
			}
			path := ev.Name
			if t, ok := timers[path]; ok {
				t.Reset(w.settle)
				continue
			}
			timers[path] = time.AfterFunc(w.settle, func() {
				select {
				case ready <- path:
				case <-ctx.Done():
				}
			})

		case path := <-ready:
			// A timer reset after it fired delivers twice.
			if _, ok := timers[path]; !ok {
				continue
			}
			delete(timers, path)
			w.submit(ctx, path)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) submit(ctx context.Context, path string) {
	f, err := Open(path)
	if err != nil {
		w.logger.Debug("skipping path", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	files := []uploadkit.File{f}
	report, err := w.submitter.Submit(ctx, files, w.cc)
	closeRefused(files, report)

	if err != nil {
		w.logger.Warn("hot folder submission failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	} else {
		w.logger.Info("hot folder file submitted",
			slog.String("path", path),
			slog.Int("admitted", len(report.Admitted)))
	}
	if w.onSubmit != nil {
		w.onSubmit(path, report, err)
	}
}
