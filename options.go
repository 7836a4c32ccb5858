package uploadkit

import (
	"context"
	"log/slog"
	"time"

	"github.com/gobeaver/uploadkit/audit"
	"github.com/gobeaver/uploadkit/backend"
	"github.com/gobeaver/uploadkit/filevalidator"
	"github.com/gobeaver/uploadkit/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
)

// Uploader transfers one file to the analysis backend. *backend.Client
// implements it.
type Uploader interface {
	Upload(ctx context.Context, req backend.Request, progress backend.ProgressFunc) (*backend.Document, error)
}

// Validator produces a security verdict for a file.
// *filevalidator.SecurityValidator implements it.
type Validator interface {
	Validate(ctx context.Context, f filevalidator.File) *filevalidator.Verdict
}

// Timer is a pending backoff wake-up.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it once wrapped.
type AfterFunc func(d time.Duration, f func()) Timer

// Option represents a configuration option
type Option func(*Options)

// Options contains the collaborators of a Manager. Every field has a
// default, so New works with no options at all.
type Options struct {
	// Logger receives lifecycle logs
	Logger *slog.Logger

	// Recorder receives audit events for the queue and for validation
	Recorder audit.Recorder

	// Limiter enforces the hourly per-user submission quota
	Limiter *ratelimit.Limiter

	// Validator runs the security pipeline in Submit
	Validator Validator

	// Uploader performs transfers
	Uploader Uploader

	// Now is the clock
	Now func() time.Time

	// AfterFunc schedules retry wake-ups
	AfterFunc AfterFunc

	// Registerer receives the queue metrics; nil leaves them unregistered
	Registerer prometheus.Registerer

	// OnItemComplete is called after each successful transfer
	OnItemComplete func(Item)

	// OnBatchComplete is called once when a run has no pending items left
	OnBatchComplete func(BatchSummary)
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithRecorder sets the audit recorder
func WithRecorder(r audit.Recorder) Option {
	return func(o *Options) {
		o.Recorder = r
	}
}

// WithLimiter shares a limiter between managers or lets tests inspect it
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(o *Options) {
		o.Limiter = l
	}
}

// WithValidator replaces the security validator built from Config
func WithValidator(v Validator) Option {
	return func(o *Options) {
		o.Validator = v
	}
}

// WithUploader sets the transfer implementation. Without it New builds a
// backend.Client from Config.Endpoint.
func WithUploader(u Uploader) Option {
	return func(o *Options) {
		o.Uploader = u
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}

// WithAfterFunc sets the retry scheduler
func WithAfterFunc(f AfterFunc) Option {
	return func(o *Options) {
		o.AfterFunc = f
	}
}

// WithRegisterer registers the queue metrics on reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *Options) {
		o.Registerer = reg
	}
}

// OnItemComplete sets the per-item completion callback. It runs outside the
// manager lock and may call back into the manager.
func OnItemComplete(fn func(Item)) Option {
	return func(o *Options) {
		o.OnItemComplete = fn
	}
}

// OnBatchComplete sets the run completion callback
func OnBatchComplete(fn func(BatchSummary)) Option {
	return func(o *Options) {
		o.OnBatchComplete = fn
	}
}

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
