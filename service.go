package uploadkit

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gobeaver/beaver-kit/config"
)

// Global instance
var (
	defaultManager *Manager
	defaultOnce    sync.Once
	defaultErr     error
)

// Builder creates managers from environment variables under a custom prefix
type Builder struct {
	prefix string
	opts   []Option
}

// WithPrefix creates a new Builder with the specified prefix
func WithPrefix(prefix string) *Builder {
	return &Builder{prefix: prefix}
}

// Options adds manager options to every manager the builder creates.
func (b *Builder) Options(opts ...Option) *Builder {
	b.opts = append(b.opts, opts...)
	return b
}

// Init initializes the global Manager using the builder's prefix
func (b *Builder) Init() error {
	cfg := &Config{}
	if err := config.Load(cfg, config.LoadOptions{Prefix: b.prefix}); err != nil {
		return err
	}
	return Init(cfg, b.opts...)
}

// New creates a new Manager using the builder's prefix
func (b *Builder) New() (*Manager, error) {
	cfg := &Config{}
	if err := config.Load(cfg, config.LoadOptions{Prefix: b.prefix}); err != nil {
		return nil, err
	}
	return newChecked(*cfg, b.opts...)
}

// Init initializes the global manager from cfg, or from the environment
// when cfg is nil. Only the first call has an effect until Reset.
func Init(cfg *Config, opts ...Option) error {
	defaultOnce.Do(func() {
		if cfg == nil {
			cfg, defaultErr = GetConfig()
			if defaultErr != nil {
				return
			}
		}
		defaultManager, defaultErr = newChecked(*cfg, opts...)
	})
	return defaultErr
}

func newChecked(cfg Config, opts ...Option) (*Manager, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return New(cfg, opts...)
}

// validateConfig refuses settings that withDefaults would otherwise
// silently replace.
func validateConfig(cfg Config) error {
	var errs []error
	if cfg.BatchSize < 0 {
		errs = append(errs, errors.New("batch size must not be negative"))
	}
	if cfg.BackoffMaxMs > 0 && cfg.BackoffBaseMs > cfg.BackoffMaxMs {
		errs = append(errs, fmt.Errorf("backoff base %dms exceeds maximum %dms", cfg.BackoffBaseMs, cfg.BackoffMaxMs))
	}
	if cfg.MaxFileSize > 0 && cfg.MaxBatchBytes > 0 && cfg.MaxFileSize > cfg.MaxBatchBytes {
		errs = append(errs, errors.New("max file size exceeds max batch bytes"))
	}
	if cfg.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("requests per second must not be negative"))
	}
	return errors.Join(errs...)
}

// Default returns the global manager, initializing it from the environment
// if needed
func Default() (*Manager, error) {
	if err := Init(nil); err != nil {
		return nil, err
	}
	return defaultManager, nil
}

// NewFromEnv creates a manager from environment variables (convenience constructor)
func NewFromEnv(opts ...Option) (*Manager, error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, err
	}
	return newChecked(*cfg, opts...)
}

// InitFromEnv initializes the global manager from environment variables (convenience method)
func InitFromEnv(opts ...Option) error {
	return Init(nil, opts...)
}

// Reset closes and clears the global manager (for testing)
func Reset() {
	if defaultManager != nil {
		_ = defaultManager.Close()
	}
	defaultManager = nil
	defaultOnce = sync.Once{}
	defaultErr = nil
}
