package uploadkit

import (
	"strings"
	"time"

	"github.com/gobeaver/beaver-kit/config"
)

type Config struct {
	// Queue execution
	BatchSize             int  `env:"UPLOADKIT_BATCH_SIZE,default:3"`
	MaxRetries            int  `env:"UPLOADKIT_MAX_RETRIES,default:3"`
	BackoffBaseMs         int  `env:"UPLOADKIT_BACKOFF_BASE_MS,default:1000"`
	BackoffMaxMs          int  `env:"UPLOADKIT_BACKOFF_MAX_MS,default:10000"`
	TransferTimeoutSecond int  `env:"UPLOADKIT_TRANSFER_TIMEOUT_SECONDS,default:30"`
	AutoStart             bool `env:"UPLOADKIT_AUTO_START,default:true"`

	// Admission limits, 50MB per file and per batch
	MaxFileSize   int64 `env:"UPLOADKIT_MAX_FILE_SIZE,default:52428800"`
	MaxBatchBytes int64 `env:"UPLOADKIT_MAX_BATCH_BYTES,default:52428800"`
	MaxBatchFiles int   `env:"UPLOADKIT_MAX_BATCH_FILES,default:50"`

	// Per-user submission quota
	RateLimitPerHour int `env:"UPLOADKIT_RATE_LIMIT_PER_HOUR,default:100"`

	// Security validation
	AllowedMimeTypes      string `env:"UPLOADKIT_ALLOWED_MIME_TYPES"` // comma-separated, empty = built-in list
	AllowedExtensions     string `env:"UPLOADKIT_ALLOWED_EXTENSIONS"` // comma-separated, empty = built-in list
	ValidationConcurrency int    `env:"UPLOADKIT_VALIDATION_CONCURRENCY,default:4"`
	ScanWindowBytes       int64  `env:"UPLOADKIT_SCAN_WINDOW_BYTES,default:51200"`

	// How long completed and cancelled items stay visible; 0 keeps them
	// until ClearAll.
	RetentionSeconds int `env:"UPLOADKIT_RETENTION_SECONDS,default:300"`

	// Analysis backend
	Endpoint          string `env:"UPLOADKIT_ENDPOINT"`
	APIToken          string `env:"UPLOADKIT_API_TOKEN"`
	RequestsPerSecond int    `env:"UPLOADKIT_REQUESTS_PER_SECOND,default:0"`

	// Durable audit trail directory; empty disables it.
	AuditPath string `env:"UPLOADKIT_AUDIT_PATH"`
}

// GetConfig returns config loaded from environment
func GetConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns the built-in limits without reading the environment.
// Callers building a Config by hand should start from it: a zero Config
// disables retries and auto-start.
func DefaultConfig() Config {
	return Config{
		BatchSize:             3,
		MaxRetries:            3,
		BackoffBaseMs:         1000,
		BackoffMaxMs:          10000,
		TransferTimeoutSecond: 30,
		AutoStart:             true,
		MaxFileSize:           50 * 1024 * 1024,
		MaxBatchBytes:         50 * 1024 * 1024,
		MaxBatchFiles:         50,
		RateLimitPerHour:      100,
		ValidationConcurrency: 4,
		ScanWindowBytes:       50 * 1024,
		RetentionSeconds:      300,
	}
}

// withDefaults fills zero limits from DefaultConfig. MaxRetries,
// RetentionSeconds and AutoStart keep their zero values, which mean no
// retries, no expiry and manual start; negative values are clamped to zero.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBaseMs <= 0 {
		c.BackoffBaseMs = d.BackoffBaseMs
	}
	if c.BackoffMaxMs <= 0 {
		c.BackoffMaxMs = d.BackoffMaxMs
	}
	if c.TransferTimeoutSecond <= 0 {
		c.TransferTimeoutSecond = d.TransferTimeoutSecond
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = d.MaxFileSize
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = d.MaxBatchBytes
	}
	if c.MaxBatchFiles <= 0 {
		c.MaxBatchFiles = d.MaxBatchFiles
	}
	if c.RateLimitPerHour <= 0 {
		c.RateLimitPerHour = d.RateLimitPerHour
	}
	if c.ValidationConcurrency <= 0 {
		c.ValidationConcurrency = d.ValidationConcurrency
	}
	if c.ScanWindowBytes <= 0 {
		c.ScanWindowBytes = d.ScanWindowBytes
	}
	if c.RetentionSeconds < 0 {
		c.RetentionSeconds = 0
	}
	return c
}

// Backoff returns the delay before the retry that follows retryCount
// earlier retries: base·2^retryCount, capped at the maximum.
func (c Config) Backoff(retryCount int) time.Duration {
	ms := int64(c.BackoffBaseMs)
	for i := 0; i < retryCount && ms < int64(c.BackoffMaxMs); i++ {
		ms *= 2
	}
	ms = min(ms, int64(c.BackoffMaxMs))
	return time.Duration(ms) * time.Millisecond
}

// TransferTimeout returns the per-attempt deadline.
func (c Config) TransferTimeout() time.Duration {
	return time.Duration(c.TransferTimeoutSecond) * time.Second
}

// Retention returns how long finished items are kept.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionSeconds) * time.Second
}

// MimeTypeList splits AllowedMimeTypes, or returns nil when unset.
func (c Config) MimeTypeList() []string {
	return splitList(c.AllowedMimeTypes, false)
}

// ExtensionList splits AllowedExtensions, normalised to lower case with a
// leading dot, or returns nil when unset.
func (c Config) ExtensionList() []string {
	return splitList(c.AllowedExtensions, true)
}

func splitList(s string, ext bool) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if ext && !strings.HasPrefix(part, ".") {
			part = "." + part
		}
		out = append(out, part)
	}
	return out
}
