package upload

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/docker/go-units"

	"github.com/freaghill/hangjegyzet-sub008/upload/session"
	"github.com/freaghill/hangjegyzet-sub008/upload/transfer"
)

// Config holds the tunables of the upload manager.
type Config struct {
	// ChunkSize is the fixed chunk size in bytes.
	ChunkSize int64

	// Concurrency is the maximum number of chunks in flight at once.
	Concurrency int

	// MaxRetries is the number of retries per chunk after the first attempt.
	MaxRetries int

	// RetryDelay is the wait between chunk retry attempts.
	RetryDelay time.Duration

	// SessionTTL is how long an interrupted session stays resumable.
	SessionTTL time.Duration

	// MaxFileSize rejects files larger than this many bytes. Zero disables it.
	MaxFileSize int64

	// AllowedPatterns is a file name allow-list in glob syntax. Empty allows all.
	AllowedPatterns []string

	// LeaseDir is where per-session lock files live.
	LeaseDir string

	// Verbose enables debug logging.
	Verbose bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:   session.DefaultChunkSize,
		Concurrency: transfer.DefaultConcurrency(),
		MaxRetries:  3,
		SessionTTL:  session.DefaultTTL,
		LeaseDir:    filepath.Join(os.TempDir(), "hangjegyzet-upload-leases"),
	}
}

// ConfigFromEnv builds a Config from HANGJEGYZET_UPLOAD_* environment
// variables, falling back to the defaults for unset values. Sizes accept
// human notation ("5MB", "512KB"), durations accept Go syntax ("2s").
func ConfigFromEnv(envRepo env.Repository) (Config, error) {
	cfg := DefaultConfig()

	if value := envRepo.Get("HANGJEGYZET_UPLOAD_CHUNK_SIZE"); value != "" {
		size, err := units.RAMInBytes(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse HANGJEGYZET_UPLOAD_CHUNK_SIZE: %w", err)
		}
		cfg.ChunkSize = size
	}
	if value := envRepo.Get("HANGJEGYZET_UPLOAD_MAX_FILE_SIZE"); value != "" {
		size, err := units.RAMInBytes(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse HANGJEGYZET_UPLOAD_MAX_FILE_SIZE: %w", err)
		}
		cfg.MaxFileSize = size
	}
	if value := envRepo.Get("HANGJEGYZET_UPLOAD_CONCURRENCY"); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse HANGJEGYZET_UPLOAD_CONCURRENCY: %w", err)
		}
		cfg.Concurrency = n
	}
	if value := envRepo.Get("HANGJEGYZET_UPLOAD_MAX_RETRIES"); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse HANGJEGYZET_UPLOAD_MAX_RETRIES: %w", err)
		}
		cfg.MaxRetries = n
	}
	if value := envRepo.Get("HANGJEGYZET_UPLOAD_RETRY_DELAY"); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse HANGJEGYZET_UPLOAD_RETRY_DELAY: %w", err)
		}
		cfg.RetryDelay = d
	}
	if value := envRepo.Get("HANGJEGYZET_UPLOAD_SESSION_TTL"); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse HANGJEGYZET_UPLOAD_SESSION_TTL: %w", err)
		}
		cfg.SessionTTL = d
	}
	if value := envRepo.Get("HANGJEGYZET_UPLOAD_ALLOWED_PATTERNS"); value != "" {
		for _, pattern := range strings.Split(value, ",") {
			if pattern = strings.TrimSpace(pattern); pattern != "" {
				cfg.AllowedPatterns = append(cfg.AllowedPatterns, pattern)
			}
		}
	}
	if value := envRepo.Get("HANGJEGYZET_UPLOAD_LEASE_DIR"); value != "" {
		cfg.LeaseDir = value
	}
	cfg.Verbose = envRepo.Get("HANGJEGYZET_UPLOAD_VERBOSE") == "true"

	return cfg, nil
}

func (c Config) transferConfig() transfer.Config {
	return transfer.Config{
		Concurrency: c.Concurrency,
		MaxRetries:  c.MaxRetries,
		RetryDelay:  c.RetryDelay,
	}
}
