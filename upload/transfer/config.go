package transfer

import (
	"runtime"
	"time"
)

// Config holds the engine's scheduling and retry parameters.
type Config struct {
	// Concurrency is the maximum number of chunk transfers in flight.
	// 1 yields strictly sequential, deterministic progress reporting.
	Concurrency int

	// MaxRetries is the per-chunk retry cap beyond the first attempt, so a
	// chunk is tried at most MaxRetries+1 times. All failures are retried
	// identically; the policy does not distinguish transient from permanent.
	MaxRetries int

	// RetryDelay is an optional pause between attempts of the same chunk.
	RetryDelay time.Duration
}

// DefaultConfig returns the default engine configuration: sequential
// transfers with 3 retries per chunk.
func DefaultConfig() Config {
	return Config{
		Concurrency: 1,
		MaxRetries:  3,
		RetryDelay:  0,
	}
}

// DefaultConcurrency suggests an in-flight bound for throughput-oriented
// uploads, based on CPU count: min(NumCPU * 3, 20), at least 2.
func DefaultConcurrency() int {
	c := runtime.NumCPU() * 3
	if c > 20 {
		c = 20
	}
	if c < 2 {
		c = 2
	}
	return c
}

func (c Config) normalized() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}
