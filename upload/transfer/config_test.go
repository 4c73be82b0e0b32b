package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Zero(t, cfg.RetryDelay)
}

func TestDefaultConcurrency(t *testing.T) {
	c := DefaultConcurrency()
	assert.GreaterOrEqual(t, c, 2)
	assert.LessOrEqual(t, c, 20)
}

func TestConfig_Normalized(t *testing.T) {
	cfg := Config{Concurrency: 0, MaxRetries: -1}.normalized()
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Zero(t, cfg.MaxRetries)
}
