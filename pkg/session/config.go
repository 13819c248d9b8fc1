package session

import (
	"fmt"
	"time"
)

// Config holds session subsystem configuration.
type Config struct {
	// MaxMessages is the capacity of the active message log.
	MaxMessages int `yaml:"max_messages"`

	// CompressionThreshold is how many of the oldest messages one
	// compaction pass absorbs. Must be positive and below MaxMessages.
	CompressionThreshold int `yaml:"compression_threshold"`

	// RecentWindow is how many recent messages the assembler offers.
	RecentWindow int `yaml:"recent_window"`

	// TopMoments is the default limit for the key-moment projection.
	TopMoments int `yaml:"top_moments"`

	// MaxRetries bounds retry attempts for transient persistence errors.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the initial delay between retries; it doubles
	// per attempt.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// DefaultConfig returns the default session configuration: a 200-message
// window compacted in blocks of 50.
func DefaultConfig() Config {
	return Config{
		MaxMessages:          200,
		CompressionThreshold: 50,
		RecentWindow:         50,
		TopMoments:           10,
		MaxRetries:           3,
		RetryBackoff:         50 * time.Millisecond,
	}
}

// Validate rejects configurations that would break the log invariant.
// Validation failures are fatal at construction time, never at runtime.
func (c Config) Validate() error {
	if c.MaxMessages <= 0 {
		return fmt.Errorf("%w: max_messages must be positive, got %d", ErrInvalidConfig, c.MaxMessages)
	}
	if c.CompressionThreshold <= 0 {
		return fmt.Errorf("%w: compression_threshold must be positive, got %d", ErrInvalidConfig, c.CompressionThreshold)
	}
	if c.CompressionThreshold >= c.MaxMessages {
		return fmt.Errorf("%w: compression_threshold %d must be below max_messages %d",
			ErrInvalidConfig, c.CompressionThreshold, c.MaxMessages)
	}
	if c.RecentWindow <= 0 {
		return fmt.Errorf("%w: recent_window must be positive, got %d", ErrInvalidConfig, c.RecentWindow)
	}
	if c.TopMoments <= 0 {
		return fmt.Errorf("%w: top_moments must be positive, got %d", ErrInvalidConfig, c.TopMoments)
	}
	return nil
}
