package audit

import (
	"fmt"
	"time"
)

// Config holds the configuration for the interaction recorder.
type Config struct {
	// Concurrency is the number of writer goroutines draining the queue.
	// Default: 2
	Concurrency int

	// QueueSize bounds the number of entries waiting to be written. Record
	// drops entries once the queue is full.
	// Default: 256
	QueueSize int

	// WriteTimeout bounds a single entry write, including the attachment upload.
	// Default: 10 seconds
	WriteTimeout time.Duration

	// ShutdownTimeout is how long Stop waits for the queue to drain.
	// Default: 15 seconds
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Concurrency:     2,
		QueueSize:       256,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Concurrency > 100 {
		return fmt.Errorf("concurrency too high (max 100), got %d", c.Concurrency)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue size must be at least 1, got %d", c.QueueSize)
	}
	if c.WriteTimeout < 1*time.Second {
		return fmt.Errorf("write timeout must be at least 1 second, got %v", c.WriteTimeout)
	}
	if c.ShutdownTimeout < 1*time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	return nil
}
