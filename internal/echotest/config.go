package echotest

import (
	"fmt"
	"time"
)

const (
	// DefaultResponseTimeout bounds the wait for one echo response.
	DefaultResponseTimeout = 5 * time.Second

	// DefaultRRNPrefix is prepended to the trace number to build field 37.
	DefaultRRNPrefix = "513200"

	rrnPrefixLen = 6
)

// Config represents an echo test configuration
type Config struct {
	Target          string // host:port, recorded with the run
	Iterations      int
	Workers         int
	PoolSize        int // recorded with the run; the pool itself is built by the caller
	ResponseTimeout time.Duration
	Delay           time.Duration // pause between iterations of one worker
	RRNPrefix       string
}

// Run represents an echo test run record
type Run struct {
	ID                int64
	Target            string
	Iterations        int
	Workers           int
	PoolSize          int
	ResponseTimeoutMs int64
	DelayMs           int64
	StartedAt         time.Time
	CompletedAt       *time.Time
	Status            string // "running", "completed", "cancelled", "failed"
	TotalCompleted    int
	TotalSuccess      int
	TotalErrors       int
	AvgResponseMs     float64
	MinResponseMs     float64
	MaxResponseMs     float64
	P50ResponseMs     float64
	P95ResponseMs     float64
	P99ResponseMs     float64
	PoolTransactions  int64
}

// Run statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Validate validates the echo test configuration
func (c *Config) Validate() error {
	if c.Iterations <= 0 {
		return fmt.Errorf("iterations must be greater than 0")
	}
	if c.Iterations > 10000000 {
		return fmt.Errorf("iterations cannot exceed 10,000,000")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be greater than 0")
	}
	if c.Workers > 10000 {
		return fmt.Errorf("workers cannot exceed 10000")
	}
	if c.ResponseTimeout < 0 {
		return fmt.Errorf("response timeout cannot be negative")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RRNPrefix != "" {
		if len(c.RRNPrefix) != rrnPrefixLen {
			return fmt.Errorf("rrn prefix must be %d characters, got %q", rrnPrefixLen, c.RRNPrefix)
		}
		for i := 0; i < len(c.RRNPrefix); i++ {
			if c.RRNPrefix[i] < '0' || c.RRNPrefix[i] > '9' {
				return fmt.Errorf("rrn prefix must be numeric, got %q", c.RRNPrefix)
			}
		}
	}
	return nil
}

// GetResponseTimeout returns the response timeout, falling back to the default
func (c *Config) GetResponseTimeout() time.Duration {
	if c.ResponseTimeout == 0 {
		return DefaultResponseTimeout
	}
	return c.ResponseTimeout
}

// GetRRNPrefix returns the RRN prefix, falling back to the default
func (c *Config) GetRRNPrefix() string {
	if c.RRNPrefix == "" {
		return DefaultRRNPrefix
	}
	return c.RRNPrefix
}

// IsRunning returns true if the run is currently in progress
func (r *Run) IsRunning() bool {
	return r.Status == StatusRunning
}

// IsCompleted returns true if the run has finished
func (r *Run) IsCompleted() bool {
	return r.Status == StatusCompleted || r.Status == StatusCancelled || r.Status == StatusFailed
}
