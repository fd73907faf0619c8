package chunkmgr

import "time"

// Config controls interest, the worker pool and retries.
type Config struct {
	InterestRadius int // horizontal radius R in chunks
	VerticalRadius int // vertical radius V in chunks
	Hysteresis     int // extra radius H before a chunk is unloaded

	Workers    int
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration

	TickInterval time.Duration

	// LODBands are ascending horizontal distances in chunks. A chunk gets the
	// index of the first band that reaches it, or len(LODBands) beyond the last.
	LODBands []int
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		InterestRadius: 8,
		VerticalRadius: 1,
		Hysteresis:     2,
		Workers:        4,
		QueueSize:      256,
		MaxRetries:     3,
		RetryDelay:     500 * time.Millisecond,
		TickInterval:   50 * time.Millisecond,
		LODBands:       []int{4, 6},
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.InterestRadius <= 0 {
		c.InterestRadius = d.InterestRadius
	}
	if c.VerticalRadius < 0 {
		c.VerticalRadius = 0
	}
	if c.Hysteresis < 0 {
		c.Hysteresis = 0
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	return c
}
