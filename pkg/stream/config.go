package stream

import "time"

// Config holds streamer settings.
type Config struct {
	// BufferSize is the controller receive buffer in bytes.
	BufferSize int
	// FlowControl enables character counting. Without it every queued
	// line is sent at once.
	FlowControl bool
	// MaxRetries bounds how often a line answered with error:<n> is
	// resent.
	MaxRetries int
	// QueueCapacity bounds the pending queue.
	QueueCapacity int
	// StatusInterval polls '?' while Run is active. Zero disables polling.
	StatusInterval time.Duration
	// EventBuffer is the event channel capacity.
	EventBuffer int
}

// DefaultConfig returns a 254 byte buffer, flow control on, no retries
// and room for 200 pending lines.
func DefaultConfig() Config {
	return Config{
		BufferSize:    254,
		FlowControl:   true,
		MaxRetries:    0,
		QueueCapacity: 200,
		EventBuffer:   256,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
}
