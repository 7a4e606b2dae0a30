// Package stream implements buffered G-code streaming to GRBL-class
// controllers: character-counting flow control, FIFO response
// correlation, bounded retries and real-time control.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package stream

import (
	"time"
)

// CommandState tracks a line through the streamer. An ok reply is the
// only acknowledgement GRBL gives, so it completes the line.
type CommandState int

const (
	Queued CommandState = iota
	Sent
	Completed
	Failed
)

func (s CommandState) String() string {
	switch s {
	case Queued:
		return "queued"
	case Sent:
		return "sent"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Command is one buffered line.
type Command struct {
	ID         uint64
	Line       string
	RetryCount int
	State      CommandState
	// Response is the last controller reply for this line.
	Response string
	Enqueued time.Time
	SentAt   time.Time
}

// Len is the wire length including the newline.
func (c *Command) Len() int { return len(c.Line) + 1 }

// CanRetry reports whether another error may be retried.
func (c *Command) CanRetry(maxRetries int) bool { return c.RetryCount < maxRetries }

// State is the streamer state.
type State int

const (
	Idle State = iota
	Streaming
	Paused
	Alarmed
	Resetting
)

var stateNames = [...]string{"idle", "streaming", "paused", "alarmed", "resetting"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
