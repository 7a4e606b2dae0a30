package stream

import "cnc-cam-core/pkg/grbl"

// EventType classifies streamer events.
type EventType int

const (
	EventCompleted EventType = iota
	EventRetry
	EventFailed
	EventAlarm
	EventStatus
	EventMessage
	EventStateChange
	EventError
)

var eventNames = [...]string{"completed", "retry", "failed", "alarm", "status", "message", "state", "error"}

func (t EventType) String() string {
	if int(t) < len(eventNames) {
		return eventNames[t]
	}
	return "unknown"
}

// Event is delivered on the streamer's event channel.
type Event struct {
	Type EventType
	// Command is a snapshot of the line the event is about.
	Command *Command
	// Response is the controller reply that caused the event.
	Response grbl.Response
	State    State
	Err      error
}
