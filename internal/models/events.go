package models

// StreamEvent is a message sent to conversion stream clients
type StreamEvent struct {
	EventType string      `json:"event_type"`
	Data      interface{} `json:"data"`
}

// Stream event types
const (
	EventTypeRunStarted = "run_started"
	EventTypeGenerating = "generating"
	EventTypeValidating = "validating"
	EventTypeAccepted   = "accepted"
	EventTypeFailed     = "failed"
	EventTypeResult     = "result"
	EventTypeError      = "error"
	EventTypeEnd        = "end"
)
