package models

import "time"

// EventType identifies a frame kind on the WS/SSE channel
type EventType string

const (
	// Job lifecycle frames
	EventProgress EventType = "progress"
	EventReady    EventType = "ready"
	EventClarify  EventType = "clarify"
	EventStopped  EventType = "stopped"
	EventError    EventType = "error"

	// Assistant stream frames
	EventMeta      EventType = "meta"
	EventMessage   EventType = "message"
	EventNarration EventType = "narration"
	EventDone      EventType = "done"
)

// EventChannel is the single logical channel all search frames share
const EventChannel = "search"

// Event is one framed message keyed by request id. Delivery is best-effort:
// publishers never block and never surface a publish failure to the pipeline.
type Event struct {
	Channel          string                 `json:"channel"`
	ContractsVersion string                 `json:"contractsVersion"`
	Type             EventType              `json:"type"`
	RequestID        string                 `json:"requestId"`
	Ts               time.Time              `json:"ts"`
	Stage            string                 `json:"stage,omitempty"`
	Data             map[string]interface{} `json:"data,omitempty"`
}

// NewEvent builds a frame with the channel, contract version, and timestamp
// filled in.
func NewEvent(eventType EventType, requestID, stage string, data map[string]interface{}) *Event {
	return &Event{
		Channel:          EventChannel,
		ContractsVersion: ContractsVersion,
		Type:             eventType,
		RequestID:        requestID,
		Ts:               time.Now(),
		Stage:            stage,
		Data:             data,
	}
}

// IsTerminal reports whether the frame announces a terminal job state
func (e *Event) IsTerminal() bool {
	switch e.Type {
	case EventReady, EventClarify, EventStopped, EventError:
		return true
	}
	return false
}
