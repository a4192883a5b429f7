package domain

import "time"

// EventKind classifies notification events emitted by the pipeline.
type EventKind string

const (
	EventSignalFound    EventKind = "signal_found"
	EventOrderFilled    EventKind = "order_filled"
	EventPositionClosed EventKind = "position_closed"
	EventPositionUpdate EventKind = "position_update"
	EventRiskTripped    EventKind = "risk_tripped"
	EventEmergencyStop  EventKind = "emergency_stop"
	EventNoTrade        EventKind = "no_trade"
)

// Event is a structured alert handed to the notification sink. Payload keys
// are flat and JSON-friendly; sinks format them however they like.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(kind EventKind, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{Kind: kind, Payload: payload, Timestamp: time.Now().UTC()}
}
