// Package events defines the event types published by the RCON server and
// the bus that carries them to observers such as telemetry.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Connection lifecycle
	EventConnectionAccepted EventType = "connection_accepted"
	EventConnectionRejected EventType = "connection_rejected"
	EventConnectionClosed   EventType = "connection_closed"
	EventClientKicked       EventType = "client_kicked"

	// Authentication
	EventAuthSucceeded EventType = "auth_succeeded"
	EventAuthFailed    EventType = "auth_failed"

	// Commands
	EventCommandExecuted EventType = "command_executed"

	// Health
	EventStatsReported EventType = "stats_reported"
	EventHostLoadHigh  EventType = "host_load_high"

	// System
	EventListenerStarted EventType = "listener_started"
	EventShutdown        EventType = "shutdown"
)

// AllEventTypes lists every event type, for subscribers that want all of them.
var AllEventTypes = []EventType{
	EventConnectionAccepted,
	EventConnectionRejected,
	EventConnectionClosed,
	EventClientKicked,
	EventAuthSucceeded,
	EventAuthFailed,
	EventCommandExecuted,
	EventStatsReported,
	EventHostLoadHigh,
	EventListenerStarted,
	EventShutdown,
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Time    time.Time
	Payload interface{}
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, source string, payload interface{}) Event {
	return Event{Type: t, Source: source, Time: time.Now(), Payload: payload}
}

// ConnectionPayload describes a connection accepted, rejected or closed.
type ConnectionPayload struct {
	ConnectionID string `json:"connection_id,omitempty"`
	RemoteAddr   string `json:"remote_addr"`
	Reason       string `json:"reason,omitempty"`
}

// AuthPayload carries the outcome of one authentication attempt.
type AuthPayload struct {
	ConnectionID string `json:"connection_id"`
	RemoteAddr   string `json:"remote_addr"`
	RequestID    int32  `json:"request_id"`
	Tries        uint   `json:"tries"`
}

// CommandPayload describes an executed command. Output is truncated by the
// emitter to keep telemetry messages small.
type CommandPayload struct {
	ConnectionID string        `json:"connection_id"`
	RemoteAddr   string        `json:"remote_addr"`
	RequestID    int32         `json:"request_id"`
	Command      string        `json:"command"`
	Known        bool          `json:"known"`
	Output       string        `json:"output"`
	Duration     time.Duration `json:"duration_ns"`
}

// KickPayload describes a connection closed because of a protocol violation.
type KickPayload struct {
	ConnectionID string `json:"connection_id"`
	RemoteAddr   string `json:"remote_addr"`
	Reason       string `json:"reason"`
}

// ListenerPayload is emitted once the listener socket is bound.
type ListenerPayload struct {
	Addr string `json:"addr"`
}

// StatsPayload is the periodic snapshot of connection and host load.
type StatsPayload struct {
	Connections   int     `json:"connections"`
	Authenticated int     `json:"authenticated"`
	Goroutines    int     `json:"goroutines"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemPercent    float64 `json:"mem_percent"`
	ProcessRSSMB  uint64  `json:"process_rss_mb"`
}

// LoadPayload reports a host resource above its warning threshold.
type LoadPayload struct {
	Resource  string  `json:"resource"`
	Percent   float64 `json:"percent"`
	Threshold float64 `json:"threshold"`
}
