package websocket

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/raaihank/dq-sentinel/internal/analysis"
	"github.com/raaihank/dq-sentinel/internal/risk"
)

// EventType names the kind of message pushed to clients.
type EventType string

// Analysis events mirror analysis.EventType so Publish can pass them through.
const (
	EventTypeAnalysisStarted   = EventType(analysis.EventAnalysisStarted)
	EventTypeScanCompleted     = EventType(analysis.EventScanCompleted)
	EventTypeAnalysisCompleted = EventType(analysis.EventAnalysisCompleted)
	EventTypeAnalysisFailed    = EventType(analysis.EventAnalysisFailed)

	EventTypeSystemStatus EventType = "system_status"
	EventTypeConnection   EventType = "connection"
	EventTypePong         EventType = "pong"
)

// Event is the envelope written to every client.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	RunID     string    `json:"run_id,omitempty"`
}

// SystemStatusEvent is broadcast periodically by the service.
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalRules       int    `json:"total_rules"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent announces clients joining and leaving.
type ConnectionEvent struct {
	Action    string `json:"action"` // connected or disconnected
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage is a message read from a client: subscribe or ping.
type ClientMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// SubscriptionRequest selects event types and narrows them with a filter.
// An empty Events list means every type.
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter narrows analysis events. Each field only applies to events
// that carry the matching information.
type EventFilter struct {
	RunIDs     []string `json:"run_ids,omitempty"`
	Dimensions []string `json:"dimensions,omitempty"`
	// MinSeverity drops completed runs whose worst severity is below it.
	MinSeverity risk.Severity `json:"min_severity,omitempty"`
}

// Client is one upgraded connection. Conn is nil for clients attached in tests.
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}
