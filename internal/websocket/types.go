package websocket

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/raaihank/pdf-redactor/internal/redactor"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypePageProcessed is sent after each page of a run
	EventTypePageProcessed EventType = "page_processed"
	// EventTypeRunCompleted is sent when a run produced its output
	EventTypeRunCompleted EventType = "run_completed"
	// EventTypeRunFailed is sent when a run aborted
	EventTypeRunFailed EventType = "run_failed"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// PageProcessedEvent reports progress of a run
type PageProcessedEvent struct {
	Filename string `json:"filename"`
	redactor.PageProgress
}

// RunCompletedEvent carries the statistics of a finished run
type RunCompletedEvent struct {
	Filename   string              `json:"filename"`
	Statistics redactor.Statistics `json:"statistics"`
	CacheHit   bool                `json:"cache_hit"`
	DurationMS float64             `json:"duration_ms"`
}

// RunFailedEvent describes an aborted run
type RunFailedEvent struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
	Error    string `json:"error"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SubscriptionRequest narrows the events a client receives. Empty fields match everything.
type SubscriptionRequest struct {
	Events     []EventType `json:"events"`
	RequestIDs []string    `json:"request_ids,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	IP           string
	UserAgent    string
}
