package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeCheck represents a completed compliance check
	EventTypeCheck EventType = "compliance_check"
	// EventTypeSensitiveData represents a sensitive-data scan event
	EventTypeSensitiveData EventType = "sensitive_data"
	// EventTypeRuleReload represents a completed rule load or reload
	EventTypeRuleReload EventType = "rule_reload"
	// EventTypeAIReview represents a finished AI review operation
	EventTypeAIReview EventType = "ai_review"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// CheckEvent reports one rule-based compliance check
type CheckEvent struct {
	RequestID    string  `json:"request_id"`
	Jurisdiction string  `json:"jurisdiction"`
	Compliant    bool    `json:"compliant"`
	Violations   int     `json:"violations"`
	AIReviewed   bool    `json:"ai_reviewed"`
	ProcessingMS float64 `json:"processing_ms"`
}

// SensitiveDataEvent reports one sensitive-data scan
type SensitiveDataEvent struct {
	RequestID    string   `json:"request_id"`
	Count        int      `json:"count"`
	Categories   []string `json:"categories"`
	Masked       bool     `json:"masked"`
	ProcessingMS float64  `json:"processing_ms"`
}

// RuleReloadEvent reports a completed rule load batch
type RuleReloadEvent struct {
	Source        string   `json:"source"`
	Applied       int      `json:"applied"`
	Skipped       int      `json:"skipped"`
	Jurisdictions []string `json:"jurisdictions"`
	FullReload    bool     `json:"full_reload"`
	DurationMS    float64  `json:"duration_ms"`
}

// AIReviewEvent reports a finished AI review operation
type AIReviewEvent struct {
	RequestID    string  `json:"request_id"`
	Operation    string  `json:"operation"`
	Outcome      string  `json:"outcome"` // "ok", "degraded", "error"
	Jurisdiction string  `json:"jurisdiction,omitempty"`
	DurationMS   float64 `json:"duration_ms"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter represents filtering options for events
type EventFilter struct {
	Jurisdictions []string `json:"jurisdictions,omitempty"`
	MinSeverity   string   `json:"min_severity,omitempty"`
}

// Client represents a WebSocket client connection
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
