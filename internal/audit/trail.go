package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raaihank/compliance-sentinel/internal/logger"
)

// Audit event types emitted by the pipeline.
const (
	EventRuleLoad   = "rule_load"
	EventRuleToggle = "rule_toggle"
	EventCheck      = "compliance_check"
	EventScan       = "sensitive_data_scan"
	EventAIReview   = "ai_review"
	EventCacheFlush = "cache_flush"
)

// Event is one audit record. Count carries the event-specific tally:
// rules applied, violations found, or sensitive items detected.
type Event struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Jurisdiction string    `json:"jurisdiction,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	Count        int       `json:"count"`
	Timestamp    time.Time `json:"timestamp"`
}

// Trail records audit events to the log and keeps a bounded in-memory
// ring of recent events for the admin API and scheduled exports. Once
// the ring is full the oldest events are overwritten.
type Trail struct {
	logger *zap.Logger

	mu    sync.Mutex
	ring  []Event
	next  int
	count int
	total uint64
}

func NewTrail(ringSize int, log *logger.Logger) *Trail {
	if ringSize <= 0 {
		ringSize = 1000
	}
	return &Trail{
		logger: log.WithComponent("audit").Logger,
		ring:   make([]Event, ringSize),
	}
}

// Record stores the event and writes it to the audit log. Missing ID
// and timestamp fields are filled in.
func (t *Trail) Record(event Event) Event {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	t.mu.Lock()
	t.ring[t.next] = event
	t.next = (t.next + 1) % len(t.ring)
	if t.count < len(t.ring) {
		t.count++
	}
	t.total++
	t.mu.Unlock()

	t.logger.Info("Audit event",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("jurisdiction", event.Jurisdiction),
		zap.Int("count", event.Count),
		zap.String("detail", event.Detail),
		zap.Time("timestamp", event.Timestamp))
	return event
}

// Recent returns up to n buffered events, newest first.
func (t *Trail) Recent(n int) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 || n > t.count {
		n = t.count
	}
	events := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (t.next - i + len(t.ring)) % len(t.ring)
		events = append(events, t.ring[idx])
	}
	return events
}

// Total reports how many events were recorded since startup, including
// those already overwritten in the ring.
func (t *Trail) Total() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// snapshot returns all buffered events, oldest first.
func (t *Trail) snapshot() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	events := make([]Event, 0, t.count)
	for i := t.count; i >= 1; i-- {
		idx := (t.next - i + len(t.ring)) % len(t.ring)
		events = append(events, t.ring[idx])
	}
	return events
}
