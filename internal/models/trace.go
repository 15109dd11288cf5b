// Package models defines the wire payloads served by the monitoring API and shared across traceview.
package models

// Trace is the response of the events-trace endpoint: the transactions of one
// trace nested by parent, plus errors that could not be tied to any transaction.
type Trace struct {
	Transactions []TraceTransaction `json:"transactions"`
	OrphanErrors []TraceError       `json:"orphan_errors"`
}

// TraceTransaction is a transaction as it appears in a trace payload.
type TraceTransaction struct {
	EventID             string             `json:"event_id"`
	ProjectSlug         string             `json:"project_slug"`
	ProjectID           int64              `json:"project_id"`
	Transaction         string             `json:"transaction"`
	Op                  string             `json:"transaction.op"`
	TransactionDuration float64            `json:"transaction.duration"`
	StartTimestamp      float64            `json:"start_timestamp"`
	Timestamp           float64            `json:"timestamp"`
	SpanID              string             `json:"span_id"`
	ParentSpanID        *string            `json:"parent_span_id,omitempty"`
	ParentEventID       *string            `json:"parent_event_id,omitempty"`
	Generation          *int               `json:"generation,omitempty"`
	Errors              []TraceError       `json:"errors"`
	Children            []TraceTransaction `json:"children"`
}

// Duration returns the transaction duration in seconds.
func (t *TraceTransaction) Duration() float64 {
	return t.Timestamp - t.StartTimestamp
}

// TraceError is an error event linked to a trace.
type TraceError struct {
	EventID     string   `json:"event_id"`
	IssueID     int64    `json:"issue_id"`
	Issue       string   `json:"issue"`
	ProjectSlug string   `json:"project_slug"`
	ProjectID   int64    `json:"project_id"`
	Title       string   `json:"title"`
	Level       string   `json:"level"`
	Timestamp   *float64 `json:"timestamp,omitempty"`
	Span        string   `json:"span"`
	Generation  *int     `json:"generation,omitempty"`
}

// RawSpan is a span as stored in the "spans" entry of a transaction event.
type RawSpan struct {
	SpanID         string            `json:"span_id"`
	ParentSpanID   string            `json:"parent_span_id,omitempty"`
	TraceID        string            `json:"trace_id"`
	Op             string            `json:"op,omitempty"`
	Description    string            `json:"description,omitempty"`
	StartTimestamp float64           `json:"start_timestamp"`
	Timestamp      float64           `json:"timestamp"`
	Status         string            `json:"status,omitempty"`
	Hash           string            `json:"hash,omitempty"`
	ExclusiveTime  float64           `json:"exclusive_time,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	Data           map[string]any    `json:"data,omitempty"`
}

// Duration returns the span duration in seconds.
func (s *RawSpan) Duration() float64 {
	return s.Timestamp - s.StartTimestamp
}
