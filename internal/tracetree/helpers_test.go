package tracetree

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"traceview/internal/models"
)

// fakeFetcher serves canned events and counts calls. When release is set,
// every fetch blocks until it is closed.
type fakeFetcher struct {
	mu       sync.Mutex
	calls    int
	requests []EventRequest
	events   map[string]*models.Event
	err      error
	release  chan struct{}
	started  chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{events: make(map[string]*models.Event)}
}

func (f *fakeFetcher) FetchEvent(ctx context.Context, req EventRequest) (*models.Event, error) {
	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	release, started, err := f.release, f.started, f.err
	event := f.events[req.EventID]
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func spansEvent(t *testing.T, eventID string, spans ...models.RawSpan) *models.Event {
	t.Helper()
	if spans == nil {
		spans = []models.RawSpan{}
	}
	data, err := json.Marshal(spans)
	require.NoError(t, err)
	return &models.Event{
		EventID: eventID,
		Entries: []models.Entry{
			{Type: "request", Data: json.RawMessage(`{}`)},
			{Type: models.EntryTypeSpans, Data: data},
		},
	}
}

func txn(eventID string, start float64, children ...models.TraceTransaction) models.TraceTransaction {
	return models.TraceTransaction{
		EventID:        eventID,
		ProjectSlug:    "backend",
		Transaction:    "/api/" + eventID,
		Op:             "http.server",
		StartTimestamp: start,
		Timestamp:      start + 1,
		SpanID:         "root-" + eventID,
		Children:       children,
	}
}

func childTxn(eventID string, parentSpanID string, start float64) models.TraceTransaction {
	t := txn(eventID, start)
	t.ParentSpanID = &parentSpanID
	return t
}

func span(id, parent, op string, start, end float64) models.RawSpan {
	return models.RawSpan{
		SpanID:         id,
		ParentSpanID:   parent,
		Op:             op,
		Description:    op + " " + id,
		StartTimestamp: start,
		Timestamp:      end,
	}
}

func zoomOpts(f Fetcher) ZoomOptions {
	return ZoomOptions{OrganizationSlug: "acme", Fetcher: f}
}
