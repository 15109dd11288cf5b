package render

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traceview/internal/models"
	"traceview/internal/tracetree"
)

func txn(id string, start float64, children ...models.TraceTransaction) models.TraceTransaction {
	return models.TraceTransaction{
		EventID:        id,
		ProjectSlug:    "backend",
		Transaction:    "/api/" + id,
		Op:             "http.server",
		StartTimestamp: start,
		Timestamp:      start + 1,
		SpanID:         "root-" + id,
		Children:       children,
	}
}

func expandedTree(t *testing.T) *tracetree.TraceTree {
	t.Helper()
	tree := tracetree.FromTrace(&models.Trace{Transactions: []models.TraceTransaction{
		txn("t1", 10, txn("c1", 11, txn("g", 12)), txn("c2", 13)),
		txn("t2", 20),
	}})
	require.True(t, tree.Expand(tree.Row(0), true))
	_, c1 := tree.FindRow("txn-c1")
	require.True(t, tree.Expand(c1, true))
	return tree
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Text(&buf, Rows(expandedTree(t)), Options{}))

	want := strings.Join([]string{
		"├── ▾ http.server - /api/t1 (backend) 1s",
		"│   ├── ▾ http.server - /api/c1 (backend) 1s",
		"│   │   └── ▸ http.server - /api/g (backend) 1s",
		"│   └── ▸ http.server - /api/c2 (backend) 1s",
		"└── ▸ http.server - /api/t2 (backend) 1s",
	}, "\n") + "\n"
	assert.Equal(t, want, buf.String())
}

func TestTextIndent(t *testing.T) {
	tree := tracetree.FromTrace(&models.Trace{Transactions: []models.TraceTransaction{
		txn("t1", 10, txn("c1", 11)),
	}})
	require.True(t, tree.Expand(tree.Row(0), true))

	var buf bytes.Buffer
	require.NoError(t, Text(&buf, Rows(tree), Options{Indent: 2}))
	assert.Equal(t, "└ ▾ http.server - /api/t1 (backend) 1s\n  └ ▸ http.server - /api/c1 (backend) 1s\n", buf.String())
}

func TestRows(t *testing.T) {
	rows := Rows(expandedTree(t))
	require.Len(t, rows, 5)

	g := rows[2]
	assert.Equal(t, 2, g.Index)
	assert.Equal(t, "txn-g", g.Path)
	assert.Equal(t, "transaction", g.Kind)
	assert.Equal(t, 3, g.Depth)
	assert.Equal(t, []int{2, -1}, g.Connectors)
	assert.True(t, g.LastChild)
	assert.True(t, g.CanFetch)
	assert.False(t, g.ZoomedIn)
	assert.Equal(t, tracetree.Metadata{EventID: "g", ProjectSlug: "backend"}, g.Metadata)

	assert.Equal(t, 2, rows[0].Children)
	assert.True(t, rows[0].Expanded)

	data, err := json.Marshal(rows[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"zoomed_in":false`)
	assert.Contains(t, string(data), `"connectors":[]`)
}

func TestLabel(t *testing.T) {
	ts := 12.0
	tree := tracetree.FromTrace(&models.Trace{
		Transactions: []models.TraceTransaction{txn("t1", 10), txn("t2", 20)},
		OrphanErrors: []models.TraceError{{EventID: "e1", Title: "KeyError: 'user'", Level: "error", Timestamp: &ts}},
	})
	spans, err := json.Marshal([]models.RawSpan{
		{SpanID: "a", ParentSpanID: "root-t2", Op: "db", Description: "SELECT 1", StartTimestamp: 20, Timestamp: 20.25},
		{SpanID: "b", ParentSpanID: "root-t2", Description: "untyped", StartTimestamp: 20.5, Timestamp: 20.5005},
	})
	require.NoError(t, err)
	fetcher := tracetree.FetcherFunc(func(_ context.Context, req tracetree.EventRequest) (*models.Event, error) {
		event := &models.Event{EventID: req.EventID}
		if req.EventID == "t2" {
			event.Entries = []models.Entry{{Type: models.EntryTypeSpans, Data: spans}}
		}
		return event, nil
	})
	opts := tracetree.ZoomOptions{OrganizationSlug: "acme", Fetcher: fetcher}

	for _, path := range []string{"txn-t1", "txn-t2"} {
		_, node := tree.FindRow(path)
		require.NotNil(t, node)
		require.True(t, tree.Expand(node, true))
		_, err := tree.ZoomIn(context.Background(), node, true, opts)
		require.NoError(t, err)
	}

	labels := make(map[string]string)
	for _, row := range Rows(tree) {
		labels[row.Path] = row.Label
	}
	assert.Equal(t, map[string]string{
		"txn-t1":       "http.server - /api/t1 (backend) 1s",
		"empty-txn-t1": "No span data",
		"error-e1":     "error: KeyError: 'user'",
		"txn-t2":       "http.server - /api/t2 (backend) 1s",
		"span-a":       "db - SELECT 1 250ms",
		"ms-20.250000": "Missing instrumentation 250ms",
		"span-b":       "- - untyped 500µs",
	}, labels)

	var buf bytes.Buffer
	require.NoError(t, Text(&buf, Rows(tree), Options{}))
	assert.Contains(t, buf.String(), "http.server - /api/t2 (backend) 1s [spans]")
}

func TestLabelAutogroups(t *testing.T) {
	spans := []models.RawSpan{
		{SpanID: "a", ParentSpanID: "root-t1", Op: "middleware", StartTimestamp: 10, Timestamp: 10.9},
		{SpanID: "b", ParentSpanID: "a", Op: "middleware", StartTimestamp: 10.01, Timestamp: 10.8},
		{SpanID: "p", ParentSpanID: "b", Op: "view", StartTimestamp: 10.02, Timestamp: 10.7},
	}
	for i, id := range []string{"q1", "q2", "q3", "q4", "q5"} {
		start := 10.03 + float64(i)*0.01
		spans = append(spans, models.RawSpan{SpanID: id, ParentSpanID: "p", Op: "db", Description: "SELECT 1", StartTimestamp: start, Timestamp: start + 0.005})
	}
	data, err := json.Marshal(spans)
	require.NoError(t, err)
	fetcher := tracetree.FetcherFunc(func(_ context.Context, req tracetree.EventRequest) (*models.Event, error) {
		return &models.Event{EventID: req.EventID, Entries: []models.Entry{{Type: models.EntryTypeSpans, Data: data}}}, nil
	})

	tree := tracetree.FromTrace(&models.Trace{Transactions: []models.TraceTransaction{txn("t1", 10)}})
	require.True(t, tree.Expand(tree.Row(0), true))
	_, err = tree.ZoomIn(context.Background(), tree.Row(0), true, tracetree.ZoomOptions{Fetcher: fetcher})
	require.NoError(t, err)
	_, p := tree.FindRow("span-p")
	require.NotNil(t, p)
	require.True(t, tree.Expand(p, true))

	rows := Rows(tree)
	require.Len(t, rows, 4)
	assert.Equal(t, "Autogrouped middleware (2 nested)", rows[1].Label)
	assert.Equal(t, "parent_autogroup", rows[1].Kind)
	assert.Equal(t, "span-p", rows[2].Path)
	assert.Equal(t, "Autogrouped db - SELECT 1 (5)", rows[3].Label)
	assert.Equal(t, "sibling_autogroup", rows[3].Kind)
}
