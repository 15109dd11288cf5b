package tracetree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traceview/internal/models"
)

// projected builds a one-transaction tree and projects spans under it.
func projected(t *testing.T, transaction models.TraceTransaction, spans ...models.RawSpan) (*TraceTree, *Node) {
	t.Helper()
	tree := FromTrace(&models.Trace{Transactions: []models.TraceTransaction{transaction}})
	node := tree.Row(0)
	FromSpans(node, spans)
	return tree, node
}

func TestFromSpansNestsByParentID(t *testing.T) {
	_, node := projected(t, txn("t1", 10),
		span("a", "root-t1", "http", 10.0, 10.9),
		span("b", "a", "db", 10.1, 10.2),
		span("c", "a", "cache", 10.2, 10.3),
		span("d", "c", "serialize", 10.25, 10.26),
	)

	require.Len(t, node.spanChildren, 1)
	a := node.spanChildren[0]
	assert.Equal(t, "span-a", a.Path())
	assert.Same(t, node, a.Parent())
	assert.Equal(t, []string{"span-b", "span-c"}, paths(a.Children()))
	assert.Equal(t, []string{"span-d"}, paths(a.Children()[1].Children()))

	assert.Equal(t, node.Depth()+1, a.Depth())
	assert.Equal(t, node.Depth()+3, a.Children()[1].Children()[0].Depth())
	assert.False(t, node.ZoomedIn(), "projection alone does not zoom")
	assert.Empty(t, node.Children())
}

func TestFromSpansForwardReference(t *testing.T) {
	// The child starts before its parent, so it is processed first.
	_, node := projected(t, txn("t1", 10),
		span("child", "parent", "db", 10.0, 10.1),
		span("parent", "root-t1", "http", 10.05, 10.5),
	)

	require.Len(t, node.spanChildren, 1)
	parent := node.spanChildren[0]
	assert.Equal(t, "span-parent", parent.Path())
	require.Len(t, parent.Children(), 1)
	assert.Equal(t, "span-child", parent.Children()[0].Path())
}

func TestFromSpansOrphansAttachToRoot(t *testing.T) {
	orphans := projectSpans(FromTrace(&models.Trace{Transactions: []models.TraceTransaction{txn("t1", 10)}}).Row(0), []models.RawSpan{
		span("a", "root-t1", "http", 10.0, 10.05),
		span("lost", "missing", "db", 10.06, 10.1),
	})
	assert.Equal(t, 1, orphans)

	_, node := projected(t, txn("t1", 10),
		span("a", "root-t1", "http", 10.0, 10.05),
		span("lost", "missing", "db", 10.06, 10.1),
	)
	assert.Equal(t, []string{"span-a", "span-lost"}, paths(node.spanChildren))
	assert.Same(t, node, node.spanChildren[1].Parent())
}

func TestFromSpansCycleIsNotDropped(t *testing.T) {
	_, node := projected(t, txn("t1", 10),
		span("x", "y", "http", 10.0, 10.05),
		span("y", "x", "db", 10.01, 10.04),
	)
	require.Len(t, node.spanChildren, 1)
	y := node.spanChildren[0]
	assert.Equal(t, "span-y", y.Path())
	assert.Equal(t, []string{"span-x"}, paths(y.Children()))
}

func TestFromSpansKnownChildLinks(t *testing.T) {
	_, node := projected(t, txn("t1", 10, childTxn("c1", "b", 10.2), txn("c2", 10.3)),
		span("a", "root-t1", "http", 10.0, 10.05),
		span("b", "root-t1", "rpc", 10.05, 10.5),
	)
	require.Len(t, node.spanChildren, 2)
	a, b := node.spanChildren[0], node.spanChildren[1]
	assert.False(t, a.CanFetchData())
	assert.Equal(t, Metadata{}, a.Metadata())
	assert.True(t, b.CanFetchData())
	assert.Equal(t, Metadata{EventID: "c1", ProjectSlug: "backend"}, b.Metadata())
}

func TestFromSpansEmptyPayload(t *testing.T) {
	_, node := projected(t, txn("t1", 10))
	require.Len(t, node.spanChildren, 1)
	assert.Equal(t, KindNoData, node.spanChildren[0].Kind())
	assert.Equal(t, "empty-txn-t1", node.spanChildren[0].Path())
}

func TestFromSpansAttachesErrors(t *testing.T) {
	transaction := txn("t1", 10)
	transaction.Errors = []models.TraceError{
		{EventID: "e1", Span: "b", Title: "KeyError"},
		{EventID: "e2", Span: "nowhere", Title: "Timeout"},
	}
	_, node := projected(t, transaction,
		span("a", "root-t1", "http", 10.0, 10.05),
		span("b", "a", "db", 10.01, 10.04),
	)

	assert.Equal(t, []string{"span-a", "error-e2"}, paths(node.spanChildren))
	b := node.spanChildren[0].Children()[0]
	assert.Equal(t, []string{"error-e1"}, paths(b.Children()))
	assert.Equal(t, KindTraceError, b.Children()[0].Kind())
}

func TestFromSpansSiblingAutogroup(t *testing.T) {
	spans := []models.RawSpan{span("p", "root-t1", "http", 10.0, 11.0)}
	for i, id := range []string{"q1", "q2", "q3", "q4", "q5", "q6"} {
		s := span(id, "p", "db", 10.1+float64(i)*0.01, 10.105+float64(i)*0.01)
		s.Description = "SELECT * FROM users"
		spans = append(spans, s)
	}
	spans = append(spans, span("tail", "p", "cache", 10.2, 10.21))

	_, node := projected(t, txn("t1", 10), spans...)
	p := node.spanChildren[0]
	require.Len(t, p.Children(), 2)

	group := p.Children()[0]
	require.Equal(t, KindSiblingAutogroup, group.Kind())
	g := group.Value().(*SiblingAutogroup)
	assert.Equal(t, 6, g.Count)
	assert.Equal(t, "db", g.Op)
	assert.Equal(t, "SELECT * FROM users", g.Description)
	assert.Len(t, group.Children(), 6)
	assert.Same(t, group, group.Children()[0].Parent())
	assert.Equal(t, "sag-span-q1", group.Path())
	assert.Equal(t, "span-tail", p.Children()[1].Path())
}

func TestFromSpansSiblingAutogroupMembersNotRegrouped(t *testing.T) {
	spans := []models.RawSpan{span("p", "root-t1", "http", 10.0, 11.0)}
	for i, id := range []string{"q1", "q2", "q3", "q4", "q5", "q6"} {
		s := span(id, "p", "db", 10.1+float64(i)*0.05, 10.12+float64(i)*0.05)
		s.Description = "SELECT 1"
		spans = append(spans, s)
	}
	for i, id := range []string{"r1", "r2", "r3", "r4", "r5"} {
		s := span(id, "q1", "cache", 10.101+float64(i)*0.001, 10.1015+float64(i)*0.001)
		s.Description = "GET user"
		spans = append(spans, s)
	}

	_, node := projected(t, txn("t1", 10), spans...)
	p := node.spanChildren[0]
	require.Len(t, p.Children(), 1)

	group := p.Children()[0]
	require.Equal(t, KindSiblingAutogroup, group.Kind())
	require.Len(t, group.Children(), 6)
	for _, member := range group.Children() {
		assert.Equal(t, KindSpan, member.Kind())
	}

	q1 := group.Children()[0]
	require.Len(t, q1.Children(), 1)
	inner := q1.Children()[0]
	require.Equal(t, KindSiblingAutogroup, inner.Kind())
	assert.Equal(t, 5, inner.Value().(*SiblingAutogroup).Count)
	assert.Len(t, inner.Children(), 5)
}

func TestFromSpansFewSiblingsNotGrouped(t *testing.T) {
	spans := []models.RawSpan{span("p", "root-t1", "http", 10.0, 11.0)}
	for i, id := range []string{"q1", "q2", "q3", "q4"} {
		s := span(id, "p", "db", 10.1+float64(i)*0.01, 10.105+float64(i)*0.01)
		s.Description = "SELECT 1"
		spans = append(spans, s)
	}
	_, node := projected(t, txn("t1", 10), spans...)
	assert.Len(t, node.spanChildren[0].Children(), 4)
}

func TestFromSpansParentAutogroup(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.events["t1"] = spansEvent(t, "t1",
		span("a", "root-t1", "middleware", 10.0, 10.9),
		span("b", "a", "middleware", 10.01, 10.8),
		span("c", "b", "middleware", 10.02, 10.7),
		span("x", "c", "db", 10.03, 10.04),
		span("y", "c", "cache", 10.04, 10.05),
	)
	tree := FromTrace(&models.Trace{Transactions: []models.TraceTransaction{txn("t1", 10)}})
	node := tree.Row(0)
	require.True(t, tree.Expand(node, true))
	_, err := tree.ZoomIn(context.Background(), node, true, zoomOpts(fetcher))
	require.NoError(t, err)

	require.Len(t, node.Children(), 1)
	group := node.Children()[0]
	require.Equal(t, KindParentAutogroup, group.Kind())
	g := group.Value().(*ParentAutogroup)
	assert.Equal(t, 3, g.Count)
	assert.Equal(t, "span-a", g.Head.Path())
	assert.Equal(t, "span-c", g.Tail.Path())

	// Collapsed, the group shows the tail's children directly.
	assert.Equal(t, []string{"txn-t1", "ag-span-a", "span-x", "span-y"}, paths(tree.List()))
	x := g.Tail.Children()[0]
	assert.Equal(t, group.Depth()+1, x.Depth())

	require.True(t, tree.Expand(group, true))
	assert.Equal(t, []string{"txn-t1", "ag-span-a", "span-a", "span-b", "span-c", "span-x", "span-y"}, paths(tree.List()))
	assert.Equal(t, group.Depth()+4, x.Depth())

	require.True(t, tree.Expand(group, false))
	assert.Equal(t, []string{"txn-t1", "ag-span-a", "span-x", "span-y"}, paths(tree.List()))
	assert.Equal(t, group.Depth()+1, x.Depth())
}

func TestFromSpansMissingInstrumentation(t *testing.T) {
	_, node := projected(t, txn("t1", 10),
		span("a", "root-t1", "http", 10.0, 10.1),
		span("b", "root-t1", "db", 10.5, 10.6),
		span("c", "root-t1", "cache", 10.65, 10.7),
	)

	require.Len(t, node.spanChildren, 4)
	assert.Equal(t, KindSpan, node.spanChildren[0].Kind())
	gap := node.spanChildren[1]
	require.Equal(t, KindMissingInstrumentation, gap.Kind())
	m := gap.Value().(*MissingInstrumentation)
	assert.InDelta(t, 0.4, m.Duration(), 1e-9)
	assert.Same(t, node, gap.Parent())
	assert.Equal(t, []string{"span-b", "span-c"}, paths(node.spanChildren[2:]))
}
