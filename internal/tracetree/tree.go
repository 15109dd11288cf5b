package tracetree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"traceview/internal/models"
)

// ErrNoFetcher is returned by ZoomIn when a fetch is needed but no Fetcher was given.
var ErrNoFetcher = errors.New("zoom in requires a fetcher")

// TraceTree owns the node tree and the flat list of visible rows. All
// structural changes go through its methods, which keep the list equal to a
// depth-first walk of the expanded nodes.
type TraceTree struct {
	mu   sync.Mutex
	root *Node
	list []*Node
	gen  *generation

	calls  singleflight.Group
	events map[*Node]*models.Event

	logger   *slog.Logger
	observer Observer
}

// Option configures a TraceTree.
type Option func(*TraceTree)

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(t *TraceTree) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithObserver reports span fetches to o.
func WithObserver(o Observer) Option {
	return func(t *TraceTree) {
		if o != nil {
			t.observer = o
		}
	}
}

func newTree(opts ...Option) *TraceTree {
	gen := &generation{}
	root := newNode(nil, &Root{}, Metadata{}, gen)
	root.expanded = true

	t := &TraceTree{
		root:     root,
		gen:      gen,
		events:   make(map[*Node]*models.Event),
		logger:   slog.Default(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Empty returns a tree with nothing but the root, for loading states.
func Empty(opts ...Option) *TraceTree {
	return newTree(opts...)
}

// FromTrace builds a tree from a trace payload. Top-level transactions and
// orphan errors are interleaved by time; every node starts collapsed.
func FromTrace(trace *models.Trace, opts ...Option) *TraceTree {
	t := newTree(opts...)
	if trace == nil {
		return t
	}

	type frame struct {
		parent *Node
		txn    *models.TraceTransaction
	}
	var stack []frame

	visit := func(parent *Node, txn *models.TraceTransaction) {
		stack = append(stack, frame{parent: parent, txn: txn})
		for len(stack) > 0 {
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			node := newNode(f.parent, &Transaction{TraceTransaction: *f.txn}, Metadata{
				EventID:     f.txn.EventID,
				ProjectSlug: f.txn.ProjectSlug,
			}, t.gen)
			node.canFetch = true
			f.parent.children = append(f.parent.children, node)

			for i := len(f.txn.Children) - 1; i >= 0; i-- {
				stack = append(stack, frame{parent: node, txn: &f.txn.Children[i]})
			}
		}
	}
	orphan := func(e *models.TraceError) {
		node := newNode(t.root, &TraceError{TraceError: *e}, Metadata{
			EventID:     e.EventID,
			ProjectSlug: e.ProjectSlug,
		}, t.gen)
		t.root.children = append(t.root.children, node)
	}

	txns, errs := trace.Transactions, trace.OrphanErrors
	ti, ei := 0, 0
	for ti < len(txns) || ei < len(errs) {
		switch {
		case ti < len(txns) && ei < len(errs):
			e := &errs[ei]
			if e.Timestamp == nil || txns[ti].StartTimestamp <= *e.Timestamp {
				visit(t.root, &txns[ti])
				ti++
			} else {
				orphan(e)
				ei++
			}
		case ti < len(txns):
			visit(t.root, &txns[ti])
			ti++
		default:
			orphan(&errs[ei])
			ei++
		}
	}

	updateTreeDepths(t.root)
	t.list = t.root.VisibleChildren()
	return t
}

// Root returns the synthetic root node.
func (t *TraceTree) Root() *Node { return t.root }

// List returns a copy of the visible rows in render order.
func (t *TraceTree) List() []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Node, len(t.list))
	copy(out, t.list)
	return out
}

// Len returns the number of visible rows.
func (t *TraceTree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.list)
}

// Row returns the node at index i of the list, or nil when out of range.
func (t *TraceTree) Row(i int) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.list) {
		return nil
	}
	return t.list[i]
}

// Read runs fn with the list while holding the tree lock, so node state read
// inside fn is consistent with the rows. fn must not retain rows or call
// back into the tree.
func (t *TraceTree) Read(fn func(rows []*Node)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.list)
}

// IndexOf returns the row index of node, or -1 if it is not listed.
func (t *TraceTree) IndexOf(node *Node) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.indexOf(node)
}

func (t *TraceTree) indexOf(node *Node) int {
	for i, n := range t.list {
		if n == node {
			return i
		}
	}
	return -1
}

// FindRow returns the first listed node whose Path is path.
func (t *TraceTree) FindRow(path string) (int, *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, n := range t.list {
		if n.Path() == path {
			return i, n
		}
	}
	return -1, nil
}

// patch applies mutate to node and rewrites the rows listed under it. The
// node's index is looked up at the moment of the call. A node that is not
// listed has its structure changed and the list left alone. It returns the
// change in list length.
func (t *TraceTree) patch(node *Node, mutate func()) int {
	index := t.indexOf(node)
	removed := 0
	if index >= 0 {
		removed = node.VisibleChildrenCount()
		t.list = append(t.list[:index+1], t.list[index+1+removed:]...)
	}

	mutate()
	t.gen.bump()

	if index < 0 {
		t.logger.Debug("Node not listed, skipping list patch", "node", node.Path())
		return 0
	}

	added := node.VisibleChildren()
	if len(added) > 0 {
		tail := append([]*Node(nil), t.list[index+1:]...)
		t.list = append(append(t.list[:index+1], added...), tail...)
	}
	return len(added) - removed
}

// Expand shows or hides the children of node. It returns false without
// changing anything when node is zoomed in, is the root, or is already in
// the requested state.
func (t *TraceTree) Expand(node *Node, expanded bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if node == nil || node.zoomedIn || node.Kind() == KindRoot || node.expanded == expanded {
		return false
	}

	t.patch(node, func() {
		node.expanded = expanded
		if _, ok := node.value.(*ParentAutogroup); ok {
			updateTreeDepths(node)
		}
	})
	return true
}

// ZoomIn swaps node's children for the spans of its transaction event
// (zoomed true) or back to its default children (zoomed false).
//
// Zooming in fetches the event unless it was fetched before. Concurrent
// zoom-ins on one node share a single fetch. The returned event is nil when
// the call was a no-op. A failed fetch leaves the tree as it was. A caller
// whose ctx ends returns early, and the fetch is still applied when it lands.
func (t *TraceTree) ZoomIn(ctx context.Context, node *Node, zoomed bool, opts ZoomOptions) (*models.Event, error) {
	t.mu.Lock()
	if node == nil || node.zoomedIn == zoomed {
		t.mu.Unlock()
		return nil, nil
	}

	if !zoomed {
		t.patch(node, func() {
			node.zoomedIn = false
			updateTreeDepths(node)
		})
		t.mu.Unlock()
		return nil, nil
	}

	if !node.canFetch {
		t.mu.Unlock()
		t.logger.Debug("Node cannot fetch data, ignoring zoom", "node", node.Path())
		return nil, nil
	}

	if node.fetched {
		t.patch(node, func() {
			node.zoomedIn = true
			updateTreeDepths(node)
		})
		event := t.events[node]
		t.mu.Unlock()
		return event, nil
	}
	t.mu.Unlock()

	if opts.Fetcher == nil {
		return nil, ErrNoFetcher
	}
	return t.fetch(ctx, node, opts)
}

// fetch issues the span fetch for node, or joins the one already in flight.
// The fetch outlives a caller that gives up, and its result is applied to the
// tree before any caller sees it.
func (t *TraceTree) fetch(ctx context.Context, node *Node, opts ZoomOptions) (*models.Event, error) {
	req := EventRequest{
		OrganizationSlug: opts.OrganizationSlug,
		ProjectSlug:      node.metadata.ProjectSlug,
		EventID:          node.metadata.EventID,
	}

	leader := false
	ch := t.calls.DoChan(fmt.Sprintf("%p", node), func() (any, error) {
		leader = true
		if event := t.fetchedEvent(node); event != nil {
			return event, nil
		}
		start := time.Now()
		event, err := opts.Fetcher.FetchEvent(context.WithoutCancel(ctx), req)
		t.observer.ObserveFetch(time.Since(start), err)
		if err != nil {
			return nil, err
		}
		if event == nil {
			return nil, errors.New("empty response")
		}
		if err := t.apply(node, event); err != nil {
			return nil, err
		}
		return event, nil
	})

	select {
	case res := <-ch:
		if !leader {
			t.observer.ObserveSharedFetch()
			t.logger.Debug("Joined in-flight span fetch", "event_id", req.EventID)
		}
		if res.Err != nil {
			return nil, fmt.Errorf("failed to fetch event %s: %w", req.EventID, res.Err)
		}
		return res.Val.(*models.Event), nil
	case <-ctx.Done():
		t.logger.Debug("Caller gave up on span fetch", "event_id", req.EventID, "error", ctx.Err())
		return nil, ctx.Err()
	}
}

// fetchedEvent returns the event already applied to node, if any.
func (t *TraceTree) fetchedEvent(node *Node) *models.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !node.fetched {
		return nil
	}
	return t.events[node]
}

// apply projects the spans of event under node and zooms it in. A node that
// already holds its spans is left alone.
func (t *TraceTree) apply(node *Node, event *models.Event) error {
	spans, _, err := event.Spans()
	if err != nil {
		return fmt.Errorf("failed to read spans: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if node.fetched {
		return nil
	}

	var orphans int
	t.patch(node, func() {
		orphans = projectSpans(node, spans)
		node.zoomedIn = true
		updateTreeDepths(node)
	})
	t.events[node] = event
	if orphans > 0 {
		t.logger.Debug("Attached orphan spans to transaction", "node", node.Path(), "orphans", orphans)
	}
	return nil
}
