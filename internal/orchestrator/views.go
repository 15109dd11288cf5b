// Package orchestrator keeps the trace views opened by clients and applies
// expand and zoom operations to them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"traceview/internal/metrics"
	"traceview/internal/models"
	"traceview/internal/tracetree"
)

var (
	// ErrViewNotFound is returned for an unknown or closed view id.
	ErrViewNotFound = errors.New("view not found")
	// ErrRowOutOfRange is returned when a row index is outside the visible list.
	ErrRowOutOfRange = errors.New("row out of range")
	// ErrPathNotFound is returned when no visible row has the requested path.
	ErrPathNotFound = errors.New("no visible row with that path")
)

// TraceSource loads the trace payload a view is built from.
type TraceSource interface {
	GetTrace(ctx context.Context, org, traceID string) (*models.Trace, error)
}

// View is one open trace tree.
type View struct {
	ID        string
	Org       string
	TraceID   string
	Tree      *tracetree.TraceTree
	CreatedAt time.Time
}

// Orchestrator owns the open views.
type Orchestrator struct {
	traces  TraceSource
	fetcher tracetree.Fetcher
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu    sync.RWMutex
	views map[string]*View
}

// New creates an orchestrator. m may be nil to disable instrumentation.
func New(traces TraceSource, fetcher tracetree.Fetcher, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		traces:  traces,
		fetcher: fetcher,
		metrics: m,
		logger:  logger,
		views:   make(map[string]*View),
	}
}

// Open fetches a trace and registers a new view of it.
func (o *Orchestrator) Open(ctx context.Context, org, traceID string) (*View, error) {
	trace, err := o.traces.GetTrace(ctx, org, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trace %s: %w", traceID, err)
	}

	opts := []tracetree.Option{tracetree.WithLogger(o.logger)}
	if o.metrics != nil {
		opts = append(opts, tracetree.WithObserver(o.metrics))
	}

	view := &View{
		ID:        uuid.New().String(),
		Org:       org,
		TraceID:   traceID,
		Tree:      tracetree.FromTrace(trace, opts...),
		CreatedAt: time.Now().UTC(),
	}

	o.mu.Lock()
	o.views[view.ID] = view
	open := len(o.views)
	o.mu.Unlock()

	o.observe("open")
	if o.metrics != nil {
		o.metrics.OpenViews.Set(float64(open))
	}
	o.logger.Info("Opened trace view", "view", view.ID, "org", org, "traceID", traceID, "rows", view.Tree.Len())
	return view, nil
}

// Get returns the view with the given id.
func (o *Orchestrator) Get(id string) (*View, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	view, ok := o.views[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrViewNotFound)
	}
	return view, nil
}

// List returns the open views, oldest first.
func (o *Orchestrator) List() []*View {
	o.mu.RLock()
	out := make([]*View, 0, len(o.views))
	for _, v := range o.views {
		out = append(out, v)
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Close drops a view.
func (o *Orchestrator) Close(id string) error {
	o.mu.Lock()
	_, ok := o.views[id]
	delete(o.views, id)
	open := len(o.views)
	o.mu.Unlock()

	if !ok {
		return fmt.Errorf("%s: %w", id, ErrViewNotFound)
	}
	o.observe("close")
	if o.metrics != nil {
		o.metrics.OpenViews.Set(float64(open))
	}
	return nil
}

// Expand expands or collapses the node at row. It reports whether the list changed.
func (o *Orchestrator) Expand(id string, row int, expanded bool) (bool, error) {
	view, node, err := o.node(id, row)
	if err != nil {
		return false, err
	}
	o.observe("expand")
	return view.Tree.Expand(node, expanded), nil
}

// Zoom zooms the node at row in or out.
func (o *Orchestrator) Zoom(ctx context.Context, id string, row int, zoomed bool) (*models.Event, error) {
	view, node, err := o.node(id, row)
	if err != nil {
		return nil, err
	}
	return o.zoom(ctx, view, node, zoomed)
}

// ZoomPath expands and zooms into the visible row with the given path.
func (o *Orchestrator) ZoomPath(ctx context.Context, id, path string) (*models.Event, error) {
	view, err := o.Get(id)
	if err != nil {
		return nil, err
	}
	_, node := view.Tree.FindRow(path)
	if node == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrPathNotFound)
	}
	view.Tree.Expand(node, true)
	return o.zoom(ctx, view, node, true)
}

// ExpandAll expands every visible row, including rows revealed on the way,
// and returns how many nodes changed.
func (o *Orchestrator) ExpandAll(id string) (int, error) {
	view, err := o.Get(id)
	if err != nil {
		return 0, err
	}
	changed := 0
	for i := 0; i < view.Tree.Len(); i++ {
		if view.Tree.Expand(view.Tree.Row(i), true) {
			changed++
		}
	}
	o.observe("expand_all")
	return changed, nil
}

func (o *Orchestrator) zoom(ctx context.Context, view *View, node *tracetree.Node, zoomed bool) (*models.Event, error) {
	o.observe("zoom")
	event, err := view.Tree.ZoomIn(ctx, node, zoomed, tracetree.ZoomOptions{
		OrganizationSlug: view.Org,
		Fetcher:          o.fetcher,
	})
	if err != nil {
		o.logger.Warn("Zoom failed", "view", view.ID, "node", node.Path(), "error", err)
		return nil, err
	}
	return event, nil
}

func (o *Orchestrator) node(id string, row int) (*View, *tracetree.Node, error) {
	view, err := o.Get(id)
	if err != nil {
		return nil, nil, err
	}
	node := view.Tree.Row(row)
	if node == nil {
		return nil, nil, fmt.Errorf("row %d of %d: %w", row, view.Tree.Len(), ErrRowOutOfRange)
	}
	return view, node, nil
}

func (o *Orchestrator) observe(op string) {
	if o.metrics != nil {
		o.metrics.Operations.WithLabelValues(op).Inc()
	}
}
