package tracetree

import (
	"context"
	"time"

	"traceview/internal/models"
)

// EventRequest addresses one transaction event.
type EventRequest struct {
	OrganizationSlug string
	ProjectSlug      string
	EventID          string
}

// Fetcher retrieves a transaction event with its span entries.
type Fetcher interface {
	FetchEvent(ctx context.Context, req EventRequest) (*models.Event, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req EventRequest) (*models.Event, error)

// FetchEvent calls f.
func (f FetcherFunc) FetchEvent(ctx context.Context, req EventRequest) (*models.Event, error) {
	return f(ctx, req)
}

// ZoomOptions carries what a zoom-in needs to issue its fetch.
type ZoomOptions struct {
	OrganizationSlug string
	Fetcher          Fetcher
}

// Observer is told about span fetches issued by zoom-ins.
type Observer interface {
	ObserveFetch(duration time.Duration, err error)
	ObserveSharedFetch()
}

type nopObserver struct{}

func (nopObserver) ObserveFetch(time.Duration, error) {}
func (nopObserver) ObserveSharedFetch()               {}
