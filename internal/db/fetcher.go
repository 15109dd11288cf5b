package db

import (
	"context"
	"errors"
	"log/slog"

	"traceview/internal/models"
	"traceview/internal/tracetree"
)

// CachingFetcher serves events from the cache and falls back to next.
type CachingFetcher struct {
	db     *DB
	next   tracetree.Fetcher
	logger *slog.Logger
}

// NewCachingFetcher wraps next with the event cache in db.
func NewCachingFetcher(db *DB, next tracetree.Fetcher, logger *slog.Logger) *CachingFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingFetcher{db: db, next: next, logger: logger}
}

// FetchEvent implements tracetree.Fetcher.
func (f *CachingFetcher) FetchEvent(ctx context.Context, req tracetree.EventRequest) (*models.Event, error) {
	event, err := f.db.LoadEvent(ctx, req.OrganizationSlug, req.ProjectSlug, req.EventID)
	switch {
	case err == nil:
		f.logger.Debug("Event served from cache", "eventID", req.EventID)
		return event, nil
	case !errors.Is(err, ErrCacheMiss):
		f.logger.Warn("Failed to read event cache", "eventID", req.EventID, "error", err)
	}

	event, err = f.next.FetchEvent(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := f.db.SaveEvent(ctx, req.OrganizationSlug, req.ProjectSlug, event); err != nil {
		f.logger.Warn("Failed to cache event", "eventID", req.EventID, "error", err)
	}
	return event, nil
}
