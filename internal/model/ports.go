package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// Business logic talks to storage through these; SQLite and Redis provide
// the concrete implementations.

// BarStore persists per-location bar sequences.
type BarStore interface {
	// SaveBars upserts bars for a location, keyed by (location, time).
	SaveBars(ctx context.Context, location string, bars []Bar) error

	// ReadBars returns the bars for a location in time order.
	ReadBars(ctx context.Context, location string) ([]Bar, error)

	// Locations lists every location with at least one bar.
	Locations(ctx context.Context) ([]string, error)
}

// DefinitionStore persists user indicator definitions.
type DefinitionStore interface {
	SaveDefinition(ctx context.Context, def IndicatorDefinition) error
	ListDefinitions(ctx context.Context) ([]IndicatorDefinition, error)
	GetDefinition(ctx context.Context, id string) (IndicatorDefinition, error)
	DeleteDefinition(ctx context.Context, id string) error
}

// SeriesCache caches computed indicator results per location and bar fingerprint.
type SeriesCache interface {
	// Get returns the cached result or an error when absent or unavailable.
	Get(ctx context.Context, key string) (IndicatorResult, error)

	// Set stores a result with the given TTL.
	Set(ctx context.Context, key string, res IndicatorResult, ttl time.Duration) error

	// Invalidate drops every cached result for a location.
	Invalidate(ctx context.Context, location string) error
}
