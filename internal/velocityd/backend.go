package velocityd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"aadhaar-velocity/internal/indicator"
	"aadhaar-velocity/internal/lorentzian"
	"aadhaar-velocity/internal/metrics"
	"aadhaar-velocity/internal/model"
	"aadhaar-velocity/internal/notification"
	redisstore "aadhaar-velocity/internal/store/redis"
	"aadhaar-velocity/internal/velocity"
)

// Store is the persistence the backend needs.
type Store interface {
	model.BarStore
	model.DefinitionStore
	CreateDefinition(ctx context.Context, def model.IndicatorDefinition) (model.IndicatorDefinition, error)
}

// Compiler checks a script without running it.
type Compiler interface {
	Compile(name, src string) error
}

// Notifier announces that a location's bars changed.
type Notifier interface {
	Notify(ctx context.Context, location string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, location string) error

func (f NotifierFunc) Notify(ctx context.Context, location string) error { return f(ctx, location) }

// Backend is the service's business layer: it resolves indicator names,
// reads bars, consults the series cache and runs the engine.
type Backend struct {
	store    Store
	engine   *indicator.Engine
	compiler Compiler
	cache    model.SeriesCache     // nil disables caching
	cacheTTL time.Duration
	notifier Notifier              // nil disables live updates
	alerts   notification.Notifier // nil disables velocity alerts
	prom     *metrics.Metrics
	log      zerolog.Logger
}

// BackendConfig bundles the backend's collaborators.
type BackendConfig struct {
	Store    Store
	Engine   *indicator.Engine
	Compiler Compiler
	Cache    model.SeriesCache
	CacheTTL time.Duration
	Notifier Notifier
	Alerts   notification.Notifier
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
}

// NewBackend creates a backend.
func NewBackend(cfg BackendConfig) *Backend {
	return &Backend{
		store:    cfg.Store,
		engine:   cfg.Engine,
		compiler: cfg.Compiler,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		notifier: cfg.Notifier,
		alerts:   cfg.Alerts,
		prom:     cfg.Metrics,
		log:      cfg.Log.With().Str("component", "backend").Logger(),
	}
}

// SetNotifier installs the live-update notifier.
func (b *Backend) SetNotifier(n Notifier) { b.notifier = n }

// Presets lists the catalog.
func (b *Backend) Presets() []indicator.Preset { return indicator.Catalog() }

// Locations lists locations with stored bars.
func (b *Backend) Locations(ctx context.Context) ([]string, error) {
	return b.store.Locations(ctx)
}

// Bars returns a location's stored bars.
func (b *Backend) Bars(ctx context.Context, location string) ([]model.Bar, error) {
	return b.store.ReadBars(ctx, location)
}

// IngestBars upserts bars, drops the location's cached series and
// notifies live subscribers. The bars need not be sorted.
func (b *Backend) IngestBars(ctx context.Context, location string, bars []model.Bar) error {
	if location == "" {
		return fmt.Errorf("%w: location is required", model.ErrInvalid)
	}
	if len(bars) == 0 {
		return fmt.Errorf("%w: no bars", model.ErrInvalid)
	}
	if err := b.store.SaveBars(ctx, location, bars); err != nil {
		return err
	}
	if b.prom != nil {
		b.prom.BarsIngested.Add(float64(len(bars)))
	}
	if b.cache != nil {
		if err := b.cache.Invalidate(ctx, location); err != nil {
			b.log.Warn().Str("location", location).Err(err).Msg("cache invalidate failed")
		}
	}
	if b.notifier != nil {
		if err := b.notifier.Notify(ctx, location); err != nil {
			b.log.Warn().Str("location", location).Err(err).Msg("bar update notify failed")
		}
	}
	if b.alerts != nil {
		b.sendAlerts(ctx, location, bars)
	}
	b.log.Info().Str("location", location).Int("bars", len(bars)).Msg("bars ingested")
	return nil
}

// sendAlerts raises velocity alerts for the ingested weeks. Velocities
// need the preceding stored week, so the whole series is re-read.
func (b *Backend) sendAlerts(ctx context.Context, location string, ingested []model.Bar) {
	stored, err := b.store.ReadBars(ctx, location)
	if err != nil {
		b.log.Warn().Str("location", location).Err(err).Msg("alert read failed")
		return
	}
	weeks := make(map[model.Time]bool, len(ingested))
	for i := range ingested {
		weeks[ingested[i].Time] = true
	}
	for _, a := range notification.VelocityAlerts(location, velocity.Analyze(stored), weeks) {
		if err := b.alerts.Send(ctx, a); err != nil {
			b.log.Warn().Str("location", location).Str("alert", a.Title).Err(err).Msg("alert delivery failed")
		}
	}
}

// Resolve maps names to definitions: preset names first, then stored
// definitions by name.
func (b *Backend) Resolve(ctx context.Context, names []string) ([]model.IndicatorDefinition, error) {
	var stored map[string]model.IndicatorDefinition
	out := make([]model.IndicatorDefinition, 0, len(names))
	for _, name := range names {
		if p, ok := indicator.Lookup(name); ok {
			out = append(out, indicator.PresetDefinition(p))
			continue
		}
		if stored == nil {
			defs, err := b.store.ListDefinitions(ctx)
			if err != nil {
				return nil, err
			}
			stored = make(map[string]model.IndicatorDefinition, len(defs))
			for _, d := range defs {
				stored[d.Name] = d
			}
		}
		def, ok := stored[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", model.ErrUnknownIndicator, name)
		}
		out = append(out, def)
	}
	return out, nil
}

// ComputeNamed resolves names and computes them over a location's bars.
func (b *Backend) ComputeNamed(ctx context.Context, location string, names []string) ([]model.IndicatorResult, error) {
	defs, err := b.Resolve(ctx, names)
	if err != nil {
		return nil, err
	}
	return b.ComputeLocation(ctx, location, defs)
}

// ComputeLocation evaluates defs over a location's stored bars. Results
// that are not failures are cached per bar fingerprint.
func (b *Backend) ComputeLocation(ctx context.Context, location string, defs []model.IndicatorDefinition) ([]model.IndicatorResult, error) {
	if err := indicator.ValidateDefinitions(defs); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalid, err)
	}
	bars, err := b.store.ReadBars(ctx, location)
	if err != nil {
		return nil, err
	}
	if b.cache == nil {
		return b.engine.ComputeAll(ctx, defs, bars)
	}

	fp := model.Fingerprint(bars)
	results := make([]model.IndicatorResult, len(defs))
	var missing []model.IndicatorDefinition
	var missingAt []int
	for i, def := range defs {
		res, err := b.cache.Get(ctx, cacheKey(location, fp, def))
		switch {
		case err == nil:
			results[i] = res
			b.observeCache(true, nil)
		default:
			missing = append(missing, def)
			missingAt = append(missingAt, i)
			b.observeCache(false, err)
		}
	}
	if len(missing) == 0 {
		return results, nil
	}

	computed, err := b.engine.ComputeAll(ctx, missing, bars)
	if err != nil {
		return nil, err
	}
	for j, res := range computed {
		results[missingAt[j]] = res
		if res.Status == model.StatusFailed {
			continue
		}
		if err := b.cache.Set(ctx, cacheKey(location, fp, missing[j]), res, b.cacheTTL); err != nil {
			b.log.Debug().Err(err).Msg("cache set failed")
		}
	}
	return results, nil
}

func (b *Backend) observeCache(hit bool, err error) {
	if b.prom == nil {
		return
	}
	switch {
	case hit:
		b.prom.CacheHits.Inc()
	case errors.Is(err, redisstore.ErrCacheMiss):
		b.prom.CacheMisses.Inc()
	default:
		b.prom.CacheErrors.Inc()
	}
}

// cacheKey binds the key to the definition body as well as its name, so
// editing a stored script never serves the old series.
func cacheKey(location, fingerprint string, def model.IndicatorDefinition) string {
	sum := xxhash.Sum64String(def.Preset + "\x00" + def.Script + "\x00" + string(def.Kind))
	return redisstore.Key(location, fingerprint, def.Name+"@"+strconv.FormatUint(sum, 16))
}

// ComputeBars evaluates defs over caller-supplied bars without touching
// storage or the cache.
func (b *Backend) ComputeBars(ctx context.Context, bars []model.Bar, defs []model.IndicatorDefinition) ([]model.IndicatorResult, error) {
	if !model.SortedByTime(bars) {
		return nil, fmt.Errorf("%w: bars must be in non-decreasing time order", model.ErrInvalid)
	}
	if err := indicator.ValidateDefinitions(defs); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalid, err)
	}
	return b.engine.ComputeAll(ctx, defs, bars)
}

// Signal runs the classifier over a location's bars.
func (b *Backend) Signal(ctx context.Context, location string, s lorentzian.Settings) ([]lorentzian.Prediction, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalid, err)
	}
	bars, err := b.store.ReadBars(ctx, location)
	if err != nil {
		return nil, err
	}
	return lorentzian.Classify(bars, s)
}

// Velocity returns the enrolment and biometric velocity series.
func (b *Backend) Velocity(ctx context.Context, location string) ([]velocity.Point, velocity.Summary, error) {
	bars, err := b.store.ReadBars(ctx, location)
	if err != nil {
		return nil, velocity.Summary{}, err
	}
	pts := velocity.Analyze(bars)
	return pts, velocity.Summarize(pts), nil
}

// ListDefinitions returns stored definitions.
func (b *Backend) ListDefinitions(ctx context.Context) ([]model.IndicatorDefinition, error) {
	return b.store.ListDefinitions(ctx)
}

// CreateDefinition validates, compiles and stores a user definition. Names
// may not shadow presets.
func (b *Backend) CreateDefinition(ctx context.Context, def model.IndicatorDefinition) (model.IndicatorDefinition, error) {
	if def.Kind == "" {
		def.Kind = indicator.KindOf(def)
	}
	if err := indicator.ValidateDefinition(def); err != nil {
		return def, fmt.Errorf("%w: %v", model.ErrInvalid, err)
	}
	if _, ok := indicator.Lookup(def.Name); ok {
		return def, fmt.Errorf("%w: %q is a preset name", model.ErrInvalid, def.Name)
	}
	if def.Script != "" && b.compiler != nil {
		if err := b.compiler.Compile(def.Name, def.Script); err != nil {
			return def, err
		}
	}
	def.ID = ""
	return b.store.CreateDefinition(ctx, def)
}

// DeleteDefinition removes a stored definition.
func (b *Backend) DeleteDefinition(ctx context.Context, id string) error {
	return b.store.DeleteDefinition(ctx, id)
}
