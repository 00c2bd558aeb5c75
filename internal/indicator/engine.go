package indicator

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"aadhaar-velocity/internal/model"
)

// ErrUnknownPreset is reported for a definition naming a preset that is not in the catalog.
var ErrUnknownPreset = errors.New("unknown preset")

// ErrNoRunner is reported when a script definition reaches an engine built without a script runner.
var ErrNoRunner = errors.New("script execution not configured")

// ScriptRunner evaluates user-authored indicator scripts.
type ScriptRunner interface {
	Execute(ctx context.Context, name, src string, bars []model.Bar) model.Result
}

// Observer is told about every finished computation.
type Observer interface {
	ObserveCompute(name string, res model.Result, elapsed time.Duration)
}

// Engine evaluates indicator definitions over a bar sequence. Presets run
// as compiled functions; anything else goes to the script runner.
// An Engine is safe for concurrent use.
type Engine struct {
	runner   ScriptRunner
	workers  int
	observer Observer
}

// NewEngine creates an engine. workers bounds ComputeAll's parallelism;
// <= 0 means GOMAXPROCS.
func NewEngine(runner ScriptRunner, workers int) *Engine {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{runner: runner, workers: workers}
}

// SetObserver installs a computation observer. Call before first use.
func (e *Engine) SetObserver(o Observer) { e.observer = o }

// Compute evaluates one definition. Failures come back inside the Result;
// Compute itself never panics on bad scripts.
func (e *Engine) Compute(ctx context.Context, def model.IndicatorDefinition, bars []model.Bar) model.Result {
	start := time.Now()
	res := e.compute(ctx, def, bars)
	if e.observer != nil {
		e.observer.ObserveCompute(def.Name, res, time.Since(start))
	}
	return res
}

func (e *Engine) compute(ctx context.Context, def model.IndicatorDefinition, bars []model.Bar) model.Result {
	if def.Preset != "" {
		p, ok := Lookup(def.Preset)
		if !ok {
			return model.Result{Status: model.StatusFailed, Points: []model.SeriesPoint{}, Err: fmt.Errorf("%w: %q", ErrUnknownPreset, def.Preset)}
		}
		return model.NewResult(p.Compute(bars))
	}
	// An unedited preset script runs as its compiled twin.
	if p, ok := presetForScript(def.Script); ok {
		return model.NewResult(p.Compute(bars))
	}
	if e.runner == nil {
		return model.Result{Status: model.StatusFailed, Points: []model.SeriesPoint{}, Err: ErrNoRunner}
	}
	return e.runner.Execute(ctx, def.Name, def.Script, bars)
}

// ComputeAll evaluates defs in parallel over the same bars. The output is
// in definition order. One definition failing never affects the others;
// the only error is ctx being cancelled.
func (e *Engine) ComputeAll(ctx context.Context, defs []model.IndicatorDefinition, bars []model.Bar) ([]model.IndicatorResult, error) {
	results := make([]model.IndicatorResult, len(defs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i := range defs {
		i := i
		def := defs[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := e.Compute(gctx, def, bars)
			results[i] = model.IndicatorResult{
				Name:   def.Name,
				Kind:   KindOf(def),
				Status: res.Status,
				Points: res.OrEmpty(),
			}
			if res.Err != nil {
				results[i].Error = res.Err.Error()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// KindOf resolves where a definition is drawn: an explicit kind wins, then
// the preset's kind, then the script header.
func KindOf(def model.IndicatorDefinition) model.Kind {
	if def.Kind != "" {
		return def.Kind
	}
	if def.Preset != "" {
		if p, ok := Lookup(def.Preset); ok {
			return p.Kind
		}
	}
	return model.ParseKind(def.Script)
}

// PresetDefinition wraps a catalog entry as a definition.
func PresetDefinition(p Preset) model.IndicatorDefinition {
	return model.IndicatorDefinition{ID: "preset:" + p.Name, Name: p.Name, Preset: p.Name, Kind: p.Kind}
}
