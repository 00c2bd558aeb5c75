// Package script evaluates user-authored indicator scripts.
//
// A script is the body of a function whose only parameter is `data`, the
// bar sequence. It is written in Starlark, a small deterministic Python
// dialect with no I/O, and runs under a step cap and a wall-clock deadline.
// Every failure comes back as a typed *ExecutionError inside model.Result.
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"

	"aadhaar-velocity/internal/model"
)

const (
	entryPoint = "indicator"
	indent     = "    "

	DefaultMaxSteps = 10_000_000
	DefaultTimeout  = 2 * time.Second
)

// Config bounds a single evaluation.
type Config struct {
	MaxSteps uint64        // Starlark execution steps; 0 means DefaultMaxSteps
	Timeout  time.Duration // wall clock; 0 means DefaultTimeout
}

// Executor compiles and runs scripts. It holds no per-run state and is
// safe for concurrent use; each run gets its own interpreter thread.
type Executor struct {
	cfg         Config
	log         zerolog.Logger
	predeclared starlark.StringDict
}

// New creates an executor.
func New(cfg Config, log zerolog.Logger) *Executor {
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	env := predeclared()
	env.Freeze()
	return &Executor{
		cfg:         cfg,
		log:         log.With().Str("component", "script").Logger(),
		predeclared: env,
	}
}

// Compile checks that src parses and only references known names,
// without running it.
func (e *Executor) Compile(name, src string) error {
	if _, _, err := starlark.SourceProgram(name+".star", wrap(src), e.predeclared.Has); err != nil {
		return &ExecutionError{Kind: KindCompilation, Script: name, Err: err}
	}
	return nil
}

// Execute runs src over bars. A script that returns no points yields
// StatusEmpty; any failure yields StatusFailed with an *ExecutionError.
func (e *Executor) Execute(ctx context.Context, name, src string, bars []model.Bar) model.Result {
	points, err := e.execute(ctx, name, src, bars)
	if err != nil {
		kind, _ := KindOf(err)
		e.log.Warn().Str("script", name).Str("kind", string(kind)).Err(err).Msg("indicator script failed")
		return model.Result{Status: model.StatusFailed, Points: []model.SeriesPoint{}, Err: err}
	}
	return model.NewResult(points)
}

// Run is the never-failing form: any failure is logged and reads as an
// empty series.
func (e *Executor) Run(src string, bars []model.Bar) []model.SeriesPoint {
	return e.Execute(context.Background(), "inline", src, bars).OrEmpty()
}

func (e *Executor) execute(ctx context.Context, name, src string, bars []model.Bar) (points []model.SeriesPoint, err error) {
	_, prog, err := starlark.SourceProgram(name+".star", wrap(src), e.predeclared.Has)
	if err != nil {
		return nil, &ExecutionError{Kind: KindCompilation, Script: name, Err: err}
	}

	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			e.log.Debug().Str("script", name).Msg(msg)
		},
	}
	thread.SetMaxExecutionSteps(e.cfg.MaxSteps)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			points, err = nil, &ExecutionError{Kind: KindRuntime, Script: name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	globals, err := prog.Init(thread, e.predeclared)
	if err != nil {
		return nil, e.classify(ctx, thread, name, err)
	}
	fn, ok := globals[entryPoint].(starlark.Callable)
	if !ok {
		return nil, &ExecutionError{Kind: KindCompilation, Script: name, Err: errors.New("script did not define a callable body")}
	}

	start := time.Now()
	ret, err := starlark.Call(thread, fn, starlark.Tuple{barsValue(bars)}, nil)
	if err != nil {
		return nil, e.classify(ctx, thread, name, err)
	}
	e.log.Debug().
		Str("script", name).
		Uint64("steps", thread.ExecutionSteps()).
		Dur("elapsed", time.Since(start)).
		Msg("script evaluated")

	points, err = seriesOf(ret)
	if err != nil {
		return nil, &ExecutionError{Kind: KindShape, Script: name, Err: err}
	}
	return points, nil
}

// classify separates budget exhaustion from ordinary evaluation errors.
func (e *Executor) classify(ctx context.Context, thread *starlark.Thread, name string, err error) error {
	if ctx.Err() != nil || thread.ExecutionSteps() >= e.cfg.MaxSteps {
		return &ExecutionError{Kind: KindBudget, Script: name, Err: err}
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		e.log.Debug().Str("script", name).Msg(evalErr.Backtrace())
	}
	return &ExecutionError{Kind: KindRuntime, Script: name, Err: err}
}

// wrap turns a script body into `def indicator(data):`. Leading tabs are
// expanded so mixed indentation still lines up, and a trailing pass keeps
// a comment-only body valid.
func wrap(src string) string {
	var b strings.Builder
	b.Grow(len(src) + 64)
	b.WriteString("def " + entryPoint + "(data):\n")
	for _, line := range strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n") {
		b.WriteString(indent)
		b.WriteString(expandLeadingTabs(line))
		b.WriteByte('\n')
	}
	b.WriteString(indent + "pass\n")
	return b.String()
}

func expandLeadingTabs(line string) string {
	n := 0
	for n < len(line) && line[n] == '\t' {
		n++
	}
	if n == 0 {
		return line
	}
	return strings.Repeat(indent, n) + line[n:]
}
