package script

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"
	starlarkmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// predeclared is the whole environment a script can see besides the
// Starlark universe. There is no load, no I/O and no clock.
func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"math":  starlarkmath.Module,
		"abs":   starlark.NewBuiltin("abs", builtinAbs),
		"point": starlark.NewBuiltin("point", builtinPoint),
		"ta": &starlarkstruct.Module{
			Name: "ta",
			Members: starlark.StringDict{
				"sma":     rolling("sma", lagBy(-1), talib.Sma),
				"ema":     rolling("ema", lagBy(-1), talib.Ema),
				"rsi":     rolling("rsi", lagBy(0), talib.Rsi),
				"stddev":  rolling("stddev", lagBy(-1), func(in []float64, p int) []float64 { return talib.StdDev(in, p, 1) }),
				"highest": rolling("highest", lagBy(-1), talib.Max),
				"lowest":  rolling("lowest", lagBy(-1), talib.Min),
			},
		},
	}
}

func builtinAbs(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	switch v := x.(type) {
	case starlark.Int:
		if v.Sign() < 0 {
			return starlark.MakeInt(0).Sub(v), nil
		}
		return v, nil
	case starlark.Float:
		return starlark.Float(math.Abs(float64(v))), nil
	default:
		return nil, fmt.Errorf("%s: got %s, want number", fn.Name(), x.Type())
	}
}

// builtinPoint builds the struct form of a series element: point(time, value).
func builtinPoint(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var t, v starlark.Value
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "time", &t, "value", &v); err != nil {
		return nil, err
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"time":  t,
		"value": v,
	}), nil
}

// lagBy returns a look-back of period+d bars.
func lagBy(d int) func(period int) int {
	return func(period int) int { return period + d }
}

// rolling wraps a TA-Lib window function as ta.<name>(values, period). The
// result has one entry per input; entries inside the look-back are None.
func rolling(name string, lookback func(period int) int, calc func(in []float64, period int) []float64) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (_ starlark.Value, err error) {
		var values starlark.Value
		var period int
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "values", &values, "period", &period); err != nil {
			return nil, err
		}
		if period < 1 {
			return nil, fmt.Errorf("%s: period must be positive, got %d", fn.Name(), period)
		}
		in, err := floatsOf(values)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fn.Name(), err)
		}

		out := make([]starlark.Value, len(in))
		for i := range out {
			out[i] = starlark.None
		}
		skip := lookback(period)
		if len(in) <= skip {
			return starlark.NewList(out), nil
		}

		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s: %v", fn.Name(), r)
			}
		}()
		res := calc(in, period)
		for i := skip; i < len(res) && i < len(out); i++ {
			out[i] = starlark.Float(res[i])
		}
		return starlark.NewList(out), nil
	})
}
