package script

import (
	"fmt"
	"math"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"aadhaar-velocity/internal/model"
)

// barsValue converts bars to a frozen list of structs. Absent optional
// fields appear as 0.0, so `d.raw_bio or d.volume` falls through the way
// the published presets expect.
func barsValue(bars []model.Bar) *starlark.List {
	elems := make([]starlark.Value, len(bars))
	for i := range bars {
		elems[i] = barValue(&bars[i])
	}
	list := starlark.NewList(elems)
	list.Freeze()
	return list
}

func barValue(b *model.Bar) *starlarkstruct.Struct {
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"time":      starlark.MakeInt64(int64(b.Time)),
		"open":      starlark.Float(b.Open),
		"high":      starlark.Float(b.High),
		"low":       starlark.Float(b.Low),
		"close":     starlark.Float(b.Close),
		"volume":    starlark.Float(b.Volume),
		"spread":    starlark.Float(b.Spread),
		"migration": starlark.Float(b.Migration),
		"youth":     starlark.Float(b.Youth),
		"workload":  starlark.Float(b.Workload),
		"raw_bio":   starlark.Float(b.RawBio),
		"raw_enrol": starlark.Float(b.RawEnrol),
	})
}

// seriesOf validates a script's return value. It must be a list or tuple
// whose elements are {"time", "value"} dicts, structs with those fields,
// or (time, value) pairs. Elements whose value is None are skipped.
func seriesOf(v starlark.Value) ([]model.SeriesPoint, error) {
	switch v.(type) {
	case *starlark.List, starlark.Tuple:
	default:
		return nil, fmt.Errorf("result is %s, want list", v.Type())
	}

	out := make([]model.SeriesPoint, 0, starlark.Len(v))
	iter := starlark.Iterate(v)
	defer iter.Done()

	var elem starlark.Value
	for i := 0; iter.Next(&elem); i++ {
		tv, vv, err := fieldsOf(elem)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		if vv == starlark.None {
			continue
		}
		t, err := timeOf(tv)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		f, ok := starlark.AsFloat(vv)
		if !ok {
			return nil, fmt.Errorf("element %d: value is %s, want number", i, vv.Type())
		}
		out = append(out, model.SeriesPoint{Time: t, Value: f})
	}
	return out, nil
}

func fieldsOf(elem starlark.Value) (tv, vv starlark.Value, err error) {
	switch e := elem.(type) {
	case *starlark.Dict:
		var found bool
		if tv, found, _ = e.Get(starlark.String("time")); !found {
			return nil, nil, fmt.Errorf("dict has no %q key", "time")
		}
		if vv, found, _ = e.Get(starlark.String("value")); !found {
			return nil, nil, fmt.Errorf("dict has no %q key", "value")
		}
		return tv, vv, nil
	case *starlarkstruct.Struct:
		if tv, err = e.Attr("time"); err != nil || tv == nil {
			return nil, nil, fmt.Errorf("struct has no time field")
		}
		if vv, err = e.Attr("value"); err != nil || vv == nil {
			return nil, nil, fmt.Errorf("struct has no value field")
		}
		return tv, vv, nil
	case starlark.Tuple:
		if len(e) != 2 {
			return nil, nil, fmt.Errorf("tuple has %d items, want (time, value)", len(e))
		}
		return e[0], e[1], nil
	default:
		return nil, nil, fmt.Errorf("%s is not a point", elem.Type())
	}
}

func timeOf(v starlark.Value) (model.Time, error) {
	switch t := v.(type) {
	case starlark.Int:
		n, ok := t.Int64()
		if !ok {
			return 0, fmt.Errorf("time %s out of range", t)
		}
		return model.Time(n), nil
	case starlark.Float:
		if math.IsNaN(float64(t)) || math.IsInf(float64(t), 0) {
			return 0, fmt.Errorf("time %s is not finite", t)
		}
		return model.Time(int64(t)), nil
	case starlark.String:
		return model.ParseTime(string(t))
	default:
		return 0, fmt.Errorf("time is %s, want int", v.Type())
	}
}

// floatsOf converts a sequence of numbers for the ta helpers.
func floatsOf(v starlark.Value) ([]float64, error) {
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("got %s, want sequence of numbers", v.Type())
	}
	var out []float64
	if n := starlark.Len(v); n > 0 {
		out = make([]float64, 0, n)
	}
	iter := iterable.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		f, ok := starlark.AsFloat(x)
		if !ok {
			return nil, fmt.Errorf("element is %s, want number", x.Type())
		}
		out = append(out, f)
	}
	return out, nil
}
