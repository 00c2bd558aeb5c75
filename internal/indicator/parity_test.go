package indicator

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aadhaar-velocity/internal/model"
	"aadhaar-velocity/internal/script"
)

// district builds a weekly series with every optional field populated and
// enough movement to exercise all three classifier labels.
func district(n int) []model.Bar {
	bars := make([]model.Bar, n)
	for i := range bars {
		f := float64(i)
		c := 100 + 12*math.Sin(f*0.7) + f*0.8
		bars[i] = model.Bar{
			Time:      model.Time(1704067200 + i*week),
			Open:      c - 2*math.Cos(f),
			High:      c + 3,
			Low:       c - 3,
			Close:     c,
			Volume:    float64((i*7919)%9000 + 100),
			Spread:    math.Sin(f*0.3) * 0.4,
			Migration: math.Cos(f*0.2) * 0.3,
			Youth:     0.5 + 0.1*math.Sin(f*0.5),
			Workload:  f * 3,
			RawBio:    float64((i*131)%700 + 50),
			RawEnrol:  float64((i*97)%500 + 20),
		}
	}
	return bars
}

func TestPresetScripts_MatchCompiledFunctions(t *testing.T) {
	exec := script.New(script.Config{}, zerolog.Nop())
	for _, n := range []int{0, 4, 13, 30, 80} {
		bars := district(n)
		for _, p := range Catalog() {
			res := exec.Execute(context.Background(), p.Name, p.Script, bars)
			require.NotEqual(t, model.StatusFailed, res.Status, "%s n=%d: %v", p.Name, n, res.Err)

			want := p.Compute(bars)
			require.Len(t, res.Points, len(want), "%s n=%d", p.Name, n)
			for i := range want {
				assert.Equal(t, want[i].Time, res.Points[i].Time, "%s n=%d i=%d", p.Name, n, i)
				assert.InDelta(t, want[i].Value, res.Points[i].Value, 1e-9, "%s n=%d i=%d", p.Name, n, i)
			}
		}
	}
}

func TestPresetScripts_Compile(t *testing.T) {
	exec := script.New(script.Config{}, zerolog.Nop())
	for name, src := range Scripts() {
		assert.NoError(t, exec.Compile(name, src), name)
	}
}

func TestEngine_WithExecutor(t *testing.T) {
	exec := script.New(script.Config{}, zerolog.Nop())
	e := NewEngine(exec, 2)
	defs := []model.IndicatorDefinition{
		{Name: "close-x2", Script: "return [point(d.time, d.close * 2) for d in data]"},
		{Name: "broken", Script: "return 1"},
	}
	out, err := e.ComputeAll(context.Background(), defs, district(6))
	require.NoError(t, err)
	assert.Equal(t, model.StatusOK, out[0].Status)
	assert.Len(t, out[0].Points, 6)
	assert.Equal(t, model.StatusFailed, out[1].Status)
	assert.Contains(t, out[1].Error, "shape")
	assert.NotNil(t, out[1].Points)
}
