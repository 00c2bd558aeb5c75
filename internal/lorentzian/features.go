package lorentzian

import (
	"math"

	"aadhaar-velocity/internal/model"
)

// Features is the per-bar embedding used for neighbour search.
type Features struct {
	F1 float64 `json:"f1"` // cohort spread x100
	F2 float64 `json:"f2"` // family migration x100
	F3 float64 `json:"f3"` // youth ratio x10
	F4 float64 `json:"f4"` // close scaled to [0,100] over the whole input
}

// ExtractFeatures embeds every bar. The close bounds are computed once over
// the entire input, so f4 of an early bar depends on later bars.
func ExtractFeatures(bars []model.Bar) []Features {
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range bars {
		lo = math.Min(lo, bars[i].Close)
		hi = math.Max(hi, bars[i].Close)
	}

	out := make([]Features, len(bars))
	for i := range bars {
		out[i] = Features{
			F1: bars[i].Spread * 100,
			F2: bars[i].Migration * 100,
			F3: bars[i].Youth * 10,
			F4: normalize(bars[i].Close, lo, hi),
		}
	}
	return out
}

func normalize(v, lo, hi float64) float64 {
	if hi == lo {
		return 50
	}
	return (v - lo) / (hi - lo) * 100
}

// Distance is the Lorentzian distance Σ log(1+|Δf|) over the first n features (2..4).
func Distance(a, b Features, n int) float64 {
	d := math.Log(1+math.Abs(a.F1-b.F1)) + math.Log(1+math.Abs(a.F2-b.F2))
	if n >= 3 {
		d += math.Log(1 + math.Abs(a.F3-b.F3))
	}
	if n >= 4 {
		d += math.Log(1 + math.Abs(a.F4-b.F4))
	}
	return d
}
