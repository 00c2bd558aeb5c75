package indicator

import (
	"math"

	"aadhaar-velocity/internal/model"
)

const (
	cointegrationLag = 4
	// hawkesWindow only moves the first output; the ratio reads one bar back.
	hawkesWindow     = 5
	hawkesCap        = 1.5
	hurstWindow      = 10
	residualWindow   = 4
	entropyEpsilon   = 0.001
)

// cointegration measures how far biometric updates drift from the
// enrolments lagged four bars earlier: |bio[i] - enrol[i-4]|. A large
// residual means the leash between the two series snapped.
func cointegration(bars []model.Bar) []model.SeriesPoint {
	if len(bars) <= cointegrationLag {
		return emptySeries()
	}
	out := make([]model.SeriesPoint, 0, len(bars)-cointegrationLag)
	for i := cointegrationLag; i < len(bars); i++ {
		y := bars[i].BioOrVolume()
		x := bars[i-cointegrationLag].EnrolOrVolume()
		out = append(out, point(&bars[i], math.Abs(y-x)))
	}
	return out
}

// hawkesAlpha is a self-excitation proxy: min(1.5, |c[i]|/|c[i-1]|), or 0
// when either side is zero.
func hawkesAlpha(bars []model.Bar) []model.SeriesPoint {
	if len(bars) <= hawkesWindow {
		return emptySeries()
	}
	out := make([]model.SeriesPoint, 0, len(bars)-hawkesWindow)
	for i := hawkesWindow; i < len(bars); i++ {
		vt, prev := math.Abs(bars[i].Close), math.Abs(bars[i-1].Close)
		alpha := 0.0
		if vt > 0 && prev > 0 {
			alpha = math.Min(hawkesCap, vt/prev)
		}
		out = append(out, point(&bars[i], alpha))
	}
	return out
}

// hurst estimates the Hurst exponent over the 10 bars preceding i (bar i
// itself is excluded) as log(R/σ)/log(10), with σ the population standard
// deviation of |close|. Degenerate windows read 0.5; output is clamped to [0,1].
func hurst(bars []model.Bar) []model.SeriesPoint {
	if len(bars) <= hurstWindow {
		return emptySeries()
	}
	out := make([]model.SeriesPoint, 0, len(bars)-hurstWindow)
	subset := make([]float64, hurstWindow)
	for i := hurstWindow; i < len(bars); i++ {
		for j := range subset {
			subset[j] = math.Abs(bars[i-hurstWindow+j].Close)
		}
		mean := 0.0
		for _, v := range subset {
			mean += v
		}
		mean /= hurstWindow
		ss := 0.0
		for _, v := range subset {
			ss += (v - mean) * (v - mean)
		}
		stdev := math.Sqrt(ss / hurstWindow)

		hi, lo := subset[0], subset[0]
		for _, v := range subset[1:] {
			hi = math.Max(hi, v)
			lo = math.Min(lo, v)
		}
		r := hi - lo

		h := 0.5
		if stdev > 0 && r > 0 {
			h = math.Log(r/stdev) / math.Log(hurstWindow)
		}
		if math.IsNaN(h) {
			h = 0.5
		}
		out = append(out, point(&bars[i], math.Max(0, math.Min(1, h))))
	}
	return out
}

// regimeEntropy is the two-outcome Shannon entropy (bits) of |open| and
// |close|, each nudged by 0.001 so a zero bar stays defined.
func regimeEntropy(bars []model.Bar) []model.SeriesPoint {
	out := make([]model.SeriesPoint, len(bars))
	for i := range bars {
		v1 := math.Abs(bars[i].Open) + entropyEpsilon
		v2 := math.Abs(bars[i].Close) + entropyEpsilon
		total := v1 + v2
		p1, p2 := v1/total, v2/total
		e := -(p1*math.Log2(p1) + p2*math.Log2(p2))
		if math.IsNaN(e) {
			e = 0
		}
		out[i] = point(&bars[i], e)
	}
	return out
}

// residualAnomaly subtracts the mean close of the previous four bars, a
// naive monthly trend, from the current close.
func residualAnomaly(bars []model.Bar) []model.SeriesPoint {
	if len(bars) <= residualWindow {
		return emptySeries()
	}
	out := make([]model.SeriesPoint, 0, len(bars)-residualWindow)
	for i := residualWindow; i < len(bars); i++ {
		trend := 0.0
		for j := i - residualWindow; j < i; j++ {
			trend += bars[j].Close
		}
		trend /= residualWindow
		out = append(out, point(&bars[i], bars[i].Close-trend))
	}
	return out
}
