package indicator

import "aadhaar-velocity/internal/model"

// DefaultPeriod is the window used by the SMA and EMA presets.
const DefaultPeriod = 14

// SMA returns a simple moving average of close over period bars. The first
// point lands on index period-1. The window is summed newest-first.
func SMA(period int) Func {
	return func(bars []model.Bar) []model.SeriesPoint {
		if period <= 0 || len(bars) < period {
			return emptySeries()
		}
		out := make([]model.SeriesPoint, 0, len(bars)-period+1)
		for i := period - 1; i < len(bars); i++ {
			sum := 0.0
			for j := 0; j < period; j++ {
				sum += bars[i-j].Close
			}
			out = append(out, point(&bars[i], sum/float64(period)))
		}
		return out
	}
}

// EMA returns an exponential moving average of close, k = 2/(period+1).
// The average is seeded with close[0] and the recursion also runs on bar 0,
// so the first emitted value at index period-1 already includes it.
func EMA(period int) Func {
	return func(bars []model.Bar) []model.SeriesPoint {
		if period <= 0 || len(bars) == 0 {
			return emptySeries()
		}
		k := 2 / float64(period+1)
		ema := bars[0].Close
		out := make([]model.SeriesPoint, 0, max(0, len(bars)-period+1))
		for i := range bars {
			ema = bars[i].Close*k + ema*(1-k)
			if i >= period-1 {
				out = append(out, point(&bars[i], ema))
			}
		}
		return out
	}
}
