package indicator

import "aadhaar-velocity/internal/model"

// fieldSeries emits one point per bar carrying an auxiliary field as-is.
func fieldSeries(get func(b *model.Bar) float64) Func {
	return func(bars []model.Bar) []model.SeriesPoint {
		out := make([]model.SeriesPoint, len(bars))
		for i := range bars {
			out[i] = point(&bars[i], get(&bars[i]))
		}
		return out
	}
}

var (
	cohortSpread    = fieldSeries(func(b *model.Bar) float64 { return b.Spread })
	familyMigration = fieldSeries(func(b *model.Bar) float64 { return b.Migration })
	youthDependency = fieldSeries(func(b *model.Bar) float64 { return b.Youth })
	biometricDebt   = fieldSeries(func(b *model.Bar) float64 { return b.Workload })
)

// velocityAcceleration is the first difference of close.
func velocityAcceleration(bars []model.Bar) []model.SeriesPoint {
	if len(bars) < 2 {
		return emptySeries()
	}
	out := make([]model.SeriesPoint, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		out = append(out, point(&bars[i], bars[i].Close-bars[i-1].Close))
	}
	return out
}
