package indicator

import (
	"math"
	"strconv"

	"aadhaar-velocity/internal/model"
)

const (
	pearsonWindow = 6
	pearsonLag    = 4
	benfordWindow = 12
)

// benfordExpected[d] is the Benford probability of leading digit d.
var benfordExpected = [10]float64{0, 0.301, 0.176, 0.125, 0.097, 0.079, 0.067, 0.058, 0.051, 0.046}

// laggedPearson correlates enrolments over bars [i-10, i-5] with biometric
// updates over bars [i-6, i-1]. Either series falls back to volume when
// its raw count is absent. Degenerate windows read 0.
func laggedPearson(bars []model.Bar) []model.SeriesPoint {
	start := pearsonWindow + pearsonLag
	if len(bars) <= start {
		return emptySeries()
	}
	out := make([]model.SeriesPoint, 0, len(bars)-start)
	xs := make([]float64, pearsonWindow)
	ys := make([]float64, pearsonWindow)
	for i := start; i < len(bars); i++ {
		for j := 0; j < pearsonWindow; j++ {
			xs[j] = bars[i-start+j].EnrolOrVolume()
			ys[j] = bars[i-pearsonWindow+j].BioOrVolume()
		}
		out = append(out, point(&bars[i], Pearson(xs, ys)))
	}
	return out
}

// Pearson returns the correlation coefficient of two equal-length samples,
// or 0 when either has zero variance or the result is not a number.
func Pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n == 0 || len(ys) != n {
		return 0
	}
	var meanX, meanY float64
	for j := 0; j < n; j++ {
		meanX += xs[j]
		meanY += ys[j]
	}
	meanX /= float64(n)
	meanY /= float64(n)

	var num, denX, denY float64
	for j := 0; j < n; j++ {
		dx, dy := xs[j]-meanX, ys[j]-meanY
		num += dx * dy
		denX += dx * dx
		denY += dy * dy
	}
	if !(denX > 0 && denY > 0) {
		return 0
	}
	r := num / math.Sqrt(denX*denY)
	if math.IsNaN(r) {
		return 0
	}
	return r
}

// benfordFilter scores how far the leading digits of the previous 12
// volumes stray from Benford's law, as the mean absolute deviation over
// digits 1-9. Higher reads as more artificial.
func benfordFilter(bars []model.Bar) []model.SeriesPoint {
	if len(bars) <= benfordWindow {
		return emptySeries()
	}
	out := make([]model.SeriesPoint, 0, len(bars)-benfordWindow)
	for i := benfordWindow; i < len(bars); i++ {
		var counts [10]int
		for j := i - benfordWindow; j < i; j++ {
			if d := LeadingDigit(bars[j].Volume); d > 0 {
				counts[d]++
			}
		}
		out = append(out, point(&bars[i], BenfordMAD(counts, benfordWindow)))
	}
	return out
}

// BenfordMAD is Σ_{d=1..9} |counts[d]/n - benford[d]| / 9.
func BenfordMAD(counts [10]int, n int) float64 {
	mad := 0.0
	for d := 1; d <= 9; d++ {
		mad += math.Abs(float64(counts[d])/float64(n) - benfordExpected[d])
	}
	return mad / 9
}

// LeadingDigit returns the first significant digit of v as the default
// number-to-text rendering shows it. Values in [1e-6, 1) render with a
// leading zero and so report 0, as do zero, negatives and non-finite values.
func LeadingDigit(v float64) int {
	if !(v >= 1 || (v > 0 && v < 1e-6)) {
		return 0
	}
	c := strconv.FormatFloat(v, 'e', -1, 64)[0]
	if c < '1' || c > '9' {
		return 0
	}
	return int(c - '0')
}
