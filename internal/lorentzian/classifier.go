// Package lorentzian implements an approximate k-nearest-neighbour
// directional classifier over weekly identity-update bars.
//
// Each bar is embedded as a small feature vector (cohort spread, family
// migration, youth ratio and normalised close). For every bar past the
// warm-up, the classifier scans recent history nearest-first, admits
// neighbours at a 4-bar stride under a monotone distance threshold, and
// sums the forward-looking labels of the neighbours it kept.
package lorentzian

import (
	"fmt"
	"math"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"aadhaar-velocity/internal/model"
)

const (
	// labelHorizon is how many bars ahead a training label looks.
	labelHorizon = 4
	// scanStride: only every 4th offset may become a neighbour.
	scanStride = 4

	upThreshold   = 1.01
	downThreshold = 0.99
)

// Settings configures a classification run.
type Settings struct {
	NeighborsCount int `json:"neighbors_count" default:"8" validate:"gte=1,lte=64"`
	MaxBarsBack    int `json:"max_bars_back" default:"50" validate:"gte=0,lte=5000"`
	FeatureCount   int `json:"feature_count" default:"4" validate:"gte=2,lte=4"`
}

var validate = validator.New()

// DefaultSettings returns {NeighborsCount: 8, MaxBarsBack: 50, FeatureCount: 4}.
func DefaultSettings() Settings {
	var s Settings
	if err := defaults.Set(&s); err != nil {
		panic(fmt.Sprintf("lorentzian defaults: %v", err))
	}
	return s
}

// Validate checks the settings ranges.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("lorentzian settings: %w", err)
	}
	return nil
}

// Signal is the direction implied by a prediction.
type Signal string

const (
	SignalAccelerate Signal = "accelerate"
	SignalDecelerate Signal = "decelerate"
	SignalNeutral    Signal = "neutral"
)

// SignalOf maps a label sum onto a direction.
func SignalOf(sum int) Signal {
	switch {
	case sum > 0:
		return SignalAccelerate
	case sum < 0:
		return SignalDecelerate
	default:
		return SignalNeutral
	}
}

// Prediction is the classifier output for one bar.
type Prediction struct {
	Time   model.Time `json:"time"`
	Value  int        `json:"value"`
	Signal Signal     `json:"signal"`
}

// Classify runs the classifier over bars. It returns an empty slice when
// len(bars) < MaxBarsBack+5; that is "no signal yet", not an error.
// Only invalid settings produce an error.
func Classify(bars []model.Bar, s Settings) ([]Prediction, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if len(bars) < s.MaxBarsBack+5 {
		return []Prediction{}, nil
	}

	features := ExtractFeatures(bars)
	labels := TrainingLabels(bars)

	out := make([]Prediction, 0, len(bars)-s.MaxBarsBack)
	for b := s.MaxBarsBack; b < len(bars); b++ {
		sum := predict(features, labels, b, s, nil)
		out = append(out, Prediction{
			Time:   bars[b].Time,
			Value:  sum,
			Signal: SignalOf(sum),
		})
	}
	return out, nil
}

// Points flattens predictions into a plottable series.
func Points(preds []Prediction) []model.SeriesPoint {
	out := make([]model.SeriesPoint, len(preds))
	for i, p := range preds {
		out[i] = model.SeriesPoint{Time: p.Time, Value: float64(p.Value)}
	}
	return out
}

// TrainingLabels labels each bar by where close goes labelHorizon bars later:
// +1 above 1.01x, -1 below 0.99x, else 0. The trailing bars have no future and get 0.
func TrainingLabels(bars []model.Bar) []int {
	labels := make([]int, len(bars))
	for i := 0; i+labelHorizon < len(bars); i++ {
		future, current := bars[i+labelHorizon].Close, bars[i].Close
		switch {
		case future > current*upThreshold:
			labels[i] = 1
		case future < current*downThreshold:
			labels[i] = -1
		}
	}
	return labels
}

// visitFunc observes every scanned candidate: the scan offset, its distance,
// whether it was admitted and the neighbour count after the step.
type visitFunc func(offset int, dist float64, admitted bool, neighbors int)

// predict runs the neighbour search for bar b and returns the label sum.
//
// Scan order, the >= admission comparator and the eviction index must not
// change: predictions are only reproducible when all three match exactly.
func predict(features []Features, labels []int, b int, s Settings, visit visitFunc) int {
	current := features[b]
	distances := make([]float64, 0, s.NeighborsCount+1)
	predictions := make([]int, 0, s.NeighborsCount+1)
	last := -1.0
	evictAt := int(math.Round(float64(s.NeighborsCount) * 0.75))

	for i := 0; i < s.MaxBarsBack-1; i++ {
		hist := b - 1 - i
		if hist < 0 {
			continue
		}
		d := Distance(current, features[hist], s.FeatureCount)
		admitted := d >= last && i%scanStride == 0
		if admitted {
			last = d
			distances = append(distances, d)
			predictions = append(predictions, labels[hist])
			if len(predictions) > s.NeighborsCount {
				last = distances[evictAt]
				distances = distances[1:]
				predictions = predictions[1:]
			}
		}
		if visit != nil {
			visit(i, d, admitted, len(predictions))
		}
	}

	sum := 0
	for _, p := range predictions {
		sum += p
	}
	return sum
}
