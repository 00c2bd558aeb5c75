// Package indicator provides the preset indicator library and the engine
// that evaluates indicator definitions over bar sequences.
//
// Every preset is an ordinary Go function from bars to a series. Each is
// also published as script text so users can read, copy and edit it; the
// script and the function compute the same values.
package indicator

import "aadhaar-velocity/internal/model"

// Func is a pure transform from bars to an indicator series. It never
// mutates its input and returns an empty, non-nil slice when there is not
// enough data.
type Func func(bars []model.Bar) []model.SeriesPoint

// PresetID identifies one entry of the closed preset catalog.
type PresetID int

const (
	PresetSMA PresetID = iota
	PresetEMA
	PresetCohortSpread
	PresetFamilyMigration
	PresetYouthDependency
	PresetBiometricDebt
	PresetCointegration
	PresetHawkes
	PresetHurst
	PresetEntropy
	PresetVelocityAcceleration
	PresetPearson
	PresetBenford
	PresetResidual
	PresetLorentzian

	presetCount
)

// String returns the catalog name.
func (id PresetID) String() string {
	if id < 0 || id >= presetCount {
		return "unknown"
	}
	return catalog[id].Name
}

// Preset is a named, pre-authored indicator.
type Preset struct {
	ID     PresetID   `json:"-"`
	Name   string     `json:"name"`
	Kind   model.Kind `json:"kind"`
	Script string     `json:"script"`
	Func   Func       `json:"-"`
}

// Compute runs the preset.
func (p Preset) Compute(bars []model.Bar) []model.SeriesPoint {
	return p.Func(bars)
}

func point(b *model.Bar, v float64) model.SeriesPoint {
	return model.SeriesPoint{Time: b.Time, Value: v}
}

func emptySeries() []model.SeriesPoint { return []model.SeriesPoint{} }
