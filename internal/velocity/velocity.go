// Package velocity computes first-difference velocities of the raw
// enrolment and biometric counts and flags the two regimes analysts look
// for: school-admission spikes and exclusion zones.
package velocity

import (
	"math"

	"aadhaar-velocity/internal/model"
)

const (
	// SpikeThreshold is the biometric velocity above which a bar reads as a
	// school-admission spike.
	SpikeThreshold = 20
	// ExclusionBand bounds |enrolment velocity| for an exclusion zone.
	ExclusionBand = 2
)

// Point is the velocity reading at one bar.
type Point struct {
	Time                 model.Time `json:"time"`
	VelocityEnrolment    float64    `json:"velocity_enrolment"`
	VelocityBiometric    float64    `json:"velocity_biometric"`
	SchoolAdmissionSpike bool       `json:"is_school_admission_spike"`
	ExclusionZone        bool       `json:"is_exclusion_zone"`
}

// Analyze returns one point per bar after the first. Absent raw counts
// read as 0.
func Analyze(bars []model.Bar) []Point {
	if len(bars) < 2 {
		return []Point{}
	}
	out := make([]Point, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		cur, prev := &bars[i], &bars[i-1]
		ve := cur.RawEnrol - prev.RawEnrol
		vb := cur.RawBio - prev.RawBio
		out = append(out, Point{
			Time:                 cur.Time,
			VelocityEnrolment:    ve,
			VelocityBiometric:    vb,
			SchoolAdmissionSpike: vb > SpikeThreshold,
			ExclusionZone:        math.Abs(ve) < ExclusionBand,
		})
	}
	return out
}

// Summary counts flagged bars.
type Summary struct {
	Bars           int `json:"bars"`
	Spikes         int `json:"spikes"`
	ExclusionZones int `json:"exclusion_zones"`
}

// Summarize tallies the flags in pts.
func Summarize(pts []Point) Summary {
	s := Summary{Bars: len(pts)}
	for _, p := range pts {
		if p.SchoolAdmissionSpike {
			s.Spikes++
		}
		if p.ExclusionZone {
			s.ExclusionZones++
		}
	}
	return s
}
