package model

import "strings"

// SeriesPoint is one output sample of an indicator.
type SeriesPoint struct {
	Time  Time    `json:"time"`
	Value float64 `json:"value"`
}

// Kind says where a series is drawn: on top of the price bars or in its own pane.
type Kind string

const (
	KindOverlay Kind = "overlay"
	KindPane    Kind = "pane"
)

// ParseKind scrapes the "@type:" header out of a script. Only a literal
// "@type: pane" selects the pane; anything else, including no header, is an overlay.
func ParseKind(script string) Kind {
	if strings.Contains(script, "@type: pane") {
		return KindPane
	}
	return KindOverlay
}

// IndicatorDefinition is a user-visible indicator: either a named preset or a
// script body evaluated by the script executor.
type IndicatorDefinition struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name" validate:"required,max=128"`
	Script string `json:"script,omitempty" yaml:"script" validate:"required_without=Preset"`
	Preset string `json:"preset,omitempty" yaml:"preset"`
	Kind   Kind   `json:"kind" yaml:"kind" default:"overlay" validate:"omitempty,oneof=overlay pane"`
}

// Status is the outcome class of one indicator computation.
type Status string

const (
	StatusOK     Status = "ok"
	StatusEmpty  Status = "empty"  // not enough bars; not an error
	StatusFailed Status = "failed" // the script failed; Err says why
)

// Result is the typed outcome of running one indicator over a bar sequence.
type Result struct {
	Status Status
	Points []SeriesPoint
	Err    error
}

// OrEmpty collapses a failure into an empty series, the contract callers
// that only draw charts rely on.
func (r Result) OrEmpty() []SeriesPoint {
	if r.Status != StatusOK {
		return []SeriesPoint{}
	}
	return r.Points
}

// NewResult classifies a point slice as ok or empty.
func NewResult(points []SeriesPoint) Result {
	if len(points) == 0 {
		return Result{Status: StatusEmpty, Points: []SeriesPoint{}}
	}
	return Result{Status: StatusOK, Points: points}
}

// IndicatorResult is what the service hands to the API and the live feed.
type IndicatorResult struct {
	Name   string        `json:"name"`
	Kind   Kind          `json:"kind"`
	Status Status        `json:"status"`
	Error  string        `json:"error,omitempty"`
	Points []SeriesPoint `json:"points"`
}
