package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Time is a bar timestamp in unix seconds. It is opaque to every transform:
// indicators copy it from the input bar onto the output point unchanged.
type Time int64

// dayLayout is the business-day form the dashboard's CSV loader emits.
const dayLayout = "2006-01-02"

// ParseTime accepts unix seconds, "YYYY-MM-DD" or RFC3339.
func ParseTime(s string) (Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Time(n), nil
	}
	if t, err := time.Parse(dayLayout, s); err == nil {
		return Time(t.Unix()), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return Time(t.Unix()), nil
	}
	return 0, fmt.Errorf("unrecognised time %q", s)
}

// UTC returns the timestamp as a time.Time in UTC.
func (t Time) UTC() time.Time { return time.Unix(int64(t), 0).UTC() }

// String renders business days (midnight UTC) as YYYY-MM-DD, anything else as RFC3339.
func (t Time) String() string {
	u := t.UTC()
	if u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 {
		return u.Format(dayLayout)
	}
	return u.Format(time.RFC3339)
}

func (t Time) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, int64(t), 10), nil
}

func (t *Time) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := ParseTime(s)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("time: %w", err)
	}
	*t = Time(int64(f))
	return nil
}

// Bar is one observation period (typically a week) for a location.
// The OHLC fields are derived from the weekly update counts; the optional
// fields carry auxiliary ratios and raw counts. An absent optional field
// decodes to 0 and every fallback rule treats 0 as absent.
type Bar struct {
	Time      Time    `json:"time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume,omitempty"`
	Spread    float64 `json:"spread,omitempty"`
	Migration float64 `json:"migration,omitempty"`
	Youth     float64 `json:"youth,omitempty"`
	Workload  float64 `json:"workload,omitempty"`
	RawBio    float64 `json:"raw_bio,omitempty"`
	RawEnrol  float64 `json:"raw_enrol,omitempty"`
}

// BioOrVolume returns raw_bio, falling back to volume, then 0.
func (b *Bar) BioOrVolume() float64 {
	if b.RawBio != 0 {
		return b.RawBio
	}
	return b.Volume
}

// EnrolOrVolume returns raw_enrol, falling back to volume, then 0.
func (b *Bar) EnrolOrVolume() float64 {
	if b.RawEnrol != 0 {
		return b.RawEnrol
	}
	return b.Volume
}

// SortedByTime reports whether bars are in non-decreasing time order.
func SortedByTime(bars []Bar) bool {
	for i := 1; i < len(bars); i++ {
		if bars[i].Time < bars[i-1].Time {
			return false
		}
	}
	return true
}

// LocationBars is a bar sequence keyed by the location it belongs to,
// e.g. "Maharashtra/Pune".
type LocationBars struct {
	Location string `json:"location"`
	Bars     []Bar  `json:"bars"`
}
