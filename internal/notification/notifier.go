// Package notification delivers velocity alerts to external channels.
package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"aadhaar-velocity/internal/model"
	"aadhaar-velocity/internal/velocity"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo    AlertLevel = "INFO"
	AlertWarning AlertLevel = "WARNING"
)

// Alert events.
const (
	EventSchoolAdmissionSpike = "school_admission_spike"
	EventExclusionZone        = "exclusion_zone"
)

// Alert represents a notification to be sent.
type Alert struct {
	Event    string     `json:"event"`
	Level    AlertLevel `json:"level"`
	Title    string     `json:"title"`
	Message  string     `json:"message"`
	Location string     `json:"location"`
	Time     model.Time `json:"time"`

	// Reading is the velocity point that raised the alert.
	Reading velocity.Point `json:"reading"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the log.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "alerts").Logger()}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	ev := n.log.Info()
	if alert.Level != AlertInfo {
		ev = n.log.Warn()
	}
	ev.Str("level", string(alert.Level)).
		Str("location", alert.Location).
		Str("week", alert.Time.String()).
		Str("event", alert.Event).
		Float64("velocity_enrolment", alert.Reading.VelocityEnrolment).
		Float64("velocity_biometric", alert.Reading.VelocityBiometric).
		Msg(alert.Message)
	return nil
}

// Multi fans an alert out to several notifiers. Every notifier is tried;
// failures are joined.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// VelocityAlerts turns the flagged points of a velocity series into alerts.
// Only points whose time is in weeks are considered; a nil weeks means all.
func VelocityAlerts(location string, pts []velocity.Point, weeks map[model.Time]bool) []Alert {
	var out []Alert
	for _, p := range pts {
		if weeks != nil && !weeks[p.Time] {
			continue
		}
		if p.SchoolAdmissionSpike {
			out = append(out, Alert{
				Event:    EventSchoolAdmissionSpike,
				Level:    AlertWarning,
				Title:    "School admission spike",
				Message:  fmt.Sprintf("biometric updates rose by %.0f in one week", p.VelocityBiometric),
				Location: location,
				Time:     p.Time,
				Reading:  p,
			})
		}
		if p.ExclusionZone {
			out = append(out, Alert{
				Event:    EventExclusionZone,
				Level:    AlertInfo,
				Title:    "Exclusion zone",
				Message:  fmt.Sprintf("enrolment moved by %.1f, below the %.0f band", p.VelocityEnrolment, float64(velocity.ExclusionBand)),
				Location: location,
				Time:     p.Time,
				Reading:  p,
			})
		}
	}
	return out
}
