package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"aadhaar-velocity/internal/velocity"
)

const (
	webhookTimeout = 10 * time.Second
	// EventHeader carries the alert event so receivers can route without
	// decoding the body.
	EventHeader = "X-Velocity-Event"
)

// WebhookNotifier posts velocity events as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    zerolog.Logger
	now    func() time.Time
}

// NewWebhookNotifier posts to url.
func NewWebhookNotifier(url string, log zerolog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
		log:    log.With().Str("component", "webhook").Logger(),
		now:    time.Now,
	}
}

// velocityEvent is the webhook body.
type velocityEvent struct {
	Event      string          `json:"event"`
	Level      AlertLevel      `json:"level"`
	Location   string          `json:"location"`
	Week       string          `json:"week"`
	Summary    string          `json:"summary"`
	Reading    velocity.Point  `json:"reading"`
	Thresholds eventThresholds `json:"thresholds"`
	SentAt     int64           `json:"sent_at"`
}

type eventThresholds struct {
	Spike         float64 `json:"school_admission_spike"`
	ExclusionBand float64 `json:"exclusion_band"`
}

func (w *WebhookNotifier) event(alert Alert) velocityEvent {
	return velocityEvent{
		Event:    alert.Event,
		Level:    alert.Level,
		Location: alert.Location,
		Week:     alert.Time.String(),
		Summary:  alert.Title + ": " + alert.Message,
		Reading:  alert.Reading,
		Thresholds: eventThresholds{
			Spike:         velocity.SpikeThreshold,
			ExclusionBand: velocity.ExclusionBand,
		},
		SentAt: w.now().Unix(),
	}
}

// Send posts one event. Any non-2xx answer is an error carrying the start
// of the response body.
func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(w.event(alert))
	if err != nil {
		return fmt.Errorf("webhook %s: %w", alert.Event, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook %s: %w", alert.Event, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, alert.Event)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", alert.Event, err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook %s for %s: status %d: %s",
			alert.Event, alert.Location, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	w.log.Debug().
		Str("event", alert.Event).
		Str("location", alert.Location).
		Str("week", alert.Time.String()).
		Msg("velocity event delivered")
	return nil
}
