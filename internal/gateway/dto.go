package gateway

import (
	"encoding/json"

	"aadhaar-velocity/internal/model"
)

// Message types on the wire. Client to server: SUBSCRIBE, UNSUBSCRIBE and
// {"ping": n}. Server to client: SNAPSHOT, UPDATE, ERROR and pong.
const (
	TypeSubscribe   = "SUBSCRIBE"
	TypeUnsubscribe = "UNSUBSCRIBE"
	TypeSnapshot    = "SNAPSHOT"
	TypeUpdate      = "UPDATE"
	TypeError       = "ERROR"
	TypePong        = "pong"
)

// SubscribeMsg asks for a location's indicator results now and on every
// bar update. Indicators are preset or stored definition names.
type SubscribeMsg struct {
	Type       string   `json:"type"`
	ReqID      string   `json:"req_id,omitempty"`
	Location   string   `json:"location"`
	Indicators []string `json:"indicators"`
}

// UnsubscribeMsg stops updates for a location.
type UnsubscribeMsg struct {
	Type     string `json:"type"`
	Location string `json:"location"`
}

// SnapshotResponse answers a SUBSCRIBE.
type SnapshotResponse struct {
	Type     string                  `json:"type"`
	ReqID    string                  `json:"req_id,omitempty"`
	Location string                  `json:"location"`
	Seq      int64                   `json:"seq"`
	Results  []model.IndicatorResult `json:"results"`
}

// UpdateEnvelope is pushed after a location's bars change.
type UpdateEnvelope struct {
	Type     string          `json:"type"`
	Location string          `json:"location"`
	Seq      int64           `json:"seq"`
	TS       string          `json:"ts"`
	Results  json.RawMessage `json:"results"`
}

// ErrorResponse reports a rejected request.
type ErrorResponse struct {
	Type  string `json:"type"`
	ReqID string `json:"req_id,omitempty"`
	Error string `json:"error"`
}
