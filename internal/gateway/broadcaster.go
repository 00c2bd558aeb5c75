package gateway

import (
	"encoding/json"
	"strconv"
	"time"

	"aadhaar-velocity/internal/model"
)

// buildUpdate hand-crafts the UPDATE envelope so the results array is
// marshalled once and shared by every client in a subscriber group.
func buildUpdate(location string, seq int64, now time.Time, results []model.IndicatorResult) ([]byte, error) {
	data, err := json.Marshal(results)
	if err != nil {
		return nil, err
	}
	loc, err := json.Marshal(location)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(loc)+len(data)+96)
	buf = append(buf, `{"type":"`+TypeUpdate+`","location":`...)
	buf = append(buf, loc...)
	buf = append(buf, `,"seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","results":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')
	return buf, nil
}

// fanOut queues env on every client without blocking. A client whose send
// buffer is full misses this update. It returns the number delivered.
func (h *Hub) fanOut(clients []*Client, env []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range clients {
		if !h.clients[c] {
			continue
		}
		select {
		case c.send <- env:
			n++
		default:
		}
	}
	return n
}

// SendJSON queues v for one client.
func SendJSON(c *Client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.hub.log.Error().Err(err).Msg("json marshal error")
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.log.Warn().Msg("client send buffer full, dropping message")
	}
}

// SendError sends an error response to the client.
func SendError(c *Client, reqID, errMsg string) {
	SendJSON(c, ErrorResponse{Type: TypeError, ReqID: reqID, Error: errMsg})
}
