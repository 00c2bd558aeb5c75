package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 4096
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Per-client subscriptions keyed by location.
	subMu sync.RWMutex
	subs  map[string]*Subscription
}

// Subscription is one client's interest in a location.
type Subscription struct {
	Location   string
	Indicators []string
}

func (c *Client) subscription(location string) *Subscription {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subs[location]
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Coalesce queued messages into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		c.hub.log.Info().Msg("ws client disconnected")
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var base struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &base) != nil {
			SendError(c, "", "invalid message")
			continue
		}

		switch base.Type {
		case TypeSubscribe:
			var sub SubscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				SendError(c, "", "invalid SUBSCRIBE: "+err.Error())
				continue
			}
			if l := c.hub.Limiter; l != nil && !l.Allow() {
				SendError(c, sub.ReqID, "rate limit exceeded")
				continue
			}
			// Subscribes run one at a time per connection.
			c.handleSubscribe(sub)

		case TypeUnsubscribe:
			var unsub UnsubscribeMsg
			if err := json.Unmarshal(msg, &unsub); err != nil {
				continue
			}
			c.handleUnsubscribe(unsub)

		default:
			if base.Ping > 0 {
				SendJSON(c, map[string]any{
					"type":      TypePong,
					"ping":      base.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				continue
			}
			SendError(c, "", "unknown message type "+base.Type)
		}
	}
}

// handleSubscribe stores the subscription and answers with a snapshot of
// the current results.
func (c *Client) handleSubscribe(msg SubscribeMsg) {
	if msg.Location == "" || len(msg.Indicators) == 0 {
		SendError(c, msg.ReqID, "location and indicators are required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), computeTimeout)
	defer cancel()
	results, err := c.hub.computer.ComputeNamed(ctx, msg.Location, msg.Indicators)
	if err != nil {
		SendError(c, msg.ReqID, err.Error())
		return
	}

	c.subMu.Lock()
	c.subs[msg.Location] = &Subscription{Location: msg.Location, Indicators: msg.Indicators}
	c.subMu.Unlock()

	SendJSON(c, SnapshotResponse{
		Type:     TypeSnapshot,
		ReqID:    msg.ReqID,
		Location: msg.Location,
		Seq:      c.hub.currentSeq(msg.Location),
		Results:  results,
	})
	c.hub.log.Debug().Str("location", msg.Location).Strs("indicators", msg.Indicators).Msg("client subscribed")
}

func (c *Client) handleUnsubscribe(msg UnsubscribeMsg) {
	c.subMu.Lock()
	delete(c.subs, msg.Location)
	c.subMu.Unlock()
	c.hub.log.Debug().Str("location", msg.Location).Msg("client unsubscribed")
}
