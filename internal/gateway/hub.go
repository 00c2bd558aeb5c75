package gateway

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"aadhaar-velocity/internal/model"
)

const (
	sendBuffer     = 256
	publishBuffer  = 256
	computeTimeout = 10 * time.Second
)

// Computer evaluates named indicators over a location's stored bars.
type Computer interface {
	ComputeNamed(ctx context.Context, location string, names []string) ([]model.IndicatorResult, error)
}

// Hub manages WebSocket clients and pushes recomputed indicator results
// to every client subscribed to a location whose bars changed.
type Hub struct {
	computer Computer
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]bool
	seqs    map[string]int64 // per-location update sequence

	updates chan string

	// Optional hooks for metrics.
	OnClientCount func(n int)
	OnPush        func(n int)

	// Limiter gates SUBSCRIBE computes when set.
	Limiter Allower
}

// Allower reports whether one more compute may start now.
type Allower interface {
	Allow() bool
}

// NewHub creates a hub backed by computer.
func NewHub(computer Computer, log zerolog.Logger) *Hub {
	return &Hub{
		computer: computer,
		log:      log.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*Client]bool),
		seqs:    make(map[string]int64),
		updates: make(chan string, publishBuffer),
	}
}

// ServeHTTP upgrades the connection and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	h.register(conn)
}

func (h *Hub) register(conn *websocket.Conn) *Client {
	client := &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
		subs: make(map[string]*Subscription),
	}
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info().Int("clients", count).Msg("ws client connected")
	h.clientCountChanged(count)

	go client.writePump()
	go client.readPump()
	return client
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	close(c.send)
	h.clientCountChanged(count)
}

func (h *Hub) clientCountChanged(n int) {
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish schedules a recompute-and-push for location. It never blocks; if
// the queue is full the update is dropped and the next one catches up.
func (h *Hub) Publish(location string) {
	select {
	case h.updates <- location:
	default:
		h.log.Warn().Str("location", location).Msg("update queue full, dropping")
	}
}

// Run processes published updates until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case loc := <-h.updates:
			h.pushUpdate(ctx, loc)
		}
	}
}

// pushUpdate recomputes each distinct indicator set subscribed to location
// once and fans the result out to its clients.
func (h *Hub) pushUpdate(ctx context.Context, location string) {
	groups := h.subscribersOf(location)
	if len(groups) == 0 {
		return
	}

	h.mu.Lock()
	h.seqs[location]++
	seq := h.seqs[location]
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, computeTimeout)
	defer cancel()

	pushed := 0
	for _, g := range groups {
		results, err := h.computer.ComputeNamed(ctx, location, g.names)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			h.log.Warn().Str("location", location).Err(err).Msg("update compute failed")
			for _, c := range g.clients {
				SendError(c, "", err.Error())
			}
			continue
		}
		env, err := buildUpdate(location, seq, time.Now().UTC(), results)
		if err != nil {
			h.log.Error().Err(err).Msg("update marshal failed")
			continue
		}
		pushed += h.fanOut(g.clients, env)
	}
	if h.OnPush != nil {
		h.OnPush(pushed)
	}
	h.log.Debug().Str("location", location).Int64("seq", seq).Int("clients", pushed).Msg("pushed update")
}

type subscriberGroup struct {
	names   []string
	clients []*Client
}

func (h *Hub) subscribersOf(location string) []*subscriberGroup {
	h.mu.RLock()
	defer h.mu.RUnlock()

	byKey := make(map[string]*subscriberGroup)
	var keys []string
	for c := range h.clients {
		sub := c.subscription(location)
		if sub == nil {
			continue
		}
		key := strings.Join(sub.Indicators, "\x00")
		g, ok := byKey[key]
		if !ok {
			g = &subscriberGroup{names: sub.Indicators}
			byKey[key] = g
			keys = append(keys, key)
		}
		g.clients = append(g.clients, c)
	}
	sort.Strings(keys)
	out := make([]*subscriberGroup, len(keys))
	for i, k := range keys {
		out[i] = byKey[k]
	}
	return out
}

func (h *Hub) currentSeq(location string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seqs[location]
}
