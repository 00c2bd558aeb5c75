package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aadhaar-velocity/internal/model"
)

type fakeComputer struct {
	calls atomic.Int32
	value atomic.Int64
}

func (f *fakeComputer) ComputeNamed(_ context.Context, location string, names []string) ([]model.IndicatorResult, error) {
	f.calls.Add(1)
	if location == "Unknown/Place" {
		return nil, errors.New("unknown indicator")
	}
	out := make([]model.IndicatorResult, len(names))
	for i, n := range names {
		out[i] = model.IndicatorResult{Name: n, Kind: model.KindPane, Status: model.StatusOK,
			Points: []model.SeriesPoint{{Time: 100, Value: float64(f.value.Load())}}}
	}
	return out, nil
}

type wsConn struct {
	t       *testing.T
	conn    *websocket.Conn
	pending [][]byte
}

func dial(t *testing.T, srv *httptest.Server) *wsConn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsConn{t: t, conn: conn}
}

func (w *wsConn) send(v any) {
	require.NoError(w.t, w.conn.WriteJSON(v))
}

// next returns the next message, splitting coalesced frames.
func (w *wsConn) next() map[string]any {
	w.t.Helper()
	if len(w.pending) == 0 {
		w.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, data, err := w.conn.ReadMessage()
		require.NoError(w.t, err)
		w.pending = bytes.Split(data, []byte{'\n'})
	}
	msg := w.pending[0]
	w.pending = w.pending[1:]
	var out map[string]any
	require.NoError(w.t, json.Unmarshal(msg, &out))
	return out
}

func newTestHub(t *testing.T) (*Hub, *fakeComputer, *httptest.Server) {
	comp := &fakeComputer{}
	hub := NewHub(comp, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, comp, srv
}

func TestHub_SubscribeSnapshotThenUpdate(t *testing.T) {
	hub, comp, srv := newTestHub(t)
	var pushed atomic.Int32
	hub.OnPush = func(n int) { pushed.Add(int32(n)) }

	c := dial(t, srv)
	comp.value.Store(1)
	c.send(SubscribeMsg{Type: TypeSubscribe, ReqID: "r1", Location: "Kerala/Kochi", Indicators: []string{"SMA", "Hurst Exponent (H)"}})

	snap := c.next()
	assert.Equal(t, TypeSnapshot, snap["type"])
	assert.Equal(t, "r1", snap["req_id"])
	assert.Equal(t, "Kerala/Kochi", snap["location"])
	require.Len(t, snap["results"], 2)

	comp.value.Store(7)
	hub.Publish("Bihar/Patna") // nobody subscribed
	hub.Publish("Kerala/Kochi")

	upd := c.next()
	assert.Equal(t, TypeUpdate, upd["type"])
	assert.Equal(t, 1.0, upd["seq"])
	results := upd["results"].([]any)
	first := results[0].(map[string]any)
	assert.Equal(t, "SMA", first["name"])
	pts := first["points"].([]any)
	assert.Equal(t, 7.0, pts[0].(map[string]any)["value"])
	assert.Eventually(t, func() bool { return pushed.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestHub_SharedComputePerIndicatorSet(t *testing.T) {
	hub, comp, srv := newTestHub(t)
	a, b := dial(t, srv), dial(t, srv)
	for _, c := range []*wsConn{a, b} {
		c.send(SubscribeMsg{Type: TypeSubscribe, Location: "Goa/Panaji", Indicators: []string{"EMA"}})
		assert.Equal(t, TypeSnapshot, c.next()["type"])
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	before := comp.calls.Load()
	hub.Publish("Goa/Panaji")
	assert.Equal(t, TypeUpdate, a.next()["type"])
	assert.Equal(t, TypeUpdate, b.next()["type"])
	assert.Equal(t, before+1, comp.calls.Load())
}

func TestHub_Unsubscribe(t *testing.T) {
	hub, _, srv := newTestHub(t)
	c := dial(t, srv)
	c.send(SubscribeMsg{Type: TypeSubscribe, Location: "Goa/Panaji", Indicators: []string{"EMA"}})
	c.next()
	c.send(UnsubscribeMsg{Type: TypeUnsubscribe, Location: "Goa/Panaji"})
	c.send(map[string]any{"ping": 42})

	// The pong proves the unsubscribe was processed first.
	pong := c.next()
	assert.Equal(t, TypePong, pong["type"])
	assert.Equal(t, 42.0, pong["ping"])

	groups := hub.subscribersOf("Goa/Panaji")
	assert.Empty(t, groups)
}

func TestHub_Errors(t *testing.T) {
	_, _, srv := newTestHub(t)
	c := dial(t, srv)

	c.send(SubscribeMsg{Type: TypeSubscribe, ReqID: "x"})
	e := c.next()
	assert.Equal(t, TypeError, e["type"])
	assert.Equal(t, "x", e["req_id"])

	c.send(SubscribeMsg{Type: TypeSubscribe, ReqID: "y", Location: "Unknown/Place", Indicators: []string{"nope"}})
	e = c.next()
	assert.Equal(t, TypeError, e["type"])
	assert.Contains(t, e["error"], "unknown indicator")

	c.send(map[string]any{"type": "DANCE"})
	assert.Equal(t, TypeError, c.next()["type"])
}

type tokenBucket struct{ left atomic.Int32 }

func (b *tokenBucket) Allow() bool { return b.left.Add(-1) >= 0 }

func TestHub_SubscribeRespectsLimiter(t *testing.T) {
	hub, comp, srv := newTestHub(t)
	bucket := &tokenBucket{}
	bucket.left.Store(1)
	hub.Limiter = bucket

	c := dial(t, srv)
	c.send(SubscribeMsg{Type: TypeSubscribe, ReqID: "a", Location: "Kerala/Kochi", Indicators: []string{"SMA"}})
	c.send(SubscribeMsg{Type: TypeSubscribe, ReqID: "b", Location: "Bihar/Patna", Indicators: []string{"SMA"}})

	first := c.next()
	assert.Equal(t, TypeSnapshot, first["type"])
	assert.Equal(t, "a", first["req_id"])
	second := c.next()
	assert.Equal(t, TypeError, second["type"])
	assert.Equal(t, "b", second["req_id"])
	assert.Contains(t, second["error"], "rate limit")
	assert.Equal(t, int32(1), comp.calls.Load())
}

func TestHub_DisconnectUpdatesCount(t *testing.T) {
	hub, _, srv := newTestHub(t)
	var last atomic.Int32
	hub.OnClientCount = func(n int) { last.Store(int32(n)) }

	c := dial(t, srv)
	require.Eventually(t, func() bool { return last.Load() == 1 }, time.Second, 5*time.Millisecond)
	c.conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 && last.Load() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestBuildUpdate(t *testing.T) {
	now := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	env, err := buildUpdate(`Tamil "Nadu"/Chennai`, 9, now, []model.IndicatorResult{{Name: "SMA", Status: model.StatusEmpty, Points: []model.SeriesPoint{}}})
	require.NoError(t, err)

	var got UpdateEnvelope
	require.NoError(t, json.Unmarshal(env, &got))
	assert.Equal(t, TypeUpdate, got.Type)
	assert.Equal(t, `Tamil "Nadu"/Chennai`, got.Location)
	assert.Equal(t, int64(9), got.Seq)
	assert.Equal(t, now.Format(time.RFC3339Nano), got.TS)
	assert.JSONEq(t, `[{"name":"SMA","kind":"","status":"empty","points":[]}]`, string(got.Results))
}
