package velocityd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aadhaar-velocity/config"
	"aadhaar-velocity/internal/api"
	"aadhaar-velocity/internal/gateway"
	"aadhaar-velocity/internal/model"
)

const libraryYAML = `
indicators:
  - name: Bio Minus Enrol
    script: |
      # @type: pane
      return [point(d.time, d.raw_bio - d.raw_enrol) for d in data]
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		HTTPAddr:        "127.0.0.1:0",
		ShutdownTimeout: time.Second,
		RateLimitRPS:    1000,
		RateLimitBurst:  1000,
		SQLitePath:      filepath.Join(dir, "db", "velocity.db"),
		CacheTTL:        time.Minute,
		LogLevel:        "info",
		LogFormat:       "json",
		ScriptMaxSteps:  1_000_000,
		ScriptTimeout:   time.Second,
	}
}

func TestService_EndToEnd(t *testing.T) {
	svc, err := New(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(svc.shutdown)

	libPath := filepath.Join(t.TempDir(), "library.yaml")
	require.NoError(t, os.WriteFile(libPath, []byte(libraryYAML), 0o644))
	added, err := svc.SeedLibrary(context.Background(), libPath)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go svc.hub.Run(ctx)

	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)

	// Subscribe before any bars exist.
	wsURL := "ws" + srv.URL[len("http"):] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.WriteJSON(gateway.SubscribeMsg{
		Type:       gateway.TypeSubscribe,
		ReqID:      "r1",
		Location:   pune,
		Indicators: []string{"Bio Minus Enrol"},
	}))
	var snap gateway.SnapshotResponse
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, gateway.TypeSnapshot, snap.Type)
	require.Len(t, snap.Results, 1)
	assert.Equal(t, model.StatusEmpty, snap.Results[0].Status)

	// Ingest through the API; the feed pushes the recomputed series.
	body, err := json.Marshal(api.BarsRequest{Bars: weekly(6)})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/locations/Maharashtra%2FPune/bars", bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var update gateway.UpdateEnvelope
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, gateway.TypeUpdate, update.Type)
	assert.Equal(t, pune, update.Location)
	var results []model.IndicatorResult
	require.NoError(t, json.Unmarshal(update.Results, &results))
	require.Len(t, results, 1)
	assert.Equal(t, model.KindPane, results[0].Kind)
	assert.Len(t, results[0].Points, 6)

	// Health reflects the SQLite check.
	svc.health.Check(ctx, nil, svc.store.DB())
	resp, err = http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestService_RunStopsOnCancel(t *testing.T) {
	svc, err := New(testConfig(t), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestService_BadLibraryFailsRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.LibraryPath = filepath.Join(t.TempDir(), "missing.yaml")
	svc, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Error(t, svc.Run(context.Background()))
}
