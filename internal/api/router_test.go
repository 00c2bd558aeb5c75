package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aadhaar-velocity/internal/indicator"
	"aadhaar-velocity/internal/lorentzian"
	"aadhaar-velocity/internal/metrics"
	"aadhaar-velocity/internal/model"
	"aadhaar-velocity/internal/script"
	"aadhaar-velocity/internal/store/sqlite"
	"aadhaar-velocity/internal/velocity"
)

const testSecret = "JBSWY3DPEHPK3PXP"

type fakeBackend struct {
	bars     map[string][]model.Bar
	defs     []model.IndicatorDefinition
	lastLoc  string
	lastDefs []model.IndicatorDefinition
	lastSet  lorentzian.Settings
	created  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{bars: map[string][]model.Bar{
		"Maharashtra/Pune": {{Time: 1704067200, Close: 10, RawEnrol: 100, RawBio: 40}, {Time: 1704672000, Close: 11, RawEnrol: 101, RawBio: 90}},
	}}
}

func (f *fakeBackend) Presets() []indicator.Preset { return indicator.Catalog() }

func (f *fakeBackend) Locations(context.Context) ([]string, error) {
	return []string{"Maharashtra/Pune"}, nil
}

func (f *fakeBackend) Bars(_ context.Context, loc string) ([]model.Bar, error) {
	f.lastLoc = loc
	return f.bars[loc], nil
}

func (f *fakeBackend) IngestBars(_ context.Context, loc string, bars []model.Bar) error {
	if len(bars) == 0 {
		return fmt.Errorf("%w: no bars", model.ErrInvalid)
	}
	f.lastLoc = loc
	f.bars[loc] = bars
	return nil
}

func (f *fakeBackend) Resolve(_ context.Context, names []string) ([]model.IndicatorDefinition, error) {
	out := make([]model.IndicatorDefinition, 0, len(names))
	for _, n := range names {
		p, ok := indicator.Lookup(n)
		if !ok {
			return nil, fmt.Errorf("%w: %q", model.ErrUnknownIndicator, n)
		}
		out = append(out, indicator.PresetDefinition(p))
	}
	return out, nil
}

func (f *fakeBackend) results(defs []model.IndicatorDefinition) []model.IndicatorResult {
	out := make([]model.IndicatorResult, len(defs))
	for i, d := range defs {
		out[i] = model.IndicatorResult{Name: d.Name, Kind: d.Kind, Status: model.StatusEmpty, Points: []model.SeriesPoint{}}
	}
	return out
}

func (f *fakeBackend) ComputeLocation(_ context.Context, loc string, defs []model.IndicatorDefinition) ([]model.IndicatorResult, error) {
	f.lastLoc, f.lastDefs = loc, defs
	return f.results(defs), nil
}

func (f *fakeBackend) ComputeBars(_ context.Context, bars []model.Bar, defs []model.IndicatorDefinition) ([]model.IndicatorResult, error) {
	if !model.SortedByTime(bars) {
		return nil, fmt.Errorf("%w: unsorted", model.ErrInvalid)
	}
	f.lastDefs = defs
	return f.results(defs), nil
}

func (f *fakeBackend) Signal(_ context.Context, loc string, s lorentzian.Settings) ([]lorentzian.Prediction, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalid, err)
	}
	f.lastLoc, f.lastSet = loc, s
	return []lorentzian.Prediction{}, nil
}

func (f *fakeBackend) Velocity(_ context.Context, loc string) ([]velocity.Point, velocity.Summary, error) {
	pts := velocity.Analyze(f.bars[loc])
	return pts, velocity.Summarize(pts), nil
}

func (f *fakeBackend) ListDefinitions(context.Context) ([]model.IndicatorDefinition, error) {
	return f.defs, nil
}

func (f *fakeBackend) CreateDefinition(_ context.Context, def model.IndicatorDefinition) (model.IndicatorDefinition, error) {
	switch def.Name {
	case "dup":
		return def, fmt.Errorf("save: %w", sqlite.ErrDuplicateName)
	case "broken":
		return def, &script.ExecutionError{Kind: script.KindCompilation, Script: def.Name, Err: fmt.Errorf("syntax")}
	}
	f.created++
	def.ID = "def-1"
	f.defs = append(f.defs, def)
	return def, nil
}

func (f *fakeBackend) DeleteDefinition(_ context.Context, id string) error {
	if id != "def-1" {
		return fmt.Errorf("delete %s: %w", id, sqlite.ErrNotFound)
	}
	return nil
}

func newTestRouter(t *testing.T, be Backend, mutate func(*Config)) http.Handler {
	t.Helper()
	cfg := Config{
		Backend:        be,
		Metrics:        metrics.NewMetrics(),
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
		Log:            zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewRouter(cfg)
}

func do(t *testing.T, h http.Handler, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndRequestID(t *testing.T) {
	h := newTestRouter(t, newFakeBackend(), nil)

	rec := do(t, h, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, h, http.MethodGet, "/api/v1/health", nil, "X-Request-ID", "abc-123")
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestListPresets(t *testing.T) {
	h := newTestRouter(t, newFakeBackend(), nil)
	rec := do(t, h, http.MethodGet, "/api/v1/presets", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Presets []struct {
			Name   string `json:"name"`
			Kind   string `json:"kind"`
			Script string `json:"script"`
		} `json:"presets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Presets, len(indicator.Catalog()))
	for _, p := range body.Presets {
		assert.NotEmpty(t, p.Script, p.Name)
	}
}

func TestBars_EscapedLocation(t *testing.T) {
	be := newFakeBackend()
	h := newTestRouter(t, be, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/locations/Maharashtra%2FPune/bars", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var lb model.LocationBars
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lb))
	assert.Equal(t, "Maharashtra/Pune", lb.Location)
	assert.Len(t, lb.Bars, 2)

	rec = do(t, h, http.MethodPut, "/api/v1/locations/Kerala%2FKochi/bars", BarsRequest{Bars: []model.Bar{{Time: 1, Close: 2}}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Kerala/Kochi", be.lastLoc)

	rec = do(t, h, http.MethodPut, "/api/v1/locations/Kerala%2FKochi/bars", BarsRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestComputeLocation(t *testing.T) {
	be := newFakeBackend()
	h := newTestRouter(t, be, nil)

	req := IndicatorsRequest{
		Names:       []string{"SMA"},
		Definitions: []model.IndicatorDefinition{{Name: "inline", Script: "# @type: pane\nreturn []"}},
	}
	rec := do(t, h, http.MethodPost, "/api/v1/locations/Maharashtra%2FPune/indicators", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ResultsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Maharashtra/Pune", resp.Location)
	require.Len(t, be.lastDefs, 2)
	assert.Equal(t, "SMA", be.lastDefs[0].Name)
	assert.Equal(t, model.KindPane, be.lastDefs[1].Kind)

	rec = do(t, h, http.MethodPost, "/api/v1/locations/Maharashtra%2FPune/indicators", IndicatorsRequest{Names: []string{"nope"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/locations/Maharashtra%2FPune/indicators", IndicatorsRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestComputeBars_RejectsUnsorted(t *testing.T) {
	h := newTestRouter(t, newFakeBackend(), nil)
	req := ComputeRequest{
		IndicatorsRequest: IndicatorsRequest{Names: []string{"EMA"}},
		Bars:              []model.Bar{{Time: 20}, {Time: 10}},
	}
	rec := do(t, h, http.MethodPost, "/api/v1/compute", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var er ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &er))
	assert.Contains(t, er.Error, "unsorted")
	assert.NotEmpty(t, er.TraceID)
}

func TestSignal_QuerySettings(t *testing.T) {
	be := newFakeBackend()
	h := newTestRouter(t, be, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/locations/Maharashtra%2FPune/signal?neighbors=3&features=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, be.lastSet.NeighborsCount)
	assert.Equal(t, 2, be.lastSet.FeatureCount)
	assert.Equal(t, lorentzian.DefaultSettings().MaxBarsBack, be.lastSet.MaxBarsBack)

	rec = do(t, h, http.MethodGet, "/api/v1/locations/Maharashtra%2FPune/signal?neighbors=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/v1/locations/Maharashtra%2FPune/signal?features=9", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVelocity(t *testing.T) {
	h := newTestRouter(t, newFakeBackend(), nil)
	rec := do(t, h, http.MethodGet, "/api/v1/locations/Maharashtra%2FPune/velocity", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp VelocityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Points, 1)
	assert.True(t, resp.Points[0].SchoolAdmissionSpike)
	assert.True(t, resp.Points[0].ExclusionZone)
	assert.Equal(t, 1, resp.Summary.Spikes)
}

func TestDefinitions_ErrorMapping(t *testing.T) {
	h := newTestRouter(t, newFakeBackend(), nil)

	rec := do(t, h, http.MethodPost, "/api/v1/definitions", model.IndicatorDefinition{Name: "mine", Script: "return []"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/definitions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mine"`)

	rec = do(t, h, http.MethodPost, "/api/v1/definitions", model.IndicatorDefinition{Name: "dup", Script: "return []"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/definitions", model.IndicatorDefinition{Name: "broken", Script: "return ["})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var er ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &er))
	assert.Equal(t, "compilation", er.Kind)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/v1/definitions/def-1", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/api/v1/definitions/other", nil).Code)
}

func TestTOTPGuard(t *testing.T) {
	be := newFakeBackend()
	h := newTestRouter(t, be, func(c *Config) { c.TOTPSecret = testSecret })
	def := model.IndicatorDefinition{Name: "guarded", Script: "return []"}

	rec := do(t, h, http.MethodPost, "/api/v1/definitions", def)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/v1/definitions", def, "X-TOTP-Code", "000000x")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, be.created)

	code, err := totp.GenerateCode(testSecret, time.Now())
	require.NoError(t, err)
	rec = do(t, h, http.MethodPost, "/api/v1/definitions", def, "X-TOTP-Code", code)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, be.created)

	// Reads stay open.
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/definitions", nil).Code)
}

func TestRateLimiter(t *testing.T) {
	m := metrics.NewMetrics()
	h := newTestRouter(t, newFakeBackend(), func(c *Config) {
		c.Metrics = m
		c.RateLimitRPS = 0.001
		c.RateLimitBurst = 1
	})
	req := ComputeRequest{IndicatorsRequest: IndicatorsRequest{Names: []string{"SMA"}}}

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/compute", req).Code)
	rec := do(t, h, http.MethodPost, "/api/v1/compute", req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1000", rec.Header().Get("Retry-After"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimited))

	// Non-compute routes are not limited.
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/presets", nil).Code)
}

func TestRateLimiter_SharedWithFeed(t *testing.T) {
	m := metrics.NewMetrics()
	shared := NewRateLimiter(0.001, 1, zerolog.Nop())
	shared.Rejected = m.RateLimited
	h := newTestRouter(t, newFakeBackend(), func(c *Config) { c.Limiter = shared })

	// A feed subscribe takes the only token.
	require.True(t, shared.Allow())
	req := ComputeRequest{IndicatorsRequest: IndicatorsRequest{Names: []string{"SMA"}}}
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodPost, "/api/v1/compute", req).Code)
	assert.False(t, shared.Allow())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RateLimited))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(t, newFakeBackend(), nil)
	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRecoverer(t *testing.T) {
	h := Recoverer(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
