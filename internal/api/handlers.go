package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"aadhaar-velocity/internal/indicator"
	"aadhaar-velocity/internal/lorentzian"
	"aadhaar-velocity/internal/model"
	"aadhaar-velocity/internal/velocity"
)

const maxBodyBytes = 8 << 20

// BarsRequest is the body of PUT .../bars.
type BarsRequest struct {
	Bars []model.Bar `json:"bars"`
}

// IndicatorsRequest selects indicators by name and/or inline definition.
type IndicatorsRequest struct {
	Names       []string                    `json:"names,omitempty"`
	Definitions []model.IndicatorDefinition `json:"definitions,omitempty"`
}

// ComputeRequest evaluates indicators over caller-supplied bars.
type ComputeRequest struct {
	IndicatorsRequest
	Bars []model.Bar `json:"bars"`
}

// ResultsResponse carries computed series.
type ResultsResponse struct {
	Location string                  `json:"location,omitempty"`
	Results  []model.IndicatorResult `json:"results"`
}

// SignalResponse carries classifier output.
type SignalResponse struct {
	Location    string                  `json:"location"`
	Settings    lorentzian.Settings     `json:"settings"`
	Predictions []lorentzian.Prediction `json:"predictions"`
}

// VelocityResponse carries the velocity analysis.
type VelocityResponse struct {
	Location string           `json:"location"`
	Summary  velocity.Summary `json:"summary"`
	Points   []velocity.Point `json:"points"`
}

func locationParam(r *http.Request) (string, error) {
	loc, err := url.PathUnescape(chi.URLParam(r, "location"))
	if err != nil || loc == "" {
		return "", fmt.Errorf("%w: bad location", model.ErrInvalid)
	}
	return loc, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), v); err != nil {
		return fmt.Errorf("%w: body: %v", model.ErrInvalid, err)
	}
	return nil
}

func (h *handlers) listPresets(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string][]indicator.Preset{"presets": h.backend.Presets()})
}

func (h *handlers) listLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := h.backend.Locations(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, map[string][]string{"locations": locs})
}

func (h *handlers) getBars(w http.ResponseWriter, r *http.Request) {
	loc, err := locationParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	bars, err := h.backend.Bars(r.Context(), loc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, model.LocationBars{Location: loc, Bars: bars})
}

func (h *handlers) putBars(w http.ResponseWriter, r *http.Request) {
	loc, err := locationParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req BarsRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.backend.IngestBars(r.Context(), loc, req.Bars); err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"location": loc, "ingested": len(req.Bars)})
}

// definitions resolves names and appends the inline definitions after them.
func (h *handlers) definitions(r *http.Request, req IndicatorsRequest) ([]model.IndicatorDefinition, error) {
	if len(req.Names) == 0 && len(req.Definitions) == 0 {
		return nil, fmt.Errorf("%w: no indicators requested", model.ErrInvalid)
	}
	defs, err := h.backend.Resolve(r.Context(), req.Names)
	if err != nil {
		return nil, err
	}
	for _, d := range req.Definitions {
		if d.Kind == "" {
			d.Kind = indicator.KindOf(d)
		}
		defs = append(defs, d)
	}
	return defs, nil
}

func (h *handlers) computeLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := locationParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req IndicatorsRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	defs, err := h.definitions(r, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	results, err := h.backend.ComputeLocation(r.Context(), loc, defs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, ResultsResponse{Location: loc, Results: results})
}

func (h *handlers) computeBars(w http.ResponseWriter, r *http.Request) {
	var req ComputeRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	defs, err := h.definitions(r, req.IndicatorsRequest)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	results, err := h.backend.ComputeBars(r.Context(), req.Bars, defs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, ResultsResponse{Results: results})
}

// settingsFrom overlays ?neighbors=&max_bars_back=&features= on the defaults.
func settingsFrom(q url.Values) (lorentzian.Settings, error) {
	s := lorentzian.DefaultSettings()
	for key, dst := range map[string]*int{
		"neighbors":     &s.NeighborsCount,
		"max_bars_back": &s.MaxBarsBack,
		"features":      &s.FeatureCount,
	} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return s, fmt.Errorf("%w: %s: %v", model.ErrInvalid, key, err)
		}
		*dst = n
	}
	return s, nil
}

func (h *handlers) signal(w http.ResponseWriter, r *http.Request) {
	loc, err := locationParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := settingsFrom(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	preds, err := h.backend.Signal(r.Context(), loc, s)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, SignalResponse{Location: loc, Settings: s, Predictions: preds})
}

func (h *handlers) velocity(w http.ResponseWriter, r *http.Request) {
	loc, err := locationParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pts, sum, err := h.backend.Velocity(r.Context(), loc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, VelocityResponse{Location: loc, Summary: sum, Points: pts})
}

func (h *handlers) listDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := h.backend.ListDefinitions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, map[string][]model.IndicatorDefinition{"definitions": defs})
}

func (h *handlers) createDefinition(w http.ResponseWriter, r *http.Request) {
	var def model.IndicatorDefinition
	if err := decode(w, r, &def); err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.backend.CreateDefinition(r.Context(), def)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, created)
}

func (h *handlers) deleteDefinition(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.DeleteDefinition(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
