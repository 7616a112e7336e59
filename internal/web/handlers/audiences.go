package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/propmatch/internal/audience"
	"github.com/propmatch/internal/debug"
	"github.com/propmatch/internal/store"
)

// BuildResponse is the outcome of a filter run
type BuildResponse struct {
	TotalProperties    int                   `json:"total_properties"`
	MatchingProperties int                   `json:"matching_properties"`
	MatchingPermits    int                   `json:"matching_permits"`
	FinalMatches       int                   `json:"final_matches"`
	PropertyIDs        []string              `json:"property_ids"`
	Summary            audience.Summary      `json:"summary"`
	PermitYears        []audience.YearCount  `json:"permit_years"`
	SaleToPermitGaps   []float64             `json:"sale_to_permit_gaps"`
	Excluded           int                   `json:"excluded"`
	Filters            audience.FilterConfig `json:"filters"`
}

// SaveRequest names a new audience. Properties wins over filters when both
// are given; with only filters the audience is built the same way as
// BuildAudience.
type SaveRequest struct {
	Name       string   `json:"name"`
	Properties []string `json:"properties"`
	audience.FilterConfig
}

// AudienceResponse is a saved audience with its statistics
type AudienceResponse struct {
	store.Audience
	Summary          audience.Summary     `json:"summary"`
	PermitYears      []audience.YearCount `json:"permit_years"`
	SaleToPermitGaps []float64            `json:"sale_to_permit_gaps"`
}

// BuildAudience runs the filters over the properties not already in a
// saved audience
func (h *APIHandler) BuildAudience(w http.ResponseWriter, r *http.Request) {
	var filters audience.FilterConfig
	if err := json.NewDecoder(r.Body).Decode(&filters); err != nil {
		http.Error(w, "Invalid filter JSON", http.StatusBadRequest)
		return
	}
	if err := validateFilters(filters); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.build(r, filters)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) build(r *http.Request, filters audience.FilterConfig) (*BuildResponse, error) {
	exclude, err := store.Excluded(r.Context(), h.Store)
	if err != nil {
		return nil, err
	}

	var resp *BuildResponse
	err = h.Session.Do(func(e *audience.Engine) error {
		result, err := e.BuildAudience(filters.Property, filters.Permit, exclude)
		if err != nil {
			return err
		}
		ids := result.PropertyIDs()
		resp = &BuildResponse{
			TotalProperties:    result.TotalProperties,
			MatchingProperties: result.MatchingProperties,
			MatchingPermits:    result.MatchingPermits,
			FinalMatches:       result.FinalMatches,
			PropertyIDs:        ids,
			Summary:            e.Summary(ids),
			PermitYears:        audience.PermitYearCounts(ids, result.Permits),
			SaleToPermitGaps:   e.SaleToPermitGaps(ids, result.Permits),
			Excluded:           len(exclude),
			Filters:            filters,
		}
		return nil
	})
	return resp, err
}

// ListAudiences returns every saved audience
func (h *APIHandler) ListAudiences(w http.ResponseWriter, r *http.Request) {
	audiences, err := h.Store.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if audiences == nil {
		audiences = []store.Audience{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"audiences": audiences,
		"count":     len(audiences),
	})
}

// SaveAudience stores a new audience; existing names are refused
func (h *APIHandler) SaveAudience(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid audience JSON", http.StatusBadRequest)
		return
	}
	if err := store.ValidateName(req.Name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	_, err := h.Store.Load(r.Context(), req.Name)
	switch {
	case err == nil:
		http.Error(w, fmt.Sprintf("Audience %s already exists", req.Name), http.StatusConflict)
		return
	case !errors.Is(err, store.ErrNotFound):
		h.writeError(w, r, err)
		return
	}

	ids := req.Properties
	if ids == nil {
		if err := validateFilters(req.FilterConfig); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := h.build(r, req.FilterConfig)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		ids = resp.PropertyIDs
	}

	a := store.Audience{Name: req.Name, Properties: ids}
	if err := h.Store.Save(r.Context(), a); err != nil {
		h.writeError(w, r, err)
		return
	}
	saved, err := h.Store.Load(r.Context(), req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	debug.OrNop(h.Logger).Info("audience saved",
		zap.String("name", saved.Name),
		zap.Int("properties", len(saved.Properties)))
	writeJSON(w, http.StatusCreated, saved)
}

// GetAudience returns a saved audience with its summary. Permit statistics
// use the permits passing the optional min_permit_year/max_permit_year
// query parameters.
func (h *APIHandler) GetAudience(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	permitFilter, err := permitFilterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	a, err := h.Store.Load(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := AudienceResponse{Audience: a}
	err = h.Session.Do(func(e *audience.Engine) error {
		permits, err := e.AnnotatedPermits(permitFilter)
		if err != nil {
			return err
		}
		resp.Summary = e.Summary(a.Properties)
		resp.PermitYears = audience.PermitYearCounts(a.Properties, permits)
		resp.SaleToPermitGaps = e.SaleToPermitGaps(a.Properties, permits)
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteAudience removes one saved audience
func (h *APIHandler) DeleteAudience(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.Store.Delete(r.Context(), name); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAllAudiences removes every saved audience
func (h *APIHandler) DeleteAllAudiences(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteAll(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func validateFilters(filters audience.FilterConfig) error {
	if err := filters.Property.Validate(); err != nil {
		return err
	}
	return filters.Permit.Validate()
}

func permitFilterFromQuery(r *http.Request) (audience.PermitFilter, error) {
	var f audience.PermitFilter
	q := r.URL.Query()
	for key, dst := range map[string]**int{
		"min_permit_year": &f.MinPermitYear,
		"max_permit_year": &f.MaxPermitYear,
	} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		year, err := strconv.Atoi(raw)
		if err != nil {
			return f, fmt.Errorf("invalid %s: %q", key, raw)
		}
		*dst = audience.Int(year)
	}
	if q.Get("include_null_file_date") == "true" {
		f.IncludeNulls = map[string]bool{audience.FieldFileDate: true}
	}
	return f, f.Validate()
}
