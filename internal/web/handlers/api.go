package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/propmatch/internal/audience"
	"github.com/propmatch/internal/dataset"
	"github.com/propmatch/internal/debug"
	"github.com/propmatch/internal/store"
)

// Config represents the web server configuration (simplified)
type Config struct {
	Features struct {
		ExportEnabled bool `json:"export_enabled"`
	} `json:"features"`
}

// Session owns the loaded dataset for the life of the server. Filter calls
// share one read-only dataset, so they run one at a time.
type Session struct {
	mu     sync.Mutex
	engine *audience.Engine
}

// NewSession wraps a filter engine. A nil engine means no data was loaded.
func NewSession(engine *audience.Engine) *Session {
	return &Session{engine: engine}
}

// Do runs fn with exclusive use of the engine
func (s *Session) Do(fn func(e *audience.Engine) error) error {
	if s == nil || s.engine == nil {
		return dataset.ErrDataUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.engine)
}

// APIHandler handles general API endpoints
type APIHandler struct {
	Session *Session
	Store   store.Store
	Config  *Config
	Logger  *zap.Logger
}

// HealthResponse reports whether data is loaded
type HealthResponse struct {
	Status     string `json:"status"`
	DataLoaded bool   `json:"data_loaded"`
}

// Health reports liveness; it answers 200 even when no data is loaded
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	loaded := h.Session.Do(func(*audience.Engine) error { return nil }) == nil
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", DataLoaded: loaded})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. A missing dataset is a
// 503, distinct from an empty result.
func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var stageErr *audience.FilterStageError
	var persistErr *store.PersistenceError

	switch {
	case errors.Is(err, dataset.ErrDataUnavailable):
		http.Error(w, "No data loaded", http.StatusServiceUnavailable)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrInvalidName):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &stageErr):
		http.Error(w, "Filter failed in stage "+stageErr.Stage, http.StatusInternalServerError)
	case errors.As(err, &persistErr):
		http.Error(w, persistErr.Error(), http.StatusInternalServerError)
	default:
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}

	debug.OrNop(h.Logger).Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err))
}
