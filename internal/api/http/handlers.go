package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	dgerrors "github.com/driftgate/driftgate/internal/errors"
	"github.com/driftgate/driftgate/internal/observability"
	"github.com/driftgate/driftgate/internal/pipeline"
	"github.com/driftgate/driftgate/internal/registry"
	"github.com/driftgate/driftgate/pkg/types"
)

// ValidateRequest is the body of POST /v1/validate.
type ValidateRequest struct {
	Dataset        string           `json:"dataset"`
	ObservedSchema types.Schema     `json:"observed_schema"`
	BatchStats     types.BatchStats `json:"batch_stats"`
}

// ValidateHandler runs the validation pipeline for one batch.
type ValidateHandler struct {
	runner *pipeline.Runner
}

// NewValidateHandler creates a handler over the pipeline runner.
func NewValidateHandler(runner *pipeline.Runner) *ValidateHandler {
	return &ValidateHandler{runner: runner}
}

// ServeHTTP handles POST /v1/validate.
func (h *ValidateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if req.Dataset == "" {
		writeError(w, http.StatusBadRequest, "dataset is required", requestID)
		return
	}

	rep, err := h.runner.Run(r.Context(), req.Dataset, req.ObservedSchema, req.BatchStats)
	if err != nil {
		writeRegistryError(w, err, requestID)
		return
	}

	writeJSON(w, http.StatusOK, rep)
}

// RegisterRequest is the body of POST /v1/datasets.
type RegisterRequest struct {
	Dataset string       `json:"dataset"`
	Schema  types.Schema `json:"schema"`
}

// DatasetsHandler registers a dataset's first schema version.
type DatasetsHandler struct {
	registry registry.Registry
}

// NewDatasetsHandler creates a handler over the registry.
func NewDatasetsHandler(reg registry.Registry) *DatasetsHandler {
	return &DatasetsHandler{registry: reg}
}

// ServeHTTP handles POST /v1/datasets (first registration) and
// GET /v1/datasets (list).
func (h *DatasetsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	switch r.Method {
	case http.MethodGet:
		names, err := h.registry.Datasets(r.Context())
		if err != nil {
			writeRegistryError(w, err, requestID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"datasets": names})
	case http.MethodPost:
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
			return
		}
		if req.Dataset == "" {
			writeError(w, http.StatusBadRequest, "dataset is required", requestID)
			return
		}
		stored, err := h.registry.Register(r.Context(), req.Dataset, req.Schema)
		if err != nil {
			writeRegistryError(w, err, requestID)
			return
		}
		writeJSON(w, http.StatusCreated, stored)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
	}
}

// HistoryHandler serves a dataset's schema version history.
type HistoryHandler struct {
	registry registry.Registry
}

// NewHistoryHandler creates a handler over the registry.
func NewHistoryHandler(reg registry.Registry) *HistoryHandler {
	return &HistoryHandler{registry: reg}
}

// ServeHTTP handles GET /v1/history?dataset=<name>.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	dataset := r.URL.Query().Get("dataset")
	if dataset == "" {
		writeError(w, http.StatusBadRequest, "dataset query parameter is required", requestID)
		return
	}

	history, err := h.registry.History(r.Context(), dataset)
	if err != nil {
		writeRegistryError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dataset": dataset, "versions": history})
}

// MigrationsHandler serves a dataset's migration log for audit trails.
type MigrationsHandler struct {
	registry registry.Registry
}

// NewMigrationsHandler creates a handler over the registry.
func NewMigrationsHandler(reg registry.Registry) *MigrationsHandler {
	return &MigrationsHandler{registry: reg}
}

// ServeHTTP handles GET /v1/migrations?dataset=<name>.
func (h *MigrationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	dataset := r.URL.Query().Get("dataset")
	if dataset == "" {
		writeError(w, http.StatusBadRequest, "dataset query parameter is required", requestID)
		return
	}

	migrations, err := h.registry.Migrations(r.Context(), dataset)
	if err != nil {
		writeRegistryError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dataset": dataset, "migrations": migrations})
}

// StatsHandler serves validation run counters.
type StatsHandler struct {
	stats *observability.ValidationStats
}

// NewStatsHandler creates a handler over the stats tracker.
func NewStatsHandler(stats *observability.ValidationStats) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// ServeHTTP handles GET /v1/stats.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": h.stats.Snapshot()})
}

// HealthHandler serves GET /health.
type HealthHandler struct {
	backend string
}

// NewHealthHandler creates a health handler reporting the registry backend.
func NewHealthHandler(backend string) *HealthHandler {
	return &HealthHandler{backend: backend}
}

// ServeHTTP handles the health check.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":           "ok",
		"registry_backend": h.backend,
	})
}

// writeRegistryError maps structured registry errors onto HTTP statuses.
func writeRegistryError(w http.ResponseWriter, err error, requestID string) {
	code := dgerrors.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case dgerrors.CodeNotFound:
		status = http.StatusNotFound
	case dgerrors.CodeAlreadyExists, dgerrors.CodeVersionConflict:
		status = http.StatusConflict
	case dgerrors.CodeInvalidSchema, dgerrors.CodeInvalidRuleset:
		status = http.StatusBadRequest
	}
	writeCodedError(w, status, err.Error(), code, requestID)
}
