// Package server exposes the control API over HTTP: status and policy reads,
// backlog edits, and synchronous iteration/loop triggers.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cexll/autoloop/internal/engine"
	"github.com/cexll/autoloop/internal/model"
)

// Handler handles control API requests
type Handler struct {
	engine *engine.Engine
	auth   *Authenticator
}

// NewHandler creates a new control API handler. A nil authenticator leaves
// the API open.
func NewHandler(eng *engine.Engine, auth *Authenticator) *Handler {
	return &Handler{engine: eng, auth: auth}
}

// RegisterRoutes registers the control API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods("GET")

	api := r.PathPrefix("/").Subrouter()
	if h.auth != nil {
		api.Use(h.auth.Middleware)
	}
	api.HandleFunc("/status", h.handleStatus).Methods("GET")
	api.HandleFunc("/policy", h.handlePolicy).Methods("GET")
	api.HandleFunc("/settings", h.handleSettings).Methods("PATCH")
	api.HandleFunc("/init", h.handleInit).Methods("POST")
	api.HandleFunc("/features", h.handleListFeatures).Methods("GET")
	api.HandleFunc("/features", h.handleAddFeature).Methods("POST")
	api.HandleFunc("/quality-gate", h.handleQualityGate).Methods("POST")
	api.HandleFunc("/iterate", h.handleIterate).Methods("POST")
	api.HandleFunc("/iterate-parallel", h.handleIterateParallel).Methods("POST")
	api.HandleFunc("/run-project", h.handleRunProject).Methods("POST")
	api.HandleFunc("/plan-task", h.handlePlanTask).Methods("POST")
	api.HandleFunc("/validate", h.handleValidate).Methods("POST")
	api.HandleFunc("/workers", h.handleWorkers).Methods("GET")
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.GetStatus()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handlePolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.engine.GetPolicy()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

// handleSettings applies a partial policy update: only the fields present in
// the request body change.
func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var decodeErr error
	policy, err := h.engine.UpdateSettings(func(p *model.AgentPolicy) {
		decodeErr = json.Unmarshal(raw, p)
	})
	if decodeErr != nil {
		writeError(w, http.StatusBadRequest, decodeErr)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (h *Handler) handleInit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Objective string `json:"objective"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status, err := h.engine.Initialize(req.Objective)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	features, err := h.engine.ListFeatures()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, features)
}

func (h *Handler) handleAddFeature(w http.ResponseWriter, r *http.Request) {
	var feature model.Feature
	if err := json.NewDecoder(r.Body).Decode(&feature); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if feature.ID == "" || feature.Description == "" {
		writeError(w, http.StatusBadRequest, errMissingFields)
		return
	}
	added, err := h.engine.AddFeature(feature)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (h *Handler) handleQualityGate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DryRun   bool  `json:"dry_run"`
		RunSmoke *bool `json:"run_smoke"`
	}
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	report, err := h.engine.RunQualityGate(r.Context(), req.DryRun, req.RunSmoke)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusOK
	if !report.OK {
		status = http.StatusConflict
	}
	writeJSON(w, status, report)
}

func (h *Handler) handleIterate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Commit bool `json:"commit"`
		DryRun bool `json:"dry_run"`
	}
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	report, err := h.engine.RunIteration(r.Context(), engine.IterationOptions{
		Commit: req.Commit,
		DryRun: req.DryRun,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusOK
	if !report.Success {
		status = http.StatusConflict
	}
	writeJSON(w, status, report)
}

func (h *Handler) handleIterateParallel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Teams       int  `json:"teams"`
		MaxFeatures int  `json:"max_features"`
		Commit      bool `json:"commit"`
		DryRun      bool `json:"dry_run"`
		ForceUnsafe bool `json:"force_unsafe"`
	}
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	report, err := h.engine.RunParallelIteration(r.Context(), engine.ParallelOptions{
		TeamCount:   req.Teams,
		MaxFeatures: req.MaxFeatures,
		Commit:      req.Commit,
		DryRun:      req.DryRun,
		ForceUnsafe: req.ForceUnsafe,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusOK
	if !report.Success {
		status = http.StatusConflict
	}
	writeJSON(w, status, report)
}

func (h *Handler) handleRunProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode        string `json:"mode"`
		MaxEpochs   int    `json:"max_epochs"`
		Teams       int    `json:"teams"`
		MaxFeatures int    `json:"max_features"`
		Commit      bool   `json:"commit"`
		DryRun      bool   `json:"dry_run"`
		ForceUnsafe bool   `json:"force_unsafe"`
	}
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	report, err := h.engine.RunProjectLoop(r.Context(), engine.ProjectLoopOptions{
		Mode:        req.Mode,
		MaxEpochs:   req.MaxEpochs,
		TeamCount:   req.Teams,
		MaxFeatures: req.MaxFeatures,
		Commit:      req.Commit,
		DryRun:      req.DryRun,
		ForceUnsafe: req.ForceUnsafe,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusOK
	if !report.Success {
		status = http.StatusConflict
	}
	writeJSON(w, status, report)
}

func (h *Handler) handlePlanTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description  string `json:"description"`
		Category     string `json:"category"`
		MaxFeatures  int    `json:"max_features"`
		ParallelSafe bool   `json:"parallel_safe"`
		DryRun       bool   `json:"dry_run"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	report, err := h.engine.PlanTask(r.Context(), engine.PlanTaskOptions{
		Description:  req.Description,
		Category:     req.Category,
		MaxFeatures:  req.MaxFeatures,
		ParallelSafe: req.ParallelSafe,
		DryRun:       req.DryRun,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DryRun bool `json:"dry_run"`
	}
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ok, note, err := h.engine.RunValidation(r.Context(), req.DryRun)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"ok": ok, "note": note})
}

func (h *Handler) handleWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Registry().Active())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[Server] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decodeOptional tolerates an empty request body for trigger endpoints whose
// parameters all have usable zero values.
func decodeOptional(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

var errMissingFields = errors.New("id and description are required")
