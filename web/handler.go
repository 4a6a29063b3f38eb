// Package web is the HTTP surface: sync control, auth state, and the
// assignment store, all as JSON.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/campushq/coursetrack/auth"
	"github.com/campushq/coursetrack/store"
	"github.com/campushq/coursetrack/syncer"
)

// Options configures the API handler.
type Options struct {
	// Syncer runs and reports sync tasks. Required.
	Syncer *syncer.Service
	// Auth reports and clears authentication state. Required.
	Auth *auth.Store
	// Tracker runs browser-login tasks. Required.
	Tracker *auth.Tracker
	// Store serves assignment reads and edits. Required.
	Store *store.Store
	// Logger defaults to the standard logger.
	Logger logrus.FieldLogger
}

// Handler serves the coursetrack API.
type Handler struct {
	syncer  *syncer.Service
	auth    *auth.Store
	tracker *auth.Tracker
	store   *store.Store
	log     logrus.FieldLogger
	mux     *http.ServeMux
	now     func() time.Time
}

// NewHandler creates the API handler.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Syncer == nil || opts.Auth == nil || opts.Tracker == nil || opts.Store == nil {
		return nil, fmt.Errorf("web: Syncer, Auth, Tracker, and Store are required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	h := &Handler{
		syncer:  opts.Syncer,
		auth:    opts.Auth,
		tracker: opts.Tracker,
		store:   opts.Store,
		log:     opts.Logger,
		now:     time.Now,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", h.handlePing)
	mux.HandleFunc("/sync/start", h.handleSyncStart)
	mux.HandleFunc("/sync/status/", h.handleSyncStatus)
	mux.HandleFunc("/sync/last", h.handleSyncLast)
	mux.HandleFunc("/auth/browser-login", h.handleBrowserLogin)
	mux.HandleFunc("/auth/browser-status/", h.handleBrowserStatus)
	mux.HandleFunc("/auth/status", h.handleAuthStatus)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/assignments", h.handleAssignments)
	mux.HandleFunc("/assignments/", h.handleAssignment)
	h.mux = mux
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeMethodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleSyncStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	taskID, err := h.syncer.StartSync()
	if errors.Is(err, syncer.ErrAlreadyInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (h *Handler) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	taskID := strings.TrimPrefix(r.URL.Path, "/sync/status/")
	status, err := h.syncer.GetStatus(taskID)
	if errors.Is(err, syncer.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleSyncLast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	last, err := h.syncer.GetLastRun()
	if errors.Is(err, store.ErrNoRuns) {
		writeError(w, http.StatusNotFound, "no sync has run yet")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func (h *Handler) handleBrowserLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	taskID, err := h.tracker.StartBrowserLogin()
	if errors.Is(err, auth.ErrLoginInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (h *Handler) handleBrowserStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	taskID := strings.TrimPrefix(r.URL.Path, "/auth/browser-status/")
	status, err := h.tracker.Status(taskID)
	if errors.Is(err, auth.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": h.auth.Authenticated()})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	if err := h.auth.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": false})
}

func (h *Handler) handleAssignments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	filter := store.ListFilter{
		Status:     r.URL.Query().Get("status"),
		CourseName: r.URL.Query().Get("course"),
	}
	if raw := r.URL.Query().Get("due_before"); raw != "" {
		dueBefore, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "due_before must be RFC 3339")
			return
		}
		filter.DueBefore = &dueBefore
	}
	assignments, err := h.store.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if assignments == nil {
		assignments = []*store.Assignment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}

// handleAssignment covers /assignments/{id}, /assignments/stats/summary
// hiding underneath the same prefix.
func (h *Handler) handleAssignment(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/assignments/")
	if rest == "stats/summary" {
		h.handleStats(w, r)
		return
	}
	if rest == "" || strings.Contains(rest, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.getAssignment(w, rest)
	case http.MethodPatch:
		h.patchAssignment(w, r, rest)
	default:
		writeMethodNotAllowed(w, "GET, PATCH")
	}
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	stats, err := h.store.Stats(h.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) getAssignment(w http.ResponseWriter, id string) {
	assignment, err := h.store.Get(id)
	if errors.Is(err, store.ErrAssignmentNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

type updateAssignmentRequest struct {
	Status           *string `json:"status"`
	Notes            *string `json:"notes"`
	EstimatedMinutes *int    `json:"estimated_minutes"`
	PlannedStart     *string `json:"planned_start"`
	PlannedEnd       *string `json:"planned_end"`
	DueDate          *string `json:"due_date"`
}

var editableStatuses = map[string]bool{
	store.StatusNotStarted:    true,
	store.StatusInProgress:    true,
	store.StatusSubmitted:     true,
	store.StatusUnavailable:   true,
	store.StatusNewlyAssigned: true,
}

func (h *Handler) patchAssignment(w http.ResponseWriter, r *http.Request, id string) {
	var req updateAssignmentRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var opts store.UpdateOptions
	if req.Status != nil {
		if !editableStatuses[*req.Status] {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", *req.Status))
			return
		}
		opts.Status = req.Status
	}
	if req.Notes != nil {
		opts.Notes = req.Notes
	}
	if req.EstimatedMinutes != nil {
		if *req.EstimatedMinutes < 1 || *req.EstimatedMinutes > 1440 {
			writeError(w, http.StatusBadRequest, "estimated_minutes must be between 1 and 1440")
			return
		}
		opts.EstimatedMinutes = req.EstimatedMinutes
	}
	if req.PlannedStart != nil {
		parsed, clear, err := parsePlanningTime(*req.PlannedStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "planned_start must be RFC 3339 or empty")
			return
		}
		opts.PlannedStart, opts.ClearPlannedStart = parsed, clear
	}
	if req.PlannedEnd != nil {
		parsed, clear, err := parsePlanningTime(*req.PlannedEnd)
		if err != nil {
			writeError(w, http.StatusBadRequest, "planned_end must be RFC 3339 or empty")
			return
		}
		opts.PlannedEnd, opts.ClearPlannedEnd = parsed, clear
	}
	if req.DueDate != nil {
		parsed, clear, err := parsePlanningTime(*req.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "due_date must be RFC 3339 or empty")
			return
		}
		opts.DueDate, opts.ClearDueDate = parsed, clear
	}

	if req.Status == nil && req.Notes == nil && req.EstimatedMinutes == nil &&
		req.PlannedStart == nil && req.PlannedEnd == nil && req.DueDate == nil {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	// Any edit through the API marks the record student-owned, which
	// fences its status and planning fields off from future syncs.
	modified := true
	opts.IsModified = &modified

	err := h.store.Update(id, opts)
	if errors.Is(err, store.ErrAssignmentNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.getAssignment(w, id)
}

// parsePlanningTime reads an RFC 3339 time, with the empty string
// meaning "clear this field".
func parsePlanningTime(raw string) (*time.Time, bool, error) {
	if raw == "" {
		return nil, true, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, false, err
	}
	return &parsed, false, nil
}
