// Package editor exposes the scenario editing sessions over HTTP for the UI
// layer: open/release, mutation operations, change summaries, and the
// save/discard protocol.
package editor

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/paulmach/orb/geojson"

	"scenariocore/internal/backend"
	"scenariocore/internal/core"
	"scenariocore/pkg/domain"
)

const basePath = "/api/v1/sessions"

// Handler provides HTTP access to editing sessions.
type Handler struct {
	Service *core.Service
}

// NewHandler constructs the session HTTP handler.
func NewHandler(service *core.Service) *Handler {
	return &Handler{Service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		writeError(w, http.StatusInternalServerError, "session service not configured")
		return
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodPost && path == basePath:
		h.handleOpen(w, r)
	case strings.HasPrefix(path, basePath+"/"):
		h.handleSession(w, r, strings.TrimPrefix(path, basePath+"/"))
	default:
		http.NotFound(w, r)
	}
}

type openRequest struct {
	Project  string `json:"project"`
	Scenario string `json:"scenario"`
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Project == "" || req.Scenario == "" {
		writeError(w, http.StatusBadRequest, "project and scenario are required")
		return
	}
	sess, err := h.Service.Open(r.Context(), req.Project, req.Scenario)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project":  req.Project,
		"scenario": req.Scenario,
		"dirty":    sess.Dirty(),
	})
}

// handleSession dispatches /api/v1/sessions/{project}/{scenario}[/{action}].
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request, remainder string) {
	segments := strings.Split(remainder, "/")
	if len(segments) < 2 {
		http.NotFound(w, r)
		return
	}
	project, scenario := segments[0], segments[1]
	sess, ok := h.Service.Session(project, scenario)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	if len(segments) == 2 {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{
				"document": sess.Document(),
				"dirty":    sess.Dirty(),
			})
		case http.MethodDelete:
			h.handleRelease(w, r, sess)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}
	if len(segments) != 3 {
		http.NotFound(w, r)
		return
	}

	action := segments[2]
	if action == "changes" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"grouped": sess.GroupedChanges(),
			"records": sess.Changes(),
		})
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	switch action {
	case "update":
		h.handleUpdate(w, r, sess)
	case "delete":
		h.handleDelete(w, r, sess)
	case "create":
		h.handleCreate(w, r, sess)
	case "duplicate":
		h.handleDuplicate(w, r, sess)
	case "schedule":
		h.handleSchedule(w, r, sess)
	case "save":
		h.handleSave(w, r, sess)
	case "discard":
		h.handleDiscard(w, r, sess)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request, sess *core.Session) {
	force := strings.EqualFold(r.URL.Query().Get("force"), "true")
	if err := h.Service.Release(r.Context(), sess, force); err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"released": true})
}

type updateRequest struct {
	Table   domain.TableName   `json:"table"`
	IDs     []string           `json:"ids"`
	Updates []core.FieldUpdate `json:"updates"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request, sess *core.Session) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := sess.UpdateBuildings(r.Context(), req.Table, req.IDs, req.Updates)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeResult(w, res)
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, sess *core.Session) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := sess.DeleteBuildings(r.Context(), req.IDs)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeResult(w, res)
}

type createRequest struct {
	Table      domain.TableName  `json:"table"`
	ID         string            `json:"id,omitempty"`
	Properties domain.Record     `json:"properties,omitempty"`
	Geometry   *geojson.Geometry `json:"geometry"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request, sess *core.Session) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Geometry == nil {
		writeError(w, http.StatusBadRequest, "geometry is required")
		return
	}
	id, res, err := sess.CreateBuilding(r.Context(), req.Table, req.ID, req.Properties, req.Geometry.Geometry())
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "violations": res.Violations})
}

type duplicateRequest struct {
	IDs []string `json:"ids"`
}

func (h *Handler) handleDuplicate(w http.ResponseWriter, r *http.Request, sess *core.Session) {
	var req duplicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ids, res, err := sess.DuplicateBuildings(r.Context(), req.IDs)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ids": ids, "violations": res.Violations})
}

type scheduleRequest struct {
	ID      string   `json:"id"`
	Month   *int     `json:"month,omitempty"`
	DayType string   `json:"dayType,omitempty"`
	Hour    *int     `json:"hour,omitempty"`
	Value   *float64 `json:"value,omitempty"`
}

// handleSchedule fetches a building's schedule when no edit is supplied, or
// applies a single multiplier / hourly edit after ensuring the schedule is
// present in the session.
func (h *Handler) handleSchedule(w http.ResponseWriter, r *http.Request, sess *core.Session) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "building id is required")
		return
	}
	if err := h.Service.EnsureSchedule(r.Context(), sess, req.ID); err != nil {
		writeOperationError(w, err)
		return
	}
	if req.Value == nil {
		sched, _ := sess.Document().Schedule(req.ID)
		writeJSON(w, http.StatusOK, map[string]any{"id": req.ID, "schedule": sched})
		return
	}

	var res domain.Result
	var err error
	switch {
	case req.Month != nil:
		res, err = sess.SetMonthlyMultiplier(r.Context(), req.ID, *req.Month, *req.Value)
	case req.DayType != "" && req.Hour != nil:
		res, err = sess.SetHourlyValue(r.Context(), req.ID, req.DayType, *req.Hour, *req.Value)
	default:
		writeError(w, http.StatusBadRequest, "edit requires month or dayType+hour")
		return
	}
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeResult(w, res)
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request, sess *core.Session) {
	res, err := h.Service.Save(r.Context(), sess)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": true, "violations": res.Violations})
}

func (h *Handler) handleDiscard(w http.ResponseWriter, r *http.Request, sess *core.Session) {
	if err := h.Service.Discard(r.Context(), sess); err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"discarded": true})
}

func writeResult(w http.ResponseWriter, res domain.Result) {
	writeJSON(w, http.StatusOK, map[string]any{"violations": res.Violations})
}

// writeOperationError maps domain and transport errors to HTTP statuses.
func writeOperationError(w http.ResponseWriter, err error) {
	var violation domain.RuleViolationError
	if errors.As(err, &violation) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      err.Error(),
			"violations": violation.Result.Violations,
		})
		return
	}
	var notFound core.ErrNotFound
	var mixed core.MixedEntityTypeError
	var unfetched core.ErrScheduleNotFetched
	var status *backend.StatusError
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &mixed), errors.As(err, &unfetched):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrDirtySession):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrNoChanges):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrSessionClosed):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, backend.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &status):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
