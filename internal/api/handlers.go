// Package api exposes HTTP handlers for the health projection service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"example.com/healthassistant/internal/aggregate"
	"example.com/healthassistant/internal/auth"
	"example.com/healthassistant/internal/domain"
	"example.com/healthassistant/internal/events"
	"example.com/healthassistant/internal/exercisestats"
	"example.com/healthassistant/internal/logger"
	"example.com/healthassistant/internal/projection"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	logger  *zap.Logger
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{service: service, logger: log.Named("api")}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/summaries/daily", h.readOnly(h.dailySummary))
	mux.HandleFunc("/v1/summaries/range", h.readOnly(h.rangeSummary))
	mux.HandleFunc("/v1/rollups", h.readOnly(h.rollups))
	mux.HandleFunc("/v1/energy-requirements", h.readOnly(h.energyRequirements))
	mux.HandleFunc("/v1/exercises/statistics", h.readOnly(h.exerciseStatistics))
	mux.HandleFunc("/v1/personal-records", h.readOnly(h.personalRecords))
	mux.HandleFunc("/v1/events/", h.readOnly(h.eventByID))
	mux.HandleFunc("/v1/projections/reproject", h.reproject)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readOnly restricts a handler to GET requests from callers holding the read scope.
func (h *Handler) readOnly(next func(http.ResponseWriter, *http.Request, *auth.Claims)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		claims, ok := requireScope(w, r, auth.ScopeSummariesRead)
		if !ok {
			return
		}
		next(w, r, claims)
	}
}

func requireScope(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return nil, false
	}
	return claims, true
}

func (h *Handler) dailySummary(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	date, ok := dateParam(w, r, "date")
	if !ok {
		return
	}
	snapshot, err := h.service.GetDailySummary(r.Context(), claims.DeviceID, date)
	if err != nil {
		h.serverError(w, claims, err)
		return
	}
	if snapshot == nil {
		writeError(w, http.StatusNotFound, "no_data", "no data for "+events.FormatDate(date))
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) rangeSummary(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	from, to, ok := rangeParams(w, r)
	if !ok {
		return
	}
	summary, err := h.service.GetRangeSummary(r.Context(), claims.DeviceID, from, to)
	if err != nil {
		h.writeDomainError(w, claims, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) rollups(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	from, to, ok := rangeParams(w, r)
	if !ok {
		return
	}
	rollups, err := h.service.GetDailyRollups(r.Context(), claims.DeviceID, from, to)
	if err != nil {
		h.writeDomainError(w, claims, err)
		return
	}
	writeJSON(w, http.StatusOK, RollupsResponse{Items: rollups})
}

func (h *Handler) energyRequirements(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	date, ok := dateParam(w, r, "date")
	if !ok {
		return
	}
	req, err := h.service.GetEnergyRequirements(r.Context(), claims.DeviceID, date)
	if err != nil {
		h.writeDomainError(w, claims, err)
		return
	}
	if req == nil {
		writeError(w, http.StatusNotFound, "no_data", "no weight history with lean body mass")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) exerciseStatistics(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	exerciseID := strings.TrimSpace(r.URL.Query().Get("exercise_id"))
	if exerciseID == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing exercise_id parameter")
		return
	}
	from, ok := optionalDateParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := optionalDateParam(w, r, "to")
	if !ok {
		return
	}

	stats, err := h.service.GetExerciseStatistics(r.Context(), claims.DeviceID, exerciseID, from, to)
	if err != nil {
		h.writeDomainError(w, claims, err)
		return
	}
	if stats == nil {
		writeError(w, http.StatusNotFound, "no_data", "no sets recorded for "+exerciseID)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) personalRecords(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	records, err := h.service.GetAllPersonalRecords(r.Context(), claims.DeviceID)
	if err != nil {
		h.serverError(w, claims, err)
		return
	}
	writeJSON(w, http.StatusOK, PersonalRecordsResponse{Items: records})
}

func (h *Handler) eventByID(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/events/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing event id")
		return
	}
	eventType := events.Type(r.URL.Query().Get("type"))
	if eventType == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing type parameter")
		return
	}

	evt, err := h.service.FindOwnedEvent(r.Context(), claims.DeviceID, id, eventType)
	if err != nil {
		h.writeDomainError(w, claims, err)
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

func (h *Handler) reproject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeProjectionsWrite)
	if !ok {
		return
	}

	var req ReprojectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	var (
		report projection.Report
		err    error
	)
	switch req.Scope {
	case ReprojectWorkouts:
		report, err = h.service.ReprojectAllWorkouts(r.Context(), claims.DeviceID)
	case ReprojectDate:
		date, _ := events.ParseDate(req.Date)
		report, err = h.service.ReprojectDate(r.Context(), claims.DeviceID, date)
	}
	if err != nil {
		h.serverError(w, claims, err)
		return
	}
	writeJSON(w, http.StatusOK, ReprojectResponse{
		Projected:        report.Projected,
		AlreadyProjected: report.AlreadyProjected,
		Failed:           report.Failed(),
	})
}

// Reproject scopes.
const (
	ReprojectWorkouts = "workouts"
	ReprojectDate     = "date"
)

// ReprojectRequest is the payload for POST /v1/projections/reproject.
type ReprojectRequest struct {
	Scope string `json:"scope"`
	Date  string `json:"date,omitempty"`
}

// Validate ensures request correctness.
func (r ReprojectRequest) Validate() error {
	switch r.Scope {
	case ReprojectWorkouts:
		return nil
	case ReprojectDate:
		if _, err := events.ParseDate(r.Date); err != nil {
			return errors.New("date must be formatted as YYYY-MM-DD")
		}
		return nil
	default:
		return errors.New("scope must be workouts or date")
	}
}

// ReprojectResponse reports the counters of a rebuild.
type ReprojectResponse struct {
	Projected        int `json:"projected"`
	AlreadyProjected int `json:"already_projected"`
	Failed           int `json:"failed"`
}

// RollupsResponse packages rollup results.
type RollupsResponse struct {
	Items []projection.DailyRollup `json:"items"`
}

// PersonalRecordsResponse packages personal records.
type PersonalRecordsResponse struct {
	Items []exercisestats.PersonalRecord `json:"items"`
}

func dateParam(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing "+name+" parameter")
		return time.Time{}, false
	}
	d, err := events.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", name+" must be formatted as YYYY-MM-DD")
		return time.Time{}, false
	}
	return d, true
}

func optionalDateParam(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	if r.URL.Query().Get(name) == "" {
		return nil, true
	}
	d, ok := dateParam(w, r, name)
	if !ok {
		return nil, false
	}
	return &d, true
}

func rangeParams(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	from, ok := dateParam(w, r, "from")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	to, ok := dateParam(w, r, "to")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func (h *Handler) writeDomainError(w http.ResponseWriter, claims *auth.Claims, err error) {
	switch {
	case errors.Is(err, aggregate.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "event not found")
	case errors.Is(err, domain.ErrEnergyUnavailable):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		h.serverError(w, claims, err)
	}
}

func (h *Handler) serverError(w http.ResponseWriter, claims *auth.Claims, err error) {
	h.logger.Error("request failed", logger.Device(claims.DeviceID), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "server_error", "internal error")
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
