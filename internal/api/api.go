/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the schedule controller over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/slotwatch/internal/auth"
	"github.com/friendsincode/slotwatch/internal/events"
	"github.com/friendsincode/slotwatch/internal/logbuffer"
	"github.com/friendsincode/slotwatch/internal/models"
)

// Scheduler is the controller surface served by the API.
type Scheduler interface {
	CurrentTimeslot() *models.Timeslot
	NextTimeslot() *models.Timeslot
	SortedTimeslots() []*models.Timeslot
	Schedules() []*models.Schedule
	ClearExpiredTimeslots(ctx context.Context) error
	ClearAllScheduleEvents(ctx context.Context) error
}

// History reads persisted slot events.
type History interface {
	Recent(ctx context.Context, limit int) ([]models.SlotEvent, error)
}

// Logs reads recent in-memory log entries.
type Logs interface {
	Query(params logbuffer.QueryParams) []logbuffer.LogEntry
	Stats() logbuffer.Stats
}

// API exposes HTTP handlers.
type API struct {
	scheduler Scheduler
	history   History
	logs      Logs
	bus       *events.Bus
	logger    zerolog.Logger

	maintenanceAuth func(http.Handler) http.Handler
	instanceID      string
	isLeader        func() bool
	pingInterval    time.Duration
}

// New creates the API router wrapper. history and logs may be nil when
// the matching feature is disabled.
func New(scheduler Scheduler, history History, logs Logs, bus *events.Bus, logger zerolog.Logger) *API {
	return &API{
		scheduler:    scheduler,
		history:      history,
		logs:         logs,
		bus:          bus,
		logger:          logger.With().Str("component", "api").Logger(),
		maintenanceAuth: auth.Disabled,
		pingInterval:    15 * time.Second,
	}
}

// RequireMaintenanceToken opens the maintenance routes to bearer tokens
// signed with secret and granting auth.ScopeMaintenance. Until it is called
// those routes answer 403.
func (a *API) RequireMaintenanceToken(secret []byte) {
	a.maintenanceAuth = auth.Require(secret, auth.ScopeMaintenance)
}

// ReportLeadership serves /api/v1/leader for instanceID. A nil isLeader
// reports the instance as leader.
func (a *API) ReportLeadership(instanceID string, isLeader func() bool) {
	a.instanceID = instanceID
	a.isLeader = isLeader
}

// Routes registers API routes on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/timeslots", func(r chi.Router) {
			r.Get("/", a.handleTimeslotsList)
			r.Get("/current", a.handleTimeslotCurrent)
			r.Get("/next", a.handleTimeslotNext)
		})
		r.Get("/schedules", a.handleSchedulesList)
		r.Get("/history", a.handleHistory)
		r.Get("/logs", a.handleLogs)
		r.Get("/leader", a.handleLeader)

		r.Route("/maintenance", func(r chi.Router) {
			r.Use(a.maintenanceAuth)
			r.Post("/clear-expired", a.handleClearExpired)
			r.Post("/clear-all", a.handleClearAll)
		})

		r.Get("/events", a.handleEvents)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleTimeslotsList(w http.ResponseWriter, r *http.Request) {
	slots := a.scheduler.SortedTimeslots()
	out := make([]TimeslotResponse, 0, len(slots))
	for _, slot := range slots {
		out = append(out, NewTimeslotResponse(slot))
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeslots": out})
}

func (a *API) handleTimeslotCurrent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"timeslot": optionalTimeslot(a.scheduler.CurrentTimeslot())})
}

func (a *API) handleTimeslotNext(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"timeslot": optionalTimeslot(a.scheduler.NextTimeslot())})
}

func (a *API) handleSchedulesList(w http.ResponseWriter, r *http.Request) {
	schedules := a.scheduler.Schedules()
	out := make([]ScheduleResponse, 0, len(schedules))
	for _, s := range schedules {
		out = append(out, NewScheduleResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": out})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history_disabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = parsed
	}

	recent, err := a.history.Recent(r.Context(), limit)
	if err != nil {
		a.logger.Error().Err(err).Msg("history query failed")
		writeError(w, http.StatusInternalServerError, "history_query_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": recent})
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logs == nil {
		writeError(w, http.StatusServiceUnavailable, "logs_disabled")
		return
	}

	q := r.URL.Query()
	params := logbuffer.QueryParams{
		Level:     q.Get("level"),
		Component: q.Get("component"),
		Search:    q.Get("search"),
		Limit:     100,
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		params.Limit = limit
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		params.Since = since
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  a.logs.Query(params),
		"stats": a.logs.Stats(),
	})
}

func (a *API) handleLeader(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"instance_id": a.instanceID,
		"leader":      a.isLeader == nil || a.isLeader(),
	})
}

func (a *API) handleClearExpired(w http.ResponseWriter, r *http.Request) {
	a.logger.Info().Str("operator", operator(r)).Msg("clear expired timeslots requested")
	if err := a.scheduler.ClearExpiredTimeslots(r.Context()); err != nil {
		a.logger.Error().Err(err).Msg("clear expired timeslots failed")
		writeError(w, http.StatusBadGateway, "clear_expired_failed")
		return
	}
	a.bus.Publish(events.EventExpiredCleared, events.Payload{"source": "api"})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "cleared",
		"timeslots": len(a.scheduler.SortedTimeslots()),
	})
}

func (a *API) handleClearAll(w http.ResponseWriter, r *http.Request) {
	a.logger.Warn().Str("operator", operator(r)).Msg("clear all schedule events requested")
	if err := a.scheduler.ClearAllScheduleEvents(r.Context()); err != nil {
		a.logger.Error().Err(err).Msg("clear all schedule events failed")
		writeError(w, http.StatusBadGateway, "clear_all_failed")
		return
	}
	a.bus.Publish(events.EventScheduleReset, events.Payload{"source": "api"})
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func operator(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		return claims.Subject
	}
	return ""
}

func optionalTimeslot(slot *models.Timeslot) *TimeslotResponse {
	if slot == nil {
		return nil
	}
	resp := NewTimeslotResponse(slot)
	return &resp
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
