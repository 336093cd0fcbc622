package handlers

import (
	"net/http"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"gatherly/services"
)

// SettingsHandler manages the per-event check-in policy and the door-staff
// dashboard stats. Policy reads and writes are organizer-gated.
type SettingsHandler struct {
	app     core.App
	checkin *services.CheckinService
}

func NewSettingsHandler(app core.App, checkin *services.CheckinService) *SettingsHandler {
	return &SettingsHandler{app: app, checkin: checkin}
}

func (h *SettingsHandler) Register(se *core.ServeEvent) {
	g := se.Router.Group("/api/enterprise/events/{eventId}")
	g.Bind(apis.RequireAuth())

	g.GET("/checkin-settings", h.Get)
	g.PATCH("/checkin-settings", h.Update)
	g.GET("/checkin-stats", h.Stats)
}

// settingsFields is the whitelist of patchable policy fields, keyed by
// their storage names.
var settingsFields = map[string]struct{}{
	"require_pin":                {},
	"cross_event_blocking":       {},
	"max_failed_attempts":        {},
	"lockout_minutes":            {},
	"allow_manual_override":      {},
	"enable_duplicate_detection": {},
	"duplicate_mode":             {},
	"auto_block_duplicates":      {},
	"allow_multiple_tickets":     {},
	"enable_pattern_detection":   {},
	"max_scans_per_window":       {},
	"scan_window_minutes":        {},
	"max_distinct_ips":           {},
	"max_distinct_devices":       {},
	"enable_trust_scoring":       {},
	"trust_threshold":            {},
	"auto_block_low_trust":       {},
	"lock_timeout_seconds":       {},
	"enforce_time_window":        {},
	"early_checkin_minutes":      {},
	"late_checkin_minutes":       {},
	"allow_late_checkin":         {},
	"enforce_capacity":           {},
	"max_capacity":               {},
	"detailed_audit_log":         {},
	"log_ip_addresses":           {},
	"log_device_info":            {},
	"emergency_lockdown":         {},
	"lockdown_reason":            {},
}

func (h *SettingsHandler) Get(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")
	if err := h.requireOrganizer(e, eventID); err != nil {
		return err
	}

	set, err := h.checkin.Settings(e.Request.Context(), eventID)
	if err != nil {
		return mapServiceError(err)
	}
	return e.JSON(http.StatusOK, set)
}

func (h *SettingsHandler) Update(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")
	if err := h.requireOrganizer(e, eventID); err != nil {
		return err
	}

	patch := map[string]any{}
	if err := e.BindBody(&patch); err != nil {
		return apis.NewBadRequestError("invalid request body", err)
	}
	for key := range patch {
		if _, ok := settingsFields[key]; !ok {
			return apis.NewBadRequestError("unknown settings field: "+key, nil)
		}
	}

	// First read creates the defaults record if the event never had one.
	if _, err := h.checkin.Settings(e.Request.Context(), eventID); err != nil {
		return mapServiceError(err)
	}
	rec, err := h.app.FindFirstRecordByFilter("checkin_settings", "event = {:event}", dbx.Params{"event": eventID})
	if err != nil {
		return apis.NewNotFoundError("settings not found", err)
	}

	for key, value := range patch {
		rec.Set(key, value)
	}
	if err := h.app.Save(rec); err != nil {
		return apis.NewBadRequestError("failed to update settings", err)
	}

	set, err := h.checkin.Settings(e.Request.Context(), eventID)
	if err != nil {
		return mapServiceError(err)
	}
	return e.JSON(http.StatusOK, set)
}

func (h *SettingsHandler) Stats(e *core.RequestEvent) error {
	stats, err := h.checkin.Stats(e.Request.Context(), e.Request.PathValue("eventId"))
	if err != nil {
		return mapServiceError(err)
	}
	return e.JSON(http.StatusOK, stats)
}

func (h *SettingsHandler) requireOrganizer(e *core.RequestEvent, eventID string) error {
	event, err := h.app.FindRecordById("events", eventID)
	if err != nil {
		return apis.NewNotFoundError("event not found", err)
	}
	if e.Auth == nil || (e.Auth.Id != event.GetString("organizer") && e.Auth.GetString("role") != "admin") {
		return apis.NewForbiddenError("only the event organizer may manage check-in settings", nil)
	}
	return nil
}
