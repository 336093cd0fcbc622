package handlers

import (
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"gatherly/internal/status"
	"gatherly/models"
	"gatherly/services"
	"gatherly/utils"
)

// CheckinHandler exposes the scanner-facing admission flow: lookup, PIN
// verification and commit.
type CheckinHandler struct {
	checkin *services.CheckinService
}

func NewCheckinHandler(checkin *services.CheckinService) *CheckinHandler {
	return &CheckinHandler{checkin: checkin}
}

func (h *CheckinHandler) Register(se *core.ServeEvent) {
	g := se.Router.Group("/api/enterprise/events/{eventId}/checkin/{code}")
	g.Bind(apis.RequireAuth())

	g.GET("", h.Lookup)
	g.POST("/verify-pin", h.VerifyPin)
	g.POST("/commit", h.Commit)
}

func (h *CheckinHandler) Lookup(e *core.RequestEvent) error {
	result, err := h.checkin.Lookup(
		e.Request.Context(),
		e.Request.PathValue("eventId"),
		e.Request.PathValue("code"),
		actorContext(e),
	)
	if err != nil {
		return mapServiceError(err)
	}
	return e.JSON(http.StatusOK, result)
}

type verifyPinRequest struct {
	PIN string `json:"pin"`
}

func (h *CheckinHandler) VerifyPin(e *core.RequestEvent) error {
	var req verifyPinRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("invalid request body", err)
	}
	if req.PIN == "" {
		return apis.NewBadRequestError("pin is required", nil)
	}

	result, err := h.checkin.VerifyPin(
		e.Request.Context(),
		e.Request.PathValue("eventId"),
		e.Request.PathValue("code"),
		req.PIN,
		actorContext(e),
	)
	if err != nil {
		return mapServiceError(err)
	}
	return e.JSON(http.StatusOK, result)
}

type commitRequest struct {
	Attendees *int `json:"attendees"`
}

func (h *CheckinHandler) Commit(e *core.RequestEvent) error {
	var req commitRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("invalid request body", err)
	}

	attendees := -1
	if req.Attendees != nil {
		if *req.Attendees < 0 {
			return apis.NewBadRequestError("attendees must be non-negative", nil)
		}
		attendees = *req.Attendees
	}

	snap, deny, err := h.checkin.CommitAdmission(
		e.Request.Context(),
		e.Request.PathValue("eventId"),
		e.Request.PathValue("code"),
		attendees,
		actorContext(e),
	)
	if err != nil {
		return mapServiceError(err)
	}
	if deny != nil {
		return e.JSON(http.StatusForbidden, map[string]any{"admitted": false, "deny": deny})
	}
	return e.JSON(http.StatusOK, snap)
}

// actorContext extracts the requesting staff identity. Scanners send a
// stable X-Scan-Session header so lock reentrancy works across their
// lookup/commit pair; one is minted for clients that do not.
func actorContext(e *core.RequestEvent) models.ActorContext {
	actor := models.ActorContext{
		SessionID: e.Request.Header.Get("X-Scan-Session"),
		IP:        e.RealIP(),
		Device:    e.Request.UserAgent(),
	}
	if e.Auth != nil {
		actor.ActorID = e.Auth.Id
		actor.ActorName = e.Auth.GetString("name")
	}
	if actor.SessionID == "" {
		actor.SessionID = utils.NewScanSession()
	}
	return actor
}

func mapServiceError(err error) error {
	switch {
	case errors.Is(err, status.ErrEventNotFound),
		errors.Is(err, status.ErrInviteNotFound):
		return apis.NewNotFoundError(err.Error(), nil)
	case errors.Is(err, status.ErrLockHeld),
		errors.Is(err, status.ErrAlreadyAdmitted):
		return apis.NewApiError(http.StatusConflict, err.Error(), nil)
	case errors.Is(err, status.ErrInvalidCredentials):
		return apis.NewUnauthorizedError(err.Error(), nil)
	case errors.Is(err, status.ErrInsufficientRole),
		errors.Is(err, status.ErrOverrideDisabled):
		return apis.NewForbiddenError(err.Error(), nil)
	case errors.Is(err, status.ErrJustificationTooShort),
		errors.Is(err, status.ErrNoPasswordSet),
		errors.Is(err, status.ErrGrantExpired),
		errors.Is(err, status.ErrGrantMismatch),
		errors.Is(err, status.ErrGrantMalformed):
		return apis.NewBadRequestError(err.Error(), nil)
	default:
		return apis.NewApiError(http.StatusInternalServerError, "something went wrong", err)
	}
}
