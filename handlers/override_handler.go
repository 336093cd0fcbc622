package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"gatherly/services"
)

// OverrideHandler exposes the override authority protocol. The request step
// carries organizer credentials in the body, never the scanner's session.
type OverrideHandler struct {
	overrides *services.OverrideService
}

func NewOverrideHandler(overrides *services.OverrideService) *OverrideHandler {
	return &OverrideHandler{overrides: overrides}
}

func (h *OverrideHandler) Register(se *core.ServeEvent) {
	g := se.Router.Group("/api/enterprise/events/{eventId}/checkin/{code}/override")
	g.Bind(apis.RequireAuth())

	g.POST("/request", h.Request)
	g.POST("/introspect", h.Introspect)
	g.POST("/execute", h.Execute)
}

type overrideRequestBody struct {
	Identity      string `json:"identity"`
	Password      string `json:"password"`
	Justification string `json:"justification"`
}

func (h *OverrideHandler) Request(e *core.RequestEvent) error {
	var req overrideRequestBody
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("invalid request body", err)
	}
	if req.Identity == "" || req.Password == "" {
		return apis.NewBadRequestError("identity and password are required", nil)
	}

	grant, err := h.overrides.Request(
		e.Request.Context(),
		e.Request.PathValue("eventId"),
		e.Request.PathValue("code"),
		req.Identity,
		req.Password,
		req.Justification,
		actorContext(e),
	)
	if err != nil {
		return mapServiceError(err)
	}
	return e.JSON(http.StatusOK, grant)
}

type overrideTokenBody struct {
	Token     string `json:"token"`
	Attendees *int   `json:"attendees"`
}

func (h *OverrideHandler) Introspect(e *core.RequestEvent) error {
	var req overrideTokenBody
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("invalid request body", err)
	}
	if req.Token == "" {
		return apis.NewBadRequestError("token is required", nil)
	}

	meta, err := h.overrides.Introspect(
		e.Request.Context(),
		e.Request.PathValue("eventId"),
		e.Request.PathValue("code"),
		req.Token,
	)
	if err != nil {
		return mapServiceError(err)
	}
	return e.JSON(http.StatusOK, meta)
}

func (h *OverrideHandler) Execute(e *core.RequestEvent) error {
	var req overrideTokenBody
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("invalid request body", err)
	}
	if req.Token == "" {
		return apis.NewBadRequestError("token is required", nil)
	}

	attendees := -1
	if req.Attendees != nil {
		if *req.Attendees < 0 {
			return apis.NewBadRequestError("attendees must be non-negative", nil)
		}
		attendees = *req.Attendees
	}

	snap, deny, err := h.overrides.Execute(
		e.Request.Context(),
		e.Request.PathValue("eventId"),
		e.Request.PathValue("code"),
		req.Token,
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
