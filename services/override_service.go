package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pocketbase/pocketbase/core"

	"gatherly/config"
	"gatherly/internal/status"
	"gatherly/models"
	"gatherly/monitoring"
	"gatherly/security"
)

// OverrideService implements the three-step override authority protocol:
// an organizer re-authenticates to obtain a short-lived signed grant, any
// scanner can introspect it, and executing it admits a denied ticket with
// the full override trail on record.
type OverrideService struct {
	checkin *CheckinService
	cfg     *config.Config

	now func() time.Time
}

func NewOverrideService(checkin *CheckinService, cfg *config.Config) *OverrideService {
	return &OverrideService{checkin: checkin, cfg: cfg, now: time.Now}
}

// OverrideGrant pairs the signed token with its decoded metadata.
type OverrideGrant struct {
	Token    string                  `json:"token"`
	Metadata models.OverrideMetadata `json:"metadata"`
}

// Request issues a grant after re-authenticating the authorizer against the
// auth store. Credential failures are deliberately indistinct: an unknown
// identity and a wrong password produce the same error and the same scan log
// entry, so the response never confirms whether an account exists.
func (s *OverrideService) Request(ctx context.Context, eventID, code, identity, password, justification string, actor models.ActorContext) (*OverrideGrant, error) {
	event, err := s.checkin.loadEvent(eventID)
	if err != nil {
		return nil, err
	}

	set, err := s.checkin.loadSettings(eventID)
	if err != nil {
		return nil, err
	}
	if !set.AllowManualOverride {
		return nil, status.ErrOverrideDisabled
	}

	rec, inv, err := s.checkin.findInvite(code)
	if err != nil {
		return nil, err
	}
	if inv.EventID != eventID {
		return nil, status.ErrInviteNotFound
	}
	if inv.Admitted {
		return nil, status.ErrAlreadyAdmitted
	}

	if len(strings.TrimSpace(justification)) < s.cfg.MinJustificationLen {
		return nil, status.ErrJustificationTooShort
	}

	authorizer, err := s.checkin.app.FindAuthRecordByEmail("users", identity)
	if err != nil {
		return nil, s.denyCredentials(eventID, rec, inv, set, actor)
	}
	if authorizer.GetString("password:hash") == "" {
		return nil, status.ErrNoPasswordSet
	}
	if !authorizer.ValidatePassword(password) {
		return nil, s.denyCredentials(eventID, rec, inv, set, actor)
	}

	if authorizer.Id != event.OrganizerID && authorizer.GetString("role") != "admin" {
		monitoring.TrackOverride(eventID, "request", "denied")
		return nil, status.ErrInsufficientRole
	}

	now := s.now()
	expiresAt := now.Add(s.cfg.OverrideGrantTTL)

	claims := jwt.MapClaims{
		"sub": inv.Code,
		"evt": eventID,
		"azr": authorizer.Id,
		"azn": authorizer.GetString("name"),
		"rsn": strings.TrimSpace(justification),
		"gst": inv.GuestName,
		"blk": inv.BlockReason,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.OverrideSigningKey))
	if err != nil {
		return nil, fmt.Errorf("sign override grant: %w", err)
	}

	inv.AppendScan(scanEntry(now, models.ScanReasonOverrideIssued, true, actor, set))
	s.checkin.persistInvite(rec, inv)
	monitoring.TrackOverride(eventID, "request", "issued")
	slog.Info("override grant issued",
		"event", eventID,
		"code", inv.Code,
		"authorizer", authorizer.Id,
		"expires_at", expiresAt,
	)

	return &OverrideGrant{
		Token: token,
		Metadata: models.OverrideMetadata{
			EventID:             eventID,
			Code:                inv.Code,
			Authorizer:          authorizer.Id,
			AuthorizerName:      authorizer.GetString("name"),
			Justification:       strings.TrimSpace(justification),
			GuestName:           inv.GuestName,
			OriginalBlockReason: inv.BlockReason,
			IssuedAt:            now,
			ExpiresAt:           expiresAt,
			Remaining:           s.cfg.OverrideGrantTTL,
		},
	}, nil
}

// denyCredentials records a failed re-authentication attempt on the ticket's
// scan log. Unknown identity and wrong password go through the same path.
func (s *OverrideService) denyCredentials(eventID string, rec *core.Record, inv *models.Invite, set *models.CheckinSettings, actor models.ActorContext) error {
	inv.AppendScan(scanEntry(s.now(), models.ScanReasonOverrideFailed, false, actor, set))
	s.checkin.persistInvite(rec, inv)
	monitoring.TrackOverride(eventID, "request", "denied")
	return status.ErrInvalidCredentials
}

// Introspect verifies a grant without consuming it, so door staff can
// preview who authorized what and how long the grant remains valid.
func (s *OverrideService) Introspect(ctx context.Context, eventID, code, token string) (*models.OverrideMetadata, error) {
	return s.parseGrant(eventID, code, token)
}

// Execute consumes a grant and admits the ticket. Single use is enforced by
// the admitted state itself: a grant against an already-admitted ticket is
// refused before the commit path runs.
func (s *OverrideService) Execute(ctx context.Context, eventID, code, token string, attendees int, actor models.ActorContext) (*models.AdmittedSnapshot, *models.DenyDescriptor, error) {
	meta, err := s.parseGrant(eventID, code, token)
	if err != nil {
		monitoring.TrackOverride(eventID, "execute", "refused")
		return nil, nil, err
	}

	event, err := s.checkin.loadEvent(eventID)
	if err != nil {
		return nil, nil, err
	}
	set, err := s.checkin.loadSettings(eventID)
	if err != nil {
		return nil, nil, err
	}
	rec, inv, err := s.checkin.findInvite(code)
	if err != nil {
		return nil, nil, err
	}
	if inv.EventID != eventID {
		return nil, nil, status.ErrInviteNotFound
	}

	snap, deny, err := s.checkin.admit(ctx, event, set, rec, inv, actor, commitParams{
		Attendees:      attendees,
		Override:       true,
		Authorizer:     meta.Authorizer,
		AuthorizerName: meta.AuthorizerName,
		Justification:  meta.Justification,
		Overrode:       meta.OriginalBlockReason,
	})
	switch {
	case err != nil:
		return nil, nil, err
	case deny != nil:
		monitoring.TrackOverride(eventID, "execute", "refused")
		return nil, deny, nil
	}

	monitoring.TrackOverride(eventID, "execute", "applied")
	slog.Info("override applied",
		"event", eventID,
		"code", code,
		"authorizer", meta.Authorizer,
		"executor", actor.ActorID,
	)
	return snap, nil, nil
}

func (s *OverrideService) parseGrant(eventID, code, token string) (*models.OverrideMetadata, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.OverrideSigningKey), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, status.ErrGrantExpired
		}
		return nil, status.ErrGrantMalformed
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, status.ErrGrantMalformed
	}

	str := func(key string) string {
		v, _ := claims[key].(string)
		return v
	}

	if str("evt") != eventID || str("sub") != code {
		return nil, status.ErrGrantMismatch
	}

	iatUnix, _ := claims["iat"].(float64)
	expUnix, _ := claims["exp"].(float64)
	expiresAt := time.Unix(int64(expUnix), 0)

	return &models.OverrideMetadata{
		EventID:             str("evt"),
		Code:                str("sub"),
		Authorizer:          str("azr"),
		AuthorizerName:      str("azn"),
		Justification:       str("rsn"),
		GuestName:           str("gst"),
		OriginalBlockReason: str("blk"),
		IssuedAt:            time.Unix(int64(iatUnix), 0),
		ExpiresAt:           expiresAt,
		Remaining:           security.Remaining(expiresAt, s.now()),
	}, nil
}
