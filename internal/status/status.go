package status

import "errors"

var (
	ErrEventNotFound    = errors.New("checkin: event not found")
	ErrInviteNotFound   = errors.New("checkin: invite not found")
	ErrSettingsNotFound = errors.New("checkin: settings not found")

	// ErrLockHeld is surfaced distinctly from policy denials so the UI can
	// offer "try again" instead of "access denied".
	ErrLockHeld = errors.New("checkin: concurrent check-in in progress")

	ErrAlreadyAdmitted = errors.New("checkin: invite already admitted")

	ErrOverrideDisabled      = errors.New("override: manual override not permitted for this event")
	ErrInvalidCredentials    = errors.New("override: invalid credentials")
	ErrInsufficientRole      = errors.New("override: authorizer lacks organizer privilege")
	ErrNoPasswordSet         = errors.New("override: authorizer has no password configured")
	ErrJustificationTooShort = errors.New("override: justification too short")
	ErrGrantExpired          = errors.New("override: grant expired, request a new one")
	ErrGrantMismatch         = errors.New("override: grant does not match this event and ticket")
	ErrGrantMalformed        = errors.New("override: grant malformed")
)
