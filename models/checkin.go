package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Deny severities, used purely for UI urgency.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Deny reason codes.
const (
	DenyWrongEvent       = "wrong_event"
	DenyAlreadyAdmitted  = "already_admitted"
	DenyLockdown         = "lockdown"
	DenyBlocked          = "blocked"
	DenyBlockedElsewhere = "blocked_elsewhere"
	DenyLowTrust         = "low_trust_blocked"
	DenyPINLockout       = "pin_lockout"
	DenyDuplicate        = "duplicate_blocked"
	DenyCapacity         = "capacity_full"
	DenyTooEarly         = "too_early"
	DenyTooLate          = "too_late"
)

// Warning types attached by guards that pass.
const (
	WarnLowTrust         = "low_trust_warning"
	WarnDuplicate        = "duplicate_warning"
	WarnDuplicatePending = "duplicate_pending"
	WarnRapidScans       = "rapid_scans"
	WarnIPDiversity      = "ip_diversity"
	WarnDeviceDiversity  = "device_diversity"
)

// Security flag kinds.
const (
	FlagDuplicate  = "duplicate"
	FlagRapidScans = "rapid_scans"
	FlagIPSpread   = "ip_spread"
)

// Scan-attempt outcome reasons recorded in the append-only log.
const (
	ScanReasonLookup          = "lookup"
	ScanReasonAdmitted        = "admitted"
	ScanReasonDenied          = "denied"
	ScanReasonPINFailed       = "pin_failed"
	ScanReasonPINVerified     = "pin_verified"
	ScanReasonWrongEvent      = "wrong_event"
	ScanReasonOverrideIssued  = "override_issued"
	ScanReasonOverrideFailed  = "override_failed"
	ScanReasonOverrideApplied = "override_applied"
)

// ActorContext identifies the staff member and device performing a scan.
type ActorContext struct {
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name"`
	SessionID string `json:"session_id"`
	IP        string `json:"ip"`
	Device    string `json:"device"`
}

// Warning is a non-fatal annotation a guard attaches while passing.
type Warning struct {
	Type     string         `json:"type"`
	Severity string         `json:"severity"`
	Message  string         `json:"message"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// DenyDescriptor is the structured result of a guard terminating a request.
// It is always an expected policy outcome, never a fault.
type DenyDescriptor struct {
	Reason           string         `json:"reason"`
	Severity         string         `json:"severity"`
	Message          string         `json:"message"`
	RequiresOverride bool           `json:"requiresOverride"`
	Extra            map[string]any `json:"extra,omitempty"`
}

// SecuritySummary is the fraud-signal digest returned by lookup.
type SecuritySummary struct {
	TrustScore       int       `json:"trust_score"`
	OpenFlags        int       `json:"open_flags"`
	FlaggedDuplicate bool      `json:"flagged_duplicate"`
	Warnings         []Warning `json:"warnings"`
}

// InviteSnapshot is the guest-facing projection of an invite.
type InviteSnapshot struct {
	Code            string          `json:"code"`
	EventID         string          `json:"event_id"`
	GuestName       string          `json:"guest_name"`
	GuestEmail      string          `json:"guest_email,omitempty"`
	Adults          int             `json:"adults"`
	Children        int             `json:"children"`
	GroupSize       int             `json:"group_size"`
	Admitted        bool            `json:"admitted"`
	AdmittedAt      *time.Time      `json:"admitted_at,omitempty"`
	ActualAttendees int             `json:"actual_attendees"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
}

// Snapshot projects the invite for API responses and realtime publishes.
func (i *Invite) Snapshot() InviteSnapshot {
	snap := InviteSnapshot{
		Code:            i.Code,
		EventID:         i.EventID,
		GuestName:       i.GuestName,
		GuestEmail:      i.GuestEmail,
		Adults:          i.Adults,
		Children:        i.Children,
		GroupSize:       i.GroupSize(),
		Admitted:        i.Admitted,
		ActualAttendees: i.ActualAttendees,
		PaidAmount:      i.PaidAmount,
	}
	if !i.AdmittedAt.IsZero() {
		at := i.AdmittedAt
		snap.AdmittedAt = &at
	}
	return snap
}

// LookupResult is the read-only pipeline outcome for a scanned invite.
type LookupResult struct {
	Admissible  bool            `json:"admissible"`
	Invite      InviteSnapshot  `json:"invite"`
	Security    SecuritySummary `json:"security"`
	PINRequired bool            `json:"pin_required"`
	Deny        *DenyDescriptor `json:"deny,omitempty"`
}

// AdmittedSnapshot is returned after a successful commit.
type AdmittedSnapshot struct {
	Invite     InviteSnapshot `json:"invite"`
	AdmittedBy string         `json:"admitted_by"`
	Override   bool           `json:"override"`
	Authorizer string         `json:"authorizer,omitempty"`
}

// PinVerification reports the outcome of a PIN check.
type PinVerification struct {
	Valid             bool       `json:"valid"`
	RemainingAttempts int        `json:"remaining_attempts"`
	Locked            bool       `json:"locked"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
}

// OverrideMetadata is the introspection view of a grant, for UI display.
type OverrideMetadata struct {
	EventID             string        `json:"event_id"`
	Code                string        `json:"code"`
	Authorizer          string        `json:"authorizer"`
	AuthorizerName      string        `json:"authorizer_name"`
	Justification       string        `json:"justification"`
	GuestName           string        `json:"guest_name"`
	OriginalBlockReason string        `json:"original_block_reason,omitempty"`
	IssuedAt            time.Time     `json:"issued_at"`
	ExpiresAt           time.Time     `json:"expires_at"`
	Remaining           time.Duration `json:"remaining"`
}
