package models

import (
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

// ScanAttempt is one entry in an invite's append-only scan log. The guard
// pipeline only ever appends here; nothing is removed.
type ScanAttempt struct {
	At      time.Time `json:"at"`
	Reason  string    `json:"reason"`
	Success bool      `json:"success"`
	Actor   string    `json:"actor"`
	IP      string    `json:"ip,omitempty"`
	Device  string    `json:"device,omitempty"`
}

// SecurityFlag records a fraud signal raised against an invite.
type SecurityFlag struct {
	Kind     string    `json:"kind"`
	Severity string    `json:"severity"`
	Note     string    `json:"note,omitempty"`
	At       time.Time `json:"at"`
	Resolved bool      `json:"resolved"`
}

// AdmissionEntry records one admission event, including whether a manager
// override was used and by whom.
type AdmissionEntry struct {
	At            time.Time `json:"at"`
	Actor         string    `json:"actor"`
	Attendees     int       `json:"attendees"`
	Override      bool      `json:"override"`
	Authorizer    string    `json:"authorizer,omitempty"`
	Justification string    `json:"justification,omitempty"`
	Overrode      string    `json:"overrode,omitempty"`
}

// Invite is one admission credential for a named guest at one event.
type Invite struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	EventID string `json:"event_id"`

	GuestName  string `json:"guest_name"`
	GuestEmail string `json:"guest_email"`
	GuestPhone string `json:"guest_phone"`

	Adults   int `json:"adults"`
	Children int `json:"children"`

	Admitted        bool      `json:"admitted"`
	AdmittedAt      time.Time `json:"admitted_at"`
	AdmittedBy      string    `json:"admitted_by"`
	ActualAttendees int       `json:"actual_attendees"`

	PINHash     string `json:"-"`
	Fingerprint string `json:"fingerprint,omitempty"`

	LastScanIP     string `json:"last_scan_ip,omitempty"`
	LastScanDevice string `json:"last_scan_device,omitempty"`

	FlaggedDuplicate bool `json:"flagged_duplicate"`

	Blocked      bool      `json:"blocked"`
	BlockReason  string    `json:"block_reason,omitempty"`
	BlockedUntil time.Time `json:"blocked_until,omitempty"`

	PaidAmount decimal.Decimal `json:"paid_amount"`
	TrustScore int             `json:"trust_score"`

	ScanAttempts     []ScanAttempt    `json:"scan_attempts"`
	SecurityFlags    []SecurityFlag   `json:"security_flags"`
	AdmissionHistory []AdmissionEntry `json:"admission_history"`
}

// GroupSize is the party composition the invite was issued for. The actual
// attendee count may differ and is fixed at commit time.
func (i *Invite) GroupSize() int {
	return i.Adults + i.Children
}

// BlockExpired reports whether a temporary block has run out. Permanent
// blocks (zero BlockedUntil) never expire.
func (i *Invite) BlockExpired(now time.Time) bool {
	return i.Blocked && !i.BlockedUntil.IsZero() && now.After(i.BlockedUntil)
}

// ClearBlock removes block state; expired temporary blocks self-clear on
// next read through this.
func (i *Invite) ClearBlock() {
	i.Blocked = false
	i.BlockReason = ""
	i.BlockedUntil = time.Time{}
}

// Block sets block state. until may be zero for a permanent block.
func (i *Invite) Block(reason string, until time.Time) {
	i.Blocked = true
	i.BlockReason = reason
	i.BlockedUntil = until
}

// AppendScan appends to the scan-attempt log preserving insertion order.
func (i *Invite) AppendScan(a ScanAttempt) {
	i.ScanAttempts = append(i.ScanAttempts, a)
}

// RaiseFlag appends an unresolved security flag.
func (i *Invite) RaiseFlag(kind, severity, note string, at time.Time) {
	i.SecurityFlags = append(i.SecurityFlags, SecurityFlag{
		Kind:     kind,
		Severity: severity,
		Note:     note,
		At:       at,
	})
}

// FailedScans counts unsuccessful scan attempts across the whole log.
func (i *Invite) FailedScans() int {
	n := 0
	for _, a := range i.ScanAttempts {
		if !a.Success {
			n++
		}
	}
	return n
}

// UnresolvedFlags counts open flags, and separately open critical ones.
func (i *Invite) UnresolvedFlags() (total, critical int) {
	for _, f := range i.SecurityFlags {
		if f.Resolved {
			continue
		}
		total++
		if f.Severity == SeverityCritical {
			critical++
		}
	}
	return total, critical
}

// InviteFromRecord maps a PocketBase record onto an Invite.
func InviteFromRecord(r *core.Record) *Invite {
	inv := &Invite{
		ID:               r.Id,
		Code:             r.GetString("code"),
		EventID:          r.GetString("event"),
		GuestName:        r.GetString("guest_name"),
		GuestEmail:       r.GetString("guest_email"),
		GuestPhone:       r.GetString("guest_phone"),
		Adults:           r.GetInt("adults"),
		Children:         r.GetInt("children"),
		Admitted:         r.GetBool("admitted"),
		AdmittedAt:       r.GetDateTime("admitted_at").Time(),
		AdmittedBy:       r.GetString("admitted_by"),
		ActualAttendees:  r.GetInt("actual_attendees"),
		PINHash:          r.GetString("pin_hash"),
		Fingerprint:      r.GetString("fingerprint"),
		LastScanIP:       r.GetString("last_scan_ip"),
		LastScanDevice:   r.GetString("last_scan_device"),
		FlaggedDuplicate: r.GetBool("flagged_duplicate"),
		Blocked:          r.GetBool("blocked"),
		BlockReason:      r.GetString("block_reason"),
		BlockedUntil:     r.GetDateTime("blocked_until").Time(),
		TrustScore:       r.GetInt("trust_score"),
	}

	if amt, err := decimal.NewFromString(r.GetString("paid_amount")); err == nil {
		inv.PaidAmount = amt
	}

	_ = r.UnmarshalJSONField("scan_attempts", &inv.ScanAttempts)
	_ = r.UnmarshalJSONField("security_flags", &inv.SecurityFlags)
	_ = r.UnmarshalJSONField("admission_history", &inv.AdmissionHistory)

	return inv
}

// ApplyTo writes the invite's full mutable state back onto its record,
// admission state included. Only the lock-holding commit may write through
// this; every other path uses ApplyAnnotations.
func (i *Invite) ApplyTo(r *core.Record) {
	r.Set("guest_name", i.GuestName)
	r.Set("guest_email", i.GuestEmail)
	r.Set("guest_phone", i.GuestPhone)
	r.Set("adults", i.Adults)
	r.Set("children", i.Children)
	r.Set("admitted", i.Admitted)
	if i.AdmittedAt.IsZero() {
		r.Set("admitted_at", "")
	} else {
		r.Set("admitted_at", i.AdmittedAt)
	}
	r.Set("admitted_by", i.AdmittedBy)
	r.Set("actual_attendees", i.ActualAttendees)
	r.Set("admission_history", i.AdmissionHistory)
	i.ApplyAnnotations(r)
}

// ApplyAnnotations writes guard annotations and the scan log, never admission
// state. Lookup and PIN verification hold no lock, so their writes must not
// be able to reverse a concurrently committed admission.
func (i *Invite) ApplyAnnotations(r *core.Record) {
	r.Set("fingerprint", i.Fingerprint)
	r.Set("last_scan_ip", i.LastScanIP)
	r.Set("last_scan_device", i.LastScanDevice)
	r.Set("flagged_duplicate", i.FlaggedDuplicate)
	r.Set("blocked", i.Blocked)
	r.Set("block_reason", i.BlockReason)
	if i.BlockedUntil.IsZero() {
		r.Set("blocked_until", "")
	} else {
		r.Set("blocked_until", i.BlockedUntil)
	}
	r.Set("trust_score", i.TrustScore)
	r.Set("scan_attempts", i.ScanAttempts)
	r.Set("security_flags", i.SecurityFlags)
}
