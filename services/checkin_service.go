package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	pubnub "github.com/pubnub/go/v7"

	"gatherly/config"
	"gatherly/internal/status"
	"gatherly/models"
	"gatherly/monitoring"
	"gatherly/security"
	"gatherly/utils"
)

// CheckinService runs the admission pipeline: lookup assembles state and
// executes the guards, commit transitions the ticket under the reentrancy
// lock. All writes of guard annotations are best effort; the single-point
// commit is the only write that may fail an operation.
type CheckinService struct {
	app     core.App
	locks   *LockService
	pn      *pubnub.PubNub
	breaker *utils.CircuitBreaker
	cfg     *config.Config

	now func() time.Time
}

func NewCheckinService(app core.App, locks *LockService, pn *pubnub.PubNub, cfg *config.Config) *CheckinService {
	return &CheckinService{
		app:     app,
		locks:   locks,
		pn:      pn,
		breaker: utils.NewCircuitBreaker("realtime-publish", 3, 30*time.Second, 60*time.Second, 0.6),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Lookup runs the read-only phase: structural checks plus the guard
// pipeline. It never transitions the ticket; annotations and the scan log
// entry are persisted best effort and a failed write never changes the
// verdict.
func (s *CheckinService) Lookup(ctx context.Context, eventID, code string, actor models.ActorContext) (*models.LookupResult, error) {
	event, err := s.loadEvent(eventID)
	if err != nil {
		return nil, err
	}

	rec, inv, err := s.findInvite(code)
	if err != nil {
		return nil, err
	}

	if inv.EventID != eventID {
		monitoring.TrackDecision(eventID, "deny", models.DenyWrongEvent)
		return &models.LookupResult{
			Invite: inv.Snapshot(),
			Deny:   s.denyWrongEvent(rec, inv, actor),
		}, nil
	}

	set, err := s.loadSettings(eventID)
	if err != nil {
		return nil, err
	}

	now := s.now()

	if inv.Admitted {
		inv.AppendScan(scanEntry(now, models.ScanReasonDenied, false, actor, set))
		s.persistInvite(rec, inv)
		monitoring.TrackDecision(eventID, "deny", models.DenyAlreadyAdmitted)
		return &models.LookupResult{
			Invite:   inv.Snapshot(),
			Security: securitySummary(inv, nil),
			Deny:     denyAlreadyAdmitted(inv),
		}, nil
	}

	in, err := s.buildGuardInput(event, set, inv, actor)
	if err != nil {
		return nil, err
	}
	in.Now = now
	run := RunGuards(in)

	reason := models.ScanReasonLookup
	if run.Deny != nil {
		reason = models.ScanReasonDenied
	}
	inv.AppendScan(scanEntry(now, reason, run.Deny == nil, actor, set))
	s.persistInvite(rec, inv)

	if set.EnableTrustScoring {
		monitoring.ObserveTrustScore(inv.TrustScore)
	}

	outcome, denyReason := "admissible", ""
	if run.Deny != nil {
		outcome, denyReason = "deny", run.Deny.Reason
	}
	monitoring.TrackDecision(eventID, outcome, denyReason)
	if run.Audit != nil {
		slog.Info("checkin lookup", "event", eventID, "code", inv.Code, "outcome", outcome, "audit", run.Audit)
	}

	return &models.LookupResult{
		Admissible:  run.Deny == nil,
		Invite:      inv.Snapshot(),
		Security:    securitySummary(inv, run.Warnings),
		PINRequired: set.RequirePIN && inv.PINHash != "",
		Deny:        clampOverride(run.Deny, set),
	}, nil
}

// VerifyPin checks the guest PIN and maintains the failed-attempt ledger.
// Unlike guard annotations, a failed attempt must land so the lockout
// ceiling holds; the save error is surfaced.
func (s *CheckinService) VerifyPin(ctx context.Context, eventID, code, pin string, actor models.ActorContext) (*models.PinVerification, error) {
	rec, inv, err := s.findInvite(code)
	if err != nil {
		return nil, err
	}
	if inv.EventID != eventID {
		return nil, status.ErrInviteNotFound
	}

	set, err := s.loadSettings(eventID)
	if err != nil {
		return nil, err
	}

	now := s.now()

	if lockedUntil, _ := pinLockout(inv, set, now); !lockedUntil.IsZero() {
		return &models.PinVerification{Locked: true, LockedUntil: &lockedUntil}, nil
	}

	if inv.PINHash == "" {
		return &models.PinVerification{Valid: true, RemainingAttempts: set.MaxFailedAttempts}, nil
	}

	if !security.VerifyPIN(inv.PINHash, pin) {
		inv.AppendScan(scanEntry(now, models.ScanReasonPINFailed, false, actor, set))
		if err := s.saveAnnotations(rec, inv); err != nil {
			return nil, fmt.Errorf("record failed pin attempt: %w", err)
		}

		lockedUntil, failed := pinLockout(inv, set, now)
		res := &models.PinVerification{RemainingAttempts: max(set.MaxFailedAttempts-failed, 0)}
		if !lockedUntil.IsZero() {
			res.Locked = true
			res.LockedUntil = &lockedUntil
		}
		return res, nil
	}

	inv.AppendScan(scanEntry(now, models.ScanReasonPINVerified, true, actor, set))
	s.persistInvite(rec, inv)
	return &models.PinVerification{Valid: true, RemainingAttempts: set.MaxFailedAttempts}, nil
}

// CommitAdmission transitions a pending ticket to admitted under the
// reentrancy lock. Structural state, active blocks and capacity are
// re-checked on the fresh read inside the lock; the full guard pipeline runs
// at lookup time. attendees overrides the recorded party size when
// non-negative.
func (s *CheckinService) CommitAdmission(ctx context.Context, eventID, code string, attendees int, actor models.ActorContext) (*models.AdmittedSnapshot, *models.DenyDescriptor, error) {
	event, err := s.loadEvent(eventID)
	if err != nil {
		return nil, nil, err
	}

	rec, inv, err := s.findInvite(code)
	if err != nil {
		return nil, nil, err
	}

	if inv.EventID != eventID {
		monitoring.TrackDecision(eventID, "deny", models.DenyWrongEvent)
		return nil, s.denyWrongEvent(rec, inv, actor), nil
	}

	set, err := s.loadSettings(eventID)
	if err != nil {
		return nil, nil, err
	}

	return s.admit(ctx, event, set, rec, inv, actor, commitParams{Attendees: attendees})
}

// commitParams carries what differs between a normal admission and an
// override execution.
type commitParams struct {
	Attendees int // negative means use the recorded party size

	Override       bool
	Authorizer     string
	AuthorizerName string
	Justification  string
	Overrode       string
}

func (s *CheckinService) admit(ctx context.Context, event *models.Event, set *models.CheckinSettings, rec *core.Record, inv *models.Invite, actor models.ActorContext, p commitParams) (*models.AdmittedSnapshot, *models.DenyDescriptor, error) {
	timeout := set.LockTimeout
	if timeout <= 0 {
		timeout = s.cfg.CheckinLockTimeout
	}

	lock, err := s.locks.Acquire(ctx, inv.EventID, inv.Code, actor.ActorName, actor.SessionID, timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire admission lock: %w", err)
	}
	if !lock.Granted {
		monitoring.TrackLockContention(inv.EventID)
		return nil, nil, fmt.Errorf("%w (held by %s)", status.ErrLockHeld, lock.Holder)
	}
	defer func() {
		if err := s.locks.Release(context.Background(), inv.EventID, inv.Code); err != nil {
			slog.Error("release admission lock", "code", inv.Code, "error", err)
		}
	}()

	now := s.now()

	// Fresh read under the lock; the lookup-phase state may be stale.
	fresh, err := s.app.FindRecordById("invites", rec.Id)
	if err != nil {
		return nil, nil, status.ErrInviteNotFound
	}
	rec, inv = fresh, models.InviteFromRecord(fresh)

	if inv.Admitted {
		monitoring.TrackDecision(inv.EventID, "deny", models.DenyAlreadyAdmitted)
		return nil, denyAlreadyAdmitted(inv), nil
	}

	if !p.Override {
		if set.EmergencyLockdown {
			monitoring.TrackDecision(inv.EventID, "deny", models.DenyLockdown)
			return nil, clampOverride(&models.DenyDescriptor{
				Reason:           models.DenyLockdown,
				Severity:         models.SeverityCritical,
				Message:          "Check-in is suspended: emergency lockdown is active",
				RequiresOverride: true,
				Extra:            map[string]any{"lockdown_reason": set.LockdownReason},
			}, set), nil
		}
		if inv.Blocked && !inv.BlockExpired(now) {
			monitoring.TrackDecision(inv.EventID, "deny", models.DenyBlocked)
			return nil, clampOverride(&models.DenyDescriptor{
				Reason:           models.DenyBlocked,
				Severity:         models.SeverityCritical,
				Message:          "This ticket is blocked",
				RequiresOverride: true,
				Extra:            map[string]any{"block_reason": inv.BlockReason},
			}, set), nil
		}
	}

	// Capacity re-checks under the lock on every path, overrides included.
	if set.EnforceCapacity && set.MaxCapacity > 0 {
		total, err := s.admittedTotal(inv.EventID)
		if err != nil {
			return nil, nil, fmt.Errorf("count admitted attendees: %w", err)
		}
		if total >= set.MaxCapacity {
			monitoring.TrackDecision(inv.EventID, "deny", models.DenyCapacity)
			return nil, &models.DenyDescriptor{
				Reason:   models.DenyCapacity,
				Severity: models.SeverityHigh,
				Message:  "Event is at capacity",
				Extra:    map[string]any{"current": total, "max": set.MaxCapacity},
			}, nil
		}
	}

	attendees := p.Attendees
	if attendees < 0 {
		attendees = inv.GroupSize()
	}

	inv.Admitted = true
	inv.AdmittedAt = now
	inv.AdmittedBy = actor.ActorID
	inv.ActualAttendees = attendees
	if p.Override {
		inv.ClearBlock()
	}
	inv.AdmissionHistory = append(inv.AdmissionHistory, models.AdmissionEntry{
		At:            now,
		Actor:         actor.ActorID,
		Attendees:     attendees,
		Override:      p.Override,
		Authorizer:    p.Authorizer,
		Justification: p.Justification,
		Overrode:      p.Overrode,
	})
	scanReason := models.ScanReasonAdmitted
	if p.Override {
		scanReason = models.ScanReasonOverrideApplied
	}
	inv.AppendScan(scanEntry(now, scanReason, true, actor, set))

	err = s.app.RunInTransaction(func(txApp core.App) error {
		current, err := txApp.FindRecordById("invites", rec.Id)
		if err != nil {
			return err
		}
		if current.GetBool("admitted") {
			return status.ErrAlreadyAdmitted
		}
		inv.ApplyTo(current)
		return txApp.Save(current)
	})
	if err != nil {
		if errors.Is(err, status.ErrAlreadyAdmitted) {
			monitoring.TrackDecision(inv.EventID, "deny", models.DenyAlreadyAdmitted)
			return nil, denyAlreadyAdmitted(nil), nil
		}
		return nil, nil, fmt.Errorf("commit admission: %w", err)
	}

	outcome := "admitted"
	if p.Override {
		outcome = "admitted_override"
	}
	monitoring.TrackDecision(inv.EventID, outcome, "")
	slog.Info("guest admitted",
		"event", inv.EventID,
		"code", inv.Code,
		"attendees", attendees,
		"actor", actor.ActorID,
		"override", p.Override,
	)

	snap := &models.AdmittedSnapshot{
		Invite:     inv.Snapshot(),
		AdmittedBy: actor.ActorID,
		Override:   p.Override,
		Authorizer: p.AuthorizerName,
	}
	s.publishAdmission(event, snap)
	return snap, nil, nil
}

// Settings returns the event's check-in policy, creating defaults on first
// read.
func (s *CheckinService) Settings(ctx context.Context, eventID string) (*models.CheckinSettings, error) {
	if _, err := s.loadEvent(eventID); err != nil {
		return nil, err
	}
	return s.loadSettings(eventID)
}

// CheckinStats is the door-staff dashboard summary for one event.
type CheckinStats struct {
	TotalInvites       int `json:"total_invites"`
	AdmittedTickets    int `json:"admitted_tickets"`
	AdmittedGuests     int `json:"admitted_guests"`
	PendingTickets     int `json:"pending_tickets"`
	BlockedTickets     int `json:"blocked_tickets"`
	FlaggedDuplicates  int `json:"flagged_duplicates"`
	OverrideAdmissions int `json:"override_admissions"`
	OpenSecurityFlags  int `json:"open_security_flags"`

	// ActiveLocks counts held admission locks across all events; door
	// dashboards use it as a liveness signal for concurrent scanning.
	ActiveLocks int `json:"active_locks"`
}

func (s *CheckinService) Stats(ctx context.Context, eventID string) (*CheckinStats, error) {
	if _, err := s.loadEvent(eventID); err != nil {
		return nil, err
	}

	records, err := s.app.FindRecordsByFilter("invites", "event = {:event}", "-created", 0, 0, dbx.Params{"event": eventID})
	if err != nil {
		return nil, fmt.Errorf("load event invites: %w", err)
	}

	stats := &CheckinStats{TotalInvites: len(records)}
	now := s.now()
	for _, r := range records {
		inv := models.InviteFromRecord(r)
		if inv.Admitted {
			stats.AdmittedTickets++
			stats.AdmittedGuests += inv.ActualAttendees
		} else {
			stats.PendingTickets++
		}
		if inv.Blocked && !inv.BlockExpired(now) {
			stats.BlockedTickets++
		}
		if inv.FlaggedDuplicate {
			stats.FlaggedDuplicates++
		}
		for _, entry := range inv.AdmissionHistory {
			if entry.Override {
				stats.OverrideAdmissions++
			}
		}
		open, _ := inv.UnresolvedFlags()
		stats.OpenSecurityFlags += open
	}

	if locks, err := s.locks.ActiveLockCount(ctx); err == nil {
		stats.ActiveLocks = locks
	}
	return stats, nil
}

func (s *CheckinService) loadEvent(eventID string) (*models.Event, error) {
	rec, err := s.app.FindRecordById("events", eventID)
	if err != nil {
		return nil, status.ErrEventNotFound
	}
	return models.EventFromRecord(rec), nil
}

func (s *CheckinService) loadSettings(eventID string) (*models.CheckinSettings, error) {
	rec, err := s.app.FindFirstRecordByFilter("checkin_settings", "event = {:event}", dbx.Params{"event": eventID})
	if err != nil {
		return s.createDefaultSettings(eventID)
	}
	return models.SettingsFromRecord(rec), nil
}

func (s *CheckinService) createDefaultSettings(eventID string) (*models.CheckinSettings, error) {
	collection, err := s.app.FindCollectionByNameOrId("checkin_settings")
	if err != nil {
		return nil, status.ErrSettingsNotFound
	}

	set := models.DefaultCheckinSettings(eventID)
	rec := core.NewRecord(collection)
	rec.Set("event", eventID)
	set.ApplyTo(rec)
	if err := s.app.Save(rec); err != nil {
		return nil, fmt.Errorf("create default settings: %w", err)
	}
	return set, nil
}

func (s *CheckinService) findInvite(code string) (*core.Record, *models.Invite, error) {
	rec, err := s.app.FindFirstRecordByFilter("invites", "code = {:code}", dbx.Params{"code": code})
	if err != nil {
		return nil, nil, status.ErrInviteNotFound
	}
	return rec, models.InviteFromRecord(rec), nil
}

func (s *CheckinService) buildGuardInput(event *models.Event, set *models.CheckinSettings, inv *models.Invite, actor models.ActorContext) (*GuardInput, error) {
	sibs, err := s.siblings(inv)
	if err != nil {
		return nil, fmt.Errorf("load fingerprint siblings: %w", err)
	}

	var foreign []*models.Invite
	if set.CrossEventBlocking {
		if foreign, err = s.foreignBlocked(inv); err != nil {
			return nil, fmt.Errorf("load cross-event blocks: %w", err)
		}
	}

	total, err := s.admittedTotal(inv.EventID)
	if err != nil {
		return nil, fmt.Errorf("count admitted attendees: %w", err)
	}

	return &GuardInput{
		Invite:         inv,
		Settings:       set,
		Event:          event,
		Actor:          actor,
		Siblings:       sibs,
		ForeignBlocked: foreign,
		AdmittedTotal:  total,
		Now:            s.now(),
	}, nil
}

// siblings returns other invites of the same event sharing the fingerprint.
func (s *CheckinService) siblings(inv *models.Invite) ([]*models.Invite, error) {
	if inv.Fingerprint == "" {
		return nil, nil
	}

	var records []*core.Record
	err := s.app.RecordQuery("invites").
		AndWhere(dbx.HashExp{"event": inv.EventID, "fingerprint": inv.Fingerprint}).
		AndWhere(dbx.NewExp("id != {:id}", dbx.Params{"id": inv.ID})).
		All(&records)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Invite, 0, len(records))
	for _, r := range records {
		out = append(out, models.InviteFromRecord(r))
	}
	return out, nil
}

// foreignBlocked returns blocked invites sharing the fingerprint in other
// events.
func (s *CheckinService) foreignBlocked(inv *models.Invite) ([]*models.Invite, error) {
	if inv.Fingerprint == "" {
		return nil, nil
	}

	var records []*core.Record
	err := s.app.RecordQuery("invites").
		AndWhere(dbx.HashExp{"fingerprint": inv.Fingerprint, "blocked": true}).
		AndWhere(dbx.NewExp("event != {:event}", dbx.Params{"event": inv.EventID})).
		All(&records)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Invite, 0, len(records))
	for _, r := range records {
		out = append(out, models.InviteFromRecord(r))
	}
	return out, nil
}

func (s *CheckinService) admittedTotal(eventID string) (int, error) {
	var total int
	err := s.app.DB().
		NewQuery("SELECT COALESCE(SUM(actual_attendees), 0) FROM invites WHERE event = {:event} AND admitted = 1").
		Bind(dbx.Params{"event": eventID}).
		Row(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// persistInvite writes guard annotations and scan log entries back. Failures
// are logged, never surfaced: an audit write must not change a decision.
func (s *CheckinService) persistInvite(rec *core.Record, inv *models.Invite) {
	if err := s.saveAnnotations(rec, inv); err != nil {
		slog.Error("persist invite annotations", "code", inv.Code, "error", err)
	}
}

// saveAnnotations merges annotation state onto a fresh read of the record.
// The lookup-phase snapshot may be stale by the time it is written back; a
// whole-record save here could reverse an admission another scanner committed
// in the meantime. Only ApplyAnnotations fields are written, admission state
// is left exactly as the fresh read found it.
func (s *CheckinService) saveAnnotations(rec *core.Record, inv *models.Invite) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		current, err := txApp.FindRecordById("invites", rec.Id)
		if err != nil {
			return err
		}
		inv.ApplyAnnotations(current)
		return txApp.Save(current)
	})
}

// denyWrongEvent logs the attempt on the ticket's real event before denying.
func (s *CheckinService) denyWrongEvent(rec *core.Record, inv *models.Invite, actor models.ActorContext) *models.DenyDescriptor {
	inv.AppendScan(models.ScanAttempt{
		At:     s.now(),
		Reason: models.ScanReasonWrongEvent,
		Actor:  actor.ActorID,
		IP:     actor.IP,
		Device: actor.Device,
	})
	s.persistInvite(rec, inv)
	return &models.DenyDescriptor{
		Reason:   models.DenyWrongEvent,
		Severity: models.SeverityCritical,
		Message:  "This ticket belongs to a different event",
		Extra:    map[string]any{"ticket_event": inv.EventID},
	}
}

func denyAlreadyAdmitted(inv *models.Invite) *models.DenyDescriptor {
	d := &models.DenyDescriptor{
		Reason:   models.DenyAlreadyAdmitted,
		Severity: models.SeverityCritical,
		Message:  "Ticket already used for admission",
	}
	if inv != nil && !inv.AdmittedAt.IsZero() {
		d.Extra = map[string]any{
			"admitted_at": inv.AdmittedAt,
			"admitted_by": inv.AdmittedBy,
		}
	}
	return d
}

// clampOverride withdraws the override offer when the event forbids manual
// overrides. The denial itself stands.
func clampOverride(d *models.DenyDescriptor, set *models.CheckinSettings) *models.DenyDescriptor {
	if d != nil && set != nil && !set.AllowManualOverride {
		d.RequiresOverride = false
	}
	return d
}

func securitySummary(inv *models.Invite, warnings []models.Warning) models.SecuritySummary {
	open, _ := inv.UnresolvedFlags()
	return models.SecuritySummary{
		TrustScore:       security.TrustScore(inv),
		OpenFlags:        open,
		FlaggedDuplicate: inv.FlaggedDuplicate,
		Warnings:         warnings,
	}
}

// scanEntry builds a scan log entry honoring the event's IP/device logging
// toggles.
func scanEntry(at time.Time, reason string, success bool, actor models.ActorContext, set *models.CheckinSettings) models.ScanAttempt {
	a := models.ScanAttempt{At: at, Reason: reason, Success: success, Actor: actor.ActorID}
	if set == nil || set.LogIPAddresses {
		a.IP = actor.IP
	}
	if set == nil || set.LogDeviceInfo {
		a.Device = actor.Device
	}
	return a
}

// publishAdmission fans the admission out to door-staff dashboards. The
// publish is best effort behind a circuit breaker; a realtime outage must
// not slow the door.
func (s *CheckinService) publishAdmission(event *models.Event, snap *models.AdmittedSnapshot) {
	if s.pn == nil {
		return
	}

	go func() {
		err := s.breaker.Do(func() error {
			_, _, err := s.pn.Publish().
				Channel(fmt.Sprintf("event-%s-checkins", event.ID)).
				Message(map[string]any{
					"type":       "guest_admitted",
					"code":       snap.Invite.Code,
					"guest_name": snap.Invite.GuestName,
					"attendees":  snap.Invite.ActualAttendees,
					"override":   snap.Override,
				}).
				Execute()
			return err
		})
		if err != nil {
			slog.Error("publish admission", "code", snap.Invite.Code, "error", err)
		}
	}()
}
