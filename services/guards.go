package services

import (
	"fmt"
	"time"

	"gatherly/models"
	"gatherly/security"
)

// GuardInput is everything a guard may read: the invite under scan, the
// event and its policy, the requesting actor, and the pre-fetched sibling
// state the service assembled. Guards never reach back into the store.
type GuardInput struct {
	Invite   *models.Invite
	Settings *models.CheckinSettings
	Event    *models.Event
	Actor    models.ActorContext

	// Siblings are other invites of the same event sharing the fingerprint.
	Siblings []*models.Invite

	// ForeignBlocked are actively blocked invites sharing the fingerprint
	// in other events; only consulted when cross-event blocking is on.
	ForeignBlocked []*models.Invite

	// AdmittedTotal sums actual attendees across the event's admitted
	// invites.
	AdmittedTotal int

	Now time.Time
}

// GuardRun accumulates what the pipeline produced: warnings attached by
// passing guards, whether the invite was mutated and must be persisted, the
// audit snapshot, and the terminating denial if any.
type GuardRun struct {
	Warnings []models.Warning
	Dirty    bool
	Audit    map[string]any
	Deny     *models.DenyDescriptor
}

func (r *GuardRun) warn(w models.Warning) {
	r.Warnings = append(r.Warnings, w)
}

type guardFunc func(in *GuardInput, run *GuardRun) *models.DenyDescriptor

// guardPipeline is the fixed admission order. It is load-bearing: block
// enforcement must win over duplicate detection, and audit capture must see
// every warning accumulated before it.
var guardPipeline = []struct {
	name string
	fn   guardFunc
}{
	{"block_enforcement", guardBlockEnforcement},
	{"duplicate_detection", guardDuplicateDetection},
	{"pattern_detection", guardPatternDetection},
	{"capacity", guardCapacity},
	{"time_window", guardTimeWindow},
	{"audit_capture", guardAuditCapture},
}

// RunGuards executes the pipeline, short-circuiting on the first denial.
func RunGuards(in *GuardInput) *GuardRun {
	run := &GuardRun{}
	for _, g := range guardPipeline {
		if deny := g.fn(in, run); deny != nil {
			run.Deny = deny
			return run
		}
	}
	return run
}

// guardBlockEnforcement handles emergency lockdown, block state (clearing
// expired temporary blocks), trust scoring and PIN lockout.
func guardBlockEnforcement(in *GuardInput, run *GuardRun) *models.DenyDescriptor {
	inv, set := in.Invite, in.Settings

	if set.EmergencyLockdown {
		return &models.DenyDescriptor{
			Reason:           models.DenyLockdown,
			Severity:         models.SeverityCritical,
			Message:          "Check-in is suspended: emergency lockdown is active",
			RequiresOverride: true,
			Extra:            map[string]any{"lockdown_reason": set.LockdownReason},
		}
	}

	if inv.Blocked {
		if inv.BlockExpired(in.Now) {
			inv.ClearBlock()
			run.Dirty = true
		} else {
			extra := map[string]any{"block_reason": inv.BlockReason}
			if !inv.BlockedUntil.IsZero() {
				extra["blocked_until"] = inv.BlockedUntil
			}
			return &models.DenyDescriptor{
				Reason:           models.DenyBlocked,
				Severity:         models.SeverityCritical,
				Message:          "This ticket is blocked",
				RequiresOverride: true,
				Extra:            extra,
			}
		}
	}

	if set.CrossEventBlocking {
		for _, other := range in.ForeignBlocked {
			if other.Blocked && !other.BlockExpired(in.Now) {
				return &models.DenyDescriptor{
					Reason:           models.DenyBlockedElsewhere,
					Severity:         models.SeverityHigh,
					Message:          "This guest is blocked at another event",
					RequiresOverride: true,
					Extra: map[string]any{
						"blocked_event": other.EventID,
						"block_reason":  other.BlockReason,
					},
				}
			}
		}
	}

	if set.EnableTrustScoring {
		score := security.TrustScore(inv)
		if score != inv.TrustScore {
			inv.TrustScore = score
			run.Dirty = true
		}
		if score < set.TrustThreshold {
			if set.AutoBlockLowTrust {
				inv.Block(fmt.Sprintf("trust score %d below threshold %d", score, set.TrustThreshold), time.Time{})
				run.Dirty = true
				return &models.DenyDescriptor{
					Reason:           models.DenyLowTrust,
					Severity:         models.SeverityHigh,
					Message:          "Ticket blocked due to low trust score",
					RequiresOverride: true,
					Extra:            map[string]any{"trust_score": score, "threshold": set.TrustThreshold},
				}
			}
			run.warn(models.Warning{
				Type:     models.WarnLowTrust,
				Severity: models.SeverityHigh,
				Message:  fmt.Sprintf("Trust score %d is below the event threshold %d", score, set.TrustThreshold),
				Extra:    map[string]any{"trust_score": score, "threshold": set.TrustThreshold},
			})
		}
	}

	if lockedUntil, failed := pinLockout(inv, set, in.Now); !lockedUntil.IsZero() {
		return &models.DenyDescriptor{
			Reason:           models.DenyPINLockout,
			Severity:         models.SeverityHigh,
			Message:          "Too many failed PIN attempts",
			RequiresOverride: true,
			Extra:            map[string]any{"locked_until": lockedUntil, "failed_attempts": failed},
		}
	}

	return nil
}

// pinLockout returns the lockout expiry when the invite has reached the
// failed-PIN ceiling within the lookback and the latest failure is still
// inside the lockout window. The scan log is insertion-ordered, so the last
// matching entry is the most recent failure.
func pinLockout(inv *models.Invite, set *models.CheckinSettings, now time.Time) (time.Time, int) {
	if set.MaxFailedAttempts <= 0 {
		return time.Time{}, 0
	}

	cutoff := now.Add(-set.LockoutDuration)
	count := 0
	var last time.Time
	for _, a := range inv.ScanAttempts {
		if a.Reason == models.ScanReasonPINFailed && a.At.After(cutoff) {
			count++
			last = a.At
		}
	}

	if count < set.MaxFailedAttempts {
		return time.Time{}, count
	}

	lockedUntil := last.Add(set.LockoutDuration)
	if !security.Live(lockedUntil, now) {
		return time.Time{}, count
	}
	return lockedUntil, count
}

// guardDuplicateDetection flags invites sharing a fingerprint with an
// already-admitted sibling, and annotates multi-pending fingerprints.
func guardDuplicateDetection(in *GuardInput, run *GuardRun) *models.DenyDescriptor {
	inv, set := in.Invite, in.Settings

	if !set.EnableDuplicateDetection || inv.Fingerprint == "" || inv.Admitted {
		return nil
	}

	var admitted *models.Invite
	var pendingCodes []string
	for _, sib := range in.Siblings {
		if sib.Admitted {
			if admitted == nil {
				admitted = sib
			}
		} else {
			pendingCodes = append(pendingCodes, sib.Code)
		}
	}

	if admitted != nil && !set.AllowMultipleTickets {
		if !inv.FlaggedDuplicate {
			inv.FlaggedDuplicate = true
			inv.RaiseFlag(models.FlagDuplicate, models.SeverityCritical,
				fmt.Sprintf("same guest already admitted with ticket %s", admitted.Code), in.Now)
			run.Dirty = true
		}

		extra := map[string]any{
			"original_code": admitted.Code,
			"admitted_at":   admitted.AdmittedAt,
		}

		if set.AutoBlockDuplicates {
			inv.Block(fmt.Sprintf("duplicate of admitted ticket %s", admitted.Code), time.Time{})
			run.Dirty = true
			return &models.DenyDescriptor{
				Reason:           models.DenyDuplicate,
				Severity:         models.SeverityCritical,
				Message:          "Duplicate ticket: this guest has already been admitted",
				RequiresOverride: true,
				Extra:            extra,
			}
		}

		run.warn(models.Warning{
			Type:     models.WarnDuplicate,
			Severity: models.SeverityHigh,
			Message:  fmt.Sprintf("Guest already admitted with ticket %s", admitted.Code),
			Extra:    extra,
		})
		return nil
	}

	if len(pendingCodes) > 0 {
		run.warn(models.Warning{
			Type:     models.WarnDuplicatePending,
			Severity: models.SeverityMedium,
			Message:  "Multiple pending tickets share this guest identity",
			Extra:    map[string]any{"codes": pendingCodes},
		})
	}

	return nil
}

// guardPatternDetection watches for rapid rescans and IP/device spread.
// It only ever annotates; abuse hard-stops arrive via the trust score and
// auto-block path on the next pass.
func guardPatternDetection(in *GuardInput, run *GuardRun) *models.DenyDescriptor {
	inv, set := in.Invite, in.Settings

	// Current scan metadata is recorded regardless of policy or outcome.
	if inv.LastScanIP != in.Actor.IP || inv.LastScanDevice != in.Actor.Device {
		inv.LastScanIP = in.Actor.IP
		inv.LastScanDevice = in.Actor.Device
		run.Dirty = true
	}

	if !set.EnablePatternDetection {
		return nil
	}

	cutoff := in.Now.Add(-set.ScanWindow)
	recent := 0
	ips := map[string]struct{}{}
	devices := map[string]struct{}{}
	for _, a := range inv.ScanAttempts {
		if a.At.After(cutoff) {
			recent++
		}
		if a.IP != "" {
			ips[a.IP] = struct{}{}
		}
		if a.Device != "" {
			devices[a.Device] = struct{}{}
		}
	}

	if set.MaxScansPerWindow > 0 && recent >= set.MaxScansPerWindow {
		inv.RaiseFlag(models.FlagRapidScans, models.SeverityHigh,
			fmt.Sprintf("%d scans within %s", recent, set.ScanWindow), in.Now)
		run.Dirty = true
		run.warn(models.Warning{
			Type:     models.WarnRapidScans,
			Severity: models.SeverityHigh,
			Message:  fmt.Sprintf("Ticket scanned %d times in the last %s", recent, set.ScanWindow),
			Extra:    map[string]any{"scan_count": recent, "window": set.ScanWindow.String()},
		})
	}

	if set.MaxDistinctIPs > 0 && len(ips) >= set.MaxDistinctIPs {
		inv.RaiseFlag(models.FlagIPSpread, models.SeverityMedium,
			fmt.Sprintf("scanned from %d distinct IPs", len(ips)), in.Now)
		run.Dirty = true
		run.warn(models.Warning{
			Type:     models.WarnIPDiversity,
			Severity: models.SeverityMedium,
			Message:  fmt.Sprintf("Ticket scanned from %d different IP addresses", len(ips)),
			Extra:    map[string]any{"distinct_ips": len(ips)},
		})
	}

	if set.MaxDistinctDevices > 0 && len(devices) >= set.MaxDistinctDevices {
		run.warn(models.Warning{
			Type:     models.WarnDeviceDiversity,
			Severity: models.SeverityMedium,
			Message:  fmt.Sprintf("Ticket scanned from %d different devices", len(devices)),
			Extra:    map[string]any{"distinct_devices": len(devices)},
		})
	}

	return nil
}

// guardCapacity denies once the admitted attendee total reaches the
// ceiling. Overrides re-run this guard and only this guard.
func guardCapacity(in *GuardInput, run *GuardRun) *models.DenyDescriptor {
	set := in.Settings
	if !set.EnforceCapacity || set.MaxCapacity <= 0 {
		return nil
	}

	if in.AdmittedTotal >= set.MaxCapacity {
		return &models.DenyDescriptor{
			Reason:   models.DenyCapacity,
			Severity: models.SeverityHigh,
			Message:  "Event is at capacity",
			Extra: map[string]any{
				"current": in.AdmittedTotal,
				"max":     set.MaxCapacity,
			},
		}
	}
	return nil
}

// guardTimeWindow enforces the admission window around event start.
func guardTimeWindow(in *GuardInput, run *GuardRun) *models.DenyDescriptor {
	set := in.Settings
	if !set.EnforceTimeWindow || in.Event == nil || in.Event.StartTime.IsZero() {
		return nil
	}

	opens := in.Event.StartTime.Add(-time.Duration(set.EarlyCheckinMinutes) * time.Minute)
	closes := in.Event.StartTime.Add(time.Duration(set.LateCheckinMinutes) * time.Minute)

	if in.Now.Before(opens) {
		return &models.DenyDescriptor{
			Reason:           models.DenyTooEarly,
			Severity:         models.SeverityMedium,
			Message:          "Check-in has not opened yet",
			RequiresOverride: true,
			Extra:            map[string]any{"opens_at": opens},
		}
	}

	if in.Now.After(closes) && !set.AllowLateCheckin {
		return &models.DenyDescriptor{
			Reason:           models.DenyTooLate,
			Severity:         models.SeverityMedium,
			Message:          "Check-in window has closed",
			RequiresOverride: true,
			Extra:            map[string]any{"closed_at": closes},
		}
	}

	return nil
}

// guardAuditCapture snapshots requester identity for the caller to persist
// alongside the eventual outcome. IP and device respect the event's logging
// toggles here, unlike the always-on last-scan metadata.
func guardAuditCapture(in *GuardInput, run *GuardRun) *models.DenyDescriptor {
	set := in.Settings
	if !set.DetailedAuditLog {
		return nil
	}

	audit := map[string]any{
		"actor":      in.Actor.ActorID,
		"actor_name": in.Actor.ActorName,
		"at":         in.Now,
		"warnings":   len(run.Warnings),
	}
	if set.LogIPAddresses && in.Actor.IP != "" {
		audit["ip"] = in.Actor.IP
	}
	if set.LogDeviceInfo && in.Actor.Device != "" {
		audit["device"] = in.Actor.Device
	}
	run.Audit = audit
	return nil
}
