package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatherly/models"
)

var guardNow = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

func guardFixture() *GuardInput {
	return &GuardInput{
		Invite: &models.Invite{
			ID:          "inv1",
			Code:        "ABC123",
			EventID:     "evt1",
			GuestName:   "Jane Doe",
			Adults:      2,
			Children:    1,
			Fingerprint: "fp1",
			TrustScore:  100,
		},
		Settings: models.DefaultCheckinSettings("evt1"),
		Event: &models.Event{
			ID:        "evt1",
			StartTime: guardNow.Add(-time.Hour),
		},
		Actor: models.ActorContext{
			ActorID:   "staff1",
			ActorName: "alice",
			SessionID: "scan_s1",
			IP:        "203.0.113.7",
			Device:    "scanner-app/2.1",
		},
		Now: guardNow,
	}
}

func TestRunGuards_CleanPass(t *testing.T) {
	in := guardFixture()

	run := RunGuards(in)

	assert.Nil(t, run.Deny)
	assert.Empty(t, run.Warnings)
	require.NotNil(t, run.Audit)
	assert.Equal(t, "staff1", run.Audit["actor"])
	assert.Equal(t, "203.0.113.7", run.Audit["ip"])
}

func TestRunGuards_EmergencyLockdown(t *testing.T) {
	in := guardFixture()
	in.Settings.EmergencyLockdown = true
	in.Settings.LockdownReason = "security incident at gate 3"

	run := RunGuards(in)

	require.NotNil(t, run.Deny)
	assert.Equal(t, models.DenyLockdown, run.Deny.Reason)
	assert.Equal(t, models.SeverityCritical, run.Deny.Severity)
	assert.True(t, run.Deny.RequiresOverride)
	assert.Equal(t, "security incident at gate 3", run.Deny.Extra["lockdown_reason"])
}

func TestRunGuards_BlockedTicket(t *testing.T) {
	in := guardFixture()
	in.Invite.Block("chargeback dispute", time.Time{})

	run := RunGuards(in)

	require.NotNil(t, run.Deny)
	assert.Equal(t, models.DenyBlocked, run.Deny.Reason)
	assert.True(t, run.Deny.RequiresOverride)
	assert.Equal(t, "chargeback dispute", run.Deny.Extra["block_reason"])
}

func TestRunGuards_ExpiredBlockSelfClears(t *testing.T) {
	in := guardFixture()
	in.Invite.Block("cooling off", guardNow.Add(-time.Minute))

	run := RunGuards(in)

	assert.Nil(t, run.Deny)
	assert.False(t, in.Invite.Blocked)
	assert.True(t, run.Dirty)
}

func TestRunGuards_BlockWinsOverDuplicate(t *testing.T) {
	in := guardFixture()
	in.Invite.Block("fraud review", time.Time{})
	in.Siblings = []*models.Invite{
		{Code: "XYZ789", EventID: "evt1", Fingerprint: "fp1", Admitted: true, AdmittedAt: guardNow.Add(-time.Hour)},
	}

	run := RunGuards(in)

	require.NotNil(t, run.Deny)
	assert.Equal(t, models.DenyBlocked, run.Deny.Reason)
}

func TestRunGuards_CrossEventBlocking(t *testing.T) {
	in := guardFixture()
	in.Settings.CrossEventBlocking = true
	in.ForeignBlocked = []*models.Invite{
		{Code: "FOREIGN1", EventID: "evt2", Fingerprint: "fp1", Blocked: true, BlockReason: "gatecrashing"},
	}

	run := RunGuards(in)

	require.NotNil(t, run.Deny)
	assert.Equal(t, models.DenyBlockedElsewhere, run.Deny.Reason)
	assert.Equal(t, "evt2", run.Deny.Extra["blocked_event"])
}

func TestRunGuards_CrossEventBlockingOffByDefault(t *testing.T) {
	in := guardFixture()
	in.ForeignBlocked = []*models.Invite{
		{Code: "FOREIGN1", EventID: "evt2", Fingerprint: "fp1", Blocked: true},
	}

	run := RunGuards(in)

	assert.Nil(t, run.Deny)
}

func TestRunGuards_DuplicateWarnsWithoutAutoBlock(t *testing.T) {
	in := guardFixture()
	in.Siblings = []*models.Invite{
		{Code: "XYZ789", EventID: "evt1", Fingerprint: "fp1", Admitted: true, AdmittedAt: guardNow.Add(-time.Hour)},
	}

	run := RunGuards(in)

	assert.Nil(t, run.Deny, "default policy warns, it does not block")
	assert.True(t, in.Invite.FlaggedDuplicate)
	assert.True(t, run.Dirty)

	require.NotEmpty(t, run.Warnings)
	warn := run.Warnings[0]
	assert.Equal(t, models.WarnDuplicate, warn.Type)
	assert.Equal(t, models.SeverityHigh, warn.Severity)
	assert.Contains(t, warn.Message, "XYZ789")
}

func TestRunGuards_DuplicateAutoBlockDenies(t *testing.T) {
	in := guardFixture()
	in.Settings.AutoBlockDuplicates = true
	in.Siblings = []*models.Invite{
		{Code: "XYZ789", EventID: "evt1", Fingerprint: "fp1", Admitted: true, AdmittedAt: guardNow.Add(-time.Hour)},
	}

	run := RunGuards(in)

	require.NotNil(t, run.Deny)
	assert.Equal(t, models.DenyDuplicate, run.Deny.Reason)
	assert.True(t, run.Deny.RequiresOverride)
	assert.Equal(t, "XYZ789", run.Deny.Extra["original_code"])
	assert.True(t, in.Invite.Blocked)
}

func TestRunGuards_AllowMultipleTicketsSkipsDuplicate(t *testing.T) {
	in := guardFixture()
	in.Settings.AllowMultipleTickets = true
	in.Siblings = []*models.Invite{
		{Code: "XYZ789", EventID: "evt1", Fingerprint: "fp1", Admitted: true},
	}

	run := RunGuards(in)

	assert.Nil(t, run.Deny)
	assert.False(t, in.Invite.FlaggedDuplicate)
}

func TestRunGuards_PendingSiblingsWarn(t *testing.T) {
	in := guardFixture()
	in.Siblings = []*models.Invite{
		{Code: "PEND1", EventID: "evt1", Fingerprint: "fp1"},
		{Code: "PEND2", EventID: "evt1", Fingerprint: "fp1"},
	}

	run := RunGuards(in)

	assert.Nil(t, run.Deny)
	require.NotEmpty(t, run.Warnings)
	assert.Equal(t, models.WarnDuplicatePending, run.Warnings[0].Type)
	assert.Equal(t, []string{"PEND1", "PEND2"}, run.Warnings[0].Extra["codes"])
}

func TestRunGuards_LowTrustWarnsByDefault(t *testing.T) {
	in := guardFixture()
	in.Invite.FlaggedDuplicate = true
	for i := 0; i < 3; i++ {
		in.Invite.RaiseFlag(models.FlagRapidScans, models.SeverityCritical, "", guardNow)
	}

	run := RunGuards(in)

	assert.Nil(t, run.Deny)
	found := false
	for _, w := range run.Warnings {
		if w.Type == models.WarnLowTrust {
			found = true
			assert.Equal(t, models.SeverityHigh, w.Severity)
		}
	}
	assert.True(t, found, "expected a low trust warning")
	assert.True(t, run.Dirty, "recomputed score must be persisted")
	assert.Less(t, in.Invite.TrustScore, in.Settings.TrustThreshold)
}

func TestRunGuards_LowTrustAutoBlockDenies(t *testing.T) {
	in := guardFixture()
	in.Settings.AutoBlockLowTrust = true
	in.Invite.FlaggedDuplicate = true
	for i := 0; i < 3; i++ {
		in.Invite.RaiseFlag(models.FlagRapidScans, models.SeverityCritical, "", guardNow)
	}

	run := RunGuards(in)

	require.NotNil(t, run.Deny)
	assert.Equal(t, models.DenyLowTrust, run.Deny.Reason)
	assert.True(t, run.Deny.RequiresOverride)
	assert.True(t, in.Invite.Blocked)
}

func TestRunGuards_PINLockout(t *testing.T) {
	in := guardFixture()
	for i := 0; i < in.Settings.MaxFailedAttempts; i++ {
		in.Invite.AppendScan(models.ScanAttempt{
			At:     guardNow.Add(-time.Duration(i) * time.Minute),
			Reason: models.ScanReasonPINFailed,
		})
	}
	// Disable the noise so the lockout is the only finding.
	in.Settings.EnableTrustScoring = false
	in.Settings.EnablePatternDetection = false

	run := RunGuards(in)

	require.NotNil(t, run.Deny)
	assert.Equal(t, models.DenyPINLockout, run.Deny.Reason)
	assert.Equal(t, in.Settings.MaxFailedAttempts, run.Deny.Extra["failed_attempts"])
}

func TestRunGuards_OldPINFailuresDoNotLock(t *testing.T) {
	in := guardFixture()
	for i := 0; i < in.Settings.MaxFailedAttempts; i++ {
		in.Invite.AppendScan(models.ScanAttempt{
			At:     guardNow.Add(-time.Hour),
			Reason: models.ScanReasonPINFailed,
		})
	}
	in.Settings.EnableTrustScoring = false

	run := RunGuards(in)

	assert.Nil(t, run.Deny)
}

func TestRunGuards_RapidScanPattern(t *testing.T) {
	in := guardFixture()
	for i := 0; i < in.Settings.MaxScansPerWindow; i++ {
		in.Invite.AppendScan(models.ScanAttempt{
			At:      guardNow.Add(-time.Minute),
			Reason:  models.ScanReasonLookup,
			Success: true,
		})
	}

	run := RunGuards(in)

	assert.Nil(t, run.Deny, "pattern detection annotates, never denies")
	found := false
	for _, w := range run.Warnings {
		if w.Type == models.WarnRapidScans {
			found = true
		}
	}
	assert.True(t, found)

	raised := false
	for _, f := range in.Invite.SecurityFlags {
		if f.Kind == models.FlagRapidScans {
			raised = true
		}
	}
	assert.True(t, raised)
}

func TestRunGuards_RecordsScanMetadata(t *testing.T) {
	in := guardFixture()

	run := RunGuards(in)

	assert.Equal(t, "203.0.113.7", in.Invite.LastScanIP)
	assert.Equal(t, "scanner-app/2.1", in.Invite.LastScanDevice)
	assert.True(t, run.Dirty)
}

func TestRunGuards_CapacityFull(t *testing.T) {
	in := guardFixture()
	in.Settings.MaxCapacity = 100
	in.AdmittedTotal = 100

	run := RunGuards(in)

	require.NotNil(t, run.Deny)
	assert.Equal(t, models.DenyCapacity, run.Deny.Reason)
	assert.False(t, run.Deny.RequiresOverride, "capacity cannot be overridden away")
	assert.Equal(t, 100, run.Deny.Extra["current"])
}

func TestRunGuards_ZeroCapacityMeansNoCeiling(t *testing.T) {
	in := guardFixture()
	in.AdmittedTotal = 10000

	run := RunGuards(in)

	assert.Nil(t, run.Deny)
}

func TestRunGuards_TimeWindowTooEarly(t *testing.T) {
	in := guardFixture()
	in.Settings.EnforceTimeWindow = true
	in.Event.StartTime = guardNow.Add(3 * time.Hour)

	run := RunGuards(in)

	require.NotNil(t, run.Deny)
	assert.Equal(t, models.DenyTooEarly, run.Deny.Reason)
	assert.True(t, run.Deny.RequiresOverride)
}

func TestRunGuards_TimeWindowTooLate(t *testing.T) {
	in := guardFixture()
	in.Settings.EnforceTimeWindow = true
	in.Settings.AllowLateCheckin = false
	in.Event.StartTime = guardNow.Add(-7 * time.Hour)

	run := RunGuards(in)

	require.NotNil(t, run.Deny)
	assert.Equal(t, models.DenyTooLate, run.Deny.Reason)
}

func TestRunGuards_LateCheckinAllowed(t *testing.T) {
	in := guardFixture()
	in.Settings.EnforceTimeWindow = true
	in.Event.StartTime = guardNow.Add(-7 * time.Hour)

	run := RunGuards(in)

	assert.Nil(t, run.Deny)
}

func TestRunGuards_AuditRespectsLoggingToggles(t *testing.T) {
	in := guardFixture()
	in.Settings.LogIPAddresses = false
	in.Settings.LogDeviceInfo = false

	run := RunGuards(in)

	require.NotNil(t, run.Audit)
	assert.NotContains(t, run.Audit, "ip")
	assert.NotContains(t, run.Audit, "device")
}
