package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultCheckinSettings(t *testing.T) {
	set := DefaultCheckinSettings("evt1")

	assert.Equal(t, "evt1", set.EventID)

	// Conservative defaults: detect and warn, do not auto-punish.
	assert.True(t, set.EnableDuplicateDetection)
	assert.Equal(t, DuplicateModeStrict, set.DuplicateMode)
	assert.False(t, set.AutoBlockDuplicates)
	assert.False(t, set.AllowMultipleTickets)

	assert.True(t, set.EnableTrustScoring)
	assert.Equal(t, 30, set.TrustThreshold)
	assert.False(t, set.AutoBlockLowTrust)

	assert.Equal(t, 5, set.MaxFailedAttempts)
	assert.Equal(t, 15*time.Minute, set.LockoutDuration)
	assert.Equal(t, 30*time.Second, set.LockTimeout)

	assert.True(t, set.EnablePatternDetection)
	assert.Equal(t, 5, set.MaxScansPerWindow)
	assert.Equal(t, 10*time.Minute, set.ScanWindow)

	assert.False(t, set.EnforceTimeWindow)
	assert.True(t, set.AllowLateCheckin)

	assert.True(t, set.EnforceCapacity)
	assert.Equal(t, 0, set.MaxCapacity, "zero capacity means no ceiling")

	assert.True(t, set.AllowManualOverride)
	assert.False(t, set.RequirePIN)
	assert.False(t, set.CrossEventBlocking)
	assert.False(t, set.EmergencyLockdown)

	assert.True(t, set.DetailedAuditLog)
	assert.True(t, set.LogIPAddresses)
	assert.True(t, set.LogDeviceInfo)
}
