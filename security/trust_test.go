package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gatherly/models"
)

func TestTrustScore_CleanInvite(t *testing.T) {
	assert.Equal(t, 100, TrustScore(&models.Invite{}))
}

func TestTrustScore_FailedScans(t *testing.T) {
	inv := &models.Invite{}
	inv.AppendScan(models.ScanAttempt{At: time.Now(), Reason: models.ScanReasonPINFailed})
	inv.AppendScan(models.ScanAttempt{At: time.Now(), Reason: models.ScanReasonDenied})

	assert.Equal(t, 80, TrustScore(inv))
}

func TestTrustScore_FailedScanPenaltyCaps(t *testing.T) {
	inv := &models.Invite{}
	for i := 0; i < 20; i++ {
		inv.AppendScan(models.ScanAttempt{At: time.Now(), Reason: models.ScanReasonPINFailed})
	}

	// 20 failures would be -200 uncapped; the cap keeps the score at 50.
	assert.Equal(t, 50, TrustScore(inv))
}

func TestTrustScore_CriticalFlagStacks(t *testing.T) {
	inv := &models.Invite{}
	inv.RaiseFlag(models.FlagDuplicate, models.SeverityCritical, "same guest already admitted", time.Now())

	// One open critical flag costs the open penalty plus the critical one.
	assert.Equal(t, 60, TrustScore(inv))
}

func TestTrustScore_ResolvedFlagsDoNotCount(t *testing.T) {
	inv := &models.Invite{}
	inv.RaiseFlag(models.FlagRapidScans, models.SeverityHigh, "", time.Now())
	inv.SecurityFlags[0].Resolved = true

	assert.Equal(t, 100, TrustScore(inv))
}

func TestTrustScore_DuplicatePenalty(t *testing.T) {
	inv := &models.Invite{FlaggedDuplicate: true}

	assert.Equal(t, 70, TrustScore(inv))
}

func TestTrustScore_ClampsAtZero(t *testing.T) {
	inv := &models.Invite{FlaggedDuplicate: true}
	for i := 0; i < 10; i++ {
		inv.AppendScan(models.ScanAttempt{At: time.Now(), Reason: models.ScanReasonPINFailed})
		inv.RaiseFlag(models.FlagRapidScans, models.SeverityCritical, "", time.Now())
	}

	assert.Equal(t, 0, TrustScore(inv))
}
