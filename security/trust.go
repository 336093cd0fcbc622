package security

import "gatherly/models"

// Trust score weights. The score is always recomputed from the invite's full
// history rather than patched incrementally, so it can never drift.
const (
	trustBase            = 100
	failedScanPenalty    = 10
	failedScanPenaltyCap = 50
	openFlagPenalty      = 15
	criticalFlagPenalty  = 25 // stacks on top of the open-flag penalty
	duplicateFlatPenalty = 30
)

// TrustScore derives a 0-100 risk value from an invite's accumulated
// security history. Deterministic: identical history yields an identical
// score.
func TrustScore(inv *models.Invite) int {
	score := trustBase

	scanPenalty := inv.FailedScans() * failedScanPenalty
	if scanPenalty > failedScanPenaltyCap {
		scanPenalty = failedScanPenaltyCap
	}
	score -= scanPenalty

	open, critical := inv.UnresolvedFlags()
	score -= open * openFlagPenalty
	score -= critical * criticalFlagPenalty

	if inv.FlaggedDuplicate {
		score -= duplicateFlatPenalty
	}

	if score < 0 {
		return 0
	}
	if score > trustBase {
		return trustBase
	}
	return score
}
