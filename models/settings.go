package models

import (
	"time"

	"github.com/pocketbase/pocketbase/core"
)

// Duplicate-detection modes. They control which identity fields feed the
// fingerprint: strict hashes name+email+phone, moderate hashes name plus one
// contact field, lenient hashes the name alone.
const (
	DuplicateModeStrict   = "strict"
	DuplicateModeModerate = "moderate"
	DuplicateModeLenient  = "lenient"
)

// CheckinSettings is the per-event policy every guard reads and never
// mutates. One record per event; created with defaults when enterprise mode
// is enabled; mutated only by the event's organizer.
type CheckinSettings struct {
	EventID string `json:"event_id"`

	RequirePIN         bool `json:"require_pin"`
	CrossEventBlocking bool `json:"cross_event_blocking"`

	MaxFailedAttempts int           `json:"max_failed_attempts"`
	LockoutDuration   time.Duration `json:"lockout_duration"`

	AllowManualOverride bool `json:"allow_manual_override"`

	EnableDuplicateDetection bool   `json:"enable_duplicate_detection"`
	DuplicateMode            string `json:"duplicate_mode"`
	AutoBlockDuplicates      bool   `json:"auto_block_duplicates"`
	AllowMultipleTickets     bool   `json:"allow_multiple_tickets"`

	EnablePatternDetection bool          `json:"enable_pattern_detection"`
	MaxScansPerWindow      int           `json:"max_scans_per_window"`
	ScanWindow             time.Duration `json:"scan_window"`
	MaxDistinctIPs         int           `json:"max_distinct_ips"`
	MaxDistinctDevices     int           `json:"max_distinct_devices"`

	EnableTrustScoring bool `json:"enable_trust_scoring"`
	TrustThreshold     int  `json:"trust_threshold"`
	AutoBlockLowTrust  bool `json:"auto_block_low_trust"`

	LockTimeout time.Duration `json:"lock_timeout"`

	EnforceTimeWindow   bool `json:"enforce_time_window"`
	EarlyCheckinMinutes int  `json:"early_checkin_minutes"`
	LateCheckinMinutes  int  `json:"late_checkin_minutes"`
	AllowLateCheckin    bool `json:"allow_late_checkin"`

	EnforceCapacity bool `json:"enforce_capacity"`
	MaxCapacity     int  `json:"max_capacity"` // 0 means no ceiling

	DetailedAuditLog bool `json:"detailed_audit_log"`
	LogIPAddresses   bool `json:"log_ip_addresses"`
	LogDeviceInfo    bool `json:"log_device_info"`

	EmergencyLockdown bool   `json:"emergency_lockdown"`
	LockdownReason    string `json:"lockdown_reason,omitempty"`
}

// DefaultCheckinSettings states every policy default exactly once. Guards
// must never re-apply defaults at read sites.
func DefaultCheckinSettings(eventID string) *CheckinSettings {
	return &CheckinSettings{
		EventID: eventID,

		RequirePIN:         false,
		CrossEventBlocking: false,

		MaxFailedAttempts: 5,
		LockoutDuration:   15 * time.Minute,

		AllowManualOverride: true,

		EnableDuplicateDetection: true,
		DuplicateMode:            DuplicateModeStrict,
		AutoBlockDuplicates:      false,
		AllowMultipleTickets:     false,

		EnablePatternDetection: true,
		MaxScansPerWindow:      5,
		ScanWindow:             10 * time.Minute,
		MaxDistinctIPs:         3,
		MaxDistinctDevices:     3,

		EnableTrustScoring: true,
		TrustThreshold:     30,
		AutoBlockLowTrust:  false,

		LockTimeout: 30 * time.Second,

		EnforceTimeWindow:   false,
		EarlyCheckinMinutes: 120,
		LateCheckinMinutes:  360,
		AllowLateCheckin:    true,

		EnforceCapacity: true,
		MaxCapacity:     0,

		DetailedAuditLog: true,
		LogIPAddresses:   true,
		LogDeviceInfo:    true,

		EmergencyLockdown: false,
	}
}

// SettingsFromRecord maps a PocketBase record onto CheckinSettings. Durations
// are stored as minutes (lockout, scan window) and seconds (lock timeout).
func SettingsFromRecord(r *core.Record) *CheckinSettings {
	return &CheckinSettings{
		EventID: r.GetString("event"),

		RequirePIN:         r.GetBool("require_pin"),
		CrossEventBlocking: r.GetBool("cross_event_blocking"),

		MaxFailedAttempts: r.GetInt("max_failed_attempts"),
		LockoutDuration:   time.Duration(r.GetInt("lockout_minutes")) * time.Minute,

		AllowManualOverride: r.GetBool("allow_manual_override"),

		EnableDuplicateDetection: r.GetBool("enable_duplicate_detection"),
		DuplicateMode:            r.GetString("duplicate_mode"),
		AutoBlockDuplicates:      r.GetBool("auto_block_duplicates"),
		AllowMultipleTickets:     r.GetBool("allow_multiple_tickets"),

		EnablePatternDetection: r.GetBool("enable_pattern_detection"),
		MaxScansPerWindow:      r.GetInt("max_scans_per_window"),
		ScanWindow:             time.Duration(r.GetInt("scan_window_minutes")) * time.Minute,
		MaxDistinctIPs:         r.GetInt("max_distinct_ips"),
		MaxDistinctDevices:     r.GetInt("max_distinct_devices"),

		EnableTrustScoring: r.GetBool("enable_trust_scoring"),
		TrustThreshold:     r.GetInt("trust_threshold"),
		AutoBlockLowTrust:  r.GetBool("auto_block_low_trust"),

		LockTimeout: time.Duration(r.GetInt("lock_timeout_seconds")) * time.Second,

		EnforceTimeWindow:   r.GetBool("enforce_time_window"),
		EarlyCheckinMinutes: r.GetInt("early_checkin_minutes"),
		LateCheckinMinutes:  r.GetInt("late_checkin_minutes"),
		AllowLateCheckin:    r.GetBool("allow_late_checkin"),

		EnforceCapacity: r.GetBool("enforce_capacity"),
		MaxCapacity:     r.GetInt("max_capacity"),

		DetailedAuditLog: r.GetBool("detailed_audit_log"),
		LogIPAddresses:   r.GetBool("log_ip_addresses"),
		LogDeviceInfo:    r.GetBool("log_device_info"),

		EmergencyLockdown: r.GetBool("emergency_lockdown"),
		LockdownReason:    r.GetString("lockdown_reason"),
	}
}

// ApplyTo writes the settings back onto their record before save.
func (s *CheckinSettings) ApplyTo(r *core.Record) {
	r.Set("require_pin", s.RequirePIN)
	r.Set("cross_event_blocking", s.CrossEventBlocking)
	r.Set("max_failed_attempts", s.MaxFailedAttempts)
	r.Set("lockout_minutes", int(s.LockoutDuration.Minutes()))
	r.Set("allow_manual_override", s.AllowManualOverride)
	r.Set("enable_duplicate_detection", s.EnableDuplicateDetection)
	r.Set("duplicate_mode", s.DuplicateMode)
	r.Set("auto_block_duplicates", s.AutoBlockDuplicates)
	r.Set("allow_multiple_tickets", s.AllowMultipleTickets)
	r.Set("enable_pattern_detection", s.EnablePatternDetection)
	r.Set("max_scans_per_window", s.MaxScansPerWindow)
	r.Set("scan_window_minutes", int(s.ScanWindow.Minutes()))
	r.Set("max_distinct_ips", s.MaxDistinctIPs)
	r.Set("max_distinct_devices", s.MaxDistinctDevices)
	r.Set("enable_trust_scoring", s.EnableTrustScoring)
	r.Set("trust_threshold", s.TrustThreshold)
	r.Set("auto_block_low_trust", s.AutoBlockLowTrust)
	r.Set("lock_timeout_seconds", int(s.LockTimeout.Seconds()))
	r.Set("enforce_time_window", s.EnforceTimeWindow)
	r.Set("early_checkin_minutes", s.EarlyCheckinMinutes)
	r.Set("late_checkin_minutes", s.LateCheckinMinutes)
	r.Set("allow_late_checkin", s.AllowLateCheckin)
	r.Set("enforce_capacity", s.EnforceCapacity)
	r.Set("max_capacity", s.MaxCapacity)
	r.Set("detailed_audit_log", s.DetailedAuditLog)
	r.Set("log_ip_addresses", s.LogIPAddresses)
	r.Set("log_device_info", s.LogDeviceInfo)
	r.Set("emergency_lockdown", s.EmergencyLockdown)
	r.Set("lockdown_reason", s.LockdownReason)
}
