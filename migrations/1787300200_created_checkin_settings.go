package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		events, err := app.FindCollectionByNameOrId("events")
		if err != nil {
			return err
		}

		collection := core.NewBaseCollection("checkin_settings")
		collection.Fields.Add(
			&core.RelationField{Name: "event", Required: true, CollectionId: events.Id, MaxSelect: 1, CascadeDelete: true},

			&core.BoolField{Name: "require_pin"},
			&core.BoolField{Name: "cross_event_blocking"},
			&core.NumberField{Name: "max_failed_attempts", OnlyInt: true, Min: numPtr(0)},
			&core.NumberField{Name: "lockout_minutes", OnlyInt: true, Min: numPtr(0)},

			&core.BoolField{Name: "allow_manual_override"},

			&core.BoolField{Name: "enable_duplicate_detection"},
			&core.SelectField{Name: "duplicate_mode", Values: []string{"strict", "moderate", "lenient"}, MaxSelect: 1},
			&core.BoolField{Name: "auto_block_duplicates"},
			&core.BoolField{Name: "allow_multiple_tickets"},

			&core.BoolField{Name: "enable_pattern_detection"},
			&core.NumberField{Name: "max_scans_per_window", OnlyInt: true, Min: numPtr(0)},
			&core.NumberField{Name: "scan_window_minutes", OnlyInt: true, Min: numPtr(0)},
			&core.NumberField{Name: "max_distinct_ips", OnlyInt: true, Min: numPtr(0)},
			&core.NumberField{Name: "max_distinct_devices", OnlyInt: true, Min: numPtr(0)},

			&core.BoolField{Name: "enable_trust_scoring"},
			&core.NumberField{Name: "trust_threshold", OnlyInt: true, Min: numPtr(0), Max: numPtr(100)},
			&core.BoolField{Name: "auto_block_low_trust"},

			&core.NumberField{Name: "lock_timeout_seconds", OnlyInt: true, Min: numPtr(0)},

			&core.BoolField{Name: "enforce_time_window"},
			&core.NumberField{Name: "early_checkin_minutes", OnlyInt: true, Min: numPtr(0)},
			&core.NumberField{Name: "late_checkin_minutes", OnlyInt: true, Min: numPtr(0)},
			&core.BoolField{Name: "allow_late_checkin"},

			&core.BoolField{Name: "enforce_capacity"},
			&core.NumberField{Name: "max_capacity", OnlyInt: true, Min: numPtr(0)},

			&core.BoolField{Name: "detailed_audit_log"},
			&core.BoolField{Name: "log_ip_addresses"},
			&core.BoolField{Name: "log_device_info"},

			&core.BoolField{Name: "emergency_lockdown"},
			&core.TextField{Name: "lockdown_reason", Max: 500},

			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_checkin_settings_event", true, "event", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("checkin_settings")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
