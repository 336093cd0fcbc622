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
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}

		collection := core.NewBaseCollection("invites")
		collection.Fields.Add(
			&core.TextField{Name: "code", Required: true, Max: 64},
			&core.RelationField{Name: "event", Required: true, CollectionId: events.Id, MaxSelect: 1, CascadeDelete: true},

			&core.TextField{Name: "guest_name", Required: true, Max: 255},
			&core.TextField{Name: "guest_email", Max: 255},
			&core.TextField{Name: "guest_phone", Max: 64},
			&core.NumberField{Name: "adults", OnlyInt: true, Min: numPtr(0)},
			&core.NumberField{Name: "children", OnlyInt: true, Min: numPtr(0)},

			&core.BoolField{Name: "admitted"},
			&core.DateField{Name: "admitted_at"},
			&core.RelationField{Name: "admitted_by", CollectionId: users.Id, MaxSelect: 1},
			&core.NumberField{Name: "actual_attendees", OnlyInt: true, Min: numPtr(0)},

			&core.TextField{Name: "pin_hash", Max: 255, Hidden: true},
			&core.TextField{Name: "fingerprint", Max: 64},
			&core.TextField{Name: "last_scan_ip", Max: 64},
			&core.TextField{Name: "last_scan_device", Max: 512},

			&core.BoolField{Name: "flagged_duplicate"},
			&core.BoolField{Name: "blocked"},
			&core.TextField{Name: "block_reason", Max: 500},
			&core.DateField{Name: "blocked_until"},

			&core.NumberField{Name: "trust_score", OnlyInt: true, Min: numPtr(0), Max: numPtr(100)},
			&core.TextField{Name: "paid_amount", Max: 32},

			&core.JSONField{Name: "scan_attempts", MaxSize: 1 << 20},
			&core.JSONField{Name: "security_flags", MaxSize: 1 << 20},
			&core.JSONField{Name: "admission_history", MaxSize: 1 << 20},

			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_invites_code", true, "code", "")
		collection.AddIndex("idx_invites_event_fingerprint", false, "event, fingerprint", "")
		collection.AddIndex("idx_invites_fingerprint_blocked", false, "fingerprint, blocked", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("invites")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}

func numPtr(v float64) *float64 {
	return &v
}
