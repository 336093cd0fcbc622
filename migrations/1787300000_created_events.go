package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}

		collection := core.NewBaseCollection("events")
		collection.Fields.Add(
			&core.TextField{Name: "name", Required: true, Max: 255},
			&core.TextField{Name: "description", Max: 2000},
			&core.TextField{Name: "venue", Max: 500},
			&core.DateField{Name: "start_time"},
			&core.DateField{Name: "end_time"},
			&core.RelationField{Name: "organizer", Required: true, CollectionId: users.Id, MaxSelect: 1},
			&core.BoolField{Name: "enterprise"},
			&core.SelectField{Name: "status", Values: []string{"draft", "publish", "finished", "canceled"}, MaxSelect: 1},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		collection.AddIndex("idx_events_organizer", false, "organizer", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("events")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
