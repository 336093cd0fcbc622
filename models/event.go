package models

import (
	"time"

	"github.com/pocketbase/pocketbase/core"
)

type Event struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Venue       string    `json:"venue"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	OrganizerID string    `json:"organizer_id"`
	Enterprise  bool      `json:"enterprise"`
	Status      string    `json:"status"` // draft, publish, finished, canceled
}

func EventFromRecord(r *core.Record) *Event {
	return &Event{
		ID:          r.Id,
		Name:        r.GetString("name"),
		Description: r.GetString("description"),
		Venue:       r.GetString("venue"),
		StartTime:   r.GetDateTime("start_time").Time(),
		EndTime:     r.GetDateTime("end_time").Time(),
		OrganizerID: r.GetString("organizer"),
		Enterprise:  r.GetBool("enterprise"),
		Status:      r.GetString("status"),
	}
}
