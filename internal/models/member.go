package models

import "time"

// Member is a team member row. Members are created through the admin
// invitation flow; this layer only carries the record, delivery of the
// invitation email happens elsewhere.
type Member struct {
	ID          string    `db:"id"`
	Email       string    `db:"email"`
	DisplayName string    `db:"display_name"`
	InvitedAt   time.Time `db:"invited_at"`
}
