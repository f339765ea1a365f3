package store

import (
	"database/sql"
	"time"

	"github.com/example/taskboard/internal/models"
	"github.com/example/taskboard/internal/repository"
)

// taskFromRecord maps a wire record into the application entity. No
// status derivation happens here; callers derive the effective status
// lazily and never store it.
func taskFromRecord(rec models.TaskRecord) Task {
	t := Task{
		ID:          rec.ID,
		Title:       rec.Title,
		Description: rec.Description,
		Status:      Status(rec.Status),
		Category:    rec.Category,
		Priority:    rec.Priority,
		Order:       rec.Order,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	if rec.AssigneeID.Valid {
		t.AssigneeID = rec.AssigneeID.String
	}
	if rec.DueDate.Valid {
		t.DueDate = rec.DueDate.String
	}
	if rec.CompletedAt.Valid {
		completed := rec.CompletedAt.Time
		t.CompletedAt = &completed
	}
	return t
}

// recordForInsert maps a new task onto the wire. The id is left empty;
// the remote store assigns the permanent one.
func recordForInsert(t Task) models.TaskRecord {
	rec := models.TaskRecord{
		Title:       t.Title,
		Description: t.Description,
		Status:      storableStatus(t.Status, StatusPlanning),
		Category:    t.Category,
		Priority:    t.Priority,
		AssigneeID:  nullString(t.AssigneeID),
		DueDate:     nullString(t.DueDate),
		Order:       t.Order,
	}
	if t.CompletedAt != nil {
		rec.CompletedAt = sql.NullTime{Time: *t.CompletedAt, Valid: true}
	}
	return rec
}

// Fields is a partial update. Nil fields are left untouched both in
// memory and server-side; an empty AssigneeID or DueDate clears the
// value.
type Fields struct {
	Title       *string
	Description *string
	Status      *Status
	Category    *string
	Priority    *string
	AssigneeID  *string
	DueDate     *string
}

// updateInputFor maps the applied fields onto a wire-level partial
// update. Only fields present in f are included, plus the bookkeeping
// columns the mutation touched (updated_at always, completed_at when
// the status changed).
func updateInputFor(f Fields, prev, next Task) repository.TaskUpdateInput {
	input := repository.TaskUpdateInput{
		Title:       f.Title,
		Description: f.Description,
		Category:    f.Category,
		Priority:    f.Priority,
	}

	if f.Status != nil {
		stored := storableStatus(*f.Status, prev.Status)
		input.Status = &stored
		if next.Status != prev.Status {
			input.CompletedAt = nullTimePtr(next.CompletedAt)
		}
	}
	if f.AssigneeID != nil {
		assignee := nullString(*f.AssigneeID)
		input.AssigneeID = &assignee
	}
	if f.DueDate != nil {
		due := nullString(*f.DueDate)
		input.DueDate = &due
	}

	updatedAt := next.UpdatedAt
	input.UpdatedAt = &updatedAt
	return input
}

// storableStatus collapses the application status back onto the
// three-valued wire enum. The derived past-due variant is substituted
// with the task's last known stored status; it must never be persisted.
func storableStatus(s Status, lastStored Status) string {
	if s.Stored() {
		return string(s)
	}
	return string(lastStored)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimePtr(t *time.Time) *sql.NullTime {
	if t == nil {
		return &sql.NullTime{}
	}
	return &sql.NullTime{Time: *t, Valid: true}
}
