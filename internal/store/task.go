// Package store owns the authoritative in-memory task list for a
// session. Mutations apply optimistically and roll back to a snapshot
// when the remote write fails; any change signal from the remote store
// triggers a full reload.
package store

import (
	"time"

	"github.com/example/taskboard/internal/models"
)

// Status is the application-level task status. It carries one more
// variant than the persisted enum: StatusPastDue is derived at read
// time and must never be written back.
type Status string

const (
	StatusPlanning   Status = models.TaskStatusPlanning
	StatusInProgress Status = models.TaskStatusInProgress
	StatusCompleted  Status = models.TaskStatusCompleted
	StatusPastDue    Status = "past-due"
)

// Stored reports whether s is one of the three persistable statuses.
func (s Status) Stored() bool {
	return models.ValidStoredStatus(string(s))
}

// Statuses lists every status a board column can show, in column order.
func Statuses() []Status {
	return []Status{StatusPlanning, StatusInProgress, StatusPastDue, StatusCompleted}
}

// Task is the application task entity. Status always holds the stored
// status; the past-due presentation value comes from EffectiveStatus.
type Task struct {
	ID          string
	Title       string
	Description string
	Status      Status
	Category    string
	Priority    string
	AssigneeID  string
	DueDate     string // YYYY-MM-DD, empty when undated
	CompletedAt *time.Time
	Order       int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const dateLayout = "2006-01-02"

// EffectiveStatus derives the presentation status: past-due when the
// task is not completed and its due date lies strictly before the start
// of the current day, the stored status otherwise. Pure, never stored.
func EffectiveStatus(t Task, now time.Time) Status {
	if t.Status == StatusCompleted {
		return StatusCompleted
	}
	if t.DueDate == "" {
		return t.Status
	}
	due, err := time.ParseInLocation(dateLayout, t.DueDate, now.Location())
	if err != nil {
		return t.Status
	}
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if due.Before(startOfDay) {
		return StatusPastDue
	}
	return t.Status
}
