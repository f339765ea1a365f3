package models

import (
	"database/sql"
	"time"
)

// Stored status constants. These are the only statuses ever persisted;
// the past-due presentation status is derived in internal/store and never
// reaches the database.
const (
	TaskStatusPlanning   = "planning"
	TaskStatusInProgress = "in-progress"
	TaskStatusCompleted  = "completed"
)

// Category constants
const (
	CategoryFeature = "feature"
	CategoryBug     = "bug"
	CategoryChore   = "chore"
	CategoryDesign  = "design"
	CategoryOther   = "other"
)

// Priority constants
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// TaskRecord is the wire shape of a row in the tasks table.
type TaskRecord struct {
	ID          string         `db:"id"`
	Title       string         `db:"title"`
	Description string         `db:"description"`
	Status      string         `db:"status"`
	Category    string         `db:"category"`
	Priority    string         `db:"priority"`
	AssigneeID  sql.NullString `db:"assignee_id"`
	DueDate     sql.NullString `db:"due_date"`
	CompletedAt sql.NullTime   `db:"completed_at"`
	Order       int            `db:"order"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// ValidStoredStatus reports whether s is one of the three persisted statuses.
func ValidStoredStatus(s string) bool {
	switch s {
	case TaskStatusPlanning, TaskStatusInProgress, TaskStatusCompleted:
		return true
	}
	return false
}
