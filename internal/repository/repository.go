package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/example/taskboard/internal/models"
)

// ErrNotFound is returned when an update or delete targets a row that
// does not exist remotely.
var ErrNotFound = errors.New("task not found")

// TaskRepository is the remote store boundary for tasks. The backing
// store is opaque to callers: query, insert, partial update, delete and
// a payload-free change subscription that fires on any write to the
// table, including this client's own.
type TaskRepository interface {
	List(ctx context.Context) ([]models.TaskRecord, error)
	Insert(ctx context.Context, rec models.TaskRecord) (models.TaskRecord, error)
	Update(ctx context.Context, id string, input TaskUpdateInput) error
	Delete(ctx context.Context, id string) error
	Subscribe(onChange func()) (func(), error)
}

// TaskUpdateInput carries a partial update. A nil field is omitted from
// the outbound write and left untouched server-side; a non-nil nullable
// field may carry NULL to clear the column.
type TaskUpdateInput struct {
	Title       *string
	Description *string
	Status      *string
	Category    *string
	Priority    *string
	AssigneeID  *sql.NullString
	DueDate     *sql.NullString
	CompletedAt *sql.NullTime
	Order       *int
	UpdatedAt   *time.Time
}

// MemberRepository reads the team roster and records invitations.
type MemberRepository interface {
	List(ctx context.Context) ([]models.Member, error)
	Invite(ctx context.Context, email, displayName string) (models.Member, error)
}
