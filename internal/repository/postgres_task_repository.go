package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/example/taskboard/internal/models"
	"github.com/example/taskboard/pkg/realtime"
)

// due_date is a date column but travels as a YYYY-MM-DD string; to_char
// keeps the wire shape date-only in both directions.
const taskColumns = `id, title, description, status, category, priority, assignee_id, to_char(due_date, 'YYYY-MM-DD') AS due_date, completed_at, "order", created_at, updated_at`

type PostgresTaskRepository struct {
	db       *sqlx.DB
	listener *realtime.Listener
}

func NewPostgresTaskRepository(db *sqlx.DB, listener *realtime.Listener) *PostgresTaskRepository {
	return &PostgresTaskRepository{
		db:       db,
		listener: listener,
	}
}

func (r *PostgresTaskRepository) List(ctx context.Context) ([]models.TaskRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks ORDER BY "order" ASC, created_at ASC`, taskColumns)

	records := []models.TaskRecord{}
	if err := r.db.SelectContext(ctx, &records, query); err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	return records, nil
}

// Insert stores a new row and returns it as persisted. The id in rec is
// ignored; the database assigns the permanent one.
func (r *PostgresTaskRepository) Insert(ctx context.Context, rec models.TaskRecord) (models.TaskRecord, error) {
	query := fmt.Sprintf(`
		INSERT INTO tasks (title, description, status, category, priority, assignee_id, due_date, completed_at, "order")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING %s`, taskColumns)

	var inserted models.TaskRecord
	err := r.db.GetContext(ctx, &inserted, query,
		rec.Title,
		rec.Description,
		rec.Status,
		rec.Category,
		rec.Priority,
		rec.AssigneeID,
		rec.DueDate,
		rec.CompletedAt,
		rec.Order,
	)
	if err != nil {
		return models.TaskRecord{}, fmt.Errorf("insert task: %w", err)
	}
	return inserted, nil
}

func (r *PostgresTaskRepository) Update(ctx context.Context, id string, input TaskUpdateInput) error {
	var sets []string
	var args []interface{}

	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(`%s = $%d`, col, len(args)))
	}

	if input.Title != nil {
		add(`title`, *input.Title)
	}
	if input.Description != nil {
		add(`description`, *input.Description)
	}
	if input.Status != nil {
		add(`status`, *input.Status)
	}
	if input.Category != nil {
		add(`category`, *input.Category)
	}
	if input.Priority != nil {
		add(`priority`, *input.Priority)
	}
	if input.AssigneeID != nil {
		add(`assignee_id`, *input.AssigneeID)
	}
	if input.DueDate != nil {
		add(`due_date`, *input.DueDate)
	}
	if input.CompletedAt != nil {
		add(`completed_at`, *input.CompletedAt)
	}
	if input.Order != nil {
		add(`"order"`, *input.Order)
	}
	if input.UpdatedAt != nil {
		add(`updated_at`, *input.UpdatedAt)
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE tasks SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresTaskRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresTaskRepository) Subscribe(onChange func()) (func(), error) {
	if r.listener == nil {
		return nil, errors.New("no realtime listener configured")
	}
	return r.listener.Subscribe(onChange), nil
}

var _ TaskRepository = (*PostgresTaskRepository)(nil)

type PostgresMemberRepository struct {
	db *sqlx.DB
}

func NewPostgresMemberRepository(db *sqlx.DB) *PostgresMemberRepository {
	return &PostgresMemberRepository{db: db}
}

func (r *PostgresMemberRepository) List(ctx context.Context) ([]models.Member, error) {
	members := []models.Member{}
	err := r.db.SelectContext(ctx, &members,
		`SELECT id, email, display_name, invited_at FROM members ORDER BY display_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	return members, nil
}

func (r *PostgresMemberRepository) Invite(ctx context.Context, email, displayName string) (models.Member, error) {
	var m models.Member
	err := r.db.GetContext(ctx, &m,
		`INSERT INTO members (email, display_name) VALUES ($1, $2)
		 RETURNING id, email, display_name, invited_at`,
		email, displayName)
	if err != nil {
		return models.Member{}, fmt.Errorf("invite member: %w", err)
	}
	return m, nil
}

var _ MemberRepository = (*PostgresMemberRepository)(nil)
