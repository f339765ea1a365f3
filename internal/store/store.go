package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/example/taskboard/internal/repository"
)

// ErrNotFound is returned when a mutation targets an id the store does
// not hold.
var ErrNotFound = repository.ErrNotFound

// Draft is the input for creating a task. Zero-valued optional fields
// are omitted; an empty Status defaults to planning.
type Draft struct {
	Title       string
	Description string
	Status      Status
	Category    string
	Priority    string
	AssigneeID  string
	DueDate     string
}

// Store is the single authoritative holder of the task list for the
// session. Mutations apply to memory first, then persist through the
// repository; a failed write rolls the affected state back to a
// snapshot taken at that mutation's start. Every remote change signal,
// including echoes of this client's own writes, triggers a full reload.
type Store struct {
	repo repository.TaskRepository
	log  *logrus.Entry

	// overridable in tests
	now   func() time.Time
	newID func() string

	mu        sync.Mutex
	tasks     []Task
	gen       uint64 // bumped on every list change, keys filter memoization
	isLoading bool
	lastErr   error

	unsubscribe func()

	// reload holds at most one pending trigger; done stops the loop.
	reload    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func New(repo repository.TaskRepository, log *logrus.Logger) *Store {
	return &Store{
		repo:   repo,
		log:    log.WithField("component", "store"),
		now:    time.Now,
		newID:  uuid.NewString,
		reload: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start performs the initial load and subscribes to remote change
// signals. Close releases the subscription.
func (s *Store) Start(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		return err
	}

	unsubscribe, err := s.repo.Subscribe(s.invalidate)
	if err != nil {
		return fmt.Errorf("subscribe to task changes: %w", err)
	}

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	go s.reloadLoop()
	return nil
}

func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// Load fetches the full task set and replaces the in-memory list
// wholesale. On failure the list is left empty; there is no partial
// load.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	s.isLoading = true
	s.mu.Unlock()

	records, err := s.repo.List(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.isLoading = false

	if err != nil {
		s.tasks = nil
		s.gen++
		s.lastErr = fmt.Errorf("load tasks: %w", err)
		return s.lastErr
	}

	tasks := make([]Task, len(records))
	for i, rec := range records {
		tasks[i] = taskFromRecord(rec)
	}
	s.tasks = tasks
	s.gen++
	s.lastErr = nil
	return nil
}

// invalidate runs on every change signal. Signals carry no payload, so
// the response is always a full reload. The trigger channel holds one
// pending slot: signals that arrive while a reload is running coalesce
// into exactly one more reload, and that reload starts only after the
// signals it absorbed, so a query snapshot can never miss the change a
// coalesced signal announced. A reload may transiently overwrite an
// optimistic update that has not reached the server yet; the server's
// own change signal re-converges the list.
func (s *Store) invalidate() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

func (s *Store) reloadLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.reload:
			if err := s.Load(context.Background()); err != nil {
				s.log.WithError(err).Warn("reload after change signal failed")
			}
		}
	}
}

// Create appends an optimistic entry under a temporary id, then inserts
// remotely. On success the temporary entry is replaced in place by the
// server's row, which carries the permanent id; on failure the entry is
// removed.
func (s *Store) Create(ctx context.Context, draft Draft) (Task, error) {
	now := s.now()

	status := Status(storableStatus(draft.Status, StatusPlanning))

	temp := Task{
		ID:          "temp-" + s.newID(),
		Title:       draft.Title,
		Description: draft.Description,
		Status:      status,
		Category:    draft.Category,
		Priority:    draft.Priority,
		AssigneeID:  draft.AssigneeID,
		DueDate:     draft.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if status == StatusCompleted {
		completed := now
		temp.CompletedAt = &completed
	}

	// The column the task lands in is its effective status: a draft
	// already past due goes to the past-due column, not the stored one.
	column := EffectiveStatus(temp, now)

	s.mu.Lock()
	// next free slot at the bottom of that column
	order := 0
	for _, t := range s.tasks {
		if EffectiveStatus(t, now) == column && t.Order+1 > order {
			order = t.Order + 1
		}
	}
	temp.Order = order
	s.tasks = append(s.tasks, temp)
	s.gen++
	s.mu.Unlock()

	inserted, err := s.repo.Insert(ctx, recordForInsert(temp))

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.removeLocked(temp.ID)
		s.lastErr = fmt.Errorf("create task: %w", err)
		s.log.WithError(err).Warn("create rolled back")
		return Task{}, s.lastErr
	}

	confirmed := taskFromRecord(inserted)
	if i := s.indexLocked(temp.ID); i >= 0 {
		// identity-preserving splice: same position, permanent id
		s.tasks[i] = confirmed
	} else if s.indexLocked(confirmed.ID) < 0 {
		// a reload replaced the list while the insert was in flight
		s.tasks = append(s.tasks, confirmed)
	}
	s.gen++
	s.lastErr = nil
	return confirmed, nil
}

// Update applies the given fields optimistically, then issues a remote
// partial update restricted to them. On failure the task's exact
// pre-mutation snapshot is restored.
func (s *Store) Update(ctx context.Context, id string, f Fields) error {
	now := s.now()

	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	prev := s.tasks[i]

	next := prev
	if f.Title != nil {
		next.Title = *f.Title
	}
	if f.Description != nil {
		next.Description = *f.Description
	}
	if f.Status != nil {
		stored := Status(storableStatus(*f.Status, prev.Status))
		next.Status = stored
		applyCompletionStamp(&next, prev.Status, now)
	}
	if f.Category != nil {
		next.Category = *f.Category
	}
	if f.Priority != nil {
		next.Priority = *f.Priority
	}
	if f.AssigneeID != nil {
		next.AssigneeID = *f.AssigneeID
	}
	if f.DueDate != nil {
		next.DueDate = *f.DueDate
	}
	next.UpdatedAt = now

	s.tasks[i] = next
	s.gen++
	s.mu.Unlock()

	if err := s.repo.Update(ctx, id, updateInputFor(f, prev, next)); err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if j := s.indexLocked(id); j >= 0 {
			s.tasks[j] = prev
			s.gen++
		}
		s.lastErr = fmt.Errorf("update task: %w", err)
		s.log.WithError(err).WithField("task_id", id).Warn("update rolled back")
		return s.lastErr
	}

	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()
	return nil
}

// Delete removes the task optimistically and issues a remote delete.
// On failure the full pre-mutation list is restored, which is simpler
// and safer than re-inserting at the right position among siblings
// that may have shifted.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	snapshot := s.snapshotLocked()
	s.removeLocked(id)
	s.mu.Unlock()

	if err := s.repo.Delete(ctx, id); err != nil {
		s.rollback(snapshot, fmt.Errorf("delete task: %w", err))
		s.log.WithError(err).WithField("task_id", id).Warn("delete rolled back")
		return fmt.Errorf("delete task: %w", err)
	}

	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()
	return nil
}

// Move places the task into the partition for newStatus at index
// newOrder and renumbers that partition densely from zero. The source
// partition is left untouched. The underlying batch of writes covers
// only the rows whose status or order actually changed, and the whole
// batch is atomic from the caller's perspective: any single failure
// restores the full pre-mutation list.
func (s *Store) Move(ctx context.Context, id string, newStatus Status, newOrder int) error {
	now := s.now()

	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	snapshot := s.snapshotLocked()

	moved := s.tasks[i]
	prevStored := moved.Status
	moved.Status = Status(storableStatus(newStatus, prevStored))
	applyCompletionStamp(&moved, prevStored, now)
	moved.UpdatedAt = now

	// destination partition, excluding the moved task, in current order
	var partition []Task
	for _, t := range s.tasks {
		if t.ID != id && EffectiveStatus(t, now) == newStatus {
			partition = append(partition, t)
		}
	}
	sort.SliceStable(partition, func(a, b int) bool { return partition[a].Order < partition[b].Order })
	partition = insertTask(partition, clampIndex(newOrder, len(partition)), moved)

	updates := s.renumberLocked(partition, snapshot, now)
	s.mu.Unlock()

	if err := s.applyBatch(ctx, updates); err != nil {
		// Restoring the full snapshot can discard an unrelated optimistic
		// change applied since it was taken; the next change signal
		// reloads ground truth. Accepted race.
		s.rollback(snapshot, fmt.Errorf("move task: %w", err))
		s.log.WithError(err).WithField("task_id", id).Warn("move rolled back")
		return fmt.Errorf("move task: %w", err)
	}

	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()
	return nil
}

// Reorder moves the task to a new index within its own effective-status
// partition and renumbers that partition densely. Same atomicity and
// rollback semantics as Move.
func (s *Store) Reorder(ctx context.Context, id string, newOrder int) error {
	now := s.now()

	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	snapshot := s.snapshotLocked()

	moved := s.tasks[i]
	status := EffectiveStatus(moved, now)

	var partition []Task
	for _, t := range s.tasks {
		if t.ID != id && EffectiveStatus(t, now) == status {
			partition = append(partition, t)
		}
	}
	sort.SliceStable(partition, func(a, b int) bool { return partition[a].Order < partition[b].Order })
	partition = insertTask(partition, clampIndex(newOrder, len(partition)), moved)

	updates := s.renumberLocked(partition, snapshot, now)
	s.mu.Unlock()

	if err := s.applyBatch(ctx, updates); err != nil {
		s.rollback(snapshot, fmt.Errorf("reorder task: %w", err))
		s.log.WithError(err).WithField("task_id", id).Warn("reorder rolled back")
		return fmt.Errorf("reorder task: %w", err)
	}

	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()
	return nil
}

// GetByStatus returns the tasks whose effective status matches, sorted
// by order. Purely derived; the returned slice is the caller's to keep.
func (s *Store) GetByStatus(status Status) []Task {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Task
	for _, t := range s.tasks {
		if EffectiveStatus(t, now) == status {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Order < out[b].Order })
	return out
}

// Tasks returns a copy of the current list.
func (s *Store) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isLoading
}

// Err returns the most recent load or mutation error, nil after any
// subsequent success.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Now is the store's clock. Everything that derives effective status
// must read it from here so a single request sees one calendar day.
func (s *Store) Now() time.Time {
	return s.now()
}

// Generation increments whenever the list changes.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

type orderUpdate struct {
	id    string
	input repository.TaskUpdateInput
}

// renumberLocked writes the renumbered partition back into the list and
// returns the minimal batch: one partial update per row whose status or
// order changed relative to its pre-mutation state.
func (s *Store) renumberLocked(partition, snapshot []Task, now time.Time) []orderUpdate {
	prevByID := make(map[string]Task, len(snapshot))
	for _, t := range snapshot {
		prevByID[t.ID] = t
	}

	var updates []orderUpdate
	for j := range partition {
		partition[j].Order = j

		prev, ok := prevByID[partition[j].ID]
		if ok && prev.Order == partition[j].Order && prev.Status == partition[j].Status {
			continue
		}
		partition[j].UpdatedAt = now

		stored := string(partition[j].Status)
		order := partition[j].Order
		updatedAt := partition[j].UpdatedAt
		input := repository.TaskUpdateInput{
			Status:    &stored,
			Order:     &order,
			UpdatedAt: &updatedAt,
		}
		if ok && prev.Status != partition[j].Status {
			input.CompletedAt = nullTimePtr(partition[j].CompletedAt)
		}
		updates = append(updates, orderUpdate{id: partition[j].ID, input: input})
	}

	for _, t := range partition {
		if k := s.indexLocked(t.ID); k >= 0 {
			s.tasks[k] = t
		}
	}
	s.gen++
	return updates
}

// applyBatch issues the partial updates in sequence; the first failure
// fails the whole batch. Rows already written server-side are left for
// the change-signal reload to reconcile.
func (s *Store) applyBatch(ctx context.Context, updates []orderUpdate) error {
	for _, u := range updates {
		if err := s.repo.Update(ctx, u.id, u.input); err != nil {
			return fmt.Errorf("update task %s: %w", u.id, err)
		}
	}
	return nil
}

func (s *Store) rollback(snapshot []Task, err error) {
	s.mu.Lock()
	s.tasks = snapshot
	s.gen++
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Store) indexLocked(id string) int {
	for i, t := range s.tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) removeLocked(id string) {
	if i := s.indexLocked(id); i >= 0 {
		s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
		s.gen++
	}
}

func (s *Store) snapshotLocked() []Task {
	snapshot := make([]Task, len(s.tasks))
	copy(snapshot, s.tasks)
	return snapshot
}

// applyCompletionStamp keeps completed_at in step with the stored
// status: set the instant it becomes completed, cleared the instant it
// leaves completed.
func applyCompletionStamp(t *Task, prevStored Status, now time.Time) {
	switch {
	case t.Status == StatusCompleted && prevStored != StatusCompleted:
		completed := now
		t.CompletedAt = &completed
	case t.Status != StatusCompleted && prevStored == StatusCompleted:
		t.CompletedAt = nil
	}
}

func insertTask(tasks []Task, index int, t Task) []Task {
	if index >= len(tasks) {
		return append(tasks, t)
	}
	tasks = append(tasks[:index+1], tasks[index:]...)
	tasks[index] = t
	return tasks
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
