package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/taskboard/internal/models"
	"github.com/example/taskboard/internal/repository"
)

var (
	testNow = time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	errBoom = errors.New("remote store unavailable")
)

type updateCall struct {
	id    string
	input repository.TaskUpdateInput
}

// fakeTaskRepo is an in-memory remote store with scriptable failures.
type fakeTaskRepo struct {
	mu         sync.Mutex
	records    []models.TaskRecord
	nextID     int
	listErr    error
	insertErr  error
	deleteErr  error
	updateErrs map[string]error
	updates    []updateCall
	onChange   func()

	listCalls   int
	listEntered chan struct{}
	listGate    chan struct{}
}

func newFakeRepo(records ...models.TaskRecord) *fakeTaskRepo {
	return &fakeTaskRepo{
		records:    records,
		updateErrs: make(map[string]error),
	}
}

func (f *fakeTaskRepo) List(ctx context.Context) ([]models.TaskRecord, error) {
	f.mu.Lock()
	f.listCalls++
	entered, gate := f.listEntered, f.listGate
	if f.listErr != nil {
		f.mu.Unlock()
		return nil, f.listErr
	}
	out := make([]models.TaskRecord, len(f.records))
	copy(out, f.records)
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Order != out[b].Order {
			return out[a].Order < out[b].Order
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	f.mu.Unlock()

	// optional rendezvous, after the snapshot above: a test can hold a
	// query in flight and commit rows it will not see
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return out, nil
}

func (f *fakeTaskRepo) Insert(ctx context.Context, rec models.TaskRecord) (models.TaskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return models.TaskRecord{}, f.insertErr
	}
	f.nextID++
	rec.ID = fmt.Sprintf("srv-%d", f.nextID)
	rec.CreatedAt = testNow
	rec.UpdatedAt = testNow
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeTaskRepo) Update(ctx context.Context, id string, input repository.TaskUpdateInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.updateErrs[id]; err != nil {
		return err
	}
	f.updates = append(f.updates, updateCall{id: id, input: input})
	for i := range f.records {
		if f.records[i].ID != id {
			continue
		}
		if input.Title != nil {
			f.records[i].Title = *input.Title
		}
		if input.Status != nil {
			f.records[i].Status = *input.Status
		}
		if input.Order != nil {
			f.records[i].Order = *input.Order
		}
		if input.UpdatedAt != nil {
			f.records[i].UpdatedAt = *input.UpdatedAt
		}
		return nil
	}
	return repository.ErrNotFound
}

func (f *fakeTaskRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i := range f.records {
		if f.records[i].ID == id {
			f.records = append(f.records[:i], f.records[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeTaskRepo) Subscribe(onChange func()) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = onChange
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.onChange = nil
	}, nil
}

// fire simulates a change notification from the remote store.
func (f *fakeTaskRepo) fire() {
	f.mu.Lock()
	onChange := f.onChange
	f.mu.Unlock()
	if onChange != nil {
		onChange()
	}
}

func (f *fakeTaskRepo) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeTaskRepo) failUpdate(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateErrs[id] = errBoom
}

func newTestStore(t *testing.T, repo *fakeTaskRepo) *Store {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	s := New(repo, log)
	s.now = func() time.Time { return testNow }
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("%04d", n)
	}
	return s
}

func loadedStore(t *testing.T, repo *fakeTaskRepo) *Store {
	t.Helper()
	s := newTestStore(t, repo)
	require.NoError(t, s.Load(context.Background()))
	return s
}

func rec(id, status string, order int) models.TaskRecord {
	created := testNow.Add(-time.Hour)
	return models.TaskRecord{
		ID:        id,
		Title:     "task " + id,
		Status:    status,
		Category:  models.CategoryFeature,
		Priority:  models.PriorityMedium,
		Order:     order,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func ids(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func orders(tasks []Task) []int {
	out := make([]int, len(tasks))
	for i, t := range tasks {
		out[i] = t.Order
	}
	return out
}

func TestStore_Load(t *testing.T) {
	repo := newFakeRepo(
		rec("b", models.TaskStatusPlanning, 1),
		rec("a", models.TaskStatusPlanning, 0),
		rec("c", models.TaskStatusInProgress, 0),
	)
	s := newTestStore(t, repo)

	require.NoError(t, s.Load(context.Background()))

	assert.False(t, s.IsLoading())
	assert.NoError(t, s.Err())
	assert.Equal(t, []string{"a", "c", "b"}, ids(s.Tasks()))
}

func TestStore_Load_FailureLeavesListEmpty(t *testing.T) {
	repo := newFakeRepo(rec("a", models.TaskStatusPlanning, 0))
	repo.listErr = errBoom
	s := newTestStore(t, repo)

	err := s.Load(context.Background())

	require.Error(t, err)
	assert.Empty(t, s.Tasks())
	assert.False(t, s.IsLoading())
	assert.Error(t, s.Err())

	// a later successful load clears the error
	repo.listErr = nil
	require.NoError(t, s.Load(context.Background()))
	assert.NoError(t, s.Err())
	assert.Len(t, s.Tasks(), 1)
}

func TestStore_Create_FirstInEmptyColumn(t *testing.T) {
	repo := newFakeRepo()
	s := loadedStore(t, repo)

	created, err := s.Create(context.Background(), Draft{Title: "first"})

	require.NoError(t, err)
	assert.Equal(t, StatusPlanning, created.Status)
	assert.Equal(t, 0, created.Order)
	assert.Equal(t, "srv-1", created.ID)
}

func TestStore_Create_AppendsAfterMaxOrder(t *testing.T) {
	repo := newFakeRepo(
		rec("a", models.TaskStatusPlanning, 0),
		rec("b", models.TaskStatusPlanning, 1),
		rec("c", models.TaskStatusInProgress, 0),
	)
	s := loadedStore(t, repo)

	created, err := s.Create(context.Background(), Draft{Title: "next", Status: StatusPlanning})

	require.NoError(t, err)
	assert.Equal(t, 2, created.Order)

	// the confirmed entry replaced the temporary one in place, at the
	// end of the list, under the server id
	tasks := s.Tasks()
	assert.Equal(t, "srv-1", tasks[len(tasks)-1].ID)
	for _, task := range tasks {
		assert.NotContains(t, task.ID, "temp-")
	}
}

func TestStore_Create_FailureRemovesPhantom(t *testing.T) {
	repo := newFakeRepo(rec("a", models.TaskStatusPlanning, 0))
	s := loadedStore(t, repo)
	before := s.Tasks()

	repo.insertErr = errBoom
	_, err := s.Create(context.Background(), Draft{Title: "doomed"})

	require.Error(t, err)
	assert.Equal(t, before, s.Tasks())
	assert.Error(t, s.Err())
}

func TestStore_Create_CompletedDraftGetsTimestamp(t *testing.T) {
	repo := newFakeRepo()
	s := loadedStore(t, repo)

	created, err := s.Create(context.Background(), Draft{Title: "done already", Status: StatusCompleted})

	require.NoError(t, err)
	require.NotNil(t, created.CompletedAt)
	assert.Equal(t, testNow, *created.CompletedAt)
}

func TestStore_Create_OverdueDraftJoinsPastDueColumn(t *testing.T) {
	overdue := rec("x", models.TaskStatusPlanning, 0)
	overdue.DueDate = sql.NullString{String: "2020-01-01", Valid: true}
	repo := newFakeRepo(
		overdue,
		rec("p", models.TaskStatusPlanning, 0),
	)
	s := loadedStore(t, repo)

	// due yesterday: the draft lands in the past-due column, so its
	// order slots after x, not after the planning tasks
	created, err := s.Create(context.Background(), Draft{Title: "late on arrival", DueDate: "2025-03-14"})

	require.NoError(t, err)
	assert.Equal(t, StatusPlanning, created.Status)
	assert.Equal(t, 1, created.Order)

	col := s.GetByStatus(StatusPastDue)
	require.Equal(t, []string{"x", "srv-1"}, ids(col))
	assert.Equal(t, []int{0, 1}, orders(col))
}

func TestStore_Update_AppliesPartialFields(t *testing.T) {
	repo := newFakeRepo(
		rec("a", models.TaskStatusPlanning, 0),
		rec("b", models.TaskStatusPlanning, 1),
	)
	s := loadedStore(t, repo)

	title := "renamed"
	require.NoError(t, s.Update(context.Background(), "a", Fields{Title: &title}))

	tasks := s.GetByStatus(StatusPlanning)
	assert.Equal(t, "renamed", tasks[0].Title)
	assert.Equal(t, testNow, tasks[0].UpdatedAt)
	assert.Equal(t, "task b", tasks[1].Title)

	// the outbound write carried only the supplied field plus updated_at
	require.Len(t, repo.updates, 1)
	input := repo.updates[0].input
	require.NotNil(t, input.Title)
	assert.Nil(t, input.Status)
	assert.Nil(t, input.Order)
	assert.NotNil(t, input.UpdatedAt)
}

func TestStore_Update_RollbackRestoresExactSnapshot(t *testing.T) {
	repo := newFakeRepo(
		rec("a", models.TaskStatusPlanning, 0),
		rec("b", models.TaskStatusInProgress, 0),
	)
	s := loadedStore(t, repo)
	before := s.Tasks()

	repo.failUpdate("a")
	title := "renamed"
	err := s.Update(context.Background(), "a", Fields{Title: &title})

	require.Error(t, err)
	// deep equality, including timestamps: the refreshed updated_at must
	// not survive the rollback
	assert.Equal(t, before, s.Tasks())
}

func TestStore_Update_CompletionTransitions(t *testing.T) {
	repo := newFakeRepo(rec("a", models.TaskStatusInProgress, 0))
	s := loadedStore(t, repo)

	completed := StatusCompleted
	require.NoError(t, s.Update(context.Background(), "a", Fields{Status: &completed}))

	task := s.Tasks()[0]
	require.NotNil(t, task.CompletedAt)
	assert.Equal(t, testNow, *task.CompletedAt)

	planning := StatusPlanning
	require.NoError(t, s.Update(context.Background(), "a", Fields{Status: &planning}))
	assert.Nil(t, s.Tasks()[0].CompletedAt)
}

func TestStore_Update_UnknownID(t *testing.T) {
	s := loadedStore(t, newFakeRepo())
	title := "x"
	err := s.Update(context.Background(), "ghost", Fields{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	repo := newFakeRepo(
		rec("a", models.TaskStatusPlanning, 0),
		rec("b", models.TaskStatusPlanning, 1),
	)
	s := loadedStore(t, repo)

	require.NoError(t, s.Delete(context.Background(), "a"))

	assert.Equal(t, []string{"b"}, ids(s.Tasks()))
	records, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStore_Delete_FailureRestoresFullList(t *testing.T) {
	repo := newFakeRepo(
		rec("a", models.TaskStatusPlanning, 0),
		rec("b", models.TaskStatusPlanning, 1),
	)
	s := loadedStore(t, repo)
	before := s.Tasks()

	repo.deleteErr = errBoom
	err := s.Delete(context.Background(), "a")

	require.Error(t, err)
	assert.Equal(t, before, s.Tasks())
}

func TestStore_Move(t *testing.T) {
	repo := newFakeRepo(
		rec("p1", models.TaskStatusPlanning, 0),
		rec("p2", models.TaskStatusPlanning, 1),
		rec("p3", models.TaskStatusPlanning, 2),
		rec("p4", models.TaskStatusPlanning, 3),
		rec("p5", models.TaskStatusPlanning, 4),
		rec("q1", models.TaskStatusInProgress, 0),
		rec("q2", models.TaskStatusInProgress, 1),
		rec("q3", models.TaskStatusInProgress, 2),
	)
	s := loadedStore(t, repo)

	require.NoError(t, s.Move(context.Background(), "p2", StatusInProgress, 1))

	// destination holds four tasks with dense orders 0..3
	dest := s.GetByStatus(StatusInProgress)
	assert.Equal(t, []string{"q1", "p2", "q2", "q3"}, ids(dest))
	assert.Equal(t, []int{0, 1, 2, 3}, orders(dest))
	assert.Equal(t, StatusInProgress, dest[1].Status)

	// the source partition keeps its prior orders, gap included
	src := s.GetByStatus(StatusPlanning)
	assert.Equal(t, []string{"p1", "p3", "p4", "p5"}, ids(src))
	assert.Equal(t, []int{0, 2, 3, 4}, orders(src))

	// minimal diff: q1 kept both status and order, so only three rows
	// went over the wire
	require.Len(t, repo.updates, 3)
	assert.Equal(t, "p2", repo.updates[0].id)
	assert.Equal(t, "q2", repo.updates[1].id)
	assert.Equal(t, "q3", repo.updates[2].id)
	require.NotNil(t, repo.updates[1].input.Order)
	assert.Equal(t, 2, *repo.updates[1].input.Order)
}

func TestStore_Move_BatchFailureRestoresEverything(t *testing.T) {
	repo := newFakeRepo(
		rec("p1", models.TaskStatusPlanning, 0),
		rec("p2", models.TaskStatusPlanning, 1),
		rec("p3", models.TaskStatusPlanning, 2),
		rec("p4", models.TaskStatusPlanning, 3),
		rec("p5", models.TaskStatusPlanning, 4),
		rec("q1", models.TaskStatusInProgress, 0),
		rec("q2", models.TaskStatusInProgress, 1),
		rec("q3", models.TaskStatusInProgress, 2),
	)
	s := loadedStore(t, repo)
	before := s.Tasks()

	// the last row of the batch fails; rows written before it are left
	// for the change-signal reload to reconcile
	repo.failUpdate("q3")
	err := s.Move(context.Background(), "p2", StatusInProgress, 1)

	require.Error(t, err)
	assert.Equal(t, before, s.Tasks())
	assert.Len(t, s.GetByStatus(StatusPlanning), 5)
	assert.Len(t, s.GetByStatus(StatusInProgress), 3)
}

func TestStore_Move_CollapsesDerivedStatus(t *testing.T) {
	x := rec("x", models.TaskStatusInProgress, 0)
	x.DueDate.String = "2020-01-01"
	x.DueDate.Valid = true
	y := rec("y", models.TaskStatusPlanning, 0)
	y.DueDate.String = "2020-01-02"
	y.DueDate.Valid = true
	repo := newFakeRepo(x, y)
	s := loadedStore(t, repo)

	// both tasks derive past-due; dragging y to the top of that column
	// must never persist the derived value, only stored statuses reach
	// the wire
	require.NoError(t, s.Move(context.Background(), "y", StatusPastDue, 0))

	col := s.GetByStatus(StatusPastDue)
	assert.Equal(t, []string{"y", "x"}, ids(col))
	assert.Equal(t, []int{0, 1}, orders(col))
	assert.Equal(t, StatusPlanning, col[0].Status)

	require.NotEmpty(t, repo.updates)
	for _, u := range repo.updates {
		if u.input.Status != nil {
			assert.True(t, models.ValidStoredStatus(*u.input.Status))
		}
	}
}

func TestStore_Reorder(t *testing.T) {
	repo := newFakeRepo(
		rec("a", models.TaskStatusPlanning, 0),
		rec("b", models.TaskStatusPlanning, 1),
		rec("c", models.TaskStatusPlanning, 2),
		rec("d", models.TaskStatusPlanning, 3),
	)
	s := loadedStore(t, repo)

	require.NoError(t, s.Reorder(context.Background(), "c", 0))

	col := s.GetByStatus(StatusPlanning)
	assert.Equal(t, []string{"c", "a", "b", "d"}, ids(col))
	assert.Equal(t, []int{0, 1, 2, 3}, orders(col))

	// d kept order 3 and stayed off the wire
	require.Len(t, repo.updates, 3)
	touched := []string{repo.updates[0].id, repo.updates[1].id, repo.updates[2].id}
	assert.NotContains(t, touched, "d")
}

func TestStore_Reorder_FailureRestoresFullList(t *testing.T) {
	repo := newFakeRepo(
		rec("a", models.TaskStatusPlanning, 0),
		rec("b", models.TaskStatusPlanning, 1),
		rec("c", models.TaskStatusPlanning, 2),
	)
	s := loadedStore(t, repo)
	before := s.Tasks()

	repo.failUpdate("a")
	err := s.Reorder(context.Background(), "c", 0)

	require.Error(t, err)
	assert.Equal(t, before, s.Tasks())
}

// Order density: after a settled create, move or reorder, the touched
// partition's orders form exactly {0..n-1}. Source partitions keep
// their prior orders, gaps included, and orders stay unique everywhere.
func TestStore_OrderDensity(t *testing.T) {
	repo := newFakeRepo(
		rec("a", models.TaskStatusPlanning, 0),
		rec("b", models.TaskStatusPlanning, 1),
		rec("c", models.TaskStatusInProgress, 0),
	)
	s := loadedStore(t, repo)
	ctx := context.Background()

	assertDense := func(status Status) {
		t.Helper()
		for i, task := range s.GetByStatus(status) {
			assert.Equal(t, i, task.Order, "status %s", status)
		}
	}
	assertUniqueOrders := func() {
		t.Helper()
		for _, status := range Statuses() {
			seen := make(map[int]bool)
			for _, task := range s.GetByStatus(status) {
				assert.False(t, seen[task.Order], "duplicate order %d in %s", task.Order, status)
				seen[task.Order] = true
			}
		}
	}

	_, err := s.Create(ctx, Draft{Title: "d", Status: StatusInProgress})
	require.NoError(t, err)
	assertDense(StatusInProgress)
	assertUniqueOrders()

	require.NoError(t, s.Move(ctx, "a", StatusInProgress, 0))
	assertDense(StatusInProgress)
	assertUniqueOrders()

	require.NoError(t, s.Reorder(ctx, "c", 0))
	assertDense(StatusInProgress)
	assertUniqueOrders()

	require.NoError(t, s.Move(ctx, "c", StatusPlanning, 1))
	assertDense(StatusPlanning)
	assertUniqueOrders()
}

func TestStore_ChangeSignalReloads(t *testing.T) {
	repo := newFakeRepo(rec("a", models.TaskStatusPlanning, 0))
	s := newTestStore(t, repo)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	// another client writes a row, then the notification arrives
	repo.mu.Lock()
	repo.records = append(repo.records, rec("remote", models.TaskStatusInProgress, 0))
	repo.mu.Unlock()

	repo.fire()

	require.Eventually(t, func() bool {
		return len(s.Tasks()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "remote"}, ids(s.Tasks()))
}

// holdNextLoad arms the fake's rendezvous. The returned entered channel
// fires once a query has taken its snapshot; closing gate releases it.
func holdNextLoad(repo *fakeTaskRepo) (entered chan struct{}, gate chan struct{}) {
	entered = make(chan struct{}, 1)
	gate = make(chan struct{})
	repo.mu.Lock()
	repo.listEntered = entered
	repo.listGate = gate
	repo.mu.Unlock()
	return entered, gate
}

func TestStore_SignalDuringReloadIsNotLost(t *testing.T) {
	repo := newFakeRepo(rec("a", models.TaskStatusPlanning, 0))
	s := newTestStore(t, repo)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	entered, gate := holdNextLoad(repo)

	repo.fire()
	// the reload has taken its query snapshot and is still in flight
	<-entered

	// another client commits a row; its notification lands mid-reload
	repo.mu.Lock()
	repo.records = append(repo.records, rec("late", models.TaskStatusInProgress, 0))
	repo.mu.Unlock()
	repo.fire()

	close(gate)

	// the mid-flight signal must schedule a fresh reload that sees the row
	require.Eventually(t, func() bool {
		return len(s.Tasks()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "late"}, ids(s.Tasks()))
}

func TestStore_ConcurrentSignalsCoalesce(t *testing.T) {
	repo := newFakeRepo(rec("a", models.TaskStatusPlanning, 0))
	s := newTestStore(t, repo)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	base := repo.calls()
	entered, gate := holdNextLoad(repo)

	repo.fire()
	// hold the first reload inside the remote query
	<-entered

	// a burst of signals while the reload is in flight
	repo.fire()
	repo.fire()
	repo.fire()

	close(gate)

	// the burst collapses to exactly one follow-up reload
	require.Eventually(t, func() bool {
		return repo.calls() == base+2
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, base+2, repo.calls())
}

func TestStore_CloseUnsubscribes(t *testing.T) {
	repo := newFakeRepo(rec("a", models.TaskStatusPlanning, 0))
	s := newTestStore(t, repo)
	require.NoError(t, s.Start(context.Background()))

	s.Close()

	repo.mu.Lock()
	unsubscribed := repo.onChange == nil
	repo.mu.Unlock()
	assert.True(t, unsubscribed)

	// firing after close must be a no-op, not a crash
	repo.fire()
}
