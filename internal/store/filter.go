package store

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Filter narrows the task list. Empty criteria mean no constraint; the
// category and status sets use OR semantics, and statuses are matched
// against the effective status.
type Filter struct {
	AssigneeID string
	Categories []string
	Statuses   []Status
	Search     string
}

// FilteredView is the derived read model the board and calendar views
// consume: the filtered flat list plus a per-effective-status partition
// sorted by due date ascending, undated tasks last.
type FilteredView struct {
	Tasks    []Task
	ByStatus map[Status][]Task
}

// Apply is pure: it never touches the store.
func (f Filter) Apply(tasks []Task, now time.Time) FilteredView {
	search := strings.ToLower(f.Search)

	view := FilteredView{ByStatus: make(map[Status][]Task)}
	for _, t := range tasks {
		if f.AssigneeID != "" && t.AssigneeID != f.AssigneeID {
			continue
		}
		if len(f.Categories) > 0 && !containsString(f.Categories, t.Category) {
			continue
		}
		effective := EffectiveStatus(t, now)
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, effective) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(t.Title), search) &&
			!strings.Contains(strings.ToLower(t.Description), search) {
			continue
		}
		view.Tasks = append(view.Tasks, t)
		view.ByStatus[effective] = append(view.ByStatus[effective], t)
	}

	for status := range view.ByStatus {
		sortByDueDate(view.ByStatus[status])
	}
	return view
}

// sortByDueDate orders ascending by due date; the YYYY-MM-DD layout
// sorts lexicographically. Undated tasks go last.
func sortByDueDate(tasks []Task) {
	sort.SliceStable(tasks, func(a, b int) bool {
		da, db := tasks[a].DueDate, tasks[b].DueDate
		if da == "" {
			return false
		}
		if db == "" {
			return true
		}
		return da < db
	})
}

// Viewer memoizes a FilteredView over a store. The cached view is
// reused until the list generation, the criteria or the calendar day
// changes (the day matters because past-due derivation does).
type Viewer struct {
	store *Store

	mu       sync.Mutex
	valid    bool
	lastGen  uint64
	lastDay  string
	lastCrit Filter
	lastView FilteredView
}

func NewViewer(store *Store) *Viewer {
	return &Viewer{store: store}
}

func (v *Viewer) View(f Filter) FilteredView {
	now := v.store.now()
	gen := v.store.Generation()
	day := now.Format(dateLayout)

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.valid && v.lastGen == gen && v.lastDay == day && filtersEqual(v.lastCrit, f) {
		return v.lastView
	}

	view := f.Apply(v.store.Tasks(), now)
	v.valid = true
	v.lastGen = gen
	v.lastDay = day
	v.lastCrit = f
	v.lastView = view
	return view
}

func filtersEqual(a, b Filter) bool {
	if a.AssigneeID != b.AssigneeID || a.Search != b.Search {
		return false
	}
	if len(a.Categories) != len(b.Categories) || len(a.Statuses) != len(b.Statuses) {
		return false
	}
	for i := range a.Categories {
		if a.Categories[i] != b.Categories[i] {
			return false
		}
	}
	for i := range a.Statuses {
		if a.Statuses[i] != b.Statuses[i] {
			return false
		}
	}
	return true
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsStatus(set []Status, s Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
