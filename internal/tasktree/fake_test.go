package tasktree

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"taskaza/api/internal/store"
)

var (
	errInsertFailed = errors.New("insert failed")
	errForeignKey   = errors.New("foreign key violation")
	errStatusFailed = errors.New("status update failed")
)

// memStore keeps tasks in a map and snapshots it around every transaction,
// so a failing operation leaves no trace.
type memStore struct {
	tasks  map[int64]store.Task
	nextID int64
	clock  time.Time

	listChildrenCalls int
	lockCalls         int
	unlockedReads     int
	txCount           int
	failInsertOnTitle string
	failStatusOnID    int64
}

func newMemStore() *memStore {
	return &memStore{
		tasks:  map[int64]store.Task{},
		nextID: 1,
		clock:  time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) InTx(ctx context.Context, fn func(store.TaskTx) error) error {
	s.txCount++
	snapshot := make(map[int64]store.Task, len(s.tasks))
	for id, task := range s.tasks {
		snapshot[id] = task
	}
	nextID := s.nextID
	if err := fn(&memTx{store: s}); err != nil {
		s.tasks = snapshot
		s.nextID = nextID
		return err
	}
	return nil
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

type memTx struct {
	store  *memStore
	locked bool
}

func (t *memTx) LockOwner(context.Context, int64) error {
	t.store.lockCalls++
	t.locked = true
	return nil
}

func (t *memTx) GetTask(_ context.Context, ownerID, taskID int64) (store.Task, error) {
	if !t.locked {
		t.store.unlockedReads++
	}
	task, ok := t.store.tasks[taskID]
	if !ok || task.OwnerID != ownerID {
		return store.Task{}, store.ErrNotFound
	}
	return task, nil
}

func (t *memTx) GetTasks(_ context.Context, ownerID int64, taskIDs []int64) ([]store.Task, error) {
	out := make([]store.Task, 0, len(taskIDs))
	for _, id := range taskIDs {
		if task, ok := t.store.tasks[id]; ok && task.OwnerID == ownerID {
			out = append(out, task)
		}
	}
	return out, nil
}

func (t *memTx) ListChildren(_ context.Context, ownerID int64, parentIDs []int64) ([]store.Task, error) {
	t.store.listChildrenCalls++
	parents := make(map[int64]struct{}, len(parentIDs))
	for _, id := range parentIDs {
		parents[id] = struct{}{}
	}
	out := make([]store.Task, 0)
	for _, task := range t.store.tasks {
		if task.OwnerID != ownerID || task.ParentID == nil {
			continue
		}
		if _, ok := parents[*task.ParentID]; ok {
			out = append(out, task)
		}
	}
	sortByCreated(out, true)
	return out, nil
}

func (t *memTx) ListTasks(_ context.Context, ownerID int64, filter store.TaskFilter) ([]store.Task, error) {
	out := make([]store.Task, 0)
	for _, task := range t.store.tasks {
		if task.OwnerID != ownerID {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.RootsOnly && task.ParentID != nil {
			continue
		}
		if filter.Query != "" && !containsFold(task.Title, filter.Query) {
			continue
		}
		out = append(out, task)
	}
	sortByCreated(out, filter.Ascending)
	if filter.Offset >= len(out) {
		return []store.Task{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (t *memTx) InsertTask(_ context.Context, task store.Task) (store.Task, error) {
	if t.store.failInsertOnTitle != "" && task.Title == t.store.failInsertOnTitle {
		return store.Task{}, errInsertFailed
	}
	if task.ParentID != nil {
		parent, ok := t.store.tasks[*task.ParentID]
		if !ok || parent.OwnerID != task.OwnerID {
			return store.Task{}, errForeignKey
		}
	}
	task.ID = t.store.nextID
	t.store.nextID++
	now := t.store.tick()
	task.CreatedAt = now
	task.UpdatedAt = now
	t.store.tasks[task.ID] = task
	return task, nil
}

func (t *memTx) UpdateTask(_ context.Context, task store.Task) (store.Task, error) {
	current, ok := t.store.tasks[task.ID]
	if !ok || current.OwnerID != task.OwnerID {
		return store.Task{}, store.ErrNotFound
	}
	task.CreatedAt = current.CreatedAt
	task.UpdatedAt = t.store.tick()
	t.store.tasks[task.ID] = task
	return task, nil
}

func (t *memTx) SetTaskStatus(_ context.Context, ownerID, taskID int64, status string) (store.Task, error) {
	if t.store.failStatusOnID != 0 && taskID == t.store.failStatusOnID {
		return store.Task{}, errStatusFailed
	}
	task, ok := t.store.tasks[taskID]
	if !ok || task.OwnerID != ownerID {
		return store.Task{}, store.ErrNotFound
	}
	task.Status = status
	task.UpdatedAt = t.store.tick()
	t.store.tasks[taskID] = task
	return task, nil
}

func (t *memTx) DeleteTask(_ context.Context, ownerID, taskID int64) error {
	task, ok := t.store.tasks[taskID]
	if !ok || task.OwnerID != ownerID {
		return store.ErrNotFound
	}
	queue := []int64{taskID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		delete(t.store.tasks, id)
		for childID, child := range t.store.tasks {
			if child.ParentID != nil && *child.ParentID == id {
				queue = append(queue, childID)
			}
		}
	}
	return nil
}

func sortByCreated(tasks []store.Task, ascending bool) {
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if ascending {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if ascending {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
}

func containsFold(value, query string) bool {
	return strings.Contains(strings.ToLower(value), strings.ToLower(query))
}
