package tasktree

import (
	"context"
	"errors"
	"fmt"

	"taskaza/api/internal/store"
)

// Store opens one transaction per operation. It commits when fn returns
// nil and rolls back otherwise.
type Store interface {
	InTx(ctx context.Context, fn func(store.TaskTx) error) error
}

type Manager struct {
	store Store
}

func NewManager(s Store) *Manager {
	return &Manager{store: s}
}

// Create inserts one task. Nested subtasks on the input are ignored; use
// CreateWithSubtree for those.
func (m *Manager) Create(ctx context.Context, ownerID int64, in Input) (Flat, error) {
	if err := in.validate(""); err != nil {
		return Flat{}, err
	}

	var created store.Task
	err := m.store.InTx(ctx, func(tx store.TaskTx) error {
		var err error
		created, err = insertOne(ctx, tx, ownerID, in, "parent_id")
		return err
	})
	if err != nil {
		return Flat{}, err
	}
	return flatView(created), nil
}

// CreateWithSubtree validates the whole nested payload, then inserts it
// breadth-first in one transaction. Nothing is written if any node fails.
func (m *Manager) CreateWithSubtree(ctx context.Context, ownerID int64, root Input) (Flat, error) {
	nodes, err := flattenSubtree(root)
	if err != nil {
		return Flat{}, err
	}

	var created store.Task
	err = m.store.InTx(ctx, func(tx store.TaskTx) error {
		if root.ParentID != nil {
			if err := tx.LockOwner(ctx, ownerID); err != nil {
				return err
			}
			if err := requireParent(ctx, tx, ownerID, "parent_id", *root.ParentID); err != nil {
				return err
			}
		}

		ids := make([]int64, len(nodes))
		for i, node := range nodes {
			parentID := root.ParentID
			if node.parentIndex >= 0 {
				id := ids[node.parentIndex]
				parentID = &id
			}
			inserted, err := tx.InsertTask(ctx, node.input.toTask(ownerID, parentID))
			if err != nil {
				return err
			}
			ids[i] = inserted.ID
			if i == 0 {
				created = inserted
			}
		}
		return nil
	})
	if err != nil {
		return Flat{}, err
	}
	return flatView(created), nil
}

// CreateBulk inserts every input in one transaction and returns them in
// input order.
func (m *Manager) CreateBulk(ctx context.Context, ownerID int64, inputs []Input) ([]Flat, error) {
	if err := validateBulkCreate(inputs); err != nil {
		return nil, err
	}

	var created []store.Task
	err := m.store.InTx(ctx, func(tx store.TaskTx) error {
		var err error
		created, err = insertAll(ctx, tx, ownerID, inputs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return flatViews(created), nil
}

// Get returns the task as a Flat record, or as a fully materialized *Tree
// when includeTree is set.
func (m *Manager) Get(ctx context.Context, ownerID, taskID int64, includeTree bool) (View, error) {
	var view View
	err := m.store.InTx(ctx, func(tx store.TaskTx) error {
		task, err := tx.GetTask(ctx, ownerID, taskID)
		if err != nil {
			return notFound(err)
		}
		if !includeTree {
			view = flatView(task)
			return nil
		}
		nodes, err := Materialize(ctx, tx, ownerID, []store.Task{task})
		if err != nil {
			return err
		}
		view = treeView(nodes[0])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// List returns one page of the owner's tasks. An empty page is not an error.
func (m *Manager) List(ctx context.Context, ownerID int64, opts ListOptions) ([]View, error) {
	filter, err := opts.filter()
	if err != nil {
		return nil, err
	}

	views := make([]View, 0)
	err = m.store.InTx(ctx, func(tx store.TaskTx) error {
		tasks, err := tx.ListTasks(ctx, ownerID, filter)
		if err != nil {
			return err
		}
		if !opts.IncludeTree {
			for _, task := range tasks {
				views = append(views, flatView(task))
			}
			return nil
		}
		nodes, err := Materialize(ctx, tx, ownerID, tasks)
		if err != nil {
			return err
		}
		for _, node := range nodes {
			views = append(views, treeView(node))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// Update applies the keys present in the patch. A parent change runs the
// cycle guard under the owner lock before anything is written.
func (m *Manager) Update(ctx context.Context, ownerID, taskID int64, patch Patch) (Flat, error) {
	if err := patch.validate(); err != nil {
		return Flat{}, err
	}

	var updated store.Task
	err := m.store.InTx(ctx, func(tx store.TaskTx) error {
		if patch.ParentSet {
			if err := tx.LockOwner(ctx, ownerID); err != nil {
				return err
			}
		}
		task, err := tx.GetTask(ctx, ownerID, taskID)
		if err != nil {
			return notFound(err)
		}
		if patch.ParentSet {
			if err := checkReparent(ctx, tx, ownerID, taskID, patch.ParentID); err != nil {
				return err
			}
		}
		patch.apply(&task)
		updated, err = tx.UpdateTask(ctx, task)
		return notFound(err)
	})
	if err != nil {
		return Flat{}, err
	}
	return flatView(updated), nil
}

// UpdateStatus changes only the status of one task.
func (m *Manager) UpdateStatus(ctx context.Context, ownerID, taskID int64, status string) (Flat, error) {
	if err := validateEnum("status", status, allowedStatuses); err != nil {
		return Flat{}, err
	}

	var updated store.Task
	err := m.store.InTx(ctx, func(tx store.TaskTx) error {
		var err error
		updated, err = tx.SetTaskStatus(ctx, ownerID, taskID, status)
		return notFound(err)
	})
	if err != nil {
		return Flat{}, err
	}
	return flatView(updated), nil
}

// UpdateStatusBulk applies every change in one transaction. Ids the owner
// cannot see are skipped; the result holds exactly the tasks that changed.
func (m *Manager) UpdateStatusBulk(ctx context.Context, ownerID int64, changes []StatusChange) ([]Flat, error) {
	order, desired, err := statusPlan(changes)
	if err != nil {
		return nil, err
	}

	var updated []store.Task
	err = m.store.InTx(ctx, func(tx store.TaskTx) error {
		var err error
		updated, err = applyStatuses(ctx, tx, ownerID, order, desired)
		return err
	})
	if err != nil {
		return nil, err
	}
	return flatViews(updated), nil
}

// Delete removes the task and, through the parent foreign key, its whole
// subtree.
func (m *Manager) Delete(ctx context.Context, ownerID, taskID int64) error {
	return m.store.InTx(ctx, func(tx store.TaskTx) error {
		if err := tx.LockOwner(ctx, ownerID); err != nil {
			return err
		}
		return notFound(tx.DeleteTask(ctx, ownerID, taskID))
	})
}

// Bulk runs the create and status halves of a batch in a single
// transaction, so either both land or neither does.
func (m *Manager) Bulk(ctx context.Context, ownerID int64, req BulkRequest) (BulkResult, error) {
	if err := validateBulkCreate(req.Create); err != nil {
		return BulkResult{}, err
	}
	order, desired, err := statusPlan(req.UpdateStatus)
	if err != nil {
		return BulkResult{}, err
	}

	var created, updated []store.Task
	err = m.store.InTx(ctx, func(tx store.TaskTx) error {
		var err error
		if created, err = insertAll(ctx, tx, ownerID, req.Create); err != nil {
			return err
		}
		updated, err = applyStatuses(ctx, tx, ownerID, order, desired)
		return err
	})
	if err != nil {
		return BulkResult{}, err
	}
	return BulkResult{Created: flatViews(created), Updated: flatViews(updated)}, nil
}

func validateBulkCreate(inputs []Input) error {
	for i, in := range inputs {
		prefix := fmt.Sprintf("create[%d].", i)
		if len(in.Subtasks) > 0 {
			return invalid(prefix+"subtasks", "bulk create does not accept nested subtasks")
		}
		if err := in.validate(prefix); err != nil {
			return err
		}
	}
	return nil
}

// insertOne holds the owner lock across the parent check and the insert so
// a concurrent delete cannot remove the parent in between.
func insertOne(ctx context.Context, tx store.TaskTx, ownerID int64, in Input, parentField string) (store.Task, error) {
	if in.ParentID != nil {
		if err := tx.LockOwner(ctx, ownerID); err != nil {
			return store.Task{}, err
		}
		if err := requireParent(ctx, tx, ownerID, parentField, *in.ParentID); err != nil {
			return store.Task{}, err
		}
	}
	return tx.InsertTask(ctx, in.toTask(ownerID, in.ParentID))
}

func insertAll(ctx context.Context, tx store.TaskTx, ownerID int64, inputs []Input) ([]store.Task, error) {
	created := make([]store.Task, 0, len(inputs))
	for i, in := range inputs {
		task, err := insertOne(ctx, tx, ownerID, in, fmt.Sprintf("create[%d].parent_id", i))
		if err != nil {
			return nil, err
		}
		created = append(created, task)
	}
	return created, nil
}

func applyStatuses(ctx context.Context, tx store.TaskTx, ownerID int64, order []int64, desired map[int64]string) ([]store.Task, error) {
	if len(order) == 0 {
		return []store.Task{}, nil
	}
	owned, err := tx.GetTasks(ctx, ownerID, order)
	if err != nil {
		return nil, err
	}
	visible := make(map[int64]struct{}, len(owned))
	for _, task := range owned {
		visible[task.ID] = struct{}{}
	}

	updated := make([]store.Task, 0, len(owned))
	for _, id := range order {
		if _, ok := visible[id]; !ok {
			continue
		}
		task, err := tx.SetTaskStatus(ctx, ownerID, id, desired[id])
		if err != nil {
			return nil, err
		}
		updated = append(updated, task)
	}
	return updated, nil
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
