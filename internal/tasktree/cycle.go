package tasktree

import (
	"context"
	"errors"

	"taskaza/api/internal/store"
)

const (
	msgSelfParent    = "a task cannot be its own parent"
	msgParentMissing = "parent not found or not owned by the user"
	msgParentCycle   = "cannot set a descendant as the parent (cycle)"
)

// requireParent checks that parentID names a task the owner can see.
func requireParent(ctx context.Context, tx store.TaskTx, ownerID int64, field string, parentID int64) error {
	if _, err := tx.GetTask(ctx, ownerID, parentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return invalid(field, msgParentMissing)
		}
		return err
	}
	return nil
}

// checkReparent validates moving taskID under newParentID (nil re-roots).
// The caller must hold the owner lock so the walk and the write see the
// same tree.
func checkReparent(ctx context.Context, tx store.TaskTx, ownerID, taskID int64, newParentID *int64) error {
	if newParentID == nil {
		return nil
	}
	if *newParentID == taskID {
		return invalid("parent_id", msgSelfParent)
	}
	if err := requireParent(ctx, tx, ownerID, "parent_id", *newParentID); err != nil {
		return err
	}

	// The move closes a loop exactly when the new parent already sits
	// somewhere below the task.
	seen := map[int64]struct{}{taskID: {}}
	frontier := []int64{taskID}
	for len(frontier) > 0 {
		children, err := tx.ListChildren(ctx, ownerID, frontier)
		if err != nil {
			return err
		}
		next := make([]int64, 0, len(children))
		for _, child := range children {
			if child.ID == *newParentID {
				return invalid("parent_id", msgParentCycle)
			}
			if _, ok := seen[child.ID]; ok {
				continue
			}
			seen[child.ID] = struct{}{}
			next = append(next, child.ID)
		}
		frontier = next
	}
	return nil
}
