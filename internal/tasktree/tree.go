package tasktree

import (
	"context"
	"math"

	"taskaza/api/internal/store"
)

// Node is a task with its direct children attached. Subtasks is never nil
// once the node came out of Materialize.
type Node struct {
	Task     store.Task
	Subtasks []*Node
}

// Materialize attaches the complete descendant subtree to every root. The
// walk is breadth-first over an arena keyed by task id: each round fetches
// the children of the whole frontier with a single ListChildren call, so
// the storage cost is one call per level and never more than one per node.
func Materialize(ctx context.Context, tx store.TaskTx, ownerID int64, roots []store.Task) ([]*Node, error) {
	arena := make(map[int64]*Node, len(roots))
	out := make([]*Node, 0, len(roots))
	frontier := make([]int64, 0, len(roots))

	for _, root := range roots {
		if node, ok := arena[root.ID]; ok {
			out = append(out, node)
			continue
		}
		node := &Node{Task: root, Subtasks: []*Node{}}
		arena[root.ID] = node
		out = append(out, node)
		frontier = append(frontier, root.ID)
	}

	for len(frontier) > 0 {
		children, err := tx.ListChildren(ctx, ownerID, frontier)
		if err != nil {
			return nil, err
		}

		next := make([]int64, 0, len(children))
		for _, child := range children {
			if child.ParentID == nil {
				continue
			}
			parent, ok := arena[*child.ParentID]
			if !ok {
				continue
			}
			// A listed page can hold both a task and its parent; the node
			// is shared and its own subtree is already being loaded.
			if node, ok := arena[child.ID]; ok {
				parent.Subtasks = append(parent.Subtasks, node)
				continue
			}
			node := &Node{Task: child, Subtasks: []*Node{}}
			arena[child.ID] = node
			parent.Subtasks = append(parent.Subtasks, node)
			next = append(next, child.ID)
		}
		frontier = next
	}

	return out, nil
}

// Progress is the completed share of the direct children, rounded to four
// decimals. A leaf counts as done only when its own status is completed.
func (n *Node) Progress() float64 {
	if len(n.Subtasks) == 0 {
		return ownProgress(n.Task.Status)
	}
	done := 0
	for _, child := range n.Subtasks {
		if child.Task.Status == StatusCompleted {
			done++
		}
	}
	return roundProgress(float64(done) / float64(len(n.Subtasks)))
}

func ownProgress(status string) float64 {
	if status == StatusCompleted {
		return 1
	}
	return 0
}

func roundProgress(value float64) float64 {
	return math.Round(value*10000) / 10000
}
