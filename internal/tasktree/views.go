package tasktree

import (
	"time"

	"taskaza/api/internal/store"
)

// View is what reads hand back: a Flat record or a *Tree.
type View interface {
	TaskID() int64
}

// Flat is the childless shape used by every write response and by flat
// reads. It has no subtasks field at all, so serializing it can never
// reach into the tree.
type Flat struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	ParentID       *int64     `json:"parent_id"`
	Title          string     `json:"title"`
	Description    *string    `json:"description"`
	Notes          *string    `json:"notes"`
	Status         string     `json:"status"`
	Priority       string     `json:"priority"`
	Category       string     `json:"category"`
	Tags           []string   `json:"tags"`
	DueDate        *time.Time `json:"due_date"`
	CompletedDate  *time.Time `json:"completed_date"`
	EstimatedHours *float64   `json:"estimated_hours"`
	ActualHours    *float64   `json:"actual_hours"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Progress       float64    `json:"progress"`
}

func (f Flat) TaskID() int64 { return f.ID }

// Tree is a fully hydrated record: Subtasks is populated down to the
// leaves, where it is an empty list.
type Tree struct {
	Flat
	Subtasks []*Tree `json:"subtasks"`
}

func (t *Tree) TaskID() int64 { return t.ID }

func flatView(task store.Task) Flat {
	tags := task.Tags
	if tags == nil {
		tags = []string{}
	}
	return Flat{
		ID:             task.ID,
		UserID:         task.OwnerID,
		ParentID:       task.ParentID,
		Title:          task.Title,
		Description:    task.Description,
		Notes:          task.Notes,
		Status:         task.Status,
		Priority:       task.Priority,
		Category:       task.Category,
		Tags:           tags,
		DueDate:        task.DueDate,
		CompletedDate:  task.CompletedDate,
		EstimatedHours: task.EstimatedHours,
		ActualHours:    task.ActualHours,
		CreatedAt:      task.CreatedAt,
		UpdatedAt:      task.UpdatedAt,
		Progress:       ownProgress(task.Status),
	}
}

func flatViews(tasks []store.Task) []Flat {
	out := make([]Flat, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, flatView(task))
	}
	return out
}

// treeView converts a materialized node without recursion.
func treeView(root *Node) *Tree {
	type pair struct {
		node *Node
		view *Tree
	}
	top := newTree(root)
	queue := []pair{{node: root, view: top}}
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		for _, child := range item.node.Subtasks {
			view := newTree(child)
			item.view.Subtasks = append(item.view.Subtasks, view)
			queue = append(queue, pair{node: child, view: view})
		}
	}
	return top
}

func newTree(node *Node) *Tree {
	flat := flatView(node.Task)
	flat.Progress = node.Progress()
	return &Tree{Flat: flat, Subtasks: make([]*Tree, 0, len(node.Subtasks))}
}
