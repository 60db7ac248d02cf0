package store

import "context"

// TaskTx is the set of task operations available inside one storage
// transaction. Every method is scoped to ownerID; rows owned by anyone else
// behave as if they did not exist.
type TaskTx interface {
	// LockOwner serializes tree-shape changes of one owner until the
	// transaction ends.
	LockOwner(ctx context.Context, ownerID int64) error
	GetTask(ctx context.Context, ownerID, taskID int64) (Task, error)
	GetTasks(ctx context.Context, ownerID int64, taskIDs []int64) ([]Task, error)
	ListChildren(ctx context.Context, ownerID int64, parentIDs []int64) ([]Task, error)
	ListTasks(ctx context.Context, ownerID int64, filter TaskFilter) ([]Task, error)
	InsertTask(ctx context.Context, task Task) (Task, error)
	UpdateTask(ctx context.Context, task Task) (Task, error)
	SetTaskStatus(ctx context.Context, ownerID, taskID int64, status string) (Task, error)
	DeleteTask(ctx context.Context, ownerID, taskID int64) error
}

// likePattern turns free text into a LIKE pattern matching it as a literal
// substring. Backslash is the escape character.
func likePattern(query string) string {
	escaped := make([]rune, 0, len(query)+2)
	escaped = append(escaped, '%')
	for _, r := range query {
		switch r {
		case '\\', '%', '_':
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, r)
	}
	escaped = append(escaped, '%')
	return string(escaped)
}
