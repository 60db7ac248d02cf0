package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const taskColumns = `id, user_id, parent_id, title, description, notes, status, priority, category, tags,
	due_date, completed_date, estimated_hours, actual_hours, created_at, updated_at`

type pgTaskTx struct {
	tx *sql.Tx
}

func (t *pgTaskTx) LockOwner(ctx context.Context, ownerID int64) error {
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, ownerID); err != nil {
		return fmt.Errorf("lock owner: %w", err)
	}
	return nil
}

func (t *pgTaskTx) GetTask(ctx context.Context, ownerID, taskID int64) (Task, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND user_id = $2`, taskID, ownerID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (t *pgTaskTx) GetTasks(ctx context.Context, ownerID int64, taskIDs []int64) ([]Task, error) {
	if len(taskIDs) == 0 {
		return []Task{}, nil
	}
	return t.queryTasks(ctx, "get tasks", `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE user_id = $1 AND id = ANY($2)
		ORDER BY id ASC
	`, ownerID, taskIDs)
}

func (t *pgTaskTx) ListChildren(ctx context.Context, ownerID int64, parentIDs []int64) ([]Task, error) {
	if len(parentIDs) == 0 {
		return []Task{}, nil
	}
	return t.queryTasks(ctx, "list children", `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE user_id = $1 AND parent_id = ANY($2)
		ORDER BY created_at ASC, id ASC
	`, ownerID, parentIDs)
}

func (t *pgTaskTx) ListTasks(ctx context.Context, ownerID int64, filter TaskFilter) ([]Task, error) {
	where := []string{"user_id = $1"}
	args := []any{ownerID}
	argN := 2

	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argN))
		args = append(args, filter.Status)
		argN++
	}
	if filter.Query != "" {
		where = append(where, fmt.Sprintf(`title ILIKE $%d ESCAPE '\'`, argN))
		args = append(args, likePattern(filter.Query))
		argN++
	}
	if filter.RootsOnly {
		where = append(where, "parent_id IS NULL")
	}

	order := "DESC"
	if filter.Ascending {
		order = "ASC"
	}
	query := fmt.Sprintf(`
		SELECT %s
		FROM tasks
		WHERE %s
		ORDER BY created_at %s, id %s
		LIMIT $%d OFFSET $%d
	`, taskColumns, strings.Join(where, " AND "), order, order, argN, argN+1)
	args = append(args, filter.Limit, filter.Offset)

	return t.queryTasks(ctx, "list tasks", query, args...)
}

func (t *pgTaskTx) InsertTask(ctx context.Context, task Task) (Task, error) {
	tags, err := encodeTags(task.Tags)
	if err != nil {
		return Task{}, err
	}
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO tasks (user_id, parent_id, title, description, notes, status, priority, category, tags,
			due_date, completed_date, estimated_hours, actual_hours)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12, $13)
		RETURNING `+taskColumns,
		task.OwnerID, task.ParentID, task.Title, task.Description, task.Notes, task.Status, task.Priority,
		task.Category, tags, task.DueDate, task.CompletedDate, task.EstimatedHours, task.ActualHours,
	)
	inserted, err := scanTask(row)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return inserted, nil
}

func (t *pgTaskTx) UpdateTask(ctx context.Context, task Task) (Task, error) {
	tags, err := encodeTags(task.Tags)
	if err != nil {
		return Task{}, err
	}
	row := t.tx.QueryRowContext(ctx, `
		UPDATE tasks
		SET parent_id = $3, title = $4, description = $5, notes = $6, status = $7, priority = $8,
			category = $9, tags = $10::jsonb, due_date = $11, completed_date = $12,
			estimated_hours = $13, actual_hours = $14, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING `+taskColumns,
		task.ID, task.OwnerID, task.ParentID, task.Title, task.Description, task.Notes, task.Status,
		task.Priority, task.Category, tags, task.DueDate, task.CompletedDate, task.EstimatedHours,
		task.ActualHours,
	)
	updated, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	return updated, nil
}

func (t *pgTaskTx) SetTaskStatus(ctx context.Context, ownerID, taskID int64, status string) (Task, error) {
	row := t.tx.QueryRowContext(ctx, `
		UPDATE tasks
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING `+taskColumns,
		taskID, ownerID, status,
	)
	updated, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("set task status: %w", err)
	}
	return updated, nil
}

func (t *pgTaskTx) DeleteTask(ctx context.Context, ownerID, taskID int64) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1 AND user_id = $2`, taskID, ownerID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTaskTx) queryTasks(ctx context.Context, action, query string, args ...any) ([]Task, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		item, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func scanTask(row rowScanner) (Task, error) {
	var (
		task Task
		tags []byte
	)
	err := row.Scan(
		&task.ID,
		&task.OwnerID,
		&task.ParentID,
		&task.Title,
		&task.Description,
		&task.Notes,
		&task.Status,
		&task.Priority,
		&task.Category,
		&tags,
		&task.DueDate,
		&task.CompletedDate,
		&task.EstimatedHours,
		&task.ActualHours,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return Task{}, err
	}
	task.Tags, err = decodeTags(tags)
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(encoded), nil
}

func decodeTags(raw []byte) ([]string, error) {
	tags := []string{}
	if len(raw) == 0 {
		return tags, nil
	}
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}
