package tasktree

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"taskaza/api/internal/store"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Timestamp accepts RFC 3339 values as well as bare dates ("2025-12-25"),
// which are read as midnight UTC.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.New("timestamp must be a string")
	}
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", raw)
}

func (t *Timestamp) ptr() *time.Time {
	if t == nil {
		return nil
	}
	value := t.Time
	return &value
}

// Input is one task to create. Subtasks nest to any depth and are only
// honoured by CreateWithSubtree.
type Input struct {
	Title          string     `json:"title"`
	Description    *string    `json:"description,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	Status         string     `json:"status,omitempty"`
	Priority       string     `json:"priority,omitempty"`
	Category       string     `json:"category,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	DueDate        *Timestamp `json:"due_date,omitempty"`
	CompletedDate  *Timestamp `json:"completed_date,omitempty"`
	EstimatedHours *float64   `json:"estimated_hours,omitempty"`
	ActualHours    *float64   `json:"actual_hours,omitempty"`
	ParentID       *int64     `json:"parent_id,omitempty"`
	Subtasks       []Input    `json:"subtasks,omitempty"`
}

func (in Input) validate(prefix string) error {
	if err := validateTitle(prefix+"title", in.Title); err != nil {
		return err
	}
	if in.Status != "" {
		if err := validateEnum(prefix+"status", in.Status, allowedStatuses); err != nil {
			return err
		}
	}
	if in.Priority != "" {
		if err := validateEnum(prefix+"priority", in.Priority, allowedPriorities); err != nil {
			return err
		}
	}
	if in.Category != "" {
		if err := validateEnum(prefix+"category", in.Category, allowedCategories); err != nil {
			return err
		}
	}
	if err := validateHours(prefix+"estimated_hours", in.EstimatedHours); err != nil {
		return err
	}
	return validateHours(prefix+"actual_hours", in.ActualHours)
}

func (in Input) toTask(ownerID int64, parentID *int64) store.Task {
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	return store.Task{
		OwnerID:        ownerID,
		ParentID:       parentID,
		Title:          strings.TrimSpace(in.Title),
		Description:    in.Description,
		Notes:          in.Notes,
		Status:         firstNonBlank(in.Status, DefaultStatus),
		Priority:       firstNonBlank(in.Priority, DefaultPriority),
		Category:       firstNonBlank(in.Category, DefaultCategory),
		Tags:           tags,
		DueDate:        in.DueDate.ptr(),
		CompletedDate:  in.CompletedDate.ptr(),
		EstimatedHours: in.EstimatedHours,
		ActualHours:    in.ActualHours,
	}
}

type pendingNode struct {
	input       Input
	parentIndex int
}

// flattenSubtree validates a nested payload and lays it out breadth-first.
// Every node's parentIndex points at an earlier entry, so inserting in
// slice order always has the parent id available.
func flattenSubtree(root Input) ([]pendingNode, error) {
	type queued struct {
		pendingNode
		prefix string
	}
	queue := []queued{{pendingNode: pendingNode{input: root, parentIndex: -1}}}
	nodes := make([]pendingNode, 0, 1+len(root.Subtasks))

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if err := item.input.validate(item.prefix); err != nil {
			return nil, err
		}
		if item.parentIndex >= 0 && item.input.ParentID != nil {
			return nil, invalid(item.prefix+"parent_id", "nested subtasks take their parent from the enclosing task")
		}

		index := len(nodes)
		nodes = append(nodes, item.pendingNode)
		for i, child := range item.input.Subtasks {
			queue = append(queue, queued{
				pendingNode: pendingNode{input: child, parentIndex: index},
				prefix:      fmt.Sprintf("%ssubtasks[%d].", item.prefix, i),
			})
		}
	}
	return nodes, nil
}

// Patch is a partial update. Only keys present in the request apply; a JSON
// null for an ordinary field is ignored. parent_id is the exception: when
// present, null moves the task to the root level.
type Patch struct {
	Title          *string    `json:"title"`
	Description    *string    `json:"description"`
	Notes          *string    `json:"notes"`
	Status         *string    `json:"status"`
	Priority       *string    `json:"priority"`
	Category       *string    `json:"category"`
	Tags           []string   `json:"tags"`
	DueDate        *Timestamp `json:"due_date"`
	CompletedDate  *Timestamp `json:"completed_date"`
	EstimatedHours *float64   `json:"estimated_hours"`
	ActualHours    *float64   `json:"actual_hours"`
	ParentID       *int64     `json:"parent_id"`
	// ParentSet records that parent_id was sent, including as null.
	ParentSet bool `json:"-"`
}

func (p *Patch) UnmarshalJSON(data []byte) error {
	type patchFields Patch
	var fields patchFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*p = Patch(fields)
	_, p.ParentSet = keys["parent_id"]
	return nil
}

// MoveTo returns a patch that only re-parents; nil re-roots the task.
func MoveTo(parentID *int64) Patch {
	return Patch{ParentID: parentID, ParentSet: true}
}

func (p Patch) validate() error {
	if p.Title != nil {
		if err := validateTitle("title", *p.Title); err != nil {
			return err
		}
	}
	if p.Status != nil {
		if err := validateEnum("status", *p.Status, allowedStatuses); err != nil {
			return err
		}
	}
	if p.Priority != nil {
		if err := validateEnum("priority", *p.Priority, allowedPriorities); err != nil {
			return err
		}
	}
	if p.Category != nil {
		if err := validateEnum("category", *p.Category, allowedCategories); err != nil {
			return err
		}
	}
	if err := validateHours("estimated_hours", p.EstimatedHours); err != nil {
		return err
	}
	return validateHours("actual_hours", p.ActualHours)
}

func (p Patch) apply(task *store.Task) {
	if p.Title != nil {
		task.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		task.Description = p.Description
	}
	if p.Notes != nil {
		task.Notes = p.Notes
	}
	if p.Status != nil {
		task.Status = *p.Status
	}
	if p.Priority != nil {
		task.Priority = *p.Priority
	}
	if p.Category != nil {
		task.Category = *p.Category
	}
	if p.Tags != nil {
		task.Tags = p.Tags
	}
	if p.DueDate != nil {
		task.DueDate = p.DueDate.ptr()
	}
	if p.CompletedDate != nil {
		task.CompletedDate = p.CompletedDate.ptr()
	}
	if p.EstimatedHours != nil {
		task.EstimatedHours = p.EstimatedHours
	}
	if p.ActualHours != nil {
		task.ActualHours = p.ActualHours
	}
	if p.ParentSet {
		task.ParentID = p.ParentID
	}
}

type StatusChange struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

type BulkRequest struct {
	Create       []Input        `json:"create"`
	UpdateStatus []StatusChange `json:"update_status"`
}

type BulkResult struct {
	Created []Flat `json:"created"`
	Updated []Flat `json:"updated"`
}

// ListOptions selects one page of an owner's tasks.
type ListOptions struct {
	Status      string
	Query       string
	Page        int
	Limit       int
	Sort        string
	IncludeTree bool
	RootsOnly   bool
}

func (o ListOptions) filter() (store.TaskFilter, error) {
	status := strings.TrimSpace(o.Status)
	if status != "" {
		if err := validateEnum("status", status, allowedStatuses); err != nil {
			return store.TaskFilter{}, err
		}
	}

	page := o.Page
	if page == 0 {
		page = 1
	}
	if page < 1 {
		return store.TaskFilter{}, invalid("page", "must be at least 1")
	}

	limit := o.Limit
	if limit == 0 {
		limit = DefaultPageSize
	}
	if limit < 1 || limit > MaxPageSize {
		return store.TaskFilter{}, invalid("limit", fmt.Sprintf("must be between 1 and %d", MaxPageSize))
	}

	if page-1 > math.MaxInt/limit {
		// the offset would overflow
		return store.TaskFilter{}, invalid("page", "is too large")
	}

	ascending := false
	switch strings.ToLower(strings.TrimSpace(o.Sort)) {
	case "", "desc":
	case "asc":
		ascending = true
	default:
		return store.TaskFilter{}, invalid("sort", "must be 'asc' or 'desc'")
	}

	return store.TaskFilter{
		Status:    status,
		Query:     strings.TrimSpace(o.Query),
		RootsOnly: o.RootsOnly,
		Ascending: ascending,
		Offset:    (page - 1) * limit,
		Limit:     limit,
	}, nil
}

// statusPlan collapses a status batch: the last status for an id wins and
// ids keep the order they were first seen in.
func statusPlan(changes []StatusChange) ([]int64, map[int64]string, error) {
	order := make([]int64, 0, len(changes))
	desired := make(map[int64]string, len(changes))
	for i, change := range changes {
		if err := validateEnum(fmt.Sprintf("update_status[%d].status", i), change.Status, allowedStatuses); err != nil {
			return nil, nil, err
		}
		if _, seen := desired[change.ID]; !seen {
			order = append(order, change.ID)
		}
		desired[change.ID] = change.Status
	}
	return order, desired, nil
}
