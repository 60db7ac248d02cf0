package tasktree

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"taskaza/api/internal/store"
)

func seedTask(t *testing.T, s *memStore, ownerID int64, parentID *int64, title, status string) store.Task {
	t.Helper()
	task, err := (&memTx{store: s}).InsertTask(context.Background(), store.Task{
		OwnerID:  ownerID,
		ParentID: parentID,
		Title:    title,
		Status:   status,
		Priority: DefaultPriority,
		Category: DefaultCategory,
		Tags:     []string{},
	})
	if err != nil {
		t.Fatalf("seed %q: %v", title, err)
	}
	return task
}

func TestMaterializeLoadsEveryLevelWithOneCallPerLevel(t *testing.T) {
	s := newMemStore()
	root := seedTask(t, s, 1, nil, "root", StatusTodo)
	a := seedTask(t, s, 1, &root.ID, "a", StatusTodo)
	b := seedTask(t, s, 1, &root.ID, "b", StatusTodo)
	a1 := seedTask(t, s, 1, &a.ID, "a1", StatusTodo)
	seedTask(t, s, 1, &b.ID, "b1", StatusTodo)
	a1x := seedTask(t, s, 1, &a1.ID, "a1x", StatusTodo)
	seedTask(t, s, 1, &a1x.ID, "a1x-leaf", StatusCompleted)

	nodes, err := Materialize(context.Background(), &memTx{store: s}, 1, []store.Task{root})
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("Materialize() returned %d roots, want 1", len(nodes))
	}
	if got := countNodes(nodes[0]); got != 7 {
		t.Fatalf("node count = %d, want 7", got)
	}
	// five levels below and including the root
	if s.listChildrenCalls != 5 {
		t.Fatalf("ListChildren calls = %d, want 5", s.listChildrenCalls)
	}

	leaf := nodes[0].Subtasks[0].Subtasks[0].Subtasks[0].Subtasks[0]
	if leaf.Task.Title != "a1x-leaf" {
		t.Fatalf("deepest node = %q, want a1x-leaf", leaf.Task.Title)
	}
	if leaf.Subtasks == nil || len(leaf.Subtasks) != 0 {
		t.Fatalf("leaf subtasks = %#v, want empty non-nil slice", leaf.Subtasks)
	}
}

func TestMaterializeSharesListedDescendants(t *testing.T) {
	s := newMemStore()
	root := seedTask(t, s, 1, nil, "root", StatusTodo)
	child := seedTask(t, s, 1, &root.ID, "child", StatusTodo)
	seedTask(t, s, 1, &child.ID, "grandchild", StatusTodo)

	nodes, err := Materialize(context.Background(), &memTx{store: s}, 1, []store.Task{root, child})
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("Materialize() returned %d roots, want 2", len(nodes))
	}
	if got := countNodes(nodes[0]); got != 3 {
		t.Fatalf("root node count = %d, want 3", got)
	}
	if got := countNodes(nodes[1]); got != 2 {
		t.Fatalf("child node count = %d, want 2", got)
	}
	if nodes[0].Subtasks[0] != nodes[1] {
		t.Fatal("listed child should be the same node attached under its parent")
	}
}

func TestMaterializeWithoutRootsDoesNotTouchStorage(t *testing.T) {
	s := newMemStore()
	nodes, err := Materialize(context.Background(), &memTx{store: s}, 1, nil)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if len(nodes) != 0 || s.listChildrenCalls != 0 {
		t.Fatalf("nodes=%d calls=%d, want 0/0", len(nodes), s.listChildrenCalls)
	}
}

func TestNodeProgress(t *testing.T) {
	leaf := func(status string) *Node {
		return &Node{Task: store.Task{Status: status}, Subtasks: []*Node{}}
	}
	cases := []struct {
		name string
		node *Node
		want float64
	}{
		{name: "leaf todo", node: leaf(StatusTodo), want: 0},
		{name: "leaf completed", node: leaf(StatusCompleted), want: 1},
		{name: "leaf cancelled", node: leaf(StatusCancelled), want: 0},
		{
			name: "one of three",
			node: &Node{Task: store.Task{Status: StatusCompleted}, Subtasks: []*Node{
				leaf(StatusCompleted), leaf(StatusTodo), leaf(StatusInProgress),
			}},
			want: 0.3333,
		},
		{
			name: "two of three",
			node: &Node{Task: store.Task{Status: StatusTodo}, Subtasks: []*Node{
				leaf(StatusCompleted), leaf(StatusCompleted), leaf(StatusTodo),
			}},
			want: 0.6667,
		},
		{
			name: "direct children only",
			node: &Node{Task: store.Task{Status: StatusTodo}, Subtasks: []*Node{
				{Task: store.Task{Status: StatusTodo}, Subtasks: []*Node{leaf(StatusCompleted)}},
				leaf(StatusCompleted),
			}},
			want: 0.5,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.node.Progress(); got != tc.want {
				t.Fatalf("Progress() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTreeViewSerializesLeavesWithEmptySubtasks(t *testing.T) {
	s := newMemStore()
	root := seedTask(t, s, 1, nil, "root", StatusTodo)
	seedTask(t, s, 1, &root.ID, "leaf", StatusCompleted)

	nodes, err := Materialize(context.Background(), &memTx{store: s}, 1, []store.Task{root})
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	raw, err := json.Marshal(treeView(nodes[0]))
	if err != nil {
		t.Fatalf("marshal tree: %v", err)
	}

	var decoded struct {
		Progress float64 `json:"progress"`
		Subtasks []struct {
			Title    string            `json:"title"`
			Subtasks []json.RawMessage `json:"subtasks"`
		} `json:"subtasks"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal tree: %v", err)
	}
	if decoded.Progress != 1 {
		t.Fatalf("root progress = %v, want 1", decoded.Progress)
	}
	if len(decoded.Subtasks) != 1 || decoded.Subtasks[0].Title != "leaf" {
		t.Fatalf("unexpected subtasks: %s", raw)
	}
	if !strings.Contains(string(raw), `"subtasks":[]`) {
		t.Fatalf("leaf should serialize an empty subtasks list: %s", raw)
	}
}

func countNodes(root *Node) int {
	total := 0
	queue := []*Node{root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		total++
		queue = append(queue, node.Subtasks...)
	}
	return total
}
