package app

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"taskaza/api/internal/tasktree"
)

func (s *HTTPServer) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	createSubtree, err := queryBool(r.URL.Query(), "create_subtree", true)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var input tasktree.Input
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	var created tasktree.Flat
	if createSubtree && len(input.Subtasks) > 0 {
		created, err = s.service.tasks.CreateWithSubtree(r.Context(), session.UserID, input)
	} else {
		created, err = s.service.tasks.Create(r.Context(), session.UserID, input)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	opts, err := listOptions(r.URL.Query())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views, err := s.service.tasks.List(r.Context(), session.UserID, opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *HTTPServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	taskID, ok := pathID(r)
	if !ok {
		writeDomainError(w, tasktree.ErrNotFound)
		return
	}
	includeTree, err := queryBool(r.URL.Query(), "include_tree", true)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	view, err := s.service.tasks.Get(r.Context(), session.UserID, taskID, includeTree)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	taskID, ok := pathID(r)
	if !ok {
		writeDomainError(w, tasktree.ErrNotFound)
		return
	}

	var patch tasktree.Patch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	updated, err := s.service.tasks.Update(r.Context(), session.UserID, taskID, patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	taskID, ok := pathID(r)
	if !ok {
		writeDomainError(w, tasktree.ErrNotFound)
		return
	}

	var body struct {
		Status *string `json:"status"`
	}
	if err := decodeStrictBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.Status == nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status is required", map[string]any{"field": "status"})
		return
	}

	updated, err := s.service.tasks.UpdateStatus(r.Context(), session.UserID, taskID, *body.Status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	taskID, ok := pathID(r)
	if !ok {
		writeDomainError(w, tasktree.ErrNotFound)
		return
	}

	if err := s.service.tasks.Delete(r.Context(), session.UserID, taskID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleBulkTasks(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)

	var body tasktree.BulkRequest
	if err := decodeStrictBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	result, err := s.service.tasks.Bulk(r.Context(), session.UserID, body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func listOptions(query url.Values) (tasktree.ListOptions, error) {
	page, err := queryInt(query, "page")
	if err != nil {
		return tasktree.ListOptions{}, err
	}
	limit, err := queryInt(query, "limit")
	if err != nil {
		return tasktree.ListOptions{}, err
	}
	includeTree, err := queryBool(query, "include_tree", false)
	if err != nil {
		return tasktree.ListOptions{}, err
	}
	rootsOnly, err := queryBool(query, "roots_only", false)
	if err != nil {
		return tasktree.ListOptions{}, err
	}
	return tasktree.ListOptions{
		Status:      query.Get("status"),
		Query:       query.Get("q"),
		Page:        page,
		Limit:       limit,
		Sort:        query.Get("sort"),
		IncludeTree: includeTree,
		RootsOnly:   rootsOnly,
	}, nil
}

// queryInt returns 0 for an absent parameter so the list defaults apply.
func queryInt(query url.Values, key string) (int, error) {
	raw := strings.TrimSpace(query.Get(key))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, queryError(key, "must be an integer")
	}
	if value == 0 {
		// 0 would silently select the default
		return 0, queryError(key, "must be at least 1")
	}
	return value, nil
}

func queryBool(query url.Values, key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(query.Get(key))
	if raw == "" {
		return fallback, nil
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, queryError(key, "must be a boolean")
}

func queryError(field, message string) error {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", field+" "+message, map[string]any{"field": field})
}
