package app

import (
	"net/http"
	"time"

	"taskaza/api/internal/apikey"
	"taskaza/api/internal/store"
	"taskaza/api/internal/tasktree"
)

type apiKeyResponse struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Prefix    string     `json:"prefix"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at"`
	Revoked   bool       `json:"revoked"`
	CreatedAt time.Time  `json:"created_at"`
}

// apiKeySecretResponse is only sent by create; the full key is not
// retrievable afterwards.
type apiKeySecretResponse struct {
	apiKeyResponse
	APIKey string `json:"api_key"`
}

func toAPIKeyResponse(key store.APIKey) apiKeyResponse {
	return apiKeyResponse{
		ID:        key.ID,
		Name:      key.Name,
		Prefix:    key.Prefix,
		Scopes:    key.Scopes,
		ExpiresAt: key.ExpiresAt,
		Revoked:   key.Revoked,
		CreatedAt: key.CreatedAt,
	}
}

func (s *HTTPServer) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name      string              `json:"name"`
		Scopes    []string            `json:"scopes"`
		ExpiresAt *tasktree.Timestamp `json:"expires_at"`
	}
	if err := decodeStrictBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	req := apikey.CreateRequest{Name: body.Name, Scopes: body.Scopes}
	if body.ExpiresAt != nil {
		req.ExpiresAt = &body.ExpiresAt.Time
	}
	issued, err := s.service.CreateAPIKey(r.Context(), sessionFrom(r), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, apiKeySecretResponse{
		apiKeyResponse: toAPIKeyResponse(issued.Key),
		APIKey:         issued.Secret,
	})
}

func (s *HTTPServer) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.service.ListAPIKeys(r.Context(), sessionFrom(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]apiKeyResponse, 0, len(keys))
	for _, key := range keys {
		out = append(out, toAPIKeyResponse(key))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDeleteAPIKey revokes by default; ?hard=true removes the row.
func (s *HTTPServer) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID, ok := pathID(r)
	if !ok {
		writeDomainError(w, apikey.ErrNotFound)
		return
	}
	hard, err := queryBool(r.URL.Query(), "hard", false)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.service.RemoveAPIKey(r.Context(), sessionFrom(r), keyID, hard); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
