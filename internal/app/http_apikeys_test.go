package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type apiKeyJSON struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Prefix    string     `json:"prefix"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at"`
	Revoked   bool       `json:"revoked"`
	APIKey    string     `json:"api_key"`
}

// verifiedUser signs up and marks the email verified, which key management requires.
func (e *testEnv) verifiedUser(t *testing.T, username string) (int64, string) {
	t.Helper()
	id, token := e.signUp(t, username)
	if err := e.store.SetEmailVerified(context.Background(), id); err != nil {
		t.Fatalf("SetEmailVerified() error = %v", err)
	}
	return id, token
}

func (e *testEnv) createAPIKey(t *testing.T, token, body string) apiKeyJSON {
	t.Helper()
	rr := e.call(t, http.MethodPost, "/apikeys", token, body)
	expectStatus(t, rr, http.StatusCreated)
	var key apiKeyJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &key); err != nil {
		t.Fatalf("parse api key: %v body=%s", err, rr.Body.String())
	}
	return key
}

func decodeAPIKeys(t *testing.T, rr *httptest.ResponseRecorder) []apiKeyJSON {
	t.Helper()
	var keys []apiKeyJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &keys); err != nil {
		t.Fatalf("parse api keys: %v body=%s", err, rr.Body.String())
	}
	return keys
}

// callWithKey is call with a chosen X-API-Key header.
func (e *testEnv) callWithKey(t *testing.T, method, path, apiKey, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, &bytes.Buffer{})
	req.Header.Set("X-API-Key", apiKey)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func TestAPIKeysRequireVerifiedEmail(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.signUp(t, "ada")

	expectErrorCode(t, env.call(t, http.MethodGet, "/apikeys", "", ""), http.StatusUnauthorized, "UNAUTHORIZED")
	expectErrorCode(t, env.call(t, http.MethodGet, "/apikeys", token, ""), http.StatusForbidden, "EMAIL_NOT_VERIFIED")
	expectErrorCode(t, env.call(t, http.MethodPost, "/apikeys", token, `{"name":"ci"}`), http.StatusForbidden, "EMAIL_NOT_VERIFIED")
}

func TestCreateAPIKeyShowsSecretOnce(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.verifiedUser(t, "ada")

	created := env.createAPIKey(t, token, `{"name":"ci","scopes":["tasks:read"],"expires_at":"2099-01-01T00:00:00Z"}`)
	if !strings.HasPrefix(created.APIKey, "tsk_"+created.Prefix+"_") {
		t.Fatalf("api_key = %q, want tsk_<prefix>_ form", created.APIKey)
	}
	if created.Name != "ci" || created.Revoked || len(created.Scopes) != 1 || created.ExpiresAt == nil {
		t.Fatalf("unexpected created key: %+v", created)
	}

	rr := env.call(t, http.MethodGet, "/apikeys", token, "")
	expectStatus(t, rr, http.StatusOK)
	if strings.Contains(rr.Body.String(), created.APIKey) || strings.Contains(rr.Body.String(), "api_key") {
		t.Fatalf("listing leaked the secret: %s", rr.Body.String())
	}
	keys := decodeAPIKeys(t, rr)
	if len(keys) != 1 || keys[0].ID != created.ID {
		t.Fatalf("listed keys = %+v", keys)
	}
}

func TestCreateAPIKeyValidation(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.verifiedUser(t, "ada")

	for _, body := range []string{
		`{"name":"   "}`,
		`{"name":"` + strings.Repeat("k", 101) + `"}`,
		`{"name":"ci","expires_at":"2001-01-01"}`,
		`{"name":"ci","scopes":[""]}`,
	} {
		expectErrorCode(t, env.call(t, http.MethodPost, "/apikeys", token, body), http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	}
	expectErrorCode(t, env.call(t, http.MethodPost, "/apikeys", token, `{"name":"ci","owner":1}`), http.StatusBadRequest, "INVALID_BODY")
}

func TestRevokeAPIKeyTwiceIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.verifiedUser(t, "ada")
	created := env.createAPIKey(t, token, `{"name":"ci"}`)
	path := "/apikeys/" + itoa(created.ID)

	expectStatus(t, env.call(t, http.MethodDelete, path, token, ""), http.StatusNoContent)
	rr := env.call(t, http.MethodDelete, path, token, "")
	expectErrorCode(t, rr, http.StatusNotFound, "NOT_FOUND")
	if got := decodeMap(t, rr)["error"]; got != "Key not found or already revoked" {
		t.Fatalf("error = %v", got)
	}

	// revoked keys stay listed until hard deleted
	keys := decodeAPIKeys(t, env.call(t, http.MethodGet, "/apikeys", token, ""))
	if len(keys) != 1 || !keys[0].Revoked {
		t.Fatalf("listed keys = %+v", keys)
	}

	expectStatus(t, env.call(t, http.MethodDelete, path+"?hard=true", token, ""), http.StatusNoContent)
	expectErrorCode(t, env.call(t, http.MethodDelete, path+"?hard=true", token, ""), http.StatusNotFound, "NOT_FOUND")
	if keys := decodeAPIKeys(t, env.call(t, http.MethodGet, "/apikeys", token, "")); len(keys) != 0 {
		t.Fatalf("keys after hard delete = %+v", keys)
	}
	expectErrorCode(t, env.call(t, http.MethodDelete, path+"?hard=maybe", token, ""), http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestAPIKeysAreOwnerScoped(t *testing.T) {
	env := newTestEnv(t)
	_, adaToken := env.verifiedUser(t, "ada")
	_, bobToken := env.verifiedUser(t, "bob")
	created := env.createAPIKey(t, adaToken, `{"name":"ci"}`)

	if keys := decodeAPIKeys(t, env.call(t, http.MethodGet, "/apikeys", bobToken, "")); len(keys) != 0 {
		t.Fatalf("bob sees keys: %+v", keys)
	}
	expectErrorCode(t, env.call(t, http.MethodDelete, "/apikeys/"+itoa(created.ID), bobToken, ""), http.StatusNotFound, "NOT_FOUND")
	expectErrorCode(t, env.call(t, http.MethodDelete, "/apikeys/"+itoa(created.ID)+"?hard=true", bobToken, ""), http.StatusNotFound, "NOT_FOUND")
}

func TestUserAPIKeyAuthorizesOwnerRequests(t *testing.T) {
	env := newTestEnv(t)
	_, adaToken := env.verifiedUser(t, "ada")
	_, bobToken := env.verifiedUser(t, "bob")
	created := env.createAPIKey(t, adaToken, `{"name":"ci"}`)

	expectStatus(t, env.callWithKey(t, http.MethodGet, "/tasks", created.APIKey, adaToken), http.StatusOK)
	expectErrorCode(t, env.callWithKey(t, http.MethodGet, "/tasks", created.APIKey, bobToken), http.StatusForbidden, "API_KEY_INVALID")
	expectErrorCode(t, env.callWithKey(t, http.MethodGet, "/tasks", created.APIKey+"x", adaToken), http.StatusForbidden, "API_KEY_INVALID")

	expectStatus(t, env.call(t, http.MethodDelete, "/apikeys/"+itoa(created.ID), adaToken, ""), http.StatusNoContent)
	expectErrorCode(t, env.callWithKey(t, http.MethodGet, "/tasks", created.APIKey, adaToken), http.StatusForbidden, "API_KEY_INVALID")
}

func TestDeletingAccountRemovesItsAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	adaID, adaToken := env.verifiedUser(t, "ada")
	created := env.createAPIKey(t, adaToken, `{"name":"ci"}`)

	expectStatus(t, env.call(t, http.MethodDelete, "/users/"+itoa(adaID), adaToken, ""), http.StatusNoContent)
	expectErrorCode(t, env.callWithKey(t, http.MethodGet, "/tasks", created.APIKey, ""), http.StatusForbidden, "API_KEY_INVALID")
}
