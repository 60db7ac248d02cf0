package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskaza/api/internal/authpw"
	"taskaza/api/internal/config"
	"taskaza/api/internal/emailtoken"
	"taskaza/api/internal/store"
)

const (
	testAPIKey = "test-api-key"
	testSecret = "test-secret"
)

// pingStore lets a test make the database look unreachable.
type pingStore struct {
	*store.SQLiteStore
	pingFn func(context.Context) error
}

func (p *pingStore) Ping(ctx context.Context) error {
	if p.pingFn != nil {
		return p.pingFn(ctx)
	}
	return p.SQLiteStore.Ping(ctx)
}

type sentMail struct {
	to   string
	name string
	url  string
}

type fakeMailer struct {
	configured bool
	err        error
	verify     []sentMail
	reset      []sentMail
}

func (m *fakeMailer) IsConfigured() bool { return m.configured }

func (m *fakeMailer) SendVerificationEmail(to, userName, url string) error {
	m.verify = append(m.verify, sentMail{to: to, name: userName, url: url})
	return m.err
}

func (m *fakeMailer) SendPasswordResetEmail(to, userName, url string) error {
	m.reset = append(m.reset, sentMail{to: to, name: userName, url: url})
	return m.err
}

type testEnv struct {
	store   *pingStore
	redis   *miniredis.Miniredis
	mailer  *fakeMailer
	service *Service
	handler http.Handler
}

func testConfig() config.Config {
	return config.Config{
		Env:            "test",
		JWTSecret:      testSecret,
		AccessTTL:      time.Hour,
		APIKey:         testAPIKey,
		APIKeyPrefix:   "tsk",
		CORSOrigin:     "*",
		FrontendOrigin: "https://app.example.com",
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	sqlite, err := store.OpenSQLite("sqlite::memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })

	mr := miniredis.RunT(t)
	tokens := emailtoken.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = tokens.Close() })

	env := &testEnv{
		store:  &pingStore{SQLiteStore: sqlite},
		redis:  mr,
		mailer: &fakeMailer{},
	}
	env.service = NewWithTokenStore(testConfig(), env.store, env.store, tokens, env.mailer)
	env.handler = NewHTTPServer(env.service, "*").Handler()
	return env
}

// signUp creates an account through the service and returns its id and a
// bearer token.
func (e *testEnv) signUp(t *testing.T, username string) (int64, string) {
	t.Helper()
	email := username + "@example.com"
	user, err := e.service.SignUp(context.Background(), authpw.SignUpRequest{
		Username: username,
		Password: "correct-horse",
		Email:    &email,
	})
	if err != nil {
		t.Fatalf("SignUp(%q) error = %v", username, err)
	}
	token, err := e.service.Login(context.Background(), username, "correct-horse")
	if err != nil {
		t.Fatalf("Login(%q) error = %v", username, err)
	}
	return user.ID, token
}

// call sends a JSON request carrying the test API key and, when token is
// set, a bearer token.
func (e *testEnv) call(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d body=%s", want, rr.Code, rr.Body.String())
	}
}

func expectErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, rr, status)
	if got := decodeMap(t, rr)["code"]; got != code {
		t.Fatalf("expected code %s, got %v", code, got)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
