package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"taskaza/api/internal/apikey"
	"taskaza/api/internal/auth"
	"taskaza/api/internal/authpw"
	"taskaza/api/internal/store"
	"taskaza/api/internal/tasktree"
	"taskaza/api/internal/util"
)

const maxBodyBytes = 1 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)

	// Account routes (no session required)
	router.HandleFunc("/signup", s.handleSignUp).Methods(http.MethodPost)
	router.HandleFunc("/token", s.handleToken).Methods(http.MethodPost)
	router.HandleFunc("/auth/verify-email/request", s.handleRequestVerifyEmail).Methods(http.MethodPost)
	router.HandleFunc("/auth/verify-email/complete", s.handleCompleteVerifyEmail).Methods(http.MethodPost)
	router.HandleFunc("/auth/password-reset/request", s.handleRequestPasswordReset).Methods(http.MethodPost)
	router.HandleFunc("/auth/password-reset/complete", s.handleCompletePasswordReset).Methods(http.MethodPost)

	me := router.Path("/users/me").Subrouter()
	me.Use(s.requireAPIKey, s.requireSession)
	me.HandleFunc("", s.handleGetMe).Methods(http.MethodGet)
	me.HandleFunc("", s.handleUpdateMe).Methods(http.MethodPut, http.MethodPatch)

	users := router.PathPrefix("/users").Subrouter()
	users.Use(s.requireSession)
	users.HandleFunc("/{id:[0-9]+}", s.handleDeleteUser).Methods(http.MethodDelete)

	keys := router.PathPrefix("/apikeys").Subrouter()
	keys.Use(s.requireSession, s.requireVerifiedEmail)
	keys.HandleFunc("", s.handleCreateAPIKey).Methods(http.MethodPost)
	keys.HandleFunc("", s.handleListAPIKeys).Methods(http.MethodGet)
	keys.HandleFunc("/{id:[0-9]+}", s.handleDeleteAPIKey).Methods(http.MethodDelete)

	tasks := router.PathPrefix("/tasks").Subrouter()
	tasks.Use(s.requireAPIKey, s.requireSession)
	tasks.HandleFunc("", s.handleCreateTask).Methods(http.MethodPost)
	tasks.HandleFunc("", s.handleListTasks).Methods(http.MethodGet)
	tasks.HandleFunc("/bulk", s.handleBulkTasks).Methods(http.MethodPost)
	tasks.HandleFunc("/{id:[0-9]+}", s.handleGetTask).Methods(http.MethodGet)
	tasks.HandleFunc("/{id:[0-9]+}", s.handleUpdateTask).Methods(http.MethodPut)
	tasks.HandleFunc("/{id:[0-9]+}", s.handleUpdateTaskStatus).Methods(http.MethodPatch)
	tasks.HandleFunc("/{id:[0-9]+}", s.handleDeleteTask).Methods(http.MethodDelete)

	return s.withMiddleware(router)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	// Redis only backs email tokens, so it degrades those flows without
	// making the API unready.
	if configured, err := s.service.PingTokens(ctx); configured {
		checks["redis"] = map[string]any{"status": "ok"}
		if err != nil {
			checks["redis"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

type sessionKey struct{}

func sessionFrom(r *http.Request) Session {
	session, _ := r.Context().Value(sessionKey{}).(Session)
	return session
}

func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeUnauthorized(w, "Not authenticated")
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
				writeUnauthorized(w, "Could not verify token, token expired")
				return
			}
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
			return
		}
		// a user-managed key only works together with its owner's session
		if ownerID, ok := r.Context().Value(apiKeyOwnerKey{}).(int64); ok && ownerID != session.UserID {
			writeError(w, http.StatusForbidden, "API_KEY_INVALID", "Invalid API Key", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

type apiKeyOwnerKey struct{}

// requireAPIKey accepts the deployment key or an active user-managed key.
// A user key records its owner so requireSession can match it.
func (s *HTTPServer) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			writeError(w, http.StatusUnauthorized, "API_KEY_MISSING", "API Key header missing", nil)
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.service.cfg.APIKey)) == 1 {
			next.ServeHTTP(w, r)
			return
		}
		ownerID, err := s.service.AuthenticateAPIKey(r.Context(), key)
		if err != nil {
			if errors.Is(err, apikey.ErrInvalidKey) {
				writeError(w, http.StatusForbidden, "API_KEY_INVALID", "Invalid API Key", nil)
				return
			}
			writeDomainError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), apiKeyOwnerKey{}, ownerID)))
	})
}

func (s *HTTPServer) requireVerifiedEmail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.service.CurrentUser(r.Context(), sessionFrom(r))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !user.EmailVerified {
			writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Email address is not verified", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	if status == http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	return decode(r, target, false)
}

// decodeStrictBody rejects keys the target does not declare.
func decodeStrictBody(r *http.Request, target any) error {
	return decode(r, target, true)
}

func decode(r *http.Request, target any, strict bool) error {
	if r.Body == nil {
		return fmt.Errorf("request body required")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if strict {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(target); err != nil {
		if strict && strings.HasPrefix(err.Error(), "json: unknown field ") {
			return fmt.Errorf("unknown field %s", strings.TrimPrefix(err.Error(), "json: unknown field "))
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *tasktree.ValidationError
	if errors.As(err, &validationErr) {
		details := map[string]any{"field": validationErr.Field}
		if tasktree.IsParentError(err) {
			return http.StatusBadRequest, "INVALID_PARENT", validationErr.Message, details
		}
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Message, details
	}
	var inputErr *authpw.InputError
	if errors.As(err, &inputErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", inputErr.Message, map[string]any{"field": inputErr.Field}
	}
	var keyInputErr *apikey.InputError
	if errors.As(err, &keyInputErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", keyInputErr.Message, map[string]any{"field": keyInputErr.Field}
	}
	switch {
	case errors.Is(err, tasktree.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Task not found", nil
	case errors.Is(err, apikey.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Key not found or already revoked", nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Incorrect username or password", nil
	case errors.Is(err, authpw.ErrUsernameTaken):
		return http.StatusBadRequest, "USERNAME_TAKEN", "Username already taken", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusBadRequest, "EMAIL_TAKEN", "Email already taken", nil
	case errors.Is(err, authpw.ErrInvalidToken):
		return http.StatusBadRequest, "INVALID_TOKEN", "Invalid or expired token", nil
	case errors.Is(err, authpw.ErrTokensUnavailable):
		return http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Email token service not configured", nil
	case errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
