package app

import (
	"net/http"
	"strings"
	"time"

	"taskaza/api/internal/authpw"
	"taskaza/api/internal/store"
)

type userResponse struct {
	ID            int64     `json:"id"`
	Username      string    `json:"username"`
	Email         *string   `json:"email"`
	DisplayName   *string   `json:"display_name"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

func userJSON(user store.User) userResponse {
	return userResponse{
		ID:            user.ID,
		Username:      user.Username,
		Email:         user.Email,
		DisplayName:   user.DisplayName,
		EmailVerified: user.EmailVerified,
		CreatedAt:     user.CreatedAt,
	}
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username    string  `json:"username"`
		Password    string  `json:"password"`
		Email       *string `json:"email"`
		DisplayName *string `json:"display_name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, err := s.service.SignUp(r.Context(), authpw.SignUpRequest{
		Username:    body.Username,
		Password:    body.Password,
		Email:       body.Email,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userJSON(user))
}

// handleToken accepts the OAuth2 password form as well as a JSON body.
func (s *HTTPServer) handleToken(w http.ResponseWriter, r *http.Request) {
	var username, password string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		username, password = body.Username, body.Password
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid form body", nil)
			return
		}
		username, password = r.PostForm.Get("username"), r.PostForm.Get("password")
	}

	token, err := s.service.Login(r.Context(), username, password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

func (s *HTTPServer) handleRequestVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	token, err := s.service.RequestEmailVerification(r.Context(), body.Email)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeAccepted(w, "If the address belongs to an unverified account, a verification email has been sent.", token)
}

func (s *HTTPServer) handleCompleteVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var body struct {
			Token string `json:"token"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		token = body.Token
	}

	if err := s.service.VerifyEmail(r.Context(), token); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified."})
}

func (s *HTTPServer) handleRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	token, err := s.service.RequestPasswordReset(r.Context(), body.Email)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeAccepted(w, "If the address belongs to an account, a password reset email has been sent.", token)
}

func (s *HTTPServer) handleCompletePasswordReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	err := s.service.ResetPassword(r.Context(), authpw.ResetPasswordRequest{
		Token:       body.Token,
		NewPassword: body.NewPassword,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated."})
}

func (s *HTTPServer) handleGetMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.CurrentUser(r.Context(), sessionFrom(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userJSON(user))
}

// handleUpdateMe applies only the fields present in the body, for PUT and
// PATCH alike.
func (s *HTTPServer) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username    *string `json:"username"`
		Email       *string `json:"email"`
		DisplayName *string `json:"display_name"`
	}
	if err := decodeStrictBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, err := s.service.UpdateProfile(r.Context(), sessionFrom(r), store.UserProfile{
		Username:    body.Username,
		Email:       body.Email,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userJSON(user))
}

func (s *HTTPServer) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r)
	if !ok {
		writeDomainError(w, errUserNotFound)
		return
	}
	if err := s.service.DeleteAccount(r.Context(), sessionFrom(r), userID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeAccepted answers the same way whether or not an account matched.
// devToken is only set in development without SMTP.
func writeAccepted(w http.ResponseWriter, message, devToken string) {
	payload := map[string]string{"message": message}
	if devToken != "" {
		payload["dev_token"] = devToken
	}
	writeJSON(w, http.StatusAccepted, payload)
}
