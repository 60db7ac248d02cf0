// Package authpw provides username/password accounts with email verification
// and password reset.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"taskaza/api/internal/emailtoken"
	"taskaza/api/internal/store"
)

const (
	maxUsernameLength = 50
	minPasswordLength = 8
)

var (
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrEmailTaken         = errors.New("email already taken")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrTokensUnavailable  = errors.New("email tokens not configured")
)

// InputError reports a malformed field of an account request.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	return e.Field + ": " + e.Message
}

// UserStore defines the storage interface for accounts
type UserStore interface {
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	GetUserByID(ctx context.Context, userID int64) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	UpdateUserProfile(ctx context.Context, userID int64, profile store.UserProfile) (store.User, error)
	SetEmailVerified(ctx context.Context, userID int64) error
	UpdateUserPassword(ctx context.Context, userID int64, passwordHash string) error
}

// TokenStore issues and consumes single-use email tokens
type TokenStore interface {
	Issue(ctx context.Context, purpose string, userID int64, ttl time.Duration) (string, error)
	Consume(ctx context.Context, purpose, raw string) (int64, error)
}

// Service provides account operations. Tokens may be nil, in which case
// verification and reset report ErrTokensUnavailable.
type Service struct {
	store  UserStore
	tokens TokenStore
	cost   int
}

func NewService(users UserStore, tokens TokenStore) *Service {
	return &Service{store: users, tokens: tokens, cost: bcrypt.DefaultCost}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Username    string
	Password    string
	Email       *string
	DisplayName *string
}

// SignUp creates a new account after checking username and email are free
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	username, err := normalizeUsername(req.Username)
	if err != nil {
		return store.User{}, err
	}
	if err := checkPassword("password", req.Password); err != nil {
		return store.User{}, err
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return store.User{}, err
	}

	if err := s.ensureAvailable(ctx, 0, &username, email); err != nil {
		return store.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, store.User{
		Username:     username,
		Email:        email,
		DisplayName:  trimmed(req.DisplayName),
		PasswordHash: string(hash),
	})
	if errors.Is(err, store.ErrConflict) {
		// lost a race with another sign-up
		return store.User{}, ErrUsernameTaken
	}
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Authenticate checks a username and password pair
func (s *Service) Authenticate(ctx context.Context, username, password string) (store.User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// UpdateProfile changes the non-nil fields of the user's profile
func (s *Service) UpdateProfile(ctx context.Context, userID int64, profile store.UserProfile) (store.User, error) {
	if profile.Username != nil {
		username, err := normalizeUsername(*profile.Username)
		if err != nil {
			return store.User{}, err
		}
		profile.Username = &username
	}
	email, err := normalizeEmail(profile.Email)
	if err != nil {
		return store.User{}, err
	}
	profile.Email = email
	profile.DisplayName = trimmed(profile.DisplayName)

	if err := s.ensureAvailable(ctx, userID, profile.Username, profile.Email); err != nil {
		return store.User{}, err
	}
	user, err := s.store.UpdateUserProfile(ctx, userID, profile)
	if errors.Is(err, store.ErrConflict) {
		return store.User{}, ErrUsernameTaken
	}
	return user, err
}

// RequestEmailVerification issues a verify token for the account with this
// email. Unknown or already verified addresses yield an empty token and no
// error, so callers cannot use it to enumerate accounts.
func (s *Service) RequestEmailVerification(ctx context.Context, email string) (store.User, string, error) {
	if s.tokens == nil {
		return store.User{}, "", ErrTokensUnavailable
	}
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, "", nil
	}
	if err != nil {
		return store.User{}, "", fmt.Errorf("lookup user: %w", err)
	}
	if user.EmailVerified {
		return store.User{}, "", nil
	}

	token, err := s.tokens.Issue(ctx, emailtoken.PurposeVerify, user.ID, emailtoken.VerifyTTL)
	if err != nil {
		return store.User{}, "", err
	}
	return user, token, nil
}

// VerifyEmail consumes a verify token and marks the email verified
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	userID, err := s.consume(ctx, emailtoken.PurposeVerify, token)
	if err != nil {
		return err
	}
	if err := s.store.SetEmailVerified(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("verify email: %w", err)
	}
	return nil
}

// RequestPasswordReset issues a reset token. Unknown addresses yield an
// empty token and no error.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (store.User, string, error) {
	if s.tokens == nil {
		return store.User{}, "", ErrTokensUnavailable
	}
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, "", nil
	}
	if err != nil {
		return store.User{}, "", fmt.Errorf("lookup user: %w", err)
	}

	token, err := s.tokens.Issue(ctx, emailtoken.PurposeReset, user.ID, emailtoken.ResetTTL)
	if err != nil {
		return store.User{}, "", err
	}
	return user, token, nil
}

// ResetPasswordRequest contains password reset parameters
type ResetPasswordRequest struct {
	Token       string
	NewPassword string
}

// ResetPassword consumes a reset token and stores the new password hash
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if err := checkPassword("new_password", req.NewPassword); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	userID, err := s.consume(ctx, emailtoken.PurposeReset, req.Token)
	if err != nil {
		return err
	}
	if err := s.store.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *Service) consume(ctx context.Context, purpose, token string) (int64, error) {
	if s.tokens == nil {
		return 0, ErrTokensUnavailable
	}
	if strings.TrimSpace(token) == "" {
		return 0, ErrInvalidToken
	}
	userID, err := s.tokens.Consume(ctx, purpose, strings.TrimSpace(token))
	if errors.Is(err, emailtoken.ErrInvalidToken) {
		return 0, ErrInvalidToken
	}
	return userID, err
}

// ensureAvailable rejects a username or email held by another account.
// userID is the account being edited, or 0 for a new one.
func (s *Service) ensureAvailable(ctx context.Context, userID int64, username, email *string) error {
	if username != nil {
		existing, err := s.store.GetUserByUsername(ctx, *username)
		switch {
		case err == nil && existing.ID != userID:
			return ErrUsernameTaken
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("lookup username: %w", err)
		}
	}
	if email != nil {
		existing, err := s.store.GetUserByEmail(ctx, *email)
		switch {
		case err == nil && existing.ID != userID:
			return ErrEmailTaken
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("lookup email: %w", err)
		}
	}
	return nil
}

func normalizeUsername(value string) (string, error) {
	username := strings.TrimSpace(value)
	if username == "" {
		return "", &InputError{Field: "username", Message: "username is required"}
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return "", &InputError{Field: "username", Message: fmt.Sprintf("username must be at most %d characters", maxUsernameLength)}
	}
	return username, nil
}

func normalizeEmail(value *string) (*string, error) {
	email := trimmed(value)
	if email == nil {
		return nil, nil
	}
	addr, err := mail.ParseAddress(*email)
	if err != nil || addr.Address != *email {
		return nil, &InputError{Field: "email", Message: "email is not a valid address"}
	}
	return email, nil
}

func checkPassword(field, password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return &InputError{Field: field, Message: fmt.Sprintf("password must be at least %d characters", minPasswordLength)}
	}
	// bcrypt only reads the first 72 bytes
	if len(password) > 72 {
		return &InputError{Field: field, Message: "password must be at most 72 bytes"}
	}
	return nil
}

// trimmed returns nil for a nil or blank value
func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}
