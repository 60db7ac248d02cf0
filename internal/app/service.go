package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"taskaza/api/internal/apikey"
	"taskaza/api/internal/auth"
	"taskaza/api/internal/authpw"
	"taskaza/api/internal/config"
	"taskaza/api/internal/store"
	"taskaza/api/internal/tasktree"
)

type Session struct {
	Token     string
	UserID    int64
	Username  string
	JTI       string
	ExpiresAt time.Time
}

// UserStore is the account storage the service needs, user-managed API
// keys included.
type UserStore interface {
	authpw.UserStore
	apikey.Store
	DeleteUser(ctx context.Context, userID int64) error
	Ping(ctx context.Context) error
}

type tokenStore interface {
	authpw.TokenStore
	Ping(ctx context.Context) error
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
}

type Service struct {
	cfg      config.Config
	users    UserStore
	tokens   tokenStore
	tasks    *tasktree.Manager
	accounts *authpw.Service
	keys     *apikey.Service
	mailer   mailer
}

// New builds a service without email tokens; verification and password
// reset answer 503.
func New(cfg config.Config, users UserStore, tasks tasktree.Store, mail mailer) *Service {
	return &Service{
		cfg:      cfg,
		users:    users,
		tasks:    tasktree.NewManager(tasks),
		accounts: authpw.NewService(users, nil),
		keys:     apikey.NewService(users, cfg.APIKeyPrefix),
		mailer:   mail,
	}
}

// NewWithTokenStore builds a service whose email tokens live in tokens.
func NewWithTokenStore(cfg config.Config, users UserStore, tasks tasktree.Store, tokens tokenStore, mail mailer) *Service {
	svc := New(cfg, users, tasks, mail)
	svc.tokens = tokens
	svc.accounts = authpw.NewService(users, tokens)
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.users.Ping(ctx)
}

// PingTokens checks the email token store. It reports false when no store
// is configured.
func (s *Service) PingTokens(ctx context.Context) (bool, error) {
	if s.tokens == nil {
		return false, nil
	}
	return true, s.tokens.Ping(ctx)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return Session{}, err
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		// the account was deleted after the token was issued
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Login checks the credentials and issues an access token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.accounts.Authenticate(ctx, username, password)
	if err != nil {
		return "", err
	}
	return auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.Username, s.cfg.AccessTTL)
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (store.User, error) {
	return s.accounts.SignUp(ctx, req)
}

func (s *Service) CurrentUser(ctx context.Context, session Session) (store.User, error) {
	return s.users.GetUserByID(ctx, session.UserID)
}

func (s *Service) UpdateProfile(ctx context.Context, session Session, profile store.UserProfile) (store.User, error) {
	return s.accounts.UpdateProfile(ctx, session.UserID, profile)
}

// DeleteAccount removes the caller's account and, by cascade, every task
// they own. Only the account holder may delete it.
func (s *Service) DeleteAccount(ctx context.Context, session Session, userID int64) error {
	if session.UserID != userID {
		return errNotAccountOwner
	}
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errUserNotFound
		}
		return fmt.Errorf("delete user: %w", err)
	}
	log.Printf("account %d deleted", userID)
	return nil
}

// CreateAPIKey issues a key for the caller. The returned secret is the only
// copy of the full key.
func (s *Service) CreateAPIKey(ctx context.Context, session Session, req apikey.CreateRequest) (apikey.Issued, error) {
	issued, err := s.keys.Create(ctx, session.UserID, req)
	if err != nil {
		return apikey.Issued{}, err
	}
	log.Printf("api key %d issued for user %d", issued.Key.ID, session.UserID)
	return issued, nil
}

func (s *Service) ListAPIKeys(ctx context.Context, session Session) ([]store.APIKey, error) {
	return s.keys.List(ctx, session.UserID)
}

// RemoveAPIKey revokes the caller's key, or deletes the row when hard is set.
func (s *Service) RemoveAPIKey(ctx context.Context, session Session, keyID int64, hard bool) error {
	if hard {
		return s.keys.Delete(ctx, session.UserID, keyID)
	}
	return s.keys.Revoke(ctx, session.UserID, keyID)
}

// AuthenticateAPIKey returns the owner of an active user-managed key.
func (s *Service) AuthenticateAPIKey(ctx context.Context, raw string) (int64, error) {
	key, err := s.keys.Authenticate(ctx, raw)
	if err != nil {
		return 0, err
	}
	return key.OwnerID, nil
}

// RequestEmailVerification mails a verification link. The returned token is
// only non-empty when no mailer is configured in development, so the flow
// can be finished by hand.
func (s *Service) RequestEmailVerification(ctx context.Context, email string) (string, error) {
	user, token, err := s.accounts.RequestEmailVerification(ctx, email)
	if err != nil || token == "" {
		return "", err
	}
	link := s.frontendLink("/auth/verify-email", token)
	return s.deliver(token, func() error {
		return s.mailer.SendVerificationEmail(*user.Email, displayName(user), link)
	})
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	return s.accounts.VerifyEmail(ctx, token)
}

// RequestPasswordReset mails a reset link; see RequestEmailVerification for
// the returned token.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, token, err := s.accounts.RequestPasswordReset(ctx, email)
	if err != nil || token == "" {
		return "", err
	}
	link := s.frontendLink("/auth/reset-password", token)
	return s.deliver(token, func() error {
		return s.mailer.SendPasswordResetEmail(*user.Email, displayName(user), link)
	})
}

func (s *Service) ResetPassword(ctx context.Context, req authpw.ResetPasswordRequest) error {
	return s.accounts.ResetPassword(ctx, req)
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

// deliver sends a mail when SMTP is configured. Send failures are logged and
// not reported to the caller, so responses do not reveal which addresses exist.
func (s *Service) deliver(token string, send func() error) (string, error) {
	if !s.SMTPConfigured() {
		if s.cfg.IsDevelopment() {
			return token, nil
		}
		log.Printf("email token issued but SMTP is not configured")
		return "", nil
	}
	if err := send(); err != nil {
		log.Printf("send email failed: %v", err)
	}
	return "", nil
}

func (s *Service) frontendLink(path, token string) string {
	return s.cfg.FrontendOrigin + path + "?token=" + url.QueryEscape(token)
}

func displayName(user store.User) string {
	if user.DisplayName != nil && *user.DisplayName != "" {
		return *user.DisplayName
	}
	return user.Username
}
