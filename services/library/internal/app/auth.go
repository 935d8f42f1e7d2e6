package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pocketbook/internal/util"
	"pocketbook/pkg/auth"
	"pocketbook/pkg/domain"
	"pocketbook/pkg/store"
)

// Session is a freshly minted login session.
type Session struct {
	Token   string
	Expires time.Time
	User    domain.User
}

// Login validates credentials and issues a session token.
func (a *App) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if err := auth.ValidateUsername(username); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := auth.ValidatePassword(password); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	user, ok, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		return Session{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return Session{}, ErrUserNotFound
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return Session{}, ErrInvalidPassword
	}
	if user.Status == domain.StatusDisabled {
		return Session{}, ErrUserDisabled
	}
	if auth.NeedsRehash(user.PasswordHash) {
		a.rehash(ctx, user, password)
	}
	return a.newSession(user)
}

// rehash upgrades a legacy hash after a successful login. Failures only log.
func (a *App) rehash(ctx context.Context, user domain.User, password string) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("password rehash failed", "user_id", user.ID, "err", err)
		return
	}
	user.PasswordHash = hash
	user.UpdatedAt = a.now().UTC()
	if err := a.store.SaveUser(ctx, user); err != nil {
		util.LoggerFromContext(ctx).Warn("password rehash save failed", "user_id", user.ID, "err", err)
	}
}

func (a *App) newSession(user domain.User) (Session, error) {
	token, expires, err := a.sessions.NewSession(user.ID, user.Username)
	if err != nil {
		return Session{}, fmt.Errorf("issue session: %w", err)
	}
	if cookieExpiry := a.now().Add(a.sessionTTL); cookieExpiry.Before(expires) {
		expires = cookieExpiry
	}
	return Session{Token: token, Expires: expires, User: user}, nil
}

// Authenticate resolves the user behind a session token. ok is false for
// invalid, expired or revoked tokens and for users that no longer exist or
// are disabled.
func (a *App) Authenticate(ctx context.Context, token string) (domain.User, bool, error) {
	p, ok, err := a.sessions.Authenticate(token)
	if err != nil || !ok {
		return domain.User{}, false, err
	}
	user, found, err := a.store.GetUserByID(ctx, p.Subject)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("fetch user: %w", err)
	}
	if !found || user.Status == domain.StatusDisabled {
		return domain.User{}, false, nil
	}
	return user, true, nil
}

// Logout revokes the session token.
func (a *App) Logout(_ context.Context, token string) error {
	if err := a.sessions.DeleteSession(token); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// UserInfo is the account summary returned to the signed-in user.
type UserInfo struct {
	Success    bool   `json:"success"`
	Username   string `json:"username"`
	Permission int    `json:"permission"`
}

// Info returns the account summary; a vanished user yields Success false.
func (a *App) Info(ctx context.Context, userID string) (UserInfo, error) {
	user, ok, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return UserInfo{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return UserInfo{Success: false, Permission: domain.PermissionUploader}, nil
	}
	return UserInfo{Success: true, Username: user.Username, Permission: user.Permission}, nil
}

// ResetPassword replaces the user's password after checking the old one.
// Every session issued before the change is revoked and a new session is
// returned so the caller stays signed in.
func (a *App) ResetPassword(ctx context.Context, userID, oldPassword, newPassword string) (Session, error) {
	if a.demo {
		return Session{}, ErrDemoMode
	}
	if err := auth.ValidatePassword(oldPassword); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	user, ok, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(oldPassword, user.PasswordHash) {
		return Session{}, ErrOldPasswordMismatch
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	now := a.now()
	// Existing sessions go first; a failed revocation leaves the old
	// password in place.
	if err := a.sessions.RevokeUserSessions(user.ID, now); err != nil {
		return Session{}, fmt.Errorf("revoke sessions: %w", err)
	}
	user.PasswordHash = hash
	user.Status = domain.StatusActive
	user.UpdatedAt = now.UTC()
	if err := a.store.SaveUser(ctx, user); err != nil {
		return Session{}, fmt.Errorf("save user: %w", err)
	}
	return a.newSession(user)
}

// SeedAdmin creates the owner account when no user with that name exists.
func (a *App) SeedAdmin(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil
	}
	if _, ok, err := a.store.GetUserByUsername(ctx, username); err != nil {
		return fmt.Errorf("fetch user: %w", err)
	} else if ok {
		return nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := a.now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Username:     username,
		PasswordHash: hash,
		Permission:   domain.PermissionOwner,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			return nil
		}
		return fmt.Errorf("create user: %w", err)
	}
	slog.Info("seeded admin user", "username", username)
	return nil
}
