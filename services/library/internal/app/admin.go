package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pocketbook/internal/util"
	"pocketbook/pkg/auth"
	"pocketbook/pkg/domain"
	"pocketbook/pkg/store"
)

// AdminUser is the user row shown on the admin panel.
type AdminUser struct {
	ID              string            `json:"id"`
	Username        string            `json:"username"`
	PermissionLevel int               `json:"permissionLevel"`
	Status          domain.UserStatus `json:"status"`
}

// CanAdminister reports whether u may use the admin endpoints.
func CanAdminister(u domain.User) bool {
	return u.Permission >= domain.PermissionAdmin
}

func (a *App) ListUsers(ctx context.Context, actor domain.User) ([]AdminUser, error) {
	if !CanAdminister(actor) {
		return nil, ErrForbidden
	}
	users, err := a.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]AdminUser, 0, len(users))
	for _, u := range users {
		out = append(out, AdminUser{ID: u.ID, Username: u.Username, PermissionLevel: u.Permission, Status: u.Status})
	}
	return out, nil
}

// CreateUserInput is an admin request for a new account. A nil Password
// creates a pending account that cannot log in yet.
type CreateUserInput struct {
	Username   string
	Permission int
	Password   *string
}

func (a *App) CreateUser(ctx context.Context, actor domain.User, in CreateUserInput) (AdminUser, error) {
	if !CanAdminister(actor) {
		return AdminUser{}, ErrForbidden
	}
	username := strings.TrimSpace(in.Username)
	if err := auth.ValidateUsername(username); err != nil {
		return AdminUser{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if in.Permission < domain.PermissionReader || in.Permission > domain.PermissionAdmin {
		return AdminUser{}, fmt.Errorf("%w: permission must be between %d and %d", ErrInvalidInput, domain.PermissionReader, domain.PermissionAdmin)
	}
	now := a.now().UTC()
	user := domain.User{
		ID:         util.NewID(),
		Username:   username,
		Permission: in.Permission,
		Status:     domain.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if in.Password != nil {
		if err := auth.ValidatePassword(*in.Password); err != nil {
			return AdminUser{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		hash, err := auth.HashPassword(*in.Password)
		if err != nil {
			return AdminUser{}, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = hash
		user.Status = domain.StatusActive
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			return AdminUser{}, ErrUsernameTaken
		}
		return AdminUser{}, fmt.Errorf("create user: %w", err)
	}
	return AdminUser{ID: user.ID, Username: user.Username, PermissionLevel: user.Permission, Status: user.Status}, nil
}

// DeleteUser is not supported yet.
func (a *App) DeleteUser(_ context.Context, actor domain.User, _ string) error {
	if !CanAdminister(actor) {
		return ErrForbidden
	}
	return ErrNotImplemented
}
