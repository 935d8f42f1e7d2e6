package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pocketbook/pkg/domain"
	"pocketbook/pkg/sessiontoken"
	"pocketbook/pkg/store"
)

func TestLoginIssuesSession(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.addUser(t, "alice", "secret-pw", domain.PermissionReader)

	s, err := env.app.Login(context.Background(), "alice", "secret-pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if s.User.ID != alice.ID {
		t.Fatalf("user = %q, want %q", s.User.ID, alice.ID)
	}
	if !s.Expires.Equal(env.clock.t.Add(sessiontoken.Lifetime)) {
		t.Fatalf("expires = %v", s.Expires)
	}
	if strings.Count(s.Token, ".") != 2 {
		t.Fatalf("token %q is not a compact token", s.Token)
	}

	u, ok, err := env.app.Authenticate(context.Background(), s.Token)
	if err != nil || !ok {
		t.Fatalf("authenticate: ok=%v err=%v", ok, err)
	}
	if u.Username != "alice" {
		t.Fatalf("username = %q", u.Username)
	}
}

func TestLoginFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "alice", "secret-pw", domain.PermissionReader)

	cases := []struct {
		name     string
		username string
		password string
		want     error
	}{
		{"unknown user", "bobby", "secret-pw", ErrUserNotFound},
		{"wrong password", "alice", "wrong-pw", ErrInvalidPassword},
		{"short username", "bob", "secret-pw", ErrInvalidInput},
		{"short password", "alice", "abc", ErrInvalidInput},
		{"long password", "alice", strings.Repeat("x", 26), ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.app.Login(context.Background(), tc.username, tc.password)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestLoginPendingAndDisabledUsers(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	pending := domain.User{ID: "p1", Username: "pending", Status: domain.StatusPending}
	if err := env.store.CreateUser(ctx, pending); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := env.app.Login(ctx, "pending", "anything"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("pending login err = %v, want ErrInvalidPassword", err)
	}

	carol := env.addUser(t, "carol", "secret-pw", domain.PermissionReader)
	carol.Status = domain.StatusDisabled
	if err := env.store.SaveUser(ctx, carol); err != nil {
		t.Fatalf("save user: %v", err)
	}
	if _, err := env.app.Login(ctx, "carol", "secret-pw"); !errors.Is(err, ErrUserDisabled) {
		t.Fatalf("disabled login err = %v, want ErrUserDisabled", err)
	}
}

func TestLoginUpgradesBcryptHash(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	legacy, err := bcrypt.GenerateFromPassword([]byte("secret-pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	u := domain.User{ID: "d1", Username: "dave", PasswordHash: string(legacy), Status: domain.StatusActive}
	if err := env.store.CreateUser(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := env.app.Login(ctx, "dave", "secret-pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	stored, _, _ := env.store.GetUserByID(ctx, "d1")
	if !strings.HasPrefix(stored.PasswordHash, "$argon2id$") {
		t.Fatalf("hash not upgraded: %q", stored.PasswordHash)
	}
}

func TestSessionTTLCapsCookieExpiry(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.SessionTTL = time.Hour })
	env.addUser(t, "alice", "secret-pw", domain.PermissionReader)
	s, err := env.app.Login(context.Background(), "alice", "secret-pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !s.Expires.Equal(env.clock.t.Add(time.Hour)) {
		t.Fatalf("expires = %v, want one hour", s.Expires)
	}
}

func TestAuthenticateRejectsStaleAndDeletedSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.addUser(t, "alice", "secret-pw", domain.PermissionReader)
	s, err := env.app.Login(ctx, "alice", "secret-pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	env.clock.t = env.clock.t.Add(8 * 24 * time.Hour)
	if _, ok, _ := env.app.Authenticate(ctx, s.Token); ok {
		t.Fatalf("8 day old token accepted")
	}
	env.clock.t = env.clock.t.Add(-8 * 24 * time.Hour)

	if err := env.app.Logout(ctx, s.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok, _ := env.app.Authenticate(ctx, s.Token); ok {
		t.Fatalf("token accepted after logout")
	}
	if _, ok, _ := env.app.Authenticate(ctx, "garbage"); ok {
		t.Fatalf("garbage token accepted")
	}
}

func TestAuthenticateRejectsVanishedUser(t *testing.T) {
	env := newTestEnv(t, nil)
	s, err := env.app.newSession(domain.User{ID: "ghost", Username: "ghost"})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, err := env.app.Authenticate(context.Background(), s.Token); ok || err != nil {
		t.Fatalf("authenticate: ok=%v err=%v, want rejection", ok, err)
	}
}

func TestInfo(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.addUser(t, "alice", "secret-pw", domain.PermissionAdmin)
	info, err := env.app.Info(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if !info.Success || info.Username != "alice" || info.Permission != domain.PermissionAdmin {
		t.Fatalf("info = %+v", info)
	}
	info, err = env.app.Info(context.Background(), "missing")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Success || info.Permission != domain.PermissionUploader {
		t.Fatalf("missing user info = %+v", info)
	}
}

func TestResetPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	alice := env.addUser(t, "alice", "secret-pw", domain.PermissionReader)
	old, err := env.app.Login(ctx, "alice", "secret-pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := env.app.ResetPassword(ctx, alice.ID, "wrong-pw", "new-secret"); !errors.Is(err, ErrOldPasswordMismatch) {
		t.Fatalf("err = %v, want ErrOldPasswordMismatch", err)
	}

	env.clock.t = env.clock.t.Add(time.Minute)
	fresh, err := env.app.ResetPassword(ctx, alice.ID, "secret-pw", "new-secret")
	if err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if _, ok, _ := env.app.Authenticate(ctx, old.Token); ok {
		t.Fatalf("session from before the reset still accepted")
	}
	if _, ok, err := env.app.Authenticate(ctx, fresh.Token); !ok || err != nil {
		t.Fatalf("new session rejected: ok=%v err=%v", ok, err)
	}
	if _, err := env.app.Login(ctx, "alice", "secret-pw"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("old password still works: %v", err)
	}
	if _, err := env.app.Login(ctx, "alice", "new-secret"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

type failingRevoker struct {
	*store.MemoryTokenRevoker
}

func (failingRevoker) RevokeUser(string, time.Time) error {
	return errors.New("revoker unavailable")
}

func TestResetPasswordKeepsOldPasswordWhenRevokeFails(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Revoker = failingRevoker{store.NewMemoryTokenRevoker()}
	})
	ctx := context.Background()
	alice := env.addUser(t, "alice", "secret-pw", domain.PermissionReader)

	if _, err := env.app.ResetPassword(ctx, alice.ID, "secret-pw", "new-secret"); err == nil {
		t.Fatalf("reset password succeeded with a failing revoker")
	}
	if _, err := env.app.Login(ctx, "alice", "secret-pw"); err != nil {
		t.Fatalf("old password no longer works: %v", err)
	}
	if _, err := env.app.Login(ctx, "alice", "new-secret"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("new password accepted after failed reset: %v", err)
	}
}

func TestResetPasswordDisabledInDemo(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Demo = true })
	alice := env.addUser(t, "alice", "secret-pw", domain.PermissionReader)
	if _, err := env.app.ResetPassword(context.Background(), alice.ID, "secret-pw", "new-secret"); !errors.Is(err, ErrDemoMode) {
		t.Fatalf("err = %v, want ErrDemoMode", err)
	}
}

func TestSeedAdminIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := env.app.SeedAdmin(ctx, "admin", "admin-pw"); err != nil {
			t.Fatalf("seed admin: %v", err)
		}
	}
	users, _ := env.store.ListUsers(ctx)
	if len(users) != 1 {
		t.Fatalf("user count = %d, want 1", len(users))
	}
	u, ok, _ := env.store.GetUserByUsername(ctx, "admin")
	if !ok || u.Permission != domain.PermissionOwner {
		t.Fatalf("admin = %+v", u)
	}
	if _, err := env.app.Login(ctx, "admin", "admin-pw"); err != nil {
		t.Fatalf("login as seeded admin: %v", err)
	}
}
