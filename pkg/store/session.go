package store

import (
	"errors"
	"fmt"
	"time"

	"pocketbook/pkg/sessiontoken"
)

// SessionStore issues session tokens and decides whether a presented token
// is still acceptable: authentic, fresh and not revoked.
type SessionStore struct {
	tokens  *sessiontoken.Service
	revoker TokenRevoker
	now     func() time.Time
}

// NewSessionStore wires the token service with an optional revoker. A nil
// clock means time.Now.
func NewSessionStore(tokens *sessiontoken.Service, revoker TokenRevoker, now func() time.Time) *SessionStore {
	if now == nil {
		now = time.Now
	}
	return &SessionStore{tokens: tokens, revoker: revoker, now: now}
}

// NewSession mints a token for the user and returns it with its expiry.
func (s *SessionStore) NewSession(userID, username string) (string, time.Time, error) {
	if s.tokens == nil {
		return "", time.Time{}, errors.New("session store not configured")
	}
	p := sessiontoken.Payload{Subject: userID, Username: username, IssuedAt: s.now().Unix()}
	token, err := s.tokens.Sign(p)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, sessiontoken.ExpiresAt(p), nil
}

// Authenticate returns the token payload when the token is acceptable. A
// false result with a nil error means the token is invalid, expired or
// revoked; those cases are deliberately not distinguished. A non-nil error
// reports a revocation backend failure.
func (s *SessionStore) Authenticate(token string) (sessiontoken.Payload, bool, error) {
	if s.tokens == nil || token == "" {
		return sessiontoken.Payload{}, false, nil
	}
	p, ok := s.tokens.Verify(token)
	if !ok || !sessiontoken.Fresh(p, s.now()) {
		return sessiontoken.Payload{}, false, nil
	}
	if s.revoker == nil {
		return p, true, nil
	}
	revoked, err := s.revoker.IsRevoked(token)
	if err != nil {
		return sessiontoken.Payload{}, false, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return sessiontoken.Payload{}, false, nil
	}
	cutoff, err := s.revoker.RevokedAfter(p.Subject)
	if err != nil {
		return sessiontoken.Payload{}, false, fmt.Errorf("check user revocation: %w", err)
	}
	// iat has second precision: a token minted in the cutoff's second survives.
	if !cutoff.IsZero() && p.IssuedAt < cutoff.Unix() {
		return sessiontoken.Payload{}, false, nil
	}
	return p, true, nil
}

// DeleteSession revokes the token until it would have expired. Invalid or
// already expired tokens are ignored.
func (s *SessionStore) DeleteSession(token string) error {
	if s.revoker == nil || s.tokens == nil {
		return nil
	}
	p, ok := s.tokens.Verify(token)
	if !ok {
		return nil
	}
	ttl := sessiontoken.ExpiresAt(p).Sub(s.now())
	return s.revoker.Revoke(token, ttl)
}

// RevokeUserSessions revokes every session of the user issued before cutoff.
func (s *SessionStore) RevokeUserSessions(userID string, cutoff time.Time) error {
	if s.revoker == nil {
		return nil
	}
	return s.revoker.RevokeUser(userID, cutoff)
}
