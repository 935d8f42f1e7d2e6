// Package sessiontoken issues and verifies the HS256 session tokens carried
// in the library's jwt cookie.
//
// The service only answers "was this payload signed by us and left
// unaltered". How long a token stays acceptable is decided by the caller,
// normally through Fresh.
package sessiontoken

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Lifetime is the validity window of a token, counted from its iat.
const Lifetime = 7 * 24 * time.Hour

// ErrKeyRequired is returned by New when no signing key is configured.
var ErrKeyRequired = errors.New("sessiontoken: signing key is required")

// Payload is the decoded claim set of a token.
type Payload struct {
	Subject  string // sub: user id
	Username string // user
	IssuedAt int64  // iat: unix seconds
}

// Config holds the key material. KeyID and PreviousKeys are optional; when
// KeyID is empty tokens carry no kid and only Key verifies them.
type Config struct {
	Key          []byte
	KeyID        string
	PreviousKeys map[string][]byte
}

// Service signs and verifies tokens. It is safe for concurrent use; the key
// material never changes after New.
type Service struct {
	key      []byte
	keyID    string
	previous map[string][]byte
	parser   *jwt.Parser
}

// New builds a Service from cfg.
func New(cfg Config) (*Service, error) {
	if len(cfg.Key) == 0 {
		return nil, ErrKeyRequired
	}
	s := &Service{
		key:      append([]byte(nil), cfg.Key...),
		keyID:    strings.TrimSpace(cfg.KeyID),
		previous: make(map[string][]byte, len(cfg.PreviousKeys)),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
			jwt.WithJSONNumber(),
			// Each token has exactly one accepted spelling; revocation is
			// keyed on the token string.
			jwt.WithStrictDecoding(),
		),
	}
	for kid, key := range cfg.PreviousKeys {
		kid = strings.TrimSpace(kid)
		if kid == "" || len(key) == 0 {
			continue
		}
		if kid == s.keyID {
			return nil, fmt.Errorf("sessiontoken: previous key id %q collides with the active key id", kid)
		}
		s.previous[kid] = append([]byte(nil), key...)
	}
	return s, nil
}

// Issue mints a token for subject/username with iat set to now (unix seconds).
func (s *Service) Issue(subject, username string, now int64) (string, error) {
	return s.Sign(Payload{Subject: subject, Username: username, IssuedAt: now})
}

// Sign serializes and signs p. The output is deterministic for a given key
// and payload.
func (s *Service) Sign(p Payload) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  p.Subject,
		"user": p.Username,
		"iat":  p.IssuedAt,
	})
	if s.keyID != "" {
		token.Header["kid"] = s.keyID
	}
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sessiontoken: sign: %w", err)
	}
	return signed, nil
}

// Verify checks the signature of token and decodes its claims. Any defect
// (segment count, encoding, signature, claim types) yields ok == false.
func (s *Service) Verify(token string) (p Payload, ok bool) {
	defer func() {
		if recover() != nil {
			p, ok = Payload{}, false
		}
	}()

	if strings.Count(token, ".") != 2 {
		return Payload{}, false
	}
	claims := jwt.MapClaims{}
	parsed, err := s.parser.ParseWithClaims(token, claims, s.keyFor)
	if err != nil || !parsed.Valid {
		return Payload{}, false
	}
	return payloadFromClaims(claims)
}

func (s *Service) keyFor(t *jwt.Token) (any, error) {
	raw, present := t.Header["kid"]
	if !present {
		return s.key, nil
	}
	kid, isString := raw.(string)
	if !isString {
		return nil, errors.New("kid must be a string")
	}
	if s.keyID != "" && kid == s.keyID {
		return s.key, nil
	}
	if key, found := s.previous[kid]; found {
		return key, nil
	}
	return nil, fmt.Errorf("unknown key id %q", kid)
}

func payloadFromClaims(claims jwt.MapClaims) (Payload, bool) {
	sub, ok := claims["sub"].(string)
	if !ok {
		return Payload{}, false
	}
	user, ok := claims["user"].(string)
	if !ok {
		return Payload{}, false
	}
	num, ok := claims["iat"].(json.Number)
	if !ok {
		return Payload{}, false
	}
	iat, err := num.Int64()
	if err != nil {
		return Payload{}, false
	}
	return Payload{Subject: sub, Username: user, IssuedAt: iat}, true
}

// Fresh reports whether a token with payload p is still inside its validity
// window at now: now_ms < iat*1000 + Lifetime in ms.
func Fresh(p Payload, now time.Time) bool {
	return now.UnixMilli() < p.IssuedAt*1000+Lifetime.Milliseconds()
}

// ExpiresAt is the first instant at which p is no longer fresh.
func ExpiresAt(p Payload) time.Time {
	return time.UnixMilli(p.IssuedAt*1000 + Lifetime.Milliseconds())
}
