package sessiontoken

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// DefaultKeyFile is the bootstrap key file name.
const DefaultKeyFile = "hmac.key"

// LoadOrCreateKeyFile returns the secret stored in path. When the file does
// not exist a new secret (32 random bytes, hex encoded) is written with mode
// 0600 and returned. The hex text itself is the key.
func LoadOrCreateKeyFile(path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultKeyFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		key := strings.TrimSpace(string(data))
		if key == "" {
			return nil, fmt.Errorf("sessiontoken: key file %s is empty", path)
		}
		return []byte(key), nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("sessiontoken: read key file: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("sessiontoken: generate key: %w", err)
	}
	key := hex.EncodeToString(buf)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			// Lost a race with another process; use its key.
			return LoadOrCreateKeyFile(path)
		}
		return nil, fmt.Errorf("sessiontoken: create key file: %w", err)
	}
	if _, err := f.WriteString(key); err != nil {
		f.Close()
		return nil, fmt.Errorf("sessiontoken: write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("sessiontoken: close key file: %w", err)
	}
	return []byte(key), nil
}

// ParseKeyList parses "kid=secret,kid2=secret2" into a key map.
func ParseKeyList(raw string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kid, secret, found := strings.Cut(part, "=")
		kid, secret = strings.TrimSpace(kid), strings.TrimSpace(secret)
		if !found || kid == "" || secret == "" {
			return nil, fmt.Errorf("sessiontoken: invalid key entry %q", part)
		}
		out[kid] = []byte(secret)
	}
	return out, nil
}
