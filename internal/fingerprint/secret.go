package fingerprint

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// SecretSize is the required byte length of the process fingerprint secret.
const SecretSize = 32

// DecodeSecret accepts a base64 or hex-encoded secret string, as it would
// arrive from an environment variable.
func DecodeSecret(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("fingerprint: empty secret")
	}
	if b, err := hex.DecodeString(s); err == nil && len(b) >= SecretSize {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) >= SecretSize {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil && len(b) >= SecretSize {
		return b, nil
	}
	return nil, fmt.Errorf("fingerprint: secret must decode to at least %d bytes as hex or base64", SecretSize)
}

// LoadOrGenerateSecret reads the secret from path, or generates a fresh
// 32-byte secret and persists it to path with 0600 permissions if the file
// does not exist. generated reports which path was taken.
func LoadOrGenerateSecret(path string) (secret []byte, generated bool, err error) {
	b, err := os.ReadFile(path)
	if err == nil {
		decoded, derr := DecodeSecret(string(b))
		if derr != nil {
			return nil, false, fmt.Errorf("fingerprint: secret file %s: %w", path, derr)
		}
		return decoded, false, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("fingerprint: read secret file %s: %w", path, err)
	}

	raw := make([]byte, SecretSize)
	if _, err := rand.Read(raw); err != nil {
		return nil, false, fmt.Errorf("fingerprint: generate secret: %w", err)
	}
	encoded := hex.EncodeToString(raw)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, false, fmt.Errorf("fingerprint: write secret file %s: %w", path, err)
	}
	return raw, true, nil
}
