package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// secretKeyFile is the name of the generated key file under the data dir.
const secretKeyFile = ".secret_key"

// EnsureSecretKey returns the webhook signing key. A configured
// security.secret_key wins; otherwise a 32-byte hex key is generated once and
// persisted under the data dir with mode 0600 so it survives restarts.
func EnsureSecretKey(cfg *Config) (string, error) {
	if cfg.Security.SecretKey != "" {
		return cfg.Security.SecretKey, nil
	}

	path := filepath.Join(cfg.Storage.DataDir, secretKeyFile)
	if data, err := os.ReadFile(path); err == nil {
		key := strings.TrimSpace(string(data))
		if key != "" {
			return key, nil
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret key: %w", err)
	}
	key := hex.EncodeToString(buf)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(key), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist secret key: %w", err)
	}
	return key, nil
}
