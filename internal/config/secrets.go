package config

import (
	"fmt"
	"os"
	"path/filepath"
)

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.toml")
}

// secretsFile reads secrets from a TOML file laid out like the config file,
// e.g. [store] api_key = "...".
type secretsFile struct {
	path string
}

func (f secretsFile) Get(key string) (string, error) {
	if _, err := os.Stat(f.path); err != nil {
		return "", fmt.Errorf("secrets file not available: %w", err)
	}
	v, ok := newFileBackend(f.path).Get(key)
	if !ok {
		return "", fmt.Errorf("secret %q not found", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("secret %q is not a string", key)
	}
	return s, nil
}

// SetSecret stores a secret in the secrets file.
func SetSecret(key, value string) error {
	return setSecretAt(secretsFilePath(), key, value)
}

func setSecretAt(path, key, value string) error {
	if !isSecret(key) {
		return fmt.Errorf("%q is not a secret key", key)
	}
	return newFileBackend(path).Set(key, value)
}
