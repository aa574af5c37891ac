package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const adminPasswordBytes = 16

// ApplyRuntimeDefaults fills in secrets that must never default to a static
// value. It returns a map naming the keys that were generated so callers can
// surface them once at startup.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.Admin.Email) != "" && strings.TrimSpace(cfg.Auth.Admin.Password) == "" {
		secret, err := generateHexKey(adminPasswordBytes)
		if err != nil {
			return nil, fmt.Errorf("generate admin password: %w", err)
		}
		cfg.Auth.Admin.Password = secret
		generated["auth.admin.password"] = true
	}

	return generated, nil
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
