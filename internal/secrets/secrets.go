package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Lookup resolves a secret from KEY_FILE (Docker/K8s mounted secret) or KEY.
// The bool result reports whether any source was set.
func Lookup(envKey string) (string, bool, error) {
	if filePath := os.Getenv(envKey + "_FILE"); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", true, fmt.Errorf("read secret file %s: %w", filePath, err)
		}
		return strings.TrimSpace(string(data)), true, nil
	}

	if value, ok := os.LookupEnv(envKey); ok && value != "" {
		return value, true, nil
	}

	return "", false, nil
}

// Get returns the secret or an error if it is required and missing
func Get(envKey string, required bool) (string, error) {
	value, ok, err := Lookup(envKey)
	if err != nil {
		return "", err
	}
	if !ok && required {
		return "", fmt.Errorf("secret %s is required but not set", envKey)
	}
	return value, nil
}

// Optional returns the secret or defaultValue when unset or unreadable
func Optional(envKey, defaultValue string) string {
	value, ok, err := Lookup(envKey)
	if err != nil || !ok {
		return defaultValue
	}
	return value
}
