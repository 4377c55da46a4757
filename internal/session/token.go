package session

import (
	"os"
	"strings"
)

// LoadToken reads the persisted bearer token for a session.
// Returns an empty string if no token has been stored.
func LoadToken(name string) string {
	data, err := os.ReadFile(TokenPath(name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SaveToken persists a bearer token for a session with 0600 permissions.
func SaveToken(name, token string) error {
	if err := EnsureDir(name); err != nil {
		return err
	}
	return os.WriteFile(TokenPath(name), []byte(token+"\n"), 0600)
}

// ClearToken removes the persisted bearer token. Missing file is not an error.
func ClearToken(name string) error {
	err := os.Remove(TokenPath(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
