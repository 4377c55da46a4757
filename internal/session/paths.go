package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.chatty.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatty")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// TokenPath returns the bearer token file path for a session.
func TokenPath(name string) string {
	return filepath.Join(Dir(name), "token")
}

// CacheDBPath returns the offline cache chatty.db path.
func CacheDBPath(name string) string {
	return filepath.Join(Dir(name), "chatty.db")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the client log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "chatty.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
