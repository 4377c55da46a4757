package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".chatty", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestTokenPath(t *testing.T) {
	got := TokenPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "token")) {
		t.Errorf("TokenPath(test) = %q, want suffix sessions/test/token", got)
	}
}

func TestCacheDBPath(t *testing.T) {
	got := CacheDBPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "chatty.db")) {
		t.Errorf("CacheDBPath(test) = %q, want suffix sessions/test/chatty.db", got)
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if err := EnsureDir("test"); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}

	info, err := os.Stat(Dir("test"))
	if err != nil {
		t.Fatalf("session dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("session dir is not a directory")
	}
	if _, err := os.Stat(LogDir("test")); err != nil {
		t.Errorf("log dir not created: %v", err)
	}
}
