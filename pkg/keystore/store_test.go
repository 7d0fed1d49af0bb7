package keystore

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func noEnv(string) (string, bool) { return "", false }

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "keys.json")
	store, err := Open(path, WithEnvLookup(noEnv))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Save(Keys{Replicate: "  r8_abcdef  ", Gemini: "g-123"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
		}
	}

	reopened, err := Open(path, WithEnvLookup(noEnv))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.Keys(); got.Replicate != "r8_abcdef" || got.Gemini != "g-123" {
		t.Fatalf("unexpected keys after reload: %+v", got)
	}
	key, err := reopened.ReplicateKey()
	if err != nil || key != "r8_abcdef" {
		t.Fatalf("unexpected replicate key %q %v", key, err)
	}
}

func TestReplicateKeyFallsBackToEnv(t *testing.T) {
	store, _ := Open("", WithEnvLookup(func(name string) (string, bool) {
		if name == EnvReplicateToken {
			return "r8_env", true
		}
		return "", false
	}))
	key, err := store.ReplicateKey()
	if err != nil || key != "r8_env" {
		t.Fatalf("expected env fallback, got %q %v", key, err)
	}

	empty, _ := Open("", WithEnvLookup(noEnv))
	if _, err := empty.ReplicateKey(); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestMasked(t *testing.T) {
	m := Keys{Replicate: "r8_abcdef"}.Masked()
	if m.Replicate != "*****cdef" || !m.HasReplicate || m.HasGemini || m.Gemini != "" {
		t.Fatalf("unexpected mask: %+v", m)
	}
}
