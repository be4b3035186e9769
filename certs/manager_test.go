package certs

import (
	"crypto/ecdsa"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	m, err := NewManager(Config{
		Email:   "admin@example.com",
		DataDir: t.TempDir(),
	}, nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	return m
}

func TestNewManager_RequiresEmail(t *testing.T) {
	if _, err := NewManager(Config{DataDir: t.TempDir()}, nil); err == nil {
		t.Error("Expected error for missing email")
	}
}

func TestAccountKey_PersistsAcrossLoads(t *testing.T) {
	m := newTestManager(t)

	key1, err := m.accountKey()
	if err != nil {
		t.Fatalf("Failed to generate account key: %v", err)
	}

	// Key file must be private to the user.
	info, err := os.Stat(filepath.Join(m.config.DataDir, "account.pem"))
	if err != nil {
		t.Fatalf("Account key file missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("Account key mode = %v, want 0600", perm)
	}

	key2, err := m.accountKey()
	if err != nil {
		t.Fatalf("Failed to reload account key: %v", err)
	}
	if !key1.(*ecdsa.PrivateKey).Equal(key2.(*ecdsa.PrivateKey)) {
		t.Error("Reloaded account key differs from the generated one")
	}
}

func TestAccountKey_Malformed(t *testing.T) {
	m := newTestManager(t)

	path := filepath.Join(m.config.DataDir, "account.pem")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if _, err := m.accountKey(); err == nil {
		t.Error("Expected error for malformed account key")
	}
}

func TestState_RoundTrip(t *testing.T) {
	m := newTestManager(t)

	want := State{
		Email:       "admin@example.com",
		Domains:     []string{"example.com", "www.example.com"},
		LastRenewal: time.Now().Truncate(time.Second),
		NextRenewal: time.Now().Add(60 * 24 * time.Hour).Truncate(time.Second),
	}
	if err := m.saveState(&want); err != nil {
		t.Fatalf("Failed to save state: %v", err)
	}

	got, err := m.loadState()
	if err != nil {
		t.Fatalf("Failed to load state: %v", err)
	}
	if got.Email != want.Email || len(got.Domains) != 2 {
		t.Errorf("Loaded state = %+v, want %+v", got, want)
	}
	if !got.NextRenewal.Equal(want.NextRenewal) {
		t.Errorf("NextRenewal = %v, want %v", got.NextRenewal, want.NextRenewal)
	}
}

func TestRenew_NoState(t *testing.T) {
	m := newTestManager(t)
	if err := m.Renew(); err == nil {
		t.Error("Expected error when no previous issuance exists")
	}
}

func TestSanitizeName(t *testing.T) {
	if got := sanitizeName("*.example.com"); got != "example.com" {
		t.Errorf("sanitizeName(*.example.com) = %q, want example.com", got)
	}
	if got := sanitizeName("example.com"); got != "example.com" {
		t.Errorf("sanitizeName(example.com) = %q", got)
	}
}
