package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
)

func writeCredFile(t *testing.T, content string, mode os.FileMode) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "csc.ini")
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatalf("Failed to write credentials file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeCredFile(t, `# CSC Global Domain Manager API credentials used by Certbot
dns_csc_api_key = myremoteuser
dns_csc_bearer_token = mysecretremotetoken
`, 0o600)

	creds, err := Load(path, logr.Discard())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if creds.APIKey != "myremoteuser" {
		t.Errorf("APIKey = %q, want myremoteuser", creds.APIKey)
	}
	if creds.BearerToken != "mysecretremotetoken" {
		t.Errorf("BearerToken = %q, want mysecretremotetoken", creds.BearerToken)
	}
	if creds.BaseURL != "" {
		t.Errorf("BaseURL = %q, want empty", creds.BaseURL)
	}
}

func TestLoad_BaseURLOverride(t *testing.T) {
	path := writeCredFile(t, `dns_csc_api_key = k
dns_csc_bearer_token = t
dns_csc_base_url = https://apis.test.internal/dbs/api/v2
`, 0o600)

	creds, err := Load(path, logr.Discard())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if creds.BaseURL != "https://apis.test.internal/dbs/api/v2" {
		t.Errorf("BaseURL = %q", creds.BaseURL)
	}
}

func TestLoad_MissingKeys(t *testing.T) {
	path := writeCredFile(t, "dns_csc_api_key = k\n", 0o600)
	if _, err := Load(path, logr.Discard()); err == nil {
		t.Error("Expected error for missing bearer token")
	}

	path = writeCredFile(t, "dns_csc_bearer_token = t\n", 0o600)
	if _, err := Load(path, logr.Discard()); err == nil {
		t.Error("Expected error for missing API key")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.ini"), logr.Discard()); err == nil {
		t.Error("Expected error for missing file")
	}
}

// countingSink records how many Info lines a logr.Logger emits.
type countingSink struct {
	infos *int
}

func (s countingSink) Info(level int, msg string, kv ...any) { *s.infos++ }
func (s countingSink) Enabled(level int) bool                { return true }
func (s countingSink) Init(info logr.RuntimeInfo)            {}
func (s countingSink) WithValues(kv ...any) logr.LogSink     { return s }
func (s countingSink) WithName(name string) logr.LogSink     { return s }
func (s countingSink) Error(err error, msg string, kv ...any) {}

func TestLoad_InsecurePermissionsWarning(t *testing.T) {
	path := writeCredFile(t, "dns_csc_api_key = k\ndns_csc_bearer_token = t\n", 0o644)

	var infos int
	log := logr.New(countingSink{infos: &infos})

	if _, err := Load(path, log); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if infos == 0 {
		t.Error("Expected a warning for world-readable credentials file")
	}
}

func TestLoad_NoWarningOnTightPermissions(t *testing.T) {
	path := writeCredFile(t, "dns_csc_api_key = k\ndns_csc_bearer_token = t\n", 0o600)

	var infos int
	log := logr.New(countingSink{infos: &infos})

	if _, err := Load(path, log); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if infos != 0 {
		t.Errorf("Expected no warning for 0600 file, got %d log lines", infos)
	}
}

func TestWatch_FiresOnRewrite(t *testing.T) {
	path := writeCredFile(t, "dns_csc_api_key = k\ndns_csc_bearer_token = t\n", 0o600)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 1)
	err := Watch(ctx, path, logr.Discard(), func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("dns_csc_api_key = k2\ndns_csc_bearer_token = t2\n"), 0o600); err != nil {
		t.Fatalf("Failed to rewrite credentials file: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("Watcher did not report the rewrite")
	}
}
