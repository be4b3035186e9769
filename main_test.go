package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"

	"github.com/EnginEken/certbot-dns-csc/provider"
)

// setFlags pins the package-level flag variables for one test.
func setFlags(t *testing.T, creds, base string) {
	t.Helper()

	oldCreds, oldBase := credentialsFile, baseURL
	credentialsFile, baseURL = creds, base
	t.Cleanup(func() { credentialsFile, baseURL = oldCreds, oldBase })
}

func setEnv(t *testing.T, key, value string) {
	t.Helper()

	os.Setenv(key, value)
	t.Cleanup(func() { os.Unsetenv(key) })
}

func TestProviderConfig_EnvCredentials(t *testing.T) {
	setFlags(t, "", "")
	setEnv(t, provider.EnvAPIKey, "env-key")
	setEnv(t, provider.EnvBearerToken, "env-token")

	cfg, err := providerConfig(logr.Discard())
	if err != nil {
		t.Fatalf("providerConfig failed: %v", err)
	}
	if cfg.APIKey != "env-key" || cfg.BearerToken != "env-token" {
		t.Errorf("Credentials = %q/%q, want env-key/env-token", cfg.APIKey, cfg.BearerToken)
	}
}

func TestProviderConfig_EnvBaseURL(t *testing.T) {
	// Env-only credentials must honor an env base-URL override the same way
	// the provider path does, or diagnostics would target production.
	setFlags(t, "", "")
	setEnv(t, provider.EnvAPIKey, "env-key")
	setEnv(t, provider.EnvBearerToken, "env-token")
	setEnv(t, provider.EnvBaseURL, "https://apis.test.internal/dbs/api/v2")

	cfg, err := providerConfig(logr.Discard())
	if err != nil {
		t.Fatalf("providerConfig failed: %v", err)
	}
	if cfg.BaseURL != "https://apis.test.internal/dbs/api/v2" {
		t.Errorf("BaseURL = %q, want the env override", cfg.BaseURL)
	}
}

func TestProviderConfig_FlagOverridesEnvBaseURL(t *testing.T) {
	setFlags(t, "", "https://flag.test.internal")
	setEnv(t, provider.EnvAPIKey, "env-key")
	setEnv(t, provider.EnvBearerToken, "env-token")
	setEnv(t, provider.EnvBaseURL, "https://apis.test.internal/dbs/api/v2")

	cfg, err := providerConfig(logr.Discard())
	if err != nil {
		t.Fatalf("providerConfig failed: %v", err)
	}
	if cfg.BaseURL != "https://flag.test.internal" {
		t.Errorf("BaseURL = %q, want the flag override", cfg.BaseURL)
	}
}

func TestProviderConfig_CredentialsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "csc.ini")
	content := "dns_csc_api_key = file-key\ndns_csc_bearer_token = file-token\ndns_csc_base_url = https://file.test.internal\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write credentials file: %v", err)
	}
	setFlags(t, path, "")

	cfg, err := providerConfig(logr.Discard())
	if err != nil {
		t.Fatalf("providerConfig failed: %v", err)
	}
	if cfg.APIKey != "file-key" || cfg.BearerToken != "file-token" {
		t.Errorf("Credentials = %q/%q, want file-key/file-token", cfg.APIKey, cfg.BearerToken)
	}
	if cfg.BaseURL != "https://file.test.internal" {
		t.Errorf("BaseURL = %q, want the file override", cfg.BaseURL)
	}
}

func TestProviderConfig_MissingCredentialsFile(t *testing.T) {
	setFlags(t, filepath.Join(t.TempDir(), "nope.ini"), "")

	if _, err := providerConfig(logr.Discard()); err == nil {
		t.Error("Expected error for missing credentials file")
	}
}
