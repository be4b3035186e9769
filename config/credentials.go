// Package config loads CSC API credentials the same way the certbot plugin
// does: from an INI file with dns_csc_* keys, falling back to the
// environment. Credentials are opaque strings scoped to a single process
// invocation; nothing here is persisted.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"gopkg.in/ini.v1"
)

// INI keys, matching the certbot credentials file format.
const (
	keyAPIKey      = "dns_csc_api_key"
	keyBearerToken = "dns_csc_bearer_token"
	keyBaseURL     = "dns_csc_base_url"
)

// Credentials holds the API key and bearer token pair used to authenticate
// every call to the CSC API, plus an optional base URL override.
type Credentials struct {
	APIKey      string
	BearerToken string
	BaseURL     string
}

// Load reads credentials from an INI file:
//
//	dns_csc_api_key = myremoteuser
//	dns_csc_bearer_token = mysecretremotetoken
//
// A warning is logged when the file is readable by group or other; these
// credentials can complete dns-01 challenges for every domain the account
// manages.
func Load(path string, log logr.Logger) (*Credentials, error) {
	warnOnInsecurePermissions(path, log)

	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: read credentials file %s: %w", path, err)
	}

	section := file.Section("")
	creds := &Credentials{
		APIKey:      section.Key(keyAPIKey).String(),
		BearerToken: section.Key(keyBearerToken).String(),
		BaseURL:     section.Key(keyBaseURL).String(),
	}

	if creds.APIKey == "" {
		return nil, fmt.Errorf("config: %s: missing %s", path, keyAPIKey)
	}
	if creds.BearerToken == "" {
		return nil, fmt.Errorf("config: %s: missing %s", path, keyBearerToken)
	}
	return creds, nil
}

// warnOnInsecurePermissions mirrors certbot's "Unsafe permissions on
// credentials configuration file" warning. Permission bits are advisory on
// platforms without POSIX modes, so this never fails the load.
func warnOnInsecurePermissions(path string, log logr.Logger) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0o077 != 0 {
		log.Info("unsafe permissions on credentials configuration file, chmod 600 recommended",
			"path", path, "mode", info.Mode().Perm().String())
	}
}

// Watch invokes onChange whenever the credentials file is rewritten, until
// ctx is cancelled. Intended for the renew daemon, where rotated credentials
// should be picked up without a restart. The parent directory is watched
// rather than the file itself so atomic rename-into-place updates are seen.
func Watch(ctx context.Context, path string, log logr.Logger, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					log.Info("credentials file changed, reloading", "path", path)
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error(err, "credentials watcher error", "path", path)
			}
		}
	}()

	return nil
}
