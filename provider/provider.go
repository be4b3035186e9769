// Package provider implements a go-acme/lego challenge.Provider that
// completes dns-01 challenges through the CSC Global Domain Manager API.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/platform/config/env"
	"github.com/go-logr/logr"

	"github.com/EnginEken/certbot-dns-csc/csc"
)

// Environment variables read by NewDNSProvider.
const (
	EnvAPIKey      = "CSC_API_KEY"
	EnvBearerToken = "CSC_BEARER_TOKEN"
	EnvBaseURL     = "CSC_BASE_URL"

	EnvTTL                = "CSC_TTL"
	EnvPropagationTimeout = "CSC_PROPAGATION_TIMEOUT"
	EnvPollingInterval    = "CSC_POLLING_INTERVAL"
	EnvHTTPTimeout        = "CSC_HTTP_TIMEOUT"
)

const defaultTTL = 300

// Config holds the provider configuration.
type Config struct {
	APIKey      string
	BearerToken string
	BaseURL     string

	TTL                int
	PropagationTimeout time.Duration
	PollingInterval    time.Duration
	HTTPTimeout        time.Duration

	Logger logr.Logger
}

// NewDefaultConfig returns a Config populated from the environment, with
// lego-conventional defaults for anything unset.
func NewDefaultConfig() *Config {
	return &Config{
		BaseURL:            env.GetOrDefaultString(EnvBaseURL, csc.DefaultBaseURL),
		TTL:                env.GetOrDefaultInt(EnvTTL, defaultTTL),
		PropagationTimeout: env.GetOrDefaultSecond(EnvPropagationTimeout, 2*time.Minute),
		PollingInterval:    env.GetOrDefaultSecond(EnvPollingInterval, 5*time.Second),
		HTTPTimeout:        env.GetOrDefaultSecond(EnvHTTPTimeout, 30*time.Second),
		Logger:             logr.Discard(),
	}
}

// DNSProvider implements challenge.Provider for the CSC API.
//
// The config and client can be swapped at runtime with Reload; the mutex
// keeps that swap safe against challenges in flight on other goroutines.
type DNSProvider struct {
	mu     sync.RWMutex
	config *Config
	client *csc.Client
}

// NewDNSProvider creates a provider configured from the environment.
// CSC_API_KEY and CSC_BEARER_TOKEN are required.
func NewDNSProvider() (*DNSProvider, error) {
	values, err := env.Get(EnvAPIKey, EnvBearerToken)
	if err != nil {
		return nil, fmt.Errorf("csc: %w", err)
	}

	config := NewDefaultConfig()
	config.APIKey = values[EnvAPIKey]
	config.BearerToken = values[EnvBearerToken]

	return NewDNSProviderConfig(config)
}

// NewDNSProviderConfig creates a provider from an explicit configuration.
func NewDNSProviderConfig(config *Config) (*DNSProvider, error) {
	d := &DNSProvider{}
	if err := d.Reload(config); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload replaces the provider's configuration and API client, for daemons
// that pick up rotated credentials without restarting. Safe to call while
// other goroutines are presenting or cleaning up challenges; on error the
// previous credentials stay in effect.
func (d *DNSProvider) Reload(config *Config) error {
	if config == nil {
		return errors.New("csc: the configuration of the DNS provider is nil")
	}

	// Keep a private copy so later caller mutation cannot bypass the lock.
	cfg := *config
	if cfg.Logger.GetSink() == nil {
		cfg.Logger = logr.Discard()
	}

	client, err := csc.NewClient(csc.Options{
		APIKey:      cfg.APIKey,
		BearerToken: cfg.BearerToken,
		BaseURL:     cfg.BaseURL,
		HTTPTimeout: cfg.HTTPTimeout,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.config = &cfg
	d.client = client
	d.mu.Unlock()
	return nil
}

// snapshot returns the current client and configuration as one consistent
// pair, so a concurrent Reload cannot mix credentials mid-challenge.
func (d *DNSProvider) snapshot() (*csc.Client, *Config) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.client, d.config
}

// Present creates the TXT record that proves control of domain. The zone is
// resolved fresh against the account's managed zones; a record is never
// created in a zone the API did not return.
func (d *DNSProvider) Present(domain, token, keyAuth string) error {
	info := dns01.GetChallengeInfo(domain, keyAuth)
	ctx := context.Background()
	client, config := d.snapshot()

	zone, err := client.ResolveZone(ctx, info.EffectiveFQDN)
	if err != nil {
		return fmt.Errorf("csc: present %s: %w", domain, err)
	}

	name, err := dns01.ExtractSubDomain(info.EffectiveFQDN, zone.ZoneName)
	if err != nil {
		return fmt.Errorf("csc: present %s: %w", domain, err)
	}

	outcome, err := client.AddTXTRecord(ctx, zone, name, info.Value, config.TTL)
	if err != nil {
		return fmt.Errorf("csc: present %s: %w", domain, err)
	}

	config.Logger.Info("challenge record presented", "domain", domain, "zone", zone.ZoneName, "outcome", outcome.String())
	return nil
}

// CleanUp removes the TXT record matching this challenge's name and value.
// Failures are logged and swallowed: cleanup runs after the CA has already
// made its verification decision, and a leftover record must not fail an
// issuance that succeeded.
func (d *DNSProvider) CleanUp(domain, token, keyAuth string) error {
	info := dns01.GetChallengeInfo(domain, keyAuth)
	ctx := context.Background()
	client, config := d.snapshot()

	zone, err := client.ResolveZone(ctx, info.EffectiveFQDN)
	if err != nil {
		config.Logger.Error(err, "cleanup: zone resolution failed, leaving record in place", "domain", domain)
		return nil
	}

	name, err := dns01.ExtractSubDomain(info.EffectiveFQDN, zone.ZoneName)
	if err != nil {
		config.Logger.Error(err, "cleanup: bad record name, leaving record in place", "domain", domain)
		return nil
	}

	if err := client.DeleteTXTRecord(ctx, zone, name, info.Value); err != nil {
		config.Logger.Error(err, "cleanup: record deletion failed, leaving record in place", "domain", domain)
		return nil
	}

	config.Logger.Info("challenge record removed", "domain", domain, "zone", zone.ZoneName)
	return nil
}

// Timeout returns the propagation timeout and polling interval lego should
// use when checking for the challenge record.
func (d *DNSProvider) Timeout() (timeout, interval time.Duration) {
	_, config := d.snapshot()
	return config.PropagationTimeout, config.PollingInterval
}

// Sequential makes lego solve challenges one at a time, spacing record
// operations so several domains mapping to one zone do not race.
func (d *DNSProvider) Sequential() time.Duration {
	_, config := d.snapshot()
	return config.PollingInterval
}
