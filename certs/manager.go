// Package certs obtains and renews certificates from an ACME CA using the
// dns-01 challenge, delegating record management to a challenge.Provider.
package certs

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/EnginEken/certbot-dns-csc/dnscheck"
)

// Config holds ACME issuance settings.
type Config struct {
	Email      string
	UseStaging bool   // use the Let's Encrypt staging directory
	CADirURL   string // explicit directory URL, overrides UseStaging
	DataDir    string // certificates, account key, and state live here

	// PropagationWait is how long to wait after creating challenge records
	// before the first propagation check (certbot's propagation-seconds).
	PropagationWait time.Duration
	// Resolver is an optional host:port used to verify the TXT record is
	// visible before validation is requested. Empty means lego's default
	// authoritative-nameserver check.
	Resolver string

	RenewBefore int // days before expiry to renew
}

// State records the last successful issuance, for the renew loop.
type State struct {
	Email       string    `json:"email"`
	Domains     []string  `json:"domains"`
	LastRenewal time.Time `json:"last_renewal"`
	NextRenewal time.Time `json:"next_renewal"`
}

// acmeUser implements registration.User for our account key.
type acmeUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// Manager drives certificate issuance through lego with a dns-01 provider.
type Manager struct {
	config    Config
	provider  challenge.Provider
	stopRenew chan struct{}
}

// NewManager creates a Manager. The provider handles Present/CleanUp for the
// dns-01 challenge records.
func NewManager(config Config, provider challenge.Provider) (*Manager, error) {
	if config.Email == "" {
		return nil, fmt.Errorf("certs: email is required")
	}
	if config.DataDir == "" {
		config.DataDir = "."
	}
	if config.RenewBefore <= 0 {
		config.RenewBefore = 30
	}
	if err := os.MkdirAll(config.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("certs: create data dir: %w", err)
	}

	return &Manager{
		config:    config,
		provider:  provider,
		stopRenew: make(chan struct{}),
	}, nil
}

// Obtain requests a certificate for the given domains and writes the bundled
// certificate and key under the data directory, keyed by the first domain.
func (m *Manager) Obtain(domains []string) error {
	if len(domains) == 0 {
		return fmt.Errorf("certs: no domains specified")
	}

	accountKey, err := m.accountKey()
	if err != nil {
		return err
	}
	user := &acmeUser{email: m.config.Email, key: accountKey}

	config := lego.NewConfig(user)
	switch {
	case m.config.CADirURL != "":
		config.CADirURL = m.config.CADirURL
	case m.config.UseStaging:
		config.CADirURL = lego.LEDirectoryStaging
		log.Printf("ACME: using Let's Encrypt STAGING environment")
	default:
		config.CADirURL = lego.LEDirectoryProduction
	}
	config.Certificate.KeyType = certcrypto.EC256

	client, err := lego.NewClient(config)
	if err != nil {
		return fmt.Errorf("certs: create ACME client: %w", err)
	}

	if err := client.Challenge.SetDNS01Provider(m.provider, m.challengeOptions()...); err != nil {
		return fmt.Errorf("certs: set dns-01 provider: %w", err)
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return fmt.Errorf("certs: register ACME account: %w", err)
	}
	user.registration = reg

	request := certificate.ObtainRequest{Domains: domains, Bundle: true}
	res, err := client.Certificate.Obtain(request)
	if err != nil {
		return fmt.Errorf("certs: obtain certificate: %w", err)
	}

	if err := m.writeCertificate(domains[0], res); err != nil {
		return err
	}

	state := State{
		Email:       m.config.Email,
		Domains:     domains,
		LastRenewal: time.Now(),
		NextRenewal: time.Now().Add(time.Duration(90-m.config.RenewBefore) * 24 * time.Hour),
	}
	if err := m.saveState(&state); err != nil {
		log.Printf("Warning: failed to save ACME state: %v", err)
	}

	log.Printf("Successfully obtained certificate for %v", domains)
	return nil
}

// challengeOptions assembles the dns-01 options: the configured propagation
// wait, and a TXT pre-check against the configured resolver when one is set.
func (m *Manager) challengeOptions() []dns01.ChallengeOption {
	var opts []dns01.ChallengeOption

	if m.config.PropagationWait > 0 {
		opts = append(opts, dns01.PropagationWait(m.config.PropagationWait, false))
	}

	if m.config.Resolver != "" {
		resolver := m.config.Resolver
		opts = append(opts,
			dns01.AddRecursiveNameservers([]string{resolver}),
			dns01.WrapPreCheck(func(domain, fqdn, value string, check dns01.PreCheckFunc) (bool, error) {
				return dnscheck.VerifyTXT(fqdn, value, resolver)
			}),
		)
	}

	return opts
}

// Renew re-obtains the certificate recorded in the state file.
func (m *Manager) Renew() error {
	state, err := m.loadState()
	if err != nil {
		return fmt.Errorf("certs: no previous issuance to renew: %w", err)
	}
	return m.Obtain(state.Domains)
}

// StartAutoRenew checks daily whether the recorded certificate is due and
// renews it. Stop with StopAutoRenew.
func (m *Manager) StartAutoRenew() {
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.checkAndRenew()
			case <-m.stopRenew:
				return
			}
		}
	}()
}

// StopAutoRenew stops the auto-renewal loop.
func (m *Manager) StopAutoRenew() {
	close(m.stopRenew)
}

func (m *Manager) checkAndRenew() {
	state, err := m.loadState()
	if err != nil {
		return
	}
	if time.Now().After(state.NextRenewal) {
		log.Printf("Certificate renewal due for %v, renewing", state.Domains)
		if err := m.Obtain(state.Domains); err != nil {
			log.Printf("Failed to renew certificate: %v", err)
		}
	}
}

// accountKey loads the ACME account key from the data directory, generating
// and persisting a new P-256 key on first use.
func (m *Manager) accountKey() (crypto.PrivateKey, error) {
	path := filepath.Join(m.config.DataDir, "account.pem")

	if data, err := os.ReadFile(path); err == nil {
		block, _ := pem.Decode(data)
		if block != nil {
			if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
				return key, nil
			}
		}
		return nil, fmt.Errorf("certs: malformed account key %s", path)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("certs: generate account key: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("certs: marshal account key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(path, keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("certs: save account key: %w", err)
	}
	return key, nil
}

// writeCertificate stores the obtained bundle and key as <name>.crt/<name>.key.
func (m *Manager) writeCertificate(domain string, res *certificate.Resource) error {
	name := sanitizeName(domain)

	certPath := filepath.Join(m.config.DataDir, name+".crt")
	if err := os.WriteFile(certPath, res.Certificate, 0o644); err != nil {
		return fmt.Errorf("certs: write certificate: %w", err)
	}
	keyPath := filepath.Join(m.config.DataDir, name+".key")
	if err := os.WriteFile(keyPath, res.PrivateKey, 0o600); err != nil {
		return fmt.Errorf("certs: write private key: %w", err)
	}

	log.Printf("Wrote %s and %s", certPath, keyPath)
	return nil
}

// sanitizeName maps a domain to a safe file name (wildcards drop their "*.").
func sanitizeName(domain string) string {
	return strings.TrimPrefix(domain, "*.")
}

func (m *Manager) statePath() string {
	return filepath.Join(m.config.DataDir, "acme-state.json")
}

func (m *Manager) loadState() (*State, error) {
	data, err := os.ReadFile(m.statePath())
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (m *Manager) saveState(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.statePath(), data, 0o644)
}
