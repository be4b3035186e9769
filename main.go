// Command certbot-dns-csc obtains certificates via the ACME dns-01 challenge,
// managing TXT records through the CSC Global Domain Manager API.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/EnginEken/certbot-dns-csc/certs"
	"github.com/EnginEken/certbot-dns-csc/config"
	"github.com/EnginEken/certbot-dns-csc/csc"
	"github.com/EnginEken/certbot-dns-csc/dnscheck"
	"github.com/EnginEken/certbot-dns-csc/provider"
)

var (
	credentialsFile string
	baseURL         string
	verbose         bool
)

func main() {
	root := &cobra.Command{
		Use:          "certbot-dns-csc",
		Short:        "dns-01 certificate issuance via the CSC Global Domain Manager API",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&credentialsFile, "credentials", "", "CSC credentials INI file (dns_csc_api_key / dns_csc_bearer_token)")
	root.PersistentFlags().StringVar(&baseURL, "base-url", "", "CSC API base URL override")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(zonesCmd(), presentCmd(), cleanupCmd(), verifyCmd(), obtainCmd(), renewCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() logr.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return logr.FromSlogHandler(handler)
}

// providerConfig resolves credentials and the base URL one way for every
// command: the credentials file when given, CSC_* environment variables
// otherwise, with the --base-url flag overriding both.
func providerConfig(logger logr.Logger) (*provider.Config, error) {
	cfg := provider.NewDefaultConfig()
	cfg.Logger = logger

	if credentialsFile != "" {
		creds, err := config.Load(credentialsFile, logger)
		if err != nil {
			return nil, err
		}
		cfg.APIKey = creds.APIKey
		cfg.BearerToken = creds.BearerToken
		if creds.BaseURL != "" {
			cfg.BaseURL = creds.BaseURL
		}
	} else {
		cfg.APIKey = os.Getenv(provider.EnvAPIKey)
		cfg.BearerToken = os.Getenv(provider.EnvBearerToken)
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return cfg, nil
}

func newProvider(logger logr.Logger) (*provider.DNSProvider, error) {
	cfg, err := providerConfig(logger)
	if err != nil {
		return nil, err
	}
	return provider.NewDNSProviderConfig(cfg)
}

func newClient(logger logr.Logger) (*csc.Client, error) {
	cfg, err := providerConfig(logger)
	if err != nil {
		return nil, err
	}
	return csc.NewClient(csc.Options{
		APIKey:      cfg.APIKey,
		BearerToken: cfg.BearerToken,
		BaseURL:     cfg.BaseURL,
		HTTPTimeout: cfg.HTTPTimeout,
		Logger:      logger,
	})
}

// zonesCmd lists the zones the account manages, the first thing to check
// when a domain unexpectedly fails to resolve to a zone.
func zonesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "zones",
		Short: "List DNS zones managed by the account",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(newLogger())
			if err != nil {
				return err
			}
			zones, err := client.ListZones(cmd.Context())
			if err != nil {
				return err
			}
			for _, z := range zones {
				fmt.Printf("%s\t%s\n", z.ZoneName, z.ID)
			}
			fmt.Fprintf(os.Stderr, "%d zones\n", len(zones))
			return nil
		},
	}
}

func presentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "present <domain> <token> <key-auth>",
		Short: "Create the dns-01 challenge TXT record for a domain",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newProvider(newLogger())
			if err != nil {
				return err
			}
			return p.Present(args[0], args[1], args[2])
		},
	}
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <domain> <token> <key-auth>",
		Short: "Remove the dns-01 challenge TXT record for a domain",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newProvider(newLogger())
			if err != nil {
				return err
			}
			return p.CleanUp(args[0], args[1], args[2])
		},
	}
}

func verifyCmd() *cobra.Command {
	var resolver string

	cmd := &cobra.Command{
		Use:   "verify <fqdn> <value>",
		Short: "Check whether a TXT record has propagated to a resolver",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := dnscheck.VerifyTXT(args[0], args[1], resolver)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("record %s not visible at %s", args[0], resolver)
			}
			fmt.Println("record visible")
			return nil
		},
	}
	cmd.Flags().StringVar(&resolver, "resolver", "8.8.8.8:53", "resolver to query (host:port)")
	return cmd
}

func obtainCmd() *cobra.Command {
	var (
		domains            []string
		email              string
		dataDir            string
		staging            bool
		caDirURL           string
		resolver           string
		propagationSeconds int
	)

	cmd := &cobra.Command{
		Use:   "obtain",
		Short: "Obtain a certificate for one or more domains",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			p, err := newProvider(logger)
			if err != nil {
				return err
			}

			mgr, err := certs.NewManager(certs.Config{
				Email:           email,
				UseStaging:      staging,
				CADirURL:        caDirURL,
				DataDir:         dataDir,
				PropagationWait: time.Duration(propagationSeconds) * time.Second,
				Resolver:        resolver,
			}, p)
			if err != nil {
				return err
			}
			return mgr.Obtain(domains)
		},
	}
	cmd.Flags().StringSliceVarP(&domains, "domain", "d", nil, "domain to include in the certificate (repeatable)")
	cmd.Flags().StringVar(&email, "email", "", "account email for ACME registration")
	cmd.Flags().StringVar(&dataDir, "data", "./data", "directory for certificates and account key")
	cmd.Flags().BoolVar(&staging, "staging", false, "use the Let's Encrypt staging environment")
	cmd.Flags().StringVar(&caDirURL, "server", "", "ACME directory URL (overrides --staging)")
	cmd.Flags().StringVar(&resolver, "resolver", "", "resolver for propagation pre-checks (host:port)")
	cmd.Flags().IntVar(&propagationSeconds, "propagation-seconds", 10, "seconds to wait for DNS propagation before validation")
	cmd.MarkFlagRequired("domain")
	cmd.MarkFlagRequired("email")
	return cmd
}

// renewCmd runs the auto-renew loop, reloading credentials when the INI file
// is rotated.
func renewCmd() *cobra.Command {
	var (
		email              string
		dataDir            string
		staging            bool
		resolver           string
		propagationSeconds int
	)

	cmd := &cobra.Command{
		Use:   "renew",
		Short: "Run as a daemon, renewing the recorded certificate before expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			p, err := newProvider(logger)
			if err != nil {
				return err
			}

			mgr, err := certs.NewManager(certs.Config{
				Email:           email,
				UseStaging:      staging,
				DataDir:         dataDir,
				PropagationWait: time.Duration(propagationSeconds) * time.Second,
				Resolver:        resolver,
			}, p)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if credentialsFile != "" {
				err := config.Watch(ctx, credentialsFile, logger, func() {
					cfg, err := providerConfig(logger)
					if err != nil {
						logger.Error(err, "reload credentials failed, keeping previous")
						return
					}
					if err := p.Reload(cfg); err != nil {
						logger.Error(err, "reload credentials failed, keeping previous")
					}
				})
				if err != nil {
					return err
				}
			}

			mgr.StartAutoRenew()
			defer mgr.StopAutoRenew()
			log.Printf("Renew daemon started, watching %s", dataDir)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			log.Printf("Shutting down")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email for ACME registration")
	cmd.Flags().StringVar(&dataDir, "data", "./data", "directory for certificates and account key")
	cmd.Flags().BoolVar(&staging, "staging", false, "use the Let's Encrypt staging environment")
	cmd.Flags().StringVar(&resolver, "resolver", "", "resolver for propagation pre-checks (host:port)")
	cmd.Flags().IntVar(&propagationSeconds, "propagation-seconds", 10, "seconds to wait for DNS propagation before validation")
	cmd.MarkFlagRequired("email")
	return cmd
}
