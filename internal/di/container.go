// Package di provides dependency injection for the Kamui auth CLI.
// It contains the service container and factory functions.
package di

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kamui-project/kamui-auth/internal/auth"
	"github.com/kamui-project/kamui-auth/internal/config"
	"github.com/kamui-project/kamui-auth/internal/instrumentation"
	"github.com/kamui-project/kamui-auth/internal/logging"
	"github.com/kamui-project/kamui-auth/internal/refresh"
	"github.com/kamui-project/kamui-auth/internal/securestore"
	"github.com/kamui-project/kamui-auth/internal/service"
	iface "github.com/kamui-project/kamui-auth/internal/service/interface"
	"github.com/kamui-project/kamui-auth/internal/session"
	"github.com/kamui-project/kamui-auth/internal/tokens"
)

// Options are the command-line overrides applied on top of the config file
// and the environment
type Options struct {
	ConfigPath string
	EnvFiles   []string
	APIURL     string
	LogLevel   string
	LogFormat  string
	Telemetry  string
	Version    string

	// TracerProvider and MeterProvider replace the providers built from
	// the telemetry setting
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	// Passphrase prompts for the store passphrase when the environment does
	// not set one. Nil asks on an interactive terminal.
	Passphrase func() (string, error)
}

// Container holds all service dependencies for the CLI.
// Services are accessed via interfaces to enable mocking in tests.
type Container struct {
	configManager   *config.Manager
	config          *config.Config
	logger          zerolog.Logger
	instrumentation *instrumentation.Instrumentation
	session         *session.Session
	authService     iface.AuthService
}

// NewContainer creates a new dependency container with default implementations.
// It unlocks the token store and restores the persisted session.
func NewContainer(ctx context.Context, opts Options) (*Container, error) {
	configManager, err := newConfigManager(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	cfg, err := configManager.LoadEffective(opts.EnvFiles...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.APIURL != "" {
		cfg.APIURL = opts.APIURL
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.LogFormat = opts.LogFormat
	}
	if opts.Telemetry != "" {
		if err := config.ValidateTelemetry(opts.Telemetry); err != nil {
			return nil, err
		}
		cfg.Telemetry = opts.Telemetry
	}

	logger := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: logging.Format(cfg.LogFormat),
	})

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceVersion: opts.Version,
		TracerProvider: opts.TracerProvider,
		MeterProvider:  opts.MeterProvider,
		Exporter:       cfg.Telemetry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}

	passphrase := cfg.StorePassphrase
	if passphrase == "" {
		prompt := opts.Passphrase
		if prompt == nil {
			prompt = promptPassphrase
		}
		if passphrase, err = prompt(); err != nil {
			return nil, err
		}
	}

	secure, err := securestore.OpenFile(cfg.StorePath, []byte(passphrase))
	if err != nil {
		if errors.Is(err, securestore.ErrDecrypt) {
			return nil, fmt.Errorf("cannot unlock %s: wrong passphrase", cfg.StorePath)
		}
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}

	tokenStore := tokens.NewStore(secure, logger, inst)
	migrator := tokens.NewMigrator(secure, tokenStore, logger, inst)

	// no client-level timeout: refresh.request_timeout bounds each exchange
	tokenClient := auth.NewTokenClient(cfg.APIURL, auth.ClientCredentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}, cfg.RedirectURI, nil)

	coord := refresh.NewCoordinator(refresh.Config{
		ClientID:           cfg.ClientID,
		LeadTime:           cfg.Refresh.LeadTime.Std(),
		MinRefreshInterval: cfg.Refresh.MinRefreshInterval.Std(),
		MaxAttempts:        cfg.Refresh.MaxAttempts,
		RequestTimeout:     cfg.Refresh.RequestTimeout.Std(),
	}, tokenStore, tokenClient, logger, inst)

	sess := session.New(tokenStore, migrator, coord, tokenClient, logger)
	signedIn := sess.Bootstrap(ctx)
	logger.Debug().Bool("signed_in", signedIn).Str("store", cfg.StorePath).Msg("session bootstrapped")

	return &Container{
		configManager:   configManager,
		config:          cfg,
		logger:          logger,
		instrumentation: inst,
		session:         sess,
		authService: service.NewAuthService(service.AuthOptions{
			ConfigManager: configManager,
			Config:        cfg,
			Session:       sess,
			OnClientChanged: func(creds auth.ClientCredentials, redirectURI string) {
				tokenClient.SetClientCredentials(creds)
				tokenClient.SetRedirectURI(redirectURI)
				coord.SetClientID(creds.ClientID)
			},
		}),
	}, nil
}

// NewContainerWithServices creates a container with custom service implementations.
// This is useful for testing with mock services.
func NewContainerWithServices(authService iface.AuthService) *Container {
	return &Container{
		logger:      zerolog.Nop(),
		authService: authService,
	}
}

func newConfigManager(path string) (*config.Manager, error) {
	if path != "" {
		return config.NewManagerWithPath(path), nil
	}
	return config.NewManager()
}

// promptPassphrase asks for the store passphrase on an interactive terminal
func promptPassphrase() (string, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return "", fmt.Errorf("token store is locked: set %s", config.EnvStorePassphrase)
	}

	var passphrase string
	prompt := &survey.Password{Message: "Token store passphrase:"}
	if err := survey.AskOne(prompt, &passphrase, survey.WithValidator(survey.Required)); err != nil {
		return "", err
	}
	return passphrase, nil
}

// AuthService returns the authentication service
func (c *Container) AuthService() iface.AuthService {
	return c.authService
}

// Session returns the session facade, or nil for a mock container
func (c *Container) Session() *session.Session {
	return c.session
}

// Config returns the effective configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// ConfigManager returns the config manager
func (c *Container) ConfigManager() *config.Manager {
	return c.configManager
}

// Logger returns the shared logger
func (c *Container) Logger() zerolog.Logger {
	return c.logger
}

// Close flushes instrumentation
func (c *Container) Close(ctx context.Context) error {
	if c.instrumentation == nil {
		return nil
	}
	return c.instrumentation.Shutdown(ctx)
}
