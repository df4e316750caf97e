package core

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/caasmo/acmebigip/cache"
	"github.com/caasmo/acmebigip/config"
	"github.com/caasmo/acmebigip/coordinator"
	"github.com/caasmo/acmebigip/db"
	"github.com/caasmo/acmebigip/router"
	"github.com/caasmo/acmebigip/secretstore"
)

// App is the application wide context.
// db connections and permanent structs should go here.
//
// For simplicity, all handlers and middleware should have App as receiver.
// That is why App lives in package core, the same package as the handlers.

// app is a service with heavy objects for the handlers.
// and also a out the box coded endpoints handlers. (methods)
type App struct {
	db          db.Db
	router      router.Router
	cache       cache.Cache[string, interface{}] // Using string keys and interface{} values
	config      atomic.Value                     // Holds *config.Config, allows atomic swaps
	logger      *slog.Logger
	coordinator *coordinator.Coordinator
	secrets     *secretstore.Client

	// allowKeyExport gates whether GetCertificateBundle includes
	// private_key_pem (spec §6, ALLOW_KEY_EXPORT environment variable).
	allowKeyExport bool
}


func NewApp(opts ...Option) (*App, error) {
	a := &App{}
	for _, opt := range opts {
		opt(a)
	}

	if a.db == nil {
		return nil, fmt.Errorf("db is required but was not provided")
	}
	if a.router.Router == nil {
		return nil, fmt.Errorf("router is required but was not provided")
	}
	// Check if config was initialized via options by loading from atomic.Value
	if a.config.Load() == nil {
		// WithConfig option should have stored the initial config.
		// If it's still nil here, it means WithConfig wasn't used or passed a nil config.
		return nil, fmt.Errorf("config is required but was not provided via WithConfig option")
	}
	if a.logger == nil {
		// Default to slog.Default() if no logger is provided? Or require it?
		// Let's require it for now for explicitness.
		return nil, fmt.Errorf("logger is required but was not provided")
	}

	return a, nil
}

// Router returns the application's router instance
func (a *App) Router() router.Router {
	return a.router
}

// Close all
func (a *App) Close() {
	a.db.Close()
}

// Db returns the database instance
func (a *App) Db() db.Db {
	return a.db
}

// Logger returns the application's logger instance
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Cache returns the application's cache instance
func (a *App) Cache() cache.Cache[string, interface{}] {
	return a.cache
}

// Coordinator returns the Issuance Coordinator driving the REST handlers.
func (a *App) Coordinator() *coordinator.Coordinator {
	return a.coordinator
}

// Secrets returns the Secret Store Adapter client, used directly by the REST
// layer only to read private keys (bundle export and deploy_certificate),
// never for writes.
func (a *App) Secrets() *secretstore.Client {
	return a.secrets
}

// Config returns the currently active application config instance.
// It safely loads the config from the atomic value.
func (a *App) Config() *config.Config {
	// Load returns an interface{}, so we need to assert the type.
	// This is safe because we ensure only *config.Config is stored via SetConfig and WithConfig.
	cfg := a.config.Load().(*config.Config)
	return cfg
}

// SetConfig atomically updates the application's configuration.
// This is intended to be used for hot reloading (e.g., on SIGHUP).
func (a *App) SetConfig(newCfg *config.Config) {
	if newCfg == nil {
		if a.logger != nil {
			a.logger.Error("attempted to set nil configuration")
		}
		return
	}
	a.config.Store(newCfg)
	if a.logger != nil {
		a.logger.Info("configuration reloaded successfully")
	}
}

// SetConfigProvider seeds the app's config snapshot from a Provider. Tests
// build up a Provider incrementally and wire it in without going through
// the full NewApp option chain.
func (a *App) SetConfigProvider(p *config.Provider) {
	a.config.Store(p.Get())
}

// SetLogger sets the application's logger directly, bypassing the Option chain.
func (a *App) SetLogger(l *slog.Logger) {
	a.logger = l
}

// SetCache sets the application's cache directly, bypassing the Option chain.
func (a *App) SetCache(c cache.Cache[string, interface{}]) {
	a.cache = c
}

// SetCoordinator sets the application's Issuance Coordinator directly,
// bypassing the Option chain. Used when the Coordinator's own dependencies
// (a live bigip.Client, secretstore.Client) can only be constructed after
// NewApp has already opened the database (cmd/server/main.go).
func (a *App) SetCoordinator(c *coordinator.Coordinator) {
	a.coordinator = c
}

// SetSecrets sets the application's Secret Store Adapter client directly,
// bypassing the Option chain.
func (a *App) SetSecrets(s *secretstore.Client) {
	a.secrets = s
}

// SetAllowKeyExport gates whether GetCertificateBundle includes
// private_key_pem, bypassing the Option chain.
func (a *App) SetAllowKeyExport(allow bool) {
	a.allowKeyExport = allow
}

