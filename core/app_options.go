package core

import (
	"log/slog"

	"github.com/caasmo/acmebigip/cache"
	"github.com/caasmo/acmebigip/config"
	"github.com/caasmo/acmebigip/coordinator"
	"github.com/caasmo/acmebigip/db"
	"github.com/caasmo/acmebigip/router"
	"github.com/caasmo/acmebigip/secretstore"
)

type Option func(*App)

// WithDb sets the database implementation.
func WithDb(d db.Db) Option {
	return func(a *App) {
		a.db = d
	}
}

// WithCache sets the cache implementation
func WithCache(c cache.Cache[string, interface{}]) Option {
	return func(a *App) {
		a.cache = c
	}
}

// WithRouter sets the router implementation
func WithRouter(r router.Router) Option {
	return func(a *App) {
		a.router = r
	}
}

// WithConfig stores the initial configuration snapshot.
func WithConfig(cfg *config.Config) Option {
	return func(a *App) {
		a.config.Store(cfg)
	}
}

// WithLogger sets the logger implementation
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		a.logger = l
	}
}

// WithCoordinator wires the Issuance Coordinator the REST handlers drive.
func WithCoordinator(c *coordinator.Coordinator) Option {
	return func(a *App) {
		a.coordinator = c
	}
}

// WithSecrets wires the Secret Store Adapter client the bundle-export
// handler reads from directly.
func WithSecrets(s *secretstore.Client) Option {
	return func(a *App) {
		a.secrets = s
	}
}

// WithAllowKeyExport gates whether GetCertificateBundle includes
// private_key_pem in its response (spec §6, ALLOW_KEY_EXPORT env var).
func WithAllowKeyExport(allow bool) Option {
	return func(a *App) {
		a.allowKeyExport = allow
	}
}
