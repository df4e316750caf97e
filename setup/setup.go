package setup

import (
	"fmt"
	"log/slog"
	"os"

	phuslog "github.com/phuslu/log"

	"github.com/caasmo/acmebigip/cache/ristretto"
	"github.com/caasmo/acmebigip/config"
	"github.com/caasmo/acmebigip/core"
	"github.com/caasmo/acmebigip/db"
	"github.com/caasmo/acmebigip/db/zombiezen"
	"github.com/caasmo/acmebigip/log"
	"github.com/caasmo/acmebigip/notify"
	scl "github.com/caasmo/acmebigip/queue/scheduler"
	"github.com/caasmo/acmebigip/router"
)

// SetupApp wires a core.App from a loaded configuration: a zombiezen sqlite
// Db, an httprouter-backed Router, a Ristretto cache sized per cfg.Cache.Level,
// and a slog logger backed by phuslu/log's JSON handler writing to stderr.
func SetupApp(cfg *config.Config) (*core.App, error) {
	dbAdapter, err := zombiezen.New(cfg.DBFile)
	if err != nil {
		return nil, fmt.Errorf("setup: opening db: %w", err)
	}

	c, err := ristretto.New[interface{}](cfg.Cache.Level)
	if err != nil {
		return nil, fmt.Errorf("setup: creating cache: %w", err)
	}

	logger := slog.New(phuslog.SlogNewJSONHandler(os.Stderr, nil))

	app, err := core.NewApp(
		core.WithDb(dbAdapter),
		core.WithRouter(*router.New()),
		core.WithCache(c),
		core.WithConfig(cfg),
		core.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("setup: building app: %w", err)
	}

	return app, nil
}

// SetupLogDaemon starts the buffered log sink and swaps app's logger to write
// through it, so all subsequent App.Logger() calls flow into Log.Batch.DbPath
// instead of stderr. Returns the Daemon so the caller can Stop it on shutdown.
func SetupLogDaemon(app *core.App, provider *config.Provider) (*log.Daemon, error) {
	cfg := provider.Get()
	app.Logger().Info("starting buffered log sink", "path", cfg.Log.Batch.DbPath)

	daemon, err := log.New(provider, app.Logger())
	if err != nil {
		return nil, fmt.Errorf("setup: creating log daemon: %w", err)
	}

	recordChan, daemonCtx := daemon.Chan()
	batchHandler := log.NewBatchHandler(provider, recordChan, daemonCtx)
	app.SetLogger(slog.New(batchHandler))

	if err := daemon.Start(); err != nil {
		return nil, fmt.Errorf("setup: starting log daemon: %w", err)
	}
	return daemon, nil
}

// SetupScheduler wires the renewal sweep against an already-constructed
// Coordinator; the caller owns the Coordinator's own ACME/LB/secret-store
// dependencies since those require a live bigip.Client and secretstore.Client
// the generic setup layer doesn't otherwise need.
func SetupScheduler(cfg *config.Config, dbAdapter db.Db, renewer scl.Renewer, notifier notify.Notifier, logger *slog.Logger) *scl.Scheduler {
	return scl.NewScheduler(cfg.Scheduler, dbAdapter, renewer, notifier, logger)
}
