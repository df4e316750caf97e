// Command server runs the ACME/BIG-IP issuance orchestrator's REST API,
// renewal sweep, and batched log sink as one process (spec §6/§11).
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/caasmo/acmebigip/backup"
	"github.com/caasmo/acmebigip/bigip"
	"github.com/caasmo/acmebigip/cache/ristretto"
	"github.com/caasmo/acmebigip/config"
	"github.com/caasmo/acmebigip/coordinator"
	"github.com/caasmo/acmebigip/notify"
	"github.com/caasmo/acmebigip/notify/discord"
	"github.com/caasmo/acmebigip/secretstore"
	"github.com/caasmo/acmebigip/server"
	"github.com/caasmo/acmebigip/setup"
)

func main() {
	tomlPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	dbfile := flag.String("dbfile", "", "overrides Config.DBFile when set")
	flag.Parse()

	cfg, err := config.Load(*tomlPath, *dbfile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	provider := config.NewProvider(cfg)

	app, err := setup.SetupApp(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "setup:", err)
		os.Exit(1)
	}
	defer app.Close()

	logDaemon, err := setup.SetupLogDaemon(app, provider)
	if err != nil {
		fmt.Fprintln(os.Stderr, "setup:", err)
		os.Exit(1)
	}

	logger := app.Logger()

	secretsClient, err := secretstore.New(secretstore.Options{
		Addr:   os.Getenv("VAULT_ADDR"),
		Token:  os.Getenv("VAULT_TOKEN"),
		CAPath: os.Getenv("VAULT_CACERT"),
	}, logger)
	if err != nil {
		logger.Error("secretstore: setup failed", "err", err)
		os.Exit(1)
	}

	profileExists, err := ristretto.New[bool](cfg.Cache.Level)
	if err != nil {
		logger.Error("cache: setup failed", "err", err)
		os.Exit(1)
	}

	bigipHost := os.Getenv("BIGIP_HOST")
	if bigipHost == "" {
		bigipHost = cfg.Scheduler.BigipHost
	}
	lbClient, err := bigip.New(bigip.Options{
		Host:     bigipHost,
		Username: os.Getenv("BIGIP_USER"),
		Password: os.Getenv("BIGIP_PASS"),
	}, logger, profileExists)
	if err != nil {
		logger.Error("bigip: setup failed", "err", err)
		os.Exit(1)
	}

	metrics := coordinator.NewMetrics(prometheus.DefaultRegisterer)

	acmeHome := os.Getenv("ACME_HOME")
	coordOpts := coordinator.Options{
		AcmeBinary:         acmeBinaryPath(),
		AcmeHome:           acmeHome,
		WorkRoot:           "/work",
		BigipHost:          bigipHost,
		DatagroupPartition: cfg.Scheduler.BigipPartition,
	}
	coord, err := coordinator.New(coordOpts, app.Db(), secretsClient, lbClient, logger, metrics)
	if err != nil {
		logger.Error("coordinator: setup failed", "err", err)
		os.Exit(1)
	}

	app.SetCoordinator(coord)
	app.SetSecrets(secretsClient)
	app.SetAllowKeyExport(os.Getenv("ALLOW_KEY_EXPORT") == "true")
	app.RegisterRoutes()

	notifier := buildNotifier(cfg.Notifier, logger)
	scheduler := setup.SetupScheduler(cfg, app.Db(), coord, notifier, logger)

	reload := func() error {
		fresh, err := config.Load(*tomlPath, *dbfile)
		if err != nil {
			return err
		}
		provider.Update(fresh)
		app.SetConfig(fresh)
		return nil
	}

	srv := server.NewServer(provider, app.Router().Router, logger, reload)
	srv.AddDaemon(scheduler)
	srv.AddDaemon(logDaemon)

	if cfg.Litestream.Activated {
		ls, err := backup.NewLitestream(provider, logger)
		if err != nil {
			logger.Error("litestream: setup failed", "err", err)
			os.Exit(1)
		}
		srv.AddDaemon(ls)
	}

	srv.Run()
}

// acmeBinaryPath locates the external ACME client CLI, defaulting to the
// name on $PATH per spec §6.
func acmeBinaryPath() string {
	if p := os.Getenv("ACME_BIN"); p != "" {
		return p
	}
	return "acme.sh"
}

// buildNotifier wires the Discord notifier when activated, falling back to
// a no-op so the Scheduler's terminal-failure alerts never block on a
// missing webhook (spec §11 notifications supplement).
func buildNotifier(cfg config.Notifier, logger *slog.Logger) notify.Notifier {
	if !cfg.Discord.Activated {
		return notify.NewNilNotifier()
	}
	n, err := discord.New(cfg.Discord, logger)
	if err != nil {
		logger.Error("discord notifier: setup failed, falling back to nil notifier", "err", err)
		return notify.NewNilNotifier()
	}
	return n
}
