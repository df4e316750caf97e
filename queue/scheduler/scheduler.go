// Package scheduler runs the periodic renewal sweep: on every tick it asks
// the Inventory Adapter for Certificate Records nearing expiry and drives
// each one through the Issuance Coordinator's Renew path (spec §4.6
// `search(expiring_within_days=...)`, §4.7 RENEW).
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"github.com/caasmo/acmebigip/config"
	"github.com/caasmo/acmebigip/coordinator"
	"github.com/caasmo/acmebigip/db"
	"github.com/caasmo/acmebigip/notify"
	"golang.org/x/sync/errgroup"
)

// Renewer is the subset of *coordinator.Coordinator the sweep depends on,
// kept narrow so tests can fake it without a real ACME binary.
type Renewer interface {
	Renew(ctx context.Context, req *coordinator.Request) (*db.CertRecord, error)
}

// Scheduler drives the renewal sweep.
type Scheduler struct {
	cfg      config.Scheduler
	db       db.Db
	renewer  Renewer
	notifier notify.Notifier
	logger   *slog.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownDone chan struct{}
}

// NewScheduler creates a renewal-sweep scheduler.
func NewScheduler(cfg config.Scheduler, dbAdapter db.Db, renewer Renewer, notifier notify.Notifier, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if notifier == nil {
		notifier = notify.NewNilNotifier()
	}
	return &Scheduler{
		cfg:          cfg,
		db:           dbAdapter,
		renewer:      renewer,
		notifier:     notifier,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		shutdownDone: make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *Scheduler) Start() {
	go func() {
		s.logger.Info("starting renewal sweep scheduler", "interval", s.cfg.Interval, "expiring_within_days", s.cfg.ExpiringWithinDays)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				s.logger.Info("renewal sweep scheduler received shutdown signal")
				close(s.shutdownDone)
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// Stop signals the sweep to stop and waits for the in-flight tick to finish
// or the context to be canceled, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("stopping renewal sweep scheduler")
	s.cancel()
	select {
	case <-s.shutdownDone:
		s.logger.Info("renewal sweep scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Info("renewal sweep scheduler shutdown timed out")
		return ctx.Err()
	}
}

// sweep searches the Inventory for records due for renewal and renews each
// one, bounded by MaxRenewalsPerTick and ConcurrencyMultiplier.
func (s *Scheduler) sweep() {
	due, err := s.db.Search(db.SearchQuery{ExpiringWithinDays: s.cfg.ExpiringWithinDays})
	if err != nil {
		s.logger.Error("renewal sweep: search failed", "err", err)
		return
	}
	if s.cfg.MaxRenewalsPerTick > 0 && len(due) > s.cfg.MaxRenewalsPerTick {
		s.logger.Warn("renewal sweep: capping batch", "due", len(due), "cap", s.cfg.MaxRenewalsPerTick)
		due = due[:s.cfg.MaxRenewalsPerTick]
	}
	if len(due) == 0 {
		s.logger.Debug("renewal sweep: nothing due")
		return
	}
	s.logger.Info("renewal sweep: found due certificates", "count", len(due))

	g, ctx := errgroup.WithContext(s.ctx)
	multiplier := s.cfg.ConcurrencyMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	g.SetLimit(runtime.NumCPU() * multiplier)

	var succeeded int
	for _, rec := range due {
		rec := rec
		g.Go(func() error {
			renewCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
			defer cancel()

			err := s.renewOne(renewCtx, rec)
			if err == nil {
				succeeded++
				return nil
			}
			if errors.Is(err, context.Canceled) {
				s.logger.Info("renewal sweep: interrupted by shutdown", "cert_id", rec.CertID)
				return err
			}
			s.logger.Error("renewal sweep: renew failed", "cert_id", rec.CertID, "err", err)
			s.notifyFailure(rec, err)
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("renewal sweep: batch error", "err", err)
	}
	s.logger.Info("renewal sweep: tick complete", "succeeded", succeeded, "total", len(due))
}

func (s *Scheduler) renewOne(ctx context.Context, rec db.CertRecord) error {
	req := &coordinator.Request{
		CertID:         rec.CertID,
		Domains:        rec.San,
		Provider:       string(rec.Provider),
		DirectoryURL:   rec.DirectoryURL,
		KeySecretPath:  rec.KeySecretPath,
		BigipHost:      s.cfg.BigipHost,
		BigipPartition: s.cfg.BigipPartition,
	}
	_, err := s.renewer.Renew(ctx, req)
	return err
}

func (s *Scheduler) notifyFailure(rec db.CertRecord, err error) {
	n := notify.Notification{
		Type:    notify.Alarm,
		Source:  "renewal-sweep",
		Message: "scheduled renewal failed for " + rec.MainDomain,
		Fields: map[string]interface{}{
			"cert_id": rec.CertID,
			"error":   err.Error(),
		},
	}
	if sendErr := s.notifier.Send(s.ctx, n); sendErr != nil {
		s.logger.Error("renewal sweep: failure notification failed", "cert_id", rec.CertID, "err", sendErr)
	}
}
