// Package challengepump implements the Challenge Pump (C2): a per-issuance
// background task that watches a webroot directory for newly-written
// HTTP-01 challenge files and publishes them to the LB datagroup as they
// appear. Its daemon shape (ticker + context cancellation) follows the
// teacher's job scheduler.
package challengepump

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Publisher is the subset of the LB Adapter the Pump needs.
type Publisher interface {
	DatagroupUpsert(ctx context.Context, partition, name string, tokens map[string]string) error
}

// Options seeds one Pump run.
type Options struct {
	Webroot       string // <work>/<cert_id>/webroot
	Partition     string
	DatagroupName string
	PollInterval  time.Duration // default ~50ms
	Deadline      time.Duration // default 120s overall
}

// Pump watches Webroot/.well-known/acme-challenge for new token files and
// upserts them to the LB datagroup in batches.
type Pump struct {
	opts      Options
	publisher Publisher
	logger    *slog.Logger

	published map[string]string // token filename -> trimmed key authorization
}

func New(opts Options, publisher Publisher, logger *slog.Logger) *Pump {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	if opts.Deadline <= 0 {
		opts.Deadline = 120 * time.Second
	}
	return &Pump{
		opts:      opts,
		publisher: publisher,
		logger:    logger,
		published: make(map[string]string),
	}
}

func (p *Pump) challengeDir() string {
	return filepath.Join(p.opts.Webroot, ".well-known", "acme-challenge")
}

// Run blocks until Deadline elapses or ctx is cancelled, polling the
// challenge directory and publishing any newly observed tokens at
// least once. A not-yet-existing directory is tolerated, not an error.
func (p *Pump) Run(ctx context.Context) {
	deadlineCtx, cancel := context.WithTimeout(ctx, p.opts.Deadline)
	defer cancel()

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadlineCtx.Done():
			return
		case <-ticker.C:
			p.pollOnce(deadlineCtx)
		}
	}
}

func (p *Pump) pollOnce(ctx context.Context) {
	entries, err := os.ReadDir(p.challengeDir())
	if err != nil {
		// directory not created yet, or transient I/O error: try again next tick
		return
	}

	batch := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if _, ok := p.published[name]; ok {
			continue
		}
		content, err := os.ReadFile(filepath.Join(p.challengeDir(), name))
		if err != nil {
			p.logger.Warn("challengepump: read challenge file failed", "file", name, "err", err)
			continue
		}
		batch[name] = strings.TrimSpace(string(content))
	}

	if len(batch) == 0 {
		return
	}

	if err := p.publisher.DatagroupUpsert(ctx, p.opts.Partition, p.opts.DatagroupName, batch); err != nil {
		p.logger.Error("challengepump: datagroup upsert failed", "err", err)
		return
	}

	for name, keyAuth := range batch {
		p.published[name] = keyAuth
	}
}

// Seen reports the token filenames successfully published so far.
func (p *Pump) Seen() []string {
	out := make([]string, 0, len(p.published))
	for name := range p.published {
		out = append(out, name)
	}
	return out
}

// Published returns the token filename -> trimmed key authorization pairs
// successfully published so far, for archiving onto the Certificate
// Record's deployed.http01_challenges sub-document.
func (p *Pump) Published() map[string]string {
	out := make(map[string]string, len(p.published))
	for name, keyAuth := range p.published {
		out[name] = keyAuth
	}
	return out
}
