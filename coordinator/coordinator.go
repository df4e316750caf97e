// Package coordinator implements the Issuance Coordinator (C7): the state
// machine that drives the ACME Runner, Challenge Pump, Preflight Verifier,
// LB Adapter, Secret Store Adapter and Inventory Adapter through an
// issuance, renewal, or migrate-CA call.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/caasmo/acmebigip/acmerunner"
	"github.com/caasmo/acmebigip/challengepump"
	"github.com/caasmo/acmebigip/db"
	"github.com/caasmo/acmebigip/preflight"
	"github.com/caasmo/acmebigip/secretstore"
)

// Options configures a Coordinator.
type Options struct {
	AcmeBinary    string // path to the external ACME client
	OpenSSLBinary string // path to the certificate-date parser, default "openssl"
	AcmeHome      string // ACME client's --home directory
	WorkRoot      string // per-cert_id working directories are created under here
	BigipHost     string // recorded onto deployed.bigip.host
	DatagroupPartition string
	DatagroupName      string

	WaitFilesInterval time.Duration // default 100ms
	WaitFilesDeadline time.Duration // default 120s
	PumpPollInterval  time.Duration // default 50ms
	PumpDeadline      time.Duration // default 120s
	PreflightOpts     preflight.Options
}

// Coordinator drives one issuance/renewal call across C1-C6.
type Coordinator struct {
	db      db.Db
	secrets *secretstore.Client
	lb      LBDeployer

	acmeBinary    string
	opensslBinary string
	acmeHome      string
	workRoot      string
	bigipHost     string

	datagroupPartition string
	datagroupName      string

	waitFilesInterval time.Duration
	waitFilesDeadline time.Duration
	pumpPollInterval  time.Duration
	pumpDeadline      time.Duration
	preflightOpts     preflight.Options
	httpClient        *http.Client

	logger  *slog.Logger
	metrics *Metrics
}

// New builds a Coordinator. All of dbAdapter, secrets, and lb are required.
func New(opts Options, dbAdapter db.Db, secrets *secretstore.Client, lb LBDeployer, logger *slog.Logger, metrics *Metrics) (*Coordinator, error) {
	if dbAdapter == nil || secrets == nil || lb == nil {
		return nil, fmt.Errorf("coordinator: db, secrets, and lb are all required")
	}
	if opts.AcmeBinary == "" {
		return nil, fmt.Errorf("coordinator: AcmeBinary is required")
	}
	if opts.WorkRoot == "" {
		return nil, fmt.Errorf("coordinator: WorkRoot is required")
	}
	if opts.OpenSSLBinary == "" {
		opts.OpenSSLBinary = "openssl"
	}
	if opts.DatagroupPartition == "" {
		opts.DatagroupPartition = "Common"
	}
	if opts.DatagroupName == "" {
		opts.DatagroupName = "acme_http01_challenges"
	}
	if opts.WaitFilesInterval <= 0 {
		opts.WaitFilesInterval = 100 * time.Millisecond
	}
	if opts.WaitFilesDeadline <= 0 {
		opts.WaitFilesDeadline = 120 * time.Second
	}
	if opts.PumpPollInterval <= 0 {
		opts.PumpPollInterval = 50 * time.Millisecond
	}
	if opts.PumpDeadline <= 0 {
		opts.PumpDeadline = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		db:                 dbAdapter,
		secrets:            secrets,
		lb:                 lb,
		acmeBinary:         opts.AcmeBinary,
		opensslBinary:      opts.OpenSSLBinary,
		acmeHome:           opts.AcmeHome,
		workRoot:           opts.WorkRoot,
		bigipHost:          opts.BigipHost,
		datagroupPartition: opts.DatagroupPartition,
		datagroupName:      opts.DatagroupName,
		waitFilesInterval:  opts.WaitFilesInterval,
		waitFilesDeadline:  opts.WaitFilesDeadline,
		pumpPollInterval:   opts.PumpPollInterval,
		pumpDeadline:       opts.PumpDeadline,
		preflightOpts:      opts.PreflightOpts,
		httpClient:         &http.Client{Timeout: 30 * time.Second},
		logger:             logger.With("component", "coordinator"),
		metrics:            metrics,
	}, nil
}

// runOutcome is the terminal state reached by one subprocess attempt.
type runOutcome struct {
	outcome    acmerunner.Outcome
	retryAfter time.Time
	stdout     string
	stderr     string
}

// Issue runs a full issue() call (spec §4.7) and, on success, persists a
// new Certificate Record with status=issued.
func (c *Coordinator) Issue(ctx context.Context, req *Request) (*db.CertRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	directoryURL, err := ResolveDirectoryURL(req.Provider, req.DirectoryURL)
	if err != nil {
		return nil, err
	}
	if req.CertID == "" {
		req.CertID = uuid.NewString()
	}

	wdir := filepath.Join(c.workRoot, req.CertID)
	if err := os.MkdirAll(filepath.Join(wdir, "webroot", ".well-known", "acme-challenge"), 0o755); err != nil {
		return nil, &Error{Kind: KindAcmeUnknown, Err: fmt.Errorf("create working directory: %w", err)}
	}

	published, err := c.runWithForceRetry(ctx, req, issueModeIssue, directoryURL, wdir, false)
	if err != nil {
		return nil, err
	}

	result, err := c.install(ctx, req, wdir)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := db.CertRecord{
		CertID:        req.CertID,
		MainDomain:    req.mainDomain(),
		San:           req.Domains,
		Provider:      db.Provider(req.Provider),
		DirectoryURL:  directoryURL,
		NotBefore:     result.NotBefore,
		NotAfter:      result.NotAfter,
		Path:          wdir,
		KeySecretPath: req.KeySecretPath,
		Tags:          req.Tags,
		Status:        db.StatusIssued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.db.Create(record); err != nil {
		return nil, &Error{Kind: KindAcmeUnknown, Err: fmt.Errorf("persist certificate record: %w", err)}
	}
	if len(published) > 0 {
		var challenges []db.Http01Challenge
		for token, keyAuth := range published {
			challenges = append(challenges, db.Http01Challenge{Token: token, KeyAuthorization: keyAuth, PublishedAt: now})
		}
		if err := c.db.StoreChallenges(req.CertID, challenges); err != nil {
			c.logger.Warn("coordinator: store_challenges failed", "cert_id", req.CertID, "err", err)
		}
	}

	c.metrics.observeOutcome("success")
	return &record, nil
}

// Renew runs renewal or migrate-CA (directory_url mismatch) against an
// existing record (spec §4.7 RENEW path).
func (c *Coordinator) Renew(ctx context.Context, req *Request) (*db.CertRecord, error) {
	existing, err := c.db.Get(req.CertID)
	if err != nil {
		return nil, &Error{Kind: KindAcmeUnknown, Err: fmt.Errorf("lookup cert_id %s: %w", req.CertID, err)}
	}
	if len(req.Domains) == 0 {
		req.Domains = existing.San
	}
	if req.Provider == "" {
		req.Provider = string(existing.Provider)
	}
	if req.KeySecretPath == "" {
		req.KeySecretPath = existing.KeySecretPath
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	directoryURL, err := ResolveDirectoryURL(req.Provider, req.DirectoryURL)
	if err != nil {
		return nil, err
	}

	mode := issueModeRenew
	migrateCA := directoryURL != existing.DirectoryURL
	if migrateCA {
		mode = issueModeIssue
	}

	wdir := filepath.Join(c.workRoot, req.CertID)
	if err := os.MkdirAll(filepath.Join(wdir, "webroot", ".well-known", "acme-challenge"), 0o755); err != nil {
		return nil, &Error{Kind: KindAcmeUnknown, Err: fmt.Errorf("create working directory: %w", err)}
	}

	published, err := c.runWithForceRetry(ctx, req, mode, directoryURL, wdir, true)
	if err != nil {
		return nil, err
	}

	result, err := c.install(ctx, req, wdir)
	if err != nil {
		return nil, err
	}

	if err := c.db.UpdateDates(req.CertID, result.NotBefore, result.NotAfter); err != nil {
		return nil, &Error{Kind: KindAcmeUnknown, Err: fmt.Errorf("update_dates: %w", err)}
	}
	if migrateCA {
		if err := c.db.UpdateDirectoryURL(req.CertID, directoryURL); err != nil {
			return nil, &Error{Kind: KindAcmeUnknown, Err: fmt.Errorf("update_directory_url: %w", err)}
		}
	}
	if err := c.db.UpdateStatus(req.CertID, db.StatusIssued); err != nil {
		return nil, &Error{Kind: KindAcmeUnknown, Err: fmt.Errorf("update_status: %w", err)}
	}
	if len(published) > 0 {
		var challenges []db.Http01Challenge
		now := time.Now().UTC()
		for token, keyAuth := range published {
			challenges = append(challenges, db.Http01Challenge{Token: token, KeyAuthorization: keyAuth, PublishedAt: now})
		}
		if err := c.db.StoreChallenges(req.CertID, challenges); err != nil {
			c.logger.Warn("coordinator: store_challenges failed", "cert_id", req.CertID, "err", err)
		}
	}

	updated, err := c.db.Get(req.CertID)
	if err != nil {
		return nil, &Error{Kind: KindAcmeUnknown, Err: fmt.Errorf("reload cert_id %s: %w", req.CertID, err)}
	}
	c.metrics.observeOutcome("success")
	return updated, nil
}

// runWithForceRetry drives one attempt through WAIT_FILES_OR_EXIT ->
// PREFLIGHT -> AWAIT_RUN_EXIT -> classify, retrying exactly once with
// --force if the first attempt classifies as reused_skip (spec §4.7
// FORCE_ISSUE). It returns the published challenge set (token ->
// keyAuthorization) on success.
func (c *Coordinator) runWithForceRetry(ctx context.Context, req *Request, mode issueMode, directoryURL, wdir string, renewPath bool) (map[string]string, error) {
	published, outcome, err := c.runOnce(ctx, req, mode, directoryURL, wdir, renewPath)
	if err != nil {
		return nil, err
	}
	if outcome.outcome != acmerunner.OutcomeReusedSkip {
		return published, c.classifyTerminal(outcome, req.mainDomain(), directoryURL, renewPath)
	}

	c.logger.Info("coordinator: reused_skip observed, retrying with --force", "cert_id", req.CertID)
	c.metrics.observeForceIssue()
	retryReq := *req
	retryReq.Force = true
	published, outcome, err = c.runOnce(ctx, &retryReq, mode, directoryURL, wdir, renewPath)
	if err != nil {
		return nil, err
	}
	if outcome.outcome == acmerunner.OutcomeReusedSkip {
		return nil, ErrForceIssueRetryExhausted
	}
	return published, c.classifyTerminal(outcome, retryReq.mainDomain(), directoryURL, renewPath)
}

// classifyTerminal turns a non-reused_skip runOutcome into either nil
// (success) or a typed *Error for the caller.
func (c *Coordinator) classifyTerminal(o *runOutcome, mainDomain, directoryURL string, renewPath bool) error {
	switch o.outcome {
	case acmerunner.OutcomeSuccess:
		return nil
	case acmerunner.OutcomeRateLimited:
		c.metrics.observeOutcome("rate_limited")
		c.metrics.observeRateLimited(mainDomain)
		return &Error{Kind: KindAcmeRateLimited, DirectoryURL: directoryURL, RetryAfter: o.retryAfter, Stdout: o.stdout, Stderr: o.stderr}
	case acmerunner.OutcomeEABRequired:
		c.metrics.observeOutcome("eab_required")
		return &Error{Kind: KindAcmeEABRequired, DirectoryURL: directoryURL, FieldsNeeded: []string{"eab_secret"}, Stdout: o.stdout, Stderr: o.stderr}
	case acmerunner.OutcomeNotManaged:
		if !renewPath {
			c.metrics.observeOutcome("unknown")
			return &Error{Kind: KindAcmeUnknown, Stdout: o.stdout, Stderr: o.stderr}
		}
		c.metrics.observeOutcome("not_managed")
		return &Error{Kind: KindAcmeNotManaged, Stdout: o.stdout, Stderr: o.stderr}
	default:
		c.metrics.observeOutcome("unknown")
		return &Error{Kind: KindAcmeUnknown, Stdout: o.stdout, Stderr: o.stderr}
	}
}

// runOnce launches the Runner and Pump concurrently, waits for either a
// challenge file to appear or the process to exit, runs Preflight in the
// first case, then awaits the final process exit and classifies its
// output (spec §4.7, §5 ordering guarantees).
func (c *Coordinator) runOnce(ctx context.Context, req *Request, mode issueMode, directoryURL, wdir string, renewPath bool) (map[string]string, *runOutcome, error) {
	webroot := filepath.Join(wdir, "webroot")

	argv, err := buildRunArgv(c.acmeBinary, mode, req, directoryURL, webroot, c.acmeHome)
	if err != nil {
		return nil, nil, &Error{Kind: KindValidation, Err: err}
	}

	handle, err := acmerunner.Start(ctx, argv, wdir)
	if err != nil {
		return nil, nil, &Error{Kind: KindAcmeUnknown, Err: err}
	}

	pump := challengepump.New(challengepump.Options{
		Webroot:       webroot,
		Partition:     c.datagroupPartition,
		DatagroupName: c.datagroupName,
		PollInterval:  c.pumpPollInterval,
		Deadline:      c.pumpDeadline,
	}, c.lb, c.logger)

	pumpCtx, cancelPump := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error {
		pump.Run(pumpCtx)
		return nil
	})

	exited, filesSeen, rc, stdout, stderr := c.waitFilesOrExit(handle, pump)

	if !exited && !filesSeen {
		cancelPump()
		g.Wait()
		return nil, nil, &Error{Kind: KindAcmeUnknown, Err: ErrNoChallengeFiles}
	}

	preflighted := false
	if !exited {
		// Files appeared: Preflight every observed token before letting
		// the process continue toward provider validation.
		if err := c.preflightAll(ctx, req, pump.Published()); err != nil {
			cancelPump()
			g.Wait()
			c.metrics.observePreflightTimeout()
			return nil, nil, err
		}
		rc, stdout, stderr = handle.Finish()
		preflighted = true
	}

	cancelPump()
	g.Wait()

	outcome, retryAfter := acmerunner.Classify(stdout+"\n"+stderr, renewPath)
	if preflighted && rc == 0 && outcome == acmerunner.OutcomeUnknown {
		// rc=0 with no marker at all still counts as success (spec §4.7
		// "rc=0 & likely_success") only when we actually observed and
		// preflighted challenge files; a process that exited on its own
		// without ever producing one isn't a verified success just
		// because it happened to return 0.
		outcome = acmerunner.OutcomeSuccess
	}

	return pump.Published(), &runOutcome{outcome: outcome, retryAfter: retryAfter, stdout: stdout, stderr: stderr}, nil
}

// waitFilesOrExit polls for "challenge file appears OR process exits"
// (spec §5, 100ms interval, 120s overall deadline). filesSeen is false
// alongside exited=false only when the deadline elapsed with neither event
// observed.
func (c *Coordinator) waitFilesOrExit(handle *acmerunner.Handle, pump *challengepump.Pump) (exited, filesSeen bool, rc int, stdout, stderr string) {
	deadline := time.Now().Add(c.waitFilesDeadline)
	for {
		exited, rc, stdout, stderr = handle.WaitOrExit(c.waitFilesInterval)
		if exited {
			return true, false, rc, stdout, stderr
		}
		if len(pump.Seen()) > 0 {
			return false, true, 0, "", ""
		}
		if time.Now().After(deadline) {
			return false, false, 0, "", ""
		}
	}
}

// preflightAll verifies every published token against the LB before the
// Coordinator permits the Runner to complete its validation wait. Only the
// main domain's token is required by spec §4.3 when more than one SAN is
// present; here every observed token is checked for stronger assurance.
func (c *Coordinator) preflightAll(ctx context.Context, req *Request, published map[string]string) error {
	for token, keyAuth := range published {
		if err := preflight.Wait(ctx, c.httpClient, req.BigipHost, token, keyAuth, c.preflightOpts); err != nil {
			return &Error{Kind: KindPreflightTimeout, Err: fmt.Errorf("preflight %s: %w", token, err)}
		}
	}
	return nil
}
