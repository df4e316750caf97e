package coordinator

import (
	"context"
	"fmt"

	"github.com/caasmo/acmebigip/acmerunner"
	"github.com/caasmo/acmebigip/db"
)

// buildRevokeArgv assembles the external ACME client's --revoke invocation
// against the normalized cert.pem produced by the INSTALL step (spec §6
// "ACME client CLI").
func buildRevokeArgv(binary, certPath, acmeHome string) []string {
	return []string{binary, "--revoke", "--cert-file", certPath, "--home", acmeHome}
}

// Revoke runs the external ACME client's revoke subcommand against the
// cert_id's installed certificate and, on success, marks the Certificate
// Record revoked (spec §6 revoke_certificate).
func (c *Coordinator) Revoke(ctx context.Context, certID string) (*db.CertRecord, error) {
	rec, err := c.db.Get(certID)
	if err != nil {
		return nil, &Error{Kind: KindAcmeUnknown, Err: fmt.Errorf("lookup cert_id %s: %w", certID, err)}
	}

	certPath := rec.Path + "/cert.pem"
	h, err := acmerunner.Start(ctx, buildRevokeArgv(c.acmeBinary, certPath, c.acmeHome), rec.Path)
	if err != nil {
		return nil, &Error{Kind: KindAcmeUnknown, Err: fmt.Errorf("revoke: %w", err)}
	}
	rc, stdout, stderr := h.Finish()
	if rc != 0 {
		return nil, &Error{Kind: KindAcmeUnknown, Stdout: stdout, Stderr: stderr, Err: fmt.Errorf("--revoke exited %d", rc)}
	}

	if err := c.db.UpdateStatus(certID, db.StatusRevoked); err != nil {
		return nil, &Error{Kind: KindAcmeUnknown, Err: fmt.Errorf("update_status: %w", err)}
	}
	c.metrics.observeOutcome("revoked")

	updated, err := c.db.Get(certID)
	if err != nil {
		return nil, &Error{Kind: KindAcmeUnknown, Err: fmt.Errorf("reload cert_id %s: %w", certID, err)}
	}
	return updated, nil
}
