package coordinator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/caasmo/acmebigip/acmerunner"
	"github.com/caasmo/acmebigip/secretstore"
)

// InstallResult is the normalized output of one successful order.
type InstallResult struct {
	NotBefore    time.Time
	NotAfter     time.Time
	CertPEM      []byte
	FullChainPEM []byte
}

// install runs the ACME client's install subcommand to normalize order
// output into <wdir>/{cert.pem,fullchain.pem,privkey.pem}, writes the
// private key to the secret store, deletes it from disk, and parses
// validity dates from the installed certificate (spec §4.7 INSTALL step).
func (c *Coordinator) install(ctx context.Context, req *Request, wdir string) (*InstallResult, error) {
	argv := buildInstallArgv(c.acmeBinary, req, c.acmeHome, wdir)
	h, err := acmerunner.Start(ctx, argv, wdir)
	if err != nil {
		return nil, &Error{Kind: KindAcmeUnknown, Err: fmt.Errorf("install-cert: %w", err)}
	}
	rc, stdout, stderr := h.Finish()
	if rc != 0 {
		return nil, &Error{Kind: KindAcmeUnknown, Stdout: stdout, Stderr: stderr, Err: fmt.Errorf("install-cert exited %d", rc)}
	}

	keyPath := filepath.Join(wdir, "privkey.pem")
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, &Error{Kind: KindSecretStoreError, Err: fmt.Errorf("read privkey.pem: %w", err)}
	}

	// The private key write is fatal: the Coordinator must never mark a
	// cert issued while the key only exists on local disk (spec §7).
	if err := c.secrets.Write(ctx, req.KeySecretPath, secretstore.Entry{PrivateKeyPEM: string(keyPEM)}); err != nil {
		return nil, &Error{Kind: KindSecretStoreError, Err: fmt.Errorf("write private key to secret store: %w", err)}
	}

	if err := os.Remove(keyPath); err != nil && c.logger != nil {
		c.logger.Warn("coordinator: best-effort privkey.pem removal failed", "path", keyPath, "err", err)
	}

	certPath := filepath.Join(wdir, "cert.pem")
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, &Error{Kind: KindAcmeUnknown, Err: fmt.Errorf("read cert.pem: %w", err)}
	}
	fullchainPEM, err := os.ReadFile(filepath.Join(wdir, "fullchain.pem"))
	if err != nil {
		return nil, &Error{Kind: KindAcmeUnknown, Err: fmt.Errorf("read fullchain.pem: %w", err)}
	}

	notBefore, notAfter, err := parseCertDates(ctx, c.opensslBinary, certPath)
	if err != nil {
		return nil, &Error{Kind: KindAcmeUnknown, Err: fmt.Errorf("parse certificate dates: %w", err)}
	}

	return &InstallResult{
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		CertPEM:      certPEM,
		FullChainPEM: fullchainPEM,
	}, nil
}

// opensslDateLayout matches openssl's "-dates" output, e.g.
// "Jan  2 15:04:05 2024 GMT" (note the space-padded day).
const opensslDateLayout = "Jan _2 15:04:05 2006 MST"

// parseCertDates shells out to an external certificate-date parser
// (openssl by convention) and reads back its "notBefore=…"/"notAfter=…"
// lines, per spec §4.7's explicit delegation of X.509 parsing out of
// process (§1 Non-goals).
func parseCertDates(ctx context.Context, binary, certPath string) (notBefore, notAfter time.Time, err error) {
	cmd := exec.CommandContext(ctx, binary, "x509", "-noout", "-dates", "-in", certPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%s: %w: %s", binary, err, out)
	}

	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "notBefore="):
			notBefore, err = time.Parse(opensslDateLayout, strings.TrimPrefix(line, "notBefore="))
			if err != nil {
				return time.Time{}, time.Time{}, fmt.Errorf("parse notBefore: %w", err)
			}
		case strings.HasPrefix(line, "notAfter="):
			notAfter, err = time.Parse(opensslDateLayout, strings.TrimPrefix(line, "notAfter="))
			if err != nil {
				return time.Time{}, time.Time{}, fmt.Errorf("parse notAfter: %w", err)
			}
		}
	}
	if notBefore.IsZero() || notAfter.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("openssl output missing notBefore/notAfter: %s", out)
	}
	return notBefore.UTC(), notAfter.UTC(), nil
}
