package coordinator

import (
	"os"
	"path/filepath"
)

// issueMode selects between a fresh order and a renewal of an existing one;
// migrate-CA (spec §4.7 RENEW path) always forces issueModeIssue even when
// the caller is logically renewing.
type issueMode string

const (
	issueModeIssue  issueMode = "--issue"
	issueModeRenew  issueMode = "--renew"
)

// buildRunArgv assembles the external ACME client's argv for one issue or
// renew attempt (spec §6 "ACME client CLI").
func buildRunArgv(binary string, mode issueMode, req *Request, directoryURL, webroot, acmeHome string) ([]string, error) {
	keylength, err := req.KeyType.keylengthFlag()
	if err != nil {
		return nil, err
	}

	argv := []string{binary, string(mode), "--server", directoryURL}
	for _, d := range req.Domains {
		argv = append(argv, "-d", d, "-w", webroot)
	}
	argv = append(argv, "--keylength", keylength)
	for _, email := range req.ContactEmails {
		argv = append(argv, "--accountemail", email)
	}
	if req.EAB != nil {
		argv = append(argv, "--eab-kid", req.EAB.Kid, "--eab-hmac-key", req.EAB.HmacKey)
	}
	if req.Force {
		argv = append(argv, "--force")
	}
	argv = append(argv, "--home", acmeHome)
	if os.Getenv("ACME_DEBUG") != "" {
		argv = append(argv, "--debug", "2")
	}
	return argv, nil
}

// buildInstallArgv assembles the argv that normalizes one order's output
// into <wdir>/{cert.pem,fullchain.pem,privkey.pem} (spec §4.7 INSTALL step).
func buildInstallArgv(binary string, req *Request, acmeHome, wdir string) []string {
	return []string{
		binary, "--install-cert", "-d", req.mainDomain(),
		"--key-file", filepath.Join(wdir, "privkey.pem"),
		"--cert-file", filepath.Join(wdir, "cert.pem"),
		"--fullchain-file", filepath.Join(wdir, "fullchain.pem"),
		"--home", acmeHome,
	}
}
