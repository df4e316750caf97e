package coordinator

import (
	"strings"
	"testing"
)

func TestBuildRunArgvIssueMode(t *testing.T) {
	req := &Request{
		Domains:       []string{"a.example.com", "b.example.com"},
		ContactEmails: []string{"ops@example.com"},
		KeyType:       KeyTypeEC256,
	}
	argv, err := buildRunArgv("/bin/acme.sh", issueModeIssue, req, "https://acme.example/directory", "/work/1/webroot", "/acme-home")
	if err != nil {
		t.Fatalf("buildRunArgv failed: %v", err)
	}
	joined := strings.Join(argv, " ")

	if argv[0] != "/bin/acme.sh" || argv[1] != "--issue" {
		t.Errorf("argv[0:2] = %v, want binary + --issue", argv[:2])
	}
	if !strings.Contains(joined, "--server https://acme.example/directory") {
		t.Errorf("argv missing --server: %v", argv)
	}
	if !strings.Contains(joined, "-d a.example.com -w /work/1/webroot") {
		t.Errorf("argv missing first SAN pairing: %v", argv)
	}
	if !strings.Contains(joined, "-d b.example.com -w /work/1/webroot") {
		t.Errorf("argv missing second SAN pairing: %v", argv)
	}
	if !strings.Contains(joined, "--keylength ec-256") {
		t.Errorf("argv missing keylength: %v", argv)
	}
	if !strings.Contains(joined, "--accountemail ops@example.com") {
		t.Errorf("argv missing accountemail: %v", argv)
	}
	if strings.Contains(joined, "--force") {
		t.Errorf("argv should not contain --force by default: %v", argv)
	}
}

func TestBuildRunArgvWithEABAndForce(t *testing.T) {
	req := &Request{
		Domains: []string{"a.example.com"},
		KeyType: KeyTypeRSA2048,
		EAB:     &EABSecret{Kid: "kid1", HmacKey: "hmac1"},
		Force:   true,
	}
	argv, err := buildRunArgv("/bin/acme.sh", issueModeRenew, req, "https://acme.example/directory", "/work/1/webroot", "")
	if err != nil {
		t.Fatalf("buildRunArgv failed: %v", err)
	}
	joined := strings.Join(argv, " ")
	if argv[1] != "--renew" {
		t.Errorf("argv[1] = %q, want --renew", argv[1])
	}
	if !strings.Contains(joined, "--eab-kid kid1 --eab-hmac-key hmac1") {
		t.Errorf("argv missing EAB flags: %v", argv)
	}
	if !strings.Contains(joined, "--force") {
		t.Errorf("argv missing --force: %v", argv)
	}
	if !strings.Contains(joined, "--keylength 2048") {
		t.Errorf("argv missing RSA keylength: %v", argv)
	}
}

func TestBuildInstallArgv(t *testing.T) {
	req := &Request{Domains: []string{"a.example.com"}}
	argv := buildInstallArgv("/bin/acme.sh", req, "/acme-home", "/work/1")
	joined := strings.Join(argv, " ")
	if argv[1] != "--install-cert" {
		t.Errorf("argv[1] = %q, want --install-cert", argv[1])
	}
	if !strings.Contains(joined, "--key-file /work/1/privkey.pem") {
		t.Errorf("argv missing key-file: %v", argv)
	}
	if !strings.Contains(joined, "--cert-file /work/1/cert.pem") {
		t.Errorf("argv missing cert-file: %v", argv)
	}
	if !strings.Contains(joined, "--fullchain-file /work/1/fullchain.pem") {
		t.Errorf("argv missing fullchain-file: %v", argv)
	}
}
