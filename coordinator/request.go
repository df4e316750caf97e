package coordinator

import (
	"fmt"
	"regexp"
	"strings"
)

// domainRE matches spec §7's validation rule for a DNS name.
var domainRE = regexp.MustCompile(`^[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// EABSecret is the External Account Binding credential some providers
// require to bind a new ACME account to a pre-existing commercial identity.
type EABSecret struct {
	Kid     string
	HmacKey string
}

// KeyType is the private key algorithm/size requested for a new order.
type KeyType string

const (
	KeyTypeEC256    KeyType = "EC256"
	KeyTypeEC384    KeyType = "EC384"
	KeyTypeRSA2048  KeyType = "RSA2048"
	KeyTypeRSA3072  KeyType = "RSA3072"
	KeyTypeRSA4096  KeyType = "RSA4096"
)

// keylengthFlag maps a KeyType to the ACME client's --keylength value.
func (k KeyType) keylengthFlag() (string, error) {
	switch k {
	case KeyTypeEC256:
		return "ec-256", nil
	case KeyTypeEC384:
		return "ec-384", nil
	case KeyTypeRSA2048:
		return "2048", nil
	case KeyTypeRSA3072:
		return "3072", nil
	case KeyTypeRSA4096:
		return "4096", nil
	default:
		return "", fmt.Errorf("coordinator: unsupported key_type %q", k)
	}
}

// Request is the input to Issue/Renew (spec §6 request_certificate /
// renew_certificate bodies, merged: Renew only ever populates the fields it
// needs and leaves the rest to the existing Inventory record).
type Request struct {
	CertID        string // generated by Issue when empty, looked up for Renew
	Domains       []string
	Provider      string
	DirectoryURL  string
	EAB           *EABSecret
	ContactEmails []string
	KeyType       KeyType
	Tags          []string
	KeySecretPath string

	BigipHost      string
	BigipPartition string // default "/Common"
	Force          bool   // internal: set by the one permitted force-issue retry
}

// Validate enforces spec §7's validation kind before any subprocess or
// network call is made.
func (r *Request) Validate() error {
	if len(r.Domains) == 0 {
		return &Error{Kind: KindValidation, Err: fmt.Errorf("domains must be non-empty")}
	}
	for _, d := range r.Domains {
		if strings.Contains(d, "*") {
			return &Error{Kind: KindValidation, Err: fmt.Errorf("wildcard domain %q not supported with HTTP-01", d)}
		}
		if !domainRE.MatchString(d) {
			return &Error{Kind: KindValidation, Err: fmt.Errorf("invalid domain %q", d)}
		}
	}
	if r.KeySecretPath == "" {
		return &Error{Kind: KindValidation, Err: fmt.Errorf("key_secret_path is required")}
	}
	if r.EAB != nil && (r.EAB.Kid == "" || r.EAB.HmacKey == "") {
		return &Error{Kind: KindValidation, Err: fmt.Errorf("eab_secret requires both kid and hmac_key")}
	}
	if r.BigipPartition == "" {
		r.BigipPartition = "/Common"
	}
	if r.KeyType == "" {
		r.KeyType = KeyTypeEC256
	}
	return nil
}

// mainDomain is Domains[0], enforced equal to db.CertRecord.MainDomain.
func (r *Request) mainDomain() string { return r.Domains[0] }
