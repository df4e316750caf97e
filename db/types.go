// Package db defines the Inventory Adapter contract (spec §4.6, §3) and the
// record types persisted across one certificate's lifetime.
package db

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a Certificate Record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusIssued   Status = "issued"
	StatusRevoked  Status = "revoked"
	StatusDeployed Status = "deployed"
	StatusError    Status = "error"
)

// Provider identifies the ACME CA a certificate was issued from.
type Provider string

const (
	ProviderLetsEncrypt Provider = "letsencrypt"
	ProviderGoogle      Provider = "google"
	ProviderZeroSSL     Provider = "zerossl"
	ProviderCustom      Provider = "custom"
)

// Http01Challenge records one published (token, keyAuthorization) pair,
// archived onto the Certificate Record's Deployed sub-document once the
// issuance that produced it has completed (spec §3 Challenge Record).
type Http01Challenge struct {
	Token            string    `json:"token"`
	KeyAuthorization string    `json:"keyAuthorization"`
	PublishedAt      time.Time `json:"published_at"`
}

// BigipDeployment is the deployment pointer recorded once a cert has been
// pushed onto the load balancer (spec §3 "deployed" sub-document).
type BigipDeployment struct {
	Host      string `json:"host,omitempty"`
	Partition string `json:"partition,omitempty"`
	Profile   string `json:"profile,omitempty"`
	SNI       string `json:"sni,omitempty"`
}

// Deployed is the full JSON sub-document stored alongside a Certificate
// Record (spec §3: `deployed`).
type Deployed struct {
	Http01Challenges []Http01Challenge `json:"http01_challenges,omitempty"`
	Bigip            BigipDeployment   `json:"bigip,omitempty"`
}

// CertRecord is the persistent Certificate Record of spec §3.
type CertRecord struct {
	CertID        string    `json:"cert_id"`
	MainDomain    string    `json:"main_domain"`
	San           []string  `json:"san"`
	Provider      Provider  `json:"provider"`
	DirectoryURL  string    `json:"directory_url"`
	NotBefore     time.Time `json:"not_before"`
	NotAfter      time.Time `json:"not_after"`
	Path          string    `json:"path"`
	KeySecretPath string    `json:"key_secret_path"`
	Tags          []string  `json:"tags"`
	Status        Status    `json:"status"`
	Deployed      Deployed  `json:"deployed"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Validate checks the invariants of spec §3.
func (c *CertRecord) Validate() error {
	if len(c.San) == 0 {
		return ErrSanEmpty
	}
	if c.San[0] != c.MainDomain {
		return ErrSanFirstMismatch
	}
	if c.Status == StatusIssued || c.Status == StatusDeployed {
		if c.NotBefore.IsZero() || c.NotAfter.IsZero() {
			return ErrDatesUnset
		}
		if c.NotBefore.After(c.NotAfter) {
			return ErrDatesInverted
		}
	}
	return nil
}

// DeployedJSON marshals the Deployed sub-document for storage.
func (c *CertRecord) DeployedJSON() ([]byte, error) {
	return json.Marshal(c.Deployed)
}

// SearchQuery narrows `search` (spec §4.6 / §9 open question).
type SearchQuery struct {
	Query              string
	Tag                string
	ExpiringWithinDays int // 0 means "not applied"
}

// TransitionEvent is a single audit-trail row for one cert_id (SPEC_FULL §12
// operational-history supplement).
type TransitionEvent struct {
	CertID string    `json:"cert_id"`
	State  string    `json:"state"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Log is one structured application log record, batched and flushed to the
// log database by the log package's Daemon (SPEC_FULL §ambient-stack
// logging, separate from the Inventory Adapter's own cert/transition data).
type Log struct {
	Level   int64
	Message string
	Data    string // JSON-encoded slog attributes
	Created string // RFC3339Nano UTC
}
