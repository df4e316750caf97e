package db

import "time"

// Db is the minimum contract the Issuance Coordinator (C7) consumes from the
// Inventory Adapter (C6), per spec §4.6. Concrete drivers (db/zombiezen,
// db/crawshaw, db/mock) all satisfy this interface.
type Db interface {
	Close()

	// Create persists a brand-new Certificate Record. Returns
	// ErrConstraintUnique if cert.CertID already exists.
	Create(cert CertRecord) error

	// Get returns the Certificate Record for cert_id, or ErrNotFound.
	Get(certID string) (*CertRecord, error)

	// UpdateDates sets not_before/not_after after a successful issuance.
	UpdateDates(certID string, notBefore, notAfter time.Time) error

	// UpdateStatus transitions a record's status field.
	UpdateStatus(certID string, status Status) error

	// UpdateDirectoryURL records a migrate-CA (spec §4.7 RENEW path).
	UpdateDirectoryURL(certID, directoryURL string) error

	// StoreChallenges merges published (token, keyAuthorization) pairs into
	// the record's deployed.http01_challenges sub-document.
	StoreChallenges(certID string, challenges []Http01Challenge) error

	// MarkDeployed records the LB deployment pointer and sets status=deployed.
	MarkDeployed(certID, host, partition, profile, sni string) error

	// Search lists records matching a free-text query, tag, and/or expiry
	// window (spec §9 open question: ExpiringWithinDays IS enforced here).
	Search(q SearchQuery) ([]CertRecord, error)

	// AppendTransition records one coordinator state-machine step for
	// operational history (SPEC_FULL §12).
	AppendTransition(ev TransitionEvent) error
}
