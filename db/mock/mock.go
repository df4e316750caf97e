// Package mock implements db.Db for testing purposes.
// Use function fields to allow overriding behavior in specific tests.
package mock

import (
	"time"

	"github.com/caasmo/acmebigip/db"
)

var _ db.Db = (*Db)(nil)

type Db struct {
	CloseFunc              func()
	CreateFunc             func(cert db.CertRecord) error
	GetFunc                func(certID string) (*db.CertRecord, error)
	UpdateDatesFunc        func(certID string, notBefore, notAfter time.Time) error
	UpdateStatusFunc       func(certID string, status db.Status) error
	UpdateDirectoryURLFunc func(certID, directoryURL string) error
	StoreChallengesFunc    func(certID string, challenges []db.Http01Challenge) error
	MarkDeployedFunc       func(certID, host, partition, profile, sni string) error
	SearchFunc             func(q db.SearchQuery) ([]db.CertRecord, error)
	AppendTransitionFunc   func(ev db.TransitionEvent) error
}

func (m *Db) Close() {
	if m.CloseFunc != nil {
		m.CloseFunc()
	}
}

func (m *Db) Create(cert db.CertRecord) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(cert)
	}
	return nil
}

func (m *Db) Get(certID string) (*db.CertRecord, error) {
	if m.GetFunc != nil {
		return m.GetFunc(certID)
	}
	return nil, db.ErrNotFound
}

func (m *Db) UpdateDates(certID string, notBefore, notAfter time.Time) error {
	if m.UpdateDatesFunc != nil {
		return m.UpdateDatesFunc(certID, notBefore, notAfter)
	}
	return nil
}

func (m *Db) UpdateStatus(certID string, status db.Status) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(certID, status)
	}
	return nil
}

func (m *Db) UpdateDirectoryURL(certID, directoryURL string) error {
	if m.UpdateDirectoryURLFunc != nil {
		return m.UpdateDirectoryURLFunc(certID, directoryURL)
	}
	return nil
}

func (m *Db) StoreChallenges(certID string, challenges []db.Http01Challenge) error {
	if m.StoreChallengesFunc != nil {
		return m.StoreChallengesFunc(certID, challenges)
	}
	return nil
}

func (m *Db) MarkDeployed(certID, host, partition, profile, sni string) error {
	if m.MarkDeployedFunc != nil {
		return m.MarkDeployedFunc(certID, host, partition, profile, sni)
	}
	return nil
}

func (m *Db) Search(q db.SearchQuery) ([]db.CertRecord, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(q)
	}
	return []db.CertRecord{}, nil
}

func (m *Db) AppendTransition(ev db.TransitionEvent) error {
	if m.AppendTransitionFunc != nil {
		return m.AppendTransitionFunc(ev)
	}
	return nil
}
