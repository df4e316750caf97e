package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/caasmo/acmebigip/config"
	"github.com/caasmo/acmebigip/coordinator"
	"github.com/caasmo/acmebigip/db"
)

// memDB is a minimal db.Db backing only what the sweep touches: Search and
// Get. The other methods are unused by the scheduler and simply no-op.
type memDB struct {
	mu      sync.Mutex
	records []db.CertRecord
}

func (m *memDB) Close() {}
func (m *memDB) Create(cert db.CertRecord) error { return nil }
func (m *memDB) Get(certID string) (*db.CertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.CertID == certID {
			rc := r
			return &rc, nil
		}
	}
	return nil, db.ErrNotFound
}
func (m *memDB) UpdateDates(certID string, nb, na time.Time) error          { return nil }
func (m *memDB) UpdateStatus(certID string, status db.Status) error        { return nil }
func (m *memDB) UpdateDirectoryURL(certID, directoryURL string) error      { return nil }
func (m *memDB) StoreChallenges(certID string, ch []db.Http01Challenge) error { return nil }
func (m *memDB) MarkDeployed(certID, host, partition, profile, sni string) error { return nil }
func (m *memDB) Search(q db.SearchQuery) ([]db.CertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]db.CertRecord, len(m.records))
	copy(out, m.records)
	return out, nil
}
func (m *memDB) AppendTransition(ev db.TransitionEvent) error { return nil }

// fakeRenewer records which cert_ids it was asked to renew and lets tests
// script a per-call outcome.
type fakeRenewer struct {
	mu      sync.Mutex
	calls   []string
	failers map[string]error
}

func newFakeRenewer() *fakeRenewer {
	return &fakeRenewer{failers: map[string]error{}}
}

func (f *fakeRenewer) Renew(ctx context.Context, req *coordinator.Request) (*db.CertRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.CertID)
	err := f.failers[req.CertID]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &db.CertRecord{CertID: req.CertID}, nil
}

func (f *fakeRenewer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerLifecycleStartStop(t *testing.T) {
	cfg := config.Scheduler{Interval: 10 * time.Millisecond, ExpiringWithinDays: 30}
	s := NewScheduler(cfg, &memDB{}, newFakeRenewer(), nil, testLogger())

	s.Start()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestSweepRenewsEveryDueRecord(t *testing.T) {
	mdb := &memDB{records: []db.CertRecord{
		{CertID: "a", MainDomain: "a.example.com", San: []string{"a.example.com"}},
		{CertID: "b", MainDomain: "b.example.com", San: []string{"b.example.com"}},
	}}
	renewer := newFakeRenewer()
	cfg := config.Scheduler{Interval: time.Hour, ExpiringWithinDays: 30, ConcurrencyMultiplier: 2}
	s := NewScheduler(cfg, mdb, renewer, nil, testLogger())

	s.sweep()

	if renewer.callCount() != 2 {
		t.Fatalf("callCount = %d, want 2: %v", renewer.callCount(), renewer.calls)
	}
}

func TestSweepCapsBatchAtMaxRenewalsPerTick(t *testing.T) {
	mdb := &memDB{records: []db.CertRecord{
		{CertID: "a", San: []string{"a.example.com"}},
		{CertID: "b", San: []string{"b.example.com"}},
		{CertID: "c", San: []string{"c.example.com"}},
	}}
	renewer := newFakeRenewer()
	cfg := config.Scheduler{Interval: time.Hour, ExpiringWithinDays: 30, MaxRenewalsPerTick: 1, ConcurrencyMultiplier: 1}
	s := NewScheduler(cfg, mdb, renewer, nil, testLogger())

	s.sweep()

	if renewer.callCount() != 1 {
		t.Fatalf("callCount = %d, want 1 (capped)", renewer.callCount())
	}
}

func TestSweepOneFailureDoesNotBlockOthers(t *testing.T) {
	mdb := &memDB{records: []db.CertRecord{
		{CertID: "ok", San: []string{"ok.example.com"}},
		{CertID: "bad", San: []string{"bad.example.com"}},
	}}
	renewer := newFakeRenewer()
	renewer.failers["bad"] = errors.New("acme rate limited")
	cfg := config.Scheduler{Interval: time.Hour, ExpiringWithinDays: 30, ConcurrencyMultiplier: 2}
	s := NewScheduler(cfg, mdb, renewer, nil, testLogger())

	s.sweep()

	if renewer.callCount() != 2 {
		t.Fatalf("callCount = %d, want 2 (both attempted despite one failure)", renewer.callCount())
	}
}

func TestSweepNothingDueIsANoop(t *testing.T) {
	mdb := &memDB{}
	renewer := newFakeRenewer()
	cfg := config.Scheduler{Interval: time.Hour, ExpiringWithinDays: 30}
	s := NewScheduler(cfg, mdb, renewer, nil, testLogger())

	s.sweep()

	if renewer.callCount() != 0 {
		t.Fatalf("callCount = %d, want 0", renewer.callCount())
	}
}
