package crawshaw

import (
	"errors"
	"testing"
	"time"

	"crawshaw.io/sqlite/sqlitex"
	"github.com/caasmo/acmebigip/db"
)

// newTestDB uses a named shared-cache in-memory database so every pooled
// connection sees the same data (a bare ":memory:" URI gives each connection
// its own separate database).
func newTestDB(t *testing.T) *Db {
	t.Helper()
	pool, err := sqlitex.Open("file:testdb_"+t.Name()+"?mode=memory&cache=shared", 0, 4)
	if err != nil {
		t.Fatalf("failed to create db pool: %v", err)
	}
	d := &Db{pool: pool}
	if err := d.applySchema(); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func sampleCert(id string) db.CertRecord {
	return db.CertRecord{
		CertID:        id,
		MainDomain:    "example.com",
		San:           []string{"example.com", "www.example.com"},
		Provider:      db.ProviderLetsEncrypt,
		DirectoryURL:  "https://acme-v02.api.letsencrypt.org/directory",
		NotBefore:     time.Now().UTC(),
		NotAfter:      time.Now().UTC().Add(90 * 24 * time.Hour),
		Path:          "/certs/" + id + "/fullchain.pem",
		KeySecretPath: "secret/acme/" + id,
		Tags:          []string{"prod"},
		Status:        db.StatusIssued,
	}
}

func TestCreateAndGet(t *testing.T) {
	testDB := newTestDB(t)
	cert := sampleCert("cert-1")

	if err := testDB.Create(cert); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := testDB.Get("cert-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.MainDomain != "example.com" {
		t.Errorf("MainDomain = %q, want example.com", got.MainDomain)
	}
	if len(got.San) != 2 {
		t.Errorf("San = %v, want 2 entries", got.San)
	}
	if got.Status != db.StatusIssued {
		t.Errorf("Status = %q, want issued", got.Status)
	}
}

func TestCreateDuplicate(t *testing.T) {
	testDB := newTestDB(t)
	cert := sampleCert("cert-dup")

	if err := testDB.Create(cert); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	err := testDB.Create(cert)
	if !errors.Is(err, db.ErrConstraintUnique) {
		t.Errorf("Create duplicate: err = %v, want ErrConstraintUnique", err)
	}
}

func TestGetNotFound(t *testing.T) {
	testDB := newTestDB(t)
	_, err := testDB.Get("nope")
	if !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Get missing: err = %v, want ErrNotFound", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	testDB := newTestDB(t)
	cert := sampleCert("cert-status")
	if err := testDB.Create(cert); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := testDB.UpdateStatus("cert-status", db.StatusRevoked); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	got, err := testDB.Get("cert-status")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != db.StatusRevoked {
		t.Errorf("Status = %q, want revoked", got.Status)
	}
}

func TestStoreChallengesAppends(t *testing.T) {
	testDB := newTestDB(t)
	cert := sampleCert("cert-chal")
	if err := testDB.Create(cert); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err := testDB.StoreChallenges("cert-chal", []db.Http01Challenge{
		{Token: "tok1", KeyAuthorization: "tok1.thumb", PublishedAt: time.Now().UTC()},
	})
	if err != nil {
		t.Fatalf("StoreChallenges failed: %v", err)
	}
	err = testDB.StoreChallenges("cert-chal", []db.Http01Challenge{
		{Token: "tok2", KeyAuthorization: "tok2.thumb", PublishedAt: time.Now().UTC()},
	})
	if err != nil {
		t.Fatalf("second StoreChallenges failed: %v", err)
	}

	got, err := testDB.Get("cert-chal")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Deployed.Http01Challenges) != 2 {
		t.Fatalf("Http01Challenges = %d, want 2", len(got.Deployed.Http01Challenges))
	}
	if got.Deployed.Http01Challenges[0].Token != "tok1" || got.Deployed.Http01Challenges[1].Token != "tok2" {
		t.Errorf("unexpected challenge ordering: %+v", got.Deployed.Http01Challenges)
	}
}

func TestMarkDeployed(t *testing.T) {
	testDB := newTestDB(t)
	cert := sampleCert("cert-deploy")
	if err := testDB.Create(cert); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := testDB.MarkDeployed("cert-deploy", "lb01.internal", "Common", "example_com_clientssl", "example.com"); err != nil {
		t.Fatalf("MarkDeployed failed: %v", err)
	}

	got, err := testDB.Get("cert-deploy")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != db.StatusDeployed {
		t.Errorf("Status = %q, want deployed", got.Status)
	}
	if got.Deployed.Bigip.Host != "lb01.internal" {
		t.Errorf("Bigip.Host = %q, want lb01.internal", got.Deployed.Bigip.Host)
	}
}

func TestSearchExpiringWithinDays(t *testing.T) {
	testDB := newTestDB(t)

	soon := sampleCert("cert-soon")
	soon.NotAfter = time.Now().UTC().Add(5 * 24 * time.Hour)
	far := sampleCert("cert-far")
	far.MainDomain = "other.example"
	far.NotAfter = time.Now().UTC().Add(80 * 24 * time.Hour)

	if err := testDB.Create(soon); err != nil {
		t.Fatalf("Create soon failed: %v", err)
	}
	if err := testDB.Create(far); err != nil {
		t.Fatalf("Create far failed: %v", err)
	}

	results, err := testDB.Search(db.SearchQuery{ExpiringWithinDays: 10})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].CertID != "cert-soon" {
		t.Errorf("Search ExpiringWithinDays=10: got %+v, want only cert-soon", results)
	}
}

func TestSearchByTag(t *testing.T) {
	testDB := newTestDB(t)

	a := sampleCert("cert-a")
	a.Tags = []string{"staging"}
	b := sampleCert("cert-b")
	b.MainDomain = "b.example"
	b.Tags = []string{"prod"}

	if err := testDB.Create(a); err != nil {
		t.Fatalf("Create a failed: %v", err)
	}
	if err := testDB.Create(b); err != nil {
		t.Fatalf("Create b failed: %v", err)
	}

	results, err := testDB.Search(db.SearchQuery{Tag: "prod"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].CertID != "cert-b" {
		t.Errorf("Search Tag=prod: got %+v, want only cert-b", results)
	}
}

func TestAppendTransition(t *testing.T) {
	testDB := newTestDB(t)
	cert := sampleCert("cert-trans")
	if err := testDB.Create(cert); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err := testDB.AppendTransition(db.TransitionEvent{
		CertID: "cert-trans",
		State:  "preflight",
		Detail: "waiting for challenge propagation",
	})
	if err != nil {
		t.Fatalf("AppendTransition failed: %v", err)
	}
}
