package crawshaw

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/caasmo/acmebigip/db"
)

const timeLayout = time.RFC3339

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// Create implements db.Db.
func (d *Db) Create(cert db.CertRecord) error {
	if err := cert.Validate(); err != nil && cert.Status != db.StatusPending {
		return err
	}

	conn := d.pool.Get(nil)
	defer d.pool.Put(conn)

	sanJSON, err := json.Marshal(cert.San)
	if err != nil {
		return fmt.Errorf("crawshaw: marshal san: %w", err)
	}
	tagsJSON, err := json.Marshal(cert.Tags)
	if err != nil {
		return fmt.Errorf("crawshaw: marshal tags: %w", err)
	}
	deployedJSON, err := cert.DeployedJSON()
	if err != nil {
		return fmt.Errorf("crawshaw: marshal deployed: %w", err)
	}

	err = sqlitex.Exec(conn,
		`INSERT INTO certificates (
			cert_id, main_domain, san, provider, directory_url, not_before, not_after,
			path, key_secret_path, tags, status, deployed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nil,
		cert.CertID, cert.MainDomain, string(sanJSON), string(cert.Provider), cert.DirectoryURL,
		formatTime(cert.NotBefore), formatTime(cert.NotAfter), cert.Path, cert.KeySecretPath,
		string(tagsJSON), string(cert.Status), string(deployedJSON),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("crawshaw: create %s: %w", cert.CertID, db.ErrConstraintUnique)
		}
		return fmt.Errorf("crawshaw: create %s: %w", cert.CertID, err)
	}
	return nil
}

func scanCert(stmt *sqlite.Stmt) (*db.CertRecord, error) {
	var san, tags []string
	if err := json.Unmarshal([]byte(stmt.GetText("san")), &san); err != nil {
		return nil, fmt.Errorf("unmarshal san: %w", err)
	}
	if err := json.Unmarshal([]byte(stmt.GetText("tags")), &tags); err != nil {
		tags = nil
	}
	var deployed db.Deployed
	if depText := stmt.GetText("deployed"); depText != "" {
		if err := json.Unmarshal([]byte(depText), &deployed); err != nil {
			return nil, fmt.Errorf("unmarshal deployed: %w", err)
		}
	}

	return &db.CertRecord{
		CertID:        stmt.GetText("cert_id"),
		MainDomain:    stmt.GetText("main_domain"),
		San:           san,
		Provider:      db.Provider(stmt.GetText("provider")),
		DirectoryURL:  stmt.GetText("directory_url"),
		NotBefore:     parseTime(stmt.GetText("not_before")),
		NotAfter:      parseTime(stmt.GetText("not_after")),
		Path:          stmt.GetText("path"),
		KeySecretPath: stmt.GetText("key_secret_path"),
		Tags:          tags,
		Status:        db.Status(stmt.GetText("status")),
		Deployed:      deployed,
		CreatedAt:     parseTime(stmt.GetText("created_at")),
		UpdatedAt:     parseTime(stmt.GetText("updated_at")),
	}, nil
}

// Get implements db.Db.
func (d *Db) Get(certID string) (*db.CertRecord, error) {
	conn := d.pool.Get(nil)
	defer d.pool.Put(conn)

	var cert *db.CertRecord
	var scanErr error
	err := sqlitex.Exec(conn, `SELECT * FROM certificates WHERE cert_id = ? LIMIT 1`,
		func(stmt *sqlite.Stmt) error {
			cert, scanErr = scanCert(stmt)
			return scanErr
		}, certID)
	if err != nil {
		return nil, fmt.Errorf("crawshaw: get %s: %w", certID, err)
	}
	if cert == nil {
		return nil, fmt.Errorf("crawshaw: get %s: %w", certID, db.ErrNotFound)
	}
	return cert, nil
}

// UpdateDates implements db.Db.
func (d *Db) UpdateDates(certID string, notBefore, notAfter time.Time) error {
	return d.exec1(
		`UPDATE certificates SET not_before = ?, not_after = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ','now') WHERE cert_id = ?`,
		formatTime(notBefore), formatTime(notAfter), certID)
}

// UpdateStatus implements db.Db.
func (d *Db) UpdateStatus(certID string, status db.Status) error {
	return d.exec1(
		`UPDATE certificates SET status = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ','now') WHERE cert_id = ?`,
		string(status), certID)
}

// UpdateDirectoryURL implements db.Db.
func (d *Db) UpdateDirectoryURL(certID, directoryURL string) error {
	return d.exec1(
		`UPDATE certificates SET directory_url = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ','now') WHERE cert_id = ?`,
		directoryURL, certID)
}

// StoreChallenges implements db.Db.
func (d *Db) StoreChallenges(certID string, challenges []db.Http01Challenge) error {
	cert, err := d.Get(certID)
	if err != nil {
		return err
	}
	cert.Deployed.Http01Challenges = append(cert.Deployed.Http01Challenges, challenges...)
	depJSON, err := cert.DeployedJSON()
	if err != nil {
		return fmt.Errorf("crawshaw: marshal deployed: %w", err)
	}
	return d.exec1(
		`UPDATE certificates SET deployed = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ','now') WHERE cert_id = ?`,
		string(depJSON), certID)
}

// MarkDeployed implements db.Db.
func (d *Db) MarkDeployed(certID, host, partition, profile, sni string) error {
	cert, err := d.Get(certID)
	if err != nil {
		return err
	}
	cert.Deployed.Bigip = db.BigipDeployment{Host: host, Partition: partition, Profile: profile, SNI: sni}
	depJSON, err := cert.DeployedJSON()
	if err != nil {
		return fmt.Errorf("crawshaw: marshal deployed: %w", err)
	}
	return d.exec1(
		`UPDATE certificates SET deployed = ?, status = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ','now') WHERE cert_id = ?`,
		string(depJSON), string(db.StatusDeployed), certID)
}

// Search implements db.Db, enforcing ExpiringWithinDays.
func (d *Db) Search(q db.SearchQuery) ([]db.CertRecord, error) {
	conn := d.pool.Get(nil)
	defer d.pool.Put(conn)

	var out []db.CertRecord
	var scanErr error
	sqlStr := `SELECT * FROM certificates WHERE 1=1`
	var args []any
	if q.Query != "" {
		sqlStr += ` AND main_domain LIKE ?`
		args = append(args, "%"+q.Query+"%")
	}
	if q.Tag != "" {
		sqlStr += ` AND tags LIKE ?`
		args = append(args, `%"`+q.Tag+`"%`)
	}
	sqlStr += ` ORDER BY created_at DESC`

	err := sqlitex.Exec(conn, sqlStr, func(stmt *sqlite.Stmt) error {
		c, err := scanCert(stmt)
		if err != nil {
			scanErr = err
			return err
		}
		out = append(out, *c)
		return nil
	}, args...)
	if err != nil {
		return nil, fmt.Errorf("crawshaw: search: %w", err)
	}
	if scanErr != nil {
		return nil, scanErr
	}

	if q.ExpiringWithinDays > 0 {
		cutoff := time.Now().UTC().Add(time.Duration(q.ExpiringWithinDays) * 24 * time.Hour)
		filtered := out[:0]
		for _, c := range out {
			if !c.NotAfter.IsZero() && c.NotAfter.Before(cutoff) {
				filtered = append(filtered, c)
			}
		}
		out = filtered
	}

	return out, nil
}

// AppendTransition implements db.Db.
func (d *Db) AppendTransition(ev db.TransitionEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return d.exec1(
		`INSERT INTO cert_transitions (cert_id, state, detail, at) VALUES (?, ?, ?, ?)`,
		ev.CertID, ev.State, ev.Detail, formatTime(at))
}

func (d *Db) exec1(sql string, args ...any) error {
	conn := d.pool.Get(nil)
	defer d.pool.Put(conn)

	if err := sqlitex.Exec(conn, sql, nil, args...); err != nil {
		return fmt.Errorf("crawshaw: exec: %w", err)
	}
	return nil
}
