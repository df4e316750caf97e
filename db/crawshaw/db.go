// Package crawshaw implements the Inventory Adapter (db.Db) on top of
// crawshaw.io/sqlite, the second interchangeable sqlite driver kept from the
// teacher (alongside db/zombiezen). Useful when an operator's process
// already links crawshaw's pool elsewhere and wants to share it.
package crawshaw

import (
	"fmt"
	"io/fs"
	"runtime"

	"crawshaw.io/sqlite/sqlitex"
	"github.com/caasmo/acmebigip/db"
	"github.com/caasmo/acmebigip/migrations"
)

type Db struct {
	pool *sqlitex.Pool
}

var _ db.Db = (*Db)(nil)

// New opens (or creates) the sqlite file at path and applies the embedded
// schema idempotently.
func New(path string) (*Db, error) {
	poolSize := runtime.NumCPU()
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := sqlitex.Open(fmt.Sprintf("file:%s", path), 0, poolSize)
	if err != nil {
		return nil, fmt.Errorf("crawshaw: open pool: %w", err)
	}
	return NewFromPool(pool)
}

// NewFromPool wraps an already-open pool and applies the schema to it. The
// returned Db takes the pool over: Close on the Db closes the pool as well.
func NewFromPool(pool *sqlitex.Pool) (*Db, error) {
	if pool == nil {
		return nil, fmt.Errorf("crawshaw: pool cannot be nil")
	}
	d := &Db{pool: pool}
	if err := d.applySchema(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Db) applySchema() error {
	conn := d.pool.Get(nil)
	if conn == nil {
		return fmt.Errorf("crawshaw: failed to get conn for migration")
	}
	defer d.pool.Put(conn)

	schemaFS := migrations.Schema()
	return fs.WalkDir(schemaFS, ".", func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			return nil
		}
		sqlBytes, err := fs.ReadFile(schemaFS, path)
		if err != nil {
			return fmt.Errorf("crawshaw: read schema %s: %w", path, err)
		}
		if err := sqlitex.ExecScript(conn, string(sqlBytes)); err != nil {
			return fmt.Errorf("crawshaw: apply schema %s: %w", path, err)
		}
		return nil
	})
}

func (d *Db) Close() {
	d.pool.Close()
}
