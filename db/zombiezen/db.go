// Package zombiezen implements the Inventory Adapter (db.Db) on top of
// zombiezen.com/go/sqlite, one of the two interchangeable sqlite drivers
// kept from the teacher (alongside db/crawshaw).
package zombiezen

import (
	"context"
	"fmt"
	"io/fs"
	"runtime"

	"github.com/caasmo/acmebigip/db"
	"github.com/caasmo/acmebigip/migrations"
	"zombiezen.com/go/sqlite/sqlitex"
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

	p, err := sqlitex.NewPool(fmt.Sprintf("file:%s", path), sqlitex.PoolOptions{
		PoolSize: poolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("zombiezen: open pool: %w", err)
	}

	d := &Db{pool: p}
	if err := d.applySchema(); err != nil {
		p.Close()
		return nil, err
	}
	return d, nil
}

func (d *Db) applySchema() error {
	conn, err := d.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("zombiezen: take conn for migration: %w", err)
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
			return fmt.Errorf("zombiezen: read schema %s: %w", path, err)
		}
		if err := sqlitex.ExecuteScript(conn, string(sqlBytes), nil); err != nil {
			return fmt.Errorf("zombiezen: apply schema %s: %w", path, err)
		}
		return nil
	})
}

func (d *Db) Close() {
	d.pool.Close()
}
