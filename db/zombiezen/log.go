package zombiezen

import (
	"context"
	"fmt"

	"github.com/caasmo/acmebigip/db"
	"zombiezen.com/go/sqlite/sqlitex"
)

// WriteLogBatch inserts a batch of application log records in a single
// transaction. Called by the log package's Daemon on ticker flush, on a full
// batch, and on shutdown drain.
func WriteLogBatch(d *Db, batch []db.Log) error {
	if len(batch) == 0 {
		return nil
	}

	conn, err := d.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("zombiezen: take conn for log batch: %w", err)
	}
	defer d.pool.Put(conn)

	defer sqlitex.Save(conn)(&err)

	const stmt = `INSERT INTO logs (level, message, data, created) VALUES (?, ?, ?, ?)`
	for _, entry := range batch {
		execErr := sqlitex.Execute(conn, stmt, &sqlitex.ExecOptions{
			Args: []any{entry.Level, entry.Message, entry.Data, entry.Created},
		})
		if execErr != nil {
			err = fmt.Errorf("zombiezen: insert log entry: %w", execErr)
			return err
		}
	}
	return nil
}
