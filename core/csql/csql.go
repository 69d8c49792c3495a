/*Package csql wraps database/sql for the metadata database.

It binds a connection to a schema and provides the advisory-lock scoped
transaction used to serialize gateway configuration edits across process
instances.
*/
package csql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // load database driver for postgres

	"github.com/stratobase/stratobase/core/logger"
)

// DB encapsulates a standard sql.DB with a schema.
type DB struct {
	*sql.DB
	Schema string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a row.
var ErrNoRows = sql.ErrNoRows

// OpenWithSchema opens the metadata postgres database with a schema. The
// schema gets created if it does not exist yet.
func OpenWithSchema(dataSourceName, schema string) (*DB, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}
	if len(schema) == 0 {
		schema = "public"
	} else {
		if _, err = db.Exec(`CREATE schema IF NOT EXISTS ` + schema); err != nil {
			return nil, err
		}
	}
	return &DB{DB: db, Schema: schema}, nil
}

// ClearSchema clears all data in the database's schema by dropping and
// recreating it. Test helper.
func (db *DB) ClearSchema() {
	if db.Schema == "public" {
		panic("refuse to drop public schema")
	}
	_, err := db.Exec(`DROP SCHEMA ` + db.Schema + ` CASCADE;
	CREATE schema IF NOT EXISTS ` + db.Schema + `;`)
	if err != nil {
		logger.Default().Errorln("clear schema error:", db.Schema, err.Error())
	}
}

// WithAdvisoryXactLock runs action inside a transaction that holds the
// advisory transaction lock for key. The lock is released when the
// transaction commits or rolls back, on every exit path.
func (db *DB) WithAdvisoryXactLock(ctx context.Context, key int64, action func() error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cannot begin lock transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
		return fmt.Errorf("cannot acquire advisory lock %d: %w", key, err)
	}

	if err = action(); err != nil {
		return err
	}
	return tx.Commit()
}
