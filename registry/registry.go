// Package registry persists which daemon PID was started for which
// device. It is the explicit counterpart to discovering daemons by
// scanning process command lines: the scan stays as a compatibility
// fallback, but a recorded PID lets liveness checks target one
// process instead of the whole table.
//
// A registry row is a hint, not state the rest of the system trusts.
// Callers always verify a recorded PID against the live process table
// and delete rows that turn out stale; losing the database entirely
// costs nothing but a wider scan.
//
// The database is opened in WAL mode with a busy timeout, and all
// queries go through prepared statements.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	vfioctl "github.com/frobware/go-vfioctl"
)

const schema = `
CREATE TABLE IF NOT EXISTS daemons (
	address     TEXT PRIMARY KEY,
	pid         INTEGER NOT NULL,
	daemon_path TEXT NOT NULL,
	started_at  TEXT NOT NULL
);`

// Store is a SQLite-backed daemon registry.
type Store struct {
	db *sql.DB

	stmtRecord *sql.Stmt
	stmtLookup *sql.Stmt
	stmtForget *sql.Stmt
	stmtList   *sql.Stmt
}

// Record is one registry row.
type Record struct {
	Address    vfioctl.Address
	PID        int32
	DaemonPath string
	StartedAt  time.Time
}

// Open opens (creating if necessary) the registry database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}

	db, err := sql.Open(driverName, dsn(path, [][2]string{
		{"journal_mode", "WAL"},
		{"busy_timeout", "5000"},
		{"synchronous", "NORMAL"},
		{"foreign_keys", "ON"},
	}))
	if err != nil {
		return nil, fmt.Errorf("open registry at %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create registry schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) prepareStatements() error {
	var err error

	const sqlRecord = `
		INSERT INTO daemons (address, pid, daemon_path, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
		  pid = excluded.pid,
		  daemon_path = excluded.daemon_path,
		  started_at = excluded.started_at`
	if s.stmtRecord, err = s.db.Prepare(sqlRecord); err != nil {
		return fmt.Errorf("prepare Record: %w", err)
	}

	const sqlLookup = "SELECT pid FROM daemons WHERE address = ?"
	if s.stmtLookup, err = s.db.Prepare(sqlLookup); err != nil {
		return fmt.Errorf("prepare Lookup: %w", err)
	}

	const sqlForget = "DELETE FROM daemons WHERE address = ?"
	if s.stmtForget, err = s.db.Prepare(sqlForget); err != nil {
		return fmt.Errorf("prepare Forget: %w", err)
	}

	const sqlList = "SELECT address, pid, daemon_path, started_at FROM daemons ORDER BY address"
	if s.stmtList, err = s.db.Prepare(sqlList); err != nil {
		return fmt.Errorf("prepare List: %w", err)
	}

	return nil
}

// Record upserts the daemon row for a device.
func (s *Store) Record(ctx context.Context, addr vfioctl.Address, pid int32, daemonPath string) error {
	_, err := s.stmtRecord.ExecContext(ctx, addr.String(), pid, daemonPath,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record daemon for %s: %w", addr, err)
	}
	return nil
}

// Lookup returns the recorded PID for a device, if any.
func (s *Store) Lookup(ctx context.Context, addr vfioctl.Address) (int32, bool, error) {
	var pid int32
	err := s.stmtLookup.QueryRowContext(ctx, addr.String()).Scan(&pid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup daemon for %s: %w", addr, err)
	}
	return pid, true, nil
}

// Forget deletes the daemon row for a device. Deleting a row that
// does not exist is not an error.
func (s *Store) Forget(ctx context.Context, addr vfioctl.Address) error {
	if _, err := s.stmtForget.ExecContext(ctx, addr.String()); err != nil {
		return fmt.Errorf("forget daemon for %s: %w", addr, err)
	}
	return nil
}

// List returns all registry rows in address order.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.stmtList.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list daemons: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			addrStr   string
			rec       Record
			startedAt string
		)
		if err := rows.Scan(&addrStr, &rec.PID, &rec.DaemonPath, &startedAt); err != nil {
			return nil, fmt.Errorf("scan daemon row: %w", err)
		}
		if rec.Address, err = vfioctl.ParseAddress(addrStr); err != nil {
			return nil, fmt.Errorf("corrupt address %q in registry: %w", addrStr, err)
		}
		if rec.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
			return nil, fmt.Errorf("corrupt started_at %q in registry: %w", startedAt, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the prepared statements and the database.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmtRecord, s.stmtLookup, s.stmtForget, s.stmtList} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
