package lock

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
)

// PostgresLocker uses session advisory locks on a dedicated pooled connection.
// The lock dies with the connection, so a crashed holder never wedges a job.
type PostgresLocker struct {
	db *sql.DB
}

func NewPostgresLocker(db *sql.DB) *PostgresLocker {
	return &PostgresLocker{db: db}
}

func (l *PostgresLocker) Backend() string { return "postgres" }

func (l *PostgresLocker) TryAcquire(ctx context.Context, resource string) (Lease, bool, error) {
	if l == nil || l.db == nil {
		return nil, false, ErrNotConfigured
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("pin connection: %w", err)
	}

	key := KeyFor(resource)
	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("pg_try_advisory_lock: %w", err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, false, nil
	}
	return &postgresLease{conn: conn, key: key}, true, nil
}

type postgresLease struct {
	conn *sql.Conn
	key  int64
}

func (l *postgresLease) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil

	var released bool
	err := conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock($1)`, l.key).Scan(&released)
	if err != nil {
		// discard the session so the lock cannot outlive this lease
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		_ = conn.Close()
		return fmt.Errorf("pg_advisory_unlock: %w", err)
	}
	if cerr := conn.Close(); cerr != nil {
		return cerr
	}
	if !released {
		return errors.New("advisory lock was not held at release")
	}
	return nil
}
