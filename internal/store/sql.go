package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name string
	// numbered placeholders ($1, $2) instead of ?
	numbered bool
	// collation applied to ORDER BY key for byte ordering
	keyOrder string
}

// sqlStore implements Store on top of database/sql. The sqlite and
// postgres backends differ only in their dialect and schema.
type sqlStore struct {
	db     *sql.DB
	d      dialect
	closed atomic.Bool
	now    func() time.Time
}

func newSQLStore(db *sql.DB, d dialect) *sqlStore {
	return &sqlStore{db: db, d: d, now: time.Now}
}

// rebind converts ? placeholders into the dialect's form.
func (s *sqlStore) rebind(query string) string {
	if !s.d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const upsertEntrySQL = `
	INSERT INTO entries (namespace, key, value, written_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (namespace, key) DO UPDATE
	SET value = excluded.value, written_at = excluded.written_at
`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *sqlStore) check() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Get returns the value stored under key.
func (s *sqlStore) Get(ctx context.Context, ns Namespace, key string) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT value FROM entries WHERE namespace = ? AND key = ?`),
		string(ns), key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", ns, key, err)
	}
	return value, nil
}

// Set upserts key.
func (s *sqlStore) Set(ctx context.Context, ns Namespace, key string, value []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.put(ctx, s.db, ns, key, value); err != nil {
		return fmt.Errorf("set %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *sqlStore) put(ctx context.Context, ex execer, ns Namespace, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := ex.ExecContext(ctx, s.rebind(upsertEntrySQL), string(ns), key, value, s.now().UnixNano())
	return err
}

// Delete removes key. Deleting an absent key is not an error.
func (s *sqlStore) Delete(ctx context.Context, ns Namespace, key string) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM entries WHERE namespace = ? AND key = ?`),
		string(ns), key,
	); err != nil {
		return fmt.Errorf("delete %s/%s: %w", ns, key, err)
	}
	return nil
}

// Clear removes every key in the namespace.
func (s *sqlStore) Clear(ctx context.Context, ns Namespace) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM entries WHERE namespace = ?`), string(ns)); err != nil {
		return fmt.Errorf("clear %s: %w", ns, err)
	}
	return nil
}

// Keys returns the namespace's keys in byte order.
func (s *sqlStore) Keys(ctx context.Context, ns Namespace) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT key FROM entries WHERE namespace = ? ORDER BY key `+s.d.keyOrder),
		string(ns),
	)
	if err != nil {
		return nil, fmt.Errorf("keys %s: %w", ns, err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("keys %s: scan: %w", ns, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keys %s: %w", ns, err)
	}
	return keys, nil
}

// Apply writes the batch inside a single transaction.
func (s *sqlStore) Apply(ctx context.Context, ns Namespace, b *Batch) error {
	if err := s.check(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply %s: begin tx: %w", ns, err)
	}
	defer tx.Rollback() // No-op if committed

	if b.Resets() {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM entries WHERE namespace = ?`), string(ns)); err != nil {
			return fmt.Errorf("apply %s: reset: %w", ns, err)
		}
	}
	for _, op := range b.Ops() {
		if op.Delete {
			if _, err := tx.ExecContext(ctx,
				s.rebind(`DELETE FROM entries WHERE namespace = ? AND key = ?`),
				string(ns), op.Key,
			); err != nil {
				return fmt.Errorf("apply %s: delete %s: %w", ns, op.Key, err)
			}
			continue
		}
		if err := s.put(ctx, tx, ns, op.Key, op.Value); err != nil {
			return fmt.Errorf("apply %s: put %s: %w", ns, op.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply %s: commit: %w", ns, err)
	}
	return nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for diagnostics and tests.
func (s *sqlStore) DB() *sql.DB {
	return s.db
}
