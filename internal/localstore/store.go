// Package localstore is the device-side persistence for the offline queue:
// pending expense mutations awaiting sync and the stored login session.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"pocketexpense/internal/core"

	_ "modernc.org/sqlite"
)

// Session is the persisted login state of the device.
type Session struct {
	Token  string
	UserID string
	Email  string
	Name   string
}

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open local database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping local database: %w", err)
	}

	if err := runMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Enqueue appends a mutation to the end of the queue.
func (s *Store) Enqueue(ctx context.Context, m core.PendingMutation) error {
	if err := m.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(m.Expense)
	if err != nil {
		return fmt.Errorf("marshal expense payload: %w", err)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_mutations (local_id, op, target_id, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.LocalID, string(m.Op), m.TargetID, string(payload), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue mutation: %w", err)
	}

	slog.InfoContext(ctx, "Mutation enqueued",
		"local_id", m.LocalID,
		"op", string(m.Op),
		"target_id", m.TargetID)
	return nil
}

// List returns all queued mutations in insertion order (oldest first).
func (s *Store) List(ctx context.Context) ([]core.PendingMutation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT local_id, op, target_id, payload, created_at FROM pending_mutations ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list mutations: %w", err)
	}
	defer rows.Close()

	var out []core.PendingMutation
	for rows.Next() {
		var (
			m       core.PendingMutation
			op      string
			payload string
		)
		if err := rows.Scan(&m.LocalID, &op, &m.TargetID, &payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		m.Op = core.MutationOp(op)
		if err := json.Unmarshal([]byte(payload), &m.Expense); err != nil {
			return nil, fmt.Errorf("unmarshal expense payload for %s: %w", m.LocalID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Remove deletes one mutation after a successful or terminally failed sync.
func (s *Store) Remove(ctx context.Context, localID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_mutations WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("remove mutation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove mutation rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("mutation %s: %w", localID, core.ErrNotFound)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_mutations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count mutations: %w", err)
	}
	return n, nil
}

// SaveSession stores the login state, replacing any previous session.
func (s *Store) SaveSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session (id, token, user_id, email, name) VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET token = excluded.token, user_id = excluded.user_id, email = excluded.email, name = excluded.name`,
		sess.Token, sess.UserID, sess.Email, sess.Name)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Session returns the stored login state, or core.ErrNotFound when logged out.
func (s *Store) Session(ctx context.Context) (Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, email, name FROM session WHERE id = 1`).
		Scan(&sess.Token, &sess.UserID, &sess.Email, &sess.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session: %w", core.ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

// Clear wipes the pending queue and the session in one transaction. Used on
// logout so a partially cleared device can never exist.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_mutations`); err != nil {
		return fmt.Errorf("clear mutations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear transaction: %w", err)
	}

	slog.InfoContext(ctx, "Local store cleared")
	return nil
}
