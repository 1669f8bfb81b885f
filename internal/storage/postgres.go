package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool used by PostgresBackend.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresBackend persists state in wizard_state (one jsonb row per key) and
// the log in wizard_interactions.
type PostgresBackend struct {
	pool PgxPool
}

var _ Backend = (*PostgresBackend)(nil)

func NewPostgresBackend(pool PgxPool) *PostgresBackend {
	if pool == nil {
		panic("storage: postgres pool cannot be nil")
	}
	return &PostgresBackend{pool: pool}
}

func (p *PostgresBackend) Get(ctx context.Context, session, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx, `
		SELECT value FROM wizard_state
		WHERE session_id = $1 AND key = $2
	`, session, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: postgres get %s: %w", key, err)
	}
	return value, nil
}

func (p *PostgresBackend) Set(ctx context.Context, session, key string, value []byte) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO wizard_state (session_id, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (session_id, key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, session, key, value)
	if err != nil {
		return fmt.Errorf("storage: postgres set %s: %w", key, err)
	}
	return nil
}

func (p *PostgresBackend) Clear(ctx context.Context, session string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: postgres begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM wizard_state WHERE session_id = $1`, session); err != nil {
		return fmt.Errorf("storage: postgres clear state: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM wizard_interactions WHERE session_id = $1`, session); err != nil {
		return fmt.Errorf("storage: postgres clear interactions: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: postgres commit: %w", err)
	}
	return nil
}

func (p *PostgresBackend) AppendInteraction(ctx context.Context, session string, entry Interaction) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("storage: encode interaction details: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: postgres begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO wizard_interactions (session_id, action, details, url, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, session, entry.Action, details, entry.URL, entry.Timestamp.UTC()); err != nil {
		return fmt.Errorf("storage: postgres insert interaction: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM wizard_interactions
		WHERE session_id = $1 AND id NOT IN (
			SELECT id FROM wizard_interactions
			WHERE session_id = $1
			ORDER BY id DESC
			LIMIT $2
		)
	`, session, MaxInteractions); err != nil {
		return fmt.Errorf("storage: postgres trim interactions: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: postgres commit: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Interactions(ctx context.Context, session string) ([]Interaction, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT action, details, url, occurred_at
		FROM wizard_interactions
		WHERE session_id = $1
		ORDER BY id ASC
	`, session)
	if err != nil {
		return nil, fmt.Errorf("storage: postgres interactions: %w", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var (
			entry   Interaction
			details []byte
			at      time.Time
		)
		if err := rows.Scan(&entry.Action, &details, &entry.URL, &at); err != nil {
			return nil, fmt.Errorf("storage: scan interaction: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("storage: decode interaction details: %w", err)
			}
		}
		entry.Timestamp = at.UTC()
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate interactions: %w", err)
	}
	return out, nil
}
