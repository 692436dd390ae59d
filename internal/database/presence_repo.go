package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/observer/collegecue/internal/presence"
)

// PresenceRepository stores presence records in the online_status table
type PresenceRepository struct {
	db *DB
}

var _ presence.Store = (*PresenceRepository)(nil)

func NewPresenceRepository(db *DB) *PresenceRepository {
	return &PresenceRepository{db: db}
}

// Upsert writes rec, keyed by its identity
func (r *PresenceRepository) Upsert(ctx context.Context, rec presence.Record) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO online_status (email, is_online, last_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE
		SET is_online = EXCLUDED.is_online, last_seen = EXCLUDED.last_seen
	`, rec.Identity, rec.Online, rec.LastSeen)
	if err != nil {
		return fmt.Errorf("upsert online_status: %w", err)
	}
	return nil
}

// Delete removes the record of identity. Missing rows are not an error.
func (r *PresenceRepository) Delete(ctx context.Context, identity string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM online_status WHERE email = $1`, identity)
	if err != nil {
		return fmt.Errorf("delete online_status: %w", err)
	}
	return nil
}

// List returns every stored record
func (r *PresenceRepository) List(ctx context.Context) ([]presence.Record, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT email, is_online, last_seen
		FROM online_status
		ORDER BY email
	`)
	if err != nil {
		return nil, fmt.Errorf("list online_status: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (presence.Record, error) {
		var rec presence.Record
		err := row.Scan(&rec.Identity, &rec.Online, &rec.LastSeen)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan online_status: %w", err)
	}
	return records, nil
}
