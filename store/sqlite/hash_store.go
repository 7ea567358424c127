package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hazyhaar/echocave/domain"
	"github.com/hazyhaar/echocave/internal/dbopen"
	"github.com/hazyhaar/echocave/store"
)

// HashStore is the sqlite-backed store.HashStore.
type HashStore struct {
	db *sql.DB
}

// NewHashStore wraps an already-migrated database handle.
func NewHashStore(db *sql.DB) *HashStore { return &HashStore{db: db} }

func (s *HashStore) Get(ctx context.Context, filter store.HashFilter) ([]domain.HashRecord, error) {
	var conds []string
	var args []any

	if filter.CaveID != 0 {
		conds = append(conds, "cave_id = ?")
		args = append(args, filter.CaveID)
	}
	if filter.Kind != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(filter.Kind))
	}

	query := "SELECT cave_id, hash, type FROM cave_hash"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("hash store: get: %w", err)
	}
	defer rows.Close()

	var out []domain.HashRecord
	for rows.Next() {
		var rec domain.HashRecord
		var kind string
		if err := rows.Scan(&rec.CaveID, &rec.Hash, &kind); err != nil {
			return nil, fmt.Errorf("hash store: scan: %w", err)
		}
		rec.Kind = domain.HashKind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *HashStore) Upsert(ctx context.Context, records []domain.HashRecord) error {
	if len(records) == 0 {
		return nil
	}
	return dbopen.RunTransaction(s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO cave_hash (cave_id, hash, type) VALUES (?, ?, ?)
			ON CONFLICT (cave_id, hash, type) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("hash store: prepare: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			if _, err := stmt.ExecContext(ctx, rec.CaveID, rec.Hash, string(rec.Kind)); err != nil {
				return fmt.Errorf("hash store: insert %+v: %w", rec, err)
			}
		}
		return nil
	})
}

// DeleteByCaveID removes every hash row for caveID.
func (s *HashStore) DeleteByCaveID(ctx context.Context, caveID int64) error {
	_, err := dbopen.ExecWithRetry(s.db, `DELETE FROM cave_hash WHERE cave_id = ?`, caveID)
	if err != nil {
		return fmt.Errorf("hash store: delete by cave id %d: %w", caveID, err)
	}
	return nil
}
