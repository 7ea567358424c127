package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/echocave/domain"
)

// MetaStore is the sqlite-backed store.MetaStore.
type MetaStore struct {
	db *sql.DB
}

// NewMetaStore wraps an already-migrated database handle.
func NewMetaStore(db *sql.DB) *MetaStore { return &MetaStore{db: db} }

func (s *MetaStore) Get(ctx context.Context, caveID int64) (*domain.MetaRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT cave_id, rating, type, keywords FROM cave_meta WHERE cave_id = ?`, caveID)
	rec, err := scanMeta(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *MetaStore) GetByType(ctx context.Context, typ string) ([]domain.MetaRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cave_id, rating, type, keywords FROM cave_meta WHERE type = ?`, typ)
	if err != nil {
		return nil, fmt.Errorf("meta store: get by type: %w", err)
	}
	defer rows.Close()

	var out []domain.MetaRecord
	for rows.Next() {
		var caveID int64
		var rating int
		var mtype, keywordsJSON string
		if err := rows.Scan(&caveID, &rating, &mtype, &keywordsJSON); err != nil {
			return nil, fmt.Errorf("meta store: scan: %w", err)
		}
		rec := domain.MetaRecord{CaveID: caveID, Rating: rating, Type: mtype}
		if err := json.Unmarshal([]byte(keywordsJSON), &rec.Keywords); err != nil {
			return nil, fmt.Errorf("meta store: unmarshal keywords: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *MetaStore) Upsert(ctx context.Context, rec domain.MetaRecord) error {
	keywordsJSON, err := json.Marshal(rec.Keywords)
	if err != nil {
		return fmt.Errorf("meta store: marshal keywords: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cave_meta (cave_id, rating, type, keywords) VALUES (?, ?, ?, ?)
		ON CONFLICT (cave_id) DO UPDATE SET rating = excluded.rating, type = excluded.type, keywords = excluded.keywords
	`, rec.CaveID, rec.Rating, rec.Type, string(keywordsJSON))
	if err != nil {
		return fmt.Errorf("meta store: upsert: %w", err)
	}
	return nil
}

// Delete removes the MetaRecord for caveID, if any.
func (s *MetaStore) Delete(ctx context.Context, caveID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cave_meta WHERE cave_id = ?`, caveID)
	if err != nil {
		return fmt.Errorf("meta store: delete %d: %w", caveID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeta(row rowScanner) (*domain.MetaRecord, error) {
	var rec domain.MetaRecord
	var keywordsJSON string
	if err := row.Scan(&rec.CaveID, &rec.Rating, &rec.Type, &keywordsJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(keywordsJSON), &rec.Keywords); err != nil {
		return nil, fmt.Errorf("meta store: unmarshal keywords: %w", err)
	}
	return &rec, nil
}
