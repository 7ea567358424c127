package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/echocave/domain"
)

// SubmissionStore is the sqlite-backed store.SubmissionStore.
type SubmissionStore struct {
	db *sql.DB
}

// NewSubmissionStore wraps an already-migrated database handle.
func NewSubmissionStore(db *sql.DB) *SubmissionStore { return &SubmissionStore{db: db} }

func (s *SubmissionStore) Insert(ctx context.Context, sub *domain.Submission) error {
	elementsJSON, err := json.Marshal(sub.Elements)
	if err != nil {
		return fmt.Errorf("submission store: marshal elements: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cave (id, channel_id, user_id, elements, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sub.ID, sub.ChannelID, sub.UserID, string(elementsJSON), string(sub.Status), sub.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("submission store: insert: %w", err)
	}
	return nil
}

func (s *SubmissionStore) Get(ctx context.Context, id int64) (*domain.Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, user_id, elements, status, created_at FROM cave WHERE id = ?`, id)
	return scanSubmission(row)
}

func (s *SubmissionStore) UpdateStatus(ctx context.Context, id int64, status domain.Status, elements []domain.Element) error {
	if elements == nil {
		_, err := s.db.ExecContext(ctx, `UPDATE cave SET status = ? WHERE id = ?`, string(status), id)
		if err != nil {
			return fmt.Errorf("submission store: update status: %w", err)
		}
		return nil
	}

	elementsJSON, err := json.Marshal(elements)
	if err != nil {
		return fmt.Errorf("submission store: marshal elements: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE cave SET status = ?, elements = ? WHERE id = ?`, string(status), string(elementsJSON), id)
	if err != nil {
		return fmt.Errorf("submission store: update status+elements: %w", err)
	}
	return nil
}

func (s *SubmissionStore) ListByStatus(ctx context.Context, status domain.Status) ([]domain.Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, user_id, elements, status, created_at FROM cave WHERE status = ?`, string(status))
	if err != nil {
		return nil, fmt.Errorf("submission store: list by status: %w", err)
	}
	defer rows.Close()

	var out []domain.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

func scanSubmission(row rowScanner) (*domain.Submission, error) {
	var sub domain.Submission
	var elementsJSON, status string
	var createdAtUnix int64
	if err := row.Scan(&sub.ID, &sub.ChannelID, &sub.UserID, &elementsJSON, &status, &createdAtUnix); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(elementsJSON), &sub.Elements); err != nil {
		return nil, fmt.Errorf("submission store: unmarshal elements: %w", err)
	}
	sub.Status = domain.Status(status)
	sub.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	return &sub, nil
}
