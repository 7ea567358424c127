// Package store defines the persistence contracts the moderation pipeline
// consumes: HashRecord and MetaRecord stores, and the Submission table.
// The echo cave's actual schema lives in store/sqlite; callers that only
// need the core pipeline can satisfy these interfaces however they like.
package store

import (
	"context"

	"github.com/hazyhaar/echocave/domain"
)

// HashFilter narrows a HashRecord query. A zero-value field means
// "unconstrained" for that field.
type HashFilter struct {
	CaveID int64
	Kind   domain.HashKind // "" = any kind
}

// HashStore persists and retrieves HashRecords. Primary key is
// (CaveID, Hash, Kind); Upsert is idempotent on repeated identical rows.
type HashStore interface {
	Get(ctx context.Context, filter HashFilter) ([]domain.HashRecord, error)
	Upsert(ctx context.Context, records []domain.HashRecord) error
	// DeleteByCaveID removes every hash row for caveID. Used by the
	// orchestrator's rollback path to guarantee no hash row survives a
	// tombstoned submission, even one partially committed mid-failure.
	DeleteByCaveID(ctx context.Context, caveID int64) error
}

// MetaStore persists and retrieves MetaRecords, keyed on CaveID.
type MetaStore interface {
	Get(ctx context.Context, caveID int64) (*domain.MetaRecord, error)
	GetByType(ctx context.Context, typ string) ([]domain.MetaRecord, error)
	Upsert(ctx context.Context, rec domain.MetaRecord) error
	// Delete removes the MetaRecord for caveID, if any. Used by the
	// orchestrator's rollback path.
	Delete(ctx context.Context, caveID int64) error
}

// SubmissionStore persists Submission rows.
type SubmissionStore interface {
	Insert(ctx context.Context, s *domain.Submission) error
	Get(ctx context.Context, id int64) (*domain.Submission, error)
	UpdateStatus(ctx context.Context, id int64, status domain.Status, elements []domain.Element) error
	ListByStatus(ctx context.Context, status domain.Status) ([]domain.Submission, error)
}
