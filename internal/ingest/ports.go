package ingest

import (
	"context"

	"horse.fit/medley/internal/domain"
)

// FuzzyFilter is the coarse pre-filter for fuzzy candidate retrieval.
// DurationBucket of -1 matches any bucket.
type FuzzyFilter struct {
	NamePrefix     string
	DurationBucket int
	Limit          int
}

// FuzzyCandidate pairs a canonical entity with its stored normalized name so
// scoring does not re-derive it.
type FuzzyCandidate struct {
	Entity   domain.CanonicalEntity
	NormName string
}

// MergeChange is everything one material merge persists atomically: the
// updated target, the superseded incoming record carrying its canonical
// pointer, the incoming keys to register against the target, the refreshed
// duration bucket (-1 when not applicable) and the audit row.
type MergeChange struct {
	Target         domain.CanonicalEntity
	Superseded     domain.CanonicalEntity
	Keys           []Key
	DurationBucket int
	Audit          domain.EntityMerge
}

// Store opens batch transactions. The lock key serializes concurrent batches
// that touch the same source. RecordRun writes a run ledger row outside any
// batch transaction; failed batches are ledgered through it after rollback.
type Store interface {
	Begin(ctx context.Context, lockKey string) (Tx, error)
	RecordRun(ctx context.Context, run domain.IngestRun) error
}

// Tx is the repository port the engine drives within one batch transaction.
// Lookups resolve canonical pointers: they always return canonical entities.
type Tx interface {
	GetByExternalID(ctx context.Context, entityType domain.EntityType, namespace, value string) (domain.CanonicalEntity, error)
	FindByKey(ctx context.Context, entityType domain.EntityType, key Key) ([]domain.CanonicalEntity, error)
	FindFuzzyCandidates(ctx context.Context, entityType domain.EntityType, filter FuzzyFilter) ([]FuzzyCandidate, error)
	Add(ctx context.Context, entity domain.CanonicalEntity, sidecar *Sidecar) error
	ApplyMerge(ctx context.Context, change MergeChange) error
	RecordRun(ctx context.Context, run domain.IngestRun) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
