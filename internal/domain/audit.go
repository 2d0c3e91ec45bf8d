package domain

import (
	"time"

	"github.com/google/uuid"
)

// MergeReason records which matching stage produced a merge.
type MergeReason string

const (
	MergeReasonExternalID       MergeReason = "external_id"
	MergeReasonDeterministicKey MergeReason = "deterministic_key"
	MergeReasonFuzzy            MergeReason = "fuzzy"
	MergeReasonBatchDuplicate   MergeReason = "batch_duplicate"
)

// EntityMerge is an append-only audit record of one entity being merged into
// another. Source and target are ids of the same entity type.
type EntityMerge struct {
	ID         uuid.UUID
	EntityType EntityType
	SourceID   uuid.UUID
	TargetID   uuid.UUID
	Reason     MergeReason
	Actor      string
	CreatedAt  time.Time
}

// IngestRun summarizes one batch-processing call.
type IngestRun struct {
	ID           uuid.UUID
	Source       string
	Actor        string
	Status       string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Processed    int
	Created      int
	Merged       int
	Collapsed    int
	Unchanged    int
	Conflicts    int
	Skipped      int
	ErrorMessage *string
}

const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)
