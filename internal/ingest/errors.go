package ingest

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"horse.fit/medley/internal/domain"
)

// ErrNotFound is returned by repository lookups that match nothing.
var ErrNotFound = errors.New("entity not found")

// NormalizationError marks an entity as malformed. The entity and everything
// referencing it are skipped; the batch continues.
type NormalizationError struct {
	EntityType domain.EntityType
	EntityID   uuid.UUID
	Field      string
	Reason     string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s %s: field %s: %s", e.EntityType, e.EntityID, e.Field, e.Reason)
}

// GraphIntegrityError is fatal: a reference names an identity that is neither
// in the batch nor resolvable.
type GraphIntegrityError struct {
	EntityType domain.EntityType
	EntityID   uuid.UUID
	Field      string
	Missing    uuid.UUID
}

func (e *GraphIntegrityError) Error() string {
	return fmt.Sprintf("graph integrity: %s %s field %s references unknown entity %s", e.EntityType, e.EntityID, e.Field, e.Missing)
}

// PersistenceError wraps a storage failure that rolled back the batch.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConflictKind classifies non-fatal conflicts surfaced during a batch.
type ConflictKind string

const (
	ConflictAmbiguousMatch ConflictKind = "ambiguous_match"
	ConflictExternalID     ConflictKind = "external_id"
	ConflictField          ConflictKind = "field"
)

// Conflict is a non-fatal finding: the batch proceeds, the conflict is logged
// and counted in the result.
type Conflict struct {
	Kind       ConflictKind
	EntityType domain.EntityType
	EntityID   uuid.UUID
	Detail     string
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s conflict on %s %s: %s", c.Kind, c.EntityType, c.EntityID, c.Detail)
}
