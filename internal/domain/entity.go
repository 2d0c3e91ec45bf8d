package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// EntityType discriminates the canonical entity kinds the engine handles.
type EntityType string

const (
	TypeArtist     EntityType = "artist"
	TypeLabel      EntityType = "label"
	TypeReleaseSet EntityType = "release_set"
	TypeRelease    EntityType = "release"
	TypeRecording  EntityType = "recording"
	TypeTrack      EntityType = "track"
	TypePlayEvent  EntityType = "play_event"
	TypeUser       EntityType = "user"
)

// ExternalID is a provider-scoped identifier, e.g. ("musicbrainz", "<mbid>").
type ExternalID struct {
	Namespace string
	Value     string
}

// CanonicalEntity is implemented by every entity kind that participates in
// deduplication and canonical matching.
type CanonicalEntity interface {
	EntityType() EntityType
	Identity() uuid.UUID
	ResolvedID() uuid.UUID
	IsCanonical() bool
	PointTo(target uuid.UUID)
	ExternalIDs() []ExternalID
	ExternalValue(namespace string) (string, bool)
	AddExternalID(id ExternalID) (bool, error)
	SourceList() []string
	AddSource(source string)
}

// Base carries the identity, canonical pointer, provenance sources and
// external identifiers shared by all entity kinds.
type Base struct {
	ID          uuid.UUID
	CanonicalID uuid.UUID // uuid.Nil while this record is canonical
	Sources     []string
	Externals   []ExternalID
}

func (b *Base) Identity() uuid.UUID { return b.ID }

// ResolvedID returns the canonical identity: the pointer target when the
// record is superseded, the record's own id otherwise.
func (b *Base) ResolvedID() uuid.UUID {
	if b.CanonicalID != uuid.Nil {
		return b.CanonicalID
	}
	return b.ID
}

func (b *Base) IsCanonical() bool { return b.CanonicalID == uuid.Nil }

// PointTo marks the record as superseded by target. Pointing a record at
// itself resets it to canonical, so pointers never chain.
func (b *Base) PointTo(target uuid.UUID) {
	if target == b.ID {
		b.CanonicalID = uuid.Nil
		return
	}
	b.CanonicalID = target
}

func (b *Base) ExternalIDs() []ExternalID { return b.Externals }

func (b *Base) ExternalValue(namespace string) (string, bool) {
	for _, ext := range b.Externals {
		if ext.Namespace == namespace {
			return ext.Value, true
		}
	}
	return "", false
}

// AddExternalID registers an identifier. It reports false when an identical
// identifier is already present, and errors when the namespace is already
// bound to a different value.
func (b *Base) AddExternalID(id ExternalID) (bool, error) {
	for _, ext := range b.Externals {
		if ext.Namespace != id.Namespace {
			continue
		}
		if ext.Value == id.Value {
			return false, nil
		}
		return false, fmt.Errorf("namespace %s already bound to %q, refusing %q", ext.Namespace, ext.Value, id.Value)
	}
	b.Externals = append(b.Externals, id)
	return true, nil
}

func (b *Base) SourceList() []string { return b.Sources }

func (b *Base) AddSource(source string) {
	if source == "" {
		return
	}
	for _, s := range b.Sources {
		if s == source {
			return
		}
	}
	b.Sources = append(b.Sources, source)
}
