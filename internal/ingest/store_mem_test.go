package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"horse.fit/medley/internal/domain"
)

// memStore is an in-memory Store for engine tests. It mirrors the lookup
// contract of the real store: lookups resolve canonical pointers, external
// identifier bindings are first-wins, keys are scoped per entity type.
type memStore struct {
	entities  map[domain.EntityType]map[uuid.UUID]domain.CanonicalEntity
	keys      map[domain.EntityType]map[Key][]uuid.UUID
	externals map[string]uuid.UUID
	norms     map[uuid.UUID]memNorm
	merges    []domain.EntityMerge
	runs      []domain.IngestRun

	lockKeys  []string
	commits   int
	rollbacks int
}

type memNorm struct {
	entityType domain.EntityType
	normName   string
	bucket     int
}

func newMemStore() *memStore {
	return &memStore{
		entities:  make(map[domain.EntityType]map[uuid.UUID]domain.CanonicalEntity),
		keys:      make(map[domain.EntityType]map[Key][]uuid.UUID),
		externals: make(map[string]uuid.UUID),
		norms:     make(map[uuid.UUID]memNorm),
	}
}

func (s *memStore) Begin(ctx context.Context, lockKey string) (Tx, error) {
	s.lockKeys = append(s.lockKeys, lockKey)
	return &memTx{store: s}, nil
}

func (s *memStore) RecordRun(ctx context.Context, run domain.IngestRun) error {
	s.runs = append(s.runs, run)
	return nil
}

func (s *memStore) entity(et domain.EntityType, id uuid.UUID) domain.CanonicalEntity {
	byID := s.entities[et]
	if byID == nil {
		return nil
	}
	return byID[id]
}

// canonical resolves one pointer hop, matching the persistence invariant that
// pointers never chain.
func (s *memStore) canonical(et domain.EntityType, id uuid.UUID) domain.CanonicalEntity {
	ent := s.entity(et, id)
	if ent == nil {
		return nil
	}
	resolved := ent.ResolvedID()
	if resolved != id {
		if target := s.entity(et, resolved); target != nil {
			return target
		}
	}
	return ent
}

func extBinding(et domain.EntityType, namespace, value string) string {
	return fmt.Sprintf("%s|%s|%s", et, namespace, value)
}

type memTx struct {
	store *memStore
}

func (t *memTx) GetByExternalID(ctx context.Context, et domain.EntityType, namespace, value string) (domain.CanonicalEntity, error) {
	id, ok := t.store.externals[extBinding(et, namespace, value)]
	if !ok {
		return nil, ErrNotFound
	}
	ent := t.store.canonical(et, id)
	if ent == nil {
		return nil, ErrNotFound
	}
	return ent, nil
}

func (t *memTx) FindByKey(ctx context.Context, et domain.EntityType, key Key) ([]domain.CanonicalEntity, error) {
	seen := make(map[uuid.UUID]struct{})
	var out []domain.CanonicalEntity
	for _, id := range t.store.keys[et][key] {
		ent := t.store.canonical(et, id)
		if ent == nil {
			continue
		}
		if _, dup := seen[ent.Identity()]; dup {
			continue
		}
		seen[ent.Identity()] = struct{}{}
		out = append(out, ent)
	}
	return out, nil
}

func (t *memTx) FindFuzzyCandidates(ctx context.Context, et domain.EntityType, filter FuzzyFilter) ([]FuzzyCandidate, error) {
	var out []FuzzyCandidate
	for id, n := range t.store.norms {
		if n.entityType != et {
			continue
		}
		if !strings.HasPrefix(n.normName, filter.NamePrefix) {
			continue
		}
		if filter.DurationBucket >= 0 && n.bucket != filter.DurationBucket {
			continue
		}
		ent := t.store.entity(et, id)
		if ent == nil || !ent.IsCanonical() {
			continue
		}
		out = append(out, FuzzyCandidate{Entity: ent, NormName: n.normName})
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (t *memTx) Add(ctx context.Context, entity domain.CanonicalEntity, sidecar *Sidecar) error {
	et := entity.EntityType()
	if t.store.entities[et] == nil {
		t.store.entities[et] = make(map[uuid.UUID]domain.CanonicalEntity)
	}
	if t.store.keys[et] == nil {
		t.store.keys[et] = make(map[Key][]uuid.UUID)
	}
	id := entity.Identity()
	t.store.entities[et][id] = entity
	for _, k := range sidecar.Keys {
		t.store.keys[et][k] = append(t.store.keys[et][k], id)
	}
	for _, ext := range entity.ExternalIDs() {
		binding := extBinding(et, ext.Namespace, ext.Value)
		if _, bound := t.store.externals[binding]; !bound {
			t.store.externals[binding] = id
		}
	}
	t.store.norms[id] = memNorm{entityType: et, normName: sidecar.NormName, bucket: sidecar.DurationBucket}
	return nil
}

func (t *memTx) ApplyMerge(ctx context.Context, change MergeChange) error {
	et := change.Target.EntityType()
	if t.store.entities[et] == nil {
		t.store.entities[et] = make(map[uuid.UUID]domain.CanonicalEntity)
	}
	if t.store.keys[et] == nil {
		t.store.keys[et] = make(map[Key][]uuid.UUID)
	}
	targetID := change.Target.Identity()
	t.store.entities[et][targetID] = change.Target
	t.store.entities[et][change.Superseded.Identity()] = change.Superseded
	for _, k := range change.Keys {
		t.store.keys[et][k] = append(t.store.keys[et][k], targetID)
	}
	for _, ext := range change.Target.ExternalIDs() {
		binding := extBinding(et, ext.Namespace, ext.Value)
		if _, bound := t.store.externals[binding]; !bound {
			t.store.externals[binding] = targetID
		}
	}
	if change.Audit.EntityType == domain.TypeRecording && change.DurationBucket >= 0 {
		n := t.store.norms[targetID]
		n.bucket = change.DurationBucket
		t.store.norms[targetID] = n
	}
	t.store.merges = append(t.store.merges, change.Audit)
	return nil
}

func (t *memTx) RecordRun(ctx context.Context, run domain.IngestRun) error {
	t.store.runs = append(t.store.runs, run)
	return nil
}

func (t *memTx) Commit(ctx context.Context) error {
	t.store.commits++
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.store.rollbacks++
	return nil
}
