package ingest

import (
	"github.com/google/uuid"
)

// Sidecar holds the normalized projection of one entity: canonical text
// fields, the duration bucket and the derived deterministic keys. It lives
// beside the entity for the duration of a batch and is persisted into the
// lookup tables, never onto the entity itself.
type Sidecar struct {
	NormName       string
	NormArtist     string
	DurationBucket int
	Keys           []Key
}

// batchState tracks per-batch bookkeeping: sidecars by entity identity, the
// resolution map from original identities to their final canonical identity,
// skipped identities and accumulated conflicts.
type batchState struct {
	sidecars   map[uuid.UUID]*Sidecar
	resolution map[uuid.UUID]uuid.UUID
	skipped    map[uuid.UUID]struct{}
	conflicts  []Conflict
	collapsed  int
	skipCount  int
}

func newBatchState() *batchState {
	return &batchState{
		sidecars:   make(map[uuid.UUID]*Sidecar),
		resolution: make(map[uuid.UUID]uuid.UUID),
		skipped:    make(map[uuid.UUID]struct{}),
	}
}

func (st *batchState) skip(id uuid.UUID) {
	if _, ok := st.skipped[id]; ok {
		return
	}
	st.skipped[id] = struct{}{}
	st.skipCount++
}

func (st *batchState) isSkipped(id uuid.UUID) bool {
	_, ok := st.skipped[id]
	return ok
}

func (st *batchState) addConflict(c Conflict) {
	st.conflicts = append(st.conflicts, c)
}

// finalID follows the resolution map to its fixed point. The second result is
// false when id was never registered in the batch.
func (st *batchState) finalID(id uuid.UUID) (uuid.UUID, bool) {
	cur := id
	hops := 0
	for {
		next, ok := st.resolution[cur]
		if !ok {
			if hops == 0 {
				return uuid.Nil, false
			}
			return cur, true
		}
		if next == cur {
			return cur, true
		}
		cur = next
		hops++
		if hops > len(st.resolution) {
			return cur, true
		}
	}
}
