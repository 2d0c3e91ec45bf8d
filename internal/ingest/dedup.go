package ingest

import (
	"github.com/google/uuid"

	"horse.fit/medley/internal/domain"
)

// dedupSlice collapses intra-batch duplicates of one entity type. The first
// entity to claim a key becomes the representative; every later entity
// sharing any key is folded into it and swept from the slice. The duplicate's
// keys transfer to the representative so a chain of pairwise-overlapping
// entities still collapses into one.
func dedupSlice[T domain.CanonicalEntity](e *Engine, items []T, st *batchState) []T {
	index := make(map[Key]uuid.UUID)
	byID := make(map[uuid.UUID]T)
	survivors := items[:0]

	for _, item := range items {
		id := item.Identity()
		sc := st.sidecars[id]
		if sc == nil {
			continue
		}

		repID := uuid.Nil
		for _, k := range sc.Keys {
			if claimed, ok := index[k]; ok {
				repID = claimed
				break
			}
		}

		if repID == uuid.Nil {
			for _, k := range sc.Keys {
				index[k] = id
			}
			byID[id] = item
			st.resolution[id] = id
			survivors = append(survivors, item)
			continue
		}

		rep := byID[repID]
		out := mergeInto(rep, item)
		st.conflicts = append(st.conflicts, out.conflicts...)
		st.resolution[id] = repID
		st.collapsed++

		repSC := st.sidecars[repID]
		for _, k := range sc.Keys {
			if _, ok := index[k]; !ok {
				index[k] = repID
				repSC.Keys = append(repSC.Keys, k)
			}
		}

		e.logger.Debug().
			Str("entity_type", string(item.EntityType())).
			Str("duplicate", id.String()).
			Str("representative", repID.String()).
			Msg("collapsed intra-batch duplicate")
	}

	return survivors
}
