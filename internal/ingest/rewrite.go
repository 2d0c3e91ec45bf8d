package ingest

import (
	"github.com/google/uuid"

	"horse.fit/medley/internal/domain"
)

// rewriteRefs maps every reference the entity carries through the resolution
// map to the current canonical identity. It reports cascade=true when a
// referenced entity was skipped, which skips this entity too. A reference to
// an identity the batch has never seen is fatal. Rewriting is idempotent:
// resolved identities map to themselves.
func (st *batchState) rewriteRefs(ent domain.CanonicalEntity) (bool, error) {
	switch v := ent.(type) {
	case *domain.Artist, *domain.Label, *domain.User:
		return false, nil
	case *domain.ReleaseSet:
		credits, cascade, err := st.rewriteCredits(ent, "credits", v.Credits)
		if cascade || err != nil {
			return cascade, err
		}
		v.Credits = credits
		return false, nil
	case *domain.Release:
		id, cascade, err := st.resolveRef(ent, "release_set", v.ReleaseSetID)
		if cascade || err != nil {
			return cascade, err
		}
		v.ReleaseSetID = id
		labels, cascade, err := st.rewriteIDList(ent, "labels", v.LabelIDs)
		if cascade || err != nil {
			return cascade, err
		}
		v.LabelIDs = labels
		return false, nil
	case *domain.Recording:
		credits, cascade, err := st.rewriteCredits(ent, "credits", v.Credits)
		if cascade || err != nil {
			return cascade, err
		}
		v.Credits = credits
		return false, nil
	case *domain.Track:
		release, cascade, err := st.resolveRef(ent, "release", v.ReleaseID)
		if cascade || err != nil {
			return cascade, err
		}
		recording, cascade, err := st.resolveRef(ent, "recording", v.RecordingID)
		if cascade || err != nil {
			return cascade, err
		}
		v.ReleaseID = release
		v.RecordingID = recording
		return false, nil
	case *domain.PlayEvent:
		user, cascade, err := st.resolveRef(ent, "user", v.UserID)
		if cascade || err != nil {
			return cascade, err
		}
		recording, cascade, err := st.resolveRef(ent, "recording", v.RecordingID)
		if cascade || err != nil {
			return cascade, err
		}
		track, cascade, err := st.resolveRef(ent, "track", v.TrackID)
		if cascade || err != nil {
			return cascade, err
		}
		v.UserID = user
		v.RecordingID = recording
		v.TrackID = track
		return false, nil
	default:
		return false, nil
	}
}

// resolveRef maps one reference. uuid.Nil passes through untouched so
// optional references stay optional.
func (st *batchState) resolveRef(owner domain.CanonicalEntity, field string, id uuid.UUID) (uuid.UUID, bool, error) {
	if id == uuid.Nil {
		return id, false, nil
	}
	if st.isSkipped(id) {
		return uuid.Nil, true, nil
	}
	final, ok := st.finalID(id)
	if !ok {
		return uuid.Nil, false, &GraphIntegrityError{
			EntityType: owner.EntityType(),
			EntityID:   owner.Identity(),
			Field:      field,
			Missing:    id,
		}
	}
	if st.isSkipped(final) {
		return uuid.Nil, true, nil
	}
	return final, false, nil
}

type creditIdentity struct {
	artistID uuid.UUID
	role     domain.CreditRole
}

// rewriteCredits resolves credit targets and collapses credits that became
// duplicates after resolution, keeping first-seen order.
func (st *batchState) rewriteCredits(owner domain.CanonicalEntity, field string, credits []domain.ArtistCredit) ([]domain.ArtistCredit, bool, error) {
	seen := make(map[creditIdentity]struct{}, len(credits))
	out := credits[:0]
	for _, c := range credits {
		id, cascade, err := st.resolveRef(owner, field, c.ArtistID)
		if cascade || err != nil {
			return nil, cascade, err
		}
		key := creditIdentity{artistID: id, role: c.Role}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		c.ArtistID = id
		c.CreditOrder = len(out)
		out = append(out, c)
	}
	return out, false, nil
}

func (st *batchState) rewriteIDList(owner domain.CanonicalEntity, field string, ids []uuid.UUID) ([]uuid.UUID, bool, error) {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		resolved, cascade, err := st.resolveRef(owner, field, id)
		if cascade || err != nil {
			return nil, cascade, err
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		out = append(out, resolved)
	}
	return out, false, nil
}
