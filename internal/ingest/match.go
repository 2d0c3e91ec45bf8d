package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"horse.fit/medley/internal/domain"
)

type matchResult struct {
	target domain.CanonicalEntity // nil means no match: create new
	reason domain.MergeReason
}

// fuzzyEnabled gates stage 3. Tracks, play events and users are exact-only:
// near-miss heuristics on placement or identity data create false merges.
func fuzzyEnabled(et domain.EntityType) bool {
	switch et {
	case domain.TypeArtist, domain.TypeReleaseSet, domain.TypeRelease, domain.TypeRecording:
		return true
	default:
		return false
	}
}

// matchEntity runs the three matching stages against the store: external
// identifiers, deterministic keys in priority order, then bounded fuzzy
// similarity where enabled. Conflicts are recorded and the stages fall
// through; only storage failures are returned as errors.
func (e *Engine) matchEntity(ctx context.Context, tx Tx, ent domain.CanonicalEntity, sc *Sidecar, st *batchState) (matchResult, error) {
	et := ent.EntityType()

	// stage 1: external identifiers
	hits := make(map[uuid.UUID]domain.CanonicalEntity)
	for _, ext := range ent.ExternalIDs() {
		found, err := tx.GetByExternalID(ctx, et, ext.Namespace, ext.Value)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return matchResult{}, &PersistenceError{Op: "lookup external id", Err: err}
		}
		hits[found.Identity()] = found
	}
	if len(hits) == 1 {
		for _, found := range hits {
			return matchResult{target: found, reason: domain.MergeReasonExternalID}, nil
		}
	}
	if len(hits) > 1 {
		c := Conflict{
			Kind:       ConflictExternalID,
			EntityType: et,
			EntityID:   ent.Identity(),
			Detail:     fmt.Sprintf("external identifiers resolve to %d distinct canonical entities", len(hits)),
		}
		st.addConflict(c)
		e.logger.Warn().Str("entity_type", string(et)).Str("entity_id", ent.Identity().String()).Msg(c.Detail)
	}

	// stage 2: deterministic keys in priority order
	escalate := false
	for _, key := range sc.Keys {
		candidates, err := tx.FindByKey(ctx, et, key)
		if err != nil {
			return matchResult{}, &PersistenceError{Op: "lookup deterministic key", Err: err}
		}
		switch len(candidates) {
		case 0:
			continue
		case 1:
			return matchResult{target: candidates[0], reason: domain.MergeReasonDeterministicKey}, nil
		default:
			if fuzzyEnabled(et) {
				escalate = true
				break
			}
			c := Conflict{
				Kind:       ConflictAmbiguousMatch,
				EntityType: et,
				EntityID:   ent.Identity(),
				Detail:     fmt.Sprintf("deterministic key matches %d canonical entities", len(candidates)),
			}
			st.addConflict(c)
			e.logger.Warn().Str("entity_type", string(et)).Str("entity_id", ent.Identity().String()).Msg(c.Detail)
			return matchResult{}, nil
		}
		if escalate {
			break
		}
	}

	if !fuzzyEnabled(et) {
		return matchResult{}, nil
	}

	// stage 3: bounded fuzzy
	return e.fuzzyMatch(ctx, tx, ent, sc, st)
}

func (e *Engine) fuzzyMatch(ctx context.Context, tx Tx, ent domain.CanonicalEntity, sc *Sidecar, st *batchState) (matchResult, error) {
	if sc.NormName == "" {
		return matchResult{}, nil
	}

	et := ent.EntityType()
	filter := FuzzyFilter{
		NamePrefix:     runePrefix(sc.NormName, e.opts.FuzzyPrefixLength),
		DurationBucket: -1,
		Limit:          e.opts.FuzzyCandidateLimit,
	}
	if et == domain.TypeRecording {
		filter.DurationBucket = sc.DurationBucket
	}

	candidates, err := tx.FindFuzzyCandidates(ctx, et, filter)
	if err != nil {
		return matchResult{}, &PersistenceError{Op: "fetch fuzzy candidates", Err: err}
	}

	var accepted []FuzzyCandidate
	bestScore := 0.0
	for _, cand := range candidates {
		score := trigramJaccard(sc.NormName, cand.NormName)
		if score < e.opts.FuzzyThreshold {
			continue
		}
		accepted = append(accepted, cand)
		if score > bestScore {
			bestScore = score
		}
	}

	switch len(accepted) {
	case 0:
		return matchResult{}, nil
	case 1:
		e.logger.Debug().
			Str("entity_type", string(et)).
			Str("entity_id", ent.Identity().String()).
			Float64("score", bestScore).
			Msg("fuzzy match accepted")
		return matchResult{target: accepted[0].Entity, reason: domain.MergeReasonFuzzy}, nil
	default:
		c := Conflict{
			Kind:       ConflictAmbiguousMatch,
			EntityType: et,
			EntityID:   ent.Identity(),
			Detail:     fmt.Sprintf("%d fuzzy candidates above threshold %.2f", len(accepted), e.opts.FuzzyThreshold),
		}
		st.addConflict(c)
		e.logger.Warn().Str("entity_type", string(et)).Str("entity_id", ent.Identity().String()).Msg(c.Detail)
		return matchResult{}, nil
	}
}

func runePrefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
