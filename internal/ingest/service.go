package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/medley/internal/domain"
	"horse.fit/medley/internal/globaltime"
)

const (
	defaultFuzzyThreshold      = 0.95
	defaultFuzzyCandidateLimit = 200
	defaultFuzzyPrefixLength   = 4
	defaultDurationBucketMS    = 2000
	defaultActor               = "medley"
)

// Options tune the engine. Zero values fall back to the defaults above.
type Options struct {
	FuzzyThreshold      float64
	FuzzyCandidateLimit int
	FuzzyPrefixLength   int
	DurationBucketMS    int
	Actor               string
}

func DefaultOptions() Options {
	return Options{
		FuzzyThreshold:      defaultFuzzyThreshold,
		FuzzyCandidateLimit: defaultFuzzyCandidateLimit,
		FuzzyPrefixLength:   defaultFuzzyPrefixLength,
		DurationBucketMS:    defaultDurationBucketMS,
		Actor:               defaultActor,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.FuzzyThreshold <= 0 || o.FuzzyThreshold > 1 {
		o.FuzzyThreshold = def.FuzzyThreshold
	}
	if o.FuzzyCandidateLimit <= 0 {
		o.FuzzyCandidateLimit = def.FuzzyCandidateLimit
	}
	if o.FuzzyPrefixLength <= 0 {
		o.FuzzyPrefixLength = def.FuzzyPrefixLength
	}
	if o.DurationBucketMS <= 0 {
		o.DurationBucketMS = def.DurationBucketMS
	}
	if o.Actor == "" {
		o.Actor = def.Actor
	}
	return o
}

// BatchResult reports what one batch did.
type BatchResult struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Merged    int `json:"merged"`
	Collapsed int `json:"collapsed"`
	Unchanged int `json:"unchanged"`
	Conflicts int `json:"conflicts"`
	Skipped   int `json:"skipped"`
}

// Engine runs batches through normalization, intra-batch dedup, canonical
// matching, merging, graph rewriting and the single persistence boundary.
type Engine struct {
	store  Store
	logger zerolog.Logger
	opts   Options
}

func NewEngine(store Store, logger zerolog.Logger, opts Options) *Engine {
	return &Engine{
		store:  store,
		logger: logger.With().Str("component", "ingest").Logger(),
		opts:   opts.withDefaults(),
	}
}

// ProcessBatch canonicalizes one entity graph. Everything the batch changes
// is committed in one transaction; a fatal error rolls all of it back and is
// returned. Non-fatal findings (malformed entities, ambiguous matches, field
// conflicts) are logged, counted and do not stop the batch. Every non-empty
// batch leaves a run ledger row: completed runs inside the batch transaction,
// failed runs after rollback.
func (e *Engine) ProcessBatch(ctx context.Context, g *domain.Graph) (BatchResult, error) {
	if g == nil || g.Size() == 0 {
		return BatchResult{}, nil
	}

	started := globaltime.UTC()
	res, err := e.processBatch(ctx, g, started)
	if err != nil {
		e.recordFailedRun(ctx, g.Source, started, err)
		return BatchResult{}, err
	}
	return res, nil
}

func (e *Engine) processBatch(ctx context.Context, g *domain.Graph, started time.Time) (BatchResult, error) {
	res := BatchResult{}
	st := newBatchState()

	if err := e.prepareBatch(g, st); err != nil {
		return res, err
	}

	tx, err := e.store.Begin(ctx, lockKey(g.Source))
	if err != nil {
		return res, &PersistenceError{Op: "begin batch transaction", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				e.logger.Error().Err(rbErr).Msg("rollback failed")
			}
		}
	}()

	if err := e.resolveBatch(ctx, tx, g, st, &res); err != nil {
		return BatchResult{}, err
	}

	res.Collapsed = st.collapsed
	res.Conflicts = len(st.conflicts)
	res.Skipped = st.skipCount
	res.Processed = res.Created + res.Merged + res.Unchanged

	finished := globaltime.UTC()
	run := domain.IngestRun{
		ID:         uuid.New(),
		Source:     g.Source,
		Actor:      e.opts.Actor,
		Status:     domain.RunStatusCompleted,
		StartedAt:  started,
		FinishedAt: &finished,
		Processed:  res.Processed,
		Created:    res.Created,
		Merged:     res.Merged,
		Collapsed:  res.Collapsed,
		Unchanged:  res.Unchanged,
		Conflicts:  res.Conflicts,
		Skipped:    res.Skipped,
	}
	if err := tx.RecordRun(ctx, run); err != nil {
		return BatchResult{}, &PersistenceError{Op: "record ingest run", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return BatchResult{}, &PersistenceError{Op: "commit batch", Err: err}
	}
	committed = true

	e.logger.Info().
		Str("source", g.Source).
		Int("processed", res.Processed).
		Int("created", res.Created).
		Int("merged", res.Merged).
		Int("collapsed", res.Collapsed).
		Int("unchanged", res.Unchanged).
		Int("conflicts", res.Conflicts).
		Int("skipped", res.Skipped).
		Msg("batch committed")

	return res, nil
}

// recordFailedRun ledgers a batch that rolled back. The write happens outside
// the batch transaction; a ledger failure is logged, not returned, since the
// batch error is the one the caller needs.
func (e *Engine) recordFailedRun(ctx context.Context, source string, started time.Time, cause error) {
	finished := globaltime.UTC()
	msg := cause.Error()
	run := domain.IngestRun{
		ID:           uuid.New(),
		Source:       source,
		Actor:        e.opts.Actor,
		Status:       domain.RunStatusFailed,
		StartedAt:    started,
		FinishedAt:   &finished,
		ErrorMessage: &msg,
	}
	if err := e.store.RecordRun(ctx, run); err != nil {
		e.logger.Error().Err(err).Str("source", source).Msg("record failed run")
	}
}

func lockKey(source string) string {
	return fmt.Sprintf("medley:batch:%s", source)
}

// prepareBatch runs normalization and intra-batch dedup per type in
// dependency order, so references are rewritten through the resolution map
// before the keys that embed them are derived.
func (e *Engine) prepareBatch(g *domain.Graph, st *batchState) error {
	kept := g.Artists[:0]
	for _, a := range g.Artists {
		sc, err := e.normalizeArtist(a)
		if err != nil {
			e.skipEntity(st, a, err)
			continue
		}
		sc.Keys = artistKeys(a, sc)
		st.sidecars[a.ID] = sc
		kept = append(kept, a)
	}
	g.Artists = dedupSlice(e, kept, st)

	keptLabels := g.Labels[:0]
	for _, l := range g.Labels {
		sc, err := e.normalizeLabel(l)
		if err != nil {
			e.skipEntity(st, l, err)
			continue
		}
		sc.Keys = labelKeys(l, sc)
		st.sidecars[l.ID] = sc
		keptLabels = append(keptLabels, l)
	}
	g.Labels = dedupSlice(e, keptLabels, st)

	keptSets := g.ReleaseSets[:0]
	for _, rs := range g.ReleaseSets {
		cascade, err := st.rewriteRefs(rs)
		if err != nil {
			return err
		}
		if cascade {
			e.skipCascade(st, rs)
			continue
		}
		sc, err := e.normalizeReleaseSet(rs, st)
		if err != nil {
			e.skipEntity(st, rs, err)
			continue
		}
		sc.Keys = releaseSetKeys(rs, sc)
		st.sidecars[rs.ID] = sc
		keptSets = append(keptSets, rs)
	}
	g.ReleaseSets = dedupSlice(e, keptSets, st)

	keptReleases := g.Releases[:0]
	for _, r := range g.Releases {
		cascade, err := st.rewriteRefs(r)
		if err != nil {
			return err
		}
		if cascade {
			e.skipCascade(st, r)
			continue
		}
		sc, err := e.normalizeRelease(r, st)
		if err != nil {
			e.skipEntity(st, r, err)
			continue
		}
		sc.Keys = releaseKeys(r, sc)
		st.sidecars[r.ID] = sc
		keptReleases = append(keptReleases, r)
	}
	g.Releases = dedupSlice(e, keptReleases, st)

	keptRecordings := g.Recordings[:0]
	for _, r := range g.Recordings {
		cascade, err := st.rewriteRefs(r)
		if err != nil {
			return err
		}
		if cascade {
			e.skipCascade(st, r)
			continue
		}
		sc, err := e.normalizeRecording(r, st)
		if err != nil {
			e.skipEntity(st, r, err)
			continue
		}
		sc.Keys = recordingKeys(r, sc)
		st.sidecars[r.ID] = sc
		keptRecordings = append(keptRecordings, r)
	}
	g.Recordings = dedupSlice(e, keptRecordings, st)

	keptTracks := g.Tracks[:0]
	for _, t := range g.Tracks {
		cascade, err := st.rewriteRefs(t)
		if err != nil {
			return err
		}
		if cascade {
			e.skipCascade(st, t)
			continue
		}
		sc, err := e.normalizeTrack(t)
		if err != nil {
			e.skipEntity(st, t, err)
			continue
		}
		sc.Keys = trackKeys(t, sc)
		st.sidecars[t.ID] = sc
		keptTracks = append(keptTracks, t)
	}
	g.Tracks = dedupSlice(e, keptTracks, st)

	keptUsers := g.Users[:0]
	for _, u := range g.Users {
		sc, err := e.normalizeUser(u)
		if err != nil {
			e.skipEntity(st, u, err)
			continue
		}
		sc.Keys = userKeys(u, sc)
		st.sidecars[u.ID] = sc
		keptUsers = append(keptUsers, u)
	}
	g.Users = dedupSlice(e, keptUsers, st)

	keptPlays := g.PlayEvents[:0]
	for _, p := range g.PlayEvents {
		cascade, err := st.rewriteRefs(p)
		if err != nil {
			return err
		}
		if cascade {
			e.skipCascade(st, p)
			continue
		}
		sc, err := e.normalizePlayEvent(p)
		if err != nil {
			e.skipEntity(st, p, err)
			continue
		}
		sc.Keys = playEventKeys(p, sc)
		st.sidecars[p.ID] = sc
		keptPlays = append(keptPlays, p)
	}
	g.PlayEvents = dedupSlice(e, keptPlays, st)

	return nil
}

// resolveBatch runs canonical matching per type in dependency order.
// References are rewritten again first, now picking up store identities of
// earlier types, and the keys that embed identities are re-derived before
// lookup.
func (e *Engine) resolveBatch(ctx context.Context, tx Tx, g *domain.Graph, st *batchState, res *BatchResult) error {
	for _, a := range g.Artists {
		if err := e.resolveEntity(ctx, tx, a, st, res, false); err != nil {
			return err
		}
	}
	for _, l := range g.Labels {
		if err := e.resolveEntity(ctx, tx, l, st, res, false); err != nil {
			return err
		}
	}
	for _, rs := range g.ReleaseSets {
		if err := e.resolveEntity(ctx, tx, rs, st, res, false); err != nil {
			return err
		}
	}
	for _, r := range g.Releases {
		if err := e.resolveEntity(ctx, tx, r, st, res, true); err != nil {
			return err
		}
	}
	for _, r := range g.Recordings {
		if err := e.resolveEntity(ctx, tx, r, st, res, false); err != nil {
			return err
		}
	}
	for _, t := range g.Tracks {
		if err := e.resolveEntity(ctx, tx, t, st, res, true); err != nil {
			return err
		}
	}
	for _, u := range g.Users {
		if err := e.resolveEntity(ctx, tx, u, st, res, false); err != nil {
			return err
		}
	}
	for _, p := range g.PlayEvents {
		if err := e.resolveEntity(ctx, tx, p, st, res, true); err != nil {
			return err
		}
	}
	return nil
}

// resolveEntity rewrites the entity's references to final identities, rekeys
// it when its keys embed identities, matches it against the store and applies
// the outcome: create, material merge, or no-op.
func (e *Engine) resolveEntity(ctx context.Context, tx Tx, ent domain.CanonicalEntity, st *batchState, res *BatchResult, rekey bool) error {
	cascade, err := st.rewriteRefs(ent)
	if err != nil {
		return err
	}
	if cascade {
		e.skipCascade(st, ent)
		return nil
	}

	sc := st.sidecars[ent.Identity()]
	if sc == nil {
		return nil
	}
	if rekey {
		sc.Keys = e.rederiveKeys(ent, sc)
	}

	m, err := e.matchEntity(ctx, tx, ent, sc, st)
	if err != nil {
		return err
	}

	if m.target == nil {
		if err := tx.Add(ctx, ent, sc); err != nil {
			return &PersistenceError{Op: "persist new entity", Err: err}
		}
		st.resolution[ent.Identity()] = ent.Identity()
		res.Created++
		return nil
	}

	out := mergeInto(m.target, ent)
	st.conflicts = append(st.conflicts, out.conflicts...)
	st.resolution[ent.Identity()] = m.target.Identity()

	if !out.changed {
		res.Unchanged++
		return nil
	}

	ent.PointTo(m.target.Identity())
	change := MergeChange{
		Target:         m.target,
		Superseded:     ent,
		Keys:           sc.Keys,
		DurationBucket: -1,
		Audit: domain.EntityMerge{
			ID:         uuid.New(),
			EntityType: ent.EntityType(),
			SourceID:   ent.Identity(),
			TargetID:   m.target.Identity(),
			Reason:     m.reason,
			Actor:      e.opts.Actor,
			CreatedAt:  globaltime.UTC(),
		},
	}
	if rec, ok := m.target.(*domain.Recording); ok {
		change.DurationBucket = durationBucket(rec.DurationMS, e.opts.DurationBucketMS)
	}
	if err := tx.ApplyMerge(ctx, change); err != nil {
		return &PersistenceError{Op: "apply merge", Err: err}
	}
	res.Merged++
	return nil
}

// rederiveKeys rebuilds the keys whose parts embed entity identities, which
// may have moved to store identities since the intra-batch pass.
func (e *Engine) rederiveKeys(ent domain.CanonicalEntity, sc *Sidecar) []Key {
	switch v := ent.(type) {
	case *domain.Release:
		return releaseKeys(v, sc)
	case *domain.Track:
		return trackKeys(v, sc)
	case *domain.PlayEvent:
		return playEventKeys(v, sc)
	default:
		return sc.Keys
	}
}

func (e *Engine) skipEntity(st *batchState, ent domain.CanonicalEntity, err error) {
	st.skip(ent.Identity())
	e.logger.Warn().
		Err(err).
		Str("entity_type", string(ent.EntityType())).
		Str("entity_id", ent.Identity().String()).
		Msg("skipped malformed entity")
}

func (e *Engine) skipCascade(st *batchState, ent domain.CanonicalEntity) {
	st.skip(ent.Identity())
	e.logger.Warn().
		Str("entity_type", string(ent.EntityType())).
		Str("entity_id", ent.Identity().String()).
		Msg("skipped entity referencing a skipped entity")
}
