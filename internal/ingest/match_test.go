package ingest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/medley/internal/domain"
)

func seedArtist(t *testing.T, e *Engine, store *memStore, name, source string, externals ...domain.ExternalID) *domain.Artist {
	t.Helper()
	a := &domain.Artist{Base: domain.Base{ID: uuid.New()}, Name: name}
	a.AddSource(source)
	for _, ext := range externals {
		if _, err := a.AddExternalID(ext); err != nil {
			t.Fatalf("add external id: %v", err)
		}
	}
	sc, err := e.normalizeArtist(a)
	if err != nil {
		t.Fatalf("normalize %q: %v", name, err)
	}
	sc.Keys = artistKeys(a, sc)

	tx, err := store.Begin(context.Background(), "seed")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.Add(context.Background(), a, sc); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return a
}

func incomingArtist(t *testing.T, e *Engine, st *batchState, name, source string, externals ...domain.ExternalID) (*domain.Artist, *Sidecar) {
	t.Helper()
	a := &domain.Artist{Base: domain.Base{ID: uuid.New()}, Name: name}
	a.AddSource(source)
	for _, ext := range externals {
		if _, err := a.AddExternalID(ext); err != nil {
			t.Fatalf("add external id: %v", err)
		}
	}
	sc, err := e.normalizeArtist(a)
	if err != nil {
		t.Fatalf("normalize %q: %v", name, err)
	}
	sc.Keys = artistKeys(a, sc)
	st.sidecars[a.ID] = sc
	return a, sc
}

func TestMatchEntity_ExternalIDWins(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	e := newTestEngine(store)
	st := newBatchState()

	mb := domain.ExternalID{Namespace: "musicbrainz", Value: "mb-1"}
	stored := seedArtist(t, e, store, "Mistral Choir", "spotify_export", mb)

	// entirely different name: only the external id can match
	ent, sc := incomingArtist(t, e, st, "Totally Renamed Act", "lastfm_export", mb)

	tx, _ := store.Begin(context.Background(), "t")
	m, err := e.matchEntity(context.Background(), tx, ent, sc, st)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if m.target == nil || m.target.Identity() != stored.ID {
		t.Fatalf("expected external id match to stored artist")
	}
	if m.reason != domain.MergeReasonExternalID {
		t.Fatalf("unexpected merge reason: %q", m.reason)
	}
}

func TestMatchEntity_ConflictingExternalIDsFallThrough(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	e := newTestEngine(store)
	st := newBatchState()

	firstAct := seedArtist(t, e, store, "First Act", "spotify_export", domain.ExternalID{Namespace: "musicbrainz", Value: "mb-1"})
	seedArtist(t, e, store, "Second Act", "spotify_export", domain.ExternalID{Namespace: "spotify", Value: "sp-2"})

	ent, sc := incomingArtist(t, e, st, "Mistral Choir", "spotify_export",
		domain.ExternalID{Namespace: "musicbrainz", Value: "mb-1"},
		domain.ExternalID{Namespace: "spotify", Value: "sp-2"})

	tx, _ := store.Begin(context.Background(), "t")
	m, err := e.matchEntity(context.Background(), tx, ent, sc, st)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(st.conflicts) != 1 || st.conflicts[0].Kind != ConflictExternalID {
		t.Fatalf("expected one external id conflict, got %v", st.conflicts)
	}
	// the first identifier key in priority order resolves uniquely, so the
	// batch still lands on a deterministic key match
	if m.target == nil || m.target.Identity() != firstAct.ID {
		t.Fatalf("expected fall-through to deterministic key match")
	}
	if m.reason != domain.MergeReasonDeterministicKey {
		t.Fatalf("unexpected merge reason: %q", m.reason)
	}
}

func TestMatchEntity_DeterministicKey(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	e := newTestEngine(store)
	st := newBatchState()

	stored := seedArtist(t, e, store, "Mistral Choir", "spotify_export")
	ent, sc := incomingArtist(t, e, st, "MISTRAL CHOIR", "spotify_export")

	tx, _ := store.Begin(context.Background(), "t")
	m, err := e.matchEntity(context.Background(), tx, ent, sc, st)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if m.target == nil || m.target.Identity() != stored.ID {
		t.Fatalf("expected key match via normalized name")
	}
	if m.reason != domain.MergeReasonDeterministicKey {
		t.Fatalf("unexpected merge reason: %q", m.reason)
	}
}

func TestMatchEntity_NoMatchCreates(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	e := newTestEngine(store)
	st := newBatchState()

	seedArtist(t, e, store, "Someone Else", "spotify_export")
	ent, sc := incomingArtist(t, e, st, "Mistral Choir", "spotify_export")

	tx, _ := store.Begin(context.Background(), "t")
	m, err := e.matchEntity(context.Background(), tx, ent, sc, st)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if m.target != nil {
		t.Fatalf("expected no match, got target %v", m.target.Identity())
	}
}

func TestMatchEntity_AmbiguousKeyWithoutFuzzyConflicts(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	e := newTestEngine(store)
	st := newBatchState()

	// two canonical tracks sharing one placement key
	release := uuid.New()
	recording := uuid.New()
	sharedKey, _ := makeKey("placement", release.String(), recording.String(), "1", "3")

	for i := 0; i < 2; i++ {
		track := &domain.Track{Base: domain.Base{ID: uuid.New()}, ReleaseID: release, RecordingID: recording, DiscNumber: 1, TrackNumber: 3}
		tx, _ := store.Begin(context.Background(), "seed")
		if err := tx.Add(context.Background(), track, &Sidecar{DurationBucket: -1, Keys: []Key{sharedKey}}); err != nil {
			t.Fatalf("add track: %v", err)
		}
	}

	incoming := &domain.Track{Base: domain.Base{ID: uuid.New()}, ReleaseID: release, RecordingID: recording, DiscNumber: 1, TrackNumber: 3}
	sc := &Sidecar{DurationBucket: -1, Keys: []Key{sharedKey}}
	st.sidecars[incoming.ID] = sc

	tx, _ := store.Begin(context.Background(), "t")
	m, err := e.matchEntity(context.Background(), tx, incoming, sc, st)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if m.target != nil {
		t.Fatalf("ambiguous exact-only match must not pick a target")
	}
	if len(st.conflicts) != 1 || st.conflicts[0].Kind != ConflictAmbiguousMatch {
		t.Fatalf("expected ambiguous match conflict, got %v", st.conflicts)
	}
}

func TestMatchEntity_FuzzyAcceptsUniqueCandidate(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	opts := DefaultOptions()
	opts.FuzzyThreshold = 0.7
	e := NewEngine(store, zerolog.Nop(), opts)
	st := newBatchState()

	stored := seedArtist(t, e, store, "Harbor Light", "spotify_export")
	ent, sc := incomingArtist(t, e, st, "Harbor Lights", "lastfm_export")

	tx, _ := store.Begin(context.Background(), "t")
	m, err := e.matchEntity(context.Background(), tx, ent, sc, st)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if m.target == nil || m.target.Identity() != stored.ID {
		t.Fatalf("expected unique fuzzy match to stored artist")
	}
	if m.reason != domain.MergeReasonFuzzy {
		t.Fatalf("unexpected merge reason: %q", m.reason)
	}
}

func TestMatchEntity_FuzzyAmbiguityConflicts(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	opts := DefaultOptions()
	opts.FuzzyThreshold = 0.7
	e := NewEngine(store, zerolog.Nop(), opts)
	st := newBatchState()

	seedArtist(t, e, store, "Harbor Light", "spotify_export")
	seedArtist(t, e, store, "Harbor Lighty", "spotify_export")
	ent, sc := incomingArtist(t, e, st, "Harbor Lights", "lastfm_export")

	tx, _ := store.Begin(context.Background(), "t")
	m, err := e.matchEntity(context.Background(), tx, ent, sc, st)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if m.target != nil {
		t.Fatalf("ambiguous fuzzy candidates must not merge")
	}
	if len(st.conflicts) != 1 || st.conflicts[0].Kind != ConflictAmbiguousMatch {
		t.Fatalf("expected ambiguous match conflict, got %v", st.conflicts)
	}
}

func TestMatchEntity_StrictThresholdRejectsNearMiss(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	e := newTestEngine(store) // default threshold 0.95
	st := newBatchState()

	seedArtist(t, e, store, "Harbor Town Collective", "spotify_export")
	ent, sc := incomingArtist(t, e, st, "Harbor Light", "lastfm_export")

	tx, _ := store.Begin(context.Background(), "t")
	m, err := e.matchEntity(context.Background(), tx, ent, sc, st)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if m.target != nil {
		t.Fatalf("below-threshold candidate must not match")
	}
}

func TestLookupsResolveCanonicalPointer(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	e := newTestEngine(store)

	mb := domain.ExternalID{Namespace: "musicbrainz", Value: "mb-1"}
	canonical := seedArtist(t, e, store, "Mistral Choir", "spotify_export")

	superseded := &domain.Artist{Base: domain.Base{ID: uuid.New()}, Name: "Mistral Choir"}
	if _, err := superseded.AddExternalID(mb); err != nil {
		t.Fatalf("add external id: %v", err)
	}
	superseded.PointTo(canonical.ID)

	tx, _ := store.Begin(context.Background(), "t")
	err := tx.ApplyMerge(context.Background(), MergeChange{
		Target:         canonical,
		Superseded:     superseded,
		Keys:           nil,
		DurationBucket: -1,
		Audit: domain.EntityMerge{
			ID:         uuid.New(),
			EntityType: domain.TypeArtist,
			SourceID:   superseded.ID,
			TargetID:   canonical.ID,
			Reason:     domain.MergeReasonDeterministicKey,
			Actor:      "test",
		},
	})
	if err != nil {
		t.Fatalf("apply merge: %v", err)
	}

	// the binding on the superseded record must resolve to the canonical one
	store.externals[extBinding(domain.TypeArtist, mb.Namespace, mb.Value)] = superseded.ID
	got, err := tx.GetByExternalID(context.Background(), domain.TypeArtist, mb.Namespace, mb.Value)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Identity() != canonical.ID {
		t.Fatalf("lookup must resolve the canonical pointer, got %v", got.Identity())
	}
}
