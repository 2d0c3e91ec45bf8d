package ingest

import (
	"context"
	"slices"
	"sort"
	"testing"

	"github.com/google/uuid"

	"horse.fit/medley/internal/domain"
	batchschema "horse.fit/medley/schema"
)

func samplePayload() *batchschema.BatchPayload {
	return &batchschema.BatchPayload{
		BatchVersion: "v1",
		Source:       "spotify_export",
		Artists: []batchschema.ArtistPayload{
			{Key: "a1", Name: "Mistral Choir", ExternalIDs: []batchschema.ExternalIDPayload{{Namespace: "musicbrainz", Value: "mb-artist-1"}}},
		},
		ReleaseSets: []batchschema.ReleaseSetPayload{
			{Key: "rs1", Title: "Night Signals", Artists: []batchschema.CreditPayload{{Artist: "a1"}}},
		},
		Releases: []batchschema.ReleasePayload{
			{Key: "r1", Title: "Night Signals", ReleaseSet: "rs1"},
		},
		Recordings: []batchschema.RecordingPayload{
			{Key: "rec1", Title: "Harbor Lights", DurationMS: intPtr(214000), Artists: []batchschema.CreditPayload{{Artist: "a1", Role: "primary"}}},
		},
		Tracks: []batchschema.TrackPayload{
			{Key: "t1", Release: "r1", Recording: "rec1", DiscNumber: 1, TrackNumber: 3},
		},
		Users: []batchschema.UserPayload{
			{Key: "u1", DisplayName: "casey", LastfmUser: strPtr("casey_listens")},
		},
		PlayEvents: []batchschema.PlayEventPayload{
			{Key: "p1", User: "u1", Recording: "rec1", PlayedAt: "2026-02-14T10:00:00Z"},
		},
	}
}

func mustGraph(t *testing.T, p *batchschema.BatchPayload) *domain.Graph {
	t.Helper()
	g, err := BuildGraph(p)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	return g
}

func TestProcessBatch_CreatesFreshGraph(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	e := newTestEngine(store)

	res, err := e.ProcessBatch(context.Background(), mustGraph(t, samplePayload()))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if res.Created != 7 {
		t.Fatalf("expected 7 created entities, got %+v", res)
	}
	if res.Merged != 0 || res.Unchanged != 0 || res.Collapsed != 0 || res.Skipped != 0 || res.Conflicts != 0 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	if res.Processed != res.Created {
		t.Fatalf("processed must equal created+merged+unchanged, got %+v", res)
	}
	if store.commits != 1 {
		t.Fatalf("expected exactly one commit, got %d", store.commits)
	}
	if len(store.lockKeys) != 1 || store.lockKeys[0] != "medley:batch:spotify_export" {
		t.Fatalf("unexpected lock keys: %v", store.lockKeys)
	}
	if len(store.runs) != 1 || store.runs[0].Created != 7 {
		t.Fatalf("expected one recorded run with created=7, got %v", store.runs)
	}
}

func TestProcessBatch_ReprocessingIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	e := newTestEngine(store)

	if _, err := e.ProcessBatch(context.Background(), mustGraph(t, samplePayload())); err != nil {
		t.Fatalf("first run: %v", err)
	}
	mergesAfterFirst := len(store.merges)

	res, err := e.ProcessBatch(context.Background(), mustGraph(t, samplePayload()))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if res.Created != 0 {
		t.Fatalf("second identical run must create nothing, got %+v", res)
	}
	if res.Merged != 0 {
		t.Fatalf("second identical run must merge nothing, got %+v", res)
	}
	if res.Unchanged != 7 {
		t.Fatalf("expected all 7 entities unchanged, got %+v", res)
	}
	if len(store.merges) != mergesAfterFirst {
		t.Fatalf("no new merge audit rows may appear on reprocessing")
	}
}

func TestProcessBatch_MaterialMergeRecordsAudit(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	e := newTestEngine(store)

	if _, err := e.ProcessBatch(context.Background(), mustGraph(t, samplePayload())); err != nil {
		t.Fatalf("first run: %v", err)
	}

	enriched := samplePayload()
	enriched.Source = "lastfm_export"
	enriched.Artists[0].Country = strPtr("FR")
	enriched.PlayEvents = nil
	enriched.Users = nil

	res, err := e.ProcessBatch(context.Background(), mustGraph(t, enriched))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if res.Created != 0 {
		t.Fatalf("nothing new should be created, got %+v", res)
	}
	if res.Merged == 0 {
		t.Fatalf("adopting a new field must count as a merge, got %+v", res)
	}
	if len(store.merges) != res.Merged {
		t.Fatalf("each material merge must write one audit row, got %d rows for %d merges", len(store.merges), res.Merged)
	}

	var artistMerge *domain.EntityMerge
	for i := range store.merges {
		if store.merges[i].EntityType == domain.TypeArtist {
			artistMerge = &store.merges[i]
		}
	}
	if artistMerge == nil {
		t.Fatalf("expected an artist merge audit row")
	}
	superseded := store.entity(domain.TypeArtist, artistMerge.SourceID)
	if superseded == nil || superseded.IsCanonical() {
		t.Fatalf("superseded record must carry a canonical pointer")
	}
	if superseded.ResolvedID() != artistMerge.TargetID {
		t.Fatalf("superseded pointer must target the canonical record")
	}

	target := store.entity(domain.TypeArtist, artistMerge.TargetID)
	artist, ok := target.(*domain.Artist)
	if !ok {
		t.Fatalf("expected artist target, got %T", target)
	}
	if artist.Country == nil || *artist.Country != "FR" {
		t.Fatalf("merge must adopt the new country onto the canonical record")
	}
	if len(artist.SourceList()) != 2 {
		t.Fatalf("merge must union provenance sources, got %v", artist.SourceList())
	}
}

func TestProcessBatch_IntraBatchDuplicatesCollapse(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	e := newTestEngine(store)

	p := samplePayload()
	p.Artists = append(p.Artists, batchschema.ArtistPayload{Key: "a2", Name: "MISTRAL   CHOIR"})
	p.Recordings[0].Artists = []batchschema.CreditPayload{{Artist: "a2", Role: "primary"}}

	res, err := e.ProcessBatch(context.Background(), mustGraph(t, p))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if res.Collapsed != 1 {
		t.Fatalf("expected one intra-batch collapse, got %+v", res)
	}
	if res.Created != 7 {
		t.Fatalf("duplicate must not be persisted as its own entity, got %+v", res)
	}
	if len(store.merges) != 0 {
		t.Fatalf("intra-batch collapses must not write merge audit rows, got %d", len(store.merges))
	}
	if len(store.entities[domain.TypeArtist]) != 1 {
		t.Fatalf("expected a single stored artist, got %d", len(store.entities[domain.TypeArtist]))
	}
}

func TestProcessBatch_MalformedEntityCascades(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	e := newTestEngine(store)

	p := samplePayload()
	p.Artists[0].Name = "!!!"

	res, err := e.ProcessBatch(context.Background(), mustGraph(t, p))
	if err != nil {
		t.Fatalf("malformed entities must not fail the batch: %v", err)
	}

	// artist is malformed; release set, release, recording, track and play
	// event all sit downstream of it
	if res.Skipped != 6 {
		t.Fatalf("expected 6 skipped entities, got %+v", res)
	}
	if res.Created != 1 {
		t.Fatalf("only the user is unaffected, got %+v", res)
	}
	if store.commits != 1 {
		t.Fatalf("the batch must still commit what survived")
	}
}

func TestProcessBatch_DanglingReferenceIsFatal(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	e := newTestEngine(store)

	g := mustGraph(t, samplePayload())
	g.Tracks[0].ReleaseID = uuid.New() // identity the batch has never seen

	_, err := e.ProcessBatch(context.Background(), g)
	if err == nil {
		t.Fatalf("expected graph integrity failure")
	}
	if store.commits != 0 {
		t.Fatalf("a fatal error must not commit")
	}
	if len(store.entities[domain.TypeArtist]) != 0 {
		t.Fatalf("nothing may persist after a fatal error")
	}
}

func TestProcessBatch_FailedRunIsLedgered(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	e := newTestEngine(store)

	g := mustGraph(t, samplePayload())
	g.Tracks[0].ReleaseID = uuid.New()

	_, err := e.ProcessBatch(context.Background(), g)
	if err == nil {
		t.Fatalf("expected graph integrity failure")
	}

	if len(store.runs) != 1 {
		t.Fatalf("a failed batch must still leave one run ledger row, got %d", len(store.runs))
	}
	run := store.runs[0]
	if run.Status != domain.RunStatusFailed {
		t.Fatalf("unexpected run status: %q", run.Status)
	}
	if run.Source != "spotify_export" || run.Actor == "" {
		t.Fatalf("run must carry source and actor, got %+v", run)
	}
	if run.ErrorMessage == nil || *run.ErrorMessage == "" {
		t.Fatalf("failed run must carry the error message")
	}
	if run.FinishedAt == nil {
		t.Fatalf("failed run must carry a finish time")
	}
	if run.Processed != 0 || run.Created != 0 || run.Merged != 0 {
		t.Fatalf("failed run must not report work, got %+v", run)
	}
}

func TestProcessBatch_EmptyGraph(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	e := newTestEngine(store)

	res, err := e.ProcessBatch(context.Background(), &domain.Graph{Source: "spotify_export"})
	if err != nil {
		t.Fatalf("empty graph must be a no-op: %v", err)
	}
	if res != (BatchResult{}) {
		t.Fatalf("expected zero result, got %+v", res)
	}
	if store.commits != 0 || len(store.lockKeys) != 0 {
		t.Fatalf("empty graph must not open a transaction")
	}
}

func TestProcessBatch_CrossSourceListenDedup(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	e := newTestEngine(store)

	if _, err := e.ProcessBatch(context.Background(), mustGraph(t, samplePayload())); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// same listen re-imported from another provider: user and recording match
	// canonically, the listen key resolves to the same event
	second := samplePayload()
	second.Source = "lastfm_export"

	res, err := e.ProcessBatch(context.Background(), mustGraph(t, second))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	canonicalEvents := 0
	for _, ent := range store.entities[domain.TypePlayEvent] {
		if ent.IsCanonical() {
			canonicalEvents++
		}
	}
	if canonicalEvents != 1 {
		t.Fatalf("expected one canonical play event, got %d", canonicalEvents)
	}
	if res.Created != 0 {
		t.Fatalf("cross-source reimport must not create, got %+v", res)
	}
}

func reverseGraph(g *domain.Graph) {
	slices.Reverse(g.Artists)
	slices.Reverse(g.Labels)
	slices.Reverse(g.ReleaseSets)
	slices.Reverse(g.Releases)
	slices.Reverse(g.Recordings)
	slices.Reverse(g.Tracks)
	slices.Reverse(g.Users)
	slices.Reverse(g.PlayEvents)
}

// canonicalShape projects the store onto what must be order-independent:
// normalized names of canonical entities per type, and external id bindings.
// Identities and raw field spellings may differ with the representative.
func canonicalShape(s *memStore) []string {
	var out []string
	for id, n := range s.norms {
		ent := s.entity(n.entityType, id)
		if ent == nil || !ent.IsCanonical() {
			continue
		}
		out = append(out, string(n.entityType)+"|"+n.normName)
	}
	for binding := range s.externals {
		out = append(out, "ext|"+binding)
	}
	sort.Strings(out)
	return out
}

func TestProcessBatch_OrderIndependent(t *testing.T) {
	t.Parallel()

	build := func() *domain.Graph {
		p := samplePayload()
		p.Artists = append(p.Artists, batchschema.ArtistPayload{Key: "a2", Name: "MISTRAL   CHOIR"})
		p.Recordings[0].Artists = []batchschema.CreditPayload{{Artist: "a2", Role: "primary"}}
		return mustGraph(t, p)
	}

	forward := build()
	backward := build()
	reverseGraph(backward)

	storeA := newMemStore()
	resA, err := newTestEngine(storeA).ProcessBatch(context.Background(), forward)
	if err != nil {
		t.Fatalf("forward order: %v", err)
	}

	storeB := newMemStore()
	resB, err := newTestEngine(storeB).ProcessBatch(context.Background(), backward)
	if err != nil {
		t.Fatalf("reversed order: %v", err)
	}

	if resA != resB {
		t.Fatalf("counts must not depend on input order: %+v vs %+v", resA, resB)
	}
	if resA.Collapsed != 1 {
		t.Fatalf("expected the duplicate artist to collapse in both orders, got %+v", resA)
	}
	if !slices.Equal(canonicalShape(storeA), canonicalShape(storeB)) {
		t.Fatalf("canonical population must not depend on input order:\n%v\nvs\n%v", canonicalShape(storeA), canonicalShape(storeB))
	}
}
