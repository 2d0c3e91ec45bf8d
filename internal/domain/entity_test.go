package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestBase_PointToAndResolve(t *testing.T) {
	t.Parallel()

	b := &Base{ID: uuid.New()}
	if !b.IsCanonical() {
		t.Fatalf("fresh record must be canonical")
	}
	if b.ResolvedID() != b.ID {
		t.Fatalf("canonical record must resolve to itself")
	}

	target := uuid.New()
	b.PointTo(target)
	if b.IsCanonical() {
		t.Fatalf("superseded record must not be canonical")
	}
	if b.ResolvedID() != target {
		t.Fatalf("superseded record must resolve to its target")
	}
}

func TestBase_PointToSelfResets(t *testing.T) {
	t.Parallel()

	b := &Base{ID: uuid.New()}
	b.PointTo(uuid.New())
	b.PointTo(b.ID)

	if !b.IsCanonical() {
		t.Fatalf("pointing a record at itself must reset it to canonical")
	}
	if b.ResolvedID() != b.ID {
		t.Fatalf("reset record must resolve to itself")
	}
}

func TestBase_AddExternalID(t *testing.T) {
	t.Parallel()

	b := &Base{ID: uuid.New()}

	added, err := b.AddExternalID(ExternalID{Namespace: "musicbrainz", Value: "mb-1"})
	if err != nil || !added {
		t.Fatalf("first add must succeed: added=%v err=%v", added, err)
	}

	added, err = b.AddExternalID(ExternalID{Namespace: "musicbrainz", Value: "mb-1"})
	if err != nil || added {
		t.Fatalf("identical add must be a silent no-op: added=%v err=%v", added, err)
	}

	if _, err = b.AddExternalID(ExternalID{Namespace: "musicbrainz", Value: "mb-2"}); err == nil {
		t.Fatalf("conflicting value in a bound namespace must error")
	}
	if v, _ := b.ExternalValue("musicbrainz"); v != "mb-1" {
		t.Fatalf("original binding must survive the conflict, got %q", v)
	}
}

func TestBase_AddSourceDedupes(t *testing.T) {
	t.Parallel()

	b := &Base{ID: uuid.New()}
	b.AddSource("spotify_export")
	b.AddSource("spotify_export")
	b.AddSource("")
	b.AddSource("lastfm_export")

	if got := b.SourceList(); len(got) != 2 {
		t.Fatalf("expected two distinct sources, got %v", got)
	}
}

func TestGraph_SizeAndOrder(t *testing.T) {
	t.Parallel()

	g := &Graph{
		Source:     "spotify_export",
		Artists:    []*Artist{{Base: Base{ID: uuid.New()}, Name: "a"}},
		Recordings: []*Recording{{Base: Base{ID: uuid.New()}, Title: "r"}},
		Tracks:     []*Track{{Base: Base{ID: uuid.New()}}},
	}

	if g.Size() != 3 {
		t.Fatalf("unexpected size: %d", g.Size())
	}

	ents := g.Entities()
	if len(ents) != 3 {
		t.Fatalf("unexpected entity count: %d", len(ents))
	}
	if ents[0].EntityType() != TypeArtist || ents[2].EntityType() != TypeTrack {
		t.Fatalf("entities must come out in dependency order")
	}
	if !g.Contains(g.Tracks[0].ID) {
		t.Fatalf("contains must find the track")
	}
	if g.Contains(uuid.New()) {
		t.Fatalf("contains must reject unknown identities")
	}
}

func TestGraph_NilSafe(t *testing.T) {
	t.Parallel()

	var g *Graph
	if g.Size() != 0 || g.Entities() != nil || g.Contains(uuid.New()) {
		t.Fatalf("nil graph accessors must be safe no-ops")
	}
}
