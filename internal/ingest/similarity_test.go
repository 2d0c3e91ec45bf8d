package ingest

import "testing"

func TestTrigramJaccard_Identical(t *testing.T) {
	t.Parallel()

	if score := trigramJaccard("harbor lights", "harbor lights"); score != 1 {
		t.Fatalf("identical strings must score 1, got %f", score)
	}
}

func TestTrigramJaccard_Disjoint(t *testing.T) {
	t.Parallel()

	if score := trigramJaccard("aaaa", "zzzz"); score != 0 {
		t.Fatalf("disjoint strings must score 0, got %f", score)
	}
}

func TestTrigramJaccard_NearMiss(t *testing.T) {
	t.Parallel()

	score := trigramJaccard("harbor lights", "harbor light")
	if score <= 0.5 || score >= 1 {
		t.Fatalf("near-identical strings must score high but below 1, got %f", score)
	}
}

func TestTrigramJaccard_Empty(t *testing.T) {
	t.Parallel()

	if score := trigramJaccard("", "harbor"); score != 0 {
		t.Fatalf("empty side must score 0, got %f", score)
	}
	if score := trigramJaccard("", ""); score != 0 {
		t.Fatalf("two empty strings must score 0, got %f", score)
	}
}

func TestTrigramJaccard_Symmetric(t *testing.T) {
	t.Parallel()

	a, b := "night signals", "night signal"
	if trigramJaccard(a, b) != trigramJaccard(b, a) {
		t.Fatalf("similarity must be symmetric")
	}
}
