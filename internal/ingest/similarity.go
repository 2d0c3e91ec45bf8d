package ingest

// trigramSet builds the set of rune trigrams over the padded string, so short
// names still produce a few grams.
func trigramSet(s string) map[string]struct{} {
	if s == "" {
		return nil
	}
	runes := []rune("  " + s + " ")
	set := make(map[string]struct{}, len(runes))
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

// trigramJaccard scores two normalized strings in [0, 1]. Identical non-empty
// strings score 1.
func trigramJaccard(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	setA := trigramSet(a)
	setB := trigramSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for gram := range setA {
		if _, ok := setB[gram]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
