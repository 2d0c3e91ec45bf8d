package domain

import "github.com/google/uuid"

// Graph is one ingest batch: typed entity slices in input order plus the
// provider source the batch came from.
type Graph struct {
	Source      string
	Artists     []*Artist
	Labels      []*Label
	ReleaseSets []*ReleaseSet
	Releases    []*Release
	Recordings  []*Recording
	Tracks      []*Track
	Users       []*User
	PlayEvents  []*PlayEvent
}

// Size returns the total entity count across all types.
func (g *Graph) Size() int {
	if g == nil {
		return 0
	}
	return len(g.Artists) + len(g.Labels) + len(g.ReleaseSets) + len(g.Releases) +
		len(g.Recordings) + len(g.Tracks) + len(g.Users) + len(g.PlayEvents)
}

// Contains reports whether id names any entity in the graph.
func (g *Graph) Contains(id uuid.UUID) bool {
	if g == nil {
		return false
	}
	for _, e := range g.Entities() {
		if e.Identity() == id {
			return true
		}
	}
	return false
}

// Entities returns every entity in dependency order: referenced types before
// the types that reference them.
func (g *Graph) Entities() []CanonicalEntity {
	if g == nil {
		return nil
	}
	out := make([]CanonicalEntity, 0, g.Size())
	for _, e := range g.Artists {
		out = append(out, e)
	}
	for _, e := range g.Labels {
		out = append(out, e)
	}
	for _, e := range g.ReleaseSets {
		out = append(out, e)
	}
	for _, e := range g.Releases {
		out = append(out, e)
	}
	for _, e := range g.Recordings {
		out = append(out, e)
	}
	for _, e := range g.Tracks {
		out = append(out, e)
	}
	for _, e := range g.Users {
		out = append(out, e)
	}
	for _, e := range g.PlayEvents {
		out = append(out, e)
	}
	return out
}
