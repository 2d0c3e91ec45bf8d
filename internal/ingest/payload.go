package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"horse.fit/medley/internal/domain"
	"horse.fit/medley/schema"
)

// BuildGraph turns a validated payload into a domain graph: batch-local
// string keys become fresh identities, references are resolved, and every
// entity is stamped with the batch source. Dangling payload references are
// rejected here, before the engine runs.
func BuildGraph(p *batchschema.BatchPayload) (*domain.Graph, error) {
	if p == nil {
		return nil, fmt.Errorf("payload is nil")
	}

	g := &domain.Graph{Source: p.Source}
	ids := make(map[string]uuid.UUID)

	assign := func(section, key string) uuid.UUID {
		id := uuid.New()
		ids[section+"/"+key] = id
		return id
	}
	lookup := func(section, key, refSection, ownerKey string) (uuid.UUID, error) {
		id, ok := ids[section+"/"+key]
		if !ok {
			return uuid.Nil, fmt.Errorf("%s[%s]: unknown %s reference %q", refSection, ownerKey, section, key)
		}
		return id, nil
	}

	for _, a := range p.Artists {
		artist := &domain.Artist{
			Base:          newBase(assign("artists", a.Key), p.Source, a.ExternalIDs),
			Name:          a.Name,
			SortName:      a.SortName,
			Country:       a.Country,
			FormedYear:    a.FormedYear,
			DisbandedYear: a.DisbandedYear,
		}
		g.Artists = append(g.Artists, artist)
	}

	for _, l := range p.Labels {
		label := &domain.Label{
			Base:    newBase(assign("labels", l.Key), p.Source, l.ExternalIDs),
			Name:    l.Name,
			Country: l.Country,
		}
		g.Labels = append(g.Labels, label)
	}

	for _, rs := range p.ReleaseSets {
		set := &domain.ReleaseSet{
			Base:        newBase(assign("release_sets", rs.Key), p.Source, rs.ExternalIDs),
			Title:       rs.Title,
			PrimaryType: rs.PrimaryType,
		}
		var err error
		if set.FirstRelease, err = parseOptTime(rs.FirstRelease); err != nil {
			return nil, fmt.Errorf("release_sets[%s]: first_release: %w", rs.Key, err)
		}
		if set.Credits, err = buildCredits(ids, rs.Artists, "release_sets", rs.Key); err != nil {
			return nil, err
		}
		g.ReleaseSets = append(g.ReleaseSets, set)
	}

	for _, r := range p.Releases {
		release := &domain.Release{
			Base:        newBase(assign("releases", r.Key), p.Source, r.ExternalIDs),
			Title:       r.Title,
			Country:     r.Country,
			Format:      r.Format,
			MediumCount: r.MediumCount,
		}
		var err error
		if release.ReleaseSetID, err = lookup("release_sets", r.ReleaseSet, "releases", r.Key); err != nil {
			return nil, err
		}
		if release.ReleaseDate, err = parseOptTime(r.ReleaseDate); err != nil {
			return nil, fmt.Errorf("releases[%s]: release_date: %w", r.Key, err)
		}
		for _, labelKey := range r.Labels {
			id, err := lookup("labels", labelKey, "releases", r.Key)
			if err != nil {
				return nil, err
			}
			release.LabelIDs = append(release.LabelIDs, id)
		}
		g.Releases = append(g.Releases, release)
	}

	for _, r := range p.Recordings {
		recording := &domain.Recording{
			Base:       newBase(assign("recordings", r.Key), p.Source, r.ExternalIDs),
			Title:      r.Title,
			DurationMS: r.DurationMS,
			Version:    r.Version,
		}
		var err error
		if recording.Credits, err = buildCredits(ids, r.Artists, "recordings", r.Key); err != nil {
			return nil, err
		}
		g.Recordings = append(g.Recordings, recording)
	}

	for _, t := range p.Tracks {
		track := &domain.Track{
			Base:        newBase(assign("tracks", t.Key), p.Source, t.ExternalIDs),
			DiscNumber:  t.DiscNumber,
			TrackNumber: t.TrackNumber,
		}
		if track.DiscNumber <= 0 {
			track.DiscNumber = 1
		}
		var err error
		if track.ReleaseID, err = lookup("releases", t.Release, "tracks", t.Key); err != nil {
			return nil, err
		}
		if track.RecordingID, err = lookup("recordings", t.Recording, "tracks", t.Key); err != nil {
			return nil, err
		}
		g.Tracks = append(g.Tracks, track)
	}

	for _, u := range p.Users {
		user := &domain.User{
			Base:          newBase(assign("users", u.Key), p.Source, u.ExternalIDs),
			DisplayName:   u.DisplayName,
			Email:         u.Email,
			SpotifyUserID: u.SpotifyUserID,
			LastfmUser:    u.LastfmUser,
		}
		g.Users = append(g.Users, user)
	}

	for _, pe := range p.PlayEvents {
		event := &domain.PlayEvent{
			Base:       newBase(assign("play_events", pe.Key), p.Source, pe.ExternalIDs),
			Source:     p.Source,
			DurationMS: pe.DurationMS,
		}
		var err error
		if event.UserID, err = lookup("users", pe.User, "play_events", pe.Key); err != nil {
			return nil, err
		}
		if event.RecordingID, err = lookup("recordings", pe.Recording, "play_events", pe.Key); err != nil {
			return nil, err
		}
		if pe.Track != nil && strings.TrimSpace(*pe.Track) != "" {
			if event.TrackID, err = lookup("tracks", *pe.Track, "play_events", pe.Key); err != nil {
				return nil, err
			}
		}
		playedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(pe.PlayedAt))
		if err != nil {
			return nil, fmt.Errorf("play_events[%s]: played_at: %w", pe.Key, err)
		}
		event.PlayedAt = playedAt.UTC()
		g.PlayEvents = append(g.PlayEvents, event)
	}

	return g, nil
}

func newBase(id uuid.UUID, source string, externals []batchschema.ExternalIDPayload) domain.Base {
	base := domain.Base{ID: id}
	base.AddSource(source)
	for _, ext := range externals {
		// duplicates within one payload entity are dropped silently
		_, _ = base.AddExternalID(domain.ExternalID{Namespace: ext.Namespace, Value: ext.Value})
	}
	return base
}

func buildCredits(ids map[string]uuid.UUID, credits []batchschema.CreditPayload, section, ownerKey string) ([]domain.ArtistCredit, error) {
	out := make([]domain.ArtistCredit, 0, len(credits))
	for i, c := range credits {
		id, ok := ids["artists/"+c.Artist]
		if !ok {
			return nil, fmt.Errorf("%s[%s]: unknown artists reference %q", section, ownerKey, c.Artist)
		}
		role := domain.CreditRole(c.Role)
		if role == "" {
			role = domain.RolePrimary
		}
		out = append(out, domain.ArtistCredit{ArtistID: id, Role: role, CreditOrder: i})
	}
	return out, nil
}

func parseOptTime(value *string) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(*value))
	if err != nil {
		return nil, err
	}
	utc := t.UTC()
	return &utc, nil
}
