package ingest

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"horse.fit/medley/internal/domain"
)

type mergeOutcome struct {
	changed   bool
	conflicts []Conflict
}

// mergeInto folds src into dst under the field policy: a field absent on dst
// is adopted from src, a field equal after normalization is a no-op, and a
// material difference keeps dst and logs a conflict. External ids and
// provenance sources are unioned. The outcome reports whether dst changed at
// all, which decides merge-vs-noop at the persistence boundary.
func mergeInto(dst, src domain.CanonicalEntity) mergeOutcome {
	out := mergeOutcome{}

	switch d := dst.(type) {
	case *domain.Artist:
		s := src.(*domain.Artist)
		compareName(&out, dst, "name", d.Name, s.Name)
		mergeOptString(&out, dst, "sort_name", &d.SortName, s.SortName)
		mergeOptString(&out, dst, "country", &d.Country, s.Country)
		mergeOptInt(&out, dst, "formed_year", &d.FormedYear, s.FormedYear)
		mergeOptInt(&out, dst, "disbanded_year", &d.DisbandedYear, s.DisbandedYear)
	case *domain.Label:
		s := src.(*domain.Label)
		compareName(&out, dst, "name", d.Name, s.Name)
		mergeOptString(&out, dst, "country", &d.Country, s.Country)
	case *domain.ReleaseSet:
		s := src.(*domain.ReleaseSet)
		compareName(&out, dst, "title", d.Title, s.Title)
		mergeOptString(&out, dst, "primary_type", &d.PrimaryType, s.PrimaryType)
		mergeOptTime(&out, dst, "first_release", &d.FirstRelease, s.FirstRelease)
		d.Credits = unionCredits(&out, d.Credits, s.Credits)
	case *domain.Release:
		s := src.(*domain.Release)
		compareName(&out, dst, "title", d.Title, s.Title)
		mergeRef(&out, dst, "release_set", &d.ReleaseSetID, s.ReleaseSetID)
		mergeOptTime(&out, dst, "release_date", &d.ReleaseDate, s.ReleaseDate)
		mergeOptString(&out, dst, "country", &d.Country, s.Country)
		mergeOptString(&out, dst, "format", &d.Format, s.Format)
		mergeOptInt(&out, dst, "medium_count", &d.MediumCount, s.MediumCount)
		d.LabelIDs = unionIDs(&out, d.LabelIDs, s.LabelIDs)
	case *domain.Recording:
		s := src.(*domain.Recording)
		compareName(&out, dst, "title", d.Title, s.Title)
		mergeOptInt(&out, dst, "duration_ms", &d.DurationMS, s.DurationMS)
		mergeOptString(&out, dst, "version", &d.Version, s.Version)
		d.Credits = unionCredits(&out, d.Credits, s.Credits)
	case *domain.Track:
		s := src.(*domain.Track)
		mergeRef(&out, dst, "release", &d.ReleaseID, s.ReleaseID)
		mergeRef(&out, dst, "recording", &d.RecordingID, s.RecordingID)
	case *domain.User:
		s := src.(*domain.User)
		compareName(&out, dst, "display_name", d.DisplayName, s.DisplayName)
		mergeOptString(&out, dst, "email", &d.Email, s.Email)
		mergeOptString(&out, dst, "spotify_user_id", &d.SpotifyUserID, s.SpotifyUserID)
		mergeOptString(&out, dst, "lastfm_user", &d.LastfmUser, s.LastfmUser)
	case *domain.PlayEvent:
		s := src.(*domain.PlayEvent)
		mergeRef(&out, dst, "track", &d.TrackID, s.TrackID)
		mergeOptInt(&out, dst, "duration_ms", &d.DurationMS, s.DurationMS)
	}

	for _, ext := range src.ExternalIDs() {
		added, err := dst.AddExternalID(ext)
		if err != nil {
			out.conflicts = append(out.conflicts, Conflict{
				Kind:       ConflictExternalID,
				EntityType: dst.EntityType(),
				EntityID:   dst.Identity(),
				Detail:     err.Error(),
			})
			continue
		}
		if added {
			out.changed = true
		}
	}

	for _, source := range src.SourceList() {
		before := len(dst.SourceList())
		dst.AddSource(source)
		if len(dst.SourceList()) > before {
			out.changed = true
		}
	}

	return out
}

func fieldConflict(out *mergeOutcome, ent domain.CanonicalEntity, field string, kept, rejected any) {
	out.conflicts = append(out.conflicts, Conflict{
		Kind:       ConflictField,
		EntityType: ent.EntityType(),
		EntityID:   ent.Identity(),
		Detail:     fmt.Sprintf("%s: kept %v, rejected %v", field, kept, rejected),
	})
}

// compareName checks required text fields. Both sides are known non-blank by
// the time a merge runs, so the only question is material difference.
func compareName(out *mergeOutcome, ent domain.CanonicalEntity, field, dstVal, srcVal string) {
	if dstVal == "" || srcVal == "" {
		return
	}
	if normalizeText(dstVal) != normalizeText(srcVal) {
		fieldConflict(out, ent, field, dstVal, srcVal)
	}
}

func mergeOptString(out *mergeOutcome, ent domain.CanonicalEntity, field string, dst **string, src *string) {
	if src == nil || *src == "" {
		return
	}
	if *dst == nil || **dst == "" {
		v := *src
		*dst = &v
		out.changed = true
		return
	}
	if normalizeText(**dst) != normalizeText(*src) {
		fieldConflict(out, ent, field, **dst, *src)
	}
}

func mergeOptInt(out *mergeOutcome, ent domain.CanonicalEntity, field string, dst **int, src *int) {
	if src == nil {
		return
	}
	if *dst == nil {
		v := *src
		*dst = &v
		out.changed = true
		return
	}
	if **dst != *src {
		fieldConflict(out, ent, field, **dst, *src)
	}
}

func mergeOptTime(out *mergeOutcome, ent domain.CanonicalEntity, field string, dst **time.Time, src *time.Time) {
	if src == nil {
		return
	}
	if *dst == nil {
		v := *src
		*dst = &v
		out.changed = true
		return
	}
	if !(*dst).Equal(*src) {
		fieldConflict(out, ent, field, (*dst).Format(time.RFC3339), src.Format(time.RFC3339))
	}
}

func mergeRef(out *mergeOutcome, ent domain.CanonicalEntity, field string, dst *uuid.UUID, src uuid.UUID) {
	if src == uuid.Nil {
		return
	}
	if *dst == uuid.Nil {
		*dst = src
		out.changed = true
		return
	}
	if *dst != src {
		fieldConflict(out, ent, field, *dst, src)
	}
}

func unionCredits(out *mergeOutcome, dst, src []domain.ArtistCredit) []domain.ArtistCredit {
	seen := make(map[creditIdentity]struct{}, len(dst))
	for _, c := range dst {
		seen[creditIdentity{artistID: c.ArtistID, role: c.Role}] = struct{}{}
	}
	for _, c := range src {
		key := creditIdentity{artistID: c.ArtistID, role: c.Role}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		c.CreditOrder = len(dst)
		dst = append(dst, c)
		out.changed = true
	}
	return dst
}

func unionIDs(out *mergeOutcome, dst, src []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(dst))
	for _, id := range dst {
		seen[id] = struct{}{}
	}
	for _, id := range src {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		dst = append(dst, id)
		out.changed = true
	}
	return dst
}
