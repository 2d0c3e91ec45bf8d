package ingest

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"horse.fit/medley/internal/domain"
)

// normalizeText canonicalizes free text for key derivation and comparison:
// Unicode NFKC, case folding, punctuation replaced by spaces, whitespace
// collapsed and trimmed.
func normalizeText(s string) string {
	folded := cases.Fold().String(norm.NFKC.String(s))

	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	for _, r := range folded {
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsControl(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteRune(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// durationBucket quantizes a duration so near-equal recordings land in the
// same bucket. -1 means unknown.
func durationBucket(ms *int, bucketMS int) int {
	if ms == nil || *ms <= 0 || bucketMS <= 0 {
		return -1
	}
	return *ms / bucketMS
}

func (e *Engine) normalizeArtist(a *domain.Artist) (*Sidecar, error) {
	name := normalizeText(a.Name)
	if name == "" {
		return nil, &NormalizationError{EntityType: domain.TypeArtist, EntityID: a.ID, Field: "name", Reason: "blank after normalization"}
	}
	return &Sidecar{NormName: name, DurationBucket: -1}, nil
}

func (e *Engine) normalizeLabel(l *domain.Label) (*Sidecar, error) {
	name := normalizeText(l.Name)
	if name == "" {
		return nil, &NormalizationError{EntityType: domain.TypeLabel, EntityID: l.ID, Field: "name", Reason: "blank after normalization"}
	}
	return &Sidecar{NormName: name, DurationBucket: -1}, nil
}

func (e *Engine) normalizeReleaseSet(rs *domain.ReleaseSet, st *batchState) (*Sidecar, error) {
	title := normalizeText(rs.Title)
	if title == "" {
		return nil, &NormalizationError{EntityType: domain.TypeReleaseSet, EntityID: rs.ID, Field: "title", Reason: "blank after normalization"}
	}
	return &Sidecar{
		NormName:       title,
		NormArtist:     primaryArtistNorm(rs.Credits, st),
		DurationBucket: -1,
	}, nil
}

func (e *Engine) normalizeRelease(r *domain.Release, st *batchState) (*Sidecar, error) {
	title := normalizeText(r.Title)
	if title == "" {
		return nil, &NormalizationError{EntityType: domain.TypeRelease, EntityID: r.ID, Field: "title", Reason: "blank after normalization"}
	}
	sc := &Sidecar{NormName: title, DurationBucket: -1}
	if setSC := st.sidecars[r.ReleaseSetID]; setSC != nil {
		sc.NormArtist = setSC.NormArtist
	}
	return sc, nil
}

func (e *Engine) normalizeRecording(r *domain.Recording, st *batchState) (*Sidecar, error) {
	title := normalizeText(r.Title)
	if title == "" {
		return nil, &NormalizationError{EntityType: domain.TypeRecording, EntityID: r.ID, Field: "title", Reason: "blank after normalization"}
	}
	return &Sidecar{
		NormName:       title,
		NormArtist:     primaryArtistNorm(r.Credits, st),
		DurationBucket: durationBucket(r.DurationMS, e.opts.DurationBucketMS),
	}, nil
}

func (e *Engine) normalizeTrack(t *domain.Track) (*Sidecar, error) {
	if t.ReleaseID == uuid.Nil {
		return nil, &NormalizationError{EntityType: domain.TypeTrack, EntityID: t.ID, Field: "release", Reason: "missing reference"}
	}
	if t.RecordingID == uuid.Nil {
		return nil, &NormalizationError{EntityType: domain.TypeTrack, EntityID: t.ID, Field: "recording", Reason: "missing reference"}
	}
	if t.TrackNumber <= 0 {
		return nil, &NormalizationError{EntityType: domain.TypeTrack, EntityID: t.ID, Field: "track_number", Reason: "must be positive"}
	}
	return &Sidecar{DurationBucket: -1}, nil
}

func (e *Engine) normalizeUser(u *domain.User) (*Sidecar, error) {
	name := normalizeText(u.DisplayName)
	if name == "" && derefString(u.LastfmUser) == "" && derefString(u.SpotifyUserID) == "" {
		return nil, &NormalizationError{EntityType: domain.TypeUser, EntityID: u.ID, Field: "display_name", Reason: "no display name or provider handle"}
	}
	return &Sidecar{NormName: name, DurationBucket: -1}, nil
}

func (e *Engine) normalizePlayEvent(p *domain.PlayEvent) (*Sidecar, error) {
	if p.PlayedAt.IsZero() {
		return nil, &NormalizationError{EntityType: domain.TypePlayEvent, EntityID: p.ID, Field: "played_at", Reason: "missing timestamp"}
	}
	if p.UserID == uuid.Nil {
		return nil, &NormalizationError{EntityType: domain.TypePlayEvent, EntityID: p.ID, Field: "user", Reason: "missing reference"}
	}
	if p.RecordingID == uuid.Nil {
		return nil, &NormalizationError{EntityType: domain.TypePlayEvent, EntityID: p.ID, Field: "recording", Reason: "missing reference"}
	}
	return &Sidecar{DurationBucket: -1}, nil
}

// primaryArtistNorm picks the credited artist that names the work: primary
// role first, then featured, lowest credit order winning ties.
func primaryArtistNorm(credits []domain.ArtistCredit, st *batchState) string {
	bestRank := -1
	var best *Sidecar
	for _, c := range credits {
		sc := st.sidecars[c.ArtistID]
		if sc == nil || sc.NormName == "" {
			continue
		}
		rank := rolePriority(c.Role)*1000 + c.CreditOrder
		if bestRank == -1 || rank < bestRank {
			bestRank = rank
			best = sc
		}
	}
	if best == nil {
		return ""
	}
	return best.NormName
}

func rolePriority(role domain.CreditRole) int {
	switch role {
	case domain.RolePrimary:
		return 0
	case domain.RoleFeatured:
		return 1
	default:
		return 2
	}
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
