package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"horse.fit/medley/internal/domain"
)

// Key is one deterministic lookup key: tagged parts joined by a unit
// separator. Keys are scoped per entity type by the store.
type Key string

const keySep = "\x1f"

// makeKey joins the parts into a key. A key with any blank part is omitted
// entirely, never emitted partially.
func makeKey(parts ...string) (Key, bool) {
	for _, p := range parts {
		if p == "" {
			return "", false
		}
	}
	return Key(strings.Join(parts, keySep)), true
}

func appendKey(keys []Key, parts ...string) []Key {
	if k, ok := makeKey(parts...); ok {
		keys = append(keys, k)
	}
	return keys
}

// externalKeys derives one key per external identifier. These sort first in
// every priority list: a provider catalog id beats any name heuristic.
func externalKeys(ent domain.CanonicalEntity) []Key {
	var keys []Key
	for _, ext := range ent.ExternalIDs() {
		keys = appendKey(keys, "ext", ext.Namespace, ext.Value)
	}
	return keys
}

func refPart(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func artistKeys(a *domain.Artist, sc *Sidecar) []Key {
	keys := externalKeys(a)
	for _, src := range a.SourceList() {
		keys = appendKey(keys, "src_name", src, sc.NormName)
	}
	return appendKey(keys, "name", sc.NormName)
}

func labelKeys(l *domain.Label, sc *Sidecar) []Key {
	keys := externalKeys(l)
	for _, src := range l.SourceList() {
		keys = appendKey(keys, "src_name", src, sc.NormName)
	}
	return appendKey(keys, "name", sc.NormName)
}

func releaseSetKeys(rs *domain.ReleaseSet, sc *Sidecar) []Key {
	keys := externalKeys(rs)
	keys = appendKey(keys, "artist_title", sc.NormArtist, sc.NormName)
	for _, src := range rs.SourceList() {
		keys = appendKey(keys, "src_title", src, sc.NormName)
	}
	return keys
}

func releaseKeys(r *domain.Release, sc *Sidecar) []Key {
	keys := externalKeys(r)
	keys = appendKey(keys, "set_title", refPart(r.ReleaseSetID), sc.NormName)
	return appendKey(keys, "artist_title", sc.NormArtist, sc.NormName)
}

func recordingKeys(r *domain.Recording, sc *Sidecar) []Key {
	keys := externalKeys(r)
	if sc.DurationBucket >= 0 {
		keys = appendKey(keys, "artist_title_dur", sc.NormArtist, sc.NormName, strconv.Itoa(sc.DurationBucket))
	}
	for _, src := range r.SourceList() {
		keys = appendKey(keys, "src_artist_title", src, sc.NormArtist, sc.NormName)
	}
	return appendKey(keys, "artist_title", sc.NormArtist, sc.NormName)
}

func trackKeys(t *domain.Track, sc *Sidecar) []Key {
	keys := externalKeys(t)
	return appendKey(keys, "placement",
		refPart(t.ReleaseID), refPart(t.RecordingID),
		strconv.Itoa(t.DiscNumber), strconv.Itoa(t.TrackNumber))
}

func userKeys(u *domain.User, sc *Sidecar) []Key {
	keys := externalKeys(u)
	keys = appendKey(keys, "lastfm", derefString(u.LastfmUser))
	keys = appendKey(keys, "spotify", derefString(u.SpotifyUserID))
	keys = appendKey(keys, "email", normalizeText(derefString(u.Email)))
	return appendKey(keys, "name", sc.NormName)
}

func playEventKeys(p *domain.PlayEvent, sc *Sidecar) []Key {
	keys := externalKeys(p)
	return appendKey(keys, "listen",
		refPart(p.UserID), refPart(p.RecordingID),
		p.PlayedAt.UTC().Format(time.RFC3339Nano))
}
