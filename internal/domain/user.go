package domain

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	Base
	DisplayName   string
	Email         *string
	SpotifyUserID *string
	LastfmUser    *string
}

func (*User) EntityType() EntityType { return TypeUser }

// PlayEvent is a scrobble: one playback of a recording by a user. TrackID is
// uuid.Nil when the provider did not pin the play to a concrete release track.
type PlayEvent struct {
	Base
	UserID      uuid.UUID
	RecordingID uuid.UUID
	TrackID     uuid.UUID
	PlayedAt    time.Time
	Source      string
	DurationMS  *int
}

func (*PlayEvent) EntityType() EntityType { return TypePlayEvent }
