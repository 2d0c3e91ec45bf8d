package domain

import (
	"time"

	"github.com/google/uuid"
)

// CreditRole qualifies an artist's involvement in a release set or recording.
type CreditRole string

const (
	RolePrimary  CreditRole = "primary"
	RoleFeatured CreditRole = "featured"
	RoleRemixer  CreditRole = "remixer"
	RoleProducer CreditRole = "producer"
)

// ArtistCredit links an artist to a release set or recording, ordered for
// display and keyed on (ArtistID, Role) for dedup.
type ArtistCredit struct {
	ArtistID    uuid.UUID
	Role        CreditRole
	CreditOrder int
}

type Artist struct {
	Base
	Name          string
	SortName      *string
	Country       *string
	FormedYear    *int
	DisbandedYear *int
}

func (*Artist) EntityType() EntityType { return TypeArtist }

type Label struct {
	Base
	Name    string
	Country *string
}

func (*Label) EntityType() EntityType { return TypeLabel }

// ReleaseSet is the abstract work grouping its concrete releases, i.e. a
// MusicBrainz release group.
type ReleaseSet struct {
	Base
	Title        string
	PrimaryType  *string
	FirstRelease *time.Time
	Credits      []ArtistCredit
}

func (*ReleaseSet) EntityType() EntityType { return TypeReleaseSet }

type Release struct {
	Base
	Title        string
	ReleaseSetID uuid.UUID
	ReleaseDate  *time.Time
	Country      *string
	Format       *string
	MediumCount  *int
	LabelIDs     []uuid.UUID
}

func (*Release) EntityType() EntityType { return TypeRelease }

type Recording struct {
	Base
	Title      string
	DurationMS *int
	Version    *string
	Credits    []ArtistCredit
}

func (*Recording) EntityType() EntityType { return TypeRecording }

// Track places a recording on a release at a position.
type Track struct {
	Base
	ReleaseID   uuid.UUID
	RecordingID uuid.UUID
	DiscNumber  int
	TrackNumber int
}

func (*Track) EntityType() EntityType { return TypeTrack }
