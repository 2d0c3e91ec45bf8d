package db

import (
	"encoding/json"
	"time"
)

// ArtistRow maps music.artists.
type ArtistRow struct {
	ArtistID      string          `gorm:"column:artist_id;type:uuid;primaryKey"`
	CanonicalID   *string         `gorm:"column:canonical_id;type:uuid;index"`
	Name          string          `gorm:"column:name;type:text;not null"`
	SortName      *string         `gorm:"column:sort_name;type:text"`
	Country       *string         `gorm:"column:country;type:text"`
	FormedYear    *int            `gorm:"column:formed_year;type:integer"`
	DisbandedYear *int            `gorm:"column:disbanded_year;type:integer"`
	Sources       json.RawMessage `gorm:"column:sources;type:jsonb"`
	CreatedAt     time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (ArtistRow) TableName() string { return "music.artists" }

// LabelRow maps music.labels.
type LabelRow struct {
	LabelID     string          `gorm:"column:label_id;type:uuid;primaryKey"`
	CanonicalID *string         `gorm:"column:canonical_id;type:uuid;index"`
	Name        string          `gorm:"column:name;type:text;not null"`
	Country     *string         `gorm:"column:country;type:text"`
	Sources     json.RawMessage `gorm:"column:sources;type:jsonb"`
	CreatedAt   time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (LabelRow) TableName() string { return "music.labels" }

// ReleaseSetRow maps music.release_sets.
type ReleaseSetRow struct {
	ReleaseSetID string          `gorm:"column:release_set_id;type:uuid;primaryKey"`
	CanonicalID  *string         `gorm:"column:canonical_id;type:uuid;index"`
	Title        string          `gorm:"column:title;type:text;not null"`
	PrimaryType  *string         `gorm:"column:primary_type;type:text"`
	FirstRelease *time.Time      `gorm:"column:first_release;type:timestamptz"`
	Sources      json.RawMessage `gorm:"column:sources;type:jsonb"`
	CreatedAt    time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (ReleaseSetRow) TableName() string { return "music.release_sets" }

// ReleaseRow maps music.releases.
type ReleaseRow struct {
	ReleaseID    string          `gorm:"column:release_id;type:uuid;primaryKey"`
	CanonicalID  *string         `gorm:"column:canonical_id;type:uuid;index"`
	ReleaseSetID *string         `gorm:"column:release_set_id;type:uuid;index"`
	Title        string          `gorm:"column:title;type:text;not null"`
	ReleaseDate  *time.Time      `gorm:"column:release_date;type:timestamptz"`
	Country      *string         `gorm:"column:country;type:text"`
	Format       *string         `gorm:"column:format;type:text"`
	MediumCount  *int            `gorm:"column:medium_count;type:integer"`
	Sources      json.RawMessage `gorm:"column:sources;type:jsonb"`
	CreatedAt    time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (ReleaseRow) TableName() string { return "music.releases" }

// RecordingRow maps music.recordings.
type RecordingRow struct {
	RecordingID string          `gorm:"column:recording_id;type:uuid;primaryKey"`
	CanonicalID *string         `gorm:"column:canonical_id;type:uuid;index"`
	Title       string          `gorm:"column:title;type:text;not null"`
	DurationMS  *int            `gorm:"column:duration_ms;type:integer"`
	Version     *string         `gorm:"column:version;type:text"`
	Sources     json.RawMessage `gorm:"column:sources;type:jsonb"`
	CreatedAt   time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (RecordingRow) TableName() string { return "music.recordings" }

// TrackRow maps music.tracks.
type TrackRow struct {
	TrackID     string          `gorm:"column:track_id;type:uuid;primaryKey"`
	CanonicalID *string         `gorm:"column:canonical_id;type:uuid;index"`
	ReleaseID   string          `gorm:"column:release_id;type:uuid;not null;index"`
	RecordingID string          `gorm:"column:recording_id;type:uuid;not null;index"`
	DiscNumber  int             `gorm:"column:disc_number;type:integer;not null;default:1"`
	TrackNumber int             `gorm:"column:track_number;type:integer;not null"`
	Sources     json.RawMessage `gorm:"column:sources;type:jsonb"`
	CreatedAt   time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (TrackRow) TableName() string { return "music.tracks" }

// UserRow maps music.users.
type UserRow struct {
	UserID        string          `gorm:"column:user_id;type:uuid;primaryKey"`
	CanonicalID   *string         `gorm:"column:canonical_id;type:uuid;index"`
	DisplayName   string          `gorm:"column:display_name;type:text;not null;default:''"`
	Email         *string         `gorm:"column:email;type:text"`
	SpotifyUserID *string         `gorm:"column:spotify_user_id;type:text"`
	LastfmUser    *string         `gorm:"column:lastfm_user;type:text"`
	Sources       json.RawMessage `gorm:"column:sources;type:jsonb"`
	CreatedAt     time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (UserRow) TableName() string { return "music.users" }

// PlayEventRow maps music.play_events.
type PlayEventRow struct {
	PlayEventID string          `gorm:"column:play_event_id;type:uuid;primaryKey"`
	CanonicalID *string         `gorm:"column:canonical_id;type:uuid;index"`
	UserID      string          `gorm:"column:user_id;type:uuid;not null;index"`
	RecordingID string          `gorm:"column:recording_id;type:uuid;not null;index"`
	TrackID     *string         `gorm:"column:track_id;type:uuid"`
	PlayedAt    time.Time       `gorm:"column:played_at;type:timestamptz;not null"`
	Source      string          `gorm:"column:source;type:text;not null"`
	DurationMS  *int            `gorm:"column:duration_ms;type:integer"`
	Sources     json.RawMessage `gorm:"column:sources;type:jsonb"`
	CreatedAt   time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (PlayEventRow) TableName() string { return "music.play_events" }

// ArtistCreditRow maps music.artist_credits: one credit linking an artist to
// a release set or recording.
type ArtistCreditRow struct {
	CreditID    int64  `gorm:"column:credit_id;primaryKey;autoIncrement"`
	OwnerType   string `gorm:"column:owner_type;type:text;not null;uniqueIndex:ux_artist_credits_owner"`
	OwnerID     string `gorm:"column:owner_id;type:uuid;not null;uniqueIndex:ux_artist_credits_owner;index"`
	ArtistID    string `gorm:"column:artist_id;type:uuid;not null;uniqueIndex:ux_artist_credits_owner"`
	Role        string `gorm:"column:role;type:text;not null;default:primary;uniqueIndex:ux_artist_credits_owner"`
	CreditOrder int    `gorm:"column:credit_order;type:integer;not null;default:0"`
}

func (ArtistCreditRow) TableName() string { return "music.artist_credits" }

// ReleaseLabelRow maps music.release_labels.
type ReleaseLabelRow struct {
	ReleaseID string `gorm:"column:release_id;type:uuid;primaryKey"`
	LabelID   string `gorm:"column:label_id;type:uuid;primaryKey"`
}

func (ReleaseLabelRow) TableName() string { return "music.release_labels" }

// ExternalIDRow maps music.external_ids. The unique index enforces that one
// (namespace, value) pair resolves to at most one entity per type.
type ExternalIDRow struct {
	ExternalIDID int64  `gorm:"column:external_id_id;primaryKey;autoIncrement"`
	EntityType   string `gorm:"column:entity_type;type:text;not null;uniqueIndex:ux_external_ids_ns_value"`
	Namespace    string `gorm:"column:namespace;type:text;not null;uniqueIndex:ux_external_ids_ns_value"`
	Value        string `gorm:"column:value;type:text;not null;uniqueIndex:ux_external_ids_ns_value"`
	EntityID     string `gorm:"column:entity_id;type:uuid;not null;index"`
}

func (ExternalIDRow) TableName() string { return "music.external_ids" }

// EntityKeyRow maps music.entity_keys: deterministic lookup keys. Keys are
// not unique across entities; ambiguity is the matcher's problem.
type EntityKeyRow struct {
	EntityKeyID int64  `gorm:"column:entity_key_id;primaryKey;autoIncrement"`
	EntityType  string `gorm:"column:entity_type;type:text;not null;uniqueIndex:ux_entity_keys_entry;index:ix_entity_keys_lookup"`
	Key         string `gorm:"column:key;type:text;not null;uniqueIndex:ux_entity_keys_entry;index:ix_entity_keys_lookup"`
	EntityID    string `gorm:"column:entity_id;type:uuid;not null;uniqueIndex:ux_entity_keys_entry"`
}

func (EntityKeyRow) TableName() string { return "music.entity_keys" }

// EntityNormRow maps music.entity_norms: normalized projections backing the
// fuzzy candidate filter. Only canonical entities are indexed.
type EntityNormRow struct {
	EntityNormID   int64  `gorm:"column:entity_norm_id;primaryKey;autoIncrement"`
	EntityType     string `gorm:"column:entity_type;type:text;not null;uniqueIndex:ux_entity_norms_entity;index:ix_entity_norms_lookup"`
	EntityID       string `gorm:"column:entity_id;type:uuid;not null;uniqueIndex:ux_entity_norms_entity"`
	NormName       string `gorm:"column:norm_name;type:text;not null;index:ix_entity_norms_lookup"`
	NormArtist     string `gorm:"column:norm_artist;type:text;not null;default:''"`
	DurationBucket int    `gorm:"column:duration_bucket;type:integer;not null;default:-1"`
}

func (EntityNormRow) TableName() string { return "music.entity_norms" }

// EntityMergeRow maps music.entity_merges, the append-only merge audit.
type EntityMergeRow struct {
	MergeID    string    `gorm:"column:merge_id;type:uuid;primaryKey"`
	EntityType string    `gorm:"column:entity_type;type:text;not null"`
	SourceID   string    `gorm:"column:source_id;type:uuid;not null;index"`
	TargetID   string    `gorm:"column:target_id;type:uuid;not null;index"`
	Reason     string    `gorm:"column:reason;type:text;not null"`
	Actor      string    `gorm:"column:actor;type:text;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (EntityMergeRow) TableName() string { return "music.entity_merges" }

// IngestRunRow maps music.ingest_runs.
type IngestRunRow struct {
	RunID        string     `gorm:"column:run_id;type:uuid;primaryKey"`
	Source       string     `gorm:"column:source;type:text;not null"`
	Actor        string     `gorm:"column:actor;type:text;not null"`
	Status       string     `gorm:"column:status;type:text;not null;default:completed"`
	StartedAt    time.Time  `gorm:"column:started_at;type:timestamptz;not null"`
	FinishedAt   *time.Time `gorm:"column:finished_at;type:timestamptz"`
	Processed    int        `gorm:"column:processed;type:integer;not null;default:0"`
	Created      int        `gorm:"column:created;type:integer;not null;default:0"`
	Merged       int        `gorm:"column:merged;type:integer;not null;default:0"`
	Collapsed    int        `gorm:"column:collapsed;type:integer;not null;default:0"`
	Unchanged    int        `gorm:"column:unchanged;type:integer;not null;default:0"`
	Conflicts    int        `gorm:"column:conflicts;type:integer;not null;default:0"`
	Skipped      int        `gorm:"column:skipped;type:integer;not null;default:0"`
	ErrorMessage *string    `gorm:"column:error_message;type:text"`
	CreatedAt    time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (IngestRunRow) TableName() string { return "music.ingest_runs" }

func autoMigrateModels() []any {
	return []any{
		&ArtistRow{},
		&LabelRow{},
		&ReleaseSetRow{},
		&ReleaseRow{},
		&RecordingRow{},
		&TrackRow{},
		&UserRow{},
		&PlayEventRow{},
		&ArtistCreditRow{},
		&ReleaseLabelRow{},
		&ExternalIDRow{},
		&EntityKeyRow{},
		&EntityNormRow{},
		&EntityMergeRow{},
		&IngestRunRow{},
	}
}
