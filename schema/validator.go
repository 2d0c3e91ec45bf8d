package batchschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed ingest_graph.schema.json
var ingestGraphSchemaJSON string

// BatchPayload is the typed form of one validated ingest graph payload.
// Entities reference each other by batch-local string keys.
type BatchPayload struct {
	BatchVersion string                `json:"batch_version"`
	Source       string                `json:"source"`
	Artists      []ArtistPayload       `json:"artists,omitempty"`
	Labels       []LabelPayload        `json:"labels,omitempty"`
	ReleaseSets  []ReleaseSetPayload   `json:"release_sets,omitempty"`
	Releases     []ReleasePayload      `json:"releases,omitempty"`
	Recordings   []RecordingPayload    `json:"recordings,omitempty"`
	Tracks       []TrackPayload        `json:"tracks,omitempty"`
	Users        []UserPayload         `json:"users,omitempty"`
	PlayEvents   []PlayEventPayload    `json:"play_events,omitempty"`
}

type ExternalIDPayload struct {
	Namespace string `json:"namespace"`
	Value     string `json:"value"`
}

type CreditPayload struct {
	Artist string `json:"artist"`
	Role   string `json:"role,omitempty"`
}

type ArtistPayload struct {
	Key           string              `json:"key"`
	Name          string              `json:"name"`
	SortName      *string             `json:"sort_name,omitempty"`
	Country       *string             `json:"country,omitempty"`
	FormedYear    *int                `json:"formed_year,omitempty"`
	DisbandedYear *int                `json:"disbanded_year,omitempty"`
	ExternalIDs   []ExternalIDPayload `json:"external_ids,omitempty"`
}

type LabelPayload struct {
	Key         string              `json:"key"`
	Name        string              `json:"name"`
	Country     *string             `json:"country,omitempty"`
	ExternalIDs []ExternalIDPayload `json:"external_ids,omitempty"`
}

type ReleaseSetPayload struct {
	Key          string              `json:"key"`
	Title        string              `json:"title"`
	PrimaryType  *string             `json:"primary_type,omitempty"`
	FirstRelease *string             `json:"first_release,omitempty"`
	Artists      []CreditPayload     `json:"artists,omitempty"`
	ExternalIDs  []ExternalIDPayload `json:"external_ids,omitempty"`
}

type ReleasePayload struct {
	Key         string              `json:"key"`
	Title       string              `json:"title"`
	ReleaseSet  string              `json:"release_set"`
	ReleaseDate *string             `json:"release_date,omitempty"`
	Country     *string             `json:"country,omitempty"`
	Format      *string             `json:"format,omitempty"`
	MediumCount *int                `json:"medium_count,omitempty"`
	Labels      []string            `json:"labels,omitempty"`
	ExternalIDs []ExternalIDPayload `json:"external_ids,omitempty"`
}

type RecordingPayload struct {
	Key         string              `json:"key"`
	Title       string              `json:"title"`
	DurationMS  *int                `json:"duration_ms,omitempty"`
	Version     *string             `json:"version,omitempty"`
	Artists     []CreditPayload     `json:"artists,omitempty"`
	ExternalIDs []ExternalIDPayload `json:"external_ids,omitempty"`
}

type TrackPayload struct {
	Key         string              `json:"key"`
	Release     string              `json:"release"`
	Recording   string              `json:"recording"`
	DiscNumber  int                 `json:"disc_number,omitempty"`
	TrackNumber int                 `json:"track_number"`
	ExternalIDs []ExternalIDPayload `json:"external_ids,omitempty"`
}

type UserPayload struct {
	Key           string              `json:"key"`
	DisplayName   string              `json:"display_name,omitempty"`
	Email         *string             `json:"email,omitempty"`
	SpotifyUserID *string             `json:"spotify_user_id,omitempty"`
	LastfmUser    *string             `json:"lastfm_user,omitempty"`
	ExternalIDs   []ExternalIDPayload `json:"external_ids,omitempty"`
}

type PlayEventPayload struct {
	Key         string              `json:"key"`
	User        string              `json:"user"`
	Recording   string              `json:"recording"`
	Track       *string             `json:"track,omitempty"`
	PlayedAt    string              `json:"played_at"`
	DurationMS  *int                `json:"duration_ms,omitempty"`
	ExternalIDs []ExternalIDPayload `json:"external_ids,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateBatchPayload strict-decodes, schema-validates and semantically
// checks one ingest graph payload.
func ValidateBatchPayload(payload json.RawMessage) (*BatchPayload, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var batch BatchPayload
	if err := json.Unmarshal(normalized, &batch); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&batch); err != nil {
		return nil, err
	}

	return &batch, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("ingest_graph.schema.json", strings.NewReader(ingestGraphSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("ingest_graph.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(batch *BatchPayload) error {
	if batch == nil {
		return fmt.Errorf("payload is nil")
	}
	if strings.TrimSpace(batch.Source) == "" {
		return fmt.Errorf("source must not be empty")
	}
	if strings.TrimSpace(batch.BatchVersion) != "v1" {
		return fmt.Errorf("batch_version must be v1")
	}

	seen := make(map[string]struct{})
	claim := func(section, key string) error {
		qualified := section + "/" + key
		if _, dup := seen[qualified]; dup {
			return fmt.Errorf("%s: duplicate key %q", section, key)
		}
		seen[qualified] = struct{}{}
		return nil
	}

	for _, a := range batch.Artists {
		if err := claim("artists", a.Key); err != nil {
			return err
		}
	}
	for _, l := range batch.Labels {
		if err := claim("labels", l.Key); err != nil {
			return err
		}
	}
	for _, rs := range batch.ReleaseSets {
		if err := claim("release_sets", rs.Key); err != nil {
			return err
		}
		if err := validateTimestamp("release_sets", rs.Key, "first_release", rs.FirstRelease); err != nil {
			return err
		}
	}
	for _, r := range batch.Releases {
		if err := claim("releases", r.Key); err != nil {
			return err
		}
		if err := validateTimestamp("releases", r.Key, "release_date", r.ReleaseDate); err != nil {
			return err
		}
	}
	for _, r := range batch.Recordings {
		if err := claim("recordings", r.Key); err != nil {
			return err
		}
	}
	for _, t := range batch.Tracks {
		if err := claim("tracks", t.Key); err != nil {
			return err
		}
	}
	for _, u := range batch.Users {
		if err := claim("users", u.Key); err != nil {
			return err
		}
	}
	for _, p := range batch.PlayEvents {
		if err := claim("play_events", p.Key); err != nil {
			return err
		}
		if _, err := time.Parse(time.RFC3339, strings.TrimSpace(p.PlayedAt)); err != nil {
			return fmt.Errorf("play_events[%s]: played_at must be RFC3339: %w", p.Key, err)
		}
	}

	return nil
}

func validateTimestamp(section, key, field string, value *string) error {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil
	}
	if _, err := time.Parse(time.RFC3339, strings.TrimSpace(*value)); err != nil {
		return fmt.Errorf("%s[%s]: %s must be RFC3339: %w", section, key, field, err)
	}
	return nil
}
