package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"MEDLEY_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"MEDLEY_DB_MAX_CONNS" default:"8"`

	FuzzyMatchThreshold float64 `envconfig:"FUZZY_MATCH_THRESHOLD" default:"0.95"`
	FuzzyCandidateLimit int     `envconfig:"FUZZY_CANDIDATE_LIMIT" default:"200"`
	FuzzyPrefixLength   int     `envconfig:"FUZZY_PREFIX_LENGTH" default:"4"`
	DurationBucketMS    int     `envconfig:"DURATION_BUCKET_MS" default:"2000"`
	IngestActor         string  `envconfig:"INGEST_ACTOR" default:"medley"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("MEDLEY_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("MEDLEY_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("MEDLEY_DB_MIN_CONNS (%d) cannot exceed MEDLEY_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.FuzzyMatchThreshold <= 0 || c.FuzzyMatchThreshold > 1 {
		return fmt.Errorf("FUZZY_MATCH_THRESHOLD must be in (0, 1]")
	}
	if c.FuzzyCandidateLimit < 1 {
		return fmt.Errorf("FUZZY_CANDIDATE_LIMIT must be >= 1")
	}
	if c.FuzzyPrefixLength < 1 {
		return fmt.Errorf("FUZZY_PREFIX_LENGTH must be >= 1")
	}
	if c.DurationBucketMS < 1 {
		return fmt.Errorf("DURATION_BUCKET_MS must be >= 1")
	}
	if strings.TrimSpace(c.IngestActor) == "" {
		return fmt.Errorf("INGEST_ACTOR is required")
	}
	return nil
}
