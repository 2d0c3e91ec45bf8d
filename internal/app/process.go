package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/medley/internal/cli"
	"horse.fit/medley/internal/config"
	"horse.fit/medley/internal/db"
	"horse.fit/medley/internal/ingest"
	"horse.fit/medley/internal/logging"
	batchschema "horse.fit/medley/schema"
)

func runProcess(args []string) int {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 60*time.Second, "Command timeout")
	input := fs.String("input", "", "Path to the batch JSON file")
	validateOnly := fs.Bool("validate-only", false, "Validate the batch without writing anything")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	inputPath := strings.TrimSpace(*input)
	if inputPath == "" {
		fmt.Fprintln(os.Stderr, "--input is required")
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	raw, err := os.ReadFile(inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read batch file %q: %v\n", inputPath, err)
		return 2
	}

	payload, err := batchschema.ValidateBatchPayload(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid batch: %v\n", err)
		return 2
	}

	graph, err := ingest.BuildGraph(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid batch: %v\n", err)
		return 2
	}

	if *validateOnly {
		fmt.Printf("batch OK: source=%s entities=%d\n", graph.Source, graph.Size())
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	engine := ingest.NewEngine(db.NewStore(pool), logger, ingest.Options{
		FuzzyThreshold:      cfg.FuzzyMatchThreshold,
		FuzzyCandidateLimit: cfg.FuzzyCandidateLimit,
		FuzzyPrefixLength:   cfg.FuzzyPrefixLength,
		DurationBucketMS:    cfg.DurationBucketMS,
		Actor:               cfg.IngestActor,
	})

	result, err := engine.ProcessBatch(ctx, graph)
	if err != nil {
		logger.Error().Err(err).Str("source", graph.Source).Msg("batch processing failed")
		fmt.Fprintf(os.Stderr, "Batch processing failed: %v\n", err)
		return 1
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode result: %v\n", err)
		return 1
	}
	fmt.Println(string(encoded))
	return 0
}
