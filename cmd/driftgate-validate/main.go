// Package main implements the driftgate-validate binary: a one-shot CLI
// that validates batch descriptor files against the schema registry without
// running the HTTP server.
//
// A batch descriptor is a JSON file of the form:
//
//	{
//	  "dataset": "orders",
//	  "observed_schema": { "fields": [...] },
//	  "batch_stats": { "row_count": 1000, "columns": {...} }
//	}
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/driftgate/driftgate/internal/archive"
	"github.com/driftgate/driftgate/internal/config"
	"github.com/driftgate/driftgate/internal/expect"
	"github.com/driftgate/driftgate/internal/pipeline"
	"github.com/driftgate/driftgate/internal/reconcile"
	"github.com/driftgate/driftgate/internal/registry"
	"github.com/driftgate/driftgate/internal/report"
	"github.com/driftgate/driftgate/internal/ruleset"
	"github.com/driftgate/driftgate/internal/storage"
	"github.com/driftgate/driftgate/pkg/types"
)

// batchDescriptor mirrors the /v1/validate request body so the same files
// can be replayed against a running server.
type batchDescriptor struct {
	Dataset        string           `json:"dataset"`
	ObservedSchema types.Schema     `json:"observed_schema"`
	BatchStats     types.BatchStats `json:"batch_stats"`
}

func main() {
	var (
		configFile string
		dataDir    string
		backend    string
		rulesPath  string
		workers    int
		asJSON     bool
		register   bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&backend, "registry-backend", "", "Registry backend: memory, sqlite, postgres")
	flag.StringVar(&rulesPath, "rules", "", "Path to rule-set YAML file")
	flag.IntVar(&workers, "workers", 4, "Number of batches validated in parallel")
	flag.BoolVar(&asJSON, "json", false, "Emit full reports as JSON instead of a table")
	flag.BoolVar(&register, "register", false, "Register unseen datasets from the observed schema")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: driftgate-validate [options] <batch.json> [<batch.json>...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(configFile, dataDir, backend, rulesPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	batches, err := loadBatches(paths)
	if err != nil {
		log.Fatalf("Failed to load batch descriptors: %v", err)
	}

	ctx := context.Background()
	runner, reg, cleanup, err := buildPipeline(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}
	defer cleanup()

	if register {
		if err := registerUnseen(ctx, reg, batches); err != nil {
			log.Fatalf("Failed to register datasets: %v", err)
		}
	}

	results := runner.RunAll(ctx, batches, workers)

	failed := false
	for i, res := range results {
		if res.Err != nil {
			failed = true
			fmt.Fprintf(os.Stderr, "%s: validation error: %v\n", paths[i], res.Err)
			continue
		}
		if res.Report.OverallStatus != expect.StatusPass {
			failed = true
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res.Report); err != nil {
				log.Fatalf("Failed to encode report: %v", err)
			}
		} else {
			printTable(paths[i], res.Report.Dataset, res.Report)
		}
	}

	if failed {
		os.Exit(1)
	}
}

// loadConfig layers file, environment, and flags the same way the server
// binary does.
func loadConfig(configFile, dataDir, backend, rulesPath string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if backend != "" {
		cfg.Registry.Backend = backend
	}
	if rulesPath != "" {
		cfg.Rules.Path = rulesPath
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadBatches reads and decodes all descriptor files up front so a typo in
// the last file fails the run before any registry writes happen.
func loadBatches(paths []string) ([]pipeline.Batch, error) {
	batches := make([]pipeline.Batch, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		var desc batchDescriptor
		if err := json.Unmarshal(data, &desc); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if desc.Dataset == "" {
			return nil, fmt.Errorf("%s: dataset is required", p)
		}
		batches = append(batches, pipeline.Batch{
			Dataset:  desc.Dataset,
			Observed: desc.ObservedSchema,
			Stats:    desc.BatchStats,
		})
	}
	return batches, nil
}

// buildPipeline wires a local validation pipeline from configuration.
func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline.Runner, registry.Registry, func(), error) {
	reg, err := registry.Open(cfg.Registry)
	if err != nil {
		return nil, nil, nil, err
	}

	rules, err := ruleset.Open(cfg.Rules.Path)
	if err != nil {
		reg.Close()
		return nil, nil, nil, err
	}

	var arch *archive.Archiver
	if cfg.Archive.Enabled {
		var store storage.ObjectStorage
		switch cfg.Archive.Storage.Type {
		case "local":
			store, err = storage.NewLocalStorage(cfg.Archive.Storage.Path)
		case "s3":
			store, err = storage.NewS3Storage(ctx, cfg.Archive.Storage.S3.Bucket, storage.S3Config{
				Region:       cfg.Archive.Storage.S3.Region,
				Endpoint:     cfg.Archive.Storage.S3.Endpoint,
				UsePathStyle: cfg.Archive.Storage.S3.UsePathStyle,
			})
		default:
			err = fmt.Errorf("unsupported archive storage type: %s", cfg.Archive.Storage.Type)
		}
		if err != nil {
			reg.Close()
			return nil, nil, nil, err
		}
		arch = archive.New(store, cfg.Archive.Compress)
	}

	reconciler := reconcile.New(reg, reconcile.Policy{
		CaseInsensitive: cfg.Reconcile.CaseInsensitiveNames,
		MaxRetries:      cfg.Reconcile.MaxRetries,
	})
	runner := pipeline.NewRunner(reconciler, expect.NewEngine(), rules, arch, nil)

	cleanup := func() {
		if err := reg.Close(); err != nil {
			log.Printf("[WARN] registry close: %v", err)
		}
	}
	return runner, reg, cleanup, nil
}

// registerUnseen registers each batch's observed schema as version 1 for
// datasets the registry does not know yet.
func registerUnseen(ctx context.Context, reg registry.Registry, batches []pipeline.Batch) error {
	seen := make(map[string]bool)
	for _, b := range batches {
		if seen[b.Dataset] {
			continue
		}
		seen[b.Dataset] = true

		if _, err := reg.GetCurrent(ctx, b.Dataset); err == nil {
			continue
		}
		if _, err := reg.Register(ctx, b.Dataset, b.Observed); err != nil {
			return fmt.Errorf("register %s: %w", b.Dataset, err)
		}
		log.Printf("Registered dataset %s at version 1", b.Dataset)
	}
	return nil
}

// printTable renders one report as an aligned expectation/status table.
func printTable(path, dataset string, rep report.QualityReport) {
	fmt.Printf("%s (dataset=%s, version=%d, overall=%s)\n",
		path, dataset, rep.SchemaVersion, rep.OverallStatus)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  EXPECTATION\tSTATUS")
	for _, row := range rep.Rows() {
		fmt.Fprintf(w, "  %s\t%s\n", row.Expectation, row.Status)
	}
	w.Flush()
	fmt.Println()
}
