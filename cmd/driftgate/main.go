// Package main implements the driftgate server binary: the schema registry
// and batch validation service exposed over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/driftgate/driftgate/internal/app"
	"github.com/driftgate/driftgate/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		httpAddr    string
		backend     string
		rulesPath   string
		printConfig bool
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&backend, "registry-backend", "", "Registry backend: memory, sqlite, postgres")
	flag.StringVar(&rulesPath, "rules", "", "Path to rule-set YAML file")
	flag.BoolVar(&printConfig, "print-config", false, "Print the resolved configuration and exit")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Driftgate - Schema Drift Gatekeeper For Batch Pipelines\n\n")
		fmt.Fprintf(os.Stderr, "Usage: driftgate [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  driftgate --data-dir /data/driftgate\n")
		fmt.Fprintf(os.Stderr, "  driftgate --registry-backend postgres --rules /etc/driftgate/rules.yaml\n")
		fmt.Fprintf(os.Stderr, "  driftgate --config /etc/driftgate/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  DRIFTGATE_DATA_DIR            Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  DRIFTGATE_HTTP_ADDR           HTTP listen address\n")
		fmt.Fprintf(os.Stderr, "  DRIFTGATE_REGISTRY_BACKEND    Registry backend (memory, sqlite, postgres)\n")
		fmt.Fprintf(os.Stderr, "  DRIFTGATE_REGISTRY_DSN        Postgres connection string\n")
		fmt.Fprintf(os.Stderr, "  DRIFTGATE_RULES_PATH          Rule-set YAML file\n")
		fmt.Fprintf(os.Stderr, "  DRIFTGATE_STORAGE_TYPE        Archive storage type (local, s3)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("driftgate version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, dataDir, httpAddr, backend, rulesPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if printConfig {
		cfg.Resolve()
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			log.Fatalf("Failed to encode configuration: %v", err)
		}
		os.Exit(0)
	}

	printBanner(cfg)

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("Received signal: %v", sig)

	if err := application.Stop(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line
// flags, in increasing order of priority.
func loadConfig(configFile, dataDir, httpAddr, backend, rulesPath string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if httpAddr != "" {
		cfg.Server.HTTPAddr = httpAddr
	}
	if backend != "" {
		cfg.Registry.Backend = backend
	}
	if rulesPath != "" {
		cfg.Rules.Path = rulesPath
	}

	return cfg, nil
}

// printBanner prints the startup banner with a configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("╔═══════════════════════════════════════════════════════════╗")
	log.Printf("║                      DRIFTGATE                            ║")
	log.Printf("║      Schema Drift Gatekeeper For Batch Pipelines          ║")
	log.Printf("╚═══════════════════════════════════════════════════════════╝")
	log.Printf("")
	log.Printf("Configuration:")
	log.Printf("  HTTP Addr: %s", cfg.Server.HTTPAddr)
	log.Printf("  Data Dir:  %s", cfg.DataDir)
	log.Printf("  Registry:  %s", cfg.Registry.Backend)
	if cfg.Rules.Path != "" {
		log.Printf("  Rules:     %s (watch=%v)", cfg.Rules.Path, cfg.Rules.Watch)
	}
	if cfg.Archive.Enabled {
		log.Printf("  Archive:   %s (compress=%v)", cfg.Archive.Storage.Type, cfg.Archive.Compress)
	}
	log.Printf("")
}
