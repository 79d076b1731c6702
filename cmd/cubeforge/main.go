// Package main implements the cubeforge build driver. It reads the cube
// descriptor, fans the given CSV splits across the worker pool, publishes
// the resulting shuffle segments, and records split statistics in the
// catalog.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/cubeforge/cubeforge/internal/catalog"
	"github.com/cubeforge/cubeforge/internal/config"
	"github.com/cubeforge/cubeforge/internal/cube"
	"github.com/cubeforge/cubeforge/internal/runner"
	"github.com/cubeforge/cubeforge/internal/storage"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		cubeDesc    string
		concurrency int
		noStats     bool
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&cubeDesc, "cube-desc", "", "Path to the cube descriptor (YAML or JSON)")
	flag.IntVar(&concurrency, "concurrency", 0, "Number of splits processed in parallel")
	flag.BoolVar(&noStats, "no-stats", false, "Disable cuboid statistics collection (sampling only)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "cubeforge - cube build statistics driver\n\n")
		fmt.Fprintf(os.Stderr, "Usage: cubeforge [options] split.csv [split.csv ...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  cubeforge --cube-desc sales.yaml facts-00.csv facts-01.csv\n")
		fmt.Fprintf(os.Stderr, "  cubeforge --config /etc/cubeforge/config.yaml facts.csv\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  CUBEFORGE_DATA_DIR        Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  CUBEFORGE_CUBE_DESC_PATH  Path to the cube descriptor\n")
		fmt.Fprintf(os.Stderr, "  CUBEFORGE_STORAGE_TYPE    Storage type (local, s3)\n")
		fmt.Fprintf(os.Stderr, "  CUBEFORGE_S3_BUCKET       S3 bucket for segments\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("cubeforge version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(configFile, dataDir, cubeDesc, concurrency, noStats)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	desc, err := cube.LoadDesc(cfg.CubeDescPath)
	if err != nil {
		log.Fatalf("Failed to load cube descriptor: %v", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("Failed to create data directories: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, cancelling job", sig)
		cancel()
	}()

	store, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open object storage: %v", err)
	}

	cat, err := catalog.NewCatalog(cfg.CatalogPath())
	if err != nil {
		log.Fatalf("Failed to open catalog: %v", err)
	}
	defer cat.Close()

	if err := cat.SaveCube(ctx, desc); err != nil {
		log.Fatalf("Failed to save cube descriptor: %v", err)
	}

	r, err := runner.NewRunner(cfg, desc, store, cat)
	if err != nil {
		log.Fatalf("Failed to create runner: %v", err)
	}

	splits := make([]runner.Split, 0, flag.NArg())
	for _, path := range flag.Args() {
		id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		splits = append(splits, runner.CSVFileSplit(id, path))
	}

	report, err := r.RunJob(ctx, splits)
	printReport(report)
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and flags.
func loadConfig(configFile, dataDir, cubeDesc string, concurrency int, noStats bool) (*config.Config, error) {
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

	// Flags have the highest priority.
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if cubeDesc != "" {
		cfg.CubeDescPath = cubeDesc
	}
	if concurrency > 0 {
		cfg.Build.SplitConcurrency = concurrency
	}
	if noStats {
		cfg.Build.CollectStatistics = false
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStorage builds the object storage backend named by the config.
func openStorage(ctx context.Context, cfg *config.Config) (storage.ObjectStorage, error) {
	switch cfg.Storage.Type {
	case "s3":
		return storage.NewS3Storage(ctx, cfg.Storage.S3.Bucket, storage.S3Config{
			Region:   cfg.Storage.S3.Region,
			Endpoint: cfg.Storage.S3.Endpoint,
		})
	default:
		return storage.NewLocalStorage(cfg.Storage.Path)
	}
}

func printReport(report *runner.JobReport) {
	log.Printf("Job %s (cube %s):", report.JobID, report.CubeName)
	for _, s := range report.Splits {
		if s.Err != nil {
			log.Printf("  split %-20s FAILED: %v", s.SplitID, s.Err)
			continue
		}
		log.Printf("  split %-20s %d rows, %d records -> %s",
			s.SplitID, s.Rows, s.Records, strings.Join(s.ObjectPaths, ", "))
	}
}
