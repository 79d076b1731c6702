// Package main implements the cubeforge-stats reader. It merges the
// per-split register buffers recorded in the catalog and prints the
// job-wide cardinality estimate for every cuboid.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/cubeforge/cubeforge/internal/catalog"
	"github.com/cubeforge/cubeforge/internal/config"
)

func main() {
	var (
		configFile string
		dataDir    string
		jobID      string
		listCubes  bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&jobID, "job", "", "Job ID to summarize")
	flag.BoolVar(&listCubes, "cubes", false, "List stored cube descriptors and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "cubeforge-stats - catalog statistics reader\n\n")
		fmt.Fprintf(os.Stderr, "Usage: cubeforge-stats [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  cubeforge-stats --data-dir ./data/cubeforge --job <job-id>\n")
		fmt.Fprintf(os.Stderr, "  cubeforge-stats --data-dir ./data/cubeforge --cubes\n")
	}
	flag.Parse()

	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfg.Resolve()

	cat, err := catalog.NewCatalog(cfg.CatalogPath())
	if err != nil {
		log.Fatalf("Failed to open catalog: %v", err)
	}
	defer cat.Close()

	ctx := context.Background()

	if listCubes {
		names, err := cat.ListCubes(ctx)
		if err != nil {
			log.Fatalf("Failed to list cubes: %v", err)
		}
		for _, name := range names {
			desc, err := cat.GetCube(ctx, name)
			if err != nil {
				log.Fatalf("Failed to load cube %s: %v", name, err)
			}
			fmt.Printf("%s: %d dimensions, precision %d\n",
				name, desc.DimensionCount(), desc.SketchPrecision)
		}
		return
	}

	if jobID == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := printJobEstimates(ctx, cat, jobID); err != nil {
		log.Fatalf("Failed to summarize job %s: %v", jobID, err)
	}
}

// printJobEstimates prints the job-wide merged estimate of every cuboid.
func printJobEstimates(ctx context.Context, cat catalog.Catalog, jobID string) error {
	est, err := cat.CuboidEstimates(ctx, jobID)
	if err != nil {
		return err
	}

	fmt.Printf("Job %s: %d splits, %d cuboids\n", jobID, est.SplitCount, len(est.Cuboids))
	for _, c := range est.Cuboids {
		fmt.Printf("  cuboid %-20s ~%d distinct keys\n", c.CuboidID, c.Estimate)
	}
	if est.HasTotal {
		fmt.Printf("  total                       ~%d rows across the lattice\n", est.Total)
	}
	return nil
}
