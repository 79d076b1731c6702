// Package integration provides end-to-end tests for the cubeforge build
// pipeline: runner → shuffle segments → object storage → catalog.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"github.com/cubeforge/cubeforge/internal/build"
	"github.com/cubeforge/cubeforge/internal/catalog"
	"github.com/cubeforge/cubeforge/internal/config"
	"github.com/cubeforge/cubeforge/internal/cube"
	"github.com/cubeforge/cubeforge/internal/runner"
	"github.com/cubeforge/cubeforge/internal/shuffle"
	"github.com/cubeforge/cubeforge/internal/sketch"
	"github.com/cubeforge/cubeforge/internal/storage"
)

// getTestStorage returns an object storage for integration runs. It
// respects CUBEFORGE_STORAGE_TYPE=s3 from .env or the environment;
// otherwise it uses a local store under the test temp dir.
func getTestStorage(t *testing.T, cfg *config.Config) storage.ObjectStorage {
	t.Helper()
	_ = godotenv.Load("../../.env")

	if os.Getenv("CUBEFORGE_STORAGE_TYPE") == "s3" {
		bucket := os.Getenv("CUBEFORGE_S3_BUCKET")
		if bucket == "" {
			t.Fatal("CUBEFORGE_S3_BUCKET is required for s3 integration runs")
		}
		st, err := storage.NewS3Storage(context.Background(), bucket, storage.S3Config{
			Region:   os.Getenv("CUBEFORGE_S3_REGION"),
			Endpoint: os.Getenv("CUBEFORGE_S3_ENDPOINT"),
		})
		if err != nil {
			t.Fatalf("failed to initialize S3 storage: %v", err)
		}
		return st
	}

	st, err := storage.NewLocalStorage(cfg.Storage.Path)
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	return st
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// TestBuildFlow runs the full pipeline over two CSV splits and checks the
// published segments and recorded statistics end to end.
func TestBuildFlow(t *testing.T) {
	ctx := context.Background()
	tempDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(tempDir, "data")
	cfg.CubeDescPath = filepath.Join(tempDir, "sales.yaml")
	cfg.Resolve()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("failed to create directories: %v", err)
	}

	writeFile(t, cfg.CubeDescPath, `
name: sales
dimensions:
  - name: region
    column_index: 0
  - name: product
    column_index: 1
  - name: channel
    column_index: 2
dict_columns: [0, 1]
`)

	splitA := filepath.Join(tempDir, "facts-a.csv")
	splitB := filepath.Join(tempDir, "facts-b.csv")
	writeFile(t, splitA, "US,widget,web\nUS,widget,web\nEU,gadget,store\nUS,gadget,web\n")
	writeFile(t, splitB, "APAC,widget,store\nEU,widget,web\n")

	desc, err := cube.LoadDesc(cfg.CubeDescPath)
	if err != nil {
		t.Fatalf("failed to load cube descriptor: %v", err)
	}

	store := getTestStorage(t, cfg)

	cat, err := catalog.NewCatalog(cfg.CatalogPath())
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	defer cat.Close()

	if err := cat.SaveCube(ctx, desc); err != nil {
		t.Fatalf("failed to save cube: %v", err)
	}

	r, err := runner.NewRunner(cfg, desc, store, cat)
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}

	report, err := r.RunJob(ctx, []runner.Split{
		runner.CSVFileSplit("facts-a", splitA),
		runner.CSVFileSplit("facts-b", splitB),
	})
	if err != nil {
		t.Fatalf("job failed: %v", err)
	}

	// Every split published a segment the store can serve back.
	for _, s := range report.Splits {
		if len(s.ObjectPaths) != 1 {
			t.Fatalf("split %s published %d segments, want 1", s.SplitID, len(s.ObjectPaths))
		}
		local := filepath.Join(tempDir, "fetch-"+s.SplitID+".seg")
		if err := store.Get(ctx, s.ObjectPaths[0], local); err != nil {
			t.Fatalf("failed to fetch segment %s: %v", s.ObjectPaths[0], err)
		}
		verifySegment(t, local, desc, s.SplitID)
	}

	verifyStatistics(t, ctx, cat, report.JobID, desc)
	verifyCatalogSegments(t, ctx, cat, report)
}

// verifySegment checks the key families of a fetched segment: dictionary
// samples under column ordinals, sketches under negated cuboid ids, and
// exactly one split total as the final record.
func verifySegment(t *testing.T, path string, desc *cube.Desc, splitID string) {
	t.Helper()

	reader, err := shuffle.OpenSegment(path)
	if err != nil {
		t.Fatalf("split %s: failed to open segment: %v", splitID, err)
	}
	defer reader.Close()

	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("split %s: failed to read segment: %v", splitID, err)
	}
	if len(records) == 0 {
		t.Fatalf("split %s: segment is empty", splitID)
	}

	base := desc.BaseCuboid()
	totals := 0
	for i, rec := range records {
		switch build.KindOf(rec.Key, base) {
		case build.KindColumnSample:
			if ord := build.ColumnOf(rec.Key); ord < 0 || ord >= desc.DimensionCount() {
				t.Errorf("split %s: sample key %d outside dimension range", splitID, rec.Key)
			}
			if len(rec.Value) == 0 {
				t.Errorf("split %s: empty sample value", splitID)
			}
		case build.KindCuboidSketch:
			id := build.CuboidOf(rec.Key)
			if !id.ContainedIn(base) || id == 0 {
				t.Errorf("split %s: sketch key %d names invalid cuboid", splitID, rec.Key)
			}
			if _, err := sketch.ReadRegisters(rec.Value); err != nil {
				t.Errorf("split %s: unreadable registers for cuboid %s: %v", splitID, id, err)
			}
		case build.KindTotalSketch:
			totals++
			if i != len(records)-1 {
				t.Errorf("split %s: total sketch is not the final record", splitID)
			}
		}
	}
	if totals != 1 {
		t.Errorf("split %s: expected exactly one total sketch, got %d", splitID, totals)
	}
}

// verifyStatistics merges each cuboid's registers across splits and checks
// the merged base-cuboid estimate against the known distinct row count.
func verifyStatistics(t *testing.T, ctx context.Context, cat catalog.Catalog, jobID string, desc *cube.Desc) {
	t.Helper()

	records, err := cat.SplitStats(ctx, jobID)
	if err != nil {
		t.Fatalf("failed to read statistics: %v", err)
	}
	// 2^3 cuboids plus one total, for each of the two splits.
	if len(records) != 18 {
		t.Fatalf("expected 18 statistics rows, got %d", len(records))
	}

	base := desc.BaseCuboid()
	var merged *sketch.HyperLogLog
	for _, rec := range records {
		if rec.IsTotal || rec.CuboidID != base {
			continue
		}
		sk, err := sketch.ReadRegisters(rec.Registers)
		if err != nil {
			t.Fatalf("split %s: unreadable base registers: %v", rec.SplitID, err)
		}
		if merged == nil {
			merged = sk
		} else if err := merged.Merge(sk); err != nil {
			t.Fatalf("failed to merge base registers: %v", err)
		}
	}
	if merged == nil {
		t.Fatal("no base cuboid statistics recorded")
	}

	// 5 distinct rows across both splits (one duplicate in split A).
	if got := merged.Estimate(); got != 5 {
		t.Errorf("merged base estimate = %d, want 5", got)
	}
}

func verifyCatalogSegments(t *testing.T, ctx context.Context, cat catalog.Catalog, report *runner.JobReport) {
	t.Helper()

	segs, err := cat.ListSegments(ctx, report.JobID)
	if err != nil {
		t.Fatalf("failed to list segments: %v", err)
	}
	if len(segs) != len(report.Splits) {
		t.Fatalf("catalog has %d segments, job ran %d splits", len(segs), len(report.Splits))
	}
	for _, seg := range segs {
		if seg.RecordCount == 0 {
			t.Errorf("segment %s recorded zero records", seg.ObjectPath)
		}
		if time.Since(seg.CreatedAt) > time.Hour {
			t.Errorf("segment %s has stale created_at %v", seg.ObjectPath, seg.CreatedAt)
		}
	}
}

// TestCancelledBuildLeavesNothing checks the all-or-nothing contract: a
// job cancelled before it starts publishes no segments and records no
// statistics.
func TestCancelledBuildLeavesNothing(t *testing.T) {
	tempDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(tempDir, "data")
	cfg.CubeDescPath = filepath.Join(tempDir, "sales.yaml")
	cfg.Resolve()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("failed to create directories: %v", err)
	}

	writeFile(t, cfg.CubeDescPath, `
name: sales
dimensions:
  - name: region
    column_index: 0
  - name: product
    column_index: 1
dict_columns: [0]
`)
	split := filepath.Join(tempDir, "facts.csv")
	writeFile(t, split, "US,widget\nEU,gadget\n")

	desc, err := cube.LoadDesc(cfg.CubeDescPath)
	if err != nil {
		t.Fatalf("failed to load cube descriptor: %v", err)
	}

	store, err := storage.NewLocalStorage(cfg.Storage.Path)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	cat, err := catalog.NewCatalog(cfg.CatalogPath())
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	defer cat.Close()

	r, err := runner.NewRunner(cfg, desc, store, cat)
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := r.RunJob(ctx, []runner.Split{runner.CSVFileSplit("facts", split)})
	if err == nil {
		t.Fatal("cancelled job reported success")
	}

	objects, listErr := store.List(context.Background(), "jobs/")
	if listErr != nil {
		t.Fatalf("failed to list storage: %v", listErr)
	}
	if len(objects) != 0 {
		t.Errorf("cancelled job published %d objects", len(objects))
	}

	stats, statsErr := cat.SplitStats(context.Background(), report.JobID)
	if statsErr != nil {
		t.Fatalf("failed to read statistics: %v", statsErr)
	}
	if len(stats) != 0 {
		t.Errorf("cancelled job recorded %d statistics rows", len(stats))
	}
}
