package runner

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/cubeforge/cubeforge/internal/build"
	"github.com/cubeforge/cubeforge/internal/catalog"
	"github.com/cubeforge/cubeforge/internal/config"
	"github.com/cubeforge/cubeforge/internal/cube"
	"github.com/cubeforge/cubeforge/internal/errors"
	"github.com/cubeforge/cubeforge/internal/metrics"
	"github.com/cubeforge/cubeforge/internal/shuffle"
	"github.com/cubeforge/cubeforge/internal/storage"
	"github.com/cubeforge/cubeforge/pkg/types"
)

// SplitResult is the outcome of one split.
type SplitResult struct {
	SplitID     string
	Rows        int64
	RowErrors   int64
	Records     int64
	ObjectPaths []string
	Err         error
}

// JobReport summarizes a build job.
type JobReport struct {
	JobID    string
	CubeName string
	Splits   []SplitResult
}

// Failed returns the results of splits that did not complete.
func (r *JobReport) Failed() []SplitResult {
	var out []SplitResult
	for _, s := range r.Splits {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Runner executes build jobs for one cube.
type Runner struct {
	cfg      *config.Config
	desc     *cube.Desc
	store    storage.ObjectStorage
	catalog  catalog.Catalog
	registry *metrics.Registry
}

// NewRunner validates the descriptor and assembles a job runner.
func NewRunner(cfg *config.Config, desc *cube.Desc, store storage.ObjectStorage, cat catalog.Catalog) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewConfigError(errors.CodeInvalidCubeDesc, err.Error())
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return &Runner{
		cfg:      cfg,
		desc:     desc,
		store:    store,
		catalog:  cat,
		registry: metrics.NewRegistry(),
	}, nil
}

// Registry exposes the runner's metric registry.
func (r *Runner) Registry() *metrics.Registry {
	return r.registry
}

// RunJob processes every split of a job, at most SplitConcurrency of them
// in parallel. Each split is all-or-nothing: a failed or cancelled split
// publishes no segment and records no statistics, while completed splits
// stand. The report always covers every split; the returned error is the
// first split failure, if any.
func (r *Runner) RunJob(ctx context.Context, splits []Split) (*JobReport, error) {
	jobID := uuid.NewString()
	report := &JobReport{
		JobID:    jobID,
		CubeName: r.desc.Name,
		Splits:   make([]SplitResult, len(splits)),
	}

	log.Printf("runner: job %s: cube %s, %d splits, concurrency %d",
		jobID, r.desc.Name, len(splits), r.cfg.Build.SplitConcurrency)

	sem := semaphore.NewWeighted(int64(r.cfg.Build.SplitConcurrency))
	var wg sync.WaitGroup

	for i, sp := range splits {
		if sp.ID == "" {
			sp.ID = uuid.NewString()
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			report.Splits[i] = SplitResult{SplitID: sp.ID, Err: err}
			continue
		}

		wg.Add(1)
		go func(i int, sp Split) {
			defer sem.Release(1)
			defer wg.Done()
			report.Splits[i] = r.runSplit(ctx, jobID, sp)
		}(i, sp)
	}
	wg.Wait()

	var firstErr error
	for _, s := range report.Splits {
		if s.Err != nil {
			log.Printf("runner: job %s: split %s failed: %v", jobID, s.SplitID, s.Err)
			if firstErr == nil {
				firstErr = s.Err
			}
		}
	}
	if firstErr == nil {
		log.Printf("runner: job %s: all %d splits complete", jobID, len(splits))
	}
	return report, firstErr
}

// runSplit processes one split end to end: row loop, sketch drain, segment
// publish, statistics record. Any failure aborts the staged segment so
// nothing partial becomes visible.
func (r *Runner) runSplit(ctx context.Context, jobID string, sp Split) SplitResult {
	res := SplitResult{SplitID: sp.ID}

	if r.cfg.Build.SplitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Build.SplitTimeout)
		defer cancel()
	}

	src, err := sp.Open()
	if err != nil {
		res.Err = errors.NewInternalError(fmt.Sprintf("open split %s", sp.ID), err)
		return res
	}
	defer src.Close()

	numPartitions := r.cfg.Shuffle.Partitions
	segPaths := make([]string, numPartitions)
	for i := range segPaths {
		name := sp.ID + ".seg"
		if numPartitions > 1 {
			name = fmt.Sprintf("%s-p%02d.seg", sp.ID, i)
		}
		segPaths[i] = filepath.Join(r.cfg.Shuffle.SegmentDir, jobID, name)
	}
	writer, err := shuffle.NewPartitionedWriter(segPaths)
	if err != nil {
		res.Err = err
		return res
	}

	var rowErrors int64
	task, err := build.NewSplitTask(r.desc, nil, writer, build.Options{
		CollectStatistics: r.cfg.Build.CollectStatistics,
		NullMarker:        r.cfg.Build.NullMarker,
		Registry:          r.registry,
		OnRowError: func(row types.FlatRow, err error) {
			rowErrors++
			log.Printf("runner: job %s: split %s: dropped row: %v", jobID, sp.ID, err)
		},
	})
	if err != nil {
		writer.Abort()
		res.Err = err
		return res
	}

	maxRowErrors := int64(r.cfg.Build.MaxRowErrors)
	for {
		if err := ctx.Err(); err != nil {
			writer.Abort()
			res.Err = err
			return res
		}

		row, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			writer.Abort()
			res.Err = errors.NewInternalError(fmt.Sprintf("read split %s", sp.ID), err)
			return res
		}

		if err := task.ProcessRow(row); err != nil {
			writer.Abort()
			res.Err = err
			return res
		}
		res.Rows++

		if maxRowErrors >= 0 && rowErrors > maxRowErrors {
			writer.Abort()
			res.Err = errors.New(errors.ErrCategoryInternal, errors.CodeUnexpected,
				fmt.Sprintf("split %s exceeded %d row errors", sp.ID, maxRowErrors))
			return res
		}
	}
	res.RowErrors = rowErrors

	if err := task.Cleanup(ctx); err != nil {
		writer.Abort()
		res.Err = err
		return res
	}
	res.Records = int64(writer.Count())

	if err := writer.Close(); err != nil {
		res.Err = err
		return res
	}

	// Publish every partition, register the segments, then record the
	// split's statistics. A failure anywhere rolls the whole split back:
	// uploaded objects are deleted and the split's catalog rows removed,
	// so neither the store nor the catalog references a failed split.
	objectPaths := make([]string, 0, numPartitions)
	for i, sw := range writer.Writers() {
		objectPath := path.Join("jobs", jobID, filepath.Base(sw.Path()))
		if err := r.store.Put(ctx, sw.Path(), objectPath); err != nil {
			r.rollbackSplit(jobID, sp.ID, objectPaths, segPaths)
			res.Err = errors.NewStorageError(errors.CodePublishFailed,
				fmt.Sprintf("publish partition %d of split %s", i, sp.ID), err)
			return res
		}
		objectPaths = append(objectPaths, objectPath)
	}

	for i, sw := range writer.Writers() {
		var sizeBytes int64
		if info, err := os.Stat(sw.Path()); err == nil {
			sizeBytes = info.Size()
		}
		if err := r.catalog.RegisterSegment(ctx, &catalog.SegmentRecord{
			JobID:       jobID,
			SplitID:     sp.ID,
			Partition:   i,
			ObjectPath:  objectPaths[i],
			RecordCount: int64(sw.Count()),
			SizeBytes:   sizeBytes,
		}); err != nil {
			r.rollbackSplit(jobID, sp.ID, objectPaths, segPaths)
			res.Err = err
			return res
		}
	}

	if task.StatisticsEnabled() {
		if err := r.recordStats(ctx, jobID, sp.ID, task); err != nil {
			r.rollbackSplit(jobID, sp.ID, objectPaths, segPaths)
			res.Err = err
			return res
		}
	}

	res.ObjectPaths = objectPaths
	for _, local := range segPaths {
		os.Remove(local)
	}

	log.Printf("runner: job %s: split %s: %d rows, %d records published",
		jobID, sp.ID, res.Rows, res.Records)
	return res
}

// rollbackSplit undoes a partially published split: uploaded objects and
// staged local segments are removed and the split's catalog rows cleared.
// It runs on a fresh context so a split failed by cancellation or timeout
// can still clean up after itself.
func (r *Runner) rollbackSplit(jobID, splitID string, objectPaths, segPaths []string) {
	ctx := context.Background()
	for _, objectPath := range objectPaths {
		if err := r.store.Delete(ctx, objectPath); err != nil {
			log.Printf("runner: job %s: split %s: rollback of object %s failed: %v",
				jobID, splitID, objectPath, err)
		}
	}
	for _, local := range segPaths {
		os.Remove(local)
	}
	if err := r.catalog.DeleteSplit(ctx, jobID, splitID); err != nil {
		log.Printf("runner: job %s: split %s: rollback of catalog rows failed: %v",
			jobID, splitID, err)
	}
}

// recordStats writes the split's per-cuboid estimates and registers, plus
// the split total, to the catalog.
func (r *Runner) recordStats(ctx context.Context, jobID, splitID string, task *build.SplitTask) error {
	sketches := task.Collector().Sketches()
	stats := make([]catalog.CuboidStat, 0, len(sketches)+1)

	for id, sk := range sketches {
		registers, err := sk.Registers()
		if err != nil {
			return err
		}
		stats = append(stats, catalog.CuboidStat{
			CuboidID:  id,
			Estimate:  int64(sk.Estimate()),
			Registers: registers,
		})
	}

	total := task.TotalSketch()
	registers, err := total.Registers()
	if err != nil {
		return err
	}
	stats = append(stats, catalog.CuboidStat{
		CuboidID:  r.desc.BaseCuboid(),
		IsTotal:   true,
		Estimate:  int64(total.Estimate()),
		Registers: registers,
	})

	return r.catalog.RecordSplitStats(ctx, jobID, splitID, stats)
}
