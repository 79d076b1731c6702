package build

import (
	"context"
	"log"
	"sort"

	"github.com/cubeforge/cubeforge/internal/cube"
	"github.com/cubeforge/cubeforge/internal/errors"
	"github.com/cubeforge/cubeforge/internal/metrics"
	"github.com/cubeforge/cubeforge/internal/sketch"
	"github.com/cubeforge/cubeforge/internal/shuffle"
	"github.com/cubeforge/cubeforge/pkg/types"
)

// Metric names recorded by the split task.
const (
	MetricRowsProcessed    = "task.rows_processed"
	MetricExtractionFaults = "task.extraction_faults"
	MetricSamplesEmitted   = "task.samples_emitted"
	MetricSketchesEmitted  = "task.sketches_emitted"
)

// RowErrorHandler receives row-recoverable faults. It must not block long:
// it runs on the row hot path.
type RowErrorHandler func(row types.FlatRow, err error)

// Options configures a split task.
type Options struct {
	// CollectStatistics toggles the lattice walk. Sampling always runs.
	CollectStatistics bool

	// NullMarker is the field value treated as null (default `\N`).
	NullMarker string

	// Registry receives task counters and timers. Required.
	Registry *metrics.Registry

	// OnRowError handles row-recoverable faults. Defaults to logging.
	OnRowError RowErrorHandler
}

// SplitTask processes one split of the flattened fact table: every row
// goes through the dictionary sampler, and through the lattice statistics
// collector when enabled. Cleanup drains the sketch table onto the shuffle.
// A task is used by exactly one goroutine and is discarded after Cleanup.
type SplitTask struct {
	desc      *cube.Desc
	out       shuffle.Emitter
	extractor *DistinctValueExtractor
	stats     *StatsCollector
	total     *sketch.HyperLogLog

	registry   *metrics.Registry
	onRowError RowErrorHandler
	cleaned    bool
}

// NewSplitTask validates the descriptor and allocates the task's state.
// Any fault here aborts the split before a row is processed: a
// half-initialized task would emit partial statistics that downstream
// merges would treat as complete.
func NewSplitTask(desc *cube.Desc, scheduler cube.Scheduler, out shuffle.Emitter, opts Options) (*SplitTask, error) {
	if desc == nil {
		return nil, errors.NewConfigError(errors.CodeMissingSchema, "cube descriptor is required")
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.NewConfigError(errors.CodeInvalidCubeDesc, "shuffle emitter is required")
	}
	if opts.Registry == nil {
		opts.Registry = metrics.NewRegistry()
	}
	if opts.OnRowError == nil {
		opts.OnRowError = func(row types.FlatRow, err error) {
			log.Printf("build: dropped row from statistics: %v", err)
		}
	}

	t := &SplitTask{
		desc:       desc,
		out:        out,
		extractor:  NewDistinctValueExtractor(desc, opts.NullMarker),
		registry:   opts.Registry,
		onRowError: opts.OnRowError,
	}

	if opts.CollectStatistics {
		if scheduler == nil {
			scheduler = cube.NewTreeScheduler(desc)
		}
		total, err := sketch.New(desc.SketchPrecision)
		if err != nil {
			return nil, err
		}
		t.stats = NewStatsCollector(desc, scheduler, opts.Registry)
		t.total = total
	}
	return t, nil
}

// ProcessRow runs the sampler and, when enabled, the statistics collector
// for one row. Row-recoverable faults go to the error handler and the next
// row proceeds; anything else (a failing shuffle channel) is fatal to the
// split.
func (t *SplitTask) ProcessRow(row types.FlatRow) error {
	if t.cleaned {
		return errors.NewInternalError("process row after cleanup", nil)
	}
	scope := t.registry.StartScope("task.row")
	defer scope.Close()

	t.registry.Counter(MetricRowsProcessed).Inc()

	if err := t.extractor.ExtractRow(row, t.countingEmitter()); err != nil {
		if !errors.IsRowRecoverable(err) {
			return err
		}
		t.registry.Counter(MetricExtractionFaults).Inc()
		t.onRowError(row, err)
	}

	if t.stats != nil {
		if err := t.stats.CollectRow(row); err != nil {
			t.registry.Counter(MetricRowsSkipped).Inc()
			t.onRowError(row, err)
		} else {
			t.registry.Counter(MetricRowsCollected).Inc()
		}
	}
	return nil
}

// Cleanup drains the sketch table: every per-cuboid sketch is merged into
// the split total and emitted under its negated cuboid id, then the total
// goes out under -(base+1). The drain either completes in full or the
// caller discards the split's staged output; a partial drain must never
// become visible downstream.
func (t *SplitTask) Cleanup(ctx context.Context) error {
	if t.cleaned {
		return errors.NewInternalError("cleanup ran twice", nil)
	}
	t.cleaned = true

	if t.stats == nil {
		return nil
	}

	scope := t.registry.StartScope("task.cleanup")
	defer scope.Close()

	sketches := t.stats.Sketches()
	ids := make([]types.CuboidID, 0, len(sketches))
	for id := range sketches {
		ids = append(ids, id)
	}
	// Deterministic emission order; map iteration is not.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	emitted := t.registry.Counter(MetricSketchesEmitted)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		sk := sketches[id]
		if err := t.total.Merge(sk); err != nil {
			return err
		}
		// The empty cuboid has no representable key: -0 would collide
		// with column 0. Its single-group estimate still counts toward
		// the split total.
		if id == 0 {
			continue
		}
		registers, err := sk.Registers()
		if err != nil {
			return err
		}
		if err := t.out.Emit(shuffle.Record{Key: SketchKey(id), Value: registers}); err != nil {
			return err
		}
		emitted.Inc()
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	registers, err := t.total.Registers()
	if err != nil {
		return err
	}
	if err := t.out.Emit(shuffle.Record{Key: TotalSketchKey(t.desc.BaseCuboid()), Value: registers}); err != nil {
		return err
	}
	emitted.Inc()
	return nil
}

// StatisticsEnabled reports whether the lattice walk runs for this task.
func (t *SplitTask) StatisticsEnabled() bool {
	return t.stats != nil
}

// Collector exposes the statistics collector, or nil when disabled.
func (t *SplitTask) Collector() *StatsCollector {
	return t.stats
}

// TotalSketch returns the split-wide merged sketch. It is complete only
// after Cleanup; nil when statistics are disabled.
func (t *SplitTask) TotalSketch() *sketch.HyperLogLog {
	return t.total
}

// countingEmitter wraps the task emitter to count emitted samples.
func (t *SplitTask) countingEmitter() shuffle.Emitter {
	return emitterFunc(func(rec shuffle.Record) error {
		if err := t.out.Emit(rec); err != nil {
			return err
		}
		t.registry.Counter(MetricSamplesEmitted).Inc()
		return nil
	})
}

type emitterFunc func(shuffle.Record) error

func (f emitterFunc) Emit(rec shuffle.Record) error {
	return f(rec)
}
