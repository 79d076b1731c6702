package build

import (
	"fmt"

	"github.com/cubeforge/cubeforge/internal/cube"
	"github.com/cubeforge/cubeforge/internal/errors"
	"github.com/cubeforge/cubeforge/internal/metrics"
	"github.com/cubeforge/cubeforge/internal/sketch"
	"github.com/cubeforge/cubeforge/pkg/types"
)

// Metric names recorded by the statistics collector.
const (
	MetricCuboidVisits    = "stats.cuboid_visits"
	MetricInvalidChildren = "stats.invalid_children"
	MetricRowsCollected   = "stats.rows_collected"
	MetricRowsSkipped     = "stats.rows_skipped"
)

// StatsCollector maintains one cardinality sketch per cuboid reachable
// from the base cuboid along the scheduler's spanning relation, updated
// once per row. It is exclusively owned by one split and holds no locks.
type StatsCollector struct {
	projector *RowProjector
	scheduler cube.Scheduler
	base      types.CuboidID
	precision int

	sketches map[types.CuboidID]*sketch.HyperLogLog

	// Per-row walk state, reused across rows. The walk is an explicit
	// work list with a visited set: depth is bounded regardless of
	// dimension count and a DAG-shaped scheduler relation cannot update
	// the same sketch twice for one row.
	stack   []types.CuboidID
	visited map[types.CuboidID]bool

	registry *metrics.Registry
}

// NewStatsCollector builds a collector for the cube using the supplied
// spanning relation.
func NewStatsCollector(desc *cube.Desc, scheduler cube.Scheduler, registry *metrics.Registry) *StatsCollector {
	return &StatsCollector{
		projector: NewRowProjector(desc),
		scheduler: scheduler,
		base:      desc.BaseCuboid(),
		precision: desc.SketchPrecision,
		sketches:  make(map[types.CuboidID]*sketch.HyperLogLog),
		visited:   make(map[types.CuboidID]bool),
		registry:  registry,
	}
}

// CollectRow walks the lattice from the base cuboid and adds the row's
// projection to every visited cuboid's sketch. A fault here skips the row
// for statistics purposes only; the caller keeps processing rows.
func (c *StatsCollector) CollectRow(row types.FlatRow) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewInternalError(
				fmt.Sprintf("lattice walk panicked: %v", r), nil)
		}
	}()

	visits := c.registry.Counter(MetricCuboidVisits)
	invalid := c.registry.Counter(MetricInvalidChildren)

	clear(c.visited)
	c.stack = append(c.stack[:0], c.base)

	for len(c.stack) > 0 {
		cur := c.stack[len(c.stack)-1]
		c.stack = c.stack[:len(c.stack)-1]
		if c.visited[cur] {
			continue
		}
		c.visited[cur] = true
		visits.Inc()

		sk, ok := c.sketches[cur]
		if !ok {
			sk = sketch.MustNew(c.precision)
			c.sketches[cur] = sk
		}
		sk.AddString(c.projector.ProjectKey(row, cur))

		for _, child := range c.scheduler.SpanningChildren(cur) {
			// A child that does not strictly shrink its parent would
			// break the termination bound; drop it and count it.
			if child == cur || !child.ContainedIn(cur) {
				invalid.Inc()
				continue
			}
			c.stack = append(c.stack, child)
		}
	}
	return nil
}

// Sketch returns the sketch for a cuboid, or nil if it was never visited.
func (c *StatsCollector) Sketch(id types.CuboidID) *sketch.HyperLogLog {
	return c.sketches[id]
}

// Sketches returns the per-cuboid sketch table.
func (c *StatsCollector) Sketches() map[types.CuboidID]*sketch.HyperLogLog {
	return c.sketches
}

// Base returns the base cuboid the walk starts from.
func (c *StatsCollector) Base() types.CuboidID {
	return c.base
}
