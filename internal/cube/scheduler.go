package cube

import (
	"github.com/cubeforge/cubeforge/pkg/types"
)

// Scheduler supplies the spanning-child relation of the cuboid lattice:
// cuboids derivable from a parent by dropping exactly one participating
// dimension, per a policy that avoids enumerating the full power set twice.
// Implementations must be strictly bit-decreasing (every child clears at
// least one of its parent's bits); the statistics collector tolerates
// DAG-shaped relations but termination depends on that property.
type Scheduler interface {
	SpanningChildren(id types.CuboidID) []types.CuboidID
}

// TreeScheduler spans the lattice as a tree rooted at the base cuboid.
// A child drops one participating bit, restricted to positions below the
// lowest bit the parent has already dropped, so every reachable cuboid is
// generated along exactly one path. Mandatory dimensions are never
// dropped, so the reachable set shrinks to the cuboids a query can
// actually group by.
type TreeScheduler struct {
	base      types.CuboidID
	mandatory types.CuboidID
	dimCount  int
}

// NewTreeScheduler builds a scheduler for the cube's lattice.
func NewTreeScheduler(desc *Desc) *TreeScheduler {
	return &TreeScheduler{
		base:      desc.BaseCuboid(),
		mandatory: desc.MandatoryMask(),
		dimCount:  desc.DimensionCount(),
	}
}

// SpanningChildren returns the cuboids one dimension smaller than id along
// this scheduler's spanning tree. The base cuboid may drop any
// non-mandatory bit; descendants may only drop bits below their lowest
// already-dropped bit.
func (s *TreeScheduler) SpanningChildren(id types.CuboidID) []types.CuboidID {
	if !id.ContainedIn(s.base) {
		return nil
	}

	limit := s.dimCount
	if lowest := id.LowestClearedBit(s.base); lowest >= 0 {
		limit = lowest
	}

	var children []types.CuboidID
	for pos := 0; pos < limit; pos++ {
		if !id.HasBit(pos) || s.mandatory.HasBit(pos) {
			continue
		}
		children = append(children, id.DropBit(pos))
	}
	return children
}

// Base returns the base cuboid of the lattice this scheduler spans.
func (s *TreeScheduler) Base() types.CuboidID {
	return s.base
}
