// Package build implements the per-record fan-out of the cube statistics
// stage: dictionary column sampling, the per-row lattice walk feeding
// per-cuboid cardinality sketches, and the signed-key multiplexing of both
// output kinds onto one shuffle channel.
package build

import (
	"github.com/cubeforge/cubeforge/pkg/types"
)

// RecordKind identifies which family a shuffle key belongs to.
type RecordKind int

const (
	// KindColumnSample is a raw distinct-value sample for a dictionary
	// column; key = column ordinal, >= 0.
	KindColumnSample RecordKind = iota

	// KindCuboidSketch is a serialized sketch register buffer for one
	// cuboid; key = -cuboidID, cuboidID > 0.
	KindCuboidSketch

	// KindTotalSketch is the serialized merge of every cuboid sketch of
	// one split; key = -(baseCuboidID + 1).
	KindTotalSketch
)

// Both record kinds share one signed key space with no tag byte. Negation
// separates the column ordinal space from the cuboid id space, and the +1
// offset keeps the split total from colliding with a negated cuboid id
// (base is the largest id, so -(base+1) is below every sketch key).
// Consumers route purely by sign.

// SampleKey returns the shuffle key for a dictionary column sample.
func SampleKey(columnOrdinal int) int64 {
	return int64(columnOrdinal)
}

// SketchKey returns the shuffle key for a cuboid's sketch snapshot.
func SketchKey(id types.CuboidID) int64 {
	return -int64(id)
}

// TotalSketchKey returns the shuffle key for the split's total sketch.
func TotalSketchKey(base types.CuboidID) int64 {
	return -int64(base) - 1
}

// KindOf classifies a shuffle key given the cube's base cuboid.
func KindOf(key int64, base types.CuboidID) RecordKind {
	switch {
	case key >= 0:
		return KindColumnSample
	case key == TotalSketchKey(base):
		return KindTotalSketch
	default:
		return KindCuboidSketch
	}
}

// ColumnOf returns the column ordinal of a sample key. Only meaningful for
// KindColumnSample keys.
func ColumnOf(key int64) int {
	return int(key)
}

// CuboidOf returns the cuboid id of a sketch key. Only meaningful for
// KindCuboidSketch keys.
func CuboidOf(key int64) types.CuboidID {
	return types.CuboidID(-key)
}
