// Package types provides core data types for Cubeforge.
package types

import (
	"fmt"
	"math/bits"
	"strconv"
)

// MaxDimensions is the largest number of row-key dimensions a cube may
// declare. The signed shuffle key space must hold -(baseCuboid+1), so the
// base cuboid id has to fit in an int64 with one bit to spare.
const MaxDimensions = 62

// CuboidID identifies a cuboid as a bitmask over the cube's row-key
// dimensions: bit i set means dimension with bit position i participates.
// Row-key column 0 maps to the highest participating bit, matching the
// canonical dimension order used for projection.
type CuboidID uint64

// BaseCuboid returns the cuboid over all dimCount dimensions (all bits set).
func BaseCuboid(dimCount int) CuboidID {
	if dimCount <= 0 || dimCount > MaxDimensions {
		return 0
	}
	return CuboidID(1)<<uint(dimCount) - 1
}

// DimensionBit returns the bit position of row-key column dim in a cube
// with dimCount dimensions. Column 0 owns the highest bit.
func DimensionBit(dim, dimCount int) int {
	return dimCount - 1 - dim
}

// HasBit reports whether the bit at position pos participates.
func (c CuboidID) HasBit(pos int) bool {
	return c&(CuboidID(1)<<uint(pos)) != 0
}

// DropBit returns the cuboid with the bit at position pos cleared.
func (c CuboidID) DropBit(pos int) CuboidID {
	return c &^ (CuboidID(1) << uint(pos))
}

// BitCount returns the number of participating dimensions.
func (c CuboidID) BitCount() int {
	return bits.OnesCount64(uint64(c))
}

// LowestClearedBit returns the position of the lowest bit that is set in
// base but cleared in c, or -1 if c == base. It bounds which bits the tree
// scheduler may still drop.
func (c CuboidID) LowestClearedBit(base CuboidID) int {
	dropped := uint64(base &^ c)
	if dropped == 0 {
		return -1
	}
	return bits.TrailingZeros64(dropped)
}

// ContainedIn reports whether every dimension of c also participates in
// parent.
func (c CuboidID) ContainedIn(parent CuboidID) bool {
	return c&^parent == 0
}

// String renders the cuboid as a binary mask, e.g. "0b111".
func (c CuboidID) String() string {
	return "0b" + strconv.FormatUint(uint64(c), 2)
}

// ParseCuboidID parses a cuboid id from its decimal representation.
func ParseCuboidID(s string) (CuboidID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cuboid id %q: %w", s, err)
	}
	return CuboidID(v), nil
}
