package build

import (
	"strings"

	"github.com/cubeforge/cubeforge/internal/cube"
	"github.com/cubeforge/cubeforge/pkg/types"
)

// MissingFieldPlaceholder stands in for a row field the input did not
// supply. A missing value must still occupy its slot in the projection:
// omitting it would shift every later value in the joined sketch key and
// silently corrupt the cuboid's cardinality estimate. NUL cannot appear in
// delimited input, so the placeholder never collides with real data.
const MissingFieldPlaceholder = "\x00"

// KeyDelimiter joins projected values into one opaque sketch key.
const KeyDelimiter = ","

// RowProjector extracts, for a row and a cuboid, the values of exactly the
// dimensions participating in that cuboid, in canonical dimension order.
type RowProjector struct {
	columnIndexes []int
	dimCount      int
	scratch       []string
}

// NewRowProjector builds a projector for the cube's row-key layout.
func NewRowProjector(desc *cube.Desc) *RowProjector {
	return &RowProjector{
		columnIndexes: desc.RowKeyColumnIndexes(),
		dimCount:      desc.DimensionCount(),
		scratch:       make([]string, 0, desc.DimensionCount()),
	}
}

// Project returns one value per bit set in id, scanning dimensions in
// canonical order (dimension 0 owns the highest bit, so the mask walks
// from the top bit down). The returned slice is reused across calls.
//
// The membership test is mask&id != 0. An earlier formulation compared the
// shifted mask against the literal 1, which can only match once the mask
// itself reaches bit zero, under-projecting every cuboid to at most its
// lowest-order dimension; TestProjectCountMatchesBits pins the corrected
// arity.
func (p *RowProjector) Project(row types.FlatRow, id types.CuboidID) []string {
	p.scratch = p.scratch[:0]
	mask := types.CuboidID(1) << uint(p.dimCount-1)
	for i := 0; i < p.dimCount; i++ {
		if mask&id != 0 {
			v, ok := row.Field(p.columnIndexes[i])
			if !ok {
				v = MissingFieldPlaceholder
			}
			p.scratch = append(p.scratch, v)
		}
		mask >>= 1
	}
	return p.scratch
}

// ProjectKey projects the row and joins the values into the opaque key
// added to the cuboid's sketch.
func (p *RowProjector) ProjectKey(row types.FlatRow, id types.CuboidID) string {
	return strings.Join(p.Project(row, id), KeyDelimiter)
}
