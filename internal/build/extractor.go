package build

import (
	"fmt"

	"github.com/cubeforge/cubeforge/internal/cube"
	"github.com/cubeforge/cubeforge/internal/errors"
	"github.com/cubeforge/cubeforge/internal/shuffle"
	"github.com/cubeforge/cubeforge/pkg/types"
)

// DefaultNullMarker is the field value treated as null in flattened fact
// table input.
const DefaultNullMarker = `\N`

// DistinctValueExtractor emits (column ordinal, raw value bytes) for every
// dictionary-eligible column of a row. Null values are skipped; nothing is
// deduplicated here, that is the downstream dictionary builder's job.
type DistinctValueExtractor struct {
	// pairs of (dimension ordinal, flat-table position)
	columns    [][2]int
	nullMarker string
}

// NewDistinctValueExtractor builds an extractor for the cube's dictionary
// columns.
func NewDistinctValueExtractor(desc *cube.Desc, nullMarker string) *DistinctValueExtractor {
	if nullMarker == "" {
		nullMarker = DefaultNullMarker
	}
	return &DistinctValueExtractor{
		columns:    desc.DictColumnIndexes(),
		nullMarker: nullMarker,
	}
}

// ExtractRow emits one sample per non-null dictionary column value. On a
// malformed row it stops and returns a row-recoverable extraction fault;
// the caller reports it through the error policy and moves to the next
// row.
func (e *DistinctValueExtractor) ExtractRow(row types.FlatRow, out shuffle.Emitter) error {
	for _, col := range e.columns {
		ordinal, pos := col[0], col[1]
		v, ok := row.Field(pos)
		if !ok {
			return errors.NewExtractionError(errors.CodeFieldOutOfRange,
				fmt.Sprintf("dict column %d reads flat position %d, row has %d fields",
					ordinal, pos, len(row)), nil)
		}
		if v == e.nullMarker {
			continue
		}
		if err := out.Emit(shuffle.Record{Key: SampleKey(ordinal), Value: []byte(v)}); err != nil {
			return err
		}
	}
	return nil
}

// ColumnCount returns the number of dictionary-eligible columns.
func (e *DistinctValueExtractor) ColumnCount() int {
	return len(e.columns)
}
