// Package cube provides the cube descriptor (row-key dimensions, dictionary
// columns, sketch precision) and the lattice scheduler that enumerates
// spanning children of a cuboid.
package cube

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cubeforge/cubeforge/internal/errors"
	"github.com/cubeforge/cubeforge/internal/sketch"
	"github.com/cubeforge/cubeforge/pkg/types"
)

// DimensionDesc describes one row-key dimension of the cube.
type DimensionDesc struct {
	// Name is the dimension's logical name
	Name string `json:"name" yaml:"name"`

	// ColumnIndex is the dimension's position in the flattened fact table
	ColumnIndex int `json:"column_index" yaml:"column_index"`

	// Mandatory dimensions participate in every materialized cuboid and
	// are never dropped by the scheduler
	Mandatory bool `json:"mandatory,omitempty" yaml:"mandatory,omitempty"`
}

// Desc describes a cube for the statistics stage: the ordered row-key
// dimensions, which of them are dictionary-eligible, and the sketch
// precision used for per-cuboid cardinality estimates.
type Desc struct {
	// Name identifies the cube
	Name string `json:"name" yaml:"name"`

	// Dimensions are the row-key dimensions in canonical order. Dimension 0
	// owns the highest cuboid bit.
	Dimensions []DimensionDesc `json:"dimensions" yaml:"dimensions"`

	// DictColumns lists dimension ordinals (positions in Dimensions) whose
	// raw values are emitted for global dictionary construction
	DictColumns []int `json:"dict_columns" yaml:"dict_columns"`

	// SketchPrecision is the per-cuboid sketch precision (14 or 16;
	// defaults to 14)
	SketchPrecision int `json:"sketch_precision,omitempty" yaml:"sketch_precision,omitempty"`
}

// ApplyDefaults fills zero-valued optional fields.
func (d *Desc) ApplyDefaults() {
	if d.SketchPrecision == 0 {
		d.SketchPrecision = sketch.Precision14
	}
}

// Validate checks the descriptor. Any fault here is fatal to the split
// before a single row is processed.
func (d *Desc) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.NewConfigError(errors.CodeInvalidCubeDesc, "cube name is required")
	}
	n := len(d.Dimensions)
	if n == 0 {
		return errors.NewConfigError(errors.CodeInvalidCubeDesc,
			fmt.Sprintf("cube %s declares no dimensions", d.Name))
	}
	if n > types.MaxDimensions {
		return errors.NewConfigError(errors.CodeInvalidCubeDesc,
			fmt.Sprintf("cube %s declares %d dimensions, max is %d", d.Name, n, types.MaxDimensions))
	}

	seenName := make(map[string]bool, n)
	seenCol := make(map[int]bool, n)
	mandatoryCount := 0
	for i, dim := range d.Dimensions {
		if strings.TrimSpace(dim.Name) == "" {
			return errors.NewConfigError(errors.CodeInvalidCubeDesc,
				fmt.Sprintf("dimension %d has no name", i))
		}
		if seenName[dim.Name] {
			return errors.NewConfigError(errors.CodeInvalidCubeDesc,
				fmt.Sprintf("duplicate dimension name %q", dim.Name))
		}
		seenName[dim.Name] = true
		if dim.ColumnIndex < 0 {
			return errors.NewConfigError(errors.CodeInvalidCubeDesc,
				fmt.Sprintf("dimension %q has negative column index", dim.Name))
		}
		if seenCol[dim.ColumnIndex] {
			return errors.NewConfigError(errors.CodeInvalidCubeDesc,
				fmt.Sprintf("dimensions share flat-table column %d", dim.ColumnIndex))
		}
		seenCol[dim.ColumnIndex] = true
		if dim.Mandatory {
			mandatoryCount++
		}
	}
	if mandatoryCount == n {
		return errors.NewConfigError(errors.CodeInvalidCubeDesc,
			"every dimension is mandatory; the lattice has a single cuboid")
	}

	for _, c := range d.DictColumns {
		if c < 0 || c >= n {
			return errors.NewConfigError(errors.CodeInvalidCubeDesc,
				fmt.Sprintf("dict column ordinal %d out of range [0,%d)", c, n))
		}
	}

	if d.SketchPrecision != sketch.Precision14 && d.SketchPrecision != sketch.Precision16 {
		return errors.NewConfigError(errors.CodeInvalidPrecision,
			fmt.Sprintf("cube %s: unsupported sketch precision %d", d.Name, d.SketchPrecision))
	}
	return nil
}

// DimensionCount returns the number of row-key dimensions.
func (d *Desc) DimensionCount() int {
	return len(d.Dimensions)
}

// BaseCuboid returns the cuboid over all of the cube's dimensions.
func (d *Desc) BaseCuboid() types.CuboidID {
	return types.BaseCuboid(len(d.Dimensions))
}

// RowKeyColumnIndexes returns the flat-table positions of the row-key
// dimensions in canonical order.
func (d *Desc) RowKeyColumnIndexes() []int {
	idx := make([]int, len(d.Dimensions))
	for i, dim := range d.Dimensions {
		idx[i] = dim.ColumnIndex
	}
	return idx
}

// DictColumnIndexes returns (dimension ordinal, flat-table position) pairs
// for every dictionary-eligible column, in declaration order.
func (d *Desc) DictColumnIndexes() [][2]int {
	out := make([][2]int, 0, len(d.DictColumns))
	for _, ord := range d.DictColumns {
		out = append(out, [2]int{ord, d.Dimensions[ord].ColumnIndex})
	}
	return out
}

// MandatoryMask returns the cuboid bits of all mandatory dimensions.
func (d *Desc) MandatoryMask() types.CuboidID {
	var mask types.CuboidID
	n := len(d.Dimensions)
	for i, dim := range d.Dimensions {
		if dim.Mandatory {
			mask |= types.CuboidID(1) << uint(types.DimensionBit(i, n))
		}
	}
	return mask
}

// LoadDesc loads a cube descriptor from a YAML or JSON file, applies
// defaults, and validates it.
func LoadDesc(path string) (*Desc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryConfig, errors.CodeMissingSchema,
			"read cube descriptor", err)
	}

	var d Desc
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, errors.Wrap(errors.ErrCategoryConfig, errors.CodeInvalidCubeDesc,
				"parse YAML cube descriptor", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, errors.Wrap(errors.ErrCategoryConfig, errors.CodeInvalidCubeDesc,
				"parse JSON cube descriptor", err)
		}
	default:
		return nil, errors.NewConfigError(errors.CodeInvalidCubeDesc,
			fmt.Sprintf("unsupported cube descriptor format: %s", ext))
	}

	d.ApplyDefaults()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}
