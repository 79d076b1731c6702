package cube

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubeforge/cubeforge/internal/errors"
	"github.com/cubeforge/cubeforge/internal/sketch"
)

func TestValidateAcceptsWellFormedDesc(t *testing.T) {
	d := threeDimCube()
	require.NoError(t, d.Validate())
	assert.Equal(t, 3, d.DimensionCount())
	assert.Equal(t, uint64(0b111), uint64(d.BaseCuboid()))
	assert.Equal(t, []int{0, 1, 2}, d.RowKeyColumnIndexes())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Desc)
		code   string
	}{
		{"empty name", func(d *Desc) { d.Name = " " }, errors.CodeInvalidCubeDesc},
		{"no dimensions", func(d *Desc) { d.Dimensions = nil }, errors.CodeInvalidCubeDesc},
		{"duplicate dim name", func(d *Desc) { d.Dimensions[1].Name = "region" }, errors.CodeInvalidCubeDesc},
		{"duplicate column", func(d *Desc) { d.Dimensions[1].ColumnIndex = 0 }, errors.CodeInvalidCubeDesc},
		{"negative column", func(d *Desc) { d.Dimensions[2].ColumnIndex = -1 }, errors.CodeInvalidCubeDesc},
		{"dict ordinal out of range", func(d *Desc) { d.DictColumns = []int{7} }, errors.CodeInvalidCubeDesc},
		{"bad precision", func(d *Desc) { d.SketchPrecision = 12 }, errors.CodeInvalidPrecision},
		{"all mandatory", func(d *Desc) {
			for i := range d.Dimensions {
				d.Dimensions[i].Mandatory = true
			}
		}, errors.CodeInvalidCubeDesc},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := threeDimCube()
			tt.mutate(d)
			err := d.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
			assert.False(t, errors.IsRowRecoverable(err), "config faults are fatal")
		})
	}
}

func TestTooManyDimensions(t *testing.T) {
	d := &Desc{Name: "wide"}
	for i := 0; i < 63; i++ {
		d.Dimensions = append(d.Dimensions, DimensionDesc{Name: string(rune('a')) + string(rune('0'+i%10)) + string(rune('0'+i/10)), ColumnIndex: i})
	}
	d.ApplyDefaults()
	require.Error(t, d.Validate())
}

func TestApplyDefaults(t *testing.T) {
	d := &Desc{Name: "x", Dimensions: []DimensionDesc{{Name: "a", ColumnIndex: 0}}}
	d.ApplyDefaults()
	assert.Equal(t, sketch.Precision14, d.SketchPrecision)
}

func TestMandatoryMask(t *testing.T) {
	d := threeDimCube()
	d.Dimensions[0].Mandatory = true // canonical dim 0 owns the highest bit
	assert.Equal(t, uint64(0b100), uint64(d.MandatoryMask()))
}

func TestDictColumnIndexes(t *testing.T) {
	d := threeDimCube()
	d.Dimensions[1].ColumnIndex = 5
	pairs := d.DictColumnIndexes()
	require.Len(t, pairs, 2)
	assert.Equal(t, [2]int{0, 0}, pairs[0])
	assert.Equal(t, [2]int{1, 5}, pairs[1])
}

func TestLoadDescYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cube.yaml")
	content := `
name: sales
dimensions:
  - name: region
    column_index: 0
  - name: product
    column_index: 1
    mandatory: true
dict_columns: [0]
sketch_precision: 16
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	d, err := LoadDesc(path)
	require.NoError(t, err)
	assert.Equal(t, "sales", d.Name)
	assert.Equal(t, 16, d.SketchPrecision)
	assert.True(t, d.Dimensions[1].Mandatory)
}

func TestLoadDescRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cube.toml")
	require.NoError(t, os.WriteFile(path, []byte("name = 'x'"), 0644))
	_, err := LoadDesc(path)
	require.Error(t, err)
}

func TestLoadDescValidatesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cube.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"bad","dimensions":[]}`), 0644))
	_, err := LoadDesc(path)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidCubeDesc, errors.GetCode(err))
}
