package build

import (
	"testing"

	"github.com/cubeforge/cubeforge/pkg/types"
)

func TestKeyFamiliesDisjoint(t *testing.T) {
	base := types.BaseCuboid(3)

	for c := 0; c < 16; c++ {
		for g := types.CuboidID(1); g <= base; g++ {
			if SampleKey(c) == SketchKey(g) {
				t.Errorf("sample key %d collides with sketch key for %s", c, g)
			}
			if SampleKey(c) == TotalSketchKey(base) {
				t.Errorf("sample key %d collides with total key", c)
			}
			if SketchKey(g) == TotalSketchKey(base) {
				t.Errorf("sketch key for %s collides with total key", g)
			}
		}
	}
}

func TestKindOfRoutesBySign(t *testing.T) {
	base := types.BaseCuboid(3) // 0b111

	if got := KindOf(SampleKey(0), base); got != KindColumnSample {
		t.Errorf("key 0 classified %v, want column sample", got)
	}
	if got := KindOf(SampleKey(41), base); got != KindColumnSample {
		t.Errorf("positive key classified %v, want column sample", got)
	}
	if got := KindOf(SketchKey(0b101), base); got != KindCuboidSketch {
		t.Errorf("sketch key classified %v", got)
	}
	if got := KindOf(TotalSketchKey(base), base); got != KindTotalSketch {
		t.Errorf("total key classified %v", got)
	}
	// The base cuboid's own sketch key is one above the total key.
	if got := KindOf(SketchKey(base), base); got != KindCuboidSketch {
		t.Errorf("base sketch key classified %v", got)
	}
}

func TestKeyRoundTrips(t *testing.T) {
	if ColumnOf(SampleKey(7)) != 7 {
		t.Error("column ordinal round trip failed")
	}
	if CuboidOf(SketchKey(0b1101)) != 0b1101 {
		t.Error("cuboid id round trip failed")
	}
}

func TestTotalKeyBelowEverySketchKey(t *testing.T) {
	base := types.BaseCuboid(types.MaxDimensions)
	total := TotalSketchKey(base)
	if total >= 0 {
		t.Fatal("total key must be negative")
	}
	if total != -int64(base)-1 {
		t.Errorf("total key = %d, want %d", total, -int64(base)-1)
	}
	for g := types.CuboidID(1); g <= 8; g++ {
		if SketchKey(base-g) <= total {
			t.Errorf("sketch key %d not above total key %d", SketchKey(base-g), total)
		}
	}
}
