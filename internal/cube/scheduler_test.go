package cube

import (
	"testing"

	"github.com/cubeforge/cubeforge/pkg/types"
)

func threeDimCube() *Desc {
	d := &Desc{
		Name: "sales",
		Dimensions: []DimensionDesc{
			{Name: "region", ColumnIndex: 0},
			{Name: "product", ColumnIndex: 1},
			{Name: "channel", ColumnIndex: 2},
		},
		DictColumns: []int{0, 1},
	}
	d.ApplyDefaults()
	return d
}

func TestSpanningChildrenOfBase(t *testing.T) {
	s := NewTreeScheduler(threeDimCube())

	children := s.SpanningChildren(0b111)
	want := map[types.CuboidID]bool{0b110: true, 0b101: true, 0b011: true}
	if len(children) != 3 {
		t.Fatalf("base has %d children, want 3: %v", len(children), children)
	}
	for _, c := range children {
		if !want[c] {
			t.Errorf("unexpected child %s", c)
		}
		if c.BitCount() != 2 {
			t.Errorf("child %s did not drop exactly one bit", c)
		}
	}
}

func TestTreeReachesEverySubsetOnce(t *testing.T) {
	s := NewTreeScheduler(threeDimCube())

	visits := make(map[types.CuboidID]int)
	stack := []types.CuboidID{0b111}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visits[cur]++
		stack = append(stack, s.SpanningChildren(cur)...)
	}

	if len(visits) != 8 {
		t.Fatalf("visited %d cuboids, want all 8 subsets", len(visits))
	}
	for id, n := range visits {
		if n != 1 {
			t.Errorf("cuboid %s visited %d times, want exactly once", id, n)
		}
	}
	if visits[0b000] != 1 {
		t.Error("tree must reach the empty cuboid")
	}
}

func TestMandatoryDimensionNeverDropped(t *testing.T) {
	d := threeDimCube()
	d.Dimensions[0].Mandatory = true // owns bit 2
	s := NewTreeScheduler(d)

	seen := make(map[types.CuboidID]bool)
	stack := []types.CuboidID{s.Base()}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		seen[cur] = true
		stack = append(stack, s.SpanningChildren(cur)...)
	}

	// 4 subsets of the two free bits, each with bit 2 held.
	if len(seen) != 4 {
		t.Fatalf("reached %d cuboids, want 4", len(seen))
	}
	for id := range seen {
		if !id.HasBit(2) {
			t.Errorf("cuboid %s dropped a mandatory dimension", id)
		}
	}
}

func TestChildrenStrictlyDecrease(t *testing.T) {
	d := &Desc{Name: "wide", DictColumns: nil}
	for i := 0; i < 10; i++ {
		d.Dimensions = append(d.Dimensions, DimensionDesc{Name: string(rune('a' + i)), ColumnIndex: i})
	}
	d.ApplyDefaults()
	s := NewTreeScheduler(d)

	stack := []types.CuboidID{s.Base()}
	steps := 0
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range s.SpanningChildren(cur) {
			if c.BitCount() != cur.BitCount()-1 {
				t.Fatalf("child %s of %s does not drop exactly one bit", c, cur)
			}
			stack = append(stack, c)
		}
		steps++
		if steps > 1<<11 {
			t.Fatal("walk exceeded the lattice size; scheduler is not a tree")
		}
	}
	if steps != 1<<10 {
		t.Errorf("walked %d cuboids, want %d", steps, 1<<10)
	}
}

func TestForeignCuboidHasNoChildren(t *testing.T) {
	s := NewTreeScheduler(threeDimCube())
	if got := s.SpanningChildren(0b11111); got != nil {
		t.Errorf("cuboid outside the lattice returned children: %v", got)
	}
}
