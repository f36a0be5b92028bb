package geometry

import (
	"math"
	"testing"

	"github.com/fieldvision/region-analyzer/pkg/types"
)

func unitSquare() []types.Point {
	return []types.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
}

func TestPolygonArea(t *testing.T) {
	tests := []struct {
		name   string
		points []types.Point
		want   float64
	}{
		{"unit square", unitSquare(), 1.0},
		{"right triangle", []types.Point{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 0, Y: 3}}, 6.0},
		{"two points", []types.Point{{X: 0, Y: 0}, {X: 4, Y: 0}}, 0.0},
		{"empty", nil, 0.0},
	}

	for _, tt := range tests {
		if got := PolygonArea(tt.points); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: PolygonArea = %f, want %f", tt.name, got, tt.want)
		}
	}
}

func TestPolygonAreaRotationInvariant(t *testing.T) {
	points := []types.Point{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 5, Y: 3}, {X: 2, Y: 5}, {X: -1, Y: 2}}
	want := PolygonArea(points)

	for shift := 1; shift < len(points); shift++ {
		rotated := append(append([]types.Point{}, points[shift:]...), points[:shift]...)
		if got := PolygonArea(rotated); math.Abs(got-want) > 1e-9 {
			t.Errorf("rotation by %d: PolygonArea = %f, want %f", shift, got, want)
		}
	}
}

func TestPolygonAreaWindingInvariant(t *testing.T) {
	points := []types.Point{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 5, Y: 3}, {X: 2, Y: 5}}
	reversed := make([]types.Point, len(points))
	for i, p := range points {
		reversed[len(points)-1-i] = p
	}

	if cw, ccw := PolygonArea(points), PolygonArea(reversed); math.Abs(cw-ccw) > 1e-9 {
		t.Errorf("winding changed area: %f vs %f", cw, ccw)
	}
}

func TestPointInPolygon(t *testing.T) {
	square := unitSquare()

	if !PointInPolygon(types.Point{X: 0.5, Y: 0.5}, square) {
		t.Error("expected (0.5,0.5) inside unit square")
	}
	if PointInPolygon(types.Point{X: 2, Y: 2}, square) {
		t.Error("expected (2,2) outside unit square")
	}
	if PointInPolygon(types.Point{X: 0.5, Y: 0.5}, nil) {
		t.Error("expected false for empty polygon")
	}
}

func TestPointInPolygonConcave(t *testing.T) {
	// L-shape: the notch at the top right is outside.
	l := []types.Point{
		{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 2}, {X: 2, Y: 2}, {X: 2, Y: 4}, {X: 0, Y: 4},
	}

	if !PointInPolygon(types.Point{X: 1, Y: 3}, l) {
		t.Error("expected (1,3) inside L-shape")
	}
	if PointInPolygon(types.Point{X: 3, Y: 3}, l) {
		t.Error("expected (3,3) in the notch to be outside")
	}
}

func TestSimplifyPolygon(t *testing.T) {
	points := []types.Point{
		{X: 0, Y: 0}, {X: 1, Y: 0.1}, {X: 2, Y: -0.1}, {X: 3, Y: 5}, {X: 4, Y: 6}, {X: 5, Y: 7}, {X: 6, Y: 8.1}, {X: 7, Y: 9},
	}

	// Zero tolerance keeps every point that is off the chord.
	unchanged := SimplifyPolygon(points, 0)
	if len(unchanged) != len(points) {
		t.Errorf("tolerance=0: got %d points, want %d", len(unchanged), len(points))
	}
	for i := range points {
		if math.Abs(unchanged[i].X-points[i].X) > 1e-9 || math.Abs(unchanged[i].Y-points[i].Y) > 1e-9 {
			t.Errorf("tolerance=0: point %d changed: %v -> %v", i, points[i], unchanged[i])
		}
	}

	// A huge tolerance collapses to the endpoints.
	collapsed := SimplifyPolygon(points, 1000)
	if len(collapsed) != 2 {
		t.Fatalf("large tolerance: got %d points, want 2", len(collapsed))
	}
	if collapsed[0] != points[0] || collapsed[1] != points[len(points)-1] {
		t.Errorf("large tolerance: got endpoints %v, %v", collapsed[0], collapsed[1])
	}
}

func TestSimplifyPolygonShortInput(t *testing.T) {
	two := []types.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}
	if got := SimplifyPolygon(two, 5); len(got) != 2 {
		t.Errorf("two points should pass through, got %d", len(got))
	}
}

func TestSimplifyPolygonModerateTolerance(t *testing.T) {
	// Small wiggles under the tolerance disappear, the corner survives.
	points := []types.Point{
		{X: 0, Y: 0}, {X: 1, Y: 0.2}, {X: 2, Y: 0}, {X: 3, Y: 0.1}, {X: 4, Y: 0}, {X: 4, Y: 4},
	}
	got := SimplifyPolygon(points, 0.5)
	if len(got) >= len(points) {
		t.Errorf("expected simplification, got %d of %d points", len(got), len(points))
	}

	foundCorner := false
	for _, p := range got {
		if p.X == 4 && p.Y == 0 {
			foundCorner = true
		}
	}
	if !foundCorner {
		t.Error("expected the corner (4,0) to survive simplification")
	}
}

func TestDescribeRegion(t *testing.T) {
	region := types.Region{
		ID:     7,
		Name:   "leaf",
		Points: []types.Point{{X: 10, Y: 10}, {X: 30, Y: 10}, {X: 30, Y: 30}, {X: 10, Y: 30}},
	}

	d := DescribeRegion(region, 100, 200)

	if d.ID != 7 || d.Name != "leaf" || d.PointCount != 4 {
		t.Errorf("identity fields wrong: %+v", d)
	}
	if math.Abs(d.Area-400) > 1e-9 {
		t.Errorf("Area = %f, want 400", d.Area)
	}
	if math.Abs(d.RelativeArea-400.0/20000.0) > 1e-9 {
		t.Errorf("RelativeArea = %f", d.RelativeArea)
	}
	if d.BBox != (types.BBox{XMin: 10, YMin: 10, XMax: 30, YMax: 30}) {
		t.Errorf("BBox = %+v", d.BBox)
	}
	if d.Center != (types.Point{X: 20, Y: 20}) {
		t.Errorf("Center = %+v", d.Center)
	}
	if d.RelativeCenter != (types.Point{X: 0.2, Y: 0.1}) {
		t.Errorf("RelativeCenter = %+v", d.RelativeCenter)
	}
	if d.RelativeCenter.X < 0 || d.RelativeCenter.X > 1 || d.RelativeCenter.Y < 0 || d.RelativeCenter.Y > 1 {
		t.Errorf("relative center out of [0,1] for in-bounds points: %+v", d.RelativeCenter)
	}
}

func TestDescribeRegionsSkipsInvalid(t *testing.T) {
	regions := []types.Region{
		{ID: 1, Points: []types.Point{{X: 0, Y: 0}}},
		{ID: 2, Points: []types.Point{{X: 0, Y: 0}, {X: 5, Y: 5}}},
		{ID: 3, Points: []types.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}}},
	}

	got := DescribeRegions(regions, 100, 100)
	if len(got) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(got))
	}
	if got[0].ID != 3 {
		t.Errorf("expected region 3 to survive, got %d", got[0].ID)
	}
}

func TestRasterizeMask(t *testing.T) {
	square := []types.Point{{X: 2, Y: 2}, {X: 7, Y: 2}, {X: 7, Y: 7}, {X: 2, Y: 7}}
	mask := RasterizeMask(square, 10, 10)

	if len(mask) != 10 || len(mask[0]) != 10 {
		t.Fatalf("mask dimensions %dx%d, want 10x10", len(mask), len(mask[0]))
	}
	if mask[4][4] != 1 {
		t.Error("interior pixel (4,4) not filled")
	}
	if mask[2][2] != 1 || mask[7][7] != 1 {
		t.Error("outline pixels not filled")
	}
	if mask[0][0] != 0 || mask[9][9] != 0 {
		t.Error("exterior pixels filled")
	}
}

func TestRasterizeMaskDegenerate(t *testing.T) {
	mask := RasterizeMask([]types.Point{{X: 1, Y: 1}, {X: 5, Y: 5}}, 8, 8)
	for y := range mask {
		for x := range mask[y] {
			if mask[y][x] != 0 {
				t.Fatalf("expected all-zero mask for <3 points, pixel (%d,%d) set", x, y)
			}
		}
	}
}

func BenchmarkPolygonArea(b *testing.B) {
	points := make([]types.Point, 1000)
	for i := range points {
		angle := float64(i) / 1000 * 2 * math.Pi
		points[i] = types.Point{X: 500 + 400*math.Cos(angle), Y: 500 + 400*math.Sin(angle)}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		PolygonArea(points)
	}
}

func BenchmarkSimplifyPolygon(b *testing.B) {
	points := make([]types.Point, 1000)
	for i := range points {
		angle := float64(i) / 1000 * 2 * math.Pi
		points[i] = types.Point{X: 500 + 400*math.Cos(angle), Y: 500 + 400*math.Sin(angle)}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		SimplifyPolygon(points, 2.0)
	}
}
