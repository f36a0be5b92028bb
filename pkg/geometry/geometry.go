// Package geometry provides pure polygon math over point sequences: area,
// containment, simplification, mask rasterization and derived region
// descriptors. All functions treat the input sequence as a closed polygon
// (the last point connects back to the first) and have no side effects.
package geometry

import (
	"math"
	"sort"

	"github.com/fieldvision/region-analyzer/pkg/types"
)

// PolygonArea computes the area of a closed polygon using the shoelace
// formula. The result is an absolute value, so it is insensitive to winding
// direction and invariant under cyclic rotation of the vertex list. Fewer
// than three points yield 0.
func PolygonArea(points []types.Point) float64 {
	if len(points) < 3 {
		return 0
	}

	area := 0.0
	n := len(points)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		area += points[i].X * points[j].Y
		area -= points[j].X * points[i].Y
	}
	return math.Abs(area) / 2
}

// PointInPolygon reports whether p lies inside the polygon using a
// horizontal-ray parity test. The polygon is closed implicitly. Degenerate
// or self-intersecting polygons give ray casting's standard parity result.
func PointInPolygon(p types.Point, polygon []types.Point) bool {
	n := len(polygon)
	if n == 0 {
		return false
	}

	inside := false
	p1 := polygon[0]
	for i := 1; i <= n; i++ {
		p2 := polygon[i%n]
		if p.Y > math.Min(p1.Y, p2.Y) && p.Y <= math.Max(p1.Y, p2.Y) && p.X <= math.Max(p1.X, p2.X) {
			var xIntersect float64
			if p1.Y != p2.Y {
				xIntersect = (p.Y-p1.Y)*(p2.X-p1.X)/(p2.Y-p1.Y) + p1.X
			}
			if p1.X == p2.X || p.X <= xIntersect {
				inside = !inside
			}
		}
		p1 = p2
	}
	return inside
}

// SimplifyPolygon reduces the vertex count of a point sequence with the
// Ramer-Douglas-Peucker algorithm: the point farthest from the chord between
// the span's endpoints is kept when its perpendicular distance exceeds
// tolerance, and both sub-spans are simplified recursively; otherwise the
// span collapses to its endpoints. Sequences of length <= 2 are returned
// unchanged.
func SimplifyPolygon(points []types.Point, tolerance float64) []types.Point {
	if len(points) <= 2 {
		return points
	}
	return douglasPeucker(points, tolerance)
}

func douglasPeucker(points []types.Point, epsilon float64) []types.Point {
	if len(points) <= 2 {
		return points
	}

	end := len(points) - 1
	maxDistance := 0.0
	index := 0
	for i := 1; i < end; i++ {
		d := perpendicularDistance(points[i], points[0], points[end])
		if d > maxDistance {
			index = i
			maxDistance = d
		}
	}

	if maxDistance > epsilon {
		left := douglasPeucker(points[:index+1], epsilon)
		right := douglasPeucker(points[index:], epsilon)
		return append(left[:len(left)-1:len(left)-1], right...)
	}
	return []types.Point{points[0], points[end]}
}

// perpendicularDistance is the distance from p to the line through a and b.
// When a and b coincide the segment is degenerate and the Euclidean distance
// to a is used instead.
func perpendicularDistance(p, a, b types.Point) float64 {
	if a == b {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}

	A := b.Y - a.Y
	B := a.X - b.X
	C := b.X*a.Y - a.X*b.Y
	return math.Abs(A*p.X+B*p.Y+C) / math.Sqrt(A*A+B*B)
}

// DescribeRegion derives a RegionDescriptor for a region against the given
// image dimensions. The center is the arithmetic mean of the vertex
// coordinates, not the polygon centroid. Relative values are not clamped;
// out-of-image points produce relative values outside [0,1].
func DescribeRegion(region types.Region, imageWidth, imageHeight int) types.RegionDescriptor {
	points := region.Points

	bbox := types.BBox{XMin: points[0].X, YMin: points[0].Y, XMax: points[0].X, YMax: points[0].Y}
	sumX, sumY := 0.0, 0.0
	for _, p := range points {
		bbox.XMin = math.Min(bbox.XMin, p.X)
		bbox.YMin = math.Min(bbox.YMin, p.Y)
		bbox.XMax = math.Max(bbox.XMax, p.X)
		bbox.YMax = math.Max(bbox.YMax, p.Y)
		sumX += p.X
		sumY += p.Y
	}

	n := float64(len(points))
	center := types.Point{X: sumX / n, Y: sumY / n}
	area := PolygonArea(points)

	return types.RegionDescriptor{
		ID:           region.ID,
		Name:         region.Name,
		Points:       points,
		Area:         area,
		RelativeArea: area / (float64(imageWidth) * float64(imageHeight)),
		BBox:         bbox,
		Center:       center,
		RelativeCenter: types.Point{
			X: center.X / float64(imageWidth),
			Y: center.Y / float64(imageHeight),
		},
		PointCount: len(points),
	}
}

// DescribeRegions derives descriptors for every valid region. Regions with
// fewer than three points are silently skipped, so the result may be shorter
// than the input. Descriptors are recomputed on every call, never cached.
func DescribeRegions(regions []types.Region, imageWidth, imageHeight int) []types.RegionDescriptor {
	descriptors := make([]types.RegionDescriptor, 0, len(regions))
	for _, region := range regions {
		if !region.Valid() {
			continue
		}
		descriptors = append(descriptors, DescribeRegion(region, imageWidth, imageHeight))
	}
	return descriptors
}

// RasterizeMask fills the polygon (outline and interior) into a zeroed
// height-by-width grid. Point coordinates are truncated to integers before
// filling. Fewer than three points yield an all-zero mask.
func RasterizeMask(points []types.Point, imageWidth, imageHeight int) [][]uint8 {
	mask := make([][]uint8, imageHeight)
	for y := range mask {
		mask[y] = make([]uint8, imageWidth)
	}
	if len(points) < 3 {
		return mask
	}

	poly := make([]types.Point, len(points))
	for i, p := range points {
		poly[i] = types.Point{X: float64(int(p.X)), Y: float64(int(p.Y))}
	}

	// Interior: even-odd scanline fill through pixel centers.
	for y := 0; y < imageHeight; y++ {
		scan := float64(y) + 0.5
		var xs []float64
		n := len(poly)
		for i := 0; i < n; i++ {
			a, b := poly[i], poly[(i+1)%n]
			if (a.Y <= scan) == (b.Y <= scan) {
				continue
			}
			xs = append(xs, a.X+(scan-a.Y)*(b.X-a.X)/(b.Y-a.Y))
		}
		sort.Float64s(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			x0 := int(math.Ceil(xs[i] - 0.5))
			x1 := int(math.Floor(xs[i+1] - 0.5))
			for x := x0; x <= x1; x++ {
				if x >= 0 && x < imageWidth {
					mask[y][x] = 1
				}
			}
		}
	}

	// Outline: the vertices and edges themselves are always part of the mask.
	n := len(poly)
	for i := 0; i < n; i++ {
		drawLine(mask, poly[i], poly[(i+1)%n], imageWidth, imageHeight)
	}
	return mask
}

func drawLine(mask [][]uint8, a, b types.Point, w, h int) {
	x0, y0 := int(a.X), int(a.Y)
	x1, y1 := int(b.X), int(b.Y)

	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy

	for {
		if x0 >= 0 && x0 < w && y0 >= 0 && y0 < h {
			mask[y0][x0] = 1
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
