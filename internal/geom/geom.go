// Package geom provides the 2D primitives shared by the tracker and the
// zone engine: axis-aligned boxes in pixel space, IoU overlap, and
// point-in-polygon containment.
package geom

import "math"

// Point is a position in pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned bounding box (x1,y1) top-left, (x2,y2)
// bottom-right, with x2 > x1 and y2 > y1 for a non-degenerate box.
type Rect struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the horizontal extent of the box.
func (r Rect) Width() float64 { return r.X2 - r.X1 }

// Height returns the vertical extent of the box.
func (r Rect) Height() float64 { return r.Y2 - r.Y1 }

// Area returns the box area, 0 for degenerate boxes.
func (r Rect) Area() float64 {
	w, h := r.Width(), r.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Centroid returns the integer midpoint of the box.
func (r Rect) Centroid() Point {
	return Point{
		X: math.Trunc((r.X1 + r.X2) / 2),
		Y: math.Trunc((r.Y1 + r.Y2) / 2),
	}
}

// Translate returns the box shifted by (dx, dy).
func (r Rect) Translate(dx, dy float64) Rect {
	return Rect{X1: r.X1 + dx, Y1: r.Y1 + dy, X2: r.X2 + dx, Y2: r.Y2 + dy}
}

// unionEpsilon guards the IoU division for degenerate boxes.
const unionEpsilon = 1e-6

// IoU returns the intersection-over-union of two boxes in [0, 1]. It is
// symmetric, 1.0 for identical non-degenerate boxes and 0.0 for disjoint
// or touching boxes. The union is floored at a small epsilon so degenerate
// boxes yield 0 rather than NaN.
func IoU(a, b Rect) float64 {
	ix1 := math.Max(a.X1, b.X1)
	iy1 := math.Max(a.Y1, b.Y1)
	ix2 := math.Min(a.X2, b.X2)
	iy2 := math.Min(a.Y2, b.Y2)

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih

	union := a.Area() + b.Area() - inter
	if union < unionEpsilon {
		union = unionEpsilon
	}
	return inter / union
}

// Dist returns the Euclidean distance between two points.
func Dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// PointInPolygon reports whether p lies inside the polygon using even-odd
// ray casting. The polygon is implicitly closed; fewer than 3 vertices
// never contain anything. Points on horizontal edges and vertices with
// equal y coordinates are handled by the half-open edge rule.
func PointInPolygon(p Point, poly []Point) bool {
	n := len(poly)
	if n < 3 {
		return false
	}

	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		pi, pj := poly[i], poly[j]
		if (pi.Y > p.Y) != (pj.Y > p.Y) {
			xCross := (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y) + pi.X
			if p.X < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}
