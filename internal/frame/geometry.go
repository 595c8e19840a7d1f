package frame

import "math"

// Sub returns the vector p - q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Dot returns the dot product of p and q taken as vectors.
func (p Point) Dot(q Point) float64 {
	return p.X*q.X + p.Y*q.Y
}

// Cross returns the z component of the cross product of p and q taken as
// vectors. Positive means q lies counterclockwise of p.
func (p Point) Cross(q Point) float64 {
	return p.X*q.Y - p.Y*q.X
}

// Line is a directed segment in fractional frame coordinates. Direction
// matters: side classification and crossing polarity are defined relative
// to the A->B direction.
type Line struct {
	A Point `json:"a"`
	B Point `json:"b"`
}

// Side classifies p relative to the directed line through A and B:
// +1 when p lies to the left of A->B, -1 to the right, 0 on the line.
func (l Line) Side(p Point) int {
	c := l.B.Sub(l.A).Cross(p.Sub(l.A))
	switch {
	case c > 0:
		return 1
	case c < 0:
		return -1
	default:
		return 0
	}
}

// Distance returns the perpendicular distance from p to the infinite line
// through A and B. A degenerate zero-length line yields the distance to A.
func (l Line) Distance(p Point) float64 {
	d := l.B.Sub(l.A)
	length := math.Hypot(d.X, d.Y)
	if length == 0 {
		e := p.Sub(l.A)
		return math.Hypot(e.X, e.Y)
	}
	return math.Abs(d.Cross(p.Sub(l.A))) / length
}

// Polygon is a closed region in fractional frame coordinates. The last
// vertex connects back to the first; vertices may wind either way.
type Polygon []Point

// Contains reports whether p is inside the polygon, using the even-odd
// ray casting rule.
func (poly Polygon) Contains(p Point) bool {
	if len(poly) < 3 {
		return false
	}
	inside := false
	j := len(poly) - 1
	for i := range poly {
		pi, pj := poly[i], poly[j]
		if (pi.Y > p.Y) != (pj.Y > p.Y) {
			x := pi.X + (p.Y-pi.Y)*(pj.X-pi.X)/(pj.Y-pi.Y)
			if p.X < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}
