package geom

import "math"

// Arc is a circular arc described by centre, radius, start angle and a
// signed sweep (positive is CCW).
type Arc struct {
	Center Point
	Radius float64
	Start  float64
	Sweep  float64
}

// ArcFromBulge returns the arc from a to b with the given bulge
// (tan of a quarter of the sweep). ok is false for a straight segment.
func ArcFromBulge(a, b Point, bulge float64) (arc Arc, ok bool) {
	if math.Abs(bulge) < 1e-12 {
		return Arc{}, false
	}
	chord := b.Sub(a)
	c := chord.Len()
	if c < 1e-12 {
		return Arc{}, false
	}
	mid := a.Lerp(b, 0.5)
	nl := chord.Mul(1 / c).Perp()
	center := mid.Add(nl.Mul(c * (1 - bulge*bulge) / (4 * bulge)))
	return Arc{
		Center: center,
		Radius: c * (1 + bulge*bulge) / (4 * math.Abs(bulge)),
		Start:  a.Sub(center).Angle(),
		Sweep:  4 * math.Atan(bulge),
	}, true
}

// BulgeForSweep returns the bulge of an arc with the given signed sweep.
func BulgeForSweep(sweep float64) float64 {
	return math.Tan(sweep / 4)
}

// PointAt returns the point at fraction t of the sweep.
func (a Arc) PointAt(t float64) Point {
	ang := a.Start + a.Sweep*t
	return Point{a.Center.X + a.Radius*math.Cos(ang), a.Center.Y + a.Radius*math.Sin(ang)}
}

// StartPoint and EndPoint return the arc's endpoints.
func (a Arc) StartPoint() Point { return a.PointAt(0) }
func (a Arc) EndPoint() Point { return a.PointAt(1) }

// Length returns the arc length.
func (a Arc) Length() float64 { return a.Radius * math.Abs(a.Sweep) }

// CCW reports whether the arc runs counter-clockwise.
func (a Arc) CCW() bool { return a.Sweep > 0 }

// TangentAt returns the unit direction of travel at fraction t.
func (a Arc) TangentAt(t float64) Point {
	r := a.PointAt(t).Sub(a.Center).Unit().Perp()
	if a.Sweep < 0 {
		return r.Mul(-1)
	}
	return r
}

// Bounds returns the tight box of the arc, including axis extrema.
func (a Arc) Bounds() Box {
	b := BoxOf(a.StartPoint(), a.EndPoint())
	lo, hi := a.Start, a.Start+a.Sweep
	if lo > hi {
		lo, hi = hi, lo
	}
	for k := math.Ceil(lo / (math.Pi / 2)); k*math.Pi/2 <= hi; k++ {
		ang := k * math.Pi / 2
		b = b.Extend(Point{a.Center.X + a.Radius*math.Cos(ang), a.Center.Y + a.Radius*math.Sin(ang)})
	}
	return b
}

// Segments returns how many chords approximate the arc within tol.
func (a Arc) Segments(tol float64) int {
	if tol <= 0 || a.Radius <= tol {
		return int(math.Max(1, math.Ceil(math.Abs(a.Sweep)/(math.Pi/2))))
	}
	step := 2 * math.Acos(1-tol/a.Radius)
	n := int(math.Ceil(math.Abs(a.Sweep) / step))
	if n < 1 {
		n = 1
	}
	return n
}

// Flatten returns n+1 points along the arc within chordal tolerance tol.
func (a Arc) Flatten(tol float64) []Point {
	n := a.Segments(tol)
	pts := make([]Point, n+1)
	for i := 0; i <= n; i++ {
		pts[i] = a.PointAt(float64(i) / float64(n))
	}
	return pts
}

// segmentArea is the signed area between the chord and the arc.
func segmentArea(a, b Point, bulge float64) float64 {
	arc, ok := ArcFromBulge(a, b, bulge)
	if !ok {
		return 0
	}
	return arc.Radius * arc.Radius / 2 * (arc.Sweep - math.Sin(arc.Sweep))
}
