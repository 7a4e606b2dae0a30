package geom

import "math"

// Tolerance is the default chordal deviation used when curves are
// approximated by straight segments.
const Tolerance = 0.01

// Vertex is a polyline vertex. Bulge describes the edge leaving this vertex:
// zero for a straight edge, tan(sweep/4) for an arc, positive for CCW.
type Vertex struct {
	P     Point
	Bulge float64
}

// Polyline is an open or closed chain of straight and circular edges.
// A closed polyline does not repeat its first vertex.
type Polyline struct {
	Vertices []Vertex
	Closed   bool
}

// Edge is one edge of a polyline.
type Edge struct {
	A, B  Point
	Bulge float64
}

// Arc returns the edge's arc. ok is false for straight edges.
func (e Edge) Arc() (Arc, bool) { return ArcFromBulge(e.A, e.B, e.Bulge) }

// Length returns the edge length.
func (e Edge) Length() float64 {
	if arc, ok := e.Arc(); ok {
		return arc.Length()
	}
	return e.A.Distance(e.B)
}

// StartTangent returns the unit direction of travel at A.
func (e Edge) StartTangent() Point {
	if arc, ok := e.Arc(); ok {
		return arc.TangentAt(0)
	}
	return e.B.Sub(e.A).Unit()
}

// EndTangent returns the unit direction of travel at B.
func (e Edge) EndTangent() Point {
	if arc, ok := e.Arc(); ok {
		return arc.TangentAt(1)
	}
	return e.B.Sub(e.A).Unit()
}

// NewRing builds a closed straight-edged polyline from points.
func NewRing(pts ...Point) Polyline {
	vs := make([]Vertex, len(pts))
	for i, p := range pts {
		vs[i] = Vertex{P: p}
	}
	return Polyline{Vertices: vs, Closed: true}
}

// NewOpen builds an open straight-edged polyline from points.
func NewOpen(pts ...Point) Polyline {
	pl := NewRing(pts...)
	pl.Closed = false
	return pl
}

// NumEdges returns the number of edges.
func (pl Polyline) NumEdges() int {
	n := len(pl.Vertices)
	if n < 2 {
		return 0
	}
	if pl.Closed {
		return n
	}
	return n - 1
}

// Edge returns edge i.
func (pl Polyline) Edge(i int) Edge {
	v := pl.Vertices[i]
	w := pl.Vertices[(i+1)%len(pl.Vertices)]
	return Edge{A: v.P, B: w.P, Bulge: v.Bulge}
}

// Edges returns all edges in order.
func (pl Polyline) Edges() []Edge {
	out := make([]Edge, pl.NumEdges())
	for i := range out {
		out[i] = pl.Edge(i)
	}
	return out
}

// Clone returns a deep copy.
func (pl Polyline) Clone() Polyline {
	vs := make([]Vertex, len(pl.Vertices))
	copy(vs, pl.Vertices)
	return Polyline{Vertices: vs, Closed: pl.Closed}
}

// Start returns the first vertex position.
func (pl Polyline) Start() Point {
	if len(pl.Vertices) == 0 {
		return Point{}
	}
	return pl.Vertices[0].P
}

// End returns the position where traversal ends.
func (pl Polyline) End() Point {
	if len(pl.Vertices) == 0 {
		return Point{}
	}
	if pl.Closed {
		return pl.Vertices[0].P
	}
	return pl.Vertices[len(pl.Vertices)-1].P
}

// Area returns the signed area of a closed polyline, arcs included.
// Positive means CCW. Open polylines have zero area.
func (pl Polyline) Area() float64 {
	if !pl.Closed || len(pl.Vertices) < 2 {
		return 0
	}
	var sum float64
	for i := 0; i < pl.NumEdges(); i++ {
		e := pl.Edge(i)
		sum += e.A.Cross(e.B) / 2
		sum += segmentArea(e.A, e.B, e.Bulge)
	}
	return sum
}

// IsCCW reports whether a closed polyline winds counter-clockwise.
func (pl Polyline) IsCCW() bool { return pl.Area() > 0 }

// Length returns the total path length.
func (pl Polyline) Length() float64 {
	var sum float64
	for i := 0; i < pl.NumEdges(); i++ {
		sum += pl.Edge(i).Length()
	}
	return sum
}

// Bounds returns the tight bounding box, arcs included.
func (pl Polyline) Bounds() Box {
	b := EmptyBox()
	for _, v := range pl.Vertices {
		b = b.Extend(v.P)
	}
	for i := 0; i < pl.NumEdges(); i++ {
		if arc, ok := pl.Edge(i).Arc(); ok {
			b = b.Union(arc.Bounds())
		}
	}
	return b
}

// HasArcs reports whether any edge is an arc.
func (pl Polyline) HasArcs() bool {
	for i := 0; i < pl.NumEdges(); i++ {
		if pl.Vertices[i].Bulge != 0 {
			return true
		}
	}
	return false
}

// Reverse returns the polyline traversed backwards. A closed polyline keeps
// its start vertex.
func (pl Polyline) Reverse() Polyline {
	n := len(pl.Vertices)
	out := Polyline{Vertices: make([]Vertex, n), Closed: pl.Closed}
	if n == 0 {
		return out
	}
	if !pl.Closed {
		for i := 0; i < n; i++ {
			src := pl.Vertices[n-1-i]
			out.Vertices[i].P = src.P
			if i < n-1 {
				out.Vertices[i].Bulge = -pl.Vertices[n-2-i].Bulge
			}
		}
		return out
	}
	// new order: v0, v(n-1), ..., v1
	for i := 0; i < n; i++ {
		j := (n - i) % n
		out.Vertices[i].P = pl.Vertices[j].P
		prev := (j - 1 + n) % n
		out.Vertices[i].Bulge = -pl.Vertices[prev].Bulge
	}
	return out
}

// Oriented returns the polyline wound CCW when ccw is true, CW otherwise.
func (pl Polyline) Oriented(ccw bool) Polyline {
	if pl.IsCCW() != ccw {
		return pl.Reverse()
	}
	return pl
}

// StripBulges replaces every arc by its chord.
func (pl Polyline) StripBulges() Polyline {
	out := pl.Clone()
	for i := range out.Vertices {
		out.Vertices[i].Bulge = 0
	}
	return out
}

// Map applies a similarity transform to every vertex. mirror must be true
// when f reverses orientation so bulges flip sign.
func (pl Polyline) Map(f func(Point) Point, mirror bool) Polyline {
	out := pl.Clone()
	for i := range out.Vertices {
		out.Vertices[i].P = f(out.Vertices[i].P)
		if mirror {
			out.Vertices[i].Bulge = -out.Vertices[i].Bulge
		}
	}
	return out
}

// Translate moves the polyline by (dx, dy).
func (pl Polyline) Translate(dx, dy float64) Polyline {
	d := Point{dx, dy}
	return pl.Map(func(p Point) Point { return p.Add(d) }, false)
}

// RotateAbout rotates the polyline by deg degrees about c.
func (pl Polyline) RotateAbout(c Point, deg float64) Polyline {
	if deg == 0 {
		return pl.Clone()
	}
	return pl.Map(func(p Point) Point { return p.RotateAbout(c, deg) }, false)
}

// Flatten returns the vertex positions with arcs replaced by chords within
// tol. A closed polyline does not repeat its start point.
func (pl Polyline) Flatten(tol float64) []Point {
	if len(pl.Vertices) == 0 {
		return nil
	}
	pts := make([]Point, 0, len(pl.Vertices))
	for i := 0; i < pl.NumEdges(); i++ {
		e := pl.Edge(i)
		pts = append(pts, e.A)
		if arc, ok := e.Arc(); ok {
			fp := arc.Flatten(tol)
			pts = append(pts, fp[1:len(fp)-1]...)
		}
	}
	if !pl.Closed {
		pts = append(pts, pl.End())
	}
	if len(pts) == 0 {
		pts = append(pts, pl.Vertices[0].P)
	}
	return pts
}

// Simplify drops repeated vertices and merges collinear straight edges.
func (pl Polyline) Simplify() Polyline {
	if len(pl.Vertices) < 3 {
		return pl.Clone()
	}
	vs := make([]Vertex, 0, len(pl.Vertices))
	for i, v := range pl.Vertices {
		if len(vs) > 0 && vs[len(vs)-1].P.Near(v.P, 1e-9) {
			vs[len(vs)-1].Bulge = v.Bulge
			continue
		}
		if pl.Closed && i == len(pl.Vertices)-1 && v.P.Near(pl.Vertices[0].P, 1e-9) {
			continue
		}
		vs = append(vs, v)
	}
	changed := true
	for changed && len(vs) > 3 {
		changed = false
		n := len(vs)
		for i := 0; i < n; i++ {
			if !pl.Closed && (i == 0 || i == n-1) {
				continue
			}
			prev := vs[(i-1+n)%n]
			cur := vs[i]
			next := vs[(i+1)%n]
			if prev.Bulge != 0 || cur.Bulge != 0 {
				continue
			}
			d1 := cur.P.Sub(prev.P)
			d2 := next.P.Sub(cur.P)
			if math.Abs(d1.Cross(d2)) <= 1e-9*d1.Len()*d2.Len() && d1.Dot(d2) > 0 {
				vs = append(vs[:i], vs[i+1:]...)
				changed = true
				break
			}
		}
	}
	return Polyline{Vertices: vs, Closed: pl.Closed}
}

// ContainsPoint reports whether p is inside the closed polyline by the
// nonzero winding rule.
func (pl Polyline) ContainsPoint(p Point) bool {
	if !pl.Closed {
		return false
	}
	return windingNumber(pl.Flatten(Tolerance), p) != 0
}

// WindingAt sums the winding numbers of the closed rings around p.
func WindingAt(rings []Polyline, p Point) int {
	w := 0
	for _, r := range rings {
		if r.Closed {
			w += windingNumber(r.Flatten(Tolerance), p)
		}
	}
	return w
}

// DistanceTo returns the distance from p to the nearest point of the path.
func (pl Polyline) DistanceTo(p Point) float64 {
	best := math.Inf(1)
	for i := 0; i < pl.NumEdges(); i++ {
		e := pl.Edge(i)
		var d float64
		if arc, ok := e.Arc(); ok {
			d = distToArc(arc, p)
		} else {
			d = distToSegment(p, e.A, e.B)
		}
		if d < best {
			best = d
		}
	}
	if len(pl.Vertices) == 1 {
		best = p.Distance(pl.Vertices[0].P)
	}
	return best
}

func distToSegment(p, a, b Point) float64 {
	ab := b.Sub(a)
	l2 := ab.Dot(ab)
	if l2 == 0 {
		return p.Distance(a)
	}
	t := math.Max(0, math.Min(1, p.Sub(a).Dot(ab)/l2))
	return p.Distance(a.Add(ab.Mul(t)))
}

func distToArc(arc Arc, p Point) float64 {
	ang := p.Sub(arc.Center).Angle()
	rel := ang - arc.Start
	if arc.Sweep >= 0 {
		for rel < 0 {
			rel += 2 * math.Pi
		}
		if rel <= arc.Sweep {
			return math.Abs(p.Distance(arc.Center) - arc.Radius)
		}
	} else {
		for rel > 0 {
			rel -= 2 * math.Pi
		}
		if rel >= arc.Sweep {
			return math.Abs(p.Distance(arc.Center) - arc.Radius)
		}
	}
	return math.Min(p.Distance(arc.StartPoint()), p.Distance(arc.EndPoint()))
}

// windingNumber counts how many times the closed point ring winds around p.
func windingNumber(ring []Point, p Point) int {
	w := 0
	n := len(ring)
	for i := 0; i < n; i++ {
		a := ring[i]
		b := ring[(i+1)%n]
		if a.Y <= p.Y {
			if b.Y > p.Y && b.Sub(a).Cross(p.Sub(a)) > 0 {
				w++
			}
		} else if b.Y <= p.Y && b.Sub(a).Cross(p.Sub(a)) < 0 {
			w--
		}
	}
	return w
}

// ringArea is the shoelace area of a point ring.
func ringArea(ring []Point) float64 {
	var s float64
	n := len(ring)
	for i := 0; i < n; i++ {
		s += ring[i].Cross(ring[(i+1)%n])
	}
	return s / 2
}
