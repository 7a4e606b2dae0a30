package geom

import "math"

// JoinStyle selects how offset segments are connected on the outside of a
// corner.
type JoinStyle int

const (
	// JoinRound inserts an arc centred on the original vertex.
	JoinRound JoinStyle = iota
	// JoinBevel inserts a straight chord.
	JoinBevel
)

// Offset returns the parallel offset of a region by d. Every ring is
// shifted to its right, so positive d moves CCW outer rings outward and
// shrinks CW holes. Self-intersections split the result into separate
// polygons; total collapse returns an empty region.
func Offset(mp MultiPolygon, d float64) MultiPolygon {
	return OffsetJoin(mp, d, JoinRound)
}

// OffsetJoin is Offset with an explicit join style.
func OffsetJoin(mp MultiPolygon, d float64, join JoinStyle) (result MultiPolygon) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
		}
	}()
	norm := mp.Normalize()
	if d == 0 {
		return norm
	}
	if out, ok := resolve([][]Polyline{rawOffsets(norm, d, join)}, rulePositive); ok {
		return out
	}
	// Retry on the chord approximation when arc resolution failed.
	out, _ := resolve([][]Polyline{rawOffsets(norm.StripBulges(), d, join)}, rulePositive)
	return out
}

// OffsetRing offsets a single closed ring: positive d is outward for a CCW
// ring and inward for a CW ring.
func OffsetRing(ring Polyline, d float64) MultiPolygon {
	if !ring.Closed {
		return nil
	}
	if ring.IsCCW() {
		return Offset(MultiPolygon{{Outer: ring}}, d)
	}
	return Offset(MultiPolygon{{Outer: ring.Reverse()}}, -d)
}

// Fillet rounds every convex corner of the region with radius r by
// offsetting inward then back out.
func Fillet(mp MultiPolygon, r float64) MultiPolygon {
	r = math.Abs(r)
	if r == 0 {
		return mp.Normalize()
	}
	return Offset(Offset(mp, -r), r)
}

// Chamfer bevels every convex corner with setback d. It is the fillet
// construction with straight chords in place of the join arcs on each
// intermediate ring.
func Chamfer(mp MultiPolygon, d float64) MultiPolygon {
	d = math.Abs(d)
	if d == 0 {
		return mp.Normalize()
	}
	return OffsetJoin(OffsetJoin(mp, -d, JoinBevel), d, JoinBevel)
}

func rawOffsets(mp MultiPolygon, d float64, join JoinStyle) []Polyline {
	var out []Polyline
	for _, r := range mp.Rings() {
		if ro, ok := rawOffset(r, d, join); ok {
			out = append(out, ro)
		}
	}
	return out
}

type offsetSeg struct {
	a, b  Point
	bulge float64
}

// rawOffset shifts every edge of a closed ring to its right by d and joins
// neighbours. The result may self-intersect; resolve cleans it up with the
// positive fill rule.
func rawOffset(r Polyline, d float64, join JoinStyle) (Polyline, bool) {
	r = r.Simplify()
	n := r.NumEdges()
	if !r.Closed || n < 2 {
		return Polyline{}, false
	}
	edges := r.Edges()
	segs := make([]offsetSeg, n)
	for i, e := range edges {
		if arc, ok := e.Arc(); ok {
			sgn := 1.0
			if arc.Sweep < 0 {
				sgn = -1
			}
			r2 := arc.Radius + d*sgn
			scale := r2 / arc.Radius
			s := offsetSeg{
				a: arc.Center.Add(e.A.Sub(arc.Center).Mul(scale)),
				b: arc.Center.Add(e.B.Sub(arc.Center).Mul(scale)),
			}
			if r2 > 1e-9 {
				s.bulge = e.Bulge
			}
			segs[i] = s
			continue
		}
		nr := e.B.Sub(e.A).Unit().Perp().Mul(-d)
		segs[i] = offsetSeg{a: e.A.Add(nr), b: e.B.Add(nr)}
	}

	var vs []Vertex
	for i := 0; i < n; i++ {
		prev := segs[(i-1+n)%n]
		cur := segs[i]
		if !prev.b.Near(cur.a, 1e-9) {
			v := edges[i].A
			t1 := edges[(i-1+n)%n].EndTangent()
			t2 := edges[i].StartTangent()
			turn := math.Atan2(t1.Cross(t2), t1.Dot(t2))
			switch {
			case math.Abs(turn) > math.Pi-1e-9:
				vs = append(vs, joinVertex(prev.b, math.Copysign(math.Pi, d), join))
			case (d > 0) == (turn > 0):
				vs = append(vs, joinVertex(prev.b, turn, join))
			default:
				vs = append(vs, Vertex{P: prev.b}, Vertex{P: v})
			}
		}
		vs = append(vs, Vertex{P: cur.a, Bulge: cur.bulge})
	}
	return Polyline{Vertices: vs, Closed: true}, true
}

func joinVertex(p Point, sweep float64, join JoinStyle) Vertex {
	if join == JoinBevel {
		return Vertex{P: p}
	}
	return Vertex{P: p, Bulge: BulgeForSweep(sweep)}
}
