package geom

import (
	"fmt"
	"math"
)

// PathOp is the kind of a path event.
type PathOp uint8

const (
	MoveTo PathOp = iota
	LineTo
	QuadTo
	CubicTo
	Close
)

func (op PathOp) String() string {
	switch op {
	case MoveTo:
		return "M"
	case LineTo:
		return "L"
	case QuadTo:
		return "Q"
	case CubicTo:
		return "C"
	case Close:
		return "Z"
	}
	return "?"
}

// MarshalText encodes the op as its SVG command letter.
func (op PathOp) MarshalText() ([]byte, error) {
	if op > Close {
		return nil, fmt.Errorf("invalid path op %d", op)
	}
	return []byte(op.String()), nil
}

// UnmarshalText decodes an SVG command letter.
func (op *PathOp) UnmarshalText(b []byte) error {
	switch string(b) {
	case "M":
		*op = MoveTo
	case "L":
		*op = LineTo
	case "Q":
		*op = QuadTo
	case "C":
		*op = CubicTo
	case "Z":
		*op = Close
	default:
		return fmt.Errorf("invalid path op %q", b)
	}
	return nil
}

// PathEvent is one drawing instruction. Pts holds the control points
// followed by the end point: one for MoveTo and LineTo, two for QuadTo,
// three for CubicTo and none for Close.
type PathEvent struct {
	Op  PathOp  `json:"op" yaml:"op"`
	Pts []Point `json:"pts,omitempty" yaml:"pts,omitempty"`
}

// End returns the event's end point. Close has none.
func (e PathEvent) End() (Point, bool) {
	if len(e.Pts) == 0 {
		return Point{}, false
	}
	return e.Pts[len(e.Pts)-1], true
}

// Path is a sequence of path events.
type Path []PathEvent

func (p *Path) MoveTo(q Point) { *p = append(*p, PathEvent{Op: MoveTo, Pts: []Point{q}}) }
func (p *Path) LineTo(q Point) { *p = append(*p, PathEvent{Op: LineTo, Pts: []Point{q}}) }
func (p *Path) QuadTo(c, q Point) { *p = append(*p, PathEvent{Op: QuadTo, Pts: []Point{c, q}}) }
func (p *Path) CubicTo(c1, c2, q Point) { *p = append(*p, PathEvent{Op: CubicTo, Pts: []Point{c1, c2, q}}) }
func (p *Path) Close() { *p = append(*p, PathEvent{Op: Close}) }

// Map applies f to every point of the path.
func (p Path) Map(f func(Point) Point) Path {
	out := make(Path, len(p))
	for i, e := range p {
		pts := make([]Point, len(e.Pts))
		for j, q := range e.Pts {
			pts[j] = f(q)
		}
		out[i] = PathEvent{Op: e.Op, Pts: pts}
	}
	return out
}

// Bounds returns the box of all points, control points included.
func (p Path) Bounds() Box {
	b := EmptyBox()
	for _, e := range p {
		for _, q := range e.Pts {
			b = b.Extend(q)
		}
	}
	return b
}

// Flatten converts the path into polylines, subdividing curves within tol.
// A sub-path is closed by an explicit Close event.
func (p Path) Flatten(tol float64) []Polyline {
	var out []Polyline
	var cur []Point
	flush := func(closed bool) {
		if len(cur) > 1 && closed && cur[0].Near(cur[len(cur)-1], 1e-9) {
			cur = cur[:len(cur)-1]
		}
		if len(cur) >= 2 || (closed && len(cur) >= 3) {
			pl := NewOpen(cur...)
			pl.Closed = closed
			out = append(out, pl.Simplify())
		}
		cur = nil
	}
	var last Point
	for _, e := range p {
		switch e.Op {
		case MoveTo:
			flush(false)
			last = e.Pts[0]
			cur = append(cur, last)
		case LineTo:
			if len(cur) == 0 {
				cur = append(cur, last)
			}
			last = e.Pts[0]
			cur = append(cur, last)
		case QuadTo:
			if len(cur) == 0 {
				cur = append(cur, last)
			}
			cur = append(cur, flattenQuad(last, e.Pts[0], e.Pts[1], tol)...)
			last = e.Pts[1]
		case CubicTo:
			if len(cur) == 0 {
				cur = append(cur, last)
			}
			cur = append(cur, flattenCubic(last, e.Pts[0], e.Pts[1], e.Pts[2], tol)...)
			last = e.Pts[2]
		case Close:
			if len(cur) > 0 {
				last = cur[0]
			}
			flush(true)
		}
	}
	flush(false)
	return out
}

// flattenQuad returns the points after p0 on a quadratic Bezier, using
// Wang's bound for the subdivision count.
func flattenQuad(p0, p1, p2 Point, tol float64) []Point {
	dd := p0.Sub(p1.Mul(2)).Add(p2).Len()
	n := int(math.Ceil(math.Sqrt(0.25 * dd / tol)))
	if n < 1 {
		n = 1
	}
	pts := make([]Point, n)
	for i := 1; i <= n; i++ {
		t := float64(i) / float64(n)
		mt := 1 - t
		pts[i-1] = p0.Mul(mt * mt).Add(p1.Mul(2 * mt * t)).Add(p2.Mul(t * t))
	}
	return pts
}

func flattenCubic(p0, p1, p2, p3 Point, tol float64) []Point {
	d1 := p0.Sub(p1.Mul(2)).Add(p2).Len()
	d2 := p1.Sub(p2.Mul(2)).Add(p3).Len()
	n := int(math.Ceil(math.Sqrt(0.75 * math.Max(d1, d2) / tol)))
	if n < 1 {
		n = 1
	}
	pts := make([]Point, n)
	for i := 1; i <= n; i++ {
		t := float64(i) / float64(n)
		mt := 1 - t
		pts[i-1] = p0.Mul(mt * mt * mt).
			Add(p1.Mul(3 * mt * mt * t)).
			Add(p2.Mul(3 * mt * t * t)).
			Add(p3.Mul(t * t * t))
	}
	return pts
}

// PathOf renders polylines as path events. Arcs become cubic Beziers, at
// most a quarter turn each.
func PathOf(pls ...Polyline) Path {
	var p Path
	for _, pl := range pls {
		if len(pl.Vertices) == 0 {
			continue
		}
		p.MoveTo(pl.Start())
		for i := 0; i < pl.NumEdges(); i++ {
			e := pl.Edge(i)
			arc, ok := e.Arc()
			if !ok {
				if !(pl.Closed && i == pl.NumEdges()-1) {
					p.LineTo(e.B)
				}
				continue
			}
			appendArcCubics(&p, arc)
		}
		if pl.Closed {
			p.Close()
		}
	}
	return p
}

func appendArcCubics(p *Path, arc Arc) {
	n := int(math.Ceil(math.Abs(arc.Sweep) / (math.Pi / 2)))
	if n < 1 {
		n = 1
	}
	step := arc.Sweep / float64(n)
	k := 4.0 / 3.0 * math.Tan(step/4)
	for i := 0; i < n; i++ {
		a0 := arc.Start + step*float64(i)
		a1 := a0 + step
		p0 := Point{arc.Center.X + arc.Radius*math.Cos(a0), arc.Center.Y + arc.Radius*math.Sin(a0)}
		p3 := Point{arc.Center.X + arc.Radius*math.Cos(a1), arc.Center.Y + arc.Radius*math.Sin(a1)}
		t0 := Point{-math.Sin(a0), math.Cos(a0)}.Mul(arc.Radius * k)
		t1 := Point{-math.Sin(a1), math.Cos(a1)}.Mul(arc.Radius * k)
		p.CubicTo(p0.Add(t0), p3.Sub(t1), p3)
	}
}
