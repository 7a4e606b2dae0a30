package shape

import (
	"fmt"
	"math"

	"github.com/tdewolff/parse/v2/strconv"

	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/geom"
)

// Path is a free-form shape built from path events. When Closed is set
// every sub-path is treated as closed even without a Close event.
type Path struct {
	Events geom.Path `json:"events" yaml:"events"`
	Closed bool      `json:"closed" yaml:"closed"`
	Rot    float64   `json:"rotation,omitempty" yaml:"rotation,omitempty"`
}

func (p Path) Kind() Kind { return KindPath }
func (p Path) Rotation() float64 { return p.Rot }
func (p Path) WithRotation(deg float64) Shape { p.Rot = deg; return p }
func (p Path) Outlines() []geom.Polyline { return rotated(p) }
func (p Path) Bounds() geom.Box { return rotatedBounds(p) }
func (p Path) Region() geom.MultiPolygon { return regionOf(p) }

func (p Path) Contains(q geom.Point, tol float64) bool { return containsLocal(p, q, tol) }

// Center is the centre of the flattened outline's box.
func (p Path) Center() geom.Point {
	b := geom.EmptyBox()
	for _, pl := range p.Events.Flatten(geom.Tolerance) {
		b = b.Union(pl.Bounds())
	}
	if b.IsEmpty() {
		return geom.Point{}
	}
	return b.Center()
}

func (p Path) PathEvents() geom.Path {
	if p.Rot == 0 {
		return p.Events
	}
	c := p.Center()
	return p.Events.Map(func(q geom.Point) geom.Point { return q.RotateAbout(c, p.Rot) })
}

func (p Path) localOutlines() []geom.Polyline {
	pls := p.Events.Flatten(geom.Tolerance)
	if !p.Closed {
		return pls
	}
	out := pls[:0]
	for _, pl := range pls {
		if len(pl.Vertices) >= 3 {
			pl.Closed = true
			out = append(out, pl)
		}
	}
	return out
}

func (p Path) Translate(dx, dy float64) Shape {
	d := geom.Pt(dx, dy)
	p.Events = p.Events.Map(func(q geom.Point) geom.Point { return q.Add(d) })
	return p
}

// ScaleAbout bakes the rotation into the events before scaling.
func (p Path) ScaleAbout(anchor geom.Point, sx, sy float64) Shape {
	ev := p.PathEvents()
	p.Events = ev.Map(func(q geom.Point) geom.Point { return q.ScaleAbout(anchor, sx, sy) })
	p.Rot = 0
	return p
}

func (p Path) RotateAbout(c geom.Point, deg float64) Shape {
	old := p.Center()
	d := old.RotateAbout(c, deg).Sub(old)
	p.Events = p.Events.Map(func(q geom.Point) geom.Point { return q.Add(d) })
	p.Rot += deg
	return p
}

var eventArity = map[geom.PathOp]int{
	geom.MoveTo:  1,
	geom.LineTo:  1,
	geom.QuadTo:  2,
	geom.CubicTo: 3,
	geom.Close:   0,
}

func (p Path) Validate() error {
	if len(p.Events) == 0 {
		return invalid(p, "path has no events")
	}
	if p.Events[0].Op != geom.MoveTo {
		return invalid(p, "path must start with a move")
	}
	for i, e := range p.Events {
		n, ok := eventArity[e.Op]
		if !ok || len(e.Pts) != n {
			return invalid(p, fmt.Sprintf("event %d (%s) has %d points", i, e.Op, len(e.Pts)))
		}
	}
	return nil
}

func skipCommaWhitespace(d []byte) int {
	i := 0
	for i < len(d) && (d[i] == ' ' || d[i] == ',' || d[i] == '\n' || d[i] == '\r' || d[i] == '\t') {
		i++
	}
	return i
}

// ParsePathData builds a Path from SVG path data. All commands are
// supported, absolute and relative; elliptical arcs become cubic Beziers.
// The path is closed when its last sub-path ends with Z.
func ParsePathData(s string) (Path, error) {
	d := []byte(s)
	i := skipCommaWhitespace(d)
	if i >= len(d) {
		return Path{}, errors.New(errors.ErrDesignShape, "path data is empty")
	}
	if d[i] < 'A' {
		return Path{}, errors.New(errors.ErrDesignShape, "path data must start with a command")
	}

	cmdLens := map[byte]int{
		'M': 2, 'Z': 0, 'L': 2, 'H': 1, 'V': 1,
		'C': 6, 'S': 4, 'Q': 4, 'T': 2, 'A': 7,
	}
	var f [7]float64
	var ev geom.Path
	var start, p0, p1, ctrl geom.Point
	prev := byte('z')
	for {
		i += skipCommaWhitespace(d[i:])
		if i >= len(d) {
			break
		}
		cmd := prev
		repeat := true
		if cmd == 'z' || cmd == 'Z' || !(d[i] >= '0' && d[i] <= '9' || d[i] == '.' || d[i] == '-' || d[i] == '+') {
			cmd = d[i]
			repeat = false
			i++
			i += skipCommaWhitespace(d[i:])
		}
		up := cmd
		if 'a' <= cmd && cmd <= 'z' {
			up -= 'a' - 'A'
		}
		n, ok := cmdLens[up]
		if !ok {
			return Path{}, pathDataError(fmt.Sprintf("unknown command '%c' at position %d", cmd, i))
		}
		for j := 0; j < n; j++ {
			if up == 'A' && (j == 3 || j == 4) {
				if i >= len(d) || (d[i] != '0' && d[i] != '1') {
					return Path{}, pathDataError(fmt.Sprintf("arc flags must be 0 or 1 at position %d", i+1))
				}
				f[j] = float64(d[i] - '0')
				i++
			} else {
				num, k := strconv.ParseFloat(d[i:])
				if k == 0 {
					if repeat && j == 0 {
						return Path{}, pathDataError(fmt.Sprintf("unknown command '%c' at position %d", d[i], i+1))
					}
					return Path{}, pathDataError(fmt.Sprintf("command '%c' needs %d numbers at position %d", cmd, n, i+1))
				}
				f[j] = num
				i += k
			}
			i += skipCommaWhitespace(d[i:])
		}

		rel := cmd >= 'a'
		abs := func(x, y float64) geom.Point {
			if rel {
				return geom.Pt(p0.X+x, p0.Y+y)
			}
			return geom.Pt(x, y)
		}
		switch up {
		case 'M':
			p1 = abs(f[0], f[1])
			ev.MoveTo(p1)
			start = p1
			// subsequent pairs are implicit line-tos
			if rel {
				cmd = 'l'
			} else {
				cmd = 'L'
			}
		case 'Z':
			p1 = start
			ev.Close()
		case 'L':
			p1 = abs(f[0], f[1])
			ev.LineTo(p1)
		case 'H':
			p1 = geom.Pt(f[0], p0.Y)
			if rel {
				p1.X += p0.X
			}
			ev.LineTo(p1)
		case 'V':
			p1 = geom.Pt(p0.X, f[0])
			if rel {
				p1.Y += p0.Y
			}
			ev.LineTo(p1)
		case 'C':
			c1, c2 := abs(f[0], f[1]), abs(f[2], f[3])
			p1 = abs(f[4], f[5])
			ev.CubicTo(c1, c2, p1)
			ctrl = c2
		case 'S':
			c1 := p0
			if isOneOf(prev, "CcSs") {
				c1 = p0.Mul(2).Sub(ctrl)
			}
			c2 := abs(f[0], f[1])
			p1 = abs(f[2], f[3])
			ev.CubicTo(c1, c2, p1)
			ctrl = c2
		case 'Q':
			c := abs(f[0], f[1])
			p1 = abs(f[2], f[3])
			ev.QuadTo(c, p1)
			ctrl = c
		case 'T':
			c := p0
			if isOneOf(prev, "QqTt") {
				c = p0.Mul(2).Sub(ctrl)
			}
			p1 = abs(f[0], f[1])
			ev.QuadTo(c, p1)
			ctrl = c
		case 'A':
			p1 = abs(f[5], f[6])
			arcToCubics(&ev, p0, p1, f[0], f[1], f[2], f[3] == 1, f[4] == 1)
		}
		prev = cmd
		p0 = p1
	}
	closed := len(ev) > 0 && ev[len(ev)-1].Op == geom.Close
	return Path{Events: ev, Closed: closed}, nil
}

func isOneOf(c byte, set string) bool {
	for i := 0; i < len(set); i++ {
		if set[i] == c {
			return true
		}
	}
	return false
}

func pathDataError(msg string) error {
	return errors.New(errors.ErrDesignShape, "bad path data: "+msg)
}

// arcToCubics converts an SVG endpoint-parameterised elliptical arc to
// cubic Beziers of at most a quarter turn each.
func arcToCubics(ev *geom.Path, p0, p1 geom.Point, rx, ry, rotDeg float64, large, sweep bool) {
	rx, ry = math.Abs(rx), math.Abs(ry)
	if p0.Near(p1, 1e-12) {
		return
	}
	if rx == 0 || ry == 0 {
		ev.LineTo(p1)
		return
	}
	phi := geom.Radians(rotDeg)
	h := p0.Sub(p1).Mul(0.5).Rotate(-phi)
	if lambda := h.X*h.X/(rx*rx) + h.Y*h.Y/(ry*ry); lambda > 1 {
		s := math.Sqrt(lambda)
		rx, ry = rx*s, ry*s
	}
	num := rx*rx*ry*ry - rx*rx*h.Y*h.Y - ry*ry*h.X*h.X
	den := rx*rx*h.Y*h.Y + ry*ry*h.X*h.X
	coef := math.Sqrt(math.Max(0, num/den))
	if large == sweep {
		coef = -coef
	}
	cp := geom.Pt(coef*rx*h.Y/ry, -coef*ry*h.X/rx)
	center := cp.Rotate(phi).Add(p0.Lerp(p1, 0.5))

	u := geom.Pt((h.X-cp.X)/rx, (h.Y-cp.Y)/ry)
	v := geom.Pt((-h.X-cp.X)/rx, (-h.Y-cp.Y)/ry)
	theta := u.Angle()
	delta := math.Atan2(u.Cross(v), u.Dot(v))
	if sweep && delta < 0 {
		delta += 2 * math.Pi
	} else if !sweep && delta > 0 {
		delta -= 2 * math.Pi
	}

	n := int(math.Ceil(math.Abs(delta) / (math.Pi / 2)))
	if n < 1 {
		n = 1
	}
	step := delta / float64(n)
	k := 4.0 / 3.0 * math.Tan(step/4)
	onEllipse := func(a float64) (geom.Point, geom.Point) {
		s, c := math.Sincos(a)
		pt := geom.Pt(rx*c, ry*s).Rotate(phi).Add(center)
		tan := geom.Pt(-rx*s, ry*c).Rotate(phi)
		return pt, tan
	}
	for j := 0; j < n; j++ {
		a0 := theta + step*float64(j)
		a1 := a0 + step
		q0, t0 := onEllipse(a0)
		q1, t1 := onEllipse(a1)
		end := q1
		if j == n-1 {
			end = p1
		}
		ev.CubicTo(q0.Add(t0.Mul(k)), q1.Sub(t1.Mul(k)), end)
	}
}
