package shape

import (
	"math"

	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/geom"
)

// Rectangle is an axis-aligned rectangle in its local frame, optionally
// with rounded corners. A slot has fully rounded ends.
type Rectangle struct {
	Pos          geom.Point `json:"center" yaml:"center"`
	Width        float64    `json:"width" yaml:"width"`
	Height       float64    `json:"height" yaml:"height"`
	CornerRadius float64    `json:"corner_radius,omitempty" yaml:"corner_radius,omitempty"`
	IsSlot       bool       `json:"is_slot,omitempty" yaml:"is_slot,omitempty"`
	Rot          float64    `json:"rotation,omitempty" yaml:"rotation,omitempty"`
}

// NewRectangle returns a sharp-cornered rectangle centred on c.
func NewRectangle(c geom.Point, w, h float64) Rectangle {
	return Rectangle{Pos: c, Width: w, Height: h}
}

func (r Rectangle) Kind() Kind { return KindRectangle }
func (r Rectangle) Center() geom.Point { return r.Pos }
func (r Rectangle) Rotation() float64 { return r.Rot }
func (r Rectangle) WithRotation(deg float64) Shape { r.Rot = deg; return r }
func (r Rectangle) Outlines() []geom.Polyline { return rotated(r) }
func (r Rectangle) PathEvents() geom.Path { return geom.PathOf(r.Outlines()...) }
func (r Rectangle) Bounds() geom.Box { return rotatedBounds(r) }
func (r Rectangle) Contains(p geom.Point, tol float64) bool { return containsLocal(r, p, tol) }
func (r Rectangle) Region() geom.MultiPolygon { return regionOf(r) }

// WithCornerRadius sets the corner radius, clamped to [0, min(w,h)/2].
func (r Rectangle) WithCornerRadius(cr float64) Rectangle {
	r.CornerRadius = math.Max(0, math.Min(cr, math.Min(r.Width, r.Height)/2))
	return r
}

// EffectiveRadius is the corner radius actually drawn.
func (r Rectangle) EffectiveRadius() float64 {
	lim := math.Min(r.Width, r.Height) / 2
	if r.IsSlot {
		return lim
	}
	return math.Max(0, math.Min(r.CornerRadius, lim))
}

func (r Rectangle) localOutlines() []geom.Polyline {
	x0, y0 := r.Pos.X-r.Width/2, r.Pos.Y-r.Height/2
	x1, y1 := r.Pos.X+r.Width/2, r.Pos.Y+r.Height/2
	cr := r.EffectiveRadius()
	if cr <= geom.Eps {
		return []geom.Polyline{geom.NewRing(
			geom.Pt(x0, y0), geom.Pt(x1, y0), geom.Pt(x1, y1), geom.Pt(x0, y1))}
	}
	b := geom.BulgeForSweep(math.Pi / 2)
	vs := []geom.Vertex{
		{P: geom.Pt(x0+cr, y0)},
		{P: geom.Pt(x1-cr, y0), Bulge: b},
		{P: geom.Pt(x1, y0+cr)},
		{P: geom.Pt(x1, y1-cr), Bulge: b},
		{P: geom.Pt(x1-cr, y1)},
		{P: geom.Pt(x0+cr, y1), Bulge: b},
		{P: geom.Pt(x0, y1-cr)},
		{P: geom.Pt(x0, y0+cr), Bulge: b},
	}
	return []geom.Polyline{geom.Polyline{Vertices: vs, Closed: true}.Simplify()}
}

func (r Rectangle) Translate(dx, dy float64) Shape {
	r.Pos = r.Pos.Add(geom.Pt(dx, dy))
	return r
}

// ScaleAbout scales the rectangle in its local frame.
func (r Rectangle) ScaleAbout(anchor geom.Point, sx, sy float64) Shape {
	r.Pos = r.Pos.ScaleAbout(anchor, sx, sy)
	r.Width *= math.Abs(sx)
	r.Height *= math.Abs(sy)
	return r.WithCornerRadius(r.CornerRadius * math.Min(math.Abs(sx), math.Abs(sy)))
}

func (r Rectangle) RotateAbout(c geom.Point, deg float64) Shape {
	r.Pos = r.Pos.RotateAbout(c, deg)
	r.Rot += deg
	return r
}

func (r Rectangle) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return invalid(r, "width and height must be positive")
	}
	if r.CornerRadius < 0 {
		return invalid(r, "corner radius must not be negative")
	}
	return nil
}

// Circle is a full circle. Its outline starts at angle 0 and is made of two
// half arcs.
type Circle struct {
	Pos    geom.Point `json:"center" yaml:"center"`
	Radius float64    `json:"radius" yaml:"radius"`
	Rot    float64    `json:"rotation,omitempty" yaml:"rotation,omitempty"`
}

func NewCircle(c geom.Point, r float64) Circle { return Circle{Pos: c, Radius: r} }

func (c Circle) Kind() Kind { return KindCircle }
func (c Circle) Center() geom.Point { return c.Pos }
func (c Circle) Rotation() float64 { return c.Rot }
func (c Circle) WithRotation(deg float64) Shape { c.Rot = deg; return c }
func (c Circle) Outlines() []geom.Polyline { return rotated(c) }
func (c Circle) PathEvents() geom.Path { return geom.PathOf(c.Outlines()...) }
func (c Circle) Region() geom.MultiPolygon { return regionOf(c) }

func (c Circle) Bounds() geom.Box { return geom.BoxAround(c.Pos, c.Radius, c.Radius) }

func (c Circle) Contains(p geom.Point, tol float64) bool {
	return p.Distance(c.Pos) <= c.Radius+tol
}

func (c Circle) localOutlines() []geom.Polyline {
	if c.Radius <= 0 {
		return nil
	}
	return []geom.Polyline{circleRing(c.Pos, c.Radius)}
}

func circleRing(c geom.Point, r float64) geom.Polyline {
	return geom.Polyline{Vertices: []geom.Vertex{
		{P: geom.Pt(c.X+r, c.Y), Bulge: 1},
		{P: geom.Pt(c.X-r, c.Y), Bulge: 1},
	}, Closed: true}
}

func (c Circle) Translate(dx, dy float64) Shape {
	c.Pos = c.Pos.Add(geom.Pt(dx, dy))
	return c
}

// ScaleAbout turns the circle into an ellipse when the scale is not
// uniform.
func (c Circle) ScaleAbout(anchor geom.Point, sx, sy float64) Shape {
	pos := c.Pos.ScaleAbout(anchor, sx, sy)
	ax, ay := math.Abs(sx), math.Abs(sy)
	if math.Abs(ax-ay) > 1e-12 {
		return Ellipse{Pos: pos, RX: c.Radius * ax, RY: c.Radius * ay, Rot: c.Rot}
	}
	c.Pos = pos
	c.Radius *= ax
	return c
}

func (c Circle) RotateAbout(p geom.Point, deg float64) Shape {
	c.Pos = c.Pos.RotateAbout(p, deg)
	c.Rot += deg
	return c
}

func (c Circle) Validate() error {
	if c.Radius <= 0 {
		return invalid(c, "radius must be positive")
	}
	return nil
}

// Ellipse is tessellated into straight segments within geom.Tolerance. A
// round ellipse is drawn as a circle.
type Ellipse struct {
	Pos geom.Point `json:"center" yaml:"center"`
	RX  float64    `json:"rx" yaml:"rx"`
	RY  float64    `json:"ry" yaml:"ry"`
	Rot float64    `json:"rotation,omitempty" yaml:"rotation,omitempty"`
}

func (e Ellipse) Kind() Kind { return KindEllipse }
func (e Ellipse) Center() geom.Point { return e.Pos }
func (e Ellipse) Rotation() float64 { return e.Rot }
func (e Ellipse) WithRotation(deg float64) Shape { e.Rot = deg; return e }
func (e Ellipse) Outlines() []geom.Polyline { return rotated(e) }
func (e Ellipse) Region() geom.MultiPolygon { return regionOf(e) }

// Bounds uses the closed form of a rotated ellipse.
func (e Ellipse) Bounds() geom.Box {
	s, c := math.Sincos(geom.Radians(e.Rot))
	hw := math.Hypot(e.RX*c, e.RY*s)
	hh := math.Hypot(e.RX*s, e.RY*c)
	return geom.BoxAround(e.Pos, hw, hh)
}

func (e Ellipse) Contains(p geom.Point, tol float64) bool {
	if e.RX <= 0 || e.RY <= 0 {
		return false
	}
	q := p.RotateAbout(e.Pos, -e.Rot).Sub(e.Pos)
	if (q.X/e.RX)*(q.X/e.RX)+(q.Y/e.RY)*(q.Y/e.RY) <= 1 {
		return true
	}
	return tol > 0 && containsLocal(e, p, tol)
}

// PathEvents draws four cubic quadrants.
func (e Ellipse) PathEvents() geom.Path {
	const k = 0.5522847498307936
	c := e.Pos
	pts := func(x, y float64) geom.Point {
		return geom.Pt(c.X+x, c.Y+y).RotateAbout(c, e.Rot)
	}
	var p geom.Path
	p.MoveTo(pts(e.RX, 0))
	p.CubicTo(pts(e.RX, k*e.RY), pts(k*e.RX, e.RY), pts(0, e.RY))
	p.CubicTo(pts(-k*e.RX, e.RY), pts(-e.RX, k*e.RY), pts(-e.RX, 0))
	p.CubicTo(pts(-e.RX, -k*e.RY), pts(-k*e.RX, -e.RY), pts(0, -e.RY))
	p.CubicTo(pts(k*e.RX, -e.RY), pts(e.RX, -k*e.RY), pts(e.RX, 0))
	p.Close()
	return p
}

// ellipseSegments returns a multiple of four segment count keeping the
// chordal deviation of a parametric sampling within tol.
func ellipseSegments(rx, ry, tol float64) int {
	dt := math.Sqrt(8 * tol / math.Max(rx, ry))
	n := int(math.Ceil(2 * math.Pi / dt))
	n = (n + 3) / 4 * 4
	if n < 8 {
		n = 8
	}
	if n > 4096 {
		n = 4096
	}
	return n
}

func (e Ellipse) localOutlines() []geom.Polyline {
	if e.RX <= 0 || e.RY <= 0 {
		return nil
	}
	if math.Abs(e.RX-e.RY) <= geom.Eps {
		return []geom.Polyline{circleRing(e.Pos, e.RX)}
	}
	n := ellipseSegments(e.RX, e.RY, geom.Tolerance)
	pts := make([]geom.Point, n)
	for i := range pts {
		s, c := math.Sincos(2 * math.Pi * float64(i) / float64(n))
		pts[i] = geom.Pt(e.Pos.X+e.RX*c, e.Pos.Y+e.RY*s)
	}
	return []geom.Polyline{geom.NewRing(pts...)}
}

func (e Ellipse) Translate(dx, dy float64) Shape {
	e.Pos = e.Pos.Add(geom.Pt(dx, dy))
	return e
}

func (e Ellipse) ScaleAbout(anchor geom.Point, sx, sy float64) Shape {
	e.Pos = e.Pos.ScaleAbout(anchor, sx, sy)
	e.RX *= math.Abs(sx)
	e.RY *= math.Abs(sy)
	return e
}

func (e Ellipse) RotateAbout(c geom.Point, deg float64) Shape {
	e.Pos = e.Pos.RotateAbout(c, deg)
	e.Rot += deg
	return e
}

func (e Ellipse) Validate() error {
	if e.RX <= 0 || e.RY <= 0 {
		return invalid(e, "radii must be positive")
	}
	return nil
}

// Line is an open segment. Its natural centre is the midpoint.
type Line struct {
	Start geom.Point `json:"start" yaml:"start"`
	End   geom.Point `json:"end" yaml:"end"`
	Rot   float64    `json:"rotation,omitempty" yaml:"rotation,omitempty"`
}

func (l Line) Kind() Kind { return KindLine }
func (l Line) Center() geom.Point { return l.Start.Lerp(l.End, 0.5) }
func (l Line) Rotation() float64 { return l.Rot }
func (l Line) WithRotation(deg float64) Shape { l.Rot = deg; return l }
func (l Line) Outlines() []geom.Polyline { return rotated(l) }
func (l Line) PathEvents() geom.Path { return geom.PathOf(l.Outlines()...) }
func (l Line) Bounds() geom.Box { return rotatedBounds(l) }
func (l Line) Region() geom.MultiPolygon { return nil }

func (l Line) Contains(p geom.Point, tol float64) bool { return containsLocal(l, p, tol) }

func (l Line) localOutlines() []geom.Polyline {
	return []geom.Polyline{geom.NewOpen(l.Start, l.End)}
}

func (l Line) Translate(dx, dy float64) Shape {
	d := geom.Pt(dx, dy)
	l.Start, l.End = l.Start.Add(d), l.End.Add(d)
	return l
}

func (l Line) ScaleAbout(anchor geom.Point, sx, sy float64) Shape {
	l.Start = l.Start.ScaleAbout(anchor, sx, sy)
	l.End = l.End.ScaleAbout(anchor, sx, sy)
	return l
}

// RotateAbout keeps the endpoints and accumulates the rotation about the
// new midpoint.
func (l Line) RotateAbout(c geom.Point, deg float64) Shape {
	d := l.Center().RotateAbout(c, deg).Sub(l.Center())
	l.Start, l.End = l.Start.Add(d), l.End.Add(d)
	l.Rot += deg
	return l
}

func (l Line) Validate() error {
	if l.Start.Near(l.End, geom.Eps) {
		return invalid(l, "line has zero length")
	}
	return nil
}

// Triangle is isosceles with its apex up in the local frame.
type Triangle struct {
	Pos    geom.Point `json:"center" yaml:"center"`
	Width  float64    `json:"width" yaml:"width"`
	Height float64    `json:"height" yaml:"height"`
	Rot    float64    `json:"rotation,omitempty" yaml:"rotation,omitempty"`
}

func (t Triangle) Kind() Kind { return KindTriangle }
func (t Triangle) Center() geom.Point { return t.Pos }
func (t Triangle) Rotation() float64 { return t.Rot }
func (t Triangle) WithRotation(deg float64) Shape { t.Rot = deg; return t }
func (t Triangle) Outlines() []geom.Polyline { return rotated(t) }
func (t Triangle) PathEvents() geom.Path { return geom.PathOf(t.Outlines()...) }
func (t Triangle) Bounds() geom.Box { return rotatedBounds(t) }
func (t Triangle) Region() geom.MultiPolygon { return regionOf(t) }

func (t Triangle) Contains(p geom.Point, tol float64) bool { return containsLocal(t, p, tol) }

func (t Triangle) localOutlines() []geom.Polyline {
	c := t.Pos
	return []geom.Polyline{geom.NewRing(
		geom.Pt(c.X-t.Width/2, c.Y-t.Height/2),
		geom.Pt(c.X+t.Width/2, c.Y-t.Height/2),
		geom.Pt(c.X, c.Y+t.Height/2),
	)}
}

func (t Triangle) Translate(dx, dy float64) Shape {
	t.Pos = t.Pos.Add(geom.Pt(dx, dy))
	return t
}

func (t Triangle) ScaleAbout(anchor geom.Point, sx, sy float64) Shape {
	t.Pos = t.Pos.ScaleAbout(anchor, sx, sy)
	t.Width *= math.Abs(sx)
	t.Height *= math.Abs(sy)
	return t
}

func (t Triangle) RotateAbout(c geom.Point, deg float64) Shape {
	t.Pos = t.Pos.RotateAbout(c, deg)
	t.Rot += deg
	return t
}

func (t Triangle) Validate() error {
	if t.Width <= 0 || t.Height <= 0 {
		return invalid(t, "width and height must be positive")
	}
	return nil
}

// RegularPolygon has its first vertex straight up from the centre.
type RegularPolygon struct {
	Pos    geom.Point `json:"center" yaml:"center"`
	Radius float64    `json:"radius" yaml:"radius"`
	Sides  int        `json:"sides" yaml:"sides"`
	Rot    float64    `json:"rotation,omitempty" yaml:"rotation,omitempty"`
}

func (g RegularPolygon) Kind() Kind { return KindRegularPolygon }
func (g RegularPolygon) Center() geom.Point { return g.Pos }
func (g RegularPolygon) Rotation() float64 { return g.Rot }
func (g RegularPolygon) WithRotation(deg float64) Shape { g.Rot = deg; return g }
func (g RegularPolygon) Outlines() []geom.Polyline { return rotated(g) }
func (g RegularPolygon) PathEvents() geom.Path { return geom.PathOf(g.Outlines()...) }
func (g RegularPolygon) Bounds() geom.Box { return rotatedBounds(g) }
func (g RegularPolygon) Region() geom.MultiPolygon { return regionOf(g) }

func (g RegularPolygon) Contains(p geom.Point, tol float64) bool { return containsLocal(g, p, tol) }

func (g RegularPolygon) localOutlines() []geom.Polyline {
	if g.Sides < 3 || g.Radius <= 0 {
		return nil
	}
	pts := make([]geom.Point, g.Sides)
	for i := range pts {
		a := math.Pi/2 + 2*math.Pi*float64(i)/float64(g.Sides)
		s, c := math.Sincos(a)
		pts[i] = geom.Pt(g.Pos.X+g.Radius*c, g.Pos.Y+g.Radius*s)
	}
	return []geom.Polyline{geom.NewRing(pts...)}
}

func (g RegularPolygon) Translate(dx, dy float64) Shape {
	g.Pos = g.Pos.Add(geom.Pt(dx, dy))
	return g
}

func (g RegularPolygon) ScaleAbout(anchor geom.Point, sx, sy float64) Shape {
	g.Pos = g.Pos.ScaleAbout(anchor, sx, sy)
	g.Radius *= meanScale(sx, sy)
	return g
}

func (g RegularPolygon) RotateAbout(c geom.Point, deg float64) Shape {
	g.Pos = g.Pos.RotateAbout(c, deg)
	g.Rot += deg
	return g
}

func (g RegularPolygon) Validate() error {
	if g.Sides < 3 {
		return invalid(g, "a polygon needs at least 3 sides")
	}
	if g.Radius <= 0 {
		return invalid(g, "radius must be positive")
	}
	return nil
}

func invalid(s Shape, msg string) error {
	return errors.New(errors.ErrDesignShape, string(s.Kind())+": "+msg)
}
