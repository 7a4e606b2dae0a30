package shape

import (
	"math"

	"cnc-cam-core/pkg/geom"
)

// Gear is an involute spur gear. The profile is rebuilt on every call.
type Gear struct {
	Pos           geom.Point `json:"center" yaml:"center"`
	Module        float64    `json:"module" yaml:"module"`
	Teeth         int        `json:"teeth" yaml:"teeth"`
	PressureAngle float64    `json:"pressure_angle" yaml:"pressure_angle"`
	Rot           float64    `json:"rotation,omitempty" yaml:"rotation,omitempty"`
}

// flankSamples is the number of straight segments per involute flank.
const flankSamples = 12

func (g Gear) Kind() Kind { return KindGear }
func (g Gear) Center() geom.Point { return g.Pos }
func (g Gear) Rotation() float64 { return g.Rot }
func (g Gear) WithRotation(deg float64) Shape { g.Rot = deg; return g }
func (g Gear) Outlines() []geom.Polyline { return rotated(g) }
func (g Gear) PathEvents() geom.Path { return geom.PathOf(g.Outlines()...) }
func (g Gear) Bounds() geom.Box { return rotatedBounds(g) }
func (g Gear) Region() geom.MultiPolygon { return regionOf(g) }

func (g Gear) Contains(p geom.Point, tol float64) bool { return containsLocal(g, p, tol) }

// PitchRadius is m·z/2.
func (g Gear) PitchRadius() float64 { return g.Module * float64(g.Teeth) / 2 }

// OuterRadius is the addendum circle.
func (g Gear) OuterRadius() float64 { return g.PitchRadius() + g.Module }

// RootRadius is the dedendum circle, 1.25·m below pitch.
func (g Gear) RootRadius() float64 { return g.PitchRadius() - 1.25*g.Module }

func involute(a float64) float64 { return math.Tan(a) - a }

func (g Gear) localOutlines() []geom.Polyline {
	if g.Validate() != nil {
		return nil
	}
	z := float64(g.Teeth)
	alpha := geom.Radians(g.PressureAngle)
	rp := g.PitchRadius()
	ra := g.OuterRadius()
	rf := math.Max(g.RootRadius(), 0.1*g.Module)
	rb := rp * math.Cos(alpha)
	r0 := math.Max(rb, rf)

	// half angular tooth thickness at radius r
	psi := func(r float64) float64 {
		ar := math.Acos(math.Min(1, rb/r))
		return math.Pi/(2*z) + involute(alpha) - involute(ar)
	}
	polar := func(r, a float64) geom.Point {
		s, c := math.Sincos(a)
		return geom.Pt(g.Pos.X+r*c, g.Pos.Y+r*s)
	}
	tip := math.Max(psi(ra), 0)
	base := psi(r0)

	var vs []geom.Vertex
	for i := 0; i < g.Teeth; i++ {
		phi := 2 * math.Pi * float64(i) / z
		if rf < r0 {
			vs = append(vs, geom.Vertex{P: polar(rf, phi-base)})
		}
		// rising flank
		for k := 0; k < flankSamples; k++ {
			r := r0 + (ra-r0)*float64(k)/flankSamples
			vs = append(vs, geom.Vertex{P: polar(r, phi-math.Max(psi(r), 0))})
		}
		vs = append(vs, geom.Vertex{P: polar(ra, phi-tip), Bulge: geom.BulgeForSweep(2 * tip)})
		// falling flank
		for k := flankSamples; k > 0; k-- {
			r := r0 + (ra-r0)*float64(k)/flankSamples
			if k == flankSamples && tip > 0 {
				vs = append(vs, geom.Vertex{P: polar(r, phi+tip)})
				continue
			}
			vs = append(vs, geom.Vertex{P: polar(r, phi+math.Max(psi(r), 0))})
		}
		last := geom.Vertex{P: polar(r0, phi+base)}
		if rf < r0 {
			vs = append(vs, last, geom.Vertex{P: polar(rf, phi+base)})
		} else {
			vs = append(vs, last)
		}
		gap := math.Max(2*math.Pi/z-2*base, 0)
		vs[len(vs)-1].Bulge = geom.BulgeForSweep(gap)
	}
	return []geom.Polyline{geom.Polyline{Vertices: vs, Closed: true}.Simplify()}
}

func (g Gear) Translate(dx, dy float64) Shape {
	g.Pos = g.Pos.Add(geom.Pt(dx, dy))
	return g
}

func (g Gear) ScaleAbout(anchor geom.Point, sx, sy float64) Shape {
	g.Pos = g.Pos.ScaleAbout(anchor, sx, sy)
	g.Module *= meanScale(sx, sy)
	return g
}

func (g Gear) RotateAbout(c geom.Point, deg float64) Shape {
	g.Pos = g.Pos.RotateAbout(c, deg)
	g.Rot += deg
	return g
}

func (g Gear) Validate() error {
	if g.Teeth < 4 {
		return invalid(g, "a gear needs at least 4 teeth")
	}
	if g.Module <= 0 {
		return invalid(g, "module must be positive")
	}
	if g.PressureAngle <= 0 || g.PressureAngle >= 45 {
		return invalid(g, "pressure angle must be between 0 and 45 degrees")
	}
	return nil
}

// Sprocket is a roller-chain sprocket with the ISO 606 seating curve. The
// tooth form is the tip disc minus one seating disc per roller position.
type Sprocket struct {
	Pos            geom.Point `json:"center" yaml:"center"`
	Pitch          float64    `json:"pitch" yaml:"pitch"`
	Teeth          int        `json:"teeth" yaml:"teeth"`
	RollerDiameter float64    `json:"roller_diameter" yaml:"roller_diameter"`
	Rot            float64    `json:"rotation,omitempty" yaml:"rotation,omitempty"`
}

func (s Sprocket) Kind() Kind { return KindSprocket }
func (s Sprocket) Center() geom.Point { return s.Pos }
func (s Sprocket) Rotation() float64 { return s.Rot }
func (s Sprocket) WithRotation(deg float64) Shape { s.Rot = deg; return s }
func (s Sprocket) Outlines() []geom.Polyline { return rotated(s) }
func (s Sprocket) PathEvents() geom.Path { return geom.PathOf(s.Outlines()...) }
func (s Sprocket) Region() geom.MultiPolygon { return regionOf(s) }

func (s Sprocket) Contains(p geom.Point, tol float64) bool { return containsLocal(s, p, tol) }

// Bounds is the box of the tip circle.
func (s Sprocket) Bounds() geom.Box {
	r := s.TipDiameter() / 2
	return geom.BoxAround(s.Pos, r, r)
}

// PitchDiameter is p / sin(180°/z).
func (s Sprocket) PitchDiameter() float64 {
	return s.Pitch / math.Sin(math.Pi/float64(s.Teeth))
}

// SeatingRadius is the minimum ISO 606 roller seating radius.
func (s Sprocket) SeatingRadius() float64 {
	d1 := s.RollerDiameter
	return 0.505*d1 + 0.069*math.Cbrt(d1)
}

// TipDiameter is the mean of the ISO 606 minimum and maximum tip diameters.
func (s Sprocket) TipDiameter() float64 {
	d, p, d1, z := s.PitchDiameter(), s.Pitch, s.RollerDiameter, float64(s.Teeth)
	lo := d + p*(1-1.6/z) - d1
	hi := d + 1.25*p - d1
	return (lo + hi) / 2
}

// RootDiameter is the pitch diameter less one roller.
func (s Sprocket) RootDiameter() float64 { return s.PitchDiameter() - s.RollerDiameter }

func (s Sprocket) localOutlines() []geom.Polyline {
	if s.Validate() != nil {
		return nil
	}
	tip := geom.MultiPolygon{{Outer: circleRing(s.Pos, s.TipDiameter()/2)}}
	rp := s.PitchDiameter() / 2
	ri := s.SeatingRadius()
	var seats []geom.Polyline
	for i := 0; i < s.Teeth; i++ {
		a := 2 * math.Pi * float64(i) / float64(s.Teeth)
		sn, cs := math.Sincos(a)
		seats = append(seats, circleRing(geom.Pt(s.Pos.X+rp*cs, s.Pos.Y+rp*sn), ri))
	}
	out := geom.Difference(tip, geom.RegionOf(seats, false))
	return out.Rings()
}

func (s Sprocket) Translate(dx, dy float64) Shape {
	s.Pos = s.Pos.Add(geom.Pt(dx, dy))
	return s
}

func (s Sprocket) ScaleAbout(anchor geom.Point, sx, sy float64) Shape {
	k := meanScale(sx, sy)
	s.Pos = s.Pos.ScaleAbout(anchor, sx, sy)
	s.Pitch *= k
	s.RollerDiameter *= k
	return s
}

func (s Sprocket) RotateAbout(c geom.Point, deg float64) Shape {
	s.Pos = s.Pos.RotateAbout(c, deg)
	s.Rot += deg
	return s
}

func (s Sprocket) Validate() error {
	if s.Teeth < 4 {
		return invalid(s, "a sprocket needs at least 4 teeth")
	}
	if s.Pitch <= 0 || s.RollerDiameter <= 0 {
		return invalid(s, "pitch and roller diameter must be positive")
	}
	if s.RollerDiameter >= s.Pitch {
		return invalid(s, "roller diameter must be smaller than the pitch")
	}
	return nil
}
