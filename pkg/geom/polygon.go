package geom

// Polygon is a closed region: one CCW outer ring and CW holes.
type Polygon struct {
	Outer Polyline
	Holes []Polyline
}

// MultiPolygon is a set of disjoint polygons.
type MultiPolygon []Polygon

// Rings returns the outer ring followed by the holes.
func (pg Polygon) Rings() []Polyline {
	out := make([]Polyline, 0, 1+len(pg.Holes))
	out = append(out, pg.Outer)
	return append(out, pg.Holes...)
}

// Area returns the enclosed area (outer minus holes) for a normalised
// polygon.
func (pg Polygon) Area() float64 {
	a := pg.Outer.Area()
	for _, h := range pg.Holes {
		a += h.Area()
	}
	return a
}

// Normalize orients the outer ring CCW and every hole CW.
func (pg Polygon) Normalize() Polygon {
	out := Polygon{Outer: pg.Outer.Oriented(true)}
	for _, h := range pg.Holes {
		out.Holes = append(out.Holes, h.Oriented(false))
	}
	return out
}

// Contains reports whether p lies inside the outer ring and outside all
// holes.
func (pg Polygon) Contains(p Point) bool {
	if !pg.Outer.ContainsPoint(p) {
		return false
	}
	for _, h := range pg.Holes {
		if h.ContainsPoint(p) {
			return false
		}
	}
	return true
}

// Rings returns every ring of every polygon.
func (mp MultiPolygon) Rings() []Polyline {
	var out []Polyline
	for _, pg := range mp {
		out = append(out, pg.Rings()...)
	}
	return out
}

// Area returns the total enclosed area.
func (mp MultiPolygon) Area() float64 {
	var a float64
	for _, pg := range mp {
		a += pg.Area()
	}
	return a
}

// Bounds returns the box of all outer rings.
func (mp MultiPolygon) Bounds() Box {
	b := EmptyBox()
	for _, pg := range mp {
		b = b.Union(pg.Outer.Bounds())
	}
	return b
}

// Contains reports whether any polygon contains p.
func (mp MultiPolygon) Contains(p Point) bool {
	for _, pg := range mp {
		if pg.Contains(p) {
			return true
		}
	}
	return false
}

// Normalize orients every polygon.
func (mp MultiPolygon) Normalize() MultiPolygon {
	out := make(MultiPolygon, len(mp))
	for i, pg := range mp {
		out[i] = pg.Normalize()
	}
	return out
}

// Map applies a similarity transform to every ring.
func (mp MultiPolygon) Map(f func(Point) Point, mirror bool) MultiPolygon {
	out := make(MultiPolygon, len(mp))
	for i, pg := range mp {
		np := Polygon{Outer: pg.Outer.Map(f, mirror)}
		for _, h := range pg.Holes {
			np.Holes = append(np.Holes, h.Map(f, mirror))
		}
		out[i] = np
	}
	if mirror {
		return out.Normalize()
	}
	return out
}

// StripBulges replaces every arc in every ring by its chord.
func (mp MultiPolygon) StripBulges() MultiPolygon {
	return mp.mapRings(Polyline.StripBulges)
}

func (mp MultiPolygon) mapRings(f func(Polyline) Polyline) MultiPolygon {
	out := make(MultiPolygon, len(mp))
	for i, pg := range mp {
		np := Polygon{Outer: f(pg.Outer)}
		for _, h := range pg.Holes {
			np.Holes = append(np.Holes, f(h))
		}
		out[i] = np
	}
	return out
}

// IsEmpty reports whether the region has no polygons.
func (mp MultiPolygon) IsEmpty() bool { return len(mp) == 0 }
