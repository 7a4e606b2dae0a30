package geom

import "math"

// Box is an axis-aligned bounding box. The zero value is a degenerate box
// at the origin; use EmptyBox for an accumulator.
type Box struct {
	Min, Max Point
}

// EmptyBox returns a box that contains nothing and absorbs any point.
func EmptyBox() Box {
	inf := math.Inf(1)
	return Box{Min: Point{inf, inf}, Max: Point{-inf, -inf}}
}

// BoxOf returns the smallest box containing pts.
func BoxOf(pts ...Point) Box {
	b := EmptyBox()
	for _, p := range pts {
		b = b.Extend(p)
	}
	return b
}

// BoxAround returns the box of half-extents (hw, hh) centred at c.
func BoxAround(c Point, hw, hh float64) Box {
	return Box{Min: Point{c.X - hw, c.Y - hh}, Max: Point{c.X + hw, c.Y + hh}}
}

func (b Box) IsEmpty() bool { return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y }
func (b Box) Width() float64 { return b.Max.X - b.Min.X }
func (b Box) Height() float64 { return b.Max.Y - b.Min.Y }
func (b Box) Center() Point { return Point{(b.Min.X + b.Max.X) / 2, (b.Min.Y + b.Max.Y) / 2} }
func (b Box) Diagonal() float64 { return b.Min.Distance(b.Max) }

// Extend returns b grown to include p.
func (b Box) Extend(p Point) Box {
	return Box{
		Min: Point{math.Min(b.Min.X, p.X), math.Min(b.Min.Y, p.Y)},
		Max: Point{math.Max(b.Max.X, p.X), math.Max(b.Max.Y, p.Y)},
	}
}

// Union returns the smallest box containing both.
func (b Box) Union(o Box) Box {
	if o.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return o
	}
	return b.Extend(o.Min).Extend(o.Max)
}

// Expand grows the box by d on every side.
func (b Box) Expand(d float64) Box {
	return Box{Min: Point{b.Min.X - d, b.Min.Y - d}, Max: Point{b.Max.X + d, b.Max.Y + d}}
}

// Corners returns the four corners CCW from Min.
func (b Box) Corners() [4]Point {
	return [4]Point{b.Min, {b.Max.X, b.Min.Y}, b.Max, {b.Min.X, b.Max.Y}}
}

// Contains reports whether p lies inside or on the box.
func (b Box) Contains(p Point) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y
}

// Intersects reports whether the boxes overlap, touching included.
func (b Box) Intersects(o Box) bool {
	return b.Min.X <= o.Max.X && o.Min.X <= b.Max.X &&
		b.Min.Y <= o.Max.Y && o.Min.Y <= b.Max.Y
}

// Rotated returns the box of b's corners rotated by deg about c.
func (b Box) Rotated(c Point, deg float64) Box {
	if deg == 0 || b.IsEmpty() {
		return b
	}
	out := EmptyBox()
	for _, p := range b.Corners() {
		out = out.Extend(p.RotateAbout(c, deg))
	}
	return out
}
