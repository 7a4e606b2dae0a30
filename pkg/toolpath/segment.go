// Package toolpath turns annotated design objects into ordered tool motion.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package toolpath

import (
	"fmt"
	"math"

	"cnc-cam-core/pkg/geom"
)

// Kind is the motion type of a segment.
type Kind int

const (
	Rapid Kind = iota
	Linear
	ArcCW
	ArcCCW
)

func (k Kind) String() string {
	switch k {
	case Rapid:
		return "rapid"
	case Linear:
		return "linear"
	case ArcCW:
		return "arc_cw"
	case ArcCCW:
		return "arc_ccw"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Segment is one tool move. Z is the height at the end of the move; the
// start height is the Z of the previous segment. Center is only meaningful
// for arcs. A rapid with Start == End is a pure Z move.
type Segment struct {
	Kind    Kind
	Start   geom.Point
	End     geom.Point
	Center  geom.Point
	Z       float64
	Feed    float64
	Spindle float64
	Ramp    bool
}

// IsArc reports whether the segment is a circular move.
func (s Segment) IsArc() bool { return s.Kind == ArcCW || s.Kind == ArcCCW }

// IsRetract reports whether the segment is a rapid with no XY motion.
func (s Segment) IsRetract() bool { return s.Kind == Rapid && s.Start.Near(s.End, geom.Eps) }

// Radius is the arc radius measured from the start point.
func (s Segment) Radius() float64 { return s.Start.Distance(s.Center) }

// Sweep returns the signed sweep angle of an arc in radians. A closed arc
// (start equal to end) sweeps a full turn.
func (s Segment) Sweep() float64 {
	a0 := s.Start.Sub(s.Center).Angle()
	a1 := s.End.Sub(s.Center).Angle()
	d := a1 - a0
	if s.Kind == ArcCCW {
		for d <= 0 {
			d += 2 * math.Pi
		}
	} else {
		for d >= 0 {
			d -= 2 * math.Pi
		}
	}
	return d
}

// PlanarLength is the XY length of the move.
func (s Segment) PlanarLength() float64 {
	if s.IsArc() {
		return s.Radius() * math.Abs(s.Sweep())
	}
	return s.Start.Distance(s.End)
}

// Toolpath is the motion for one shape at one depth pass.
type Toolpath struct {
	Segments     []Segment
	ToolDiameter float64
	Depth        float64
	ShapeID      int64
}

// IsEmpty reports whether the toolpath has no cutting moves.
func (tp Toolpath) IsEmpty() bool {
	for _, s := range tp.Segments {
		if s.Kind != Rapid {
			return false
		}
	}
	return true
}

// Length is the total 3D travel, rapids included.
func (tp Toolpath) Length() float64 {
	if len(tp.Segments) == 0 {
		return 0
	}
	total := 0.0
	z := tp.Segments[0].Z
	for _, s := range tp.Segments {
		total += math.Hypot(s.PlanarLength(), s.Z-z)
		z = s.Z
	}
	return total
}

// CutLength is the travel of feed moves only.
func (tp Toolpath) CutLength() float64 {
	total := 0.0
	z := 0.0
	for i, s := range tp.Segments {
		if i == 0 {
			z = s.Z
		}
		if s.Kind != Rapid {
			total += math.Hypot(s.PlanarLength(), s.Z-z)
		}
		z = s.Z
	}
	return total
}

// Bounds is the XY extent of all moves. Arcs contribute their full extent.
func (tp Toolpath) Bounds() geom.Box {
	b := geom.EmptyBox()
	for _, s := range tp.Segments {
		b = b.Extend(s.Start).Extend(s.End)
		if s.IsArc() {
			b = b.Union(geom.Arc{
				Center: s.Center,
				Radius: s.Radius(),
				Start:  s.Start.Sub(s.Center).Angle(),
				Sweep:  s.Sweep(),
			}.Bounds())
		}
	}
	return b
}

// End returns the final XY position and Z of the toolpath.
func (tp Toolpath) End() (geom.Point, float64, bool) {
	if len(tp.Segments) == 0 {
		return geom.Point{}, 0, false
	}
	s := tp.Segments[len(tp.Segments)-1]
	return s.End, s.Z, true
}

// TotalLength sums Length over a list of toolpaths.
func TotalLength(tps []Toolpath) float64 {
	total := 0.0
	for _, tp := range tps {
		total += tp.Length()
	}
	return total
}
