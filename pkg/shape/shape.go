// Package shape provides the drawable shape variants of a design.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package shape

import (
	"math"

	"cnc-cam-core/pkg/geom"
)

// Kind names a shape variant. It is the "type" discriminator in design
// files.
type Kind string

const (
	KindRectangle      Kind = "rectangle"
	KindCircle         Kind = "circle"
	KindEllipse        Kind = "ellipse"
	KindLine           Kind = "line"
	KindTriangle       Kind = "triangle"
	KindRegularPolygon Kind = "polygon"
	KindGear           Kind = "gear"
	KindSprocket       Kind = "sprocket"
	KindText           Kind = "text"
	KindPath           Kind = "path"
)

// Shape is the capability set shared by every variant. Shapes are values:
// transforms return a new shape. Rotation is stored separately and applied
// when geometry is produced, so vertices are never rewritten by a rotation.
//
// Gear, Sprocket and Text synthesise their outlines on every call.
type Shape interface {
	Kind() Kind
	// Center is the natural centre that Rotation turns about.
	Center() geom.Point
	// Rotation in degrees, CCW positive.
	Rotation() float64
	WithRotation(deg float64) Shape

	// Outlines returns the tessellated outline in world coordinates with
	// the rotation applied. Closed outlines keep exact arcs as bulges.
	Outlines() []geom.Polyline
	// PathEvents renders the outline as move/line/quad/cubic/close events.
	PathEvents() geom.Path
	// Bounds is the axis-aligned box of the rotated shape.
	Bounds() geom.Box
	// Contains reports whether p is inside the shape or within tol of its
	// outline.
	Contains(p geom.Point, tol float64) bool
	// Region returns the closed region. Open shapes return nil.
	Region() geom.MultiPolygon

	Translate(dx, dy float64) Shape
	ScaleAbout(anchor geom.Point, sx, sy float64) Shape
	RotateAbout(c geom.Point, deg float64) Shape

	Validate() error
}

// local is implemented by every variant: the outline in the unrotated frame.
type local interface {
	Shape
	localOutlines() []geom.Polyline
}

func rotated(s local) []geom.Polyline {
	pls := s.localOutlines()
	if s.Rotation() == 0 {
		return pls
	}
	c, deg := s.Center(), s.Rotation()
	out := make([]geom.Polyline, len(pls))
	for i, pl := range pls {
		out[i] = pl.RotateAbout(c, deg)
	}
	return out
}

// rotatedBounds rotates the corners of the unrotated box about the centre.
func rotatedBounds(s local) geom.Box {
	b := geom.EmptyBox()
	for _, pl := range s.localOutlines() {
		b = b.Union(pl.Bounds())
	}
	if b.IsEmpty() || s.Rotation() == 0 {
		return b
	}
	return b.Rotated(s.Center(), s.Rotation())
}

// containsLocal tests p against the unrotated outline.
func containsLocal(s local, p geom.Point, tol float64) bool {
	if s.Rotation() != 0 {
		p = p.RotateAbout(s.Center(), -s.Rotation())
	}
	pls := s.localOutlines()
	if geom.WindingAt(pls, p) != 0 {
		return true
	}
	for _, pl := range pls {
		if pl.DistanceTo(p) <= tol {
			return true
		}
	}
	return false
}

func regionOf(s local) geom.MultiPolygon {
	var closed []geom.Polyline
	for _, pl := range rotated(s) {
		if pl.Closed {
			closed = append(closed, pl)
		}
	}
	if len(closed) == 0 {
		return nil
	}
	return geom.RegionOf(closed, false)
}

// meanScale is the isotropic factor used by shapes that cannot scale
// anisotropically.
func meanScale(sx, sy float64) float64 {
	return math.Sqrt(math.Abs(sx * sy))
}

// Boolean combines the closed regions of two shapes. The result is always a
// closed Path; an empty result is a Path with no events.
func Boolean(op geom.BoolOp, a, b Shape) *Path {
	mp := geom.Boolean(op, a.Region(), b.Region())
	return &Path{Events: geom.PathOf(mp.Rings()...), Closed: true}
}

// Area returns the area of a shape's closed region.
func Area(s Shape) float64 {
	return s.Region().Area()
}
