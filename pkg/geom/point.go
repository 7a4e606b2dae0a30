// Package geom is the 2D geometry kernel: points, boxes, bulge polylines,
// path events, boolean operations and parallel offsets.
//
// All coordinates are millimetres in a Y-up frame.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package geom

import "math"

// Eps is the distance under which two points are considered coincident.
const Eps = 1e-5

// Point is a 2-D Cartesian coordinate.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Pt is shorthand for Point{x, y}.
func Pt(x, y float64) Point { return Point{X: x, Y: y} }

func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }
func (p Point) Mul(s float64) Point { return Point{p.X * s, p.Y * s} }
func (p Point) Dot(q Point) float64 { return p.X*q.X + p.Y*q.Y }
func (p Point) Cross(q Point) float64 { return p.X*q.Y - p.Y*q.X }
func (p Point) Len() float64 { return math.Hypot(p.X, p.Y) }
func (p Point) Angle() float64 { return math.Atan2(p.Y, p.X) }
func (p Point) Perp() Point { return Point{-p.Y, p.X} }
func (p Point) Lerp(q Point, t float64) Point {
	return Point{p.X + (q.X-p.X)*t, p.Y + (q.Y-p.Y)*t}
}

// Distance returns the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

// Near reports whether p and q are within eps of each other.
func (p Point) Near(q Point, eps float64) bool {
	dx, dy := p.X-q.X, p.Y-q.Y
	return dx*dx+dy*dy <= eps*eps
}

// Unit returns p scaled to length one. The zero vector stays zero.
func (p Point) Unit() Point {
	l := p.Len()
	if l == 0 {
		return Point{}
	}
	return Point{p.X / l, p.Y / l}
}

// Rotate rotates p about the origin by rad radians (CCW positive).
func (p Point) Rotate(rad float64) Point {
	s, c := math.Sincos(rad)
	return Point{p.X*c - p.Y*s, p.X*s + p.Y*c}
}

// RotateAbout rotates p about c by deg degrees (CCW positive).
func (p Point) RotateAbout(c Point, deg float64) Point {
	if deg == 0 {
		return p
	}
	return p.Sub(c).Rotate(deg * math.Pi / 180).Add(c)
}

// ScaleAbout scales p about anchor by (sx, sy).
func (p Point) ScaleAbout(anchor Point, sx, sy float64) Point {
	return Point{anchor.X + (p.X-anchor.X)*sx, anchor.Y + (p.Y-anchor.Y)*sy}
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 { return deg * math.Pi / 180 }

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 { return rad * 180 / math.Pi }

// normAngle maps a to (-pi, pi].
func normAngle(a float64) float64 {
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}
