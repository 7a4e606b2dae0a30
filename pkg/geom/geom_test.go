package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x0, y0, size float64) MultiPolygon {
	return MultiPolygon{{Outer: NewRing(
		Pt(x0, y0), Pt(x0+size, y0), Pt(x0+size, y0+size), Pt(x0, y0+size),
	)}}
}

func circleRing(c Point, r float64) Polyline {
	return Polyline{Closed: true, Vertices: []Vertex{
		{P: Pt(c.X+r, c.Y), Bulge: 1},
		{P: Pt(c.X-r, c.Y), Bulge: 1},
	}}
}

func TestDistanceSymmetry(t *testing.T) {
	pts := []Point{{0, 0}, {1.5, -2}, {-1e3, 7.25}, {3e-4, 9e5}}
	for _, a := range pts {
		for _, b := range pts {
			assert.InDelta(t, a.Distance(b), b.Distance(a), 1e-10)
		}
	}
}

func TestRotationLaws(t *testing.T) {
	c := Pt(3, -4)
	for _, p := range []Point{{10, 2}, {-7, 0.5}, {3, 8}} {
		for _, deg := range []float64{0, 17, 90, 133.3, -260} {
			q := p.RotateAbout(c, deg)
			assert.InDelta(t, p.Distance(c), q.Distance(c), 1e-6)

			back := q.RotateAbout(c, -deg)
			assert.InDelta(t, p.X, back.X, 1e-4)
			assert.InDelta(t, p.Y, back.Y, 1e-4)
		}
		full := p.RotateAbout(c, 360)
		assert.InDelta(t, p.X, full.X, 1e-6)
		assert.InDelta(t, p.Y, full.Y, 1e-6)
	}
}

func TestBoxInvariants(t *testing.T) {
	a := BoxOf(Pt(0, 0), Pt(4, 3))
	b := BoxOf(Pt(3, 2), Pt(8, 9))
	c := BoxOf(Pt(10, 10), Pt(11, 11))

	assert.Equal(t, a.Intersects(b), b.Intersects(a))
	assert.Equal(t, a.Intersects(c), c.Intersects(a))
	assert.True(t, a.Intersects(b))
	assert.False(t, a.Intersects(c))

	for _, box := range []Box{a, b, c, a.Rotated(Pt(2, 1.5), 30)} {
		assert.True(t, box.Contains(box.Center()))
		for _, corner := range box.Corners() {
			assert.True(t, box.Contains(corner))
		}
	}
	assert.True(t, EmptyBox().IsEmpty())
	assert.Equal(t, a, EmptyBox().Union(a))
}

func TestArcFromBulge(t *testing.T) {
	arc, ok := ArcFromBulge(Pt(10, 0), Pt(-10, 0), 1)
	require.True(t, ok)
	assert.InDelta(t, 0, arc.Center.X, 1e-12)
	assert.InDelta(t, 0, arc.Center.Y, 1e-12)
	assert.InDelta(t, 10, arc.Radius, 1e-12)
	assert.InDelta(t, math.Pi, arc.Sweep, 1e-12)
	mid := arc.PointAt(0.5)
	assert.InDelta(t, 10, mid.Y, 1e-9, "CCW half arc from +X passes through +Y")

	_, ok = ArcFromBulge(Pt(0, 0), Pt(1, 0), 0)
	assert.False(t, ok)
}

func TestPolylineAreaWithArcs(t *testing.T) {
	c := circleRing(Pt(5, 5), 3)
	assert.InDelta(t, math.Pi*9, c.Area(), 1e-9)
	assert.True(t, c.IsCCW())

	rev := c.Reverse()
	assert.InDelta(t, -math.Pi*9, rev.Area(), 1e-9)
	assert.Equal(t, c.Start(), rev.Start())

	b := c.Bounds()
	assert.InDelta(t, 2, b.Min.X, 1e-9)
	assert.InDelta(t, 8, b.Max.Y, 1e-9)
}

func TestReverseOpen(t *testing.T) {
	pl := Polyline{Vertices: []Vertex{{P: Pt(0, 0), Bulge: 0.5}, {P: Pt(2, 0)}, {P: Pt(2, 2)}}}
	rev := pl.Reverse()
	assert.Equal(t, Pt(2, 2), rev.Vertices[0].P)
	assert.Equal(t, Pt(0, 0), rev.Vertices[2].P)
	assert.Equal(t, -0.5, rev.Vertices[1].Bulge)
	assert.InDelta(t, pl.Length(), rev.Length(), 1e-12)
}

func TestBooleanOps(t *testing.T) {
	a := square(0, 0, 2)
	b := square(1, 1, 2)

	assert.InDelta(t, 7, Union(a, b).Area(), 1e-6)
	assert.InDelta(t, 1, Intersection(a, b).Area(), 1e-6)
	assert.InDelta(t, 3, Difference(a, b).Area(), 1e-6)
	assert.InDelta(t, 6, Boolean(OpXor, a, b).Area(), 1e-6)
}

func TestBooleanHole(t *testing.T) {
	got := Difference(square(0, 0, 4), square(1, 1, 2))
	require.Len(t, got, 1)
	require.Len(t, got[0].Holes, 1)
	assert.InDelta(t, 12, got.Area(), 1e-6)
	assert.True(t, got[0].Outer.IsCCW())
	assert.False(t, got[0].Holes[0].IsCCW())
	assert.False(t, got.Contains(Pt(2, 2)))
	assert.True(t, got.Contains(Pt(0.5, 0.5)))
}

func TestBooleanCoincidentEdges(t *testing.T) {
	got := Union(square(0, 0, 1), square(1, 0, 1))
	require.Len(t, got, 1)
	assert.InDelta(t, 2, got.Area(), 1e-9)
	assert.Len(t, got[0].Outer.Vertices, 4)

	// shifted by less than the snap tolerance
	near := Union(square(0, 0, 1), square(1+Eps/4, 0, 1))
	assert.Len(t, near, 1)
}

func TestBooleanDisjointAndEmpty(t *testing.T) {
	got := Union(square(0, 0, 1), square(5, 5, 1))
	assert.Len(t, got, 2)
	assert.Empty(t, Intersection(square(0, 0, 1), square(5, 5, 1)))
	assert.Empty(t, Union(nil, nil))
}

func TestRegionOfFigureEight(t *testing.T) {
	bowtie := NewRing(Pt(0, 0), Pt(2, 2), Pt(2, 0), Pt(0, 2))
	got := RegionOf([]Polyline{bowtie}, false)
	assert.Len(t, got, 2)
	assert.InDelta(t, 2, got.Area(), 1e-6)
}

func TestRegionOfNestedContours(t *testing.T) {
	outer := NewRing(Pt(0, 0), Pt(10, 0), Pt(10, 10), Pt(0, 10))
	// same orientation hole: removed by even-odd, filled by nonzero
	inner := NewRing(Pt(3, 3), Pt(7, 3), Pt(7, 7), Pt(3, 7))
	assert.InDelta(t, 84, RegionOf([]Polyline{outer, inner}, true).Area(), 1e-6)
	assert.InDelta(t, 100, RegionOf([]Polyline{outer, inner}, false).Area(), 1e-6)
	assert.InDelta(t, 84, RegionOf([]Polyline{outer, inner.Reverse()}, false).Area(), 1e-6)
}

func TestOffsetSquare(t *testing.T) {
	s := square(0, 0, 10)

	grown := Offset(s, 1)
	require.Len(t, grown, 1)
	assert.InDelta(t, 100+40+math.Pi, grown.Area(), 1e-3)
	assert.True(t, grown[0].Outer.HasArcs(), "outer corners become arcs")
	b := grown.Bounds()
	assert.InDelta(t, -1, b.Min.X, 1e-6)
	assert.InDelta(t, 11, b.Max.Y, 1e-6)

	shrunk := Offset(s, -1)
	require.Len(t, shrunk, 1)
	assert.InDelta(t, 64, shrunk.Area(), 1e-6)

	assert.Empty(t, Offset(s, -6))
}

func TestOffsetAreaSigns(t *testing.T) {
	shapes := []MultiPolygon{
		square(0, 0, 10),
		{{Outer: circleRing(Pt(0, 0), 5)}},
		Difference(square(0, 0, 10), square(3, 3, 4)),
	}
	for _, s := range shapes {
		base := s.Area()
		for _, d := range []float64{0.5, 1.25} {
			up := Offset(s, d).Area() - base
			down := Offset(s, -d).Area() - base
			assert.Greater(t, up, 0.0)
			assert.Less(t, down, 0.0)
		}
	}
}

func TestOffsetRoundTrip(t *testing.T) {
	s := square(0, 0, 10)
	back := Offset(Offset(s, 2), -2)
	require.Len(t, back, 1)
	assert.InDelta(t, 100, back.Area(), 0.05)
	for _, c := range s[0].Outer.Vertices {
		assert.Less(t, back[0].Outer.DistanceTo(c.P), 0.02)
	}
}

func TestOffsetCircleKeepsArcs(t *testing.T) {
	c := MultiPolygon{{Outer: circleRing(Pt(25, 25), 15)}}
	got := Offset(c, -1.5)
	require.Len(t, got, 1)
	assert.InDelta(t, math.Pi*13.5*13.5, got.Area(), 0.05)
	for i := 0; i < got[0].Outer.NumEdges(); i++ {
		arc, ok := got[0].Outer.Edge(i).Arc()
		require.True(t, ok)
		assert.InDelta(t, 13.5, arc.Radius, 0.02)
		assert.LessOrEqual(t, math.Abs(arc.Sweep), math.Pi+1e-6)
	}
}

func TestArcOnlyRingsSurvive(t *testing.T) {
	disc := RegionOf([]Polyline{circleRing(Pt(0, 0), 10)}, false)
	require.Len(t, disc, 1)
	for _, e := range disc[0].Outer.Edges() {
		arc, ok := e.Arc()
		require.True(t, ok)
		assert.InDelta(t, 10, arc.Radius, 0.02)
	}
	assert.InDelta(t, math.Pi*100, disc.Area(), 0.05)

	other := MultiPolygon{{Outer: circleRing(Pt(10, 0), 10)}}
	both := Union(disc, other)
	require.Len(t, both, 1)
	// discs of radius 10 spaced 10 apart overlap in this lens
	lens := 200*math.Acos(0.5) - 50*math.Sqrt(3)
	assert.InDelta(t, 2*math.Pi*100-lens, both.Area(), 1)
	assert.InDelta(t, lens, Intersection(disc, other).Area(), 1)

	// a slot is two half-circles joined by straight edges
	slot := RegionOf([]Polyline{{Closed: true, Vertices: []Vertex{
		{P: Pt(0, -2)}, {P: Pt(10, -2), Bulge: 1}, {P: Pt(10, 2)}, {P: Pt(0, 2), Bulge: 1},
	}}}, false)
	require.Len(t, slot, 1)
	assert.InDelta(t, 40+math.Pi*4, slot.Area(), 0.05)
}

func TestOffsetRingOrientation(t *testing.T) {
	ccw := NewRing(Pt(0, 0), Pt(4, 0), Pt(4, 4), Pt(0, 4))
	cw := ccw.Reverse()
	assert.Greater(t, OffsetRing(ccw, 1).Area(), 16.0)
	assert.InDelta(t, 4, OffsetRing(cw, 1).Area(), 1e-6)
}

func TestOffsetSplitsNarrowWaist(t *testing.T) {
	// two 4x4 lobes joined by a 1 mm bridge
	dumbbell := MultiPolygon{{Outer: NewRing(
		Pt(0, 0), Pt(4, 0), Pt(4, 1.5), Pt(6, 1.5), Pt(6, 0), Pt(10, 0),
		Pt(10, 4), Pt(6, 4), Pt(6, 2.5), Pt(4, 2.5), Pt(4, 4), Pt(0, 4),
	)}}
	got := Offset(dumbbell, -0.75)
	assert.Len(t, got, 2)
}

func TestOffsetAdversarial(t *testing.T) {
	nan := MultiPolygon{{Outer: NewRing(Pt(math.NaN(), 0), Pt(1, 1), Pt(0, math.Inf(1)))}}
	assert.NotPanics(t, func() { Offset(nan, 1) })
	assert.NotPanics(t, func() { Offset(MultiPolygon{{Outer: NewRing(Pt(1, 1))}}, 1) })
	assert.NotPanics(t, func() { Fillet(MultiPolygon{{Outer: NewRing(Pt(0, 0), Pt(1, 0), Pt(2, 0))}}, 1) })
}

func TestFillet(t *testing.T) {
	s := square(0, 0, 10)
	f := Fillet(s, 2)
	require.Len(t, f, 1)
	assert.LessOrEqual(t, f.Area(), s.Area())
	assert.InDelta(t, 100-(4-math.Pi)*4, f.Area(), 1e-3)
	assert.False(t, f.Contains(Pt(0.1, 0.1)), "corner is rounded away")

	// every arc of the filleted outline has radius r
	for i := 0; i < f[0].Outer.NumEdges(); i++ {
		if arc, ok := f[0].Outer.Edge(i).Arc(); ok {
			assert.InDelta(t, 2, arc.Radius, 1e-3)
		}
	}
	b := f.Bounds()
	assert.InDelta(t, 0, b.Min.X, 1e-6)
	assert.InDelta(t, 10, b.Max.X, 1e-6)
}

func TestChamfer(t *testing.T) {
	s := square(0, 0, 10)
	c := Chamfer(s, 1)
	require.Len(t, c, 1)
	assert.InDelta(t, 98, c.Area(), 1e-6)
	assert.False(t, c[0].Outer.HasArcs())
	assert.Len(t, c[0].Outer.Vertices, 8)

	circle := MultiPolygon{{Outer: circleRing(Pt(0, 0), 5)}}
	assert.InDelta(t, circle.Area(), Chamfer(circle, 1).Area(), 0.05)
}

func TestPathFlattenCircle(t *testing.T) {
	p := PathOf(circleRing(Pt(0, 0), 10))
	pls := p.Flatten(Tolerance)
	require.Len(t, pls, 1)
	assert.True(t, pls[0].Closed)
	assert.InDelta(t, math.Pi*100, pls[0].Area(), 0.5)
	assert.Equal(t, Close, p[len(p)-1].Op)
}

func TestPathFlattenOpen(t *testing.T) {
	var p Path
	p.MoveTo(Pt(0, 0))
	p.LineTo(Pt(5, 0))
	p.QuadTo(Pt(7.5, 2.5), Pt(10, 0))
	pls := p.Flatten(Tolerance)
	require.Len(t, pls, 1)
	assert.False(t, pls[0].Closed)
	assert.Equal(t, Pt(10, 0), pls[0].End())
}
