package toolpath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cnc-cam-core/pkg/design"
	"cnc-cam-core/pkg/geom"
	"cnc-cam-core/pkg/shape"
)

func testTool(d float64) design.Tool {
	return design.Tool{Diameter: d, FeedRate: 500, SpindleSpeed: 12000}
}

func object(s shape.Shape) *design.Object {
	return &design.Object{ID: 1, Shape: s, Annotation: design.DefaultAnnotation()}
}

// checkContinuity asserts every segment starts where the previous ended and
// every arc keeps a constant radius.
func checkContinuity(t *testing.T, tps []Toolpath, origin geom.Point) {
	t.Helper()
	pos := origin
	for _, tp := range tps {
		for i, s := range tp.Segments {
			assert.True(t, s.Start.Near(pos, 1e-6), "segment %d starts at %v, tool at %v", i, s.Start, pos)
			if s.IsArc() {
				assert.InDelta(t, s.Start.Distance(s.Center), s.End.Distance(s.Center), 1e-6)
			}
			pos = s.End
		}
	}
}

func TestPassDepths(t *testing.T) {
	tests := []struct {
		name                 string
		start, cut, stepDown float64
		want                 []float64
	}{
		{"single", 0, 2, 2, []float64{-2}},
		{"last pass shallower", 0, 5, 2, []float64{-2, -4, -5}},
		{"negative cut depth", 0, -1.5, 0, []float64{-1.5}},
		{"start below surface", 1, 3, 1, []float64{-2, -3}},
		{"start already deep", 4, 3, 1, []float64{-3}},
		{"zero depth", 0, 0, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PassDepths(tt.start, tt.cut, tt.stepDown)
			require.Len(t, got, len(tt.want))
			for i := range got {
				assert.InDelta(t, tt.want[i], got[i], 1e-9)
			}
		})
	}
}

func TestProfileRectangle(t *testing.T) {
	g := NewGenerator(testTool(3.175), 5)
	o := object(shape.NewRectangle(geom.Pt(30, 25), 40, 30))
	o.CutDepth, o.StepDown = 2, 2

	tps := g.Profile(o, o.Annotation)
	require.Len(t, tps, 1)
	tp := tps[0]
	assert.Equal(t, int64(1), tp.ShapeID)
	assert.Equal(t, -2.0, tp.Depth)
	assert.Equal(t, 3.175, tp.ToolDiameter)
	checkContinuity(t, tps, geom.Point{})

	kinds := make([]Kind, len(tp.Segments))
	for i, s := range tp.Segments {
		kinds[i] = s.Kind
	}
	assert.Equal(t, []Kind{Rapid, Linear, Linear, Linear, Linear, Linear, Rapid}, kinds)

	plunge := tp.Segments[1]
	assert.Equal(t, plunge.Start, plunge.End)
	assert.Equal(t, -2.0, plunge.Z)
	assert.True(t, tp.Segments[6].IsRetract())
	assert.Equal(t, 5.0, tp.Segments[6].Z)

	// the outline is walked clockwise and closes on its first vertex
	var pts []geom.Point
	for _, s := range tp.Segments[2:6] {
		pts = append(pts, s.Start)
	}
	assert.False(t, geom.NewRing(pts...).IsCCW())
	assert.Equal(t, tp.Segments[2].Start, tp.Segments[5].End)
	// perimeter plus the plunge from safe height
	assert.InDelta(t, 147, tp.CutLength(), 1e-9)
	assert.True(t, geom.BoxOf(geom.Pt(10, 10), geom.Pt(50, 40)).Expand(1e-9).Contains(tp.Segments[3].End))
}

func TestProfileCircleTwoHalfArcs(t *testing.T) {
	g := NewGenerator(design.Tool{Diameter: 3, FeedRate: 400, SpindleSpeed: 10000}, 5)
	o := object(shape.NewCircle(geom.Pt(25, 25), 15))
	o.CutDepth, o.StepDown = -1.5, 0

	tps := g.Profile(o, o.Annotation)
	require.Len(t, tps, 1)
	checkContinuity(t, tps, geom.Point{})

	var arcs []Segment
	for _, s := range tps[0].Segments {
		if s.IsArc() {
			arcs = append(arcs, s)
		}
	}
	require.Len(t, arcs, 2)
	for _, a := range arcs {
		assert.Equal(t, ArcCW, a.Kind)
		assert.True(t, a.Center.Near(geom.Pt(25, 25), 1e-9))
		assert.Equal(t, -1.5, a.Z)
		assert.InDelta(t, -math.Pi, a.Sweep(), 1e-9)
	}
	assert.True(t, arcs[0].Start.Near(geom.Pt(40, 25), 1e-9))
	assert.True(t, arcs[0].End.Near(geom.Pt(10, 25), 1e-9))
	assert.InDelta(t, 2*math.Pi*15+6.5, tps[0].CutLength(), 1e-6)
	assert.InDelta(t, 40.0, tps[0].Bounds().Max.X, 1e-9)
	assert.InDelta(t, 40.0, tps[0].Bounds().Max.Y, 1e-9)
}

func TestProfileMultiPassDeepestLast(t *testing.T) {
	g := NewGenerator(testTool(3), 5)
	o := object(shape.NewRectangle(geom.Pt(0, 0), 20, 20))
	o.CutDepth, o.StepDown = 3, 1.25

	tps := g.Profile(o, o.Annotation)
	require.Len(t, tps, 3)
	assert.Equal(t, []float64{-1.25, -2.5, -3}, []float64{tps[0].Depth, tps[1].Depth, tps[2].Depth})
	checkContinuity(t, tps, geom.Point{})
	for _, tp := range tps {
		last := tp.Segments[len(tp.Segments)-1]
		assert.True(t, last.IsRetract(), "every pass ends at safe height")
		for _, s := range tp.Segments {
			if s.Kind != Rapid {
				assert.Equal(t, tp.Depth, s.Z)
			}
		}
	}
}

func TestProfileHolesCounterClockwise(t *testing.T) {
	ring := shape.Boolean(geom.OpDifference,
		shape.NewRectangle(geom.Pt(0, 0), 40, 40),
		shape.NewRectangle(geom.Pt(0, 0), 10, 10))
	o := &design.Object{ID: 3, Shape: *ring, Annotation: design.DefaultAnnotation()}
	g := NewGenerator(testTool(3), 5)

	tps := g.Profile(o, o.Annotation)
	require.Len(t, tps, 1)
	checkContinuity(t, tps, geom.Point{})

	// split the pass into loops at each rapid
	var loops [][]geom.Point
	var cur []geom.Point
	for _, s := range tps[0].Segments {
		if s.Kind == Rapid {
			if len(cur) > 2 {
				loops = append(loops, cur)
			}
			cur = nil
			continue
		}
		if !s.Start.Near(s.End, 1e-9) {
			cur = append(cur, s.Start)
		}
	}
	require.Len(t, loops, 2)
	outer, hole := geom.NewRing(loops[0]...), geom.NewRing(loops[1]...)
	assert.InDelta(t, -1600, outer.Area(), 1e-6)
	assert.InDelta(t, 100, hole.Area(), 1e-6)
}

func TestProfileOpenLine(t *testing.T) {
	o := object(shape.Line{Start: geom.Pt(0, 0), End: geom.Pt(10, 5)})
	tps := NewGenerator(testTool(3), 5).Profile(o, o.Annotation)
	require.Len(t, tps, 1)
	checkContinuity(t, tps, geom.Point{})
	segs := tps[0].Segments
	// first vertex is the origin, so the entry is a bare plunge
	assert.Equal(t, Linear, segs[0].Kind)
	assert.Equal(t, geom.Pt(10, 5), segs[1].End)
}

func TestPocketCollapsedInsetIsEmpty(t *testing.T) {
	g := NewGenerator(testTool(3), 5)
	o := object(shape.NewRectangle(geom.Pt(0, 0), 1, 1))
	o.Operation = design.OpPocket
	assert.Empty(t, g.Pocket(o, o.Annotation))
	assert.Empty(t, g.Generate(o, o.Annotation))

	line := object(shape.Line{Start: geom.Pt(0, 0), End: geom.Pt(10, 0)})
	assert.Empty(t, g.Pocket(line, line.Annotation))
}

func TestPocketRaster(t *testing.T) {
	g := NewGenerator(testTool(3.175), 5)
	o := object(shape.NewRectangle(geom.Pt(30, 25), 40, 30))
	o.Operation = design.OpPocket
	o.Strategy = design.Raster(1)
	o.StepIn = 2

	tps := g.Pocket(o, o.Annotation)
	require.Len(t, tps, 1)
	checkContinuity(t, tps, geom.Point{})

	inset := geom.BoxOf(geom.Pt(10+1.5875, 10+1.5875), geom.Pt(50-1.5875, 40-1.5875)).Expand(1e-6)
	rapids, cuts := 0, 0
	for _, s := range tps[0].Segments {
		if s.Kind == Rapid {
			rapids++
			continue
		}
		assert.True(t, inset.Contains(s.End), "cut leaves the inset at %v", s.End)
		if !s.Start.Near(s.End, 1e-9) && math.Abs(s.Start.Y-s.End.Y) < 1e-9 {
			cuts++
			assert.InDelta(t, 40-3.175, s.PlanarLength(), 1e-6)
		}
	}
	// lines along X, zig-zag linked without retracting
	assert.Equal(t, 2, rapids)
	assert.Equal(t, int(math.Floor((30-3.175)/2))+1, cuts)
}

func TestPocketRasterFillRatioAndDirection(t *testing.T) {
	g := NewGenerator(testTool(2), 5)
	o := object(shape.NewRectangle(geom.Pt(0, 0), 20, 40))
	o.Operation = design.OpPocket
	o.Strategy = design.Raster(0.5)
	o.StepIn = 3

	tps := g.Pocket(o, o.Annotation)
	require.Len(t, tps, 1)
	for _, s := range tps[0].Segments {
		if s.Kind == Linear && math.Abs(s.Start.X-s.End.X) < 1e-9 && s.PlanarLength() > 10 {
			// spans run along Y, the longer side, at half the inset height
			assert.InDelta(t, 19, s.PlanarLength(), 1e-6)
			assert.InDelta(t, 0, (s.Start.Y+s.End.Y)/2, 1e-6)
		}
	}

	o.Strategy = design.Raster(0)
	assert.Empty(t, g.Pocket(o, o.Annotation))
}

func TestContourChainsOuterToInner(t *testing.T) {
	inset := geom.Offset(geom.MultiPolygon{{Outer: shape.NewRectangle(geom.Pt(30, 25), 40, 30).Outlines()[0]}}, -1.5875)
	chains := contourChains(inset, 2, 4)
	require.Len(t, chains, 7)
	assert.False(t, chains[0].linked)
	prev := math.Inf(1)
	for i, c := range chains {
		area := math.Abs(c.pl.Area())
		assert.Less(t, area, prev, "ring %d", i)
		prev = area
		if i > 0 {
			assert.True(t, c.linked, "ring %d", i)
		}
	}
}

func TestPocketContourParallel(t *testing.T) {
	g := NewGenerator(testTool(3.175), 5)
	o := object(shape.NewRectangle(geom.Pt(30, 25), 40, 30))
	o.Operation = design.OpPocket
	o.StepIn = 2
	o.CutDepth, o.StepDown = 2, 1

	tps := g.Pocket(o, o.Annotation)
	require.Len(t, tps, 2)
	checkContinuity(t, tps, geom.Point{})
	first := tps[0].Segments
	// entry lands on the first inset ring
	assert.InDelta(t, 1.5875, geom.NewRing(
		geom.Pt(10, 10), geom.Pt(50, 10), geom.Pt(50, 40), geom.Pt(10, 40),
	).DistanceTo(first[1].Start), 1e-6)
}

func TestAdaptiveGrowsOutward(t *testing.T) {
	inset := geom.Offset(geom.MultiPolygon{{Outer: shape.NewCircle(geom.Pt(0, 0), 20).Outlines()[0]}}, -1.5)
	chains, ok := adaptiveChains(inset, 2, 4, adaptiveBound(inset, 2))
	require.True(t, ok)
	require.Greater(t, len(chains), 5)

	first := chains[0].pl.Bounds()
	assert.LessOrEqual(t, first.Width(), 4+1e-6)
	prev := 0.0
	for _, c := range chains {
		a := math.Abs(c.pl.Area())
		assert.GreaterOrEqual(t, a, prev-1e-6)
		prev = a
	}
	assert.InDelta(t, inset.Area(), prev, 0.5)

	_, ok = adaptiveChains(inset, 2, 4, 1)
	assert.False(t, ok, "one step cannot clear the pocket")
}

func TestAdaptiveClearsRectangle(t *testing.T) {
	rect := shape.NewRectangle(geom.Pt(0, 0), 40, 20).Outlines()[0]
	inset := geom.Offset(geom.MultiPolygon{{Outer: rect}}, -1.5)
	require.Len(t, inset, 1)

	chains, ok := adaptiveChains(inset, 2, 4, adaptiveBound(inset, 2))
	require.True(t, ok)
	require.Greater(t, len(chains), 3)

	// the seed is a small disc on the medial axis
	seed := chains[0].pl.Bounds()
	assert.LessOrEqual(t, seed.Width(), 4+1e-6)
	assert.True(t, inset.Contains(seed.Center()))
	assert.InDelta(t, inset.Area(), math.Abs(chains[len(chains)-1].pl.Area()), 0.5)

	o := object(shape.NewRectangle(geom.Pt(30, 20), 40, 20))
	o.Operation = design.OpPocket
	o.StepIn = 2
	o.Strategy = design.Adaptive()
	adaptive := NewGenerator(testTool(3), 5).Pocket(o, o.Annotation)
	o.Strategy = design.ContourParallel()
	contour := NewGenerator(testTool(3), 5).Pocket(o, o.Annotation)
	require.Len(t, adaptive, 1)
	require.Len(t, contour, 1)
	checkContinuity(t, adaptive, geom.Point{})
	assert.NotEqual(t, contour, adaptive)
}

func TestPocketAdaptiveFallsBack(t *testing.T) {
	o := object(shape.NewCircle(geom.Pt(0, 0), 20))
	o.Operation = design.OpPocket
	o.Strategy = design.Adaptive()
	o.StepIn = 2

	g := NewGenerator(testTool(3), 5)
	g.AdaptiveIterations = 1
	fallback := g.Pocket(o, o.Annotation)
	contour := NewGenerator(testTool(3), 5)
	o.Strategy = design.ContourParallel()
	assert.Equal(t, contour.Pocket(o, o.Annotation), fallback)

	o.Strategy = design.Adaptive()
	g.AdaptiveIterations = 0
	adaptive := g.Pocket(o, o.Annotation)
	require.Len(t, adaptive, 1)
	checkContinuity(t, adaptive, geom.Point{})
	assert.NotEqual(t, fallback, adaptive)
}

func TestHelixRamp(t *testing.T) {
	g := NewGenerator(testTool(3), 5)
	o := object(shape.NewCircle(geom.Pt(25, 25), 15))
	o.CutDepth, o.StepDown = 1, 1
	o.RampAngle = 10

	tps := g.Profile(o, o.Annotation)
	require.Len(t, tps, 1)
	checkContinuity(t, tps, geom.Point{})

	var ramps []Segment
	z := 0.0
	for _, s := range tps[0].Segments {
		if s.Ramp {
			assert.True(t, s.IsArc())
			slope := (z - s.Z) / s.PlanarLength()
			assert.LessOrEqual(t, slope, math.Tan(geom.Radians(10))+1e-9)
			ramps = append(ramps, s)
		}
		z = s.Z
	}
	require.Len(t, ramps, 2)
	last := ramps[len(ramps)-1]
	assert.Equal(t, -1.0, last.Z)
	assert.True(t, last.End.Near(geom.Pt(40, 25), 1e-9))
}

func TestZigZagRamp(t *testing.T) {
	g := NewGenerator(testTool(3), 5)
	o := object(shape.NewRectangle(geom.Pt(0, 0), 40, 30))
	o.CutDepth, o.StepDown = 1, 1
	o.RampAngle = 5

	tps := g.Profile(o, o.Annotation)
	require.Len(t, tps, 1)
	checkContinuity(t, tps, geom.Point{})

	var ramps []Segment
	var start geom.Point
	z := 0.0
	for _, s := range tps[0].Segments {
		if s.Ramp {
			if len(ramps) == 0 {
				start = s.Start
			}
			assert.Equal(t, Linear, s.Kind)
			assert.InDelta(t, math.Tan(geom.Radians(5)), (z-s.Z)/s.PlanarLength(), 1e-9)
			ramps = append(ramps, s)
		}
		z = s.Z
	}
	require.NotEmpty(t, ramps)
	assert.Zero(t, len(ramps)%2)
	last := ramps[len(ramps)-1]
	assert.Equal(t, -1.0, last.Z)
	assert.True(t, last.End.Near(start, 1e-9))
}

func TestSegmentGeometry(t *testing.T) {
	s := Segment{Kind: ArcCCW, Start: geom.Pt(1, 0), End: geom.Pt(0, 1), Center: geom.Pt(0, 0)}
	assert.InDelta(t, math.Pi/2, s.Sweep(), 1e-12)
	assert.InDelta(t, math.Pi/2, s.PlanarLength(), 1e-12)
	s.Kind = ArcCW
	assert.InDelta(t, -3*math.Pi/2, s.Sweep(), 1e-12)

	tp := Toolpath{Segments: []Segment{
		{Kind: Rapid, Start: geom.Pt(0, 0), End: geom.Pt(3, 4), Z: 5},
		{Kind: Linear, Start: geom.Pt(3, 4), End: geom.Pt(3, 4), Z: -1},
	}}
	assert.InDelta(t, 11, tp.Length(), 1e-12)
	assert.InDelta(t, 6, tp.CutLength(), 1e-12)
	assert.False(t, tp.IsEmpty())
	end, z, ok := tp.End()
	assert.True(t, ok)
	assert.Equal(t, geom.Pt(3, 4), end)
	assert.Equal(t, -1.0, z)
	assert.Equal(t, "arc_cw", ArcCW.String())
}
