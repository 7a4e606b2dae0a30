package toolpath

import (
	"math"

	"cnc-cam-core/pkg/geom"
)

// maxRampLegs bounds zig-zag legs and helix turns for very shallow ramps.
const maxRampLegs = 1000

// chain is one continuous cut. linked marks a chain that is reached from
// the end of the previous one by a feed move at depth instead of a retract.
type chain struct {
	pl     geom.Polyline
	linked bool
}

// builder accumulates segments and tracks the tool position across passes.
type builder struct {
	safeZ     float64
	feed      float64
	rampFeed  float64
	spindle   float64
	rampAngle float64

	segs []Segment
	pos  geom.Point
	z    float64
}

func (b *builder) take() []Segment {
	s := b.segs
	b.segs = nil
	return s
}

func (b *builder) emit(s Segment) {
	s.Spindle = b.spindle
	b.segs = append(b.segs, s)
	b.pos = s.End
	b.z = s.Z
}

func (b *builder) retract() {
	if b.z < b.safeZ-1e-9 {
		b.emit(Segment{Kind: Rapid, Start: b.pos, End: b.pos, Z: b.safeZ})
	}
}

func (b *builder) rapidTo(p geom.Point) {
	b.retract()
	if !b.pos.Near(p, geom.Eps) {
		b.emit(Segment{Kind: Rapid, Start: b.pos, End: p, Z: b.safeZ})
	}
}

func (b *builder) plunge(z float64) {
	if z < b.z-1e-9 {
		b.emit(Segment{Kind: Linear, Start: b.pos, End: b.pos, Z: z, Feed: b.feed})
	}
}

func (b *builder) lineTo(p geom.Point, z float64) {
	if b.pos.Near(p, 1e-9) && math.Abs(b.z-z) < 1e-9 {
		return
	}
	b.emit(Segment{Kind: Linear, Start: b.pos, End: p, Z: z, Feed: b.feed})
}

// edge emits one polyline edge at depth z; bulged edges become arcs.
func (b *builder) edge(e geom.Edge, z float64, ramp bool) {
	feed := b.feed
	if ramp {
		feed = b.rampFeed
	}
	if arc, ok := e.Arc(); ok {
		kind := ArcCW
		if arc.CCW() {
			kind = ArcCCW
		}
		b.emit(Segment{Kind: kind, Start: e.A, End: e.B, Center: arc.Center, Z: z, Feed: feed, Ramp: ramp})
		return
	}
	if e.A.Near(e.B, 1e-9) && !ramp {
		return
	}
	b.emit(Segment{Kind: Linear, Start: e.A, End: e.B, Z: z, Feed: feed, Ramp: ramp})
}

// cut walks pl at depth z. Unlinked chains get a full entry from safe
// height; zPrev is the level already cleared above this pass.
func (b *builder) cut(c chain, z, zPrev float64) {
	if len(c.pl.Vertices) == 0 {
		return
	}
	start := c.pl.Start()
	if c.linked && math.Abs(b.z-z) < 1e-9 {
		b.lineTo(start, z)
	} else {
		b.enter(c.pl, z, zPrev)
	}
	for _, e := range c.pl.Edges() {
		b.edge(e, z, false)
	}
}

// enter moves to the chain start and descends to z, ramping when a ramp
// angle is set and the first edge allows it.
func (b *builder) enter(pl geom.Polyline, z, zPrev float64) {
	b.rapidTo(pl.Start())
	if zPrev > b.safeZ {
		zPrev = b.safeZ
	}
	if b.rampAngle > 0 && zPrev-z > 1e-9 && pl.NumEdges() > 0 {
		first := pl.Edge(0)
		_, isArc := first.Arc()
		switch {
		case isArc && pl.Closed:
			b.plunge(zPrev)
			b.helix(pl, zPrev, z)
			return
		case !isArc && first.Length() > geom.Eps:
			b.plunge(zPrev)
			b.zigzag(first.A, first.B, zPrev, z)
			return
		}
	}
	b.plunge(z)
}

// helix descends along the closed contour in whole turns so the ramp ends
// on the start vertex. The slope never exceeds tan(rampAngle).
func (b *builder) helix(pl geom.Polyline, top, bottom float64) {
	perimeter := pl.Length()
	if perimeter < geom.Eps {
		b.plunge(bottom)
		return
	}
	run := (top - bottom) / math.Tan(geom.Radians(b.rampAngle))
	turns := int(math.Ceil(run/perimeter - 1e-9))
	if turns < 1 {
		turns = 1
	}
	if turns > maxRampLegs {
		turns = maxRampLegs
	}
	total := float64(turns) * perimeter
	travelled := 0.0
	edges := pl.Edges()
	for t := 0; t < turns; t++ {
		for i, e := range edges {
			travelled += e.Length()
			z := top - (top-bottom)*travelled/total
			if t == turns-1 && i == len(edges)-1 {
				z = bottom
			}
			b.edge(e, z, true)
		}
	}
}

// zigzag ramps back and forth along a-b with an even number of legs so it
// finishes on a.
func (b *builder) zigzag(a, c geom.Point, top, bottom float64) {
	span := a.Distance(c)
	run := (top - bottom) / math.Tan(geom.Radians(b.rampAngle))
	legs := int(math.Ceil(run/span - 1e-9))
	if legs%2 == 1 {
		legs++
	}
	if legs < 2 {
		legs = 2
	}
	if legs > maxRampLegs {
		legs = maxRampLegs
	}
	leg := math.Min(span, run/float64(legs))
	out := a.Add(c.Sub(a).Unit().Mul(leg))
	for i := 0; i < legs; i++ {
		p := out
		if i%2 == 1 {
			p = a
		}
		z := top - (top-bottom)*float64(i+1)/float64(legs)
		if i == legs-1 {
			z = bottom
		}
		b.emit(Segment{Kind: Linear, Start: b.pos, End: p, Z: z, Feed: b.rampFeed, Ramp: true})
	}
}
