package toolpath

import (
	"math"
	"sort"

	"cnc-cam-core/pkg/geom"
)

// rasterChains cuts parallel spans across the inset, zig-zagging between
// lines. Lines run along the longer side of the inset bounds; a tie goes
// to X. fill centres a partial span of that fraction on each full span.
func rasterChains(inset geom.MultiPolygon, stepIn, fill, limit float64) []chain {
	if fill <= 0 {
		return nil
	}
	fill = math.Min(fill, 1)
	bounds := inset.Bounds()
	alongX := bounds.Width() >= bounds.Height()
	lo, hi := bounds.Min.Y, bounds.Max.Y
	if !alongX {
		lo, hi = bounds.Min.X, bounds.Max.X
	}
	rings := make([][]geom.Point, 0, len(inset))
	for _, r := range inset.Rings() {
		rings = append(rings, r.Flatten(geom.Tolerance))
	}
	at := func(along, across float64) geom.Point {
		if alongX {
			return geom.Pt(along, across)
		}
		return geom.Pt(across, along)
	}

	n := int(math.Floor((hi-lo)/stepIn + 1e-9))
	first := lo + ((hi-lo)-float64(n)*stepIn)/2
	var (
		out     []chain
		last    geom.Point
		hasLast bool
		forward = true
	)
	for k := 0; k <= n; k++ {
		c := math.Max(lo+1e-7, math.Min(hi-1e-7, first+float64(k)*stepIn))
		spans := scanSpans(rings, c, alongX)
		if len(spans) == 0 {
			continue
		}
		if !forward {
			for i, j := 0, len(spans)-1; i < j; i, j = i+1, j-1 {
				spans[i], spans[j] = spans[j], spans[i]
			}
		}
		for _, sp := range spans {
			mid := (sp[0] + sp[1]) / 2
			half := (sp[1] - sp[0]) * fill / 2
			if half < geom.Eps {
				continue
			}
			a, b := at(mid-half, c), at(mid+half, c)
			if !forward {
				a, b = b, a
			}
			linked := hasLast && last.Distance(a) <= limit && segmentInside(inset, last, a)
			out = append(out, chain{pl: geom.NewOpen(a, b), linked: linked})
			last, hasLast = b, true
		}
		forward = !forward
	}
	return out
}

// scanSpans intersects the line at cross coordinate c with the rings and
// returns the inside intervals sorted along the line.
func scanSpans(rings [][]geom.Point, c float64, alongX bool) [][2]float64 {
	var xs []float64
	for _, ring := range rings {
		n := len(ring)
		for i := 0; i < n; i++ {
			a, b := ring[i], ring[(i+1)%n]
			au, av, bu, bv := a.Y, a.X, b.Y, b.X
			if !alongX {
				au, av, bu, bv = a.X, a.Y, b.X, b.Y
			}
			if (au > c) == (bu > c) {
				continue
			}
			t := (c - au) / (bu - au)
			xs = append(xs, av+t*(bv-av))
		}
	}
	sort.Float64s(xs)
	spans := make([][2]float64, 0, len(xs)/2)
	for i := 0; i+1 < len(xs); i += 2 {
		if xs[i+1]-xs[i] > geom.Eps {
			spans = append(spans, [2]float64{xs[i], xs[i+1]})
		}
	}
	return spans
}

// contourChains offsets the inset inward by stepIn until it collapses and
// cuts the rings outer to inner.
func contourChains(inset geom.MultiPolygon, stepIn, limit float64) []chain {
	var levels [][]geom.Polyline
	for cur := inset; !cur.IsEmpty() && len(levels) < maxPasses; cur = geom.Offset(cur, -stepIn) {
		levels = append(levels, cur.Rings())
	}
	return linkRings(levels, inset, limit)
}

// adaptiveChains grows a cleared region from the deepest point of each
// inset polygon by at most stepIn per step and cuts every new frontier.
// It reports false when it cannot start or does not converge within
// maxIter steps.
func adaptiveChains(inset geom.MultiPolygon, stepIn, limit float64, maxIter int) ([]chain, bool) {
	var levels [][]geom.Polyline
	for _, pg := range inset {
		region := geom.MultiPolygon{pg}
		centre, depth := deepestPoint(region)
		if depth <= geom.Eps {
			return nil, false
		}
		cleared := geom.Intersection(disc(centre, stepIn), region)
		if cleared.IsEmpty() {
			return nil, false
		}
		area := cleared.Area()
		levels = append(levels, cleared.Rings())
		converged := false
		for i := 0; i < maxIter; i++ {
			next := geom.Intersection(geom.Offset(cleared, stepIn), region)
			grown := next.Area()
			if next.IsEmpty() || grown-area <= 1e-4*math.Max(1, area) {
				converged = true
				break
			}
			cleared, area = next, grown
			levels = append(levels, next.Rings())
		}
		if !converged {
			return nil, false
		}
	}
	return linkRings(levels, inset, limit), true
}

// adaptiveBound allows for frontiers that wind through the pocket.
func adaptiveBound(inset geom.MultiPolygon, stepIn float64) int {
	n := int(4*inset.Bounds().Diagonal()/stepIn) + 16
	if n > 2000 {
		n = 2000
	}
	return n
}

// linkRings orders the rings of each level nearest-first, starts each one
// at the vertex closest to the tool and links it at depth when the move is
// short and stays inside the inset.
func linkRings(levels [][]geom.Polyline, inset geom.MultiPolygon, limit float64) []chain {
	var (
		out     []chain
		pos     geom.Point
		hasLast bool
	)
	for _, rings := range levels {
		left := append([]geom.Polyline(nil), rings...)
		for len(left) > 0 {
			best, bestV, bestD := 0, 0, math.Inf(1)
			if hasLast {
				for i, r := range left {
					for j, v := range r.Vertices {
						if d := v.P.Distance(pos); d < bestD {
							best, bestV, bestD = i, j, d
						}
					}
				}
			}
			r := rotateStart(left[best], bestV)
			left = append(left[:best], left[best+1:]...)
			start := r.Start()
			linked := hasLast && bestD <= limit && segmentInside(inset, pos, start)
			out = append(out, chain{pl: r, linked: linked})
			pos, hasLast = start, true
		}
	}
	return out
}

// rotateStart returns the closed ring starting at vertex i.
func rotateStart(r geom.Polyline, i int) geom.Polyline {
	if i == 0 || !r.Closed {
		return r
	}
	vs := make([]geom.Vertex, 0, len(r.Vertices))
	vs = append(vs, r.Vertices[i:]...)
	vs = append(vs, r.Vertices[:i]...)
	return geom.Polyline{Vertices: vs, Closed: true}
}

// segmentInside samples the open segment a-b against the inset, treating
// points on the boundary as inside.
func segmentInside(inset geom.MultiPolygon, a, b geom.Point) bool {
	const samples = 16
	for i := 1; i < samples; i++ {
		p := a.Lerp(b, float64(i)/samples)
		if !inset.Contains(p) && boundaryDistance(inset, p) > 1e-6 {
			return false
		}
	}
	return true
}

func boundaryDistance(mp geom.MultiPolygon, p geom.Point) float64 {
	d := math.Inf(1)
	for _, r := range mp.Rings() {
		d = math.Min(d, r.DistanceTo(p))
	}
	return d
}

// deepestPoint approximates the interior point farthest from the boundary
// with a coarse grid followed by one refinement around the best cell.
func deepestPoint(region geom.MultiPolygon) (geom.Point, float64) {
	const grid = 32
	b := region.Bounds()
	best, bestD := geom.Point{}, 0.0
	search := func(min geom.Point, w, h float64) {
		for i := 0; i <= grid; i++ {
			for j := 0; j <= grid; j++ {
				p := geom.Pt(min.X+w*float64(i)/grid, min.Y+h*float64(j)/grid)
				if !region.Contains(p) {
					continue
				}
				if d := boundaryDistance(region, p); d > bestD {
					best, bestD = p, d
				}
			}
		}
	}
	search(b.Min, b.Width(), b.Height())
	if bestD > 0 {
		cw, ch := b.Width()/grid, b.Height()/grid
		search(best.Sub(geom.Pt(cw, ch)), 2*cw, 2*ch)
	}
	return best, bestD
}

// disc is a full circle region made of two half arcs.
func disc(c geom.Point, r float64) geom.MultiPolygon {
	ring := geom.Polyline{
		Vertices: []geom.Vertex{
			{P: c.Add(geom.Pt(r, 0)), Bulge: 1},
			{P: c.Sub(geom.Pt(r, 0)), Bulge: 1},
		},
		Closed: true,
	}
	return geom.MultiPolygon{{Outer: ring}}
}
