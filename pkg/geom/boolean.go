package geom

import (
	"math"
	"sort"
)

// BoolOp selects a boolean operation on two regions.
type BoolOp int

const (
	OpUnion BoolOp = iota
	OpIntersection
	OpDifference
	OpXor
)

func (op BoolOp) String() string {
	switch op {
	case OpUnion:
		return "union"
	case OpIntersection:
		return "intersection"
	case OpDifference:
		return "difference"
	case OpXor:
		return "xor"
	}
	return "unknown"
}

// fillRule decides whether a point with operand windings w0, w1 is inside
// the result.
type fillRule func(w0, w1 int) bool

func ruleFor(op BoolOp) fillRule {
	switch op {
	case OpIntersection:
		return func(w0, w1 int) bool { return w0 != 0 && w1 != 0 }
	case OpDifference:
		return func(w0, w1 int) bool { return w0 != 0 && w1 == 0 }
	case OpXor:
		return func(w0, w1 int) bool { return (w0 != 0) != (w1 != 0) }
	default:
		return func(w0, w1 int) bool { return w0 != 0 || w1 != 0 }
	}
}

var (
	ruleNonZero  fillRule = func(w0, _ int) bool { return w0 != 0 }
	rulePositive fillRule = func(w0, _ int) bool { return w0 > 0 }
	ruleEvenOdd  fillRule = func(w0, _ int) bool { return w0%2 != 0 }
)

// Boolean combines two regions. Coincident edges collapse within Eps and
// sliver rings are dropped. Degenerate input yields an empty result.
func Boolean(op BoolOp, a, b MultiPolygon) MultiPolygon {
	out, _ := resolve([][]Polyline{a.Normalize().Rings(), b.Normalize().Rings()}, ruleFor(op))
	return out
}

// Union returns a ∪ b.
func Union(a, b MultiPolygon) MultiPolygon { return Boolean(OpUnion, a, b) }

// Intersection returns a ∩ b.
func Intersection(a, b MultiPolygon) MultiPolygon { return Boolean(OpIntersection, a, b) }

// Difference returns a − b.
func Difference(a, b MultiPolygon) MultiPolygon { return Boolean(OpDifference, a, b) }

// RegionOf resolves arbitrary closed rings into a normalised region using
// the nonzero fill rule, or even-odd when evenOdd is set.
func RegionOf(rings []Polyline, evenOdd bool) MultiPolygon {
	closed := make([]Polyline, 0, len(rings))
	for _, r := range rings {
		if r.Closed {
			closed = append(closed, r)
		}
	}
	rule := ruleNonZero
	if evenOdd {
		rule = ruleEvenOdd
	}
	out, _ := resolve([][]Polyline{closed}, rule)
	return out
}

// arcTag records which source arc a flattened edge came from so arcs can be
// re-fitted after resolution. id 0 marks a straight edge.
type arcTag struct {
	id     int
	center Point
	radius float64
}

type srcEdge struct {
	a, b    Point
	operand int
	tag     arcTag
}

func flattenRings(rings []Polyline, operand int, nextTag *int, out []srcEdge) []srcEdge {
	for _, r := range rings {
		if !r.Closed || len(r.Vertices) < 2 {
			continue
		}
		for i := 0; i < r.NumEdges(); i++ {
			e := r.Edge(i)
			if e.A.Near(e.B, 1e-12) {
				continue
			}
			arc, ok := e.Arc()
			if !ok {
				out = append(out, srcEdge{a: e.A, b: e.B, operand: operand})
				continue
			}
			*nextTag++
			tag := arcTag{id: *nextTag, center: arc.Center, radius: arc.Radius}
			pts := arc.Flatten(Tolerance)
			pts[0], pts[len(pts)-1] = e.A, e.B
			for j := 0; j+1 < len(pts); j++ {
				out = append(out, srcEdge{a: pts[j], b: pts[j+1], operand: operand, tag: tag})
			}
		}
	}
	return out
}

// vertexPool snaps points within Eps onto a shared id.
type vertexPool struct {
	pts  []Point
	grid map[[2]int64][]int
}

func newVertexPool() *vertexPool {
	return &vertexPool{grid: make(map[[2]int64][]int)}
}

func (vp *vertexPool) id(p Point) int {
	cx := int64(math.Floor(p.X / Eps))
	cy := int64(math.Floor(p.Y / Eps))
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for _, id := range vp.grid[[2]int64{cx + dx, cy + dy}] {
				if vp.pts[id].Near(p, Eps) {
					return id
				}
			}
		}
	}
	id := len(vp.pts)
	vp.pts = append(vp.pts, p)
	key := [2]int64{cx, cy}
	vp.grid[key] = append(vp.grid[key], id)
	return id
}

// splitParams finds where each edge must be split so that no two edges
// cross or overlap except at shared endpoints.
func splitParams(edges []srcEdge) [][]float64 {
	params := make([][]float64, len(edges))
	order := make([]int, len(edges))
	for i := range order {
		order[i] = i
	}
	minX := func(e srcEdge) float64 { return math.Min(e.a.X, e.b.X) }
	maxX := func(e srcEdge) float64 { return math.Max(e.a.X, e.b.X) }
	sort.SliceStable(order, func(i, j int) bool { return minX(edges[order[i]]) < minX(edges[order[j]]) })

	for oi, i := range order {
		ei := edges[i]
		limit := maxX(ei) + Eps
		iy0, iy1 := math.Min(ei.a.Y, ei.b.Y)-Eps, math.Max(ei.a.Y, ei.b.Y)+Eps
		for _, j := range order[oi+1:] {
			ej := edges[j]
			if minX(ej) > limit {
				break
			}
			if math.Max(ej.a.Y, ej.b.Y) < iy0 || math.Min(ej.a.Y, ej.b.Y) > iy1 {
				continue
			}
			ti, tj := intersectSegments(ei.a, ei.b, ej.a, ej.b)
			params[i] = append(params[i], ti...)
			params[j] = append(params[j], tj...)
		}
	}
	return params
}

// intersectSegments returns split parameters on ab and cd for every
// crossing, touching or collinear overlap within Eps.
func intersectSegments(a, b, c, d Point) (tab, tcd []float64) {
	r := b.Sub(a)
	s := d.Sub(c)
	rl, sl := r.Len(), s.Len()
	if rl == 0 || sl == 0 {
		return nil, nil
	}
	denom := r.Cross(s)
	ca := c.Sub(a)
	if math.Abs(denom) > 1e-12*rl*sl {
		t := ca.Cross(s) / denom
		u := ca.Cross(r) / denom
		et, eu := Eps/rl, Eps/sl
		if t < -et || t > 1+et || u < -eu || u > 1+eu {
			return nil, nil
		}
		return []float64{clamp01(t)}, []float64{clamp01(u)}
	}
	// parallel: only collinear overlaps matter
	if math.Abs(ca.Cross(r))/rl > Eps {
		return nil, nil
	}
	addOn := func(out []float64, p, o, dir Point, l float64) []float64 {
		t := p.Sub(o).Dot(dir) / (l * l)
		if t > 0 && t < 1 {
			out = append(out, t)
		}
		return out
	}
	tab = addOn(tab, c, a, r, rl)
	tab = addOn(tab, d, a, r, rl)
	tcd = addOn(tcd, a, c, s, sl)
	tcd = addOn(tcd, b, c, s, sl)
	return tab, tcd
}

func clamp01(t float64) float64 { return math.Max(0, math.Min(1, t)) }

// uniqueEdge is an undirected edge of the arrangement with the net number
// of directed copies per operand running from u to v.
type uniqueEdge struct {
	u, v int
	net  [2]int
	tag  arcTag
}

type directedEdge struct {
	from, to int
	tag      arcTag
}

// resolve is the boolean core shared by booleans, region normalisation
// and offset cleanup. ok is false when an internal failure was recovered;
// the result is then empty.
func resolve(operands [][]Polyline, rule fillRule) (result MultiPolygon, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			result, ok = nil, false
		}
	}()

	var edges []srcEdge
	nextTag := 0
	for k, rings := range operands {
		edges = flattenRings(rings, k, &nextTag, edges)
	}
	if len(edges) == 0 {
		return nil, true
	}

	pool := newVertexPool()
	for _, e := range edges {
		pool.id(e.a)
		pool.id(e.b)
	}
	params := splitParams(edges)

	index := make(map[[2]int]int)
	var uedges []uniqueEdge
	addSub := func(u, v int, e srcEdge) {
		if u == v {
			return
		}
		key, sign := [2]int{u, v}, 1
		if u > v {
			key, sign = [2]int{v, u}, -1
		}
		idx, ok := index[key]
		if !ok {
			idx = len(uedges)
			index[key] = idx
			uedges = append(uedges, uniqueEdge{u: key[0], v: key[1], tag: e.tag})
		}
		uedges[idx].net[e.operand] += sign
	}
	for i, e := range edges {
		ts := append([]float64{0, 1}, params[i]...)
		sort.Float64s(ts)
		prev := pool.id(e.a)
		for _, t := range ts[1:] {
			var id int
			switch t {
			case 1:
				id = pool.id(e.b)
			default:
				id = pool.id(e.a.Lerp(e.b, t))
			}
			addSub(prev, id, e)
			prev = id
		}
	}

	pts := pool.pts
	var out []directedEdge
	for i, e := range uedges {
		if e.net == [2]int{} {
			continue
		}
		p, q := pts[e.u], pts[e.v]
		m := p.Lerp(q, 0.5)
		n := q.Sub(p).Unit().Perp()
		var left [2]int
		for j, f := range uedges {
			if j == i || f.net == [2]int{} {
				continue
			}
			c := rayCrossing(pts[f.u], pts[f.v], m, n)
			if c == 0 {
				continue
			}
			left[0] += c * f.net[0]
			left[1] += c * f.net[1]
		}
		right := [2]int{left[0] - e.net[0], left[1] - e.net[1]}
		inL := rule(left[0], left[1])
		inR := rule(right[0], right[1])
		switch {
		case inL && !inR:
			out = append(out, directedEdge{from: e.u, to: e.v, tag: e.tag})
		case inR && !inL:
			out = append(out, directedEdge{from: e.v, to: e.u, tag: e.tag})
		}
	}
	return assemble(pts, out), true
}

// rayCrossing returns the signed crossing of segment ab with the ray from m
// along n: +1 when ab crosses right-to-left as seen along n, -1 for the
// reverse, 0 when it misses.
func rayCrossing(a, b, m, n Point) int {
	sa := n.Cross(a.Sub(m))
	sb := n.Cross(b.Sub(m))
	var sign int
	switch {
	case sa <= 0 && sb > 0:
		sign = 1
	case sa > 0 && sb <= 0:
		sign = -1
	default:
		return 0
	}
	x := a.Add(b.Sub(a).Mul(sa / (sa - sb)))
	if x.Sub(m).Dot(n) <= 0 {
		return 0
	}
	return sign
}

type taggedRing struct {
	pts  []Point
	tags []arcTag
	area float64
}

// assemble links directed boundary edges into rings, always taking the
// sharpest left turn, then groups them into polygons.
func assemble(pts []Point, edges []directedEdge) MultiPolygon {
	adj := make(map[int][]int)
	for i, e := range edges {
		adj[e.from] = append(adj[e.from], i)
	}
	used := make([]bool, len(edges))
	dir := func(i int) Point { return pts[edges[i].to].Sub(pts[edges[i].from]) }

	var rings []taggedRing
	for start := range edges {
		if used[start] {
			continue
		}
		used[start] = true
		chain := []int{start}
		cur := start
		closed := false
		for steps := 0; steps <= len(edges); steps++ {
			din := dir(cur)
			best, bestTurn := -1, math.Inf(-1)
			for _, j := range adj[edges[cur].to] {
				if used[j] && j != start {
					continue
				}
				dout := dir(j)
				turn := math.Atan2(din.Cross(dout), din.Dot(dout))
				if turn > bestTurn {
					best, bestTurn = j, turn
				}
			}
			if best < 0 {
				break
			}
			if best == start {
				closed = true
				break
			}
			used[best] = true
			chain = append(chain, best)
			cur = best
		}
		if !closed || len(chain) < 3 {
			continue
		}
		tr := taggedRing{pts: make([]Point, len(chain)), tags: make([]arcTag, len(chain))}
		for k, ei := range chain {
			tr.pts[k] = pts[edges[ei].from]
			tr.tags[k] = edges[ei].tag
		}
		tr.area = ringArea(tr.pts)
		if math.Abs(tr.area) < 1e-10 {
			continue
		}
		rings = append(rings, tr)
	}
	return groupRings(rings)
}

func groupRings(rings []taggedRing) MultiPolygon {
	var outers, holes []taggedRing
	for _, r := range rings {
		if r.area > 0 {
			outers = append(outers, r)
		} else {
			holes = append(holes, r)
		}
	}
	polys := make([]Polygon, len(outers))
	for i, o := range outers {
		polys[i].Outer = rebuildArcs(o)
	}
	for _, h := range holes {
		probe := h.pts[0].Lerp(h.pts[1%len(h.pts)], 0.5)
		best := -1
		for i, o := range outers {
			if windingNumber(o.pts, probe) == 0 {
				continue
			}
			if best < 0 || o.area < outers[best].area {
				best = i
			}
		}
		if best >= 0 {
			polys[best].Holes = append(polys[best].Holes, rebuildArcs(h))
		}
	}
	// a ring of arcs rebuilds to as few as two vertices, so slivers are
	// judged on the flattened ring
	var out MultiPolygon
	for i, p := range polys {
		if len(outers[i].pts) >= 3 && len(p.Outer.Vertices) >= 2 {
			out = append(out, p)
		}
	}
	return out
}

// rebuildArcs turns a flattened ring back into a bulge polyline, merging
// runs of edges from the same source arc. Runs are cut so no arc sweeps
// more than half a turn.
func rebuildArcs(r taggedRing) Polyline {
	n := len(r.pts)
	start := 0
	for i := 0; i < n; i++ {
		if r.tags[i].id != r.tags[(i-1+n)%n].id {
			start = i
			break
		}
	}
	var vs []Vertex
	i := 0
	for i < n {
		k := (start + i) % n
		tag := r.tags[k]
		if tag.id == 0 {
			vs = append(vs, Vertex{P: r.pts[k]})
			i++
			continue
		}
		var sweep float64
		j := i
		for j < n {
			kk := (start + j) % n
			if r.tags[kk].id != tag.id {
				break
			}
			a := r.pts[kk].Sub(tag.center).Angle()
			b := r.pts[(kk+1)%n].Sub(tag.center).Angle()
			d := normAngle(b - a)
			if j > i && math.Abs(sweep+d) > math.Pi+1e-6 {
				break
			}
			sweep += d
			j++
		}
		vs = append(vs, Vertex{P: r.pts[k], Bulge: BulgeForSweep(sweep)})
		i = j
	}
	return Polyline{Vertices: vs, Closed: true}.Simplify()
}
