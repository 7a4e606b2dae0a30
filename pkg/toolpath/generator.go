package toolpath

import (
	"math"

	"cnc-cam-core/pkg/design"
	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/geom"
	"cnc-cam-core/pkg/log"
)

// Generator produces toolpaths for one tool. Origin is where the tool is
// assumed to be before the first move; callers chaining several objects
// update it to the previous end point.
type Generator struct {
	Tool   design.Tool
	SafeZ  float64
	Origin geom.Point

	// AdaptiveIterations bounds the adaptive frontier loop. Zero picks a
	// bound from the pocket size.
	AdaptiveIterations int

	log *log.Logger
}

// NewGenerator returns a generator for the tool with the given safe height.
func NewGenerator(tool design.Tool, safeZ float64) *Generator {
	return &Generator{Tool: tool, SafeZ: safeZ, log: log.GetLogger("toolpath")}
}

func (g *Generator) logger() *log.Logger {
	if g.log == nil {
		g.log = log.GetLogger("toolpath")
	}
	return g.log
}

// Generate dispatches on the annotation's operation.
func (g *Generator) Generate(o *design.Object, a design.Annotation) []Toolpath {
	if a.Operation == design.OpPocket {
		return g.Pocket(o, a)
	}
	return g.Profile(o, a)
}

// Profile follows the effective outline of o once per depth pass. Outer
// boundaries run clockwise and holes counter-clockwise; open outlines are
// cut as drawn.
func (g *Generator) Profile(o *design.Object, a design.Annotation) (out []Toolpath) {
	defer g.recoverInto(o, "profile", &out)

	region, open := o.Effective()
	var chains []chain
	for _, pg := range region {
		chains = append(chains, chain{pl: pg.Outer.Oriented(false)})
		for _, h := range pg.Holes {
			chains = append(chains, chain{pl: h.Oriented(true)})
		}
	}
	for _, pl := range open {
		if pl.NumEdges() > 0 {
			chains = append(chains, chain{pl: pl})
		}
	}
	return g.passes(o.ID, chains, a)
}

// Pocket clears the interior of o inside a tool-radius inset. A collapsed
// inset yields no toolpaths.
func (g *Generator) Pocket(o *design.Object, a design.Annotation) (out []Toolpath) {
	defer g.recoverInto(o, "pocket", &out)

	region, _ := o.Effective()
	if region.IsEmpty() || g.Tool.Diameter <= 0 {
		return nil
	}
	inset := geom.Offset(region, -g.Tool.Diameter/2)
	if inset.IsEmpty() {
		g.logger().WithField("shape", o.ID).Debug("pocket inset collapsed")
		return nil
	}
	stepIn := a.StepIn
	if stepIn <= 0 {
		stepIn = g.Tool.Diameter / 2
	}
	limit := math.Max(2*stepIn, g.Tool.Diameter)

	var chains []chain
	switch a.Strategy.Kind {
	case design.StrategyRaster:
		chains = rasterChains(inset, stepIn, a.Strategy.FillRatio, limit)
	case design.StrategyAdaptive:
		iters := g.AdaptiveIterations
		if iters <= 0 {
			iters = adaptiveBound(inset, stepIn)
		}
		var ok bool
		chains, ok = adaptiveChains(inset, stepIn, limit, iters)
		if !ok {
			g.logger().WithField("shape", o.ID).Info("adaptive clearing made no progress, using contour-parallel")
			chains = contourChains(inset, stepIn, limit)
		}
	default:
		chains = contourChains(inset, stepIn, limit)
	}
	return g.passes(o.ID, chains, a)
}

// passes repeats the chains at every depth, deepest last.
func (g *Generator) passes(id int64, chains []chain, a design.Annotation) []Toolpath {
	if len(chains) == 0 || g.Tool.Diameter <= 0 {
		return nil
	}
	depths := PassDepths(a.StartDepth, a.CutDepth, a.StepDown)
	if len(depths) == 0 {
		return nil
	}
	rampFeed := g.Tool.PlungeRate
	if rampFeed <= 0 {
		rampFeed = g.Tool.FeedRate
	}
	b := &builder{
		safeZ:     g.SafeZ,
		feed:      g.Tool.FeedRate,
		rampFeed:  rampFeed,
		spindle:   g.Tool.SpindleSpeed,
		rampAngle: a.RampAngle,
		pos:       g.Origin,
		z:         g.SafeZ,
	}
	zPrev := -math.Abs(a.StartDepth)
	out := make([]Toolpath, 0, len(depths))
	for _, z := range depths {
		for _, c := range chains {
			b.cut(c, z, zPrev)
		}
		b.retract()
		out = append(out, Toolpath{
			Segments:     b.take(),
			ToolDiameter: g.Tool.Diameter,
			Depth:        z,
			ShapeID:      id,
		})
		zPrev = z
	}
	g.logger().WithFields(log.Fields{
		"shape":  id,
		"passes": len(out),
		"chains": len(chains),
	}).Debug("toolpath generated")
	return out
}

func (g *Generator) recoverInto(o *design.Object, op string, out *[]Toolpath) {
	if r := recover(); r != nil {
		*out = nil
		err := errors.FromPanic(r)
		g.logger().WithError(err).WithField("shape", o.ID).Warnf("%s generation failed", op)
	}
}
