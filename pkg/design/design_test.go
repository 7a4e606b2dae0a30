package design

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cnc-cam-core/pkg/geom"
	"cnc-cam-core/pkg/shape"
)

func TestAddAssignsMonotonicIDs(t *testing.T) {
	d := New()
	a := d.Add(shape.NewCircle(geom.Pt(0, 0), 5), DefaultAnnotation())
	b := d.Add(shape.NewCircle(geom.Pt(20, 0), 5), DefaultAnnotation())
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)

	require.True(t, d.Remove(b.ID))
	c := d.Add(shape.NewCircle(geom.Pt(40, 0), 5), DefaultAnnotation())
	assert.Equal(t, int64(3), c.ID, "ids are never reused")
	assert.False(t, d.Remove(99))
}

func TestGroupIsFlat(t *testing.T) {
	d := New()
	for i := 0; i < 4; i++ {
		d.Add(shape.NewCircle(geom.Pt(float64(i)*10, 0), 2), DefaultAnnotation())
	}
	g1, err := d.Group(1, 2)
	require.NoError(t, err)
	g2, err := d.Group(2, 3)
	require.NoError(t, err)
	assert.NotEqual(t, g1, g2)

	// object 2 moved to the new group
	assert.Len(t, d.Members(g1), 1)
	assert.Len(t, d.Members(g2), 2)
	assert.Equal(t, []int64{g1, g2}, d.GroupIDs())

	assert.Equal(t, 2, d.Ungroup(g2))
	assert.Empty(t, d.Members(g2))

	_, err = d.Group(1)
	assert.Error(t, err)
	_, err = d.Group(1, 42)
	assert.Error(t, err)
}

func TestEffectiveKeepsStartVertex(t *testing.T) {
	o := &Object{Shape: shape.NewCircle(geom.Pt(25, 25), 15), Annotation: DefaultAnnotation()}
	region, open := o.Effective()
	assert.Empty(t, open)
	require.Len(t, region, 1)
	assert.Equal(t, geom.Pt(40, 25), region[0].Outer.Start())
	assert.True(t, region[0].Outer.IsCCW())
}

func TestEffectiveBakesRotationBeforeOffset(t *testing.T) {
	base := shape.NewRectangle(geom.Pt(0, 0), 20, 10).WithRotation(30)
	o := &Object{Shape: base, Annotation: DefaultAnnotation()}
	o.Offset = 2

	region, _ := o.Effective()
	require.Len(t, region, 1)
	// area of a rectangle grown by 2 with round corners
	want := 200 + 2*(20+10)*2 + math.Pi*4
	assert.InDelta(t, want, region.Area(), 1e-3)

	// every point of the result is 2 mm from the rotated rectangle
	rotated := base.Outlines()[0]
	for _, v := range region[0].Outer.Vertices {
		assert.InDelta(t, 2, rotated.DistanceTo(v.P), 1e-6)
	}
}

func TestEffectiveModifierOrder(t *testing.T) {
	o := &Object{Shape: shape.NewRectangle(geom.Pt(0, 0), 10, 10), Annotation: DefaultAnnotation()}
	o.Chamfer = 1
	region, _ := o.Effective()
	assert.InDelta(t, 98, region.Area(), 1e-6)

	o.Fillet = 3
	region, _ = o.Effective()
	// the fillet rounds the chamfered corners; the area only shrinks
	assert.Less(t, region.Area(), 98.0)
	assert.True(t, region[0].Outer.HasArcs())

	o.Offset = -10
	region, _ = o.Effective()
	assert.True(t, region.IsEmpty())

	es := (&Object{Shape: shape.NewCircle(geom.Pt(0, 0), 4), Annotation: Annotation{Offset: 1}}).EffectiveShape()
	assert.Equal(t, shape.KindPath, es.Kind())
	assert.InDelta(t, math.Pi*25, shape.Area(es), 0.5)
}

func TestEffectiveOpenShape(t *testing.T) {
	o := &Object{Shape: shape.Line{Start: geom.Pt(0, 0), End: geom.Pt(10, 0)}, Annotation: DefaultAnnotation()}
	o.Offset = 1
	region, open := o.Effective()
	assert.Empty(t, region)
	require.Len(t, open, 1)
	assert.Equal(t, geom.Pt(10, 0), open[0].End())
}

func TestAnnotationValidate(t *testing.T) {
	a := DefaultAnnotation()
	assert.NoError(t, a.Validate())

	bad := []func(*Annotation){
		func(a *Annotation) { a.Operation = "drill" },
		func(a *Annotation) { a.StepDown = -1 },
		func(a *Annotation) { a.RampAngle = 90 },
		func(a *Annotation) { a.Fillet = -2 },
		func(a *Annotation) { a.Operation = OpPocket; a.Strategy = PocketStrategy{Kind: StrategyRaster, FillRatio: 2} },
		func(a *Annotation) { a.Operation = OpPocket; a.Strategy = PocketStrategy{Kind: "spiral"} },
	}
	for i, mutate := range bad {
		a := DefaultAnnotation()
		mutate(&a)
		assert.Error(t, a.Validate(), "case %d", i)
	}
	assert.Equal(t, 1.0, Raster(3).FillRatio)
	assert.Equal(t, "raster(0.50)", Raster(0.5).String())
}

func TestResolvedInheritsJobDepth(t *testing.T) {
	d := New()
	d.Job.CutDepth = 3
	o := d.Add(shape.NewCircle(geom.Pt(0, 0), 5), Annotation{Operation: OpProfile})
	assert.Equal(t, 3.0, d.Resolved(o).CutDepth)
	o.CutDepth = 1.5
	assert.Equal(t, 1.5, d.Resolved(o).CutDepth)
}

func TestDocumentJSONRoundTrip(t *testing.T) {
	d := New()
	d.Stock = &Stock{Width: 100, Height: 80, Thickness: 6}
	ann := DefaultAnnotation()
	ann.Operation = OpPocket
	ann.Strategy = Raster(0.8)
	d.Add(shape.NewRectangle(geom.Pt(30, 25), 40, 30), ann)
	d.Add(shape.Text{Pos: geom.Pt(5, 5), Content: "X", Size: 6, FontFamily: shape.DefaultFontFamily}, DefaultAnnotation())
	_, err := d.Group(1, 2)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, d.Encode(&buf))
	back, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, d, back)
	assert.NoError(t, back.Validate())
}

func TestDecodeIgnoresViewportAndFixesCounters(t *testing.T) {
	src := `{
	  "viewport": {"zoom": 2, "pan": [10, 10]},
	  "tool": {"diameter": 3, "feed_rate": 400, "spindle_speed": 10000},
	  "job": {"cut_depth": 1.5, "safe_z": 5},
	  "objects": [
	    {"id": 7, "shape": {"type": "circle", "center": {"x": 25, "y": 25}, "radius": 15}},
	    {"shape": {"type": "path", "d": "M0 0 H5 V5 Z"}, "annotation": {"operation": "pocket", "strategy": {"kind": "adaptive"}}}
	  ]
	}`
	d, err := Decode(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, d.Objects, 2)
	assert.Equal(t, int64(8), d.Objects[1].ID)
	assert.Equal(t, int64(9), d.NextID)
	assert.Equal(t, UnitsMM, d.Job.Units)
	assert.Equal(t, OpProfile, d.Objects[0].Operation, "missing annotation gets defaults")
	assert.Equal(t, StrategyAdaptive, d.Objects[1].Strategy.Kind)
	assert.NoError(t, d.Validate())

	_, err = Decode(strings.NewReader(`{"objects": [{"shape": {"type": "hexagon"}}]}`))
	assert.Error(t, err)
}

func TestLoadYAML(t *testing.T) {
	src := `
tool:
  diameter: 6
  feed_rate: 800
  spindle_speed: 18000
job:
  cut_depth: 2
  safe_z: 10
  units: inch
objects:
  - id: 1
    shape:
      type: polygon
      center: {x: 0, y: 0}
      radius: 20
      sides: 6
    annotation:
      operation: pocket
      cut_depth: 4
      step_down: 1.5
      step_in: 2
      strategy: {kind: raster, fill_ratio: 1}
`
	dir := t.TempDir()
	path := filepath.Join(dir, "part.yaml")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, UnitsInch, d.Job.Units)
	require.Len(t, d.Objects, 1)
	o := d.Objects[0]
	assert.Equal(t, shape.KindRegularPolygon, o.Shape.Kind())
	assert.Equal(t, 1.0, o.Strategy.FillRatio)
	assert.Equal(t, 4.0, o.CutDepth)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestValidateDocument(t *testing.T) {
	d := New()
	d.Add(shape.RegularPolygon{Radius: 5, Sides: 2}, DefaultAnnotation())
	assert.Error(t, d.Validate())

	d = New()
	d.Tool.Diameter = 0
	assert.Error(t, d.Validate())
}
