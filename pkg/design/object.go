package design

import (
	"encoding/json"

	"cnc-cam-core/pkg/geom"
	"cnc-cam-core/pkg/shape"
)

// Object is a placed shape with its annotation. GroupID 0 means ungrouped.
type Object struct {
	ID       int64
	Shape    shape.Shape
	GroupID  int64
	Selected bool
	Annotation
}

// Effective returns the geometry CAM works on, with the shape's rotation
// baked in. Closed outlines form the region; chamfer, fillet and offset
// are applied to it in that order. Open outlines are returned unchanged.
func (o *Object) Effective() (region geom.MultiPolygon, open []geom.Polyline) {
	var closed []geom.Polyline
	for _, pl := range o.Shape.Outlines() {
		if pl.Closed {
			closed = append(closed, pl)
		} else {
			open = append(open, pl)
		}
	}
	switch {
	case len(closed) == 0:
	case len(closed) == 1 && o.Shape.Kind() != shape.KindPath:
		// primitive outlines are simple; keep their own start vertex
		region = geom.MultiPolygon{{Outer: closed[0].Oriented(true)}}
	default:
		region = geom.RegionOf(closed, false)
	}
	if !o.HasModifiers() || region.IsEmpty() {
		return region, open
	}
	if o.Chamfer > 0 {
		region = geom.Chamfer(region, o.Chamfer)
	}
	if o.Fillet > 0 {
		region = geom.Fillet(region, o.Fillet)
	}
	if o.Offset != 0 {
		region = geom.Offset(region, o.Offset)
	}
	return region, open
}

// EffectiveShape is the effective geometry as a shape, for previews. It is
// the base shape itself when no modifier is set.
func (o *Object) EffectiveShape() shape.Shape {
	if !o.HasModifiers() {
		return o.Shape
	}
	region, open := o.Effective()
	ev := geom.PathOf(region.Rings()...)
	ev = append(ev, geom.PathOf(open...)...)
	return shape.Path{Events: ev, Closed: len(open) == 0}
}

type objectJSON struct {
	ID         int64           `json:"id"`
	GroupID    int64           `json:"group_id,omitempty"`
	Selected   bool            `json:"selected,omitempty"`
	Shape      json.RawMessage `json:"shape"`
	Annotation Annotation      `json:"annotation"`
}

func (o *Object) MarshalJSON() ([]byte, error) {
	s, err := shape.Marshal(o.Shape)
	if err != nil {
		return nil, err
	}
	return json.Marshal(objectJSON{
		ID:         o.ID,
		GroupID:    o.GroupID,
		Selected:   o.Selected,
		Shape:      s,
		Annotation: o.Annotation,
	})
}

func (o *Object) UnmarshalJSON(data []byte) error {
	raw := objectJSON{Annotation: DefaultAnnotation()}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s, err := shape.Unmarshal(raw.Shape)
	if err != nil {
		return err
	}
	*o = Object{
		ID:         raw.ID,
		Shape:      s,
		GroupID:    raw.GroupID,
		Selected:   raw.Selected,
		Annotation: raw.Annotation,
	}
	return nil
}
