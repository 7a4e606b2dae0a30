package shape

import (
	"encoding/json"
	"fmt"

	"cnc-cam-core/pkg/errors"
)

// Marshal encodes a shape as a flat JSON object with a "type" field.
func Marshal(s Shape) ([]byte, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(s.Kind())
	fields["type"] = kind
	return json.Marshal(fields)
}

// Unmarshal decodes a shape record produced by Marshal. Path records may
// give SVG path data in "d" instead of "events".
func Unmarshal(data []byte) (Shape, error) {
	var head struct {
		Type Kind   `json:"type"`
		D    string `json:"d"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.Wrap(err, errors.ErrDesignDecode, "decode shape record")
	}
	var (
		s   Shape
		err error
	)
	switch head.Type {
	case KindRectangle:
		var v Rectangle
		err = json.Unmarshal(data, &v)
		s = v.WithCornerRadius(v.CornerRadius)
	case KindCircle:
		var v Circle
		err = json.Unmarshal(data, &v)
		s = v
	case KindEllipse:
		var v Ellipse
		err = json.Unmarshal(data, &v)
		s = v
	case KindLine:
		var v Line
		err = json.Unmarshal(data, &v)
		s = v
	case KindTriangle:
		var v Triangle
		err = json.Unmarshal(data, &v)
		s = v
	case KindRegularPolygon:
		var v RegularPolygon
		err = json.Unmarshal(data, &v)
		s = v
	case KindGear:
		var v Gear
		err = json.Unmarshal(data, &v)
		if v.PressureAngle == 0 {
			v.PressureAngle = 20
		}
		s = v
	case KindSprocket:
		var v Sprocket
		err = json.Unmarshal(data, &v)
		s = v
	case KindText:
		var v Text
		err = json.Unmarshal(data, &v)
		if v.FontFamily == "" {
			v.FontFamily = DefaultFontFamily
		}
		s = v
	case KindPath:
		var v Path
		if err = json.Unmarshal(data, &v); err == nil && len(v.Events) == 0 && head.D != "" {
			var parsed Path
			parsed, err = ParsePathData(head.D)
			parsed.Rot = v.Rot
			parsed.Closed = parsed.Closed || v.Closed
			v = parsed
		}
		s = v
	default:
		return nil, errors.New(errors.ErrDesignDecode, fmt.Sprintf("unknown shape type %q", head.Type))
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDesignDecode, fmt.Sprintf("decode %s", head.Type))
	}
	return s, nil
}
