package shape

import (
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/unicode/norm"

	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/geom"
)

// DefaultFontFamily is the only embedded family. Other family names fall
// back to it.
const DefaultFontFamily = "Go"

const (
	// glyphPPEM is the em size glyphs are loaded at before scaling to mm.
	glyphPPEM   = 1000
	lineSpacing = 1.2
)

// Text is a string rendered as glyph outlines. Pos is the left end of the
// first baseline and Size is the em size in mm.
type Text struct {
	Pos        geom.Point `json:"anchor" yaml:"anchor"`
	Content    string     `json:"content" yaml:"content"`
	FontFamily string     `json:"font_family,omitempty" yaml:"font_family,omitempty"`
	Size       float64    `json:"size" yaml:"size"`
	Bold       bool       `json:"bold,omitempty" yaml:"bold,omitempty"`
	Italic     bool       `json:"italic,omitempty" yaml:"italic,omitempty"`
	Rot        float64    `json:"rotation,omitempty" yaml:"rotation,omitempty"`
}

func (t Text) Kind() Kind { return KindText }
func (t Text) Rotation() float64 { return t.Rot }
func (t Text) WithRotation(deg float64) Shape { t.Rot = deg; return t }
func (t Text) Outlines() []geom.Polyline { return rotated(t) }
func (t Text) Bounds() geom.Box { return rotatedBounds(t) }
func (t Text) Region() geom.MultiPolygon { return regionOf(t) }

func (t Text) Contains(p geom.Point, tol float64) bool { return containsLocal(t, p, tol) }

// Center is the centre of the unrotated glyph box, or the anchor for blank
// text.
func (t Text) Center() geom.Point {
	b := t.glyphPath().Bounds()
	if b.IsEmpty() {
		return t.Pos
	}
	return b.Center()
}

// PathEvents returns the glyph curves without flattening.
func (t Text) PathEvents() geom.Path {
	p := t.glyphPath()
	if t.Rot == 0 {
		return p
	}
	c := t.Center()
	return p.Map(func(q geom.Point) geom.Point { return q.RotateAbout(c, t.Rot) })
}

func (t Text) localOutlines() []geom.Polyline {
	return t.glyphPath().Flatten(geom.Tolerance)
}

type fontKey struct{ bold, italic bool }

var (
	fontMu    sync.Mutex
	fontCache = map[fontKey]*sfnt.Font{}
)

func loadFont(bold, italic bool) (*sfnt.Font, error) {
	fontMu.Lock()
	defer fontMu.Unlock()
	key := fontKey{bold, italic}
	if f, ok := fontCache[key]; ok {
		return f, nil
	}
	src := goregular.TTF
	switch {
	case bold && italic:
		src = gobolditalic.TTF
	case bold:
		src = gobold.TTF
	case italic:
		src = goitalic.TTF
	}
	f, err := sfnt.Parse(src)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDesignShape, "parse embedded font")
	}
	fontCache[key] = f
	return f, nil
}

// glyphPath lays the text out line by line with kerning and converts every
// glyph contour to path events in the Y-up design frame.
func (t Text) glyphPath() geom.Path {
	var p geom.Path
	if t.Size <= 0 {
		return p
	}
	f, err := loadFont(t.Bold, t.Italic)
	if err != nil {
		return p
	}
	var buf sfnt.Buffer
	ppem := fixed.I(glyphPPEM)
	scale := t.Size / glyphPPEM
	content := norm.NFC.String(t.Content)

	for li, line := range strings.Split(content, "\n") {
		baseline := t.Pos.Y - float64(li)*t.Size*lineSpacing
		var pen fixed.Int26_6
		var prev sfnt.GlyphIndex
		for _, r := range line {
			idx, err := f.GlyphIndex(&buf, r)
			if err != nil || idx == 0 {
				if idx, err = f.GlyphIndex(&buf, '?'); err != nil {
					continue
				}
			}
			if prev != 0 {
				if k, err := f.Kern(&buf, prev, idx, ppem, font.HintingNone); err == nil {
					pen += k
				}
			}
			prev = idx
			origin := pen
			pt := func(q fixed.Point26_6) geom.Point {
				return geom.Pt(
					t.Pos.X+float64(origin+q.X)/64*scale,
					baseline-float64(q.Y)/64*scale,
				)
			}
			segs, err := f.LoadGlyph(&buf, idx, ppem, nil)
			if err == nil {
				open := false
				for _, s := range segs {
					switch s.Op {
					case sfnt.SegmentOpMoveTo:
						if open {
							p.Close()
						}
						p.MoveTo(pt(s.Args[0]))
						open = true
					case sfnt.SegmentOpLineTo:
						p.LineTo(pt(s.Args[0]))
					case sfnt.SegmentOpQuadTo:
						p.QuadTo(pt(s.Args[0]), pt(s.Args[1]))
					case sfnt.SegmentOpCubeTo:
						p.CubicTo(pt(s.Args[0]), pt(s.Args[1]), pt(s.Args[2]))
					}
				}
				if open {
					p.Close()
				}
			}
			if adv, err := f.GlyphAdvance(&buf, idx, ppem, font.HintingNone); err == nil {
				pen += adv
			}
		}
	}
	return p
}

func (t Text) Translate(dx, dy float64) Shape {
	t.Pos = t.Pos.Add(geom.Pt(dx, dy))
	return t
}

func (t Text) ScaleAbout(anchor geom.Point, sx, sy float64) Shape {
	t.Pos = t.Pos.ScaleAbout(anchor, sx, sy)
	t.Size *= meanScale(sx, sy)
	return t
}

// RotateAbout moves the glyph centre about c and accumulates the rotation.
func (t Text) RotateAbout(c geom.Point, deg float64) Shape {
	d := t.Center().RotateAbout(c, deg).Sub(t.Center())
	t.Pos = t.Pos.Add(d)
	t.Rot += deg
	return t
}

func (t Text) Validate() error {
	if t.Size <= 0 {
		return invalid(t, "size must be positive")
	}
	if strings.TrimSpace(t.Content) == "" {
		return invalid(t, "content is empty")
	}
	return nil
}
