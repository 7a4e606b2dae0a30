package gcode

import (
	"fmt"
	"io"
	"math"
	"strings"

	"cnc-cam-core/pkg/geom"
	"cnc-cam-core/pkg/pool"
	"cnc-cam-core/pkg/toolpath"
)

// Options are the emitter toggles.
type Options struct {
	Units       Units
	ThreeD      bool
	LineNumbers bool
	// CompactFeed omits F on G01 lines whose feed equals the modal feed.
	CompactFeed bool
	SafeZ       float64
}

// Job is what the emitter needs besides the toolpaths themselves.
type Job struct {
	ToolDiameter float64
	CutDepth     float64
	FeedRate     float64
	SpindleSpeed float64
	Toolpaths    []toolpath.Toolpath
}

// Emitter writes deterministic programs. It is not safe for concurrent use.
type Emitter struct {
	opts Options

	buf    *pool.ByteBuffer
	lineNo int
	feed   float64
	pos    geom.Point
	z      float64
}

// NewEmitter returns an emitter with the given options.
func NewEmitter(opts Options) *Emitter {
	return &Emitter{opts: opts}
}

// String renders the program.
func (e *Emitter) String(job Job) string {
	var b strings.Builder
	_ = e.Emit(&b, job)
	return b.String()
}

// Emit writes the header, preamble, body and footer to w.
func (e *Emitter) Emit(w io.Writer, job Job) error {
	e.buf = pool.GetByteBuffer()
	defer func() {
		pool.PutByteBuffer(e.buf)
		e.buf = nil
	}()
	e.lineNo = 0
	e.feed = math.NaN()
	e.pos = geom.Point{}
	e.z = math.NaN()

	e.header(job)
	units := "G21"
	if e.opts.Units == Inches {
		units = "G20"
	}
	e.plain("G90 " + units + " G17")
	e.plain(fmt.Sprintf("M3 S%d", integer(job.SpindleSpeed)))

	for _, tp := range job.Toolpaths {
		if tp.ShapeID > 0 {
			e.plain(fmt.Sprintf("; Shape ID=%d", tp.ShapeID))
		}
		for _, s := range tp.Segments {
			e.segment(s)
		}
	}

	e.plain("M5")
	if e.opts.ThreeD {
		e.plain("G0 Z" + e.coord(e.opts.SafeZ))
	}
	e.plain("G0 X0 Y0")
	e.plain("M30")

	_, err := w.Write(e.buf.Bytes())
	return err
}

func (e *Emitter) header(job Job) {
	e.plain("; cnc-cam-core")
	e.plain(fmt.Sprintf("; Tool diameter: %.3f mm", job.ToolDiameter))
	e.plain(fmt.Sprintf("; Cut depth: %.3f mm", math.Abs(job.CutDepth)))
	e.plain(fmt.Sprintf("; Feed rate: %d mm/min", integer(job.FeedRate)))
	e.plain(fmt.Sprintf("; Spindle speed: %d rpm", integer(job.SpindleSpeed)))
	e.plain(fmt.Sprintf("; Total path length: %.3f mm", toolpath.TotalLength(job.Toolpaths)))
}

func (e *Emitter) segment(s toolpath.Segment) {
	switch {
	case s.Kind == toolpath.Rapid && s.IsRetract():
		if e.opts.ThreeD {
			e.body("G00 Z" + e.coord(s.Z))
		}
	case s.Kind == toolpath.Rapid:
		line := "G00 X" + e.coord(s.End.X) + " Y" + e.coord(s.End.Y)
		if e.opts.ThreeD {
			line += " Z" + e.coord(s.Z)
		}
		e.body(line)
	case s.Kind == toolpath.Linear && s.Ramp:
		// without Z words a ramp becomes a staircase of plunges
		if !e.opts.ThreeD && e.zChanged(s.Z) {
			e.plunge(s.Z, s.Feed)
		}
		line := "G01 X" + e.coord(s.End.X) + " Y" + e.coord(s.End.Y)
		if e.opts.ThreeD {
			line += " Z" + e.coord(s.Z)
		}
		e.body(line + e.linearFeed(s.Feed))
	case s.Kind == toolpath.Linear:
		if e.zChanged(s.Z) {
			e.plunge(s.Z, s.Feed)
			if s.Start.Near(s.End, 1e-9) {
				break
			}
		}
		e.body("G01 X" + e.coord(s.End.X) + " Y" + e.coord(s.End.Y) + e.linearFeed(s.Feed))
	case s.IsArc():
		if (!s.Ramp || !e.opts.ThreeD) && e.zChanged(s.Z) {
			e.plunge(s.Z, s.Feed)
		}
		code := "G03"
		if s.Kind == toolpath.ArcCW {
			code = "G02"
		}
		off := s.Center.Sub(s.Start)
		line := code + " X" + e.coord(s.End.X) + " Y" + e.coord(s.End.Y)
		if s.Ramp && e.opts.ThreeD {
			line += " Z" + e.coord(s.Z)
		}
		line += " I" + e.coord(off.X) + " J" + e.coord(off.Y)
		if s.Feed != e.feed {
			line += e.feedWord(s.Feed)
		}
		e.body(line)
	}
	e.pos = s.End
	e.z = s.Z
}

func (e *Emitter) zChanged(z float64) bool {
	return math.IsNaN(e.z) || math.Abs(z-e.z) > 1e-9
}

// plunge is a pure Z feed move. It is emitted in 2D mode too.
func (e *Emitter) plunge(z, feed float64) {
	e.body("G01 Z" + e.coord(z) + e.feedWord(feed))
	e.z = z
}

func (e *Emitter) linearFeed(feed float64) string {
	if e.opts.CompactFeed && feed == e.feed {
		return ""
	}
	return e.feedWord(feed)
}

func (e *Emitter) feedWord(feed float64) string {
	e.feed = feed
	return fmt.Sprintf(" F%d", integer(feed/e.opts.Units.Scale()))
}

func (e *Emitter) coord(v float64) string {
	return coord(v / e.opts.Units.Scale())
}

// body writes a numbered line when numbering is on.
func (e *Emitter) body(line string) {
	if e.opts.LineNumbers {
		e.lineNo += 10
		fmt.Fprintf(e.buf, "N%d ", e.lineNo)
	}
	e.plain(line)
}

func (e *Emitter) plain(line string) {
	e.buf.WriteString(line)
	e.buf.WriteByte('\n')
}
