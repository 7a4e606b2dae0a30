// Package gcode emits, parses and interprets the RS-274 subset used by the
// CAM core and GRBL controllers.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package gcode

import (
	"fmt"
	"math"
	"strings"
)

// Units of a program.
type Units int

const (
	Millimetres Units = iota
	Inches
)

// mmPerInch converts inch coordinates and feeds to millimetres.
const mmPerInch = 25.4

func (u Units) String() string {
	if u == Inches {
		return "inch"
	}
	return "mm"
}

// Scale is the factor from program units to millimetres.
func (u Units) Scale() float64 {
	if u == Inches {
		return mmPerInch
	}
	return 1
}

// Plane selects the arc plane.
type Plane int

const (
	PlaneXY Plane = iota
	PlaneZX
	PlaneYZ
)

// Word is an optional numeric parameter.
type Word struct {
	V   float64
	Set bool
}

// W returns a set word.
func W(v float64) Word { return Word{V: v, Set: true} }

// Command is one parsed G-code instruction.
type Command interface {
	command()
}

// Move is G0 (Rapid) or G1.
type Move struct {
	Rapid      bool
	X, Y, Z, F Word
}

// Arc is G2 (CW) or G3 with centre offsets relative to the start point.
type Arc struct {
	CW               bool
	X, Y, Z, I, J, F Word
}

// Dwell is G4 with P in seconds.
type Dwell struct{ Seconds float64 }

// SetSpindle is M3 or M4 (CCW).
type SetSpindle struct {
	RPM float64
	CCW bool
}

// SpindleOff is M5.
type SpindleOff struct{}

// Coolant modes.
type Coolant int

const (
	CoolantOff Coolant = iota
	CoolantMist
	CoolantFlood
)

// SetCoolant is M7, M8 or M9.
type SetCoolant struct{ Mode Coolant }

// Home is the GRBL $H homing cycle.
type Home struct{}

// KillAlarmLock is the GRBL $X unlock.
type KillAlarmLock struct{}

// SetUnits is G20 or G21.
type SetUnits struct{ Units Units }

// SetAbsolute is G90.
type SetAbsolute struct{}

// SetRelative is G91.
type SetRelative struct{}

// SetPlane is G17, G18 or G19.
type SetPlane struct{ Plane Plane }

// ProgramEnd is M2 or M30.
type ProgramEnd struct{ Code int }

// Comment is a ';' or parenthesised comment.
type Comment struct{ Text string }

// Unknown keeps a line the parser does not model.
type Unknown struct{ Line string }

func (Move) command()          {}
func (Arc) command()           {}
func (Dwell) command()         {}
func (SetSpindle) command()    {}
func (SpindleOff) command()    {}
func (SetCoolant) command()    {}
func (Home) command()          {}
func (KillAlarmLock) command() {}
func (SetUnits) command()      {}
func (SetAbsolute) command()   {}
func (SetRelative) command()   {}
func (SetPlane) command()      {}
func (ProgramEnd) command()    {}
func (Comment) command()       {}
func (Unknown) command()       {}

// Format renders a command as a single line without terminator.
func Format(c Command) string {
	var b strings.Builder
	switch c := c.(type) {
	case Move:
		if c.Rapid {
			b.WriteString("G00")
		} else {
			b.WriteString("G01")
		}
		axis(&b, 'X', c.X)
		axis(&b, 'Y', c.Y)
		axis(&b, 'Z', c.Z)
		feed(&b, c.F)
	case Arc:
		if c.CW {
			b.WriteString("G02")
		} else {
			b.WriteString("G03")
		}
		axis(&b, 'X', c.X)
		axis(&b, 'Y', c.Y)
		axis(&b, 'Z', c.Z)
		axis(&b, 'I', c.I)
		axis(&b, 'J', c.J)
		feed(&b, c.F)
	case Dwell:
		fmt.Fprintf(&b, "G4 P%s", coord(c.Seconds))
	case SetSpindle:
		code := 3
		if c.CCW {
			code = 4
		}
		fmt.Fprintf(&b, "M%d S%d", code, integer(c.RPM))
	case SpindleOff:
		b.WriteString("M5")
	case SetCoolant:
		b.WriteString([...]string{"M9", "M7", "M8"}[c.Mode])
	case Home:
		b.WriteString("$H")
	case KillAlarmLock:
		b.WriteString("$X")
	case SetUnits:
		if c.Units == Inches {
			b.WriteString("G20")
		} else {
			b.WriteString("G21")
		}
	case SetAbsolute:
		b.WriteString("G90")
	case SetRelative:
		b.WriteString("G91")
	case SetPlane:
		fmt.Fprintf(&b, "G%d", 17+int(c.Plane))
	case ProgramEnd:
		fmt.Fprintf(&b, "M%d", c.Code)
	case Comment:
		b.WriteString("; ")
		b.WriteString(c.Text)
	case Unknown:
		b.WriteString(c.Line)
	}
	return b.String()
}

func axis(b *strings.Builder, letter byte, w Word) {
	if !w.Set {
		return
	}
	b.WriteByte(' ')
	b.WriteByte(letter)
	b.WriteString(coord(w.V))
}

func feed(b *strings.Builder, w Word) {
	if w.Set {
		fmt.Fprintf(b, " F%d", integer(w.V))
	}
}

// coord formats a coordinate with three decimals and no negative zero.
func coord(v float64) string {
	if math.Abs(v) < 0.0005 {
		v = 0
	}
	return fmt.Sprintf("%.3f", v)
}

func integer(v float64) int64 {
	return int64(math.Round(v))
}
