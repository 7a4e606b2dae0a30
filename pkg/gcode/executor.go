package gcode

import (
	"fmt"
	"math"
	"sync"
	"time"

	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/log"
)

// DefaultRapidRate is the assumed G0 speed in mm/min.
const DefaultRapidRate = 5000.0

// arcTolerance is how far the end radius of an arc may differ from the
// start radius, in mm.
const arcTolerance = 0.005

// Executor interprets G-code lines the way a controller would: it parses
// each line, validates it against the modal state, applies it and keeps a
// running estimate of machine time.
type Executor struct {
	mu sync.RWMutex

	parser    *Parser
	state     ModalState
	rapidRate float64

	lines    int
	travel   float64
	duration time.Duration
	alarmed  bool

	log *log.Logger
}

// NewExecutor returns an executor in the power-on state.
func NewExecutor() *Executor {
	return &Executor{
		parser:    NewParser(),
		state:     NewModalState(),
		rapidRate: DefaultRapidRate,
		log:       log.GetLogger("gcode"),
	}
}

// SetRapidRate changes the G0 speed used for time estimates.
func (e *Executor) SetRapidRate(mmPerMin float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if mmPerMin > 0 {
		e.rapidRate = mmPerMin
	}
}

// Execute parses and applies one line. Parse errors and unsupported
// commands leave the state untouched.
func (e *Executor) Execute(line string) error {
	cmds, err := e.parser.Parse(line)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, c := range cmds {
		if err := e.check(c); err != nil {
			return err
		}
	}
	for _, c := range cmds {
		e.executeCommand(c)
	}
	if len(cmds) > 0 {
		e.lines++
	}
	return nil
}

// check validates a command against the current state.
func (e *Executor) check(c Command) error {
	switch c := c.(type) {
	case Unknown:
		return errors.New(errors.ErrProtoUnsupported, "unsupported command").SetContext("line", c.Line)
	case Move, Arc:
		if e.alarmed {
			return errors.New(errors.ErrProtoAlarm, "motion locked by alarm")
		}
		if a, ok := c.(Arc); ok {
			return e.checkArc(a)
		}
	case Dwell:
		if c.Seconds < 0 {
			return errors.GCodeInvalidParameterError("P", fmt.Sprint(c.Seconds))
		}
	case SetSpindle:
		if c.RPM < 0 {
			return errors.GCodeInvalidParameterError("S", fmt.Sprint(c.RPM))
		}
	}
	return nil
}

func (e *Executor) checkArc(a Arc) error {
	if e.state.Plane != PlaneXY {
		return errors.New(errors.ErrGCodeInvalidParam, "arcs are only supported in the XY plane")
	}
	if !a.I.Set && !a.J.Set {
		return errors.New(errors.ErrGCodeInvalidParam, "arc without centre offset")
	}
	scale := e.state.Units.Scale()
	start := e.state.Position
	end := e.state.Target(a.X, a.Y, a.Z)
	cx, cy := start[0]+a.I.V*scale, start[1]+a.J.V*scale
	r0 := math.Hypot(start[0]-cx, start[1]-cy)
	r1 := math.Hypot(end[0]-cx, end[1]-cy)
	if math.Abs(r0-r1) > arcTolerance && math.Abs(r0-r1) > 0.001*r0 {
		return errors.New(errors.ErrGCodeInvalidParam, "arc end point is not on the circle").
			SetContext("start_radius", r0).
			SetContext("end_radius", r1)
	}
	return nil
}

// executeCommand applies a validated command.
func (e *Executor) executeCommand(c Command) {
	from := e.state.Position
	e.state.Apply(c)
	to := e.state.Position

	switch c := c.(type) {
	case Move:
		d := math.Sqrt(sq(to[0]-from[0]) + sq(to[1]-from[1]) + sq(to[2]-from[2]))
		rate := e.rapidRate
		if !c.Rapid {
			rate = e.state.Feed * e.state.Units.Scale()
		}
		e.account(d, rate)
	case Arc:
		scale := e.state.Units.Scale()
		cx, cy := from[0]+c.I.V*scale, from[1]+c.J.V*scale
		r := math.Hypot(from[0]-cx, from[1]-cy)
		a0 := math.Atan2(from[1]-cy, from[0]-cx)
		a1 := math.Atan2(to[1]-cy, to[0]-cx)
		sweep := a1 - a0
		if c.CW {
			for sweep >= 0 {
				sweep -= 2 * math.Pi
			}
		} else {
			for sweep <= 0 {
				sweep += 2 * math.Pi
			}
		}
		d := math.Hypot(r*math.Abs(sweep), to[2]-from[2])
		e.account(d, e.state.Feed*scale)
	case Dwell:
		e.duration += time.Duration(c.Seconds * float64(time.Second))
	case Home:
		e.alarmed = false
	case KillAlarmLock:
		e.alarmed = false
	case ProgramEnd:
		e.log.WithFields(log.Fields{
			"lines":  e.lines + 1,
			"travel": e.travel,
		}).Debug("program end")
	}
}

func (e *Executor) account(dist, rate float64) {
	e.travel += dist
	if rate > 0 {
		e.duration += time.Duration(dist / rate * float64(time.Minute))
	}
}

func sq(v float64) float64 { return v * v }

// Alarm locks motion until $X or $H.
func (e *Executor) Alarm() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alarmed = true
}

// Alarmed reports whether motion is locked.
func (e *Executor) Alarmed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.alarmed
}

// Reset returns to the power-on modal state. Position is kept, as on a
// controller soft reset.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos := e.state.Position
	e.state = NewModalState()
	e.state.Position = pos
	e.parser = NewParser()
}

// State returns a copy of the modal state.
func (e *Executor) State() ModalState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Position returns the machine position in mm.
func (e *Executor) Position() [3]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Position
}

// Stats returns the executed line count, travel in mm and estimated time.
func (e *Executor) Stats() (lines int, travel float64, duration time.Duration) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lines, e.travel, e.duration
}
