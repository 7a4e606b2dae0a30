package gcode

// ModalState is the controller state that persists across lines. Position
// is in millimetres; Feed is in program units per minute.
type ModalState struct {
	Units     Units
	Relative  bool
	Plane     Plane
	Motion    int
	Feed      float64
	Spindle   float64
	SpindleOn bool
	SpindleCC bool
	Coolant   Coolant
	Position  [3]float64
}

// NewModalState returns the power-on state: mm, absolute, XY plane, G0.
func NewModalState() ModalState {
	return ModalState{}
}

// Target returns where a move or arc with the given words ends, in mm.
func (m ModalState) Target(x, y, z Word) [3]float64 {
	scale := m.Units.Scale()
	out := m.Position
	for i, w := range [3]Word{x, y, z} {
		if !w.Set {
			continue
		}
		if m.Relative {
			out[i] += w.V * scale
		} else {
			out[i] = w.V * scale
		}
	}
	return out
}

// Apply advances the state by one command.
func (m *ModalState) Apply(c Command) {
	switch c := c.(type) {
	case Move:
		m.Motion = 1
		if c.Rapid {
			m.Motion = 0
		}
		if c.F.Set {
			m.Feed = c.F.V
		}
		m.Position = m.Target(c.X, c.Y, c.Z)
	case Arc:
		m.Motion = 3
		if c.CW {
			m.Motion = 2
		}
		if c.F.Set {
			m.Feed = c.F.V
		}
		m.Position = m.Target(c.X, c.Y, c.Z)
	case SetSpindle:
		m.Spindle = c.RPM
		m.SpindleOn = true
		m.SpindleCC = c.CCW
	case SpindleOff:
		m.SpindleOn = false
	case SetCoolant:
		m.Coolant = c.Mode
	case SetUnits:
		m.Units = c.Units
	case SetAbsolute:
		m.Relative = false
	case SetRelative:
		m.Relative = true
	case SetPlane:
		m.Plane = c.Plane
	case Home:
		m.Position = [3]float64{}
	case ProgramEnd:
		m.Motion = 1
		m.Relative = false
		m.Plane = PlaneXY
		m.SpindleOn = false
		m.Coolant = CoolantOff
	}
}
