package gcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cnc-cam-core/pkg/design"
	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/geom"
	"cnc-cam-core/pkg/shape"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want []Command
	}{
		{"", nil},
		{"G1 X10 Y-2.5 F800", []Command{Move{X: W(10), Y: W(-2.5), F: W(800)}}},
		{"g0x1y2", []Command{Move{Rapid: true, X: W(1), Y: W(2)}}},
		{"N10 G01 Z-1.5 F400", []Command{Move{Z: W(-1.5), F: W(400)}}},
		{"G02 X10 Y25 I-15 J0", []Command{Arc{CW: true, X: W(10), Y: W(25), I: W(-15), J: W(0)}}},
		{"G90 G21 G17", []Command{SetAbsolute{}, SetUnits{Units: Millimetres}, SetPlane{Plane: PlaneXY}}},
		{"G91 G20 G18", []Command{SetRelative{}, SetUnits{Units: Inches}, SetPlane{Plane: PlaneZX}}},
		{"M3 S12000", []Command{SetSpindle{RPM: 12000}}},
		{"M4 S500", []Command{SetSpindle{RPM: 500, CCW: true}}},
		{"M5", []Command{SpindleOff{}}},
		{"M8", []Command{SetCoolant{Mode: CoolantFlood}}},
		{"M9", []Command{SetCoolant{Mode: CoolantOff}}},
		{"G4 P0.5", []Command{Dwell{Seconds: 0.5}}},
		{"M30", []Command{ProgramEnd{Code: 30}}},
		{"$H", []Command{Home{}}},
		{"$x", []Command{KillAlarmLock{}}},
		{"$$", []Command{Unknown{Line: "$$"}}},
		{"; Shape ID=3", []Command{Comment{Text: "Shape ID=3"}}},
		{"G0 X1 ; rapid", []Command{Move{Rapid: true, X: W(1)}, Comment{Text: "rapid"}}},
		{"(hello) G1 X2", []Command{Move{X: W(2)}, Comment{Text: "hello"}}},
		{"G28", []Command{Unknown{Line: "G28"}}},
		{"G38.2 Z-5", []Command{Unknown{Line: "G38.2 Z-5"}}},
		{"S1000", []Command{Unknown{Line: "S1000"}}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		line string
		code errors.ErrorCode
	}{
		{"G1 X", errors.ErrGCodeInvalidParam},
		{"G1 X1 X2", errors.ErrGCodeParse},
		{"#1=2", errors.ErrGCodeParse},
		{"G1 (unterminated", errors.ErrGCodeParse},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, err := ParseLine(tt.line)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.code), "got %v", err)
		})
	}
}

func TestParserKeepsMotionMode(t *testing.T) {
	p := NewParser()
	_, err := p.Parse("G2 X0 Y10 I0 J5 F300")
	require.NoError(t, err)

	got, err := p.Parse("X10 Y0 I0 J-5")
	require.NoError(t, err)
	assert.Equal(t, []Command{Arc{CW: true, X: W(10), Y: W(0), I: W(0), J: W(-5)}}, got)

	got, err = p.Parse("G1 X5")
	require.NoError(t, err)
	got, err = p.Parse("Y5")
	require.NoError(t, err)
	assert.Equal(t, []Command{Move{Y: W(5)}}, got)

	// program end resets to G1
	_, err = p.Parse("G0 X0 M2")
	require.NoError(t, err)
	got, err = p.Parse("X3")
	require.NoError(t, err)
	assert.Equal(t, []Command{Move{X: W(3)}}, got)
}

func TestParseProgramReportsLine(t *testing.T) {
	_, err := ParseProgram(strings.NewReader("G21\nG90\nG1 X1 X2\n"))
	require.Error(t, err)
	var ce *errors.CamError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Line)
}

func TestFormat(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{Move{Rapid: true, X: W(10), Y: W(-0.0001)}, "G00 X10.000 Y0.000"},
		{Move{Z: W(-2), F: W(499.6)}, "G01 Z-2.000 F500"},
		{Arc{X: W(1), Y: W(2), I: W(0.5), J: W(0)}, "G03 X1.000 Y2.000 I0.500 J0.000"},
		{Dwell{Seconds: 1.25}, "G4 P1.250"},
		{SetSpindle{RPM: 12000}, "M3 S12000"},
		{SetCoolant{Mode: CoolantMist}, "M7"},
		{SetPlane{Plane: PlaneYZ}, "G19"},
		{SetUnits{Units: Inches}, "G20"},
		{ProgramEnd{Code: 2}, "M2"},
		{Comment{Text: "hi"}, "; hi"},
		{Unknown{Line: "G28"}, "G28"},
		{KillAlarmLock{}, "$X"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.cmd))
	}
}

func TestModalStateApply(t *testing.T) {
	m := NewModalState()
	for _, c := range []Command{
		SetUnits{Units: Inches},
		Move{X: W(1), Y: W(2), F: W(20)},
		SetRelative{},
		Move{X: W(1)},
		SetSpindle{RPM: 8000, CCW: true},
		SetCoolant{Mode: CoolantFlood},
	} {
		m.Apply(c)
	}
	assert.InDelta(t, 50.8, m.Position[0], 1e-9)
	assert.InDelta(t, 50.8, m.Position[1], 1e-9)
	assert.Equal(t, 20.0, m.Feed)
	assert.True(t, m.Relative)
	assert.True(t, m.SpindleOn)
	assert.True(t, m.SpindleCC)

	m.Apply(ProgramEnd{Code: 30})
	assert.False(t, m.Relative)
	assert.False(t, m.SpindleOn)
	assert.Equal(t, CoolantOff, m.Coolant)
	assert.Equal(t, 1, m.Motion)
	assert.Equal(t, Inches, m.Units)
}

// trajectory parses a program and records the modal state after every
// command.
func trajectory(t *testing.T, program string) []ModalState {
	t.Helper()
	cmds, err := ParseProgram(strings.NewReader(program))
	require.NoError(t, err)
	m := NewModalState()
	var out []ModalState
	for _, c := range cmds {
		if _, ok := c.(Comment); ok {
			continue
		}
		m.Apply(c)
		out = append(out, m)
	}
	return out
}

func reformat(t *testing.T, program string) string {
	t.Helper()
	cmds, err := ParseProgram(strings.NewReader(program))
	require.NoError(t, err)
	var b strings.Builder
	for _, c := range cmds {
		b.WriteString(Format(c))
		b.WriteByte('\n')
	}
	return b.String()
}

func TestRoundTripKeepsTrajectory(t *testing.T) {
	pocket := design.DefaultAnnotation()
	pocket.Operation = design.OpPocket
	pocket.CutDepth, pocket.StepDown, pocket.StepIn, pocket.RampAngle = 2, 1, 1.5, 5
	pocketJob := generate(t, shape.NewCircle(geom.Pt(0, 0), 12),
		design.Tool{Diameter: 3, FeedRate: 600, PlungeRate: 200, SpindleSpeed: 9000}, pocket)
	require.Len(t, pocketJob.Toolpaths, 2)
	for _, tp := range pocketJob.Toolpaths {
		require.NotEmpty(t, tp.Segments)
	}

	programs := map[string]string{
		"rectangle 2d":    NewEmitter(Options{SafeZ: 5}).String(rectangleJob(t)),
		"circle inch":     NewEmitter(Options{SafeZ: 5, Units: Inches}).String(circleJob(t)),
		"pocket 3d":       NewEmitter(Options{SafeZ: 5, ThreeD: true, LineNumbers: true}).String(pocketJob),
		"compact feed 3d": NewEmitter(Options{SafeZ: 5, ThreeD: true, CompactFeed: true}).String(pocketJob),
	}
	for name, program := range programs {
		t.Run(name, func(t *testing.T) {
			assert.Regexp(t, `(?m)^(N\d+ )?G0[123] X`, program, "no cutting moves")
			want := trajectory(t, program)
			got := trajectory(t, reformat(t, program))
			require.Len(t, got, len(want))
			for i := range want {
				for axis := 0; axis < 3; axis++ {
					assert.InDelta(t, want[i].Position[axis], got[i].Position[axis], 1e-3, "command %d", i)
				}
				w, g := want[i], got[i]
				w.Position, g.Position = [3]float64{}, [3]float64{}
				assert.Equal(t, w, g, "command %d", i)
			}
		})
	}
}

func TestEveryEmittedLineParses(t *testing.T) {
	out := NewEmitter(Options{SafeZ: 5, ThreeD: true}).String(circleJob(t))
	for _, l := range lines(out) {
		cmds, err := ParseLine(l)
		require.NoError(t, err, l)
		for _, c := range cmds {
			_, unknown := c.(Unknown)
			assert.False(t, unknown, l)
		}
	}
}
