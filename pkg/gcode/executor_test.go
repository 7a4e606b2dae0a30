package gcode

import (
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cnc-cam-core/pkg/errors"
)

func run(t *testing.T, e *Executor, program string) {
	t.Helper()
	for _, l := range strings.Split(program, "\n") {
		require.NoError(t, e.Execute(l), l)
	}
}

func TestExecutorTracksPosition(t *testing.T) {
	e := NewExecutor()
	run(t, e, "G90 G21 G17\nG0 X10 Y10\nG1 Z-2 F600\nG1 X40 F600")

	assert.Equal(t, [3]float64{40, 10, -2}, e.Position())
	st := e.State()
	assert.Equal(t, 1, st.Motion)
	assert.Equal(t, 600.0, st.Feed)

	lines, travel, dur := e.Stats()
	assert.Equal(t, 4, lines)
	assert.InDelta(t, 14.142136+2+30, travel, 1e-5)
	// 14.14 mm at 5000 mm/min plus 32 mm at 600 mm/min
	want := time.Duration((14.142136/5000 + 32.0/600) * float64(time.Minute))
	assert.InDelta(t, float64(want), float64(dur), float64(time.Millisecond))
}

func TestExecutorArcs(t *testing.T) {
	e := NewExecutor()
	run(t, e, "G0 X40 Y25\nG1 Z-1 F400\nG02 X10 Y25 I-15 J0\nG02 X40 Y25 I15 J0")

	_, travel, _ := e.Stats()
	assert.InDelta(t, math.Hypot(40, 25)+1+30*math.Pi, travel, 1e-6)
	assert.Equal(t, 2, e.State().Motion)
}

func TestExecutorInches(t *testing.T) {
	e := NewExecutor()
	run(t, e, "G20\nG1 X1 Y1 F10\nG91\nG1 X-0.5")
	pos := e.Position()
	assert.InDelta(t, 12.7, pos[0], 1e-9)
	assert.InDelta(t, 25.4, pos[1], 1e-9)
}

func TestExecutorRejects(t *testing.T) {
	tests := []struct {
		line string
		code errors.ErrorCode
	}{
		{"G1 X1 X2", errors.ErrGCodeParse},
		{"G28", errors.ErrProtoUnsupported},
		{"G02 X10 Y0 I3 J0", errors.ErrGCodeInvalidParam},
		{"G02 X10 Y0", errors.ErrGCodeInvalidParam},
		{"G4 P-1", errors.ErrGCodeInvalidParam},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			e := NewExecutor()
			err := e.Execute(tt.line)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.code), "got %v", err)
			assert.Equal(t, [3]float64{}, e.Position())
			lines, _, _ := e.Stats()
			assert.Zero(t, lines)
		})
	}
}

func TestExecutorArcOutsideXYPlane(t *testing.T) {
	e := NewExecutor()
	require.NoError(t, e.Execute("G18"))
	assert.True(t, errors.Is(e.Execute("G2 X2 I1 J0"), errors.ErrGCodeInvalidParam))
}

func TestExecutorAlarmLocksMotion(t *testing.T) {
	e := NewExecutor()
	e.Alarm()
	assert.True(t, e.Alarmed())
	assert.True(t, errors.Is(e.Execute("G0 X5"), errors.ErrProtoAlarm))
	// modal commands still run
	require.NoError(t, e.Execute("G21"))

	require.NoError(t, e.Execute("$X"))
	assert.False(t, e.Alarmed())
	require.NoError(t, e.Execute("G0 X5"))

	e.Alarm()
	require.NoError(t, e.Execute("$H"))
	assert.False(t, e.Alarmed())
	assert.Equal(t, [3]float64{}, e.Position())
}

func TestExecutorResetKeepsPosition(t *testing.T) {
	e := NewExecutor()
	run(t, e, "G20\nG91\nG1 X1 F10")
	e.Reset()

	st := e.State()
	assert.Equal(t, Millimetres, st.Units)
	assert.False(t, st.Relative)
	assert.InDelta(t, 25.4, st.Position[0], 1e-9)
}

func TestExecutorDwellAndRapidRate(t *testing.T) {
	e := NewExecutor()
	e.SetRapidRate(6000)
	e.SetRapidRate(-1)
	run(t, e, "G4 P1.5\nG0 X100")
	_, _, dur := e.Stats()
	assert.InDelta(t, float64(1500*time.Millisecond+time.Second), float64(dur), float64(time.Millisecond))
}

func TestExecutorConcurrentReaders(t *testing.T) {
	e := NewExecutor()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = e.Position()
				_ = e.State()
			}
		}()
	}
	for j := 0; j < 200; j++ {
		require.NoError(t, e.Execute("G91 G1 X0.1 F1000"))
	}
	wg.Wait()
	assert.InDelta(t, 20, e.Position()[0], 1e-6)
}
