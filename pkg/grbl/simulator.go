package grbl

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"cnc-cam-core/pkg/gcode"
	"cnc-cam-core/pkg/log"
)

const (
	// DefaultBufferSize is the receive buffer of the simulated controller.
	DefaultBufferSize = 254
	// DefaultVersion is reported in the banner and build info.
	DefaultVersion = "1.1h"
	// maxLineLength is GRBL's line buffer.
	maxLineLength = 80
)

// SimulatorConfig configures a Simulator.
type SimulatorConfig struct {
	BufferSize int
	Version    string
	// LineDelay is how long each line takes to execute.
	LineDelay time.Duration
}

// DefaultSimulatorConfig returns a 254 byte buffer with no execution delay.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{BufferSize: DefaultBufferSize, Version: DefaultVersion}
}

// Simulator is an in-process GRBL controller. It accepts lines into a
// bounded receive buffer, executes them in order and answers ok or
// error:<n>. Real-time bytes are handled as they arrive.
type Simulator struct {
	cfg  SimulatorConfig
	exec *gcode.Executor
	log  *log.Logger

	mu        sync.Mutex
	rx        []string
	rxBytes   int
	partial   []byte
	truncated bool
	highWater int
	overflows int
	held      bool
	alarm     int
	inject    []int
	executed  []string
	settings  map[int]string

	wake  chan struct{}
	outMu sync.Mutex
	out   io.Writer
}

// NewSimulator returns an idle simulator.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	return &Simulator{
		cfg:  cfg,
		exec: gcode.NewExecutor(),
		log:  log.GetLogger("grbl-sim"),
		settings: map[int]string{
			0:   "10",
			1:   "25",
			22:  "0",
			110: "5000.000",
			111: "5000.000",
			112: "1000.000",
		},
		wake: make(chan struct{}, 1),
	}
}

// Serve runs the controller on rw until the peer closes it or ctx ends.
func (s *Simulator) Serve(ctx context.Context, rw io.ReadWriter) error {
	s.outMu.Lock()
	s.out = rw
	s.outMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.processLoop(ctx)
	}()

	s.banner()
	buf := make([]byte, 256)
	var err error
	for {
		var n int
		n, err = rw.Read(buf)
		for _, b := range buf[:n] {
			s.receive(b)
		}
		if err != nil {
			break
		}
	}
	cancel()
	<-done
	if err == io.EOF || ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Simulator) receive(b byte) {
	switch b {
	case StatusQuery:
		s.writeLine(s.StatusLine())
		return
	case FeedHold:
		s.mu.Lock()
		s.held = true
		s.mu.Unlock()
		return
	case CycleStart:
		s.mu.Lock()
		s.held = false
		s.mu.Unlock()
		s.signal()
		return
	case SoftReset:
		s.reset()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch b {
	case '\r':
		return
	case '\n':
		line := string(s.partial)
		s.partial = s.partial[:0]
		// a line that lost bytes or does not fit is discarded whole
		if s.truncated || s.rxBytes+len(line)+1 > s.cfg.BufferSize {
			if !s.truncated {
				s.overflows++
			}
			s.truncated = false
			return
		}
		s.rx = append(s.rx, line)
		s.rxBytes += len(line) + 1
		if s.rxBytes > s.highWater {
			s.highWater = s.rxBytes
		}
		s.signal()
		return
	}
	if s.rxBytes+len(s.partial)+1 > s.cfg.BufferSize {
		// a real controller drops bytes when its ring buffer is full
		s.overflows++
		s.truncated = true
		return
	}
	s.partial = append(s.partial, b)
	if used := s.rxBytes + len(s.partial); used > s.highWater {
		s.highWater = used
	}
}

func (s *Simulator) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Simulator) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if s.held || len(s.rx) == 0 {
				s.mu.Unlock()
				break
			}
			line := s.rx[0]
			s.mu.Unlock()

			if s.cfg.LineDelay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.cfg.LineDelay):
				}
			}

			s.mu.Lock()
			// a soft reset may have flushed the buffer meanwhile
			if len(s.rx) == 0 || s.rx[0] != line {
				s.mu.Unlock()
				continue
			}
			s.rx = s.rx[1:]
			s.rxBytes -= len(line) + 1
			s.mu.Unlock()

			for _, resp := range s.process(line) {
				s.writeLine(resp)
			}
		}
	}
}

// process executes one line and returns the responses to write.
func (s *Simulator) process(line string) []string {
	ln := strings.TrimSpace(line)
	if len(ln) > maxLineLength {
		return []string{errorLine(ErrOverflow)}
	}

	s.mu.Lock()
	if len(s.inject) > 0 {
		code := s.inject[0]
		s.inject = s.inject[1:]
		s.mu.Unlock()
		return []string{errorLine(code)}
	}
	alarmed := s.alarm != 0
	s.mu.Unlock()

	if strings.HasPrefix(ln, "$") {
		return s.system(ln, alarmed)
	}
	if alarmed && ln != "" {
		return []string{errorLine(ErrSystemGCLock)}
	}
	if err := s.exec.Execute(ln); err != nil {
		s.log.WithError(err).WithField("line", ln).Debug("rejected line")
		return []string{errorLine(codeFor(err))}
	}
	s.mu.Lock()
	s.executed = append(s.executed, ln)
	s.mu.Unlock()
	return []string{"ok"}
}

func (s *Simulator) system(ln string, alarmed bool) []string {
	cmd := strings.ToUpper(ln)
	switch {
	case cmd == "$X":
		s.clearAlarm()
		_ = s.exec.Execute("$X")
		return []string{"[MSG:Caution: Unlocked]", "ok"}
	case cmd == "$H":
		s.clearAlarm()
		_ = s.exec.Execute("$H")
		return []string{"ok"}
	case cmd == "$$":
		return append(s.settingLines(), "ok")
	case cmd == "$I":
		return []string{
			fmt.Sprintf("[VER:%s.20190825:]", s.cfg.Version),
			fmt.Sprintf("[OPT:V,15,%d]", s.cfg.BufferSize),
			"ok",
		}
	case cmd == "$G":
		return []string{s.parserState(), "ok"}
	}
	if st, ok := parseSetting(ln); ok {
		if alarmed {
			return []string{errorLine(ErrIdleError)}
		}
		s.mu.Lock()
		s.settings[st.Number] = st.Value
		s.mu.Unlock()
		return []string{"ok"}
	}
	return []string{errorLine(ErrInvalidStatement)}
}

func (s *Simulator) settingLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]int, 0, len(s.settings))
	for k := range s.settings {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("$%d=%s", k, s.settings[k]))
	}
	return out
}

func (s *Simulator) parserState() string {
	st := s.exec.State()
	units, dist := "G21", "G90"
	if st.Units == gcode.Inches {
		units = "G20"
	}
	if st.Relative {
		dist = "G91"
	}
	spindle := "M5"
	if st.SpindleOn {
		spindle = "M3"
		if st.SpindleCC {
			spindle = "M4"
		}
	}
	coolant := [...]string{"M9", "M7", "M8"}[st.Coolant]
	return fmt.Sprintf("[GC:G%d G54 G%d %s %s G94 %s %s T0 F%g S%g]",
		st.Motion, 17+int(st.Plane), units, dist, spindle, coolant, st.Feed, st.Spindle)
}

func (s *Simulator) reset() {
	s.mu.Lock()
	s.rx = nil
	s.rxBytes = 0
	s.partial = s.partial[:0]
	s.truncated = false
	s.held = false
	s.mu.Unlock()
	s.exec.Reset()
	s.banner()
}

func (s *Simulator) banner() {
	s.writeLine("")
	s.writeLine(fmt.Sprintf("Grbl %s ['$' for help]", s.cfg.Version))
}

func (s *Simulator) clearAlarm() {
	s.mu.Lock()
	s.alarm = 0
	s.mu.Unlock()
}

func (s *Simulator) writeLine(line string) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.out == nil {
		return
	}
	if _, err := io.WriteString(s.out, line+"\r\n"); err != nil {
		s.log.WithError(err).Debug("write failed")
	}
}

func errorLine(code int) string { return fmt.Sprintf("error:%d", code) }

// StatusLine renders the current status report.
func (s *Simulator) StatusLine() string {
	s.mu.Lock()
	state := StateIdle
	switch {
	case s.alarm != 0:
		state = StateAlarm
	case s.held:
		state = StateHold
	case len(s.rx) > 0:
		state = StateRun
	}
	plan, free := len(s.rx), s.cfg.BufferSize-s.rxBytes-len(s.partial)
	s.mu.Unlock()

	st := s.exec.State()
	spindle := 0.0
	if st.SpindleOn {
		spindle = st.Spindle
	}
	return fmt.Sprintf("<%s|MPos:%.3f,%.3f,%.3f|F:%g|S:%d|Buf:%d:%d>",
		state, st.Position[0], st.Position[1], st.Position[2],
		st.Feed*st.Units.Scale(), int64(spindle), plan, free)
}

// InjectErrors answers the next n lines with error:<code>.
func (s *Simulator) InjectErrors(code, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.inject = append(s.inject, code)
	}
}

// TriggerAlarm raises alarm:<code>. Lines are rejected with error:9 until
// $X or $H.
func (s *Simulator) TriggerAlarm(code int) {
	s.mu.Lock()
	s.alarm = code
	s.mu.Unlock()
	s.exec.Alarm()
	s.writeLine(fmt.Sprintf("ALARM:%d", code))
}

// Executed returns the lines accepted so far.
func (s *Simulator) Executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

// HighWater is the largest receive-buffer occupancy seen, in bytes.
func (s *Simulator) HighWater() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highWater
}

// Overflows counts bytes dropped because the buffer was full.
func (s *Simulator) Overflows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflows
}

// Executor exposes the interpreter behind the simulator.
func (s *Simulator) Executor() *gcode.Executor { return s.exec }
