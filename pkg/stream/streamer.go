package stream

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/grbl"
	"cnc-cam-core/pkg/log"
	"cnc-cam-core/pkg/metrics"
	"cnc-cam-core/pkg/pool"
)

// Streamer sends queued lines to a controller without overrunning its
// receive buffer and pairs every ok or error with the oldest line still
// awaiting a reply.
//
// The pending queue and the active list each have their own mutex. The two
// are never held together and no lock is held across I/O.
type Streamer struct {
	cfg     Config
	rw      io.ReadWriter
	log     *log.Logger
	metrics *metrics.CamMetrics

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   []*Command

	activeMu  sync.Mutex
	active    []*Command
	sentBytes int

	state      atomic.Int32
	nextID     atomic.Uint64
	lastStatus atomic.Pointer[grbl.Status]
	// outstanding counts lines not yet Completed or Failed.
	outstanding atomic.Int64

	sent, completed, failed, retried, alarms, dropped atomic.Uint64

	events chan Event
	wake   chan struct{}
	space  chan struct{}
}

// Stats are cumulative counters.
type Stats struct {
	Sent, Completed, Failed, Retried, Alarms uint64
	// DroppedEvents counts events lost to a full channel.
	DroppedEvents uint64
}

// New returns an idle streamer on rw.
func New(rw io.ReadWriter, cfg Config) *Streamer {
	cfg.normalize()
	return &Streamer{
		cfg:    cfg,
		rw:     rw,
		log:    log.GetLogger("stream"),
		events: make(chan Event, cfg.EventBuffer),
		wake:   make(chan struct{}, 1),
		space:  make(chan struct{}, 1),
	}
}

// SetMetrics attaches a metrics sink. Nil disables recording.
func (s *Streamer) SetMetrics(m *metrics.CamMetrics) { s.metrics = m }

// Events returns the event channel. Events are dropped when it is full.
func (s *Streamer) Events() <-chan Event { return s.events }

// Config returns the effective configuration.
func (s *Streamer) Config() Config { return s.cfg }

// Enqueue appends a line to the pending queue. A trailing newline is
// stripped. It fails with QUEUE_FULL when the queue is at capacity.
func (s *Streamer) Enqueue(line string) (uint64, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, errors.GCodeParseError(line, "empty line")
	}
	if strings.ContainsAny(line, "\n?!~\x18") {
		return 0, errors.GCodeParseError(line, "line contains a real-time byte")
	}
	cmd := &Command{ID: s.nextID.Add(1), Line: line, State: Queued, Enqueued: time.Now()}

	s.pendingMu.Lock()
	if len(s.pending) >= s.cfg.QueueCapacity {
		s.pendingMu.Unlock()
		return 0, errors.QueueFull(s.cfg.QueueCapacity)
	}
	s.pending = append(s.pending, cmd)
	s.outstanding.Add(1)
	s.pendingMu.Unlock()

	s.transition(Idle, Streaming)
	s.signal()
	return cmd.ID, nil
}

// Send enqueues a line, waiting for room when the queue is full.
func (s *Streamer) Send(ctx context.Context, line string) (uint64, error) {
	for {
		id, err := s.Enqueue(line)
		if err == nil || !errors.Is(err, errors.ErrQueueFull) {
			return id, err
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-s.space:
		}
	}
}

// Pump sends pending lines while the controller buffer has room. It
// returns the transport error of a failed write; the line stays queued.
func (s *Streamer) Pump() error {
	for s.State() == Streaming {
		s.pendingMu.Lock()
		if len(s.pending) == 0 {
			s.pendingMu.Unlock()
			return nil
		}
		cmd := s.pending[0]
		s.pendingMu.Unlock()
		n := cmd.Len()

		s.activeMu.Lock()
		if s.cfg.FlowControl && s.sentBytes+n+1 > s.cfg.BufferSize {
			oversize := len(s.active) == 0
			s.activeMu.Unlock()
			if oversize {
				s.reject(cmd)
				continue
			}
			return nil
		}
		s.sentBytes += n
		s.active = append(s.active, cmd)
		used := s.sentBytes
		s.activeMu.Unlock()

		if !s.popFront(cmd) {
			// cleared by a reset while we were deciding
			s.unsend(cmd)
			continue
		}
		cmd.State = Sent
		cmd.SentAt = time.Now()

		if err := s.writeLine(cmd.Line); err != nil {
			s.unsend(cmd)
			cmd.State = Queued
			s.pushFront(cmd)
			return err
		}
		s.sent.Add(1)
		s.metrics.RecordLineSent(n)
		s.metrics.SetBufferFill(used, s.cfg.BufferSize)
	}
	return nil
}

// reject fails a line that can never fit in the controller buffer.
func (s *Streamer) reject(cmd *Command) {
	if !s.popFront(cmd) {
		return
	}
	cmd.State = Failed
	s.failed.Add(1)
	s.outstanding.Add(-1)
	err := errors.New(errors.ErrBufferOverflow, "line longer than controller buffer").
		SetContext("bytes", cmd.Len()).
		SetContext("buffer_size", s.cfg.BufferSize)
	s.log.WithFields(log.Fields{"id": cmd.ID, "line": cmd.Line}).Error("line does not fit the controller buffer")
	s.emit(Event{Type: EventFailed, Command: snapshot(cmd), Err: err})
	s.settle()
}

// HandleResponse applies one parsed controller line.
func (s *Streamer) HandleResponse(r grbl.Response) {
	s.metrics.RecordResponse(r.Kind.String())
	switch r.Kind {
	case grbl.KindOk, grbl.KindError:
		s.acknowledge(r)
	case grbl.KindAlarm:
		s.alarms.Add(1)
		err := r.Err()
		s.log.WithError(err).Warn("controller alarm")
		s.setState(Alarmed)
		s.emit(Event{Type: EventAlarm, Response: r, Err: err})
	case grbl.KindStatus:
		s.lastStatus.Store(r.Status)
		s.emit(Event{Type: EventStatus, Response: r})
	case grbl.KindVersion:
		s.controllerReset(r)
	default:
		s.emit(Event{Type: EventMessage, Response: r})
	}
}

func (s *Streamer) acknowledge(r grbl.Response) {
	s.activeMu.Lock()
	if len(s.active) == 0 {
		s.activeMu.Unlock()
		s.log.WithField("response", r.Text).Warn("response with no line outstanding")
		return
	}
	cmd := s.active[0]
	s.active[0] = nil
	s.active = s.active[1:]
	s.sentBytes = subSat(s.sentBytes, cmd.Len())
	used := s.sentBytes
	s.activeMu.Unlock()
	s.metrics.SetBufferFill(used, s.cfg.BufferSize)

	cmd.Response = r.Text
	if r.Kind == grbl.KindOk {
		cmd.State = Completed
		s.completed.Add(1)
		s.outstanding.Add(-1)
		s.emit(Event{Type: EventCompleted, Command: snapshot(cmd), Response: r})
		s.settle()
		return
	}

	err := r.Err()
	if cmd.CanRetry(s.cfg.MaxRetries) {
		cmd.RetryCount++
		cmd.State = Queued
		s.pushFront(cmd)
		s.retried.Add(1)
		s.metrics.RecordRetry()
		s.log.WithFields(log.Fields{"id": cmd.ID, "retry": cmd.RetryCount, "code": r.Code}).Debug("retrying line")
		s.emit(Event{Type: EventRetry, Command: snapshot(cmd), Response: r, Err: err})
		return
	}
	cmd.State = Failed
	s.failed.Add(1)
	s.outstanding.Add(-1)
	s.log.WithFields(log.Fields{"id": cmd.ID, "line": cmd.Line, "retries": cmd.RetryCount}).
		WithError(err).Error("line failed")
	s.emit(Event{Type: EventFailed, Command: snapshot(cmd), Response: r, Err: err})
	s.settle()
}

// controllerReset handles a startup banner. The controller buffer is empty
// after a reset, so anything still outstanding is lost.
func (s *Streamer) controllerReset(r grbl.Response) {
	s.activeMu.Lock()
	lost := s.active
	s.active = nil
	s.sentBytes = 0
	s.activeMu.Unlock()

	for _, cmd := range lost {
		cmd.State = Failed
		s.failed.Add(1)
		s.outstanding.Add(-1)
		s.emit(Event{Type: EventFailed, Command: snapshot(cmd), Response: r,
			Err: errors.RuntimeError("controller reset before acknowledging line")})
	}
	if len(lost) > 0 {
		s.log.WithField("lost", len(lost)).Warn("controller reset with lines outstanding")
	}
	switch {
	case s.transition(Resetting, Idle):
		if s.PendingLen() > 0 {
			s.transition(Idle, Streaming)
		}
	default:
		s.settle()
	}
	s.emit(Event{Type: EventMessage, Response: r})
}

// settle moves a drained streamer back to Idle.
func (s *Streamer) settle() {
	if s.State() != Streaming || s.PendingLen() > 0 || s.ActiveLen() > 0 {
		return
	}
	s.transition(Streaming, Idle)
}

// Pause stops sending new lines. Outstanding lines are still acknowledged.
func (s *Streamer) Pause() {
	if !s.transition(Streaming, Paused) {
		s.transition(Idle, Paused)
	}
}

// Resume restarts sending after Pause.
func (s *Streamer) Resume() {
	if s.transition(Paused, Streaming) {
		s.settle()
		s.signal()
	}
}

// FeedHold sends '!' and pauses.
func (s *Streamer) FeedHold() error {
	s.Pause()
	return s.writeRealtime(grbl.FeedHold)
}

// CycleStart sends '~' and resumes.
func (s *Streamer) CycleStart() error {
	if err := s.writeRealtime(grbl.CycleStart); err != nil {
		return err
	}
	s.Resume()
	return nil
}

// RequestStatus sends '?'.
func (s *Streamer) RequestStatus() error {
	return s.writeRealtime(grbl.StatusQuery)
}

// KillAlarmLock queues $X ahead of everything else and resumes streaming.
func (s *Streamer) KillAlarmLock() {
	cmd := &Command{ID: s.nextID.Add(1), Line: "$X", State: Queued, Enqueued: time.Now()}
	s.outstanding.Add(1)
	s.pushFront(cmd)
	s.setState(Streaming)
	s.signal()
}

// SoftReset sends 0x18 and drops every pending and outstanding line. The
// streamer stays Resetting until the controller banner arrives.
func (s *Streamer) SoftReset() error {
	s.setState(Resetting)

	s.pendingMu.Lock()
	dropped := len(s.pending)
	s.pending = nil
	s.pendingMu.Unlock()

	s.activeMu.Lock()
	dropped += len(s.active)
	s.active = nil
	s.sentBytes = 0
	s.activeMu.Unlock()

	s.outstanding.Add(-int64(dropped))
	s.signalSpace()
	s.metrics.SetBufferFill(0, s.cfg.BufferSize)
	s.log.WithField("dropped", dropped).Info("soft reset")
	return s.writeRealtime(grbl.SoftReset)
}

// ClearQueue drops pending lines that were not sent yet.
func (s *Streamer) ClearQueue() int {
	s.pendingMu.Lock()
	n := len(s.pending)
	s.pending = nil
	s.outstanding.Add(-int64(n))
	s.pendingMu.Unlock()
	s.signalSpace()
	s.settle()
	return n
}

// State returns the streamer state.
func (s *Streamer) State() State { return State(s.state.Load()) }

// SentBytes is the byte count of lines awaiting a reply.
func (s *Streamer) SentBytes() int {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return s.sentBytes
}

// PendingLen is the number of queued lines.
func (s *Streamer) PendingLen() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// ActiveLen is the number of lines awaiting a reply.
func (s *Streamer) ActiveLen() int {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return len(s.active)
}

// Pending returns snapshots of the queued lines, head first.
func (s *Streamer) Pending() []Command {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	out := make([]Command, len(s.pending))
	for i, c := range s.pending {
		out[i] = *c
	}
	return out
}

// LastStatus is the most recent status report, or nil.
func (s *Streamer) LastStatus() *grbl.Status { return s.lastStatus.Load() }

// Stats returns the cumulative counters.
func (s *Streamer) Stats() Stats {
	return Stats{
		Sent:          s.sent.Load(),
		Completed:     s.completed.Load(),
		Failed:        s.failed.Load(),
		Retried:       s.retried.Load(),
		Alarms:        s.alarms.Load(),
		DroppedEvents: s.dropped.Load(),
	}
}

// Drain blocks until nothing is pending or outstanding. It fails when the
// controller raises an alarm.
func (s *Streamer) Drain(ctx context.Context) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		switch {
		case s.State() == Alarmed:
			return errors.New(errors.ErrProtoAlarm, "controller in alarm")
		case s.outstanding.Load() == 0:
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Run owns the session: a reader parses controller lines while the owner
// loop correlates replies and sends. Run closes rw on return when it is an
// io.Closer. Cancelling ctx ends the session with a nil error.
func (s *Streamer) Run(parent context.Context) error {
	g, ctx := errgroup.WithContext(parent)
	responses := make(chan grbl.Response, 64)

	g.Go(func() error { return s.readLoop(ctx, responses) })
	g.Go(func() error { return s.ownerLoop(ctx, responses) })
	if c, ok := s.rw.(io.Closer); ok {
		g.Go(func() error {
			<-ctx.Done()
			_ = c.Close()
			return nil
		})
	}
	err := g.Wait()
	if parent.Err() != nil {
		return nil
	}
	return err
}

func (s *Streamer) readLoop(ctx context.Context, out chan<- grbl.Response) error {
	sc := bufio.NewScanner(s.rw)
	for sc.Scan() {
		r, ok, err := grbl.Parse(sc.Text())
		if err != nil {
			s.log.WithError(err).Debug("bad controller line")
			s.emit(Event{Type: EventError, Err: err})
			continue
		}
		if !ok {
			continue
		}
		select {
		case out <- r:
		case <-ctx.Done():
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := sc.Err(); err != nil {
		return errors.ReadFailed(err)
	}
	return errors.ConnectionLost(io.EOF)
}

func (s *Streamer) ownerLoop(ctx context.Context, in <-chan grbl.Response) error {
	var tick <-chan time.Time
	if s.cfg.StatusInterval > 0 {
		t := time.NewTicker(s.cfg.StatusInterval)
		defer t.Stop()
		tick = t.C
	}
	if err := s.Pump(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-in:
			s.HandleResponse(r)
		case <-s.wake:
		case <-tick:
			if err := s.RequestStatus(); err != nil {
				return err
			}
			continue
		}
		if err := s.Pump(); err != nil {
			return err
		}
	}
}

func (s *Streamer) popFront(cmd *Command) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if len(s.pending) == 0 || s.pending[0] != cmd {
		return false
	}
	s.pending[0] = nil
	s.pending = s.pending[1:]
	s.signalSpace()
	return true
}

func (s *Streamer) pushFront(cmd *Command) {
	s.pendingMu.Lock()
	s.pending = append([]*Command{cmd}, s.pending...)
	s.pendingMu.Unlock()
}

func (s *Streamer) unsend(cmd *Command) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	for i := len(s.active) - 1; i >= 0; i-- {
		if s.active[i] == cmd {
			s.active = append(s.active[:i], s.active[i+1:]...)
			s.sentBytes = subSat(s.sentBytes, cmd.Len())
			return
		}
	}
}

func (s *Streamer) writeLine(line string) error {
	buf := pool.GetByteBuffer()
	defer pool.PutByteBuffer(buf)
	buf.WriteString(line)
	buf.WriteByte('\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.rw.Write(buf.Bytes()); err != nil {
		return errors.WriteFailed(err)
	}
	return nil
}

func (s *Streamer) writeRealtime(b byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.rw.Write([]byte{b}); err != nil {
		return errors.WriteFailed(err)
	}
	return nil
}

func (s *Streamer) transition(from, to State) bool {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	s.stateChanged(from, to)
	return true
}

func (s *Streamer) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from != to {
		s.stateChanged(from, to)
	}
}

func (s *Streamer) stateChanged(from, to State) {
	s.log.WithFields(log.Fields{"from": from.String(), "to": to.String()}).Debug("state change")
	s.metrics.SetStreamState(int(to))
	s.emit(Event{Type: EventStateChange, State: to})
}

func (s *Streamer) emit(ev Event) {
	if ev.Type != EventStateChange {
		ev.State = s.State()
	}
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
	}
}

func (s *Streamer) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Streamer) signalSpace() {
	select {
	case s.space <- struct{}{}:
	default:
	}
}

func snapshot(c *Command) *Command {
	cp := *c
	return &cp
}

func subSat(a, b int) int {
	if b > a {
		return 0
	}
	return a - b
}
