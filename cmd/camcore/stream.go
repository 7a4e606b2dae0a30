package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"cnc-cam-core/pkg/config"
	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/grbl"
	"cnc-cam-core/pkg/history"
	"cnc-cam-core/pkg/log"
	"cnc-cam-core/pkg/metrics"
	"cnc-cam-core/pkg/stream"
	"cnc-cam-core/pkg/transport"
)

// bannerWait bounds how long to wait for the controller's welcome line
// before streaming anyway.
const bannerWait = 5 * time.Second

type streamOptions struct {
	endpoint   string
	bannerWait time.Duration
	quiet      bool
}

func newStreamCmd(o *options) *cobra.Command {
	so := streamOptions{bannerWait: bannerWait}
	cmd := &cobra.Command{
		Use:   "stream PROGRAM",
		Short: "Stream a G-code program to the controller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := o.machine()
			if err != nil {
				return err
			}
			return runStream(cmd.Context(), cmd.OutOrStdout(), args[0], m, so)
		},
	}
	cmd.Flags().StringVarP(&so.endpoint, "endpoint", "e", "", "controller endpoint, overrides [controller]")
	cmd.Flags().DurationVar(&so.bannerWait, "banner-wait", bannerWait, "how long to wait for the controller banner")
	cmd.Flags().BoolVarP(&so.quiet, "quiet", "q", false, "only print the summary")
	return cmd
}

// session is one streaming run with its optional journal and metrics.
type session struct {
	s       *stream.Streamer
	cm      *metrics.CamMetrics
	journal *history.Store
	jobID   uuid.UUID
	log     *log.Logger
}

func runStream(ctx context.Context, w io.Writer, path string, m *config.MachineConfig, so streamOptions) error {
	lines, err := readProgram(path)
	if err != nil {
		return err
	}

	ep, err := resolveEndpoint(m, so.endpoint)
	if err != nil {
		return err
	}
	conn, err := transport.Dial(ctx, ep, m.Controller.DialOptions())
	if err != nil {
		return err
	}

	ss := &session{
		s:   stream.New(conn, m.Controller.Stream),
		cm:  metrics.GlobalMetrics(),
		log: log.GetLogger("stream"),
	}
	ss.s.SetMetrics(ss.cm)

	if m.Metrics.Address != "" {
		ms := metrics.NewMetricsServer(ss.cm, m.Metrics.Address)
		ms.SetStatusFunc(ss.status)
		ms.StartAsync()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = ms.Shutdown(shutdownCtx)
		}()
	}

	if m.History.Path != "" {
		store, err := history.Open(ctx, m.History.Path)
		if err != nil {
			conn.Close()
			return err
		}
		defer store.Close()
		id, err := store.Begin(ctx, path, len(lines))
		if err != nil {
			conn.Close()
			return err
		}
		ss.journal, ss.jobID = store, id
	}

	// The session outlives an interrupt long enough to soft-reset the
	// controller, so it does not derive from ctx.
	runCtx, stopRun := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- ss.s.Run(runCtx) }()

	sessionCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)
	go func() {
		select {
		case err := <-runDone:
			runDone <- err
			abort(errors.ConnectionLost(err))
		case <-sessionCtx.Done():
		}
	}()

	ss.waitBanner(sessionCtx, so.bannerWait)
	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		ss.report(sessionCtx, newStyle(w), w, so.quiet, abort)
	}()

	start := time.Now()
	streamErr := ss.send(sessionCtx, lines)
	if streamErr == nil {
		streamErr = ss.s.Drain(sessionCtx)
	}
	if streamErr != nil {
		if cause := context.Cause(sessionCtx); cause != nil && cause != context.Canceled {
			streamErr = cause
		}
		if ctx.Err() != nil {
			streamErr = errors.Cancelled("stream")
			if rerr := ss.s.SoftReset(); rerr != nil {
				ss.log.WithError(rerr).Warn("soft reset failed")
			}
		}
	}

	abort(nil)
	<-printerDone
	stopRun()
	if runErr := <-runDone; runErr != nil && streamErr == nil {
		streamErr = runErr
	}

	stats := ss.s.Stats()
	if streamErr == nil && stats.Failed > 0 {
		streamErr = errors.RuntimeError(fmt.Sprintf("%d lines failed", stats.Failed))
	}
	state := history.FinalState(stats, streamErr)
	ss.cm.RecordJob(state)
	if ss.journal != nil {
		if err := ss.journal.Finish(context.Background(), ss.jobID, stats, state, streamErr); err != nil {
			ss.log.WithError(err).Warn("journal update failed")
		}
	}
	printStreamSummary(w, stats, state, time.Since(start))
	return streamErr
}

func resolveEndpoint(m *config.MachineConfig, override string) (transport.Endpoint, error) {
	if override != "" {
		return transport.ParseEndpoint(override)
	}
	return m.Controller.Endpoint()
}

// waitBanner consumes events until the controller announces itself. Lines
// sent before the banner would be lost to the controller's reset.
func (ss *session) waitBanner(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case ev := <-ss.s.Events():
			if ev.Type == stream.EventMessage && ev.Response.Kind == grbl.KindVersion {
				ss.log.WithField("banner", ev.Response.Text).Info("controller ready")
				return
			}
		case <-timer.C:
			ss.log.WithField("waited", d).Warn("no banner, streaming anyway")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (ss *session) send(ctx context.Context, lines []string) error {
	for _, l := range lines {
		if _, err := ss.s.Send(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

// report prints events until ctx ends, then flushes whatever is still
// buffered. An alarm aborts the session.
func (ss *session) report(ctx context.Context, st *style, w io.Writer, quiet bool, abort context.CancelCauseFunc) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-ss.s.Events():
					ss.print(ev, st, w, quiet, abort)
				default:
					return
				}
			}
		case ev := <-ss.s.Events():
			ss.print(ev, st, w, quiet, abort)
		}
	}
}

func (ss *session) print(ev stream.Event, st *style, w io.Writer, quiet bool, abort context.CancelCauseFunc) {
	switch ev.Type {
	case stream.EventFailed:
		fmt.Fprintf(w, "%s %s: %s\n", st.bad("✗"), ev.Command.Line, describe(ev.Response))
	case stream.EventRetry:
		if !quiet {
			fmt.Fprintf(w, "%s retry %d: %s\n", st.warn("↻"), ev.Command.RetryCount, ev.Command.Line)
		}
	case stream.EventAlarm:
		fmt.Fprintf(w, "%s %s\n", st.bad("ALARM"), describe(ev.Response))
		abort(errors.AlarmError(ev.Response.Code, grbl.AlarmDescription(ev.Response.Code)))
	case stream.EventMessage:
		if !quiet {
			fmt.Fprintf(w, "  %s\n", ev.Response.Text)
		}
	case stream.EventError:
		ss.log.WithError(ev.Err).Warn("stream error")
	}
}

func (ss *session) status() map[string]any {
	st := ss.s.Stats()
	out := map[string]any{
		"state":      ss.s.State().String(),
		"pending":    ss.s.PendingLen(),
		"active":     ss.s.ActiveLen(),
		"sent_bytes": ss.s.SentBytes(),
		"sent":       st.Sent,
		"completed":  st.Completed,
		"failed":     st.Failed,
		"retried":    st.Retried,
	}
	if ss.jobID != uuid.Nil {
		out["job"] = ss.jobID.String()
	}
	if ls := ss.s.LastStatus(); ls != nil {
		out["machine_state"] = string(ls.State)
		out["mpos"] = ls.MPos
	}
	return out
}

func describe(r grbl.Response) string {
	switch r.Kind {
	case grbl.KindError:
		return fmt.Sprintf("error:%d %s", r.Code, grbl.ErrorDescription(r.Code))
	case grbl.KindAlarm:
		return fmt.Sprintf("ALARM:%d %s", r.Code, grbl.AlarmDescription(r.Code))
	}
	return r.Text
}

func printStreamSummary(w io.Writer, st stream.Stats, state string, elapsed time.Duration) {
	sty := newStyle(w)
	mark := sty.good(state)
	if state != history.StateCompleted {
		mark = sty.bad(state)
	}
	fmt.Fprintf(w, "%s: %d sent, %d completed, %d failed, %d retried in %s\n",
		sty.bold(mark), st.Sent, st.Completed, st.Failed, st.Retried, elapsed.Round(time.Millisecond))
}
