package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"cnc-cam-core/pkg/grbl"
)

func newParseStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse-status [LINE...]",
		Short: "Parse controller response lines, from arguments or stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return parseResponses(cmd.OutOrStdout(), strings.NewReader(strings.Join(args, "\n")))
			}
			return parseResponses(cmd.OutOrStdout(), cmd.InOrStdin())
		},
	}
}

// parseResponses prints one description per non-empty line. Malformed
// lines are reported and counted; the first such error is returned.
func parseResponses(w io.Writer, r io.Reader) error {
	st := newStyle(w)
	var firstErr error
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		resp, ok, err := grbl.Parse(sc.Text())
		if !ok {
			continue
		}
		if err != nil {
			fmt.Fprintf(w, "%s %v\n", st.bad("invalid"), err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fmt.Fprintln(w, formatResponse(st, resp))
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return firstErr
}

func formatResponse(st *style, r grbl.Response) string {
	switch r.Kind {
	case grbl.KindOk:
		return st.good("ok")
	case grbl.KindError:
		return st.bad(fmt.Sprintf("error %d", r.Code)) + ": " + grbl.ErrorDescription(r.Code)
	case grbl.KindAlarm:
		return st.bad(fmt.Sprintf("alarm %d", r.Code)) + ": " + grbl.AlarmDescription(r.Code)
	case grbl.KindStatus:
		return formatStatus(st, r.Status)
	case grbl.KindSetting:
		return fmt.Sprintf("setting $%d = %s", r.Setting.Number, r.Setting.Value)
	}
	return r.Kind.String() + ": " + r.Text
}

func formatStatus(st *style, s *grbl.Status) string {
	var b strings.Builder
	state := string(s.State)
	if s.SubState != 0 {
		state += fmt.Sprintf(":%d", s.SubState)
	}
	switch s.State {
	case grbl.StateIdle:
		state = st.good(state)
	case grbl.StateAlarm, grbl.StateDoor:
		state = st.bad(state)
	case grbl.StateHold:
		state = st.warn(state)
	}
	b.WriteString("state " + st.bold(state))
	if s.HasMPos {
		fmt.Fprintf(&b, " mpos %.3f,%.3f,%.3f", s.MPos[0], s.MPos[1], s.MPos[2])
	}
	if s.HasWPos {
		fmt.Fprintf(&b, " wpos %.3f,%.3f,%.3f", s.WPos[0], s.WPos[1], s.WPos[2])
	}
	if s.HasWCO {
		fmt.Fprintf(&b, " wco %.3f,%.3f,%.3f", s.WCO[0], s.WCO[1], s.WCO[2])
	}
	if s.HasFeed {
		fmt.Fprintf(&b, " feed %g spindle %d", s.Feed, s.Spindle)
	}
	if s.HasBuf {
		fmt.Fprintf(&b, " planner %d rx-free %d", s.PlanBlocks, s.ExecBytes)
	}
	return b.String()
}
