// Package grbl speaks the GRBL 1.1 line protocol: response parsing,
// real-time bytes, error and alarm descriptions and an in-process
// controller simulator.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package grbl

import (
	"strings"

	"github.com/tdewolff/parse/v2/strconv"

	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/pool"
)

// Real-time bytes. They bypass the line buffer.
const (
	StatusQuery byte = '?'
	FeedHold    byte = '!'
	CycleStart  byte = '~'
	SoftReset   byte = 0x18
)

// Kind is the response class.
type Kind int

const (
	KindOk Kind = iota
	KindError
	KindAlarm
	KindStatus
	KindVersion
	KindBuildInfo
	KindSetting
	KindMessage
)

var kindNames = [...]string{"ok", "error", "alarm", "status", "version", "buildinfo", "setting", "message"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Response is one parsed controller line.
type Response struct {
	Kind Kind
	// Code is the error or alarm number.
	Code int
	// Status is set for KindStatus.
	Status *Status
	// Setting is set for KindSetting.
	Setting Setting
	// Text is the trimmed line as received.
	Text string
}

// Setting is a "$<n>=<value>" line.
type Setting struct {
	Number int
	Value  string
}

// Terminal reports whether the response acknowledges a sent line.
func (r Response) Terminal() bool {
	return r.Kind == KindOk || r.Kind == KindError
}

// Ok is the canonical acknowledgement.
var Ok = Response{Kind: KindOk, Text: "ok"}

// Parse classifies a line. Empty lines yield ok=false and no error.
// Lines that match no grammar rule come back as KindMessage.
func Parse(line string) (r Response, ok bool, err error) {
	s := strings.TrimSpace(line)
	if s == "" {
		return Response{}, false, nil
	}
	r.Text = s
	switch {
	case s == "ok":
		r.Kind = KindOk
	case strings.HasPrefix(s, "error:"):
		r.Kind = KindError
		r.Code, err = parseCode(s, s[len("error:"):])
	case strings.HasPrefix(s, "alarm:"), strings.HasPrefix(s, "ALARM:"):
		r.Kind = KindAlarm
		r.Code, err = parseCode(s, s[len("alarm:"):])
	case s[0] == '<':
		r.Kind = KindStatus
		r.Status, err = ParseStatus(s)
	case strings.HasPrefix(s, "Grbl "):
		r.Kind = KindVersion
	case strings.HasPrefix(s, "[VER:"), strings.HasPrefix(s, "[OPT:"):
		if !strings.HasSuffix(s, "]") {
			return r, true, errors.IncompleteResponse(s)
		}
		r.Kind = KindBuildInfo
	case s[0] == '$':
		r.Kind = KindMessage
		if st, isSetting := parseSetting(s); isSetting {
			r.Kind = KindSetting
			r.Setting = st
		}
	default:
		r.Kind = KindMessage
	}
	if err != nil {
		return r, true, err
	}
	return r, true, nil
}

func parseCode(line, num string) (int, error) {
	v, n := strconv.ParseUint([]byte(num))
	if n == 0 || n != len(num) {
		return 0, errors.InvalidResponse(line)
	}
	return int(v), nil
}

func parseSetting(s string) (Setting, bool) {
	eq := strings.IndexByte(s, '=')
	if eq < 2 {
		return Setting{}, false
	}
	num := s[1:eq]
	v, n := strconv.ParseUint([]byte(num))
	if n == 0 || n != len(num) {
		return Setting{}, false
	}
	return Setting{Number: int(v), Value: s[eq+1:]}, true
}

// State is the controller machine state reported in status lines.
type State string

const (
	StateIdle  State = "Idle"
	StateRun   State = "Run"
	StateHold  State = "Hold"
	StateJog   State = "Jog"
	StateDoor  State = "Door"
	StateHome  State = "Home"
	StateAlarm State = "Alarm"
	StateCheck State = "Check"
	StateSleep State = "Sleep"
)

func knownState(s State) bool {
	switch s {
	case StateIdle, StateRun, StateHold, StateJog, StateDoor, StateHome, StateAlarm, StateCheck, StateSleep:
		return true
	}
	return false
}

// Status is a parsed "<State|field|...>" report. Fields that were not
// present keep their zero value and their Has flag false.
type Status struct {
	State    State
	SubState int

	MPos, WPos, WCO          [3]float64
	HasMPos, HasWPos, HasWCO bool

	Feed    float64
	Spindle uint64
	HasFeed bool

	// Planner blocks and free receive-buffer bytes.
	PlanBlocks, ExecBytes int
	HasBuf                bool
}

// ParseStatus parses a status report. Unknown fields are skipped.
func ParseStatus(line string) (*Status, error) {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, "<") {
		return nil, errors.InvalidResponse(line)
	}
	if !strings.HasSuffix(s, ">") {
		return nil, errors.IncompleteResponse(line)
	}
	fields := pool.GetStringSlice()
	defer pool.PutStringSlice(fields)
	*fields = append(*fields, strings.Split(s[1:len(s)-1], "|")...)

	st := &Status{}
	state := (*fields)[0]
	if i := strings.IndexByte(state, ':'); i >= 0 {
		sub, n := strconv.ParseUint([]byte(state[i+1:]))
		if n == 0 || n != len(state)-i-1 {
			return nil, errors.InvalidResponse(line)
		}
		st.SubState = int(sub)
		state = state[:i]
	}
	st.State = State(state)
	if !knownState(st.State) {
		return nil, errors.InvalidResponse(line)
	}

	for _, f := range (*fields)[1:] {
		colon := strings.IndexByte(f, ':')
		if colon < 0 {
			return nil, errors.InvalidResponse(line)
		}
		key, val := f[:colon], f[colon+1:]
		var err error
		switch key {
		case "MPos":
			st.MPos, err = parseTriple(line, val)
			st.HasMPos = err == nil
		case "WPos":
			st.WPos, err = parseTriple(line, val)
			st.HasWPos = err == nil
		case "WCO":
			st.WCO, err = parseTriple(line, val)
			st.HasWCO = err == nil
		case "F":
			st.Feed, err = parseFloat(line, val)
			st.HasFeed = err == nil
		case "S":
			st.Spindle, err = parseUint(line, val)
		case "FS":
			// GRBL 1.1 reports feed and spindle together
			comma := strings.IndexByte(val, ',')
			if comma < 0 {
				return nil, errors.InvalidResponse(line)
			}
			if st.Feed, err = parseFloat(line, val[:comma]); err == nil {
				st.HasFeed = true
				var rpm float64
				rpm, err = parseFloat(line, val[comma+1:])
				st.Spindle = uint64(rpm)
			}
		case "Buf", "Bf":
			sep := strings.IndexAny(val, ":,")
			if sep < 0 {
				return nil, errors.InvalidResponse(line)
			}
			var plan, exec uint64
			if plan, err = parseUint(line, val[:sep]); err == nil {
				exec, err = parseUint(line, val[sep+1:])
			}
			st.PlanBlocks, st.ExecBytes, st.HasBuf = int(plan), int(exec), err == nil
		}
		if err != nil {
			return nil, err
		}
	}
	// derive the missing position from the work offset
	if st.HasWCO {
		switch {
		case st.HasMPos && !st.HasWPos:
			for i := range st.WPos {
				st.WPos[i] = st.MPos[i] - st.WCO[i]
			}
		case st.HasWPos && !st.HasMPos:
			for i := range st.MPos {
				st.MPos[i] = st.WPos[i] + st.WCO[i]
			}
		}
	}
	return st, nil
}

func parseTriple(line, val string) ([3]float64, error) {
	var out [3]float64
	parts := strings.Split(val, ",")
	if len(parts) < 3 {
		return out, errors.InvalidResponse(line)
	}
	for i := 0; i < 3; i++ {
		v, err := parseFloat(line, parts[i])
		if err != nil {
			return out, err
		}
		out[i] = v
	}
	return out, nil
}

func parseFloat(line, s string) (float64, error) {
	v, n := strconv.ParseFloat([]byte(s))
	if n == 0 || n != len(s) {
		return 0, errors.InvalidResponse(line)
	}
	return v, nil
}

func parseUint(line, s string) (uint64, error) {
	v, n := strconv.ParseUint([]byte(s))
	if n == 0 || n != len(s) {
		return 0, errors.InvalidResponse(line)
	}
	return v, nil
}
