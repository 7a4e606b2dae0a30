package gcode

import (
	"bufio"
	"io"
	"strings"

	"github.com/tdewolff/parse/v2/strconv"

	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/pool"
)

// Parser turns lines into commands. It remembers the motion mode so that
// lines carrying only axis words continue the last G0-G3.
type Parser struct {
	motion int
}

// NewParser returns a parser in G0 motion mode.
func NewParser() *Parser { return &Parser{} }

// ParseLine parses one line with a fresh parser.
func ParseLine(line string) ([]Command, error) {
	return NewParser().Parse(line)
}

// ParseProgram parses every line of r. The returned error carries the
// offending line number.
func ParseProgram(r io.Reader) ([]Command, error) {
	p := NewParser()
	var out []Command
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256), 1<<20)
	n := 0
	for sc.Scan() {
		n++
		cmds, err := p.Parse(sc.Text())
		if err != nil {
			if ce, ok := err.(*errors.CamError); ok {
				ce.SetLine(n)
			}
			return out, err
		}
		out = append(out, cmds...)
	}
	if err := sc.Err(); err != nil {
		return out, errors.Wrap(err, errors.ErrIO, "read program")
	}
	return out, nil
}

type word struct {
	letter byte
	value  float64
}

// Parse parses one line. Modal commands come first in order of
// appearance, then spindle and coolant, then motion, then program end.
func (p *Parser) Parse(line string) ([]Command, error) {
	ln := strings.TrimSpace(line)
	if ln == "" {
		return nil, nil
	}
	var trailing []Command
	if i := strings.IndexByte(ln, ';'); i >= 0 {
		trailing = append(trailing, Comment{Text: strings.TrimSpace(ln[i+1:])})
		ln = strings.TrimSpace(ln[:i])
	}
	for {
		open := strings.IndexByte(ln, '(')
		if open < 0 {
			break
		}
		end := strings.IndexByte(ln[open:], ')')
		if end < 0 {
			return nil, errors.GCodeParseError(line, "unterminated comment")
		}
		trailing = append([]Command{Comment{Text: strings.TrimSpace(ln[open+1 : open+end])}}, trailing...)
		ln = strings.TrimSpace(ln[:open] + " " + ln[open+end+1:])
	}
	if ln == "" {
		return trailing, nil
	}
	if ln[0] == '$' {
		switch strings.ToUpper(ln) {
		case "$H":
			return append([]Command{Home{}}, trailing...), nil
		case "$X":
			return append([]Command{KillAlarmLock{}}, trailing...), nil
		}
		return append([]Command{Unknown{Line: ln}}, trailing...), nil
	}

	words, err := scanWords(line, ln)
	if err != nil {
		return nil, err
	}
	params := pool.GetWords()
	defer pool.PutWords(params)

	var (
		modal   []Command
		machine []Command
		end     []Command
		motion  = -1
		dwell   bool
		spindle = -1
		unknown bool
		hasAxes bool
	)
	for _, w := range words {
		code := int(w.value)
		integral := float64(code) == w.value
		switch w.letter {
		case 'N':
		case 'G':
			if !integral {
				unknown = true
				continue
			}
			switch code {
			case 0, 1, 2, 3:
				motion = code
			case 4:
				dwell = true
			case 17, 18, 19:
				modal = append(modal, SetPlane{Plane: Plane(code - 17)})
			case 20:
				modal = append(modal, SetUnits{Units: Inches})
			case 21:
				modal = append(modal, SetUnits{Units: Millimetres})
			case 90:
				modal = append(modal, SetAbsolute{})
			case 91:
				modal = append(modal, SetRelative{})
			default:
				unknown = true
			}
		case 'M':
			if !integral {
				unknown = true
				continue
			}
			switch code {
			case 3, 4:
				spindle = code
			case 5:
				machine = append(machine, SpindleOff{})
			case 7:
				machine = append(machine, SetCoolant{Mode: CoolantMist})
			case 8:
				machine = append(machine, SetCoolant{Mode: CoolantFlood})
			case 9:
				machine = append(machine, SetCoolant{Mode: CoolantOff})
			case 2, 30:
				end = append(end, ProgramEnd{Code: code})
			default:
				unknown = true
			}
		case 'X', 'Y', 'Z', 'I', 'J', 'F', 'S', 'P':
			if _, dup := params[w.letter]; dup {
				return nil, errors.GCodeParseError(line, "repeated "+string(w.letter)+" word")
			}
			params[w.letter] = w.value
			if w.letter != 'F' && w.letter != 'S' && w.letter != 'P' {
				hasAxes = true
			}
		default:
			unknown = true
		}
	}
	if unknown {
		return append([]Command{Unknown{Line: ln}}, trailing...), nil
	}

	if spindle >= 0 {
		machine = append([]Command{SetSpindle{RPM: params['S'], CCW: spindle == 4}}, machine...)
	} else if _, ok := params['S']; ok {
		return append([]Command{Unknown{Line: ln}}, trailing...), nil
	}

	out := append(modal, machine...)
	if dwell {
		out = append(out, Dwell{Seconds: params['P']})
	}
	if motion >= 0 {
		p.motion = motion
	}
	if _, hasFeed := params['F']; hasAxes || (hasFeed && !dwell) {
		out = append(out, p.motionCommand(params))
	}
	if len(end) > 0 {
		out = append(out, end...)
		p.motion = 1
	}
	return append(out, trailing...), nil
}

func (p *Parser) motionCommand(params map[byte]float64) Command {
	get := func(l byte) Word {
		if v, ok := params[l]; ok {
			return W(v)
		}
		return Word{}
	}
	switch p.motion {
	case 2, 3:
		return Arc{CW: p.motion == 2, X: get('X'), Y: get('Y'), Z: get('Z'), I: get('I'), J: get('J'), F: get('F')}
	default:
		return Move{Rapid: p.motion == 0, X: get('X'), Y: get('Y'), Z: get('Z'), F: get('F')}
	}
}

// scanWords splits a code section into letter/number words. Whitespace
// between words is optional.
func scanWords(line, code string) ([]word, error) {
	b := []byte(code)
	var out []word
	for i := 0; i < len(b); {
		c := b[i]
		if c == ' ' || c == '\t' {
			i++
			continue
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c < 'A' || c > 'Z' {
			return nil, errors.GCodeParseError(line, "expected a command letter")
		}
		i++
		for i < len(b) && (b[i] == ' ' || b[i] == '\t') {
			i++
		}
		v, n := strconv.ParseFloat(b[i:])
		if n == 0 {
			return nil, errors.GCodeInvalidParameterError(string(c), string(b[i:]))
		}
		i += n
		out = append(out, word{letter: c, value: v})
	}
	return out, nil
}
