package main

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/gcode"
)

// programLines returns the lines of a G-code program as they go on the
// wire: comments and blank lines dropped, whitespace trimmed.
func programLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256), 1<<20)
	n := 0
	for sc.Scan() {
		n++
		line, err := stripComments(sc.Text())
		if err != nil {
			return nil, err.SetLine(n)
		}
		if line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrIO, "read program")
	}
	return out, nil
}

func stripComments(line string) (string, *errors.CamError) {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	for {
		open := strings.IndexByte(line, '(')
		if open < 0 {
			break
		}
		end := strings.IndexByte(line[open:], ')')
		if end < 0 {
			return "", errors.GCodeParseError(line, "unterminated comment")
		}
		line = line[:open] + line[open+end+1:]
	}
	return strings.Join(strings.Fields(line), " "), nil
}

func readProgram(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrIO, "open program").SetFile(path)
	}
	defer f.Close()
	lines, err := programLines(f)
	if ce, ok := err.(*errors.CamError); ok {
		ce.SetFile(path)
	}
	return lines, err
}

type programSummary struct {
	Lines    int
	Travel   float64
	Duration time.Duration
}

// summarize runs a program through the interpreter for its line count,
// travel and machining time estimate.
func summarize(program []byte) (programSummary, error) {
	lines, err := programLines(bytes.NewReader(program))
	if err != nil {
		return programSummary{}, err
	}
	ex := gcode.NewExecutor()
	for i, l := range lines {
		if err := ex.Execute(l); err != nil {
			if ce, ok := err.(*errors.CamError); ok {
				ce.SetLine(i + 1)
			}
			return programSummary{}, err
		}
	}
	n, travel, d := ex.Stats()
	return programSummary{Lines: n, Travel: travel, Duration: d}, nil
}

// writeOutput writes data to path through a temporary file so readers
// never see a partial program. An empty path or "-" means w.
func writeOutput(path string, w io.Writer, data []byte) error {
	if path == "" || path == "-" {
		_, err := w.Write(data)
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".camcore-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrIO, "create output").SetFile(path)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.ErrIO, "write output").SetFile(path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrIO, "write output").SetFile(path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, errors.ErrIO, "replace output").SetFile(path)
	}
	return nil
}

func absPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// syncWriter serialises writes from the report goroutines.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
