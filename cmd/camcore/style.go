package main

import (
	"io"

	"github.com/muesli/termenv"
)

// style colours CLI output when the writer is a terminal that supports it.
type style struct {
	out *termenv.Output
}

func newStyle(w io.Writer) *style {
	return &style{out: termenv.NewOutput(w)}
}

func (s *style) paint(text, color string) string {
	return s.out.String(text).Foreground(s.out.Color(color)).String()
}

func (s *style) good(text string) string { return s.paint(text, "2") }
func (s *style) warn(text string) string { return s.paint(text, "3") }
func (s *style) bad(text string) string  { return s.paint(text, "1") }

func (s *style) bold(text string) string {
	return s.out.String(text).Bold().String()
}
