package config

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Section is one [name] block. Option names are case-insensitive and every
// getter marks the option as read.
type Section struct {
	name    string
	options map[string]string

	mu       sync.RWMutex
	accessed map[string]struct{}
}

func newSection(name string, options map[string]string) *Section {
	opts := make(map[string]string, len(options))
	for k, v := range options {
		opts[strings.ToLower(k)] = v
	}
	return &Section{
		name:     name,
		options:  opts,
		accessed: make(map[string]struct{}),
	}
}

// Name returns the section name.
func (s *Section) Name() string {
	return s.name
}

// lookup returns the raw value and marks the option read. A missing
// option with no fallback is a CONFIG_OPTION error.
func (s *Section) lookup(option string, hasFallback bool) (string, bool, error) {
	key := strings.ToLower(option)
	s.mu.Lock()
	s.accessed[key] = struct{}{}
	s.mu.Unlock()

	if v, ok := s.options[key]; ok {
		return strings.TrimSpace(v), true, nil
	}
	if hasFallback {
		return "", false, nil
	}
	return "", false, errMissingOption(s.name, option)
}

// GetUnusedOptions returns the options no getter has read, sorted.
func (s *Section) GetUnusedOptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []string
	for opt := range s.options {
		if _, ok := s.accessed[opt]; !ok {
			result = append(result, opt)
		}
	}
	sort.Strings(result)
	return result
}

// HasOption checks if an option exists in this section.
func (s *Section) HasOption(option string) bool {
	_, ok := s.options[strings.ToLower(option)]
	return ok
}

// Get returns a string option, or the fallback when it is absent.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	v, ok, err := s.lookup(option, len(fallback) > 0)
	if err != nil || !ok {
		if len(fallback) > 0 {
			return fallback[0], err
		}
		return "", err
	}
	return v, nil
}

// GetInt returns an integer option.
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	v, ok, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback[0], nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, errInvalidValue(s.name, option, v, "integer")
	}
	return i, nil
}

// GetIntAtLeast returns an integer option no smaller than minVal.
func (s *Section) GetIntAtLeast(option string, minVal int, fallback ...int) (int, error) {
	v, err := s.GetInt(option, fallback...)
	if err != nil {
		return 0, err
	}
	if v < minVal {
		return 0, errOutOfRange(s.name, option, float64(v), "must have minimum of "+strconv.Itoa(minVal))
	}
	return v, nil
}

// GetFloat returns a float64 option.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	v, ok, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback[0], nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errInvalidValue(s.name, option, v, "number")
	}
	return f, nil
}

// FloatBounds specifies bounds for GetFloatWithBounds. Nil fields are
// not checked.
type FloatBounds struct {
	MinVal *float64 // >=
	MaxVal *float64 // <=
	Above  *float64 // >
	Below  *float64 // <
}

// Above is shorthand for FloatBounds{Above: &v}.
func Above(v float64) FloatBounds { return FloatBounds{Above: &v} }

// AtLeast is shorthand for FloatBounds{MinVal: &v}.
func AtLeast(v float64) FloatBounds { return FloatBounds{MinVal: &v} }

// GetFloatWithBounds returns a float64 option checked against bounds.
func (s *Section) GetFloatWithBounds(option string, bounds FloatBounds, fallback ...float64) (float64, error) {
	v, err := s.GetFloat(option, fallback...)
	if err != nil {
		return 0, err
	}
	ff := func(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
	switch {
	case bounds.MinVal != nil && v < *bounds.MinVal:
		return 0, errOutOfRange(s.name, option, v, "must have minimum of "+ff(*bounds.MinVal))
	case bounds.MaxVal != nil && v > *bounds.MaxVal:
		return 0, errOutOfRange(s.name, option, v, "must have maximum of "+ff(*bounds.MaxVal))
	case bounds.Above != nil && v <= *bounds.Above:
		return 0, errOutOfRange(s.name, option, v, "must be above "+ff(*bounds.Above))
	case bounds.Below != nil && v >= *bounds.Below:
		return 0, errOutOfRange(s.name, option, v, "must be below "+ff(*bounds.Below))
	}
	return v, nil
}

// GetBool returns a boolean option. Accepts 1/0, true/false, yes/no and
// on/off.
func (s *Section) GetBool(option string, fallback ...bool) (bool, error) {
	v, ok, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return false, err
	}
	if !ok {
		return fallback[0], nil
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, errInvalidValue(s.name, option, v, "boolean")
}

// GetDuration returns a duration option. Bare numbers are seconds;
// otherwise time.ParseDuration syntax applies ("500ms", "2s").
func (s *Section) GetDuration(option string, fallback ...time.Duration) (time.Duration, error) {
	v, ok, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback[0], nil
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		if f < 0 {
			return 0, errOutOfRange(s.name, option, f, "must not be negative")
		}
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errInvalidValue(s.name, option, v, "duration")
	}
	if d < 0 {
		return 0, errOutOfRange(s.name, option, d.Seconds(), "must not be negative")
	}
	return d, nil
}

// GetChoice returns a string option that must be one of choices,
// compared case-insensitively. The canonical spelling is returned.
func (s *Section) GetChoice(option string, choices []string, fallback ...string) (string, error) {
	v, err := s.Get(option, fallback...)
	if err != nil {
		return "", err
	}
	for _, c := range choices {
		if strings.EqualFold(v, c) {
			return c, nil
		}
	}
	return "", errInvalidChoice(s.name, option, v, choices)
}

// GetFloatList returns a list of floats split by sep.
func (s *Section) GetFloatList(option string, sep string, fallback ...[]float64) ([]float64, error) {
	v, ok, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return fallback[0], nil
	}
	var result []float64
	for _, p := range strings.Split(v, sep) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, errInvalidValue(s.name, option, p, "number")
		}
		result = append(result, f)
	}
	return result, nil
}

// RawOptions returns a copy of the raw options map.
func (s *Section) RawOptions() map[string]string {
	result := make(map[string]string, len(s.options))
	for k, v := range s.options {
		result[k] = v
	}
	return result
}
