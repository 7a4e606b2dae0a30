package config

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cnc-cam-core/pkg/errors"
)

// Config is a parsed configuration file. Sections keep file order and
// record which options were read so unknown options can be reported.
type Config struct {
	mu       sync.RWMutex
	sections map[string]*Section
	order    []string

	accessedSections map[string]struct{}
	files            []string
}

// New creates a new empty Config.
func New() *Config {
	return &Config{
		sections:         make(map[string]*Section),
		accessedSections: make(map[string]struct{}),
	}
}

// Load reads a configuration file. [include path] directives are resolved
// relative to the including file and may use glob patterns.
func Load(path string) (*Config, error) {
	c := New()
	if err := c.parseFile(path, make(map[string]bool)); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses a configuration from a string. Include directives are
// resolved against the working directory.
func LoadString(data string) (*Config, error) {
	c := New()
	if err := c.parse(strings.NewReader(data), "<string>", ".", make(map[string]bool)); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) parseFile(path string, visited map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrIO, "invalid config path").SetFile(path)
	}
	if visited[abs] {
		return errors.New(errors.ErrConfigValidation, "recursive include").SetFile(path)
	}
	visited[abs] = true
	defer func() { visited[abs] = false }()

	f, err := os.Open(abs)
	if err != nil {
		return errors.Wrap(err, errors.ErrIO, "unable to open config").SetFile(path)
	}
	defer f.Close()

	c.files = append(c.files, abs)
	return c.parse(f, path, filepath.Dir(abs), visited)
}

// parse reads one file's worth of sections. Comments start with '#' or
// ';'. Options are "key: value" or "key = value".
func (c *Config) parse(r io.Reader, name, dir string, visited map[string]bool) error {
	var currentSection string
	var currentOptions map[string]string

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if idx := strings.IndexAny(line, "#;"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return errSyntax(name, lineNum, "unterminated section header")
			}
			if currentSection != "" {
				c.addSection(currentSection, currentOptions)
			}
			currentSection, currentOptions = "", nil

			header := strings.TrimSpace(line[1 : len(line)-1])
			if header == "" {
				return errSyntax(name, lineNum, "empty section header")
			}

			if spec, ok := strings.CutPrefix(header, "include "); ok {
				if err := c.include(strings.TrimSpace(spec), name, lineNum, dir, visited); err != nil {
					return err
				}
				continue
			}

			currentSection = header
			currentOptions = make(map[string]string)
			continue
		}

		// options before the first section are ignored
		if currentSection == "" {
			continue
		}

		i := strings.IndexAny(line, ":=")
		if i < 0 {
			return errSyntax(name, lineNum, "expected 'key: value'").SetSection(currentSection)
		}
		key := strings.TrimSpace(line[:i])
		if key == "" {
			return errSyntax(name, lineNum, "empty option name").SetSection(currentSection)
		}
		currentOptions[key] = strings.TrimSpace(line[i+1:])
	}

	if currentSection != "" {
		c.addSection(currentSection, currentOptions)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, errors.ErrIO, "error reading config").SetFile(name)
	}
	return nil
}

func (c *Config) include(spec, name string, lineNum int, dir string, visited map[string]bool) error {
	if spec == "" {
		return errSyntax(name, lineNum, "empty include")
	}
	glob := filepath.Join(dir, spec)
	matches, err := filepath.Glob(glob)
	if err != nil {
		return errors.Wrap(err, errors.ErrConfigValidation, "invalid include pattern").
			SetFile(name).SetLine(lineNum)
	}
	sort.Strings(matches)
	if len(matches) == 0 && !hasGlobMeta(glob) {
		return errSyntax(name, lineNum, "include file does not exist: "+glob)
	}
	for _, m := range matches {
		if err := c.parseFile(m, visited); err != nil {
			return err
		}
	}
	return nil
}

func hasGlobMeta(path string) bool {
	return strings.ContainsAny(path, "*?[")
}

// addSection adds a section. A repeated section merges into the first,
// later values winning.
func (c *Config) addSection(name string, options map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.sections[name]; ok {
		for k, v := range options {
			existing.options[strings.ToLower(k)] = v
		}
		return
	}
	c.sections[name] = newSection(name, options)
	c.order = append(c.order, name)
}

// GetSection returns a Section by name, or a CONFIG_SECTION error.
func (c *Config) GetSection(name string) (*Section, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sec, ok := c.sections[name]
	if !ok {
		return nil, errMissingSection(name)
	}
	c.accessedSections[name] = struct{}{}
	return sec, nil
}

// GetSectionOptional returns a Section if it exists, or nil if not.
func (c *Config) GetSectionOptional(name string) *Section {
	c.mu.Lock()
	defer c.mu.Unlock()

	sec, ok := c.sections[name]
	if ok {
		c.accessedSections[name] = struct{}{}
	}
	return sec
}

// HasSection checks if a section exists.
func (c *Config) HasSection(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sections[name]
	return ok
}

// GetSectionNames returns all section names in order.
func (c *Config) GetSectionNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Files returns every file read, includes last.
func (c *Config) Files() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.files...)
}

// GetUnusedSections returns the sections that were never looked up.
func (c *Config) GetUnusedSections() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []string
	for name := range c.sections {
		if _, ok := c.accessedSections[name]; !ok {
			result = append(result, name)
		}
	}
	sort.Strings(result)
	return result
}

// CheckUnused reports sections and options that were never read.
func (c *Config) CheckUnused() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var problems []string
	for name, sec := range c.sections {
		if _, ok := c.accessedSections[name]; !ok {
			problems = append(problems, "unknown section ["+name+"]")
			continue
		}
		for _, opt := range sec.GetUnusedOptions() {
			problems = append(problems, "unknown option '"+opt+"' in ["+name+"]")
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return errors.New(errors.ErrConfigValidation, strings.Join(problems, "; "))
}

// ChangedSections lists sections that were added, removed or modified
// between two configs.
func ChangedSections(old, updated *Config) []string {
	var changed []string
	for _, name := range updated.GetSectionNames() {
		oldSec := old.peek(name)
		if oldSec == nil || !sectionsEqual(oldSec, updated.peek(name)) {
			changed = append(changed, name)
		}
	}
	for _, name := range old.GetSectionNames() {
		if !updated.HasSection(name) {
			changed = append(changed, name)
		}
	}
	return changed
}

// peek returns a section without marking it accessed.
func (c *Config) peek(name string) *Section {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sections[name]
}

func sectionsEqual(a, b *Section) bool {
	if len(a.options) != len(b.options) {
		return false
	}
	for k, v := range a.options {
		if w, ok := b.options[k]; !ok || w != v {
			return false
		}
	}
	return true
}
