package config

import (
	"strings"
	"time"

	"cnc-cam-core/pkg/design"
	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/gcode"
	"cnc-cam-core/pkg/serial"
	"cnc-cam-core/pkg/stream"
	"cnc-cam-core/pkg/transport"
)

// MachineConfig is the typed view of a machine configuration file.
// Every section is optional; absent options keep their defaults.
type MachineConfig struct {
	Tool       design.Tool
	Job        design.Job
	Output     gcode.Options
	Stock      *design.Stock
	Controller Controller
	History    History
	Metrics    Metrics

	present map[string]bool
}

// Has reports whether the file contained the named section.
func (m *MachineConfig) Has(section string) bool { return m.present[section] }

// Controller describes how to reach the controller and how to stream to it.
type Controller struct {
	// Transport is serial, tcp, unix or websocket.
	Transport      string
	Device         string
	Address        string
	Baud           int
	ResetOnConnect bool
	ConnectTimeout time.Duration
	Stream         stream.Config
}

// History configures the job journal. An empty Path disables it.
type History struct {
	Path string
}

// Metrics configures the metrics endpoint. An empty Address disables it.
type Metrics struct {
	Address string
}

var transports = []string{"serial", "tcp", "unix", "websocket"}

// DefaultMachineConfig returns the configuration used when no file is
// given.
func DefaultMachineConfig() *MachineConfig {
	job := design.DefaultJob()
	return &MachineConfig{
		Tool: design.DefaultTool(),
		Job:  job,
		Output: gcode.Options{
			Units:       gcode.Millimetres,
			CompactFeed: true,
			SafeZ:       job.SafeZ,
		},
		Controller: Controller{
			Transport:      "serial",
			Baud:           serial.DefaultBaudRate,
			ResetOnConnect: true,
			ConnectTimeout: transport.DefaultTimeout,
			Stream:         stream.DefaultConfig(),
		},
	}
}

// LoadMachine reads and validates a machine configuration file.
func LoadMachine(path string) (*MachineConfig, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	return ParseMachine(c)
}

// ParseMachine builds a MachineConfig from parsed sections. Unknown
// sections and options are rejected so typos do not go unnoticed.
func ParseMachine(c *Config) (*MachineConfig, error) {
	m := DefaultMachineConfig()
	m.present = make(map[string]bool)
	steps := []struct {
		name  string
		parse func(*Section) error
	}{
		{"tool", m.parseTool},
		{"job", m.parseJob},
		{"stock", m.parseStock},
		{"controller", m.parseController},
		{"history", m.parseHistory},
		{"metrics", m.parseMetrics},
	}
	for _, st := range steps {
		sec := c.GetSectionOptional(st.name)
		if sec == nil {
			continue
		}
		m.present[st.name] = true
		if err := st.parse(sec); err != nil {
			return nil, err
		}
	}
	if err := c.CheckUnused(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MachineConfig) parseTool(s *Section) error {
	var err error
	t := &m.Tool
	if t.Diameter, err = s.GetFloatWithBounds("diameter", Above(0), t.Diameter); err != nil {
		return err
	}
	if t.FeedRate, err = s.GetFloatWithBounds("feed_rate", Above(0), t.FeedRate); err != nil {
		return err
	}
	if t.PlungeRate, err = s.GetFloatWithBounds("plunge_rate", Above(0), t.PlungeRate); err != nil {
		return err
	}
	t.SpindleSpeed, err = s.GetFloatWithBounds("spindle_speed", AtLeast(0), t.SpindleSpeed)
	return err
}

func (m *MachineConfig) parseJob(s *Section) error {
	var err error
	j := &m.Job
	if j.CutDepth, err = s.GetFloat("cut_depth", j.CutDepth); err != nil {
		return err
	}
	if j.StartDepth, err = s.GetFloat("start_depth", j.StartDepth); err != nil {
		return err
	}
	if j.SafeZ, err = s.GetFloatWithBounds("safe_z", Above(0), j.SafeZ); err != nil {
		return err
	}
	m.Output.SafeZ = j.SafeZ

	units, err := s.GetChoice("units", []string{"mm", "inch"}, string(j.Units))
	if err != nil {
		return err
	}
	j.Units = design.Units(units)
	m.Output.Units = gcode.Millimetres
	if j.Units == design.UnitsInch {
		m.Output.Units = gcode.Inches
	}

	mode, err := s.GetChoice("mode", []string{"2d", "3d"}, "2d")
	if err != nil {
		return err
	}
	m.Output.ThreeD = mode == "3d"
	if m.Output.LineNumbers, err = s.GetBool("line_numbers", m.Output.LineNumbers); err != nil {
		return err
	}
	m.Output.CompactFeed, err = s.GetBool("compact_feed", m.Output.CompactFeed)
	return err
}

func (m *MachineConfig) parseStock(s *Section) error {
	var st design.Stock
	var err error
	if st.Width, err = s.GetFloatWithBounds("width", Above(0)); err != nil {
		return err
	}
	if st.Height, err = s.GetFloatWithBounds("height", Above(0)); err != nil {
		return err
	}
	if st.Thickness, err = s.GetFloatWithBounds("thickness", AtLeast(0), 0); err != nil {
		return err
	}
	for i, axis := range []string{"origin_x", "origin_y", "origin_z"} {
		if st.Origin[i], err = s.GetFloat(axis, 0); err != nil {
			return err
		}
	}
	m.Stock = &st
	return nil
}

func (m *MachineConfig) parseController(s *Section) error {
	var err error
	c := &m.Controller
	if c.Transport, err = s.GetChoice("transport", transports, c.Transport); err != nil {
		return err
	}
	if c.Device, err = s.Get("device", ""); err != nil {
		return err
	}
	if c.Address, err = s.Get("address", ""); err != nil {
		return err
	}
	if c.Baud, err = s.GetIntAtLeast("baud", 1, c.Baud); err != nil {
		return err
	}
	if c.ResetOnConnect, err = s.GetBool("reset_on_connect", c.ResetOnConnect); err != nil {
		return err
	}
	if c.ConnectTimeout, err = s.GetDuration("connect_timeout", c.ConnectTimeout); err != nil {
		return err
	}

	sc := &c.Stream
	if sc.BufferSize, err = s.GetIntAtLeast("buffer_size", 16, sc.BufferSize); err != nil {
		return err
	}
	if sc.FlowControl, err = s.GetBool("flow_control", sc.FlowControl); err != nil {
		return err
	}
	if sc.MaxRetries, err = s.GetIntAtLeast("max_retries", 0, sc.MaxRetries); err != nil {
		return err
	}
	if sc.QueueCapacity, err = s.GetIntAtLeast("queue_capacity", 1, sc.QueueCapacity); err != nil {
		return err
	}
	if sc.StatusInterval, err = s.GetDuration("status_interval", sc.StatusInterval); err != nil {
		return err
	}

	switch {
	case c.Transport == "serial" && c.Device == "":
		return errors.ConfigOptionError("controller", "device")
	case c.Transport != "serial" && c.Address == "":
		return errors.ConfigOptionError("controller", "address")
	}
	return nil
}

func (m *MachineConfig) parseHistory(s *Section) error {
	var err error
	m.History.Path, err = s.Get("path", "")
	return err
}

func (m *MachineConfig) parseMetrics(s *Section) error {
	var err error
	m.Metrics.Address, err = s.Get("address", "")
	return err
}

// Endpoint returns the transport endpoint for the controller.
func (c Controller) Endpoint() (transport.Endpoint, error) {
	switch c.Transport {
	case "serial":
		if c.Device == "" {
			return transport.Endpoint{}, errors.ConfigOptionError("controller", "device")
		}
		return transport.Endpoint{Kind: transport.KindSerial, Address: c.Device, BaudRate: c.Baud}, nil
	case "tcp":
		return transport.ParseEndpoint("tcp://" + strings.TrimPrefix(c.Address, "tcp://"))
	case "unix":
		return transport.ParseEndpoint("unix://" + strings.TrimPrefix(c.Address, "unix://"))
	case "websocket":
		addr := c.Address
		if !strings.HasPrefix(addr, "ws://") && !strings.HasPrefix(addr, "wss://") {
			addr = "ws://" + addr
		}
		return transport.ParseEndpoint(addr)
	}
	return transport.Endpoint{}, errors.ConfigValidationError("controller", "transport", "unsupported transport "+c.Transport)
}

// DialOptions returns the transport options for the controller.
func (c Controller) DialOptions() transport.Options {
	return transport.Options{Timeout: c.ConnectTimeout, ResetOnConnect: c.ResetOnConnect}
}
