// Package serial opens USB and UART serial ports in raw 8N1 mode for
// GRBL-class controllers.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package serial

import (
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/log"
)

// DefaultBaudRate is GRBL 1.1's line speed.
const DefaultBaudRate = 115200

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g., /dev/ttyUSB0, /dev/ttyACM0)
	Device string

	// Baud rate (default: 115200)
	BaudRate int

	// PollInterval bounds how long a blocked Read waits before it checks
	// whether the port was closed.
	PollInterval time.Duration

	// ResetOnConnect pulses DTR so Arduino-based boards reboot into a
	// known state and print their banner.
	ResetOnConnect bool

	// SettleTime is how long to wait after the DTR pulse.
	SettleTime time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		BaudRate:       DefaultBaudRate,
		PollInterval:   100 * time.Millisecond,
		ResetOnConnect: true,
		SettleTime:     2 * time.Second,
	}
}

// Port is an open serial device. Read blocks until data arrives or the
// port is closed, in which case it returns io.EOF.
type Port struct {
	mu         sync.Mutex
	fd         int
	device     string
	config     Config
	closed     bool
	oldTermios *unix.Termios
	log        *log.Logger
}

// ListPorts returns a list of available serial port device paths.
func ListPorts() ([]string, error) {
	var patterns []string
	switch runtime.GOOS {
	case "linux":
		patterns = []string{
			"/dev/ttyUSB*",
			"/dev/ttyACM*",
			"/dev/ttyAMA*",
			"/dev/serial/by-id/*",
		}
	case "darwin":
		patterns = []string{
			"/dev/tty.usbserial*",
			"/dev/tty.usbmodem*",
			"/dev/cu.usbserial*",
			"/dev/cu.usbmodem*",
		}
	default:
		return nil, errors.New(errors.ErrPortUnavailable, "serial ports are not supported on "+runtime.GOOS)
	}

	seen := make(map[string]bool)
	var ports []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			// by-id entries are symlinks to the tty nodes already listed
			resolved, err := filepath.EvalSymlinks(m)
			if err != nil {
				resolved = m
			}
			if !seen[resolved] {
				seen[resolved] = true
				ports = append(ports, resolved)
			}
		}
	}

	sort.Strings(ports)
	return ports, nil
}

// Open opens a serial port with the given configuration.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New(errors.ErrConfiguration, "serial: device path required")
	}
	def := DefaultConfig()
	if cfg.BaudRate == 0 {
		cfg.BaudRate = def.BaudRate
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}

	device, err := ResolveDevice(cfg.Device)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, errors.PortUnavailable(device, err)
	}

	oldTermios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		unix.Close(fd)
		return nil, errors.PortUnavailable(device, err).SetContext("step", "get termios")
	}

	termios := *oldTermios
	makeRaw(&termios)

	speed, err := baudRateToSpeed(cfg.BaudRate)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	setSpeed(&termios, speed)

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &termios); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, errors.ErrConfiguration, "serial: set termios").
			SetContext("device", device)
	}

	// reads are driven by poll, so the descriptor itself may block
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, errors.ErrConfiguration, "serial: set blocking").
			SetContext("device", device)
	}

	p := &Port{
		fd:         fd,
		device:     device,
		config:     cfg,
		oldTermios: oldTermios,
		log:        log.GetLogger("serial"),
	}
	p.log.WithFields(log.Fields{"device": device, "baud": cfg.BaudRate}).Info("port opened")

	if cfg.ResetOnConnect {
		p.pulseDTR()
		if cfg.SettleTime > 0 {
			time.Sleep(cfg.SettleTime)
		}
	}
	return p, nil
}

// makeRaw puts the line discipline in raw 8N1 mode: no echo, no
// translation, no software flow control.
func makeRaw(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
}

// Read reads up to len(buf) bytes. It blocks until at least one byte is
// available and returns io.EOF once the port is closed or hung up.
func (p *Port) Read(buf []byte) (int, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, io.EOF
		}
		fd := p.fd
		interval := int(p.config.PollInterval.Milliseconds())
		p.mu.Unlock()

		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfd, interval)
		if err != nil {
			if stderrors.Is(err, unix.EINTR) {
				continue
			}
			return 0, errors.ReadFailed(err)
		}
		if n == 0 {
			continue
		}
		if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return 0, io.EOF
		}

		n, err = unix.Read(fd, buf)
		switch {
		case err != nil && stderrors.Is(err, unix.EAGAIN):
			continue
		case err != nil:
			return 0, errors.ReadFailed(err)
		case n == 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write writes all of buf.
func (p *Port) Write(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errors.NotConnected()
	}
	fd := p.fd
	p.mu.Unlock()

	written := 0
	for written < len(buf) {
		n, err := unix.Write(fd, buf[written:])
		if err != nil {
			if stderrors.Is(err, unix.EINTR) || stderrors.Is(err, unix.EAGAIN) {
				continue
			}
			return written, errors.WriteFailed(err)
		}
		written += n
	}
	return written, nil
}

// Close restores the original line settings and closes the port.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.oldTermios != nil {
		_ = unix.IoctlSetTermios(p.fd, ioctlSetTermios, p.oldTermios)
	}
	return unix.Close(p.fd)
}

// Device returns the resolved device path.
func (p *Port) Device() string {
	return p.device
}

// Flush discards any data in the input and output buffers.
func (p *Port) Flush() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.NotConnected()
	}
	fd := p.fd
	p.mu.Unlock()

	return unix.IoctlSetInt(fd, ioctlTCFlush, unix.TCIOFLUSH)
}

// pulseDTR drops and raises DTR. Adapters without modem control lines
// ignore this.
func (p *Port) pulseDTR() {
	if err := p.SetDTR(false); err != nil {
		p.log.WithError(err).Debug("no modem control, skipping reset")
		return
	}
	time.Sleep(100 * time.Millisecond)
	_ = p.SetDTR(true)
}

// SetDTR sets the DTR signal.
func (p *Port) SetDTR(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.NotConnected()
	}

	status, err := unix.IoctlGetInt(p.fd, unix.TIOCMGET)
	if err != nil {
		return err
	}
	if on {
		status |= unix.TIOCM_DTR
	} else {
		status &^= unix.TIOCM_DTR
	}
	return unix.IoctlSetInt(p.fd, unix.TIOCMSET, status)
}

// baudRateToSpeed converts a baud rate to a termios speed constant.
// GRBL boards only use the standard rates.
func baudRateToSpeed(baud int) (uint32, error) {
	speeds := map[int]uint32{
		9600:   unix.B9600,
		19200:  unix.B19200,
		38400:  unix.B38400,
		57600:  unix.B57600,
		115200: unix.B115200,
		230400: unix.B230400,
	}
	if speed, ok := speeds[baud]; ok {
		return speed, nil
	}
	return 0, errors.New(errors.ErrConfiguration, "serial: unsupported baud rate").
		SetContext("baud", baud)
}

// Detect opens the first available port within timeout.
func Detect(cfg Config, timeout time.Duration) (*Port, error) {
	ports, err := ListPorts()
	if err != nil {
		return nil, err
	}
	if len(ports) == 0 {
		return nil, errors.New(errors.ErrPortUnavailable, "serial: no serial ports found")
	}

	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		for _, device := range ports {
			cfg.Device = device
			port, err := Open(cfg)
			if err == nil {
				return port, nil
			}
			lastErr = err
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	return nil, errors.PortUnavailable(strings.Join(ports, ","), lastErr)
}

// IsDeviceAvailable checks if a device path exists and is a character
// device.
func IsDeviceAvailable(device string) bool {
	info, err := os.Stat(device)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// ResolveDevice follows /dev/serial/by-id and by-path symlinks.
func ResolveDevice(device string) (string, error) {
	if strings.HasPrefix(device, "/dev/serial/") {
		resolved, err := filepath.EvalSymlinks(device)
		if err != nil {
			return "", errors.PortUnavailable(device, err)
		}
		return resolved, nil
	}
	return device, nil
}
