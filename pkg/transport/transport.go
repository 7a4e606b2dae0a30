// Package transport opens byte-stream links to a controller. A link is an
// io.ReadWriteCloser carrying the line protocol unchanged; the streamer
// does not know which kind it is talking to.
//
// Supported endpoints:
//
//	serial:///dev/ttyUSB0?baud=115200
//	/dev/ttyACM0
//	tcp://192.168.1.50:23
//	unix:///run/grbl.sock
//	ws://localhost:8080/grbl
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package transport

import (
	"context"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/log"
	"cnc-cam-core/pkg/serial"
)

// Kind names a link type.
type Kind string

const (
	KindSerial    Kind = "serial"
	KindTCP       Kind = "tcp"
	KindUnix      Kind = "unix"
	KindWebSocket Kind = "ws"
)

// Endpoint is a parsed connection target.
type Endpoint struct {
	Kind Kind
	// Address is a device path, host:port, socket path or URL.
	Address  string
	BaudRate int
}

func (e Endpoint) String() string {
	switch e.Kind {
	case KindSerial:
		return "serial://" + e.Address + "?baud=" + strconv.Itoa(e.BaudRate)
	case KindWebSocket:
		return e.Address
	}
	return string(e.Kind) + "://" + e.Address
}

// Options tune Dial.
type Options struct {
	// Timeout bounds connection setup. Zero means DefaultTimeout.
	Timeout time.Duration
	// ResetOnConnect pulses DTR on serial links.
	ResetOnConnect bool
}

// DefaultTimeout bounds connection setup.
const DefaultTimeout = 10 * time.Second

// ParseEndpoint parses a connection string. A bare path is a serial
// device.
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, errors.New(errors.ErrConfiguration, "empty endpoint")
	}
	if strings.HasPrefix(s, "/") {
		return Endpoint{Kind: KindSerial, Address: s, BaudRate: serial.DefaultBaudRate}, nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return Endpoint{}, errors.Wrap(err, errors.ErrConfiguration, "invalid endpoint").SetContext("endpoint", s)
	}
	switch u.Scheme {
	case "serial":
		ep := Endpoint{Kind: KindSerial, Address: u.Path, BaudRate: serial.DefaultBaudRate}
		if b := u.Query().Get("baud"); b != "" {
			baud, err := strconv.Atoi(b)
			if err != nil || baud <= 0 {
				return Endpoint{}, errors.New(errors.ErrConfiguration, "invalid baud rate").SetContext("baud", b)
			}
			ep.BaudRate = baud
		}
		if ep.Address == "" {
			return Endpoint{}, errors.New(errors.ErrConfiguration, "serial endpoint without device").SetContext("endpoint", s)
		}
		return ep, nil
	case "tcp", "telnet":
		if u.Host == "" || u.Port() == "" {
			return Endpoint{}, errors.New(errors.ErrConfiguration, "tcp endpoint needs host:port").SetContext("endpoint", s)
		}
		return Endpoint{Kind: KindTCP, Address: u.Host}, nil
	case "unix":
		if u.Path == "" {
			return Endpoint{}, errors.New(errors.ErrConfiguration, "unix endpoint without path").SetContext("endpoint", s)
		}
		return Endpoint{Kind: KindUnix, Address: u.Path}, nil
	case "ws", "wss":
		return Endpoint{Kind: KindWebSocket, Address: s}, nil
	}
	return Endpoint{}, errors.New(errors.ErrConfiguration, "unsupported endpoint scheme").SetContext("scheme", u.Scheme)
}

// Dial connects to ep.
func Dial(ctx context.Context, ep Endpoint, opts Options) (io.ReadWriteCloser, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	logger := log.GetLogger("transport")
	logger.WithField("endpoint", ep.String()).Debug("dialing")

	var (
		rw  io.ReadWriteCloser
		err error
	)
	switch ep.Kind {
	case KindSerial:
		cfg := serial.DefaultConfig()
		cfg.Device = ep.Address
		cfg.BaudRate = ep.BaudRate
		cfg.ResetOnConnect = opts.ResetOnConnect
		rw, err = serial.Open(cfg)
	case KindTCP, KindUnix:
		rw, err = dialNet(ctx, string(ep.Kind), ep.Address, opts.Timeout)
	case KindWebSocket:
		rw, err = DialWebSocket(ctx, ep.Address, opts.Timeout)
	default:
		err = errors.New(errors.ErrConfiguration, "unsupported endpoint kind").SetContext("kind", string(ep.Kind))
	}
	if err != nil {
		logger.WithError(err).WithField("endpoint", ep.String()).Warn("connect failed")
		return nil, err
	}
	logger.WithField("endpoint", ep.String()).Info("connected")
	return rw, nil
}

// DialString parses s and dials it.
func DialString(ctx context.Context, s string, opts Options) (io.ReadWriteCloser, error) {
	ep, err := ParseEndpoint(s)
	if err != nil {
		return nil, err
	}
	return Dial(ctx, ep, opts)
}
