// mock-grbl serves a simulated GRBL 1.1 controller for testing the
// streamer without hardware. Each client gets a fresh controller with a
// bounded receive buffer that answers ok, error:<n> and status reports.
//
// Usage:
//
//	mock-grbl -listen tcp://127.0.0.1:2323 [-buffer 254] [-delay 5ms] [-trace]
//	mock-grbl -listen unix:///tmp/grbl.sock
//	mock-grbl -listen ws://127.0.0.1:8081/grbl [-fail 3 -fail-code 20]
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/grbl"
	"cnc-cam-core/pkg/log"
	"cnc-cam-core/pkg/transport"
)

type options struct {
	listen     string
	sim        grbl.SimulatorConfig
	failLines  int
	failCode   int
	alarmAfter time.Duration
	alarmCode  int
}

func main() {
	o := options{sim: grbl.DefaultSimulatorConfig()}
	flag.StringVar(&o.listen, "listen", "tcp://127.0.0.1:2323", "endpoint to serve (tcp://, unix:// or ws://)")
	flag.IntVar(&o.sim.BufferSize, "buffer", grbl.DefaultBufferSize, "receive buffer size in bytes")
	flag.StringVar(&o.sim.Version, "version", grbl.DefaultVersion, "version reported in the banner")
	flag.DurationVar(&o.sim.LineDelay, "delay", 0, "execution time per line")
	flag.IntVar(&o.failLines, "fail", 0, "answer the first N lines of each session with an error")
	flag.IntVar(&o.failCode, "fail-code", grbl.ErrUnsupportedCommand, "error code for -fail")
	flag.DurationVar(&o.alarmAfter, "alarm-after", 0, "raise an alarm this long into each session")
	flag.IntVar(&o.alarmCode, "alarm-code", 1, "alarm code for -alarm-after")
	trace := flag.Bool("trace", false, "debug logging")
	flag.Parse()

	logger := log.New("mock-grbl")
	log.ConfigureFromEnv(logger)
	if *trace {
		logger.SetLevel(log.DEBUG)
	}
	log.SetDefaultLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Mock GRBL %s listening on %s\n", o.sim.Version, o.listen)
	fmt.Println("Press Ctrl+C to stop")
	if err := run(ctx, o); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nShutting down...")
}

func run(ctx context.Context, o options) error {
	u, err := url.Parse(o.listen)
	if err != nil {
		return errors.Wrap(err, errors.ErrConfiguration, "invalid listen address")
	}
	switch u.Scheme {
	case "tcp":
		ln, err := net.Listen("tcp", u.Host)
		if err != nil {
			return errors.Wrap(err, errors.ErrIO, "listen")
		}
		return serveListener(ctx, ln, o)
	case "unix":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		os.Remove(path)
		ln, err := net.Listen("unix", path)
		if err != nil {
			return errors.Wrap(err, errors.ErrIO, "listen")
		}
		defer os.Remove(path)
		return serveListener(ctx, ln, o)
	case "ws":
		return serveWebSocket(ctx, u, o)
	}
	return errors.New(errors.ErrConfiguration, "unsupported listen scheme").SetContext("scheme", u.Scheme)
}

// serveListener runs one simulator per accepted connection until ctx ends.
func serveListener(ctx context.Context, ln net.Listener, o options) error {
	logger := log.GetLogger("mock-grbl")
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, errors.ErrIO, "accept")
		}
		logger.WithField("remote", conn.RemoteAddr().String()).Info("client connected")
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			// unblock Serve's read when shutting down
			stop := context.AfterFunc(ctx, func() { conn.Close() })
			defer stop()
			if err := session(ctx, conn, o); err != nil {
				logger.WithError(err).Warn("session ended")
			}
		}()
	}
}

func serveWebSocket(ctx context.Context, u *url.URL, o options) error {
	path := u.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.Handle(path, transport.WebSocketHandler(func(ctx context.Context, rw io.ReadWriter) error {
		return session(ctx, rw, o)
	}))
	srv := &http.Server{Addr: u.Host, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return errors.Wrap(err, errors.ErrIO, "listen")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return nil
}

// session runs a fresh controller on rw with the configured faults.
func session(ctx context.Context, rw io.ReadWriter, o options) error {
	sim := grbl.NewSimulator(o.sim)
	if o.failLines > 0 {
		sim.InjectErrors(o.failCode, o.failLines)
	}
	if o.alarmAfter > 0 {
		t := time.AfterFunc(o.alarmAfter, func() { sim.TriggerAlarm(o.alarmCode) })
		defer t.Stop()
	}
	err := sim.Serve(ctx, rw)
	log.GetLogger("mock-grbl").WithFields(log.Fields{
		"executed":   len(sim.Executed()),
		"high_water": sim.HighWater(),
		"overflows":  sim.Overflows(),
	}).Info("client disconnected")
	return err
}
