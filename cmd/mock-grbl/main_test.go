package main

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/grbl"
)

func startMock(t *testing.T, o options) (string, func()) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "grbl.sock")
	o.listen = "unix://" + sock
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, o) }()
	require.Eventually(t, func() bool {
		c, err := net.Dial("unix", sock)
		if err == nil {
			c.Close()
		}
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	return sock, func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("mock did not stop")
		}
	}
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
}

func TestMockServesUnixSocket(t *testing.T) {
	sock, stop := startMock(t, options{sim: grbl.DefaultSimulatorConfig()})
	defer stop()

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	r := bufio.NewReader(conn)

	assert.Equal(t, "Grbl 1.1h ['$' for help]", readLine(t, r))
	_, err = conn.Write([]byte("G0 X1\n"))
	require.NoError(t, err)
	assert.Equal(t, "ok", readLine(t, r))
}

func TestMockInjectsFailures(t *testing.T) {
	sock, stop := startMock(t, options{sim: grbl.DefaultSimulatorConfig(), failLines: 1, failCode: 20})
	defer stop()

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	r := bufio.NewReader(conn)
	readLine(t, r)

	_, err = conn.Write([]byte("G0 X1\nG0 X2\n"))
	require.NoError(t, err)
	assert.Equal(t, "error:20", readLine(t, r))
	assert.Equal(t, "ok", readLine(t, r))
}

func TestRunRejectsUnknownScheme(t *testing.T) {
	err := run(context.Background(), options{listen: "udp://127.0.0.1:1"})
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
}
