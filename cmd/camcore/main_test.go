package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cnc-cam-core/pkg/config"
	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/grbl"
	"cnc-cam-core/pkg/history"
)

const twoShapes = `{
  "tool": {"diameter": 3, "feed_rate": 400, "spindle_speed": 10000},
  "job": {"cut_depth": 1, "safe_z": 5},
  "objects": [
    {"id": 1, "shape": {"type": "circle", "center": {"x": 25, "y": 25}, "radius": 15}},
    {"id": 2, "shape": {"type": "rectangle", "center": {"x": 80, "y": 25}, "width": 30, "height": 20}}
  ]
}`

func writeTemp(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestProgramLines(t *testing.T) {
	src := "; header\n\nG90 G21 (absolute, mm)\n  G00   X1 Y2  \nM3 S1000 ; spindle\n(only a comment)\nM30\n"
	lines, err := programLines(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"G90 G21", "G00 X1 Y2", "M3 S1000", "M30"}, lines)

	_, err = programLines(strings.NewReader("G0 X1\nG1 (oops X2\n"))
	require.Error(t, err)
	assert.Equal(t, 2, err.(*errors.CamError).Line)
}

func TestGenerateCommand(t *testing.T) {
	dir := t.TempDir()
	designPath := writeTemp(t, dir, "part.json", twoShapes)
	outPath := filepath.Join(dir, "part.nc")

	_, stderr, err := execute(t, "generate", designPath, "-o", outPath)
	require.NoError(t, err)
	assert.Contains(t, stderr, "2 shapes, 2 toolpaths")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	prog := string(data)
	assert.Contains(t, prog, "; Tool diameter: 3.000 mm")
	assert.Contains(t, prog, "; Shape ID=2")
	assert.True(t, strings.HasSuffix(prog, "M30\n"))
}

func TestGenerateToStdoutWithMachineConfig(t *testing.T) {
	dir := t.TempDir()
	designPath := writeTemp(t, dir, "part.json", twoShapes)
	cfgPath := writeTemp(t, dir, "machine.cfg", "[tool]\ndiameter: 6\nfeed_rate: 900\nspindle_speed: 18000\n\n[job]\nunits: inch\nline_numbers: yes\n")

	stdout, _, err := execute(t, "generate", designPath, "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "; Tool diameter: 6.000 mm")
	assert.Contains(t, stdout, "G90 G20 G17")
	assert.Contains(t, stdout, "\nN10 ")
}

func TestGenerateErrors(t *testing.T) {
	dir := t.TempDir()
	_, _, err := execute(t, "generate", filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	designPath := writeTemp(t, dir, "part.json", twoShapes)
	cfgPath := writeTemp(t, dir, "bad.cfg", "[tool]\ndiameter: -1\n")
	_, _, err = execute(t, "generate", designPath, "-c", cfgPath)
	assert.True(t, errors.Is(err, errors.ErrConfigValidation), "%v", err)
}

func TestParseStatusCommand(t *testing.T) {
	stdout, _, err := execute(t, "parse-status",
		"<Idle|MPos:1.000,2.000,3.000|FS:500,12000|Bf:15,128>", "ok", "error:20", "ALARM:1", "$110=5000.000")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "state Idle mpos 1.000,2.000,3.000 feed 500 spindle 12000 planner 15 rx-free 128", lines[0])
	assert.Equal(t, "ok", lines[1])
	assert.Equal(t, "error 20: Unsupported or invalid g-code command found in block.", lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "alarm 1: Hard limit"))
	assert.Equal(t, "setting $110 = 5000.000", lines[4])
}

func TestParseStatusInvalid(t *testing.T) {
	var out bytes.Buffer
	err := parseResponses(&out, strings.NewReader("<Idle|MPos:1,2\nok\n"))
	assert.True(t, errors.IsProtocol(err), "%v", err)
	assert.Contains(t, out.String(), "invalid")
	assert.Contains(t, out.String(), "\nok\n")
}

// serveSimulator accepts one connection and runs sim on it.
func serveSimulator(t *testing.T, sim *grbl.Simulator) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = sim.Serve(ctx, conn)
	}()
	t.Cleanup(func() {
		cancel()
		ln.Close()
		<-done
	})
	return "tcp://" + ln.Addr().String()
}

func TestStreamToSimulator(t *testing.T) {
	dir := t.TempDir()
	prog := writeTemp(t, dir, "part.nc", "; test\nG90 G21 G17\nM3 S1000\nG00 X10 Y10\nG01 Z-1 F200\nG01 X20 Y10 F500\nM5\nM30\n")
	sim := grbl.NewSimulator(grbl.DefaultSimulatorConfig())
	endpoint := serveSimulator(t, sim)

	m := config.DefaultMachineConfig()
	m.History.Path = filepath.Join(dir, "history.db")

	var out bytes.Buffer
	err := runStream(context.Background(), &out, prog, m, streamOptions{endpoint: endpoint, bannerWait: 2 * time.Second, quiet: true})
	require.NoError(t, err, out.String())
	assert.Contains(t, out.String(), "completed: 7 sent, 7 completed, 0 failed")
	assert.Len(t, sim.Executed(), 7)

	store, err := history.Open(context.Background(), m.History.Path)
	require.NoError(t, err)
	defer store.Close()
	jobs, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, history.StateCompleted, jobs[0].State)
	assert.Equal(t, 7, jobs[0].Lines)
	assert.Equal(t, uint64(7), jobs[0].Completed)
}

func TestStreamReportsFailedLines(t *testing.T) {
	dir := t.TempDir()
	prog := writeTemp(t, dir, "part.nc", "G90\nG00 X1\nG00 X2\n")
	sim := grbl.NewSimulator(grbl.DefaultSimulatorConfig())
	sim.InjectErrors(20, 1)
	endpoint := serveSimulator(t, sim)

	var out bytes.Buffer
	err := runStream(context.Background(), &out, prog, config.DefaultMachineConfig(),
		streamOptions{endpoint: endpoint, bannerWait: 2 * time.Second})
	require.Error(t, err)
	assert.Contains(t, out.String(), "G90: error:20")
	assert.Contains(t, out.String(), "failed: 3 sent, 2 completed, 1 failed")
}

func TestStreamEndpointErrors(t *testing.T) {
	dir := t.TempDir()
	prog := writeTemp(t, dir, "part.nc", "G0 X1\n")
	var out bytes.Buffer

	err := runStream(context.Background(), &out, prog, config.DefaultMachineConfig(), streamOptions{})
	assert.True(t, errors.Is(err, errors.ErrConfigOption), "%v", err)

	err = runStream(context.Background(), &out, prog, config.DefaultMachineConfig(), streamOptions{endpoint: "gopher://x"})
	assert.True(t, errors.Is(err, errors.ErrConfiguration), "%v", err)

	err = runStream(context.Background(), &out, filepath.Join(dir, "none.nc"), config.DefaultMachineConfig(), streamOptions{})
	assert.True(t, errors.Is(err, errors.ErrIO), "%v", err)
}

func TestWatchRegenerates(t *testing.T) {
	dir := t.TempDir()
	designPath := writeTemp(t, dir, "part.json", `{"objects": [{"id": 1, "shape": {"type": "circle", "center": {"x": 0, "y": 0}, "radius": 10}}]}`)
	outPath := filepath.Join(dir, "part.nc")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var log bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- runWatch(ctx, &syncWriter{w: &log}, &options{}, designPath, outPath) }()

	readOut := func() string {
		data, _ := os.ReadFile(outPath)
		return string(data)
	}
	require.Eventually(t, func() bool { return strings.Contains(readOut(), "; Shape ID=1") }, 5*time.Second, 20*time.Millisecond)

	writeTemp(t, dir, "part.json", twoShapes)
	require.Eventually(t, func() bool { return strings.Contains(readOut(), "; Shape ID=2") }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
