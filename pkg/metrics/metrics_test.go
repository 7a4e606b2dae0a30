// Unit tests for the Prometheus text-format registry
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"math"
	"strings"
	"sync"
	"testing"
)

// TestCounterSeriesByLabel tests that each label set is its own series
func TestCounterSeriesByLabel(t *testing.T) {
	c := NewCounter("cam_stream_responses_total", "Total controller responses by kind")

	if v := c.Get(Labels{"kind": "ok"}); v != 0 {
		t.Errorf("untouched series should read 0, got %d", v)
	}

	c.Inc(Labels{"kind": "ok"})
	c.Inc(Labels{"kind": "ok"})
	c.Add(Labels{"kind": "error"}, 3)

	if v := c.Get(Labels{"kind": "ok"}); v != 2 {
		t.Errorf("expected ok=2, got %d", v)
	}
	if v := c.Get(Labels{"kind": "error"}); v != 3 {
		t.Errorf("expected error=3, got %d", v)
	}
	if v := c.Get(nil); v != 0 {
		t.Errorf("unlabelled series should be separate, got %d", v)
	}
}

// TestNilAndEmptyLabelsShareSeries tests the unlabelled series
func TestNilAndEmptyLabelsShareSeries(t *testing.T) {
	c := NewCounter("cam_stream_lines_sent_total", "Total G-code lines written to the controller")
	c.Inc(nil)
	c.Inc(Labels{})

	if v := c.Get(nil); v != 2 {
		t.Errorf("expected 2, got %d", v)
	}

	var sb strings.Builder
	c.Write(&sb)
	if !strings.Contains(sb.String(), "cam_stream_lines_sent_total 2\n") {
		t.Errorf("unexpected exposition:\n%s", sb.String())
	}
}

// TestLabelsCopiedOnFirstUse tests that later mutation of the caller's map
// does not rename a series
func TestLabelsCopiedOnFirstUse(t *testing.T) {
	c := NewCounter("cam_errors_total", "Total errors by type")
	l := Labels{"type": "connection"}
	c.Inc(l)
	l["type"] = "timeout"

	var sb strings.Builder
	c.Write(&sb)
	if !strings.Contains(sb.String(), `cam_errors_total{type="connection"} 1`) {
		t.Errorf("series label changed after mutation:\n%s", sb.String())
	}
}

// TestGaugeSetAndAdd tests gauge updates
func TestGaugeSetAndAdd(t *testing.T) {
	g := NewGauge("cam_stream_buffer_fill", "Controller receive buffer usage (0-1)")

	g.Set(nil, 0.25)
	if v := g.Get(nil); v != 0.25 {
		t.Errorf("expected 0.25, got %v", v)
	}
	g.Add(nil, 0.5)
	if v := g.Get(nil); v != 0.75 {
		t.Errorf("expected 0.75, got %v", v)
	}
	g.Set(nil, 0)
	if v := g.Get(nil); v != 0 {
		t.Errorf("Set should replace the value, got %v", v)
	}
}

// TestGaugeExposition tests float formatting in the text output
func TestGaugeExposition(t *testing.T) {
	g := NewGauge("cam_toolpath_length_mm", "Total path length of the last generation")
	g.Set(nil, 1234.5)

	var sb strings.Builder
	g.Write(&sb)
	want := "# HELP cam_toolpath_length_mm Total path length of the last generation\n" +
		"# TYPE cam_toolpath_length_mm gauge\n" +
		"cam_toolpath_length_mm 1234.5\n"
	if sb.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", sb.String(), want)
	}
}

// TestHistogramSnapshot tests cumulative buckets in a snapshot
func TestHistogramSnapshot(t *testing.T) {
	h := NewHistogram("cam_generation_seconds", "Time to generate toolpaths", []float64{0.1, 0.01, 1})

	h.Observe(nil, 0.005)
	h.Observe(nil, 0.01) // upper bounds are inclusive
	h.Observe(nil, 0.5)
	h.Observe(nil, 7)

	snap := h.GetSnapshot(nil)
	if snap.Count != 4 {
		t.Errorf("expected count 4, got %d", snap.Count)
	}
	if math.Abs(snap.Sum-7.515) > 1e-9 {
		t.Errorf("expected sum 7.515, got %v", snap.Sum)
	}
	want := map[float64]uint64{0.01: 2, 0.1: 2, 1: 3}
	for b, n := range want {
		if snap.Buckets[b] != n {
			t.Errorf("bucket le=%v: expected %d, got %d", b, n, snap.Buckets[b])
		}
	}
}

// TestHistogramSnapshotEmpty tests a series that was never observed
func TestHistogramSnapshotEmpty(t *testing.T) {
	h := NewHistogram("cam_generation_seconds", "Time to generate toolpaths", []float64{1, 5})
	snap := h.GetSnapshot(Labels{"outcome": "ok"})
	if snap.Count != 0 || snap.Sum != 0 {
		t.Errorf("expected empty snapshot, got %+v", snap)
	}
	if len(snap.Buckets) != 2 || snap.Buckets[1] != 0 || snap.Buckets[5] != 0 {
		t.Errorf("expected zeroed buckets, got %v", snap.Buckets)
	}
}

// TestHistogramExposition tests bucket, sum and count lines
func TestHistogramExposition(t *testing.T) {
	h := NewHistogram("cam_generation_seconds", "Time to generate toolpaths", []float64{0.5, 1})
	h.Observe(Labels{"op": "pocket"}, 0.25)
	h.Observe(Labels{"op": "pocket"}, 2)

	var sb strings.Builder
	h.Write(&sb)
	want := "# HELP cam_generation_seconds Time to generate toolpaths\n" +
		"# TYPE cam_generation_seconds histogram\n" +
		`cam_generation_seconds_bucket{op="pocket",le="0.5"} 1` + "\n" +
		`cam_generation_seconds_bucket{op="pocket",le="1"} 1` + "\n" +
		`cam_generation_seconds_bucket{op="pocket",le="+Inf"} 2` + "\n" +
		`cam_generation_seconds_sum{op="pocket"} 2.25` + "\n" +
		`cam_generation_seconds_count{op="pocket"} 2` + "\n"
	if sb.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", sb.String(), want)
	}
}

// TestSeriesOrderIsStable tests that output does not depend on map order
func TestSeriesOrderIsStable(t *testing.T) {
	c := NewCounter("cam_stream_jobs_total", "Total stream jobs by final state")
	for _, s := range []string{"failed", "completed", "cancelled"} {
		c.Inc(Labels{"state": s})
	}

	var first strings.Builder
	c.Write(&first)
	out := first.String()

	ic := strings.Index(out, `state="cancelled"`)
	io := strings.Index(out, `state="completed"`)
	ifl := strings.Index(out, `state="failed"`)
	if ic < 0 || io < 0 || ifl < 0 || !(ic < io && io < ifl) {
		t.Errorf("series not sorted by label:\n%s", out)
	}

	for i := 0; i < 10; i++ {
		var sb strings.Builder
		c.Write(&sb)
		if sb.String() != out {
			t.Fatalf("output changed between writes:\n%s\nvs\n%s", out, sb.String())
		}
	}
}

// TestLabelKeysSorted tests multi-label rendering
func TestLabelKeysSorted(t *testing.T) {
	l := Labels{"state": "completed", "port": "/dev/ttyUSB0"}
	if got := l.String(); got != `{port="/dev/ttyUSB0",state="completed"}` {
		t.Errorf("unexpected label string %s", got)
	}
	if got := Labels(nil).String(); got != "" {
		t.Errorf("empty labels should render nothing, got %q", got)
	}
}

// TestLabelValueEscaping tests backslash, quote and newline escaping
func TestLabelValueEscaping(t *testing.T) {
	l := Labels{"line": "G01 X1 ; \"tab\"\\\n"}
	want := `{line="G01 X1 ; \"tab\"\\\n"}`
	if got := l.String(); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

// TestRegistryRejectsDuplicate tests name collisions
func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewCounter("cam_stream_alarms_total", "Total controller alarms")); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := r.Register(NewGauge("cam_stream_alarms_total", "again")); err == nil {
		t.Error("expected duplicate registration to fail")
	}

	defer func() {
		if recover() == nil {
			t.Error("MustRegister should panic on duplicate")
		}
	}()
	r.MustRegister(NewCounter("cam_stream_alarms_total", "again"))
}

// TestRegistryGetAndOrder tests lookup and registration-order output
func TestRegistryGetAndOrder(t *testing.T) {
	r := NewRegistry()
	state := NewGauge("cam_stream_state", "Streamer state")
	sent := NewCounter("cam_stream_lines_sent_total", "Total lines")
	r.MustRegister(state)
	r.MustRegister(sent)

	if r.Get("cam_stream_state") != Metric(state) {
		t.Error("Get returned the wrong metric")
	}
	if r.Get("cam_unknown") != nil {
		t.Error("Get of unknown name should be nil")
	}
	if state.Type() != TypeGauge || sent.Type() != TypeCounter {
		t.Error("unexpected metric types")
	}

	state.Set(nil, 1)
	sent.Inc(nil)
	out := r.Gather()
	if strings.Index(out, "cam_stream_state") > strings.Index(out, "cam_stream_lines_sent_total") {
		t.Errorf("metrics not in registration order:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE cam_stream_state gauge\ncam_stream_state 1\n") {
		t.Errorf("missing gauge block:\n%s", out)
	}
}

// TestMetricTypeString tests exposition type names
func TestMetricTypeString(t *testing.T) {
	cases := map[MetricType]string{
		TypeCounter:    "counter",
		TypeGauge:      "gauge",
		TypeHistogram:  "histogram",
		MetricType(99): "untyped",
	}
	for mt, want := range cases {
		if mt.String() != want {
			t.Errorf("%d: expected %s, got %s", int(mt), want, mt.String())
		}
	}
}

// TestConcurrentSeriesCreation tests racing first use of new label sets
func TestConcurrentSeriesCreation(t *testing.T) {
	c := NewCounter("cam_stream_responses_total", "Total controller responses by kind")
	h := NewHistogram("cam_generation_seconds", "Time to generate toolpaths", []float64{1})
	kinds := []string{"ok", "error", "alarm", "status"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Inc(Labels{"kind": kinds[(i+j)%len(kinds)]})
				h.Observe(nil, 0.5)
			}
		}(i)
	}
	wg.Wait()

	var total uint64
	for _, k := range kinds {
		total += c.Get(Labels{"kind": k})
	}
	if total != 400 {
		t.Errorf("expected 400 increments, got %d", total)
	}
	if snap := h.GetSnapshot(nil); snap.Count != 400 || snap.Buckets[1] != 400 {
		t.Errorf("unexpected histogram snapshot %+v", snap)
	}
}
