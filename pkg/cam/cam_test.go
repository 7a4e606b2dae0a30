package cam

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cnc-cam-core/pkg/design"
	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/gcode"
	"cnc-cam-core/pkg/geom"
	"cnc-cam-core/pkg/metrics"
	"cnc-cam-core/pkg/shape"
)

func testDoc(n int) *design.Document {
	doc := design.New()
	doc.Tool = design.Tool{Diameter: 1, FeedRate: 500, SpindleSpeed: 10000}
	for i := 0; i < n; i++ {
		a := design.DefaultAnnotation()
		a.Operation = design.OpPocket
		a.Strategy = design.Raster(1)
		a.StepIn = 0.5
		doc.Add(shape.NewRectangle(geom.Point{X: float64(i) * 30, Y: 0}, 20, 20), a)
	}
	return doc
}

func opts() gcode.Options {
	return gcode.Options{Units: gcode.Millimetres, SafeZ: 5}
}

func TestGenerate(t *testing.T) {
	doc := design.New()
	doc.Add(shape.NewRectangle(geom.Point{X: 10, Y: 10}, 20, 10), design.DefaultAnnotation())
	doc.Add(shape.NewCircle(geom.Point{X: 50, Y: 10}, 5), design.DefaultAnnotation())

	res, err := Generate(doc, opts())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Shapes)
	assert.Len(t, res.Toolpaths, 2)
	assert.Greater(t, res.Length, 0.0)

	prog := string(res.Program)
	assert.True(t, strings.HasPrefix(prog, "; cnc-cam-core\n"))
	assert.Contains(t, prog, "; Shape ID=1\n")
	assert.Contains(t, prog, "; Shape ID=2\n")
	assert.Less(t, strings.Index(prog, "ID=1"), strings.Index(prog, "ID=2"))
	assert.True(t, strings.HasSuffix(prog, "M30\n"))
}

func TestGenerateDeterministic(t *testing.T) {
	doc := testDoc(3)
	a, err := Generate(doc, opts())
	require.NoError(t, err)
	b, err := Generate(doc, opts())
	require.NoError(t, err)
	assert.Equal(t, a.Program, b.Program)
	assert.NotEqual(t, a.JobID, b.JobID)
}

func TestGenerateEmptyPocket(t *testing.T) {
	doc := design.New()
	doc.Tool.Diameter = 3
	a := design.DefaultAnnotation()
	a.Operation = design.OpPocket
	doc.Add(shape.NewRectangle(geom.Point{}, 1, 1), a)

	res, err := Generate(doc, opts())
	require.NoError(t, err)
	assert.Empty(t, res.Toolpaths)
	assert.NotContains(t, string(res.Program), "G01")
	assert.Contains(t, string(res.Program), "M30")
}

func TestJobSnapshot(t *testing.T) {
	doc := testDoc(2)
	j := NewJob(doc, gcode.Options{})
	assert.Equal(t, doc.Job.SafeZ, j.Output.SafeZ)

	doc.Add(shape.NewCircle(geom.Point{}, 3), design.DefaultAnnotation())
	doc.Objects[0].CutDepth = 9
	doc.Tool.Diameter = 6

	assert.Equal(t, 2, j.Shapes())
	assert.Equal(t, 1.0, j.Tool.Diameter)
	assert.Equal(t, 1.0, j.annots[0].CutDepth)
}

func TestJobResolvesDepthDefaults(t *testing.T) {
	doc := design.New()
	doc.Job.CutDepth = 2.5
	a := design.DefaultAnnotation()
	a.CutDepth = 0
	doc.Add(shape.NewCircle(geom.Point{}, 5), a)

	j := NewJob(doc, opts())
	assert.Equal(t, 2.5, j.annots[0].CutDepth)
}

func TestGenerateCancelledBeforeStart(t *testing.T) {
	var cancel atomic.Bool
	cancel.Store(true)
	var p Progress

	res, err := NewJob(testDoc(3), opts()).Generate(&cancel, &p)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, errors.ErrCancelled))
	done, total := p.Get()
	assert.Equal(t, 0, done)
	assert.Equal(t, 3, total)
}

func TestGenerateProgress(t *testing.T) {
	var p Progress
	_, err := NewJob(testDoc(4), opts()).Generate(nil, &p)
	require.NoError(t, err)
	done, total := p.Get()
	assert.Equal(t, 4, done)
	assert.Equal(t, 4, total)
}

func outcome(t *testing.T, w *Worker) Outcome {
	t.Helper()
	select {
	case o, ok := <-w.Outcomes():
		require.True(t, ok, "outcomes closed")
		return o
	case <-time.After(10 * time.Second):
		t.Fatal("no outcome")
	}
	return Outcome{}
}

func TestWorkerRuns(t *testing.T) {
	m := metrics.NewCamMetrics()
	w := NewWorker(m)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	j := NewJob(testDoc(2), opts())
	assert.False(t, w.Submit(j))

	o := outcome(t, w)
	require.NoError(t, o.Err)
	assert.Equal(t, j.ID, o.Result.JobID)
	assert.Equal(t, uint64(1), m.GenerationsTotal.Get(metrics.Labels{"outcome": "ok"}))
	assert.Equal(t, uint64(2), m.ShapesProcessed.Get(nil))
	assert.Eventually(t, func() bool { return !w.Busy() }, time.Second, time.Millisecond)
}

func TestWorkerQueuedJobReplaced(t *testing.T) {
	w := NewWorker(nil)
	first := NewJob(testDoc(1), opts())
	second := NewJob(testDoc(1), opts())
	assert.False(t, w.Submit(first))
	assert.True(t, w.Submit(second))
	assert.True(t, w.Busy())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	o := outcome(t, w)
	assert.Same(t, second, o.Job)
	select {
	case o := <-w.Outcomes():
		t.Fatalf("unexpected second outcome for %v", o.Job.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWorkerCancel(t *testing.T) {
	m := metrics.NewCamMetrics()
	w := NewWorker(m)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Submit(NewJob(testDoc(400), opts()))
	require.Eventually(t, w.Generating, 5*time.Second, 100*time.Microsecond)
	w.Cancel()

	o := outcome(t, w)
	require.True(t, errors.Is(o.Err, errors.ErrCancelled), "%v", o.Err)
	assert.Nil(t, o.Result)
	done, total := w.Progress()
	assert.Less(t, done, total)
	assert.Equal(t, uint64(1), m.GenerationsTotal.Get(metrics.Labels{"outcome": "cancelled"}))

	// the flag does not leak into the next job
	w.Submit(NewJob(testDoc(1), opts()))
	o = outcome(t, w)
	assert.NoError(t, o.Err)
}

func TestWorkerCancelDropsQueued(t *testing.T) {
	w := NewWorker(nil)
	w.Submit(NewJob(testDoc(1), opts()))
	w.Cancel()
	assert.False(t, w.Busy())
}

func TestWorkerStops(t *testing.T) {
	w := NewWorker(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	_, ok := <-w.Outcomes()
	assert.False(t, ok)
}
