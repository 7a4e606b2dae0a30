package cam

import (
	"context"
	"sync/atomic"

	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/log"
	"cnc-cam-core/pkg/metrics"
)

// Outcome is delivered for every job the worker starts.
type Outcome struct {
	Job    *Job
	Result *Result
	Err    error
}

// Worker runs generations on one goroutine. At most one job is in flight
// and at most one is queued; submitting while a job is queued replaces it.
type Worker struct {
	pending    atomic.Pointer[Job]
	generating atomic.Bool
	cancel     atomic.Bool
	progress   Progress

	wake     chan struct{}
	outcomes chan Outcome
	metrics  *metrics.CamMetrics
	log      *log.Logger
}

// NewWorker creates a worker. m may be nil.
func NewWorker(m *metrics.CamMetrics) *Worker {
	return &Worker{
		wake:     make(chan struct{}, 1),
		outcomes: make(chan Outcome, 1),
		metrics:  m,
		log:      log.GetLogger("cam"),
	}
}

// Outcomes delivers finished and cancelled jobs. The channel is closed
// when Run returns. Slow readers stall the worker, not the submitters.
func (w *Worker) Outcomes() <-chan Outcome { return w.outcomes }

// Submit queues j. It reports whether an earlier queued job was dropped.
func (w *Worker) Submit(j *Job) (replaced bool) {
	old := w.pending.Swap(j)
	if old != nil {
		w.log.WithField("job", old.ID.String()).Debug("queued job replaced")
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
	return old != nil
}

// Cancel aborts the job in flight at the next shape boundary and drops
// the queued one.
func (w *Worker) Cancel() {
	w.pending.Store(nil)
	if w.generating.Load() {
		w.cancel.Store(true)
	}
}

// Busy reports whether a job is in flight or queued.
func (w *Worker) Busy() bool {
	return w.generating.Load() || w.pending.Load() != nil
}

// Generating reports whether a job is in flight.
func (w *Worker) Generating() bool { return w.generating.Load() }

// Progress returns shapes done and the total for the current job.
func (w *Worker) Progress() (done, total int) { return w.progress.Get() }

// Run processes jobs until ctx ends.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.outcomes)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		}
		for {
			// generating is raised before the queue is emptied so a
			// concurrent Cancel either drops the job or flags it
			w.cancel.Store(false)
			w.generating.Store(true)
			j := w.pending.Swap(nil)
			if j == nil {
				w.generating.Store(false)
				break
			}
			out := w.run(j)
			select {
			case w.outcomes <- out:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Worker) run(j *Job) Outcome {
	defer w.generating.Store(false)

	res, err := j.Generate(&w.cancel, &w.progress)
	switch {
	case err == nil:
		outcome := "ok"
		if len(res.Toolpaths) == 0 {
			outcome = "empty"
		}
		w.metrics.RecordGeneration(outcome, res.Duration, res.Shapes, len(res.Toolpaths), res.Length)
	case errors.Is(err, errors.ErrCancelled):
		done, _ := w.progress.Get()
		w.metrics.RecordGeneration("cancelled", 0, done, 0, 0)
	default:
		w.log.WithError(err).WithField("job", j.ID.String()).Error("generation failed")
		w.metrics.RecordGeneration("error", 0, 0, 0, 0)
		w.metrics.RecordError("generation")
	}
	return Outcome{Job: j, Result: res, Err: err}
}
