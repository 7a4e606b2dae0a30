// CAM core metrics definitions
//
// Defines all metrics for the CAM core including:
// - Toolpath generation
// - G-code streaming and controller replies
// - Stream job outcomes
// - System metrics
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"sync"
	"time"
)

// CamMetrics holds all CAM core metrics. Every recording method is safe
// on a nil receiver so callers may leave metrics unset.
type CamMetrics struct {
	// Generation metrics
	GenerationTime     *Histogram
	GenerationsTotal   *Counter
	ShapesProcessed    *Counter
	ToolpathsGenerated *Counter
	ToolpathLength     *Gauge

	// Streaming metrics
	LinesSent   *Counter
	BytesSent   *Counter
	Responses   *Counter
	Retries     *Counter
	Alarms      *Counter
	BufferFill  *Gauge
	StreamState *Gauge
	JobsTotal   *Counter

	// System metrics
	HostUptime    *Counter
	GoGoroutines  *Gauge
	GoMemoryHeap  *Gauge
	GoMemoryAlloc *Gauge
	GoGCCycles    *Counter

	// Error metrics
	ErrorsTotal *Counter

	// Internal
	startTime time.Time
	registry  *Registry
	mu        sync.RWMutex
}

// NewCamMetrics creates and registers all CAM core metrics
func NewCamMetrics() *CamMetrics {
	cm := &CamMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}

	// Generation metrics
	cm.GenerationTime = NewHistogram("cam_generation_seconds",
		"Time to generate toolpaths for a document", []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30})
	cm.GenerationsTotal = NewCounter("cam_generations_total",
		"Total generations by outcome")
	cm.ShapesProcessed = NewCounter("cam_shapes_processed_total",
		"Total shapes turned into toolpaths")
	cm.ToolpathsGenerated = NewCounter("cam_toolpaths_generated_total",
		"Total toolpaths generated")
	cm.ToolpathLength = NewGauge("cam_toolpath_length_mm",
		"Total path length of the last generation")

	// Streaming metrics
	cm.LinesSent = NewCounter("cam_stream_lines_sent_total",
		"Total G-code lines written to the controller")
	cm.BytesSent = NewCounter("cam_stream_bytes_sent_total",
		"Total bytes written to the controller")
	cm.Responses = NewCounter("cam_stream_responses_total",
		"Total controller responses by kind")
	cm.Retries = NewCounter("cam_stream_retries_total",
		"Total lines resent after an error reply")
	cm.Alarms = NewCounter("cam_stream_alarms_total",
		"Total controller alarms")
	cm.BufferFill = NewGauge("cam_stream_buffer_fill",
		"Controller receive buffer usage (0-1)")
	cm.StreamState = NewGauge("cam_stream_state",
		"Streamer state (0=idle, 1=streaming, 2=paused, 3=alarmed, 4=resetting)")
	cm.JobsTotal = NewCounter("cam_stream_jobs_total",
		"Total stream jobs by final state")

	// System metrics
	cm.HostUptime = NewCounter("cam_host_uptime_seconds_total",
		"Total host uptime in seconds")
	cm.GoGoroutines = NewGauge("cam_go_goroutines",
		"Number of active goroutines")
	cm.GoMemoryHeap = NewGauge("cam_go_memory_heap_bytes",
		"Go heap memory in use")
	cm.GoMemoryAlloc = NewGauge("cam_go_memory_alloc_bytes",
		"Go total memory allocated")
	cm.GoGCCycles = NewCounter("cam_go_gc_cycles_total",
		"Total Go garbage collection cycles")

	cm.ErrorsTotal = NewCounter("cam_errors_total",
		"Total errors by type")

	cm.registerAll()

	return cm
}

// registerAll registers all metrics with the internal registry
func (cm *CamMetrics) registerAll() {
	metrics := []Metric{
		cm.GenerationTime, cm.GenerationsTotal, cm.ShapesProcessed,
		cm.ToolpathsGenerated, cm.ToolpathLength,
		cm.LinesSent, cm.BytesSent, cm.Responses, cm.Retries, cm.Alarms,
		cm.BufferFill, cm.StreamState, cm.JobsTotal,
		cm.HostUptime, cm.GoGoroutines, cm.GoMemoryHeap, cm.GoMemoryAlloc,
		cm.GoGCCycles, cm.ErrorsTotal,
	}
	for _, m := range metrics {
		cm.registry.MustRegister(m)
	}
}

// UpdateSystemMetrics updates Go runtime metrics
func (cm *CamMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)

	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	cm.GoMemoryHeap.Set(nil, float64(m.HeapAlloc))
	cm.GoMemoryAlloc.Set(nil, float64(m.Alloc))
	if gc := uint64(m.NumGC); gc > cm.GoGCCycles.Get(nil) {
		cm.GoGCCycles.Add(nil, gc-cm.GoGCCycles.Get(nil))
	}
	if up := uint64(time.Since(cm.startTime).Seconds()); up > cm.HostUptime.Get(nil) {
		cm.HostUptime.Add(nil, up-cm.HostUptime.Get(nil))
	}
}

// RecordGeneration records one generation. Cancelled and failed runs
// are only counted.
func (cm *CamMetrics) RecordGeneration(outcome string, d time.Duration, shapes, toolpaths int, length float64) {
	if cm == nil {
		return
	}
	cm.GenerationsTotal.Inc(Labels{"outcome": outcome})
	if outcome == "cancelled" || outcome == "error" {
		return
	}
	cm.GenerationTime.Observe(nil, d.Seconds())
	cm.ShapesProcessed.Add(nil, uint64(shapes))
	cm.ToolpathsGenerated.Add(nil, uint64(toolpaths))
	cm.ToolpathLength.Set(nil, length)
}

// RecordLineSent counts a line written to the controller
func (cm *CamMetrics) RecordLineSent(bytes int) {
	if cm == nil {
		return
	}
	cm.LinesSent.Inc(nil)
	cm.BytesSent.Add(nil, uint64(bytes))
}

// RecordResponse counts a controller response by kind
func (cm *CamMetrics) RecordResponse(kind string) {
	if cm == nil {
		return
	}
	cm.Responses.Inc(Labels{"kind": kind})
	if kind == "alarm" {
		cm.Alarms.Inc(nil)
	}
}

// RecordRetry counts a resent line
func (cm *CamMetrics) RecordRetry() {
	if cm == nil {
		return
	}
	cm.Retries.Inc(nil)
}

// SetBufferFill updates controller buffer usage
func (cm *CamMetrics) SetBufferFill(used, size int) {
	if cm == nil || size <= 0 {
		return
	}
	cm.BufferFill.Set(nil, float64(used)/float64(size))
}

// SetStreamState updates the streamer state gauge
func (cm *CamMetrics) SetStreamState(state int) {
	if cm == nil {
		return
	}
	cm.StreamState.Set(nil, float64(state))
}

// RecordJob counts a finished stream job
func (cm *CamMetrics) RecordJob(final string) {
	if cm == nil {
		return
	}
	cm.JobsTotal.Inc(Labels{"state": final})
}

// RecordError records an error
func (cm *CamMetrics) RecordError(errorType string) {
	if cm == nil {
		return
	}
	cm.ErrorsTotal.Inc(Labels{"type": errorType})
}

// Gather returns all metrics in Prometheus text format
func (cm *CamMetrics) Gather() string {
	cm.UpdateSystemMetrics()
	return cm.registry.Gather()
}

// Registry returns the internal registry
func (cm *CamMetrics) Registry() *Registry {
	return cm.registry
}

// Global metrics instance
var globalMetrics *CamMetrics
var globalMetricsOnce sync.Once

// GlobalMetrics returns the global CAM metrics instance
func GlobalMetrics() *CamMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewCamMetrics()
	})
	return globalMetrics
}
