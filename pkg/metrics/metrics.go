// Prometheus text-format metrics for the CAM core
//
// Counters, gauges and histograms keyed by label set, collected in a
// Registry that renders the exposition format served on /metrics.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MetricType is the exposition TYPE of a metric.
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	}
	return "untyped"
}

// Labels are the dimensions of one series, e.g. {"outcome": "ok"}.
type Labels map[string]string

func (l Labels) sortedKeys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// key identifies the series. Nil and empty label sets share a series.
func (l Labels) key() string {
	var sb strings.Builder
	for _, k := range l.sortedKeys() {
		sb.WriteString(k)
		sb.WriteByte('\x00')
		sb.WriteString(l[k])
		sb.WriteByte('\x00')
	}
	return sb.String()
}

// String renders the labels as {k="v",...}, or "" when there are none.
func (l Labels) String() string {
	return l.with("", "")
}

// with renders the labels plus one extra pair, used for histogram le.
func (l Labels) with(extraKey, extraValue string) string {
	if len(l) == 0 && extraKey == "" {
		return ""
	}
	var parts []string
	for _, k := range l.sortedKeys() {
		parts = append(parts, k+`="`+labelEscaper.Replace(l[k])+`"`)
	}
	if extraKey != "" {
		parts = append(parts, extraKey+`="`+labelEscaper.Replace(extraValue)+`"`)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// Metric is anything a Registry can render.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(sb *strings.Builder)
}

// family holds the series of one metric in label-key order.
type family[V any] struct {
	name, help string

	mu     sync.Mutex
	series map[string]*V
	labels map[string]Labels
}

func (f *family[V]) init(name, help string) {
	f.name, f.help = name, help
	f.series = map[string]*V{}
	f.labels = map[string]Labels{}
}

func (f *family[V]) Name() string { return f.name }
func (f *family[V]) Help() string { return f.help }

// update runs fn on the series for labels, creating it on first use.
func (f *family[V]) update(labels Labels, fn func(*V)) {
	k := labels.key()
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.series[k]
	if !ok {
		v = new(V)
		f.series[k] = v
		f.labels[k] = copyLabels(labels)
	}
	fn(v)
}

// read runs fn on the series for labels if it exists.
func (f *family[V]) read(labels Labels, fn func(*V)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.series[labels.key()]; ok {
		fn(v)
	}
}

// each visits every series in a stable order.
func (f *family[V]) each(fn func(Labels, *V)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fn(f.labels[k], f.series[k])
	}
}

func writeHeader(sb *strings.Builder, m Metric) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", m.Name(), m.Help(), m.Name(), m.Type())
}

// Counter only goes up: lines sent, generations, alarms.
type Counter struct {
	family[uint64]
}

func NewCounter(name, help string) *Counter {
	c := &Counter{}
	c.init(name, help)
	return c
}

func (c *Counter) Type() MetricType { return TypeCounter }

func (c *Counter) Inc(labels Labels) { c.Add(labels, 1) }

func (c *Counter) Add(labels Labels, delta uint64) {
	c.update(labels, func(v *uint64) { *v += delta })
}

// Get returns the value of one series, zero if it was never touched.
func (c *Counter) Get(labels Labels) uint64 {
	var out uint64
	c.read(labels, func(v *uint64) { out = *v })
	return out
}

func (c *Counter) Write(sb *strings.Builder) {
	writeHeader(sb, c)
	c.each(func(l Labels, v *uint64) {
		fmt.Fprintf(sb, "%s%s %d\n", c.name, l, *v)
	})
}

// Gauge holds the last value set, such as buffer fill or streamer state.
type Gauge struct {
	family[float64]
}

func NewGauge(name, help string) *Gauge {
	g := &Gauge{}
	g.init(name, help)
	return g
}

func (g *Gauge) Type() MetricType { return TypeGauge }

func (g *Gauge) Set(labels Labels, value float64) {
	g.update(labels, func(v *float64) { *v = value })
}

func (g *Gauge) Add(labels Labels, delta float64) {
	g.update(labels, func(v *float64) { *v += delta })
}

func (g *Gauge) Get(labels Labels) float64 {
	var out float64
	g.read(labels, func(v *float64) { out = *v })
	return out
}

func (g *Gauge) Write(sb *strings.Builder) {
	writeHeader(sb, g)
	g.each(func(l Labels, v *float64) {
		fmt.Fprintf(sb, "%s%s %s\n", g.name, l, formatFloat(*v))
	})
}

type histogramValue struct {
	count  uint64
	sum    float64
	counts []uint64 // per bucket, not cumulative
}

// Histogram counts observations into fixed upper bounds.
type Histogram struct {
	family[histogramValue]
	bounds []float64
}

// NewHistogram sorts buckets; +Inf is implicit.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	h := &Histogram{bounds: bounds}
	h.init(name, help)
	return h
}

func (h *Histogram) Type() MetricType { return TypeHistogram }

func (h *Histogram) Observe(labels Labels, value float64) {
	h.update(labels, func(v *histogramValue) {
		if v.counts == nil {
			v.counts = make([]uint64, len(h.bounds))
		}
		v.count++
		v.sum += value
		if i := sort.SearchFloat64s(h.bounds, value); i < len(h.bounds) {
			v.counts[i]++
		}
	})
}

// HistogramSnapshot is one series at a point in time. Buckets are
// cumulative and keyed by upper bound.
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets map[float64]uint64
}

func (h *Histogram) GetSnapshot(labels Labels) HistogramSnapshot {
	snap := HistogramSnapshot{Buckets: make(map[float64]uint64, len(h.bounds))}
	h.read(labels, func(v *histogramValue) {
		snap.Count, snap.Sum = v.count, v.sum
		var cum uint64
		for i, b := range h.bounds {
			cum += v.counts[i]
			snap.Buckets[b] = cum
		}
	})
	return snap
}

func (h *Histogram) Write(sb *strings.Builder) {
	writeHeader(sb, h)
	h.each(func(l Labels, v *histogramValue) {
		var cum uint64
		for i, b := range h.bounds {
			cum += v.counts[i]
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, l.with("le", formatFloat(b)), cum)
		}
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, l.with("le", "+Inf"), v.count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, l, formatFloat(v.sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, l, v.count)
	})
}

func copyLabels(labels Labels) Labels {
	out := make(Labels, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Registry renders its metrics in registration order.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

// Register fails if a metric of the same name is already present.
func (r *Registry) Register(m Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.metrics[m.Name()]; dup {
		return fmt.Errorf("metric %q already registered", m.Name())
	}
	r.metrics[m.Name()] = m
	r.order = append(r.order, m.Name())
	return nil
}

func (r *Registry) MustRegister(m Metric) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// Gather returns the exposition text of every metric.
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for _, name := range r.order {
		r.metrics[name].Write(&sb)
	}
	return sb.String()
}
