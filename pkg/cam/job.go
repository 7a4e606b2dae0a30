// Package cam turns a design document into toolpaths and a G-code program,
// either directly or on a background worker that can be cancelled between
// shapes.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package cam

import (
	"bytes"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cnc-cam-core/pkg/design"
	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/gcode"
	"cnc-cam-core/pkg/log"
	"cnc-cam-core/pkg/toolpath"
)

// Job is a snapshot of a document taken when generation was requested.
// Later edits to the document do not affect it.
type Job struct {
	ID      uuid.UUID
	Tool    design.Tool
	Params  design.Job
	Output  gcode.Options
	objects []design.Object
	annots  []design.Annotation
}

// NewJob snapshots doc. Objects keep document order.
func NewJob(doc *design.Document, opts gcode.Options) *Job {
	j := &Job{
		ID:     uuid.New(),
		Tool:   doc.Tool,
		Params: doc.Job,
		Output: opts,
	}
	if j.Output.SafeZ == 0 {
		j.Output.SafeZ = doc.Job.SafeZ
	}
	j.objects = make([]design.Object, 0, len(doc.Objects))
	j.annots = make([]design.Annotation, 0, len(doc.Objects))
	for _, o := range doc.Objects {
		j.objects = append(j.objects, *o)
		j.annots = append(j.annots, doc.Resolved(o))
	}
	return j
}

// Shapes is the number of objects in the snapshot.
func (j *Job) Shapes() int { return len(j.objects) }

// Result is the output of one generation.
type Result struct {
	JobID     uuid.UUID
	Toolpaths []toolpath.Toolpath
	Program   []byte
	Shapes    int
	Length    float64
	Duration  time.Duration
}

// Progress counts shapes done out of the total. It is safe to read while
// a generation runs.
type Progress struct {
	done  atomic.Int64
	total atomic.Int64
}

// Get returns shapes done and the total.
func (p *Progress) Get() (done, total int) {
	return int(p.done.Load()), int(p.total.Load())
}

func (p *Progress) reset(total int) {
	p.done.Store(0)
	p.total.Store(int64(total))
}

// Generate runs j to completion on the calling goroutine. cancel and
// progress may be nil. When cancel becomes true the partial result is
// discarded and a CANCELLED error returned.
func (j *Job) Generate(cancel *atomic.Bool, progress *Progress) (res *Result, err error) {
	start := time.Now()
	logger := log.GetLogger("cam").WithField("job", j.ID.String())
	if progress != nil {
		progress.reset(len(j.objects))
	}
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, errors.FromPanic(r).SetContext("job", j.ID.String())
		}
	}()

	gen := toolpath.NewGenerator(j.Tool, j.Output.SafeZ)
	var paths []toolpath.Toolpath
	for i := range j.objects {
		if cancel != nil && cancel.Load() {
			logger.WithField("done", i).Info("generation cancelled")
			return nil, errors.Cancelled("generation").SetContext("job", j.ID.String())
		}
		tps := gen.Generate(&j.objects[i], j.annots[i])
		for _, tp := range tps {
			if end, _, ok := tp.End(); ok {
				gen.Origin = end
			}
		}
		paths = append(paths, tps...)
		if progress != nil {
			progress.done.Add(1)
		}
	}

	var buf bytes.Buffer
	em := gcode.NewEmitter(j.Output)
	if err := em.Emit(&buf, gcode.Job{
		ToolDiameter: j.Tool.Diameter,
		CutDepth:     j.Params.CutDepth,
		FeedRate:     j.Tool.FeedRate,
		SpindleSpeed: j.Tool.SpindleSpeed,
		Toolpaths:    paths,
	}); err != nil {
		return nil, errors.Wrap(err, errors.ErrIO, "emit program")
	}

	res = &Result{
		JobID:     j.ID,
		Toolpaths: paths,
		Program:   buf.Bytes(),
		Shapes:    len(j.objects),
		Length:    toolpath.TotalLength(paths),
		Duration:  time.Since(start),
	}
	logger.WithFields(log.Fields{
		"shapes":    res.Shapes,
		"toolpaths": len(paths),
		"length":    res.Length,
		"elapsed":   res.Duration,
	}).Info("generation finished")
	return res, nil
}

// Generate snapshots doc and generates it on the calling goroutine.
func Generate(doc *design.Document, opts gcode.Options) (*Result, error) {
	return NewJob(doc, opts).Generate(nil, nil)
}
