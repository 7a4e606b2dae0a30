package design

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/shape"
)

// Units of the emitted program. Geometry is always millimetres.
type Units string

const (
	UnitsMM   Units = "mm"
	UnitsInch Units = "inch"
)

// Tool describes the cutter and how it is driven.
type Tool struct {
	Diameter     float64 `json:"diameter" yaml:"diameter"`
	FeedRate     float64 `json:"feed_rate" yaml:"feed_rate"`
	PlungeRate   float64 `json:"plunge_rate,omitempty" yaml:"plunge_rate,omitempty"`
	SpindleSpeed float64 `json:"spindle_speed" yaml:"spindle_speed"`
}

// Job holds program-wide depths. Annotations with a zero cut depth inherit
// CutDepth and StartDepth from here.
type Job struct {
	CutDepth   float64 `json:"cut_depth" yaml:"cut_depth"`
	StartDepth float64 `json:"start_depth" yaml:"start_depth"`
	SafeZ      float64 `json:"safe_z" yaml:"safe_z"`
	Units      Units   `json:"units" yaml:"units"`
}

// Stock is informational.
type Stock struct {
	Width     float64    `json:"width" yaml:"width"`
	Height    float64    `json:"height" yaml:"height"`
	Thickness float64    `json:"thickness" yaml:"thickness"`
	Origin    [3]float64 `json:"origin" yaml:"origin"`
}

// Document is an ordered set of objects plus tool and job parameters.
// Object ids are monotonic and never reused.
type Document struct {
	Tool    Tool      `json:"tool"`
	Job     Job       `json:"job"`
	Stock   *Stock    `json:"stock,omitempty"`
	Objects []*Object `json:"objects"`

	NextID    int64 `json:"next_id"`
	NextGroup int64 `json:"next_group"`
}

// DefaultTool is a 3.175 mm end mill.
func DefaultTool() Tool {
	return Tool{Diameter: 3.175, FeedRate: 500, PlungeRate: 200, SpindleSpeed: 12000}
}

// DefaultJob cuts 1 mm deep with a 5 mm safe height.
func DefaultJob() Job {
	return Job{CutDepth: 1, SafeZ: 5, Units: UnitsMM}
}

// New returns an empty document with default parameters.
func New() *Document {
	return &Document{Tool: DefaultTool(), Job: DefaultJob(), NextID: 1, NextGroup: 1}
}

// Add places a shape and returns the new object.
func (d *Document) Add(s shape.Shape, a Annotation) *Object {
	if d.NextID <= 0 {
		d.NextID = 1
	}
	o := &Object{ID: d.NextID, Shape: s, Annotation: a}
	d.NextID++
	d.Objects = append(d.Objects, o)
	return o
}

// Get returns the object with the given id.
func (d *Document) Get(id int64) (*Object, bool) {
	for _, o := range d.Objects {
		if o.ID == id {
			return o, true
		}
	}
	return nil, false
}

// Remove deletes an object. It reports whether the object existed.
func (d *Document) Remove(id int64) bool {
	for i, o := range d.Objects {
		if o.ID == id {
			d.Objects = append(d.Objects[:i], d.Objects[i+1:]...)
			return true
		}
	}
	return false
}

// Group puts the objects into a fresh group and returns its id. Objects
// leave any previous group; grouping is flat.
func (d *Document) Group(ids ...int64) (int64, error) {
	if len(ids) < 2 {
		return 0, errors.New(errors.ErrDesignShape, "a group needs at least two objects")
	}
	var objs []*Object
	for _, id := range ids {
		o, ok := d.Get(id)
		if !ok {
			return 0, errors.New(errors.ErrDesignShape, fmt.Sprintf("no object with id %d", id))
		}
		objs = append(objs, o)
	}
	if d.NextGroup <= 0 {
		d.NextGroup = 1
	}
	gid := d.NextGroup
	d.NextGroup++
	for _, o := range objs {
		o.GroupID = gid
	}
	return gid, nil
}

// Ungroup clears a group id from all its members and returns their count.
func (d *Document) Ungroup(gid int64) int {
	n := 0
	for _, o := range d.Objects {
		if gid != 0 && o.GroupID == gid {
			o.GroupID = 0
			n++
		}
	}
	return n
}

// Members returns the objects of a group in document order.
func (d *Document) Members(gid int64) []*Object {
	var out []*Object
	for _, o := range d.Objects {
		if gid != 0 && o.GroupID == gid {
			out = append(out, o)
		}
	}
	return out
}

// Resolved returns the annotation with job-level depth defaults applied.
func (d *Document) Resolved(o *Object) Annotation {
	a := o.Annotation
	if a.CutDepth == 0 {
		a.CutDepth = d.Job.CutDepth
		if a.StartDepth == 0 {
			a.StartDepth = d.Job.StartDepth
		}
	}
	return a
}

// Validate checks the tool, the job and every object.
func (d *Document) Validate() error {
	if d.Tool.Diameter <= 0 {
		return errors.New(errors.ErrDesignShape, "tool diameter must be positive")
	}
	if d.Tool.FeedRate <= 0 {
		return errors.New(errors.ErrDesignShape, "feed rate must be positive")
	}
	switch d.Job.Units {
	case UnitsMM, UnitsInch, "":
	default:
		return errors.New(errors.ErrDesignShape, fmt.Sprintf("unknown units %q", d.Job.Units))
	}
	seen := make(map[int64]bool, len(d.Objects))
	for _, o := range d.Objects {
		if seen[o.ID] {
			return errors.New(errors.ErrDesignShape, fmt.Sprintf("duplicate object id %d", o.ID))
		}
		seen[o.ID] = true
		if err := o.Shape.Validate(); err != nil {
			return errors.Wrap(err, errors.ErrDesignShape, fmt.Sprintf("object %d", o.ID))
		}
		if err := o.Annotation.Validate(); err != nil {
			return errors.Wrap(err, errors.ErrDesignShape, fmt.Sprintf("object %d", o.ID))
		}
	}
	return nil
}

// Encode writes the document as indented JSON.
func (d *Document) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// Decode reads a JSON document. Unknown top-level fields such as viewport
// state are ignored.
func Decode(r io.Reader) (*Document, error) {
	d := New()
	d.NextID, d.NextGroup = 0, 0
	if err := json.NewDecoder(r).Decode(d); err != nil {
		return nil, errors.Wrap(err, errors.ErrDesignDecode, "decode design")
	}
	d.fixCounters()
	return d, nil
}

// DecodeYAML reads a YAML document with the same schema as the JSON form.
func DecodeYAML(r io.Reader) (*Document, error) {
	var tree interface{}
	if err := yaml.NewDecoder(r).Decode(&tree); err != nil {
		return nil, errors.Wrap(err, errors.ErrDesignDecode, "decode yaml design")
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDesignDecode, "convert yaml design")
	}
	return Decode(bytes.NewReader(data))
}

// Load reads a design file, choosing YAML for .yaml and .yml.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDesignDecode, "open design").SetFile(path)
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return DecodeYAML(f)
	default:
		return Decode(f)
	}
}

// fixCounters makes NextID and NextGroup larger than any id in use.
func (d *Document) fixCounters() {
	var maxID, maxGroup int64
	for _, o := range d.Objects {
		if o.ID > maxID {
			maxID = o.ID
		}
		if o.GroupID > maxGroup {
			maxGroup = o.GroupID
		}
	}
	// objects without ids get fresh ones in file order
	for _, o := range d.Objects {
		if o.ID == 0 {
			maxID++
			o.ID = maxID
		}
	}
	if d.NextID <= maxID {
		d.NextID = maxID + 1
	}
	if d.NextGroup <= maxGroup {
		d.NextGroup = maxGroup + 1
	}
	if d.Job.Units == "" {
		d.Job.Units = UnitsMM
	}
}

// GroupIDs returns the distinct group ids in use, sorted.
func (d *Document) GroupIDs() []int64 {
	set := map[int64]bool{}
	for _, o := range d.Objects {
		if o.GroupID != 0 {
			set[o.GroupID] = true
		}
	}
	out := make([]int64, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
