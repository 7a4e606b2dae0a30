// Package design holds placed shapes with their machining annotations.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package design

import (
	"fmt"
	"math"

	"cnc-cam-core/pkg/errors"
)

// Operation is the machining operation assigned to a shape.
type Operation string

const (
	OpProfile Operation = "profile"
	OpPocket  Operation = "pocket"
)

// StrategyKind selects the pocket clearing algorithm.
type StrategyKind string

const (
	StrategyRaster          StrategyKind = "raster"
	StrategyContourParallel StrategyKind = "contour"
	StrategyAdaptive        StrategyKind = "adaptive"
)

// PocketStrategy is a tagged variant; FillRatio only applies to Raster.
type PocketStrategy struct {
	Kind      StrategyKind `json:"kind" yaml:"kind"`
	FillRatio float64      `json:"fill_ratio,omitempty" yaml:"fill_ratio,omitempty"`
}

// Raster returns a raster strategy with fill clamped to [0,1].
func Raster(fill float64) PocketStrategy {
	return PocketStrategy{Kind: StrategyRaster, FillRatio: math.Max(0, math.Min(1, fill))}
}

func ContourParallel() PocketStrategy { return PocketStrategy{Kind: StrategyContourParallel} }
func Adaptive() PocketStrategy        { return PocketStrategy{Kind: StrategyAdaptive} }

func (s PocketStrategy) String() string {
	if s.Kind == StrategyRaster {
		return fmt.Sprintf("raster(%.2f)", s.FillRatio)
	}
	return string(s.Kind)
}

// Annotation carries the per-shape machining parameters. Depths are in mm;
// CutDepth is a positive distance below the surface. RampAngle is degrees.
// Offset, Fillet and Chamfer modify the geometry the toolpath follows.
type Annotation struct {
	Operation  Operation      `json:"operation" yaml:"operation"`
	StartDepth float64        `json:"start_depth" yaml:"start_depth"`
	CutDepth   float64        `json:"cut_depth" yaml:"cut_depth"`
	StepDown   float64        `json:"step_down" yaml:"step_down"`
	StepIn     float64        `json:"step_in" yaml:"step_in"`
	RampAngle  float64        `json:"ramp_angle" yaml:"ramp_angle"`
	Strategy   PocketStrategy `json:"strategy" yaml:"strategy"`
	Offset     float64        `json:"offset,omitempty" yaml:"offset,omitempty"`
	Fillet     float64        `json:"fillet,omitempty" yaml:"fillet,omitempty"`
	Chamfer    float64        `json:"chamfer,omitempty" yaml:"chamfer,omitempty"`
}

// DefaultAnnotation is a single-pass 1 mm profile.
func DefaultAnnotation() Annotation {
	return Annotation{
		Operation: OpProfile,
		CutDepth:  1,
		StepDown:  1,
		StepIn:    1,
		Strategy:  ContourParallel(),
	}
}

// HasModifiers reports whether the effective shape differs from the base.
func (a Annotation) HasModifiers() bool {
	return a.Offset != 0 || a.Fillet != 0 || a.Chamfer != 0
}

// Validate checks ranges. A zero cut depth is allowed and yields no passes.
func (a Annotation) Validate() error {
	switch a.Operation {
	case OpProfile, OpPocket:
	default:
		return errors.New(errors.ErrDesignShape, fmt.Sprintf("unknown operation %q", a.Operation))
	}
	if a.StepDown < 0 || a.StepIn < 0 {
		return errors.New(errors.ErrDesignShape, "step down and step in must not be negative")
	}
	if a.RampAngle < 0 || a.RampAngle >= 90 {
		return errors.New(errors.ErrDesignShape, "ramp angle must be in [0, 90)")
	}
	if a.Fillet < 0 || a.Chamfer < 0 {
		return errors.New(errors.ErrDesignShape, "fillet and chamfer must not be negative")
	}
	if a.Operation == OpPocket {
		switch a.Strategy.Kind {
		case StrategyRaster:
			if a.Strategy.FillRatio < 0 || a.Strategy.FillRatio > 1 {
				return errors.New(errors.ErrDesignShape, "fill ratio must be in [0, 1]")
			}
		case StrategyContourParallel, StrategyAdaptive:
		default:
			return errors.New(errors.ErrDesignShape, fmt.Sprintf("unknown pocket strategy %q", a.Strategy.Kind))
		}
	}
	return nil
}
