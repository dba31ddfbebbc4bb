// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpubridge

import (
	"math"
)

// Resolution scale bounds.
const (
	MinResolutionScale = 0.1
	MaxResolutionScale = 1.0
)

// DefaultFPS is the fixed frame rate used when FixedFPS is set without a
// positive FPS.
const DefaultFPS = 60

// Config is the runtime configuration of a Presenter. Every field can be
// changed while the presenter runs; changes apply at the next tick.
type Config struct {
	// Runner produces frames. A nil runner leaves the surface untouched.
	Runner ShaderRunner

	// Parameter is passed to the runner on every frame.
	Parameter any

	// Paused freezes elapsed-time accumulation and stops frame production.
	Paused bool

	// FixedFPS throttles frame production to FPS frames per second.
	FixedFPS bool
	FPS      float64

	// ResolutionScale scales the compute surface relative to the host size.
	// It is clamped to [MinResolutionScale, MaxResolutionScale].
	ResolutionScale float64

	// ShowFPS enables the FPS handler installed with WithFPSHandler.
	ShowFPS bool
}

// DefaultConfig returns a configuration with full resolution and a 60 fps
// frame budget that is off until FixedFPS is set.
func DefaultConfig() Config {
	return Config{FPS: DefaultFPS, ResolutionScale: MaxResolutionScale}
}

// Normalize returns c with ResolutionScale clamped and FPS defaulted. An
// unset (zero) scale means full resolution.
func (c Config) Normalize() Config {
	if c.ResolutionScale == 0 {
		c.ResolutionScale = MaxResolutionScale
	}
	c.ResolutionScale = ClampResolutionScale(c.ResolutionScale)
	if c.FPS <= 0 || math.IsNaN(c.FPS) || math.IsInf(c.FPS, 0) {
		c.FPS = DefaultFPS
	}
	return c
}

// ClampResolutionScale clamps s to [MinResolutionScale, MaxResolutionScale].
// NaN maps to MaxResolutionScale.
func ClampResolutionScale(s float64) float64 {
	switch {
	case math.IsNaN(s):
		return MaxResolutionScale
	case s < MinResolutionScale:
		return MinResolutionScale
	case s > MaxResolutionScale:
		return MaxResolutionScale
	default:
		return s
	}
}

// EffectiveSize returns the compute surface size for a host of w x h pixels:
// floor(host * scale) per axis after clamping scale. Negative sizes yield 0.
func EffectiveSize(w, h int, scale float64) (int, int) {
	scale = ClampResolutionScale(scale)
	return scaleAxis(w, scale), scaleAxis(h, scale)
}

func scaleAxis(n int, scale float64) int {
	if n <= 0 {
		return 0
	}
	return int(math.Floor(float64(n) * scale))
}
