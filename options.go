// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpubridge

import (
	"github.com/gogpu/gpubridge/gfx"
	"github.com/gogpu/gpubridge/interop"
)

// Option configures a Presenter during creation.
//
// Example:
//
//	// CPU device and shared-memory legacy device
//	p := gpubridge.New(cfg)
//
//	// Vulkan device
//	dev, err := halgfx.Open()
//	p := gpubridge.New(cfg, gpubridge.WithDevice(dev))
type Option func(*presenterOptions)

type presenterOptions struct {
	device    gfx.Device
	legacy    interop.LegacyDevice
	clock     Clock
	onFailure func(error)
	onFPS     func(int)
}

// WithDevice sets the explicit-API device. The presenter takes ownership and
// releases it on Close.
func WithDevice(d gfx.Device) Option {
	return func(o *presenterOptions) {
		o.device = d
	}
}

// WithLegacyDevice sets the legacy presentation device. The presenter takes
// ownership and releases it on Close.
func WithLegacyDevice(d interop.LegacyDevice) Option {
	return func(o *presenterOptions) {
		o.legacy = d
	}
}

// WithClock sets the time source for frame pacing.
func WithClock(c Clock) Option {
	return func(o *presenterOptions) {
		o.clock = c
	}
}

// WithFailureHandler installs a callback receiving every error Tick returns.
// Per-frame runner failures arrive as *FrameError.
func WithFailureHandler(fn func(error)) Option {
	return func(o *presenterOptions) {
		o.onFailure = fn
	}
}

// WithFPSHandler installs a callback receiving the frames-per-second sample
// once per second while Config.ShowFPS is set.
func WithFPSHandler(fn func(int)) Option {
	return func(o *presenterOptions) {
		o.onFPS = fn
	}
}
