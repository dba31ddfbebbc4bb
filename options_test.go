// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpubridge

import (
	"testing"

	"github.com/gogpu/gpubridge/gfx/soft"
	"github.com/gogpu/gpubridge/interop/memshare"
)

func TestNewDefaults(t *testing.T) {
	p := New(Config{})
	defer p.Close()

	if _, ok := p.device.(*soft.Device); !ok {
		t.Errorf("default device is %T, want *soft.Device", p.device)
	}
	if _, ok := p.legacy.(*memshare.Device); !ok {
		t.Errorf("default legacy device is %T, want *memshare.Device", p.legacy)
	}
	if _, ok := p.clock.(SystemClock); !ok {
		t.Errorf("default clock is %T, want SystemClock", p.clock)
	}
	cfg := p.Config()
	if cfg.ResolutionScale != MaxResolutionScale || cfg.FPS != DefaultFPS {
		t.Errorf("Config() = %+v, want normalized", cfg)
	}
	if p.IsAttached() || p.SchedulerState() != SchedulerStopped || p.Elapsed() != 0 {
		t.Error("new presenter is not detached")
	}
}

func TestNewWithOptions(t *testing.T) {
	dev := soft.New()
	legacy := memshare.New()
	clock := newFakeClock()
	var failures, samples int

	p := New(DefaultConfig(),
		WithDevice(dev),
		WithLegacyDevice(legacy),
		WithClock(clock),
		WithFailureHandler(func(error) { failures++ }),
		WithFPSHandler(func(int) { samples++ }),
	)
	defer p.Close()

	if p.device != dev {
		t.Error("device is not the injected device")
	}
	if p.legacy != legacy {
		t.Error("legacy device is not the injected device")
	}
	if p.clock != clock {
		t.Error("clock is not the injected clock")
	}
	p.onFailure(nil)
	p.onFPS(0)
	if failures != 1 || samples != 1 {
		t.Error("handlers were not installed")
	}
}

func TestConfigSetters(t *testing.T) {
	p := New(DefaultConfig())
	defer p.Close()

	runner := &recordingRunner{}
	p.SetRunner(runner)
	p.SetParameter(42)
	p.SetPaused(true)
	p.SetFixedFPS(true)
	p.SetFPS(24)
	p.SetShowFPS(true)
	p.SetResolutionScale(0.25)

	cfg := p.Config()
	if cfg.Runner != runner || cfg.Parameter != 42 || !cfg.Paused || !cfg.FixedFPS ||
		cfg.FPS != 24 || !cfg.ShowFPS || cfg.ResolutionScale != 0.25 {
		t.Errorf("Config() = %+v", cfg)
	}

	p.SetFPS(0)
	if got := p.Config().FPS; got != DefaultFPS {
		t.Errorf("FPS = %v after SetFPS(0), want %v", got, DefaultFPS)
	}

	p.SetConfig(Config{ResolutionScale: 0.5})
	if p.ResizeState() != ResizePending {
		t.Errorf("ResizeState() = %v, want Pending after scale change", p.ResizeState())
	}
	if cfg := p.Config(); cfg.Runner != nil || cfg.Paused {
		t.Errorf("SetConfig did not replace the configuration: %+v", cfg)
	}
}
