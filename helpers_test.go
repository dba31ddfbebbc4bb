// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpubridge

import (
	"image/color"
	"sync"
	"time"

	"github.com/gogpu/gpubridge/gfx"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// solidKernel fills every pixel with c.
func solidKernel(c color.RGBA) *gfx.Kernel {
	return &gfx.Kernel{
		Name:  "solid",
		Shade: func(int, int, gfx.KernelParams) color.RGBA { return c },
	}
}

// recordingRunner dispatches a solid kernel and records every call.
type recordingRunner struct {
	mu      sync.Mutex
	color   color.RGBA
	present bool
	err     error
	panicV  any
	calls   []time.Duration
	params  []any
	sizes   [][2]int
}

func (r *recordingRunner) TryExecute(s *ComputeSurface, elapsed time.Duration, param any) (bool, error) {
	r.mu.Lock()
	r.calls = append(r.calls, elapsed)
	r.params = append(r.params, param)
	r.sizes = append(r.sizes, [2]int{s.Width(), s.Height()})
	r.mu.Unlock()
	if r.panicV != nil {
		panic(r.panicV)
	}
	if r.err != nil {
		return false, r.err
	}
	if err := s.Dispatch(solidKernel(r.color), gfx.KernelParams{}); err != nil {
		return false, err
	}
	return r.present, nil
}

func (r *recordingRunner) Calls() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.calls...)
}
