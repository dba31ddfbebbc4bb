// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package soft implements the gfx API on the CPU.
//
// All submitted work runs in order on a single timeline goroutine, the
// device's stand-in for a GPU queue. Fences are signaled from that goroutine,
// so waiting on a fence genuinely blocks until earlier work finished.
// Kernel dispatches shade row bands in parallel on a worker pool.
//
// Resource states are tracked per texture and every barrier and copy is
// validated when it executes. A violation marks the device lost: later work
// is dropped and fence waits return ErrDeviceLost.
package soft

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpubridge/gfx"
	"github.com/gogpu/gpubridge/internal/parallel"
	"github.com/gogpu/gpubridge/internal/shm"
)

// Option configures a Device.
type Option func(*options)

type options struct {
	workers int
	latency time.Duration
	backlog int
}

// WithWorkers sets the number of kernel dispatch workers.
// Zero uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithLatency delays every command list submission on the timeline,
// simulating GPU execution time.
func WithLatency(d time.Duration) Option {
	return func(o *options) { o.latency = d }
}

// WithBacklog sets how many submissions may be queued ahead of the timeline
// before submitting blocks.
func WithBacklog(n int) Option {
	return func(o *options) { o.backlog = n }
}

// lostError wraps the first execution failure.
type lostError struct{ err error }

// Device is a CPU implementation of gfx.Device.
type Device struct {
	opts options

	work   chan func()
	idle   sync.WaitGroup
	pool   *parallel.WorkerPool
	lost   atomic.Pointer[lostError]
	closed atomic.Bool

	mu     sync.Mutex
	fences map[*Fence]struct{}

	live        atomic.Int64
	submissions atomic.Uint64
}

var _ gfx.Device = (*Device)(nil)

// New creates a device and starts its timeline.
func New(opts ...Option) *Device {
	o := options{backlog: 16}
	for _, opt := range opts {
		opt(&o)
	}
	if o.backlog < 1 {
		o.backlog = 1
	}
	d := &Device{
		opts:   o,
		work:   make(chan func(), o.backlog),
		pool:   parallel.NewWorkerPool(o.workers),
		fences: make(map[*Fence]struct{}),
	}
	d.idle.Add(1)
	go d.timeline()
	slogger().Debug("soft: device created", "workers", d.pool.Workers(), "latency", o.latency)
	return d
}

func (d *Device) timeline() {
	defer d.idle.Done()
	for fn := range d.work {
		fn()
	}
}

// post queues fn on the timeline.
func (d *Device) post(fn func()) error {
	if d.closed.Load() {
		return gfx.ErrReleased
	}
	d.work <- fn
	return nil
}

// lose marks the device lost with err and wakes every fence waiter.
// Only the first failure is kept.
func (d *Device) lose(err error) {
	if !d.lost.CompareAndSwap(nil, &lostError{err: err}) {
		return
	}
	slogger().Warn("soft: device lost", "err", err)
	d.wakeFences()
}

func (d *Device) wakeFences() {
	d.mu.Lock()
	fences := make([]*Fence, 0, len(d.fences))
	for f := range d.fences {
		fences = append(fences, f)
	}
	d.mu.Unlock()
	for _, f := range fences {
		f.wake()
	}
}

// Err returns the error that made the device lost, or nil.
func (d *Device) Err() error {
	if le := d.lost.Load(); le != nil {
		return fmt.Errorf("%w: %w", gfx.ErrDeviceLost, le.err)
	}
	if d.closed.Load() {
		return gfx.ErrReleased
	}
	return nil
}

// LiveObjects returns how many objects created by the device are not yet
// released. The device itself is not counted.
func (d *Device) LiveObjects() int { return int(d.live.Load()) }

// Submissions returns how many command lists have been executed.
func (d *Device) Submissions() uint64 { return d.submissions.Load() }

// SetLogger forwards to the package logger so a host can configure it
// through the device it holds.
func (d *Device) SetLogger(l *slog.Logger) { SetLogger(l) }

// Release drains the timeline and stops the device. Release is idempotent.
func (d *Device) Release() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	close(d.work)
	d.idle.Wait()
	d.pool.Close()
	d.wakeFences()
	if n := d.live.Load(); n > 0 {
		slogger().Warn("soft: device released with live objects", "count", n)
	}
}

func (d *Device) track()   { d.live.Add(1) }
func (d *Device) untrack() { d.live.Add(-1) }

// CreateCommandQueue implements gfx.Device.
func (d *Device) CreateCommandQueue() (gfx.Queue, error) {
	if d.closed.Load() {
		return nil, gfx.ErrReleased
	}
	d.track()
	return &Queue{dev: d}, nil
}

// CreateCommandAllocator implements gfx.Device.
func (d *Device) CreateCommandAllocator() (gfx.CommandAllocator, error) {
	if d.closed.Load() {
		return nil, gfx.ErrReleased
	}
	d.track()
	return &CommandAllocator{dev: d}, nil
}

// CreateCommandList implements gfx.Device. The list starts open.
func (d *Device) CreateCommandList(alloc gfx.CommandAllocator) (gfx.CommandList, error) {
	if d.closed.Load() {
		return nil, gfx.ErrReleased
	}
	a, err := d.ownAllocator(alloc)
	if err != nil {
		return nil, err
	}
	d.track()
	return &CommandList{dev: d, alloc: a}, nil
}

// CreateFence implements gfx.Device.
func (d *Device) CreateFence(initial uint64) (gfx.Fence, error) {
	if d.closed.Load() {
		return nil, gfx.ErrReleased
	}
	f := &Fence{dev: d, value: initial}
	f.cond = sync.NewCond(&f.mu)
	d.mu.Lock()
	d.fences[f] = struct{}{}
	d.mu.Unlock()
	d.track()
	return f, nil
}

// CreateComputeTexture implements gfx.Device.
func (d *Device) CreateComputeTexture(desc gfx.TextureDescriptor) (gfx.Texture, error) {
	if d.closed.Load() {
		return nil, gfx.ErrReleased
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	t := newTexture(d, desc, make([]byte, desc.Width*desc.Height*gfx.BytesPerPixel(desc.Format)), gfx.StateUnorderedAccess)
	d.track()
	return t, nil
}

// OpenSharedTexture implements gfx.Device. handle must come from an
// shm-backed exporter such as interop/memshare.
func (d *Device) OpenSharedTexture(handle gfx.SharedHandle, desc gfx.TextureDescriptor) (gfx.Texture, error) {
	if d.closed.Load() {
		return nil, gfx.ErrReleased
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	seg, err := shm.Open(uintptr(handle), desc.Width*desc.Height*gfx.BytesPerPixel(desc.Format))
	if err != nil {
		return nil, fmt.Errorf("soft: open shared texture %q: %w", desc.Label, err)
	}
	t := newTexture(d, desc, seg.Bytes(), gfx.StateCommon)
	t.seg = seg
	d.track()
	return t, nil
}

func (d *Device) ownTexture(t gfx.Texture) (*Texture, error) {
	st, ok := t.(*Texture)
	if !ok || st == nil || st.dev != d {
		return nil, errors.New("soft: texture belongs to another device")
	}
	if st.released.Load() {
		return nil, fmt.Errorf("soft: texture %q: %w", st.desc.Label, gfx.ErrReleased)
	}
	return st, nil
}

func (d *Device) ownAllocator(a gfx.CommandAllocator) (*CommandAllocator, error) {
	sa, ok := a.(*CommandAllocator)
	if !ok || sa == nil || sa.dev != d {
		return nil, errors.New("soft: allocator belongs to another device")
	}
	if sa.released {
		return nil, fmt.Errorf("soft: allocator: %w", gfx.ErrReleased)
	}
	return sa, nil
}
