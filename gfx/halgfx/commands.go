// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package halgfx

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpubridge/gfx"
)

// CommandAllocator implements gfx.CommandAllocator. hal command buffers are
// owned by the queue until their submission retires, so the allocator only
// tracks its own lifetime.
type CommandAllocator struct {
	dev      *Device
	released atomic.Bool
}

// Reset implements gfx.CommandAllocator.
func (a *CommandAllocator) Reset() error {
	if a.released.Load() {
		return gfx.ErrReleased
	}
	return nil
}

// Release implements gfx.CommandAllocator.
func (a *CommandAllocator) Release() {
	if a.released.CompareAndSwap(false, true) {
		a.dev.live.Add(-1)
	}
}

// CreateCommandAllocator implements gfx.Device.
func (d *Device) CreateCommandAllocator() (gfx.CommandAllocator, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usableLocked(); err != nil {
		return nil, err
	}
	d.live.Add(1)
	return &CommandAllocator{dev: d}, nil
}

type op struct {
	barriers []gfx.Barrier
	dst, src *Texture
}

// CommandList implements gfx.CommandList. Commands are recorded on the CPU
// and encoded into a hal command buffer by ExecuteCommandLists.
type CommandList struct {
	dev      *Device
	ops      []op
	err      error
	closed   bool
	released bool
}

// CreateCommandList implements gfx.Device. The list starts open.
func (d *Device) CreateCommandList(alloc gfx.CommandAllocator) (gfx.CommandList, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usableLocked(); err != nil {
		return nil, err
	}
	if a, ok := alloc.(*CommandAllocator); !ok || a.dev != d || a.released.Load() {
		return nil, errors.New("halgfx: invalid command allocator")
	}
	d.live.Add(1)
	return &CommandList{dev: d}, nil
}

func (l *CommandList) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

// Reset implements gfx.CommandList.
func (l *CommandList) Reset(alloc gfx.CommandAllocator) error {
	if l.released {
		return gfx.ErrReleased
	}
	if a, ok := alloc.(*CommandAllocator); !ok || a.dev != l.dev || a.released.Load() {
		return errors.New("halgfx: invalid command allocator")
	}
	l.ops = l.ops[:0]
	l.err = nil
	l.closed = false
	return nil
}

// ResourceBarrier implements gfx.CommandList.
func (l *CommandList) ResourceBarrier(barriers ...gfx.Barrier) {
	if l.closed {
		l.fail(gfx.ErrListClosed)
		return
	}
	l.dev.mu.Lock()
	defer l.dev.mu.Unlock()
	for _, b := range barriers {
		if _, err := l.dev.ownTexture(b.Texture); err != nil {
			l.fail(fmt.Errorf("barrier: %w", err))
			return
		}
	}
	l.ops = append(l.ops, op{barriers: append([]gfx.Barrier(nil), barriers...)})
}

// CopyResource implements gfx.CommandList. The source must be a compute
// texture and the destination a shared texture of the same size.
func (l *CommandList) CopyResource(dst, src gfx.Texture) {
	if l.closed {
		l.fail(gfx.ErrListClosed)
		return
	}
	l.dev.mu.Lock()
	defer l.dev.mu.Unlock()
	d, err := l.dev.ownTexture(dst)
	if err != nil {
		l.fail(fmt.Errorf("copy destination: %w", err))
		return
	}
	s, err := l.dev.ownTexture(src)
	if err != nil {
		l.fail(fmt.Errorf("copy source: %w", err))
		return
	}
	if !s.isCompute() || d.isCompute() ||
		d.desc.Width != s.desc.Width || d.desc.Height != s.desc.Height || d.desc.Format != s.desc.Format {
		l.fail(fmt.Errorf("%w: %q -> %q", gfx.ErrCopyMismatch, s.desc.Label, d.desc.Label))
		return
	}
	l.ops = append(l.ops, op{dst: d, src: s})
}

// Close implements gfx.CommandList. It returns the first recording error.
func (l *CommandList) Close() error {
	if l.released {
		return gfx.ErrReleased
	}
	if l.closed {
		return gfx.ErrListClosed
	}
	l.closed = true
	return l.err
}

// Release implements gfx.CommandList.
func (l *CommandList) Release() {
	if l.released {
		return
	}
	l.released = true
	l.ops = nil
	l.dev.live.Add(-1)
}

// submission is a batch of hal command buffers signaling fence at value.
type submission struct {
	fence     *Fence
	value     uint64
	cmdBufs   []hal.CommandBuffer
	readbacks []*Texture
}

func (s *submission) free(device hal.Device) {
	for _, cb := range s.cmdBufs {
		device.FreeCommandBuffer(cb)
	}
	s.cmdBufs = nil
}

// Queue implements gfx.Queue. Executed lists are encoded immediately and
// submitted together with the next Signal.
type Queue struct {
	dev       *Device
	pending   []hal.CommandBuffer
	readbacks []*Texture
	released  bool
}

// CreateCommandQueue implements gfx.Device.
func (d *Device) CreateCommandQueue() (gfx.Queue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usableLocked(); err != nil {
		return nil, err
	}
	d.live.Add(1)
	return &Queue{dev: d}, nil
}

// ExecuteCommandLists implements gfx.Queue. Barriers are validated against
// the tracked resource states in submission order; a mismatch loses the
// device.
func (q *Queue) ExecuteCommandLists(lists ...gfx.CommandList) error {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if q.released {
		return gfx.ErrReleased
	}
	if err := d.usableLocked(); err != nil {
		return err
	}

	var ops []op
	for _, cl := range lists {
		l, ok := cl.(*CommandList)
		if !ok || l.dev != d || l.released {
			return errors.New("halgfx: invalid command list")
		}
		if !l.closed {
			return gfx.ErrListOpen
		}
		if l.err != nil {
			return fmt.Errorf("halgfx: execute list with recording error: %w", l.err)
		}
		ops = append(ops, l.ops...)
	}

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "bridge_copy_encoder"})
	if err != nil {
		return fmt.Errorf("halgfx: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("bridge_copy"); err != nil {
		return fmt.Errorf("halgfx: begin encoding: %w", err)
	}

	var readbacks []*Texture
	for _, o := range ops {
		if err := q.encodeOp(encoder, o, &readbacks); err != nil {
			encoder.DiscardEncoding()
			return d.loseLocked(err)
		}
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("halgfx: end encoding: %w", err)
	}
	q.pending = append(q.pending, cmdBuf)
	q.readbacks = append(q.readbacks, readbacks...)
	return nil
}

// encodeOp validates and encodes one recorded op. Called with dev.mu held.
func (q *Queue) encodeOp(encoder hal.CommandEncoder, o op, readbacks *[]*Texture) error {
	var transitions []hal.TextureBarrier
	for _, b := range o.barriers {
		t := b.Texture.(*Texture)
		if t.released {
			return fmt.Errorf("barrier on %q: %w", t.desc.Label, gfx.ErrReleased)
		}
		if t.state != b.Before {
			return fmt.Errorf("%w: %q is %v, barrier expects %v", gfx.ErrBadBarrier, t.desc.Label, t.state, b.Before)
		}
		t.state = b.After
		if t.tex != nil {
			transitions = append(transitions, hal.TextureBarrier{
				Texture: t.tex,
				Usage: hal.TextureUsageTransition{
					OldUsage: usageFor(b.Before),
					NewUsage: usageFor(b.After),
				},
			})
		}
	}
	if len(transitions) > 0 {
		encoder.TransitionTextures(transitions)
	}
	if o.dst == nil {
		return nil
	}

	src, dst := o.src, o.dst
	if src.released || dst.released {
		return fmt.Errorf("copy: %w", gfx.ErrReleased)
	}
	if src.state != gfx.StateCopySource {
		return fmt.Errorf("%w: copy source %q is %v", gfx.ErrBadBarrier, src.desc.Label, src.state)
	}
	if dst.state != gfx.StateCopyDest {
		return fmt.Errorf("%w: copy destination %q is %v", gfx.ErrBadBarrier, dst.desc.Label, dst.state)
	}

	if dst.tex != nil {
		w, h := uint32(dst.desc.Width), uint32(dst.desc.Height) //nolint:gosec // validated positive
		encoder.CopyBufferToTexture(src.buf, dst.tex, []hal.BufferTextureCopy{{
			BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: uint32(src.pitch), RowsPerImage: h}, //nolint:gosec // pitch fits uint32
			TextureBase:  hal.ImageCopyTexture{Texture: dst.tex, MipLevel: 0},
			Size:         hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
		}})
		return nil
	}
	encoder.CopyBufferToBuffer(src.buf, dst.staging, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: src.byteSize()},
	})
	*readbacks = append(*readbacks, dst)
	return nil
}

// Signal implements gfx.Queue. It submits every command buffer executed
// since the previous Signal and signals fence to value when they complete.
func (q *Queue) Signal(fence gfx.Fence, value uint64) error {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if q.released {
		return gfx.ErrReleased
	}
	if err := d.usableLocked(); err != nil {
		return err
	}
	f, ok := fence.(*Fence)
	if !ok || f.dev != d || f.released {
		return errors.New("halgfx: invalid fence")
	}

	cmdBufs := q.pending
	if err := d.queue.Submit(cmdBufs, f.fence, value); err != nil {
		return d.loseLocked(fmt.Errorf("submit: %w", err))
	}
	d.inflight = append(d.inflight, &submission{fence: f, value: value, cmdBufs: cmdBufs, readbacks: q.readbacks})
	q.pending, q.readbacks = nil, nil
	return nil
}

// Release implements gfx.Queue. Executed lists that were never signaled are
// discarded.
func (q *Queue) Release() {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if q.released {
		return
	}
	q.released = true
	for _, cb := range q.pending {
		d.device.FreeCommandBuffer(cb)
	}
	q.pending, q.readbacks = nil, nil
	d.live.Add(-1)
}

// Fence implements gfx.Fence over a hal fence. The completed value advances
// when a Wait observes the hal fence reaching it.
type Fence struct {
	dev       *Device
	fence     hal.Fence
	completed atomic.Uint64
	released  bool
}

// CreateFence implements gfx.Device.
func (d *Device) CreateFence(initial uint64) (gfx.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usableLocked(); err != nil {
		return nil, err
	}
	hf, err := d.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("halgfx: create fence: %w", err)
	}
	f := &Fence{dev: d, fence: hf}
	f.completed.Store(initial)
	d.live.Add(1)
	return f, nil
}

// CompletedValue implements gfx.Fence.
func (f *Fence) CompletedValue() uint64 { return f.completed.Load() }

// Wait implements gfx.Fence. Once the value is reached, submissions it
// covers are retired: host-mapped shared textures receive their copies
// and command buffers are freed.
func (f *Fence) Wait(value uint64) error {
	if f.completed.Load() >= value {
		return nil
	}
	d := f.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if f.released {
		return gfx.ErrReleased
	}
	if err := d.lostErrLocked(); err != nil {
		return err
	}
	if err := d.waitLocked(f.fence, value); err != nil {
		return err
	}
	if value > f.completed.Load() {
		f.completed.Store(value)
	}
	return d.retireLocked(f, value)
}

// waitLocked blocks until fence reaches value, in fenceTimeout slices with a
// warning per expired slice. A hal error loses the device.
func (d *Device) waitLocked(fence hal.Fence, value uint64) error {
	for slice := 1; ; slice++ {
		ok, err := d.device.Wait(fence, value, fenceTimeout)
		if err != nil {
			return d.loseLocked(fmt.Errorf("wait fence %d: %w", value, err))
		}
		if ok {
			return nil
		}
		d.slogger().Warn("halgfx: fence wait slice expired", "value", value, "slice", slice, "waited", fenceTimeout*time.Duration(slice))
	}
}

// retireLocked finishes submissions on f up to value.
func (d *Device) retireLocked(f *Fence, value uint64) error {
	var firstErr error
	kept := d.inflight[:0]
	for _, s := range d.inflight {
		if s.fence != f || s.value > value {
			kept = append(kept, s)
			continue
		}
		for _, t := range s.readbacks {
			if err := t.readBack(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		s.free(d.device)
	}
	d.inflight = kept
	return firstErr
}

// Release implements gfx.Fence.
func (f *Fence) Release() {
	d := f.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if f.released {
		return
	}
	for _, s := range d.inflight {
		if s.fence == f {
			if err := d.waitLocked(f.fence, s.value); err != nil {
				d.slogger().Warn("halgfx: wait before fence release", "err", err)
			}
		}
	}
	if err := d.retireLocked(f, ^uint64(0)); err != nil {
		d.slogger().Warn("halgfx: retire on fence release", "err", err)
	}
	f.released = true
	d.device.DestroyFence(f.fence)
	d.live.Add(-1)
}
