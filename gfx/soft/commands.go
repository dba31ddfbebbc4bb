// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package soft

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpubridge/gfx"
)

// ErrAllocatorInUse is returned when resetting an allocator whose lists are
// still executing.
var ErrAllocatorInUse = errors.New("soft: allocator reset while lists are executing")

// CommandAllocator counts the executions of lists recorded from it.
type CommandAllocator struct {
	dev      *Device
	inflight atomic.Int32
	resets   int
	released bool
}

// Reset implements gfx.CommandAllocator.
func (a *CommandAllocator) Reset() error {
	if a.released {
		return gfx.ErrReleased
	}
	if n := a.inflight.Load(); n > 0 {
		return fmt.Errorf("%w (%d pending)", ErrAllocatorInUse, n)
	}
	a.resets++
	return nil
}

// Release implements gfx.CommandAllocator.
func (a *CommandAllocator) Release() {
	if a.released {
		return
	}
	a.released = true
	a.dev.untrack()
}

type command struct {
	barriers []barrier
	dst, src *Texture
}

type barrier struct {
	tex           *Texture
	before, after gfx.ResourceState
}

// CommandList records barriers and copies.
type CommandList struct {
	dev      *Device
	alloc    *CommandAllocator
	cmds     []command
	closed   bool
	err      error
	released bool
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
	if !l.closed {
		return errors.New("soft: reset of a list that is still recording")
	}
	a, err := l.dev.ownAllocator(alloc)
	if err != nil {
		return err
	}
	l.alloc = a
	l.cmds = l.cmds[:0]
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
	cmd := command{barriers: make([]barrier, 0, len(barriers))}
	for _, b := range barriers {
		t, err := l.dev.ownTexture(b.Texture)
		if err != nil {
			l.fail(fmt.Errorf("barrier: %w", err))
			return
		}
		cmd.barriers = append(cmd.barriers, barrier{tex: t, before: b.Before, after: b.After})
	}
	l.cmds = append(l.cmds, cmd)
}

// CopyResource implements gfx.CommandList.
func (l *CommandList) CopyResource(dst, src gfx.Texture) {
	if l.closed {
		l.fail(gfx.ErrListClosed)
		return
	}
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
	if d.desc.Width != s.desc.Width || d.desc.Height != s.desc.Height || d.desc.Format != s.desc.Format {
		l.fail(fmt.Errorf("%w: %dx%d %v -> %dx%d %v", gfx.ErrCopyMismatch,
			s.desc.Width, s.desc.Height, s.desc.Format, d.desc.Width, d.desc.Height, d.desc.Format))
		return
	}
	l.cmds = append(l.cmds, command{dst: d, src: s})
}

// Close implements gfx.CommandList.
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
	l.cmds = nil
	l.dev.untrack()
}

// Queue submits to the device timeline.
type Queue struct {
	dev      *Device
	released bool
}

// ExecuteCommandLists implements gfx.Queue. Lists must be closed without
// recording errors.
func (q *Queue) ExecuteCommandLists(lists ...gfx.CommandList) error {
	if q.released {
		return gfx.ErrReleased
	}
	type batch struct {
		cmds  []command
		alloc *CommandAllocator
	}
	batches := make([]batch, 0, len(lists))
	for _, gl := range lists {
		l, ok := gl.(*CommandList)
		if !ok || l == nil || l.dev != q.dev {
			return errors.New("soft: command list belongs to another device")
		}
		if l.released {
			return gfx.ErrReleased
		}
		if !l.closed {
			return gfx.ErrListOpen
		}
		if l.err != nil {
			return fmt.Errorf("soft: execute list with recording error: %w", l.err)
		}
		batches = append(batches, batch{cmds: append([]command(nil), l.cmds...), alloc: l.alloc})
	}
	for _, b := range batches {
		b.alloc.inflight.Add(1)
	}
	latency := q.dev.opts.latency
	err := q.dev.post(func() {
		if latency > 0 {
			time.Sleep(latency)
		}
		for _, b := range batches {
			if q.dev.lost.Load() == nil {
				q.dev.execute(b.cmds)
			}
			b.alloc.inflight.Add(-1)
			q.dev.submissions.Add(1)
		}
	})
	if err != nil {
		for _, b := range batches {
			b.alloc.inflight.Add(-1)
		}
	}
	return err
}

// Signal implements gfx.Queue.
func (q *Queue) Signal(fence gfx.Fence, value uint64) error {
	if q.released {
		return gfx.ErrReleased
	}
	f, ok := fence.(*Fence)
	if !ok || f == nil || f.dev != q.dev {
		return errors.New("soft: fence belongs to another device")
	}
	return q.dev.post(func() {
		if q.dev.lost.Load() != nil {
			return
		}
		f.signal(value)
	})
}

// Release implements gfx.Queue.
func (q *Queue) Release() {
	if q.released {
		return
	}
	q.released = true
	q.dev.untrack()
}

// execute runs recorded commands on the timeline.
func (d *Device) execute(cmds []command) {
	for _, c := range cmds {
		for _, b := range c.barriers {
			if got := b.tex.State(); got != b.before {
				d.lose(fmt.Errorf("%w: %q is %v, barrier expects %v", gfx.ErrBadBarrier, b.tex.desc.Label, got, b.before))
				return
			}
			b.tex.state.Store(uint32(b.after))
		}
		if c.dst == nil {
			continue
		}
		if c.src.released.Load() || c.dst.released.Load() {
			d.lose(fmt.Errorf("copy: %w", gfx.ErrReleased))
			return
		}
		if s := c.src.State(); s != gfx.StateCopySource {
			d.lose(fmt.Errorf("%w: copy source %q is %v", gfx.ErrBadBarrier, c.src.desc.Label, s))
			return
		}
		if s := c.dst.State(); s != gfx.StateCopyDest {
			d.lose(fmt.Errorf("%w: copy destination %q is %v", gfx.ErrBadBarrier, c.dst.desc.Label, s))
			return
		}
		copy(c.dst.pix, c.src.pix)
	}
}

// Fence is a timeline value with blocking waits.
type Fence struct {
	dev      *Device
	mu       sync.Mutex
	cond     *sync.Cond
	value    uint64
	released bool
}

func (f *Fence) signal(v uint64) {
	f.mu.Lock()
	if v > f.value {
		f.value = v
	}
	f.mu.Unlock()
	f.cond.Broadcast()
}

func (f *Fence) wake() {
	f.mu.Lock()
	f.mu.Unlock() //nolint:staticcheck // pairs with waiters holding mu
	f.cond.Broadcast()
}

// CompletedValue implements gfx.Fence.
func (f *Fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Wait implements gfx.Fence. It returns an error if the device is lost or
// released, even when value was already reached.
func (f *Fence) Wait(value uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.value < value {
		if err := f.dev.Err(); err != nil {
			return fmt.Errorf("soft: wait for fence value %d: %w", value, err)
		}
		f.cond.Wait()
	}
	if err := f.dev.Err(); err != nil {
		return fmt.Errorf("soft: wait for fence value %d: %w", value, err)
	}
	return nil
}

// Release implements gfx.Fence.
func (f *Fence) Release() {
	f.mu.Lock()
	if f.released {
		f.mu.Unlock()
		return
	}
	f.released = true
	f.mu.Unlock()
	f.dev.mu.Lock()
	delete(f.dev.fences, f)
	f.dev.mu.Unlock()
	f.dev.untrack()
}
