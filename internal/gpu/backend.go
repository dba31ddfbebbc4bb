// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpubridge/gfx"
)

// Errors returned by the backend.
var (
	// ErrBackendInit wraps any failure creating the queue, fence, allocator
	// or command list.
	ErrBackendInit = errors.New("gpu: backend initialization failed")

	// ErrNotInitialized is returned when the backend is used before Init.
	ErrNotInitialized = errors.New("gpu: backend not initialized")

	// ErrNilTexture is returned when CopyAndSync gets a nil texture.
	ErrNilTexture = errors.New("gpu: nil texture")
)

// Backend owns the explicit API objects the bridge submits through: one
// command queue, one fence, one command allocator and one reusable command
// list, all created from a single device.
//
// Backend keeps exactly one frame in flight. CopyAndSync does not return
// until the GPU finished the copy it recorded.
//
// Backend is not safe for concurrent use; it is driven from the tick thread.
type Backend struct {
	device   gfx.Device
	external bool

	queue gfx.Queue
	fence gfx.Fence
	alloc gfx.CommandAllocator
	list  gfx.CommandList

	// nextFenceValue is the value the next submission signals.
	nextFenceValue uint64
	waits          uint64

	initialized bool
}

// NewBackend creates a backend over device. When external is true the device
// belongs to the caller and Close leaves it alive.
// The backend must be initialized with Init before use.
func NewBackend(device gfx.Device, external bool) *Backend {
	return &Backend{device: device, external: external, nextFenceValue: 1}
}

// Init creates the queue, the fence (initial value 0), the allocator and the
// command list, then closes the list so the first CopyAndSync can reset it.
// On failure every object created so far is released and the error wraps
// ErrBackendInit.
func (b *Backend) Init() error {
	if b.initialized {
		return nil
	}
	if b.device == nil {
		return fmt.Errorf("%w: nil device", ErrBackendInit)
	}

	var err error
	if b.queue, err = b.device.CreateCommandQueue(); err != nil {
		return b.failInit("create command queue", err)
	}
	if b.fence, err = b.device.CreateFence(0); err != nil {
		return b.failInit("create fence", err)
	}
	if b.alloc, err = b.device.CreateCommandAllocator(); err != nil {
		return b.failInit("create command allocator", err)
	}
	if b.list, err = b.device.CreateCommandList(b.alloc); err != nil {
		return b.failInit("create command list", err)
	}
	if err = b.list.Close(); err != nil {
		return b.failInit("close command list", err)
	}

	b.nextFenceValue = 1
	b.initialized = true
	slogger().Info("gpu: backend initialized")
	return nil
}

// failInit releases partially created objects and wraps err.
func (b *Backend) failInit(step string, err error) error {
	b.releaseObjects()
	return fmt.Errorf("%w: %s: %w", ErrBackendInit, step, err)
}

// CopyAndSync copies src into dst on the GPU and waits for completion.
//
// src must be in UnorderedAccess and dst in Common; both are returned to
// those states. The fence is signaled with NextFenceValue, waited on if the
// GPU has not reached it yet, and the value is then advanced.
func (b *Backend) CopyAndSync(src, dst gfx.Texture) error {
	if !b.initialized {
		return ErrNotInitialized
	}
	if src == nil || dst == nil {
		return ErrNilTexture
	}

	if err := b.alloc.Reset(); err != nil {
		return fmt.Errorf("gpu: reset allocator: %w", err)
	}
	if err := b.list.Reset(b.alloc); err != nil {
		return fmt.Errorf("gpu: reset command list: %w", err)
	}

	toCopy := []gfx.Barrier{
		{Texture: src, Before: gfx.StateUnorderedAccess, After: gfx.StateCopySource},
		{Texture: dst, Before: gfx.StateCommon, After: gfx.StateCopyDest},
	}
	b.list.ResourceBarrier(toCopy...)
	b.list.CopyResource(dst, src)
	b.list.ResourceBarrier(toCopy[0].Inverse(), toCopy[1].Inverse())
	if err := b.list.Close(); err != nil {
		return fmt.Errorf("gpu: record copy: %w", err)
	}

	if err := b.queue.ExecuteCommandLists(b.list); err != nil {
		return fmt.Errorf("gpu: execute copy: %w", err)
	}
	value := b.nextFenceValue
	if err := b.queue.Signal(b.fence, value); err != nil {
		return fmt.Errorf("gpu: signal fence %d: %w", value, err)
	}
	if b.fence.CompletedValue() < value {
		b.waits++
		if err := b.fence.Wait(value); err != nil {
			return fmt.Errorf("gpu: wait for fence %d: %w", value, err)
		}
	}
	b.nextFenceValue++
	return nil
}

// Flush waits until all work submitted to the device so far, including
// kernel dispatches that were never followed by a copy, completed.
// Resources must not be released before a Flush.
func (b *Backend) Flush() error {
	if !b.initialized {
		return nil
	}
	value := b.nextFenceValue
	if err := b.queue.Signal(b.fence, value); err != nil {
		return fmt.Errorf("gpu: signal fence %d: %w", value, err)
	}
	if b.fence.CompletedValue() < value {
		if err := b.fence.Wait(value); err != nil {
			return fmt.Errorf("gpu: flush fence %d: %w", value, err)
		}
	}
	b.nextFenceValue++
	return nil
}

// NextFenceValue returns the value the next submission will signal.
func (b *Backend) NextFenceValue() uint64 { return b.nextFenceValue }

// CompletedFenceValue returns the last value the GPU signaled.
func (b *Backend) CompletedFenceValue() uint64 {
	if b.fence == nil {
		return 0
	}
	return b.fence.CompletedValue()
}

// Waits returns how many times CopyAndSync had to block on the fence.
func (b *Backend) Waits() uint64 { return b.waits }

// Device returns the device the backend submits to.
func (b *Backend) Device() gfx.Device { return b.device }

// IsInitialized reports whether Init succeeded and Close has not run.
func (b *Backend) IsInitialized() bool { return b.initialized }

// Close releases the command list, allocator, fence and queue, then the
// device unless it is external. Close is idempotent.
func (b *Backend) Close() {
	b.releaseObjects()
	if b.device != nil && !b.external {
		b.device.Release()
	}
	b.device = nil
	if b.initialized {
		slogger().Info("gpu: backend closed")
	}
	b.initialized = false
}

// releaseObjects releases in reverse creation order and nils each handle.
func (b *Backend) releaseObjects() {
	if b.list != nil {
		b.list.Release()
		b.list = nil
	}
	if b.alloc != nil {
		b.alloc.Release()
		b.alloc = nil
	}
	if b.fence != nil {
		b.fence.Release()
		b.fence = nil
	}
	if b.queue != nil {
		b.queue.Release()
		b.queue = nil
	}
}
