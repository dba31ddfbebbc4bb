// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package gfx defines the explicit graphics API the bridge records its
// per-frame work against: a device with one command queue, a command
// allocator, a reusable command list, a monotonically signaled fence and
// textures that move between resource states through explicit barriers.
//
// Two implementations ship with the module. Package soft executes command
// lists on a CPU timeline goroutine. Package halgfx records them into
// gogpu/wgpu hal command encoders.
package gfx

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
)

// Errors shared by implementations.
var (
	// ErrReleased is returned when an object is used after Release.
	ErrReleased = errors.New("gfx: object released")

	// ErrListClosed is returned when recording into a closed command list.
	ErrListClosed = errors.New("gfx: command list is closed")

	// ErrListOpen is returned when executing a command list that is still recording.
	ErrListOpen = errors.New("gfx: command list is still recording")

	// ErrBadBarrier is returned when a barrier's before state does not match
	// the resource's current state.
	ErrBadBarrier = errors.New("gfx: barrier state mismatch")

	// ErrCopyMismatch is returned when copy source and destination differ in
	// size or format.
	ErrCopyMismatch = errors.New("gfx: copy source and destination differ")

	// ErrSharedHandleUnsupported is returned by devices that cannot import
	// OS shared handles.
	ErrSharedHandleUnsupported = errors.New("gfx: shared handles not supported")

	// ErrDeviceLost is returned once the device stopped executing work.
	ErrDeviceLost = errors.New("gfx: device lost")
)

// ResourceState is the usage a texture is currently transitioned to.
type ResourceState uint8

const (
	// StateCommon is the state shared resources are created and presented in.
	StateCommon ResourceState = iota
	// StateUnorderedAccess allows read/write access from compute kernels.
	StateUnorderedAccess
	// StateCopySource allows the texture to be read by copies.
	StateCopySource
	// StateCopyDest allows the texture to be written by copies.
	StateCopyDest
)

func (s ResourceState) String() string {
	switch s {
	case StateCommon:
		return "Common"
	case StateUnorderedAccess:
		return "UnorderedAccess"
	case StateCopySource:
		return "CopySource"
	case StateCopyDest:
		return "CopyDest"
	default:
		return fmt.Sprintf("ResourceState(%d)", uint8(s))
	}
}

// SharedHandle is an OS-level handle to GPU memory exported by another API.
type SharedHandle uintptr

// TextureDescriptor describes a 2D texture.
type TextureDescriptor struct {
	Label  string
	Width  int
	Height int
	Format gputypes.TextureFormat
}

// Validate reports whether the descriptor can be allocated.
func (d TextureDescriptor) Validate() error {
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("gfx: texture %q has invalid size %dx%d", d.Label, d.Width, d.Height)
	}
	if BytesPerPixel(d.Format) == 0 {
		return fmt.Errorf("gfx: texture %q has unsupported format %v", d.Label, d.Format)
	}
	return nil
}

// BytesPerPixel returns the size of one texel, or 0 for unsupported formats.
func BytesPerPixel(f gputypes.TextureFormat) int {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm:
		return 4
	default:
		return 0
	}
}

// Texture is a 2D GPU resource.
type Texture interface {
	Width() int
	Height() int
	Format() gputypes.TextureFormat
	Release()
}

// Barrier transitions Texture from Before to After.
type Barrier struct {
	Texture Texture
	Before  ResourceState
	After   ResourceState
}

// Inverse returns the barrier that undoes b.
func (b Barrier) Inverse() Barrier {
	return Barrier{Texture: b.Texture, Before: b.After, After: b.Before}
}

// CommandAllocator backs the memory of recorded command lists.
type CommandAllocator interface {
	// Reset reclaims the allocator. All lists recorded from it must have
	// finished executing.
	Reset() error
	Release()
}

// CommandList records barriers and copies for later execution.
// Recording methods do not return errors; the first recording error is
// reported by Close.
type CommandList interface {
	// Reset reopens a closed list for recording into alloc.
	Reset(alloc CommandAllocator) error
	ResourceBarrier(barriers ...Barrier)
	CopyResource(dst, src Texture)
	Close() error
	Release()
}

// Fence is a GPU timeline value signaled by a Queue.
type Fence interface {
	// CompletedValue returns the highest value the GPU has signaled.
	CompletedValue() uint64
	// Wait blocks until CompletedValue reaches value.
	Wait(value uint64) error
	Release()
}

// Queue submits command lists in order.
type Queue interface {
	ExecuteCommandLists(lists ...CommandList) error
	// Signal sets fence to value once all previously submitted work completed.
	Signal(fence Fence, value uint64) error
	Release()
}

// Device creates every other object.
type Device interface {
	CreateCommandQueue() (Queue, error)
	CreateCommandAllocator() (CommandAllocator, error)
	CreateCommandList(alloc CommandAllocator) (CommandList, error)
	CreateFence(initial uint64) (Fence, error)

	// CreateComputeTexture allocates a read/write texture that kernels render
	// into. It starts in StateUnorderedAccess.
	CreateComputeTexture(desc TextureDescriptor) (Texture, error)

	// OpenSharedTexture imports memory exported by another API. The returned
	// texture starts in StateCommon.
	OpenSharedTexture(handle SharedHandle, desc TextureDescriptor) (Texture, error)

	// Dispatch runs k over every pixel of target. The work is ordered before
	// any command list executed afterwards.
	Dispatch(k *Kernel, target Texture, params KernelParams) error

	Release()
}
