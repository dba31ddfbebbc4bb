// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpubridge

import (
	"fmt"
	"sync"
)

// ResizeState is the state of resize orchestration.
type ResizeState int

const (
	// ResizeIdle means the GPU resources match the requested size.
	ResizeIdle ResizeState = iota
	// ResizePending means a rebuild runs at the start of the next tick.
	ResizePending
	// ResizeApplying means a rebuild is in progress on the tick thread.
	ResizeApplying
)

func (s ResizeState) String() string {
	switch s {
	case ResizeIdle:
		return "Idle"
	case ResizePending:
		return "Pending"
	case ResizeApplying:
		return "Applying"
	default:
		return fmt.Sprintf("ResizeState(%d)", int(s))
	}
}

// resizeTracker coalesces size requests. Only the latest host size is kept;
// a request arriving while a rebuild is applied schedules one more rebuild.
type resizeTracker struct {
	mu     sync.Mutex
	state  ResizeState
	width  int
	height int
	again  bool
}

// Request records a new host size and marks a rebuild pending.
func (r *resizeTracker) Request(w, h int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.width, r.height = w, h
	r.mark()
}

// Invalidate marks a rebuild pending at the current host size.
func (r *resizeTracker) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mark()
}

func (r *resizeTracker) mark() {
	if r.state == ResizeApplying {
		r.again = true
		return
	}
	r.state = ResizePending
}

// Begin moves a pending rebuild to Applying and returns the host size.
func (r *resizeTracker) Begin() (w, h int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != ResizePending {
		return 0, 0, false
	}
	r.state = ResizeApplying
	r.again = false
	return r.width, r.height, true
}

// End finishes a rebuild. Requests that arrived meanwhile leave it Pending.
func (r *resizeTracker) End() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.again {
		r.again = false
		r.state = ResizePending
		return
	}
	r.state = ResizeIdle
}

// Reset drops any pending request.
func (r *resizeTracker) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = ResizeIdle
	r.again = false
}

func (r *resizeTracker) State() ResizeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *resizeTracker) HostSize() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}
