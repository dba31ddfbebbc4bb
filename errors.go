// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpubridge

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned by Presenter.
var (
	// ErrClosed is returned by every method after Close.
	ErrClosed = errors.New("gpubridge: presenter is closed")

	// ErrNotAttached is returned by Tick before Attach or after Detach.
	ErrNotAttached = errors.New("gpubridge: presenter is not attached")

	// ErrAlreadyAttached is returned by Attach on an attached presenter.
	ErrAlreadyAttached = errors.New("gpubridge: presenter is already attached")

	// ErrNilSurface is returned when attaching a nil presentation surface.
	ErrNilSurface = errors.New("gpubridge: nil presentation surface")

	// ErrPresenterFailed is returned by every Tick after an unrecoverable
	// GPU failure. Detach and Attach again to recover.
	ErrPresenterFailed = errors.New("gpubridge: presenter failed")

	// ErrRunnerPanic wraps a panic raised by a ShaderRunner.
	ErrRunnerPanic = errors.New("gpubridge: shader runner panicked")

	// ErrSurfaceReleased is returned when dispatching into a released
	// ComputeSurface.
	ErrSurfaceReleased = errors.New("gpubridge: compute surface released")
)

// FrameError reports a ShaderRunner failure. The tick that produced it was
// abandoned and the previously presented frame stays visible.
type FrameError struct {
	// Elapsed is the frame time the runner was asked to render.
	Elapsed time.Duration
	Err     error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("gpubridge: frame at %v: %v", e.Elapsed, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }
