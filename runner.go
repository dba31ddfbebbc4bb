// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpubridge

import (
	"fmt"
	"time"
)

// ShaderRunner writes one frame into a ComputeSurface.
//
// TryExecute renders the frame for elapsed, the time since the scheduler
// started excluding pauses. param is Config.Parameter. Returning false
// discards the frame: nothing is copied or presented. An error abandons the
// tick and is reported as a *FrameError.
//
// Runners are invoked on every produced frame and must not keep mutable
// state across frames beyond what they were constructed with.
type ShaderRunner interface {
	TryExecute(s *ComputeSurface, elapsed time.Duration, param any) (bool, error)
}

// RunnerFunc adapts a function to ShaderRunner.
type RunnerFunc func(s *ComputeSurface, elapsed time.Duration, param any) (bool, error)

// TryExecute calls f.
func (f RunnerFunc) TryExecute(s *ComputeSurface, elapsed time.Duration, param any) (bool, error) {
	return f(s, elapsed, param)
}

// runShader calls r and converts a panic into an error wrapping ErrRunnerPanic.
func runShader(r ShaderRunner, s *ComputeSurface, elapsed time.Duration, param any) (ok bool, err error) {
	defer func() {
		if v := recover(); v != nil {
			ok = false
			err = fmt.Errorf("%w: %v", ErrRunnerPanic, v)
		}
	}()
	return r.TryExecute(s, elapsed, param)
}
