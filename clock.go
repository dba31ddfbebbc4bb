// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpubridge

import "time"

// Clock is the time source frame pacing reads.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the monotonic wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// stopwatch accumulates running time. It can be halted and resumed without
// losing what it accumulated.
type stopwatch struct {
	clock   Clock
	running bool
	started time.Time
	acc     time.Duration
}

// Start resumes a halted stopwatch.
func (s *stopwatch) Start() {
	if s.running {
		return
	}
	s.started = s.clock.Now()
	s.running = true
}

// Stop halts the stopwatch and keeps the accumulated time.
func (s *stopwatch) Stop() {
	if !s.running {
		return
	}
	s.acc += s.clock.Now().Sub(s.started)
	s.running = false
}

// Restart zeroes the stopwatch and starts it.
func (s *stopwatch) Restart() {
	s.acc = 0
	s.started = s.clock.Now()
	s.running = true
}

// Elapsed returns the accumulated running time.
func (s *stopwatch) Elapsed() time.Duration {
	if s.running {
		return s.acc + s.clock.Now().Sub(s.started)
	}
	return s.acc
}
