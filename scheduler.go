// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpubridge

import (
	"fmt"
	"time"
)

// SchedulerState is the pacing state of a FrameScheduler.
type SchedulerState int

const (
	// SchedulerStopped means no frame was requested yet.
	SchedulerStopped SchedulerState = iota
	// SchedulerRunning means elapsed time accumulates and frames are produced.
	SchedulerRunning
	// SchedulerPaused means elapsed time is frozen.
	SchedulerPaused
)

func (s SchedulerState) String() string {
	switch s {
	case SchedulerStopped:
		return "Stopped"
	case SchedulerRunning:
		return "Running"
	case SchedulerPaused:
		return "Paused"
	default:
		return fmt.Sprintf("SchedulerState(%d)", int(s))
	}
}

// FramePacing is the subset of Config the scheduler reads on each tick.
type FramePacing struct {
	Paused   bool
	FixedFPS bool
	FPS      float64
}

// FrameScheduler decides whether a host tick produces a frame and at which
// elapsed time.
//
// The elapsed clock starts on the first unpaused tick, halts while paused
// and resumes where it stopped. With fixed fps, ticks closer than 1/FPS to
// the previous frame are skipped. A tick whose elapsed time equals the last
// completed frame's time is skipped too.
//
// FrameScheduler is not safe for concurrent use.
type FrameScheduler struct {
	state   SchedulerState
	elapsed stopwatch
	frame   stopwatch

	lastTime    time.Duration
	hasRendered bool

	// sampledAt is the elapsed time of the last fps sample.
	sampledAt  time.Duration
	frameCount int
	fps        int
}

// NewFrameScheduler returns a stopped scheduler reading clock.
// A nil clock uses SystemClock.
func NewFrameScheduler(clock Clock) *FrameScheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	return &FrameScheduler{
		elapsed: stopwatch{clock: clock},
		frame:   stopwatch{clock: clock},
	}
}

// Next evaluates one tick. It returns the elapsed time to render and true
// when a frame should be produced. Call Complete once the frame finished.
func (s *FrameScheduler) Next(p FramePacing) (time.Duration, bool) {
	if p.Paused {
		if s.state == SchedulerRunning {
			s.elapsed.Stop()
			s.state = SchedulerPaused
		}
		return 0, false
	}

	switch s.state {
	case SchedulerStopped:
		s.elapsed.Restart()
		s.frame.Restart()
		s.sampledAt = 0
		s.state = SchedulerRunning
	case SchedulerPaused:
		s.elapsed.Start()
		s.state = SchedulerRunning
	}

	if p.FixedFPS && p.FPS > 0 {
		if s.frame.Elapsed() < FrameBudget(p.FPS) {
			return 0, false
		}
		s.frame.Restart()
	}

	t := s.elapsed.Elapsed()
	if s.hasRendered && t == s.lastTime {
		return 0, false
	}
	return t, true
}

// Complete records that the frame for t finished. presented is false for
// frames the runner discarded; they are not counted as frames per second.
// Once a full second of elapsed time passed since the previous sample,
// Complete returns the number of frames presented in that window and true.
// Paused time does not count toward the window.
func (s *FrameScheduler) Complete(t time.Duration, presented bool) (int, bool) {
	s.lastTime = t
	s.hasRendered = true
	if presented {
		s.frameCount++
	}
	now := s.elapsed.Elapsed()
	if now-s.sampledAt < time.Second {
		return 0, false
	}
	s.fps = s.frameCount
	s.frameCount = 0
	s.sampledAt = now
	return s.fps, true
}

// State returns the current pacing state.
func (s *FrameScheduler) State() SchedulerState { return s.state }

// FPS returns the most recent frames-per-second sample.
func (s *FrameScheduler) FPS() int { return s.fps }

// Elapsed returns the accumulated elapsed time.
func (s *FrameScheduler) Elapsed() time.Duration { return s.elapsed.Elapsed() }

// FrameBudget returns the minimum interval between frames at fps.
func FrameBudget(fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}
