// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpubridge

import (
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/gpubridge/gfx/soft"
	"github.com/gogpu/gpubridge/integration/headless"
	"github.com/gogpu/gpubridge/interop/memshare"
)

type rig struct {
	p       *Presenter
	dev     *soft.Device
	legacy  *memshare.Device
	surface *headless.Surface
	clock   *fakeClock
	runner  *recordingRunner
	errs    []error
}

func newRig(t *testing.T, w, h int, cfg Config) *rig {
	t.Helper()
	r := &rig{
		dev:     soft.New(soft.WithWorkers(2)),
		legacy:  memshare.New(),
		surface: headless.New(w, h),
		clock:   newFakeClock(),
		runner:  &recordingRunner{color: color.RGBA{R: 10, G: 200, B: 30, A: 255}, present: true},
	}
	if cfg.Runner == nil {
		cfg.Runner = r.runner
	}
	r.p = New(cfg,
		WithDevice(r.dev),
		WithLegacyDevice(r.legacy),
		WithClock(r.clock),
		WithFailureHandler(func(err error) { r.errs = append(r.errs, err) }),
	)
	if err := r.p.Attach(r.surface, w, h); err != nil {
		t.Fatalf("Attach() = %v", err)
	}
	t.Cleanup(func() { r.p.Close() })
	return r
}

// tick advances the clock by d and ticks once.
func (r *rig) tick(t *testing.T, d time.Duration) {
	t.Helper()
	r.clock.Advance(d)
	if err := r.p.Tick(); err != nil {
		t.Fatalf("Tick() = %v", err)
	}
}

func TestPresenterEndToEndSolidFrame(t *testing.T) {
	r := newRig(t, 100, 100, DefaultConfig())

	r.tick(t, 0)

	if got := r.surface.Presents(); got != 1 {
		t.Fatalf("Presents() = %d, want 1", got)
	}
	if got, want := r.surface.LastDirty(), image.Rect(0, 0, 100, 100); got != want {
		t.Errorf("LastDirty() = %v, want %v", got, want)
	}
	if v := r.surface.Violations(); len(v) != 0 {
		t.Errorf("Violations() = %v", v)
	}
	frame, err := r.surface.Frame()
	if err != nil {
		t.Fatalf("Frame() = %v", err)
	}
	want := color.RGBA{R: 10, G: 200, B: 30, A: 255}
	for _, pt := range []image.Point{{0, 0}, {99, 0}, {50, 50}, {0, 99}, {99, 99}} {
		if got := frame.RGBAAt(pt.X, pt.Y); got != want {
			t.Errorf("pixel %v = %v, want %v", pt, got, want)
		}
	}

	st := r.p.Stats()
	if st.Presented != 1 || st.Width != 100 || st.Height != 100 || st.FenceValue != 3 {
		t.Errorf("Stats() = %+v", st)
	}
	if r.dev.Err() != nil {
		t.Errorf("device lost: %v", r.dev.Err())
	}
}

func TestPresenterDuplicateTickSubmitsNothing(t *testing.T) {
	r := newRig(t, 32, 32, DefaultConfig())

	r.tick(t, time.Millisecond)
	submissions := r.dev.Submissions()

	// No time passed: the scheduler yields the same elapsed time.
	r.tick(t, 0)
	if got := r.dev.Submissions(); got != submissions {
		t.Errorf("Submissions() = %d after duplicate tick, want %d", got, submissions)
	}
	if got := len(r.runner.Calls()); got != 1 {
		t.Errorf("runner calls = %d, want 1", got)
	}
	if got := r.p.Stats().Skipped; got != 1 {
		t.Errorf("Skipped = %d, want 1", got)
	}
}

func TestPresenterElapsedPassedToRunner(t *testing.T) {
	r := newRig(t, 8, 8, DefaultConfig())
	r.p.SetParameter("p1")

	r.tick(t, 0)
	r.tick(t, 20*time.Millisecond)
	r.tick(t, 30*time.Millisecond)

	calls := r.runner.Calls()
	want := []time.Duration{0, 20 * time.Millisecond, 50 * time.Millisecond}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d elapsed = %v, want %v", i, calls[i], want[i])
		}
	}
	if r.runner.params[2] != "p1" {
		t.Errorf("param = %v, want p1", r.runner.params[2])
	}
}

func TestPresenterResizeKeepsOneLivePair(t *testing.T) {
	r := newRig(t, 64, 48, DefaultConfig())
	r.tick(t, 0)

	sizes := [][2]int{{80, 60}, {10, 10}, {200, 100}, {1, 1}, {64, 48}}
	for i, sz := range sizes {
		r.p.SetHostSize(sz[0], sz[1])
		if r.p.ResizeState() != ResizePending {
			t.Fatalf("ResizeState() = %v, want Pending", r.p.ResizeState())
		}
		r.tick(t, time.Millisecond)

		if got := r.legacy.LiveTextures(); got != 1 {
			t.Fatalf("resize %d: live legacy textures = %d, want 1", i, got)
		}
		st := r.p.Stats()
		if st.Width != sz[0] || st.Height != sz[1] {
			t.Errorf("resize %d: size %dx%d, want %dx%d", i, st.Width, st.Height, sz[0], sz[1])
		}
		if got := r.p.ResizeState(); got != ResizeIdle {
			t.Errorf("resize %d: ResizeState() = %v, want Idle", i, got)
		}
	}
	if got := r.p.Stats().Rebuilds; got != uint64(len(sizes)+1) {
		t.Errorf("Rebuilds = %d, want %d", got, len(sizes)+1)
	}
	if got := r.legacy.CreatedTextures(); got != len(sizes)+1 {
		t.Errorf("CreatedTextures() = %d, want %d", got, len(sizes)+1)
	}
}

func TestPresenterResizeCoalesces(t *testing.T) {
	r := newRig(t, 64, 48, DefaultConfig())
	r.p.SetHostSize(10, 10)
	r.p.SetHostSize(20, 20)
	r.p.SetHostSize(30, 40)
	r.tick(t, 0)

	if got := r.p.Stats().Rebuilds; got != 2 {
		t.Errorf("Rebuilds = %d, want 2", got)
	}
	if w, h := r.p.HostSize(); w != 30 || h != 40 {
		t.Errorf("HostSize() = %dx%d, want 30x40", w, h)
	}
	if got := r.runner.sizes[0]; got != [2]int{30, 40} {
		t.Errorf("runner surface size = %v, want [30 40]", got)
	}
}

func TestPresenterZeroSize(t *testing.T) {
	r := newRig(t, 0, 0, DefaultConfig())
	if r.p.BackBuffer() != nil {
		t.Error("BackBuffer() != nil at zero size")
	}
	r.tick(t, time.Millisecond)
	r.tick(t, time.Millisecond)
	if got := len(r.runner.Calls()); got != 0 {
		t.Errorf("runner calls = %d, want 0", got)
	}
	if got := r.legacy.LiveTextures(); got != 0 {
		t.Errorf("LiveTextures() = %d, want 0", got)
	}

	r.p.SetHostSize(16, 16)
	r.tick(t, time.Millisecond)
	if got := r.surface.Presents(); got != 1 {
		t.Errorf("Presents() = %d, want 1", got)
	}

	// A scale that floors the size to zero leaves no target.
	r.p.SetHostSize(5, 5)
	r.p.SetResolutionScale(0.1)
	r.tick(t, time.Millisecond)
	if r.p.BackBuffer() != nil || r.legacy.LiveTextures() != 0 {
		t.Error("target survived a zero effective size")
	}
}

func TestPresenterResolutionScaleTriggersRebuild(t *testing.T) {
	r := newRig(t, 200, 100, DefaultConfig())
	r.tick(t, 0)

	r.p.SetResolutionScale(0.5)
	if r.p.ResizeState() != ResizePending {
		t.Fatalf("ResizeState() = %v, want Pending", r.p.ResizeState())
	}
	r.tick(t, time.Millisecond)
	st := r.p.Stats()
	if st.Width != 100 || st.Height != 50 {
		t.Errorf("size = %dx%d, want 100x50", st.Width, st.Height)
	}
	if got := r.surface.LastDirty(); got != image.Rect(0, 0, 100, 50) {
		t.Errorf("LastDirty() = %v, want the scaled target", got)
	}

	// Unchanged scale does not rebuild.
	r.p.SetResolutionScale(0.5)
	if r.p.ResizeState() != ResizeIdle {
		t.Errorf("ResizeState() = %v, want Idle", r.p.ResizeState())
	}

	r.p.SetResolutionScale(7)
	if got := r.p.Config().ResolutionScale; got != MaxResolutionScale {
		t.Errorf("ResolutionScale = %v, want clamped %v", got, MaxResolutionScale)
	}
}

func TestPresenterRunnerFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		panicV any
		want   error
	}{
		{"error", errors.New("shader exploded"), nil, nil},
		{"panic", nil, "boom", ErrRunnerPanic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, 16, 16, DefaultConfig())
			r.runner.err = tt.err
			r.runner.panicV = tt.panicV

			r.clock.Advance(5 * time.Millisecond)
			err := r.p.Tick()
			var fe *FrameError
			if !errors.As(err, &fe) {
				t.Fatalf("Tick() = %v, want *FrameError", err)
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Errorf("Tick() = %v, want wrapping %v", err, tt.err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Tick() = %v, want wrapping %v", err, tt.want)
			}
			if len(r.errs) != 1 || r.errs[0] != err {
				t.Errorf("failure handler got %v", r.errs)
			}
			if r.surface.Presents() != 0 {
				t.Error("failed frame was presented")
			}
			if !r.p.IsAttached() {
				t.Error("presenter not attached after a frame failure")
			}

			// The presenter recovers once the runner does.
			r.runner.err, r.runner.panicV = nil, nil
			r.tick(t, time.Millisecond)
			if r.surface.Presents() != 1 {
				t.Errorf("Presents() = %d, want 1", r.surface.Presents())
			}
			if got := r.p.Stats().Failed; got != 1 {
				t.Errorf("Failed = %d, want 1", got)
			}
		})
	}
}

func TestPresenterDiscardedFrame(t *testing.T) {
	r := newRig(t, 16, 16, DefaultConfig())
	r.runner.present = false
	submissions := r.dev.Submissions()

	r.tick(t, time.Millisecond)
	if r.surface.Presents() != 0 {
		t.Error("discarded frame was presented")
	}
	if r.dev.Submissions() != submissions {
		t.Error("discarded frame was submitted")
	}
	if got := r.p.Stats().Discarded; got != 1 {
		t.Errorf("Discarded = %d, want 1", got)
	}
}

func TestPresenterNilRunnerIsNoop(t *testing.T) {
	r := newRig(t, 16, 16, DefaultConfig())
	r.p.SetRunner(nil)
	r.tick(t, time.Millisecond)
	if r.surface.Presents() != 0 || len(r.runner.Calls()) != 0 {
		t.Error("tick without runner rendered")
	}
}

func TestPresenterFrontBufferUnavailable(t *testing.T) {
	r := newRig(t, 16, 16, DefaultConfig())
	swaps := r.surface.BackBufferSwaps()

	r.p.SetFrontBufferAvailable(false)
	r.tick(t, time.Millisecond)
	r.tick(t, time.Millisecond)
	if len(r.runner.Calls()) != 0 {
		t.Error("runner ran while the front buffer was unavailable")
	}

	r.p.SetFrontBufferAvailable(true)
	if r.p.ResizeState() != ResizePending {
		t.Errorf("ResizeState() = %v, want Pending after front buffer returns", r.p.ResizeState())
	}
	r.tick(t, time.Millisecond)
	if r.surface.Presents() != 1 {
		t.Errorf("Presents() = %d, want 1", r.surface.Presents())
	}
	// Release binds nil, rebuild binds the new target.
	if got := r.surface.BackBufferSwaps(); got != swaps+2 {
		t.Errorf("BackBufferSwaps() = %d, want %d", got, swaps+2)
	}
}

func TestPresenterPauseFreezesRunnerTime(t *testing.T) {
	r := newRig(t, 8, 8, DefaultConfig())
	r.tick(t, 0)
	r.tick(t, 100*time.Millisecond)

	r.p.SetPaused(true)
	for i := 0; i < 10; i++ {
		r.tick(t, 500*time.Millisecond)
	}
	if r.p.SchedulerState() != SchedulerPaused {
		t.Errorf("SchedulerState() = %v, want Paused", r.p.SchedulerState())
	}
	r.p.SetPaused(false)
	r.tick(t, 0)
	r.tick(t, 10*time.Millisecond)

	calls := r.runner.Calls()
	if len(calls) != 3 {
		t.Fatalf("calls = %v, want 3", calls)
	}
	if calls[2] != 110*time.Millisecond {
		t.Errorf("elapsed after resume = %v, want 110ms", calls[2])
	}
}

func TestPresenterFixedFPS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FixedFPS = true
	cfg.FPS = 30
	r := newRig(t, 8, 8, cfg)

	for i := 0; i < 1000; i++ {
		r.tick(t, time.Millisecond)
	}
	if got := r.surface.Presents(); got > 30 || got < 25 {
		t.Errorf("Presents() = %d in one second at 30 fps", got)
	}
}

func TestPresenterFPSHandler(t *testing.T) {
	var samples []int
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.ShowFPS = true
	p := New(cfg, WithClock(clock),
		WithFPSHandler(func(fps int) { samples = append(samples, fps) }))
	defer p.Close()
	runner := &recordingRunner{present: true}
	p.SetRunner(runner)
	if err := p.Attach(headless.New(4, 4), 4, 4); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 1100; i++ {
		clock.Advance(10 * time.Millisecond)
		if err := p.Tick(); err != nil {
			t.Fatal(err)
		}
	}
	if len(samples) == 0 {
		t.Fatal("FPS handler never called")
	}
	for _, fps := range samples {
		if fps < 95 || fps > 105 {
			t.Errorf("fps sample = %d, want about 100", fps)
		}
	}
	if p.Stats().FPS != samples[len(samples)-1] {
		t.Errorf("Stats().FPS = %d, want %d", p.Stats().FPS, samples[len(samples)-1])
	}
}

func TestPresenterLifecycle(t *testing.T) {
	dev := soft.New()
	legacy := memshare.New()
	p := New(DefaultConfig(), WithDevice(dev), WithLegacyDevice(legacy))

	if err := p.Tick(); !errors.Is(err, ErrNotAttached) {
		t.Errorf("Tick() before Attach = %v, want ErrNotAttached", err)
	}
	if err := p.Attach(nil, 1, 1); !errors.Is(err, ErrNilSurface) {
		t.Errorf("Attach(nil) = %v, want ErrNilSurface", err)
	}
	surface := headless.New(10, 10)
	if err := p.Attach(surface, 10, 10); err != nil {
		t.Fatal(err)
	}
	if err := p.Attach(surface, 10, 10); !errors.Is(err, ErrAlreadyAttached) {
		t.Errorf("second Attach() = %v, want ErrAlreadyAttached", err)
	}
	if !p.IsAttached() || p.BackBuffer() == nil {
		t.Error("presenter not attached with a back buffer")
	}

	if err := p.Detach(); err != nil {
		t.Fatal(err)
	}
	if surface.BackBuffer() != nil {
		t.Error("surface still holds a back buffer after Detach")
	}
	if got := legacy.LiveTextures(); got != 0 {
		t.Errorf("LiveTextures() after Detach = %d, want 0", got)
	}
	if got := dev.LiveObjects(); got != 0 {
		t.Errorf("LiveObjects() after Detach = %d, want 0", got)
	}
	if err := p.Detach(); err != nil {
		t.Errorf("second Detach() = %v", err)
	}

	if err := p.Attach(surface, 12, 12); err != nil {
		t.Fatalf("re-Attach() = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if err := p.Tick(); !errors.Is(err, ErrClosed) {
		t.Errorf("Tick() after Close = %v, want ErrClosed", err)
	}
	if err := p.Attach(surface, 1, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Attach() after Close = %v, want ErrClosed", err)
	}
	if v := surface.Violations(); len(v) != 0 {
		t.Errorf("Violations() = %v", v)
	}
}

func TestPresenterGPUFailureIsFatal(t *testing.T) {
	r := newRig(t, 8, 8, DefaultConfig())
	r.tick(t, 0)

	// Releasing the imported view makes the next copy lose the device.
	r.p.target.Resource().Release()
	r.clock.Advance(time.Millisecond)
	err := r.p.Tick()
	if !errors.Is(err, ErrPresenterFailed) {
		t.Fatalf("Tick() = %v, want ErrPresenterFailed", err)
	}
	if r.p.IsAttached() || r.p.Err() == nil {
		t.Error("presenter not in failed state")
	}
	if err := r.p.Tick(); !errors.Is(err, ErrPresenterFailed) {
		t.Errorf("Tick() in failed state = %v, want ErrPresenterFailed", err)
	}
	if len(r.errs) == 0 || !strings.Contains(r.errs[0].Error(), "failed") {
		t.Errorf("failure handler got %v", r.errs)
	}
	if err := r.p.Detach(); err != nil {
		t.Errorf("Detach() = %v", err)
	}
	if r.p.Err() != nil {
		t.Error("Err() not cleared by Detach")
	}
}
