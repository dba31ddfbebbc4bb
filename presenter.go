// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpubridge

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/gogpu/gpubridge/gfx"
	"github.com/gogpu/gpubridge/gfx/soft"
	"github.com/gogpu/gpubridge/internal/gpu"
	"github.com/gogpu/gpubridge/interop"
	"github.com/gogpu/gpubridge/interop/memshare"
)

type presenterState int

const (
	stateDetached presenterState = iota
	stateAttached
	stateFailed
	stateClosed
)

// Stats are cumulative counters of a Presenter.
type Stats struct {
	// Presented counts frames copied to the shared target and marked dirty.
	Presented uint64
	// Discarded counts frames the runner declined to present.
	Discarded uint64
	// Failed counts runner failures.
	Failed uint64
	// Skipped counts ticks that produced no frame.
	Skipped uint64
	// Rebuilds counts applied resizes.
	Rebuilds uint64
	// FPS is the most recent frames-per-second sample.
	FPS int
	// FenceValue is the value the next GPU submission signals.
	FenceValue uint64
	// Width and Height are the current compute surface size.
	Width, Height int
}

// Presenter drives frames from a ShaderRunner to a PresentationSurface.
//
// Tick, Attach, Detach and Close must be called from one goroutine, the host
// render thread. Configuration setters, SetHostSize and
// SetFrontBufferAvailable may be called from any goroutine and take effect at
// the next tick.
type Presenter struct {
	mu          sync.Mutex
	cfg         Config
	frontBuffer bool
	stats       Stats

	resize resizeTracker

	device    gfx.Device
	legacy    interop.LegacyDevice
	clock     Clock
	onFailure func(error)
	onFPS     func(int)

	state     presenterState
	failErr   error
	backend   *gpu.Backend
	surface   PresentationSurface
	target    *gpu.SharedTarget
	compute   *ComputeSurface
	scheduler *FrameScheduler
}

// New creates a detached presenter. Devices not supplied through options
// default to a soft.Device and a memshare.Device.
func New(cfg Config, opts ...Option) *Presenter {
	var o presenterOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.device == nil {
		o.device = soft.New()
	}
	if o.legacy == nil {
		o.legacy = memshare.New()
	}
	if o.clock == nil {
		o.clock = SystemClock{}
	}
	propagateLogger(o.device, Logger())

	return &Presenter{
		cfg:         cfg.Normalize(),
		frontBuffer: true,
		device:      o.device,
		legacy:      o.legacy,
		clock:       o.clock,
		onFailure:   o.onFailure,
		onFPS:       o.onFPS,
	}
}

// Attach binds the presenter to surface at a host size of w x h pixels and
// builds the backend and the first shared target. Failures are fatal for the
// attach and leave the presenter detached.
func (p *Presenter) Attach(surface PresentationSurface, w, h int) error {
	switch p.state {
	case stateClosed:
		return ErrClosed
	case stateAttached, stateFailed:
		return ErrAlreadyAttached
	}
	if surface == nil {
		return ErrNilSurface
	}

	backend := gpu.NewBackend(p.device, true)
	if err := backend.Init(); err != nil {
		return fmt.Errorf("gpubridge: attach: %w", err)
	}
	p.backend = backend
	p.surface = surface
	p.scheduler = NewFrameScheduler(p.clock)

	p.resize.Request(w, h)
	hw, hh, _ := p.resize.Begin()
	err := p.rebuild(hw, hh, p.Config().ResolutionScale)
	p.resize.End()
	if err != nil {
		p.teardown()
		return fmt.Errorf("gpubridge: attach: %w", err)
	}

	p.state = stateAttached
	Logger().Info("gpubridge: attached", "host_width", w, "host_height", h)
	return nil
}

// Detach releases every GPU resource except the devices. The presenter can
// be attached again afterwards.
func (p *Presenter) Detach() error {
	switch p.state {
	case stateClosed:
		return ErrClosed
	case stateDetached:
		return nil
	}
	p.teardown()
	p.state = stateDetached
	p.failErr = nil
	Logger().Info("gpubridge: detached")
	return nil
}

// Close detaches and releases both devices. Close is idempotent.
func (p *Presenter) Close() error {
	if p.state == stateClosed {
		return nil
	}
	p.teardown()
	p.device.Release()
	p.legacy.Release()
	p.state = stateClosed
	return nil
}

// teardown flushes outstanding GPU work and releases resources in reverse
// creation order: back buffer binding, compute surface, shared target,
// backend.
func (p *Presenter) teardown() {
	if p.backend != nil {
		if err := p.backend.Flush(); err != nil {
			Logger().Warn("gpubridge: flush before teardown", "err", err)
		}
	}
	p.releaseTargets()
	if p.backend != nil {
		p.backend.Close()
		p.backend = nil
	}
	p.surface = nil
	p.scheduler = nil
	p.resize.Reset()
}

func (p *Presenter) releaseTargets() {
	if p.surface != nil && p.target != nil {
		p.bindBackBuffer(nil)
	}
	if p.compute != nil {
		p.compute.Release()
		p.compute = nil
	}
	if p.target != nil {
		p.target.Release()
		p.target = nil
	}
	p.mu.Lock()
	p.stats.Width, p.stats.Height = 0, 0
	p.mu.Unlock()
}

// rebuild replaces the shared target and compute surface with ones sized
// for a host of hostW x hostH at scale. A zero effective size leaves the
// presenter without a target.
func (p *Presenter) rebuild(hostW, hostH int, scale float64) error {
	if err := p.backend.Flush(); err != nil {
		return err
	}
	p.releaseTargets()

	w, h := EffectiveSize(hostW, hostH, scale)
	if w == 0 || h == 0 {
		Logger().Info("gpubridge: surface empty", "host_width", hostW, "host_height", hostH, "scale", scale)
		return nil
	}

	target, err := gpu.BuildSharedTarget(p.legacy, p.device, w, h)
	if err != nil {
		return err
	}
	compute, err := NewComputeSurface(p.device, w, h)
	if err != nil {
		target.Release()
		return err
	}
	p.target = target
	p.compute = compute

	p.bindBackBuffer(target.Legacy())

	p.mu.Lock()
	p.stats.Rebuilds++
	p.stats.Width, p.stats.Height = w, h
	p.mu.Unlock()
	Logger().Info("gpubridge: resize applied", "width", w, "height", h, "scale", scale)
	return nil
}

// Tick renders at most one frame. It is the host's per-frame callback.
//
// A tick is a no-op while the front buffer is unavailable, while paused,
// under the fixed-fps budget, for a duplicate elapsed time, at zero surface
// size, or without a runner. Runner failures return a *FrameError and leave
// the presenter usable. GPU failures are fatal: the presenter enters a failed
// state and every later Tick returns ErrPresenterFailed until Detach.
func (p *Presenter) Tick() error {
	switch p.state {
	case stateClosed:
		return ErrClosed
	case stateDetached:
		return ErrNotAttached
	case stateFailed:
		return fmt.Errorf("%w: %w", ErrPresenterFailed, p.failErr)
	}

	p.mu.Lock()
	cfg, front := p.cfg, p.frontBuffer
	p.mu.Unlock()

	if !front {
		p.skip()
		return nil
	}
	elapsed, ok := p.scheduler.Next(FramePacing{Paused: cfg.Paused, FixedFPS: cfg.FixedFPS, FPS: cfg.FPS})
	if !ok {
		p.skip()
		return nil
	}

	if hw, hh, pending := p.resize.Begin(); pending {
		err := p.rebuild(hw, hh, cfg.ResolutionScale)
		p.resize.End()
		if err != nil {
			return p.fail(err)
		}
	}
	if p.compute == nil || cfg.Runner == nil {
		p.skip()
		return nil
	}

	presented, err := runShader(cfg.Runner, p.compute, elapsed, cfg.Parameter)
	if err != nil {
		fe := &FrameError{Elapsed: elapsed, Err: err}
		p.mu.Lock()
		p.stats.Failed++
		p.mu.Unlock()
		Logger().Warn("gpubridge: frame failed", "elapsed", elapsed, "err", err)
		p.report(fe)
		return fe
	}
	if !presented {
		p.scheduler.Complete(elapsed, false)
		p.mu.Lock()
		p.stats.Discarded++
		p.mu.Unlock()
		return nil
	}

	if err := p.backend.CopyAndSync(p.compute.Texture(), p.target.Resource()); err != nil {
		return p.fail(err)
	}
	p.present()

	fps, sampled := p.scheduler.Complete(elapsed, true)
	p.mu.Lock()
	p.stats.Presented++
	p.stats.FenceValue = p.backend.NextFenceValue()
	if sampled {
		p.stats.FPS = fps
	}
	showFPS := p.cfg.ShowFPS
	p.mu.Unlock()
	if sampled && showFPS && p.onFPS != nil {
		p.onFPS(fps)
	}
	return nil
}

func (p *Presenter) bindBackBuffer(tex interop.LegacyTexture) {
	p.surface.Lock()
	defer p.surface.Unlock()
	p.surface.SetBackBuffer(tex)
}

func (p *Presenter) present() {
	p.surface.Lock()
	defer p.surface.Unlock()
	p.surface.AddDirtyRect(image.Rect(0, 0, p.target.Width(), p.target.Height()))
}

func (p *Presenter) skip() {
	p.mu.Lock()
	p.stats.Skipped++
	p.mu.Unlock()
}

// fail moves the presenter to the failed state.
func (p *Presenter) fail(err error) error {
	p.state = stateFailed
	p.failErr = err
	Logger().Error("gpubridge: presenter failed", "err", err)
	wrapped := fmt.Errorf("%w: %w", ErrPresenterFailed, err)
	p.report(wrapped)
	return wrapped
}

func (p *Presenter) report(err error) {
	if p.onFailure != nil {
		p.onFailure(err)
	}
}

// SetHostSize records a new host size in pixels. The rebuild happens at the
// start of the next tick; only the latest size is applied.
func (p *Presenter) SetHostSize(w, h int) {
	p.resize.Request(w, h)
}

// HostSize returns the last requested host size.
func (p *Presenter) HostSize() (int, int) { return p.resize.HostSize() }

// ResizeState returns the resize orchestration state.
func (p *Presenter) ResizeState() ResizeState { return p.resize.State() }

// SetFrontBufferAvailable reports whether the host can currently display the
// back buffer. Ticks are no-ops while it is unavailable; regaining it
// schedules a rebuild.
func (p *Presenter) SetFrontBufferAvailable(available bool) {
	p.mu.Lock()
	was := p.frontBuffer
	p.frontBuffer = available
	p.mu.Unlock()
	if available && !was {
		p.resize.Invalidate()
	}
}

// Config returns a snapshot of the configuration.
func (p *Presenter) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// SetConfig replaces the configuration. A changed resolution scale schedules
// a rebuild.
func (p *Presenter) SetConfig(cfg Config) {
	cfg = cfg.Normalize()
	p.mu.Lock()
	scaleChanged := cfg.ResolutionScale != p.cfg.ResolutionScale
	p.cfg = cfg
	p.mu.Unlock()
	if scaleChanged {
		p.resize.Invalidate()
	}
}

func (p *Presenter) update(fn func(*Config)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.cfg)
	p.cfg = p.cfg.Normalize()
}

// SetRunner replaces the runner.
func (p *Presenter) SetRunner(r ShaderRunner) { p.update(func(c *Config) { c.Runner = r }) }

// SetParameter replaces the value passed to the runner.
func (p *Presenter) SetParameter(v any) { p.update(func(c *Config) { c.Parameter = v }) }

// SetPaused pauses or resumes elapsed-time accumulation.
func (p *Presenter) SetPaused(paused bool) { p.update(func(c *Config) { c.Paused = paused }) }

// SetFixedFPS enables or disables frame-rate throttling.
func (p *Presenter) SetFixedFPS(enabled bool) { p.update(func(c *Config) { c.FixedFPS = enabled }) }

// SetFPS sets the throttled frame rate.
func (p *Presenter) SetFPS(fps float64) { p.update(func(c *Config) { c.FPS = fps }) }

// SetShowFPS enables or disables the FPS handler.
func (p *Presenter) SetShowFPS(show bool) { p.update(func(c *Config) { c.ShowFPS = show }) }

// SetResolutionScale sets the compute surface scale, clamped to
// [MinResolutionScale, MaxResolutionScale]. A change schedules a rebuild.
func (p *Presenter) SetResolutionScale(scale float64) {
	scale = ClampResolutionScale(scale)
	p.mu.Lock()
	changed := scale != p.cfg.ResolutionScale
	p.cfg.ResolutionScale = scale
	p.mu.Unlock()
	if changed {
		p.resize.Invalidate()
	}
}

// Stats returns a snapshot of the counters.
func (p *Presenter) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Elapsed returns the scheduler's accumulated elapsed time.
func (p *Presenter) Elapsed() time.Duration {
	if p.scheduler == nil {
		return 0
	}
	return p.scheduler.Elapsed()
}

// SchedulerState returns the pacing state, SchedulerStopped when detached.
func (p *Presenter) SchedulerState() SchedulerState {
	if p.scheduler == nil {
		return SchedulerStopped
	}
	return p.scheduler.State()
}

// Err returns the error that moved the presenter to the failed state.
func (p *Presenter) Err() error {
	if p.state != stateFailed {
		return nil
	}
	return p.failErr
}

// IsAttached reports whether the presenter is attached and not failed.
func (p *Presenter) IsAttached() bool { return p.state == stateAttached }

// BackBuffer returns the legacy texture the surface currently displays,
// nil at zero size.
func (p *Presenter) BackBuffer() interop.LegacyTexture {
	if p.target == nil {
		return nil
	}
	return p.target.Legacy()
}
