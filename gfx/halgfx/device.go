// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package halgfx implements gfx.Device on top of wgpu/hal.
//
// Compute surfaces are storage buffers of packed RGBA pixels with a row
// pitch aligned to 256 bytes, which is what buffer-to-texture copies
// require. Kernels are compiled from WGSL to SPIR-V with naga and cached
// per kernel.
//
// Shared textures are imported through SharedTextureImporter when the hal
// device implements it. Otherwise the shared handle is mapped as host
// memory and every copy into it is read back once the fence covering the
// copy completes.
package halgfx

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpubridge/gfx"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// fenceTimeout bounds one hal fence wait slice.
const fenceTimeout = 5 * time.Second

var (
	// ErrNoAdapter is returned by Open when no GPU adapter is available.
	ErrNoAdapter = errors.New("halgfx: no GPU adapter found")

	// ErrProvider is returned by NewFromProvider for providers that do not
	// expose hal types.
	ErrProvider = errors.New("halgfx: provider does not expose a hal device")
)

// SharedTextureImporter is implemented by hal devices that can open a
// texture exported by another API.
type SharedTextureImporter interface {
	ImportSharedTexture(handle uintptr, desc *hal.TextureDescriptor) (hal.Texture, error)
}

// Device is a gfx.Device backed by a hal device and queue.
type Device struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	external bool

	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipelines  map[*gfx.Kernel]*pipeline

	dispatchFence hal.Fence
	dispatchValue uint64

	inflight []*submission
	lost     error
	released bool

	live   atomic.Int64
	logger atomic.Pointer[slog.Logger]
}

var _ gfx.Device = (*Device)(nil)

// New wraps an existing hal device and queue. The caller keeps ownership:
// Release does not destroy them.
func New(device hal.Device, queue hal.Queue) (*Device, error) {
	if device == nil || queue == nil {
		return nil, errors.New("halgfx: nil device or queue")
	}
	d := newDevice(device, queue, true)
	if err := d.init(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewFromProvider wraps the hal device of a gpucontext provider, such as a
// gogpu application, so both render on the same GPU device. The provider
// must implement HalDevice() any and HalQueue() any.
func NewFromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrProvider)
	}
	return New(device, queue)
}

// Open creates a Vulkan instance and opens the first discrete or integrated
// GPU, falling back to the first adapter. The device owns the instance.
func Open() (*Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, errors.New("halgfx: vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("halgfx: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("halgfx: open device: %w", err)
	}

	d := newDevice(openDev.Device, openDev.Queue, false)
	d.instance = instance
	if err := d.init(); err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	d.slogger().Info("halgfx: device opened", "adapter", selected.Info.Name)
	return d, nil
}

func newDevice(device hal.Device, queue hal.Queue, external bool) *Device {
	d := &Device{
		device:    device,
		queue:     queue,
		external:  external,
		pipelines: make(map[*gfx.Kernel]*pipeline),
	}
	d.logger.Store(slog.New(nopHandler{}))
	return d
}

// init creates the layouts shared by every kernel and the dispatch fence.
// On failure everything created so far is destroyed.
func (d *Device) init() error {
	bindLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "kernel_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return fmt.Errorf("halgfx: create bind group layout: %w", err)
	}
	d.bindLayout = bindLayout

	pipeLayout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "kernel_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		d.destroyLayouts()
		return fmt.Errorf("halgfx: create pipeline layout: %w", err)
	}
	d.pipeLayout = pipeLayout

	fence, err := d.device.CreateFence()
	if err != nil {
		d.destroyLayouts()
		return fmt.Errorf("halgfx: create dispatch fence: %w", err)
	}
	d.dispatchFence = fence
	return nil
}

func (d *Device) destroyLayouts() {
	if d.pipeLayout != nil {
		d.device.DestroyPipelineLayout(d.pipeLayout)
		d.pipeLayout = nil
	}
	if d.bindLayout != nil {
		d.device.DestroyBindGroupLayout(d.bindLayout)
		d.bindLayout = nil
	}
}

// SetLogger sets the logger for this device. Nil restores silence.
func (d *Device) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	d.logger.Store(l)
}

func (d *Device) slogger() *slog.Logger { return d.logger.Load() }

// HalDevice returns the wrapped hal device.
func (d *Device) HalDevice() hal.Device { return d.device }

// LiveObjects returns the number of created objects not yet released.
func (d *Device) LiveObjects() int { return int(d.live.Load()) }

// Err returns the error that made the device lost, or nil.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lostErrLocked()
}

func (d *Device) lostErrLocked() error {
	if d.lost == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", gfx.ErrDeviceLost, d.lost)
}

// loseLocked marks the device lost. Only the first failure is kept.
func (d *Device) loseLocked(err error) error {
	if d.lost == nil {
		d.lost = err
		d.slogger().Warn("halgfx: device lost", "err", err)
	}
	return d.lostErrLocked()
}

// usableLocked returns an error when the device cannot accept work.
func (d *Device) usableLocked() error {
	if d.released {
		return gfx.ErrReleased
	}
	return d.lostErrLocked()
}

// Release waits for outstanding submissions, destroys pipelines and layouts,
// and destroys the hal device unless it is external.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return
	}
	d.released = true
	for _, s := range d.inflight {
		if err := d.waitLocked(s.fence.fence, s.value); err != nil {
			d.slogger().Warn("halgfx: wait on release", "err", err)
		}
		s.free(d.device)
	}
	d.inflight = nil

	for k, p := range d.pipelines {
		p.destroy(d.device)
		delete(d.pipelines, k)
	}
	if d.dispatchFence != nil {
		d.device.DestroyFence(d.dispatchFence)
		d.dispatchFence = nil
	}
	d.destroyLayouts()

	if !d.external {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
			d.instance = nil
		}
	}
	if n := d.live.Load(); n != 0 {
		d.slogger().Warn("halgfx: device released with live objects", "count", n)
	}
}
