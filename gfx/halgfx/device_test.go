// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

package halgfx

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/gpubridge/gfx"
	"github.com/gogpu/gpubridge/internal/gpu"
	"github.com/gogpu/gpubridge/interop/memshare"
)

// createNoopDevice creates a noop hal device and queue for testing.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return openDev.Device, openDev.Queue
}

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	device, queue := createNoopDevice(t)
	d, err := New(device, queue)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(d.Release)
	return d
}

func desc(label string, w, h int) gfx.TextureDescriptor {
	return gfx.TextureDescriptor{Label: label, Width: w, Height: h, Format: gputypes.TextureFormatRGBA8Unorm}
}

func TestAlignedPitch(t *testing.T) {
	tests := []struct{ w, want int }{
		{1, 256}, {64, 256}, {65, 512}, {100, 512}, {1920, 7680},
	}
	for _, tt := range tests {
		if got := alignedPitch(tt.w); got != tt.want {
			t.Errorf("alignedPitch(%d) = %d, want %d", tt.w, got, tt.want)
		}
	}
}

func TestNewRejectsNil(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Error("New(nil, nil) should fail")
	}
}

// plainProvider exposes no hal types.
type plainProvider struct{}

func (plainProvider) Device() gpucontext.Device             { return nil }
func (plainProvider) Queue() gpucontext.Queue               { return nil }
func (plainProvider) Adapter() gpucontext.Adapter           { return nil }
func (plainProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }

// halProvider exposes a noop device the way gogpu does.
type halProvider struct {
	plainProvider
	device hal.Device
	queue  hal.Queue
}

func (p halProvider) HalDevice() any { return p.device }
func (p halProvider) HalQueue() any  { return p.queue }

func TestNewFromProvider(t *testing.T) {
	if _, err := NewFromProvider(plainProvider{}); !errors.Is(err, ErrProvider) {
		t.Errorf("NewFromProvider(plain) = %v, want ErrProvider", err)
	}
	if _, err := NewFromProvider(halProvider{}); !errors.Is(err, ErrProvider) {
		t.Errorf("NewFromProvider(nil hal) = %v, want ErrProvider", err)
	}

	device, queue := createNoopDevice(t)
	d, err := NewFromProvider(halProvider{device: device, queue: queue})
	if err != nil {
		t.Fatalf("NewFromProvider() error = %v", err)
	}
	defer d.Release()
	if d.HalDevice() != device {
		t.Error("HalDevice() is not the provider's device")
	}
}

func TestComputeTextureLifecycle(t *testing.T) {
	d := newTestDevice(t)
	tex, err := d.CreateComputeTexture(desc("compute", 100, 30))
	if err != nil {
		t.Fatalf("CreateComputeTexture() error = %v", err)
	}
	ht := tex.(*Texture)
	if ht.State() != gfx.StateUnorderedAccess {
		t.Errorf("State() = %v, want UnorderedAccess", ht.State())
	}
	if ht.pitch != 512 || ht.byteSize() != 512*30 {
		t.Errorf("pitch = %d size = %d, want 512 and %d", ht.pitch, ht.byteSize(), 512*30)
	}
	if d.LiveObjects() != 1 {
		t.Errorf("LiveObjects() = %d, want 1", d.LiveObjects())
	}
	tex.Release()
	tex.Release()
	if d.LiveObjects() != 0 {
		t.Errorf("LiveObjects() after release = %d, want 0", d.LiveObjects())
	}

	if _, err := d.CreateComputeTexture(desc("zero", 0, 4)); err == nil {
		t.Error("CreateComputeTexture(0x4) should fail")
	}
}

func TestOpenSharedTextureHostMapped(t *testing.T) {
	d := newTestDevice(t)
	legacy := memshare.New()
	ltex, err := legacy.CreateSharedTexture(desc("back", 8, 8))
	if err != nil {
		t.Fatal(err)
	}
	defer ltex.Release()
	h, err := ltex.SharedHandle()
	if err != nil {
		t.Fatal(err)
	}

	tex, err := d.OpenSharedTexture(h, desc("back", 8, 8))
	if err != nil {
		t.Fatalf("OpenSharedTexture() error = %v", err)
	}
	defer tex.Release()
	ht := tex.(*Texture)
	if ht.Imported() {
		t.Error("noop device should take the host-mapped path")
	}
	if ht.State() != gfx.StateCommon {
		t.Errorf("State() = %v, want Common", ht.State())
	}

	if _, err := d.OpenSharedTexture(gfx.SharedHandle(0xdead), desc("bogus", 8, 8)); !errors.Is(err, gfx.ErrSharedHandleUnsupported) {
		t.Errorf("OpenSharedTexture(unknown) = %v, want ErrSharedHandleUnsupported", err)
	}
}

func TestBadBarrierLosesDevice(t *testing.T) {
	d := newTestDevice(t)
	tex, err := d.CreateComputeTexture(desc("compute", 4, 4))
	if err != nil {
		t.Fatal(err)
	}
	defer tex.Release()

	q, _ := d.CreateCommandQueue()
	defer q.Release()
	alloc, _ := d.CreateCommandAllocator()
	defer alloc.Release()
	list, err := d.CreateCommandList(alloc)
	if err != nil {
		t.Fatal(err)
	}
	defer list.Release()

	list.ResourceBarrier(gfx.Barrier{Texture: tex, Before: gfx.StateCommon, After: gfx.StateCopySource})
	if err := list.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := q.ExecuteCommandLists(list); !errors.Is(err, gfx.ErrDeviceLost) || !errors.Is(err, gfx.ErrBadBarrier) {
		t.Fatalf("ExecuteCommandLists() = %v, want ErrDeviceLost wrapping ErrBadBarrier", err)
	}
	if !errors.Is(d.Err(), gfx.ErrDeviceLost) {
		t.Errorf("Err() = %v, want ErrDeviceLost", d.Err())
	}
	if _, err := d.CreateComputeTexture(desc("after", 4, 4)); !errors.Is(err, gfx.ErrDeviceLost) {
		t.Errorf("CreateComputeTexture() on lost device = %v, want ErrDeviceLost", err)
	}
}

func TestCommandListErrors(t *testing.T) {
	d := newTestDevice(t)
	a, _ := d.CreateComputeTexture(desc("a", 4, 4))
	b, _ := d.CreateComputeTexture(desc("b", 4, 4))
	defer a.Release()
	defer b.Release()
	alloc, _ := d.CreateCommandAllocator()
	defer alloc.Release()
	q, _ := d.CreateCommandQueue()
	defer q.Release()

	list, _ := d.CreateCommandList(alloc)
	defer list.Release()
	if err := q.ExecuteCommandLists(list); !errors.Is(err, gfx.ErrListOpen) {
		t.Errorf("ExecuteCommandLists(open) = %v, want ErrListOpen", err)
	}

	list.CopyResource(b, a)
	if err := list.Close(); !errors.Is(err, gfx.ErrCopyMismatch) {
		t.Errorf("Close() after compute-to-compute copy = %v, want ErrCopyMismatch", err)
	}
	if err := list.Close(); !errors.Is(err, gfx.ErrListClosed) {
		t.Errorf("second Close() = %v, want ErrListClosed", err)
	}
	if err := list.Reset(alloc); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if err := list.Close(); err != nil {
		t.Errorf("Close() after Reset = %v", err)
	}
	if d.Err() != nil {
		t.Errorf("recording errors must not lose the device: %v", d.Err())
	}
}

func TestFenceCompletedValue(t *testing.T) {
	d := newTestDevice(t)
	f, err := d.CreateFence(7)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Release()
	if f.CompletedValue() != 7 {
		t.Errorf("CompletedValue() = %d, want 7", f.CompletedValue())
	}
	if err := f.Wait(3); err != nil {
		t.Errorf("Wait(3) below completed = %v", err)
	}

	q, _ := d.CreateCommandQueue()
	defer q.Release()
	if err := q.Signal(f, 8); err != nil {
		t.Fatalf("Signal() error = %v", err)
	}
	if err := f.Wait(8); err != nil {
		t.Fatalf("Wait(8) error = %v", err)
	}
	if f.CompletedValue() != 8 {
		t.Errorf("CompletedValue() = %d, want 8", f.CompletedValue())
	}
	if len(d.inflight) != 0 {
		t.Errorf("inflight = %d after wait, want 0", len(d.inflight))
	}
}

func TestDispatchCompilesOncePerKernel(t *testing.T) {
	d := newTestDevice(t)
	tex, err := d.CreateComputeTexture(gfx.TextureDescriptor{
		Label: "bgra", Width: 16, Height: 16, Format: gputypes.TextureFormatBGRA8Unorm,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer tex.Release()

	k := &gfx.Kernel{Name: "clear", WGSL: swizzleKernel.WGSL}
	for i := 0; i < 2; i++ {
		if err := d.Dispatch(k, tex, gfx.KernelParams{}); err != nil {
			if strings.Contains(err.Error(), "not yet implemented") {
				t.Skipf("Skipping: naga feature not yet implemented: %v", err)
			}
			t.Fatalf("Dispatch() error = %v", err)
		}
	}
	// The kernel plus the BGRA swizzle pass.
	if len(d.pipelines) != 2 {
		t.Errorf("pipelines = %d, want 2", len(d.pipelines))
	}
	if d.dispatchValue != 2 {
		t.Errorf("dispatchValue = %d, want 2", d.dispatchValue)
	}

	if err := d.Dispatch(&gfx.Kernel{Name: "empty"}, tex, gfx.KernelParams{}); err == nil {
		t.Error("Dispatch() of a kernel without WGSL should fail")
	}
}

func TestBackendOverHAL(t *testing.T) {
	d := newTestDevice(t)
	b := gpu.NewBackend(d, true)
	if err := b.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer b.Close()

	target, err := gpu.BuildSharedTarget(memshare.New(), d, 32, 16)
	if err != nil {
		t.Fatalf("BuildSharedTarget() error = %v", err)
	}
	defer target.Release()
	src, err := d.CreateComputeTexture(gfx.TextureDescriptor{Label: "compute", Width: 32, Height: 16, Format: gpu.SharedFormat})
	if err != nil {
		t.Fatal(err)
	}
	defer src.Release()

	for i := 0; i < 3; i++ {
		if err := b.CopyAndSync(src, target.Resource()); err != nil {
			t.Fatalf("CopyAndSync() #%d error = %v", i, err)
		}
	}
	if b.NextFenceValue() != 4 || b.CompletedFenceValue() != 3 {
		t.Errorf("fence next = %d completed = %d, want 4 and 3", b.NextFenceValue(), b.CompletedFenceValue())
	}
	if s := src.(*Texture).State(); s != gfx.StateUnorderedAccess {
		t.Errorf("source state = %v, want UnorderedAccess", s)
	}
	if s := target.Resource().(*Texture).State(); s != gfx.StateCommon {
		t.Errorf("destination state = %v, want Common", s)
	}
	if err := b.Flush(); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
}
