// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package halgfx

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpubridge/gfx"
	"github.com/gogpu/gpubridge/internal/shm"
)

// copyPitchAlignment is the row pitch alignment of buffer-texture copies.
const copyPitchAlignment = 256

// alignedPitch returns the row pitch in bytes for w pixels.
func alignedPitch(w int) int {
	return (w*4 + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
}

// Texture is a halgfx resource. Compute textures are storage buffers;
// shared textures are either an imported hal texture or a host-mapped
// segment with a staging buffer.
type Texture struct {
	dev   *Device
	desc  gfx.TextureDescriptor
	pitch int

	// state is the tracked resource state, guarded by dev.mu.
	state    gfx.ResourceState
	released bool

	// compute
	buf       hal.Buffer
	uniform   hal.Buffer
	bindGroup hal.BindGroup

	// shared, imported
	tex hal.Texture

	// shared, host mapped
	staging hal.Buffer
	seg     *shm.Segment
}

var _ gfx.Texture = (*Texture)(nil)

func (t *Texture) Width() int                     { return t.desc.Width }
func (t *Texture) Height() int                    { return t.desc.Height }
func (t *Texture) Format() gputypes.TextureFormat { return t.desc.Format }

// State returns the tracked resource state.
func (t *Texture) State() gfx.ResourceState {
	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	return t.state
}

// Imported reports whether the texture is a hal texture opened through
// SharedTextureImporter.
func (t *Texture) Imported() bool { return t.tex != nil }

func (t *Texture) isCompute() bool { return t.buf != nil }

func (t *Texture) byteSize() uint64 { return uint64(t.pitch) * uint64(t.desc.Height) } //nolint:gosec // sizes are positive

// Release destroys the hal objects. The caller must ensure no submission
// using the texture is outstanding.
func (t *Texture) Release() {
	d := t.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if t.released {
		return
	}
	t.released = true
	if t.bindGroup != nil {
		d.device.DestroyBindGroup(t.bindGroup)
	}
	for _, b := range []hal.Buffer{t.uniform, t.buf, t.staging} {
		if b != nil {
			d.device.DestroyBuffer(b)
		}
	}
	if t.tex != nil {
		d.device.DestroyTexture(t.tex)
	}
	if t.seg != nil {
		if err := t.seg.Close(); err != nil {
			d.slogger().Warn("halgfx: close shared segment", "label", t.desc.Label, "err", err)
		}
	}
	t.bindGroup, t.uniform, t.buf, t.staging, t.tex, t.seg = nil, nil, nil, nil, nil, nil
	d.live.Add(-1)
}

// CreateComputeTexture implements gfx.Device. The texture starts in
// StateUnorderedAccess.
func (d *Device) CreateComputeTexture(desc gfx.TextureDescriptor) (gfx.Texture, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usableLocked(); err != nil {
		return nil, err
	}

	t := &Texture{dev: d, desc: desc, pitch: alignedPitch(desc.Width), state: gfx.StateUnorderedAccess}
	fail := func(step string, err error) (gfx.Texture, error) {
		t.destroyPartial()
		return nil, fmt.Errorf("halgfx: %s for %q: %w", step, desc.Label, err)
	}

	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label, Size: t.byteSize(),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fail("create storage buffer", err)
	}
	t.buf = buf

	uniform, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label + "_params", Size: gfx.KernelParamsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fail("create uniform buffer", err)
	}
	t.uniform = uniform

	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: desc.Label + "_bind", Layout: d.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: uniform.NativeHandle(), Offset: 0, Size: gfx.KernelParamsSize}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: buf.NativeHandle(), Offset: 0, Size: t.byteSize()}},
		},
	})
	if err != nil {
		return fail("create bind group", err)
	}
	t.bindGroup = bg

	d.live.Add(1)
	return t, nil
}

// destroyPartial destroys what a failed creation built. Called with dev.mu
// held.
func (t *Texture) destroyPartial() {
	d := t.dev
	if t.bindGroup != nil {
		d.device.DestroyBindGroup(t.bindGroup)
	}
	for _, b := range []hal.Buffer{t.uniform, t.buf, t.staging} {
		if b != nil {
			d.device.DestroyBuffer(b)
		}
	}
	if t.seg != nil {
		_ = t.seg.Close()
	}
}

// OpenSharedTexture implements gfx.Device. The texture starts in
// StateCommon.
func (d *Device) OpenSharedTexture(handle gfx.SharedHandle, desc gfx.TextureDescriptor) (gfx.Texture, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usableLocked(); err != nil {
		return nil, err
	}
	t := &Texture{dev: d, desc: desc, pitch: alignedPitch(desc.Width), state: gfx.StateCommon}

	if imp, ok := d.device.(SharedTextureImporter); ok {
		tex, err := imp.ImportSharedTexture(uintptr(handle), &hal.TextureDescriptor{
			Label: desc.Label,
			Size: hal.Extent3D{
				Width:              uint32(desc.Width),  //nolint:gosec // validated positive
				Height:             uint32(desc.Height), //nolint:gosec // validated positive
				DepthOrArrayLayers: 1,
			},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        desc.Format,
			Usage:         gputypes.TextureUsageCopyDst | gputypes.TextureUsageTextureBinding,
		})
		if err != nil {
			return nil, fmt.Errorf("halgfx: import %q: %w", desc.Label, err)
		}
		t.tex = tex
		d.live.Add(1)
		return t, nil
	}

	seg, err := shm.Open(uintptr(handle), desc.Width*desc.Height*gfx.BytesPerPixel(desc.Format))
	if err != nil {
		if errors.Is(err, shm.ErrUnknownHandle) {
			return nil, fmt.Errorf("%w: %w", gfx.ErrSharedHandleUnsupported, err)
		}
		return nil, fmt.Errorf("halgfx: map %q: %w", desc.Label, err)
	}
	t.seg = seg
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label + "_staging", Size: t.byteSize(),
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		t.destroyPartial()
		return nil, fmt.Errorf("halgfx: create staging buffer for %q: %w", desc.Label, err)
	}
	t.staging = staging
	d.live.Add(1)
	return t, nil
}

// ownTexture checks that tex was created by d and is alive. Called with
// d.mu held.
func (d *Device) ownTexture(tex gfx.Texture) (*Texture, error) {
	t, ok := tex.(*Texture)
	if !ok || t == nil || t.dev != d {
		return nil, errors.New("halgfx: texture belongs to another device")
	}
	if t.released {
		return nil, fmt.Errorf("halgfx: texture %q: %w", t.desc.Label, gfx.ErrReleased)
	}
	return t, nil
}

// readBack copies the staging buffer into the shared segment, dropping the
// row padding. Called with dev.mu held after the copy completed.
func (t *Texture) readBack() error {
	if t.released || t.staging == nil || t.seg == nil {
		return nil
	}
	data := make([]byte, t.byteSize())
	if err := t.dev.queue.ReadBuffer(t.staging, 0, data); err != nil {
		return fmt.Errorf("halgfx: read back %q: %w", t.desc.Label, err)
	}
	row := t.desc.Width * 4
	dst := t.seg.Bytes()
	for y := 0; y < t.desc.Height; y++ {
		copy(dst[y*row:(y+1)*row], data[y*t.pitch:y*t.pitch+row])
	}
	return nil
}

// usageFor maps a resource state to the hal texture usage it corresponds to.
func usageFor(s gfx.ResourceState) gputypes.TextureUsage {
	switch s {
	case gfx.StateCopySource:
		return gputypes.TextureUsageCopySrc
	case gfx.StateCopyDest:
		return gputypes.TextureUsageCopyDst
	default:
		return gputypes.TextureUsageTextureBinding
	}
}
