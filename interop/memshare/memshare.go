// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package memshare is a legacy presentation device whose textures live in
// OS shareable memory. Its handles can be opened by the soft gfx device.
package memshare

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpubridge/gfx"
	"github.com/gogpu/gpubridge/internal/shm"
	"github.com/gogpu/gpubridge/interop"
)

// Device implements interop.LegacyDevice.
type Device struct {
	released atomic.Bool
	live     atomic.Int64
	created  atomic.Int64
}

var _ interop.LegacyDevice = (*Device)(nil)

// New returns a ready device.
func New() *Device { return &Device{} }

// CreateSharedTexture implements interop.LegacyDevice.
func (d *Device) CreateSharedTexture(desc gfx.TextureDescriptor) (interop.LegacyTexture, error) {
	if d.released.Load() {
		return nil, fmt.Errorf("memshare: create %q: %w", desc.Label, gfx.ErrReleased)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	seg, err := shm.Create(desc.Label, desc.Width*desc.Height*gfx.BytesPerPixel(desc.Format))
	if err != nil {
		return nil, fmt.Errorf("memshare: create %q: %w", desc.Label, err)
	}
	d.live.Add(1)
	d.created.Add(1)
	return &Texture{dev: d, desc: desc, seg: seg}, nil
}

// LiveTextures returns how many textures are allocated and not released.
func (d *Device) LiveTextures() int { return int(d.live.Load()) }

// CreatedTextures returns how many textures were ever allocated.
func (d *Device) CreatedTextures() int { return int(d.created.Load()) }

// Release implements interop.LegacyDevice. Textures must be released first.
func (d *Device) Release() { d.released.Store(true) }

// Texture implements interop.LegacyTexture.
type Texture struct {
	dev  *Device
	desc gfx.TextureDescriptor

	mu  sync.Mutex
	seg *shm.Segment
}

var _ interop.LegacyTexture = (*Texture)(nil)

func (t *Texture) Width() int                     { return t.desc.Width }
func (t *Texture) Height() int                    { return t.desc.Height }
func (t *Texture) Format() gputypes.TextureFormat { return t.desc.Format }

// SharedHandle implements interop.LegacyTexture.
func (t *Texture) SharedHandle() (gfx.SharedHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seg == nil {
		return 0, fmt.Errorf("memshare: %q: %w", t.desc.Label, gfx.ErrReleased)
	}
	return gfx.SharedHandle(t.seg.Handle()), nil
}

// Image copies the texture into a new RGBA image, swizzling BGRA.
// It returns nil once the texture is released.
func (t *Texture) Image() *image.RGBA {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seg == nil {
		return nil
	}
	img := image.NewRGBA(image.Rect(0, 0, t.desc.Width, t.desc.Height))
	copy(img.Pix, t.seg.Bytes())
	if t.desc.Format == gputypes.TextureFormatBGRA8Unorm {
		for i := 0; i+3 < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+2] = img.Pix[i+2], img.Pix[i]
		}
	}
	return img
}

// Release implements interop.LegacyTexture. Views opened elsewhere keep the
// memory alive until they are released too.
func (t *Texture) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seg == nil {
		return
	}
	_ = t.seg.Close()
	t.seg = nil
	t.dev.live.Add(-1)
}
