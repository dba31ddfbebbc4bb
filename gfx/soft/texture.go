// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package soft

import (
	"image"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpubridge/gfx"
	"github.com/gogpu/gpubridge/internal/shm"
)

// Texture is CPU memory in tightly packed rows. Shared textures alias the
// exporter's memory segment.
type Texture struct {
	dev      *Device
	desc     gfx.TextureDescriptor
	pix      []byte
	seg      *shm.Segment
	state    atomic.Uint32
	released atomic.Bool
}

var _ gfx.Texture = (*Texture)(nil)

func newTexture(d *Device, desc gfx.TextureDescriptor, pix []byte, state gfx.ResourceState) *Texture {
	t := &Texture{dev: d, desc: desc, pix: pix}
	t.state.Store(uint32(state))
	return t
}

func (t *Texture) Width() int                     { return t.desc.Width }
func (t *Texture) Height() int                    { return t.desc.Height }
func (t *Texture) Format() gputypes.TextureFormat { return t.desc.Format }

// State returns the resource state as of the last executed barrier.
func (t *Texture) State() gfx.ResourceState { return gfx.ResourceState(t.state.Load()) }

// Shared reports whether the texture aliases imported memory.
func (t *Texture) Shared() bool { return t.seg != nil }

// stride returns the row pitch in bytes.
func (t *Texture) stride() int { return t.desc.Width * gfx.BytesPerPixel(t.desc.Format) }

// Image copies the current contents into an RGBA image. Call it only when
// no work touching the texture is in flight.
func (t *Texture) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, t.desc.Width, t.desc.Height))
	if t.released.Load() {
		return img
	}
	copy(img.Pix, t.pix)
	if t.desc.Format == gputypes.TextureFormatBGRA8Unorm {
		for i := 0; i+3 < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+2] = img.Pix[i+2], img.Pix[i]
		}
	}
	return img
}

// Release frees the texture. Shared textures unmap their view of the
// exporter's memory; the memory itself stays with the exporter.
func (t *Texture) Release() {
	if !t.released.CompareAndSwap(false, true) {
		return
	}
	if t.seg != nil {
		if err := t.seg.Close(); err != nil {
			slogger().Warn("soft: release shared texture", "label", t.desc.Label, "err", err)
		}
		t.seg = nil
	}
	t.pix = nil
	t.dev.untrack()
}
