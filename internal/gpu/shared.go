// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpubridge/gfx"
	"github.com/gogpu/gpubridge/interop"
)

// SharedFormat is the pixel format of every shared target.
const SharedFormat = gputypes.TextureFormatRGBA8Unorm

var (
	// ErrSharedHandle wraps failures exporting or importing the shared handle.
	ErrSharedHandle = errors.New("gpu: shared handle")

	// ErrFormatMismatch is returned when the two sides of a shared target
	// disagree on size or format.
	ErrFormatMismatch = errors.New("gpu: shared target size or format mismatch")

	// ErrInvalidSize is returned for non-positive target sizes.
	ErrInvalidSize = errors.New("gpu: invalid shared target size")
)

// SharedTarget pairs a legacy render target with the explicit-API view of
// the same memory. Both sides are created together and released together.
type SharedTarget struct {
	legacy   interop.LegacyTexture
	resource gfx.Texture
	width    int
	height   int
}

// BuildSharedTarget allocates a shareable legacy texture of w x h, exports its
// handle and opens it on dev. If any step fails, whatever was created is
// released before returning.
func BuildSharedTarget(legacy interop.LegacyDevice, dev gfx.Device, w, h int) (*SharedTarget, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, w, h)
	}
	desc := gfx.TextureDescriptor{Label: "shared_target", Width: w, Height: h, Format: SharedFormat}

	ltex, err := legacy.CreateSharedTexture(desc)
	if err != nil {
		return nil, fmt.Errorf("gpu: create legacy texture %dx%d: %w", w, h, err)
	}
	handle, err := ltex.SharedHandle()
	if err != nil {
		ltex.Release()
		return nil, fmt.Errorf("%w: export: %w", ErrSharedHandle, err)
	}
	res, err := dev.OpenSharedTexture(handle, desc)
	if err != nil {
		ltex.Release()
		return nil, fmt.Errorf("%w: import: %w", ErrSharedHandle, err)
	}
	if res.Width() != w || res.Height() != h || res.Format() != ltex.Format() ||
		ltex.Width() != w || ltex.Height() != h {
		res.Release()
		ltex.Release()
		return nil, fmt.Errorf("%w: legacy %dx%d %v, imported %dx%d %v", ErrFormatMismatch,
			ltex.Width(), ltex.Height(), ltex.Format(), res.Width(), res.Height(), res.Format())
	}

	slogger().Debug("gpu: shared target built", "width", w, "height", h, "handle", uintptr(handle))
	return &SharedTarget{legacy: ltex, resource: res, width: w, height: h}, nil
}

// Legacy returns the legacy-side texture, the surface back buffer.
func (t *SharedTarget) Legacy() interop.LegacyTexture { return t.legacy }

// Resource returns the explicit-side view used as copy destination.
func (t *SharedTarget) Resource() gfx.Texture { return t.resource }

func (t *SharedTarget) Width() int  { return t.width }
func (t *SharedTarget) Height() int { return t.height }

// Release frees the imported view first, then the legacy texture.
// Release is idempotent.
func (t *SharedTarget) Release() {
	if t == nil {
		return
	}
	if t.resource != nil {
		t.resource.Release()
		t.resource = nil
	}
	if t.legacy != nil {
		t.legacy.Release()
		t.legacy = nil
	}
}
