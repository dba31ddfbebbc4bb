// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpubridge

import (
	"fmt"
	"image"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpubridge/gfx"
)

// ComputeFormat is the pixel format of every ComputeSurface.
const ComputeFormat = gputypes.TextureFormatRGBA8Unorm

// ComputeSurface is the GPU-resident read/write texture kernels render into.
// It is rebuilt on every resize and belongs to the presenter's device.
type ComputeSurface struct {
	dev gfx.Device
	tex gfx.Texture
	w   int
	h   int
}

// NewComputeSurface allocates a w x h surface on dev.
func NewComputeSurface(dev gfx.Device, w, h int) (*ComputeSurface, error) {
	tex, err := dev.CreateComputeTexture(gfx.TextureDescriptor{
		Label:  "compute_surface",
		Width:  w,
		Height: h,
		Format: ComputeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("gpubridge: create compute surface %dx%d: %w", w, h, err)
	}
	return &ComputeSurface{dev: dev, tex: tex, w: w, h: h}, nil
}

func (s *ComputeSurface) Width() int                     { return s.w }
func (s *ComputeSurface) Height() int                    { return s.h }
func (s *ComputeSurface) Format() gputypes.TextureFormat { return ComputeFormat }

// Bounds returns the surface rectangle anchored at the origin.
func (s *ComputeSurface) Bounds() image.Rectangle { return image.Rect(0, 0, s.w, s.h) }

// Texture returns the underlying texture, nil after Release.
func (s *ComputeSurface) Texture() gfx.Texture { return s.tex }

// Dispatch runs k over every pixel of the surface.
func (s *ComputeSurface) Dispatch(k *gfx.Kernel, params gfx.KernelParams) error {
	if s.tex == nil {
		return ErrSurfaceReleased
	}
	if err := s.dev.Dispatch(k, s.tex, params); err != nil {
		return fmt.Errorf("gpubridge: dispatch %s: %w", kernelName(k), err)
	}
	return nil
}

// Release frees the texture. Release is idempotent.
func (s *ComputeSurface) Release() {
	if s.tex != nil {
		s.tex.Release()
		s.tex = nil
	}
}

func kernelName(k *gfx.Kernel) string {
	if k == nil {
		return "<nil kernel>"
	}
	return k.Name
}
