// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gfx

import (
	"encoding/binary"
	"image/color"
	"math"
)

// KernelWorkgroupSize is the edge length of the square workgroup every
// kernel's WGSL entry point declares.
const KernelWorkgroupSize = 8

// KernelParamsSize is the size of the kernel uniform block in bytes.
const KernelParamsSize = 32

// Kernel is a compute program that produces one RGBA color per pixel.
//
// WGSL must declare the uniform block described by KernelParams at
// @group(0) @binding(0), a read_write storage array<u32> of packed RGBA
// pixels at @binding(1), and a "main" entry point with an 8x8 workgroup.
// Shade is the CPU form of the same program, used by devices without
// shader compilation.
type Kernel struct {
	Name  string
	WGSL  string
	Shade func(x, y int, p KernelParams) color.RGBA
}

// KernelParams is the per-dispatch uniform block.
// Devices fill Width, Height and Stride from the dispatch target.
type KernelParams struct {
	Width  uint32
	Height uint32
	// Stride is the row pitch of the pixel array in pixels.
	Stride uint32
	// Time is the elapsed frame time in seconds.
	Time  float32
	Param [4]float32
}

// Bytes encodes p with the std140 layout the WGSL uniform expects.
func (p KernelParams) Bytes() []byte {
	b := make([]byte, KernelParamsSize)
	binary.LittleEndian.PutUint32(b[0:], p.Width)
	binary.LittleEndian.PutUint32(b[4:], p.Height)
	binary.LittleEndian.PutUint32(b[8:], p.Stride)
	binary.LittleEndian.PutUint32(b[12:], math.Float32bits(p.Time))
	for i, v := range p.Param {
		binary.LittleEndian.PutUint32(b[16+4*i:], math.Float32bits(v))
	}
	return b
}

// PackRGBA packs c the way kernels store pixels: R in the low byte.
func PackRGBA(c color.RGBA) uint32 {
	return uint32(c.R) | uint32(c.G)<<8 | uint32(c.B)<<16 | uint32(c.A)<<24
}

// UnpackRGBA is the inverse of PackRGBA.
func UnpackRGBA(v uint32) color.RGBA {
	return color.RGBA{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16), A: uint8(v >> 24)}
}

// DispatchGroups returns the workgroup counts covering a w x h target.
func DispatchGroups(w, h int) (x, y uint32) {
	g := KernelWorkgroupSize
	return uint32((w + g - 1) / g), uint32((h + g - 1) / g) //nolint:gosec // sizes are positive
}
