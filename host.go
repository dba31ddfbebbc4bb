// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpubridge

import (
	"image"

	"github.com/gogpu/gpubridge/interop"
)

// PresentationSurface is the host-owned surface that displays the shared
// target. The presenter mutates it only between Lock and Unlock, and always
// unlocks, on every path.
type PresentationSurface interface {
	Lock()
	// SetBackBuffer replaces the displayed texture. It is called after every
	// rebuild; nil detaches the previous texture before it is released.
	SetBackBuffer(tex interop.LegacyTexture)
	// AddDirtyRect marks a region of the back buffer as changed.
	AddDirtyRect(r image.Rectangle)
	Unlock()
}
