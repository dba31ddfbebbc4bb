// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package interop defines the legacy presentation API side of the bridge:
// a device that allocates render-target textures whose memory can be
// exported through an OS-level shared handle and opened by a gfx.Device.
package interop

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpubridge/gfx"
)

// LegacyDevice allocates shareable presentation textures.
type LegacyDevice interface {
	// CreateSharedTexture allocates a render target that can be exported.
	CreateSharedTexture(desc gfx.TextureDescriptor) (LegacyTexture, error)
	Release()
}

// LegacyTexture is a render target owned by the legacy API. It is also the
// back buffer a presentation surface displays.
type LegacyTexture interface {
	Width() int
	Height() int
	Format() gputypes.TextureFormat
	// SharedHandle exports the texture memory. The handle stays valid until
	// the texture is released.
	SharedHandle() (gfx.SharedHandle, error)
	Release()
}
