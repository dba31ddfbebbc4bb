// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package gpubridge presents frames produced by GPU compute kernels on a
// surface owned by a legacy presentation API.
//
// A Presenter owns one explicit-API device (package gfx) and one legacy
// device (package interop). On every host tick it:
//
//  1. gates the tick through a FrameScheduler (pause, fixed fps, duplicate
//     time),
//  2. applies a pending resize by rebuilding the shared target and the
//     ComputeSurface,
//  3. runs the configured ShaderRunner into the ComputeSurface,
//  4. copies the ComputeSurface into the shared target on the GPU and waits
//     on a fence for the copy to finish,
//  5. marks the presentation surface dirty under its lock.
//
// Only one frame is ever in flight: a tick returns after the GPU finished
// the copy it submitted.
//
// # Quick start
//
//	p := gpubridge.New(gpubridge.Config{
//	    Runner:          kernels.Plasma(),
//	    ResolutionScale: 1,
//	})
//	defer p.Close()
//	if err := p.Attach(surface, 800, 600); err != nil {
//	    log.Fatal(err)
//	}
//	for range ticker.C {
//	    if err := p.Tick(); err != nil {
//	        log.Print(err)
//	    }
//	}
//
// Without options the presenter runs on the CPU device from gfx/soft and the
// shared-memory legacy device from interop/memshare. Use WithDevice with a
// gfx/halgfx device to run kernels on a Vulkan GPU.
//
// # Logging
//
// gpubridge is silent by default. Call SetLogger to route diagnostics from the
// presenter, the backend and the soft device to a slog.Logger.
package gpubridge
