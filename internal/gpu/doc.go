// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package gpu holds the GPU side of the bridge: the Backend that owns the
// explicit API queue, fence, allocator and command list, and SharedTarget,
// the paired legacy texture and imported view frames are copied into.
//
// Everything here runs on the tick thread and keeps a single frame in
// flight.
package gpu
