// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package headless is a presentation surface without a window. It enforces
// the lock discipline of gpubridge.PresentationSurface, records dirty
// regions and presents, and renders the back buffer to images scaled to the
// host size.
//
// It is used by tests, by cmd/bridgedemo, and as a reference for hosts
// wrapping a real legacy presentation surface.
package headless

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"sync"

	"golang.org/x/image/draw"

	"github.com/gogpu/gpubridge/interop"
)

// ErrNoBackBuffer is returned when snapshotting a surface without a back
// buffer or with one that cannot be read back.
var ErrNoBackBuffer = errors.New("headless: no readable back buffer")

// Option configures a Surface.
type Option func(*Surface)

// WithScaler sets the interpolator used by Snapshot.
// The default is draw.ApproxBiLinear.
func WithScaler(s draw.Scaler) Option {
	return func(h *Surface) { h.scaler = s }
}

// Surface is a windowless presentation surface.
type Surface struct {
	present sync.Mutex

	mu         sync.Mutex
	locked     bool
	width      int
	height     int
	back       interop.LegacyTexture
	dirty      image.Rectangle
	lastDirty  image.Rectangle
	presents   int
	backSwaps  int
	violations []string
	scaler     draw.Scaler
}

// New creates a surface for a host of w x h pixels.
func New(w, h int, opts ...Option) *Surface {
	s := &Surface{width: w, height: h, scaler: draw.ApproxBiLinear}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lock acquires the presentation lock.
func (s *Surface) Lock() {
	s.present.Lock()
	s.mu.Lock()
	s.locked = true
	s.mu.Unlock()
}

// Unlock releases the presentation lock. Dirty regions added while locked
// become one present.
func (s *Surface) Unlock() {
	s.mu.Lock()
	if !s.locked {
		s.violations = append(s.violations, "Unlock without Lock")
		s.mu.Unlock()
		return
	}
	s.locked = false
	if !s.dirty.Empty() {
		s.presents++
		s.lastDirty = s.dirty
		s.dirty = image.Rectangle{}
	}
	s.mu.Unlock()
	s.present.Unlock()
}

// SetBackBuffer implements gpubridge.PresentationSurface.
func (s *Surface) SetBackBuffer(tex interop.LegacyTexture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locked {
		s.violations = append(s.violations, "SetBackBuffer outside Lock")
	}
	s.back = tex
	s.dirty = image.Rectangle{}
	s.backSwaps++
}

// AddDirtyRect implements gpubridge.PresentationSurface. The rectangle is
// clipped to the back buffer.
func (s *Surface) AddDirtyRect(r image.Rectangle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locked {
		s.violations = append(s.violations, "AddDirtyRect outside Lock")
	}
	if s.back == nil {
		s.violations = append(s.violations, "AddDirtyRect without back buffer")
		return
	}
	r = r.Intersect(image.Rect(0, 0, s.back.Width(), s.back.Height()))
	s.dirty = s.dirty.Union(r)
}

// SetSize records a new host size. The caller forwards it to the presenter.
func (s *Surface) SetSize(w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width, s.height = w, h
}

// Size returns the host size.
func (s *Surface) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// BackBuffer returns the current back buffer.
func (s *Surface) BackBuffer() interop.LegacyTexture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.back
}

// Presents returns how many unlocks carried dirty regions.
func (s *Surface) Presents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presents
}

// BackBufferSwaps returns how many times SetBackBuffer was called.
func (s *Surface) BackBufferSwaps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backSwaps
}

// LastDirty returns the dirty region of the most recent present.
func (s *Surface) LastDirty() image.Rectangle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDirty
}

// Violations returns lock discipline violations in the order they happened.
func (s *Surface) Violations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.violations...)
}

// Frame reads the back buffer at its own size. The back buffer must
// support read back, as memshare textures do.
func (s *Surface) Frame() (*image.RGBA, error) {
	s.present.Lock()
	defer s.present.Unlock()
	s.mu.Lock()
	back := s.back
	s.mu.Unlock()

	reader, ok := back.(interface{ Image() *image.RGBA })
	if back == nil || !ok {
		return nil, ErrNoBackBuffer
	}
	img := reader.Image()
	if img == nil {
		return nil, ErrNoBackBuffer
	}
	return img, nil
}

// Snapshot returns the back buffer scaled to the host size, the way a
// compositor stretches a reduced-resolution surface.
func (s *Surface) Snapshot() (*image.RGBA, error) {
	src, err := s.Frame()
	if err != nil {
		return nil, err
	}
	w, h := s.Size()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("headless: invalid host size %dx%d", w, h)
	}
	if src.Bounds().Dx() == w && src.Bounds().Dy() == h {
		return src, nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	s.scaler.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

// WritePNG encodes Snapshot as PNG.
func (s *Surface) WritePNG(w io.Writer) error {
	img, err := s.Snapshot()
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}
