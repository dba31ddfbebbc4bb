// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package shm provides shareable memory segments identified by an OS-level
// handle. A segment created by one device can be opened by another through
// its handle, and both views alias the same memory.
//
// On Linux a handle is a memfd file descriptor mapped with MAP_SHARED.
// Elsewhere segments live in a process-local registry keyed by handle.
package shm

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSize is returned when a segment size is not positive.
	ErrInvalidSize = errors.New("shm: invalid segment size")

	// ErrUnknownHandle is returned when a handle does not name a live segment.
	ErrUnknownHandle = errors.New("shm: unknown handle")

	// ErrSizeMismatch is returned when a segment is opened with a size larger
	// than the one it was created with.
	ErrSizeMismatch = errors.New("shm: size exceeds segment")

	// ErrClosed is returned when operating on a closed segment.
	ErrClosed = errors.New("shm: segment is closed")
)

// Segment is one mapped view of shareable memory.
// Segments are not safe for concurrent Close.
type Segment struct {
	name   string
	handle uintptr
	data   []byte
	closed bool
	unmap  func() error
}

// Name returns the debug label the segment was created or opened with.
func (s *Segment) Name() string { return s.name }

// Handle returns the OS-level handle identifying the underlying memory.
// The handle stays valid while at least one view is open.
func (s *Segment) Handle() uintptr { return s.handle }

// Bytes returns the mapped memory. The slice is invalid after Close.
func (s *Segment) Bytes() []byte { return s.data }

// Len returns the size of the view in bytes.
func (s *Segment) Len() int { return len(s.data) }

// Close unmaps the view and drops its reference to the memory.
// Closing an already closed segment returns ErrClosed.
func (s *Segment) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.data = nil
	if s.unmap != nil {
		if err := s.unmap(); err != nil {
			return fmt.Errorf("shm: close %q: %w", s.name, err)
		}
	}
	return nil
}

// Create allocates a new zero-filled segment of size bytes.
func Create(name string, size int) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	return create(name, size)
}

// Open maps a new view of the segment identified by handle.
// size may be smaller than the segment but never larger.
func Open(handle uintptr, size int) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	return open(handle, size)
}
