// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build linux

package shm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func create(name string, size int) (*Segment, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("shm: memfd_create %q: %w", name, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("shm: truncate %q to %d: %w", name, size, err)
	}
	seg, err := mapFd(name, fd, size)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return seg, nil
}

func open(handle uintptr, size int) (*Segment, error) {
	src := int(handle) //nolint:gosec // handles are file descriptors
	var st unix.Stat_t
	if err := unix.Fstat(src, &st); err != nil {
		return nil, fmt.Errorf("%w: fd %d: %v", ErrUnknownHandle, src, err)
	}
	if int64(size) > st.Size {
		return nil, fmt.Errorf("%w: want %d, have %d", ErrSizeMismatch, size, st.Size)
	}
	fd, err := unix.Dup(src)
	if err != nil {
		return nil, fmt.Errorf("shm: dup fd %d: %w", src, err)
	}
	seg, err := mapFd(fmt.Sprintf("fd:%d", src), fd, size)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return seg, nil
}

// mapFd maps fd read-write and shared. The segment owns fd afterwards.
func mapFd(name string, fd, size int) (*Segment, error) {
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %q: %w", name, err)
	}
	return &Segment{
		name:   name,
		handle: uintptr(fd), //nolint:gosec // fd is non-negative
		data:   data,
		unmap: func() error {
			merr := unix.Munmap(data)
			cerr := unix.Close(fd)
			if merr != nil {
				return merr
			}
			return cerr
		},
	}, nil
}
