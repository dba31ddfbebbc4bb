// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !linux

package shm

import (
	"fmt"
	"sync"
)

// region is memory shared by every view opened from the same handle.
type region struct {
	data []byte
	refs int
}

var registryMu sync.Mutex

var (
	registry   = map[uintptr]*region{}
	nextHandle = uintptr(1)
)

func create(name string, size int) (*Segment, error) {
	registryMu.Lock()
	h := nextHandle
	nextHandle++
	r := &region{data: make([]byte, size), refs: 1}
	registry[h] = r
	registryMu.Unlock()
	return newView(name, h, r.data), nil
}

func open(handle uintptr, size int) (*Segment, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	r, ok := registry[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, handle)
	}
	if size > len(r.data) {
		return nil, fmt.Errorf("%w: want %d, have %d", ErrSizeMismatch, size, len(r.data))
	}
	r.refs++
	return newView(fmt.Sprintf("handle:%d", handle), handle, r.data[:size]), nil
}

func newView(name string, h uintptr, data []byte) *Segment {
	return &Segment{
		name:   name,
		handle: h,
		data:   data,
		unmap: func() error {
			registryMu.Lock()
			defer registryMu.Unlock()
			if r, ok := registry[h]; ok {
				r.refs--
				if r.refs == 0 {
					delete(registry, h)
				}
			}
			return nil
		},
	}
}
