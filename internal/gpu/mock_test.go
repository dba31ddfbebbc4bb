// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpubridge/gfx"
	"github.com/gogpu/gpubridge/interop"
)

var errInjected = errors.New("injected failure")

// callLog records object lifecycle events in order.
type callLog struct {
	events []string
	fail   map[string]bool
}

func (l *callLog) add(format string, args ...any) {
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *callLog) failing(step string) bool { return l.fail[step] }

type mockDevice struct {
	log *callLog
	// lagging makes the fence lag one signal behind until waited on.
	lagging bool
}

func newMockDevice(fail ...string) *mockDevice {
	l := &callLog{fail: map[string]bool{}}
	for _, f := range fail {
		l.fail[f] = true
	}
	return &mockDevice{log: l}
}

func (d *mockDevice) CreateCommandQueue() (gfx.Queue, error) {
	if d.log.failing("queue") {
		return nil, errInjected
	}
	d.log.add("create queue")
	return &mockQueue{log: d.log}, nil
}

func (d *mockDevice) CreateCommandAllocator() (gfx.CommandAllocator, error) {
	if d.log.failing("allocator") {
		return nil, errInjected
	}
	d.log.add("create allocator")
	return &mockAllocator{log: d.log}, nil
}

func (d *mockDevice) CreateCommandList(gfx.CommandAllocator) (gfx.CommandList, error) {
	if d.log.failing("list") {
		return nil, errInjected
	}
	d.log.add("create list")
	return &mockList{log: d.log}, nil
}

func (d *mockDevice) CreateFence(initial uint64) (gfx.Fence, error) {
	if d.log.failing("fence") {
		return nil, errInjected
	}
	d.log.add("create fence %d", initial)
	return &mockFence{log: d.log, completed: initial, lagging: d.lagging}, nil
}

func (d *mockDevice) CreateComputeTexture(desc gfx.TextureDescriptor) (gfx.Texture, error) {
	return &mockTexture{log: d.log, desc: desc}, nil
}

func (d *mockDevice) OpenSharedTexture(_ gfx.SharedHandle, desc gfx.TextureDescriptor) (gfx.Texture, error) {
	if d.log.failing("import") {
		return nil, errInjected
	}
	d.log.add("import %dx%d", desc.Width, desc.Height)
	if d.log.failing("import-wrong-size") {
		desc.Width++
	}
	return &mockTexture{log: d.log, desc: desc, label: "imported"}, nil
}

func (d *mockDevice) Dispatch(*gfx.Kernel, gfx.Texture, gfx.KernelParams) error { return nil }

func (d *mockDevice) Release() { d.log.add("release device") }

type mockQueue struct{ log *callLog }

func (q *mockQueue) ExecuteCommandLists(lists ...gfx.CommandList) error {
	if q.log.failing("execute") {
		return errInjected
	}
	q.log.add("execute %d", len(lists))
	return nil
}

func (q *mockQueue) Signal(f gfx.Fence, v uint64) error {
	q.log.add("signal %d", v)
	f.(*mockFence).signaled = v
	if !f.(*mockFence).lagging {
		f.(*mockFence).completed = v
	}
	return nil
}

func (q *mockQueue) Release() { q.log.add("release queue") }

type mockAllocator struct{ log *callLog }

func (a *mockAllocator) Reset() error { a.log.add("reset allocator"); return nil }
func (a *mockAllocator) Release()     { a.log.add("release allocator") }

type mockList struct {
	log *callLog
}

func (l *mockList) Reset(gfx.CommandAllocator) error { l.log.add("reset list"); return nil }

func (l *mockList) ResourceBarrier(barriers ...gfx.Barrier) {
	for _, b := range barriers {
		l.log.add("barrier %s %v->%v", b.Texture.(*mockTexture).name(), b.Before, b.After)
	}
}

func (l *mockList) CopyResource(dst, src gfx.Texture) {
	l.log.add("copy %s->%s", src.(*mockTexture).name(), dst.(*mockTexture).name())
}

func (l *mockList) Close() error {
	if l.log.failing("close") {
		return errInjected
	}
	l.log.add("close list")
	return nil
}

func (l *mockList) Release() { l.log.add("release list") }

type mockFence struct {
	log       *callLog
	completed uint64
	signaled  uint64
	lagging   bool
}

func (f *mockFence) CompletedValue() uint64 { return f.completed }

func (f *mockFence) Wait(v uint64) error {
	f.log.add("wait %d", v)
	if v > f.signaled {
		return fmt.Errorf("wait on unsignaled value %d (signaled %d)", v, f.signaled)
	}
	f.completed = v
	return nil
}

func (f *mockFence) Release() { f.log.add("release fence") }

type mockTexture struct {
	log   *callLog
	desc  gfx.TextureDescriptor
	label string
}

func (t *mockTexture) name() string {
	if t.label != "" {
		return t.label
	}
	return t.desc.Label
}

func (t *mockTexture) Width() int                     { return t.desc.Width }
func (t *mockTexture) Height() int                    { return t.desc.Height }
func (t *mockTexture) Format() gputypes.TextureFormat { return t.desc.Format }
func (t *mockTexture) Release()                       { t.log.add("release %s", t.name()) }

type mockLegacyDevice struct{ log *callLog }

func (d *mockLegacyDevice) CreateSharedTexture(desc gfx.TextureDescriptor) (interop.LegacyTexture, error) {
	if d.log.failing("legacy") {
		return nil, errInjected
	}
	d.log.add("legacy create %dx%d", desc.Width, desc.Height)
	return &mockLegacyTexture{log: d.log, desc: desc}, nil
}

func (d *mockLegacyDevice) Release() { d.log.add("release legacy device") }

type mockLegacyTexture struct {
	log  *callLog
	desc gfx.TextureDescriptor
}

func (t *mockLegacyTexture) Width() int                     { return t.desc.Width }
func (t *mockLegacyTexture) Height() int                    { return t.desc.Height }
func (t *mockLegacyTexture) Format() gputypes.TextureFormat { return t.desc.Format }

func (t *mockLegacyTexture) SharedHandle() (gfx.SharedHandle, error) {
	if t.log.failing("export") {
		return 0, errInjected
	}
	return 7, nil
}

func (t *mockLegacyTexture) Release() { t.log.add("release legacy") }
