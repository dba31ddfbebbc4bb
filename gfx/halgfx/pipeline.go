// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package halgfx

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpubridge/gfx"
)

// swizzleKernel swaps red and blue in place. It runs after every dispatch
// into a BGRA target, since kernels always pack R into the low byte.
var swizzleKernel = &gfx.Kernel{
	Name: "swizzle_bgra",
	WGSL: `struct Params {
    width: u32,
    height: u32,
    stride: u32,
    time: f32,
    param: vec4<f32>,
}

@group(0) @binding(0) var<uniform> params: Params;
@group(0) @binding(1) var<storage, read_write> pixels: array<u32>;

@compute @workgroup_size(8, 8, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x >= params.width || id.y >= params.height) {
        return;
    }
    let i = id.y * params.stride + id.x;
    let v = pixels[i];
    pixels[i] = (v & 0xff00ff00u) | ((v & 0xffu) << 16u) | ((v >> 16u) & 0xffu);
}
`,
}

// pipeline is a compiled kernel.
type pipeline struct {
	module   hal.ShaderModule
	pipeline hal.ComputePipeline
}

func (p *pipeline) destroy(device hal.Device) {
	if p.pipeline != nil {
		device.DestroyComputePipeline(p.pipeline)
	}
	if p.module != nil {
		device.DestroyShaderModule(p.module)
	}
}

// compileSPIRV compiles WGSL to SPIR-V words.
func compileSPIRV(wgsl string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(wgsl)
	if err != nil {
		return nil, err
	}
	if len(spirvBytes)%4 != 0 {
		return nil, errors.New("SPIR-V length is not a multiple of 4")
	}
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	return words, nil
}

// pipelineLocked returns the cached pipeline for k, compiling it on first
// use. Called with d.mu held.
func (d *Device) pipelineLocked(k *gfx.Kernel) (*pipeline, error) {
	if p, ok := d.pipelines[k]; ok {
		return p, nil
	}
	if k.WGSL == "" {
		return nil, fmt.Errorf("halgfx: kernel %q has no WGSL source", k.Name)
	}
	spirv, err := compileSPIRV(k.WGSL)
	if err != nil {
		return nil, fmt.Errorf("halgfx: compile %q: %w", k.Name, err)
	}

	p := &pipeline{}
	p.module, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  k.Name,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, fmt.Errorf("halgfx: create shader module %q: %w", k.Name, err)
	}
	p.pipeline, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   k.Name,
		Layout:  d.pipeLayout,
		Compute: hal.ComputeState{Module: p.module, EntryPoint: "main"},
	})
	if err != nil {
		p.destroy(d.device)
		return nil, fmt.Errorf("halgfx: create compute pipeline %q: %w", k.Name, err)
	}
	d.pipelines[k] = p
	d.slogger().Debug("halgfx: pipeline compiled", "kernel", k.Name)
	return p, nil
}

// Dispatch implements gfx.Device. The target must be a compute texture in
// StateUnorderedAccess. The dispatch is submitted and waited for before
// Dispatch returns, so it precedes any later ExecuteCommandLists.
func (d *Device) Dispatch(k *gfx.Kernel, target gfx.Texture, params gfx.KernelParams) error {
	if k == nil {
		return errors.New("halgfx: nil kernel")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usableLocked(); err != nil {
		return err
	}
	t, err := d.ownTexture(target)
	if err != nil {
		return err
	}
	if !t.isCompute() {
		return fmt.Errorf("halgfx: dispatch %q into shared texture %q", k.Name, t.desc.Label)
	}
	if t.state != gfx.StateUnorderedAccess {
		return d.loseLocked(fmt.Errorf("%w: dispatch %q into %q in state %v", gfx.ErrBadBarrier, k.Name, t.desc.Label, t.state))
	}

	passes := []*gfx.Kernel{k}
	if t.desc.Format == gputypes.TextureFormatBGRA8Unorm {
		passes = append(passes, swizzleKernel)
	}
	pipes := make([]*pipeline, 0, len(passes))
	for _, pk := range passes {
		p, err := d.pipelineLocked(pk)
		if err != nil {
			return err
		}
		pipes = append(pipes, p)
	}

	params.Width = uint32(t.desc.Width)   //nolint:gosec // validated positive
	params.Height = uint32(t.desc.Height) //nolint:gosec // validated positive
	params.Stride = uint32(t.pitch / 4)   //nolint:gosec // pitch fits uint32
	d.queue.WriteBuffer(t.uniform, 0, params.Bytes())

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: k.Name})
	if err != nil {
		return fmt.Errorf("halgfx: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(k.Name); err != nil {
		return fmt.Errorf("halgfx: begin encoding: %w", err)
	}
	gx, gy := gfx.DispatchGroups(t.desc.Width, t.desc.Height)
	for i, p := range pipes {
		pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: passes[i].Name})
		pass.SetPipeline(p.pipeline)
		pass.SetBindGroup(0, t.bindGroup, nil)
		pass.Dispatch(gx, gy, 1)
		pass.End()
	}
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("halgfx: end encoding: %w", err)
	}
	defer d.device.FreeCommandBuffer(cmdBuf)

	d.dispatchValue++
	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, d.dispatchFence, d.dispatchValue); err != nil {
		return d.loseLocked(fmt.Errorf("submit dispatch %q: %w", k.Name, err))
	}
	if err := d.waitLocked(d.dispatchFence, d.dispatchValue); err != nil {
		return err
	}
	d.slogger().Debug("halgfx: dispatch", "kernel", k.Name, "w", t.desc.Width, "h", t.desc.Height)
	return nil
}
