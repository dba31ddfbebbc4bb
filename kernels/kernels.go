// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package kernels provides ready-made compute kernels and ShaderRunners that
// dispatch them.
//
// Every kernel ships as WGSL for hardware devices and as an equivalent CPU
// shade function for gfx/soft. The two forms quantize colors the same way,
// so a frame rendered by either device matches within float precision.
package kernels

import (
	_ "embed"
	"errors"
	"fmt"
	"image/color"
	"math"
	"sort"
	"time"

	"github.com/gogpu/gpubridge"
	"github.com/gogpu/gpubridge/gfx"
)

//go:embed shaders/solid.wgsl
var solidWGSL string

//go:embed shaders/gradient.wgsl
var gradientWGSL string

//go:embed shaders/plasma.wgsl
var plasmaWGSL string

//go:embed shaders/checker.wgsl
var checkerWGSL string

// ErrUnknownKernel is returned by Lookup for names not in Names.
var ErrUnknownKernel = errors.New("kernels: unknown kernel")

// Factory builds the uniform block for one frame from the elapsed time and
// the presenter's Config.Parameter. Size fields are filled by the device.
type Factory func(elapsed time.Duration, param any) gfx.KernelParams

// Runner is a gpubridge.ShaderRunner dispatching one kernel per frame.
type Runner struct {
	kernel  *gfx.Kernel
	factory Factory
}

var _ gpubridge.ShaderRunner = (*Runner)(nil)

// New returns a runner for k. A nil factory passes only the elapsed time.
func New(k *gfx.Kernel, f Factory) *Runner {
	if f == nil {
		f = timed(func(any) [4]float32 { return [4]float32{} })
	}
	return &Runner{kernel: k, factory: f}
}

// Kernel returns the dispatched kernel.
func (r *Runner) Kernel() *gfx.Kernel { return r.kernel }

// Params returns the uniform block for a frame.
func (r *Runner) Params(elapsed time.Duration, v any) gfx.KernelParams {
	return r.factory(elapsed, v)
}

// timed returns a Factory passing the elapsed seconds and the param vector
// that param derives from the frame parameter.
func timed(param func(v any) [4]float32) Factory {
	return func(elapsed time.Duration, v any) gfx.KernelParams {
		return gfx.KernelParams{Time: float32(elapsed.Seconds()), Param: param(v)}
	}
}

// TryExecute implements gpubridge.ShaderRunner. It always presents.
func (r *Runner) TryExecute(s *gpubridge.ComputeSurface, elapsed time.Duration, v any) (bool, error) {
	if err := s.Dispatch(r.kernel, r.Params(elapsed, v)); err != nil {
		return false, err
	}
	return true, nil
}

// Solid fills the surface with a color. A color.Color frame parameter
// overrides c.
func Solid(c color.RGBA) *Runner {
	return New(SolidKernel, timed(func(v any) [4]float32 {
		if cv, ok := v.(color.Color); ok {
			return colorParam(color.RGBAModel.Convert(cv).(color.RGBA))
		}
		return colorParam(c)
	}))
}

// Gradient renders red and green ramps with blue pulsing at the angular
// speed given by a numeric frame parameter, 1 rad/s by default.
func Gradient() *Runner {
	return New(GradientKernel, timed(scalarParam(1)))
}

// Plasma renders an animated sine plasma. A numeric frame parameter scales
// its frequency.
func Plasma() *Runner {
	return New(PlasmaKernel, timed(scalarParam(1)))
}

// Checker renders a checkerboard with cells of cell pixels scrolling right
// at a numeric frame parameter in pixels per second.
func Checker(cell int) *Runner {
	if cell < 1 {
		cell = 1
	}
	speed := scalarParam(0)
	return New(CheckerKernel, timed(func(v any) [4]float32 {
		return [4]float32{float32(cell), speed(v)[0]}
	}))
}

var registry = map[string]func() *Runner{
	"solid":    func() *Runner { return Solid(color.RGBA{R: 0x33, G: 0x66, B: 0x99, A: 0xff}) },
	"gradient": Gradient,
	"plasma":   Plasma,
	"checker":  func() *Runner { return Checker(16) },
}

// Lookup returns a runner for the named kernel with default settings.
func Lookup(name string) (*Runner, error) {
	mk, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKernel, name)
	}
	return mk(), nil
}

// Names returns the names Lookup accepts, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Kernels shipped by this package.
var (
	SolidKernel = &gfx.Kernel{Name: "solid", WGSL: solidWGSL, Shade: shadeSolid}

	GradientKernel = &gfx.Kernel{Name: "gradient", WGSL: gradientWGSL, Shade: shadeGradient}

	PlasmaKernel = &gfx.Kernel{Name: "plasma", WGSL: plasmaWGSL, Shade: shadePlasma}

	CheckerKernel = &gfx.Kernel{Name: "checker", WGSL: checkerWGSL, Shade: shadeChecker}
)

func shadeSolid(_, _ int, p gfx.KernelParams) color.RGBA {
	return pack(float64(p.Param[0]), float64(p.Param[1]), float64(p.Param[2]), float64(p.Param[3]))
}

func shadeGradient(x, y int, p gfx.KernelParams) color.RGBA {
	r := (float64(x) + 0.5) / float64(p.Width)
	g := (float64(y) + 0.5) / float64(p.Height)
	b := 0.5 + 0.5*math.Sin(float64(p.Time)*float64(p.Param[0]))
	return pack(r, g, b, 1)
}

func shadePlasma(x, y int, p gfx.KernelParams) color.RGBA {
	s, t := float64(p.Param[0]), float64(p.Time)
	fx, fy := float64(x), float64(y)
	v := math.Sin(fx*0.05*s+t) + math.Sin(fy*0.05*s+t*1.3) + math.Sin((fx+fy)*0.035*s+t*0.7)
	a := v * math.Pi
	return pack(0.5+0.5*math.Sin(a), 0.5+0.5*math.Sin(a+2*math.Pi/3), 0.5+0.5*math.Sin(a+4*math.Pi/3), 1)
}

func shadeChecker(x, y int, p gfx.KernelParams) color.RGBA {
	cell := int(p.Param[0])
	if cell < 1 {
		cell = 1
	}
	offset := 0
	if o := p.Time * p.Param[1]; o > 0 {
		offset = int(o)
	}
	if ((x+offset)/cell+y/cell)&1 == 1 {
		return pack(0.9, 0.9, 0.9, 1)
	}
	return pack(0.1, 0.1, 0.1, 1)
}

// pack quantizes a [0,1] color the way the WGSL pack function does.
func pack(r, g, b, a float64) color.RGBA {
	return color.RGBA{R: quantize(r), G: quantize(g), B: quantize(b), A: quantize(a)}
}

func quantize(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}

func colorParam(c color.RGBA) [4]float32 {
	return [4]float32{float32(c.R) / 255, float32(c.G) / 255, float32(c.B) / 255, float32(c.A) / 255}
}

// scalarParam reads a numeric frame parameter into the first param
// component, or def when v is not a number.
func scalarParam(def float64) func(v any) [4]float32 {
	return func(v any) [4]float32 {
		f := def
		switch n := v.(type) {
		case float64:
			f = n
		case float32:
			f = float64(n)
		case int:
			f = float64(n)
		}
		return [4]float32{float32(f)}
	}
}
