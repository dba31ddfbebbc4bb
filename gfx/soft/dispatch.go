// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package soft

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpubridge/gfx"
)

// Dispatch implements gfx.Device by running k.Shade for every pixel on the
// timeline. The target must be in StateUnorderedAccess when the dispatch
// executes.
func (d *Device) Dispatch(k *gfx.Kernel, target gfx.Texture, params gfx.KernelParams) error {
	if k == nil || k.Shade == nil {
		return errors.New("soft: kernel has no CPU shade function")
	}
	t, err := d.ownTexture(target)
	if err != nil {
		return err
	}
	params.Width = uint32(t.desc.Width)   //nolint:gosec // validated positive
	params.Height = uint32(t.desc.Height) //nolint:gosec // validated positive
	params.Stride = params.Width
	bgra := t.desc.Format == gputypes.TextureFormatBGRA8Unorm

	return d.post(func() {
		if d.lost.Load() != nil {
			return
		}
		if s := t.State(); s != gfx.StateUnorderedAccess {
			d.lose(fmt.Errorf("%w: dispatch %q into %q in state %v", gfx.ErrBadBarrier, k.Name, t.desc.Label, s))
			return
		}
		if t.released.Load() {
			d.lose(fmt.Errorf("dispatch %q: %w", k.Name, gfx.ErrReleased))
			return
		}
		w, stride := t.desc.Width, t.stride()
		d.pool.Rows(t.desc.Height, func(y0, y1 int) {
			for y := y0; y < y1; y++ {
				row := t.pix[y*stride : (y+1)*stride]
				for x := 0; x < w; x++ {
					c := k.Shade(x, y, params)
					i := x * 4
					if bgra {
						c.R, c.B = c.B, c.R
					}
					row[i], row[i+1], row[i+2], row[i+3] = c.R, c.G, c.B, c.A
				}
			}
		})
		slogger().Debug("soft: dispatch", "kernel", k.Name, "w", w, "h", t.desc.Height)
	})
}
