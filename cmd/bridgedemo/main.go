// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Command bridgedemo renders a compute kernel through the presenter onto a
// headless legacy surface and writes the last frame as PNG.
//
// Settings come from a YAML file (see internal/config); flags override it.
// With -watch, edits to the file are applied while frames are rendering.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/gogpu/gpubridge"
	"github.com/gogpu/gpubridge/gfx"
	"github.com/gogpu/gpubridge/gfx/halgfx"
	"github.com/gogpu/gpubridge/gfx/soft"
	"github.com/gogpu/gpubridge/integration/headless"
	"github.com/gogpu/gpubridge/internal/config"
)

// tickInterval is how often the loop ticks. Fixed-fps pacing is done by the
// presenter.
const tickInterval = 2 * time.Millisecond

func main() {
	var (
		cfgPath = flag.String("config", "", "config file (default ~/.config/gpubridge/config.yaml)")
		kernel  = flag.String("kernel", "", "kernel: checker, gradient, plasma or solid")
		device  = flag.String("device", "", "device: soft or vulkan")
		width   = flag.Int("width", 0, "surface width")
		height  = flag.Int("height", 0, "surface height")
		frames  = flag.Int("frames", -1, "frames to present, 0 runs until interrupted")
		fps     = flag.Float64("fps", 0, "fixed frame rate")
		scale   = flag.Float64("scale", 0, "resolution scale in [0.1, 1]")
		out     = flag.String("out", "", "PNG output file")
		watch   = flag.Bool("watch", false, "reload the config file when it changes")
		verbose = flag.Bool("v", false, "log presenter events")
	)
	flag.Parse()

	if *verbose {
		gpubridge.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	path := *cfgPath
	if path == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			log.Fatalf("config path: %v", err)
		}
		path = p
	}
	file, err := config.LoadFromPath(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	overrides := func(f *config.File) {
		flag.Visit(func(fl *flag.Flag) {
			switch fl.Name {
			case "kernel":
				f.Kernel = *kernel
			case "device":
				f.Device = *device
			case "width":
				f.Width = *width
			case "height":
				f.Height = *height
			case "frames":
				f.Frames = *frames
			case "fps":
				f.FPS, f.FixedFPS = *fps, true
			case "scale":
				f.ResolutionScale = *scale
			case "out":
				f.Out = *out
			}
		})
	}
	overrides(file)
	if err := file.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	dev, err := openDevice(file.Device)
	if err != nil {
		log.Fatalf("open %s device: %v", file.Device, err)
	}
	cfg, err := file.PresenterConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	p := gpubridge.New(cfg,
		gpubridge.WithDevice(dev),
		gpubridge.WithFailureHandler(func(err error) { log.Printf("frame: %v", err) }),
		gpubridge.WithFPSHandler(func(fps int) { log.Printf("%d fps", fps) }),
	)
	defer p.Close()

	surface := headless.New(file.Width, file.Height)
	if err := p.Attach(surface, file.Width, file.Height); err != nil {
		log.Fatalf("attach: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reloads := make(chan *config.File, 1)
	if *watch {
		w, err := config.Watch(path)
		if err != nil {
			log.Fatalf("watch: %v", err)
		}
		go func() {
			_ = w.Run(ctx, func(f *config.File, err error) {
				if err != nil {
					log.Printf("reload: %v", err)
					return
				}
				overrides(f)
				deliver(ctx, reloads, f)
			})
		}()
	}

	if err := run(ctx, p, surface, file, reloads); err != nil {
		log.Fatalf("render: %v", err)
	}

	st := p.Stats()
	log.Printf("presented %d frames (%d skipped, %d failed) at %dx%d", st.Presented, st.Skipped, st.Failed, st.Width, st.Height)

	if file.Out == "" {
		return
	}
	f, err := os.Create(file.Out)
	if err != nil {
		log.Fatalf("create %s: %v", file.Out, err)
	}
	if err := surface.WritePNG(f); err != nil {
		_ = f.Close()
		log.Fatalf("write %s: %v", file.Out, err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("close %s: %v", file.Out, err)
	}
	log.Printf("frame saved to %s (%dx%d)", file.Out, file.Width, file.Height)
}

func openDevice(name string) (gfx.Device, error) {
	switch name {
	case config.DeviceVulkan:
		return halgfx.Open()
	default:
		return soft.New(), nil
	}
}

// deliver hands f to the render loop. It gives up once ctx is done, since
// nothing receives from reloads after run returned.
func deliver(ctx context.Context, reloads chan<- *config.File, f *config.File) bool {
	select {
	case reloads <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

// run ticks until file.Frames frames are presented or ctx is done. Reloaded
// configurations are applied between ticks; a size change resizes the host.
func run(ctx context.Context, p *gpubridge.Presenter, surface *headless.Surface, file *config.File, reloads <-chan *config.File) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-reloads:
			if f.Device != file.Device {
				log.Printf("reload: device change to %s ignored", f.Device)
				f.Device = file.Device
			}
			if err := f.Apply(p); err != nil {
				log.Printf("reload: %v", err)
				continue
			}
			if f.Width != file.Width || f.Height != file.Height {
				surface.SetSize(f.Width, f.Height)
				p.SetHostSize(f.Width, f.Height)
			}
			*file = *f
			log.Printf("reload: kernel %s %dx%d", f.Kernel, f.Width, f.Height)
		case <-ticker.C:
			if err := p.Tick(); err != nil && errors.Is(err, gpubridge.ErrPresenterFailed) {
				return err
			}
			if file.Frames > 0 && p.Stats().Presented >= uint64(file.Frames) {
				return nil
			}
		}
	}
}
