// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package config loads the bridgedemo configuration file and watches it for
// changes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/gpubridge"
	"github.com/gogpu/gpubridge/kernels"
)

// Devices accepted by File.Device.
const (
	DeviceSoft   = "soft"
	DeviceVulkan = "vulkan"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid")

// File is the on-disk configuration.
type File struct {
	Kernel string `yaml:"kernel"`
	Device string `yaml:"device"`

	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// Frames is the number of frames to render; 0 renders until interrupted.
	Frames int `yaml:"frames"`

	FixedFPS        bool    `yaml:"fixed_fps"`
	FPS             float64 `yaml:"fps"`
	ResolutionScale float64 `yaml:"resolution_scale"`
	Paused          bool    `yaml:"paused"`
	ShowFPS         bool    `yaml:"show_fps"`

	// Param is passed to the kernel as the frame parameter when set.
	Param *float64 `yaml:"param,omitempty"`

	// Out is the PNG snapshot path. Empty disables the snapshot.
	Out string `yaml:"out"`
}

// Default returns the configuration used when no file exists.
func Default() *File {
	return &File{
		Kernel:          "plasma",
		Device:          DeviceSoft,
		Width:           640,
		Height:          360,
		Frames:          120,
		FixedFPS:        true,
		FPS:             gpubridge.DefaultFPS,
		ResolutionScale: gpubridge.MaxResolutionScale,
		Out:             "frame.png",
	}
}

// DefaultConfigPath returns ~/.config/gpubridge/config.yaml.
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "gpubridge", "config.yaml"), nil
}

// Load reads the file at DefaultConfigPath.
func Load() (*File, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads path over the defaults. A missing file yields Default.
func LoadFromPath(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*File, error) {
	f := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks field ranges and that the kernel exists.
func (f *File) Validate() error {
	if _, err := kernels.Lookup(f.Kernel); err != nil {
		return fmt.Errorf("%w: kernel: %w", ErrInvalid, err)
	}
	switch f.Device {
	case DeviceSoft, DeviceVulkan:
	default:
		return fmt.Errorf("%w: device %q, want %q or %q", ErrInvalid, f.Device, DeviceSoft, DeviceVulkan)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalid, f.Width, f.Height)
	}
	if f.Frames < 0 {
		return fmt.Errorf("%w: frames %d", ErrInvalid, f.Frames)
	}
	if f.FPS < 0 {
		return fmt.Errorf("%w: fps %v", ErrInvalid, f.FPS)
	}
	return nil
}

// PresenterConfig converts f to a presenter configuration with a runner for
// the named kernel.
func (f *File) PresenterConfig() (gpubridge.Config, error) {
	runner, err := kernels.Lookup(f.Kernel)
	if err != nil {
		return gpubridge.Config{}, err
	}
	cfg := gpubridge.Config{
		Runner:          runner,
		Paused:          f.Paused,
		FixedFPS:        f.FixedFPS,
		FPS:             f.FPS,
		ResolutionScale: f.ResolutionScale,
		ShowFPS:         f.ShowFPS,
	}
	if f.Param != nil {
		cfg.Parameter = *f.Param
	}
	return cfg.Normalize(), nil
}

// Apply replaces p's configuration with f's.
func (f *File) Apply(p *gpubridge.Presenter) error {
	cfg, err := f.PresenterConfig()
	if err != nil {
		return err
	}
	p.SetConfig(cfg)
	return nil
}

// Marshal encodes f as YAML.
func (f *File) Marshal() ([]byte, error) {
	return yaml.Marshal(f)
}
