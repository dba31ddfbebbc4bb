// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a configuration file when it changes on disk.
type Watcher struct {
	path string
	w    *fsnotify.Watcher
}

// Watch starts watching path. The parent directory is watched so that
// editors replacing the file by rename are noticed. Events are delivered
// once Run is called.
func Watch(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{path: abs, w: w}, nil
}

// Run calls fn with the reloaded file, or the load error, after every write
// to the watched path. It returns when ctx is done or the watcher is closed.
// fn runs on the caller's goroutine.
func (w *Watcher) Run(ctx context.Context, fn func(*File, error)) error {
	defer w.w.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			fn(LoadFromPath(w.path))
		case err, ok := <-w.w.Errors:
			if !ok {
				return nil
			}
			fn(nil, fmt.Errorf("config: watch: %w", err))
		}
	}
}

// Close stops the watcher. Run returns afterwards.
func (w *Watcher) Close() error { return w.w.Close() }
