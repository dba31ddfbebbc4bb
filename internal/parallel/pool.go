// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package parallel shades CPU kernel dispatches in row bands across a fixed
// set of worker goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// bandsPerWorker is how many bands Rows cuts per worker. Workers pull bands
// from one shared queue, so several smaller bands keep every worker busy when
// some rows shade slower than others.
const bandsPerWorker = 4

// band is the row range [y0, y1) of one Rows call.
type band struct {
	y0, y1 int
	fn     func(y0, y1 int)
	done   *sync.WaitGroup
}

// WorkerPool shades row bands on a fixed number of goroutines.
//
// WorkerPool is safe for concurrent use. Bands of concurrent Rows calls
// share the queue in submission order.
type WorkerPool struct {
	workers int
	bands   chan band
	wg      sync.WaitGroup

	// mu keeps Close from closing bands while Rows is sending.
	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool starts a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &WorkerPool{
		workers: workers,
		bands:   make(chan band, workers*bandsPerWorker),
	}
	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for b := range p.bands {
		b.fn(b.y0, b.y1)
		b.done.Done()
	}
}

// Rows splits [0, height) into contiguous bands and calls fn for each band
// in parallel. The calling goroutine shades the last band itself. Rows
// returns once every band finished. On a closed pool fn runs once for all
// rows on the calling goroutine.
func (p *WorkerPool) Rows(height int, fn func(y0, y1 int)) {
	if height <= 0 {
		return
	}
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		fn(0, height)
		return
	}

	n := min(height, p.workers*bandsPerWorker)
	step := (height + n - 1) / n
	var done sync.WaitGroup
	y0 := 0
	for ; y0+step < height; y0 += step {
		done.Add(1)
		p.bands <- band{y0: y0, y1: y0 + step, fn: fn, done: &done}
	}
	p.mu.RUnlock()

	fn(y0, height)
	done.Wait()
}

// Close finishes queued bands and stops the workers. Close is idempotent.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.bands)
	p.mu.Unlock()
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int { return p.workers }

// IsRunning reports whether the pool still has live workers.
func (p *WorkerPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}
