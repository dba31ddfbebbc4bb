// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

func TestWorkerPool_Create(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	if !pool.IsRunning() {
		t.Error("pool should be running after creation")
	}
}

func TestWorkerPool_DefaultWorkers(t *testing.T) {
	for _, n := range []int{0, -5} {
		pool := NewWorkerPool(n)
		if pool.Workers() != runtime.GOMAXPROCS(0) {
			t.Errorf("NewWorkerPool(%d).Workers() = %d, want GOMAXPROCS", n, pool.Workers())
		}
		pool.Close()
	}
}

func TestWorkerPool_RowsAfterClose(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()
	pool.Close()
	if pool.IsRunning() {
		t.Error("pool should not be running after Close")
	}

	var calls [][2]int
	pool.Rows(10, func(y0, y1 int) { calls = append(calls, [2]int{y0, y1}) })
	if len(calls) != 1 || calls[0] != [2]int{0, 10} {
		t.Errorf("Rows() after Close called fn with %v, want one band [0 10]", calls)
	}
}

func TestWorkerPool_Rows(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		height  int
	}{
		{"more rows than workers", 4, 101},
		{"fewer rows than workers", 8, 3},
		{"single worker", 1, 17},
		{"single row", 4, 1},
		{"exact multiple", 2, 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewWorkerPool(tt.workers)
			defer pool.Close()

			var mu sync.Mutex
			seen := make([]int, tt.height)
			bands := 0
			pool.Rows(tt.height, func(y0, y1 int) {
				mu.Lock()
				defer mu.Unlock()
				bands++
				for y := y0; y < y1; y++ {
					seen[y]++
				}
			})
			for y, n := range seen {
				if n != 1 {
					t.Fatalf("row %d visited %d times, want 1", y, n)
				}
			}
			if limit := min(tt.height, tt.workers*bandsPerWorker); bands > limit {
				t.Errorf("bands = %d, want <= %d", bands, limit)
			}
		})
	}
}

func TestWorkerPool_RowsEmpty(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()
	called := false
	pool.Rows(0, func(int, int) { called = true })
	if called {
		t.Error("Rows(0) should not call fn")
	}
}

func TestWorkerPool_RowsConcurrent(t *testing.T) {
	pool := NewWorkerPool(3)
	defer pool.Close()

	const callers, height = 8, 50
	var rows atomic.Int64
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Rows(height, func(y0, y1 int) { rows.Add(int64(y1 - y0)) })
		}()
	}
	wg.Wait()
	if got := rows.Load(); got != callers*height {
		t.Errorf("rows shaded = %d, want %d", got, callers*height)
	}
}
