// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workers provides the parallel execution substrate for the
// aggregation kernels: a soft-limited pool of goroutines and a chunked
// parallel-for over flat index ranges.
//
// The kernels are pure CPU-bound computation over write-disjoint output
// regions, so the pool needs no cancellation, no ordering guarantees and no
// synchronization beyond joining the chunks at the end.
package workers

import (
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"k8s.io/klog/v2"
)

// ParallelismEnvVar overrides the default parallelism target of new pools.
// 0 disables parallelism, -1 removes the limit.
const ParallelismEnvVar = "NATTEN_MAXPARALLELISM"

// Pool schedules tasks on goroutines with a soft limit on parallelism.
//
// The actual number of goroutines may be slightly higher than the target,
// but a task is only started when the number of running tasks is below the
// limit.
type Pool struct {
	// maxParallelism is a soft target on the limit of parallel work to do.
	// 0 disables parallelism (tasks run inline), < 0 means unlimited.
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // Signaled whenever numRunning is decreased.
	numRunning int

	// extraParallelism is temporarily increased when a worker goes to sleep.
	extraParallelism atomic.Int32
}

// New creates a pool with parallelism targeting runtime.NumCPU, or the value
// of NATTEN_MAXPARALLELISM if set.
func New() *Pool {
	p := &Pool{maxParallelism: runtime.NumCPU()}
	if value := os.Getenv(ParallelismEnvVar); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			klog.Warningf("Invalid %s=%q, using %d instead: %v", ParallelismEnvVar, value, p.maxParallelism, err)
		} else {
			p.maxParallelism = parsed
		}
	}
	p.cond = sync.Cond{L: &p.mu}
	klog.V(1).Infof("workers pool created with maxParallelism=%d", p.maxParallelism)
	return p
}

// IsEnabled returns whether parallelism is enabled (maxParallelism != 0).
func (p *Pool) IsEnabled() bool {
	return p.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0).
func (p *Pool) IsUnlimited() bool {
	return p.maxParallelism < 0
}

// MaxParallelism returns the current soft target for parallelism.
func (p *Pool) MaxParallelism() int {
	return p.maxParallelism
}

// SetMaxParallelism changes the soft target for parallelism. Set to 0 to
// disable parallelism, to -1 to make it unlimited.
//
// Only change it while no kernels are running, the behavior is undefined
// otherwise.
func (p *Pool) SetMaxParallelism(maxParallelism int) {
	p.maxParallelism = maxParallelism
}

const goroutineToParallelismRatio = 2

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with p.mu acquired.
func (p *Pool) lockedIsFull() bool {
	if p.maxParallelism == 0 {
		return true
	} else if p.maxParallelism < 0 {
		return false
	}
	return p.numRunning >= goroutineToParallelismRatio*p.maxParallelism+int(p.extraParallelism.Load())
}

// WaitToStart waits until a worker is available and then runs task on a
// separate goroutine.
//
// If parallelism is disabled it runs the task inline and returns when it is
// finished.
func (p *Pool) WaitToStart(task func()) {
	if p.IsUnlimited() {
		go task()
		return
	} else if p.maxParallelism == 0 {
		task()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.lockedIsFull() {
		p.cond.Wait()
	}
	p.lockedRunTaskInGoroutine(task)
}

// lockedRunTaskInGoroutine runs task and keeps tabs on p.numRunning.
//
// It must be called with p.mu acquired.
func (p *Pool) lockedRunTaskInGoroutine(task func()) {
	p.numRunning++
	go func() {
		task()
		p.mu.Lock()
		p.numRunning--
		p.cond.Signal()
		p.mu.Unlock()
	}()
}

// WorkerIsAsleep indicates the calling worker is going to sleep waiting for
// other workers, and temporarily increases the available number of workers.
//
// Call WorkerRestarted when the worker is ready to run again.
func (p *Pool) WorkerIsAsleep() {
	p.extraParallelism.Add(1)
}

// WorkerRestarted indicates the calling worker is ready to run again.
// It should only be called after WorkerIsAsleep.
func (p *Pool) WorkerRestarted() {
	p.extraParallelism.Add(-1)
}

// For runs fn over the range [0, n) split into contiguous chunks of at least
// minChunk indices, one worker per chunk. Chunk boundaries are the only
// partitioning: fn(start, end) owns every index in [start, end) exclusively.
//
// It returns only after every chunk completed. fn must be safe to run
// concurrently on disjoint ranges.
func (p *Pool) For(n, minChunk int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	minChunk = max(minChunk, 1)
	if !p.IsEnabled() || n <= minChunk {
		fn(0, n)
		return
	}
	numChunks := (n + minChunk - 1) / minChunk
	if !p.IsUnlimited() {
		// More chunks than workers just adds scheduling overhead.
		numChunks = min(numChunks, goroutineToParallelismRatio*p.maxParallelism)
	}
	chunkSize := (n + numChunks - 1) / numChunks

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		p.WaitToStart(func() {
			defer wg.Done()
			fn(start, end)
		})
	}
	wg.Wait()
}
