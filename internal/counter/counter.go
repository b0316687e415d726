// MIT License
//
// Copyright (c) 2023 TTBT Enterprises LLC
// Copyright (c) 2023 Robin Thellend <rthellend@rthellend.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Inspired in large part by code from Vanadium.
// https://github.com/vanadium-archive/go.ref/blob/master/lib/stats/counter/timeseries.go
// https://github.com/vanadium-archive/go.ref/blob/master/LICENSE
//
// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package counter implements a bucketed running counter used to derive
// short-window throughput rates (bytes/sec, requests/sec) without storing
// a full history of events.
package counter

import (
	"sync"
	"time"
)

var timeNow = time.Now

// Counter accumulates a monotonically increasing total value, and keeps
// enough per-bucket history to compute the rate of change over the last
// maxWindow, grouped into buckets of size resolution.
type Counter struct {
	resolution time.Duration
	numBuckets int

	mu          sync.Mutex
	bucketStart time.Time
	buckets     []int64 // running total value observed as-of the end of each bucket
	cursor      int
	ticks       int64 // number of resolution steps that have ever elapsed
}

// New creates a Counter that can report rates over windows up to maxWindow,
// with a resolution of resolution. maxWindow/resolution must be small
// (<=1000 buckets); New panics otherwise.
func New(maxWindow, resolution time.Duration) *Counter {
	n := int(maxWindow/resolution) + 1
	if n > 1000 {
		panic("counter: resolution too fine for maxWindow")
	}
	return &Counter{
		resolution:  resolution,
		numBuckets:  n,
		bucketStart: time.Now().Truncate(resolution),
		buckets:     make([]int64, n),
	}
}

// Incr adds delta to the running total and returns the new total.
// A nil *Counter is a no-op that always reports 0, so callers that track
// counters optionally (e.g. only for upstream vs. downstream legs) don't
// need a nil check before every call.
func (c *Counter) Incr(delta int64) int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollBuckets()
	c.buckets[c.cursor] += delta
	return c.buckets[c.cursor]
}

// Value returns the current running total.
func (c *Counter) Value() int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buckets[c.cursor]
}

// Rate returns the average rate of change per second over the requested
// window, clamped to however much history is actually available.
func (c *Counter) Rate(window time.Duration) float64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollBuckets()
	steps := int64(window / c.resolution)
	if steps > c.ticks {
		steps = c.ticks
	}
	if steps > int64(c.numBuckets-1) {
		steps = int64(c.numBuckets - 1)
	}
	if steps <= 0 {
		return 0
	}
	prev := (c.cursor - int(steps) + c.numBuckets) % c.numBuckets
	delta := c.buckets[c.cursor] - c.buckets[prev]
	elapsed := time.Duration(steps) * c.resolution
	return float64(delta) / elapsed.Seconds()
}

// rollBuckets advances the ring buffer to the current time, replicating the
// last observed total into any newly opened buckets.
func (c *Counter) rollBuckets() {
	now := timeNow().Truncate(c.resolution)
	if !now.After(c.bucketStart) {
		return
	}
	steps := int64(now.Sub(c.bucketStart) / c.resolution)
	c.bucketStart = now
	c.ticks += steps
	if steps > int64(c.numBuckets) {
		steps = int64(c.numBuckets)
	}
	carry := c.buckets[c.cursor]
	for ; steps > 0; steps-- {
		c.cursor = (c.cursor + 1) % c.numBuckets
		c.buckets[c.cursor] = carry
	}
}
