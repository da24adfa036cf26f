// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package debounce coalesces bursts of calls into one trailing
// invocation.
package debounce

import (
	"sync"
	"time"
)

// Debouncer runs the most recently submitted function once submissions
// go quiet for the configured delay. Earlier functions in a burst are
// replaced, not queued.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	pending func()
	timer   *time.Timer
}

// New returns a Debouncer with the given trailing delay.
func New(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Do schedules fn to run delay after the most recent call, replacing
// any function already waiting. fn runs on the timer goroutine.
func (d *Debouncer) Do(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = fn
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fire)
		return
	}
	d.timer.Reset(d.delay)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	fn := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}
