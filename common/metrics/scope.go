// Copyright (c) 2020 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package metrics is the instrumentation facade used across this module,
// exposing the scope.IncCounter(...) shape that service/blockmgr and
// service/attemptid call.
package metrics

import (
	"time"

	"github.com/uber-go/tally"
)

// Scope is the subset of tally's reporting surface this module needs.
type Scope interface {
	IncCounter(name string)
	AddCounter(name string, delta int64)
	RecordTimer(name string, d time.Duration)
	Gauge(name string, value float64)
	Tagged(tags map[string]string) Scope
}

type tallyScope struct {
	scope tally.Scope
}

// NewScope wraps a tally.Scope as a Scope.
func NewScope(s tally.Scope) Scope {
	return &tallyScope{scope: s}
}

// NewNoop returns a Scope that discards everything reported to it.
func NewNoop() Scope {
	return NewScope(tally.NoopScope)
}

func (s *tallyScope) IncCounter(name string) {
	s.scope.Counter(name).Inc(1)
}

func (s *tallyScope) AddCounter(name string, delta int64) {
	s.scope.Counter(name).Inc(delta)
}

func (s *tallyScope) RecordTimer(name string, d time.Duration) {
	s.scope.Timer(name).Record(d)
}

func (s *tallyScope) Gauge(name string, value float64) {
	s.scope.Gauge(name).Update(value)
}

func (s *tallyScope) Tagged(tags map[string]string) Scope {
	return &tallyScope{scope: s.scope.Tagged(tags)}
}

// Metric names emitted by service/blockmgr.
const (
	LockForReadingCounter       = "blockmgr.lock_for_reading"
	LockForWritingCounter       = "blockmgr.lock_for_writing"
	LockNewBlockWinCounter      = "blockmgr.lock_new_block.win"
	LockNewBlockLoseCounter     = "blockmgr.lock_new_block.lose"
	UnlockCounter               = "blockmgr.unlock"
	DowngradeCounter            = "blockmgr.downgrade"
	RemoveBlockCounter          = "blockmgr.remove_block"
	ReleaseAllLocksCounter      = "blockmgr.release_all_locks_for_task"
	ReleaseAllLocksBlocksGauge  = "blockmgr.release_all_locks_for_task.blocks_released"
	ClearCounter                = "blockmgr.clear"
	WaitTimer                   = "blockmgr.wait_for_lock"
	ContestedAcquisitionCounter = "blockmgr.contested_acquisition"

	// Metric names emitted by service/attemptid.
	LeaseRequestCounter = "attemptid.lease_request"
	LeaseFailureCounter = "attemptid.lease_failure"
)
