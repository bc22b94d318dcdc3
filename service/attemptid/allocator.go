// Copyright (c) 2020 Uber Technologies, Inc.
// Portions of the Software are attributed to Copyright (c) 2020 Temporal Technologies Inc.
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

// Package attemptid hands out fresh, monotonically increasing task attempt
// identifiers for service/blockmgr.RegisterTask. It exists because a real
// compute engine needs some authority deciding the next attempt id before a
// task is ever registered with the lock manager; the lock manager itself is
// deliberately ignorant of where ids come from.
package attemptid

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/uber/blockguard/common/backoff"
	"github.com/uber/blockguard/common/log"
	"github.com/uber/blockguard/common/log/tag"
	"github.com/uber/blockguard/common/metrics"
	"github.com/uber/blockguard/service/blockmgr"
)

// LeaseSource grants exclusive ranges of ids. A real deployment backs this
// with a fencing token from a shared coordination service; this package
// only needs the range it returns.
type LeaseSource interface {
	RenewLease(ctx context.Context) (rangeID int64, err error)
}

type idBlock struct {
	start int64
	end   int64
}

func rangeIDToBlock(rangeID, blockSize int64) idBlock {
	return idBlock{
		start: rangeID*blockSize + 1,
		end:   (rangeID + 1) * blockSize,
	}
}

// Allocator doles out blockmgr.TaskAttemptID values one at a time, refilling
// its block from a LeaseSource, with retry, whenever the current block is
// exhausted.
type Allocator struct {
	mu            sync.Mutex
	block         idBlock
	blockSize     int64
	source        LeaseSource
	throttleRetry *backoff.ThrottleRetry
	logger        log.Logger
	scope         metrics.Scope
	issued        atomic.Int64
}

// NewAllocator builds an Allocator that requests ranges of blockSize ids at
// a time from source.
func NewAllocator(source LeaseSource, blockSize int64, logger log.Logger, scope metrics.Scope) *Allocator {
	if logger == nil {
		logger = log.NewNoop()
	}
	if scope == nil {
		scope = metrics.NewNoop()
	}
	if blockSize <= 0 {
		blockSize = 1
	}
	return &Allocator{
		blockSize: blockSize,
		source:    source,
		logger:    logger,
		scope:     scope,
		throttleRetry: backoff.NewThrottleRetry(),
		// block starts empty (start > end) so the first Next call
		// always triggers a lease renewal.
		block: idBlock{start: 1, end: 0},
	}
}

// Next returns the next unused task attempt id, renewing the underlying
// lease (with retry) if the current block has been exhausted.
func (a *Allocator) Next(ctx context.Context) (blockmgr.TaskAttemptID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.block.start > a.block.end {
		newBlock, err := a.renewBlockWithRetry(ctx)
		if err != nil {
			return 0, fmt.Errorf("attemptid: failed to renew id block: %w", err)
		}
		a.block = newBlock
	}

	id := a.block.start
	a.block.start++
	a.issued.Inc()
	return blockmgr.TaskAttemptID(id), nil
}

// Issued returns the total number of ids handed out so far across all
// callers, for diagnostics.
func (a *Allocator) Issued() int64 {
	return a.issued.Load()
}

func (a *Allocator) renewBlockWithRetry(ctx context.Context) (idBlock, error) {
	var rangeID int64
	op := func() (err error) {
		rangeID, err = a.source.RenewLease(ctx)
		return
	}
	a.scope.IncCounter(metrics.LeaseRequestCounter)
	if err := a.throttleRetry.Do(ctx, op); err != nil {
		a.scope.IncCounter(metrics.LeaseFailureCounter)
		a.logger.Error("failed to renew task attempt id lease", tag.Error(err))
		return idBlock{}, err
	}
	return rangeIDToBlock(rangeID, a.blockSize), nil
}
