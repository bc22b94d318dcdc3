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

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uber/blockguard/service/blockmgr"
	"github.com/uber/blockguard/service/storagetier"
)

// orderCheckingResolver fails the test if Resolve is ever called while the
// target block already has an entry in the manager, i.e. if tier resolution
// runs after the block was installed instead of first, before
// LockNewBlockForWriting, the way simulate does. (A Resolve call made from
// inside the manager's guard would instead block in Get, since the
// manager's mutex is not re-entrant.)
type orderCheckingResolver struct {
	t       *testing.T
	manager *blockmgr.BlockInfoManager
	calls   int
}

func (r *orderCheckingResolver) Resolve(_ context.Context, blockID string, _ storagetier.Preference) (storagetier.Tier, error) {
	r.calls++
	if _, ok := r.manager.Get(blockmgr.BlockID(blockID)); ok {
		r.t.Fatalf("Resolve called for block %q after it was already installed in the manager; tier resolution must happen before LockNewBlockForWriting, not from within it", blockID)
	}
	return "memory", nil
}

func TestTierResolutionHappensBeforeLockNewBlockForWriting(t *testing.T) {
	manager := blockmgr.NewBlockInfoManager(blockmgr.ContextTaskAttemptID, nil, nil)
	const task = blockmgr.TaskAttemptID(1)
	require.NoError(t, manager.RegisterTask(task))
	ctx := blockmgr.WithTaskAttemptID(context.Background(), task)

	const blockID = blockmgr.BlockID("block-order")
	resolver := &orderCheckingResolver{t: t, manager: manager}

	tier, err := resolver.Resolve(ctx, string(blockID), nil)
	require.NoError(t, err)
	require.Equal(t, 1, resolver.calls)

	info := blockmgr.NewBlockInfo(blockmgr.StorageLevel(tier), "demo", false, int64(task))
	require.True(t, manager.LockNewBlockForWriting(ctx, blockID, info))

	_, ok := manager.Get(blockID)
	require.True(t, ok)
}
