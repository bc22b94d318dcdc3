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

package storagetier

import (
	"context"
	"fmt"
	"sync"
)

// Availability reports which tiers currently accept new blocks. blockmgr
// never calls this directly; a Resolver consults it when deciding where a
// block being created for the first time should land.
type Availability interface {
	Get(ctx context.Context, tier Tier) (TierState, error)
	ListAll(ctx context.Context) ([]TierState, error)
	SetStatus(ctx context.Context, tier Tier, status Status) error
}

// staticAvailability is an in-memory stand-in for what would, in a real
// deployment, be backed by a cluster-wide config store so every executor
// observes the same tier health. That collaborator is out of scope here;
// this keeps the same read/write shape so a persistent implementation can
// be dropped in later without touching Resolver.
type staticAvailability struct {
	mu     sync.RWMutex
	states map[Tier]Status
}

// NewStaticAvailability seeds an Availability with the given tiers, all
// initially healthy.
func NewStaticAvailability(tiers ...Tier) Availability {
	states := make(map[Tier]Status, len(tiers))
	for _, t := range tiers {
		states[t] = StatusHealthy
	}
	return &staticAvailability{states: states}
}

func (a *staticAvailability) Get(_ context.Context, tier Tier) (TierState, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	status, ok := a.states[tier]
	if !ok {
		return TierState{}, fmt.Errorf("storagetier: unknown tier %q", tier)
	}
	return TierState{Tier: tier, Status: status}, nil
}

func (a *staticAvailability) ListAll(_ context.Context) ([]TierState, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]TierState, 0, len(a.states))
	for t, s := range a.states {
		out = append(out, TierState{Tier: t, Status: s})
	}
	return out, nil
}

func (a *staticAvailability) SetStatus(_ context.Context, tier Tier, status Status) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.states[tier]; !ok {
		return fmt.Errorf("storagetier: unknown tier %q", tier)
	}
	a.states[tier] = status
	return nil
}
