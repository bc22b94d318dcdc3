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

// Package storagetier resolves which storage tier a block being created for
// the first time should be placed on. It sits entirely outside the locking
// protocol in service/blockmgr: by the time LockNewBlockForWriting is
// called, the tier has already been decided and is just a StorageLevel
// string riding inside the BlockInfo.
package storagetier

import (
	"context"
	"fmt"
	"sort"
	"sync"

	farm "github.com/dgryski/go-farm"

	"github.com/uber/blockguard/common/log"
)

// Resolver picks a tier for a block given the caller's preference and the
// current tier health. Implementations must be safe for concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, blockID string, pref Preference) (Tier, error)
}

// DefaultResolver honors its configured preferred tier when it is healthy,
// and otherwise falls back to a deterministic pick among the remaining
// healthy tiers so that repeated resolutions for the same block (e.g. after
// a retry) land in the same place.
type DefaultResolver struct {
	availability Availability
	logger       log.Logger

	mu        sync.RWMutex
	preferred Tier
}

// NewDefaultResolver builds a Resolver that prefers the given tier whenever
// it is healthy.
func NewDefaultResolver(availability Availability, preferred Tier, logger log.Logger) *DefaultResolver {
	if logger == nil {
		logger = log.NewNoop()
	}
	return &DefaultResolver{
		availability: availability,
		preferred:    preferred,
		logger:       logger,
	}
}

// SetPreferred changes the tier consulted first by future resolutions.
func (r *DefaultResolver) SetPreferred(tier Tier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preferred = tier
}

func (r *DefaultResolver) Resolve(ctx context.Context, blockID string, pref Preference) (Tier, error) {
	r.mu.RLock()
	preferred := r.preferred
	r.mu.RUnlock()

	state, err := r.availability.Get(ctx, preferred)
	if err == nil && state.Status == StatusHealthy {
		return preferred, nil
	}

	all, err := r.availability.ListAll(ctx)
	if err != nil {
		return "", fmt.Errorf("storagetier: failed to list tiers during fallback: %w", err)
	}
	tier, err := pickHealthyTier(all, blockID, pref)
	if err != nil {
		return "", err
	}
	return tier, nil
}

// pickHealthyTier deterministically selects among the healthy tiers using
// a hash of the block id (and any caller preference bytes) so the same
// inputs always resolve to the same tier.
func pickHealthyTier(tiers []TierState, blockID string, pref Preference) (Tier, error) {
	var healthy []Tier
	for _, t := range tiers {
		if t.Status == StatusHealthy {
			healthy = append(healthy, t.Tier)
		}
	}
	if len(healthy) == 0 {
		return "", fmt.Errorf("storagetier: no healthy tiers available")
	}
	// Availability implementations may list tiers in any order.
	sort.Slice(healthy, func(i, j int) bool { return healthy[i] < healthy[j] })

	key := append([]byte(blockID), pref...)
	h := farm.Hash32(key)
	return healthy[int(h)%len(healthy)], nil
}
