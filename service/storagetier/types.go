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

const (
	StatusInvalid Status = iota
	StatusHealthy
	StatusDrained
)

// Tier is a storage tier a block can be requested on, such as "memory",
// "disk", or "replicated". It is intentionally opaque to service/blockmgr,
// which only ever carries it around as a blockmgr.StorageLevel.
type Tier string

// Status is whether a tier is currently accepting new blocks.
type Status int

// Preference is the caller's opaque hint at creation time, encoded the
// same loosely-typed way the teacher's PartitionConfig carried
// workflow-start routing hints: intentionally just bytes, decoded only
// by the resolver that understands the encoding in use.
type Preference []byte

// TierState pairs a tier with its current status.
type TierState struct {
	Tier   Tier
	Status Status
}
