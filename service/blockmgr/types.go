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

package blockmgr

// BlockID identifies a block. Opaque to this package: only equality and
// use as a map key are required of it.
type BlockID string

// StorageLevel is the caller-requested persistence tier for a block.
// Carried but never interpreted or compared beyond equality.
type StorageLevel string

// TaskAttemptID identifies one execution attempt of a computation unit.
// Task attempt ids are non-negative; the two sentinels below are the only
// legal negative values.
type TaskAttemptID int64

const (
	// NoWriter marks a BlockInfo as having no current writer.
	NoWriter TaskAttemptID = -1

	// NonTaskWriter stands in for the calling thread's attempt id when no
	// task context is active (driver thread, setup, shutdown, tests).
	NonTaskWriter TaskAttemptID = -1024
)

// BlockInfo is the mutable metadata record for one block. Direct field
// access is not safe for concurrent use; every read or mutation must
// happen while the owning BlockInfoManager's guard is held. Handles
// returned by the manager are shared references: once obtained they keep
// reflecting the manager's live state until the block is removed.
type BlockInfo struct {
	StorageLevel StorageLevel
	ClassTag     string
	TellMaster   bool
	Size         int64

	ReaderCount int
	WriterTask  TaskAttemptID
}

// NewBlockInfo constructs an unlocked BlockInfo with the given
// caller-supplied metadata. ReaderCount starts at zero and WriterTask
// starts at NoWriter; the manager is responsible for installing the
// actual lock state as part of LockNewBlockForWriting.
func NewBlockInfo(level StorageLevel, classTag string, tellMaster bool, size int64) *BlockInfo {
	return &BlockInfo{
		StorageLevel: level,
		ClassTag:     classTag,
		TellMaster:   tellMaster,
		Size:         size,
		ReaderCount:  0,
		WriterTask:   NoWriter,
	}
}

// assertCounts re-checks invariants (1)-(3) of the data model after any
// mutation that touches ReaderCount or WriterTask. A violation is a
// programming error in this package, not in caller code, and is fatal.
func (b *BlockInfo) assertCounts() {
	if b.ReaderCount < 0 {
		panic(&InvariantViolation{Reason: "reader count went negative"})
	}
	if b.ReaderCount > 0 && b.WriterTask != NoWriter {
		panic(&InvariantViolation{Reason: "readers and a writer coexist"})
	}
	if b.WriterTask != NoWriter && b.ReaderCount != 0 {
		panic(&InvariantViolation{Reason: "writer present with nonzero reader count"})
	}
}
