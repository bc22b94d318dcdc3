package blockmgr

import "fmt"

// AlreadyRegisteredError is returned by RegisterTask when the given task
// attempt id already has holdings registered.
type AlreadyRegisteredError struct {
	Task TaskAttemptID
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("task %d is already registered", e.Task)
}

// NotFoundError is returned by Unlock, AssertBlockIsLockedForWriting and
// RemoveBlock when the referenced block has no BlockInfo.
type NotFoundError struct {
	Block BlockID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("block %q not found", string(e.Block))
}

// NotOwnedError is returned when a write-protected operation is invoked
// by a task that does not currently hold the write lock on the block.
type NotOwnedError struct {
	Block   BlockID
	Task    TaskAttemptID
	OwnedBy TaskAttemptID
}

func (e *NotOwnedError) Error() string {
	return fmt.Sprintf("task %d does not hold the write lock on block %q (held by %d)", e.Task, string(e.Block), e.OwnedBy)
}

// InvariantViolation indicates that a data-model invariant has been
// broken. This is a programming error in this package; recovering from
// it is not supported and callers should treat it as fatal to the
// process, as spec'd: invariant checks protect correctness guarantees
// that the rest of the storage layer depends on.
type InvariantViolation struct {
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("block info manager invariant violated: %s", e.Reason)
}
