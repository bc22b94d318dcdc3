package blockmgr

import "context"

type lockAttemptResult struct {
	info *BlockInfo
	ok   bool
}

// LockForReadingCtx is the optional cancellable extension to
// LockForReading that SPEC_FULL.md §5 permits without requiring: it
// behaves like LockForReading(ctx, blockID, blocking=true) but returns
// ctx.Err() promptly if ctx is cancelled while parked, instead of
// waiting indefinitely for the lock to become available.
//
// Cancellation never corrupts manager state. Internally, a waiter
// goroutine parks on the real blocking call exactly as an
// uncancellable caller would; this goroutine races that completion
// against ctx.Done(). If ctx wins the race, the waiter goroutine is left
// to run to completion: should it eventually succeed, the lock it
// acquired is immediately released on the caller's behalf, since the
// caller that asked for it is no longer waiting. ctx.Value lookups (used
// to resolve the task attempt id) remain valid even after ctx is
// cancelled, so the eventual release is still attributed to the right
// task.
func (m *BlockInfoManager) LockForReadingCtx(ctx context.Context, blockID BlockID) (*BlockInfo, error) {
	ch := make(chan lockAttemptResult, 1)
	go func() {
		info, ok := m.LockForReading(ctx, blockID, true)
		ch <- lockAttemptResult{info, ok}
	}()

	select {
	case r := <-ch:
		if !r.ok {
			return nil, &NotFoundError{Block: blockID}
		}
		return r.info, nil
	case <-ctx.Done():
		go m.abandonIfAcquired(ctx, blockID, ch)
		return nil, ctx.Err()
	}
}

// LockForWritingCtx is the write-lock counterpart of LockForReadingCtx.
func (m *BlockInfoManager) LockForWritingCtx(ctx context.Context, blockID BlockID) (*BlockInfo, error) {
	ch := make(chan lockAttemptResult, 1)
	go func() {
		info, ok := m.LockForWriting(ctx, blockID, true)
		ch <- lockAttemptResult{info, ok}
	}()

	select {
	case r := <-ch:
		if !r.ok {
			return nil, &NotFoundError{Block: blockID}
		}
		return r.info, nil
	case <-ctx.Done():
		go m.abandonIfAcquired(ctx, blockID, ch)
		return nil, ctx.Err()
	}
}

func (m *BlockInfoManager) abandonIfAcquired(ctx context.Context, blockID BlockID, ch <-chan lockAttemptResult) {
	r := <-ch
	if r.ok {
		_ = m.Unlock(ctx, blockID)
	}
}
