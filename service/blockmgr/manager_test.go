package blockmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func ctxFor(task TaskAttemptID) context.Context {
	return WithTaskAttemptID(context.Background(), task)
}

func newTestManager() *BlockInfoManager {
	return NewBlockInfoManager(ContextTaskAttemptID, nil, nil)
}

func mustRegister(t *testing.T, m *BlockInfoManager, task TaskAttemptID) {
	t.Helper()
	require.NoError(t, m.RegisterTask(task))
}

func TestFreshWriteThenRead(t *testing.T) {
	m := newTestManager()
	mustRegister(t, m, 1)
	mustRegister(t, m, 2)

	ok := m.LockNewBlockForWriting(ctxFor(1), "b", NewBlockInfo("memory", "tag", false, 10))
	require.True(t, ok)

	_, present := m.LockForReading(ctxFor(2), "b", false)
	assert.False(t, present, "writer present, non-blocking read must fail")

	require.NoError(t, m.Unlock(ctxFor(1), "b"))

	info, present := m.LockForReading(ctxFor(2), "b", false)
	require.True(t, present)
	assert.Equal(t, 1, info.ReaderCount)
}

func TestReentrantRead(t *testing.T) {
	m := newTestManager()
	mustRegister(t, m, 1)
	mustRegister(t, m, 2)
	require.True(t, m.LockNewBlockForWriting(ctxFor(2), "b", NewBlockInfo("memory", "tag", false, 1)))
	require.NoError(t, m.Unlock(ctxFor(2), "b"))

	info1, ok := m.LockForReading(ctxFor(1), "b", false)
	require.True(t, ok)
	info2, ok := m.LockForReading(ctxFor(1), "b", false)
	require.True(t, ok)
	assert.Same(t, info1, info2)
	assert.Equal(t, 2, info1.ReaderCount)

	require.NoError(t, m.Unlock(ctxFor(1), "b"))
	assert.Equal(t, 1, info1.ReaderCount)

	released := m.ReleaseAllLocksForTask(1)
	assert.ElementsMatch(t, []BlockID{"b"}, released)
	assert.Equal(t, 0, info1.ReaderCount)
}

func TestRaceOnCreation(t *testing.T) {
	m := newTestManager()
	for i := TaskAttemptID(1); i <= 3; i++ {
		mustRegister(t, m, i)
	}

	var g errgroup.Group
	wins := make(chan TaskAttemptID, 3)
	for i := TaskAttemptID(1); i <= 3; i++ {
		task := i
		g.Go(func() error {
			info := NewBlockInfo("memory", "tag", false, int64(task))
			if m.LockNewBlockForWriting(ctxFor(task), "b", info) {
				wins <- task
				time.Sleep(5 * time.Millisecond)
				return m.Unlock(ctxFor(task), "b")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(wins)

	var winners []TaskAttemptID
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1, "exactly one task should win the race")

	info, ok := m.Get("b")
	require.True(t, ok)
	assert.Equal(t, int64(winners[0]), info.Size, "the surviving BlockInfo must be the winner's")
}

func TestDowngradePublication(t *testing.T) {
	m := newTestManager()
	for i := TaskAttemptID(1); i <= 3; i++ {
		mustRegister(t, m, i)
	}
	require.True(t, m.LockNewBlockForWriting(ctxFor(1), "b", NewBlockInfo("memory", "tag", false, 1)))
	require.NoError(t, m.DowngradeLock(ctxFor(1), "b"))

	_, ok := m.LockForReading(ctxFor(2), "b", false)
	assert.True(t, ok)

	_, ok = m.LockForWriting(ctxFor(3), "b", false)
	assert.False(t, ok)
}

func TestTaskFailureCleanup(t *testing.T) {
	m := newTestManager()
	mustRegister(t, m, 1)
	mustRegister(t, m, 2)

	require.True(t, m.LockNewBlockForWriting(ctxFor(1), "b1", NewBlockInfo("memory", "t", false, 1)))
	require.True(t, m.LockNewBlockForWriting(ctxFor(2), "b2", NewBlockInfo("memory", "t", false, 1)))
	require.NoError(t, m.Unlock(ctxFor(2), "b2"))
	_, ok := m.LockForReading(ctxFor(1), "b2", false)
	require.True(t, ok)
	_, ok = m.LockForReading(ctxFor(1), "b2", false)
	require.True(t, ok)

	released := m.ReleaseAllLocksForTask(1)
	assert.ElementsMatch(t, []BlockID{"b1", "b2"}, released)

	b1, _ := m.Get("b1")
	assert.Equal(t, NoWriter, b1.WriterTask)
	b2, _ := m.Get("b2")
	assert.Equal(t, 0, b2.ReaderCount)
}

func TestRemoveRequiresWrite(t *testing.T) {
	m := newTestManager()
	mustRegister(t, m, 1)
	require.True(t, m.LockNewBlockForWriting(ctxFor(1), "b", NewBlockInfo("memory", "t", false, 1)))
	require.NoError(t, m.Unlock(ctxFor(1), "b"))

	_, ok := m.LockForReading(ctxFor(1), "b", false)
	require.True(t, ok)

	err := m.RemoveBlock(ctxFor(1), "b")
	var notOwned *NotOwnedError
	require.ErrorAs(t, err, &notOwned)

	require.NoError(t, m.Unlock(ctxFor(1), "b"))
	_, ok = m.LockForWriting(ctxFor(1), "b", false)
	require.True(t, ok)

	require.NoError(t, m.RemoveBlock(ctxFor(1), "b"))
	_, ok = m.Get("b")
	assert.False(t, ok)
}

func TestLockForReadingAbsentBlock(t *testing.T) {
	m := newTestManager()
	mustRegister(t, m, 1)
	_, ok := m.LockForReading(ctxFor(1), "missing", false)
	assert.False(t, ok)
}

func TestUnlockUnknownBlockFails(t *testing.T) {
	m := newTestManager()
	mustRegister(t, m, 1)
	err := m.Unlock(ctxFor(1), "missing")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestAssertBlockIsLockedForWriting(t *testing.T) {
	m := newTestManager()
	mustRegister(t, m, 1)
	mustRegister(t, m, 2)

	_, err := m.AssertBlockIsLockedForWriting(ctxFor(1), "b")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	require.True(t, m.LockNewBlockForWriting(ctxFor(1), "b", NewBlockInfo("memory", "t", false, 1)))

	_, err = m.AssertBlockIsLockedForWriting(ctxFor(2), "b")
	var no *NotOwnedError
	require.ErrorAs(t, err, &no)

	info, err := m.AssertBlockIsLockedForWriting(ctxFor(1), "b")
	require.NoError(t, err)
	assert.Equal(t, TaskAttemptID(1), info.WriterTask)
}

func TestRegisterTaskTwiceFails(t *testing.T) {
	m := newTestManager()
	mustRegister(t, m, 1)
	err := m.RegisterTask(1)
	var already *AlreadyRegisteredError
	assert.ErrorAs(t, err, &already)
}

func TestClearResetsStateAndReregistersNonTaskWriter(t *testing.T) {
	m := newTestManager()
	mustRegister(t, m, 1)
	require.True(t, m.LockNewBlockForWriting(ctxFor(1), "b", NewBlockInfo("memory", "t", false, 1)))

	m.Clear()

	assert.Equal(t, 0, m.Size())
	_, ok := m.Get("b")
	assert.False(t, ok)

	// NonTaskWriter must still be usable immediately after Clear.
	require.True(t, m.LockNewBlockForWriting(ctxFor(NonTaskWriter), "c", NewBlockInfo("memory", "t", false, 1)))
}

func TestBlockingLockForReadingWakesOnUnlock(t *testing.T) {
	m := newTestManager()
	mustRegister(t, m, 1)
	mustRegister(t, m, 2)
	require.True(t, m.LockNewBlockForWriting(ctxFor(1), "b", NewBlockInfo("memory", "t", false, 1)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		info, ok := m.LockForReading(ctxFor(2), "b", true)
		if ok {
			_ = info
		}
	}()

	select {
	case <-done:
		t.Fatal("blocking read returned before the writer released the lock")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, m.Unlock(ctxFor(1), "b"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocking read never woke up after unlock")
	}
}

func TestLockForReadingCtxCancellation(t *testing.T) {
	m := newTestManager()
	mustRegister(t, m, 1)
	mustRegister(t, m, 2)
	require.True(t, m.LockNewBlockForWriting(ctxFor(1), "b", NewBlockInfo("memory", "t", false, 1)))

	ctx, cancel := context.WithTimeout(ctxFor(2), 20*time.Millisecond)
	defer cancel()

	_, err := m.LockForReadingCtx(ctx, "b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The manager must still be internally consistent after a cancelled
	// wait, once the abandoned waiter goroutine has had a chance to
	// observe the writer's release and self-unlock.
	require.NoError(t, m.Unlock(ctxFor(1), "b"))
	require.Eventually(t, func() bool {
		info, ok := m.Get("b")
		return ok && info.ReaderCount == 0 && info.WriterTask == NoWriter
	}, time.Second, time.Millisecond)
}

func TestSizeAndEntries(t *testing.T) {
	m := newTestManager()
	mustRegister(t, m, 1)
	require.True(t, m.LockNewBlockForWriting(ctxFor(1), "a", NewBlockInfo("memory", "t", false, 1)))
	require.True(t, m.LockNewBlockForWriting(ctxFor(1), "b", NewBlockInfo("memory", "t", false, 1)))

	assert.Equal(t, 2, m.Size())
	assert.Equal(t, 2, m.GetNumberOfMapEntries())

	entries := m.Entries()
	assert.Len(t, entries, 2)
	assert.Contains(t, entries, BlockID("a"))
	assert.Contains(t, entries, BlockID("b"))
}
