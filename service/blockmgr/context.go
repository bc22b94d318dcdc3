package blockmgr

import "context"

// CurrentTaskAttemptIDFunc is the host-provided ambient context the
// manager uses to discover the calling thread's task attempt id. It is
// supplied once, at construction, and consulted at the start of every
// public operation; returning false (no active task context) maps to
// NonTaskWriter. This realizes the cooperative-runtime option called out
// by the original design notes: Go goroutines have no safe equivalent of
// a preemptive runtime's thread-local, so the attempt id travels as an
// explicit context.Context value instead.
type CurrentTaskAttemptIDFunc func(ctx context.Context) (TaskAttemptID, bool)

type taskAttemptIDKey struct{}

// WithTaskAttemptID returns a context carrying task as the current task
// attempt id, for use with ContextTaskAttemptID as a
// CurrentTaskAttemptIDFunc.
func WithTaskAttemptID(ctx context.Context, task TaskAttemptID) context.Context {
	return context.WithValue(ctx, taskAttemptIDKey{}, task)
}

// ContextTaskAttemptID is the default CurrentTaskAttemptIDFunc: it reads
// the task attempt id stashed by WithTaskAttemptID, if any.
func ContextTaskAttemptID(ctx context.Context) (TaskAttemptID, bool) {
	task, ok := ctx.Value(taskAttemptIDKey{}).(TaskAttemptID)
	return task, ok
}

func (m *BlockInfoManager) currentTask(ctx context.Context) TaskAttemptID {
	if m.currentTaskFn == nil {
		return NonTaskWriter
	}
	if task, ok := m.currentTaskFn(ctx); ok {
		return task
	}
	return NonTaskWriter
}
