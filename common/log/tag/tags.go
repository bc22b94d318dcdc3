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

// Package tag holds the structured logging fields used across this
// module, following a "constructor function returns a Tag" convention.
package tag

import "go.uber.org/zap"

// Tag is a single structured logging field.
type Tag struct {
	field zap.Field
}

// Field returns the underlying zap field, for Logger implementations.
func (t Tag) Field() zap.Field {
	return t.field
}

func newTag(f zap.Field) Tag {
	return Tag{field: f}
}

// BlockID identifies the block an operation concerns.
func BlockID(id string) Tag {
	return newTag(zap.String("block-id", id))
}

// TaskID identifies the task attempt an operation concerns.
func TaskID(id int64) Tag {
	return newTag(zap.Int64("task-id", id))
}

// OwnerTaskID identifies the task attempt that currently owns a lock.
func OwnerTaskID(id int64) Tag {
	return newTag(zap.Int64("owner-task-id", id))
}

// Error carries an error value.
func Error(err error) Tag {
	return newTag(zap.Error(err))
}

// Number is a generic counter/measurement field.
func Number(n int64) Tag {
	return newTag(zap.Int64("number", n))
}

// Operation names the manager operation being logged.
func Operation(name string) Tag {
	return newTag(zap.String("operation", name))
}

// Blocking records whether a lock call was made in blocking mode.
func Blocking(b bool) Tag {
	return newTag(zap.Bool("blocking", b))
}

// Reason carries a free-form explanation, used on invariant failures.
func Reason(reason string) Tag {
	return newTag(zap.String("reason", reason))
}

// RunID identifies one run of a driver program, such as cmd/blockguard-demo.
func RunID(id string) Tag {
	return newTag(zap.String("run-id", id))
}
