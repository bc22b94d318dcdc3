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

// Package log is the structured logging facade used throughout this
// module. It exists so call sites depend on a small interface instead of
// on zap directly, the way service/attemptid and service/blockmgr hold
// a log.Logger field rather than a concrete *zap.Logger.
package log

import (
	"github.com/uber/blockguard/common/log/tag"
	"go.uber.org/zap"
)

// Logger is the structured logging interface used across this module.
type Logger interface {
	Debug(msg string, tags ...tag.Tag)
	Info(msg string, tags ...tag.Tag)
	Warn(msg string, tags ...tag.Tag)
	Error(msg string, tags ...tag.Tag)
	Fatal(msg string, tags ...tag.Tag)
	// With returns a Logger that always includes the given tags.
	With(tags ...tag.Tag) Logger
}

type zapLogger struct {
	zap *zap.Logger
}

// NewLogger wraps a *zap.Logger as a Logger.
func NewLogger(zl *zap.Logger) Logger {
	return &zapLogger{zap: zl}
}

// NewNoop returns a Logger that discards everything, for tests and
// callers that don't care to wire a real sink.
func NewNoop() Logger {
	return NewLogger(zap.NewNop())
}

func fields(tags []tag.Tag) []zap.Field {
	fs := make([]zap.Field, len(tags))
	for i, t := range tags {
		fs[i] = t.Field()
	}
	return fs
}

func (l *zapLogger) Debug(msg string, tags ...tag.Tag) { l.zap.Debug(msg, fields(tags)...) }
func (l *zapLogger) Info(msg string, tags ...tag.Tag)  { l.zap.Info(msg, fields(tags)...) }
func (l *zapLogger) Warn(msg string, tags ...tag.Tag)  { l.zap.Warn(msg, fields(tags)...) }
func (l *zapLogger) Error(msg string, tags ...tag.Tag) { l.zap.Error(msg, fields(tags)...) }
func (l *zapLogger) Fatal(msg string, tags ...tag.Tag) { l.zap.Fatal(msg, fields(tags)...) }

func (l *zapLogger) With(tags ...tag.Tag) Logger {
	return &zapLogger{zap: l.zap.With(fields(tags)...)}
}
