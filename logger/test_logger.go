package logger

import (
	"context"
	"fmt"
	"testing"
)

// TestLogger routes log output through testing.T so it shows up attached to
// the right test case.
type TestLogger struct {
	t testing.TB
}

func NewTestLogger(t testing.TB) *TestLogger {
	return &TestLogger{t: t}
}

var _ Logger = (*TestLogger)(nil)

func (l *TestLogger) log(level string, format string, args ...interface{}) {
	l.t.Helper()
	l.t.Logf("%s %s", level, fmt.Sprintf(format, args...))
}

func (l *TestLogger) Debug(format string, args ...interface{}) {
	l.log("[DEBU]", format, args...)
}

func (l *TestLogger) Info(format string, args ...interface{}) {
	l.log("[INFO]", format, args...)
}

func (l *TestLogger) Warning(format string, args ...interface{}) {
	l.log("[WARN]", format, args...)
}

func (l *TestLogger) Error(format string, args ...interface{}) {
	l.log("[ERRO]", format, args...)
}

func (l *TestLogger) Errorf(format string, args ...interface{}) {
	l.log("[ERRO]", format, args...)
}

func (l *TestLogger) CDebugf(ctx context.Context, format string, args ...interface{}) {
	l.log("[DEBU]", format, args...)
}

func (l *TestLogger) CInfof(ctx context.Context, format string, args ...interface{}) {
	l.log("[INFO]", format, args...)
}

func (l *TestLogger) CWarningf(ctx context.Context, format string, args ...interface{}) {
	l.log("[WARN]", format, args...)
}

func (l *TestLogger) CErrorf(ctx context.Context, format string, args ...interface{}) {
	l.log("[ERRO]", format, args...)
}

func (l *TestLogger) CloneWithAddedDepth(depth int) Logger { return l }
