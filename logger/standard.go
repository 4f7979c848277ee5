package logger

import (
	"context"
	"os"

	logging "github.com/keybase/go-logging"
)

// Standard is a Logger backed by keybase/go-logging, writing to stderr.
type Standard struct {
	internal *logging.Logger
}

var _ Logger = (*Standard)(nil)

var format = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{level:.4s} %{shortfile} %{message}`,
)

// New makes a new Standard logger for the given module name. Debug output is
// suppressed unless debug is true.
func New(module string, debug bool) *Standard {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	leveled := logging.AddModuleLevel(logging.NewBackendFormatter(backend, format))
	if debug {
		leveled.SetLevel(logging.DEBUG, module)
	} else {
		leveled.SetLevel(logging.INFO, module)
	}
	internal := logging.MustGetLogger(module)
	internal.SetBackend(leveled)
	return &Standard{internal: internal}
}

func (s *Standard) Debug(format string, args ...interface{}) {
	s.internal.Debugf(format, args...)
}

func (s *Standard) Info(format string, args ...interface{}) {
	s.internal.Infof(format, args...)
}

func (s *Standard) Warning(format string, args ...interface{}) {
	s.internal.Warningf(format, args...)
}

func (s *Standard) Error(format string, args ...interface{}) {
	s.internal.Errorf(format, args...)
}

func (s *Standard) Errorf(format string, args ...interface{}) {
	s.internal.Errorf(format, args...)
}

func (s *Standard) CDebugf(ctx context.Context, format string, args ...interface{}) {
	s.internal.Debugf(format, args...)
}

func (s *Standard) CInfof(ctx context.Context, format string, args ...interface{}) {
	s.internal.Infof(format, args...)
}

func (s *Standard) CWarningf(ctx context.Context, format string, args ...interface{}) {
	s.internal.Warningf(format, args...)
}

func (s *Standard) CErrorf(ctx context.Context, format string, args ...interface{}) {
	s.internal.Errorf(format, args...)
}

func (s *Standard) CloneWithAddedDepth(depth int) Logger {
	clone := *s.internal
	clone.ExtraCalldepth += depth
	return &Standard{internal: &clone}
}
