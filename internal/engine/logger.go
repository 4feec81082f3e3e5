package engine

import (
	"fmt"

	"github.com/pion/logging"

	"github.com/1ureka/p2pchan/internal/util"
)

// NewLoggerFactory returns a pion LoggerFactory that writes through the pterm
// logger. pion is chatty, so its levels are shifted down one step: its info
// and debug output only appears with trace enabled, and its errors (which
// are mostly teardown noise) surface as warnings.
func NewLoggerFactory() logging.LoggerFactory {
	return loggerFactory{}
}

type loggerFactory struct{}

func (loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return scopedLogger{scope: scope}
}

type scopedLogger struct {
	scope string
}

func (l scopedLogger) line(msg string) string {
	return fmt.Sprintf("[pion/%s] %s", l.scope, msg)
}

// pion emits these at a high rate; skip formatting unless trace is shown.

func (l scopedLogger) Trace(msg string) { l.trace(msg) }
func (l scopedLogger) Tracef(format string, args ...interface{}) {
	l.tracef(format, args...)
}

func (l scopedLogger) Debug(msg string) { l.trace(msg) }
func (l scopedLogger) Debugf(format string, args ...interface{}) {
	l.tracef(format, args...)
}

func (l scopedLogger) Info(msg string) { l.trace(msg) }
func (l scopedLogger) Infof(format string, args ...interface{}) {
	l.tracef(format, args...)
}

func (l scopedLogger) trace(msg string) {
	if util.TraceEnabled() {
		util.LogTrace("%s", l.line(msg))
	}
}

func (l scopedLogger) tracef(format string, args ...interface{}) {
	if util.TraceEnabled() {
		util.LogTrace("%s", l.line(fmt.Sprintf(format, args...)))
	}
}

func (l scopedLogger) Warn(msg string) { util.LogDebug("%s", l.line(msg)) }
func (l scopedLogger) Warnf(format string, args ...interface{}) {
	util.LogDebug("%s", l.line(fmt.Sprintf(format, args...)))
}

func (l scopedLogger) Error(msg string) { util.LogWarning("%s", l.line(msg)) }
func (l scopedLogger) Errorf(format string, args ...interface{}) {
	util.LogWarning("%s", l.line(fmt.Sprintf(format, args...)))
}
