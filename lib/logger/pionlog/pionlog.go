// Package pionlog routes pion's internal logging into slog.
package pionlog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// Factory implements logging.LoggerFactory on top of a slog.Logger.
// Pion's trace level is mapped to debug.
type Factory struct {
	log *slog.Logger
}

func NewFactory(log *slog.Logger) *Factory {
	if log == nil {
		log = slog.Default()
	}
	return &Factory{log: log}
}

func (f *Factory) NewLogger(scope string) logging.LeveledLogger {
	return &leveled{log: f.log.With(slog.String("pion", scope))}
}

type leveled struct {
	log *slog.Logger
}

func (l *leveled) emit(level slog.Level, msg string) {
	l.log.Log(context.Background(), level, msg)
}

func (l *leveled) Trace(msg string) { l.emit(slog.LevelDebug, msg) }
func (l *leveled) Tracef(format string, args ...interface{}) {
	l.emit(slog.LevelDebug, fmt.Sprintf(format, args...))
}
func (l *leveled) Debug(msg string) { l.emit(slog.LevelDebug, msg) }
func (l *leveled) Debugf(format string, args ...interface{}) {
	l.emit(slog.LevelDebug, fmt.Sprintf(format, args...))
}
func (l *leveled) Info(msg string) { l.emit(slog.LevelInfo, msg) }
func (l *leveled) Infof(format string, args ...interface{}) {
	l.emit(slog.LevelInfo, fmt.Sprintf(format, args...))
}
func (l *leveled) Warn(msg string) { l.emit(slog.LevelWarn, msg) }
func (l *leveled) Warnf(format string, args ...interface{}) {
	l.emit(slog.LevelWarn, fmt.Sprintf(format, args...))
}
func (l *leveled) Error(msg string) { l.emit(slog.LevelError, msg) }
func (l *leveled) Errorf(format string, args ...interface{}) {
	l.emit(slog.LevelError, fmt.Sprintf(format, args...))
}
