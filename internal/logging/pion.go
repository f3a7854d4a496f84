package logging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// levelTrace sits below debug; pion's trace output is only useful when
// chasing ICE problems.
const levelTrace = slog.LevelDebug - 4

// PionFactory routes pion's scoped loggers into slog.
type PionFactory struct {
	Logger *slog.Logger
}

var _ logging.LoggerFactory = PionFactory{}

// NewLogger implements logging.LoggerFactory.
func (f PionFactory) NewLogger(scope string) logging.LeveledLogger {
	l := f.Logger
	if l == nil {
		l = slog.Default()
	}
	return &pionLogger{log: l.With("component", "pion", "scope", scope)}
}

type pionLogger struct {
	log *slog.Logger
}

func (p *pionLogger) emit(level slog.Level, msg string) {
	p.log.Log(context.Background(), level, msg)
}

func (p *pionLogger) Trace(msg string) { p.emit(levelTrace, msg) }
func (p *pionLogger) Tracef(format string, args ...any) {
	p.emit(levelTrace, fmt.Sprintf(format, args...))
}
func (p *pionLogger) Debug(msg string) { p.emit(slog.LevelDebug, msg) }
func (p *pionLogger) Debugf(format string, args ...any) {
	p.emit(slog.LevelDebug, fmt.Sprintf(format, args...))
}
func (p *pionLogger) Info(msg string) { p.emit(slog.LevelInfo, msg) }
func (p *pionLogger) Infof(format string, args ...any) {
	p.emit(slog.LevelInfo, fmt.Sprintf(format, args...))
}
func (p *pionLogger) Warn(msg string) { p.emit(slog.LevelWarn, msg) }
func (p *pionLogger) Warnf(format string, args ...any) {
	p.emit(slog.LevelWarn, fmt.Sprintf(format, args...))
}
func (p *pionLogger) Error(msg string) { p.emit(slog.LevelError, msg) }
func (p *pionLogger) Errorf(format string, args ...any) {
	p.emit(slog.LevelError, fmt.Sprintf(format, args...))
}
