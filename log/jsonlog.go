package log

import (
	"fmt"
	"io"
	"log/slog"
)

// JSONlog is a structured JSON logger that satisfies the Logger interface
type JSONlog struct {
	level Level
	log   *slog.Logger
}

// NewJSON returns a new JSONlog type that satisfies the Logger interface
func NewJSON(output io.Writer, level Level) *JSONlog {
	logOpts := slog.HandlerOptions{}
	switch level {
	case LevelDebug:
		logOpts.Level = slog.LevelDebug
	case LevelInfo:
		logOpts.Level = slog.LevelInfo
	case LevelWarn:
		logOpts.Level = slog.LevelWarn
	case LevelError:
		logOpts.Level = slog.LevelError
	default:
		logOpts.Level = slog.LevelDebug
	}
	logHandler := slog.NewJSONHandler(output, &logOpts)
	return &JSONlog{
		level: level,
		log:   slog.New(logHandler),
	}
}

// Debugf logs a debug message via the structured JSON logger
func (l *JSONlog) Debugf(entry Log) {
	if l.level >= LevelDebug {
		l.log.WithGroup(DirString).With(
			slog.String(DirFromString, entry.directionFrom()),
			slog.String(DirToString, entry.directionTo()),
		).Debug(fmt.Sprintf(entry.Format, entry.Messages...))
	}
}

// Infof logs an info message via the structured JSON logger
func (l *JSONlog) Infof(entry Log) {
	if l.level >= LevelInfo {
		l.log.WithGroup(DirString).With(
			slog.String(DirFromString, entry.directionFrom()),
			slog.String(DirToString, entry.directionTo()),
		).Info(fmt.Sprintf(entry.Format, entry.Messages...))
	}
}

// Warnf logs a warn message via the structured JSON logger
func (l *JSONlog) Warnf(entry Log) {
	if l.level >= LevelWarn {
		l.log.WithGroup(DirString).With(
			slog.String(DirFromString, entry.directionFrom()),
			slog.String(DirToString, entry.directionTo()),
		).Warn(fmt.Sprintf(entry.Format, entry.Messages...))
	}
}

// Errorf logs an error message via the structured JSON logger
func (l *JSONlog) Errorf(entry Log) {
	if l.level >= LevelError {
		l.log.WithGroup(DirString).With(
			slog.String(DirFromString, entry.directionFrom()),
			slog.String(DirToString, entry.directionTo()),
		).Error(fmt.Sprintf(entry.Format, entry.Messages...))
	}
}
