// Package zap writes job log entries to a zap logger.
package zap

import (
	"sort"

	"github.com/aescanero/modjob/pkg/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sink implements ports.LogSink on top of a zap logger
type Sink struct {
	logger *zap.Logger
}

// NewSink creates a log sink writing through logger
func NewSink(logger *zap.Logger) *Sink {
	return &Sink{logger: logger.Named("jobs")}
}

// Log writes entry at the zap level matching entry.Level. Success entries
// are written at info level with an outcome field.
func (s *Sink) Log(entry domain.LogEntry) {
	level := levelOf(entry.Level)
	ce := s.logger.Check(level, entry.Message)
	if ce == nil {
		return
	}

	fields := make([]zap.Field, 0, len(entry.Data)+2)
	fields = append(fields, zap.String("category", entry.Category))
	if entry.Level == domain.LogLevelSuccess {
		fields = append(fields, zap.String("outcome", "success"))
	}

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.Any(k, entry.Data[k]))
	}

	ce.Write(fields...)
}

func levelOf(level domain.LogLevel) zapcore.Level {
	switch level {
	case domain.LogLevelDebug:
		return zapcore.DebugLevel
	case domain.LogLevelWarn:
		return zapcore.WarnLevel
	case domain.LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
