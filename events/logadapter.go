package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/warp/ledger-engine/logger"
)

// watermillLogger routes watermill's logs into the service logger.
type watermillLogger struct {
	log *logger.Logger
}

// NewWatermillLogger adapts a logger.Logger to watermill.LoggerAdapter.
func NewWatermillLogger(log *logger.Logger) watermill.LoggerAdapter {
	if log == nil {
		log = logger.NewNop()
	}
	return &watermillLogger{log: log}
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.log.Errorw(msg, append(flatten(fields), "error", err)...)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.log.Infow(msg, flatten(fields)...)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.log.Debugw(msg, flatten(fields)...)
}

// Trace is noisy; it goes to debug.
func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.log.Debugw(msg, flatten(fields)...)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{log: w.log.With(flatten(fields)...)}
}

func flatten(fields watermill.LogFields) []any {
	out := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}
