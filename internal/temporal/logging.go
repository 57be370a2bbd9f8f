package temporal

import (
	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
)

// zerologAdapter bridges the Temporal SDK logger onto zerolog.
type zerologAdapter struct {
	logger zerolog.Logger
}

func NewLogAdapter(logger zerolog.Logger) log.Logger {
	return &zerologAdapter{logger: logger.With().Str("component", "temporal").Logger()}
}

func (a *zerologAdapter) emit(event *zerolog.Event, msg string, keyvals []interface{}) {
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "(missing)")
	}
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, keyvals[i+1])
	}
	event.Msg(msg)
}

func (a *zerologAdapter) Debug(msg string, keyvals ...interface{}) {
	a.emit(a.logger.Debug(), msg, keyvals)
}

func (a *zerologAdapter) Info(msg string, keyvals ...interface{}) {
	a.emit(a.logger.Info(), msg, keyvals)
}

func (a *zerologAdapter) Warn(msg string, keyvals ...interface{}) {
	a.emit(a.logger.Warn(), msg, keyvals)
}

func (a *zerologAdapter) Error(msg string, keyvals ...interface{}) {
	a.emit(a.logger.Error(), msg, keyvals)
}
