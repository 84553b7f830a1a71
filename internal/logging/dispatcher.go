package logging

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/opendrakan/statesync/pkg/core"
)

// badKey holds a trailing value that has no key, as slog does.
const badKey = "!BADKEY"

// DispatcherLogger writes dispatcher.Logger calls to a zerolog.Logger.
// Simulation ids are written as numbers rather than through reflection.
type DispatcherLogger struct {
	logger zerolog.Logger
}

func NewDispatcherLogger(logger zerolog.Logger) *DispatcherLogger {
	return &DispatcherLogger{logger: logger}
}

func (l *DispatcherLogger) Debug(msg string, keysAndValues ...any) {
	write(l.logger.Debug(), msg, keysAndValues)
}

func (l *DispatcherLogger) Info(msg string, keysAndValues ...any) {
	write(l.logger.Info(), msg, keysAndValues)
}

func (l *DispatcherLogger) Error(msg string, keysAndValues ...any) {
	write(l.logger.Error(), msg, keysAndValues)
}

// write is a no-op for events below the logger's level; zerolog returns nil
// for those.
func write(e *zerolog.Event, msg string, kv []any) {
	if e == nil {
		return
	}
	for len(kv) > 0 {
		if len(kv) == 1 {
			e.Interface(badKey, kv[0])
			break
		}
		key, ok := kv[0].(string)
		if !ok {
			key = fmt.Sprint(kv[0])
		}
		field(e, key, kv[1])
		kv = kv[2:]
	}
	e.Msg(msg)
}

func field(e *zerolog.Event, key string, v any) {
	switch v := v.(type) {
	case error:
		e.AnErr(key, v)
	case core.TickNumber:
		e.Int64(key, int64(v))
	case core.ClientId:
		e.Int32(key, int32(v))
	case core.LevelObjectId:
		e.Uint32(key, uint32(v))
	case core.MessageChannelCode:
		e.Uint16(key, uint16(v))
	case core.ActionCode:
		e.Uint16(key, uint16(v))
	case time.Duration:
		e.Dur(key, v)
	default:
		e.Interface(key, v)
	}
}
