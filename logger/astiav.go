// astiav.go bridges the engine's logging into the belt logger.

package logger

import (
	"context"
	"strings"

	"github.com/asticode/go-astiav"
)

func LevelToAstiav(l Level) astiav.LogLevel {
	switch l {
	case LevelFatal:
		return astiav.LogLevelFatal
	case LevelPanic:
		return astiav.LogLevelPanic
	case LevelError:
		return astiav.LogLevelError
	case LevelWarning:
		return astiav.LogLevelWarning
	case LevelInfo:
		return astiav.LogLevelInfo
	case LevelDebug:
		return astiav.LogLevelVerbose
	case LevelTrace:
		return astiav.LogLevelDebug
	}
	return astiav.LogLevelInfo
}

func LevelFromAstiav(l astiav.LogLevel) Level {
	switch l {
	case astiav.LogLevelPanic:
		return LevelPanic
	case astiav.LogLevelFatal:
		return LevelFatal
	case astiav.LogLevelError:
		return LevelError
	case astiav.LogLevelWarning:
		return LevelWarning
	case astiav.LogLevelInfo:
		return LevelInfo
	case astiav.LogLevelVerbose:
		return LevelDebug
	case astiav.LogLevelDebug:
		return LevelTrace
	}
	return LevelInfo
}

// SetEngineLogCallback relays the engine's log lines into the logger
// stored in ctx and aligns the engine's log level with the logger's.
//
// The engine invokes the callback from its own internal threads, so the
// sink must be safe for concurrent use (the belt loggers are). A caller
// installing its own astiav callback with a thread-bound sink must drop
// lines arriving on foreign threads instead.
func SetEngineLogCallback(ctx context.Context) {
	l := FromCtx(ctx)
	astiav.SetLogLevel(LevelToAstiav(l.Level()))
	astiav.SetLogCallback(func(c astiav.Classer, level astiav.LogLevel, format, msg string) {
		var cs string
		if c != nil {
			if cl := c.Class(); cl != nil {
				cs = " - class: " + cl.String()
			}
		}
		l.Logf(LevelFromAstiav(level), "%s%s", strings.TrimSpace(msg), cs)
	})
}
