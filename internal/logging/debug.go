package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DebugLogger receives tagged protocol debug records.
type DebugLogger interface {
	DebugLog(code, message string)
}

// Zerolog writes debug records to a zerolog.Logger at debug level.
type Zerolog struct {
	logger zerolog.Logger
}

func NewZerolog(l zerolog.Logger) *Zerolog {
	return &Zerolog{logger: l}
}

// Default returns a sink bound to the process logger as it is at call time.
func Default() *Zerolog {
	return NewZerolog(log.Logger)
}

func (z *Zerolog) DebugLog(code, message string) {
	z.logger.Debug().Str("code", code).Msg(message)
}

// Logger exposes the underlying logger for non-debug records.
func (z *Zerolog) Logger() zerolog.Logger {
	return z.logger
}

// Func adapts a plain function to DebugLogger.
type Func func(code, message string)

func (f Func) DebugLog(code, message string) { f(code, message) }
