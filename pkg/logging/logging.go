// Package logging provides the process-wide zerolog logger plus a Hook that
// mirrors qualifying records onto the CMDP publisher.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Init creates a console logger at the given level. Supported levels:
// trace, debug, info, warn, error. Defaults to info.
func Init(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
	).Level(lvl).With().Timestamp().Logger()
}

// CMDPSink is the narrow interface the hook needs from a cmdp.Publisher,
// kept separate to avoid an import cycle between pkg/logging and
// internal/cmdp.
type CMDPSink interface {
	Log(level, domain string, payload []byte) error
}

// CMDPHook forwards every log record at or above Threshold to sink as a
// LOG/<level>/<domain> publication. It is added to a logger with Logger.Hook
// and runs synchronously on the calling goroutine, so Write should not
// block; internal/cmdp.Publisher.Publish is a non-blocking PUB send.
type CMDPHook struct {
	Sink      CMDPSink
	Domain    string
	Threshold zerolog.Level
}

// Run implements zerolog.Hook.
func (h CMDPHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	if h.Sink == nil || level < h.Threshold || level == zerolog.NoLevel {
		return
	}
	if err := h.Sink.Log(level.String(), h.Domain, []byte(msg)); err != nil {
		// Deliberately not logged through the same logger: a failure here
		// would otherwise recurse back into this hook.
		return
	}
}
