package utils

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Log is the process wide logger. It starts at info level on stderr until SetLogger is called.
var Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.InfoLevel)

// SetLogger configures Log. debug can also be forced with ARKIMAGE_DEBUG.
func SetLogger(debug bool) {
	SetLoggerWithOutput(os.Stderr, debug)
}

func SetLoggerWithOutput(out io.Writer, debug bool) {
	level := zerolog.InfoLevel
	if debug || os.Getenv("ARKIMAGE_DEBUG") != "" {
		level = zerolog.DebugLevel
	}
	Log = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger().Level(level)
}
