package util

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// NewLogger returns the application logger. Outside production it writes
// human readable console lines; in production it writes JSON.
func NewLogger(appEnv string) zerolog.Logger {
	return newLogger(os.Stdout, appEnv)
}

func newLogger(out io.Writer, appEnv string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "test" {
		level = zerolog.WarnLevel
	}

	if appEnv != "production" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05", NoColor: true}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
