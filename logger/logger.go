// framepipe/logger/logger.go
package logger

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldInteger = false
	zerolog.DurationFieldUnit = time.Second
}

// termOut returns a ConsoleWriter on a tty or when console output is forced,
// otherwise plain JSON on stdout since we're assuming we run under docker.
func termOut(console bool) io.Writer {
	if console || isatty.IsTerminal(os.Stdout.Fd()) {
		return zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "2006-01-02T15:04:05.000000",
		}
	}

	return os.Stdout
}

// New returns a logger at the given level. Unknown levels fall back to info.
func New(level string, console bool) zerolog.Logger {
	return NewWithWriter(level, termOut(console))
}

// NewWithWriter is New with an explicit destination, mostly for tests.
func NewWithWriter(level string, w io.Writer) zerolog.Logger {
	zLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		zLevel = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(zLevel).
		With().Timestamp().Caller().
		Logger()
}
