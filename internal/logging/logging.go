// Package logging provides the process-wide structured logger used by every
// recorder subsystem: a package-level zerolog.Logger, an Init function
// called once from main, and a per-subsystem helper so log lines carry the
// component they came from.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// Log is the global logger. It starts disabled so accidental use before Init
// does not spam stdout during tests.
var Log zerolog.Logger = zerolog.New(nil).Level(zerolog.Disabled)

// Subsystem tags log lines with the component that emitted them.
type Subsystem string

const (
	Transport  Subsystem = "transport"
	SyncEngine Subsystem = "sync"
	Snapshot   Subsystem = "snapshot"
	Writer     Subsystem = "writer"
	Recorder   Subsystem = "recorder"
	OrderBook  Subsystem = "orderbook"
)

// Init configures the global logger. human=true renders a console writer
// suitable for a terminal; human=false emits newline-delimited JSON suitable for
// log aggregation.
func Init(level zerolog.Level, human bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	zerolog.SetGlobalLevel(level)

	if human {
		Log = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05.000000",
		}).With().Timestamp().Logger()
		return
	}
	Log = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// For returns a sub-logger with the subsystem field pre-populated.
func For(s Subsystem) zerolog.Logger {
	return Log.With().Str("subsystem", string(s)).Logger()
}
