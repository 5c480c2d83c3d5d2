// Command recorder runs one exchange/symbol market-data recorder for a
// single trading window. Configuration comes entirely from the environment
// (internal/config); there is no CLI flag surface.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/hworldcom/mdrecorder/internal/config"
	"github.com/hworldcom/mdrecorder/internal/errkind"
	"github.com/hworldcom/mdrecorder/internal/logging"
	"github.com/hworldcom/mdrecorder/internal/recorder"
)

func main() {
	os.Exit(run())
}

func run() int {
	human := isTerminal(os.Stdout)
	logging.Init(zerolog.InfoLevel, human)
	log := logging.For(logging.Recorder)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("config load failed")
		return 1
	}

	rec, err := recorder.New(cfg)
	if err != nil {
		log.Error().Err(err).Msg("recorder init failed")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	if err := rec.Run(ctx); err != nil {
		var fault *errkind.Fault
		if errors.As(err, &fault) {
			log.Error().Err(fault).Str("kind", fault.Kind.String()).Msg("recorder stopped")
		} else {
			log.Error().Err(err).Msg("recorder stopped")
		}
		return 1
	}
	log.Info().Msg("recorder exited cleanly")
	return 0
}

// isTerminal reports whether f looks like an interactive terminal, deciding
// between the console writer and newline-delimited JSON (logging.Init).
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
