//go:build !extra

package main

import (
	"avatalk/audio"
	"avatalk/config"
	"avatalk/speech"
	"log/slog"
)

// Without the extra modules utterances are only logged and there is no microphone.

func newEngine(logger *slog.Logger, cfg *config.Config) speech.Engine {
	return speech.NewLogEngine(logger)
}

func newMicSource(logger *slog.Logger, cfg *config.Config) audio.Source {
	logger.Debug("STT not available - extra modules disabled")
	return nil
}
