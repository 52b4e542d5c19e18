//go:build extra
// +build extra

package main

import (
	"avatalk/audio"
	"avatalk/config"
	"avatalk/extra"
	"avatalk/speech"
	"log/slog"
)

func newEngine(logger *slog.Logger, cfg *config.Config) speech.Engine {
	return extra.NewEngine(logger, cfg)
}

func newMicSource(logger *slog.Logger, cfg *config.Config) audio.Source {
	return extra.NewMicSource(logger, cfg.STT_SR)
}
