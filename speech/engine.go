package speech

import (
	"context"
	"log/slog"
)

type Utterance struct {
	ID    string
	Text  string
	Lang  string
	Voice string
}

type Voice struct {
	Name string
	Lang string
}

// Engine converts one utterance to audio. Speak blocks until the engine
// reports completion (nil) or a synthesis error.
type Engine interface {
	Speak(ctx context.Context, u Utterance) error
	Stop()
	Voices() []Voice
}

// SelectVoice picks the voice with the given name, falling back to the first
// available one. ok is false only when there are no voices at all.
func SelectVoice(voices []Voice, name string) (Voice, bool) {
	if len(voices) == 0 {
		return Voice{}, false
	}
	for _, v := range voices {
		if v.Name == name {
			return v, true
		}
	}
	return voices[0], true
}

// LogEngine is used when no audio backend is compiled in.
type LogEngine struct {
	logger *slog.Logger
}

func NewLogEngine(logger *slog.Logger) *LogEngine {
	return &LogEngine{logger: logger}
}

func (e *LogEngine) Speak(ctx context.Context, u Utterance) error {
	e.logger.Info("utterance", "id", u.ID, "lang", u.Lang, "text", u.Text)
	return ctx.Err()
}

func (e *LogEngine) Stop() {}

func (e *LogEngine) Voices() []Voice {
	return []Voice{{Name: "log", Lang: "en-US"}}
}
