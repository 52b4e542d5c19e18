//go:build extra
// +build extra

// Package extra holds the audio backends that need cgo and sound devices.
package extra

import (
	"avatalk/config"
	"avatalk/models"
	"avatalk/speech"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	google_translate_tts "github.com/GrailFinder/google-translate-tts"
	"github.com/GrailFinder/google-translate-tts/handlers"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
)

const defaultKokoroVoice = "af_bella(1)+af_sky(1)"

// kokoroVoices are the stock voices shipped with Kokoro-FastAPI.
var kokoroVoices = []speech.Voice{
	{Name: "af_bella", Lang: "en-US"},
	{Name: "af_sky", Lang: "en-US"},
	{Name: "af_heart", Lang: "en-US"},
	{Name: "am_adam", Lang: "en-US"},
	{Name: "am_michael", Lang: "en-US"},
	{Name: "bf_emma", Lang: "en-GB"},
	{Name: "bm_george", Lang: "en-GB"},
}

// NewEngine picks the speech engine named by TTS_PROVIDER.
func NewEngine(log *slog.Logger, cfg *config.Config) speech.Engine {
	switch strings.ToLower(cfg.TTS_PROVIDER) {
	case "log":
		return speech.NewLogEngine(log)
	case "google", "google-translate", "google_translate":
		return NewGoogleEngine(log, cfg)
	default:
		return NewKokoroEngine(log, cfg)
	}
}

// player owns the currently playing stream so Stop can cut it short.
type player struct {
	logger  *slog.Logger
	mu      sync.Mutex
	current *beep.Ctrl
}

// play blocks until the streamer is drained or ctx is done.
func (p *player) play(ctx context.Context, streamer beep.Streamer, format beep.Format) error {
	if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
		p.logger.Debug("failed to init speaker", "error", err)
	}
	done := make(chan struct{})
	ctrl := &beep.Ctrl{Streamer: beep.Seq(streamer, beep.Callback(func() {
		close(done)
	}))}
	p.mu.Lock()
	p.current = ctrl
	p.mu.Unlock()
	speaker.Play(ctrl)
	defer func() {
		p.mu.Lock()
		p.current = nil
		p.mu.Unlock()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.stop()
		return ctx.Err()
	}
}

func (p *player) stop() {
	p.mu.Lock()
	ctrl := p.current
	p.mu.Unlock()
	if ctrl == nil {
		return
	}
	speaker.Lock()
	ctrl.Streamer = nil
	speaker.Unlock()
}

// KokoroEngine talks to a Kokoro-FastAPI server, https://github.com/remsky/Kokoro-FastAPI
type KokoroEngine struct {
	player
	URL    string
	Format models.AudioFormat
	Speed  float32
	Voice  string
	client *http.Client
}

func NewKokoroEngine(log *slog.Logger, cfg *config.Config) *KokoroEngine {
	voice := cfg.TTS_VOICE
	if voice == "" {
		voice = defaultKokoroVoice
	}
	return &KokoroEngine{
		player: player{logger: log},
		URL:    cfg.TTS_URL,
		Format: models.AFMP3,
		Speed:  cfg.TTS_SPEED,
		Voice:  voice,
		client: &http.Client{Timeout: time.Minute},
	}
}

// kokoroLang maps a BCP-47 tag onto kokoro's single letter lang codes.
func kokoroLang(lang string) string {
	switch strings.ToLower(lang) {
	case "en-gb":
		return "b"
	case "es", "es-es":
		return "e"
	case "fr", "fr-fr":
		return "f"
	case "ja", "ja-jp":
		return "j"
	}
	return "a"
}

func (e *KokoroEngine) requestSound(ctx context.Context, u speech.Utterance) (io.ReadCloser, error) {
	voice := e.Voice
	if u.Voice != "" {
		voice = u.Voice
	}
	payload := map[string]any{
		"input":           u.Text,
		"voice":           voice,
		"response_format": e.Format,
		"download_format": e.Format,
		"stream":          false,
		"speed":           e.Speed,
		"lang_code":       kokoroLang(u.Lang),
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (e *KokoroEngine) Speak(ctx context.Context, u speech.Utterance) error {
	e.logger.Debug("fn: Speak is called", "id", u.ID, "text-len", len(u.Text))
	body, err := e.requestSound(ctx, u)
	if err != nil {
		return err
	}
	defer body.Close()
	streamer, format, err := mp3.Decode(body)
	if err != nil {
		return fmt.Errorf("mp3 decode failed: %w", err)
	}
	defer streamer.Close()
	return e.play(ctx, streamer, format)
}

func (e *KokoroEngine) Stop() {
	e.logger.Debug("attempted to stop kokoro engine")
	e.stop()
}

// Voices lists the configured voice first so it is the fallback.
func (e *KokoroEngine) Voices() []speech.Voice {
	voices := []speech.Voice{{Name: e.Voice, Lang: models.DefaultLang}}
	for _, v := range kokoroVoices {
		if v.Name != e.Voice {
			voices = append(voices, v)
		}
	}
	return voices
}

// GoogleEngine uses the google translate tts endpoint; no server needed.
type GoogleEngine struct {
	player
	speech *google_translate_tts.Speech
	lang   string
}

func NewGoogleEngine(log *slog.Logger, cfg *config.Config) *GoogleEngine {
	lang, _, _ := strings.Cut(cfg.TTS_LANGUAGE, "-")
	if lang == "" {
		lang = "en"
	}
	return &GoogleEngine{
		player: player{logger: log},
		lang:   cfg.TTS_LANGUAGE,
		speech: &google_translate_tts.Speech{
			Folder:   filepath.Join(os.TempDir(), "avatalk-tts"),
			Language: lang,
			Speed:    cfg.TTS_SPEED,
			Handler:  &handlers.Beep{},
		},
	}
}

func (e *GoogleEngine) Speak(ctx context.Context, u speech.Utterance) error {
	e.logger.Debug("fn: Speak is called", "id", u.ID, "text-len", len(u.Text))
	reader, err := e.speech.GenerateSpeech(u.Text)
	if err != nil {
		return fmt.Errorf("generate speech failed: %w", err)
	}
	streamer, format, err := mp3.Decode(io.NopCloser(reader))
	if err != nil {
		return fmt.Errorf("mp3 decode failed: %w", err)
	}
	defer streamer.Close()
	playback := beep.Streamer(streamer)
	if speed := e.speech.Speed; speed > 0 && speed != 1.0 {
		playback = beep.ResampleRatio(3, float64(speed), streamer)
	}
	return e.play(ctx, playback, format)
}

func (e *GoogleEngine) Stop() {
	e.logger.Debug("attempted to stop google engine")
	e.stop()
	_ = e.speech.Stop()
}

func (e *GoogleEngine) Voices() []speech.Voice {
	return []speech.Voice{{Name: "google-" + e.speech.Language, Lang: e.lang}}
}
