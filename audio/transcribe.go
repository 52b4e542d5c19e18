package audio

import (
	"avatalk/config"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

var specialRE = regexp.MustCompile(`\[.*?\]`)

// Transcriber turns a WAV recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

func NewTranscriber(logger *slog.Logger, cfg *config.Config) Transcriber {
	switch cfg.STT_TYPE {
	case "OPENAI":
		logger.Debug("stt init, chosen openai")
		oc := openai.DefaultConfig(cfg.OpenAIToken)
		if cfg.ChatAPI != "" {
			oc.BaseURL = cfg.ChatAPI
		}
		return NewOpenAITranscriber(openai.NewClientWithConfig(oc), cfg.STT_MODEL, cfg.STT_LANG)
	case "WHISPER_SERVER":
		logger.Debug("stt init, chosen whisper server")
	}
	return NewWhisperServer(logger, cfg.STT_URL)
}

// WhisperServer posts recordings to a whisper.cpp style server.
type WhisperServer struct {
	logger     *slog.Logger
	ServerURL  string
	HTTPClient *http.Client
}

func NewWhisperServer(logger *slog.Logger, url string) *WhisperServer {
	return &WhisperServer{
		logger:     logger,
		ServerURL:  url,
		HTTPClient: http.DefaultClient,
	}
}

func (stt *WhisperServer) Transcribe(ctx context.Context, wav []byte) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "recording.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wav); err != nil {
		return "", err
	}
	if err := writer.WriteField("response_format", "text"); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, stt.ServerURL, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := stt.HTTPClient.Do(req)
	if err != nil {
		stt.logger.Error("fn: Transcribe", "error", err)
		return "", err
	}
	defer resp.Body.Close()
	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper server: unexpected status code: %d", resp.StatusCode)
	}
	return cleanTranscript(string(respBytes)), nil
}

// cleanTranscript drops special tokens like [_BEG_] and stray line padding.
func cleanTranscript(s string) string {
	s = strings.TrimRight(s, "\n")
	s = specialRE.ReplaceAllString(s, "")
	return strings.TrimSpace(strings.ReplaceAll(s, "\n ", "\n"))
}

// OpenAITranscriber uses the audio transcription endpoint of an openai compatible api.
type OpenAITranscriber struct {
	client *openai.Client
	model  string
	lang   string
}

func NewOpenAITranscriber(client *openai.Client, model, lang string) *OpenAITranscriber {
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAITranscriber{client: client, model: model, lang: isoLang(lang)}
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: "recording.wav",
		Reader:   bytes.NewReader(wav),
		Language: t.lang,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return cleanTranscript(resp.Text), nil
}

// isoLang turns "en-US" into "en"; the transcription api wants ISO-639-1.
func isoLang(lang string) string {
	lang, _, _ = strings.Cut(lang, "-")
	return strings.ToLower(lang)
}
