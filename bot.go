package main

import (
	"avatalk/agent"
	"avatalk/audio"
	"avatalk/avatar"
	"avatalk/config"
	"avatalk/models"
	"avatalk/speech"
	"avatalk/storage"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	cfg         *config.Config
	logger      *slog.Logger
	logLevel    = new(slog.LevelVar)
	ctx, cancel = context.WithCancel(context.Background())
	bot         *Bot

	errEmptyMessage = errors.New("empty message")
)

// Bot ties one conversation to the avatar session and the local speech queue.
type Bot struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.FullRepo
	agent    agent.Agent
	avatar   *avatar.Session
	queue    *speech.Queue
	recorder *audio.Recorder

	mu       sync.Mutex
	chat     *models.Chat
	messages []models.RoleMsg
	busy     atomic.Bool
	tts      atomic.Bool
	// OnUpdate runs after the history changes
	OnUpdate func()
}

type BotOpts struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    storage.FullRepo
	Agent    agent.Agent
	Avatar   *avatar.Session
	Queue    *speech.Queue
	Recorder *audio.Recorder
}

func NewBot(opts BotOpts) *Bot {
	b := &Bot{
		cfg:      opts.Config,
		logger:   opts.Logger,
		store:    opts.Store,
		agent:    opts.Agent,
		avatar:   opts.Avatar,
		queue:    opts.Queue,
		recorder: opts.Recorder,
	}
	b.tts.Store(opts.Config.TTS_ENABLED)
	if b.recorder != nil {
		b.recorder.OnAutoStop = b.onAutoStop
	}
	return b
}

// historyLoader is implemented by agents that keep their own context.
type historyLoader interface {
	LoadHistory(msgs []models.RoleMsg)
}

func (b *Bot) Busy() bool       { return b.busy.Load() }
func (b *Bot) TTSEnabled() bool { return b.tts.Load() }

func (b *Bot) ToggleTTS() bool {
	on := !b.tts.Load()
	b.tts.Store(on)
	return on
}

func (b *Bot) Messages() []models.RoleMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.RoleMsg(nil), b.messages...)
}

func (b *Bot) ChatName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chat == nil {
		return ""
	}
	return b.chat.Name
}

// ChatRound submits one user turn, typed or transcribed, and relays the reply.
func (b *Bot) ChatRound(ctx context.Context, r *models.ChatRoundReq) (agent.Reply, error) {
	text := strings.TrimSpace(r.UserMsg)
	if text == "" {
		return agent.Reply{}, errEmptyMessage
	}
	b.busy.Store(true)
	defer b.busy.Store(false)
	role := r.Role
	if role == "" {
		role = b.cfg.UserRole
	}
	b.logger.Debug("chat round", "role", role, "from_voice", r.FromVoice, "len", len(text))
	reply, err := b.agent.SubmitUserMessage(ctx, text)
	if err != nil {
		b.logger.Error("failed to get agent reply", "error", err)
		return agent.Reply{}, fmt.Errorf("agent: %w", err)
	}
	b.mu.Lock()
	b.messages = append(b.messages,
		models.RoleMsg{Role: role, Content: text},
		models.RoleMsg{Role: b.cfg.AssistantRole, Content: reply.Text, HTML: reply.HTML})
	b.mu.Unlock()
	if b.OnUpdate != nil {
		b.OnUpdate()
	}
	b.relay(ctx, reply)
	if err := b.saveChat(); err != nil {
		b.logger.Warn("failed to update storage", "error", err, "name", b.ChatName())
	}
	return reply, nil
}

// relay sends the reply to the live avatar and, when enabled, the local voice.
func (b *Bot) relay(ctx context.Context, reply agent.Reply) {
	text := speakableText(reply)
	if text == "" {
		return
	}
	if b.avatar != nil && b.avatar.Snapshot().State == models.StateActive {
		if err := b.avatar.Speak(ctx, text); err != nil {
			b.logger.Warn("failed to relay reply to avatar", "error", err)
		}
	}
	if b.queue == nil || !b.tts.Load() {
		return
	}
	for _, s := range speech.Utterances(text) {
		if err := b.queue.Speak(s, b.cfg.TTS_LANGUAGE); err != nil {
			b.logger.Warn("failed to queue utterance", "error", err)
			return
		}
	}
}

func speakableText(reply agent.Reply) string {
	if reply.HTML != "" {
		plain, err := speech.PlainText(reply.HTML)
		if err == nil && strings.TrimSpace(plain) != "" {
			return plain
		}
	}
	return speech.CleanText(reply.Text)
}

// StartAvatar opens a session with the configured avatar and voice.
func (b *Bot) StartAvatar(ctx context.Context, avatarID, voiceID string) (models.AvatarSession, error) {
	if avatarID == "" {
		avatarID = b.cfg.AvatarID
	}
	if voiceID == "" {
		voiceID = b.cfg.AvatarVoiceID
	}
	return b.avatar.StartSession(ctx, avatarID, voiceID)
}

// StopSpeaking interrupts the avatar; local utterances already queued play out.
func (b *Bot) StopSpeaking(ctx context.Context) error {
	return b.avatar.Interrupt(ctx)
}

// StartRecording begins a voice turn.
func (b *Bot) StartRecording() error {
	if b.recorder == nil {
		return audio.ErrNoSource
	}
	return b.recorder.Start()
}

// StopRecording transcribes the voice turn and submits it like typed input.
func (b *Bot) StopRecording(ctx context.Context) (string, agent.Reply, error) {
	if b.recorder == nil {
		return "", agent.Reply{}, audio.ErrNotRecording
	}
	transcript, err := b.recorder.Stop(ctx)
	if err != nil {
		return "", agent.Reply{}, err
	}
	if strings.TrimSpace(transcript) == "" {
		return "", agent.Reply{}, nil
	}
	reply, err := b.ChatRound(ctx, &models.ChatRoundReq{UserMsg: transcript, FromVoice: true})
	return transcript, reply, err
}

// onAutoStop submits a recording that ended on silence as a voice turn.
func (b *Bot) onAutoStop(transcript string, err error) {
	if err != nil {
		b.logger.Error("auto-stopped recording failed", "error", err)
		return
	}
	if strings.TrimSpace(transcript) == "" {
		return
	}
	if _, err := b.ChatRound(ctx, &models.ChatRoundReq{UserMsg: transcript, FromVoice: true}); err != nil {
		b.logger.Error("voice turn failed", "error", err)
	}
}

func (b *Bot) RecordingEnabled() bool {
	return b.recorder != nil && b.recorder.Enabled()
}

// Close tears down the avatar session and the speech queue.
func (b *Bot) Close(ctx context.Context) {
	if b.avatar != nil {
		b.avatar.Close(ctx)
	}
	if b.queue != nil {
		b.queue.Close()
	}
}

func GetLogLevel() string {
	switch logLevel.Level() {
	case slog.LevelDebug:
		return "Debug"
	case slog.LevelWarn:
		return "Warn"
	case slog.LevelError:
		return "Error"
	default:
		return "Info"
	}
}

func setLogLevel(s string) {
	switch strings.ToLower(s) {
	case "debug":
		logLevel.Set(slog.LevelDebug)
	case "warn":
		logLevel.Set(slog.LevelWarn)
	case "error":
		logLevel.Set(slog.LevelError)
	default:
		logLevel.Set(slog.LevelInfo)
	}
}

// setup loads config and wires every component behind the bot.
func setup(cfgPath string) error {
	var err error
	cfg, err = config.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", cfgPath, err)
	}
	logfile, err := os.OpenFile(cfg.LogFile,
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", cfg.LogFile, err)
	}
	setLogLevel(cfg.LogLevel)
	logger = slog.New(slog.NewTextHandler(logfile, &slog.HandlerOptions{Level: logLevel}))
	store := storage.NewProviderSQL(cfg.DBPATH, logger)
	if store == nil {
		return fmt.Errorf("failed to open db %s", cfg.DBPATH)
	}
	session := avatar.NewSession(avatar.Options{
		Tokens: avatarTokenSource(),
		NewClient: avatar.NewFactory(avatar.APIClientOpts{
			Root:       cfg.AvatarAPIRoot,
			EventsURL:  cfg.AvatarEventsURL,
			HTTPClient: &http.Client{Timeout: time.Duration(cfg.RequestLimit) * time.Second},
			Logger:     logger,
		}),
		Quality:  models.Quality(cfg.AvatarQuality),
		Recorder: store,
		Logger:   logger,
	})
	queue := speech.NewQueue(ctx, newEngine(logger, cfg), cfg.TTS_VOICE, logger)
	queue.OnSpoken = func(u speech.Utterance, err error) {
		if err != nil {
			logger.Warn("utterance dropped", "id", u.ID, "error", err)
		}
	}
	var recorder *audio.Recorder
	if cfg.STT_ENABLED {
		recorder = audio.NewRecorder(audio.RecorderOpts{
			Permission:   audio.NewPermissionState(audio.ParsePermission(cfg.MicPermission)),
			Source:       newMicSource(logger, cfg),
			Transcriber:  audio.NewTranscriber(logger, cfg),
			SampleRate:   cfg.STT_SR,
			Inactivity:   time.Duration(cfg.STT_INACTIVITY) * time.Second,
			SilenceLevel: cfg.STT_SILENCE_LEVEL,
			Logger:       logger,
		})
	}
	bot = NewBot(BotOpts{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Agent:    agent.NewOpenAIAgent(cfg, logger),
		Avatar:   session,
		Queue:    queue,
		Recorder: recorder,
	})
	if err := bot.loadOldChatOrGetNew(); err != nil {
		logger.Warn("failed to load last chat", "error", err)
	}
	if cfg.AvatarEnabled {
		go func() {
			if err := session.Init(ctx); err != nil {
				logger.Warn("avatar init failed", "error", err)
			}
		}()
	}
	return nil
}

// avatarTokenSource prefers an external token endpoint; otherwise the api
// key is exchanged directly.
func avatarTokenSource() avatar.TokenSource {
	if cfg.AvatarTokenURL != "" {
		return &avatar.HTTPTokenSource{URL: cfg.AvatarTokenURL}
	}
	keyClient := avatar.NewAPIClient("", avatar.APIClientOpts{
		Root:   cfg.AvatarAPIRoot,
		APIKey: cfg.AvatarAPIKey,
		Logger: logger,
	})
	return avatar.TokenFunc(keyClient.CreateToken)
}
