// Package avatar drives a single streaming-avatar session: token exchange,
// session creation, speak and interrupt requests, and teardown.
package avatar

import (
	"avatalk/models"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrNotInitialized = errors.New("avatar api not initialized or session id missing")
	ErrNoToken        = errors.New("empty access token")
	ErrSessionActive  = errors.New("avatar session already active")
	ErrClosed         = errors.New("avatar session closed")
)

const (
	statusNotInitialized = "Avatar API not initialized"
	statusNoSession      = "Avatar API not initialized or session ID missing"
	statusStartFailed    = "There was an error starting the session."
	statusVoiceHint      = " This custom voice ID may not be supported."
	statusBufferSize     = 32
)

// Recorder persists session attempts; storage.SessionLog satisfies it.
type Recorder interface {
	RecordSession(rec *models.SessionRecord) (*models.SessionRecord, error)
	EndSession(sessionID, status string, endedAt time.Time) error
}

type Options struct {
	Tokens    TokenSource
	NewClient ClientFactory
	Quality   models.Quality
	Recorder  Recorder
	Logger    *slog.Logger
}

// Session owns one avatar session. All state changes happen on the owner
// goroutine; callers submit work and wait for it.
type Session struct {
	tokens    TokenSource
	newClient ClientFactory
	quality   models.Quality
	recorder  Recorder
	logger    *slog.Logger

	// owner goroutine state
	state        models.SessionState
	client       Client
	data         models.AvatarSession
	eventsCancel context.CancelFunc

	reqs    chan func()
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
	status  chan string

	viewMu sync.RWMutex
	view   models.AvatarSession
}

func NewSession(opts Options) *Session {
	if opts.Quality == "" {
		opts.Quality = models.QualityLow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Session{
		tokens:    opts.Tokens,
		newClient: opts.NewClient,
		quality:   opts.Quality,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
		state:     models.StateUninitialized,
		reqs:      make(chan func()),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		status:    make(chan string, statusBufferSize),
	}
	s.data.State = s.state
	s.publish()
	go s.run()
	return s
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.reqs:
			fn()
		case <-s.quit:
			return
		}
	}
}

// do runs fn on the owner goroutine and waits for it to finish or for ctx
// to end. Results written by fn must only be read when do returns nil.
func (s *Session) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case s.reqs <- wrapped:
	case <-s.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status delivers human-readable status and debug messages.
func (s *Session) Status() <-chan string {
	return s.status
}

// Snapshot returns a copy of the session as last published by the owner.
func (s *Session) Snapshot() models.AvatarSession {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	v := s.view
	if v.Stream != nil {
		ms := *v.Stream
		v.Stream = &ms
	}
	return v
}

func (s *Session) publish() {
	s.data.State = s.state
	s.viewMu.Lock()
	s.view = s.data
	s.viewMu.Unlock()
}

func (s *Session) setStatus(msg string) {
	s.data.Status = msg
	s.publish()
	select {
	case s.status <- msg:
		return
	default:
	}
	// drop the oldest message so the newest is never lost
	select {
	case <-s.status:
	default:
	}
	select {
	case s.status <- msg:
	default:
	}
}

func (s *Session) transition(to models.SessionState) {
	s.logger.Debug("avatar session state", "from", s.state, "to", to)
	s.state = to
	s.publish()
}

// FetchAccessToken asks the token endpoint for a fresh token. A failure
// degrades to an empty token and a status message.
func (s *Session) FetchAccessToken(ctx context.Context) string {
	token, err := s.tokens.FetchAccessToken(ctx)
	if err != nil {
		s.logger.Error("failed to fetch access token", "error", err)
		return ""
	}
	return token
}

// Init fetches a token and builds the service client, moving the session to ready.
func (s *Session) Init(ctx context.Context) error {
	var resp error
	err := s.do(ctx, func() {
		if s.state != models.StateUninitialized && s.state != models.StateEnded {
			return
		}
		prior := s.state
		s.transition(models.StateInitializing)
		if err := s.initClient(ctx); err != nil {
			s.transition(prior)
			resp = err
			return
		}
		s.transition(models.StateReady)
	})
	if err != nil {
		return err
	}
	return resp
}

func (s *Session) initClient(ctx context.Context) error {
	token := s.FetchAccessToken(ctx)
	if token == "" {
		s.setStatus("Failed to fetch access token")
		return ErrNoToken
	}
	s.data.AccessToken = token
	s.client = s.newClient(token)
	return nil
}

// StartSession exchanges a fresh token for a client and creates the avatar
// session. On failure the state goes back to what it was before the call.
func (s *Session) StartSession(ctx context.Context, avatarID, voiceID string) (models.AvatarSession, error) {
	var resp error
	err := s.do(ctx, func() {
		resp = s.startSession(ctx, avatarID, voiceID)
	})
	if err != nil {
		return s.Snapshot(), err
	}
	return s.Snapshot(), resp
}

func (s *Session) startSession(ctx context.Context, avatarID, voiceID string) error {
	if s.state == models.StateActive || s.state == models.StateInitializing {
		s.setStatus("Avatar session already active")
		return ErrSessionActive
	}
	prior := s.state
	priorClient, priorToken := s.client, s.data.AccessToken
	restore := func() {
		s.client, s.data.AccessToken = priorClient, priorToken
		s.transition(prior)
	}
	s.logger.Info("starting avatar session", "avatar_id", avatarID, "voice_id", voiceID)
	s.transition(models.StateInitializing)
	if err := s.initClient(ctx); err != nil {
		restore()
		s.record(avatarID, voiceID, "", s.data.Status)
		return err
	}
	info, err := s.client.CreateStartAvatar(ctx, NewSessionRequest{
		Quality:    s.quality,
		AvatarName: avatarID,
		Voice:      VoiceSetting{VoiceID: voiceID},
	})
	if err != nil {
		s.logger.Error("error starting avatar session", "avatar_id", avatarID, "voice_id", voiceID, "error", err)
		msg := statusStartFailed
		if voiceID != "" {
			msg += statusVoiceHint
		}
		s.setStatus(msg)
		restore()
		s.record(avatarID, voiceID, "", msg)
		return fmt.Errorf("create avatar session: %w", err)
	}
	s.data.SessionID = info.SessionID
	s.data.AvatarID = avatarID
	s.data.VoiceID = voiceID
	s.data.Stream = info.MediaStream()
	s.data.Talking = false
	s.transition(models.StateActive)
	s.subscribe(info.SessionID)
	s.setStatus("Playing")
	s.record(avatarID, voiceID, info.SessionID, "")
	return nil
}

// subscribe installs the talking start/stop observers off the owner
// goroutine. They only log and report status; the state machine does not
// depend on them. endSession cancels a dial that is still in flight.
func (s *Session) subscribe(sessionID string) {
	evCtx, cancel := context.WithCancel(context.Background())
	s.eventsCancel = cancel
	client := s.client
	go func() {
		events, err := client.Events(evCtx, sessionID)
		if err != nil {
			if evCtx.Err() == nil {
				s.logger.Warn("failed to subscribe to avatar events", "session_id", sessionID, "error", err)
			}
			return
		}
		if events == nil {
			return
		}
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				_ = s.do(evCtx, func() { s.onTalking(ev) })
			case <-evCtx.Done():
				return
			}
		}
	}()
}

func (s *Session) onTalking(ev TalkingEvent) {
	if ev.SessionID != "" && ev.SessionID != s.data.SessionID {
		return
	}
	switch ev.Type {
	case EventStartTalking:
		s.logger.Debug("avatar started talking", "session_id", ev.SessionID, "task_id", ev.TaskID)
		s.data.Talking = true
		s.setStatus("Avatar started talking")
	case EventStopTalking:
		s.logger.Debug("avatar stopped talking", "session_id", ev.SessionID, "task_id", ev.TaskID)
		s.data.Talking = false
		s.setStatus("Avatar stopped talking")
	}
}

func (s *Session) ready() bool {
	return s.client != nil && s.state.CanSpeak() && s.data.SessionID != ""
}

// Speak sends text to the avatar. Calls are forwarded in arrival order;
// overlapping speech is the service's concern.
func (s *Session) Speak(ctx context.Context, text string) error {
	var resp error
	err := s.do(ctx, func() {
		if !s.ready() {
			s.setStatus(statusNoSession)
			resp = ErrNotInitialized
			return
		}
		if text == "" {
			return
		}
		if err := s.client.Speak(ctx, TaskRequest{SessionID: s.data.SessionID, Text: text}); err != nil {
			s.logger.Error("error sending message to avatar", "session_id", s.data.SessionID, "error", err)
			s.setStatus(err.Error())
			resp = err
		}
	})
	if err != nil {
		return err
	}
	return resp
}

// Interrupt asks the avatar to stop the current speech.
func (s *Session) Interrupt(ctx context.Context) error {
	var resp error
	err := s.do(ctx, func() {
		if !s.ready() {
			s.setStatus(statusNotInitialized)
			resp = ErrNotInitialized
			return
		}
		if err := s.client.Interrupt(ctx, s.data.SessionID); err != nil {
			s.logger.Error("failed to interrupt avatar", "session_id", s.data.SessionID, "error", err)
			s.setStatus(err.Error())
			resp = err
		}
	})
	if err != nil {
		return err
	}
	return resp
}

// EndSession stops the live session and clears the stream. Calling it with
// no live session is a no-op.
func (s *Session) EndSession(ctx context.Context) error {
	var resp error
	err := s.do(ctx, func() {
		resp = s.endSession(ctx)
	})
	if err != nil {
		return err
	}
	return resp
}

func (s *Session) endSession(ctx context.Context) error {
	if s.client == nil || s.data.SessionID == "" || !s.state.CanSpeak() {
		return nil
	}
	sessionID := s.data.SessionID
	var stopErr error
	if err := s.client.StopAvatar(ctx, sessionID); err != nil {
		s.logger.Error("failed to stop avatar", "session_id", sessionID, "error", err)
		s.setStatus(err.Error())
		stopErr = err
	}
	if s.eventsCancel != nil {
		s.eventsCancel()
		s.eventsCancel = nil
	}
	s.data.Stream = nil
	s.data.SessionID = ""
	s.data.Talking = false
	s.client = nil
	s.transition(models.StateEnded)
	if stopErr == nil {
		s.setStatus("Session ended")
	}
	if s.recorder != nil {
		if err := s.recorder.EndSession(sessionID, s.data.Status, time.Now()); err != nil {
			s.logger.Warn("failed to record session end", "session_id", sessionID, "error", err)
		}
	}
	return stopErr
}

func (s *Session) record(avatarID, voiceID, sessionID, status string) {
	if s.recorder == nil {
		return
	}
	rec := &models.SessionRecord{
		SessionID: sessionID,
		AvatarID:  avatarID,
		VoiceID:   voiceID,
		State:     string(s.state),
		Status:    status,
		CreatedAt: time.Now(),
	}
	if _, err := s.recorder.RecordSession(rec); err != nil {
		s.logger.Warn("failed to record session", "error", err)
	}
}

// Close tears the session down on a best-effort basis and stops the owner.
func (s *Session) Close(ctx context.Context) {
	if err := s.EndSession(ctx); err != nil && !errors.Is(err, ErrClosed) {
		s.logger.Warn("end session on close", "error", err)
	}
	s.once.Do(func() { close(s.quit) })
	<-s.stopped
}
