// Package audio records microphone input and turns it into text.
package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNotRecording     = errors.New("not recording")
	ErrNoSource         = errors.New("no capture source")
)

type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionPrompt  Permission = "prompt"
)

// ParsePermission maps a config value to a Permission; unknown values mean prompt.
func ParsePermission(s string) Permission {
	switch Permission(s) {
	case PermissionGranted, PermissionDenied:
		return Permission(s)
	}
	return PermissionPrompt
}

type PermissionChecker interface {
	Permission() Permission
}

// StaticPermission is a fixed answer, usually taken from config.
type StaticPermission Permission

func (p StaticPermission) Permission() Permission { return Permission(p) }

// PermissionState starts from a configured value and is settled by
// Recorder.RequestPermission.
type PermissionState struct {
	mu sync.RWMutex
	p  Permission
}

func NewPermissionState(p Permission) *PermissionState {
	return &PermissionState{p: p}
}

func (s *PermissionState) Permission() Permission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p
}

func (s *PermissionState) SetPermission(p Permission) {
	s.mu.Lock()
	s.p = p
	s.mu.Unlock()
}

type permissionSetter interface {
	SetPermission(p Permission)
}

// Source captures raw PCM and hands chunks to push until stopped.
type Source interface {
	Start(push func(chunk []byte)) error
	Stop() error
}

type RecorderOpts struct {
	Permission  PermissionChecker
	Source      Source
	Transcriber Transcriber
	SampleRate  int
	// Inactivity stops the recording when no voiced chunk arrives for that
	// long; zero disables it.
	Inactivity time.Duration
	// SilenceLevel is the peak 16-bit sample a chunk must reach to count as
	// activity; zero counts every chunk.
	SilenceLevel int
	Logger       *slog.Logger
}

// Recorder accumulates one recording at a time and transcribes it on Stop.
type Recorder struct {
	perm         PermissionChecker
	src          Source
	tr           Transcriber
	sampleRate   int
	inactivity   time.Duration
	silenceLevel int
	logger       *slog.Logger

	// OnAutoStop receives the transcript of a recording ended by inactivity.
	OnAutoStop func(transcript string, err error)

	// srcMu orders source Start/Stop calls so a new recording never starts
	// while the previous one is still shutting down.
	srcMu     sync.Mutex
	mu        sync.Mutex
	chunks    [][]byte
	recording bool
	gen       uint64
	idle      *time.Timer
}

func NewRecorder(opts RecorderOpts) *Recorder {
	if opts.SampleRate == 0 {
		opts.SampleRate = 16000
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Permission == nil {
		opts.Permission = NewPermissionState(PermissionPrompt)
	}
	return &Recorder{
		perm:         opts.Permission,
		src:          opts.Source,
		tr:           opts.Transcriber,
		sampleRate:   opts.SampleRate,
		inactivity:   opts.Inactivity,
		silenceLevel: opts.SilenceLevel,
		logger:       opts.Logger,
	}
}

// Enabled reports whether recording controls should be offered.
func (r *Recorder) Enabled() bool {
	return r.src != nil && r.tr != nil && r.perm.Permission() != PermissionDenied
}

func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func (r *Recorder) setPermission(p Permission) {
	if ps, ok := r.perm.(permissionSetter); ok {
		ps.SetPermission(p)
	}
}

// RequestPermission settles a prompt permission by opening and closing the
// source once. Granted and denied are returned as is.
func (r *Recorder) RequestPermission() (Permission, error) {
	if p := r.perm.Permission(); p != PermissionPrompt {
		return p, nil
	}
	if r.src == nil {
		return PermissionPrompt, ErrNoSource
	}
	r.srcMu.Lock()
	defer r.srcMu.Unlock()
	if r.IsRecording() {
		return PermissionGranted, nil
	}
	if err := r.src.Start(func([]byte) {}); err != nil {
		r.logger.Warn("microphone access refused", "error", err)
		r.setPermission(PermissionDenied)
		return PermissionDenied, fmt.Errorf("failed to init microphone: %w", err)
	}
	if err := r.src.Stop(); err != nil {
		r.logger.Warn("failed to stop capture source", "error", err)
	}
	r.setPermission(PermissionGranted)
	return PermissionGranted, nil
}

// Start begins a new recording with an empty accumulator.
func (r *Recorder) Start() error {
	if r.perm.Permission() == PermissionDenied {
		return ErrPermissionDenied
	}
	if r.src == nil {
		return ErrNoSource
	}
	r.srcMu.Lock()
	defer r.srcMu.Unlock()
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return nil
	}
	r.chunks = nil
	r.recording = true
	r.gen++
	gen := r.gen
	r.mu.Unlock()
	if err := r.src.Start(r.Push); err != nil {
		r.mu.Lock()
		r.recording = false
		r.mu.Unlock()
		if r.perm.Permission() == PermissionPrompt {
			r.setPermission(PermissionDenied)
		}
		return fmt.Errorf("failed to init microphone: %w", err)
	}
	if r.perm.Permission() == PermissionPrompt {
		r.setPermission(PermissionGranted)
	}
	r.mu.Lock()
	if r.recording && r.gen == gen {
		r.armIdle(gen)
	}
	r.mu.Unlock()
	r.logger.Debug("recording started")
	return nil
}

// armIdle (re)starts the inactivity timer; r.mu must be held.
func (r *Recorder) armIdle(gen uint64) {
	if r.inactivity <= 0 {
		return
	}
	if r.idle != nil {
		r.idle.Stop()
	}
	r.idle = time.AfterFunc(r.inactivity, func() { r.autoStop(gen) })
}

func (r *Recorder) autoStop(gen uint64) {
	text, err := r.stop(context.Background(), gen)
	if errors.Is(err, ErrNotRecording) {
		return
	}
	r.logger.Debug("recording stopped after inactivity", "after", r.inactivity)
	if r.OnAutoStop != nil {
		r.OnAutoStop(text, err)
	}
}

// voiced reports whether a little-endian 16-bit chunk peaks above the silence level.
func (r *Recorder) voiced(chunk []byte) bool {
	if r.silenceLevel <= 0 {
		return true
	}
	for i := 0; i+1 < len(chunk); i += 2 {
		v := int(int16(binary.LittleEndian.Uint16(chunk[i:])))
		if v >= r.silenceLevel || -v >= r.silenceLevel {
			return true
		}
	}
	return false
}

// Push appends a chunk in arrival order. Chunks outside a recording are dropped.
func (r *Recorder) Push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	r.chunks = append(r.chunks, bytes.Clone(chunk))
	if r.idle != nil && r.voiced(chunk) {
		r.idle.Reset(r.inactivity)
	}
}

// Stop ends the recording and transcribes everything captured since Start.
func (r *Recorder) Stop(ctx context.Context) (string, error) {
	return r.stop(ctx, 0)
}

// stop ends the recording numbered gen, or the current one when gen is zero.
func (r *Recorder) stop(ctx context.Context, gen uint64) (string, error) {
	r.mu.Lock()
	if !r.recording || (gen != 0 && gen != r.gen) {
		r.mu.Unlock()
		return "", ErrNotRecording
	}
	r.recording = false
	if r.idle != nil {
		r.idle.Stop()
		r.idle = nil
	}
	pcm := bytes.Join(r.chunks, nil)
	r.chunks = nil
	r.mu.Unlock()
	r.srcMu.Lock()
	if err := r.src.Stop(); err != nil {
		r.logger.Warn("failed to stop capture source", "error", err)
	}
	r.srcMu.Unlock()
	r.logger.Debug("recording stopped", "bytes", len(pcm))
	text, err := r.tr.Transcribe(ctx, WAV(pcm, r.sampleRate))
	if err != nil {
		r.logger.Error("transcription failed", "error", err)
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return text, nil
}
