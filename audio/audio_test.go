package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSource struct {
	mu      sync.Mutex
	starts  int
	stops   int
	push    func([]byte)
	startFn func() error
	stopFn  func()
}

func (s *fakeSource) Start(push func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	s.push = push
	if s.startFn != nil {
		return s.startFn()
	}
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	s.stops++
	stopFn := s.stopFn
	s.mu.Unlock()
	if stopFn != nil {
		stopFn()
	}
	return nil
}

func (s *fakeSource) pushChunk(chunk []byte) {
	s.mu.Lock()
	push := s.push
	s.mu.Unlock()
	push(chunk)
}

type fakeTranscriber struct {
	mu    sync.Mutex
	calls [][]byte
}

func (t *fakeTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, wav)
	return "transcript", nil
}

func (t *fakeTranscriber) last() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.calls) == 0 {
		return nil
	}
	return t.calls[len(t.calls)-1]
}

func (t *fakeTranscriber) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func newTestRecorder(perm Permission) (*Recorder, *fakeSource, *fakeTranscriber) {
	src := &fakeSource{}
	tr := &fakeTranscriber{}
	r := NewRecorder(RecorderOpts{
		Permission:  StaticPermission(perm),
		Source:      src,
		Transcriber: tr,
		SampleRate:  8000,
		Logger:      testLogger,
	})
	return r, src, tr
}

func TestRecorderPermissionDenied(t *testing.T) {
	r, src, _ := newTestRecorder(PermissionDenied)
	if r.Enabled() {
		t.Error("recording controls must be disabled when permission is denied")
	}
	if err := r.Start(); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if src.starts != 0 {
		t.Errorf("capture source must not be touched, got %d starts", src.starts)
	}
}

func TestRecorderStopTranscribesOnce(t *testing.T) {
	r, src, tr := newTestRecorder(PermissionGranted)
	if !r.Enabled() {
		t.Fatal("expected recorder enabled")
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.push([]byte{1, 2})
	src.push(nil)
	src.push([]byte{3, 4})
	text, err := r.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if text != "transcript" {
		t.Errorf("unexpected transcript %q", text)
	}
	if len(tr.calls) != 1 {
		t.Fatalf("expected exactly one transcription, got %d", len(tr.calls))
	}
	wav := tr.calls[0]
	if !bytes.Equal(wav[wavHeaderSize:], []byte{1, 2, 3, 4}) {
		t.Errorf("chunks not concatenated in order: %v", wav[wavHeaderSize:])
	}
	if src.stops != 1 {
		t.Errorf("expected source stopped once, got %d", src.stops)
	}
	// pushes after stop are dropped
	src.push([]byte{9})
	if _, err := r.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("expected ErrNotRecording, got %v", err)
	}
	if len(tr.calls) != 1 {
		t.Errorf("second stop must not transcribe, got %d calls", len(tr.calls))
	}
}

func TestRecorderStartsEmpty(t *testing.T) {
	r, src, tr := newTestRecorder(PermissionPrompt)
	for i, chunk := range [][]byte{{1, 1}, {2, 2}} {
		if err := r.Start(); err != nil {
			t.Fatalf("run_%d: Start failed: %v", i, err)
		}
		src.push(chunk)
		if _, err := r.Stop(context.Background()); err != nil {
			t.Fatalf("run_%d: Stop failed: %v", i, err)
		}
	}
	if got := tr.calls[1][wavHeaderSize:]; !bytes.Equal(got, []byte{2, 2}) {
		t.Errorf("second recording must not carry the first one, got %v", got)
	}
}

func TestRecorderSourceFailure(t *testing.T) {
	r, src, _ := newTestRecorder(PermissionGranted)
	src.startFn = func() error { return errors.New("no device") }
	if err := r.Start(); err == nil {
		t.Fatal("expected error")
	}
	if r.IsRecording() {
		t.Error("recorder must not be recording after a failed start")
	}
}

func TestRecorderStartDuringStop(t *testing.T) {
	r, src, tr := newTestRecorder(PermissionGranted)
	inStop := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	src.stopFn = func() {
		once.Do(func() {
			close(inStop)
			<-release
		})
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.pushChunk([]byte("OLD1"))
	first := make(chan []byte, 1)
	go func() {
		_, _ = r.Stop(context.Background())
		first <- tr.last()
	}()
	<-inStop
	started := make(chan error, 1)
	go func() { started <- r.Start() }()
	select {
	case err := <-started:
		t.Fatalf("Start returned while the source was still stopping: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	if got := <-first; !bytes.Equal(got[wavHeaderSize:], []byte("OLD1")) {
		t.Errorf("first transcription must carry the first recording, got %q", got[wavHeaderSize:])
	}
	if err := <-started; err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	src.pushChunk([]byte("NEW2"))
	if _, err := r.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if got := tr.last(); !bytes.Equal(got[wavHeaderSize:], []byte("NEW2")) {
		t.Errorf("second transcription must carry only the second recording, got %q", got[wavHeaderSize:])
	}
}

func TestRecorderInactivityStop(t *testing.T) {
	src := &fakeSource{}
	tr := &fakeTranscriber{}
	r := NewRecorder(RecorderOpts{
		Permission:   StaticPermission(PermissionGranted),
		Source:       src,
		Transcriber:  tr,
		Inactivity:   150 * time.Millisecond,
		SilenceLevel: 1000,
		Logger:       testLogger,
	})
	done := make(chan string, 1)
	r.OnAutoStop = func(text string, err error) {
		if err != nil {
			t.Errorf("unexpected auto stop error: %v", err)
		}
		done <- text
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	loud := make([]byte, 4)
	sample := int16(-3000)
	binary.LittleEndian.PutUint16(loud, uint16(sample))
	for i := 0; i < 3; i++ {
		src.pushChunk(loud)
		time.Sleep(50 * time.Millisecond)
	}
	if !r.IsRecording() {
		t.Fatal("voiced chunks must keep the recording alive")
	}
	src.pushChunk([]byte{1, 0, 1, 0})
	select {
	case text := <-done:
		if text != "transcript" {
			t.Errorf("unexpected transcript %q", text)
		}
	case <-time.After(time.Second):
		t.Fatal("recording was not stopped after inactivity")
	}
	if r.IsRecording() {
		t.Error("recorder still recording after auto stop")
	}
	if got := tr.count(); got != 1 {
		t.Errorf("expected exactly one transcription, got %d", got)
	}
	if _, err := r.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("manual stop after auto stop must report ErrNotRecording, got %v", err)
	}
}

func TestRecorderRequestPermission(t *testing.T) {
	cases := []struct {
		initial  Permission
		startErr error
		want     Permission
		starts   int
		enabled  bool
	}{
		{initial: PermissionPrompt, want: PermissionGranted, starts: 1, enabled: true},
		{initial: PermissionPrompt, startErr: errors.New("not allowed"), want: PermissionDenied, starts: 1},
		{initial: PermissionGranted, want: PermissionGranted, enabled: true},
		{initial: PermissionDenied, want: PermissionDenied},
	}
	for i, tc := range cases {
		t.Run(fmt.Sprintf("run_%d", i), func(t *testing.T) {
			src := &fakeSource{}
			if tc.startErr != nil {
				src.startFn = func() error { return tc.startErr }
			}
			perm := NewPermissionState(tc.initial)
			r := NewRecorder(RecorderOpts{Permission: perm, Source: src, Transcriber: &fakeTranscriber{}, Logger: testLogger})
			got, _ := r.RequestPermission()
			if got != tc.want || perm.Permission() != tc.want {
				t.Errorf("expected %s, got %s (state %s)", tc.want, got, perm.Permission())
			}
			if src.starts != tc.starts {
				t.Errorf("expected %d source starts, got %d", tc.starts, src.starts)
			}
			if src.stops != tc.starts-boolToInt(tc.startErr != nil) {
				t.Errorf("source must be released after the check, got %d stops", src.stops)
			}
			if r.Enabled() != tc.enabled {
				t.Errorf("expected enabled=%v", tc.enabled)
			}
		})
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestRecorderFailedStartDeniesPrompt(t *testing.T) {
	src := &fakeSource{startFn: func() error { return errors.New("no device") }}
	perm := NewPermissionState(PermissionPrompt)
	r := NewRecorder(RecorderOpts{Permission: perm, Source: src, Transcriber: &fakeTranscriber{}, Logger: testLogger})
	if err := r.Start(); err == nil {
		t.Fatal("expected error")
	}
	if perm.Permission() != PermissionDenied || r.Enabled() {
		t.Errorf("failed start under prompt must deny, got %s", perm.Permission())
	}
}

func TestParsePermission(t *testing.T) {
	cases := []struct {
		in   string
		want Permission
	}{
		{"granted", PermissionGranted},
		{"denied", PermissionDenied},
		{"prompt", PermissionPrompt},
		{"", PermissionPrompt},
		{"whatever", PermissionPrompt},
	}
	for _, tc := range cases {
		if got := ParsePermission(tc.in); got != tc.want {
			t.Errorf("ParsePermission(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWAVHeader(t *testing.T) {
	pcm := make([]byte, 100)
	wav := WAV(pcm, 16000)
	if len(wav) != wavHeaderSize+len(pcm) {
		t.Fatalf("unexpected length %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Error("bad chunk ids")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 100 {
		t.Errorf("data size %d", got)
	}
}

func TestWhisperServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Filename != "recording.wav" {
			http.Error(w, "bad name", http.StatusBadRequest)
			return
		}
		if r.FormValue("response_format") != "text" {
			http.Error(w, "bad format", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("[_BEG_] hello there\n"))
	}))
	defer srv.Close()
	stt := NewWhisperServer(testLogger, srv.URL)
	text, err := stt.Transcribe(context.Background(), WAV([]byte{0, 0}, 16000))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "hello there" {
		t.Errorf("unexpected transcript %q", text)
	}
}

func TestWhisperServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	stt := NewWhisperServer(testLogger, srv.URL)
	if _, err := stt.Transcribe(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenAITranscriber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.NotFound(w, r)
			return
		}
		if r.FormValue("model") != "whisper-1" || r.FormValue("language") != "en" {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hi avatar"}`))
	}))
	defer srv.Close()
	oc := openai.DefaultConfig("test-key")
	oc.BaseURL = srv.URL + "/v1"
	tr := NewOpenAITranscriber(openai.NewClientWithConfig(oc), "", "en-US")
	text, err := tr.Transcribe(context.Background(), WAV([]byte{0, 0}, 16000))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "hi avatar" {
		t.Errorf("unexpected transcript %q", text)
	}
}
