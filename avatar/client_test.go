package avatar

import (
	"avatalk/models"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recordedCall struct {
	Path   string
	Auth   string
	APIKey string
	Body   map[string]any
}

// newAvatarAPI answers every streaming call; the call at failPath gets a 400.
func newAvatarAPI(t *testing.T, failPath string) (*httptest.Server, *[]recordedCall) {
	t.Helper()
	var mu sync.Mutex
	calls := []recordedCall{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		mu.Lock()
		calls = append(calls, recordedCall{
			Path:   r.URL.Path,
			Auth:   r.Header.Get("Authorization"),
			APIKey: r.Header.Get("X-Api-Key"),
			Body:   body,
		})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == failPath {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":400,"message":"voice not supported"}`))
			return
		}
		switch r.URL.Path {
		case "/v1/streaming.create_token":
			_, _ = w.Write([]byte(`{"code":100,"data":{"token":"tok-abc"}}`))
		case "/v1/streaming.new":
			_, _ = w.Write([]byte(`{"code":100,"data":{"session_id":"s-42","url":"wss://lk.example","access_token":"lk-tok","sdp":{"type":"offer","sdp":"v=0"}}}`))
		default:
			_, _ = w.Write([]byte(`{"code":100,"data":{}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestAPIClientSessionCalls(t *testing.T) {
	srv, calls := newAvatarAPI(t, "")
	ctx := context.Background()
	c := NewAPIClient("tok-abc", APIClientOpts{Root: srv.URL + "/v1/", Logger: testLogger})
	info, err := c.CreateStartAvatar(ctx, NewSessionRequest{
		Quality:    models.QualityLow,
		AvatarName: "avatar-1",
		Voice:      VoiceSetting{VoiceID: "voice-1"},
	})
	if err != nil {
		t.Fatalf("CreateStartAvatar failed: %v", err)
	}
	ms := info.MediaStream()
	if info.SessionID != "s-42" || ms.URL != "wss://lk.example" || ms.SDP != "v=0" {
		t.Errorf("unexpected session info: %+v / %+v", info, ms)
	}
	if err := c.Speak(ctx, TaskRequest{SessionID: "s-42", Text: "hello"}); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if err := c.Interrupt(ctx, "s-42"); err != nil {
		t.Fatalf("Interrupt failed: %v", err)
	}
	if err := c.StopAvatar(ctx, "s-42"); err != nil {
		t.Fatalf("StopAvatar failed: %v", err)
	}
	expected := []string{"/v1/streaming.new", "/v1/streaming.start", "/v1/streaming.task", "/v1/streaming.interrupt", "/v1/streaming.stop"}
	if len(*calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d", len(expected), len(*calls))
	}
	for i, call := range *calls {
		if call.Path != expected[i] {
			t.Errorf("call %d: expected %s, got %s", i, expected[i], call.Path)
		}
		if call.Auth != "Bearer tok-abc" {
			t.Errorf("call %d: expected bearer auth, got %q", i, call.Auth)
		}
	}
	newBody := (*calls)[0].Body
	if newBody["quality"] != "low" || newBody["avatar_name"] != "avatar-1" {
		t.Errorf("unexpected streaming.new body: %v", newBody)
	}
	task := (*calls)[2].Body
	if task["text"] != "hello" || task["session_id"] != "s-42" || task["task_type"] != "repeat" {
		t.Errorf("unexpected streaming.task body: %v", task)
	}
}

func TestAPIClientStartFailureStopsSession(t *testing.T) {
	cases := []struct {
		failPath string
		expected []string
	}{
		{"/v1/streaming.new", []string{"/v1/streaming.new"}},
		{"/v1/streaming.start", []string{"/v1/streaming.new", "/v1/streaming.start", "/v1/streaming.stop"}},
	}
	for i, tc := range cases {
		t.Run(fmt.Sprintf("run_%d", i), func(t *testing.T) {
			srv, calls := newAvatarAPI(t, tc.failPath)
			c := NewAPIClient("tok-abc", APIClientOpts{Root: srv.URL + "/v1", Logger: testLogger})
			if _, err := c.CreateStartAvatar(context.Background(), NewSessionRequest{AvatarName: "a"}); err == nil {
				t.Fatal("expected error")
			}
			paths := []string{}
			for _, call := range *calls {
				paths = append(paths, call.Path)
			}
			if strings.Join(paths, ",") != strings.Join(tc.expected, ",") {
				t.Fatalf("expected calls %v, got %v", tc.expected, paths)
			}
			if last := (*calls)[len(*calls)-1]; last.Path == "/v1/streaming.stop" && last.Body["session_id"] != "s-42" {
				t.Errorf("stop must target the new session, got %v", last.Body)
			}
		})
	}
}

func TestSubscribeEventsHungHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	var mu sync.Mutex
	conns := []net.Conn{}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = SubscribeEvents(ctx, "ws://"+ln.Addr().String(), "s-42", "tok", testLogger)
	if err == nil {
		t.Fatal("expected handshake error")
	}
	if waited := time.Since(start); waited > 2*time.Second {
		t.Errorf("dial ignored the caller deadline, waited %s", waited)
	}
}

func TestAPIClientError(t *testing.T) {
	srv, _ := newAvatarAPI(t, "/v1/streaming.new")
	c := NewAPIClient("tok-abc", APIClientOpts{Root: srv.URL + "/v1", Logger: testLogger})
	_, err := c.CreateStartAvatar(context.Background(), NewSessionRequest{AvatarName: "a"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Message != "voice not supported" {
		t.Errorf("unexpected api error: %+v", apiErr)
	}
}

func TestAPIClientCreateToken(t *testing.T) {
	srv, calls := newAvatarAPI(t, "")
	c := NewAPIClient("", APIClientOpts{Root: srv.URL + "/v1", APIKey: "secret", Logger: testLogger})
	token, err := c.CreateToken(context.Background())
	if err != nil {
		t.Fatalf("CreateToken failed: %v", err)
	}
	if token != "tok-abc" {
		t.Errorf("expected tok-abc, got %q", token)
	}
	if (*calls)[0].APIKey != "secret" {
		t.Errorf("expected api key header, got %q", (*calls)[0].APIKey)
	}
}

func TestHTTPTokenSource(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr bool
	}{
		{"ok", http.StatusOK, "tok-1\n", "tok-1", false},
		{"server error", http.StatusInternalServerError, "boom", "", true},
		{"empty body", http.StatusOK, "", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("expected POST, got %s", r.Method)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			ts := &HTTPTokenSource{URL: srv.URL + "/avatar/api/get-access-token"}
			got, err := ts.FetchAccessToken(context.Background())
			if (err != nil) != tc.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSubscribeEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("session_id") != "s-42" {
			http.Error(w, "missing session", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		msgs := []string{
			`{"type":"avatar_start_talking","session_id":"s-42","task_id":"t1"}`,
			`{"type":"unrelated"}`,
			`not json`,
			`{"type":"avatar_stop_talking","session_id":"s-42","task_id":"t1"}`,
		}
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	events, err := SubscribeEvents(ctx, wsURL, "s-42", "tok", testLogger)
	if err != nil {
		t.Fatalf("SubscribeEvents failed: %v", err)
	}
	got := []string{}
	for ev := range events {
		got = append(got, ev.Type)
	}
	if len(got) != 2 || got[0] != EventStartTalking || got[1] != EventStopTalking {
		t.Errorf("unexpected events: %v", got)
	}
}
