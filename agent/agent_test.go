package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestAgent(t *testing.T, handler http.HandlerFunc) *OpenAIAgent {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	oc := openai.DefaultConfig("test-key")
	oc.BaseURL = srv.URL + "/v1"
	return NewOpenAIAgentWithClient(openai.NewClientWithConfig(oc), "test-model", "be brief", testLogger)
}

func TestSubmitUserMessage(t *testing.T) {
	var seen [][]openai.ChatCompletionMessage
	a := newTestAgent(t, func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		seen = append(seen, req.Messages)
		w.Header().Set("Content-Type", "application/json")
		reply := fmt.Sprintf("**answer %d**", len(seen))
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: "assistant", Content: reply},
			}},
		})
	})
	ctx := context.Background()
	for i, text := range []string{"hello", "again"} {
		reply, err := a.SubmitUserMessage(ctx, text)
		if err != nil {
			t.Fatalf("run_%d: %v", i, err)
		}
		want := fmt.Sprintf("**answer %d**", i+1)
		if reply.Text != want {
			t.Errorf("run_%d: expected %q, got %q", i, want, reply.Text)
		}
		if !strings.Contains(reply.HTML, "<strong>") {
			t.Errorf("run_%d: expected rendered html, got %q", i, reply.HTML)
		}
	}
	// system + user for the first turn; system + 2 history + user for the second
	if len(seen[0]) != 2 || seen[0][0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("unexpected first request: %+v", seen[0])
	}
	if len(seen[1]) != 4 || seen[1][2].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("unexpected second request: %+v", seen[1])
	}
	if h := a.History(); len(h) != 4 || h[3].HTML == "" {
		t.Errorf("unexpected history: %+v", h)
	}
}

func TestSubmitUserMessageError(t *testing.T) {
	a := newTestAgent(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	})
	if _, err := a.SubmitUserMessage(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
	if h := a.History(); len(h) != 0 {
		t.Errorf("failed turn must not enter history: %+v", h)
	}
}

func TestToHTML(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"# Title", "<h1"},
		{"plain *words*", "<em>words</em>"},
		{"| a | b |\n|---|---|\n| 1 | 2 |", "<table>"},
	}
	for i, tc := range cases {
		t.Run(fmt.Sprintf("run_%d", i), func(t *testing.T) {
			got, err := ToHTML(tc.in)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(got, tc.want) {
				t.Errorf("expected %q in %q", tc.want, got)
			}
		})
	}
}
