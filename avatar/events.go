package avatar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	EventStartTalking = "avatar_start_talking"
	EventStopTalking  = "avatar_stop_talking"

	eventsDialTimeout = 10 * time.Second
)

type TalkingEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	TaskID    string `json:"task_id,omitempty"`
}

// SubscribeEvents opens the websocket event feed of a session. The dial is
// bounded by eventsDialTimeout. The returned channel is closed when the
// connection drops or ctx is done.
func SubscribeEvents(ctx context.Context, eventsURL, sessionID, token string, logger *slog.Logger) (<-chan TalkingEvent, error) {
	u, err := url.Parse(eventsURL)
	if err != nil {
		return nil, fmt.Errorf("bad events url: %w", err)
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = eventsDialTimeout
	dialCtx, cancel := context.WithTimeout(ctx, eventsDialTimeout)
	conn, _, err := dialer.DialContext(dialCtx, u.String(), header)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("events: dial %q: %w", u.Redacted(), err)
	}
	events := make(chan TalkingEvent, 16)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(events)
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					logger.Warn("avatar events connection dropped", "session_id", sessionID, "error", err)
				}
				return
			}
			var ev TalkingEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				logger.Debug("skipping undecodable avatar event", "data", string(data), "error", err)
				continue
			}
			if ev.Type != EventStartTalking && ev.Type != EventStopTalking {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}
