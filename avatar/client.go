package avatar

import (
	"avatalk/models"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const stopOnFailureTimeout = 10 * time.Second

// Client is the contract of the external streaming-avatar service.
type Client interface {
	CreateStartAvatar(ctx context.Context, req NewSessionRequest) (*SessionInfo, error)
	Speak(ctx context.Context, req TaskRequest) error
	Interrupt(ctx context.Context, sessionID string) error
	StopAvatar(ctx context.Context, sessionID string) error
	Events(ctx context.Context, sessionID string) (<-chan TalkingEvent, error)
}

// ClientFactory builds a service client bound to an access token.
type ClientFactory func(accessToken string) Client

type VoiceSetting struct {
	VoiceID string `json:"voice_id,omitempty"`
}

type NewSessionRequest struct {
	Quality    models.Quality `json:"quality"`
	AvatarName string         `json:"avatar_name"`
	Voice      VoiceSetting   `json:"voice"`
}

type SessionInfo struct {
	SessionID   string             `json:"session_id"`
	URL         string             `json:"url"`
	AccessToken string             `json:"access_token"`
	ICEServers  []models.ICEServer `json:"ice_servers2,omitempty"`
	SDP         *struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	} `json:"sdp,omitempty"`
}

func (si *SessionInfo) MediaStream() *models.MediaStream {
	ms := &models.MediaStream{
		URL:         si.URL,
		AccessToken: si.AccessToken,
		ICEServers:  si.ICEServers,
	}
	if si.SDP != nil {
		ms.SDP = si.SDP.SDP
	}
	return ms
}

type TaskRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	TaskType  string `json:"task_type,omitempty"`
}

type sessionIDRequest struct {
	SessionID string `json:"session_id"`
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// APIError is a non-2xx answer from the avatar service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("avatar api: unexpected status code: %d", e.Status)
	}
	return fmt.Sprintf("avatar api: %d: %s", e.Status, e.Message)
}

// APIClient talks to the avatar service REST API.
type APIClient struct {
	root        string
	accessToken string
	apiKey      string
	eventsURL   string
	httpClient  *http.Client
	logger      *slog.Logger
}

type APIClientOpts struct {
	Root       string
	APIKey     string
	EventsURL  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewAPIClient(accessToken string, opts APIClientOpts) *APIClient {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &APIClient{
		root:        strings.TrimRight(opts.Root, "/"),
		accessToken: accessToken,
		apiKey:      opts.APIKey,
		eventsURL:   opts.EventsURL,
		httpClient:  hc,
		logger:      logger,
	}
}

// NewFactory returns a ClientFactory producing APIClients with shared options.
func NewFactory(opts APIClientOpts) ClientFactory {
	return func(accessToken string) Client {
		return NewAPIClient(accessToken, opts)
	}
}

func (c *APIClient) post(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.root+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	} else if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}
	var ar apiResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &ar); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("failed to decode %s response: %w", method, err)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("avatar api error", "method", method, "status", resp.StatusCode, "body", string(data))
		return &APIError{Status: resp.StatusCode, Message: ar.Message}
	}
	if out == nil || len(ar.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(ar.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", method, err)
	}
	return nil
}

// CreateToken exchanges the account api key for a short-lived session token.
func (c *APIClient) CreateToken(ctx context.Context) (string, error) {
	var data struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "streaming.create_token", struct{}{}, &data); err != nil {
		return "", err
	}
	if data.Token == "" {
		return "", ErrNoToken
	}
	return data.Token, nil
}

// CreateStartAvatar creates a session and starts streaming it.
func (c *APIClient) CreateStartAvatar(ctx context.Context, req NewSessionRequest) (*SessionInfo, error) {
	info := &SessionInfo{}
	if err := c.post(ctx, "streaming.new", req, info); err != nil {
		return nil, err
	}
	if info.SessionID == "" {
		return nil, fmt.Errorf("streaming.new returned no session id")
	}
	if err := c.post(ctx, "streaming.start", sessionIDRequest{SessionID: info.SessionID}, nil); err != nil {
		// the session exists on the service already; release it
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopOnFailureTimeout)
		defer cancel()
		if stopErr := c.StopAvatar(stopCtx, info.SessionID); stopErr != nil {
			c.logger.Warn("failed to stop half-started session", "session_id", info.SessionID, "error", stopErr)
		}
		return nil, err
	}
	return info, nil
}

func (c *APIClient) Speak(ctx context.Context, req TaskRequest) error {
	if req.TaskType == "" {
		req.TaskType = "repeat"
	}
	return c.post(ctx, "streaming.task", req, nil)
}

func (c *APIClient) Interrupt(ctx context.Context, sessionID string) error {
	return c.post(ctx, "streaming.interrupt", sessionIDRequest{SessionID: sessionID}, nil)
}

func (c *APIClient) StopAvatar(ctx context.Context, sessionID string) error {
	return c.post(ctx, "streaming.stop", sessionIDRequest{SessionID: sessionID}, nil)
}

// Events subscribes to talking events; without an events url there is nothing to observe.
func (c *APIClient) Events(ctx context.Context, sessionID string) (<-chan TalkingEvent, error) {
	if c.eventsURL == "" {
		return nil, nil
	}
	return SubscribeEvents(ctx, c.eventsURL, sessionID, c.accessToken, c.logger)
}
