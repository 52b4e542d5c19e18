package avatar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// TokenSource hands out short-lived avatar access tokens.
type TokenSource interface {
	FetchAccessToken(ctx context.Context) (string, error)
}

// HTTPTokenSource posts to the token endpoint and reads a plain-text token.
type HTTPTokenSource struct {
	URL    string
	Client *http.Client
}

func (ts *HTTPTokenSource) FetchAccessToken(ctx context.Context) (string, error) {
	hc := ts.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("token endpoint: unexpected status code: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) FetchAccessToken(ctx context.Context) (string, error) {
	return f(ctx)
}
