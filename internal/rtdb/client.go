// Package rtdb is a thin REST adapter for the realtime tree store. Patch
// performs a shallow merge at the given path: siblings not mentioned are
// preserved, nested objects given are deep-merged by the server.
package rtdb

import (
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

// TokenSource yields a bearer token for outbound calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Client struct {
	databaseURL string
	tokens      TokenSource
	httpClient  *http.Client
}

func New(databaseURL string, tokens TokenSource) *Client {
	return &Client{
		databaseURL: strings.TrimRight(databaseURL, "/"),
		tokens:      tokens,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Get reads the value at path. A JSON null body means the path is absent and
// yields (nil, nil).
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 || string(body) == "null" {
		return nil, nil
	}
	return body, nil
}

// Patch shallow-merges partial into the value at path.
func (c *Client) Patch(ctx context.Context, path string, partial map[string]any) error {
	b, err := json.Marshal(partial)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPatch, path, b)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.databaseURL + path + ".json"

	var payload io.Reader
	if body != nil {
		payload = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("rtdb request failed", "method", method, "url", u, "status", resp.StatusCode, "body", string(text))
		return nil, fmt.Errorf("%s %s returned status %d: %s", method, u, resp.StatusCode, string(text))
	}
	return json.RawMessage(text), nil
}
