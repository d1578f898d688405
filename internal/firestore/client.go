// Package firestore is a thin REST adapter for the document store. It covers
// only what the sync loop needs: an equality query, point reads, conditional
// creates, and field-masked patches.
package firestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matanguihanbenson/agos-app/internal/fsval"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrAuth          = errors.New("request not authorized")
)

// StatusError is a non-2xx response from the store.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

// TokenSource yields a bearer token for outbound calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Document struct {
	Name   string                 `json:"name"`
	Fields map[string]fsval.Value `json:"fields"`
}

// ID returns the last path segment of the document name.
func (d *Document) ID() string {
	if i := strings.LastIndexByte(d.Name, '/'); i >= 0 {
		return d.Name[i+1:]
	}
	return d.Name
}

type Client struct {
	projectID  string
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

func New(projectID, baseURL string, tokens TokenSource) *Client {
	return &Client{
		projectID:  projectID,
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) documentsRoot() string {
	return fmt.Sprintf("projects/%s/databases/(default)/documents", c.projectID)
}

// DocName returns the full resource name for a document.
func (c *Client) DocName(collection, id string) string {
	return c.documentsRoot() + "/" + collection + "/" + id
}

type queryRow struct {
	Document *Document `json:"document"`
}

// QueryByField runs an equality query over one collection, capped at limit.
func (c *Client) QueryByField(ctx context.Context, collection, field, value string, limit int) ([]Document, error) {
	u := c.baseURL + "/" + c.documentsRoot() + ":runQuery"
	body := map[string]any{
		"structuredQuery": map[string]any{
			"from": []map[string]any{{"collectionId": collection}},
			"where": map[string]any{
				"fieldFilter": map[string]any{
					"field": map[string]any{"fieldPath": field},
					"op":    "EQUAL",
					"value": map[string]any{"stringValue": value},
				},
			},
			"limit": limit,
		},
	}

	var rows []queryRow
	if err := c.do(ctx, http.MethodPost, u, body, &rows); err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(rows))
	for _, r := range rows {
		if r.Document == nil {
			continue
		}
		docs = append(docs, *r.Document)
	}
	return docs, nil
}

// Get fetches one document; ErrNotFound when it does not exist.
func (c *Client) Get(ctx context.Context, collection, id string) (*Document, error) {
	u := c.baseURL + "/" + c.DocName(collection, url.PathEscape(id))
	var doc Document
	if err := c.do(ctx, http.MethodGet, u, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Create creates a document with the given id; ErrAlreadyExists when a
// concurrent creator won the race.
func (c *Client) Create(ctx context.Context, collection, id string, fields map[string]fsval.Value) (*Document, error) {
	u := c.baseURL + "/" + c.documentsRoot() + "/" + collection + "?documentId=" + url.QueryEscape(id)
	var doc Document
	if err := c.do(ctx, http.MethodPost, u, map[string]any{"fields": fields}, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Patch updates only the fields named in mask, leaving all others untouched.
func (c *Client) Patch(ctx context.Context, name string, fields map[string]fsval.Value, mask []string) (*Document, error) {
	q := url.Values{}
	for _, p := range mask {
		q.Add("updateMask.fieldPaths", p)
	}
	u := c.baseURL + "/" + name + "?" + q.Encode()
	var doc Document
	if err := c.do(ctx, http.MethodPatch, u, map[string]any{"fields": fields}, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) do(ctx context.Context, method, u string, body, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(resp.Body)
		statusErr := &StatusError{Method: method, URL: u, Status: resp.StatusCode, Body: string(text)}
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, u)
		case http.StatusConflict:
			return fmt.Errorf("%w: %s", ErrAlreadyExists, u)
		case http.StatusUnauthorized, http.StatusForbidden:
			slog.Error("firestore request not authorized", "method", method, "url", u, "status", resp.StatusCode, "body", string(text))
			return fmt.Errorf("%w: %v", ErrAuth, statusErr)
		}
		slog.Error("firestore request failed", "method", method, "url", u, "status", resp.StatusCode, "body", string(text))
		return statusErr
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
