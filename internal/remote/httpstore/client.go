// Package httpstore talks to a remote tree and blob store over REST.
package httpstore

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

	"github.com/google/uuid"

	"github.com/reelsync/reelsync-agent/internal/remote"
)

// StatusError is a non-2xx answer from the remote store.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote store request failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx).
// Client errors (4xx) are considered permanent.
func (e *StatusError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// Unwrap maps 404 onto remote.ErrNotFound.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return remote.ErrNotFound
	}
	return nil
}

type Client struct {
	baseURL    string
	token      string
	deviceID   string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		logger: logger,
	}
}

func (c *Client) SetDeviceID(id string) {
	c.deviceID = id
}

func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	resp, err := c.do(ctx, http.MethodGet, "tree", path, nil, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return json.RawMessage(body), nil
}

func (c *Client) Set(ctx context.Context, path string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	resp, err := c.do(ctx, http.MethodPut, "tree", path, nil, bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) Delete(ctx context.Context, path string) error {
	return c.delete(ctx, "tree", path)
}

func (c *Client) AppendChild(ctx context.Context, parentPath string, value any) (string, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", parentPath, err)
	}
	resp, err := c.do(ctx, http.MethodPost, "tree", parentPath, nil, bytes.NewReader(body), "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode append response: %w", err)
	}
	return result.Name, nil
}

func (c *Client) QueryByChildEquals(ctx context.Context, path, field, value string) (map[string]json.RawMessage, error) {
	q := url.Values{"orderBy": {field}, "equalTo": {value}}
	resp, err := c.do(ctx, http.MethodGet, "tree", path, q, nil, "")
	if errors.Is(err, remote.ErrNotFound) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := make(map[string]json.RawMessage)
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	return out, nil
}

func (c *Client) PutBlob(ctx context.Context, path string, r io.Reader, contentType string) error {
	resp, err := c.do(ctx, http.MethodPut, "blobs", path, nil, r, contentType)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) GetBlob(ctx context.Context, path string, maxBytes int64) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "blobs", path, nil, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if maxBytes <= 0 {
		return io.ReadAll(resp.Body)
	}
	if resp.ContentLength > maxBytes {
		return nil, remote.ErrTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", path, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, remote.ErrTooLarge
	}
	return data, nil
}

func (c *Client) GetBlobToFile(ctx context.Context, path, dest string) error {
	resp, err := c.do(ctx, http.MethodGet, "blobs", path, nil, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return remote.WriteFileAtomic(dest, resp.Body)
}

func (c *Client) DeleteBlob(ctx context.Context, path string) error {
	return c.delete(ctx, "blobs", path)
}

func (c *Client) delete(ctx context.Context, resource, path string) error {
	resp, err := c.do(ctx, http.MethodDelete, resource, path, nil, nil, "")
	if errors.Is(err, remote.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// do sends one request and returns the response only for 2xx answers.
func (c *Client) do(ctx context.Context, method, resource, path string, query url.Values, body io.Reader, contentType string) (*http.Response, error) {
	u := c.baseURL + "/" + resource + "/" + escapePath(path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Reelsync-Request-Id", uuid.NewString())
	if c.deviceID != "" {
		req.Header.Set("X-Reelsync-Device-Id", c.deviceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusNotFound {
		c.logger.Warn("remote store request failed",
			"method", method,
			"resource", resource,
			"path", path,
			"status", resp.StatusCode,
		)
	}
	return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
}

func escapePath(path string) string {
	segs := remote.Split(path)
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
