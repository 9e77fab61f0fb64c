// Package syncclient is the HTTP client for the remote sync API: the batched
// data sync endpoint, media upload and per-entity media listing.
package syncclient

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
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vonshlovens/fieldsync/internal/config"
)

// ServerError is a non-2xx response from the sync API
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.StatusCode)
}

// Temporary reports whether retrying the same request may succeed
func (e *ServerError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Client talks to the sync API
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	timeout    time.Duration
	retries    uint64
	retryDelay time.Duration
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client for the configured server
func New(server *config.ServerConfig, syncCfg *config.SyncConfig, opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(server.BaseURL), "/"),
		token:      strings.TrimSpace(server.Token),
		timeout:    server.Timeout(),
		retries:    uint64(max(syncCfg.RetryAttempts, 0)),
		retryDelay: syncCfg.RetryDelay(),
	}
	if c.retryDelay <= 0 {
		c.retryDelay = 100 * time.Millisecond
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sync submits the batched payload. A response with success=false is
// returned as-is rather than as an error; non-2xx statuses and transport
// failures are errors.
func (c *Client) Sync(ctx context.Context, req *SyncRequest) (*SyncResponse, error) {
	var out SyncResponse
	if err := c.do(ctx, http.MethodPost, "/sync", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadMedia sends one base64-encoded file and returns the stored blob URL
func (c *Client) UploadMedia(ctx context.Context, req *UploadRequest) (string, error) {
	var out UploadResponse
	if err := c.do(ctx, http.MethodPost, "/media/upload", req, &out); err != nil {
		return "", err
	}
	if !out.Success {
		msg := out.Message
		if msg == "" {
			msg = "upload rejected"
		}
		return "", &ServerError{StatusCode: http.StatusOK, Message: msg}
	}
	if out.Data.BlobURL == "" {
		return "", fmt.Errorf("upload response missing blobUrl")
	}
	return out.Data.BlobURL, nil
}

// ListMedia returns the server's media records for one owner
func (c *Client) ListMedia(ctx context.Context, entityName string, entityID int64) ([]RemoteMedia, error) {
	path := "/media/" + url.PathEscape(entityName) + "/" + strconv.FormatInt(entityID, 10)
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[RemoteMedia](raw)
}

// ListAppointments returns the appointments assigned to a surveyor
func (c *Client) ListAppointments(ctx context.Context, surveyorEmail string) ([]Appointment, error) {
	q := url.Values{}
	q.Set("surveyorEmail", surveyorEmail)
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/appointments?"+q.Encode(), nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[Appointment](raw)
}

// Download fetches a blob. The bearer token is only attached when the URL
// points at the API host; blob storage URLs are expected to be pre-signed.
// The caller closes the returned body.
func (c *Client) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid download url: %w", err)
	}
	if !target.IsAbs() {
		target, err = url.Parse(c.baseURL + "/" + strings.TrimLeft(rawURL, "/"))
		if err != nil {
			return nil, fmt.Errorf("invalid download url: %w", err)
		}
	}

	var body io.ReadCloser
	err = retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return err
		}
		if c.sameHost(target) {
			c.authorize(req)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			defer resp.Body.Close()
			return classify(responseError(resp))
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) sameHost(u *url.URL) bool {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(base.Host, u.Host)
}

func (c *Client) authorize(req *http.Request) {
	if c.token == "" {
		return
	}
	token := c.token
	if !strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = "Bearer " + token
	}
	req.Header.Set("Authorization", token)
}

func (c *Client) backoff() retry.Backoff {
	return retry.WithMaxRetries(c.retries, retry.NewFibonacci(c.retryDelay))
}

// do sends one JSON request with retries. Each attempt gets its own timeout.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		payload = b
	}

	attempt := 0
	return retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			slog.Debug("retrying request", "method", method, "path", path, "attempt", attempt)
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, r)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.authorize(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.RetryableError(fmt.Errorf("%s %s: %w", method, path, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return classify(responseError(resp))
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", path, err)
		}
		return nil
	})
}

func responseError(resp *http.Response) *ServerError {
	se := &ServerError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var eb errorBody
	if json.Unmarshal(data, &eb) == nil {
		se.Message = strings.TrimSpace(eb.Message)
		if se.Message == "" {
			se.Message = strings.TrimSpace(eb.Error)
		}
	}
	if se.Message == "" {
		se.Message = strings.TrimSpace(string(data))
	}
	return se
}

func classify(err *ServerError) error {
	if err.Temporary() {
		return retry.RetryableError(err)
	}
	return err
}

// decodeList accepts either a bare JSON array or an envelope whose data
// field holds the array.
func decodeList[T any](raw json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []T{}, nil
	}

	if trimmed[0] == '[' {
		var list []T
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("failed to decode list: %w", err)
		}
		return list, nil
	}

	var env struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
		Data    []T    `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("failed to decode list envelope: %w", err)
	}
	if env.Success != nil && !*env.Success {
		return nil, &ServerError{StatusCode: http.StatusOK, Message: env.Message}
	}
	if env.Data == nil {
		return []T{}, nil
	}
	return env.Data, nil
}

// IsServerError reports whether err came back from the server rather than
// from the transport.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}
