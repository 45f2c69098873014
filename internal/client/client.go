package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfeidau/ding/internal/api"
)

// Config holds common client configuration
type Config struct {
	ServerURL string
	Timeout   time.Duration
	// CacheDir persists downloaded QR images between runs. Empty keeps them in memory.
	CacheDir string
	Debug    bool
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		ServerURL: "http://localhost:8080",
		Timeout:   30 * time.Second,
	}
}

// APIError is a non 2xx answer from the server.
type APIError struct {
	StatusCode int
	Body       api.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.Detail != "" {
		return fmt.Sprintf("%s (%d): %s [%s]", e.Body.Error, e.StatusCode, e.Body.Message, e.Body.Detail)
	}
	return fmt.Sprintf("%s (%d): %s", e.Body.Error, e.StatusCode, e.Body.Message)
}

// IsCode reports whether err is an APIError carrying the given error code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Body.Error == code
}

// Client talks to the ding HTTP API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	images  *http.Client
}

// New creates a client for the server in cfg.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.ServerURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", cfg.ServerURL)
	}

	images := NewCachingHTTPClient(cfg.CacheDir)
	images.Timeout = cfg.Timeout

	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: cfg.Timeout},
		images:  images,
	}, nil
}

// Health returns the server status.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates a new code for an owner.
func (c *Client) Register(ctx context.Context, req api.RegisterRequest) (*api.RegisterResponse, error) {
	var out api.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/qr-codes", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Scan reports a visitor scanning a code.
func (c *Client) Scan(ctx context.Context, req api.ScanRequest) (*api.ScanResponse, error) {
	var out api.ScanResponse
	if err := c.do(ctx, http.MethodPost, "/scan", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Respond answers a notified session.
func (c *Client) Respond(ctx context.Context, req api.RespondRequest) (*api.RespondResponse, error) {
	var out api.RespondResponse
	if err := c.do(ctx, http.MethodPost, "/respond", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession fetches a session snapshot.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*api.Session, error) {
	var out api.Session
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions returns an owner's sessions, newest first.
func (c *Client) ListSessions(ctx context.Context, ownerID string) ([]api.Session, error) {
	var out api.ListSessionsResponse
	if err := c.do(ctx, http.MethodGet, "/sessions?owner_id="+url.QueryEscape(ownerID), nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// QRImage downloads the PNG for a code. Images are served immutable, so repeated downloads
// come from the local cache.
func (c *Client) QRImage(ctx context.Context, codeID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/qr-codes/"+url.PathEscape(codeID)+".png"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.images.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch QR image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	return io.ReadAll(resp.Body)
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&apiErr.Body); err != nil || apiErr.Body.Error == "" {
		apiErr.Body = api.ErrorResponse{Error: "http_error", Message: http.StatusText(resp.StatusCode)}
	}
	return apiErr
}
