// Package chatapi is the HTTP transport to the chat backend.
package chatapi

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
)

var (
	ErrRequestFailed = errors.New("chat request failed")
	ErrNoBody        = errors.New("chat response has no body")
	ErrStopFailed    = errors.New("stop stream failed")
)

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, strings.TrimSpace(strings.TrimPrefix(e.Status, fmt.Sprint(e.StatusCode))))
}

// MessageRequest is the body of a streamed send.
type MessageRequest struct {
	Role               string `json:"role"`
	Content            string `json:"content"`
	Model              string `json:"model"`
	Stream             bool   `json:"stream"`
	Documents          []int  `json:"documents,omitempty"`
	SystemPromptAppend string `json:"system_prompt_append,omitempty"`
}

// Transport opens streamed completions and stops them out of band.
type Transport interface {
	// OpenStream starts a streamed reply. The body is bound to ctx and must be closed by the caller.
	OpenStream(ctx context.Context, conversationID string, req MessageRequest) (io.ReadCloser, error)
	// StopStream asks the backend to abort the generation for sessionID.
	StopStream(ctx context.Context, sessionID string) error
}

// Config holds configuration for the backend client.
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout bounds each request. Zero means no timeout, which streams require.
	Timeout time.Duration
}

// Client implements Transport over net/http.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a backend client.
func NewClient(config Config) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// NewClientWithHTTP creates a client using an existing http.Client.
func NewClientWithHTTP(config Config, httpClient *http.Client) *Client {
	c := NewClient(config)
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// OpenStream posts a user message and returns the SSE body.
func (c *Client) OpenStream(ctx context.Context, conversationID string, req MessageRequest) (io.ReadCloser, error) {
	req.Stream = true
	if req.Role == "" {
		req.Role = "user"
	}

	endpoint := fmt.Sprintf("%s/chat/conversations/%s/messages", c.baseURL, url.PathEscape(conversationID))
	httpReq, err := c.newJSONRequest(ctx, endpoint, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, statusError(resp))
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, ErrNoBody
	}

	return resp.Body, nil
}

// StopStream notifies the backend to abort the generation bound to sessionID.
func (c *Client) StopStream(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: empty session id", ErrStopFailed)
	}

	httpReq, err := c.newJSONRequest(ctx, c.baseURL+"/chat/stop-stream", map[string]string{"session_id": sessionID})
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStopFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %w", ErrStopFailed, statusError(resp))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) newJSONRequest(ctx context.Context, endpoint string, body interface{}) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func statusError(resp *http.Response) *StatusError {
	se := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		se.Message = parsed.Message
		if se.Message == "" {
			se.Message = parsed.Detail
		}
	}
	return se
}
