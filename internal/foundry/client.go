package foundry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// maxErrorBody caps how much of a non-2xx body is kept on a StatusError.
const maxErrorBody = 1 << 20

// Client sends chat requests to an Azure AI Foundry agent through its
// OpenAI-compatible responses endpoint.
//
// A Client is safe for concurrent use. Call Close once when it is no longer
// needed; calls made afterwards fail with ErrClientClosed.
type Client struct {
	endpoint    string
	staticToken string
	credential  TokenCredential
	timeout     time.Duration
	log         *slog.Logger

	transport *http.Transport
	// httpClient bounds the whole round trip; used for non-streaming calls.
	httpClient *http.Client
	// streamClient has no overall deadline. Streams are bounded by the
	// transport's header timeout and the per-line idle timer instead.
	streamClient *http.Client

	closed atomic.Bool
}

// NewClient constructs a Client. The token source is not checked here; a
// missing one surfaces as ErrConfiguration on the first call.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	if cfg.ProxyURL != "" {
		if parsed, err := url.Parse(cfg.ProxyURL); err == nil && parsed.Host != "" {
			transport.Proxy = http.ProxyURL(parsed)
		} else {
			logger.Warn("ignoring invalid proxy URL; using environment proxy", "proxy_url", cfg.ProxyURL)
		}
	}

	return &Client{
		endpoint:    cfg.Endpoint,
		staticToken: cfg.BearerToken,
		credential:  cfg.Credential,
		timeout:     timeout,
		log:         logger.With("component", "foundry"),
		transport:   transport,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		streamClient: &http.Client{Transport: transport},
	}
}

// Endpoint returns the responses URL this client posts to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Close releases the connection pool. It is safe to call more than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.transport.CloseIdleConnections()
	c.log.Debug("foundry client closed")
	return nil
}

// SendMessage sends the last message of messages as the request input and
// returns a Stream of response chunks.
//
// With stream set, the chunks are the payloads of the Server-Sent Events
// sent by the endpoint, ending at "[DONE]". Without it, the Stream yields
// exactly one chunk holding the raw response body. Keys in extra are merged
// into the request body last and may override "input" and "stream".
func (c *Client) SendMessage(ctx context.Context, messages []Message, stream bool, extra Params) (*Stream, error) {
	token, err := c.prepare(ctx, messages)
	if err != nil {
		return nil, err
	}
	payload := buildPayload(messages, stream, extra)

	c.log.Debug("sending request to foundry",
		"endpoint", c.endpoint,
		"stream", stream,
		"token", preview(token, 30),
	)

	if !stream {
		body, err := c.post(ctx, token, payload)
		if err != nil {
			return nil, err
		}
		return newBodyStream(string(body)), nil
	}

	reqCtx, cancel := context.WithCancel(ctx)
	req, _, err := c.newRequest(reqCtx, token, payload, true)
	if err != nil {
		cancel()
		return nil, err
	}
	resp, err := c.streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, c.transportError("send request", err)
	}
	if statusErr := readStatusError(resp); statusErr != nil {
		resp.Body.Close()
		cancel()
		c.log.Error("foundry returned error status",
			"status", statusErr.StatusCode,
			"body", statusErr.Body,
		)
		return nil, statusErr
	}
	return newLineStream(resp.Body, cancel, c.timeout, c.log), nil
}

// SendMessageNonStreaming sends the last message of messages and returns the
// decoded JSON reply. The request always carries "stream": false, even when
// extra sets it.
func (c *Client) SendMessageNonStreaming(ctx context.Context, messages []Message, extra Params) (map[string]any, error) {
	token, err := c.prepare(ctx, messages)
	if err != nil {
		return nil, err
	}
	payload := buildPayload(messages, false, extra)
	payload["stream"] = false

	c.log.Debug("sending non-streaming request to foundry",
		"endpoint", c.endpoint,
		"token", preview(token, 30),
	)

	body, err := c.post(ctx, token, payload)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		c.log.Error("decode foundry response", "error", err, "body", truncate(string(body), 512))
		return nil, &UnexpectedError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return result, nil
}

// prepare validates messages and resolves a non-blank bearer token.
func (c *Client) prepare(ctx context.Context, messages []Message) (string, error) {
	if c.closed.Load() {
		return "", ErrClientClosed
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("%w: messages must not be empty", ErrValidation)
	}

	token, err := c.bearerToken(ctx)
	if err != nil {
		c.log.Error("failed to get bearer token", "error", err)
		return "", err
	}
	if strings.TrimSpace(token) == "" {
		c.log.Error("bearer token is empty")
		return "", ErrEmptyToken
	}
	return token, nil
}

// bearerToken returns the static token when configured, otherwise asks the
// credential provider. Provider tokens are not kept on the client.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	if c.staticToken != "" {
		c.log.Debug("using static bearer token", "token", preview(c.staticToken, 10))
		return c.staticToken, nil
	}
	if c.credential != nil {
		c.log.Debug("requesting token from credential provider", "scope", Scope)
		token, err := c.credential.GetToken(ctx, Scope)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
		c.log.Debug("token acquired", "token", preview(token, 20))
		return token, nil
	}
	return "", ErrConfiguration
}

// post sends payload and returns the full body of a 2xx response.
func (c *Client) post(ctx context.Context, token string, payload map[string]any) ([]byte, error) {
	req, raw, err := c.newRequest(ctx, token, payload, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError("send request", err)
	}
	defer resp.Body.Close()

	if statusErr := readStatusError(resp); statusErr != nil {
		c.log.Error("foundry returned error status",
			"status", statusErr.StatusCode,
			"body", statusErr.Body,
			"payload", string(raw),
		)
		return nil, statusErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError("read response", err)
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, token string, payload map[string]any, streaming bool) (*http.Request, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.log.Error("marshal request", "error", err)
		return nil, nil, &UnexpectedError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		c.log.Error("build request", "endpoint", c.endpoint, "error", err)
		return nil, nil, &UnexpectedError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, raw, nil
}

func (c *Client) transportError(op string, err error) error {
	c.log.Error("foundry request failed", "op", op, "endpoint", c.endpoint, "error", err)
	return &TransportError{Op: op, Err: err}
}

// buildPayload returns a fresh request body for every call.
func buildPayload(messages []Message, stream bool, extra Params) map[string]any {
	payload := make(map[string]any, len(extra)+2)
	payload["input"] = messages[len(messages)-1].Content
	payload["stream"] = stream
	maps.Copy(payload, extra)
	return payload
}

// readStatusError drains a non-2xx response into a StatusError. It returns
// nil for 2xx responses and leaves their body untouched.
func readStatusError(resp *http.Response) *StatusError {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
}

// preview shows the first n bytes of a secret. Secrets no longer than n are
// masked completely.
func preview(secret string, n int) string {
	if len(secret) <= n {
		return "***"
	}
	return secret[:n] + "..."
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
