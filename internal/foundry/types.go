package foundry

import (
	"context"
	"log/slog"
	"time"
)

// Scope is the token audience requested from a credential provider for
// Azure AI Foundry agent endpoints.
const Scope = "https://ai.azure.com/.default"

// DefaultTimeout is used when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Message is one turn of a conversation in OpenAI chat format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params carries extra top-level fields merged into the request body.
type Params map[string]any

// TokenCredential produces bearer tokens for a scope. Implementations may
// cache and refresh tokens on their own schedule.
type TokenCredential interface {
	GetToken(ctx context.Context, scope string) (string, error)
}

// Config configures a Client.
type Config struct {
	// Endpoint is the full OpenAI-compatible responses URL.
	Endpoint string
	// BearerToken is a static token. When set it always wins over Credential.
	BearerToken string
	// Credential is consulted on every call when BearerToken is empty.
	Credential TokenCredential
	// Timeout bounds each request. Streaming requests apply it to the
	// response headers and to the gap between two consecutive lines.
	Timeout time.Duration
	// ProxyURL routes requests through an HTTP(S) proxy. Empty uses the
	// environment proxy settings.
	ProxyURL string
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}
