package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	DefaultAPIVersion      = "2025-11-15-preview"
	DefaultResponseTimeout = 30 * time.Second

	responsesSuffix = "/protocols/openai/responses"
)

type Config struct {
	// Foundry
	FoundryEnabled  bool
	Endpoint        string
	Project         string
	Application     string
	APIVersion      string
	BearerToken     string
	ResponseTimeout time.Duration
	ProxyURL        string
	// Azure identity
	UseAzureIdentity bool
	TenantID         string
	ClientID         string
	ClientSecret     string
	AuthorityHost    string
	// Server
	ListenAddr   string
	LogLevel     string
	AutoMaxProcs bool
	// A2A
	A2AEnabled bool
	A2APort    int
	AgentName  string
	AgentDesc  string
}

// Load reads configuration from os.Args, the environment and, when
// DOTENV_PATH is set, a dotenv file. It exits on invalid flags.
func Load() *Config {
	cfg, err := LoadFrom(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return cfg
}

// LoadFrom parses args with environment fallbacks. Variables already present
// in the environment are never overridden by the dotenv file.
func LoadFrom(args []string) (*Config, error) {
	if path := os.Getenv("DOTENV_PATH"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("config: load dotenv %s: %w", path, err)
		}
	}

	cfg := &Config{}
	fs := pflag.NewFlagSet("foundry-agent", pflag.ContinueOnError)

	fs.BoolVar(&cfg.FoundryEnabled, "foundry-enabled", getEnvBool("FOUNDRY_ENABLED", true), "Enable the Foundry conversation endpoint")
	fs.StringVar(&cfg.Endpoint, "foundry-endpoint", getEnv("FOUNDRY_ENDPOINT", ""), "Foundry resource endpoint or full responses URL")
	fs.StringVar(&cfg.Project, "foundry-project", getEnv("FOUNDRY_PROJECT", ""), "Foundry project name")
	fs.StringVar(&cfg.Application, "foundry-application", getEnv("FOUNDRY_APPLICATION", ""), "Foundry application name")
	fs.StringVar(&cfg.APIVersion, "foundry-api-version", getEnv("FOUNDRY_API_VERSION", DefaultAPIVersion), "Foundry responses API version")
	fs.StringVar(&cfg.BearerToken, "foundry-bearer-token", getEnv("FOUNDRY_BEARER_TOKEN", ""), "Static bearer token (wins over Azure identity)")
	fs.StringVar(&cfg.ProxyURL, "foundry-proxy-url", getEnv("FOUNDRY_PROXY_URL", ""), "HTTP/HTTPS proxy URL for Foundry requests (e.g. http://proxy:8080)")
	fs.DurationVar(&cfg.ResponseTimeout, "foundry-response-timeout", getEnvDuration("FOUNDRY_RESPONSE_TIMEOUT", DefaultResponseTimeout), "Foundry request timeout")

	fs.BoolVar(&cfg.UseAzureIdentity, "use-azure-identity", getEnvBool("FOUNDRY_USE_AZURE_IDENTITY", false), "Acquire tokens with the client credentials grant")
	fs.StringVar(&cfg.TenantID, "azure-tenant-id", getEnv("AZURE_TENANT_ID", ""), "Azure tenant ID")
	fs.StringVar(&cfg.ClientID, "azure-client-id", getEnv("AZURE_CLIENT_ID", ""), "Azure application (client) ID")
	fs.StringVar(&cfg.ClientSecret, "azure-client-secret", getEnv("AZURE_CLIENT_SECRET", ""), "Azure client secret")
	fs.StringVar(&cfg.AuthorityHost, "azure-authority-host", getEnv("AZURE_AUTHORITY_HOST", ""), "Microsoft identity authority host")

	fs.StringVar(&cfg.ListenAddr, "listen-addr", getEnv("LISTEN_ADDR", ":8080"), "Conversation API listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "INFO"), "Log level: DEBUG, INFO, WARN or ERROR")
	fs.BoolVar(&cfg.AutoMaxProcs, "auto-max-procs", getEnvBool("AUTO_MAX_PROCS", true), "Set GOMAXPROCS from the container CPU quota")

	fs.BoolVar(&cfg.A2AEnabled, "a2a", getEnvBool("A2A_ENABLED", false), "Enable A2A server alongside the conversation API")
	fs.IntVar(&cfg.A2APort, "a2a-port", getEnvInt("A2A_PORT", 8000), "A2A server listen port")
	fs.StringVar(&cfg.AgentName, "agent-name", getEnv("AGENT_NAME", "foundry-agent"), "A2A AgentCard name")
	fs.StringVar(&cfg.AgentDesc, "agent-desc", getEnv("AGENT_DESC", "Azure AI Foundry agent exposed via A2A protocol"), "A2A AgentCard description")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	return cfg, nil
}

// ResponsesEndpoint returns the OpenAI-compatible responses URL of the
// configured application. An endpoint that already points at the responses
// protocol is returned unchanged.
func (c *Config) ResponsesEndpoint() string {
	endpoint := strings.TrimRight(c.Endpoint, "/")
	if endpoint == "" {
		return ""
	}
	if isResponsesURL(endpoint) {
		return c.Endpoint
	}
	return fmt.Sprintf("%s/api/projects/%s/applications/%s%s?api-version=%s",
		endpoint,
		url.PathEscape(c.Project),
		url.PathEscape(c.Application),
		responsesSuffix,
		url.QueryEscape(c.APIVersion),
	)
}

// Validate reports settings the Foundry client cannot work without.
func (c *Config) Validate() error {
	if !c.FoundryEnabled {
		return nil
	}
	if c.Endpoint == "" {
		return errors.New("config: FOUNDRY_ENDPOINT is required when Foundry is enabled")
	}
	if !isResponsesURL(c.Endpoint) && (c.Project == "" || c.Application == "") {
		return errors.New("config: FOUNDRY_PROJECT and FOUNDRY_APPLICATION are required unless FOUNDRY_ENDPOINT is a responses URL")
	}
	if c.BearerToken == "" && !c.UseAzureIdentity {
		return errors.New("config: set FOUNDRY_BEARER_TOKEN or FOUNDRY_USE_AZURE_IDENTITY")
	}
	return nil
}

func isResponsesURL(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.TrimRight(u.Path, "/"), responsesSuffix)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("45s") and plain seconds ("45").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}
