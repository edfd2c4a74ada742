package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/volcengine/veadk-go/apps"
	"github.com/volcengine/veadk-go/apps/a2a_app"
	"go.uber.org/automaxprocs/maxprocs"
	"google.golang.org/adk/agent"

	"github.com/zhengjr9/foundry-agent/internal/a2a"
	"github.com/zhengjr9/foundry-agent/internal/config"
	"github.com/zhengjr9/foundry-agent/internal/conversation"
	"github.com/zhengjr9/foundry-agent/internal/foundry"
	"github.com/zhengjr9/foundry-agent/internal/httputil"
	"github.com/zhengjr9/foundry-agent/internal/identity"
	"github.com/zhengjr9/foundry-agent/internal/proxy"
)

const shutdownTimeout = 30 * time.Second

func setupLogger(cfg *config.Config) {
	var level slog.Level
	switch cfg.LogLevel {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	slog.Info("logger configured", "level", level.String())
}

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	if cfg.AutoMaxProcs {
		if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
			slog.Info(fmt.Sprintf(format, args...))
		})); err != nil {
			slog.Error("failed to set maxprocs", "error", err)
		}
	}

	if err := run(cfg); err != nil {
		slog.Error("foundry-agent exited", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// run starts the servers and blocks until a signal arrives or a server fails.
// Deferred cleanup runs on every return path, so only main calls os.Exit.
func run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.A2AEnabled && !cfg.FoundryEnabled {
		return errors.New("A2A requires Foundry to be enabled")
	}

	slog.Info("starting foundry-agent",
		"listen", cfg.ListenAddr,
		"foundry_enabled", cfg.FoundryEnabled,
		"a2a_enabled", cfg.A2AEnabled,
	)

	var chat conversation.ChatClient
	var client *foundry.Client
	if cfg.FoundryEnabled {
		var err error
		client, err = newFoundryClient(cfg)
		if err != nil {
			return fmt.Errorf("create Foundry client: %w", err)
		}
		defer client.Close()
		chat = client
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Always start the conversation server.
	srv := proxy.New(cfg, chat)
	proxyErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			proxyErr <- err
		}
	}()

	// Optionally start the A2A server.
	a2aErr := make(chan error, 1)
	if cfg.A2AEnabled {
		foundryAgent, err := a2a.New(a2a.AgentConfig{
			Name:        cfg.AgentName,
			Description: cfg.AgentDesc,
			Client:      client,
		})
		if err != nil {
			shutdown(srv)
			return fmt.Errorf("create A2A agent: %w", err)
		}

		slog.Info("starting A2A server", "port", cfg.A2APort, "agent_name", cfg.AgentName)

		inner := a2a_app.NewAgentkitA2AServerApp(
			apps.DefaultApiConfig().SetPort(cfg.A2APort),
		)
		wrapped := &loggingApp{BasicApp: inner}

		go func() {
			if err := wrapped.Run(ctx, &apps.RunConfig{
				AgentLoader: agent.NewSingleLoader(foundryAgent),
			}); err != nil {
				a2aErr <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdown(srv)
		return nil
	case err := <-proxyErr:
		return fmt.Errorf("conversation server: %w", err)
	case err := <-a2aErr:
		shutdown(srv)
		return fmt.Errorf("A2A server: %w", err)
	}
}

func shutdown(srv *proxy.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("conversation server shutdown error", "error", err)
	}
}

// newFoundryClient picks the token source: a static bearer token wins, the
// client credentials grant is used otherwise.
func newFoundryClient(cfg *config.Config) (*foundry.Client, error) {
	var credential foundry.TokenCredential
	if cfg.BearerToken == "" && cfg.UseAzureIdentity {
		cred, err := identity.NewClientSecretCredential(identity.ClientSecretConfig{
			TenantID:      cfg.TenantID,
			ClientID:      cfg.ClientID,
			ClientSecret:  cfg.ClientSecret,
			AuthorityHost: cfg.AuthorityHost,
		})
		if err != nil {
			return nil, err
		}
		credential = cred
	}

	return foundry.NewClient(foundry.Config{
		Endpoint:    cfg.ResponsesEndpoint(),
		BearerToken: cfg.BearerToken,
		Credential:  credential,
		Timeout:     cfg.ResponseTimeout,
		ProxyURL:    cfg.ProxyURL,
	}), nil
}

// loggingApp wraps a BasicApp and installs the request logging middleware on
// the Gorilla mux router the A2A app registers its routes on.
type loggingApp struct {
	apps.BasicApp
}

// Run overrides the embedded Run so that apps.Run receives `w` as the app
// argument. Without this, the embedded Run calls apps.Run with the inner app
// and the SetupRouters override below is never used.
func (w *loggingApp) Run(ctx context.Context, config *apps.RunConfig) error {
	return apps.Run(ctx, config, w)
}

func (w *loggingApp) SetupRouters(router *mux.Router, config *apps.RunConfig) error {
	if err := w.BasicApp.SetupRouters(router, config); err != nil {
		return err
	}
	router.Use(httputil.Recovery, httputil.Logging)
	return nil
}
