package a2a

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"github.com/zhengjr9/foundry-agent/internal/foundry"
)

// Streamer is the subset of *foundry.Client the agent needs.
type Streamer interface {
	SendMessage(ctx context.Context, messages []foundry.Message, stream bool, extra foundry.Params) (*foundry.Stream, error)
}

// AgentConfig holds the configuration for the Foundry-backed A2A agent.
type AgentConfig struct {
	// Name is the agent name exposed via A2A AgentCard.
	Name string
	// Description is exposed via A2A AgentCard.
	Description string
	// Client is the pre-constructed Foundry client.
	Client Streamer
}

// New returns an agent.Agent whose Run logic streams the user's message to
// the Foundry application and converts the SSE events into session.Events
// that the ADK runner understands.
func New(cfg AgentConfig) (agent.Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("a2a agent: Name must not be empty")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("a2a agent: Client must not be nil")
	}

	return agent.New(agent.Config{
		Name:        cfg.Name,
		Description: cfg.Description,
		Run:         runFunc(cfg),
	})
}

// runFunc returns the Run closure that drives one agent invocation.
func runFunc(cfg AgentConfig) func(agent.InvocationContext) iter.Seq2[*session.Event, error] {
	log := slog.Default().With("component", "a2a", "agent", cfg.Name)

	return func(ctx agent.InvocationContext) iter.Seq2[*session.Event, error] {
		return func(yield func(*session.Event, error) bool) {
			newEvent := func(text string, partial bool) *session.Event {
				ev := session.NewEvent(ctx.InvocationID())
				ev.Author = cfg.Name
				ev.Branch = ctx.Branch()
				ev.LLMResponse = model.LLMResponse{
					Content: textContent(text),
					Partial: partial,
				}
				return ev
			}

			query := extractQuery(ctx.UserContent())
			if query == "" {
				yield(newEvent("(empty input)", false), nil)
				return
			}

			messages := []foundry.Message{{Role: "user", Content: query}}
			stream, err := cfg.Client.SendMessage(ctx, messages, true, nil)
			if err != nil {
				yield(nil, fmt.Errorf("foundry streaming request failed: %w", err))
				return
			}
			defer stream.Close()

			var (
				fullText  strings.Builder
				completed string
			)
			for stream.Next() {
				ev, ok := foundry.ParseEvent(stream.Chunk())
				if !ok {
					continue
				}
				switch ev.Type {
				case foundry.EventFailed:
					yield(nil, fmt.Errorf("foundry response failed: %s", foundry.ExtractText(ev.Response)))
					return
				case foundry.EventCompleted:
					if ev.Response != nil {
						completed = foundry.ExtractText(ev.Response)
					}
					continue
				}
				if ev.Delta == "" {
					continue
				}
				fullText.WriteString(ev.Delta)

				// Emit a partial event so streaming A2A clients see tokens as they arrive.
				if !yield(newEvent(ev.Delta, true), nil) {
					return
				}
			}
			if err := stream.Err(); err != nil {
				yield(nil, fmt.Errorf("foundry stream error: %w", err))
				return
			}

			// Replies that carry no deltas still surface the completed text.
			text := fullText.String()
			if text == "" {
				text = completed
			}
			log.Debug("invocation finished", "invocation_id", ctx.InvocationID(), "chars", len(text))

			// Emit the final (non-partial) event with the complete answer so that
			// IsFinalResponse() returns true and the runner closes the invocation.
			yield(newEvent(text, false), nil)
		}
	}
}

// extractQuery pulls the plain-text content from the genai.Content that ADK
// puts in the InvocationContext when the caller sends a message.
func extractQuery(content *genai.Content) string {
	if content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// textContent is a small helper that wraps a string into a *genai.Content.
func textContent(text string) *genai.Content {
	return &genai.Content{
		Role:  genai.RoleModel,
		Parts: []*genai.Part{{Text: text}},
	}
}
