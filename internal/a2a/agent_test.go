package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/adk/agent"
	"google.golang.org/genai"

	"github.com/zhengjr9/foundry-agent/internal/foundry"
)

func TestNew_Validation(t *testing.T) {
	client := foundry.NewClient(foundry.Config{Endpoint: "http://127.0.0.1:0", BearerToken: "tok"})
	defer client.Close()

	_, err := New(AgentConfig{Client: client})
	assert.ErrorContains(t, err, "Name")

	_, err = New(AgentConfig{Name: "foundry-agent"})
	assert.ErrorContains(t, err, "Client")

	a, err := New(AgentConfig{Name: "foundry-agent", Description: "test", Client: client})
	require.NoError(t, err)
	assert.Equal(t, "foundry-agent", a.Name())
	assert.Equal(t, "test", a.Description())
}

func TestExtractQuery(t *testing.T) {
	assert.Empty(t, extractQuery(nil))

	content := &genai.Content{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{Text: "  What is "},
			nil,
			{InlineData: &genai.Blob{MIMEType: "image/png"}},
			{Text: "Foundry?  "},
		},
	}
	assert.Equal(t, "What is Foundry?", extractQuery(content))
}

func TestTextContent(t *testing.T) {
	c := textContent("hello")
	assert.Equal(t, genai.Role(genai.RoleModel), genai.Role(c.Role))
	require.Len(t, c.Parts, 1)
	assert.Equal(t, "hello", c.Parts[0].Text)
}

// invocation is the slice of agent.InvocationContext the run loop reads.
// Calling any other method panics on the nil embedded interface.
type invocation struct {
	agent.InvocationContext
	ctx     context.Context
	content *genai.Content
}

func (i *invocation) Deadline() (time.Time, bool) { return i.ctx.Deadline() }
func (i *invocation) Done() <-chan struct{}       { return i.ctx.Done() }
func (i *invocation) Err() error                  { return i.ctx.Err() }
func (i *invocation) Value(key any) any           { return i.ctx.Value(key) }
func (i *invocation) UserContent() *genai.Content { return i.content }
func (i *invocation) InvocationID() string        { return "inv-1" }
func (i *invocation) Branch() string              { return "foundry-agent" }

func userText(text string) *invocation {
	return &invocation{
		ctx:     context.Background(),
		content: &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: text}}},
	}
}

type runResult struct {
	texts   []string
	partial []bool
	err     error
}

func run(t *testing.T, endpoint string, ictx *invocation) runResult {
	t.Helper()
	client := foundry.NewClient(foundry.Config{
		Endpoint:    endpoint,
		BearerToken: "test-token",
		Timeout:     5 * time.Second,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() { _ = client.Close() })

	var res runResult
	for ev, err := range runFunc(AgentConfig{Name: "foundry-agent", Client: client})(ictx) {
		if err != nil {
			res.err = err
			break
		}
		assert.Equal(t, "foundry-agent", ev.Author)
		assert.Equal(t, "foundry-agent", ev.Branch)
		require.NotNil(t, ev.LLMResponse.Content)
		require.Len(t, ev.LLMResponse.Content.Parts, 1)
		res.texts = append(res.texts, ev.LLMResponse.Content.Parts[0].Text)
		res.partial = append(res.partial, ev.LLMResponse.Partial)
	}
	return res
}

func sse(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprint(w, line)
		}
	}
}

func TestRun_PartialEventsThenFinal(t *testing.T) {
	var input any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		input = body["input"]
		sse(
			"event: response.created\n",
			"data: {\"type\":\"response.created\"}\n\n",
			"data: {\"type\":\"response.output_text.delta\",\"delta\":\"Hello\"}\n\n",
			"data: {\"type\":\"response.output_text.delta\",\"delta\":\" there\"}\n\n",
			"data: {\"type\":\"response.completed\",\"response\":{\"output\":[{\"type\":\"message\",\"content\":[{\"text\":\"ignored\"}]}]}}\n\n",
			"data: [DONE]\n\n",
		)(w, r)
	}))
	defer upstream.Close()

	res := run(t, upstream.URL, userText("  Say hello "))
	require.NoError(t, res.err)
	assert.Equal(t, []string{"Hello", " there", "Hello there"}, res.texts)
	assert.Equal(t, []bool{true, true, false}, res.partial)
	assert.Equal(t, "Say hello", input)
}

func TestRun_CompletedOnlyFallsBackToExtractText(t *testing.T) {
	upstream := httptest.NewServer(sse(
		"data: {\"type\":\"response.completed\",\"response\":{\"output\":[{\"type\":\"message\",\"content\":[{\"text\":\"whole answer\"}]}]}}\n\n",
		"data: [DONE]\n\n",
	))
	defer upstream.Close()

	res := run(t, upstream.URL, userText("q"))
	require.NoError(t, res.err)
	assert.Equal(t, []string{"whole answer"}, res.texts)
	assert.Equal(t, []bool{false}, res.partial)
}

func TestRun_ResponseFailed(t *testing.T) {
	upstream := httptest.NewServer(sse(
		"data: {\"type\":\"response.output_text.delta\",\"delta\":\"Hel\"}\n\n",
		"data: {\"type\":\"response.failed\",\"response\":{\"message\":\"rate limited\"}}\n\n",
	))
	defer upstream.Close()

	res := run(t, upstream.URL, userText("q"))
	assert.Equal(t, []string{"Hel"}, res.texts)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "foundry response failed")
	assert.Contains(t, res.err.Error(), "rate limited")
}

func TestRun_SendError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"oops"}`)
	}))
	defer upstream.Close()

	res := run(t, upstream.URL, userText("q"))
	assert.Empty(t, res.texts)
	var statusErr *foundry.StatusError
	require.ErrorAs(t, res.err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}

func TestRun_StreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"Hel\"}\n\n")
		w.(http.Flusher).Flush()
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			_ = conn.Close()
		}
	}))
	defer upstream.Close()

	res := run(t, upstream.URL, userText("q"))
	assert.Equal(t, []string{"Hel"}, res.texts)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "foundry stream error")
	var transportErr *foundry.TransportError
	assert.ErrorAs(t, res.err, &transportErr)
}

func TestRun_StopsWhenConsumerStops(t *testing.T) {
	canceled := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"one\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(canceled)
	}))
	defer upstream.Close()

	client := foundry.NewClient(foundry.Config{
		Endpoint:    upstream.URL,
		BearerToken: "test-token",
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	defer client.Close()

	events := 0
	for ev, err := range runFunc(AgentConfig{Name: "foundry-agent", Client: client})(userText("q")) {
		require.NoError(t, err)
		assert.True(t, ev.LLMResponse.Partial)
		events++
		break
	}
	assert.Equal(t, 1, events)

	select {
	case <-canceled:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request was not canceled after the consumer stopped")
	}
}

func TestRun_EmptyInput(t *testing.T) {
	called := false
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	defer upstream.Close()

	res := run(t, upstream.URL, userText("   "))
	require.NoError(t, res.err)
	assert.Equal(t, []string{"(empty input)"}, res.texts)
	assert.Equal(t, []bool{false}, res.partial)
	assert.False(t, called)
}
