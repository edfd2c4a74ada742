package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// ResponsesPath is the path the mock serves, matching a Foundry application
// responses endpoint.
const ResponsesPath = "/api/projects/proj/applications/app/protocols/openai/responses"

// MockFoundry is an httptest.Server that simulates a Foundry application
// OpenAI-compatible responses endpoint.
type MockFoundry struct {
	Server *httptest.Server

	// Answer is split into words and streamed as output_text deltas.
	Answer string
	// StatusCode, when non-zero, is returned with ErrorBody instead of a reply.
	StatusCode int
	ErrorBody  string

	mu          sync.Mutex
	lastRequest map[string]any
	lastAuth    string
	requests    int
}

// NewMockFoundry creates and starts a mock Foundry server.
func NewMockFoundry(answer string) *MockFoundry {
	m := &MockFoundry{Answer: answer}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// Close shuts down the mock server.
func (m *MockFoundry) Close() {
	m.Server.Close()
}

// URL returns the full responses URL of the mock server.
func (m *MockFoundry) URL() string {
	return m.Server.URL + ResponsesPath + "?api-version=2025-11-15-preview"
}

// LastRequest returns the most recent request body and Authorization header.
func (m *MockFoundry) LastRequest() (map[string]any, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequest, m.lastAuth
}

// Requests returns the number of requests served.
func (m *MockFoundry) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

func (m *MockFoundry) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != ResponsesPath || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	m.lastRequest = body
	m.lastAuth = r.Header.Get("Authorization")
	m.requests++
	m.mu.Unlock()

	if m.StatusCode != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(m.StatusCode)
		fmt.Fprint(w, m.ErrorBody)
		return
	}

	if stream, _ := body["stream"].(bool); stream {
		m.writeStreaming(w)
		return
	}
	m.writeBlocking(w)
}

func (m *MockFoundry) reply() map[string]any {
	return map[string]any{
		"id":         "resp_mock",
		"object":     "response",
		"created_at": time.Now().Unix(),
		"status":     "completed",
		"output": []any{
			map[string]any{"type": "mcp_list_tools", "server_label": "docs"},
			map[string]any{
				"type": "message",
				"role": "assistant",
				"content": []any{
					map[string]any{"type": "output_text", "text": m.Answer},
				},
			},
		},
	}
}

func (m *MockFoundry) writeBlocking(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.reply())
}

func (m *MockFoundry) writeStreaming(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, hasFlusher := w.(http.Flusher)

	send := func(event string, payload map[string]any) {
		payload["type"] = event
		data, _ := json.Marshal(payload)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		if hasFlusher {
			flusher.Flush()
		}
	}

	send("response.created", map[string]any{"response": map[string]any{"id": "resp_mock"}})
	for i, word := range strings.Fields(m.Answer) {
		if i > 0 {
			word = " " + word
		}
		send("response.output_text.delta", map[string]any{"delta": word})
	}
	send("response.completed", map[string]any{"response": m.reply()})

	fmt.Fprint(w, "data: [DONE]\n\n")
	if hasFlusher {
		flusher.Flush()
	}
}
