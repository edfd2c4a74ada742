package conversation

import (
	"encoding/json"

	"github.com/zhengjr9/foundry-agent/internal/foundry"
)

// Model is the model name reported in reply envelopes.
const Model = "foundry-agent"

// Request is the body of POST /api/conversation.
type Request struct {
	Messages []foundry.Message `json:"messages"`
	// Stream defaults to true when omitted.
	Stream          *bool           `json:"stream,omitempty"`
	HistoryMetadata json.RawMessage `json:"history_metadata,omitempty"`
}

func (r *Request) streaming() bool {
	return r.Stream == nil || *r.Stream
}

// Reply is the non-streaming chat completion envelope.
type Reply struct {
	ID              string          `json:"id"`
	Model           string          `json:"model"`
	Created         int64           `json:"created"`
	Object          string          `json:"object"`
	Choices         []Choice        `json:"choices"`
	HistoryMetadata json.RawMessage `json:"history_metadata"`
}

type Choice struct {
	Messages     []foundry.Message `json:"messages"`
	Index        int               `json:"index"`
	FinishReason string            `json:"finish_reason"`
}
