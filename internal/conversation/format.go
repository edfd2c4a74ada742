package conversation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/zhengjr9/foundry-agent/internal/foundry"
)

var emptyMetadata = json.RawMessage(`{}`)

// FormatReply wraps the text of a Foundry reply in a chat completion
// envelope. Missing history metadata becomes an empty object.
func FormatReply(body map[string]any, metadata json.RawMessage, now time.Time) Reply {
	if len(metadata) == 0 || string(metadata) == "null" {
		metadata = emptyMetadata
	}
	return Reply{
		ID:      uuid.NewString(),
		Model:   Model,
		Created: now.Unix(),
		Object:  "chat.completion",
		Choices: []Choice{{
			Messages: []foundry.Message{{
				Role:    "assistant",
				Content: foundry.ExtractText(body),
			}},
			Index:        0,
			FinishReason: "stop",
		}},
		HistoryMetadata: metadata,
	}
}
