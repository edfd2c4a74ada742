package foundry

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ExtractText pulls the answer out of a reply body. The endpoint answers in
// several shapes; they are tried in this order:
//
//  1. output[i] with type "message": content[0].text
//  2. choices[0].message.content
//  3. response
//  4. message
//  5. content
//
// When none yields text the whole body is returned as indented JSON.
func ExtractText(body map[string]any) string {
	if text := outputMessageText(body); text != "" {
		return text
	}

	// Only one of the remaining keys is consulted: the first one present.
	if choices, ok := body["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if msg, ok := choice["message"].(map[string]any); ok {
				if text := asText(msg["content"]); text != "" {
					return text
				}
			}
		}
	} else if v, ok := body["response"]; ok {
		if text := asText(v); text != "" {
			return text
		}
	} else if v, ok := body["message"]; ok {
		if text := asText(v); text != "" {
			return text
		}
	} else if v, ok := body["content"]; ok {
		if text := asText(v); text != "" {
			return text
		}
	}

	return encodeIndented(body)
}

// outputMessageText scans the Responses API output list for the first
// message item whose first content part has text.
func outputMessageText(body map[string]any) string {
	output, ok := body["output"].([]any)
	if !ok {
		return ""
	}
	for _, item := range output {
		entry, ok := item.(map[string]any)
		if !ok || entry["type"] != "message" {
			continue
		}
		content, ok := entry["content"].([]any)
		if !ok || len(content) == 0 {
			continue
		}
		first, ok := content[0].(map[string]any)
		if !ok {
			continue
		}
		if text := asText(first["text"]); text != "" {
			return text
		}
	}
	return ""
}

// asText returns strings as-is and encodes any other non-nil value as JSON.
func asText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

func encodeIndented(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimRight(buf.String(), "\n")
}

// Responses API stream event types.
const (
	EventOutputTextDelta = "response.output_text.delta"
	EventCompleted       = "response.completed"
	EventFailed          = "response.failed"
	// EventChatChunk marks a chat-completions style chunk.
	EventChatChunk = "chat.completion.chunk"
)

// StreamEvent is the decoded form of one streamed chunk.
type StreamEvent struct {
	Type string
	// Delta is the incremental text of a delta or chat chunk.
	Delta string
	// Response is the final reply body carried by completed and failed events.
	Response map[string]any
}

// ParseEvent decodes a chunk yielded by Stream. It reports false for chunks
// that are not JSON objects, such as verbatim "event:" lines.
func ParseEvent(chunk string) (StreamEvent, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(chunk), &raw); err != nil {
		return StreamEvent{}, false
	}

	ev := StreamEvent{}
	ev.Type, _ = raw["type"].(string)
	switch ev.Type {
	case EventOutputTextDelta:
		ev.Delta, _ = raw["delta"].(string)
	case EventCompleted, EventFailed:
		ev.Response, _ = raw["response"].(map[string]any)
	case "":
		choices, ok := raw["choices"].([]any)
		if !ok || len(choices) == 0 {
			return ev, true
		}
		ev.Type = EventChatChunk
		if choice, ok := choices[0].(map[string]any); ok {
			if delta, ok := choice["delta"].(map[string]any); ok {
				ev.Delta, _ = delta["content"].(string)
			}
		}
	}
	return ev, true
}
