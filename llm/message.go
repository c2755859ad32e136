// Package llm defines the provider-agnostic LLM abstraction: the chat message
// model, generation options, the Llm client contract, typed provider errors,
// and the composite fallback client. Provider adapters live in subpackages and
// translate these normalized types into SDK-specific formats.
package llm

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	// RoleSystem marks instruction/context messages.
	RoleSystem Role = "system"
	// RoleUser marks end-user input.
	RoleUser Role = "user"
	// RoleAssistant marks model responses.
	RoleAssistant Role = "assistant"
	// RoleTool marks tool results fed back to the model.
	RoleTool Role = "tool"
)

// PartKind tags the content part variants of a message.
type PartKind string

const (
	// PartText is plain text content.
	PartText PartKind = "text"
	// PartImage is an image reference or inline payload.
	PartImage PartKind = "image"
	// PartFile is a file attachment.
	PartFile PartKind = "file"
	// PartReasoning is provider reasoning/thinking output.
	PartReasoning PartKind = "reasoning"
	// PartRedactedReasoning is reasoning withheld by the provider.
	PartRedactedReasoning PartKind = "redacted-reasoning"
)

// CacheEphemeral marks a message for provider-side ephemeral prompt caching.
const CacheEphemeral = "ephemeral"

type (
	// Message is a single chat message. Content holds plain text when Parts
	// is empty; otherwise Parts carries the ordered multi-part content and
	// Content is ignored.
	Message struct {
		Role    Role       `json:"role" firestore:"role" bson:"role"`
		Content string     `json:"content,omitempty" firestore:"content,omitempty" bson:"content,omitempty"`
		Parts   []Part     `json:"parts,omitempty" firestore:"parts,omitempty" bson:"parts,omitempty"`
		Cache   string     `json:"cache,omitempty" firestore:"cache,omitempty" bson:"cache,omitempty"`
		Stats   *CallStats `json:"stats,omitempty" firestore:"stats,omitempty" bson:"stats,omitempty"`
	}

	// Part is one element of a multi-part message body.
	Part struct {
		Kind PartKind `json:"kind" firestore:"kind" bson:"kind"`
		// Text carries the payload for text, reasoning and redacted-reasoning
		// parts.
		Text string `json:"text,omitempty" firestore:"text,omitempty" bson:"text,omitempty"`
		// Data carries the payload for image and file parts, typically a URL
		// or base64 envelope.
		Data string `json:"data,omitempty" firestore:"data,omitempty" bson:"data,omitempty"`
		// MimeType qualifies Data for image and file parts.
		MimeType string `json:"mimeType,omitempty" firestore:"mimeType,omitempty" bson:"mimeType,omitempty"`
	}

	// CallStats records the timing, token and cost accounting of the LLM call
	// that produced an assistant message.
	CallStats struct {
		RequestTime      time.Time     `json:"requestTime" firestore:"requestTime" bson:"requestTime"`
		TimeToFirstToken time.Duration `json:"timeToFirstToken" firestore:"timeToFirstToken" bson:"timeToFirstToken"`
		TotalTime        time.Duration `json:"totalTime" firestore:"totalTime" bson:"totalTime"`
		InputTokens      int           `json:"inputTokens" firestore:"inputTokens" bson:"inputTokens"`
		OutputTokens     int           `json:"outputTokens" firestore:"outputTokens" bson:"outputTokens"`
		Cost             float64       `json:"cost" firestore:"cost" bson:"cost"`
		LlmID            string        `json:"llmId" firestore:"llmId" bson:"llmId"`
	}
)

// Text returns the textual content of the message: Content when Parts is
// empty, otherwise the concatenation of text parts in order.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// System builds a system message.
func System(text string) Message { return Message{Role: RoleSystem, Content: text} }

// UserMsg builds a user message.
func UserMsg(text string) Message { return Message{Role: RoleUser, Content: text} }

// Assistant builds an assistant message.
func Assistant(text string) Message { return Message{Role: RoleAssistant, Content: text} }
