// Package llmcall defines the durable record of every LLM interaction and the
// chunk planning that splits oversized message arrays across multiple backing
// documents while preserving single-logical-record semantics. The packing and
// reassembly logic is store-independent; adapters in store/* persist the
// resulting records.
package llmcall

import (
	"context"
	"time"

	"github.com/typedai/typedai/llm"
)

type (
	// Call is the logical record of one LLM interaction. The head document
	// shares its id with LlmCallID; chunk documents carry their own ids but
	// the same LlmCallID.
	Call struct {
		// ID is the document id. Equal to LlmCallID for the head record.
		ID string `json:"id" firestore:"id" bson:"_id"`
		// LlmCallID is stable across chunking.
		LlmCallID string `json:"llmCallId" firestore:"llmCallId" bson:"llmCallId"`
		// LlmID identifies the provider/model that served the call.
		LlmID string `json:"llmId" firestore:"llmId" bson:"llmId"`
		// RequestTime is when the request was issued, epoch milliseconds.
		RequestTime int64 `json:"requestTime" firestore:"requestTime" bson:"requestTime"`
		// TimeToFirstToken in milliseconds, zero when unknown.
		TimeToFirstToken int64 `json:"timeToFirstToken,omitempty" firestore:"timeToFirstToken,omitempty" bson:"timeToFirstToken,omitempty"`
		// TotalTime in milliseconds, zero until the response is recorded.
		TotalTime int64 `json:"totalTime,omitempty" firestore:"totalTime,omitempty" bson:"totalTime,omitempty"`
		// Cost in dollars.
		Cost float64 `json:"cost,omitempty" firestore:"cost,omitempty" bson:"cost,omitempty"`
		// InputTokens and OutputTokens are provider-reported usage.
		InputTokens  int `json:"inputTokens,omitempty" firestore:"inputTokens,omitempty" bson:"inputTokens,omitempty"`
		OutputTokens int `json:"outputTokens,omitempty" firestore:"outputTokens,omitempty" bson:"outputTokens,omitempty"`
		// Messages is the full conversation including the assistant response.
		// Empty on chunked head documents.
		Messages []llm.Message `json:"messages,omitempty" firestore:"messages,omitempty" bson:"messages,omitempty"`
		// Description labels the call for queries.
		Description string `json:"description,omitempty" firestore:"description,omitempty" bson:"description,omitempty"`
		// AgentID associates the call with an agent, empty for standalone
		// calls (e.g. code review).
		AgentID string `json:"agentId,omitempty" firestore:"agentId,omitempty" bson:"agentId,omitempty"`
		// UserID associates the call with its user.
		UserID string `json:"userId,omitempty" firestore:"userId,omitempty" bson:"userId,omitempty"`
		// CallStack is the agent call stack at request time.
		CallStack string `json:"callStack,omitempty" firestore:"callStack,omitempty" bson:"callStack,omitempty"`
		// ChunkCount is 0 for unchunked calls and N when the messages were
		// split into N chunk documents.
		ChunkCount int `json:"chunkCount,omitempty" firestore:"chunkCount,omitempty" bson:"chunkCount,omitempty"`
		// ChunkIndex is 0 on head documents and 1..ChunkCount on chunks.
		ChunkIndex int `json:"chunkIndex,omitempty" firestore:"chunkIndex,omitempty" bson:"chunkIndex,omitempty"`
	}

	// Store is the durable LLM call repository.
	Store interface {
		// SaveRequest writes the initial record for an outbound request,
		// chunking the messages when they exceed the document ceiling.
		SaveRequest(ctx context.Context, call *Call) error
		// SaveResponse records the final assistant message, timing and cost.
		// Merge semantics on the head document, overwrite on chunks.
		SaveResponse(ctx context.Context, call *Call) error
		// GetCall reads the head document and reassembles chunked messages.
		// A chunk-count mismatch is logged and the reconstruction proceeds
		// with what was found.
		GetCall(ctx context.Context, llmCallID string) (*Call, error)
		// GetCallsForAgent returns reconstructed head records for the agent,
		// sorted by RequestTime descending.
		GetCallsForAgent(ctx context.Context, agentID string) ([]*Call, error)
		// GetCallsByDescription returns reconstructed head records matching
		// the description, sorted by RequestTime descending.
		GetCallsByDescription(ctx context.Context, description string) ([]*Call, error)
		// Delete removes the head and all chunks for the call in one batch.
		Delete(ctx context.Context, llmCallID string) error
	}
)

// MergeHead fills zero fields of next from prev. Stores use it to give
// SaveResponse merge semantics on the head document: fields recorded at
// request time survive a response write that leaves them unset.
func MergeHead(next, prev *Call) {
	if next.RequestTime == 0 {
		next.RequestTime = prev.RequestTime
	}
	if next.Description == "" {
		next.Description = prev.Description
	}
	if next.AgentID == "" {
		next.AgentID = prev.AgentID
	}
	if next.UserID == "" {
		next.UserID = prev.UserID
	}
	if next.CallStack == "" {
		next.CallStack = prev.CallStack
	}
	if next.LlmID == "" {
		next.LlmID = prev.LlmID
	}
}

// NewCall builds the head record for a fresh request.
func NewCall(id string, messages []llm.Message, llmID, description string) *Call {
	return &Call{
		ID:          id,
		LlmCallID:   id,
		LlmID:       llmID,
		RequestTime: time.Now().UnixMilli(),
		Messages:    messages,
		Description: description,
	}
}
