package llmcall

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/typedai/typedai/llm"
)

// MaxDocSize is the hard per-document size ceiling of the backing store
// (Firestore documents max out at ~1 MiB).
const MaxDocSize = 1 << 20

// chunkEnvelope reserves room in each chunk document for the non-message
// fields (ids, index, store framing).
const chunkEnvelope = 4 << 10

// MaxMessageSize is the largest serialized single message that fits in one
// chunk document.
const MaxMessageSize = MaxDocSize - chunkEnvelope

// ErrMessageTooLarge reports a single message whose serialized form exceeds
// the chunk capacity. Unrecoverable: the caller must reduce the message.
type ErrMessageTooLarge struct {
	// Index is the offending message position.
	Index int
	// Size is the serialized size in bytes.
	Size int
}

func (e *ErrMessageTooLarge) Error() string {
	return fmt.Sprintf("llmcall: message %d is %d bytes, exceeds chunk capacity %d", e.Index, e.Size, MaxMessageSize)
}

// messageSize returns the serialized size of m in bytes.
func messageSize(m llm.Message) int {
	b, err := json.Marshal(m)
	if err != nil {
		// Marshal of Message cannot fail for the types it contains; treat a
		// failure as oversized so it surfaces loudly.
		return MaxDocSize
	}
	return len(b)
}

// estimateSize returns the serialized size of the whole call.
func estimateSize(call *Call) int {
	b, err := json.Marshal(call)
	if err != nil {
		return MaxDocSize + 1
	}
	return len(b)
}

// PlanChunks splits call into storable records. When the serialized call fits
// under MaxDocSize it returns the call itself as a single head record with
// ChunkCount 0. Otherwise it greedily packs messages into chunk records in
// order and returns the head (ChunkCount=N, no messages) followed by the N
// chunks.
func PlanChunks(call *Call) ([]*Call, error) {
	sizes := make([]int, len(call.Messages))
	for i, m := range call.Messages {
		sizes[i] = messageSize(m)
		if sizes[i] > MaxMessageSize {
			return nil, &ErrMessageTooLarge{Index: i, Size: sizes[i]}
		}
	}

	if estimateSize(call) < MaxDocSize {
		head := *call
		head.ChunkCount = 0
		head.ChunkIndex = 0
		return []*Call{&head}, nil
	}

	var chunks []*Call
	var batch []llm.Message
	batchSize := 0
	flush := func() {
		if len(batch) == 0 {
			return
		}
		chunks = append(chunks, &Call{
			ID:        fmt.Sprintf("%s-chunk-%d", call.LlmCallID, len(chunks)+1),
			LlmCallID: call.LlmCallID,
			// ChunkIndex assigned after packing so indices stay 1..N.
			Messages: batch,
		})
		batch = nil
		batchSize = 0
	}
	for i, m := range call.Messages {
		if batchSize+sizes[i] > MaxMessageSize {
			flush()
		}
		batch = append(batch, m)
		batchSize += sizes[i]
	}
	flush()

	for i, chunk := range chunks {
		chunk.ChunkIndex = i + 1
	}

	head := *call
	head.Messages = nil
	head.ChunkCount = len(chunks)
	head.ChunkIndex = 0
	return append([]*Call{&head}, chunks...), nil
}

// Reassemble reconstructs the logical call from a head record and its chunks.
// Chunks are sorted by ChunkIndex; the returned mismatch flag is true when the
// found chunk count differs from head.ChunkCount (the caller logs and
// proceeds with what was found).
func Reassemble(head *Call, chunks []*Call) (*Call, bool) {
	out := *head
	if head.ChunkCount == 0 {
		return &out, false
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	var messages []llm.Message
	for _, chunk := range chunks {
		messages = append(messages, chunk.Messages...)
	}
	out.Messages = messages
	return &out, len(chunks) != head.ChunkCount
}
