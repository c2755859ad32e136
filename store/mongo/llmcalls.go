package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/typedai/typedai/llmcall"
)

// LlmCallStore is the Mongo llmcall.Store. It runs the same chunk planning as
// the Firestore adapter so call records stay portable between backends.
type LlmCallStore struct {
	client *Client
}

// NewLlmCallStore returns the Mongo-backed LLM call store.
func NewLlmCallStore(client *Client) *LlmCallStore {
	return &LlmCallStore{client: client}
}

func (s *LlmCallStore) coll() *mongodriver.Collection {
	return s.client.db.Collection(llmCallsCollection)
}

// SaveRequest implements llmcall.Store.
func (s *LlmCallStore) SaveRequest(ctx context.Context, call *llmcall.Call) error {
	return s.write(ctx, call, false)
}

// SaveResponse implements llmcall.Store. Merge semantics on the head document:
// fields written at request time survive when the response leaves them zero.
func (s *LlmCallStore) SaveResponse(ctx context.Context, call *llmcall.Call) error {
	return s.write(ctx, call, true)
}

func (s *LlmCallStore) write(ctx context.Context, call *llmcall.Call, merge bool) error {
	if call.LlmCallID == "" {
		return fmt.Errorf("mongo: llm call id is required")
	}
	records, err := llmcall.PlanChunks(call)
	if err != nil {
		return err
	}
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	var prev *llmcall.Call
	if merge {
		prev = new(llmcall.Call)
		err := s.coll().FindOne(ctx, bson.M{"_id": call.LlmCallID}).Decode(prev)
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			prev = nil
		} else if err != nil {
			return fmt.Errorf("mongo: read llm call head %s: %w", call.LlmCallID, err)
		}
	}

	written := make([]string, 0, len(records))
	for _, record := range records {
		stored := *record
		if stored.ChunkIndex == 0 && prev != nil {
			llmcall.MergeHead(&stored, prev)
		}
		_, err := s.coll().ReplaceOne(ctx,
			bson.M{"_id": stored.ID}, &stored, options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("mongo: save llm call %s: %w", call.LlmCallID, err)
		}
		written = append(written, stored.ID)
	}
	// Drop chunks from a previous, larger layout.
	_, err = s.coll().DeleteMany(ctx, bson.M{
		"llmCallId":  call.LlmCallID,
		"chunkIndex": bson.M{"$gt": 0},
		"_id":        bson.M{"$nin": written},
	})
	if err != nil {
		return fmt.Errorf("mongo: prune llm call chunks %s: %w", call.LlmCallID, err)
	}
	return nil
}

// GetCall implements llmcall.Store: head read plus chunk reassembly. A chunk
// count mismatch is logged and the reconstruction proceeds with what exists.
func (s *LlmCallStore) GetCall(ctx context.Context, llmCallID string) (*llmcall.Call, error) {
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	var head llmcall.Call
	err := s.coll().FindOne(ctx, bson.M{"_id": llmCallID}).Decode(&head)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, fmt.Errorf("mongo: llm call %s: not found", llmCallID)
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: get llm call %s: %w", llmCallID, err)
	}
	if head.ChunkCount == 0 {
		return &head, nil
	}

	cur, err := s.coll().Find(ctx, bson.M{
		"llmCallId":  llmCallID,
		"chunkIndex": bson.M{"$gt": 0},
	})
	if err != nil {
		return nil, fmt.Errorf("mongo: get llm call chunks %s: %w", llmCallID, err)
	}
	defer func() { _ = cur.Close(ctx) }()
	var chunks []*llmcall.Call
	for cur.Next(ctx) {
		var chunk llmcall.Call
		if err := cur.Decode(&chunk); err != nil {
			return nil, fmt.Errorf("mongo: decode llm call chunk: %w", err)
		}
		chunks = append(chunks, &chunk)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo: get llm call chunks %s: %w", llmCallID, err)
	}
	rebuilt, mismatch := llmcall.Reassemble(&head, chunks)
	if mismatch {
		s.client.logger.Warn(ctx, "llm call chunk count mismatch",
			"llmCallId", llmCallID, "expected", head.ChunkCount, "found", len(chunks))
	}
	return rebuilt, nil
}

// GetCallsForAgent implements llmcall.Store. Chunk documents carry no agentId,
// so the equality filter returns head documents only.
func (s *LlmCallStore) GetCallsForAgent(ctx context.Context, agentID string) ([]*llmcall.Call, error) {
	return s.queryHeads(ctx, bson.M{"agentId": agentID})
}

// GetCallsByDescription implements llmcall.Store.
func (s *LlmCallStore) GetCallsByDescription(ctx context.Context, description string) ([]*llmcall.Call, error) {
	return s.queryHeads(ctx, bson.M{"description": description})
}

func (s *LlmCallStore) queryHeads(ctx context.Context, filter bson.M) ([]*llmcall.Call, error) {
	opCtx, cancel := s.client.withTimeout(ctx)
	defer cancel()
	cur, err := s.coll().Find(opCtx, filter,
		options.Find().SetSort(bson.D{{Key: "requestTime", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo: query llm calls: %w", err)
	}
	defer func() { _ = cur.Close(opCtx) }()
	var heads []*llmcall.Call
	for cur.Next(opCtx) {
		var head llmcall.Call
		if err := cur.Decode(&head); err != nil {
			return nil, fmt.Errorf("mongo: decode llm call: %w", err)
		}
		heads = append(heads, &head)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo: query llm calls: %w", err)
	}

	out := make([]*llmcall.Call, 0, len(heads))
	for _, head := range heads {
		if head.ChunkCount == 0 {
			out = append(out, head)
			continue
		}
		rebuilt, err := s.GetCall(ctx, head.LlmCallID)
		if err != nil {
			return nil, err
		}
		out = append(out, rebuilt)
	}
	return out, nil
}

// Delete implements llmcall.Store: head and chunks in one DeleteMany.
func (s *LlmCallStore) Delete(ctx context.Context, llmCallID string) error {
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()
	_, err := s.coll().DeleteMany(ctx, bson.M{"llmCallId": llmCallID})
	if err != nil {
		return fmt.Errorf("mongo: delete llm call %s: %w", llmCallID, err)
	}
	return nil
}
