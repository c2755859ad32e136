package firestore

import (
	"context"
	"fmt"

	cloudfirestore "cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/typedai/typedai/llmcall"
)

// LlmCallStore is the Firestore llmcall.Store. Oversized message arrays are
// split by llmcall.PlanChunks into a head document plus chunk documents; every
// write commits the full layout in one transaction so readers never observe a
// partial chunk set.
type LlmCallStore struct {
	client *Client
}

// NewLlmCallStore returns the Firestore-backed LLM call store.
func NewLlmCallStore(client *Client) *LlmCallStore {
	return &LlmCallStore{client: client}
}

func (s *LlmCallStore) col() *cloudfirestore.CollectionRef {
	return s.client.fs.Collection(llmCallsCollection)
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
		return fmt.Errorf("firestore: llm call id is required")
	}
	records, err := llmcall.PlanChunks(call)
	if err != nil {
		return err
	}
	headRef := s.col().Doc(call.LlmCallID)
	chunkQuery := s.col().
		Where("llmCallId", "==", call.LlmCallID).
		Where("chunkIndex", ">", 0)

	err = s.client.fs.RunTransaction(ctx, func(ctx context.Context, tx *cloudfirestore.Transaction) error {
		var prev *llmcall.Call
		if merge {
			snap, err := tx.Get(headRef)
			if err != nil && !isNotFound(err) {
				return err
			}
			if err == nil {
				prev = new(llmcall.Call)
				if err := snap.DataTo(prev); err != nil {
					return err
				}
			}
		}
		// Reads precede writes in Firestore transactions: collect the stale
		// chunk refs before touching anything.
		var stale []*cloudfirestore.DocumentRef
		iter := tx.Documents(chunkQuery)
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return err
			}
			stale = append(stale, snap.Ref)
		}
		written := make(map[string]struct{}, len(records))
		for _, record := range records {
			stored := *record
			if stored.ChunkIndex == 0 && prev != nil {
				llmcall.MergeHead(&stored, prev)
			}
			ref := s.col().Doc(stored.ID)
			if err := tx.Set(ref, &stored); err != nil {
				return err
			}
			written[stored.ID] = struct{}{}
		}
		for _, ref := range stale {
			if _, ok := written[ref.ID]; ok {
				continue
			}
			if err := tx.Delete(ref); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("firestore: save llm call %s: %w", call.LlmCallID, err)
	}
	return nil
}

// GetCall implements llmcall.Store: head read plus chunk reassembly. A chunk
// count mismatch is logged and the reconstruction proceeds with what exists.
func (s *LlmCallStore) GetCall(ctx context.Context, llmCallID string) (*llmcall.Call, error) {
	snap, err := s.col().Doc(llmCallID).Get(ctx)
	if isNotFound(err) {
		return nil, fmt.Errorf("firestore: llm call %s: not found", llmCallID)
	}
	if err != nil {
		return nil, fmt.Errorf("firestore: get llm call %s: %w", llmCallID, err)
	}
	var head llmcall.Call
	if err := snap.DataTo(&head); err != nil {
		return nil, fmt.Errorf("firestore: decode llm call %s: %w", llmCallID, err)
	}
	if head.ChunkCount == 0 {
		return &head, nil
	}

	iter := s.col().
		Where("llmCallId", "==", llmCallID).
		Where("chunkIndex", ">", 0).
		Documents(ctx)
	defer iter.Stop()
	var chunks []*llmcall.Call
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore: get llm call chunks %s: %w", llmCallID, err)
		}
		var chunk llmcall.Call
		if err := snap.DataTo(&chunk); err != nil {
			return nil, fmt.Errorf("firestore: decode llm call chunk %s: %w", snap.Ref.ID, err)
		}
		chunks = append(chunks, &chunk)
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
	query := s.col().
		Where("agentId", "==", agentID).
		OrderBy("requestTime", cloudfirestore.Desc)
	return s.queryHeads(ctx, query)
}

// GetCallsByDescription implements llmcall.Store.
func (s *LlmCallStore) GetCallsByDescription(ctx context.Context, description string) ([]*llmcall.Call, error) {
	query := s.col().
		Where("description", "==", description).
		OrderBy("requestTime", cloudfirestore.Desc)
	return s.queryHeads(ctx, query)
}

func (s *LlmCallStore) queryHeads(ctx context.Context, query cloudfirestore.Query) ([]*llmcall.Call, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()
	var out []*llmcall.Call
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore: query llm calls: %w", err)
		}
		var head llmcall.Call
		if err := snap.DataTo(&head); err != nil {
			return nil, fmt.Errorf("firestore: decode llm call %s: %w", snap.Ref.ID, err)
		}
		if head.ChunkCount == 0 {
			out = append(out, &head)
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

// Delete implements llmcall.Store: head and chunks removed in one transaction.
func (s *LlmCallStore) Delete(ctx context.Context, llmCallID string) error {
	query := s.col().Where("llmCallId", "==", llmCallID)
	err := s.client.fs.RunTransaction(ctx, func(_ context.Context, tx *cloudfirestore.Transaction) error {
		var refs []*cloudfirestore.DocumentRef
		iter := tx.Documents(query)
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return err
			}
			refs = append(refs, snap.Ref)
		}
		for _, ref := range refs {
			if err := tx.Delete(ref); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("firestore: delete llm call %s: %w", llmCallID, err)
	}
	return nil
}
