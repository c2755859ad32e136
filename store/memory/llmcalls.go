package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/typedai/typedai/llmcall"
	"github.com/typedai/typedai/telemetry"
)

// LlmCallStore is an in-memory llmcall.Store. It runs the same chunk planning
// as the durable adapters so chunking behavior is observable in tests.
type LlmCallStore struct {
	mu      sync.RWMutex
	records map[string]*llmcall.Call // keyed by document id
	logger  telemetry.Logger
}

// NewLlmCallStore returns an empty LlmCallStore.
func NewLlmCallStore(logger telemetry.Logger) *LlmCallStore {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &LlmCallStore{records: make(map[string]*llmcall.Call), logger: logger}
}

// SaveRequest implements llmcall.Store.
func (s *LlmCallStore) SaveRequest(_ context.Context, call *llmcall.Call) error {
	return s.write(call, false)
}

// SaveResponse implements llmcall.Store. Merge semantics on the head: fields
// already present from the request are preserved when the response leaves
// them zero.
func (s *LlmCallStore) SaveResponse(_ context.Context, call *llmcall.Call) error {
	return s.write(call, true)
}

func (s *LlmCallStore) write(call *llmcall.Call, merge bool) error {
	if call.LlmCallID == "" {
		return fmt.Errorf("memory: llm call id is required")
	}
	records, err := llmcall.PlanChunks(call)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Writes for one llmCallId replace any previous chunk layout.
	for id, existing := range s.records {
		if existing.LlmCallID == call.LlmCallID && existing.ChunkIndex > 0 {
			delete(s.records, id)
		}
	}
	for _, record := range records {
		stored := *record
		if merge && stored.ChunkIndex == 0 {
			if prev, ok := s.records[stored.ID]; ok {
				llmcall.MergeHead(&stored, prev)
			}
		}
		s.records[stored.ID] = &stored
	}
	return nil
}

// GetCall implements llmcall.Store.
func (s *LlmCallStore) GetCall(ctx context.Context, llmCallID string) (*llmcall.Call, error) {
	s.mu.RLock()
	head, ok := s.records[llmCallID]
	var chunks []*llmcall.Call
	if ok && head.ChunkCount > 0 {
		for _, record := range s.records {
			if record.LlmCallID == llmCallID && record.ChunkIndex > 0 {
				chunks = append(chunks, record)
			}
		}
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memory: llm call %s: not found", llmCallID)
	}
	rebuilt, mismatch := llmcall.Reassemble(head, chunks)
	if mismatch {
		s.logger.Warn(ctx, "llm call chunk count mismatch",
			"llmCallId", llmCallID, "expected", head.ChunkCount, "found", len(chunks))
	}
	return rebuilt, nil
}

// GetCallsForAgent implements llmcall.Store.
func (s *LlmCallStore) GetCallsForAgent(ctx context.Context, agentID string) ([]*llmcall.Call, error) {
	return s.query(ctx, func(c *llmcall.Call) bool { return c.AgentID == agentID })
}

// GetCallsByDescription implements llmcall.Store.
func (s *LlmCallStore) GetCallsByDescription(ctx context.Context, description string) ([]*llmcall.Call, error) {
	return s.query(ctx, func(c *llmcall.Call) bool { return c.Description == description })
}

func (s *LlmCallStore) query(ctx context.Context, match func(*llmcall.Call) bool) ([]*llmcall.Call, error) {
	s.mu.RLock()
	var heads []*llmcall.Call
	for _, record := range s.records {
		if record.ChunkIndex == 0 && match(record) {
			heads = append(heads, record)
		}
	}
	s.mu.RUnlock()

	out := make([]*llmcall.Call, 0, len(heads))
	for _, head := range heads {
		rebuilt, err := s.GetCall(ctx, head.LlmCallID)
		if err != nil {
			return nil, err
		}
		out = append(out, rebuilt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestTime > out[j].RequestTime })
	return out, nil
}

// Delete implements llmcall.Store.
func (s *LlmCallStore) Delete(_ context.Context, llmCallID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, record := range s.records {
		if record.LlmCallID == llmCallID {
			delete(s.records, id)
		}
	}
	return nil
}

// now is split out for clarity in tests that assert LastUpdated advances.
func now() int64 { return time.Now().UnixMilli() }
