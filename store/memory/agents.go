// Package memory provides in-memory implementations of the four repository
// capabilities (agent contexts, LLM calls, review configs, review caches).
// It is intended for tests and local development; production deployments use
// the firestore or mongo adapters. Semantics mirror the durable adapters,
// including parent/child atomicity and list ordering.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/typedai/typedai/agent"
	"github.com/typedai/typedai/functions"
	"github.com/typedai/typedai/telemetry"
)

// AgentStore is an in-memory agent.Store. Safe for concurrent use.
type AgentStore struct {
	mu     sync.RWMutex
	agents map[string]*agent.Context
	logger telemetry.Logger
}

// NewAgentStore returns an empty AgentStore.
func NewAgentStore(logger telemetry.Logger) *AgentStore {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &AgentStore{agents: make(map[string]*agent.Context), logger: logger}
}

// Save implements agent.Store.
func (s *AgentStore) Save(_ context.Context, ac *agent.Context) error {
	if ac.AgentID == "" {
		return fmt.Errorf("memory: agent id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if ac.ParentAgentID != "" {
		parent, ok := s.agents[ac.ParentAgentID]
		if !ok {
			return fmt.Errorf("memory: save %s: %w", ac.AgentID, agent.ErrParentMissing)
		}
		if !containsString(parent.ChildAgents, ac.AgentID) {
			parent.ChildAgents = append(parent.ChildAgents, ac.AgentID)
		}
	}
	s.agents[ac.AgentID] = cloneContext(ac)
	return nil
}

// UpdateState implements agent.Store: only state and lastUpdate are written,
// and the caller's context is mutated after the write.
func (s *AgentStore) UpdateState(_ context.Context, ac *agent.Context, state agent.State) error {
	s.mu.Lock()
	stored, ok := s.agents[ac.AgentID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("memory: update state %s: %w", ac.AgentID, agent.ErrNotFound)
	}
	stored.State = state
	stored.Touch()
	lastUpdate := stored.LastUpdate
	s.mu.Unlock()

	ac.State = state
	ac.LastUpdate = lastUpdate
	return nil
}

// Load implements agent.Store.
func (s *AgentStore) Load(_ context.Context, agentID string) (*agent.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("memory: load %s: %w", agentID, agent.ErrNotFound)
	}
	return cloneContext(stored), nil
}

// List implements agent.Store.
func (s *AgentStore) List(ctx context.Context) ([]agent.Summary, error) {
	current, err := agent.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []agent.Summary
	for _, ac := range s.agents {
		if ac.User.ID != current.ID {
			continue
		}
		out = append(out, ac.Summarize())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdate > out[j].LastUpdate })
	return out, nil
}

// ListRunning implements agent.Store. The (state asc, lastUpdate desc) sort
// mirrors the document-store adapters, which must order first on the
// inequality-filtered field.
func (s *AgentStore) ListRunning(_ context.Context) ([]agent.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []agent.Summary
	for _, ac := range s.agents {
		if !ac.State.IsExecuting() {
			continue
		}
		out = append(out, ac.Summarize())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].State != out[j].State {
			return out[i].State < out[j].State
		}
		return out[i].LastUpdate > out[j].LastUpdate
	})
	return out, nil
}

// Delete implements agent.Store: only root agents owned by the current user
// and not executing are removed, together with their children.
func (s *AgentStore) Delete(ctx context.Context, agentIDs []string) error {
	current, err := agent.CurrentUser(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range agentIDs {
		ac, ok := s.agents[id]
		if !ok {
			continue
		}
		if ac.User.ID != current.ID {
			s.logger.Warn(ctx, "delete skipped: not owner", "agentId", id)
			continue
		}
		if ac.State.IsExecuting() {
			s.logger.Warn(ctx, "delete skipped: agent executing", "agentId", id, "state", ac.State)
			continue
		}
		if ac.ParentAgentID != "" {
			s.logger.Warn(ctx, "delete skipped: agent has parent", "agentId", id)
			continue
		}
		for _, childID := range ac.ChildAgents {
			delete(s.agents, childID)
		}
		delete(s.agents, id)
	}
	return nil
}

// UpdateFunctions implements agent.Store.
func (s *AgentStore) UpdateFunctions(ctx context.Context, agentID string, functionNames []string) error {
	var kept []string
	for _, name := range functionNames {
		if _, ok := functions.Lookup(name); !ok {
			s.logger.Warn(ctx, "unknown function skipped", "agentId", agentID, "function", name)
			continue
		}
		kept = append(kept, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("memory: update functions %s: %w", agentID, agent.ErrNotFound)
	}
	stored.Functions = kept
	return nil
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func cloneContext(in *agent.Context) *agent.Context {
	out := *in
	out.ChildAgents = append([]string(nil), in.ChildAgents...)
	out.Messages = append(in.Messages[:0:0], in.Messages...)
	out.FunctionCallHistory = append(in.FunctionCallHistory[:0:0], in.FunctionCallHistory...)
	out.CallStack = append([]string(nil), in.CallStack...)
	out.Functions = append([]string(nil), in.Functions...)
	out.PendingMessages = append([]string(nil), in.PendingMessages...)
	out.LiveFiles = append([]string(nil), in.LiveFiles...)
	if in.Memory != nil {
		out.Memory = make(map[string]string, len(in.Memory))
		for k, v := range in.Memory {
			out.Memory[k] = v
		}
	}
	if in.Metadata != nil {
		out.Metadata = make(map[string]any, len(in.Metadata))
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}
	if in.FileSystem != nil {
		fs := *in.FileSystem
		out.FileSystem = &fs
	}
	return &out
}
