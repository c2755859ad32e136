package firestore

import (
	"context"
	"errors"
	"fmt"

	cloudfirestore "cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/typedai/typedai/agent"
	"github.com/typedai/typedai/functions"
)

// AgentStore is the Firestore agent.Store. One document per agent context in
// the AgentContext collection, keyed by agent id.
type AgentStore struct {
	client *Client
}

// NewAgentStore returns the Firestore-backed agent store.
func NewAgentStore(client *Client) *AgentStore {
	return &AgentStore{client: client}
}

func (s *AgentStore) col() *cloudfirestore.CollectionRef {
	return s.client.fs.Collection(agentsCollection)
}

// summaryFields is the projection for list queries; user.id is needed for the
// summary's owner field.
var summaryFields = []string{
	"agentId", "name", "type", "state", "cost", "error",
	"lastUpdate", "userPrompt", "inputPrompt", "user.id",
}

// Save implements agent.Store. Child saves run in a transaction so the
// child document and the parent's childAgents membership commit together.
func (s *AgentStore) Save(ctx context.Context, ac *agent.Context) error {
	if ac.AgentID == "" {
		return fmt.Errorf("firestore: agent id is required")
	}
	ref := s.col().Doc(ac.AgentID)
	if ac.ParentAgentID == "" {
		if _, err := ref.Set(ctx, ac); err != nil {
			return fmt.Errorf("firestore: save agent %s: %w", ac.AgentID, err)
		}
		return nil
	}

	parentRef := s.col().Doc(ac.ParentAgentID)
	err := s.client.fs.RunTransaction(ctx, func(ctx context.Context, tx *cloudfirestore.Transaction) error {
		snap, err := tx.Get(parentRef)
		if isNotFound(err) {
			return agent.ErrParentMissing
		}
		if err != nil {
			return err
		}
		var parent agent.Context
		if err := snap.DataTo(&parent); err != nil {
			return err
		}
		if !containsString(parent.ChildAgents, ac.AgentID) {
			children := append(append([]string(nil), parent.ChildAgents...), ac.AgentID)
			if err := tx.Update(parentRef, []cloudfirestore.Update{
				{Path: "childAgents", Value: children},
			}); err != nil {
				return err
			}
		}
		return tx.Set(ref, ac)
	})
	if err != nil {
		return fmt.Errorf("firestore: save agent %s: %w", ac.AgentID, err)
	}
	return nil
}

// UpdateState implements agent.Store with a partial write of state and
// lastUpdate; the caller's context is mutated only after the write succeeds.
func (s *AgentStore) UpdateState(ctx context.Context, ac *agent.Context, state agent.State) error {
	next := *ac
	next.State = state
	next.Touch()
	_, err := s.col().Doc(ac.AgentID).Update(ctx, []cloudfirestore.Update{
		{Path: "state", Value: string(state)},
		{Path: "lastUpdate", Value: next.LastUpdate},
	})
	if isNotFound(err) {
		return fmt.Errorf("firestore: update state %s: %w", ac.AgentID, agent.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("firestore: update state %s: %w", ac.AgentID, err)
	}
	ac.State = next.State
	ac.LastUpdate = next.LastUpdate
	return nil
}

// Load implements agent.Store.
func (s *AgentStore) Load(ctx context.Context, agentID string) (*agent.Context, error) {
	snap, err := s.col().Doc(agentID).Get(ctx)
	if isNotFound(err) {
		return nil, fmt.Errorf("firestore: load agent %s: %w", agentID, agent.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("firestore: load agent %s: %w", agentID, err)
	}
	var ac agent.Context
	if err := snap.DataTo(&ac); err != nil {
		return nil, fmt.Errorf("firestore: decode agent %s: %w", agentID, err)
	}
	return &ac, nil
}

// List implements agent.Store.
func (s *AgentStore) List(ctx context.Context) ([]agent.Summary, error) {
	current, err := agent.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	query := s.col().
		Where("user.id", "==", current.ID).
		OrderBy("lastUpdate", cloudfirestore.Desc).
		Select(summaryFields...)
	return s.summaries(ctx, query)
}

// ListRunning implements agent.Store. Firestore requires the first orderBy to
// match the inequality-filtered field, hence (state asc, lastUpdate desc).
func (s *AgentStore) ListRunning(ctx context.Context) ([]agent.Summary, error) {
	terminal := make([]string, 0, 3)
	for _, st := range []agent.State{agent.StateCompleted, agent.StateShutdown, agent.StateTimeout} {
		terminal = append(terminal, string(st))
	}
	query := s.col().
		Where("state", "not-in", terminal).
		OrderBy("state", cloudfirestore.Asc).
		OrderBy("lastUpdate", cloudfirestore.Desc).
		Select(summaryFields...)
	return s.summaries(ctx, query)
}

func (s *AgentStore) summaries(ctx context.Context, query cloudfirestore.Query) ([]agent.Summary, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()
	var out []agent.Summary
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore: list agents: %w", err)
		}
		var ac agent.Context
		if err := snap.DataTo(&ac); err != nil {
			return nil, fmt.Errorf("firestore: decode agent summary %s: %w", snap.Ref.ID, err)
		}
		out = append(out, ac.Summarize())
	}
	return out, nil
}

// Delete implements agent.Store. Each eligible root and its children are
// removed in one transaction per root.
func (s *AgentStore) Delete(ctx context.Context, agentIDs []string) error {
	current, err := agent.CurrentUser(ctx)
	if err != nil {
		return err
	}
	for _, id := range agentIDs {
		ac, err := s.Load(ctx, id)
		if err != nil {
			if errors.Is(err, agent.ErrNotFound) {
				continue
			}
			return err
		}
		if ac.User.ID != current.ID {
			s.client.logger.Warn(ctx, "delete skipped: not owner", "agentId", id)
			continue
		}
		if ac.State.IsExecuting() {
			s.client.logger.Warn(ctx, "delete skipped: agent executing", "agentId", id, "state", ac.State)
			continue
		}
		if ac.ParentAgentID != "" {
			s.client.logger.Warn(ctx, "delete skipped: agent has parent", "agentId", id)
			continue
		}
		err = s.client.fs.RunTransaction(ctx, func(_ context.Context, tx *cloudfirestore.Transaction) error {
			for _, childID := range ac.ChildAgents {
				if err := tx.Delete(s.col().Doc(childID)); err != nil {
					return err
				}
			}
			return tx.Delete(s.col().Doc(id))
		})
		if err != nil {
			return fmt.Errorf("firestore: delete agent %s: %w", id, err)
		}
	}
	return nil
}

// UpdateFunctions implements agent.Store.
func (s *AgentStore) UpdateFunctions(ctx context.Context, agentID string, functionNames []string) error {
	kept := make([]string, 0, len(functionNames))
	for _, name := range functionNames {
		if _, ok := functions.Lookup(name); !ok {
			s.client.logger.Warn(ctx, "unknown function skipped", "agentId", agentID, "function", name)
			continue
		}
		kept = append(kept, name)
	}
	_, err := s.col().Doc(agentID).Update(ctx, []cloudfirestore.Update{
		{Path: "functions", Value: kept},
	})
	if isNotFound(err) {
		return fmt.Errorf("firestore: update functions %s: %w", agentID, agent.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("firestore: update functions %s: %w", agentID, err)
	}
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
