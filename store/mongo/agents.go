package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/typedai/typedai/agent"
	"github.com/typedai/typedai/functions"
)

// AgentStore is the Mongo agent.Store. One document per agent context in the
// agent_contexts collection, keyed by agent id.
type AgentStore struct {
	client *Client
}

// NewAgentStore returns the Mongo-backed agent store.
func NewAgentStore(client *Client) *AgentStore {
	return &AgentStore{client: client}
}

func (s *AgentStore) coll() *mongodriver.Collection {
	return s.client.db.Collection(agentsCollection)
}

// summaryProjection limits list queries to the fields Summary needs.
var summaryProjection = bson.D{
	{Key: "_id", Value: 1},
	{Key: "name", Value: 1},
	{Key: "type", Value: 1},
	{Key: "state", Value: 1},
	{Key: "cost", Value: 1},
	{Key: "error", Value: 1},
	{Key: "lastUpdate", Value: 1},
	{Key: "userPrompt", Value: 1},
	{Key: "inputPrompt", Value: 1},
	{Key: "user.id", Value: 1},
}

// Save implements agent.Store. Child saves run the parent registration and
// the child write in one transaction: both commit or neither does.
func (s *AgentStore) Save(ctx context.Context, ac *agent.Context) error {
	if ac.AgentID == "" {
		return fmt.Errorf("mongo: agent id is required")
	}
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	replace := func(opCtx context.Context) error {
		_, err := s.coll().ReplaceOne(opCtx, bson.M{"_id": ac.AgentID}, ac, options.Replace().SetUpsert(true))
		return err
	}

	if ac.ParentAgentID == "" {
		if err := replace(ctx); err != nil {
			return fmt.Errorf("mongo: save agent %s: %w", ac.AgentID, err)
		}
		return nil
	}

	sess, err := s.client.mongo.StartSession()
	if err != nil {
		return fmt.Errorf("mongo: save agent %s: %w", ac.AgentID, err)
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(sc mongodriver.SessionContext) (any, error) {
		res, err := s.coll().UpdateOne(sc,
			bson.M{"_id": ac.ParentAgentID},
			bson.M{"$addToSet": bson.M{"childAgents": ac.AgentID}},
		)
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			return nil, agent.ErrParentMissing
		}
		return nil, replace(sc)
	})
	if err != nil {
		return fmt.Errorf("mongo: save agent %s: %w", ac.AgentID, err)
	}
	return nil
}

// UpdateState implements agent.Store with a partial $set of state and
// lastUpdate; the caller's context is mutated only after the write succeeds.
func (s *AgentStore) UpdateState(ctx context.Context, ac *agent.Context, state agent.State) error {
	next := *ac
	next.State = state
	next.Touch()
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()
	res, err := s.coll().UpdateOne(ctx,
		bson.M{"_id": ac.AgentID},
		bson.M{"$set": bson.M{"state": string(state), "lastUpdate": next.LastUpdate}},
	)
	if err != nil {
		return fmt.Errorf("mongo: update state %s: %w", ac.AgentID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("mongo: update state %s: %w", ac.AgentID, agent.ErrNotFound)
	}
	ac.State = next.State
	ac.LastUpdate = next.LastUpdate
	return nil
}

// Load implements agent.Store.
func (s *AgentStore) Load(ctx context.Context, agentID string) (*agent.Context, error) {
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()
	var ac agent.Context
	err := s.coll().FindOne(ctx, bson.M{"_id": agentID}).Decode(&ac)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, fmt.Errorf("mongo: load agent %s: %w", agentID, agent.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: load agent %s: %w", agentID, err)
	}
	return &ac, nil
}

// List implements agent.Store.
func (s *AgentStore) List(ctx context.Context) ([]agent.Summary, error) {
	current, err := agent.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.summaries(ctx,
		bson.M{"user.id": current.ID},
		bson.D{{Key: "lastUpdate", Value: -1}},
	)
}

// ListRunning implements agent.Store. The (state asc, lastUpdate desc) sort
// matches the other adapters so callers see one ordering everywhere.
func (s *AgentStore) ListRunning(ctx context.Context) ([]agent.Summary, error) {
	terminal := []string{
		string(agent.StateCompleted),
		string(agent.StateShutdown),
		string(agent.StateTimeout),
	}
	return s.summaries(ctx,
		bson.M{"state": bson.M{"$nin": terminal}},
		bson.D{{Key: "state", Value: 1}, {Key: "lastUpdate", Value: -1}},
	)
}

func (s *AgentStore) summaries(ctx context.Context, filter bson.M, sort bson.D) ([]agent.Summary, error) {
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()
	cur, err := s.coll().Find(ctx, filter,
		options.Find().SetSort(sort).SetProjection(summaryProjection))
	if err != nil {
		return nil, fmt.Errorf("mongo: list agents: %w", err)
	}
	defer func() { _ = cur.Close(ctx) }()
	var out []agent.Summary
	for cur.Next(ctx) {
		var ac agent.Context
		if err := cur.Decode(&ac); err != nil {
			return nil, fmt.Errorf("mongo: decode agent summary: %w", err)
		}
		out = append(out, ac.Summarize())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo: list agents: %w", err)
	}
	return out, nil
}

// Delete implements agent.Store: only roots owned by the ambient user and not
// executing are removed; children go in the same DeleteMany.
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
		ids := append(append([]string(nil), ac.ChildAgents...), id)
		opCtx, cancel := s.client.withTimeout(ctx)
		_, err = s.coll().DeleteMany(opCtx, bson.M{"_id": bson.M{"$in": ids}})
		cancel()
		if err != nil {
			return fmt.Errorf("mongo: delete agent %s: %w", id, err)
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
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()
	res, err := s.coll().UpdateOne(ctx,
		bson.M{"_id": agentID},
		bson.M{"$set": bson.M{"functions": kept}},
	)
	if err != nil {
		return fmt.Errorf("mongo: update functions %s: %w", agentID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("mongo: update functions %s: %w", agentID, agent.ErrNotFound)
	}
	return nil
}
