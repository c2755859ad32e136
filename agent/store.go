package agent

import "context"

// Store persists agent contexts. Implementations enforce the parent/child
// invariant: saving a child adds it to the parent's ChildAgents in the same
// transaction, and a child exists only if its parent does.
type Store interface {
	// Save writes the full context. When ParentAgentID is set it performs a
	// transactional two-write: the parent is read (ErrParentMissing when
	// absent), the child id is added to the parent's ChildAgents, and both
	// documents are written atomically.
	Save(ctx context.Context, ac *Context) error

	// UpdateState writes only the state and lastUpdate fields. The in-memory
	// context is mutated after the write succeeds.
	UpdateState(ctx context.Context, ac *Context, state State) error

	// Load returns the full context, or ErrNotFound.
	Load(ctx context.Context, agentID string) (*Context, error)

	// List returns summaries for the ambient user's agents ordered by
	// LastUpdate descending.
	List(ctx context.Context) ([]Summary, error)

	// ListRunning returns summaries for non-terminal agents ordered by state
	// ascending then LastUpdate descending. Callers needing strict recency
	// must re-sort client side.
	ListRunning(ctx context.Context) ([]Summary, error)

	// Delete removes the given agents. Agents not owned by the ambient user,
	// agents in an executing state, and agents with a parent are skipped.
	// Deleting a parent cascades to its listed children in one batch.
	Delete(ctx context.Context, agentIDs []string) error

	// UpdateFunctions replaces the agent's capability set. Names absent from
	// the function registry are skipped with a warning.
	UpdateFunctions(ctx context.Context, agentID string, functionNames []string) error
}
