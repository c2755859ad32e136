// Package agent defines the durable agent context entity, its state machine,
// the persistence contract, and the ambient bindings that propagate the
// current agent and user through nested calls.
package agent

import (
	"time"

	"github.com/typedai/typedai/llm"
	"github.com/typedai/typedai/user"
)

// Type tags the two agent flavors.
type Type string

const (
	// TypeCodegen marks agents that edit code in a working directory.
	TypeCodegen Type = "codegen"
	// TypeWorkflow marks general goal-directed agents.
	TypeWorkflow Type = "workflow"
)

type (
	// Context is the durable record of a single agent: identity, state,
	// conversation, capabilities, memory and accounting. It is mutated only
	// by the runner holding the current execution.
	Context struct {
		// AgentID is the opaque, immutable agent identifier.
		AgentID string `json:"agentId" firestore:"agentId" bson:"_id"`
		// ExecutionID is regenerated on every resume so stale writers from a
		// previous execution can be detected.
		ExecutionID string `json:"executionId" firestore:"executionId" bson:"executionId"`
		// ParentAgentID references the parent agent, empty for roots.
		ParentAgentID string `json:"parentAgentId,omitempty" firestore:"parentAgentId,omitempty" bson:"parentAgentId,omitempty"`
		// ChildAgents holds the ids of spawned children. For every member,
		// the child's ParentAgentID equals this AgentID; both sides are
		// written atomically.
		ChildAgents []string `json:"childAgents,omitempty" firestore:"childAgents,omitempty" bson:"childAgents,omitempty"`
		// User owns the agent. Immutable after creation.
		User user.User `json:"user" firestore:"user" bson:"user"`
		// Type is codegen or workflow.
		Type Type `json:"type" firestore:"type" bson:"type"`
		// State is the current state-machine tag.
		State State `json:"state" firestore:"state" bson:"state"`
		// Error captures the last error when State is StateError.
		Error string `json:"error,omitempty" firestore:"error,omitempty" bson:"error,omitempty"`

		// Name is the human-readable agent name.
		Name string `json:"name" firestore:"name" bson:"name"`
		// UserPrompt is the original request from the user.
		UserPrompt string `json:"userPrompt" firestore:"userPrompt" bson:"userPrompt"`
		// InputPrompt is the rendered prompt handed to the planner.
		InputPrompt string `json:"inputPrompt" firestore:"inputPrompt" bson:"inputPrompt"`

		// Messages is the conversation history. Append-only within a single
		// execution.
		Messages []llm.Message `json:"messages,omitempty" firestore:"messages,omitempty" bson:"messages,omitempty"`
		// FunctionCallHistory records every executed function call in program
		// order.
		FunctionCallHistory []FunctionCallResult `json:"functionCallHistory,omitempty" firestore:"functionCallHistory,omitempty" bson:"functionCallHistory,omitempty"`
		// CallStack tracks nested call names; the last element is the most
		// recent.
		CallStack []string `json:"callStack,omitempty" firestore:"callStack,omitempty" bson:"callStack,omitempty"`
		// Memory is the agent-visible scratch store.
		Memory map[string]string `json:"memory,omitempty" firestore:"memory,omitempty" bson:"memory,omitempty"`
		// Metadata is opaque caller data.
		Metadata map[string]any `json:"metadata,omitempty" firestore:"metadata,omitempty" bson:"metadata,omitempty"`
		// Functions names the function classes bound to this agent.
		Functions []string `json:"functions,omitempty" firestore:"functions,omitempty" bson:"functions,omitempty"`
		// PendingMessages queues user messages delivered between iterations.
		PendingMessages []string `json:"pendingMessages,omitempty" firestore:"pendingMessages,omitempty" bson:"pendingMessages,omitempty"`

		// HilBudget is the cost accumulated between human-in-the-loop gates
		// before the runner pauses. Zero disables the cost gate.
		HilBudget float64 `json:"hilBudget,omitempty" firestore:"hilBudget,omitempty" bson:"hilBudget,omitempty"`
		// HilCount is the iteration count between HIL gates. Zero disables
		// the iteration gate.
		HilCount int `json:"hilCount,omitempty" firestore:"hilCount,omitempty" bson:"hilCount,omitempty"`
		// Cost is the total accumulated LLM spend. Monotonically
		// non-decreasing.
		Cost float64 `json:"cost" firestore:"cost" bson:"cost"`
		// CostSinceHil accumulates spend since the last cost gate.
		CostSinceHil float64 `json:"costSinceHil" firestore:"costSinceHil" bson:"costSinceHil"`

		// Iterations counts planning passes since the last iteration gate.
		Iterations int `json:"iterations" firestore:"iterations" bson:"iterations"`
		// LastUpdate is the last persistence time in epoch milliseconds.
		LastUpdate int64 `json:"lastUpdate" firestore:"lastUpdate" bson:"lastUpdate"`

		// CompletedHandler names the registered terminal-notification sink.
		CompletedHandler string `json:"completedHandler,omitempty" firestore:"completedHandler,omitempty" bson:"completedHandler,omitempty"`
		// FileSystem snapshots the working directory root, nil when the agent
		// has no filesystem.
		FileSystem *FileSystemState `json:"fileSystem,omitempty" firestore:"fileSystem,omitempty" bson:"fileSystem,omitempty"`
		// LiveFiles lists the paths the agent declared live.
		LiveFiles []string `json:"liveFiles,omitempty" firestore:"liveFiles,omitempty" bson:"liveFiles,omitempty"`
	}

	// FileSystemState snapshots the agent's working-directory binding.
	FileSystemState struct {
		BasePath   string `json:"basePath" firestore:"basePath" bson:"basePath"`
		WorkingDir string `json:"workingDir" firestore:"workingDir" bson:"workingDir"`
	}

	// FunctionCallResult records one function invocation and its outcome.
	FunctionCallResult struct {
		FunctionName string         `json:"functionName" firestore:"functionName" bson:"functionName"`
		Parameters   map[string]any `json:"parameters,omitempty" firestore:"parameters,omitempty" bson:"parameters,omitempty"`
		Stdout       string         `json:"stdout,omitempty" firestore:"stdout,omitempty" bson:"stdout,omitempty"`
		Stderr       string         `json:"stderr,omitempty" firestore:"stderr,omitempty" bson:"stderr,omitempty"`
	}

	// Summary is the list projection of a context, ordered by LastUpdate
	// descending in list queries.
	Summary struct {
		AgentID     string
		Name        string
		Type        Type
		State       State
		Cost        float64
		Error       string
		LastUpdate  int64
		UserPrompt  string
		InputPrompt string
		UserID      string
	}
)

// BudgetRemaining returns the spend left before the next cost gate.
func (c *Context) BudgetRemaining() float64 {
	remaining := c.HilBudget - c.CostSinceHil
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AddCost accumulates spend. Cost never decreases; negative amounts are
// ignored.
func (c *Context) AddCost(amount float64) {
	if amount <= 0 {
		return
	}
	c.Cost += amount
	c.CostSinceHil += amount
}

// Touch stamps LastUpdate with the current wall clock.
func (c *Context) Touch() {
	c.LastUpdate = time.Now().UnixMilli()
}

// Summarize projects the context into its list representation.
func (c *Context) Summarize() Summary {
	return Summary{
		AgentID:     c.AgentID,
		Name:        c.Name,
		Type:        c.Type,
		State:       c.State,
		Cost:        c.Cost,
		Error:       c.Error,
		LastUpdate:  c.LastUpdate,
		UserPrompt:  c.UserPrompt,
		InputPrompt: c.InputPrompt,
		UserID:      c.User.ID,
	}
}
