package agent

import "fmt"

// State is the state-machine tag of an agent context.
type State string

const (
	// StateAgent is the planning step: the LLM decides the next action.
	StateAgent State = "agent"
	// StateFunctions executes the function calls emitted by planning.
	StateFunctions State = "functions"
	// StateWorkflow runs a deterministic workflow outside the planning loop.
	StateWorkflow State = "workflow"
	// StateChildAgents waits for spawned children to reach terminal states.
	StateChildAgents State = "child_agents"
	// StateHitlTool waits for human confirmation requested by a tool.
	StateHitlTool State = "hitl_tool"
	// StateHitlFeedback waits for human feedback requested by the LLM.
	StateHitlFeedback State = "hitl_feedback"
	// StateHitlThreshold waits for acknowledgement after the iteration gate.
	StateHitlThreshold State = "hitl_threshold"
	// StateHil waits for acknowledgement after the cost or iteration budget
	// gate.
	StateHil State = "hil"
	// StateError records an unrecoverable execution failure.
	StateError State = "error"
	// StateCompleted is the successful terminal state.
	StateCompleted State = "completed"
	// StateShutdown is the terminal state for explicit stops.
	StateShutdown State = "shutdown"
	// StateTimeout is the terminal state for exceeded wall-clock budgets.
	StateTimeout State = "timeout"
)

// terminalStates are sinks: no transitions out except via a new execution.
var terminalStates = map[State]struct{}{
	StateCompleted: {},
	StateShutdown:  {},
	StateTimeout:   {},
}

// IsTerminal reports whether s is a sink state.
func (s State) IsTerminal() bool {
	_, ok := terminalStates[s]
	return ok
}

// IsExecuting reports whether s counts as running for list queries.
func (s State) IsExecuting() bool { return !s.IsTerminal() }

// validTransitions enumerates the legal state-machine edges. Shutdown and
// timeout are reachable from any non-terminal state and handled separately.
var validTransitions = map[State][]State{
	StateAgent:         {StateFunctions, StateHitlThreshold, StateHitlFeedback, StateHil, StateCompleted, StateChildAgents, StateWorkflow, StateError},
	StateFunctions:     {StateAgent, StateError, StateHitlTool, StateHil},
	StateWorkflow:      {StateAgent, StateError, StateHil},
	StateChildAgents:   {StateAgent, StateError, StateHil},
	StateHitlTool:      {StateFunctions, StateAgent},
	StateHitlFeedback:  {StateAgent},
	StateHitlThreshold: {StateAgent},
	StateHil:           {StateAgent, StateFunctions, StateWorkflow, StateChildAgents},
	StateError:         {},
}

// CanTransition reports whether moving from one state to another is a legal
// edge of the state machine. Any non-terminal state may move to shutdown or
// timeout.
func CanTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateShutdown || to == StateTimeout {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition mutates the context state after validating the edge.
func (c *Context) Transition(to State) error {
	if !CanTransition(c.State, to) {
		return fmt.Errorf("agent %s: illegal transition %s -> %s", c.AgentID, c.State, to)
	}
	c.State = to
	return nil
}
