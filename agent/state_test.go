package agent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTerminalStatesAreSinks(t *testing.T) {
	for _, terminal := range []State{StateCompleted, StateShutdown, StateTimeout} {
		require.True(t, terminal.IsTerminal())
		require.False(t, terminal.IsExecuting())
		for _, to := range []State{StateAgent, StateFunctions, StateShutdown, StateTimeout} {
			require.False(t, CanTransition(terminal, to), "from %s to %s", terminal, to)
		}
	}
}

func TestPlanningTransitions(t *testing.T) {
	require.True(t, CanTransition(StateAgent, StateFunctions))
	require.True(t, CanTransition(StateFunctions, StateAgent))
	require.True(t, CanTransition(StateFunctions, StateError))
	require.True(t, CanTransition(StateAgent, StateHitlThreshold))
	require.True(t, CanTransition(StateHitlThreshold, StateAgent))
	require.True(t, CanTransition(StateAgent, StateHitlFeedback))
	require.True(t, CanTransition(StateHitlFeedback, StateAgent))
	require.True(t, CanTransition(StateAgent, StateCompleted))
	require.True(t, CanTransition(StateAgent, StateChildAgents))
	require.True(t, CanTransition(StateChildAgents, StateAgent))
	require.True(t, CanTransition(StateFunctions, StateHitlTool))
	require.True(t, CanTransition(StateHitlTool, StateFunctions))

	require.False(t, CanTransition(StateAgent, StateAgent))
	require.False(t, CanTransition(StateHitlFeedback, StateFunctions))
	require.False(t, CanTransition(StateError, StateAgent))
}

func TestAnyExecutingReachesShutdownAndTimeout(t *testing.T) {
	executing := []State{StateAgent, StateFunctions, StateWorkflow, StateChildAgents, StateHitlTool, StateHitlFeedback, StateHitlThreshold, StateHil, StateError}
	for _, from := range executing {
		require.True(t, CanTransition(from, StateShutdown), "from %s", from)
		require.True(t, CanTransition(from, StateTimeout), "from %s", from)
	}
}

func TestTransitionMutatesOnlyWhenLegal(t *testing.T) {
	ac := &Context{AgentID: "a1", State: StateAgent}
	require.NoError(t, ac.Transition(StateFunctions))
	require.Equal(t, StateFunctions, ac.State)

	err := ac.Transition(StateCompleted)
	require.Error(t, err)
	require.Equal(t, StateFunctions, ac.State)
}

func TestCostNeverDecreases(t *testing.T) {
	ac := &Context{HilBudget: 1.0}
	ac.AddCost(0.4)
	ac.AddCost(-5)
	require.Equal(t, 0.4, ac.Cost)
	require.InDelta(t, 0.6, ac.BudgetRemaining(), 1e-9)
	ac.AddCost(0.8)
	require.InDelta(t, 1.2, ac.Cost, 1e-9)
	require.Zero(t, ac.BudgetRemaining())
}
