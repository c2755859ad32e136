package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/typedai/typedai/agent"
	"github.com/typedai/typedai/llm"
	"github.com/typedai/typedai/llmcall"
	"github.com/typedai/typedai/review"
	"github.com/typedai/typedai/user"
)

var owner = user.User{ID: "u1", Name: "Owner"}

func userCtx(u user.User) context.Context {
	return agent.WithUser(context.Background(), u)
}

func newAgent(id string, state agent.State) *agent.Context {
	ac := &agent.Context{
		AgentID:     id,
		ExecutionID: id + "-exec",
		User:        owner,
		Type:        agent.TypeWorkflow,
		State:       state,
		Name:        "agent " + id,
		UserPrompt:  "do the thing",
		Memory:      map[string]string{"k": "v"},
		Messages:    []llm.Message{llm.System("sys"), llm.UserMsg("hi")},
	}
	ac.Touch()
	return ac
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewAgentStore(nil)
	ac := newAgent("a1", agent.StateAgent)
	ac.FunctionCallHistory = []agent.FunctionCallResult{{FunctionName: "Echo_echo", Stdout: "hi"}}
	ac.CallStack = []string{"start", "plan"}
	require.NoError(t, store.Save(context.Background(), ac))

	loaded, err := store.Load(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, ac.AgentID, loaded.AgentID)
	require.Equal(t, ac.ExecutionID, loaded.ExecutionID)
	require.Equal(t, ac.State, loaded.State)
	require.Equal(t, ac.Memory, loaded.Memory)
	require.Equal(t, ac.Messages, loaded.Messages)
	require.Equal(t, ac.FunctionCallHistory, loaded.FunctionCallHistory)
	require.Equal(t, ac.CallStack, loaded.CallStack)

	// Mutating the loaded copy must not affect the store.
	loaded.Memory["k"] = "changed"
	again, err := store.Load(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, "v", again.Memory["k"])
}

func TestLoadMissingIsNotFound(t *testing.T) {
	store := NewAgentStore(nil)
	_, err := store.Load(context.Background(), "nope")
	require.ErrorIs(t, err, agent.ErrNotFound)
}

func TestSaveChildRequiresParent(t *testing.T) {
	store := NewAgentStore(nil)
	child := newAgent("c1", agent.StateAgent)
	child.ParentAgentID = "missing"
	require.ErrorIs(t, store.Save(context.Background(), child), agent.ErrParentMissing)

	parent := newAgent("p1", agent.StateChildAgents)
	require.NoError(t, store.Save(context.Background(), parent))
	child.ParentAgentID = "p1"
	require.NoError(t, store.Save(context.Background(), child))

	loadedParent, err := store.Load(context.Background(), "p1")
	require.NoError(t, err)
	require.Contains(t, loadedParent.ChildAgents, "c1")

	// Saving the child again must not duplicate the membership.
	require.NoError(t, store.Save(context.Background(), child))
	loadedParent, err = store.Load(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, loadedParent.ChildAgents, 1)
}

func TestUpdateStateWritesOnlyStateAndTimestamp(t *testing.T) {
	store := NewAgentStore(nil)
	ac := newAgent("a1", agent.StateAgent)
	require.NoError(t, store.Save(context.Background(), ac))

	before := ac.LastUpdate
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, store.UpdateState(context.Background(), ac, agent.StateFunctions))
	require.Equal(t, agent.StateFunctions, ac.State)
	require.Greater(t, ac.LastUpdate, before)

	loaded, err := store.Load(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, agent.StateFunctions, loaded.State)
	require.Equal(t, "do the thing", loaded.UserPrompt)
}

func TestListOrdersByRecency(t *testing.T) {
	store := NewAgentStore(nil)
	for _, id := range []string{"a1", "a2", "a3"} {
		ac := newAgent(id, agent.StateAgent)
		require.NoError(t, store.Save(context.Background(), ac))
		time.Sleep(2 * time.Millisecond)
	}
	other := newAgent("b1", agent.StateAgent)
	other.User = user.User{ID: "u2"}
	require.NoError(t, store.Save(context.Background(), other))

	summaries, err := store.List(userCtx(owner))
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	require.Equal(t, "a3", summaries[0].AgentID)
	require.Equal(t, "a1", summaries[2].AgentID)
}

func TestListRunningExcludesTerminal(t *testing.T) {
	store := NewAgentStore(nil)
	require.NoError(t, store.Save(context.Background(), newAgent("run1", agent.StateAgent)))
	require.NoError(t, store.Save(context.Background(), newAgent("run2", agent.StateHil)))
	require.NoError(t, store.Save(context.Background(), newAgent("done", agent.StateCompleted)))
	require.NoError(t, store.Save(context.Background(), newAgent("dead", agent.StateTimeout)))
	require.NoError(t, store.Save(context.Background(), newAgent("stop", agent.StateShutdown)))

	running, err := store.ListRunning(context.Background())
	require.NoError(t, err)
	require.Len(t, running, 2)
	// Primary sort on state ascending: "agent" < "hil".
	require.Equal(t, "run1", running[0].AgentID)
	require.Equal(t, "run2", running[1].AgentID)
}

func TestDeleteCascadesAndGuards(t *testing.T) {
	store := NewAgentStore(nil)
	parent := newAgent("p1", agent.StateChildAgents)
	require.NoError(t, store.Save(context.Background(), parent))
	for _, id := range []string{"c1", "c2"} {
		child := newAgent(id, agent.StateCompleted)
		child.ParentAgentID = "p1"
		require.NoError(t, store.Save(context.Background(), child))
	}

	// Parent is executing: nothing is removed.
	require.NoError(t, store.Delete(userCtx(owner), []string{"p1"}))
	_, err := store.Load(context.Background(), "p1")
	require.NoError(t, err)

	// Deleting only a child leaves child and parent intact.
	require.NoError(t, store.Delete(userCtx(owner), []string{"c1"}))
	_, err = store.Load(context.Background(), "c1")
	require.NoError(t, err)

	// Other users cannot delete.
	require.NoError(t, store.UpdateState(context.Background(), parent, agent.StateCompleted))
	require.NoError(t, store.Delete(userCtx(user.User{ID: "intruder"}), []string{"p1"}))
	_, err = store.Load(context.Background(), "p1")
	require.NoError(t, err)

	// Owner deletes the completed parent: children cascade.
	require.NoError(t, store.Delete(userCtx(owner), []string{"p1"}))
	for _, id := range []string{"p1", "c1", "c2"} {
		_, err = store.Load(context.Background(), id)
		require.ErrorIs(t, err, agent.ErrNotFound, id)
	}
}

func TestUpdateFunctionsSkipsUnknown(t *testing.T) {
	store := NewAgentStore(nil)
	ac := newAgent("a1", agent.StateAgent)
	require.NoError(t, store.Save(context.Background(), ac))

	require.NoError(t, store.UpdateFunctions(context.Background(), "a1", []string{"No_such"}))
	loaded, err := store.Load(context.Background(), "a1")
	require.NoError(t, err)
	require.Empty(t, loaded.Functions)
}

func TestLlmCallRoundTripUnchunked(t *testing.T) {
	store := NewLlmCallStore(nil)
	call := llmcall.NewCall("call-1", []llm.Message{llm.UserMsg("hi"), llm.Assistant("hello")}, "llm-a", "chat")
	call.AgentID = "a1"
	require.NoError(t, store.SaveRequest(context.Background(), call))
	require.NoError(t, store.SaveResponse(context.Background(), call))

	loaded, err := store.GetCall(context.Background(), "call-1")
	require.NoError(t, err)
	require.Equal(t, call.Messages, loaded.Messages)
	require.Zero(t, loaded.ChunkCount)
}

func TestLlmCallRoundTripChunked(t *testing.T) {
	store := NewLlmCallStore(nil)
	big := strings.Repeat("x", (llmcall.MaxDocSize*6/10))
	messages := []llm.Message{llm.UserMsg(big), llm.System(big), llm.Assistant(big)}
	call := llmcall.NewCall("call-2", messages, "llm-a", "chat")
	require.NoError(t, store.SaveResponse(context.Background(), call))

	loaded, err := store.GetCall(context.Background(), "call-2")
	require.NoError(t, err)
	require.GreaterOrEqual(t, loaded.ChunkCount, 2)
	require.Len(t, loaded.Messages, 3)
	for i := range messages {
		require.Equal(t, messages[i].Text(), loaded.Messages[i].Text())
	}
}

func TestLlmCallQueriesReturnHeadsSortedByRecency(t *testing.T) {
	store := NewLlmCallStore(nil)
	for i, id := range []string{"q1", "q2"} {
		call := llmcall.NewCall(id, []llm.Message{llm.UserMsg("hi")}, "llm-a", "review")
		call.AgentID = "a1"
		call.RequestTime = int64(1000 + i)
		require.NoError(t, store.SaveRequest(context.Background(), call))
	}

	byAgent, err := store.GetCallsForAgent(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, byAgent, 2)
	require.Equal(t, "q2", byAgent[0].LlmCallID)

	byDesc, err := store.GetCallsByDescription(context.Background(), "review")
	require.NoError(t, err)
	require.Len(t, byDesc, 2)
}

func TestLlmCallDeleteRemovesChunks(t *testing.T) {
	store := NewLlmCallStore(nil)
	big := strings.Repeat("x", (llmcall.MaxDocSize*7/10))
	call := llmcall.NewCall("del-1", []llm.Message{llm.UserMsg(big), llm.Assistant(big)}, "llm-a", "chat")
	require.NoError(t, store.SaveRequest(context.Background(), call))
	require.NoError(t, store.Delete(context.Background(), "del-1"))
	_, err := store.GetCall(context.Background(), "del-1")
	require.Error(t, err)
}

func TestReviewCacheRoundTrip(t *testing.T) {
	store := NewReviewCacheStore()
	cache, err := store.GetCache(context.Background(), "group/project", 101)
	require.NoError(t, err)
	require.Empty(t, cache.Fingerprints)

	cache.Add("abc123")
	require.NoError(t, store.UpdateCache(context.Background(), "group/project", 101, cache))

	loaded, err := store.GetCache(context.Background(), "group/project", 101)
	require.NoError(t, err)
	require.True(t, loaded.Has("abc123"))
	require.NotZero(t, loaded.LastUpdated)
}

func TestReviewConfigStore(t *testing.T) {
	store := NewReviewConfigStore()
	cfg := review.Config{ID: "r1", Title: "no fmt.Println", Enabled: true}
	require.NoError(t, store.SaveConfig(context.Background(), cfg))

	got, err := store.GetConfig(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, "no fmt.Println", got.Title)

	all, err := store.ListConfigs(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, store.DeleteConfig(context.Background(), "r1"))
	_, err = store.GetConfig(context.Background(), "r1")
	require.Error(t, err)
}
