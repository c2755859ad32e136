package firestore

// These tests need a Firestore emulator. Start one with:
//
//	gcloud emulators firestore start --host-port=localhost:8618
//	export FIRESTORE_EMULATOR_HOST=localhost:8618
//
// They are skipped when FIRESTORE_EMULATOR_HOST is unset.

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/typedai/typedai/agent"
	"github.com/typedai/typedai/llm"
	"github.com/typedai/typedai/llmcall"
	"github.com/typedai/typedai/review"
	"github.com/typedai/typedai/user"
)

func emulatorClient(t *testing.T) *Client {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	client, err := NewClient(context.Background(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

var testOwner = user.User{ID: "u-test", Name: "Tester"}

func testAgent(id string, state agent.State) *agent.Context {
	ac := &agent.Context{
		AgentID:     id,
		ExecutionID: uuid.NewString(),
		User:        testOwner,
		Type:        agent.TypeWorkflow,
		State:       state,
		Name:        "agent " + id,
		UserPrompt:  "do the thing",
		Memory:      map[string]string{"k": "v"},
	}
	ac.Touch()
	return ac
}

func TestAgentSaveLoadRoundTrip(t *testing.T) {
	store := NewAgentStore(emulatorClient(t))
	ctx := context.Background()
	id := "a-" + uuid.NewString()
	ac := testAgent(id, agent.StateAgent)
	ac.Messages = []llm.Message{llm.System("sys"), llm.UserMsg("hi")}
	require.NoError(t, store.Save(ctx, ac))

	loaded, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.Equal(t, ac.ExecutionID, loaded.ExecutionID)
	require.Equal(t, ac.State, loaded.State)
	require.Equal(t, ac.Memory, loaded.Memory)
	require.Len(t, loaded.Messages, 2)
}

func TestAgentSaveChildRequiresParent(t *testing.T) {
	store := NewAgentStore(emulatorClient(t))
	ctx := context.Background()

	child := testAgent("c-"+uuid.NewString(), agent.StateAgent)
	child.ParentAgentID = "missing-" + uuid.NewString()
	require.ErrorIs(t, store.Save(ctx, child), agent.ErrParentMissing)

	parent := testAgent("p-"+uuid.NewString(), agent.StateChildAgents)
	require.NoError(t, store.Save(ctx, parent))
	child.ParentAgentID = parent.AgentID
	require.NoError(t, store.Save(ctx, child))
	require.NoError(t, store.Save(ctx, child))

	loaded, err := store.Load(ctx, parent.AgentID)
	require.NoError(t, err)
	require.Equal(t, []string{child.AgentID}, loaded.ChildAgents)
}

func TestAgentUpdateStateIsPartial(t *testing.T) {
	store := NewAgentStore(emulatorClient(t))
	ctx := context.Background()
	ac := testAgent("a-"+uuid.NewString(), agent.StateAgent)
	require.NoError(t, store.Save(ctx, ac))

	require.NoError(t, store.UpdateState(ctx, ac, agent.StateFunctions))
	loaded, err := store.Load(ctx, ac.AgentID)
	require.NoError(t, err)
	require.Equal(t, agent.StateFunctions, loaded.State)
	require.Equal(t, "do the thing", loaded.UserPrompt)
}

func TestLlmCallChunkedRoundTrip(t *testing.T) {
	store := NewLlmCallStore(emulatorClient(t))
	ctx := context.Background()

	big := strings.Repeat("x", (llmcall.MaxDocSize*6/10))
	id := "call-" + uuid.NewString()
	call := llmcall.NewCall(id, []llm.Message{llm.UserMsg(big), llm.Assistant(big)}, "llm-a", "chat")
	require.NoError(t, store.SaveResponse(ctx, call))

	loaded, err := store.GetCall(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.ChunkCount)
	require.Len(t, loaded.Messages, 2)
	require.Equal(t, big, loaded.Messages[0].Text())

	require.NoError(t, store.Delete(ctx, id))
	_, err = store.GetCall(ctx, id)
	require.Error(t, err)
}

func TestLlmCallResponseMergesHead(t *testing.T) {
	store := NewLlmCallStore(emulatorClient(t))
	ctx := context.Background()

	id := "call-" + uuid.NewString()
	call := llmcall.NewCall(id, []llm.Message{llm.UserMsg("hi")}, "llm-a", "chat")
	call.AgentID = "agent-1"
	require.NoError(t, store.SaveRequest(ctx, call))

	response := &llmcall.Call{
		ID:        id,
		LlmCallID: id,
		Messages:  []llm.Message{llm.UserMsg("hi"), llm.Assistant("hello")},
		TotalTime: 1200,
		Cost:      0.01,
	}
	require.NoError(t, store.SaveResponse(ctx, response))

	loaded, err := store.GetCall(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "agent-1", loaded.AgentID)
	require.Equal(t, "chat", loaded.Description)
	require.Equal(t, int64(1200), loaded.TotalTime)
}

func TestReviewCacheRoundTrip(t *testing.T) {
	store := NewReviewCacheStore(emulatorClient(t))
	ctx := context.Background()
	project := "group/project-" + uuid.NewString()

	cache, err := store.GetCache(ctx, project, 42)
	require.NoError(t, err)
	require.Empty(t, cache.Fingerprints)

	cache.Add("fp-1")
	require.NoError(t, store.UpdateCache(ctx, project, 42, cache))

	loaded, err := store.GetCache(ctx, project, 42)
	require.NoError(t, err)
	require.True(t, loaded.Has("fp-1"))
	require.NotZero(t, loaded.LastUpdated)
}

func TestReviewConfigRoundTrip(t *testing.T) {
	store := NewReviewConfigStore(emulatorClient(t))
	ctx := context.Background()

	id := "rule-" + uuid.NewString()
	cfg := review.Config{ID: id, Title: "no sleeps in tests", Enabled: true}
	require.NoError(t, store.SaveConfig(ctx, cfg))

	got, err := store.GetConfig(ctx, id)
	require.NoError(t, err)
	require.Equal(t, cfg.Title, got.Title)

	require.NoError(t, store.DeleteConfig(ctx, id))
	_, err = store.GetConfig(ctx, id)
	require.Error(t, err)
}
