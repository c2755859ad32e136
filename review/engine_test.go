package review_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/typedai/typedai/llm"
	"github.com/typedai/typedai/review"
	"github.com/typedai/typedai/scm"
	"github.com/typedai/typedai/store/memory"
)

const engineDiff = "@@ -1,2 +1,3 @@\n package main\n+fmt.Println(\"debug\")\n func main() {}\n"

// scriptedLlm returns a fixed response and counts calls.
type scriptedLlm struct {
	response string
	calls    atomic.Int64
}

func (s *scriptedLlm) Generate(_ context.Context, _ []llm.Message, _ llm.GenerateOptions) (llm.Message, error) {
	s.calls.Add(1)
	return llm.Assistant(s.response), nil
}

func (s *scriptedLlm) IsConfigured() bool     { return true }
func (s *scriptedLlm) GetMaxInputTokens() int { return 100000 }
func (s *scriptedLlm) GetID() string          { return "scripted" }

// fakeScm serves one MR and records posted discussions as bot notes so a
// second run sees them.
type fakeScm struct {
	mr          scm.MergeRequest
	diffs       []scm.Diff
	discussions []scm.Discussion
	posted      []string
	positions   []*scm.Position
	botID       int64
}

func (f *fakeScm) GetMergeRequest(context.Context, int64, int64) (scm.MergeRequest, error) {
	return f.mr, nil
}

func (f *fakeScm) GetMergeRequestDiffs(context.Context, int64, int64) ([]scm.Diff, error) {
	return f.diffs, nil
}

func (f *fakeScm) ListMergeRequestDiscussions(context.Context, int64, int64) ([]scm.Discussion, error) {
	return f.discussions, nil
}

func (f *fakeScm) CreateMergeRequestDiscussion(_ context.Context, _ int64, _ int64, body string, position *scm.Position) error {
	f.posted = append(f.posted, body)
	f.positions = append(f.positions, position)
	f.discussions = append(f.discussions, scm.Discussion{
		ID:    "posted",
		Notes: []scm.Note{{Body: body, AuthorID: f.botID}},
	})
	return nil
}

func newEngineFixture(t *testing.T, response string) (*review.Engine, *scriptedLlm, *fakeScm, review.CacheStore) {
	t.Helper()
	model := &scriptedLlm{response: response}
	source := &fakeScm{
		mr: scm.MergeRequest{
			ID: 1, IID: 7, ProjectID: 12,
			DiffRefs: &scm.DiffRefs{BaseSha: "base", HeadSha: "head", StartSha: "start"},
		},
		diffs: []scm.Diff{{OldPath: "main.go", NewPath: "main.go", Diff: engineDiff}},
		botID: 42,
	}
	configs := memory.NewReviewConfigStore()
	rule := review.Config{ID: "no-debug-prints", Title: "no debug prints", Enabled: true, Version: "1"}
	rule.FileExtensions.Include = []string{".go"}
	rule.Requires.Text = []string{"fmt.Println"}
	require.NoError(t, configs.SaveConfig(context.Background(), rule))
	caches := memory.NewReviewCacheStore()

	engine, err := review.NewEngine(review.EngineOptions{
		Llm:       model,
		Configs:   configs,
		Cache:     caches,
		Scm:       source,
		BotUserID: 42,
	})
	require.NoError(t, err)
	return engine, model, source, caches
}

func TestCleanRunCachesFingerprintAndSkipsSecondRun(t *testing.T) {
	engine, model, _, caches := newEngineFixture(t, `{"thinking": "fine", "violations": []}`)
	ctx := context.Background()

	posted, err := engine.ReviewMergeRequest(ctx, 12, "group/proj", 7)
	require.NoError(t, err)
	require.Zero(t, posted)
	require.EqualValues(t, 1, model.calls.Load())

	cache, err := caches.GetCache(ctx, "group/proj", 7)
	require.NoError(t, err)
	require.Len(t, cache.Fingerprints, 1)

	// Second run over the unchanged MR makes no model calls at all.
	posted, err = engine.ReviewMergeRequest(ctx, 12, "group/proj", 7)
	require.NoError(t, err)
	require.Zero(t, posted)
	require.EqualValues(t, 1, model.calls.Load())
}

func TestFullyCachedRunRefreshesLastUpdated(t *testing.T) {
	engine, model, _, caches := newEngineFixture(t, `{"thinking": "fine", "violations": []}`)
	ctx := context.Background()

	_, err := engine.ReviewMergeRequest(ctx, 12, "group/proj", 7)
	require.NoError(t, err)
	first, err := caches.GetCache(ctx, "group/proj", 7)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)

	// Every unit is a cache hit, so the model is not called again, but the
	// run still rewrites the cache and the store restamps lastUpdated.
	_, err = engine.ReviewMergeRequest(ctx, 12, "group/proj", 7)
	require.NoError(t, err)
	second, err := caches.GetCache(ctx, "group/proj", 7)
	require.NoError(t, err)

	require.EqualValues(t, 1, model.calls.Load())
	require.Equal(t, first.Fingerprints, second.Fingerprints)
	require.Greater(t, second.LastUpdated, first.LastUpdated)
}

func TestViolationPostsAnchoredCommentOnce(t *testing.T) {
	response := `{"thinking": "found it", "violations": [{"lineNumber": 2, "comment": "remove the debug print"}]}`
	engine, model, source, caches := newEngineFixture(t, response)
	ctx := context.Background()

	posted, err := engine.ReviewMergeRequest(ctx, 12, "group/proj", 7)
	require.NoError(t, err)
	require.Equal(t, 1, posted)
	require.Len(t, source.posted, 1)
	require.Contains(t, source.posted[0], "bot-review-id: rule=no-debug-prints, file=main.go")
	require.Contains(t, source.posted[0], "remove the debug print")
	require.NotNil(t, source.positions[0])
	require.Equal(t, "head", source.positions[0].HeadSha)
	require.Equal(t, 2, source.positions[0].NewLine)

	// Violating units are never cached clean.
	cache, err := caches.GetCache(ctx, "group/proj", 7)
	require.NoError(t, err)
	require.Empty(t, cache.Fingerprints)

	// The model runs again but the existing identifier suppresses a repost.
	posted, err = engine.ReviewMergeRequest(ctx, 12, "group/proj", 7)
	require.NoError(t, err)
	require.Zero(t, posted)
	require.Len(t, source.posted, 1)
	require.EqualValues(t, 2, model.calls.Load())
}

func TestViolationWithoutDiffRefsPostsUnanchored(t *testing.T) {
	response := `{"thinking": "", "violations": [{"lineNumber": 2, "comment": "remove"}]}`
	engine, _, source, _ := newEngineFixture(t, response)
	source.mr.DiffRefs = nil

	posted, err := engine.ReviewMergeRequest(context.Background(), 12, "group/proj", 7)
	require.NoError(t, err)
	require.Equal(t, 1, posted)
	require.Nil(t, source.positions[0])
}

func TestInvalidResponseSkipsUnitWithoutCaching(t *testing.T) {
	engine, model, source, caches := newEngineFixture(t, "the model rambles with no JSON")
	ctx := context.Background()

	posted, err := engine.ReviewMergeRequest(ctx, 12, "group/proj", 7)
	require.NoError(t, err)
	require.Zero(t, posted)
	require.Empty(t, source.posted)
	require.EqualValues(t, 1, model.calls.Load())

	cache, err := caches.GetCache(ctx, "group/proj", 7)
	require.NoError(t, err)
	require.Empty(t, cache.Fingerprints)
}

func TestInapplicableRuleProducesNoUnits(t *testing.T) {
	engine, model, source, _ := newEngineFixture(t, `{"thinking": "", "violations": []}`)
	source.diffs = []scm.Diff{{OldPath: "a.py", NewPath: "a.py", Diff: engineDiff}}

	posted, err := engine.ReviewMergeRequest(context.Background(), 12, "group/proj", 7)
	require.NoError(t, err)
	require.Zero(t, posted)
	require.Zero(t, model.calls.Load())
}
