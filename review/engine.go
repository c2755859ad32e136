package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/typedai/typedai/llm"
	"github.com/typedai/typedai/llmcall"
	"github.com/typedai/typedai/scm"
	"github.com/typedai/typedai/telemetry"
)

// contextRadius is the number of code lines on each side of a violation that
// feed the context hash.
const contextRadius = 3

// defaultConcurrency bounds parallel unit LLM calls.
const defaultConcurrency = 5

type (
	// EngineOptions configures the review engine.
	EngineOptions struct {
		// Llm serves the unit review calls.
		Llm llm.Llm
		// Configs supplies the enabled review rules.
		Configs ConfigStore
		// Cache persists per-MR fingerprints of clean units.
		Cache CacheStore
		// Scm provides merge-request diffs, discussions and comment posting.
		Scm scm.MergeRequestReviewer
		// Calls, when set, records every unit LLM call.
		Calls llmcall.Store
		// BotUserID limits identifier scanning to the bot's own notes. Zero
		// scans every note.
		BotUserID int64
		// Concurrency bounds parallel unit LLM calls. Zero uses the default.
		Concurrency int
		// Logger and Tracer default to no-ops.
		Logger telemetry.Logger
		Tracer telemetry.Tracer
	}

	// Engine reviews merge requests against the configured rules.
	Engine struct {
		llm         llm.Llm
		configs     ConfigStore
		cache       CacheStore
		scm         scm.MergeRequestReviewer
		calls       llmcall.Store
		botUserID   int64
		concurrency int
		logger      telemetry.Logger
		tracer      telemetry.Tracer
	}

	// unit is one (diff file, rule) pair that passed applicability checks.
	unit struct {
		cfg              Config
		diff             scm.Diff
		lines            []NumberedLine
		codeWithLines    string
		codeWithoutLines string
		fingerprint      string
	}
)

// NewEngine validates opts and returns a review engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Llm == nil {
		return nil, errors.New("review: llm is required")
	}
	if opts.Configs == nil {
		return nil, errors.New("review: config store is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("review: cache store is required")
	}
	if opts.Scm == nil {
		return nil, errors.New("review: scm is required")
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Engine{
		llm:         opts.Llm,
		configs:     opts.Configs,
		cache:       opts.Cache,
		scm:         opts.Scm,
		calls:       opts.Calls,
		botUserID:   opts.BotUserID,
		concurrency: concurrency,
		logger:      logger,
		tracer:      tracer,
	}, nil
}

// ReviewMergeRequest runs the full review pipeline for one merge request and
// returns the number of comments posted. Unit-level failures (unparseable
// diffs, model errors, malformed responses) are logged and skipped; only
// infrastructure failures abort the run.
func (e *Engine) ReviewMergeRequest(ctx context.Context, projectID int64, projectPath string, mrIID int64) (int, error) {
	posted := 0
	err := telemetry.WithSpan(ctx, e.tracer, "review.merge_request", func(ctx context.Context) error {
		mr, err := e.scm.GetMergeRequest(ctx, projectID, mrIID)
		if err != nil {
			return err
		}
		diffs, err := e.scm.GetMergeRequestDiffs(ctx, projectID, mrIID)
		if err != nil {
			return err
		}
		discussions, err := e.scm.ListMergeRequestDiscussions(ctx, projectID, mrIID)
		if err != nil {
			return err
		}
		cache, err := e.cache.GetCache(ctx, projectPath, mrIID)
		if err != nil {
			return err
		}
		configs, err := e.configs.ListConfigs(ctx)
		if err != nil {
			return err
		}

		existing := ExistingIdentifiers(discussions, e.botUserID)
		units := e.enumerateUnits(ctx, configs, diffs, projectPath, mrIID)

		var pending []unit
		for _, u := range units {
			if cache.Has(u.fingerprint) {
				continue
			}
			pending = append(pending, u)
		}
		e.logger.Info(ctx, "review units enumerated",
			"project", projectPath, "mrIid", mrIID,
			"units", len(units), "cached", len(units)-len(pending))

		// Unit calls run in parallel; result handling below stays serial so
		// cache and comment mutation are race-free.
		results := make([]*Result, len(pending))
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(e.concurrency)
		for i, u := range pending {
			group.Go(func() error {
				results[i] = e.reviewUnit(groupCtx, u)
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return err
		}

		working := cache.Clone()
		for i, u := range pending {
			result := results[i]
			if result == nil {
				continue
			}
			if len(result.Violations) == 0 {
				working.Add(u.fingerprint)
				continue
			}
			for _, v := range result.Violations {
				hash := ContextHash(u.cfg.ID, u.diff.NewPath, v.LineNumber,
					ContextAround(u.lines, v.LineNumber, contextRadius))
				identifier := ViolationIdentifier(u.cfg.ID, u.diff.NewPath, hash)
				if _, ok := existing[identifier]; ok {
					continue
				}
				var position *scm.Position
				if mr.DiffRefs != nil {
					position = &scm.Position{
						BaseSha:  mr.DiffRefs.BaseSha,
						HeadSha:  mr.DiffRefs.HeadSha,
						StartSha: mr.DiffRefs.StartSha,
						OldPath:  u.diff.OldPath,
						NewPath:  u.diff.NewPath,
						NewLine:  v.LineNumber,
					}
				}
				body := CommentBody(identifier, v.Comment)
				if err := e.scm.CreateMergeRequestDiscussion(ctx, projectID, mrIID, body, position); err != nil {
					return fmt.Errorf("review: post comment on %s:%d: %w", u.diff.NewPath, v.LineNumber, err)
				}
				existing[identifier] = struct{}{}
				posted++
			}
		}

		// The write doubles as the freshness stamp: the store sets lastUpdated
		// on every update, so even a fully cached run refreshes it.
		if len(units) > 0 {
			if err := e.cache.UpdateCache(ctx, projectPath, mrIID, working); err != nil {
				return err
			}
		}
		return nil
	})
	return posted, err
}

// enumerateUnits builds the (diff x rule) units that pass every applicability
// check. Unparseable diffs fail their units with a logged error.
func (e *Engine) enumerateUnits(ctx context.Context, configs []Config, diffs []scm.Diff, projectPath string, mrIID int64) []unit {
	var out []unit
	for _, d := range diffs {
		if d.DeletedFile {
			continue
		}
		var lines []NumberedLine
		prepared := false
		for _, cfg := range configs {
			if !cfg.Enabled ||
				!cfg.AppliesToProject(projectPath) ||
				!cfg.AppliesToFile(d.NewPath) ||
				!cfg.RequiresText(d.Diff) {
				continue
			}
			if !prepared {
				var err error
				lines, err = PrepareDiff(d.Diff)
				if err != nil {
					e.logger.Error(ctx, "skipping diff with unparseable hunks", "file", d.NewPath, "error", err.Error())
					lines = nil
				}
				prepared = true
			}
			if len(lines) == 0 {
				continue
			}
			withLines := RenderWithLines(lines, d.NewPath)
			withoutLines := RenderWithoutLines(lines)
			out = append(out, unit{
				cfg:              cfg,
				diff:             d,
				lines:            lines,
				codeWithLines:    withLines,
				codeWithoutLines: withoutLines,
				fingerprint: UnitFingerprint(projectPath, mrIID, d.NewPath,
					cfg.ID, cfg.Version, withoutLines),
			})
		}
	}
	return out
}

// reviewUnit runs one unit LLM call and parses the response. Failures return
// nil so the unit is skipped without a cache write.
func (e *Engine) reviewUnit(ctx context.Context, u unit) *Result {
	messages := BuildPrompt(u.cfg, u.codeWithLines)
	callID := uuid.NewString()
	if e.calls != nil {
		call := llmcall.NewCall(callID, messages, e.llm.GetID(), "code-review")
		if err := e.calls.SaveRequest(ctx, call); err != nil {
			e.logger.Warn(ctx, "failed to record review call request",
				"rule", u.cfg.ID, "file", u.diff.NewPath, "error", err.Error())
		}
	}
	start := time.Now()
	response, err := e.llm.Generate(ctx, messages, llm.GenerateOptions{
		ID:          "review-" + u.cfg.ID,
		Temperature: 0.2,
	})
	if err != nil {
		e.logger.Error(ctx, "review unit call failed", "rule", u.cfg.ID, "file", u.diff.NewPath, "error", err.Error())
		return nil
	}
	if e.calls != nil {
		call := llmcall.NewCall(callID, append(messages, response), e.llm.GetID(), "code-review")
		call.TotalTime = time.Since(start).Milliseconds()
		if response.Stats != nil {
			call.Cost = response.Stats.Cost
			call.InputTokens = response.Stats.InputTokens
			call.OutputTokens = response.Stats.OutputTokens
		}
		if err := e.calls.SaveResponse(ctx, call); err != nil {
			e.logger.Warn(ctx, "failed to record review call response",
				"rule", u.cfg.ID, "file", u.diff.NewPath, "error", err.Error())
		}
	}
	result := ParseResult(response.Text())
	if result == nil {
		e.logger.Warn(ctx, "review response had invalid shape, unit skipped",
			"rule", u.cfg.ID, "file", u.diff.NewPath)
	}
	return result
}
