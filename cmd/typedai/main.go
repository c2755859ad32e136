// Command typedai runs the agent runtime and the merge-request reviewer from
// the command line: start and resume agents, inspect and delete them, and
// review merge requests against the configured rules.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"github.com/typedai/typedai/agent"
	"github.com/typedai/typedai/config"
	"github.com/typedai/typedai/llm"
	"github.com/typedai/typedai/llm/anthropic"
	"github.com/typedai/typedai/llm/middleware"
	"github.com/typedai/typedai/llm/openaicompat"
	"github.com/typedai/typedai/llmcall"
	"github.com/typedai/typedai/review"
	fsstore "github.com/typedai/typedai/store/firestore"
	memstore "github.com/typedai/typedai/store/memory"
	mongostore "github.com/typedai/typedai/store/mongo"
	"github.com/typedai/typedai/telemetry"
	"github.com/typedai/typedai/tokenizer"
	"github.com/typedai/typedai/user"
)

func main() {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if os.Getenv("TYPEDAI_DEBUG") != "" {
		ctx = log.Context(ctx, log.WithDebug())
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		log.Error(ctx, err)
		stop()
		os.Exit(1)
	}
}

// app holds the booted runtime: configuration, telemetry and the persistence
// adapters selected by DATABASE. Commands share one app per invocation.
type app struct {
	cfg    *config.Config
	logger telemetry.Logger
	tracer telemetry.Tracer

	sole          user.User
	agents        agent.Store
	calls         llmcall.Store
	reviewConfigs review.ConfigStore
	reviewCache   review.CacheStore

	closers []func()
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "typedai",
		Short:         "Autonomous agent runtime and merge-request reviewer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.boot(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) { a.close() },
	}
	root.AddCommand(newAgentCmd(a), newReviewCmd(a), newFunctionsCmd())
	return root
}

// boot loads the configuration, opens the selected persistence backend and
// installs the single-user service.
func (a *app) boot(ctx context.Context) error {
	a.cfg = config.Load()
	a.logger = telemetry.NewClueLogger()
	a.tracer = telemetry.NewOtelTracer()

	svc := user.NewSingleUserService(user.User{
		ID:    os.Getenv("SINGLE_USER_ID"),
		Name:  os.Getenv("SINGLE_USER_NAME"),
		Email: os.Getenv("SINGLE_USER_EMAIL"),
	})
	if a.cfg.SingleUser() {
		agent.SetSingleUserService(svc)
	}
	a.sole, _ = svc.SingleUser()

	switch a.cfg.Database {
	case config.DatabaseMemory:
		a.agents = memstore.NewAgentStore(a.logger)
		a.calls = memstore.NewLlmCallStore(a.logger)
		a.reviewConfigs = memstore.NewReviewConfigStore()
		a.reviewCache = memstore.NewReviewCacheStore()
	case config.DatabaseFirestore:
		client, err := fsstore.NewClient(ctx, fsstore.Options{
			Project:  a.cfg.GCloudProject,
			Database: a.cfg.FirestoreDatabase,
			Logger:   a.logger,
		})
		if err != nil {
			return err
		}
		a.agents = fsstore.NewAgentStore(client)
		a.calls = fsstore.NewLlmCallStore(client)
		a.reviewConfigs = fsstore.NewReviewConfigStore(client)
		a.reviewCache = fsstore.NewReviewCacheStore(client)
		a.closers = append(a.closers, func() { _ = client.Close() })
	case config.DatabaseMongo:
		client, err := mongostore.NewClient(ctx, mongostore.Options{
			URI:      a.cfg.MongoURI,
			Database: a.cfg.MongoDatabase,
			Logger:   a.logger,
		})
		if err != nil {
			return err
		}
		a.agents = mongostore.NewAgentStore(client)
		a.calls = mongostore.NewLlmCallStore(client)
		a.reviewConfigs = mongostore.NewReviewConfigStore(client)
		a.reviewCache = mongostore.NewReviewCacheStore(client)
		a.closers = append(a.closers, func() { _ = client.Close(context.Background()) })
	default:
		return fmt.Errorf("typedai: unknown DATABASE %q", a.cfg.Database)
	}
	return nil
}

func (a *app) close() {
	for _, fn := range a.closers {
		fn()
	}
	a.closers = nil
}

// buildModel assembles the planning LLM: every provider with a credential in
// the environment joins the fallback chain, in preference order. When
// REDIS_ADDR and LLM_TPM are set the chain is wrapped in the adaptive
// rate limiter so concurrent processes share one token budget.
func (a *app) buildModel(ctx context.Context) (llm.Llm, error) {
	claude, err := anthropic.New(anthropic.Options{
		Model:             envOr("ANTHROPIC_MODEL", "claude-sonnet-4-0"),
		InputCostPerMTok:  3,
		OutputCostPerMTok: 15,
	})
	if err != nil {
		return nil, err
	}
	gpt, err := openaicompat.New(openaicompat.Options{
		Provider:          openaicompat.OpenAI,
		Model:             envOr("OPENAI_MODEL", "gpt-4o"),
		InputCostPerMTok:  2.5,
		OutputCostPerMTok: 10,
	})
	if err != nil {
		return nil, err
	}
	deepseek, err := openaicompat.New(openaicompat.Options{
		Provider:          openaicompat.DeepSeek,
		Model:             envOr("DEEPSEEK_MODEL", "deepseek-chat"),
		InputCostPerMTok:  0.27,
		OutputCostPerMTok: 1.1,
	})
	if err != nil {
		return nil, err
	}
	groq, err := openaicompat.New(openaicompat.Options{
		Provider:          openaicompat.Groq,
		Model:             envOr("GROQ_MODEL", "llama-3.3-70b-versatile"),
		InputCostPerMTok:  0.59,
		OutputCostPerMTok: 0.79,
	})
	if err != nil {
		return nil, err
	}

	// The fallback skips unconfigured providers at call time; boot only needs
	// one of them to carry a credential.
	providers := []llm.Llm{claude, gpt, deepseek, groq}
	configured := false
	for _, p := range providers {
		if p.IsConfigured() {
			configured = true
			break
		}
	}
	if !configured {
		return nil, errors.New("typedai: no LLM provider is configured (set ANTHROPIC_API_KEY, OPENAI_API_KEY, DEEPSEEK_API_KEY or GROQ_API_KEY)")
	}
	model, err := llm.NewFallback("default", tokenizer.New(), a.logger, providers...)
	if err != nil {
		return nil, err
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		tpm, err := strconv.ParseFloat(os.Getenv("LLM_TPM"), 64)
		if err == nil && tpm > 0 {
			rdb := redis.NewClient(&redis.Options{Addr: addr})
			limiter := middleware.NewAdaptiveRateLimiter(ctx, rdb, "llm:tpm:default", tpm, 2*tpm)
			return limiter.Middleware()(model), nil
		}
	}
	return model, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
