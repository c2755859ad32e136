// Package anthropic adapts the Anthropic Claude Messages API to the llm.Llm
// interface. It translates the normalized chat messages into Messages API
// params, maps usage and stop reasons back, and classifies rate-limit and
// overload responses as retryable.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/typedai/typedai/llm"
)

const (
	defaultMaxInputTokens  = 200_000
	defaultMaxOutputTokens = 8_192
)

type (
	// MessagesClient is the subset of the SDK client the adapter uses, a seam
	// for tests.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	}

	// Options configures the adapter.
	Options struct {
		// APIKey defaults to ANTHROPIC_API_KEY.
		APIKey string
		// Model is the Claude model identifier. Required.
		Model string
		// MaxInputTokens defaults to the Claude context window.
		MaxInputTokens int
		// MaxOutputTokens caps completions when a call does not set MaxTokens.
		MaxOutputTokens int
		// InputCostPerMTok and OutputCostPerMTok price the call in dollars per
		// million tokens. Zero disables cost accounting.
		InputCostPerMTok  float64
		OutputCostPerMTok float64
	}

	// Client implements llm.Llm on the Anthropic Messages API.
	Client struct {
		msg        MessagesClient
		model      string
		configured bool
		maxInput   int
		maxOutput  int
		inCost     float64
		outCost    float64
	}
)

// New builds the adapter. The client stays constructible without an API key
// so the composite can probe IsConfigured.
func New(opts Options) (*Client, error) {
	if opts.Model == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	var msg MessagesClient
	if apiKey != "" {
		ac := sdk.NewClient(option.WithAPIKey(apiKey))
		msg = &ac.Messages
	}
	return newClient(msg, opts, apiKey != ""), nil
}

// NewWithMessages builds the adapter on an explicit Messages client; tests
// pass a mock.
func NewWithMessages(msg MessagesClient, opts Options) (*Client, error) {
	if opts.Model == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}
	return newClient(msg, opts, msg != nil), nil
}

func newClient(msg MessagesClient, opts Options, configured bool) *Client {
	maxInput := opts.MaxInputTokens
	if maxInput <= 0 {
		maxInput = defaultMaxInputTokens
	}
	maxOutput := opts.MaxOutputTokens
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputTokens
	}
	return &Client{
		msg:        msg,
		model:      opts.Model,
		configured: configured,
		maxInput:   maxInput,
		maxOutput:  maxOutput,
		inCost:     opts.InputCostPerMTok,
		outCost:    opts.OutputCostPerMTok,
	}
}

// Generate implements llm.Llm.
func (c *Client) Generate(ctx context.Context, messages []llm.Message, opts llm.GenerateOptions) (llm.Message, error) {
	if !c.configured {
		return llm.Message{}, errors.New("anthropic: not configured (set ANTHROPIC_API_KEY)")
	}
	params, err := c.encodeRequest(messages, opts)
	if err != nil {
		return llm.Message{}, err
	}
	start := time.Now()
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		if isTransient(err) {
			return llm.Message{}, llm.Retryable(fmt.Errorf("anthropic messages.new: %w", err))
		}
		return llm.Message{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	out := c.decodeResponse(msg, start)
	if string(msg.StopReason) == "max_tokens" {
		return llm.Message{}, &llm.MaxTokensError{Partial: out}
	}
	return out, nil
}

// IsConfigured implements llm.Llm.
func (c *Client) IsConfigured() bool { return c.configured }

// GetMaxInputTokens implements llm.Llm.
func (c *Client) GetMaxInputTokens() int { return c.maxInput }

// GetID implements llm.Llm.
func (c *Client) GetID() string { return "anthropic:" + c.model }

func (c *Client) encodeRequest(messages []llm.Message, opts llm.GenerateOptions) (*sdk.MessageNewParams, error) {
	if len(messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	opts = llm.ClampTopK(opts)

	var system []sdk.TextBlockParam
	var conversation []sdk.MessageParam
	for _, m := range messages {
		text := m.Text()
		if text == "" {
			continue
		}
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: text})
		case llm.RoleUser, llm.RoleTool:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(text)))
		case llm.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(text)))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, errors.New("anthropic: at least one user/assistant message is required")
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxOutput
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}
	if opts.Temperature > 0 {
		params.Temperature = sdk.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = sdk.Float(opts.TopP)
	}
	if opts.TopK > 0 {
		params.TopK = sdk.Int(int64(opts.TopK))
	}
	if len(opts.StopSequences) > 0 {
		params.StopSequences = opts.StopSequences
	}
	if opts.Thinking != "" {
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(thinkingBudget(opts.Thinking, maxTokens))
	}
	return &params, nil
}

// thinkingBudget maps the normalized thinking level to a token budget that
// stays below the completion cap and above the API minimum of 1024.
func thinkingBudget(level llm.ThinkingLevel, maxTokens int) int64 {
	var fraction float64
	switch level {
	case llm.ThinkingHigh:
		fraction = 0.8
	case llm.ThinkingMedium:
		fraction = 0.5
	default:
		fraction = 0.25
	}
	budget := int64(float64(maxTokens) * fraction)
	if budget < 1024 {
		budget = 1024
	}
	if budget >= int64(maxTokens) {
		budget = int64(maxTokens) - 1
	}
	return budget
}

func (c *Client) decodeResponse(msg *sdk.Message, start time.Time) llm.Message {
	var parts []llm.Part
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				parts = append(parts, llm.Part{Kind: llm.PartText, Text: block.Text})
			}
		case "thinking":
			if block.Thinking != "" {
				parts = append(parts, llm.Part{Kind: llm.PartReasoning, Text: block.Thinking})
			}
		case "redacted_thinking":
			parts = append(parts, llm.Part{Kind: llm.PartRedactedReasoning})
		}
	}
	in := int(msg.Usage.InputTokens)
	out := int(msg.Usage.OutputTokens)
	return llm.Message{
		Role:  llm.RoleAssistant,
		Parts: parts,
		Stats: &llm.CallStats{
			RequestTime:  start,
			TotalTime:    time.Since(start),
			InputTokens:  in,
			OutputTokens: out,
			Cost:         c.cost(in, out),
			LlmID:        c.GetID(),
		},
	}
}

func (c *Client) cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*c.inCost/1e6 + float64(outputTokens)*c.outCost/1e6
}

// isTransient classifies rate limits (429), overload (529) and server errors
// as retryable.
func isTransient(err error) bool {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == 429 || apierr.StatusCode >= 500
	}
	// Transport-level failures are worth a retry.
	return true
}
