// Package bedrock adapts the AWS Bedrock Converse API to the llm.Llm
// interface. It splits system messages from the conversation, maps inference
// parameters onto the Converse InferenceConfiguration, and classifies
// throttling responses as retryable.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/typedai/typedai/llm"
)

const (
	defaultMaxInputTokens  = 200_000
	defaultMaxOutputTokens = 8_192
	minThinkingBudget      = 1_024
)

type (
	// RuntimeClient is the subset of the AWS Bedrock runtime client the
	// adapter uses. *bedrockruntime.Client satisfies it; tests pass a mock.
	RuntimeClient interface {
		Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	}

	// Options configures the adapter.
	Options struct {
		// Model is the Bedrock model identifier. Required.
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

	// Client implements llm.Llm on the Bedrock Converse API.
	Client struct {
		runtime   RuntimeClient
		model     string
		maxInput  int
		maxOutput int
		inCost    float64
		outCost   float64
	}
)

// New builds the adapter on the given runtime client. A nil runtime leaves the
// client constructible but unconfigured so the composite can probe
// IsConfigured.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if opts.Model == "" {
		return nil, errors.New("bedrock: model identifier is required")
	}
	maxInput := opts.MaxInputTokens
	if maxInput <= 0 {
		maxInput = defaultMaxInputTokens
	}
	maxOutput := opts.MaxOutputTokens
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputTokens
	}
	return &Client{
		runtime:   runtime,
		model:     opts.Model,
		maxInput:  maxInput,
		maxOutput: maxOutput,
		inCost:    opts.InputCostPerMTok,
		outCost:   opts.OutputCostPerMTok,
	}, nil
}

// Generate implements llm.Llm.
func (c *Client) Generate(ctx context.Context, messages []llm.Message, opts llm.GenerateOptions) (llm.Message, error) {
	if c.runtime == nil {
		return llm.Message{}, errors.New("bedrock: not configured (runtime client missing)")
	}
	input, err := c.encodeRequest(messages, opts)
	if err != nil {
		return llm.Message{}, err
	}
	start := time.Now()
	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		if isThrottled(err) {
			return llm.Message{}, llm.Retryable(fmt.Errorf("bedrock converse: %w", err))
		}
		return llm.Message{}, fmt.Errorf("bedrock converse: %w", err)
	}
	out := c.decodeResponse(output, start)
	if output.StopReason == brtypes.StopReasonMaxTokens {
		return llm.Message{}, &llm.MaxTokensError{Partial: out}
	}
	return out, nil
}

// IsConfigured implements llm.Llm.
func (c *Client) IsConfigured() bool { return c.runtime != nil }

// GetMaxInputTokens implements llm.Llm.
func (c *Client) GetMaxInputTokens() int { return c.maxInput }

// GetID implements llm.Llm.
func (c *Client) GetID() string { return "bedrock:" + c.model }

func (c *Client) encodeRequest(messages []llm.Message, opts llm.GenerateOptions) (*bedrockruntime.ConverseInput, error) {
	if len(messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}

	var system []brtypes.SystemContentBlock
	var conversation []brtypes.Message
	for _, m := range messages {
		text := m.Text()
		if text == "" {
			continue
		}
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: text})
		case llm.RoleUser, llm.RoleTool:
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
			})
		case llm.RoleAssistant:
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
			})
		default:
			return nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, errors.New("bedrock: at least one user/assistant message is required")
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxOutput
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.model),
		Messages: conversation,
	}
	if len(system) > 0 {
		input.System = system
	}
	cfg := brtypes.InferenceConfiguration{
		MaxTokens: aws.Int32(int32(maxTokens)),
	}
	if opts.Temperature > 0 {
		cfg.Temperature = aws.Float32(float32(opts.Temperature))
	}
	if opts.TopP > 0 {
		cfg.TopP = aws.Float32(float32(opts.TopP))
	}
	if len(opts.StopSequences) > 0 {
		cfg.StopSequences = opts.StopSequences
	}
	input.InferenceConfig = &cfg
	if opts.Thinking != "" {
		fields := map[string]any{
			"thinking": map[string]any{
				"type":          "enabled",
				"budget_tokens": thinkingBudget(opts.Thinking, maxTokens),
			},
		}
		input.AdditionalModelRequestFields = document.NewLazyDocument(&fields)
	}
	return input, nil
}

// thinkingBudget maps the normalized thinking level to a token budget that
// stays below the completion cap and above the provider minimum.
func thinkingBudget(level llm.ThinkingLevel, maxTokens int) int {
	var fraction float64
	switch level {
	case llm.ThinkingHigh:
		fraction = 0.8
	case llm.ThinkingMedium:
		fraction = 0.5
	default:
		fraction = 0.25
	}
	budget := int(float64(maxTokens) * fraction)
	if budget < minThinkingBudget {
		budget = minThinkingBudget
	}
	if budget >= maxTokens {
		budget = maxTokens - 1
	}
	return budget
}

func (c *Client) decodeResponse(output *bedrockruntime.ConverseOutput, start time.Time) llm.Message {
	var parts []llm.Part
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				if v.Value != "" {
					parts = append(parts, llm.Part{Kind: llm.PartText, Text: v.Value})
				}
			case *brtypes.ContentBlockMemberReasoningContent:
				switch r := v.Value.(type) {
				case *brtypes.ReasoningContentBlockMemberReasoningText:
					if r.Value.Text != nil && *r.Value.Text != "" {
						parts = append(parts, llm.Part{Kind: llm.PartReasoning, Text: *r.Value.Text})
					}
				case *brtypes.ReasoningContentBlockMemberRedactedContent:
					parts = append(parts, llm.Part{Kind: llm.PartRedactedReasoning})
				}
			}
		}
	}
	var in, out int
	if usage := output.Usage; usage != nil {
		in = int(aws.ToInt32(usage.InputTokens))
		out = int(aws.ToInt32(usage.OutputTokens))
	}
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

// isThrottled reports whether err is a provider throttling condition: either
// a ThrottlingException-style error code or an HTTP 429 response.
func isThrottled(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "ServiceUnavailableException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		return code == 429 || code >= 500
	}
	return false
}
