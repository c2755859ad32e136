// Package openaicompat adapts OpenAI-compatible chat-completion APIs to the
// llm.Llm interface. A single adapter serves OpenAI itself plus the providers
// that speak the same wire protocol behind a different base URL (Perplexity,
// DeepSeek, Groq, SambaNova, OpenRouter); Provider presets pick the base URL
// and credential environment variable.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/typedai/typedai/llm"
)

// Provider names an OpenAI-compatible API endpoint.
type Provider string

const (
	OpenAI     Provider = "openai"
	Perplexity Provider = "perplexity"
	DeepSeek   Provider = "deepseek"
	Groq       Provider = "groq"
	SambaNova  Provider = "sambanova"
	OpenRouter Provider = "openrouter"
)

type preset struct {
	baseURL string
	keyEnv  string
}

var presets = map[Provider]preset{
	OpenAI:     {baseURL: "", keyEnv: "OPENAI_API_KEY"},
	Perplexity: {baseURL: "https://api.perplexity.ai", keyEnv: "PERPLEXITY_KEY"},
	DeepSeek:   {baseURL: "https://api.deepseek.com", keyEnv: "DEEPSEEK_API_KEY"},
	Groq:       {baseURL: "https://api.groq.com/openai/v1", keyEnv: "GROQ_API_KEY"},
	SambaNova:  {baseURL: "https://api.sambanova.ai/v1", keyEnv: "SAMBANOVA_API_KEY"},
	OpenRouter: {baseURL: "https://openrouter.ai/api/v1", keyEnv: "OPENROUTER_API_KEY"},
}

const (
	defaultMaxInputTokens  = 128_000
	defaultMaxOutputTokens = 4_096
)

type (
	// ChatClient is the subset of the SDK client the adapter uses, a seam for
	// tests.
	ChatClient interface {
		New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	}

	// Options configures the adapter.
	Options struct {
		// Provider selects the endpoint preset. Defaults to OpenAI.
		Provider Provider
		// APIKey defaults to the provider's credential environment variable.
		APIKey string
		// BaseURL overrides the preset endpoint.
		BaseURL string
		// Model is the provider's model identifier. Required.
		Model string
		// MaxInputTokens defaults to a common 128k context window.
		MaxInputTokens int
		// MaxOutputTokens caps completions when a call does not set MaxTokens.
		MaxOutputTokens int
		// InputCostPerMTok and OutputCostPerMTok price the call in dollars per
		// million tokens. Zero disables cost accounting.
		InputCostPerMTok  float64
		OutputCostPerMTok float64
	}

	// Client implements llm.Llm on an OpenAI-compatible chat completion API.
	Client struct {
		chat       ChatClient
		provider   Provider
		model      string
		configured bool
		maxInput   int
		maxOutput  int
		inCost     float64
		outCost    float64
	}
)

// New builds the adapter. The client stays constructible without an API key so
// the composite can probe IsConfigured.
func New(opts Options) (*Client, error) {
	if opts.Model == "" {
		return nil, errors.New("openaicompat: model identifier is required")
	}
	provider := opts.Provider
	if provider == "" {
		provider = OpenAI
	}
	ep, ok := presets[provider]
	if !ok {
		return nil, fmt.Errorf("openaicompat: unknown provider %q", provider)
	}
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(ep.keyEnv)
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = ep.baseURL
	}
	var chat ChatClient
	if apiKey != "" {
		ropts := []option.RequestOption{option.WithAPIKey(apiKey)}
		if baseURL != "" {
			ropts = append(ropts, option.WithBaseURL(baseURL))
		}
		oc := openai.NewClient(ropts...)
		chat = &oc.Chat.Completions
	}
	return newClient(chat, provider, opts, apiKey != ""), nil
}

// NewWithChat builds the adapter on an explicit chat client; tests pass a mock.
func NewWithChat(chat ChatClient, opts Options) (*Client, error) {
	if opts.Model == "" {
		return nil, errors.New("openaicompat: model identifier is required")
	}
	provider := opts.Provider
	if provider == "" {
		provider = OpenAI
	}
	return newClient(chat, provider, opts, chat != nil), nil
}

// KeyEnvVar returns the environment variable holding the provider's API key.
// Unknown providers return the empty string.
func KeyEnvVar(provider Provider) string {
	return presets[provider].keyEnv
}

func newClient(chat ChatClient, provider Provider, opts Options, configured bool) *Client {
	maxInput := opts.MaxInputTokens
	if maxInput <= 0 {
		maxInput = defaultMaxInputTokens
	}
	maxOutput := opts.MaxOutputTokens
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputTokens
	}
	return &Client{
		chat:       chat,
		provider:   provider,
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
		return llm.Message{}, fmt.Errorf("openaicompat: %s not configured (set %s)", c.provider, KeyEnvVar(c.provider))
	}
	params, err := c.encodeRequest(messages, opts)
	if err != nil {
		return llm.Message{}, err
	}
	start := time.Now()
	completion, err := c.chat.New(ctx, *params)
	if err != nil {
		if isTransient(err) {
			return llm.Message{}, llm.Retryable(fmt.Errorf("openaicompat %s chat.completions: %w", c.provider, err))
		}
		return llm.Message{}, fmt.Errorf("openaicompat %s chat.completions: %w", c.provider, err)
	}
	if len(completion.Choices) == 0 {
		return llm.Message{}, fmt.Errorf("openaicompat %s: response had no choices", c.provider)
	}
	out := c.decodeResponse(completion, start)
	if completion.Choices[0].FinishReason == "length" {
		return llm.Message{}, &llm.MaxTokensError{Partial: out}
	}
	return out, nil
}

// IsConfigured implements llm.Llm.
func (c *Client) IsConfigured() bool { return c.configured }

// GetMaxInputTokens implements llm.Llm.
func (c *Client) GetMaxInputTokens() int { return c.maxInput }

// GetID implements llm.Llm.
func (c *Client) GetID() string { return string(c.provider) + ":" + c.model }

func (c *Client) encodeRequest(messages []llm.Message, opts llm.GenerateOptions) (*openai.ChatCompletionNewParams, error) {
	if len(messages) == 0 {
		return nil, errors.New("openaicompat: messages are required")
	}

	var conversation []openai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		text := m.Text()
		if text == "" {
			continue
		}
		switch m.Role {
		case llm.RoleSystem:
			conversation = append(conversation, openai.SystemMessage(text))
		case llm.RoleUser, llm.RoleTool:
			conversation = append(conversation, openai.UserMessage(text))
		case llm.RoleAssistant:
			conversation = append(conversation, openai.AssistantMessage(text))
		default:
			return nil, fmt.Errorf("openaicompat: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, errors.New("openaicompat: at least one non-empty message is required")
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxOutput
	}
	params := openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(c.model),
		Messages:            conversation,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = openai.Float(opts.TopP)
	}
	if opts.FrequencyPenalty != 0 {
		params.FrequencyPenalty = openai.Float(opts.FrequencyPenalty)
	}
	if opts.PresencePenalty != 0 {
		params.PresencePenalty = openai.Float(opts.PresencePenalty)
	}
	if len(opts.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: opts.StopSequences}
	}
	if opts.Thinking != "" {
		params.ReasoningEffort = reasoningEffort(opts.Thinking)
	}
	return &params, nil
}

// reasoningEffort maps the normalized thinking level to the reasoning_effort
// parameter used by reasoning-capable models.
func reasoningEffort(level llm.ThinkingLevel) shared.ReasoningEffort {
	switch level {
	case llm.ThinkingHigh:
		return shared.ReasoningEffortHigh
	case llm.ThinkingMedium:
		return shared.ReasoningEffortMedium
	default:
		return shared.ReasoningEffortLow
	}
}

func (c *Client) decodeResponse(completion *openai.ChatCompletion, start time.Time) llm.Message {
	in := int(completion.Usage.PromptTokens)
	out := int(completion.Usage.CompletionTokens)
	return llm.Message{
		Role:    llm.RoleAssistant,
		Content: completion.Choices[0].Message.Content,
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

// isTransient classifies rate limits and server errors as retryable.
func isTransient(err error) bool {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == 429 || apierr.StatusCode >= 500
	}
	// Transport-level failures are worth a retry.
	return true
}
