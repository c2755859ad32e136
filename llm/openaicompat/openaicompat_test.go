package openaicompat

import (
	"context"
	"testing"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typedai/typedai/llm"
)

type stubChat struct {
	params     openai.ChatCompletionNewParams
	completion *openai.ChatCompletion
	err        error
}

func (s *stubChat) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	s.params = body
	return s.completion, s.err
}

func completionWith(content, finishReason string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Content: content},
			FinishReason: finishReason,
		}},
		Usage: openai.CompletionUsage{PromptTokens: 100, CompletionTokens: 20},
	}
}

func TestNewRequiresModel(t *testing.T) {
	_, err := New(Options{Provider: Groq})
	require.Error(t, err)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(Options{Provider: "mystery", Model: "m"})
	require.Error(t, err)
}

func TestUnconfiguredClientRefusesCalls(t *testing.T) {
	client, err := NewWithChat(nil, Options{Provider: DeepSeek, Model: "deepseek-chat"})
	require.NoError(t, err)
	require.False(t, client.IsConfigured())

	_, err = client.Generate(context.Background(), []llm.Message{llm.UserMsg("hi")}, llm.GenerateOptions{})
	require.ErrorContains(t, err, "DEEPSEEK_API_KEY")
}

func TestGenerateEncodesConversationAndOptions(t *testing.T) {
	chat := &stubChat{completion: completionWith("hello", "stop")}
	client, err := NewWithChat(chat, Options{
		Provider:          Groq,
		Model:             "llama-3.3-70b-versatile",
		InputCostPerMTok:  1,
		OutputCostPerMTok: 2,
	})
	require.NoError(t, err)

	messages := []llm.Message{
		llm.System("be brief"),
		llm.UserMsg("question"),
		llm.Assistant("earlier answer"),
		llm.UserMsg("follow-up"),
	}
	out, err := client.Generate(context.Background(), messages, llm.GenerateOptions{
		Temperature:   0.3,
		TopP:          0.9,
		MaxTokens:     512,
		StopSequences: []string{"END"},
		Thinking:      llm.ThinkingHigh,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", out.Text())
	assert.Equal(t, llm.RoleAssistant, out.Role)
	require.NotNil(t, out.Stats)
	assert.Equal(t, 100, out.Stats.InputTokens)
	assert.Equal(t, 20, out.Stats.OutputTokens)
	// 100 input at $1/MTok plus 20 output at $2/MTok.
	assert.InDelta(t, 0.00014, out.Stats.Cost, 1e-9)
	assert.Equal(t, "groq:llama-3.3-70b-versatile", out.Stats.LlmID)

	require.Len(t, chat.params.Messages, 4)
	assert.Equal(t, "llama-3.3-70b-versatile", string(chat.params.Model))
	assert.Equal(t, int64(512), chat.params.MaxCompletionTokens.Value)
	assert.Equal(t, 0.3, chat.params.Temperature.Value)
	assert.Equal(t, []string{"END"}, chat.params.Stop.OfStringArray)
	assert.EqualValues(t, "high", chat.params.ReasoningEffort)
}

func TestGenerateLengthFinishReturnsMaxTokensError(t *testing.T) {
	chat := &stubChat{completion: completionWith("truncated partial", "length")}
	client, err := NewWithChat(chat, Options{Model: "gpt-4o-mini"})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), []llm.Message{llm.UserMsg("hi")}, llm.GenerateOptions{})
	mt, ok := llm.AsMaxTokens(err)
	require.True(t, ok)
	assert.Equal(t, "truncated partial", mt.Partial.Text())
}

func TestGenerateTransportErrorIsRetryable(t *testing.T) {
	chat := &stubChat{err: context.DeadlineExceeded}
	client, err := NewWithChat(chat, Options{Provider: Perplexity, Model: "sonar"})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), []llm.Message{llm.UserMsg("hi")}, llm.GenerateOptions{})
	require.Error(t, err)
	assert.True(t, llm.IsRetryable(err))
}

func TestGenerateRejectsEmptyConversation(t *testing.T) {
	client, err := NewWithChat(&stubChat{}, Options{Model: "gpt-4o"})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), nil, llm.GenerateOptions{})
	require.Error(t, err)
	_, err = client.Generate(context.Background(), []llm.Message{llm.System("only system")}, llm.GenerateOptions{})
	require.Error(t, err)
}

func TestKeyEnvVarPresets(t *testing.T) {
	assert.Equal(t, "OPENAI_API_KEY", KeyEnvVar(OpenAI))
	assert.Equal(t, "PERPLEXITY_KEY", KeyEnvVar(Perplexity))
	assert.Equal(t, "SAMBANOVA_API_KEY", KeyEnvVar(SambaNova))
	assert.Equal(t, "OPENROUTER_API_KEY", KeyEnvVar(OpenRouter))
	assert.Empty(t, KeyEnvVar("mystery"))
}
