package bedrock_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"github.com/typedai/typedai/llm"
	"github.com/typedai/typedai/llm/bedrock"
)

type mockRuntime struct {
	captured *bedrockruntime.ConverseInput
	output   *bedrockruntime.ConverseOutput
	err      error
}

func (m *mockRuntime) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	m.captured = params
	return m.output, m.err
}

func assistantOutput(text string, stop brtypes.StopReason) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
		}},
		Usage: &brtypes.TokenUsage{
			InputTokens:  aws.Int32(100),
			OutputTokens: aws.Int32(20),
			TotalTokens:  aws.Int32(120),
		},
		StopReason: stop,
	}
}

func TestNewRequiresModel(t *testing.T) {
	_, err := bedrock.New(&mockRuntime{}, bedrock.Options{})
	require.Error(t, err)
}

func TestNilRuntimeIsUnconfigured(t *testing.T) {
	client, err := bedrock.New(nil, bedrock.Options{Model: "anthropic.claude-3"})
	require.NoError(t, err)
	require.False(t, client.IsConfigured())

	_, err = client.Generate(context.Background(), []llm.Message{llm.UserMsg("hi")}, llm.GenerateOptions{})
	require.Error(t, err)
}

func TestGenerateEncodesConversation(t *testing.T) {
	mock := &mockRuntime{output: assistantOutput("hello", brtypes.StopReasonEndTurn)}
	client, err := bedrock.New(mock, bedrock.Options{
		Model:             "anthropic.claude-3",
		InputCostPerMTok:  3,
		OutputCostPerMTok: 15,
	})
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), []llm.Message{
		llm.System("You are smart."),
		llm.UserMsg("hi"),
	}, llm.GenerateOptions{Temperature: 0.5, MaxTokens: 1000})
	require.NoError(t, err)
	require.Equal(t, "hello", out.Text())
	require.NotNil(t, out.Stats)
	require.Equal(t, 100, out.Stats.InputTokens)
	require.Equal(t, 20, out.Stats.OutputTokens)
	require.InDelta(t, 100*3e-6+20*15e-6, out.Stats.Cost, 1e-12)
	require.Equal(t, "bedrock:anthropic.claude-3", out.Stats.LlmID)

	input := mock.captured
	require.Equal(t, "anthropic.claude-3", *input.ModelId)
	require.Len(t, input.System, 1)
	require.Len(t, input.Messages, 1)
	require.Equal(t, brtypes.ConversationRoleUser, input.Messages[0].Role)
	require.Equal(t, "hi", input.Messages[0].Content[0].(*brtypes.ContentBlockMemberText).Value)
	require.NotNil(t, input.InferenceConfig)
	require.Equal(t, int32(1000), *input.InferenceConfig.MaxTokens)
	require.InDelta(t, 0.5, *input.InferenceConfig.Temperature, 0.001)
}

func TestGenerateRequiresUserMessage(t *testing.T) {
	client, err := bedrock.New(&mockRuntime{}, bedrock.Options{Model: "id"})
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), []llm.Message{llm.System("only system")}, llm.GenerateOptions{})
	require.Error(t, err)
}

func TestGenerateMaxTokensStopReason(t *testing.T) {
	mock := &mockRuntime{output: assistantOutput("partial", brtypes.StopReasonMaxTokens)}
	client, err := bedrock.New(mock, bedrock.Options{Model: "id"})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), []llm.Message{llm.UserMsg("hi")}, llm.GenerateOptions{})
	mt, ok := llm.AsMaxTokens(err)
	require.True(t, ok)
	require.Equal(t, "partial", mt.Partial.Text())
}

func TestGenerateDecodesReasoningBlocks(t *testing.T) {
	output := assistantOutput("answer", brtypes.StopReasonEndTurn)
	msg := output.Output.(*brtypes.ConverseOutputMemberMessage).Value
	msg.Content = append([]brtypes.ContentBlock{
		&brtypes.ContentBlockMemberReasoningContent{
			Value: &brtypes.ReasoningContentBlockMemberReasoningText{
				Value: brtypes.ReasoningTextBlock{Text: aws.String("let me think")},
			},
		},
	}, msg.Content...)
	output.Output = &brtypes.ConverseOutputMemberMessage{Value: msg}

	client, err := bedrock.New(&mockRuntime{output: output}, bedrock.Options{Model: "id"})
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), []llm.Message{llm.UserMsg("hi")}, llm.GenerateOptions{})
	require.NoError(t, err)
	require.Len(t, out.Parts, 2)
	require.Equal(t, llm.PartReasoning, out.Parts[0].Kind)
	require.Equal(t, "let me think", out.Parts[0].Text)
	require.Equal(t, "answer", out.Text())
}

func TestThrottlingIsRetryable(t *testing.T) {
	mock := &mockRuntime{err: &brtypes.ThrottlingException{Message: aws.String("slow down")}}
	client, err := bedrock.New(mock, bedrock.Options{Model: "id"})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), []llm.Message{llm.UserMsg("hi")}, llm.GenerateOptions{})
	require.Error(t, err)
	require.True(t, llm.IsRetryable(err))
}

func TestThinkingEnablesModelFields(t *testing.T) {
	mock := &mockRuntime{output: assistantOutput("ok", brtypes.StopReasonEndTurn)}
	client, err := bedrock.New(mock, bedrock.Options{Model: "id"})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), []llm.Message{llm.UserMsg("hi")},
		llm.GenerateOptions{Thinking: llm.ThinkingHigh, MaxTokens: 4000})
	require.NoError(t, err)
	require.NotNil(t, mock.captured.AdditionalModelRequestFields)
}
