package react

import (
	"context"
	"errors"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIAgent implements LLMClient for OpenAI chat completions.
type OpenAIAgent struct {
	client          *openai.Client
	model           string
	maxOutputTokens int
	system          string
}

// NewOpenAIAgent creates a new OpenAI LLM client.
func NewOpenAIAgent(client *openai.Client, model string, maxOutputTokens int, system string) LLMClient {
	return &OpenAIAgent{
		client:          client,
		model:           model,
		maxOutputTokens: maxOutputTokens,
		system:          system,
	}
}

// Call sends messages to OpenAI and returns a response.
func (a *OpenAIAgent) Call(ctx context.Context, messages []Message, tools []Tool) (Response, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if a.system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: a.system,
		})
	}
	for _, msg := range messages {
		param, ok := msg.ToParam().(openai.ChatCompletionMessage)
		if !ok {
			return nil, fmt.Errorf("expected openai.ChatCompletionMessage, got %T", msg.ToParam())
		}
		msgs = append(msgs, param)
	}

	req := openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: msgs,
		Tools:    toOpenAITools(tools),
		// A zero temperature is dropped by omitempty.
		Temperature: math.SmallestNonzeroFloat32,
	}
	if a.maxOutputTokens > 0 {
		req.MaxCompletionTokens = a.maxOutputTokens
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to get response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("failed to get response: no choices returned")
	}

	return openAIResponse{msg: resp.Choices[0].Message}, nil
}

// ConvertToolResults converts tool results to one tool message per result.
func (a *OpenAIAgent) ConvertToolResults(toolUses []ToolUse, results []ToolResult) ([]Message, error) {
	msgs := make([]Message, 0, len(results))
	for i, result := range results {
		msg := openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    result.Content,
			ToolCallID: result.ID,
		}
		if i < len(toolUses) {
			msg.Name = toolUses[i].Name
		}
		msgs = append(msgs, OpenAIMessage{Msg: msg})
	}
	return msgs, nil
}

// CreateUserMessage creates a user message in OpenAI format.
func (a *OpenAIAgent) CreateUserMessage(content string) Message {
	return OpenAIMessage{Msg: openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: content,
	}}
}

// OpenAIMessage wraps openai.ChatCompletionMessage to implement react.Message.
type OpenAIMessage struct {
	Msg openai.ChatCompletionMessage
}

func (m OpenAIMessage) ToParam() any {
	return m.Msg
}

type openAIResponse struct {
	msg openai.ChatCompletionMessage
}

func (r openAIResponse) Content() []ContentBlock {
	blocks := make([]ContentBlock, 0, len(r.msg.ToolCalls)+1)
	if r.msg.Content != "" {
		blocks = append(blocks, openAIContentBlock{text: r.msg.Content})
	}
	if r.msg.Refusal != "" {
		blocks = append(blocks, openAIContentBlock{refusal: r.msg.Refusal})
	}
	for _, tc := range r.msg.ToolCalls {
		blocks = append(blocks, openAIContentBlock{toolCall: &tc})
	}
	return blocks
}

func (r openAIResponse) ToMessage() Message {
	return OpenAIMessage{Msg: r.msg}
}

type openAIContentBlock struct {
	text     string
	refusal  string
	toolCall *openai.ToolCall
}

func (b openAIContentBlock) AsText() (string, bool) {
	if b.text == "" {
		return "", false
	}
	return b.text, true
}

func (b openAIContentBlock) AsToolUse() (string, string, []byte, bool) {
	if b.toolCall == nil || b.toolCall.Function.Name == "" {
		return "", "", nil, false
	}
	args := b.toolCall.Function.Arguments
	if args == "" {
		args = "{}"
	}
	return b.toolCall.ID, b.toolCall.Function.Name, []byte(args), true
}

func (b openAIContentBlock) Raw() string {
	if b.refusal != "" {
		return "[refusal] " + b.refusal
	}
	return ""
}

func toOpenAITools(tools []Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}
