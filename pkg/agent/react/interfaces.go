package react

import (
	"context"
)

// LLMClient is one reasoning service backend. Each provider keeps its own
// message encoding behind Message and Response.
type LLMClient interface {
	// Call sends the conversation and the tool catalog and returns the
	// model's reply. A nil tool list asks for text only.
	Call(ctx context.Context, messages []Message, tools []Tool) (Response, error)
	CreateUserMessage(content string) Message
	// ConvertToolResults encodes results, paired index by index with the
	// tool uses that requested them.
	ConvertToolResults(toolUses []ToolUse, results []ToolResult) ([]Message, error)
}

// Message is a provider-encoded conversation entry.
type Message interface {
	ToParam() any
}

// Response is one model reply.
type Response interface {
	Content() []ContentBlock
	// ToMessage returns the reply as it is appended to the conversation.
	ToMessage() Message
}

// ContentBlock is one piece of a reply: text, a tool request, or something
// else the provider returned.
type ContentBlock interface {
	AsText() (text string, ok bool)
	AsToolUse() (id, name string, input []byte, ok bool)
}

// RawContentBlock describes a block that is neither text nor a tool request,
// such as a server-side tool call. Such blocks surface as unknown turns.
type RawContentBlock interface {
	Raw() string
}

// ToolClient executes the tools offered to the model.
type ToolClient interface {
	ListTools(ctx context.Context) ([]Tool, error)
	// CallToolText runs one tool. isError marks a failure the model can act
	// on, such as a rejected query. err is reserved for failures that end
	// the question.
	CallToolText(ctx context.Context, name string, args map[string]any) (result string, isError bool, err error)
}

// Tool is an entry in the tool catalog.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolUse is a tool request decoded from a reply.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
	// InvalidInput is the decode error of arguments that were not a JSON
	// object. Such a request is answered with an error result instead of
	// being run.
	InvalidInput string
}

// ToolResult answers the ToolUse with the same ID.
type ToolResult struct {
	ID      string
	Content string
	IsError bool
}

// RunResult summarizes a finished question.
type RunResult struct {
	FinalText string
	// FullConversation is every message exchanged, tool traffic included.
	FullConversation []Message
	// ToolsUsed is the sorted set of tool names called.
	ToolsUsed []string
	Turns     []Turn
}
