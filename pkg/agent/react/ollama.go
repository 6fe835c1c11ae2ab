package react

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"slices"
	"strings"
)

// fallbackQueryTool receives SQL that a local model wrote as a fenced block
// instead of a tool call.
const fallbackQueryTool = "sql_db_query"

// ollamaToolUseDirective is prepended to the system message. Small local
// models otherwise tend to answer from memory or ask questions back.
const ollamaToolUseDirective = `CRITICAL INSTRUCTION: Answer only from data. Use the sql_db_* tools to find the tables, read their schema and run a SQL query. Never ask the user for clarification.

If a query fails, read the error, correct the SQL and run it again with the tool. Reply without a tool call only when you are giving the final answer from results you already have.

---

`

// OllamaAgent implements LLMClient against a local Ollama server's /api/chat.
type OllamaAgent struct {
	endpoint        string
	httpClient      *http.Client
	model           string
	maxOutputTokens int64
	system          string
}

func NewOllamaAgent(baseURL string, model string, maxOutputTokens int64, system string) LLMClient {
	return NewOllamaAgentWithHTTPClient(baseURL, nil, model, maxOutputTokens, system)
}

// NewOllamaAgentWithHTTPClient is NewOllamaAgent with a caller supplied HTTP
// client. A nil client never times out; local generation can be slow.
func NewOllamaAgentWithHTTPClient(baseURL string, httpClient *http.Client, model string, maxOutputTokens int64, system string) LLMClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if system != "" {
		system = ollamaToolUseDirective + system
	}
	return &OllamaAgent{
		endpoint:        strings.TrimRight(baseURL, "/") + "/api/chat",
		httpClient:      httpClient,
		model:           model,
		maxOutputTokens: maxOutputTokens,
		system:          system,
	}
}

func (a *OllamaAgent) Call(ctx context.Context, messages []Message, tools []Tool) (Response, error) {
	req := ollamaChatRequest{
		Model:    a.model,
		Messages: make([]ollamaMessage, 0, len(messages)+1),
		Options: map[string]any{
			"num_predict": a.maxOutputTokens,
			"temperature": 0,
		},
	}
	if a.system != "" {
		req.Messages = append(req.Messages, ollamaMessage{Role: "system", Content: a.system})
	}
	for _, msg := range messages {
		m, ok := msg.ToParam().(ollamaMessage)
		if !ok {
			return nil, fmt.Errorf("expected ollama message, got %T", msg.ToParam())
		}
		req.Messages = append(req.Messages, m)
	}

	names := make([]string, 0, len(tools))
	for _, t := range tools {
		params, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to encode schema of tool %s: %w", t.Name, err)
		}
		req.Tools = append(req.Tools, ollamaToolDef{
			Type:     "function",
			Function: ollamaFunctionDef{Name: t.Name, Description: t.Description, Parameters: params},
		})
		names = append(names, t.Name)
	}

	msg, err := a.chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to get response: %w", err)
	}
	return ollamaResponse{msg: msg, toolNames: names}, nil
}

// chat posts req and folds the reply chunks into one message. The server can
// send newline-delimited chunks even when streaming is off.
func (a *OllamaAgent) chat(ctx context.Context, req ollamaChatRequest) (ollamaMessage, error) {
	var msg ollamaMessage

	body, err := json.Marshal(req)
	if err != nil {
		return msg, fmt.Errorf("failed to encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return msg, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return msg, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return msg, fmt.Errorf("ollama chat http %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var chunk ollamaChatChunk
		if err := dec.Decode(&chunk); errors.Is(err, io.EOF) {
			return msg, nil
		} else if err != nil {
			return msg, fmt.Errorf("failed to decode chunk: %w", err)
		}
		if chunk.Error != "" {
			return msg, fmt.Errorf("ollama error: %s", chunk.Error)
		}
		msg.merge(chunk.Message)
		if chunk.Done {
			return msg, nil
		}
	}
}

func (a *OllamaAgent) ConvertToolResults(toolUses []ToolUse, results []ToolResult) ([]Message, error) {
	msgs := make([]Message, len(results))
	for i, r := range results {
		m := ollamaMessage{Role: "tool", Content: r.Content}
		if i < len(toolUses) {
			m.Name = toolUses[i].Name
		}
		msgs[i] = OllamaMessage{Msg: m}
	}
	return msgs, nil
}

func (a *OllamaAgent) CreateUserMessage(content string) Message {
	return OllamaMessage{Msg: ollamaMessage{Role: "user", Content: content}}
}

type OllamaMessage struct {
	Msg ollamaMessage
}

func (m OllamaMessage) ToParam() any { return m.Msg }

type ollamaResponse struct {
	msg       ollamaMessage
	toolNames []string
}

// Content prefers native tool calls. Without them, tool calls written into
// the text are recovered and removed from it.
func (r ollamaResponse) Content() []ContentBlock {
	calls, text := r.msg.ToolCalls, r.msg.Content
	if len(calls) == 0 && text != "" {
		calls, text = parseTextToolCalls(text, r.toolNames)
	}

	var blocks []ContentBlock
	for i, call := range calls {
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%s_%d", call.Function.Name, i)
		}
		blocks = append(blocks, ollamaBlock{call: &call})
	}
	if text != "" {
		blocks = append(blocks, ollamaBlock{text: text})
	}
	return blocks
}

func (r ollamaResponse) ToMessage() Message { return OllamaMessage{Msg: r.msg} }

type ollamaBlock struct {
	text string
	call *ollamaToolCall
}

func (b ollamaBlock) AsText() (string, bool) {
	return b.text, b.call == nil && b.text != ""
}

func (b ollamaBlock) AsToolUse() (string, string, []byte, bool) {
	if b.call == nil {
		return "", "", nil, false
	}
	return b.call.ID, b.call.Function.Name, b.call.Function.Arguments.Raw(), true
}

var (
	inlineToolCallPattern = regexp.MustCompile(`\{[^{}]*"name"\s*:\s*"(\w+)"[^{}]*(?:"arguments"|"parameters")\s*:\s*(\{[^{}]*\})[^{}]*\}`)
	sqlFencePattern       = regexp.MustCompile("(?s)```sql\\s*\\n(.*?)```")
	anyFencePattern       = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?.*?```")
)

// parseTextToolCalls finds JSON objects naming an offered tool. Failing that,
// a fenced SELECT or WITH statement becomes a query tool call when that tool
// is offered. The returned text has the recovered calls stripped; when
// nothing is recovered the text is returned unchanged.
func parseTextToolCalls(text string, offered []string) ([]ollamaToolCall, string) {
	var calls []ollamaToolCall
	for _, m := range inlineToolCallPattern.FindAllStringSubmatch(text, -1) {
		name, args := m[1], m[2]
		if slices.Contains(offered, name) && json.Valid([]byte(args)) {
			calls = append(calls, ollamaToolCall{Function: ollamaFunctionCall{Name: name, Arguments: ollamaJSONArgs(args)}})
		}
	}

	if len(calls) == 0 && slices.Contains(offered, fallbackQueryTool) {
		if m := sqlFencePattern.FindStringSubmatch(text); m != nil {
			sql := strings.TrimSpace(m[1])
			if head := strings.ToUpper(sql); strings.HasPrefix(head, "SELECT") || strings.HasPrefix(head, "WITH") {
				args, _ := json.Marshal(map[string]string{"query": sql})
				calls = append(calls, ollamaToolCall{Function: ollamaFunctionCall{Name: fallbackQueryTool, Arguments: ollamaJSONArgs(args)}})
			}
		}
	}

	if len(calls) == 0 {
		return nil, text
	}
	text = anyFencePattern.ReplaceAllString(text, "")
	text = inlineToolCallPattern.ReplaceAllString(text, "")
	return calls, strings.TrimSpace(text)
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaToolDef `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done,omitempty"`
	Error   string        `json:"error,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content,omitempty"`
	Name      string           `json:"name,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

func (m *ollamaMessage) merge(chunk ollamaMessage) {
	if chunk.Role != "" {
		m.Role = chunk.Role
	}
	m.Content += chunk.Content
	m.ToolCalls = append(m.ToolCalls, chunk.ToolCalls...)
}

type ollamaToolCall struct {
	ID       string             `json:"id,omitempty"`
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string         `json:"name"`
	Arguments ollamaJSONArgs `json:"arguments"`
}

type ollamaToolDef struct {
	Type     string            `json:"type"`
	Function ollamaFunctionDef `json:"function"`
}

type ollamaFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ollamaJSONArgs holds tool arguments as a JSON object. Models send them as
// an object, as a JSON string holding an object (sometimes encoded more than
// once), or as plain text, which is kept under "_raw".
type ollamaJSONArgs json.RawMessage

func (a *ollamaJSONArgs) UnmarshalJSON(b []byte) error {
	cur := bytes.TrimSpace(b)
	for depth := 0; depth < 4 && len(cur) > 0 && cur[0] == '"'; depth++ {
		var s string
		if err := json.Unmarshal(cur, &s); err != nil {
			return err
		}
		cur = bytes.TrimSpace([]byte(s))
	}

	switch {
	case len(cur) == 0 || string(cur) == "null":
		*a = ollamaJSONArgs(`{}`)
	case cur[0] == '{' && json.Valid(cur):
		*a = ollamaJSONArgs(cur)
	default:
		wrapped, err := json.Marshal(map[string]string{"_raw": string(cur)})
		if err != nil {
			return err
		}
		*a = ollamaJSONArgs(wrapped)
	}
	return nil
}

func (a ollamaJSONArgs) MarshalJSON() ([]byte, error) {
	return a.Raw(), nil
}

func (a ollamaJSONArgs) Raw() json.RawMessage {
	if len(a) == 0 || !json.Valid(a) {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(a)
}
