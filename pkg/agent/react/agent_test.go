package react

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type genericMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (m genericMessage) ToParam() any { return m }

// mockLLMClient returns scripted responses in order and records every call.
type mockLLMClient struct {
	responses []mockResponse
	callIndex int
	calls     [][]Message
	err       error
}

type mockResponse struct {
	text      string
	toolCalls []mockToolCall
	raw       []string
	// badCalls are tool calls whose arguments are sent as is.
	badCalls []mockToolUseBlock
}

type mockToolCall struct {
	id    string
	name  string
	input map[string]any
}

func (m *mockLLMClient) Call(ctx context.Context, messages []Message, tools []Tool) (Response, error) {
	msgs := make([]Message, len(messages))
	copy(msgs, messages)
	m.calls = append(m.calls, msgs)
	if m.err != nil {
		return nil, m.err
	}
	if m.callIndex >= len(m.responses) {
		return &mockLLMResponse{}, nil
	}
	resp := m.responses[m.callIndex]
	m.callIndex++
	return &mockLLMResponse{text: resp.text, toolCalls: resp.toolCalls, raw: resp.raw, badCalls: resp.badCalls}, nil
}

func (m *mockLLMClient) ConvertToolResults(toolUses []ToolUse, results []ToolResult) ([]Message, error) {
	var msgs []Message
	for i, tu := range toolUses {
		msgs = append(msgs, genericMessage{Role: "tool", Content: "Tool " + tu.Name + ": " + results[i].Content})
	}
	return msgs, nil
}

func (m *mockLLMClient) CreateUserMessage(content string) Message {
	return genericMessage{Role: "user", Content: content}
}

type mockLLMResponse struct {
	text      string
	toolCalls []mockToolCall
	raw       []string
	badCalls  []mockToolUseBlock
}

func (r *mockLLMResponse) Content() []ContentBlock {
	var blocks []ContentBlock
	if r.text != "" {
		blocks = append(blocks, &mockTextBlock{text: r.text})
	}
	for _, tc := range r.toolCalls {
		blocks = append(blocks, &mockToolUseBlock{id: tc.id, name: tc.name, input: tc.input})
	}
	for i := range r.badCalls {
		blocks = append(blocks, &r.badCalls[i])
	}
	for _, raw := range r.raw {
		blocks = append(blocks, &mockRawBlock{raw: raw})
	}
	return blocks
}

func (r *mockLLMResponse) ToMessage() Message {
	return genericMessage{Role: "assistant", Content: r.text}
}

type mockTextBlock struct {
	text string
}

func (b *mockTextBlock) AsText() (string, bool) {
	return b.text, true
}

func (b *mockTextBlock) AsToolUse() (string, string, []byte, bool) {
	return "", "", nil, false
}

type mockToolUseBlock struct {
	id    string
	name  string
	input map[string]any
	// args, when set, is returned instead of the encoded input.
	args []byte
}

func (b *mockToolUseBlock) AsText() (string, bool) {
	return "", false
}

func (b *mockToolUseBlock) AsToolUse() (string, string, []byte, bool) {
	if b.args != nil {
		return b.id, b.name, b.args, true
	}
	inputBytes, _ := json.Marshal(b.input)
	return b.id, b.name, inputBytes, true
}

type mockRawBlock struct {
	raw string
}

func (b *mockRawBlock) AsText() (string, bool)                    { return "", false }
func (b *mockRawBlock) AsToolUse() (string, string, []byte, bool) { return "", "", nil, false }
func (b *mockRawBlock) Raw() string                               { return b.raw }

// mockToolClient returns canned results per tool name and records calls.
type mockToolClient struct {
	tools   []Tool
	results map[string][]mockToolResult
	calls   []string
	listErr error
}

type mockToolResult struct {
	content string
	isError bool
	err     error
}

func (m *mockToolClient) ListTools(ctx context.Context) ([]Tool, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.tools, nil
}

func (m *mockToolClient) CallToolText(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	m.calls = append(m.calls, name)
	queue := m.results[name]
	if len(queue) == 0 {
		return "no result", false, nil
	}
	r := queue[0]
	if len(queue) > 1 {
		m.results[name] = queue[1:]
	}
	return r.content, r.isError, r.err
}

type recordingObserver struct {
	states    []State
	toolCalls []string
}

func (o *recordingObserver) ObserveRound(s State) { o.states = append(o.states, s) }
func (o *recordingObserver) ObserveToolCall(name string, isError bool, _ float64) {
	if isError {
		name += ":error"
	}
	o.toolCalls = append(o.toolCalls, name)
}

func newTestAgent(t *testing.T, llm LLMClient, tools ToolClient, mutate func(*Config)) *Agent {
	t.Helper()
	cfg := &Config{
		LLM:                llm,
		ToolClient:         tools,
		FinalizationPrompt: "Answer now.",
	}
	if mutate != nil {
		mutate(cfg)
	}
	agent, err := NewAgent(cfg)
	require.NoError(t, err)
	return agent
}

func collect(t *testing.T, s *Stream) []Turn {
	t.Helper()
	var turns []Turn
	for s.Next() {
		turns = append(turns, s.Turn())
	}
	return turns
}

var ignoreInput = cmpopts.IgnoreFields(ToolUse{}, "Input")

func TestAgent_Config_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		cfg         Config
		errContains string
	}{
		{name: "missing llm", cfg: Config{ToolClient: &mockToolClient{}, FinalizationPrompt: "x"}, errContains: "LLM is required"},
		{name: "missing tools", cfg: Config{LLM: &mockLLMClient{}, FinalizationPrompt: "x"}, errContains: "tool client is required"},
		{name: "negative rounds", cfg: Config{LLM: &mockLLMClient{}, ToolClient: &mockToolClient{}, MaxRounds: -1, FinalizationPrompt: "x"}, errContains: "max rounds"},
		{name: "missing finalization", cfg: Config{LLM: &mockLLMClient{}, ToolClient: &mockToolClient{}}, errContains: "finalization prompt is required"},
		{name: "defaults", cfg: Config{LLM: &mockLLMClient{}, ToolClient: &mockToolClient{}, FinalizationPrompt: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, defaultMaxRounds, tt.cfg.MaxRounds)
			assert.Equal(t, defaultMaxContextTokens, tt.cfg.MaxContextTokens)
			assert.Equal(t, defaultMaxToolResultLen, tt.cfg.MaxToolResultLen)
			assert.NotEmpty(t, tt.cfg.SummaryPrompt)
			assert.NotNil(t, tt.cfg.Metrics)
		})
	}
}

func TestAgent_Stream_FullQuestion(t *testing.T) {
	t.Parallel()

	query := "SELECT FUNNEL_COUNT(STEPS(event_type = 'view', event_type = 'purchase'), CORRELATE_BY(user_id)) FROM clickstream_events"
	llm := &mockLLMClient{responses: []mockResponse{
		{toolCalls: []mockToolCall{{id: "1", name: "sql_db_list_tables", input: map[string]any{}}}},
		{toolCalls: []mockToolCall{{id: "2", name: "sql_db_schema", input: map[string]any{"table_names": "clickstream_events"}}}},
		{
			text: "Checking and running the funnel query.",
			toolCalls: []mockToolCall{
				{id: "3", name: "sql_db_query_checker", input: map[string]any{"query": query}},
				{id: "4", name: "sql_db_query", input: map[string]any{"query": query}},
			},
		},
		{text: "The overall conversion rate is 14%."},
	}}
	tools := &mockToolClient{results: map[string][]mockToolResult{
		"sql_db_list_tables":   {{content: "clickstream_events, purchase_info"}},
		"sql_db_schema":        {{content: "CREATE TABLE clickstream_events (...)"}},
		"sql_db_query_checker": {{content: "The query is valid."}},
		"sql_db_query":         {{content: "counts\n[100, 14]"}},
	}}
	obs := &recordingObserver{}
	agent := newTestAgent(t, llm, tools, func(cfg *Config) { cfg.Metrics = obs })

	s := agent.Stream(t.Context(), "What is the overall funnel conversion rate?")
	assert.Equal(t, StateAwaitingModelResponse, s.State())

	turns := collect(t, s)
	require.NoError(t, s.Err())
	assert.Equal(t, StateDone, s.State())

	want := []Turn{
		{Kind: TurnUser, Content: "What is the overall funnel conversion rate?", Round: 1},
		{Kind: TurnAgent, Round: 1, ToolUses: []ToolUse{{ID: "1", Name: "sql_db_list_tables"}}},
		{Kind: TurnToolResult, Round: 1, Content: "clickstream_events, purchase_info", ToolName: "sql_db_list_tables", ToolUseID: "1"},
		{Kind: TurnAgent, Round: 2, ToolUses: []ToolUse{{ID: "2", Name: "sql_db_schema"}}},
		{Kind: TurnToolResult, Round: 2, Content: "CREATE TABLE clickstream_events (...)", ToolName: "sql_db_schema", ToolUseID: "2"},
		{Kind: TurnAgent, Round: 3, Content: "Checking and running the funnel query.", ToolUses: []ToolUse{
			{ID: "3", Name: "sql_db_query_checker"},
			{ID: "4", Name: "sql_db_query"},
		}},
		{Kind: TurnToolResult, Round: 3, Content: "The query is valid.", ToolName: "sql_db_query_checker", ToolUseID: "3"},
		{Kind: TurnToolResult, Round: 3, Content: "counts\n[100, 14]", ToolName: "sql_db_query", ToolUseID: "4"},
		{Kind: TurnAgent, Round: 4, Content: "The overall conversion rate is 14%."},
	}
	if diff := cmp.Diff(want, turns, ignoreInput); diff != "" {
		t.Fatalf("turns mismatch (-want +got):\n%s", diff)
	}

	// Tools run in the order they were requested.
	assert.Equal(t, []string{"sql_db_list_tables", "sql_db_schema", "sql_db_query_checker", "sql_db_query"}, tools.calls)
	assert.Equal(t, query, turns[5].ToolUses[1].Input["query"])

	res := s.Result()
	assert.Equal(t, "The overall conversion rate is 14%.", res.FinalText)
	assert.Equal(t, []string{"sql_db_list_tables", "sql_db_query", "sql_db_query_checker", "sql_db_schema"}, res.ToolsUsed)
	assert.Equal(t, []string{"sql_db_list_tables", "sql_db_schema", "sql_db_query_checker", "sql_db_query"}, obs.toolCalls)
}

func TestAgent_Stream_ToolRoundsMatchToolRequestingTurns(t *testing.T) {
	t.Parallel()

	llm := &mockLLMClient{responses: []mockResponse{
		{toolCalls: []mockToolCall{{id: "1", name: "sql_db_list_tables"}}},
		{text: "thinking", toolCalls: []mockToolCall{{id: "2", name: "sql_db_query", input: map[string]any{"query": "SELECT 1"}}}},
		{toolCalls: []mockToolCall{{id: "3", name: "sql_db_query", input: map[string]any{"query": "SELECT 2"}}, {id: "4", name: "sql_db_query", input: map[string]any{"query": "SELECT 3"}}}},
		{text: "done"},
	}}
	obs := &recordingObserver{}
	agent := newTestAgent(t, llm, &mockToolClient{}, func(cfg *Config) { cfg.Metrics = obs })

	s := agent.Stream(t.Context(), "q")
	turns := collect(t, s)
	require.NoError(t, s.Err())

	requesting := 0
	for _, turn := range turns {
		if turn.HasToolUses() {
			requesting++
		}
	}
	assert.Equal(t, 3, requesting)
	assert.Equal(t, requesting, s.ToolRounds())

	backToModel := 0
	for i := 1; i < len(obs.states); i++ {
		if obs.states[i-1] == StateInvokingTools && obs.states[i] == StateAwaitingModelResponse {
			backToModel++
		}
	}
	assert.Equal(t, requesting, backToModel)
	assert.Equal(t, StateDone, obs.states[len(obs.states)-1])
}

func TestAgent_Stream_QueryErrorIsHandedBackToModel(t *testing.T) {
	t.Parallel()

	bad := "SELECT LOOKUP('Users', 'Name', 'ID', user_id) FROM clickstream_events"
	good := "SELECT LOOKUP('ws_funnel.Users', 'Name', 'ID', user_id) FROM clickstream_events"
	llm := &mockLLMClient{responses: []mockResponse{
		{toolCalls: []mockToolCall{{id: "1", name: "sql_db_query", input: map[string]any{"query": bad}}}},
		{toolCalls: []mockToolCall{{id: "2", name: "sql_db_query", input: map[string]any{"query": good}}}},
		{text: "Brett Castillo"},
	}}
	tools := &mockToolClient{results: map[string][]mockToolResult{
		"sql_db_query": {
			{content: "QueryExecutionError: missing database prefix", isError: true},
			{content: "user_name\nBrett Castillo"},
		},
	}}
	agent := newTestAgent(t, llm, tools, nil)

	s := agent.Stream(t.Context(), "Who is user 1?")
	turns := collect(t, s)
	require.NoError(t, s.Err())
	require.Len(t, turns, 6)

	assert.Equal(t, TurnToolResult, turns[2].Kind)
	assert.True(t, turns[2].IsError)
	assert.Equal(t, "QueryExecutionError: missing database prefix", turns[2].Content)

	tu, ok := turns[3].RequestsTool("sql_db_query")
	require.True(t, ok)
	assert.Equal(t, good, tu.Input["query"])

	// The error text reached the model on the next round.
	require.Len(t, llm.calls, 3)
	last := llm.calls[1][len(llm.calls[1])-1].(genericMessage)
	assert.Equal(t, "Tool sql_db_query: QueryExecutionError: missing database prefix", last.Content)
}

func TestAgent_Stream_TransportErrors(t *testing.T) {
	t.Parallel()

	t.Run("llm unreachable", func(t *testing.T) {
		t.Parallel()
		llm := &mockLLMClient{err: errors.New("dial tcp: connection refused")}
		agent := newTestAgent(t, llm, &mockToolClient{}, nil)

		s := agent.Stream(t.Context(), "q")
		turns := collect(t, s)
		require.Len(t, turns, 1)
		assert.Equal(t, TurnUser, turns[0].Kind)
		require.ErrorIs(t, s.Err(), ErrTransport)
		assert.Contains(t, s.Err().Error(), "connection refused")
		assert.Equal(t, StateDone, s.State())
	})

	t.Run("database connection lost", func(t *testing.T) {
		t.Parallel()
		llm := &mockLLMClient{responses: []mockResponse{
			{toolCalls: []mockToolCall{{id: "1", name: "sql_db_query", input: map[string]any{"query": "SELECT 1"}}}},
			{text: "never reached"},
		}}
		tools := &mockToolClient{results: map[string][]mockToolResult{
			"sql_db_query": {{err: errors.New("broker unreachable")}},
		}}
		agent := newTestAgent(t, llm, tools, nil)

		s := agent.Stream(t.Context(), "q")
		turns := collect(t, s)
		require.Len(t, turns, 2)
		require.ErrorIs(t, s.Err(), ErrTransport)
		assert.Equal(t, 1, llm.callIndex)
	})

	t.Run("list tools fails", func(t *testing.T) {
		t.Parallel()
		agent := newTestAgent(t, &mockLLMClient{}, &mockToolClient{listErr: errors.New("down")}, nil)
		_, err := agent.Run(t.Context(), "q", nil)
		require.ErrorIs(t, err, ErrTransport)
	})
}

func TestAgent_Stream_NotRestartable(t *testing.T) {
	t.Parallel()

	llm := &mockLLMClient{responses: []mockResponse{{text: "answer"}}}
	agent := newTestAgent(t, llm, &mockToolClient{}, nil)

	s := agent.Stream(t.Context(), "q")
	require.Len(t, collect(t, s), 2)
	assert.False(t, s.Next())
	assert.Empty(t, collect(t, s))
	assert.Equal(t, 1, len(llm.calls))
}

func TestAgent_Stream_IsLazy(t *testing.T) {
	t.Parallel()

	llm := &mockLLMClient{responses: []mockResponse{
		{toolCalls: []mockToolCall{{id: "1", name: "sql_db_list_tables"}}},
		{text: "answer"},
	}}
	tools := &mockToolClient{}
	agent := newTestAgent(t, llm, tools, nil)

	s := agent.Stream(t.Context(), "q")
	assert.Empty(t, llm.calls)

	require.True(t, s.Next())
	assert.Equal(t, TurnUser, s.Turn().Kind)
	assert.Empty(t, llm.calls)

	require.True(t, s.Next())
	assert.Equal(t, TurnAgent, s.Turn().Kind)
	assert.Len(t, llm.calls, 1)
	assert.Empty(t, tools.calls)
	assert.Equal(t, StateInvokingTools, s.State())

	require.True(t, s.Next())
	assert.Equal(t, TurnToolResult, s.Turn().Kind)
	assert.Len(t, tools.calls, 1)
	assert.Len(t, llm.calls, 1)
}

func TestAgent_Stream_LastRound(t *testing.T) {
	t.Parallel()

	t.Run("tool calls dropped, text kept", func(t *testing.T) {
		t.Parallel()
		llm := &mockLLMClient{responses: []mockResponse{
			{toolCalls: []mockToolCall{{id: "1", name: "sql_db_list_tables"}}},
			{text: "Partial answer.", toolCalls: []mockToolCall{{id: "2", name: "sql_db_query", input: map[string]any{"query": "SELECT 1"}}}},
		}}
		tools := &mockToolClient{}
		agent := newTestAgent(t, llm, tools, func(cfg *Config) { cfg.MaxRounds = 2 })

		s := agent.Stream(t.Context(), "q")
		turns := collect(t, s)
		require.NoError(t, s.Err())

		last := turns[len(turns)-1]
		assert.Equal(t, TurnAgent, last.Kind)
		assert.Equal(t, "Partial answer.", last.Content)
		assert.False(t, last.HasToolUses())
		assert.Equal(t, []string{"sql_db_list_tables"}, tools.calls)

		// The finalization prompt was sent on the last round.
		finalization := turns[len(turns)-2]
		assert.Equal(t, TurnUser, finalization.Kind)
		assert.Equal(t, "Answer now.", finalization.Content)
		sent := llm.calls[1][len(llm.calls[1])-1].(genericMessage)
		assert.Equal(t, "Answer now.", sent.Content)
	})

	t.Run("no text", func(t *testing.T) {
		t.Parallel()
		llm := &mockLLMClient{responses: []mockResponse{
			{toolCalls: []mockToolCall{{id: "1", name: "sql_db_list_tables"}}},
		}}
		agent := newTestAgent(t, llm, &mockToolClient{}, func(cfg *Config) { cfg.MaxRounds = 1 })

		_, err := agent.Run(t.Context(), "q", nil)
		require.ErrorIs(t, err, ErrMaxRounds)
	})
}

func TestAgent_Stream_UnknownBlocks(t *testing.T) {
	t.Parallel()

	llm := &mockLLMClient{responses: []mockResponse{
		{text: "answer", raw: []string{"[server_tool_use] {}"}},
	}}
	agent := newTestAgent(t, llm, &mockToolClient{}, nil)

	turns := collect(t, agent.Stream(t.Context(), "q"))
	require.Len(t, turns, 3)
	assert.Equal(t, TurnUnknown, turns[1].Kind)
	assert.Equal(t, "[server_tool_use] {}", turns[1].Content)
	assert.Equal(t, TurnAgent, turns[2].Kind)
}

func TestAgent_Stream_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	llm := &mockLLMClient{responses: []mockResponse{{text: "answer"}}}
	agent := newTestAgent(t, llm, &mockToolClient{}, nil)

	s := agent.Stream(ctx, "q")
	require.True(t, s.Next())
	cancel()
	assert.False(t, s.Next())
	require.ErrorIs(t, s.Err(), context.Canceled)
	assert.Empty(t, llm.calls)
}

func TestAgent_Stream_Turns(t *testing.T) {
	t.Parallel()

	llm := &mockLLMClient{err: errors.New("boom")}
	agent := newTestAgent(t, llm, &mockToolClient{}, nil)

	var kinds []TurnKind
	var gotErr error
	for turn, err := range agent.Stream(t.Context(), "q").Turns() {
		if err != nil {
			gotErr = err
			break
		}
		kinds = append(kinds, turn.Kind)
	}
	assert.Equal(t, []TurnKind{TurnUser}, kinds)
	require.ErrorIs(t, gotErr, ErrTransport)
}

func TestAgent_Run(t *testing.T) {
	t.Parallel()

	llm := &mockLLMClient{responses: []mockResponse{
		{toolCalls: []mockToolCall{{id: "1", name: "sql_db_query", input: map[string]any{"query": "SELECT 1"}}}},
		{text: "  The answer is 1.  "},
	}}
	agent := newTestAgent(t, llm, &mockToolClient{}, nil)

	var out strings.Builder
	res, err := agent.Run(t.Context(), "q", &out)
	require.NoError(t, err)
	assert.Equal(t, "The answer is 1.", res.FinalText)
	assert.Equal(t, "The answer is 1.\n", out.String())
	assert.Len(t, res.Turns, 4)
	// user, assistant, tool, assistant
	assert.Len(t, res.FullConversation, 4)
}

func TestAgent_InvalidToolArgumentsAnsweredWithError(t *testing.T) {
	t.Parallel()

	t.Run("only call", func(t *testing.T) {
		t.Parallel()

		llm := &mockLLMClient{responses: []mockResponse{
			{badCalls: []mockToolUseBlock{{id: "1", name: "sql_db_query", args: []byte(`{"query": "SELECT FUNNEL_COUNT(`)}}},
			{text: "Retrying is not needed."},
		}}
		tools := &mockToolClient{}
		agent := newTestAgent(t, llm, tools, nil)

		res, err := agent.Run(t.Context(), "q", nil)
		require.NoError(t, err)
		require.Len(t, res.Turns, 4)
		assert.Equal(t, TurnAgent, res.Turns[1].Kind)
		require.Len(t, res.Turns[1].ToolUses, 1)
		assert.NotEmpty(t, res.Turns[1].ToolUses[0].InvalidInput)

		result := res.Turns[2]
		assert.Equal(t, TurnToolResult, result.Kind)
		assert.True(t, result.IsError)
		assert.Equal(t, "1", result.ToolUseID)
		assert.True(t, strings.HasPrefix(result.Content, "Error: invalid arguments for sql_db_query"))
		assert.Empty(t, tools.calls)
		assert.Equal(t, "Retrying is not needed.", res.FinalText)
	})

	t.Run("mixed with a valid call", func(t *testing.T) {
		t.Parallel()

		llm := &mockLLMClient{responses: []mockResponse{
			{
				toolCalls: []mockToolCall{{id: "2", name: "sql_db_list_tables", input: map[string]any{}}},
				badCalls:  []mockToolUseBlock{{id: "1", name: "sql_db_query", args: []byte(`not json`)}},
			},
			{text: "done"},
		}}
		tools := &mockToolClient{}
		agent := newTestAgent(t, llm, tools, nil)

		res, err := agent.Run(t.Context(), "q", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"sql_db_list_tables"}, tools.calls)

		// Every requested call gets a result in the next model call.
		require.Len(t, llm.calls, 2)
		var sent int
		for _, m := range llm.calls[1] {
			if gm, ok := m.(genericMessage); ok && gm.Role == "tool" {
				sent++
			}
		}
		assert.Equal(t, 2, sent)
		assert.Equal(t, "done", res.FinalText)
	})
}

func TestAgent_RunWithMessages(t *testing.T) {
	t.Parallel()

	llm := &mockLLMClient{responses: []mockResponse{{text: "Follow-up answer."}}}
	agent := newTestAgent(t, llm, &mockToolClient{}, nil)

	history := []Message{
		genericMessage{Role: "user", Content: "first"},
		genericMessage{Role: "assistant", Content: "first answer"},
		genericMessage{Role: "user", Content: "second"},
	}
	res, err := agent.RunWithMessages(t.Context(), history, nil)
	require.NoError(t, err)
	assert.Equal(t, "Follow-up answer.", res.FinalText)

	// No user turn is yielded for the initial messages.
	require.Len(t, res.Turns, 1)
	assert.Equal(t, TurnAgent, res.Turns[0].Kind)
	require.Len(t, llm.calls, 1)
	assert.Len(t, llm.calls[0], 3)
}

func TestAgent_Run_TruncatesToolResultsSentToModel(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("row | value\n", 100)
	llm := &mockLLMClient{responses: []mockResponse{
		{toolCalls: []mockToolCall{{id: "1", name: "sql_db_query", input: map[string]any{"query": "SELECT 1"}}}},
		{text: "ok"},
	}}
	tools := &mockToolClient{results: map[string][]mockToolResult{"sql_db_query": {{content: long}}}}
	agent := newTestAgent(t, llm, tools, func(cfg *Config) { cfg.MaxToolResultLen = 300 })

	res, err := agent.Run(t.Context(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, long, res.Turns[2].Content)

	sent := llm.calls[1][len(llm.calls[1])-1].(genericMessage)
	assert.Contains(t, sent.Content, "[Result truncated from")
	assert.Less(t, len(sent.Content), len(long))
}

func TestAgent_Compaction(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("x", 2000)
	var responses []mockResponse
	for i := 0; i < 8; i++ {
		responses = append(responses, mockResponse{toolCalls: []mockToolCall{{id: string(rune('a' + i)), name: "sql_db_query", input: map[string]any{"query": "SELECT 1"}}}})
	}
	llm := &compactingLLM{mockLLMClient: mockLLMClient{responses: append(responses, mockResponse{text: "final"})}}
	tools := &mockToolClient{
		tools:   []Tool{{Name: "sql_db_query", Description: "Run a query."}},
		results: map[string][]mockToolResult{"sql_db_query": {{content: big}}},
	}
	agent := newTestAgent(t, llm, tools, func(cfg *Config) {
		cfg.MaxContextTokens = 2000
		cfg.MaxRounds = 20
	})

	res, err := agent.Run(t.Context(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "final", res.FinalText)
	assert.Positive(t, llm.summaries)

	var sawSummary bool
	for _, call := range llm.calls {
		for _, m := range call {
			if gm, ok := m.(genericMessage); ok && strings.HasPrefix(gm.Content, "[Previous conversation summary]: ") {
				sawSummary = true
			}
		}
	}
	assert.True(t, sawSummary)
}

// compactingLLM answers summary requests without consuming scripted responses.
type compactingLLM struct {
	mockLLMClient
	summaries int
}

func (c *compactingLLM) Call(ctx context.Context, messages []Message, tools []Tool) (Response, error) {
	if tools == nil {
		c.summaries++
		return &mockLLMResponse{text: "summary"}, nil
	}
	return c.mockLLMClient.Call(ctx, messages, tools)
}
