package react

import (
	"context"
	"fmt"
	"iter"
	"time"
)

// State is the loop state of a Stream.
type State int

const (
	StateAwaitingModelResponse State = iota
	StateInvokingTools
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAwaitingModelResponse:
		return "awaiting_model_response"
	case StateInvokingTools:
		return "invoking_tools"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stream is the lazy turn sequence of one question. Each call to Next does at
// most one model call or one tool invocation. A Stream is forward-only and
// cannot be restarted: once Next returns false it keeps returning false.
//
//	s := agent.Stream(ctx, question)
//	for s.Next() {
//		render(s.Turn())
//	}
//	if err := s.Err(); err != nil { ... }
type Stream struct {
	ctx context.Context
	a   *Agent

	msgs  []Message
	full  []Message
	tools []Tool

	state      State
	round      int
	toolRounds int
	pending    []Turn
	cur        Turn
	err        error

	calls     []ToolUse
	results   []ToolResult
	toolsUsed map[string]struct{}
	finalText string
}

func newStream(ctx context.Context, a *Agent, initial []Message) *Stream {
	msgs := make([]Message, len(initial))
	copy(msgs, initial)
	full := make([]Message, len(initial))
	copy(full, initial)
	return &Stream{
		ctx:       ctx,
		a:         a,
		msgs:      msgs,
		full:      full,
		state:     StateAwaitingModelResponse,
		toolsUsed: make(map[string]struct{}),
	}
}

// Next advances to the next turn. It returns false when the stream is done or
// a fatal error occurred; Err tells them apart.
func (s *Stream) Next() bool {
	for {
		if len(s.pending) > 0 {
			s.cur = s.pending[0]
			s.pending = s.pending[1:]
			return true
		}
		switch s.state {
		case StateAwaitingModelResponse:
			s.awaitModel()
		case StateInvokingTools:
			s.invokeNext()
		default:
			s.cur = Turn{}
			return false
		}
	}
}

// Turn returns the current turn.
func (s *Stream) Turn() Turn { return s.cur }

// Err returns the fatal error that ended the stream, if any.
func (s *Stream) Err() error { return s.err }

// State returns the current loop state.
func (s *Stream) State() State { return s.state }

// ToolRounds returns how many times the loop went from invoking tools back to
// awaiting a model response.
func (s *Stream) ToolRounds() int { return s.toolRounds }

// Turns returns the stream as an iterator. A fatal error is yielded last with
// a zero Turn.
func (s *Stream) Turns() iter.Seq2[Turn, error] {
	return func(yield func(Turn, error) bool) {
		for s.Next() {
			if !yield(s.Turn(), nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield(Turn{}, err)
		}
	}
}

// Result returns what the stream has produced so far.
func (s *Stream) Result() *RunResult {
	full := make([]Message, len(s.full))
	copy(full, s.full)
	return &RunResult{
		FinalText:        s.finalText,
		FullConversation: full,
		ToolsUsed:        setToSlice(s.toolsUsed),
	}
}

func (s *Stream) fail(err error) {
	s.err = err
	s.state = StateDone
	s.calls = nil
	s.results = nil
}

func (s *Stream) setState(state State) {
	s.state = state
	s.a.cfg.Metrics.ObserveRound(state)
}

func (s *Stream) appendMessages(msgs ...Message) {
	s.msgs = append(s.msgs, msgs...)
	s.full = append(s.full, msgs...)
}

// awaitModel runs one model round and queues the turns it produced.
func (s *Stream) awaitModel() {
	log := s.a.log
	cfg := s.a.cfg

	if err := s.ctx.Err(); err != nil {
		s.fail(err)
		return
	}

	if s.tools == nil {
		tools, err := cfg.ToolClient.ListTools(s.ctx)
		if err != nil {
			s.fail(fmt.Errorf("%w: failed to list tools: %w", ErrTransport, err))
			return
		}
		s.tools = tools
	}

	s.round++
	round := s.round
	log.Info("react: starting round", "round", round, "max_rounds", cfg.MaxRounds)

	s.msgs = s.a.compact(s.ctx, s.msgs, s.tools, round)

	isLastRound := round >= cfg.MaxRounds
	if isLastRound {
		log.Info("react: injecting finalization prompt on last round", "round", round)
		s.appendMessages(cfg.LLM.CreateUserMessage(cfg.FinalizationPrompt))
		s.pending = append(s.pending, Turn{Kind: TurnUser, Content: cfg.FinalizationPrompt, Round: round})
	}

	response, err := cfg.LLM.Call(s.ctx, s.msgs, s.tools)
	if err != nil {
		s.fail(fmt.Errorf("%w: failed to get response: %w", ErrTransport, err))
		return
	}
	s.appendMessages(response.ToMessage())

	content := response.Content()
	text := extractText(content)
	toolUses := extractToolUses(content)
	log.Debug("react: received response", "round", round, "content_blocks", len(content), "tool_calls", len(toolUses))

	var unknown []Turn
	for _, raw := range extractUnknown(content) {
		unknown = append(unknown, Turn{Kind: TurnUnknown, Content: raw, Round: round})
	}

	switch {
	case len(toolUses) == 0:
		log.Info("react: no tool calls, returning final response", "round", round)
		s.pending = append(s.pending, unknown...)
		s.pending = append(s.pending, Turn{Kind: TurnAgent, Content: text, Round: round})
		s.finalText = text
		s.setState(StateDone)

	case isLastRound:
		log.Warn("react: last round reached, dropping tool calls", "round", round, "tool_calls", len(toolUses))
		s.pending = append(s.pending, unknown...)
		if text == "" {
			s.fail(fmt.Errorf("%w (%d)", ErrMaxRounds, cfg.MaxRounds))
			return
		}
		s.pending = append(s.pending, Turn{Kind: TurnAgent, Content: text, Round: round})
		s.finalText = text
		s.setState(StateDone)

	default:
		for _, tu := range toolUses {
			s.toolsUsed[tu.Name] = struct{}{}
		}
		s.pending = append(s.pending, Turn{Kind: TurnAgent, Content: text, ToolUses: toolUses, Round: round})
		s.pending = append(s.pending, unknown...)
		s.calls = toolUses
		s.results = make([]ToolResult, 0, len(toolUses))
		s.setState(StateInvokingTools)
	}
}

// invokeNext runs the next requested tool and queues its result turn. After
// the last one the results are sent back to the model's history.
func (s *Stream) invokeNext() {
	log := s.a.log
	cfg := s.a.cfg

	if err := s.ctx.Err(); err != nil {
		s.fail(err)
		return
	}

	tu := s.calls[len(s.results)]
	log.Info("react: executing tool", "round", s.round, "name", tu.Name, "index", len(s.results)+1, "count", len(s.calls))

	var (
		out   string
		isErr bool
	)
	if tu.InvalidInput != "" {
		log.Warn("react: tool call has invalid arguments", "tool", tu.Name, "tool_id", tu.ID, "error", tu.InvalidInput)
		out, isErr = fmt.Sprintf("Error: invalid arguments for %s: %s. Send the arguments as a JSON object.", tu.Name, tu.InvalidInput), true
		cfg.Metrics.ObserveToolCall(tu.Name, true, 0)
	} else {
		start := time.Now()
		var err error
		out, isErr, err = cfg.ToolClient.CallToolText(s.ctx, tu.Name, tu.Input)
		cfg.Metrics.ObserveToolCall(tu.Name, isErr || err != nil, time.Since(start).Seconds())
		if err != nil {
			log.Error("react: tool execution error", "error", err, "tool", tu.Name, "tool_id", tu.ID)
			s.fail(fmt.Errorf("%w: tool %s: %w", ErrTransport, tu.Name, err))
			return
		}
	}
	if isErr {
		log.Info("react: tool returned error", "tool", tu.Name, "result", out)
	}

	s.results = append(s.results, ToolResult{
		ID:      tu.ID,
		Content: truncateToolResult(out, cfg.MaxToolResultLen),
		IsError: isErr,
	})
	s.pending = append(s.pending, Turn{
		Kind:      TurnToolResult,
		Content:   out,
		Round:     s.round,
		ToolName:  tu.Name,
		ToolUseID: tu.ID,
		IsError:   isErr,
	})

	if len(s.results) < len(s.calls) {
		return
	}

	log.Debug("react: sending tool results back to model", "round", s.round)
	msgs, err := cfg.LLM.ConvertToolResults(s.calls, s.results)
	if err != nil {
		s.fail(fmt.Errorf("failed to convert tool results: %w", err))
		return
	}
	s.appendMessages(msgs...)
	s.calls = nil
	s.results = nil
	s.toolRounds++
	s.setState(StateAwaitingModelResponse)
}
