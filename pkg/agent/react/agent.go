package react

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
)

const (
	defaultMaxContextTokens = 20000
	defaultMaxRounds        = 10
	defaultMaxToolResultLen = 20000

	defaultSummaryPrompt = `Summarize the conversation below so the analysis can continue from the summary alone. Keep the question being answered, the tables and columns found, every SQL query run with its outcome, and any numbers already computed.

%s`
)

// Config is the configuration for the Agent.
type Config struct {
	Logger           *slog.Logger
	LLM              LLMClient
	ToolClient       ToolClient
	MaxRounds        int
	MaxContextTokens int
	// MaxToolResultLen caps the tool result text sent back to the model. The
	// tool result turn itself always carries the full text.
	MaxToolResultLen int
	// FinalizationPrompt is injected as a user message on the last round.
	FinalizationPrompt string
	// SummaryPrompt is a format string with one %s for the conversation to
	// compact. A built-in prompt is used when empty.
	SummaryPrompt string
	// Metrics observes rounds and tool calls. Optional.
	Metrics Observer
}

func (cfg *Config) Validate() error {
	if cfg.LLM == nil {
		return errors.New("LLM is required")
	}
	if cfg.ToolClient == nil {
		return errors.New("tool client is required")
	}
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	if cfg.MaxRounds <= 0 {
		return errors.New("max rounds must be greater than 0")
	}
	if cfg.MaxContextTokens == 0 {
		cfg.MaxContextTokens = defaultMaxContextTokens
	}
	if cfg.MaxContextTokens <= 0 {
		return errors.New("max context tokens must be greater than 0")
	}
	if cfg.MaxToolResultLen == 0 {
		cfg.MaxToolResultLen = defaultMaxToolResultLen
	}
	if cfg.MaxToolResultLen <= 0 {
		return errors.New("max tool result length must be greater than 0")
	}
	if cfg.FinalizationPrompt == "" {
		return errors.New("finalization prompt is required")
	}
	if cfg.SummaryPrompt == "" {
		cfg.SummaryPrompt = defaultSummaryPrompt
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopObserver{}
	}
	return nil
}

// Observer receives loop events for metrics.
type Observer interface {
	ObserveRound(state State)
	ObserveToolCall(name string, isError bool, seconds float64)
}

type nopObserver struct{}

func (nopObserver) ObserveRound(State)                     {}
func (nopObserver) ObserveToolCall(string, bool, float64) {}

// Agent is a ReAct agent that can use tools to interact with an LLM.
type Agent struct {
	log *slog.Logger
	cfg *Config
}

// NewAgent creates a new ReAct agent.
func NewAgent(cfg *Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Agent{
		log: log,
		cfg: cfg,
	}, nil
}

// Stream starts a question and returns its turn stream. Nothing is sent to
// the model until the caller advances the stream.
func (a *Agent) Stream(ctx context.Context, question string) *Stream {
	msg := a.cfg.LLM.CreateUserMessage(question)
	s := newStream(ctx, a, []Message{msg})
	s.pending = append(s.pending, Turn{Kind: TurnUser, Content: question, Round: 1})
	return s
}

// StreamWithMessages starts a stream from an existing conversation. No user
// turn is yielded for the initial messages.
func (a *Agent) StreamWithMessages(ctx context.Context, initialMessages []Message) *Stream {
	return newStream(ctx, a, initialMessages)
}

// Run executes the ReAct tool-calling loop for one question and writes the
// final text to output when output is non-nil.
func (a *Agent) Run(ctx context.Context, question string, output io.Writer) (*RunResult, error) {
	return a.drain(a.Stream(ctx, question), output)
}

// RunWithMessages is Run for an existing conversation.
func (a *Agent) RunWithMessages(ctx context.Context, initialMessages []Message, output io.Writer) (*RunResult, error) {
	return a.drain(a.StreamWithMessages(ctx, initialMessages), output)
}

func (a *Agent) drain(s *Stream, output io.Writer) (*RunResult, error) {
	var turns []Turn
	for s.Next() {
		turns = append(turns, s.Turn())
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	res := s.Result()
	res.Turns = turns
	if output != nil && res.FinalText != "" {
		fmt.Fprintln(output, res.FinalText)
	}
	return res, nil
}

// extractToolUses decodes the tool requests of a reply. Requests missing an
// ID or name are skipped. Requests whose arguments are not a JSON object are
// kept with InvalidInput set so they still get a result.
func extractToolUses(content []ContentBlock) []ToolUse {
	var uses []ToolUse
	for _, blk := range content {
		id, name, raw, ok := blk.AsToolUse()
		if !ok || id == "" || name == "" {
			continue
		}
		tu := ToolUse{ID: id, Name: name, Input: map[string]any{}}
		if len(raw) > 0 {
			var input map[string]any
			if err := json.Unmarshal(raw, &input); err != nil {
				tu.InvalidInput = err.Error()
			} else if input != nil {
				tu.Input = input
			}
		}
		uses = append(uses, tu)
	}
	return uses
}

func extractText(content []ContentBlock) string {
	var parts []string
	for _, blk := range content {
		if text, ok := blk.AsText(); ok {
			parts = append(parts, text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, ""))
}

// extractUnknown describes the blocks that are neither text nor tool
// requests, skipping those that describe themselves as empty.
func extractUnknown(content []ContentBlock) []string {
	var out []string
	for _, blk := range content {
		if _, ok := blk.AsText(); ok {
			continue
		}
		if _, _, _, ok := blk.AsToolUse(); ok {
			continue
		}
		if raw, ok := blk.(RawContentBlock); ok && raw.Raw() != "" {
			out = append(out, raw.Raw())
		}
	}
	return out
}

func setToSlice(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	return slices.Sorted(maps.Keys(set))
}
