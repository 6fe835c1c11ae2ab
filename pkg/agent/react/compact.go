package react

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// summaryPrefix marks the user message that stands in for compacted history.
const summaryPrefix = "[Previous conversation summary]: "

// compactionWindows are the numbers of trailing messages kept verbatim on
// successive compaction attempts.
var compactionWindows = []int{8, 4, 2}

// estimateTokens approximates the prompt size at four characters per token
// of JSON-encoded messages and tool definitions.
func estimateTokens(msgs []Message, tools []Tool) int {
	var chars int
	for _, m := range msgs {
		if b, err := json.Marshal(m.ToParam()); err == nil {
			chars += len(b)
		}
	}
	for _, t := range tools {
		if b, err := json.Marshal(t); err == nil {
			chars += len(b)
		}
	}
	return chars / 4
}

// compact replaces the middle of the conversation with a model-written
// summary while it exceeds MaxContextTokens. The question is always kept.
// Compaction failures are logged and the conversation is sent as is.
func (a *Agent) compact(ctx context.Context, msgs []Message, tools []Tool, round int) []Message {
	tokens := estimateTokens(msgs, tools)
	if tokens <= a.cfg.MaxContextTokens {
		return msgs
	}
	a.log.Info("react: compacting conversation", "round", round, "tokens_est", tokens, "limit", a.cfg.MaxContextTokens)

	for _, keep := range compactionWindows {
		if len(msgs) <= keep+1 {
			continue
		}
		summarized, err := a.summarize(ctx, msgs, keep)
		if err != nil {
			a.log.Warn("react: compaction failed", "round", round, "error", err)
			return msgs
		}
		msgs = summarized
		tokens = estimateTokens(msgs, tools)
		a.log.Debug("react: conversation compacted", "round", round, "kept", keep, "messages", len(msgs), "tokens_est", tokens)
		if tokens <= a.cfg.MaxContextTokens {
			return msgs
		}
	}

	a.log.Warn("react: context still over limit after compaction", "round", round, "tokens_est", tokens, "limit", a.cfg.MaxContextTokens)
	return msgs
}

// summarize returns msgs[0], a summary of everything up to the last keep
// messages, and those messages.
func (a *Agent) summarize(ctx context.Context, msgs []Message, keep int) ([]Message, error) {
	middle := msgs[1 : len(msgs)-keep]

	var history strings.Builder
	for i, m := range middle {
		b, err := json.Marshal(m.ToParam())
		if err != nil {
			continue
		}
		fmt.Fprintf(&history, "%d. %s\n", i+1, b)
	}

	prompt := fmt.Sprintf(a.cfg.SummaryPrompt, history.String())
	resp, err := a.cfg.LLM.Call(ctx, []Message{a.cfg.LLM.CreateUserMessage(prompt)}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize %d messages: %w", len(middle), err)
	}

	out := make([]Message, 0, keep+2)
	out = append(out, msgs[0], a.cfg.LLM.CreateUserMessage(summaryPrefix+extractText(resp.Content())))
	return append(out, msgs[len(msgs)-keep:]...), nil
}
