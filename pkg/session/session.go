// Package session drives questions through the agent and renders their turns,
// either from an interactive prompt or from a fixed batch of questions.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/malbeclabs/funnel-agent/pkg/agent/react"
	"github.com/malbeclabs/funnel-agent/pkg/metrics"
)

const (
	promptText  = "You: "
	exitMessage = "Exiting chat..."
)

// errOutput marks failures to write to the terminal.
var errOutput = errors.New("output error")

// Streamer starts the turn stream for one question.
type Streamer interface {
	Stream(ctx context.Context, question string) *react.Stream
}

// TurnRenderer writes one turn to the terminal.
type TurnRenderer interface {
	Render(turn react.Turn) error
}

type Config struct {
	Logger   *slog.Logger
	Agent    Streamer
	Renderer TurnRenderer
	In       io.Reader
	Out      io.Writer
}

func (cfg *Config) Validate() error {
	if cfg.Agent == nil {
		return errors.New("agent is required")
	}
	if cfg.Renderer == nil {
		return errors.New("renderer is required")
	}
	if cfg.In == nil {
		return errors.New("input reader is required")
	}
	if cfg.Out == nil {
		return errors.New("output writer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return nil
}

// Session answers questions one at a time. It holds no state between
// questions beyond its collaborators.
type Session struct {
	log *slog.Logger
	cfg *Config
	id  string
}

func New(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	return &Session{
		log: cfg.Logger.With("session", id),
		cfg: &cfg,
		id:  id,
	}, nil
}

func (s *Session) ID() string { return s.id }

// Ask runs one question to completion, rendering each turn as it arrives.
func (s *Session) Ask(ctx context.Context, question string) error {
	start := time.Now()
	s.log.Debug("session: question started", "question", question)

	turns, err := s.ask(ctx, question)
	if err != nil {
		metrics.QuestionsTotal.WithLabelValues("error").Inc()
		s.log.Error("session: question failed", "error", err, "turns", turns, "duration", time.Since(start))
		return err
	}

	metrics.QuestionsTotal.WithLabelValues("success").Inc()
	s.log.Debug("session: question answered", "turns", turns, "duration", time.Since(start))
	return nil
}

func (s *Session) ask(ctx context.Context, question string) (int, error) {
	stream := s.cfg.Agent.Stream(ctx, question)
	var n int
	for turn, err := range stream.Turns() {
		if err != nil {
			return n, err
		}
		n++
		if err := s.cfg.Renderer.Render(turn); err != nil {
			return n, fmt.Errorf("%w: failed to render turn: %w", errOutput, err)
		}
	}
	return n, nil
}

// RunBatch asks each question in order, printing its 1-based index first.
// A transport or output failure aborts the remaining questions; any other
// failure is reported and the batch moves on. Cancellation ends the batch
// without error.
func (s *Session) RunBatch(ctx context.Context, questions []string) error {
	for i, q := range questions {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := fmt.Fprintf(s.cfg.Out, "%d. %s\n", i+1, q); err != nil {
			return err
		}
		if err := s.Ask(ctx, q); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isFatal(err) {
				return fmt.Errorf("question %d: %w", i+1, err)
			}
			if err := s.reportFailure(err); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunInteractive reads questions from the input until /exit, /quit, EOF, or
// cancellation of ctx.
func (s *Session) RunInteractive(ctx context.Context) error {
	lines := readLines(ctx, s.cfg.In)

	for {
		if _, err := io.WriteString(s.cfg.Out, promptText); err != nil {
			return err
		}

		var line inputLine
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.cfg.Out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(s.cfg.Out)
				return nil
			}
			line = l
		}
		if line.err != nil {
			fmt.Fprintln(s.cfg.Out)
			return line.err
		}

		question := strings.TrimSpace(line.text)
		if question == "" {
			continue
		}
		if isExitCommand(question) {
			_, err := fmt.Fprintln(s.cfg.Out, exitMessage)
			return err
		}

		if err := s.Ask(ctx, question); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isFatal(err) {
				return err
			}
			if err := s.reportFailure(err); err != nil {
				return err
			}
		}
	}
}

// isFatal reports whether err ends the session rather than the question.
func isFatal(err error) bool {
	return errors.Is(err, react.ErrTransport) || errors.Is(err, errOutput)
}

// reportFailure tells the user a question could not be answered.
func (s *Session) reportFailure(err error) error {
	if _, werr := fmt.Fprintf(s.cfg.Out, "Error: %v\n", err); werr != nil {
		return fmt.Errorf("%w: %w", errOutput, werr)
	}
	return nil
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "/exit", "/quit":
		return true
	}
	return false
}

type inputLine struct {
	text string
	err  error
}

// readLines scans r on its own goroutine so a blocked read does not hold up
// cancellation. A read error, including a line over 1 MiB, is sent as the
// last item. The channel is closed when reading stops.
func readLines(ctx context.Context, r io.Reader) <-chan inputLine {
	lines := make(chan inputLine)
	send := func(l inputLine) bool {
		select {
		case lines <- l:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if !send(inputLine{text: scanner.Text()}) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(inputLine{err: fmt.Errorf("failed to read input: %w", err)})
		}
	}()
	return lines
}
