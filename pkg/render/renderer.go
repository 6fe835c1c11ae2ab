package render

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/malbeclabs/funnel-agent/pkg/agent/react"
)

const (
	// UnrecognizedPrefix precedes turns of an unknown kind.
	UnrecognizedPrefix = "Unknown Message Type, just printing out as it is."

	defaultWidth = 100

	highlightStyle = "monokai"
)

// Config configures a Renderer.
type Config struct {
	Out io.Writer
	// Color enables chroma highlighting of queries, glamour rendering of the
	// banner, and lipgloss styles. When false the same text is written
	// without escape sequences.
	Color bool
	Width int
}

func (cfg *Config) Validate() error {
	if cfg.Out == nil {
		return errors.New("output writer is required")
	}
	if cfg.Width == 0 {
		cfg.Width = defaultWidth
	}
	if cfg.Width < 0 {
		return errors.New("width must be greater than 0")
	}
	return nil
}

// Renderer writes classified turns to a terminal.
type Renderer struct {
	out   io.Writer
	color bool

	markdown *glamour.TermRenderer
	answer   lipgloss.Style
	banner   lipgloss.Style
}

func New(cfg Config) (*Renderer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Renderer{
		out:   cfg.Out,
		color: cfg.Color,
	}
	if !cfg.Color {
		return r, nil
	}

	// Only the banner goes through glamour. Queries are highlighted without
	// reflow so their text stays byte for byte what was run.
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(styles.DarkStyle),
		glamour.WithWordWrap(cfg.Width-6),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	r.markdown = md

	lr := lipgloss.NewRenderer(cfg.Out)
	r.answer = lr.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	r.banner = lr.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("6")).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("6")).
		Padding(0, 1).
		Width(cfg.Width - 2)
	return r, nil
}

// Render classifies turn and writes it in a single write unless it is
// suppressed.
func (r *Renderer) Render(turn react.Turn) error {
	text, err := r.format(Classify(turn))
	if err != nil || text == "" {
		return err
	}
	_, err = io.WriteString(r.out, text)
	return err
}

func (r *Renderer) format(a Action) (string, error) {
	switch a.Kind {
	case ActionCode:
		var sb strings.Builder
		for _, q := range a.Queries {
			if !r.color {
				sb.WriteString(codeMarkdown(q))
				continue
			}
			sb.WriteString("Generated Query:\n\n```sql\n")
			if err := quick.Highlight(&sb, q, "sql", "terminal256", highlightStyle); err != nil {
				return "", fmt.Errorf("failed to highlight query: %w", err)
			}
			sb.WriteString("\x1b[0m\n```\n")
		}
		return sb.String(), nil

	case ActionResult:
		return "Query Result:\n" + a.Content + "\n", nil

	case ActionFinalAnswer:
		answer := "Agent: " + a.Content
		if r.color {
			answer = r.answer.Render(answer)
		}
		if a.Unrecognized {
			return UnrecognizedPrefix + "\n" + answer + "\n", nil
		}
		return answer + "\n", nil

	default:
		return "", nil
	}
}

func codeMarkdown(query string) string {
	return "Generated Query:\n\n```sql\n" + query + "\n```\n"
}

// Banner writes the system message in a bordered panel.
func (r *Renderer) Banner(systemMessage string) error {
	text := systemMessage
	if r.color {
		md, err := r.markdown.Render(systemMessage)
		if err != nil {
			return fmt.Errorf("failed to render system message: %w", err)
		}
		text = r.banner.Render(strings.Trim(md, "\n"))
	}
	_, err := io.WriteString(r.out, text+"\n")
	return err
}
