package prompts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/malbeclabs/funnel-agent/pkg/config"
)

// Engine selects the domain rules block.
type Engine string

const (
	EnginePinot      Engine = "pinot"
	EngineClickHouse Engine = "clickhouse"
)

// Config is the configuration for loading prompts.
type Config struct {
	Engine Engine
	// Database is substituted into the domain rules wherever a qualified
	// dimension table name is required.
	Database string
	// TemplateSource optionally replaces the embedded SQL agent template. It
	// is a file path or an http(s) URL.
	TemplateSource string
	HTTPClient     *http.Client
}

func (cfg *Config) Validate() error {
	switch cfg.Engine {
	case EnginePinot, EngineClickHouse:
	case "":
		cfg.Engine = EnginePinot
	default:
		return fmt.Errorf("%w: unknown engine %q", config.ErrConfiguration, cfg.Engine)
	}
	if cfg.Database == "" {
		return fmt.Errorf("%w: database is required", config.ErrConfiguration)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return nil
}

// Prompts contains all the agent prompts.
type Prompts struct {
	// Domain is the rendered domain rules block, appended verbatim to the
	// system prompt.
	Domain       string
	Finalization string
	Summary      string

	agent *template.Template
}

// Load loads all prompts from the embedded filesystem, or the agent template
// from cfg.TemplateSource when set. Every failure wraps config.ErrConfiguration.
func Load(ctx context.Context, cfg Config) (*Prompts, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Prompts{}

	var agentText string
	var err error
	if cfg.TemplateSource != "" {
		if agentText, err = fetchTemplate(ctx, cfg.HTTPClient, cfg.TemplateSource); err != nil {
			return nil, fmt.Errorf("%w: failed to load SQL agent template from %s: %w", config.ErrConfiguration, cfg.TemplateSource, err)
		}
	} else if agentText, err = loadPrompt("SQL_AGENT.md"); err != nil {
		return nil, fmt.Errorf("%w: failed to load SQL_AGENT: %w", config.ErrConfiguration, err)
	}
	if p.agent, err = parse("agent", normalizePlaceholders(agentText)); err != nil {
		return nil, fmt.Errorf("%w: failed to parse SQL agent template: %w", config.ErrConfiguration, err)
	}

	domainFile := "DOMAIN_PINOT.md"
	if cfg.Engine == EngineClickHouse {
		domainFile = "DOMAIN_CLICKHOUSE.md"
	}
	domainText, err := loadPrompt(domainFile)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load %s: %w", config.ErrConfiguration, domainFile, err)
	}
	domain, err := parse("domain", domainText)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %w", config.ErrConfiguration, domainFile, err)
	}
	if p.Domain, err = execute(domain, struct{ Database string }{cfg.Database}); err != nil {
		return nil, fmt.Errorf("%w: failed to render %s: %w", config.ErrConfiguration, domainFile, err)
	}

	if p.Finalization, err = loadPrompt("FINALIZATION.md"); err != nil {
		return nil, fmt.Errorf("%w: failed to load FINALIZATION: %w", config.ErrConfiguration, err)
	}
	if p.Summary, err = loadPrompt("SUMMARY.md"); err != nil {
		return nil, fmt.Errorf("%w: failed to load SUMMARY: %w", config.ErrConfiguration, err)
	}

	return p, nil
}

// Assemble formats the SQL agent template with the dialect and result-row
// cap, then appends the domain rules block. The returned string is the
// session's system message.
func (p *Prompts) Assemble(dialect string, topK int) (string, error) {
	if strings.TrimSpace(dialect) == "" {
		return "", fmt.Errorf("%w: dialect is required", config.ErrConfiguration)
	}
	if topK < 1 {
		return "", fmt.Errorf("%w: top k must be at least 1, got %d", config.ErrConfiguration, topK)
	}

	head, err := execute(p.agent, struct {
		Dialect string
		TopK    int
	}{dialect, topK})
	if err != nil {
		return "", fmt.Errorf("%w: failed to render SQL agent template: %w", config.ErrConfiguration, err)
	}
	return head + "\n\n" + p.Domain, nil
}

func loadPrompt(path string) (string, error) {
	data, err := PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func fetchTemplate(ctx context.Context, client *http.Client, source string) (string, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		data, err := os.ReadFile(source)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("empty template")
	}
	return text, nil
}

// normalizePlaceholders accepts templates written with {dialect} and {top_k}
// placeholders as published on prompt hubs.
func normalizePlaceholders(text string) string {
	if strings.Contains(text, "{{") {
		return text
	}
	return strings.NewReplacer("{dialect}", "{{.Dialect}}", "{top_k}", "{{.TopK}}").Replace(text)
}

func parse(name, text string) (*template.Template, error) {
	return template.New(name).Option("missingkey=error").Parse(text)
}

func execute(tmpl *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}
