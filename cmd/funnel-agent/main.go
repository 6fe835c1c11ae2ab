package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/malbeclabs/funnel-agent/pkg/agent/prompts"
	"github.com/malbeclabs/funnel-agent/pkg/agent/react"
	"github.com/malbeclabs/funnel-agent/pkg/agent/tools"
	"github.com/malbeclabs/funnel-agent/pkg/clickhouse"
	"github.com/malbeclabs/funnel-agent/pkg/config"
	"github.com/malbeclabs/funnel-agent/pkg/logger"
	"github.com/malbeclabs/funnel-agent/pkg/metrics"
	"github.com/malbeclabs/funnel-agent/pkg/olap"
	"github.com/malbeclabs/funnel-agent/pkg/pinot"
	"github.com/malbeclabs/funnel-agent/pkg/render"
	"github.com/malbeclabs/funnel-agent/pkg/session"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultDatabase = "default"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// Restore default signal handling once shutdown starts so a second
	// interrupt kills the process.
	go func() {
		<-ctx.Done()
		stop()
	}()

	return newRootCmd(os.Stdin, os.Stdout).ExecuteContext(ctx)
}

type options struct {
	verbose     bool
	envFile     string
	showPrompt  bool
	noColor     bool
	metricsAddr string
	flags       config.Flags
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "funnel-agent",
		Short: "Ask clickstream funnel questions in plain language.",
		Long: `funnel-agent answers clickstream funnel questions by letting an LLM agent
inspect and query an analytics database (Apache Pinot or ClickHouse).
Without a subcommand it starts an interactive chat; type /exit or /quit to leave.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), opts, in, out)
			if err != nil {
				return err
			}
			defer a.close()
			return a.session.RunInteractive(cmd.Context())
		},
	}
	rootCmd.SetIn(in)
	rootCmd.SetOut(out)

	opts.bind(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newBatchCmd(opts, in, out),
		newPromptCmd(opts, out),
		newTablesCmd(opts, out),
		newVersionCmd(out),
	)
	return rootCmd
}

func (o *options) bind(pf *pflag.FlagSet) {
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "enable verbose (debug) logging")
	pf.StringVar(&o.envFile, "env-file", ".env", "path to an env file to load (missing file is ignored)")
	pf.StringVar(&o.flags.Provider, "provider", "", "LLM provider: openai, anthropic or ollama (or set LLM_PROVIDER env var)")
	pf.StringVar(&o.flags.Model, "model", "", "LLM model name (or set LLM_MODEL env var)")
	pf.StringVar(&o.flags.Engine, "engine", "", "database engine: pinot or clickhouse (or set DB_ENGINE env var)")
	pf.StringVar(&o.flags.Dialect, "dialect", "", "SQL dialect named in the system prompt (or set SQL_DIALECT env var)")
	pf.IntVar(&o.flags.TopK, "top-k", 0, "default row limit named in the system prompt (or set SQL_TOP_K env var)")
	pf.StringVar(&o.flags.PromptTemplate, "prompt-template", "", "file path or URL of the SQL agent prompt template (or set PROMPT_TEMPLATE env var)")
	pf.IntVar(&o.flags.MaxRounds, "max-rounds", 0, "maximum agent rounds per question (or set LLM_MAX_ROUNDS env var)")
	pf.BoolVar(&o.showPrompt, "show-prompt", false, "print the system prompt before the first question")
	pf.BoolVar(&o.noColor, "no-color", false, "disable colored output")
	pf.StringVar(&o.metricsAddr, "metrics-addr", "", "address to listen on for prometheus metrics (disabled when empty)")
}

func newBatchCmd(opts *options, in io.Reader, out io.Writer) *cobra.Command {
	var questionsFile string
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Ask the preset funnel questions, or those in a YAML file, and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			questions := session.DefaultQuestions
			if questionsFile != "" {
				var err error
				if questions, err = session.LoadQuestions(questionsFile); err != nil {
					return err
				}
			}

			a, err := setup(cmd.Context(), opts, in, out)
			if err != nil {
				return err
			}
			defer a.close()
			return a.session.RunBatch(cmd.Context(), questions)
		},
	}
	cmd.Flags().StringVar(&questionsFile, "questions", "", "YAML file with a top-level questions list")
	return cmd
}

func newPromptCmd(opts *options, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "prompt",
		Short: "Print the assembled system prompt and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv(opts.envFile, opts.flags)
			if err != nil {
				return err
			}
			system, _, err := assemblePrompt(cmd.Context(), cfg, configuredDatabase(cfg))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, system)
			return err
		},
	}
}

func newTablesCmd(opts *options, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables of the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv(opts.envFile, opts.flags)
			if err != nil {
				return err
			}
			log := logger.New(opts.verbose, opts.noColor)

			db, _, err := openDB(cmd.Context(), log, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			tables, err := db.ListTables(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list tables: %w", err)
			}
			for _, t := range tables {
				fmt.Fprintln(out, t)
			}
			return nil
		},
	}
}

func newVersionCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(out, "funnel-agent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

type app struct {
	log     *slog.Logger
	db      olap.DB
	session *session.Session
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.log.Error("failed to close database", "error", err)
	}
}

// setup loads configuration, connects to the database and the LLM, and
// returns a ready session.
func setup(ctx context.Context, opts *options, in io.Reader, out io.Writer) (*app, error) {
	cfg, err := config.LoadFromEnv(opts.envFile, opts.flags)
	if err != nil {
		return nil, err
	}
	log := logger.New(opts.verbose, opts.noColor)

	if opts.metricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			if err := metrics.Serve(ctx, log, opts.metricsAddr); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
			}
		}()
	}

	db, rules, err := openDB(ctx, log, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{log: log, db: db}

	sess, err := newSession(ctx, log, cfg, opts, db, rules, in, out)
	if err != nil {
		a.close()
		return nil, err
	}
	a.session = sess
	log.Debug("session ready", "session", sess.ID(), "provider", cfg.Provider, "model", cfg.Model, "engine", cfg.Engine)
	return a, nil
}

func newSession(ctx context.Context, log *slog.Logger, cfg *config.Config, opts *options, db olap.DB, rules tools.LintRules, in io.Reader, out io.Writer) (*session.Session, error) {
	system, p, err := assemblePrompt(ctx, cfg, configuredDatabase(cfg))
	if err != nil {
		return nil, err
	}

	toolClient, err := tools.NewToolkit(ctx, log, db, rules)
	if err != nil {
		return nil, fmt.Errorf("failed to create tools: %w", err)
	}

	agent, err := react.NewAgent(&react.Config{
		Logger:             log,
		LLM:                newLLM(cfg, system),
		ToolClient:         toolClient,
		MaxRounds:          cfg.MaxRounds,
		FinalizationPrompt: p.Finalization,
		SummaryPrompt:      p.Summary,
		Metrics:            metrics.Observer{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	renderer, err := render.New(render.Config{Out: out, Color: !opts.noColor})
	if err != nil {
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}
	if opts.showPrompt {
		if err := renderer.Banner(system); err != nil {
			return nil, err
		}
	}

	return session.New(session.Config{
		Logger:   log,
		Agent:    agent,
		Renderer: renderer,
		In:       in,
		Out:      out,
	})
}

func assemblePrompt(ctx context.Context, cfg *config.Config, database string) (string, *prompts.Prompts, error) {
	p, err := prompts.Load(ctx, prompts.Config{
		Engine:         prompts.Engine(cfg.Engine),
		Database:       database,
		TemplateSource: cfg.PromptTemplate,
	})
	if err != nil {
		return "", nil, err
	}
	system, err := p.Assemble(cfg.Dialect, cfg.TopK)
	if err != nil {
		return "", nil, err
	}
	return system, p, nil
}

// configuredDatabase is the database name the prompt and lint rules qualify
// dimension tables with.
func configuredDatabase(cfg *config.Config) string {
	switch cfg.Engine {
	case config.EngineClickHouse:
		if cfg.ClickHouse.Database != "" {
			return cfg.ClickHouse.Database
		}
	default:
		if cfg.Pinot.Database != "" {
			return cfg.Pinot.Database
		}
	}
	return defaultDatabase
}

func openDB(ctx context.Context, log *slog.Logger, cfg *config.Config) (olap.DB, tools.LintRules, error) {
	switch cfg.Engine {
	case config.EngineClickHouse:
		chCfg := cfg.ClickHouse
		chCfg.Logger = log
		db, err := clickhouse.NewClient(ctx, &chCfg)
		if err != nil {
			return nil, tools.LintRules{}, fmt.Errorf("failed to connect to clickhouse: %w", err)
		}
		return db, tools.ClickHouseRules(), nil
	default:
		pinotCfg := cfg.Pinot
		pinotCfg.Logger = log
		db, err := pinot.NewClient(ctx, &pinotCfg)
		if err != nil {
			return nil, tools.LintRules{}, fmt.Errorf("failed to connect to pinot: %w", err)
		}
		return db, tools.PinotRules(configuredDatabase(cfg)), nil
	}
}

func newLLM(cfg *config.Config, system string) react.LLMClient {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		client := anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey))
		return react.NewAnthropicAgent(client, anthropic.Model(cfg.Model), int64(cfg.MaxOutputTokens), system)
	case config.ProviderOllama:
		return react.NewOllamaAgent(cfg.OllamaURL, cfg.Model, int64(cfg.MaxOutputTokens), system)
	default:
		return react.NewOpenAIAgent(openai.NewClient(cfg.OpenAIAPIKey), cfg.Model, cfg.MaxOutputTokens, system)
	}
}
