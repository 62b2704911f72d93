package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hurttlocker/roster/internal/config"
	"github.com/hurttlocker/roster/internal/contacts"
	"github.com/hurttlocker/roster/internal/extract"
	"github.com/hurttlocker/roster/internal/llm"
	"github.com/hurttlocker/roster/internal/logging"
	"github.com/hurttlocker/roster/internal/metrics"
	"github.com/hurttlocker/roster/internal/registry"
	"github.com/hurttlocker/roster/internal/store"
	"github.com/hurttlocker/roster/internal/transcribe"
	"github.com/hurttlocker/roster/internal/workflow"
)

// app holds CLI state shared by all commands.
type app struct {
	in     io.Reader
	reader *bufio.Reader // over in, shared by prompts
	out    io.Writer
	errOut io.Writer

	// flags
	configPath   string
	dbPath       string
	llmFlag      string
	logLevel     string
	suggestFloor string
	jsonOut      bool

	cfg    config.ResolvedConfig
	logger *zerolog.Logger

	// Overridable in tests.
	newExtractor   func(cfg config.ResolvedConfig, logger *zerolog.Logger) (extract.Extractor, error)
	newTranscriber func(cfg config.ResolvedConfig) (transcribe.Transcriber, error)
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{
		in:             in,
		out:            out,
		errOut:         errOut,
		newExtractor:   buildExtractor,
		newTranscriber: buildTranscriber,
	}
}

func (a *app) execute(ctx context.Context, args []string) error {
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	return root.ExecuteContext(ctx)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "roster",
		Short: "Client registry and sales-note reconciliation",
		Long: `roster keeps one client per company. Notes are attached to clients
through a two-step confirmation: once when the note is saved with a typed
client name, and again when AI analysis proposes a client for a note that
was saved without one.`,
		Version:           version,
		PersistentPreRunE: a.setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.roster/config.yaml)")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "database path (default "+store.DefaultDBPath+")")
	root.PersistentFlags().StringVar(&a.llmFlag, "llm", "", "AI provider/model, e.g. openai/gpt-4o-mini")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.suggestFloor, "suggest-floor", "", "minimum match confidence to suggest a client (0-1)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print results as JSON")
	root.SetVersionTemplate("roster {{.Version}}\n")

	root.AddCommand(
		a.clientsCommand(),
		a.noteCommand(),
		a.contactsCommand(),
		a.mcpCommand(),
		a.statsCommand(),
		a.configCommand(),
		a.versionCommand(),
	)
	return root
}

// setup loads .env, resolves configuration and configures logging.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath:  a.configPath,
		CLILLM:      a.llmFlag,
		CLIDBPath:   a.dbPath,
		CLILogLevel: a.logLevel,
		CLISuggest:  a.suggestFloor,
	})
	if err != nil {
		return err
	}
	a.cfg = cfg

	logCfg := logging.DefaultConfig()
	if cfg.LogLevel.Value != "" {
		logCfg.Level = cfg.LogLevel.Value
	} else {
		logCfg.Level = "warn"
	}
	if cfg.LogFormat.Value != "" {
		logCfg.Format = cfg.LogFormat.Value
	}
	var w io.Writer = cmd.ErrOrStderr()
	if logCfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, NoColor: logCfg.NoColor, TimeFormat: "15:04"}
	}
	logging.SetDefault(logging.NewLoggerFromConfig(logCfg).Output(w))
	a.logger = logging.Default()
	return nil
}

// runtime is the wired set of components a command works with.
type runtime struct {
	store      *store.SQLiteStore
	registry   *registry.Registry
	reconciler *contacts.Reconciler
	engine     *workflow.Engine
	// extractErr says why no extractor is configured.
	extractErr error
}

func (r *runtime) Close() error {
	return r.store.Close()
}

func (a *app) openRuntime(m *metrics.Metrics) (*runtime, error) {
	dbPath := a.cfg.DBPath.Value
	if dbPath == "" {
		dbPath = store.DefaultDBPath
	}
	s, err := store.NewSQLiteStore(store.StoreConfig{DBPath: dbPath})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	rt := &runtime{store: s}
	rt.registry = registry.New(s, registry.Options{SuggestFloor: a.cfg.SuggestFloor(), Logger: a.logger})
	rt.reconciler = contacts.New(s, a.logger)

	ext, err := a.newExtractor(a.cfg, a.logger)
	if err != nil {
		rt.extractErr = err
		a.logger.Debug().Err(err).Msg("AI extraction unavailable")
	}

	rt.engine = workflow.NewEngine(workflow.Deps{
		Registry:  rt.registry,
		Contacts:  rt.reconciler,
		Records:   s,
		Extractor: ext,
		Metrics:   m,
		Logger:    a.logger,
	}, workflow.Options{
		PendingTTL:  a.cfg.PendingTTL(),
		Concurrency: a.cfg.Concurrency(),
	})
	return rt, nil
}

func buildExtractor(cfg config.ResolvedConfig, logger *zerolog.Logger) (extract.Extractor, error) {
	model := cfg.EffectiveLLMModel("extract", "").Value
	if model == "" {
		model = cfg.LLMProvider.Value
	}
	var llmCfg llm.Config
	if model != "" && !strings.Contains(model, "/") {
		llmCfg.Provider = strings.ToLower(model)
	} else {
		var err error
		if llmCfg, err = llm.ParseLLMFlag(model); err != nil {
			return nil, err
		}
	}
	llmCfg.APIKey = cfg.APIKeyForProvider(llmCfg.Provider).Value
	provider, err := llm.NewProvider(llmCfg)
	if err != nil {
		return nil, err
	}
	return extract.NewLLMExtractor(provider, extract.LLMOptions{Logger: logger}), nil
}

func buildTranscriber(cfg config.ResolvedConfig) (transcribe.Transcriber, error) {
	return transcribe.NewWhisper(transcribe.Config{
		APIKey:   cfg.APIKeyForProvider("openai").Value,
		Model:    cfg.TranscribeModel.Value,
		Language: cfg.TranscribeLanguage.Value,
	})
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.out, format, args...)
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
