package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/genloop-ai/genloop/internal/config"
	"github.com/genloop-ai/genloop/internal/generate"
	"github.com/genloop-ai/genloop/internal/llm"
	"github.com/genloop-ai/genloop/internal/logger"
	"github.com/genloop-ai/genloop/internal/store"
	"github.com/genloop-ai/genloop/internal/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	var (
		configPath   = flag.String("config", defaultConfigPath(), "path to the config file")
		providerName = flag.String("provider", "anthropic", "model provider: anthropic or openai")
		modelID      = flag.String("model", "", "model id (provider default when empty)")
		reasoning    = flag.Bool("reasoning", false, "request visible reasoning")
		dbPath       = flag.String("db", "", "path to the SQLite database (overrides config)")
	)
	flag.Parse()

	prompt := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if prompt == "" {
		return fmt.Errorf("usage: genloop [flags] <prompt>")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err != nil {
			logger.Error("fatal: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	provider, err := buildProvider(cfg, *providerName, *modelID)
	if err != nil {
		return err
	}

	databasePath := cfg.DatabasePath
	if *dbPath != "" {
		databasePath = *dbPath
	}
	if databasePath == "" {
		databasePath = filepath.Join(filepath.Dir(*configPath), "genloop.db")
	}
	st, err := store.NewSQLiteStore(databasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	registry := tools.NewRegistry()
	registry.Register(tools.NewCalculatorTool())
	registry.Register(tools.NewClockTool())
	registry.Register(tools.NewDocSearchTool(st, cfg.Search.NumResults))
	if cfg.Search.APIKey != "" {
		client := tools.NewHTTPSearchClient(cfg.Search)
		registry.Register(tools.NewWebSearchTool(client, cfg.Search.NumResults))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sched := store.NewGoScheduler(ctx)

	jobID := uuid.NewString()
	if err := st.CreateJob(ctx, &store.Job{ID: jobID}); err != nil {
		return err
	}

	orch := generate.New(generate.Deps{
		Provider:  provider,
		Store:     st,
		Scheduler: sched,
		Tools:     registry,
		Config:    cfg,
		Hooks: generate.Hooks{
			ChatMetadataRefresh: func(_ context.Context, chatID string) {
				logger.Debug("refreshing metadata for chat %s", chatID)
			},
			UsageAnalysis: func(_ context.Context, jobID string, usage llm.Usage, costUSD float64) {
				logger.Debug("job %s used %d in / %d out tokens ($%.6f)",
					jobID, usage.InputTokens, usage.OutputTokens, costUSD)
			},
		},
	}, generate.Params{
		JobID:            jobID,
		ModelID:          *modelID,
		IncludeReasoning: *reasoning,
		Messages: []*llm.Message{
			{Role: "user", Content: prompt},
		},
	})

	if err := orch.Run(ctx); err != nil {
		return err
	}
	sched.Wait()

	msg, err := st.GetMessage(ctx, orch.MessageID())
	if err != nil {
		return fmt.Errorf("failed to read final message: %w", err)
	}

	if *reasoning && msg.Reasoning != "" {
		fmt.Fprintf(os.Stderr, "--- reasoning ---\n%s\n-----------------\n", msg.Reasoning)
	}
	fmt.Println(msg.Content)

	if sources, ok := msg.Metadata["sources"]; ok {
		fmt.Fprintf(os.Stderr, "\nSources: %v\n", sources)
	}
	return nil
}

func buildProvider(cfg *config.Config, name, modelID string) (llm.Provider, error) {
	switch name {
	case "anthropic":
		model := modelID
		if model == "" {
			model = cfg.Anthropic.Model
		}
		return llm.NewAnthropicProvider(cfg.Anthropic.APIKey, model)
	case "openai":
		model := modelID
		if model == "" {
			model = cfg.OpenAI.Model
		}
		return llm.NewOpenAIProvider(cfg.OpenAI.APIKey, model, cfg.OpenAI.BaseURL)
	default:
		return nil, fmt.Errorf("unknown provider %q (want anthropic or openai)", name)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "genloop.json"
	}
	return filepath.Join(home, ".config", "genloop", "config.json")
}
