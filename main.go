package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"lovelore/config"
	"lovelore/continuity"
	"lovelore/narrative"
	"lovelore/provider"
	"lovelore/store"
	"lovelore/story"
)

var (
	verbose    bool
	configPath string
	version    = "dev"
	commit     = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lovelore",
		Short: "Interactive fiction narrator backed by a streaming chat model",
		Long: `LoveLore plays story chapters with an AI narrator.

  lovelore serve                 # HTTP API (turns, chat proxy, progress)
  lovelore play --story <id>     # play a story in the terminal
  lovelore chat "hello"          # talk to a running server's chat proxy`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.json", "path to config file (.json or .yaml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable development logging")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(newServeCmd(), newPlayCmd(), newChatCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lovelore %s (commit: %s)\n", version, commit)
		},
	}
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// app is everything a command needs to play turns.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	catalog  *story.Catalog
	client   *provider.Client
	store    store.Store
	engine   *narrative.Engine
	supabase *supabase.Client
}

// buildApp wires the pipeline from config. inMemory forces the memory store
// even when Supabase is configured.
func buildApp(cfg config.Config, log *zap.Logger, inMemory bool) (*app, error) {
	catalog, err := story.LoadCatalog(cfg.StoriesPath)
	if err != nil {
		return nil, fmt.Errorf("load stories: %w", err)
	}
	client, err := provider.New(provider.Settings{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.LLM.Timeout(),
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, catalog: catalog, client: client}
	if cfg.Supabase.Enabled() && !inMemory {
		sb, err := store.NewSupabaseClient(cfg.Supabase.URL, cfg.Supabase.ServiceRoleKey)
		if err != nil {
			return nil, err
		}
		a.supabase = sb
		a.store = store.NewSupabase(sb, log)
	} else {
		log.Info("using in-memory store; progress is lost on exit")
		a.store = store.NewMemory()
	}

	var checker narrative.ObjectiveChecker
	if !cfg.Classifier.Disabled {
		llm, err := buildLLM(cfg)
		if err != nil {
			return nil, err
		}
		c, err := narrative.NewClassifier(llm, log)
		if err != nil {
			return nil, err
		}
		checker = c
	}
	narrator, err := narrative.NewNarrator(client, checker, narrative.NarratorOptions{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}
	fetcher := continuity.NewFetcher(a.store, a.store, cfg.ContinuityLimit, log)
	a.engine, err = narrative.NewEngine(narrator, a.store, fetcher, narrative.EngineOptions{
		HistoryWindow: cfg.HistoryWindow,
		GuardTTL:      cfg.GuardTTL(),
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// buildLLM creates the objective classifier's client.
func buildLLM(cfg config.Config) (narrative.LLMClient, error) {
	settings := &narrative.LLMSettings{
		Model:       cfg.Classifier.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.Classifier.Temperature,
		MaxTokens:   cfg.Classifier.MaxTokens,
	}
	switch cfg.LLM.Provider {
	case "openai":
		return narrative.NewOpenAILLMFromConfig(settings)
	case "deepseek":
		// DeepSeek 提供 OpenAI 兼容接口，需填写 base_url（例如官方/网关地址）。
		if settings.BaseURL == "" {
			return nil, fmt.Errorf("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
		}
		return narrative.NewOpenAILLMFromConfig(settings)
	default:
		return nil, fmt.Errorf("llm provider %s not supported", cfg.LLM.Provider)
	}
}
