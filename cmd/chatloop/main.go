// Command chatloop is an interactive chat session against an
// OpenAI-compatible endpoint, with out-of-process tool providers,
// usage accounting, and crash-safe conversation snapshots.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/chatloop-dev/chatloop/internal/conversation"
	"github.com/chatloop-dev/chatloop/internal/ledger"
	"github.com/chatloop-dev/chatloop/internal/orchestrator"
	"github.com/chatloop-dev/chatloop/internal/repl"
	"github.com/chatloop-dev/chatloop/internal/toolhost"
	"github.com/chatloop-dev/chatloop/internal/transport"
	"github.com/chatloop-dev/chatloop/internal/ui"
	"github.com/chatloop-dev/chatloop/pkg/config"
)

// Version is set via ldflags.
var Version = "dev"

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "chatloop",
		Short:         "Interactive chat session with tool providers and cost tracking",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			return runSession(cmd.Context(), cfg)
		},
	}
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "configuration file (YAML)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "chatloop:", err)
		os.Exit(1)
	}
}

// loadConfig reads the given file, or falls back to chatloop.yaml in
// the working directory, or built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat("chatloop.yaml"); err == nil {
			path = "chatloop.yaml"
		}
	}

	var cfg *config.Config
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSession(ctx context.Context, cfg *config.Config) error {
	sessionID := uuid.NewString()

	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	led := ledger.New(newPricingTable(cfg))

	registry := toolhost.NewRegistry()
	defer registry.Dispose()

	client, err := transport.NewChatClient(transport.Config{
		APIKey:            cfg.OpenAIKey,
		BaseURL:           cfg.BaseURL,
		Model:             cfg.Model,
		MaxTokens:         cfg.MaxTokens,
		Temperature:       float32(cfg.Temperature),
		RequestsPerMinute: cfg.RequestsPerMinute,
		MaxContextTokens:  cfg.MaxContextTokens,
	}, registry.Invoke)
	if err != nil {
		return err
	}

	if err := registry.Initialize(ctx, cfg.Providers, client.Complete); err != nil {
		return fmt.Errorf("start tool providers: %w", err)
	}

	input := repl.NewInput(repl.NewHistory(historyPath(cfg)))
	defer input.Close()

	printer := ui.NewPrinter(os.Stdout)
	printer.Infof("chatloop %s | model %s | session %s", Version, cfg.Model, sessionID)
	if tools := registry.Tools(); len(tools) > 0 {
		printer.Infof("%d tools available", len(tools))
	}

	orch := orchestrator.New(input, client, registry, led, store, printer, orchestrator.Options{
		SystemPrompt:   cfg.SystemPrompt,
		MaxRetries:     cfg.Retry.MaxRetries,
		BaseRetryDelay: secondsToDuration(cfg.Retry.BaseDelaySeconds),
		MaxRetryDelay:  secondsToDuration(cfg.Retry.MaxDelaySeconds),
	})

	runErr := orch.Run(ctx)

	saveReport(cfg, led, sessionID)
	return runErr
}

func newStore(cfg *config.Config) (conversation.SnapshotStore, error) {
	switch cfg.Storage.Backend {
	case "redis":
		return conversation.NewRedisStore(conversation.RedisConfig{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
	default:
		return conversation.NewFileStore(cfg.Storage.Dir), nil
	}
}

func newPricingTable(cfg *config.Config) *ledger.PricingTable {
	table := ledger.NewPricingTable()
	for _, p := range cfg.Pricing {
		table.AddPricing(&ledger.ModelPricing{
			Model:           p.Model,
			InputPer1M:      p.InputPer1M,
			OutputPer1M:     p.OutputPer1M,
			CachedPer1M:     p.CachedPer1M,
			SupportsCaching: p.SupportsCaching,
		})
	}
	return table
}

func historyPath(cfg *config.Config) string {
	if cfg.HistoryFile != "" {
		return cfg.HistoryFile
	}
	if cfg.Storage.Backend == "file" {
		return filepath.Join(cfg.Storage.Dir, "history")
	}
	return ""
}

// saveReport writes the end-of-session usage report under the storage
// directory, regardless of which snapshot backend the session used.
// Failure is logged, never fatal.
func saveReport(cfg *config.Config, led *ledger.Ledger, sessionID string) {
	if err := os.MkdirAll(cfg.Storage.Dir, 0700); err != nil {
		log.Printf("session report: %v", err)
		return
	}
	path := filepath.Join(cfg.Storage.Dir, string(conversation.TagFinalReport)+sessionID+".json")
	if err := led.SaveReport(path); err != nil {
		log.Printf("session report: %v", err)
	}
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
