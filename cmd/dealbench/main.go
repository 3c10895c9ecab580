// dealbench runs the M&A due-diligence orchestration engine. The CLI
// surface is deliberately thin (§6 "the orchestrator exposes no CLI
// beyond server start/stop"): `dealbench serve` starts the HTTP API,
// `dealbench validate` checks a config file without starting
// anything.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dealbench/dealbench/pkg/adapters/filings"
	"github.com/dealbench/dealbench/pkg/adapters/findata"
	"github.com/dealbench/dealbench/pkg/adapters/llmprovider"
	"github.com/dealbench/dealbench/pkg/adapters/websearch"
	"github.com/dealbench/dealbench/pkg/agent"
	"github.com/dealbench/dealbench/pkg/agents"
	"github.com/dealbench/dealbench/pkg/api"
	"github.com/dealbench/dealbench/pkg/config"
	"github.com/dealbench/dealbench/pkg/events"
	"github.com/dealbench/dealbench/pkg/ingestion"
	"github.com/dealbench/dealbench/pkg/job"
	"github.com/dealbench/dealbench/pkg/llm"
	"github.com/dealbench/dealbench/pkg/masking"
	"github.com/dealbench/dealbench/pkg/orchestrator"
	"github.com/dealbench/dealbench/pkg/storage"
	"github.com/dealbench/dealbench/pkg/synthesis"
	"github.com/dealbench/dealbench/pkg/validator"
	"github.com/dealbench/dealbench/pkg/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, envFile string

	root := &cobra.Command{
		Use:     "dealbench",
		Short:   "M&A due-diligence multi-agent orchestration engine",
		Version: version.Full(),
	}
	root.PersistentFlags().StringVar(&configPath, "config", "./config/config.yaml", "path to configuration file")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "optional .env file to load before reading config")
	viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	viper.BindPFlag("env-file", root.PersistentFlags().Lookup("env-file"))
	viper.AutomaticEnv()

	root.AddCommand(newServeCmd(&configPath, &envFile))
	root.AddCommand(newConfigValidateCmd(&configPath, &envFile))
	return root
}

func newConfigValidateCmd(configPath, envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "validate the configuration file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(*configPath, *envFile)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}
}

func newServeCmd(configPath, envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "start the Submission API (§6)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configPath, *envFile)
		},
	}
}

func serve(configPath, envFile string) error {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.Default()
	ctx := context.Background()

	primary, err := buildProvider(ctx, cfg.LLM.Primary)
	if err != nil {
		return fmt.Errorf("building primary LLM provider: %w", err)
	}
	secondary, err := buildProvider(ctx, cfg.LLM.Secondary)
	if err != nil {
		return fmt.Errorf("building secondary LLM provider: %w", err)
	}

	pipeline := llm.New(primary, secondary, primary, llm.Config{
		MaxRetries:       cfg.LLM.MaxRetries,
		PrimaryTimeout:   cfg.LLM.PrimaryTimeout,
		SecondaryTimeout: cfg.LLM.SecondaryTimeout,
		ReasoningTimeout: cfg.LLM.ReasoningTimeout,
		BackoffBase:      cfg.LLM.InitialBackoff,
		FallbackEnabled:  true,
	}, logger)

	finDataClient := findata.New(
		cfg.DataSources.FinData.BaseURL,
		apiKeyFromEnv(cfg.DataSources.FinData.APIKeyEnv),
		cfg.DataSources.FinDataRequestsPerSecond,
		cfg.DataSources.FinData.Timeout,
	)
	filingsClient := filings.New(
		cfg.DataSources.Filings.BaseURL,
		apiKeyFromEnv(cfg.DataSources.Filings.APIKeyEnv),
		cfg.DataSources.Filings.Timeout,
	)
	var webSearcher agent.WebSearcher
	if len(cfg.DataSources.WebSearch.FeedURLs) > 0 || cfg.DataSources.WebSearch.ScrapeURL != "" {
		webSearcher = websearch.New(cfg.DataSources.WebSearch.FeedURLs, cfg.DataSources.WebSearch.ScrapeURL, http.DefaultClient)
	}

	ingestionStage := ingestion.New(finDataClient, filingsClient)
	allAgents := agents.All()
	synthesizer := synthesis.New()

	jobManager, err := buildJobManager(ctx, cfg.Persistence)
	if err != nil {
		return fmt.Errorf("building job manager: %w", err)
	}

	connManager := events.NewConnectionManager(10 * time.Second)
	publisher := events.NewPublisher(connManager)
	maskingService := masking.NewService(cfg.Masking.Enabled)

	execContext := func(j *job.Job) *agent.Context {
		return &agent.Context{
			JobID:     j.ID,
			Target:    j.Params.Target,
			Acquirer:  j.Params.Acquirer,
			DealValue: j.Params.DealValue,
			Thesis:    j.Params.Thesis,
			LLM:       pipeline,
			FinData:   finDataClient,
			Filings:   filingsClient,
			WebSearch: webSearcher,
		}
	}

	sched := orchestrator.New(allAgents, ingestionStage, synthesizer, publisher, jobManager, execContext, cfg.Job, agents.RequiredAgentNames())
	sched.Validator = validator.Config{}
	sched.Logger = logger

	server := api.NewServer(jobManager, sched, connManager, publisher, maskingService)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("starting dealbench", "addr", addr, "version", version.Full())
	return server.Engine().Run(addr)
}

// buildJobManager constructs a Postgres-backed Manager when a DSN is
// configured, so job status and results survive a process restart (§6
// "Persistence"); otherwise it falls back to an in-memory-only Manager,
// which is sufficient for local/dev runs.
func buildJobManager(ctx context.Context, pc config.PersistenceConfig) (*job.Manager, error) {
	if pc.DSN == "" {
		return job.NewManager(), nil
	}
	store, err := storage.New(ctx, pc.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to job store: %w", err)
	}
	return job.NewManagerWithStore(ctx, store)
}

func buildProvider(ctx context.Context, pc config.LLMProviderConfig) (llm.Provider, error) {
	apiKey := apiKeyFromEnv(pc.APIKeyEnv)
	switch pc.Type {
	case "google-genai":
		return llmprovider.NewGenAIProvider(ctx, apiKey, pc.Model)
	case "resty-http":
		return llmprovider.NewRestyProvider(pc.BaseURL, apiKey, pc.Model, pc.Timeout), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider type %q", pc.Type)
	}
}

func apiKeyFromEnv(envVar string) string {
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}
