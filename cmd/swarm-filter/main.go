package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/renlabs-dev/prediction-swarm/internal/filter"
	"github.com/renlabs-dev/prediction-swarm/internal/topics"
	swarmclient "github.com/renlabs-dev/prediction-swarm/pkg/clients/swarm"
	"github.com/renlabs-dev/prediction-swarm/pkg/config"
	"github.com/renlabs-dev/prediction-swarm/pkg/llm"
	"github.com/renlabs-dev/prediction-swarm/pkg/logging"
	"github.com/renlabs-dev/prediction-swarm/pkg/prompts"
	"github.com/renlabs-dev/prediction-swarm/pkg/signing"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("swarm-filter")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Swarm Filter Agent")

	apiURL := config.RequireEnv("SWARM_API_URL")
	agentKey := config.RequireEnv("AGENT_PRIVATE_KEY")
	llmKey := config.RequireEnv("LLM_API_KEY")

	keypair, err := signing.NewKeypairFromHex(agentKey)
	if err != nil {
		logger.WithError(err).Fatal("Invalid AGENT_PRIVATE_KEY")
	}
	logger.WithField("agent_address", keypair.Address()).Info("Agent identity loaded")

	// One gateway per pipeline stage so each stage can run its own model.
	// The check stage defaults to a cheaper model than extraction.
	llmBaseURL := config.GetEnv("LLM_BASE_URL", "https://openrouter.ai/api/v1")
	extractModel := config.GetEnv("LLM_EXTRACT_MODEL", "openai/gpt-4o")
	checkGateway := llm.New(llm.Config{
		APIKey:  llmKey,
		BaseURL: llmBaseURL,
		Model:   config.GetEnv("LLM_CHECK_MODEL", "openai/gpt-4o-mini"),
	}, logger)
	classifyGateway := llm.New(llm.Config{
		APIKey:  llmKey,
		BaseURL: llmBaseURL,
		Model:   config.GetEnv("LLM_CLASSIFY_MODEL", "openai/gpt-4o-mini"),
	}, logger)
	extractGateway := llm.New(llm.Config{
		APIKey:  llmKey,
		BaseURL: llmBaseURL,
		Model:   extractModel,
	}, logger)

	extractor := filter.NewExtractor(
		checkGateway, classifyGateway, extractGateway,
		prompts.NewLoader(), topics.NewRegistry(), keypair, logger)

	client := swarmclient.NewClient(swarmclient.Config{
		BaseURL: apiURL,
		Keypair: keypair,
		Logger:  logger,
	})

	runner := filter.NewRunner(client, extractor, filter.RunnerConfig{
		BatchSize:     config.GetEnvInt("FEED_BATCH_SIZE", 20),
		PollInterval:  config.GetEnvDuration("FEED_POLL_INTERVAL", 30*time.Second),
		CursorPath:    config.GetEnv("CURSOR_PATH", "data/cursor"),
		ServerAddress: config.GetEnv("SERVER_ADDRESS", ""),
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("Filter loop exited")
	}
	logger.Info("Filter agent stopped")
}
