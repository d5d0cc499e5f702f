// Package llm wraps the OpenAI-compatible chat API with JSON-schema
// structured outputs. Responses are validated against the schema and retried
// when the model returns malformed output.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	openai "github.com/sashabaranov/go-openai"

	"github.com/renlabs-dev/prediction-swarm/pkg/logging"
)

// Config configures a Gateway.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// MaxAttempts bounds retries on malformed model output. Transport
	// errors are not retried here.
	MaxAttempts int
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Gateway is a chat completion client with structured output enforcement.
type Gateway struct {
	client      *openai.Client
	model       string
	maxAttempts int
	temperature float32
	maxTokens   int
	timeout     time.Duration
	logger      logging.Logger
}

// New creates a gateway. BaseURL may point at any OpenAI-compatible provider.
func New(cfg Config, logger logging.Logger) *Gateway {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Gateway{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxAttempts: maxAttempts,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		logger:      logger,
	}
}

// CompleteStructured sends a system+user prompt pair and decodes the model's
// JSON response into out after validating it against schema.
//
// Only malformed model output (JSON parse or schema validation failures) is
// retried, up to MaxAttempts. Transport and API errors surface immediately.
func (g *Gateway) CompleteStructured(ctx context.Context, system, user, schemaName string, schema *jsonschema.Schema, out interface{}) error {
	rawSchema, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal response schema: %w", err)
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolve response schema: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName,
				Schema: json.RawMessage(rawSchema),
				Strict: true,
			},
		},
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		resp, err := g.client.CreateChatCompletion(callCtx, req)
		cancel()
		if err != nil {
			return fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("chat completion returned no choices")
		}

		content := resp.Choices[0].Message.Content
		if err := decodeAndValidate(content, resolved, out); err != nil {
			lastErr = err
			g.logger.WithFields(logging.Fields{
				"schema":  schemaName,
				"attempt": attempt,
				"error":   err.Error(),
			}).Warn("Malformed structured output, retrying")
			continue
		}
		return nil
	}

	return fmt.Errorf("structured output failed after %d attempts: %w", g.maxAttempts, lastErr)
}

func decodeAndValidate(content string, resolved *jsonschema.Resolved, out interface{}) error {
	var instance interface{}
	if err := json.Unmarshal([]byte(content), &instance); err != nil {
		return fmt.Errorf("parse model output: %w", err)
	}
	if err := resolved.Validate(instance); err != nil {
		return fmt.Errorf("validate model output: %w", err)
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}
