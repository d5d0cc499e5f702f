// Package swarm is the agent-side client for the swarm API. Every request is
// signed with the agent's keypair via the standard auth headers.
package swarm

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	api "github.com/renlabs-dev/prediction-swarm/pkg/api/swarm"
	"github.com/renlabs-dev/prediction-swarm/pkg/auth"
	"github.com/renlabs-dev/prediction-swarm/pkg/logging"
	"github.com/renlabs-dev/prediction-swarm/pkg/signing"
)

// APIError is a non-2xx response decoded from the standard error body.
type APIError struct {
	StatusCode int
	Body       api.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.Error != "" {
		return fmt.Sprintf("swarm api: %d %s", e.StatusCode, e.Body.Error)
	}
	return fmt.Sprintf("swarm api: status %d", e.StatusCode)
}

// Config configures the swarm client.
type Config struct {
	BaseURL string
	Keypair *signing.Keypair
	Timeout time.Duration
	Logger  logging.Logger
}

// Client is an authenticated swarm API client.
type Client struct {
	client  *resty.Client
	keypair *signing.Keypair
	logger  logging.Logger
}

// NewClient creates a swarm client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)

	return &Client{
		client:  client,
		keypair: cfg.Keypair,
		logger:  cfg.Logger,
	}
}

// Address returns the agent address this client signs as.
func (c *Client) Address() string {
	return c.keypair.Address()
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	headers, err := auth.GenerateAuthHeaders(c.keypair)
	if err != nil {
		return nil, fmt.Errorf("generate auth headers: %w", err)
	}
	return c.client.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetError(&api.ErrorResponse{}), nil
}

func apiError(resp *resty.Response) error {
	body := api.ErrorResponse{}
	if decoded, ok := resp.Error().(*api.ErrorResponse); ok && decoded != nil {
		body = *decoded
	}
	return &APIError{StatusCode: resp.StatusCode(), Body: body}
}

// GetTweetsNext fetches the next feed page after cursor. An empty cursor
// starts from the beginning. When excludeProcessed is true, tweets this agent
// already submitted predictions for are skipped.
func (c *Client) GetTweetsNext(ctx context.Context, cursor string, limit int, excludeProcessed bool) (*api.GetTweetsNextResponse, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"limit": strconv.Itoa(limit),
	}
	if cursor != "" {
		params["from"] = cursor
	}
	if excludeProcessed {
		params["excludeProcessedByAgent"] = "true"
	}

	var out api.GetTweetsNextResponse
	resp, err := req.
		SetQueryParams(params).
		SetResult(&out).
		Get("/v1/getTweetsNext")
	if err != nil {
		return nil, fmt.Errorf("getTweetsNext: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// StorePredictions submits a batch of signed predictions. The batch is
// all-or-nothing on the server side.
func (c *Client) StorePredictions(ctx context.Context, items []api.StorePredictionItem) (*api.StorePredictionsResponse, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	var out api.StorePredictionsResponse
	resp, err := req.
		SetBody(items).
		SetResult(&out).
		Post("/v1/storePredictions")
	if err != nil {
		return nil, fmt.Errorf("storePredictions: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// GainPermission requests the filter capability, optionally paying with the
// given transfer.
func (c *Client) GainPermission(ctx context.Context, txData *api.TxData) (*api.GainPermissionResponse, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	var out api.GainPermissionResponse
	resp, err := req.
		SetBody(api.GainPermissionRequest{TxData: txData}).
		SetResult(&out).
		Post("/v1/gainPermission")
	if err != nil {
		return nil, fmt.Errorf("gainPermission: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// CreditBalance fetches the agent's credit balance.
func (c *Client) CreditBalance(ctx context.Context) (*api.CreditBalanceResponse, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	var out api.CreditBalanceResponse
	resp, err := req.
		SetResult(&out).
		Get("/v1/credits/balance")
	if err != nil {
		return nil, fmt.Errorf("credits balance: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// PurchaseCredits converts a verified on-chain transfer into credits.
func (c *Client) PurchaseCredits(ctx context.Context, txData api.TxData) (*api.PurchaseCreditsResponse, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	var out api.PurchaseCreditsResponse
	resp, err := req.
		SetBody(api.PurchaseCreditsRequest{TxData: txData}).
		SetResult(&out).
		Post("/v1/credits/purchase")
	if err != nil {
		return nil, fmt.Errorf("credits purchase: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}
