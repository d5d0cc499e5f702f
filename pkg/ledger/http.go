package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/renlabs-dev/prediction-swarm/pkg/logging"
)

// HTTPConfig configures the chain-indexer client.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPLedger talks to a chain-indexer REST API.
type HTTPLedger struct {
	client *resty.Client
	logger logging.Logger
}

// NewHTTPLedger creates a ledger client with retries on transient failures.
func NewHTTPLedger(cfg HTTPConfig, logger logging.Logger) *HTTPLedger {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	return &HTTPLedger{client: client, logger: logger}
}

type permissionsResponse struct {
	Permissions map[string][]string `json:"permissions"`
}

// DelegatedPermissions fetches the full permission set from the indexer.
func (l *HTTPLedger) DelegatedPermissions(ctx context.Context) (map[string][]string, error) {
	var out permissionsResponse
	resp, err := l.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/permissions/delegated")
	if err != nil {
		return nil, fmt.Errorf("fetch delegated permissions: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch delegated permissions: status %d", resp.StatusCode())
	}
	return out.Permissions, nil
}

type transferResponse struct {
	Found       bool   `json:"found"`
	Amount      string `json:"amount"`
	BlockNumber int64  `json:"blockNumber"`
	From        string `json:"from"`
}

// VerifyTransfer checks the claimed transfer against the indexer.
func (l *HTTPLedger) VerifyTransfer(ctx context.Context, txHash, blockHash, from string) (*Transfer, error) {
	var out transferResponse
	resp, err := l.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"txHash":    txHash,
			"blockHash": blockHash,
			"from":      from,
		}).
		SetResult(&out).
		Get("/v1/transfers/verify")
	if err != nil {
		return nil, fmt.Errorf("verify transfer: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("verify transfer: status %d", resp.StatusCode())
	}
	if !out.Found {
		return nil, fmt.Errorf("transfer %s not found on chain", txHash)
	}

	amount, ok := new(big.Int).SetString(out.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid transfer amount %q", out.Amount)
	}
	return &Transfer{Amount: amount, BlockNumber: out.BlockNumber}, nil
}

type delegateRequest struct {
	Recipient string `json:"recipient"`
	Path      string `json:"path"`
}

type delegateResponse struct {
	TxHash string `json:"txHash"`
}

// DelegatePermission submits the on-chain delegation via the indexer.
func (l *HTTPLedger) DelegatePermission(ctx context.Context, recipient, path string) (string, error) {
	var out delegateResponse
	resp, err := l.client.R().
		SetContext(ctx).
		SetBody(delegateRequest{Recipient: recipient, Path: path}).
		SetResult(&out).
		Post("/v1/permissions/delegate")
	if err != nil {
		return "", fmt.Errorf("delegate permission: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("delegate permission: status %d", resp.StatusCode())
	}

	l.logger.WithFields(logging.Fields{
		"recipient": recipient,
		"path":      path,
		"tx_hash":   out.TxHash,
	}).Info("Permission delegated on chain")

	return out.TxHash, nil
}
