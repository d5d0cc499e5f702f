package filter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	api "github.com/renlabs-dev/prediction-swarm/pkg/api/swarm"
	"github.com/renlabs-dev/prediction-swarm/pkg/logging"
	"github.com/renlabs-dev/prediction-swarm/pkg/signing"
)

// FeedClient is the slice of the swarm client the runner uses.
type FeedClient interface {
	GetTweetsNext(ctx context.Context, cursor string, limit int, excludeProcessed bool) (*api.GetTweetsNextResponse, error)
	StorePredictions(ctx context.Context, items []api.StorePredictionItem) (*api.StorePredictionsResponse, error)
}

// RunnerConfig configures the agent loop.
type RunnerConfig struct {
	// BatchSize is the feed page size per iteration.
	BatchSize int
	// PollInterval is the sleep when the feed is drained.
	PollInterval time.Duration
	// CursorPath is the file the feed cursor is persisted to.
	CursorPath string
	// ServerAddress, when set, is used to verify batch receipts.
	ServerAddress string
}

// Runner drives the extraction pipeline over the tweet feed: pull a page,
// extract, submit, advance the cursor, repeat.
type Runner struct {
	client    FeedClient
	extractor *Extractor
	cfg       RunnerConfig
	logger    logging.Logger

	fetchRetry retrypolicy.RetryPolicy[*api.GetTweetsNextResponse]
	storeRetry retrypolicy.RetryPolicy[*api.StorePredictionsResponse]
}

// NewRunner creates the agent loop.
func NewRunner(client FeedClient, extractor *Extractor, cfg RunnerConfig, logger logging.Logger) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}

	return &Runner{
		client:    client,
		extractor: extractor,
		cfg:       cfg,
		logger:    logger,
		fetchRetry: retrypolicy.NewBuilder[*api.GetTweetsNextResponse]().
			WithBackoff(time.Second, 30*time.Second).
			WithMaxRetries(3).
			WithJitterFactor(0.1).
			Build(),
		storeRetry: retrypolicy.NewBuilder[*api.StorePredictionsResponse]().
			WithBackoff(time.Second, 30*time.Second).
			WithMaxRetries(3).
			WithJitterFactor(0.1).
			Build(),
	}
}

// Run loops until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	cursor, err := r.loadCursor()
	if err != nil {
		return err
	}
	r.logger.WithField("cursor", cursor).Info("Filter loop starting")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		next, hasMore, err := r.runOnce(ctx, cursor)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			r.logger.WithError(err).Error("Feed iteration failed")
			if !sleepCtx(ctx, r.cfg.PollInterval) {
				return ctx.Err()
			}
			continue
		}

		if next != cursor && next != "" {
			cursor = next
			if err := r.saveCursor(cursor); err != nil {
				r.logger.WithError(err).Warn("Failed to persist cursor")
			}
		}

		if !hasMore {
			stats := r.extractor.Stats()
			r.logger.WithFields(logging.Fields{
				"processed":     stats.Processed,
				"filtered":      stats.Filtered,
				"no_prediction": stats.NoPrediction,
				"low_quality":   stats.LowQuality,
				"extracted":     stats.Extracted,
			}).Info("Feed drained, polling")
			if !sleepCtx(ctx, r.cfg.PollInterval) {
				return ctx.Err()
			}
		}
	}
}

// runOnce processes one feed page. Returns the cursor to continue from and
// whether more pages are immediately available.
func (r *Runner) runOnce(ctx context.Context, cursor string) (string, bool, error) {
	page, err := failsafe.With(r.fetchRetry).WithContext(ctx).Get(func() (*api.GetTweetsNextResponse, error) {
		return r.client.GetTweetsNext(ctx, cursor, r.cfg.BatchSize, true)
	})
	if err != nil {
		return cursor, false, fmt.Errorf("fetch feed page: %w", err)
	}

	var items []api.StorePredictionItem
	for _, tweet := range page.Tweets {
		item, err := r.extractor.Extract(ctx, tweet)
		if err != nil {
			// Per-post failures are logged and skipped; the batch goes on
			r.logger.WithError(err).WithField("tweet_id", tweet.Main.ID).
				Warn("Extraction failed, skipping tweet")
			continue
		}
		if item != nil {
			items = append(items, *item)
		}
	}

	if len(items) > 0 {
		resp, err := failsafe.With(r.storeRetry).WithContext(ctx).Get(func() (*api.StorePredictionsResponse, error) {
			return r.client.StorePredictions(ctx, items)
		})
		if err != nil {
			return cursor, false, fmt.Errorf("store predictions: %w", err)
		}
		if err := r.verifyReceipt(resp.Receipt); err != nil {
			return cursor, false, err
		}
		r.logger.WithFields(logging.Fields{
			"submitted": len(items),
			"inserted":  resp.Inserted,
		}).Info("Prediction batch accepted")
	}

	next := cursor
	if page.NextCursor != nil {
		next = *page.NextCursor
	}
	return next, page.HasMore, nil
}

func (r *Runner) verifyReceipt(receipt api.StoreReceipt) error {
	if r.cfg.ServerAddress == "" {
		return nil
	}
	ok, err := signing.VerifyContent(r.cfg.ServerAddress, api.StoreReceiptContent{
		ParsedPredictionIDs: receipt.ParsedPredictionIDs,
		Timestamp:           receipt.Timestamp,
	}, receipt.Signature)
	if err != nil {
		return fmt.Errorf("verify receipt: %w", err)
	}
	if !ok {
		return fmt.Errorf("receipt signature does not match server address %s", r.cfg.ServerAddress)
	}
	return nil
}

func (r *Runner) loadCursor() (string, error) {
	if r.cfg.CursorPath == "" {
		return "", nil
	}
	raw, err := os.ReadFile(r.cfg.CursorPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read cursor file: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (r *Runner) saveCursor(cursor string) error {
	if r.cfg.CursorPath == "" {
		return nil
	}
	if dir := filepath.Dir(r.cfg.CursorPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cursor dir: %w", err)
		}
	}
	if err := os.WriteFile(r.cfg.CursorPath, []byte(cursor+"\n"), 0o644); err != nil {
		return fmt.Errorf("write cursor file: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
