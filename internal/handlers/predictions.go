package handlers

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"

	api "github.com/renlabs-dev/prediction-swarm/pkg/api/swarm"
	"github.com/renlabs-dev/prediction-swarm/pkg/auth"
	"github.com/renlabs-dev/prediction-swarm/pkg/database"
	"github.com/renlabs-dev/prediction-swarm/pkg/signing"
)

// maxSentAtSkew bounds how stale a prediction's sentAt may be.
const maxSentAtSkew = 5 * time.Minute

// StorePredictions ingests a batch of signed predictions. Signatures and
// timestamps are checked before the transaction; inside it, per-tweet
// advisory locks serialize concurrent agents and the whole batch commits or
// rolls back as one.
func StorePredictions(c *gin.Context) {
	agentAddress := auth.GetAgentAddress(c)

	// The body is a bare JSON array of prediction items.
	var input []api.StorePredictionItem
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, httpErrorf(http.StatusBadRequest, "invalid request body: "+err.Error()))
		return
	}

	if len(input) == 0 {
		c.JSON(http.StatusOK, api.StorePredictionsResponse{Inserted: 0})
		return
	}
	if len(input) > api.MaxBatchSize {
		if metrics != nil {
			metrics.BatchesRejected.WithLabelValues("batch_too_large").Inc()
		}
		respondError(c, httpErrorf(http.StatusBadRequest,
			fmt.Sprintf("batch size too large, maximum %d predictions per request", api.MaxBatchSize)))
		return
	}

	// Freshness and signature checks happen before any database work
	now := time.Now().UTC()
	for i, item := range input {
		skew := now.Sub(item.Content.SentAt)
		if skew < 0 {
			skew = -skew
		}
		if skew > maxSentAtSkew {
			if metrics != nil {
				metrics.BatchesRejected.WithLabelValues("stale_timestamp").Inc()
			}
			respondError(c, httpErrorf(http.StatusBadRequest,
				fmt.Sprintf("invalid timestamp for prediction %d: sentAt is %ds off (max %ds allowed)",
					i, int(skew.Seconds()), int(maxSentAtSkew.Seconds()))))
			return
		}

		ok, err := signing.VerifyContent(agentAddress, item.Content, item.Metadata.Signature)
		if err != nil || !ok {
			if metrics != nil {
				metrics.BatchesRejected.WithLabelValues("bad_signature").Inc()
			}
			respondError(c, httpErrorf(http.StatusBadRequest,
				fmt.Sprintf("invalid signature for prediction %d: signature does not match content or was not signed by authenticated agent", i)))
			return
		}
	}

	var resp api.StorePredictionsResponse
	err := database.WithTransaction(c.Request.Context(), db, func(tx *sql.Tx) error {
		out, err := storeBatch(tx, agentAddress, input)
		if err != nil {
			return err
		}
		resp = *out
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if metrics != nil {
		metrics.PredictionsStored.WithLabelValues(agentAddress).Add(float64(resp.Inserted))
	}
	logger.WithField("agent_address", agentAddress).
		WithField("inserted", resp.Inserted).
		Info("Prediction batch stored")
	c.JSON(http.StatusOK, resp)
}

func storeBatch(tx *sql.Tx, agentAddress string, input []api.StorePredictionItem) (*api.StorePredictionsResponse, error) {
	// Advisory locks over the distinct tweet ids, ascending, so concurrent
	// batches touching the same tweets serialize without deadlocking.
	tweetIDs := distinctTweetIDs(input)
	if _, err := tx.Exec(
		`SELECT pg_advisory_xact_lock(id) FROM unnest($1::bigint[]) AS id ORDER BY id`,
		pq.Array(tweetIDs),
	); err != nil {
		return nil, fmt.Errorf("acquire tweet locks: %w", err)
	}

	topicMap, err := resolveTopics(tx, input)
	if err != nil {
		return nil, err
	}

	predictionIDs, err := resolvePredictions(tx, tweetIDs)
	if err != nil {
		return nil, err
	}

	parsedIDs := make([]string, 0, len(input))
	for _, item := range input {
		topicID := topicMap[normalizeTopic(item.Content.Prediction.TopicName)]
		predictionID := predictionIDs[item.Content.TweetID]

		target, err := json.Marshal(item.Content.Prediction.Target)
		if err != nil {
			return nil, fmt.Errorf("marshal target: %w", err)
		}
		timeframe, err := json.Marshal(item.Content.Prediction.Timeframe)
		if err != nil {
			return nil, fmt.Errorf("marshal timeframe: %w", err)
		}

		var parsedID string
		err = tx.QueryRow(
			`INSERT INTO parsed_prediction
			 (prediction_id, topic_id, filter_agent_id, filter_agent_signature,
			  agent_alleged_timestamp, target, timeframe, prediction_quality,
			  brief_rationale, llm_confidence, vagueness, context)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 RETURNING id`,
			predictionID, topicID, agentAddress, item.Metadata.Signature,
			item.Content.SentAt, target, timeframe, item.Content.Prediction.PredictionQuality,
			item.Content.Prediction.BriefRationale, item.Content.Prediction.LLMConfidence,
			item.Content.Prediction.Vagueness, []byte(item.Content.Prediction.Context),
		).Scan(&parsedID)
		if err != nil {
			return nil, fmt.Errorf("insert parsed prediction: %w", err)
		}
		parsedIDs = append(parsedIDs, parsedID)
	}

	receiptTimestamp := time.Now().UTC().Format(time.RFC3339)
	_, receiptSig, err := serverKeypair.SignContent(api.StoreReceiptContent{
		ParsedPredictionIDs: parsedIDs,
		Timestamp:           receiptTimestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("sign receipt: %w", err)
	}

	return &api.StorePredictionsResponse{
		Inserted: len(input),
		Receipt: api.StoreReceipt{
			ParsedPredictionIDs: parsedIDs,
			Timestamp:           receiptTimestamp,
			Signature:           receiptSig,
			ServerAddress:       serverKeypair.Address(),
		},
	}, nil
}

// resolveTopics looks up the batch's topic names, creating missing ones.
// ON CONFLICT DO NOTHING plus a re-query covers races with other batches.
func resolveTopics(tx *sql.Tx, input []api.StorePredictionItem) (map[string]int, error) {
	seen := make(map[string]struct{})
	var names []string
	for _, item := range input {
		name := normalizeTopic(item.Content.Prediction.TopicName)
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}

	topicMap := make(map[string]int, len(names))
	if err := queryTopics(tx, names, topicMap); err != nil {
		return nil, err
	}

	var missing []string
	for _, name := range names {
		if _, ok := topicMap[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		rows, err := tx.Query(
			`INSERT INTO prediction_topic (name)
			 SELECT unnest($1::varchar[])
			 ON CONFLICT (name) DO NOTHING
			 RETURNING id, name`,
			pq.Array(missing),
		)
		if err != nil {
			return nil, fmt.Errorf("insert topics: %w", err)
		}
		if err := scanTopics(rows, topicMap); err != nil {
			return nil, err
		}

		// Topics inserted concurrently hit the conflict clause and are not
		// returned; fetch them explicitly.
		var still []string
		for _, name := range missing {
			if _, ok := topicMap[name]; !ok {
				still = append(still, name)
			}
		}
		if len(still) > 0 {
			if err := queryTopics(tx, still, topicMap); err != nil {
				return nil, err
			}
		}
	}

	for _, name := range names {
		if _, ok := topicMap[name]; !ok {
			return nil, fmt.Errorf("topic %q could not be resolved", name)
		}
	}
	return topicMap, nil
}

func queryTopics(tx *sql.Tx, names []string, topicMap map[string]int) error {
	rows, err := tx.Query(
		`SELECT id, name FROM prediction_topic WHERE name = ANY($1)`,
		pq.Array(names),
	)
	if err != nil {
		return fmt.Errorf("query topics: %w", err)
	}
	return scanTopics(rows, topicMap)
}

func scanTopics(rows *sql.Rows, topicMap map[string]int) error {
	defer rows.Close()
	for rows.Next() {
		var id int
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return fmt.Errorf("scan topic: %w", err)
		}
		topicMap[name] = id
	}
	return rows.Err()
}

// resolvePredictions returns the prediction id for every tweet, creating the
// prediction lazily on a tweet's first extraction. Unknown tweets are a 404.
func resolvePredictions(tx *sql.Tx, tweetIDs []int64) (map[int64]string, error) {
	rows, err := tx.Query(
		`SELECT id, prediction_id FROM scraped_tweet WHERE id = ANY($1)`,
		pq.Array(tweetIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("query tweets: %w", err)
	}
	defer rows.Close()

	existing := make(map[int64]sql.NullString, len(tweetIDs))
	for rows.Next() {
		var id int64
		var predictionID sql.NullString
		if err := rows.Scan(&id, &predictionID); err != nil {
			return nil, fmt.Errorf("scan tweet: %w", err)
		}
		existing[id] = predictionID
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[int64]string, len(tweetIDs))
	for _, tweetID := range tweetIDs {
		predictionID, ok := existing[tweetID]
		if !ok {
			return nil, httpErrorf(http.StatusNotFound, fmt.Sprintf("tweet %d not found", tweetID))
		}
		if predictionID.Valid {
			out[tweetID] = predictionID.String
			continue
		}

		var newID string
		if err := tx.QueryRow(
			`INSERT INTO prediction (version) VALUES (1) RETURNING id`,
		).Scan(&newID); err != nil {
			return nil, fmt.Errorf("create prediction: %w", err)
		}
		if _, err := tx.Exec(
			`UPDATE scraped_tweet SET prediction_id = $1 WHERE id = $2`,
			newID, tweetID,
		); err != nil {
			return nil, fmt.Errorf("link prediction to tweet: %w", err)
		}
		out[tweetID] = newID
	}
	return out, nil
}

func distinctTweetIDs(input []api.StorePredictionItem) []int64 {
	seen := make(map[int64]struct{}, len(input))
	var ids []int64
	for _, item := range input {
		if _, ok := seen[item.Content.TweetID]; !ok {
			seen[item.Content.TweetID] = struct{}{}
			ids = append(ids, item.Content.TweetID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func normalizeTopic(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
