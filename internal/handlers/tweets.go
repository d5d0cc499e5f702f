package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"

	api "github.com/renlabs-dev/prediction-swarm/pkg/api/swarm"
	"github.com/renlabs-dev/prediction-swarm/pkg/auth"
	"github.com/renlabs-dev/prediction-swarm/pkg/pagination"
)

type tweetRow struct {
	api.TweetView
	sortKey int64
}

// GetTweetsNext serves the next feed page after the caller's cursor. Only
// tweets by tracked authors in fully scraped conversations are served as main
// tweets; each comes with its reply chain as context.
func GetTweetsNext(c *gin.Context) {
	agentAddress := auth.GetAgentAddress(c)

	cursor, err := pagination.DecodeCursor(c.Query("from"))
	if err != nil {
		respondError(c, httpErrorf(http.StatusBadRequest, "invalid cursor: "+err.Error()))
		return
	}

	limit := pagination.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, httpErrorf(http.StatusBadRequest, "invalid limit"))
			return
		}
		limit = parsed
	}
	limit = pagination.ClampLimit(limit)

	excludeProcessed := c.Query("excludeProcessedByAgent") == "true"

	mains, err := queryMainTweets(cursor, limit, excludeProcessed, agentAddress)
	if err != nil {
		respondError(c, err)
		return
	}

	contextByConversation, err := queryConversationTweets(mains)
	if err != nil {
		respondError(c, err)
		return
	}

	tweets := make([]api.TweetWithContext, 0, len(mains))
	for _, main := range mains {
		tweets = append(tweets, api.TweetWithContext{
			Main:    main.TweetView,
			Context: replyChainContext(main, contextByConversation),
		})
	}

	var nextCursor *string
	if len(mains) > 0 {
		last := mains[len(mains)-1]
		encoded := pagination.Cursor{CreatedAtMicros: last.sortKey, TweetID: last.ID}.Encode()
		nextCursor = &encoded
	}

	if metrics != nil {
		metrics.TweetsServed.WithLabelValues(agentAddress).Add(float64(len(tweets)))
	}
	c.JSON(http.StatusOK, api.GetTweetsNextResponse{
		Tweets:     tweets,
		NextCursor: nextCursor,
		HasMore:    len(mains) == limit,
	})
}

func queryMainTweets(cursor pagination.Cursor, limit int, excludeProcessed bool, agentAddress string) ([]tweetRow, error) {
	query := `
		SELECT t.id, t.text, t.author_id, u.username, t.date,
		       (EXTRACT(EPOCH FROM t.created_at) * 1000000)::bigint AS sort_key,
		       t.created_at, t.quoted_id, t.conversation_id, t.parent_tweet_id
		FROM scraped_tweet t
		JOIN twitter_user u ON u.id = t.author_id
		WHERE ((EXTRACT(EPOCH FROM t.created_at) * 1000000)::bigint, t.id) > ($1, $2)
		  AND NOT EXISTS (
		      SELECT 1 FROM twitter_scraping_job j
		      WHERE j.conversation_id = t.conversation_id
		  )`
	args := []interface{}{cursor.CreatedAtMicros, cursor.TweetID}

	if excludeProcessed {
		query += `
		  AND NOT EXISTS (
		      SELECT 1 FROM parsed_prediction pp
		      WHERE pp.prediction_id = t.prediction_id
		        AND pp.filter_agent_id = $3
		  )`
		args = append(args, agentAddress)
	}

	query += fmt.Sprintf(`
		ORDER BY t.created_at, t.id
		LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feed page: %w", err)
	}
	defer rows.Close()

	var mains []tweetRow
	for rows.Next() {
		var row tweetRow
		if err := rows.Scan(
			&row.ID, &row.Text, &row.AuthorID, &row.AuthorUsername, &row.Date,
			&row.sortKey, &row.CreatedAt, &row.QuotedID, &row.ConversationID, &row.ParentTweetID,
		); err != nil {
			return nil, fmt.Errorf("scan feed row: %w", err)
		}
		mains = append(mains, row)
	}
	return mains, rows.Err()
}

// queryConversationTweets loads every tweet of the main tweets' conversations
// in one query, keyed by conversation id then tweet id.
func queryConversationTweets(mains []tweetRow) (map[int64]map[int64]api.TweetView, error) {
	var conversationIDs []int64
	seen := make(map[int64]struct{})
	for _, main := range mains {
		if main.ConversationID == nil {
			continue
		}
		if _, ok := seen[*main.ConversationID]; !ok {
			seen[*main.ConversationID] = struct{}{}
			conversationIDs = append(conversationIDs, *main.ConversationID)
		}
	}

	out := make(map[int64]map[int64]api.TweetView)
	if len(conversationIDs) == 0 {
		return out, nil
	}

	rows, err := db.Query(`
		SELECT t.id, t.text, t.author_id, COALESCE(u.username, ''), t.date,
		       t.created_at, t.quoted_id, t.conversation_id, t.parent_tweet_id
		FROM scraped_tweet t
		LEFT JOIN twitter_user u ON u.id = t.author_id
		WHERE t.conversation_id = ANY($1)`,
		pq.Array(conversationIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("query conversation tweets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var view api.TweetView
		if err := rows.Scan(
			&view.ID, &view.Text, &view.AuthorID, &view.AuthorUsername, &view.Date,
			&view.CreatedAt, &view.QuotedID, &view.ConversationID, &view.ParentTweetID,
		); err != nil {
			return nil, fmt.Errorf("scan conversation tweet: %w", err)
		}
		if view.ConversationID == nil {
			continue
		}
		conv, ok := out[*view.ConversationID]
		if !ok {
			conv = make(map[int64]api.TweetView)
			out[*view.ConversationID] = conv
		}
		conv[view.ID] = view
	}
	return out, rows.Err()
}

// replyChainContext walks parent links from the main tweet to the
// conversation root and returns the ancestors keyed by id.
func replyChainContext(main tweetRow, byConversation map[int64]map[int64]api.TweetView) map[string]api.TweetView {
	context := make(map[string]api.TweetView)
	if main.ConversationID == nil {
		return context
	}
	conv, ok := byConversation[*main.ConversationID]
	if !ok {
		return context
	}

	// Guard against parent cycles in scraped data
	visited := map[int64]struct{}{main.ID: {}}
	currentID := main.ParentTweetID
	for currentID != nil {
		if _, seen := visited[*currentID]; seen {
			break
		}
		tweet, ok := conv[*currentID]
		if !ok {
			break
		}
		visited[tweet.ID] = struct{}{}
		context[strconv.FormatInt(tweet.ID, 10)] = tweet
		currentID = tweet.ParentTweetID
	}
	return context
}
