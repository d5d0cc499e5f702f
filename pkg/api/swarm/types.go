// Package swarm defines the wire contract between the swarm API and filter
// agents. All request and response bodies live here so the server handlers
// and the agent client share one set of types.
package swarm

import (
	"encoding/json"
	"time"
)

// ContentVersion is the current version of the signed prediction content format.
const ContentVersion = 1

// MaxBatchSize bounds a single storePredictions call.
const MaxBatchSize = 500

// TweetView is a single tweet as served by the feed.
type TweetView struct {
	ID             int64     `json:"id,string"`
	Text           string    `json:"text"`
	AuthorID       int64     `json:"authorId,string"`
	AuthorUsername string    `json:"authorUsername,omitempty"`
	Date           time.Time `json:"date"`
	QuotedID       *int64    `json:"quotedId,string,omitempty"`
	ConversationID *int64    `json:"conversationId,string,omitempty"`
	ParentTweetID  *int64    `json:"parentTweetId,string,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// TweetWithContext pairs a main tweet with its reply-chain context, keyed by
// tweet id (decimal string).
type TweetWithContext struct {
	Main    TweetView            `json:"main"`
	Context map[string]TweetView `json:"context"`
}

// GetTweetsNextResponse is a page of the tweet feed.
type GetTweetsNextResponse struct {
	Tweets     []TweetWithContext `json:"tweets"`
	NextCursor *string            `json:"nextCursor"`
	HasMore    bool               `json:"hasMore"`
}

// SliceSource identifies the post a text slice points into.
type SliceSource struct {
	TweetID int64 `json:"tweetId,string"`
}

// PostSlice is a half-open byte range into a post's text.
type PostSlice struct {
	Source SliceSource `json:"source"`
	Start  int         `json:"start"`
	End    int         `json:"end"`
}

// PredictionDetail is the extracted prediction body. Target and Timeframe are
// text slices into the source tweet; Context is the topic-specific context
// object validated against the topic's schema.
type PredictionDetail struct {
	Target            []PostSlice     `json:"target"`
	Timeframe         []PostSlice     `json:"timeframe"`
	TopicName         string          `json:"topicName"`
	PredictionQuality int             `json:"predictionQuality"`
	BriefRationale    string          `json:"briefRationale"`
	LLMConfidence     string          `json:"llmConfidence"`
	Vagueness         *string         `json:"vagueness,omitempty"`
	Context           json.RawMessage `json:"context"`
}

// PredictionContent is the signed payload of one extraction. The signature in
// the item metadata covers the canonical hash of this structure.
type PredictionContent struct {
	TweetID    int64            `json:"tweetId,string"`
	SentAt     time.Time        `json:"sentAt"`
	Prediction PredictionDetail `json:"prediction"`
}

// StorePredictionItemMetadata carries the agent's commitment over the content.
type StorePredictionItemMetadata struct {
	Signature string `json:"signature"`
	Version   int    `json:"version"`
}

// StorePredictionItem is one entry in a storePredictions batch.
type StorePredictionItem struct {
	Content  PredictionContent           `json:"content"`
	Metadata StorePredictionItemMetadata `json:"metadata"`
}

// StoreReceiptContent is what the server signs to acknowledge an accepted batch.
type StoreReceiptContent struct {
	ParsedPredictionIDs []string `json:"parsedPredictionIds"`
	Timestamp           string   `json:"timestamp"`
}

// StoreReceipt is the server's signed acknowledgement.
type StoreReceipt struct {
	ParsedPredictionIDs []string `json:"parsedPredictionIds"`
	Timestamp           string   `json:"timestamp"`
	Signature           string   `json:"signature"`
	ServerAddress       string   `json:"serverAddress"`
}

// StorePredictionsResponse is returned on a fully accepted batch.
type StorePredictionsResponse struct {
	Inserted int          `json:"inserted"`
	Receipt  StoreReceipt `json:"receipt"`
}

// TxData references an on-chain transfer backing a credit purchase.
type TxData struct {
	TxHash    string `json:"txHash"`
	BlockHash string `json:"blockHash"`
}

// GainPermissionRequest optionally buys credits before the permission check.
type GainPermissionRequest struct {
	TxData *TxData `json:"txData,omitempty"`
}

// GainPermissionResponse reports the delegation result.
type GainPermissionResponse struct {
	Granted        bool   `json:"granted"`
	PermissionPath string `json:"permissionPath"`
	TxHash         string `json:"txHash,omitempty"`
}

// CreditBalanceResponse is the address-scoped credit balance.
type CreditBalanceResponse struct {
	Address        string `json:"address"`
	Balance        string `json:"balance"`
	TotalPurchased string `json:"totalPurchased"`
	TotalSpent     string `json:"totalSpent"`
}

// CreditPurchaseRecord is one entry in the purchase history.
type CreditPurchaseRecord struct {
	ID             string    `json:"id"`
	TxHash         string    `json:"txHash"`
	TorusAmount    string    `json:"torusAmount"`
	CreditsGranted string    `json:"creditsGranted"`
	BlockNumber    *int64    `json:"blockNumber,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// CreditHistoryResponse is the purchase history for an address.
type CreditHistoryResponse struct {
	Address   string                 `json:"address"`
	Purchases []CreditPurchaseRecord `json:"purchases"`
}

// PurchaseCreditsRequest verifies a transfer and credits the caller.
type PurchaseCreditsRequest struct {
	TxData TxData `json:"txData"`
}

// PurchaseCreditsResponse reports the granted credits and new balance.
type PurchaseCreditsResponse struct {
	CreditsGranted string `json:"creditsGranted"`
	Balance        string `json:"balance"`
}

// ErrorResponse is the standard error body for all endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
