package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// JSONB is a custom type for handling JSONB fields
type JSONB json.RawMessage

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSONB(v)
	}
	return nil
}

// TwitterUser is a tracked author. Only tweets from tracked authors are
// served as main tweets in the feed.
type TwitterUser struct {
	ID        int64     `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ScrapingJob marks a conversation whose scraping is still in flight.
type ScrapingJob struct {
	ID             int       `json:"id" db:"id"`
	ConversationID int64     `json:"conversation_id" db:"conversation_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ScrapedTweet is a raw tweet persisted by the scraper.
type ScrapedTweet struct {
	ID             int64     `json:"id" db:"id"`
	Text           string    `json:"text" db:"text"`
	AuthorID       int64     `json:"author_id" db:"author_id"`
	Date           time.Time `json:"date" db:"date"`
	QuotedID       *int64    `json:"quoted_id" db:"quoted_id"`
	ConversationID *int64    `json:"conversation_id" db:"conversation_id"`
	ParentTweetID  *int64    `json:"parent_tweet_id" db:"parent_tweet_id"`
	PredictionID   *string   `json:"prediction_id" db:"prediction_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Prediction anchors all extractions for one tweet.
type Prediction struct {
	ID        string    `json:"id" db:"id"`
	Version   int       `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PredictionTopic is a normalized topic name.
type PredictionTopic struct {
	ID        int       `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ParsedPrediction is one agent's extraction of a prediction, with the
// agent's signature kept as an audit trail.
type ParsedPrediction struct {
	ID                    string    `json:"id" db:"id"`
	PredictionID          string    `json:"prediction_id" db:"prediction_id"`
	TopicID               int       `json:"topic_id" db:"topic_id"`
	FilterAgentID         string    `json:"filter_agent_id" db:"filter_agent_id"`
	FilterAgentSignature  string    `json:"filter_agent_signature" db:"filter_agent_signature"`
	AgentAllegedTimestamp time.Time `json:"agent_alleged_timestamp" db:"agent_alleged_timestamp"`
	Target                JSONB     `json:"target" db:"target"`
	Timeframe             JSONB     `json:"timeframe" db:"timeframe"`
	PredictionQuality     int       `json:"prediction_quality" db:"prediction_quality"`
	BriefRationale        string    `json:"brief_rationale" db:"brief_rationale"`
	LLMConfidence         string    `json:"llm_confidence" db:"llm_confidence"`
	Vagueness             *string   `json:"vagueness" db:"vagueness"`
	Context               JSONB     `json:"context" db:"context"`
	CreatedAt             time.Time `json:"created_at" db:"created_at"`
}

// UserCredits is the credit balance for one agent address.
type UserCredits struct {
	UserKey        string    `json:"user_key" db:"user_key"`
	Balance        string    `json:"balance" db:"balance"`
	TotalPurchased string    `json:"total_purchased" db:"total_purchased"`
	TotalSpent     string    `json:"total_spent" db:"total_spent"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// CreditPurchase records one verified on-chain transfer converted to credits.
type CreditPurchase struct {
	ID             string    `json:"id" db:"id"`
	UserKey        string    `json:"user_key" db:"user_key"`
	TxHash         string    `json:"tx_hash" db:"tx_hash"`
	TorusAmount    string    `json:"torus_amount" db:"torus_amount"`
	CreditsGranted string    `json:"credits_granted" db:"credits_granted"`
	BlockNumber    *int64    `json:"block_number" db:"block_number"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
