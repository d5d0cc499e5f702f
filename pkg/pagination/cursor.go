// Package pagination provides cursor-based pagination for the tweet feed.
// Cursors encode a stable keyset position (creation time in epoch microseconds
// plus tweet id) as an opaque string, so pages stay consistent while new
// tweets land behind the cursor.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultLimit is the default page size if not specified
	DefaultLimit = 50
	// MaxLimit is the maximum allowed page size
	MaxLimit = 100
)

// Cursor represents a stable pagination position in the feed.
type Cursor struct {
	// CreatedAtMicros is the row's creation time in epoch microseconds.
	CreatedAtMicros int64
	// TweetID breaks ties between rows created in the same microsecond.
	TweetID int64
}

// Encode serializes the cursor to an opaque string for clients.
// Format: base64("sk:{created_at_micros}:id:{tweet_id}")
func (c Cursor) Encode() string {
	raw := fmt.Sprintf("sk:%d:id:%d", c.CreatedAtMicros, c.TweetID)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// CreatedAt returns the cursor position as a time.Time.
func (c Cursor) CreatedAt() time.Time {
	return time.UnixMicro(c.CreatedAtMicros).UTC()
}

// DecodeCursor parses an encoded cursor string. An empty string decodes to
// the zero cursor (start of the feed).
func DecodeCursor(encoded string) (Cursor, error) {
	if encoded == "" {
		return Cursor{}, nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	raw := string(data)
	if !strings.HasPrefix(raw, "sk:") {
		return Cursor{}, fmt.Errorf("invalid cursor format: missing sk prefix")
	}

	parts := strings.SplitN(raw[len("sk:"):], ":id:", 2)
	if len(parts) != 2 {
		return Cursor{}, fmt.Errorf("invalid cursor format: missing id segment")
	}

	sortKey, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor sort key: %w", err)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor id: %w", err)
	}

	return Cursor{CreatedAtMicros: sortKey, TweetID: id}, nil
}

// EncodeCursor is a convenience function to create and encode a cursor.
func EncodeCursor(createdAt time.Time, tweetID int64) string {
	return Cursor{CreatedAtMicros: createdAt.UnixMicro(), TweetID: tweetID}.Encode()
}

// ClampLimit ensures limit is within valid bounds.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
