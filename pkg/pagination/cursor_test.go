package pagination

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	createdAt := time.Date(2025, 6, 1, 12, 0, 0, 123456000, time.UTC)
	encoded := EncodeCursor(createdAt, 1234567890123456789)

	cursor, err := DecodeCursor(encoded)
	if err != nil {
		t.Fatalf("DecodeCursor failed: %v", err)
	}
	if cursor.CreatedAtMicros != createdAt.UnixMicro() {
		t.Errorf("sort key mismatch: got %d, want %d", cursor.CreatedAtMicros, createdAt.UnixMicro())
	}
	if cursor.TweetID != 1234567890123456789 {
		t.Errorf("tweet id mismatch: got %d", cursor.TweetID)
	}
	if !cursor.CreatedAt().Equal(createdAt) {
		t.Errorf("created at mismatch: got %v, want %v", cursor.CreatedAt(), createdAt)
	}
}

func TestDecodeEmptyCursorIsFeedStart(t *testing.T) {
	cursor, err := DecodeCursor("")
	if err != nil {
		t.Fatalf("DecodeCursor failed: %v", err)
	}
	if cursor.CreatedAtMicros != 0 || cursor.TweetID != 0 {
		t.Errorf("expected zero cursor, got %+v", cursor)
	}
}

func TestDecodeCursorErrors(t *testing.T) {
	cases := map[string]string{
		"not base64":     "!!!not-base64!!!",
		"missing prefix": base64.StdEncoding.EncodeToString([]byte("ts:123:id:456")),
		"missing id":     base64.StdEncoding.EncodeToString([]byte("sk:123")),
		"bad sort key":   base64.StdEncoding.EncodeToString([]byte("sk:abc:id:456")),
		"bad id":         base64.StdEncoding.EncodeToString([]byte("sk:123:id:xyz")),
	}
	for name, encoded := range cases {
		if _, err := DecodeCursor(encoded); err == nil {
			t.Errorf("%s: expected error for cursor %q", name, encoded)
		}
	}
}

func TestClampLimit(t *testing.T) {
	if got := ClampLimit(0); got != DefaultLimit {
		t.Errorf("ClampLimit(0) = %d, want %d", got, DefaultLimit)
	}
	if got := ClampLimit(-5); got != DefaultLimit {
		t.Errorf("ClampLimit(-5) = %d, want %d", got, DefaultLimit)
	}
	if got := ClampLimit(1000); got != MaxLimit {
		t.Errorf("ClampLimit(1000) = %d, want %d", got, MaxLimit)
	}
	if got := ClampLimit(25); got != 25 {
		t.Errorf("ClampLimit(25) = %d, want 25", got)
	}
}
