package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	api "github.com/renlabs-dev/prediction-swarm/pkg/api/swarm"
	"github.com/renlabs-dev/prediction-swarm/pkg/auth"
	"github.com/renlabs-dev/prediction-swarm/pkg/logging"
	"github.com/renlabs-dev/prediction-swarm/pkg/signing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *signing.Keypair) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	kp, err := signing.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair failed: %v", err)
	}
	client := NewClient(Config{
		BaseURL: srv.URL,
		Keypair: kp,
		Timeout: 5 * time.Second,
		Logger:  logging.NewLogger(),
	})
	return client, kp
}

func TestGetTweetsNextSendsSignedHeaders(t *testing.T) {
	var gotAddress, gotSignature, gotTimestamp, gotCursor string
	client, kp := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAddress = r.Header.Get(auth.HeaderAgentAddress)
		gotSignature = r.Header.Get(auth.HeaderSignature)
		gotTimestamp = r.Header.Get(auth.HeaderTimestamp)
		gotCursor = r.URL.Query().Get("from")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.GetTweetsNextResponse{
			Tweets:  []api.TweetWithContext{},
			HasMore: false,
		})
	})

	resp, err := client.GetTweetsNext(context.Background(), "c0ffee", 25, true)
	if err != nil {
		t.Fatalf("GetTweetsNext failed: %v", err)
	}
	if resp.HasMore {
		t.Error("unexpected hasMore")
	}

	if gotAddress != kp.Address() {
		t.Errorf("address header = %s, want %s", gotAddress, kp.Address())
	}
	if gotSignature == "" || gotTimestamp == "" {
		t.Error("missing signature or timestamp header")
	}
	if gotCursor != "c0ffee" {
		t.Errorf("cursor param = %s", gotCursor)
	}

	// Headers must verify server-side
	ok, err := signing.VerifyContent(gotAddress, map[string]string{
		"address":   gotAddress,
		"timestamp": gotTimestamp,
	}, gotSignature)
	if err != nil || !ok {
		t.Errorf("auth headers do not verify: ok=%v err=%v", ok, err)
	}
}

func TestStorePredictionsDecodesResponse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/storePredictions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		// The wire body is a bare array of items, not a wrapper object
		var items []api.StorePredictionItem
		if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(items) != 1 {
			t.Errorf("expected 1 prediction, got %d", len(items))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.StorePredictionsResponse{
			Inserted: 1,
			Receipt: api.StoreReceipt{
				ParsedPredictionIDs: []string{"p-1"},
				Timestamp:           time.Now().UTC().Format(time.RFC3339),
				Signature:           "0xsig",
			},
		})
	})

	resp, err := client.StorePredictions(context.Background(), []api.StorePredictionItem{{}})
	if err != nil {
		t.Fatalf("StorePredictions failed: %v", err)
	}
	if resp.Inserted != 1 {
		t.Errorf("inserted = %d", resp.Inserted)
	}
	if len(resp.Receipt.ParsedPredictionIDs) != 1 {
		t.Errorf("receipt ids = %v", resp.Receipt.ParsedPredictionIDs)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "tweet 42 not found"})
	})

	_, err := client.StorePredictions(context.Background(), []api.StorePredictionItem{{}})
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
	if apiErr.Body.Error != "tweet 42 not found" {
		t.Errorf("body = %+v", apiErr.Body)
	}
}
