package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	api "github.com/renlabs-dev/prediction-swarm/pkg/api/swarm"
	"github.com/renlabs-dev/prediction-swarm/pkg/ledger"
	"github.com/renlabs-dev/prediction-swarm/pkg/logging"
	"github.com/renlabs-dev/prediction-swarm/pkg/permissions"
	"github.com/renlabs-dev/prediction-swarm/pkg/signing"
)

// testPermissionCost keeps the 402 assertions readable.
const testPermissionCost = 100

type testEnv struct {
	mock   sqlmock.Sqlmock
	agent  *signing.Keypair
	server *signing.Keypair
	chain  *ledger.StaticLedger
	cache  *permissions.Cache
	router *gin.Engine
}

// newTestEnv wires the handlers against sqlmock, a static ledger, and a stub
// auth middleware that injects the test agent's address.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbConn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = dbConn.Close() })

	agent, err := signing.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	server, err := signing.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	chain := ledger.NewStaticLedger()
	cache := permissions.NewCache(chain, time.Minute, logging.NewLogger())
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("cache refresh: %v", err)
	}

	Init(dbConn, logging.NewLogger(), server, chain, cache, nil, big.NewInt(testPermissionCost))

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("agent_address", agent.Address())
		c.Next()
	})
	router.GET("/v1/getTweetsNext", GetTweetsNext)
	router.POST("/v1/storePredictions", StorePredictions)
	router.POST("/v1/gainPermission", GainPermission)
	router.GET("/v1/credits/balance", CreditBalance)
	router.GET("/v1/credits/history", CreditHistory)
	router.POST("/v1/credits/purchase", PurchaseCredits)

	return &testEnv{
		mock:   mock,
		agent:  agent,
		server: server,
		chain:  chain,
		cache:  cache,
		router: router,
	}
}

func (env *testEnv) request(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func (env *testEnv) expectationsMet(t *testing.T) {
	t.Helper()
	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// signedItem builds a prediction item whose signature is valid for the test
// agent. SentAt is truncated to seconds so the JSON round trip is exact.
func signedItem(t *testing.T, kp *signing.Keypair, tweetID int64) api.StorePredictionItem {
	t.Helper()
	content := api.PredictionContent{
		TweetID: tweetID,
		SentAt:  time.Now().UTC().Truncate(time.Second),
		Prediction: api.PredictionDetail{
			Target:            []api.PostSlice{{Source: api.SliceSource{TweetID: tweetID}, Start: 0, End: 15}},
			Timeframe:         []api.PostSlice{{Source: api.SliceSource{TweetID: tweetID}, Start: 16, End: 27}},
			TopicName:         "Crypto",
			PredictionQuality: 90,
			BriefRationale:    "explicit price target with a deadline",
			LLMConfidence:     "0.95",
			Context:           json.RawMessage(`{"schema_type":"crypto","version":1,"tokens":["ethereum"],"tickers":["ETH"]}`),
		},
	}
	_, sig, err := kp.SignContent(content)
	if err != nil {
		t.Fatalf("SignContent: %v", err)
	}
	return api.StorePredictionItem{
		Content: content,
		Metadata: api.StorePredictionItemMetadata{
			Signature: sig,
			Version:   api.ContentVersion,
		},
	}
}
