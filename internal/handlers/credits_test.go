package handlers

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	api "github.com/renlabs-dev/prediction-swarm/pkg/api/swarm"
)

func TestCreditBalanceZeroWithoutHistory(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery("SELECT balance, total_purchased, total_spent").
		WithArgs(env.agent.Address()).
		WillReturnRows(sqlmock.NewRows([]string{"balance", "total_purchased", "total_spent"}))

	w := env.request(t, http.MethodGet, "/v1/credits/balance", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp api.CreditBalanceResponse
	decodeBody(t, w, &resp)
	if resp.Balance != "0" || resp.TotalPurchased != "0" || resp.TotalSpent != "0" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Address != env.agent.Address() {
		t.Errorf("address = %s", resp.Address)
	}
	env.expectationsMet(t)
}

func TestCreditBalanceExisting(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery("SELECT balance, total_purchased, total_spent").
		WithArgs(env.agent.Address()).
		WillReturnRows(sqlmock.NewRows([]string{"balance", "total_purchased", "total_spent"}).
			AddRow("400", "500", "100"))

	w := env.request(t, http.MethodGet, "/v1/credits/balance", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp api.CreditBalanceResponse
	decodeBody(t, w, &resp)
	if resp.Balance != "400" || resp.TotalPurchased != "500" || resp.TotalSpent != "100" {
		t.Errorf("resp = %+v", resp)
	}
	env.expectationsMet(t)
}

func TestCreditHistory(t *testing.T) {
	env := newTestEnv(t)

	created := time.Date(2026, time.August, 30, 10, 0, 0, 0, time.UTC)
	env.mock.ExpectQuery("FROM credit_purchase").
		WithArgs(env.agent.Address()).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tx_hash", "torus_amount", "credits_granted", "block_number", "created_at",
		}).
			AddRow("p-2", "0xdef", "300", "300", int64(9), created).
			AddRow("p-1", "0xabc", "200", "200", int64(7), created.Add(-time.Hour)))

	w := env.request(t, http.MethodGet, "/v1/credits/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp api.CreditHistoryResponse
	decodeBody(t, w, &resp)
	if len(resp.Purchases) != 2 {
		t.Fatalf("purchases = %d", len(resp.Purchases))
	}
	if resp.Purchases[0].TxHash != "0xdef" {
		t.Errorf("most recent purchase first, got %+v", resp.Purchases[0])
	}
	env.expectationsMet(t)
}

func TestPurchaseCreditsGrantsOneToOne(t *testing.T) {
	env := newTestEnv(t)
	env.chain.AddTransfer("0xabc", 500, 7)

	env.mock.ExpectBegin()
	env.mock.ExpectExec("INSERT INTO credit_purchase").
		WithArgs(env.agent.Address(), "0xabc", "500", "500", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectQuery("INSERT INTO user_credits").
		WithArgs(env.agent.Address(), "500").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("500"))
	env.mock.ExpectCommit()

	w := env.request(t, http.MethodPost, "/v1/credits/purchase", api.PurchaseCreditsRequest{
		TxData: api.TxData{TxHash: "0xabc", BlockHash: "0xblock"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp api.PurchaseCreditsResponse
	decodeBody(t, w, &resp)
	if resp.CreditsGranted != "500" || resp.Balance != "500" {
		t.Errorf("resp = %+v", resp)
	}
	env.expectationsMet(t)
}

func TestPurchaseCreditsUnknownTransfer(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	w := env.request(t, http.MethodPost, "/v1/credits/purchase", api.PurchaseCreditsRequest{
		TxData: api.TxData{TxHash: "0xmissing", BlockHash: "0xblock"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "transfer verification failed") {
		t.Errorf("body = %s", w.Body.String())
	}
	env.expectationsMet(t)
}

func TestPurchaseCreditsDuplicateTx(t *testing.T) {
	env := newTestEnv(t)
	env.chain.AddTransfer("0xabc", 500, 7)

	env.mock.ExpectBegin()
	env.mock.ExpectExec("INSERT INTO credit_purchase").
		WillReturnError(&pq.Error{Code: "23505"})
	env.mock.ExpectRollback()

	w := env.request(t, http.MethodPost, "/v1/credits/purchase", api.PurchaseCreditsRequest{
		TxData: api.TxData{TxHash: "0xabc", BlockHash: "0xblock"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "already used") {
		t.Errorf("body = %s", w.Body.String())
	}
	env.expectationsMet(t)
}

func TestPurchaseCreditsMissingTxData(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/v1/credits/purchase", api.PurchaseCreditsRequest{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	env.expectationsMet(t)
}
