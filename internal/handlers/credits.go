package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"

	api "github.com/renlabs-dev/prediction-swarm/pkg/api/swarm"
	"github.com/renlabs-dev/prediction-swarm/pkg/auth"
	"github.com/renlabs-dev/prediction-swarm/pkg/database"
)

// CreditBalance returns the caller's credit balance. Addresses with no
// purchase history read as zero rather than 404.
func CreditBalance(c *gin.Context) {
	agentAddress := auth.GetAgentAddress(c)

	resp := api.CreditBalanceResponse{
		Address:        agentAddress,
		Balance:        "0",
		TotalPurchased: "0",
		TotalSpent:     "0",
	}
	err := db.QueryRow(
		`SELECT balance, total_purchased, total_spent FROM user_credits WHERE user_key = $1`,
		agentAddress,
	).Scan(&resp.Balance, &resp.TotalPurchased, &resp.TotalSpent)
	if err != nil && err != sql.ErrNoRows {
		respondError(c, fmt.Errorf("query balance: %w", err))
		return
	}

	c.JSON(http.StatusOK, resp)
}

// CreditHistory returns the caller's purchases, most recent first.
func CreditHistory(c *gin.Context) {
	agentAddress := auth.GetAgentAddress(c)

	rows, err := db.Query(
		`SELECT id, tx_hash, torus_amount, credits_granted, block_number, created_at
		 FROM credit_purchase
		 WHERE user_key = $1
		 ORDER BY created_at DESC`,
		agentAddress,
	)
	if err != nil {
		respondError(c, fmt.Errorf("query purchases: %w", err))
		return
	}
	defer rows.Close()

	purchases := make([]api.CreditPurchaseRecord, 0)
	for rows.Next() {
		var rec api.CreditPurchaseRecord
		if err := rows.Scan(
			&rec.ID, &rec.TxHash, &rec.TorusAmount, &rec.CreditsGranted,
			&rec.BlockNumber, &rec.CreatedAt,
		); err != nil {
			respondError(c, fmt.Errorf("scan purchase: %w", err))
			return
		}
		purchases = append(purchases, rec)
	}
	if err := rows.Err(); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.CreditHistoryResponse{
		Address:   agentAddress,
		Purchases: purchases,
	})
}

// PurchaseCredits verifies an on-chain transfer and credits the caller 1:1.
func PurchaseCredits(c *gin.Context) {
	agentAddress := auth.GetAgentAddress(c)

	var req api.PurchaseCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, httpErrorf(http.StatusBadRequest, "invalid request body: "+err.Error()))
		return
	}
	if req.TxData.TxHash == "" || req.TxData.BlockHash == "" {
		respondError(c, httpErrorf(http.StatusBadRequest, "txHash and blockHash are required"))
		return
	}

	var granted *big.Int
	var balance string
	err := database.WithTransaction(c.Request.Context(), db, func(tx *sql.Tx) error {
		var err error
		granted, balance, err = purchaseCredits(c.Request.Context(), tx, agentAddress, req.TxData)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if metrics != nil {
		metrics.CreditOperations.WithLabelValues("purchase").Inc()
	}
	logger.WithField("agent_address", agentAddress).
		WithField("credits_granted", granted.String()).
		Info("Credits purchased")
	c.JSON(http.StatusOK, api.PurchaseCreditsResponse{
		CreditsGranted: granted.String(),
		Balance:        balance,
	})
}

// purchaseCredits runs inside the caller's transaction so gainPermission can
// buy and spend atomically. Returns the credits granted and the new balance.
func purchaseCredits(ctx context.Context, tx *sql.Tx, agentAddress string, txData api.TxData) (*big.Int, string, error) {
	transfer, err := chain.VerifyTransfer(ctx, txData.TxHash, txData.BlockHash, agentAddress)
	if err != nil {
		return nil, "", httpErrorf(http.StatusBadRequest, "transfer verification failed: "+err.Error())
	}
	if transfer == nil || transfer.Amount == nil || transfer.Amount.Sign() <= 0 {
		return nil, "", httpErrorf(http.StatusBadRequest, "transfer not found or carries no value")
	}

	// Credits are granted 1:1 with the transferred base units.
	granted := new(big.Int).Set(transfer.Amount)

	_, err = tx.Exec(
		`INSERT INTO credit_purchase (user_key, tx_hash, torus_amount, credits_granted, block_number)
		 VALUES ($1, $2, $3, $4, $5)`,
		agentAddress, txData.TxHash, transfer.Amount.String(), granted.String(), transfer.BlockNumber,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return nil, "", httpErrorf(http.StatusBadRequest, "transaction already used for a credit purchase")
		}
		return nil, "", fmt.Errorf("record purchase: %w", err)
	}

	var balance string
	err = tx.QueryRow(
		`INSERT INTO user_credits (user_key, balance, total_purchased)
		 VALUES ($1, $2, $2)
		 ON CONFLICT (user_key) DO UPDATE SET
		   balance = user_credits.balance + EXCLUDED.balance,
		   total_purchased = user_credits.total_purchased + EXCLUDED.total_purchased,
		   updated_at = now()
		 RETURNING balance`,
		agentAddress, granted.String(),
	).Scan(&balance)
	if err != nil {
		return nil, "", fmt.Errorf("credit balance: %w", err)
	}

	return granted, balance, nil
}
