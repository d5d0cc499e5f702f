package handlers

import (
	"database/sql"
	"fmt"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"

	api "github.com/renlabs-dev/prediction-swarm/pkg/api/swarm"
	"github.com/renlabs-dev/prediction-swarm/pkg/auth"
	"github.com/renlabs-dev/prediction-swarm/pkg/database"
)

// GainPermission grants the caller the filter permission, deducting its cost
// from their credit balance. An optional txData buys credits in the same
// transaction, so an agent can fund and gain permission in one call.
func GainPermission(c *gin.Context) {
	agentAddress := auth.GetAgentAddress(c)

	var req api.GainPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, httpErrorf(http.StatusBadRequest, "invalid request body: "+err.Error()))
		return
	}

	// An inline purchase is credited first and kept even if the grant below
	// cannot proceed; the credits stay spendable.
	if req.TxData != nil {
		err := database.WithTransaction(c.Request.Context(), db, func(tx *sql.Tx) error {
			_, _, err := purchaseCredits(c.Request.Context(), tx, agentAddress, *req.TxData)
			return err
		})
		if err != nil {
			respondError(c, err)
			return
		}
		if metrics != nil {
			metrics.CreditOperations.WithLabelValues("purchase").Inc()
		}
	}

	if permCache.Has(agentAddress, FilterPermissionPath) {
		respondError(c, httpErrorf(http.StatusConflict, "permission already granted"))
		return
	}

	var txHash string
	err := database.WithTransaction(c.Request.Context(), db, func(tx *sql.Tx) error {
		if err := deductPermissionCost(tx, agentAddress); err != nil {
			return err
		}

		// Delegation happens inside the transaction: if the chain call fails
		// the deduction rolls back with it.
		var err error
		txHash, err = chain.DelegatePermission(c.Request.Context(), agentAddress, FilterPermissionPath)
		if err != nil {
			return fmt.Errorf("delegate permission: %w", err)
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	// The cache refresh would pick this up eventually; granting locally makes
	// the permission usable immediately.
	permCache.Grant(agentAddress, FilterPermissionPath)

	if metrics != nil {
		metrics.PermissionGrants.WithLabelValues(FilterPermissionPath).Inc()
	}
	logger.WithField("agent_address", agentAddress).
		WithField("tx_hash", txHash).
		Info("Filter permission granted")
	c.JSON(http.StatusOK, api.GainPermissionResponse{
		Granted:        true,
		PermissionPath: FilterPermissionPath,
		TxHash:         txHash,
	})
}

// deductPermissionCost takes the permission cost from the agent's balance
// under a row lock, failing with 402 when the balance cannot cover it.
func deductPermissionCost(tx *sql.Tx, agentAddress string) error {
	var rawBalance string
	err := tx.QueryRow(
		`SELECT balance FROM user_credits WHERE user_key = $1 FOR UPDATE`,
		agentAddress,
	).Scan(&rawBalance)
	if err == sql.ErrNoRows {
		return httpErrorf(http.StatusPaymentRequired,
			fmt.Sprintf("Insufficient credits. Required: %s, Available: 0", filterPermissionCost))
	}
	if err != nil {
		return fmt.Errorf("lock balance: %w", err)
	}

	balance, ok := new(big.Int).SetString(rawBalance, 10)
	if !ok {
		return fmt.Errorf("unreadable balance %q for %s", rawBalance, agentAddress)
	}
	if balance.Cmp(filterPermissionCost) < 0 {
		return httpErrorf(http.StatusPaymentRequired,
			fmt.Sprintf("Insufficient credits. Required: %s, Available: %s", filterPermissionCost, balance))
	}

	_, err = tx.Exec(
		`UPDATE user_credits
		 SET balance = balance - $2, total_spent = total_spent + $2, updated_at = now()
		 WHERE user_key = $1`,
		agentAddress, filterPermissionCost.String(),
	)
	if err != nil {
		return fmt.Errorf("deduct credits: %w", err)
	}
	return nil
}
