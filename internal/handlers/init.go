package handlers

import (
	"database/sql"
	"math/big"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/renlabs-dev/prediction-swarm/pkg/ledger"
	"github.com/renlabs-dev/prediction-swarm/pkg/logging"
	"github.com/renlabs-dev/prediction-swarm/pkg/permissions"
	"github.com/renlabs-dev/prediction-swarm/pkg/signing"
)

// FilterPermissionPath is the capability required to submit predictions.
const FilterPermissionPath = "prediction.filter"

var (
	db            *sql.DB
	logger        logging.Logger
	serverKeypair *signing.Keypair
	chain         ledger.Ledger
	permCache     *permissions.Cache
	metrics       *SwarmMetrics

	// filterPermissionCost in credits, deducted on gainPermission.
	filterPermissionCost *big.Int
)

// SwarmMetrics holds all Prometheus metrics for the swarm API
type SwarmMetrics struct {
	PredictionsStored *prometheus.CounterVec
	BatchesRejected   *prometheus.CounterVec
	TweetsServed      *prometheus.CounterVec
	PermissionGrants  *prometheus.CounterVec
	CreditOperations  *prometheus.CounterVec
}

// Init initializes the handlers with their shared dependencies
func Init(database *sql.DB, log logging.Logger, keypair *signing.Keypair, chainLedger ledger.Ledger, cache *permissions.Cache, swarmMetrics *SwarmMetrics, permissionCost *big.Int) {
	db = database
	logger = log
	serverKeypair = keypair
	chain = chainLedger
	permCache = cache
	metrics = swarmMetrics
	filterPermissionCost = permissionCost
}
