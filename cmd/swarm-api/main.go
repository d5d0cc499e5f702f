package main

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"sort"

	"github.com/renlabs-dev/prediction-swarm/internal/handlers"
	"github.com/renlabs-dev/prediction-swarm/pkg/auth"
	"github.com/renlabs-dev/prediction-swarm/pkg/config"
	"github.com/renlabs-dev/prediction-swarm/pkg/database"
	schemasql "github.com/renlabs-dev/prediction-swarm/pkg/database/sql"
	"github.com/renlabs-dev/prediction-swarm/pkg/ledger"
	"github.com/renlabs-dev/prediction-swarm/pkg/logging"
	"github.com/renlabs-dev/prediction-swarm/pkg/monitoring"
	"github.com/renlabs-dev/prediction-swarm/pkg/permissions"
	"github.com/renlabs-dev/prediction-swarm/pkg/server"
	"github.com/renlabs-dev/prediction-swarm/pkg/signing"
	"github.com/renlabs-dev/prediction-swarm/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("swarm-api")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Swarm API")

	dbURL := config.RequireEnv("DATABASE_URL")
	serverKey := config.RequireEnv("SERVER_PRIVATE_KEY")
	ledgerURL := config.RequireEnv("LEDGER_URL")

	// Connect to database and apply the schema
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if err := applySchema(db); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	keypair, err := signing.NewKeypairFromHex(serverKey)
	if err != nil {
		logger.WithError(err).Fatal("Invalid SERVER_PRIVATE_KEY")
	}
	logger.WithField("server_address", keypair.Address()).Info("Server identity loaded")

	// Chain ledger and permission cache
	chain := ledger.NewHTTPLedger(ledger.HTTPConfig{
		BaseURL: ledgerURL,
		APIKey:  config.GetEnv("LEDGER_API_KEY", ""),
	}, logger)

	permCache := permissions.NewCache(chain,
		config.GetEnvDuration("PERMISSION_REFRESH_INTERVAL", 0), logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	permCache.Start(ctx)

	permissionCost, ok := new(big.Int).SetString(config.GetEnv("FILTER_PERMISSION_COST", "1000000"), 10)
	if !ok {
		logger.Fatal("FILTER_PERMISSION_COST is not a decimal integer")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("swarm-api", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("swarm-api", version.Version)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": dbURL,
		"LEDGER_URL":   ledgerURL,
	}))

	metrics := &handlers.SwarmMetrics{
		PredictionsStored: metricsCollector.NewCounter("predictions_stored_total", "Predictions accepted and stored", []string{"agent_address"}),
		BatchesRejected:   metricsCollector.NewCounter("batches_rejected_total", "Prediction batches rejected before storage", []string{"reason"}),
		TweetsServed:      metricsCollector.NewCounter("tweets_served_total", "Tweets served from the feed", []string{"agent_address"}),
		PermissionGrants:  metricsCollector.NewCounter("permission_grants_total", "Filter permissions granted", []string{"path"}),
		CreditOperations:  metricsCollector.NewCounter("credit_operations_total", "Credit ledger operations", []string{"operation"}),
	}

	// Initialize handlers
	handlers.Init(db, logger, keypair, chain, permCache, metrics, permissionCost)

	// Setup router with unified monitoring
	router := server.SetupRouter(logger, "swarm-api", healthChecker, metricsCollector)

	v1 := router.Group("/v1")
	v1.Use(auth.AgentAuthMiddleware(logger))
	{
		v1.GET("/getTweetsNext", handlers.GetTweetsNext)
		v1.POST("/gainPermission", handlers.GainPermission)
		v1.GET("/credits/balance", handlers.CreditBalance)
		v1.GET("/credits/history", handlers.CreditHistory)
		v1.POST("/credits/purchase", handlers.PurchaseCredits)

		// Submitting predictions additionally requires the filter capability
		v1.POST("/storePredictions",
			permissions.RequirePermission(permCache, handlers.FilterPermissionPath),
			handlers.StorePredictions)
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("swarm-api", "18080")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}

// applySchema runs the embedded schema files in lexical order. Every
// statement is idempotent, so reapplying on startup is safe.
func applySchema(db *sql.DB) error {
	entries, err := schemasql.Content.ReadDir("schema")
	if err != nil {
		return fmt.Errorf("read embedded schema: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := schemasql.Content.ReadFile("schema/" + name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := db.Exec(string(raw)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}
