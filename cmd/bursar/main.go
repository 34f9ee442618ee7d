package main

import (
	"context"
	"time"

	"bursar/internal/dispatch"
	"bursar/internal/gateway"
	"bursar/internal/handlers"
	"bursar/internal/ledger"
	"bursar/internal/reconciler"
	"bursar/internal/store"
	"bursar/pkg/auth"
	"bursar/pkg/config"
	"bursar/pkg/database"
	"bursar/pkg/logging"
	"bursar/pkg/monitoring"
	"bursar/pkg/server"
	"bursar/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("bursar")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Bursar (PIX Reconciliation & Ledger API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")
	gatewayURL := config.GetEnv("GATEWAY_URL", "https://api.abacatepay.com")
	gatewayKey := config.RequireEnv("GATEWAY_API_KEY")
	webhookSecret := config.RequireEnv("WEBHOOK_SECRET")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("bursar", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("bursar", version.Version, version.GitCommit)

	// Add health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("gateway", monitoring.HTTPServiceHealthCheck("gateway", gatewayURL))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":    dbURL,
		"JWT_SECRET":      jwtSecret,
		"GATEWAY_API_KEY": gatewayKey,
		"WEBHOOK_SECRET":  webhookSecret,
	}))

	// Create custom payment metrics
	metrics := &handlers.BursarMetrics{
		ChargesCreated:    metricsCollector.NewCounter("charges_created_total", "Charges registered with the gateway", []string{}).WithLabelValues(),
		PaidTransitions:   metricsCollector.NewCounter("paid_transitions_total", "Charges settled, by source", []string{"source"}),
		WebhookRejections: metricsCollector.NewCounter("webhook_rejections_total", "Webhook deliveries rejected, by reason", []string{"reason"}),
		SinkDeliveries:    metricsCollector.NewCounter("sink_deliveries_total", "Successful sink notifications", []string{"sink"}),
		SinkFailures:      metricsCollector.NewCounter("sink_failures_total", "Failed sink notifications", []string{"sink"}),
		ReconcileSweeps:   metricsCollector.NewCounter("reconcile_sweeps_total", "Reconciliation sweeps executed", []string{}).WithLabelValues(),
		Withdrawals:       metricsCollector.NewCounter("withdrawals_total", "Withdrawal admissions, by result", []string{"result"}),
	}

	// Create database metrics
	metrics.DBQueries, metrics.DBDuration, metrics.DBConnections = metricsCollector.CreateDatabaseMetrics()

	// Wire the payment pipeline
	chargeStore := store.New(db, logger)
	fundsLedger := ledger.New(db, logger)
	gatewayClient := gateway.NewClient(gatewayURL, gatewayKey)
	eventDispatcher := dispatch.NewDispatcher(logger,
		config.GetEnvDuration("SINK_TIMEOUT", 5*time.Second),
		dispatch.SinksFromEnv(logger)...,
	).WithMetrics(metrics.SinkDeliveries, metrics.SinkFailures)

	paymentPoller := reconciler.New(chargeStore, gatewayClient, eventDispatcher, logger,
		config.GetEnvDuration("RECONCILE_INTERVAL", 30*time.Second)).
		WithMetrics(metrics.ReconcileSweeps, metrics.PaidTransitions)

	// Initialize handlers
	handlers.Init(logger, chargeStore, fundsLedger, gatewayClient, eventDispatcher, paymentPoller, metrics)

	// Start the background reconciliation loop
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go paymentPoller.Start(ctx)
	defer paymentPoller.Stop()

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "bursar", healthChecker, metricsCollector)

	// API routes
	{
		// Authentication required endpoints
		protected := router.Group("")
		protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			protected.POST("/charges", handlers.CreateCharge)
			protected.GET("/charges", handlers.ListCharges)
			protected.GET("/charges/:id", handlers.GetCharge)
			protected.GET("/balance", handlers.GetBalance)
			protected.POST("/withdrawals", handlers.RequestWithdrawal)
			protected.GET("/withdrawals", handlers.ListWithdrawals)
		}

		// Webhook endpoint (shared secret, no JWT)
		router.POST("/webhooks/pix", handlers.HandlePixWebhook)

		// Operational endpoints (service-to-service)
		serviceAPI := router.Group("")
		serviceAPI.Use(auth.ServiceAuthMiddleware(serviceToken))
		{
			serviceAPI.POST("/reconcile", handlers.Reconcile)
			serviceAPI.POST("/charges/:id/refund", handlers.RefundCharge)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("bursar", "18040")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
