package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/commons-ledger/be-tranche-core/internal/client"
	"github.com/commons-ledger/be-tranche-core/internal/config"
	"github.com/commons-ledger/be-tranche-core/internal/database"
	"github.com/commons-ledger/be-tranche-core/internal/handler"
	"github.com/commons-ledger/be-tranche-core/internal/lockmgr"
	"github.com/commons-ledger/be-tranche-core/internal/logger"
	"github.com/commons-ledger/be-tranche-core/internal/middleware"
	"github.com/commons-ledger/be-tranche-core/internal/repository"
	"github.com/commons-ledger/be-tranche-core/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Tranche Funding & Settlement Core")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize NATS publishers; a broker outage degrades to dropped
	// events rather than a dead service.
	var natsClient *client.NATSClient
	if cfg.NATS.Enabled {
		natsClient, err = client.NewNATSClient(cfg.NATS.URL)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, events disabled")
			natsClient = nil
		} else {
			defer natsClient.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}
	auditPublisher := client.NewAuditPublisher(natsClient, log.Logger)
	lifecyclePublisher := client.NewLifecyclePublisher(natsClient, log.Logger)

	// Initialize repositories
	invoiceRepo := repository.NewInvoiceRepository(db)
	trancheRepo := repository.NewTrancheRepository(db)
	pledgeRepo := repository.NewPledgeRepository(db)
	attestationRepo := repository.NewAttestationRepository(db)
	scoreRepo := repository.NewScoreRepository(db)

	// External signature capability
	signerURL := getEnv("SIGNER_SERVICE_URL", "http://localhost:8091")
	signerClient := client.NewSignerClient(signerURL)
	log.Info().Str("signer_url", signerURL).Msg("Signature service client initialized")

	// Initialize services
	locks := lockmgr.New(cfg.Policy.TrancheLockTimeout)
	verifier := service.NewAttestationVerifier(attestationRepo, signerClient, auditPublisher, cfg.Policy, log)
	gate := service.NewScoreGate(scoreRepo, cfg.Policy, log)
	reconciler := service.NewInvoiceReconcilerService(invoiceRepo, trancheRepo, scoreRepo, locks, cfg.Policy, cfg.Features, auditPublisher, log)
	ledger := service.NewTrancheLedgerService(trancheRepo, pledgeRepo, locks, cfg.Policy, cfg.Features, auditPublisher, lifecyclePublisher, reconciler, log)
	lifecycle := service.NewTrancheLifecycleService(trancheRepo, invoiceRepo, verifier, gate, reconciler, locks, cfg.Features, auditPublisher, lifecyclePublisher, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(reconciler, ledger, lifecycle, verifier, gate, log)
	mux := http.NewServeMux()
	httpHandler.Register(mux)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(cfg.Server.WriteTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
