package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"polyswap/apps/polyswap/internal/api"
	"polyswap/apps/polyswap/internal/chain"
	"polyswap/apps/polyswap/internal/config"
	"polyswap/apps/polyswap/internal/decoder"
	"polyswap/apps/polyswap/internal/event_publisher"
	"polyswap/apps/polyswap/internal/orderhash"
	"polyswap/apps/polyswap/internal/poller"
	"polyswap/apps/polyswap/internal/positions"
	"polyswap/apps/polyswap/internal/reconciler"
	"polyswap/apps/polyswap/internal/repository"
	"polyswap/apps/polyswap/internal/txbuilder"
)

func main() {
	// Initialize zap logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	// Load configuration from environment variables
	cfg := config.NewConfig()

	logger.Info("Starting application with configuration",
		zap.String("rpc_url", cfg.RpcURL),
		zap.String("registry_address", cfg.RegistryAddress),
		zap.String("settlement_address", cfg.SettlementAddress),
		zap.String("handler_address", cfg.HandlerAddress),
		zap.Uint64("start_block", cfg.StartBlock),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Int("api_port", cfg.APIPort),
	)

	// Connect to database
	db, err := sql.Open("postgres", cfg.DbURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	// Initialize database tables
	if err := repository.InitMigration(db, cfg.StartBlock); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	orderRepository := repository.NewOrderRepository(db, logger)
	cursorRepository := repository.NewCursorRepository(db, logger)
	outboxRepository := repository.NewOutboxRepository(db, logger)

	// Connect to the chain; the service is useless without it
	dialer := chain.NewDialer(cfg.RpcURL, cfg.ChainID, logger)
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 30*time.Second)
	client, err := dialer.Dial(dialCtx)
	dialCancel()
	if err != nil {
		logger.Fatal("Failed to connect to RPC node", zap.Error(err))
	}
	defer client.Close()

	// The poller closes and redials its connection when a cycle fails, so
	// it gets a dedicated one; the request path keeps the client above.
	dialCtx, dialCancel = context.WithTimeout(context.Background(), 30*time.Second)
	pollerClient, err := dialer.Dial(dialCtx)
	dialCancel()
	if err != nil {
		logger.Fatal("Failed to connect poller to RPC node", zap.Error(err))
	}

	registryAddress := common.HexToAddress(cfg.RegistryAddress)
	settlementAddress := common.HexToAddress(cfg.SettlementAddress)
	handlerAddress := common.HexToAddress(cfg.HandlerAddress)

	eventDecoder, err := decoder.NewDecoder(handlerAddress)
	if err != nil {
		logger.Fatal("Failed to create event decoder", zap.Error(err))
	}

	calculator, err := orderhash.NewCalculator(client, registryAddress, logger)
	if err != nil {
		logger.Fatal("Failed to create order hash calculator", zap.Error(err))
	}

	rec := reconciler.NewReconciler(orderRepository, outboxRepository, calculator, logger)

	// Create event publisher
	eventPublisher, err := event_publisher.NewEventPublisher(cfg.KafkaBroker, cfg.KafkaTopic, logger, outboxRepository)
	if err != nil {
		logger.Fatal("Failed to create event publisher", zap.Error(err))
	}
	defer eventPublisher.Close()

	// Start event publisher in background
	go eventPublisher.StartPublishing()

	// Transaction batch builder for the API surface
	encoder, err := txbuilder.NewEncoder(registryAddress, handlerAddress)
	if err != nil {
		logger.Fatal("Failed to create transaction encoder", zap.Error(err))
	}
	batchBuilder, err := txbuilder.NewBatchBuilder(client, encoder, txbuilder.BatchConfig{
		SettlementAddress:      settlementAddress,
		VaultRelayerAddress:    common.HexToAddress(cfg.VaultRelayerAddress),
		FallbackHandlerAddress: common.HexToAddress(cfg.FallbackHandlerAddress),
		DomainVerifierAddress:  common.HexToAddress(cfg.DomainVerifierAddress),
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create batch builder", zap.Error(err))
	}

	positionEngine, err := positions.NewEngine(client, outboxRepository, logger)
	if err != nil {
		logger.Fatal("Failed to create position engine", zap.Error(err))
	}

	// Create and start API server
	orderHandler := api.NewOrderHandler(orderRepository, rec, calculator, encoder, batchBuilder, logger)
	positionHandler := api.NewPositionHandler(positionEngine, logger)
	apiServer := api.NewServer(cfg.APIPort, orderHandler, positionHandler, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	// Create the chain poller
	chainPoller := poller.NewPoller(poller.Config{
		RegistryAddress:   registryAddress,
		SettlementAddress: settlementAddress,
		StartBlock:        cfg.StartBlock,
		BatchSize:         cfg.BatchSize,
		PollInterval:      cfg.PollInterval,
	}, dialer, pollerClient, eventDecoder, rec, cursorRepository, logger)

	// Start poller in background
	go func() {
		if err := chainPoller.Start(context.Background()); err != nil {
			logger.Fatal("Chain poller failed", zap.Error(err))
		}
	}()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	<-sigChan
	logger.Info("Received shutdown signal, starting graceful shutdown...")

	chainPoller.Stop()

	// Create a context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown API server gracefully
	if err := apiServer.Stop(ctx); err != nil {
		logger.Error("Error shutting down API server", zap.Error(err))
	}

	logger.Info("Application shutdown complete")
}
