package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"mailrails/internal/config"
	"mailrails/internal/escrow"
	"mailrails/internal/idempotency"
	"mailrails/internal/mirror"
	"mailrails/internal/server"
	"mailrails/internal/sweeper"
)

func main() {
	logger, err := initLogger()
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config error", zap.Error(err))
	}

	ctx := context.Background()

	var backend escrow.Backend
	if !cfg.Escrow.MockMode {
		driver, err := escrow.NewDriver(ctx, escrow.DriverConfig{
			RPCURL:          cfg.Chain.RPCURL,
			OperatorKeyHex:  cfg.Chain.OperatorKey,
			ContractAddress: cfg.Escrow.ContractAddress,
			TreasuryWallet:  cfg.Escrow.TreasuryWallet,
			SaltVersion:     cfg.Escrow.SaltVersion,
		})
		if err != nil {
			logger.Fatal("escrow driver error", zap.Error(err))
		}
		backend = driver
		logger.Info("escrow driver ready", zap.String("operator", driver.Operator().Hex()))
	}

	svc := escrow.NewService(escrow.ServiceConfig{
		MockMode:      cfg.Escrow.MockMode,
		Network:       cfg.Escrow.Network,
		DefaultToken:  common.HexToAddress(cfg.Escrow.TokenAddress),
		Treasury:      common.HexToAddress(cfg.Escrow.TreasuryWallet),
		DefaultExpiry: time.Duration(cfg.Escrow.ExpirySeconds) * time.Second,
	}, backend)

	replay, err := newReplayStore(ctx, cfg)
	if err != nil {
		logger.Fatal("replay store error", zap.Error(err))
	}

	mirrorStore, err := newMirrorStore(ctx, cfg)
	if err != nil {
		logger.Fatal("mirror store error", zap.Error(err))
	}

	apiServer := server.NewServer(cfg, svc, mirrorStore, replay, logger.Named("server"))

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	sw := sweeper.New(svc, mirrorStore, cfg.Escrow.TreasuryWallet,
		cfg.Service.SweepInterval, cfg.Service.SweepBatchSize, logger.Named("sweeper"))
	sw.OnResult = apiServer.RecordSweep
	go sw.Run(sweepCtx)

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Info("server stopped", zap.Error(err))
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	cancelSweep()
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
}

func newReplayStore(ctx context.Context, cfg *config.AppConfig) (idempotency.Store, error) {
	if cfg.Service.PostgresDSN != "" {
		return idempotency.NewPostgresStore(ctx, cfg.Service.PostgresDSN)
	}
	return idempotency.NewFileStore(cfg.Service.IdempotencyStorePath)
}

func newMirrorStore(ctx context.Context, cfg *config.AppConfig) (mirror.Store, error) {
	if cfg.Service.PostgresDSN != "" {
		return mirror.NewPostgresStore(ctx, cfg.Service.PostgresDSN)
	}
	return mirror.NewMemoryStore(), nil
}

func initLogger() (*zap.Logger, error) {
	if os.Getenv("LOG_DEV") != "" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
