package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/relaycorp/awala-gateway-internet-sub001/internal/codec"
	"github.com/relaycorp/awala-gateway-internet-sub001/internal/config"
	"github.com/relaycorp/awala-gateway-internet-sub001/internal/delivery/pohttp"
	"github.com/relaycorp/awala-gateway-internet-sub001/internal/keystore"
	"github.com/relaycorp/awala-gateway-internet-sub001/internal/notifier"
	"github.com/relaycorp/awala-gateway-internet-sub001/internal/parcelstore"
	minioRepo "github.com/relaycorp/awala-gateway-internet-sub001/internal/repository/minio"
	tarantoolRepo "github.com/relaycorp/awala-gateway-internet-sub001/internal/repository/tarantool"
	"github.com/relaycorp/awala-gateway-internet-sub001/internal/service/cargopipeline"
	"github.com/relaycorp/awala-gateway-internet-sub001/internal/service/parceldelivery"
	"github.com/relaycorp/awala-gateway-internet-sub001/pkg/logger"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (optional)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		OutputPath: cfg.Logger.OutputPath,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Awala Internet gateway relay")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vaultClient, err := config.NewVaultClient(&cfg.Vault)
	if err != nil {
		appLogger.Fatal("Failed to create Vault client", logger.Error(err))
	}
	if vaultClient == nil {
		appLogger.Fatal("Vault must be enabled: the session key store lives there")
	}

	appLogger.Info("Loading secrets from Vault")
	if err := config.ApplyVaultSecrets(ctx, cfg, vaultClient); err != nil {
		appLogger.Fatal("Failed to apply Vault secrets", logger.Error(err))
	}

	// Connect to Tarantool, retrying while the broker comes up.
	appLogger.Info("Connecting to Tarantool", logger.String("address", cfg.Tarantool.Address))
	tarantoolCfg := &tarantoolRepo.Config{
		Address:  cfg.Tarantool.Address,
		User:     cfg.Tarantool.User,
		Password: cfg.Tarantool.Password,
		Timeout:  cfg.Tarantool.Timeout,
	}

	var tarantoolClient *tarantoolRepo.Client
	connect := func() error {
		var cerr error
		tarantoolClient, cerr = tarantoolRepo.NewClient(ctx, tarantoolCfg)
		return cerr
	}
	if err := backoff.Retry(connect, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)); err != nil {
		appLogger.Fatal("Failed to connect to Tarantool", logger.Error(err))
	}
	defer tarantoolClient.Close()

	if err := tarantoolClient.Ping(); err != nil {
		appLogger.Fatal("Failed to ping Tarantool", logger.Error(err))
	}
	appLogger.Info("Connected to Tarantool")

	appLogger.Info("Connecting to MinIO",
		logger.String("endpoint", cfg.MinIO.Endpoint),
		logger.String("bucket", cfg.MinIO.BucketName),
	)
	objectStore, err := minioRepo.NewRepository(&minioRepo.Config{
		Endpoint:        cfg.MinIO.Endpoint,
		AccessKeyID:     cfg.MinIO.AccessKeyID,
		SecretAccessKey: cfg.MinIO.SecretAccessKey,
		UseSSL:          cfg.MinIO.UseSSL,
		BucketName:      cfg.MinIO.BucketName,
	}, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to create MinIO client", logger.Error(err))
	}
	if err := objectStore.EnsureBucket(ctx); err != nil {
		appLogger.Fatal("Failed to ensure MinIO bucket", logger.Error(err))
	}
	appLogger.Info("Connected to MinIO")

	queue := tarantoolRepo.NewQueue(tarantoolClient, appLogger)
	ledger := tarantoolRepo.NewLedger(tarantoolClient, appLogger)
	liveNotifier := notifier.New(appLogger)
	sessionKeys := keystore.NewVaultKeyStore(vaultClient.Client(), cfg.Keystore.Mount, cfg.Keystore.PathPrefix, appLogger)
	cargoCodec := codec.New(sessionKeys)
	validator := codec.NewValidator()

	store := parcelstore.NewStore(objectStore, ledger, queue, liveNotifier, validator, appLogger)

	pipeline := cargopipeline.NewService(queue, store, cargoCodec, appLogger)
	deliverer := pohttp.NewDeliverer(cfg.Delivery.Timeout, appLogger)
	deliveryWorker := parceldelivery.NewService(queue, store, deliverer, cfg.Delivery.MaxAttempts, appLogger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipeline.Run(gctx) })
	g.Go(func() error { return deliveryWorker.Run(gctx) })

	appLogger.Info("Gateway relay running")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Fatal("Gateway relay failed", logger.Error(err))
	}

	appLogger.Info("Gateway relay stopped")
}
