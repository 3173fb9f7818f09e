package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bullion-ledger/internal/auth"
	"bullion-ledger/internal/config"
	"bullion-ledger/internal/db"
	"bullion-ledger/internal/health"
	"bullion-ledger/internal/httpserver"
	"bullion-ledger/internal/idempotency"
	"bullion-ledger/internal/ledger"
	"bullion-ledger/internal/lock"
	"bullion-ledger/internal/logging"
	"bullion-ledger/internal/pricefeed"
	"bullion-ledger/internal/redisdb"
	"bullion-ledger/internal/settlement"
	"bullion-ledger/internal/store"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("development")
		bootLog.Fatal().Err(err).Msg("config load failed")
	}
	log := logging.New(cfg.ProjectMode)
	startedAt := time.Now().UTC()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()
	rdb, err := redisdb.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connect failed")
	}
	defer rdb.Close()

	st := store.New(pool)
	locker := lock.New(rdb)
	cache := idempotency.New(rdb, cfg.IdempotencyTTL)

	ledgerSvc := ledger.NewService(st, locker, cache, log, ledger.Options{
		WalletLockTTL: cfg.WalletLockTTL,
		AssetLockTTL:  cfg.AssetLockTTL,
		OrderTTL:      cfg.OrderTTL,
	})
	authSvc := auth.NewService(pool, cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)

	bus := pricefeed.NewBus()
	priceStore := pricefeed.NewStore(pool, bus)
	priceWS := pricefeed.NewPriceWS(bus, cfg.WSOrigin)

	sweeper := settlement.New(st, log, cfg.SweepInterval)
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	go sweeper.Run(sweepCtx)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthHandler:   auth.NewHandler(authSvc),
		LedgerHandler: ledger.NewHandler(ledgerSvc),
		PriceHandler:  pricefeed.NewHandler(priceStore, priceWS),
		HealthHandler: health.NewHandler(pool, rdb, startedAt, cfg.ProjectMode, cfg.HTTPAddr, cfg.InternalToken),
		AuthService:   authSvc,
		InternalToken: cfg.InternalToken,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	log.Info().Str("addr", cfg.HTTPAddr).Str("mode", cfg.ProjectMode).Msg("server listening")
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		stopSweeper()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
