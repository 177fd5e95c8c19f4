// Command coreserver runs the transactional core's HTTP surface:
// config load, store/cache/secrets bootstrap, DAO and Transaction
// Manager wiring, then the HTTP server until SIGINT/SIGTERM.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"cnop-transactional-core/internal/api"
	"cnop-transactional-core/internal/cache"
	"cnop-transactional-core/internal/config"
	"cnop-transactional-core/internal/dao"
	"cnop-transactional-core/internal/gateway"
	"cnop-transactional-core/internal/lockmgr"
	"cnop-transactional-core/internal/obslog"
	"cnop-transactional-core/internal/secrets"
	"cnop-transactional-core/internal/store"
	"cnop-transactional-core/internal/txmanager"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := obslog.New(os.Stdout)

	ctx := context.Background()

	secretsResolver, err := secrets.New(secrets.Config{
		Enabled:   cfg.Vault.Enabled,
		Address:   cfg.Vault.Address,
		Token:     cfg.Vault.Token,
		MountPath: cfg.Vault.MountPath,
		BasePath:  cfg.Vault.BasePath,
	})
	if err != nil {
		log.Fatalf("failed to initialize secrets resolver: %v", err)
	}

	dsn, err := secretsResolver.Get(ctx, "database_dsn")
	if err != nil {
		dsn = cfg.Store.DSN
	}

	db, err := store.NewDB(ctx, store.Config{
		DSN:             dsn,
		MaxConns:        cfg.Store.MaxConns,
		MinConns:        cfg.Store.MinConns,
		MaxConnLifetime: cfg.Store.MaxConnLifetime,
		MaxConnIdleTime: cfg.Store.MaxConnIdleTime,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	var redisCache *cache.Cache
	if cfg.Redis.Enabled {
		redisCache, err = cache.New(cache.Config{
			Enabled:  true,
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			log.Printf("cache disabled, starting in degraded mode: %v", err)
		}
	}

	adapter := store.NewAdapter(db)

	jwtSecret, err := secretsResolver.Get(ctx, "jwt_secret_key")
	if err != nil {
		jwtSecret = cfg.JWTSecretKey
	}
	verifier := gateway.NewVerifier(jwtSecret)

	users := dao.NewUserDAO(adapter)
	balances := dao.NewBalanceDAO(adapter)
	orders := dao.NewOrderDAO(adapter)
	assets := dao.NewAssetDAO(adapter)
	assetBalances := dao.NewAssetBalanceDAO(adapter)
	assetTransactions := dao.NewAssetTransactionDAO(adapter)
	locks := lockmgr.New(adapter)

	txManager := txmanager.New(balances, assetBalances, assetTransactions, orders, assets, locks, logger)

	server := api.NewServer(cfg.Server, api.Dependencies{
		DB:       db,
		Users:    users,
		Balances: balances,
		Orders:   orders,
		Assets:   assets,
		Tx:       txManager,
		Verifier: verifier,
		Cache:    redisCache,
		Log:      logger,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("failed to start http server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("error shutting down http server: %v", err)
	}

	if redisCache != nil {
		if err := redisCache.Close(); err != nil {
			log.Printf("error closing cache: %v", err)
		}
	}

	log.Println("shutdown complete")
}
