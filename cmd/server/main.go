package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/alexbrainman/odbc"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/cochintraders/tally-bridge/internal/adapter/handler"
	"github.com/cochintraders/tally-bridge/internal/adapter/source"
	"github.com/cochintraders/tally-bridge/internal/adapter/storage"
	"github.com/cochintraders/tally-bridge/internal/config"
	"github.com/cochintraders/tally-bridge/internal/core/domain"
	"github.com/cochintraders/tally-bridge/internal/core/service"
	"github.com/cochintraders/tally-bridge/internal/port"
)

// storeBackend is what both storage backends provide: the repository plus
// its matching per-key locker.
type storeBackend interface {
	port.StoreRepository
	port.Locker
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := config.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.StoreBackend, err)
	}
	logger.WithField("backend", cfg.StoreBackend).Info("connected to store")

	connector := source.NewTallyConnector(cfg.TallyDriver, cfg.TallyDSN, cfg.SourceTimeout, logger)

	syncService := service.NewSyncService(connector, store, logger)
	orderService := service.NewOrderService(store, store, logger, cfg.OrderQueueSize)

	// Order history workers: allocation commits synchronously, history is
	// written behind the queue.
	var wg sync.WaitGroup
	for i := 0; i < cfg.OrderWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			historyWorker(id, orderService.OrderQueue(), store, logger)
		}(i)
	}
	logger.WithField("workers", cfg.OrderWorkers).Info("started order history workers")

	httpHandler := handler.NewHTTPHandler(syncService, orderService, logger, cfg.StoreBackend)
	mux := http.NewServeMux()
	httpHandler.Register(mux)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("HTTP server stopped")

	orderService.Close()
	wg.Wait()
	logger.Info("order history workers stopped")

	store.Close()
	logger.Info("store connection closed")
}

func openStore(ctx context.Context, cfg *config.Config) (storeBackend, error) {
	switch cfg.StoreBackend {
	case "mysql":
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, err
		}
		store := storage.NewMySQLStore(db, cfg.StoreTimeout)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return store, nil
	default:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, err
		}
		return storage.NewRedisStore(rdb, cfg.StoreTimeout), nil
	}
}

func historyWorker(id int, queue <-chan domain.Order, store port.StoreRepository, logger *logrus.Logger) {
	for order := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := store.SaveOrder(ctx, &order); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"worker": id,
				"order":  order.ID,
			}).Error("failed to save order history")
		}
		cancel()
	}
}
