package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Vivek-1102/Capx/internal/api"
	"github.com/Vivek-1102/Capx/internal/cache"
	"github.com/Vivek-1102/Capx/internal/feed"
	"github.com/Vivek-1102/Capx/internal/firehose"
	"github.com/Vivek-1102/Capx/internal/gateway"
	"github.com/Vivek-1102/Capx/internal/hub"
	"github.com/Vivek-1102/Capx/internal/ledger"
	"github.com/Vivek-1102/Capx/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	store := ledger.NewRedisStore(rdb)

	var sink hub.TickSink
	var publisher *firehose.Publisher
	if cfg.Firehose.Enabled {
		publisher = firehose.NewKafkaPublisher(cfg.Firehose.Brokers, cfg.Firehose.Topic, logger)
		sink = publisher
	}

	priceCache := cache.NewPriceCache()
	connector := feed.NewConnector(
		cfg.Feed.URL,
		&feed.WebsocketDialer{Token: cfg.Feed.Token},
		cfg.Feed.ReconnectDelay,
		logger,
	)
	wsHub := hub.NewHub(connector, store, priceCache, sink, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go connector.Run(ctx)
	go wsHub.Run(ctx, connector.Ticks())

	// Positions held in the ledger keep their upstream subscriptions alive
	// across restarts.
	if instruments, err := store.FindAll(ctx); err != nil {
		logger.Warn("Could not restore ledger subscriptions", zap.Error(err))
	} else {
		for _, inst := range instruments {
			if inst.Quantity > 0 {
				wsHub.Acquire(inst.Ticker)
			}
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}

		client := gateway.NewClient(conn, wsHub, logger, cfg.Relay.SendBufferSize)
		client.Start(ctx)
	})

	handler := api.NewHandler(store, priceCache, wsHub, cfg.Relay.DefaultTickers, cfg.Relay.MinInstruments, logger)
	handler.Register(mux)

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("Shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("Error closing firehose", zap.Error(err))
		}
	}
	if err := store.Close(); err != nil {
		logger.Error("Error closing ledger", zap.Error(err))
	}

	logger.Info("Shutdown Complete")
}
