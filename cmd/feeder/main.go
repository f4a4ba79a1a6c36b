package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ajaymehta/quotewire/cmd/feeder/internal/feeder"
	"github.com/ajaymehta/quotewire/pkg/config"
)

// Starting prices for the simulated random walk.
var basePrices = map[string]float64{
	"BBCA": 9100.0,
	"TLKM": 3950.0,
	"BBRI": 4560.0,
	"ASII": 5200.0,
	"GOTO": 84.0,
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.App.Env)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	clock := feeder.RealClock{}

	// Make sure the tick topic exists before producing.
	dialer := feeder.KafkaBrokerDialer{Dialer: kafka.DefaultDialer}
	if err := feeder.EnsureTopic(context.Background(), logger, dialer, clock,
		cfg.Kafka.Brokers, cfg.Kafka.Topic); err != nil {
		logger.Fatal("Failed to reach Kafka", zap.Error(err))
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	store := feeder.NewRedisQuoteStore(rdb)

	prices := make(map[string]float64, len(cfg.Feeder.Symbols))
	for _, s := range cfg.Feeder.Symbols {
		if p, ok := basePrices[s]; ok {
			prices[s] = p
		} else {
			prices[s] = 1000.0
		}
	}

	f := feeder.NewFeeder(logger, writer, store, cfg.Feeder.Symbols, prices,
		feeder.RealRand{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}, clock,
		cfg.Feeder.TickInterval, cfg.Feeder.BarTimeframe, cfg.Feeder.BarRetention)

	ctx, cancel := context.WithCancel(context.Background())
	go f.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")
	cancel()

	// Flush the async writer buffer before exiting.
	if err := writer.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	}
	rdb.Close()
}
