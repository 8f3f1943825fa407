package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joripage/venue-oms/config"
	postgres_wrapper "github.com/joripage/venue-oms/pkg/infra/postgres"
	kafkawrapper "github.com/joripage/venue-oms/pkg/kafka_wrapper"
	"github.com/joripage/venue-oms/pkg/logging"
	"github.com/joripage/venue-oms/pkg/oms/repo"
	"github.com/joripage/venue-oms/pkg/oms/worker"
	"go.uber.org/zap"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	logger, err := logging.NewLogger(level)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.Kafka == nil || cfg.OmsDB == nil {
		logger.Fatal("worker needs both kafka and oms_db configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// init db
	db, err := postgres_wrapper.InitPostgresWithBackoff(ctx, cfg.OmsDB)
	if err != nil {
		logger.Fatal("init db", zap.Error(err))
	}

	consumer, err := kafkawrapper.NewConsumerGroup(cfg.Kafka.Consumer, logger)
	if err != nil {
		logger.Fatal("init consumer", zap.Error(err))
	}
	defer consumer.Close()

	w := worker.NewWorker(repo.NewRepo(db), logger)
	logger.Info("worker started", zap.String("topic", cfg.Kafka.Consumer.Topic))
	if err := w.Start(ctx, consumer); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker stopped", zap.Error(err))
	}
	logger.Info("exited cleanly")
}
