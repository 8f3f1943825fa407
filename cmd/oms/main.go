package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joripage/venue-oms/config"
	"github.com/joripage/venue-oms/pkg/gateway"
	redis_wrapper "github.com/joripage/venue-oms/pkg/infra/redis"
	kafkawrapper "github.com/joripage/venue-oms/pkg/kafka_wrapper"
	"github.com/joripage/venue-oms/pkg/logging"
	"github.com/joripage/venue-oms/pkg/marketdata"
	"github.com/joripage/venue-oms/pkg/oms"
	riskrule "github.com/joripage/venue-oms/pkg/oms/risk_rule"
	"github.com/joripage/venue-oms/pkg/router"
	"github.com/joripage/venue-oms/pkg/stream"
	"github.com/joripage/venue-oms/pkg/venue"
	"github.com/joripage/venue-oms/pkg/venue/fix"
	"github.com/joripage/venue-oms/pkg/venue/mock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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
	logger = logger.With(zap.String("service", cfg.ServiceName))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	registry := venue.NewRegistry()
	instruments := make(map[string][]string, len(cfg.Venues))
	for _, v := range cfg.Venues {
		switch v.Type {
		case config.VenueTypeFIX:
			registry.Register(fix.New(v.FIX, logger), v.Priority)
		default:
			registry.Register(mock.New(v.Mock), v.Priority)
		}
		instruments[v.ID] = v.Instruments
	}

	var sinks []stream.Sink
	var producer *kafkawrapper.Producer
	if cfg.Kafka != nil {
		producer = kafkawrapper.NewProducer(cfg.Kafka.Producer)
		sinks = append(sinks, kafkawrapper.NewSink(cfg.Kafka.Sink, producer))
	}
	if cfg.Redis != nil {
		client, err := redis_wrapper.InitRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal("init redis", zap.Error(err))
		}
		defer client.Close()
		sinks = append(sinks, redis_wrapper.NewSink(cfg.Redis.Sink, client))
	}

	hub := stream.NewHub(cfg.Stream, nil, logger, sinks...)
	agg := marketdata.NewAggregator(cfg.MarketData, hub, logger)
	svc := oms.NewOMS(cfg.OMS, oms.Deps{
		Risk:     riskrule.NewEngine(),
		Profiles: riskrule.NewProfileBook(cfg.Risk.Default, cfg.Risk.Accounts, cfg.Risk.Halted),
		Quotes:   agg,
		Router:   router.NewRouter(cfg.Router),
		Venues:   registry,
		Events:   hub,
		Alerter:  oms.NewLogAlerter(logger),
		Logger:   logger,
	})
	sup := venue.NewSupervisor(venue.SupervisorConfig{
		Reconnect:   cfg.Reconnect,
		Instruments: instruments,
	}, registry, agg, svc, logger)

	go hub.Run(ctx)
	go agg.Run(ctx)
	svc.Start(ctx)
	sup.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	gateway.New(svc, hub, agg, cfg.HTTP.WriteTimeout, logger).Register(engine)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: engine}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()
	if cfg.HTTP.PprofAddr != "" {
		go func() {
			_ = http.ListenAndServe(cfg.HTTP.PprofAddr, nil)
		}()
	}
	logger.Info("oms started", zap.String("addr", cfg.HTTP.Addr), zap.Int("venues", len(cfg.Venues)))

	<-sigs
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	cancel()
	sup.Wait()
	svc.Wait()
	if producer != nil {
		if err := producer.Close(shutdownCtx); err != nil {
			logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	logger.Info("exited cleanly")
}
