package main

import (
	"context"
	"log"
	"os/signal"
	"sync"
	"syscall"
	_ "time/tzdata"

	"github.com/segmentio/kafka-go"

	"github.com/example/prospect-sender/internal/app"
	"github.com/example/prospect-sender/internal/common"
	"github.com/example/prospect-sender/internal/scheduler"
	"github.com/example/prospect-sender/internal/worker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("dispatcher")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := common.NewLogger(cfg.ServiceName, cfg.LogLevel)
	shutdown, err := common.SetupOTel(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise telemetry")
	}
	defer common.ShutdownTelemetry(context.Background(), shutdown)

	metricsSrv := common.StartMetricsServer(cfg.MetricsPort, logger)
	defer metricsSrv.Shutdown(context.Background())

	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise runtime")
	}
	defer rt.Close()

	readerFactory := func() worker.MessageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.ServiceName,
			Topic:   cfg.DispatchTopic,
		})
	}

	w := worker.Worker{
		ReaderFactory: readerFactory,
		Handler:       rt.Coordinator,
		Timeout:       cfg.DispatchTimeout,
		Logger:        logger,
	}

	var wg sync.WaitGroup

	if cfg.SchedulerInterval > 0 {
		queue := &kafka.Writer{
			Addr:     kafka.TCP(cfg.KafkaBrokers...),
			Topic:    cfg.DispatchTopic,
			Balancer: &kafka.Hash{},
		}
		defer queue.Close()

		s := scheduler.Scheduler{
			Accounts:  rt.Repo,
			Writer:    queue,
			Interval:  cfg.SchedulerInterval,
			BatchSize: cfg.SchedulerBatchSize,
			Logger:    logger,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info().Dur("interval", cfg.SchedulerInterval).Msg("auto-send scheduler started")
			if err := s.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("scheduler stopped")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Str("topic", cfg.DispatchTopic).Msg("dispatcher service started")
		if err := w.Run(ctx); err != nil {
			logger.Fatal().Err(err).Msg("dispatcher stopped")
		}
	}()

	<-ctx.Done()
	wg.Wait()
}
