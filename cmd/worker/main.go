package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/chronicle/internal/metrics"
	"github.com/OFFIS-RIT/chronicle/internal/queue"
	"github.com/OFFIS-RIT/chronicle/internal/storage"
	"github.com/OFFIS-RIT/chronicle/internal/util"
	"github.com/OFFIS-RIT/chronicle/pkg/analysis"
	"github.com/OFFIS-RIT/chronicle/pkg/runlock"
	"github.com/OFFIS-RIT/chronicle/pkg/logger"
	"github.com/OFFIS-RIT/chronicle/pkg/logger/console"
	pgstore "github.com/OFFIS-RIT/chronicle/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Format: util.GetEnv("LOG_FORMAT"),
		Prefix: "worker",
	})
	logger.Init(consoleLogger)

	cfg, err := analysis.LoadConfig(util.GetEnvString("ANALYSIS_CONFIG", ""))
	if err != nil {
		logger.Fatal("Failed to load analysis config", "err", err)
	}

	// Init s3 client
	s3Client, err := storage.NewS3Client(ctx)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}

	// Init pgx client
	pgConn, err := pgxpool.New(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	// Init rabbitmq
	conn, err := queue.Init()
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.ChronologyQueue}); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	// Only one delivery is in flight per worker; runs are CPU bound.
	if err := ch.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	m := metrics.New("worker")
	go serveMetrics(m)

	hostname, _ := os.Hostname()
	processor := &queue.Processor{
		Objects: storage.NewBucketFromEnv(s3Client),
		Runs:    pgstore.NewRunDBStorage(pgConn),
		Locks: runlock.New(pgConn, runlock.Config{
			TTL:   util.GetEnvDuration("RUN_LOCK_TTL", 5*time.Minute),
			Owner: hostname,
		}),
		Metrics: m,
		Config:  cfg,
	}

	msgs, err := ch.Consume(
		queue.ChronologyQueue,
		queue.ChronologyQueue+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.ChronologyQueue, "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.ChronologyQueue)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Warn("Message channel closed", "queue", queue.ChronologyQueue)
				return
			}

			startTime := time.Now()
			processingErr := processor.ProcessRunMessage(ctx, msg.Body)
			if processingErr != nil {
				logger.Error("Error processing message", "queue", queue.ChronologyQueue, "err", processingErr)
			}
			queue.Settle(ch, msg, queue.ChronologyQueue, processingErr)
			logger.Info("Processing time", "duration", time.Since(startTime).Round(time.Millisecond))
		}
	}
}

func serveMetrics(m *metrics.Metrics) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	port := util.GetEnvString("METRICS_PORT", "9090")
	logger.Info("Serving worker metrics", "port", port)
	if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server stopped", "err", err)
	}
}
