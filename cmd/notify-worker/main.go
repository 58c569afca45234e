package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/emma-intake/cmd/mainconfig"
	"github.com/wolfman30/emma-intake/internal/app/bootstrap"
	appconfig "github.com/wolfman30/emma-intake/internal/config"
	"github.com/wolfman30/emma-intake/internal/events"
	"github.com/wolfman30/emma-intake/internal/leads"
	"github.com/wolfman30/emma-intake/internal/notify"
	"github.com/wolfman30/emma-intake/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.IntakeEventsQueueURL == "" {
		logger.Error("notify worker requires INTAKE_EVENTS_QUEUE_URL")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	sender, err := bootstrap.BuildEmailSender(cfg, awsConfig, logger)
	if err != nil {
		logger.Error("failed to build email sender", "error", err)
		os.Exit(1)
	}

	opts := []notify.WorkerOption{
		notify.WithWorkerCount(cfg.WorkerCount),
		notify.WithReceiveWaitSeconds(20),
		notify.WithReceiveBatchSize(cfg.WorkerBatchSize),
	}
	var leadsRepo leads.Repository
	pool, err := bootstrap.BuildPostgresPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
		leadsRepo = leads.NewPostgresRepository(pool)
		opts = append(opts, notify.WithProcessedEventsStore(events.NewProcessedStore(pool)))
	} else {
		logger.Warn("DATABASE_URL not set; redelivered events may notify twice")
	}

	queue := bootstrap.BuildIntakeQueue(cfg, awsConfig)
	service := notify.NewService(sender, cfg.NotifyEmailRecipients, leadsRepo, logger)
	worker := notify.NewWorker(queue, service, logger, opts...)

	worker.Start(ctx)
	logger.Info("notify worker started", "workers", cfg.WorkerCount, "queue", cfg.IntakeEventsQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down notify worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("notify worker stopped")
	case <-doneCtx.Done():
		logger.Error("notify worker shutdown timed out", "error", doneCtx.Err())
	}
}
