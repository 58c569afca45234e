package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/emma-intake/cmd/mainconfig"
	"github.com/wolfman30/emma-intake/internal/api/router"
	"github.com/wolfman30/emma-intake/internal/app/bootstrap"
	"github.com/wolfman30/emma-intake/internal/compliance"
	appconfig "github.com/wolfman30/emma-intake/internal/config"
	"github.com/wolfman30/emma-intake/internal/conversation"
	"github.com/wolfman30/emma-intake/internal/events"
	httpmiddleware "github.com/wolfman30/emma-intake/internal/http/middleware"
	"github.com/wolfman30/emma-intake/internal/leads"
	"github.com/wolfman30/emma-intake/internal/notify"
	"github.com/wolfman30/emma-intake/internal/webchat"
	"github.com/wolfman30/emma-intake/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting emma-intake API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	metricsHandler, registry := setupMetrics()

	stack, err := bootstrap.BuildChatStack(ctx, cfg, awsCfg, registry, logger)
	if err != nil {
		logger.Error("failed to build chat stack", "error", err)
		os.Exit(1)
	}
	defer stack.Close()

	worker := setupInlineWorker(ctx, cfg, stack, awsCfg, logger)

	limiter := httpmiddleware.NewRateLimiter(cfg.ChatRateLimitRPS, cfg.ChatRateLimitBurst)
	go limiter.Run(ctx)

	routerCfg := &router.Config{
		Logger:              logger,
		ConversationHandler: conversation.NewHandler(stack.Orchestrator, logger),
		LeadsHandler:        leads.NewHandler(stack.Leads, logger),
		WebChat:             webchat.NewHandler(stack.Orchestrator, logger),
		AdminAuthSecret:     cfg.AdminJWTSecret,
		MetricsHandler:      metricsHandler,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		ChatRateLimiter:     limiter,
		Readiness:           stack.Readiness,
	}
	if stack.Audit != nil {
		routerCfg.AuditHandler = compliance.NewHandler(stack.Audit, logger)
	}
	r := router.New(routerCfg)

	// WriteTimeout stays above the LLM call budget so a slow turn still
	// gets its apology reply.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LLMTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	waitForInlineWorker(worker, logger)

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupMetrics exposes the process-wide collectors together with a registry
// for per-instance intake metrics.
func setupMetrics() (http.Handler, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	gatherers := prometheus.Gatherers{registry, prometheus.DefaultGatherer}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}), registry
}

// setupInlineWorker drains the in-memory intake queue when no external queue
// is configured, so completed intakes still reach advisors on a single box.
func setupInlineWorker(ctx context.Context, cfg *appconfig.Config, stack *bootstrap.ChatStack, awsCfg aws.Config, logger *logging.Logger) *notify.Worker {
	if cfg.IntakeEventsQueueURL != "" || stack == nil || stack.Queue == nil {
		return nil
	}
	sender, err := bootstrap.BuildEmailSender(cfg, awsCfg, logger)
	if err != nil {
		logger.Warn("inline notify worker disabled", "error", err)
		return nil
	}
	service := notify.NewService(sender, cfg.NotifyEmailRecipients, stack.Leads, logger)
	opts := []notify.WorkerOption{notify.WithWorkerCount(1)}
	if stack.Pool != nil {
		opts = append(opts, notify.WithProcessedEventsStore(events.NewProcessedStore(stack.Pool)))
	}
	worker := notify.NewWorker(stack.Queue, service, logger, opts...)
	worker.Start(ctx)
	logger.Info("inline notify worker started")
	return worker
}

func waitForInlineWorker(worker *notify.Worker, logger *logging.Logger) {
	if worker == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("timed out waiting for inline notify worker")
	}
}
