package bootstrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/emma-intake/internal/archive"
	"github.com/wolfman30/emma-intake/internal/compliance"
	appconfig "github.com/wolfman30/emma-intake/internal/config"
	"github.com/wolfman30/emma-intake/internal/conversation"
	"github.com/wolfman30/emma-intake/internal/events"
	"github.com/wolfman30/emma-intake/internal/leads"
	"github.com/wolfman30/emma-intake/internal/observability/metrics"
	"github.com/wolfman30/emma-intake/pkg/logging"
)

// ChatStack is everything a chat entrypoint needs, built once per process.
type ChatStack struct {
	Orchestrator *conversation.Orchestrator
	Leads        leads.Repository
	Audit        *compliance.AuditService
	Queue        events.Queue
	Pool         *pgxpool.Pool
	Readiness    map[string]func(context.Context) error

	closers []func()
}

// Close releases every connection the stack opened, newest first.
func (s *ChatStack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// BuildChatStack wires the orchestrator with its stores and side effects.
// Optional backends that are not configured fall back to in-process versions.
func BuildChatStack(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, reg prometheus.Registerer, logger *logging.Logger) (*ChatStack, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	stack := &ChatStack{Readiness: map[string]func(context.Context) error{}}

	fail := func(err error) (*ChatStack, error) {
		stack.Close()
		return nil, err
	}

	redisClient := BuildRedisClient(ctx, cfg, logger, cfg.SessionStore == SessionStoreRedis)
	if redisClient != nil && cfg.SessionStore == SessionStoreRedis {
		stack.closers = append(stack.closers, func() { _ = redisClient.Close() })
		stack.Readiness["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	sessions, err := BuildSessionStore(cfg, redisClient, awsCfg, logger)
	if err != nil {
		return fail(err)
	}

	llm, model, err := BuildLLMClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		return fail(err)
	}

	deps := Deps{}

	pool, err := BuildPostgresPool(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	if pool != nil {
		stack.Pool = pool
		stack.closers = append(stack.closers, pool.Close)
		stack.Readiness["postgres"] = pool.Ping
		stack.Leads = leads.NewPostgresRepository(pool)
	} else {
		logger.Warn("DATABASE_URL not set; lead profiles are kept in memory")
		stack.Leads = leads.NewInMemoryRepository()
	}
	deps.Leads = stack.Leads

	auditDB, err := BuildAuditDB(cfg)
	if err != nil {
		return fail(err)
	}
	disclaimerCfg := compliance.DefaultDisclaimerConfig()
	if auditDB != nil {
		stack.closers = append(stack.closers, func() { _ = auditDB.Close() })
		audit := compliance.NewAuditService(auditDB)
		stack.Audit = audit
		deps.Audit = audit
		deps.Disclaimer = compliance.NewDisclaimerService(audit, disclaimerCfg)
	} else {
		deps.Disclaimer = compliance.NewDisclaimerService(nil, disclaimerCfg)
	}

	if cfg.ArchiveBucket != "" {
		deps.Archiver = archive.NewStore(s3.NewFromConfig(awsCfg), cfg.ArchiveBucket, logger)
	}

	stack.Queue = BuildIntakeQueue(cfg, awsCfg)
	publisher, closePublisher, err := BuildPublisher(cfg, stack.Queue, logger)
	if err != nil {
		return fail(err)
	}
	stack.closers = append(stack.closers, closePublisher)
	deps.Publisher = publisher

	if reg != nil {
		deps.Metrics = metrics.NewIntakeMetrics(reg)
	}

	stack.Orchestrator, err = BuildOrchestrator(cfg, llm, model, sessions, deps, logger)
	if err != nil {
		return fail(err)
	}
	logger.Info("chat stack ready",
		"llm", cfg.LLMProvider,
		"model", model,
		"session_store", cfg.SessionStore,
		"events", cfg.EventsBackend,
	)
	return stack, nil
}
