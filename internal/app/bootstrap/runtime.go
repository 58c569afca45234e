package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/emma-intake/internal/config"
	"github.com/wolfman30/emma-intake/internal/conversation"
	"github.com/wolfman30/emma-intake/pkg/logging"
)

// Session store backends accepted by SESSION_STORE.
const (
	SessionStoreMemory   = "memory"
	SessionStoreRedis    = "redis"
	SessionStoreDynamoDB = "dynamodb"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildSessionStore selects the conversation state backend. The memory store
// is only safe for a single process.
func BuildSessionStore(cfg *appconfig.Config, redisClient *redis.Client, awsCfg aws.Config, logger *logging.Logger) (conversation.SessionStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch cfg.SessionStore {
	case "", SessionStoreMemory:
		if cfg.Env == "production" {
			logger.Warn("in-memory session store in production; state is lost on restart")
		}
		return conversation.NewMemorySessionStore(), nil
	case SessionStoreRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("bootstrap: redis session store requires REDIS_ADDR")
		}
		logger.Info("session store configured", "backend", SessionStoreRedis, "ttl", cfg.SessionTTL.String())
		return conversation.NewRedisSessionStore(redisClient, cfg.SessionTTL), nil
	case SessionStoreDynamoDB:
		if strings.TrimSpace(cfg.SessionsTable) == "" {
			return nil, fmt.Errorf("bootstrap: dynamodb session store requires SESSIONS_TABLE")
		}
		logger.Info("session store configured", "backend", SessionStoreDynamoDB, "table", cfg.SessionsTable)
		return conversation.NewDynamoSessionStore(dynamodb.NewFromConfig(awsCfg), cfg.SessionsTable, cfg.SessionTTL), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown session store %q", cfg.SessionStore)
	}
}

// BuildPostgresPool opens the pgx pool used for lead profiles and processed
// events. It returns nil when DATABASE_URL is unset.
func BuildPostgresPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open postgres pool: %w", err)
	}
	return pool, nil
}

// BuildAuditDB opens the database/sql handle the compliance audit trail
// writes through. It returns nil when DATABASE_URL is unset.
func BuildAuditDB(cfg *appconfig.Config) (*sql.DB, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open audit db: %w", err)
	}
	db.SetMaxOpenConns(5)
	return db, nil
}
