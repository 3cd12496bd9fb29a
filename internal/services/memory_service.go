package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"atlas-travel-pipeline/internal/config"
	"atlas-travel-pipeline/internal/models"
	"atlas-travel-pipeline/internal/pkg/logger"
)

const maxSessionExchanges = 10

// SessionMemory loads and appends prior exchanges for a session. The core
// pipeline stays request-scoped; memory lives at the boundary and is optional.
type SessionMemory interface {
	GetHistory(ctx context.Context, sessionID string) (string, error)
	AppendExchange(ctx context.Context, sessionID string, exchange models.ConversationExchange) error
}

// MemoryService keeps recent exchanges per session in a redis list with a
// sliding TTL, so a follow-up like "and a hotel there" can be resolved even
// when the client sends no history of its own.
type MemoryService struct {
	client *redis.Client
	config config.RedisConfig
	logger *logger.Logger
}

func NewMemoryService(cfg config.RedisConfig, log *logger.Logger) (*MemoryService, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opt.PoolSize = cfg.PoolSize
	opt.DialTimeout = cfg.DialTimeout
	opt.ReadTimeout = cfg.ReadTimeout
	opt.WriteTimeout = cfg.WriteTimeout

	service := &MemoryService{
		client: redis.NewClient(opt),
		config: cfg,
		logger: log,
	}

	if err := service.testConnection(); err != nil {
		return nil, fmt.Errorf("connection to redis failed: %w", err)
	}

	log.Info("Memory service initialized",
		"url", cfg.URL,
		"pool_size", cfg.PoolSize,
		"session_ttl", cfg.SessionTTL,
	)

	return service, nil
}

func (service *MemoryService) testConnection() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := service.client.Ping(ctx).Err(); err != nil {
		return err
	}
	return nil
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s:exchanges", sessionID)
}

// GetHistory returns the session's exchanges flattened to text, oldest first.
// An unknown session yields an empty history, not an error.
func (service *MemoryService) GetHistory(ctx context.Context, sessionID string) (string, error) {
	startTime := time.Now()
	key := sessionKey(sessionID)

	entries, err := service.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		service.logger.LogService("memory", "get_history", time.Since(startTime), map[string]interface{}{
			"session_id": sessionID,
		}, err)
		return "", models.NewExternalError("MEMORY_GET_FAILED", "failed to load session history").WithCause(err)
	}

	exchanges := make([]models.ConversationExchange, 0, len(entries))
	for _, entry := range entries {
		var exchange models.ConversationExchange
		if err := json.Unmarshal([]byte(entry), &exchange); err != nil {
			service.logger.WithError(err).Warn("Skipping malformed session exchange", "session_id", sessionID)
			continue
		}
		exchanges = append(exchanges, exchange)
	}

	service.logger.LogService("memory", "get_history", time.Since(startTime), map[string]interface{}{
		"session_id": sessionID,
		"exchanges":  len(exchanges),
	}, nil)

	return models.FlattenExchanges(exchanges), nil
}

// AppendExchange records one completed turn and trims the list to the most
// recent exchanges, refreshing the session TTL.
func (service *MemoryService) AppendExchange(ctx context.Context, sessionID string, exchange models.ConversationExchange) error {
	startTime := time.Now()
	key := sessionKey(sessionID)

	if exchange.Timestamp.IsZero() {
		exchange.Timestamp = time.Now()
	}

	entry, err := json.Marshal(exchange)
	if err != nil {
		return models.NewInternalError("MEMORY_ENCODE_FAILED", "failed to encode session exchange").WithCause(err)
	}

	pipe := service.client.Pipeline()
	pipe.RPush(ctx, key, entry)
	pipe.LTrim(ctx, key, int64(-maxSessionExchanges), -1)
	pipe.Expire(ctx, key, service.config.SessionTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		service.logger.LogService("memory", "append_exchange", time.Since(startTime), map[string]interface{}{
			"session_id": sessionID,
		}, err)
		return models.NewExternalError("MEMORY_APPEND_FAILED", "failed to append session exchange").WithCause(err)
	}

	service.logger.LogService("memory", "append_exchange", time.Since(startTime), map[string]interface{}{
		"session_id": sessionID,
	}, nil)

	return nil
}

func (service *MemoryService) HealthCheck(ctx context.Context) error {
	if err := service.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("memory connection unhealthy: %w", err)
	}
	return nil
}

func (service *MemoryService) Close() error {
	service.logger.Info("Closing memory service")
	return service.client.Close()
}
