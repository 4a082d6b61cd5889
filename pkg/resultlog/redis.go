// Package resultlog публикует результат запуска writer'а в Redis.
package resultlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ruslano69/mysqlwriter/pkg/config"
	"github.com/ruslano69/mysqlwriter/pkg/pipeline"
)

// WriterResult представляет состояние запуска, публикуемое в Redis
// после завершения (успешного или с ошибкой).
//
// Redis-ключи:
//
//	SET  mysqlwriter:<name>:state  <JSON>  EX <ttl>  для GET-запросов оркестратора
//	PUB  mysqlwriter:<name>                          для event-driven маршрутизации
type WriterResult struct {
	ResultName  string                 `json:"result_name"`
	Database    string                 `json:"database"`
	Status      string                 `json:"status"` // "success" | "failed"
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
	DurationMs  int64                  `json:"duration_ms"`
	BytesLoaded int64                  `json:"bytes_loaded"`
	Tables      []pipeline.TableResult `json:"tables"`
	Error       *string                `json:"error,omitempty"`
}

// RedisPublisher публикует результат запуска в Redis
type RedisPublisher struct {
	client *redis.Client
	config config.ResultLogConfig
}

// NewRedisPublisher создает новый Redis publisher на основе конфигурации
func NewRedisPublisher(cfg config.ResultLogConfig) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisPublisher{client: client, config: cfg}
}

// StateKey возвращает ключ с последним состоянием
func (p *RedisPublisher) StateKey() string {
	return fmt.Sprintf("mysqlwriter:%s:state", p.config.Name)
}

// Channel возвращает канал событий
func (p *RedisPublisher) Channel() string {
	return fmt.Sprintf("mysqlwriter:%s", p.config.Name)
}

// Publish публикует результат запуска:
//   - SET mysqlwriter:<name>:state <JSON> EX <ttl>  → для опроса (polling)
//   - PUBLISH mysqlwriter:<name> <JSON>              → для подписки (pub/sub)
//
// Вызывается независимо от результата выполнения.
func (p *RedisPublisher) Publish(ctx context.Context, database string, res *pipeline.Result) error {
	payload, err := json.Marshal(WriterResult{
		ResultName:  p.config.Name,
		Database:    database,
		Status:      res.Status,
		StartedAt:   res.StartedAt,
		FinishedAt:  res.FinishedAt,
		DurationMs:  res.DurationMs,
		BytesLoaded: res.BytesLoaded(),
		Tables:      res.Tables,
		Error:       res.Error,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	ttl := time.Duration(p.config.TTL) * time.Second

	// SET ключ с TTL: оркестратор может GET для получения последнего состояния
	if err := p.client.Set(ctx, p.StateKey(), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}

	// PUBLISH событие: оркестратор может SUBSCRIBE для event-driven маршрутизации
	if err := p.client.Publish(ctx, p.Channel(), payload).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH failed: %w", err)
	}

	return nil
}

// Close закрывает соединение с Redis
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
