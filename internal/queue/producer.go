package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
)

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, rec *model.JobRecord) error {
	values := map[string]any{
		"job_id":   rec.ID,
		"job_type": string(rec.Type),
		"attempt":  1,
	}
	if rec.Key != nil && *rec.Key != "" {
		values["key"] = *rec.Key
	}
	if len(rec.Payload) > 0 {
		values["payload"] = string(rec.Payload)
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued job", "job_id", rec.ID, "job_type", rec.Type)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
