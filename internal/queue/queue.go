package queue

import (
	"context"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
)

// Producer enqueues job records for immediate stream delivery.
type Producer interface {
	Enqueue(ctx context.Context, rec *model.JobRecord) error
	Close() error
}

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]Message, error)
	Ack(ctx context.Context, msg Message) error
	Requeue(ctx context.Context, msg Message, errMsg string) error
	SendDLQ(ctx context.Context, msg Message, errMsg string) error
}
