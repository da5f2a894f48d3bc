// Command schedule enqueues a job by hand. Useful for kicking off a
// notification campaign or replaying an analytics run without waiting for
// the recurring schedule. With -inspect it prints a scheduled record
// instead of creating one.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SocialGouv/pass-emploi-api-sub007/common/id"
	"github.com/SocialGouv/pass-emploi-api-sub007/common/logger"
	"github.com/SocialGouv/pass-emploi-api-sub007/core/config"
	"github.com/SocialGouv/pass-emploi-api-sub007/core/db"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/queue"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/scheduler"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/store"
)

func main() {
	jobType := flag.String("type", "", "job type to schedule")
	payload := flag.String("payload", "", "JSON payload (optional)")
	due := flag.String("due", "", "due time, RFC3339 (default: now)")
	key := flag.String("key", "", "idempotency key (optional)")
	inspect := flag.Int64("inspect", 0, "print the scheduled job with this id and exit")
	flag.Parse()

	var err error
	if *inspect != 0 {
		err = runInspect(*inspect)
	} else {
		err = run(*jobType, *payload, *due, *key)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runInspect(jobID int64) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger.Setup(cfg)

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	record, err := store.NewScheduledJobStore(database.Pool()).GetByID(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no scheduled job with id %d", jobID)
	}
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func run(jobTypeStr, payloadStr, dueStr, key string) error {
	ctx := context.Background()

	t := model.JobType(jobTypeStr)
	if !t.Valid() {
		return fmt.Errorf("unknown job type %q, known types: %v", jobTypeStr, model.JobTypes())
	}

	var payload any
	if payloadStr != "" {
		var raw json.RawMessage
		if err := json.Unmarshal([]byte(payloadStr), &raw); err != nil {
			return fmt.Errorf("payload is not valid JSON: %w", err)
		}
		payload = raw
	}

	var dueAt time.Time
	if dueStr != "" {
		parsed, err := time.Parse(time.RFC3339, dueStr)
		if err != nil {
			return fmt.Errorf("parsing due time: %w", err)
		}
		dueAt = parsed
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger.Setup(cfg)

	if err := id.Init(cfg.Worker.NodeID); err != nil {
		return fmt.Errorf("initializing id generator: %w", err)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	redisOpts, err := redis.ParseURL(cfg.Queue.RedisURL)
	if err != nil {
		return fmt.Errorf("parsing redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}

	producer := queue.NewRedisProducer(redisClient, cfg.Queue.Stream, slog.Default())
	defer producer.Close()
	sched := scheduler.New(store.NewScheduledJobStore(database.Pool()), producer)

	if key != "" {
		created, err := sched.ScheduleOnce(ctx, t, key, payload, dueAt)
		if err != nil {
			return err
		}
		if !created {
			fmt.Printf("job %s with key %q is already pending, nothing scheduled\n", t, key)
			return nil
		}
		fmt.Printf("scheduled %s with key %q\n", t, key)
		return nil
	}

	if err := sched.ScheduleJob(ctx, t, payload, dueAt); err != nil {
		return err
	}
	fmt.Printf("scheduled %s\n", t)
	return nil
}
