package worker

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/queue"
)

var _ = Describe("Worker", func() {
	var (
		ctx      context.Context
		consumer *mockConsumer
		jobs     *mockJobStore
		executor *mockExecutor
		w        *Worker
	)

	newMessage := func(id string, attempt int) queue.Message {
		return queue.Message{
			ID:      id,
			Attempt: attempt,
			Job:     model.JobRecord{ID: 100, Type: model.JobTypeCleanupJobs},
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		consumer = &mockConsumer{}
		jobs = &mockJobStore{}
		executor = &mockExecutor{}
		w = New(consumer, jobs, executor, Config{MaxAttempts: 3, ClaimBatch: 10})
	})

	Describe("stream messages", func() {
		It("executes and acks a successful message", func() {
			consumer.readFn = func(ctx context.Context) ([]queue.Message, error) {
				return []queue.Message{newMessage("1-0", 1)}, nil
			}

			Expect(w.processOneBatch(ctx)).To(Succeed())
			Expect(executor.executed).To(Equal([]int64{100}))
			Expect(consumer.acked).To(Equal([]string{"1-0"}))
			Expect(consumer.requeued).To(BeEmpty())
		})

		It("requeues a failed message below the attempt cap", func() {
			consumer.readFn = func(ctx context.Context) ([]queue.Message, error) {
				return []queue.Message{newMessage("1-0", 1)}, nil
			}
			executor.executeFn = func(ctx context.Context, job *model.JobRecord) (*model.ExecutionReport, error) {
				return nil, errors.New("handler failed")
			}

			Expect(w.processOneBatch(ctx)).To(Succeed())
			Expect(consumer.requeued).To(Equal([]string{"1-0"}))
			Expect(consumer.dlq).To(BeEmpty())
		})

		It("dead-letters a message at the attempt cap", func() {
			consumer.readFn = func(ctx context.Context) ([]queue.Message, error) {
				return []queue.Message{newMessage("1-0", 3)}, nil
			}
			executor.executeFn = func(ctx context.Context, job *model.JobRecord) (*model.ExecutionReport, error) {
				return nil, errors.New("handler failed")
			}

			Expect(w.processOneBatch(ctx)).To(Succeed())
			Expect(consumer.dlq).To(Equal([]string{"1-0"}))
			Expect(consumer.requeued).To(BeEmpty())
		})
	})

	Describe("due records", func() {
		It("executes claimed records and deletes them", func() {
			jobs.claimDueFn = func(ctx context.Context, now time.Time, limit int32) ([]model.JobRecord, error) {
				Expect(limit).To(Equal(int32(10)))
				return []model.JobRecord{
					{ID: 1, Type: model.JobTypeCleanupJobs},
					{ID: 2, Type: model.JobTypeReportRollup},
				}, nil
			}

			Expect(w.runDueRecords(ctx)).To(Succeed())
			Expect(executor.executed).To(Equal([]int64{1, 2}))
			Expect(jobs.deleted).To(Equal([]int64{1, 2}))
		})

		It("deletes a record even when its execution failed", func() {
			jobs.claimDueFn = func(ctx context.Context, now time.Time, limit int32) ([]model.JobRecord, error) {
				return []model.JobRecord{{ID: 1, Type: model.JobTypeCleanupJobs}}, nil
			}
			executor.executeFn = func(ctx context.Context, job *model.JobRecord) (*model.ExecutionReport, error) {
				return nil, errors.New("handler failed")
			}

			Expect(w.runDueRecords(ctx)).To(Succeed())
			Expect(jobs.deleted).To(Equal([]int64{1}))
		})

		It("propagates claim failures", func() {
			jobs.claimDueFn = func(ctx context.Context, now time.Time, limit int32) ([]model.JobRecord, error) {
				return nil, errors.New("database down")
			}

			err := w.runDueRecords(ctx)
			Expect(err).To(MatchError(ContainSubstring("database down")))
		})
	})
})
