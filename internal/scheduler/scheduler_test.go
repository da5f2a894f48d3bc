package scheduler_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/SocialGouv/pass-emploi-api-sub007/common/id"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/scheduler"
)

var _ = Describe("Service", func() {
	var (
		ctx      context.Context
		jobs     *mockJobStore
		producer *mockProducer
		svc      *scheduler.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		Expect(id.Init(1)).To(Succeed())
		jobs = &mockJobStore{}
		producer = &mockProducer{}
		svc = scheduler.New(jobs, producer)
	})

	Describe("ScheduleJob", func() {
		It("sends a record due now straight to the stream", func() {
			err := svc.ScheduleJob(ctx, model.JobTypeCleanupJobs, nil, time.Time{})
			Expect(err).NotTo(HaveOccurred())

			Expect(producer.enqueued).To(HaveLen(1))
			Expect(jobs.created).To(BeEmpty())
			Expect(producer.enqueued[0].Type).To(Equal(model.JobTypeCleanupJobs))
			Expect(producer.enqueued[0].ID).NotTo(BeZero())
		})

		It("stores a deferred record instead of enqueueing it", func() {
			dueAt := time.Now().Add(2 * time.Hour)
			err := svc.ScheduleJob(ctx, model.JobTypeCleanupJobs, nil, dueAt)
			Expect(err).NotTo(HaveOccurred())

			Expect(producer.enqueued).To(BeEmpty())
			Expect(jobs.created).To(HaveLen(1))
			Expect(jobs.created[0].DueAt).To(BeTemporally("~", dueAt, time.Second))
		})

		It("encodes the payload as JSON", func() {
			payload := map[string]any{"offset": 10}
			err := svc.ScheduleJob(ctx, model.JobTypeNotifyBeneficiaries, payload, time.Time{})
			Expect(err).NotTo(HaveOccurred())

			var decoded map[string]int
			Expect(json.Unmarshal(producer.enqueued[0].Payload, &decoded)).To(Succeed())
			Expect(decoded).To(HaveKeyWithValue("offset", 10))
		})

		It("rejects an unknown job type", func() {
			err := svc.ScheduleJob(ctx, model.JobType("mystery"), nil, time.Time{})
			Expect(err).To(MatchError(ContainSubstring("unknown job type")))
		})

		It("propagates enqueue failures", func() {
			producer.enqueueFn = func(ctx context.Context, rec *model.JobRecord) error {
				return errors.New("redis down")
			}
			err := svc.ScheduleJob(ctx, model.JobTypeCleanupJobs, nil, time.Time{})
			Expect(err).To(MatchError(ContainSubstring("redis down")))
		})
	})

	Describe("ScheduleOnce", func() {
		It("creates a keyed record when none is pending", func() {
			created, err := svc.ScheduleOnce(ctx, model.JobTypeProcessPartnerEvent, "evt-1", nil, time.Time{})
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())

			Expect(jobs.created).To(HaveLen(1))
			Expect(jobs.created[0].Key).NotTo(BeNil())
			Expect(*jobs.created[0].Key).To(Equal("evt-1"))
			// Keyed records always go through the store so the pending
			// check stays authoritative.
			Expect(producer.enqueued).To(BeEmpty())
		})

		It("does nothing when the key is already pending", func() {
			jobs.existsPendingFn = func(ctx context.Context, jobType model.JobType, key string) (bool, error) {
				return true, nil
			}

			created, err := svc.ScheduleOnce(ctx, model.JobTypeProcessPartnerEvent, "evt-1", nil, time.Time{})
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(jobs.created).To(BeEmpty())
		})

		It("rejects an empty key", func() {
			_, err := svc.ScheduleOnce(ctx, model.JobTypeProcessPartnerEvent, "", nil, time.Time{})
			Expect(err).To(MatchError(ContainSubstring("idempotency key")))
		})

		It("propagates pending-check failures", func() {
			jobs.existsPendingFn = func(ctx context.Context, jobType model.JobType, key string) (bool, error) {
				return false, errors.New("database down")
			}
			_, err := svc.ScheduleOnce(ctx, model.JobTypeProcessPartnerEvent, "evt-1", nil, time.Time{})
			Expect(err).To(MatchError(ContainSubstring("database down")))
		})
	})
})
