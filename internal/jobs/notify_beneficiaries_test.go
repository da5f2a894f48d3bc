package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/jobs"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/notify"
)

var _ = Describe("NotifyBeneficiariesHandler", func() {
	var (
		ctx           context.Context
		beneficiaries *mockBeneficiaryStore
		push          *mockPushSender
		sched         *mockScheduler
		handler       *jobs.NotifyBeneficiariesHandler
	)

	// Five beneficiaries with a page size of two gives three pages, the
	// last one short.
	pool := []model.Beneficiary{
		{ID: "a", PushToken: "tok-a"},
		{ID: "b", PushToken: "tok-b"},
		{ID: "c", PushToken: "tok-c"},
		{ID: "d", PushToken: "tok-d"},
		{ID: "e", PushToken: "tok-e"},
	}

	newJob := func(payload jobs.NotifyPayload) *model.JobRecord {
		raw, err := json.Marshal(payload)
		Expect(err).NotTo(HaveOccurred())
		return &model.JobRecord{ID: 1, Type: model.JobTypeNotifyBeneficiaries, Payload: raw}
	}

	BeforeEach(func() {
		ctx = context.Background()
		beneficiaries = &mockBeneficiaryStore{
			listFn: func(ctx context.Context, structures []string, limit, offset int) ([]model.Beneficiary, error) {
				if offset >= len(pool) {
					return nil, nil
				}
				end := offset + limit
				if end > len(pool) {
					end = len(pool)
				}
				return pool[offset:end], nil
			},
		}
		push = &mockPushSender{}
		sched = &mockScheduler{}
		// High send rate so specs do not wait on the limiter.
		handler = jobs.NewNotifyBeneficiariesHandler(beneficiaries, push, sched, 1000, 2, 5*time.Minute)
	})

	Context("on a full page", func() {
		It("sends one notification per beneficiary and schedules the next page", func() {
			outcome, err := handler.Handle(ctx, newJob(jobs.NotifyPayload{Title: "t", Body: "b"}))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.ErrorCount).To(BeZero())

			Expect(push.sent).To(HaveLen(2))
			Expect(push.sent[0].Token).To(Equal("tok-a"))
			Expect(push.sent[1].Token).To(Equal("tok-b"))

			Expect(sched.calls).To(HaveLen(1))
			Expect(sched.calls[0].jobType).To(Equal(model.JobTypeNotifyBeneficiaries))

			next, ok := sched.calls[0].payload.(jobs.NotifyPayload)
			Expect(ok).To(BeTrue())
			Expect(next.Offset).To(Equal(2))
			Expect(next.Processed).To(Equal(2))
			Expect(next.Title).To(Equal("t"))
		})

		It("schedules the continuation inside business hours", func() {
			_, err := handler.Handle(ctx, newJob(jobs.NotifyPayload{}))
			Expect(err).NotTo(HaveOccurred())

			dueAt := sched.calls[0].dueAt
			Expect(dueAt.Hour()).To(BeNumerically(">=", 8))
			Expect(dueAt.Hour()).To(BeNumerically("<", 17))
			Expect(dueAt.Weekday()).NotTo(Equal(time.Saturday))
			Expect(dueAt.Weekday()).NotTo(Equal(time.Sunday))
		})
	})

	Context("with an empty first page", func() {
		It("reports a successful final run with zero sends", func() {
			beneficiaries.listFn = func(ctx context.Context, structures []string, limit, offset int) ([]model.Beneficiary, error) {
				return nil, nil
			}

			outcome, err := handler.Handle(ctx, newJob(jobs.NotifyPayload{}))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.ErrorCount).To(BeZero())
			Expect(push.sent).To(BeEmpty())
			Expect(sched.calls).To(BeEmpty())

			var result struct {
				Processed     int  `json:"processed"`
				LastExecution bool `json:"last_execution"`
			}
			raw, merr := json.Marshal(outcome.Result)
			Expect(merr).NotTo(HaveOccurred())
			Expect(json.Unmarshal(raw, &result)).To(Succeed())
			Expect(result.LastExecution).To(BeTrue())
			Expect(result.Processed).To(BeZero())
		})
	})

	Context("driven across its continuations", func() {
		It("reaches every beneficiary exactly once", func() {
			job := newJob(jobs.NotifyPayload{Title: "t", Body: "b"})
			var offsets []int

			// Feed each scheduled continuation back in until the chain stops.
			for executions := 0; executions < 10; executions++ {
				var payload jobs.NotifyPayload
				Expect(job.UnmarshalPayload(&payload)).To(Succeed())
				offsets = append(offsets, payload.Offset)

				before := len(sched.calls)
				_, err := handler.Handle(ctx, job)
				Expect(err).NotTo(HaveOccurred())
				if len(sched.calls) == before {
					break
				}
				next, ok := sched.calls[len(sched.calls)-1].payload.(jobs.NotifyPayload)
				Expect(ok).To(BeTrue())
				job = newJob(next)
			}

			// ceil(5/2) executions, windows back to back over the pool.
			Expect(offsets).To(Equal([]int{0, 2, 4}))

			tokens := make([]string, len(push.sent))
			for i, n := range push.sent {
				tokens[i] = n.Token
			}
			Expect(tokens).To(Equal([]string{"tok-a", "tok-b", "tok-c", "tok-d", "tok-e"}))
		})
	})

	Context("on a short page", func() {
		It("terminates the chain", func() {
			payload := jobs.NotifyPayload{Cursor: model.Cursor{Offset: 4, Processed: 4}}
			outcome, err := handler.Handle(ctx, newJob(payload))
			Expect(err).NotTo(HaveOccurred())

			Expect(push.sent).To(HaveLen(1))
			Expect(sched.calls).To(BeEmpty())

			var result struct {
				Processed     int  `json:"processed"`
				LastExecution bool `json:"last_execution"`
			}
			raw, merr := json.Marshal(outcome.Result)
			Expect(merr).NotTo(HaveOccurred())
			Expect(json.Unmarshal(raw, &result)).To(Succeed())
			Expect(result.LastExecution).To(BeTrue())
			Expect(result.Processed).To(Equal(5))
		})
	})

	Context("when an individual send fails", func() {
		BeforeEach(func() {
			push.sendFn = func(ctx context.Context, notification notify.PushNotification) error {
				if notification.Token == "tok-b" {
					return errors.New("device gone")
				}
				return nil
			}
		})

		It("counts the failure and keeps going", func() {
			outcome, err := handler.Handle(ctx, newJob(jobs.NotifyPayload{}))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.ErrorCount).To(Equal(1))

			// The chain continues despite the failed send.
			Expect(sched.calls).To(HaveLen(1))
			next := sched.calls[0].payload.(jobs.NotifyPayload)
			Expect(next.Failed).To(Equal(1))
		})
	})

	Context("when listing beneficiaries fails", func() {
		It("fails the whole execution", func() {
			beneficiaries.listFn = func(ctx context.Context, structures []string, limit, offset int) ([]model.Beneficiary, error) {
				return nil, errors.New("database down")
			}

			_, err := handler.Handle(ctx, newJob(jobs.NotifyPayload{}))
			Expect(err).To(MatchError(ContainSubstring("database down")))
			Expect(sched.calls).To(BeEmpty())
		})
	})

	Context("when scheduling the continuation fails", func() {
		It("surfaces the error so the chain break is visible", func() {
			sched.scheduleJobFn = func(ctx context.Context, jobType model.JobType, payload any, dueAt time.Time) error {
				return errors.New("redis down")
			}

			_, err := handler.Handle(ctx, newJob(jobs.NotifyPayload{}))
			Expect(err).To(MatchError(ContainSubstring("redis down")))
		})
	})
})
