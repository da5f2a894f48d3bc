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
)

var _ = Describe("Analytics pipeline", func() {
	var (
		ctx       context.Context
		analytics *mockAnalyticsStore
		sched     *mockScheduler
	)

	BeforeEach(func() {
		ctx = context.Background()
		analytics = &mockAnalyticsStore{}
		sched = &mockScheduler{}
	})

	Describe("dump stage", func() {
		var handler *jobs.AnalyticsDumpHandler

		BeforeEach(func() {
			handler = jobs.NewAnalyticsDumpHandler(analytics, sched)
		})

		It("sizes the work and chains the load stage", func() {
			since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
			analytics.lastLoadedAtFn = func(ctx context.Context) (time.Time, error) {
				return since, nil
			}
			analytics.countFn = func(ctx context.Context, gotSince time.Time) (int64, error) {
				Expect(gotSince).To(Equal(since))
				return 7, nil
			}

			_, err := handler.Handle(ctx, &model.JobRecord{ID: 1, Type: model.JobTypeAnalyticsDump})
			Expect(err).NotTo(HaveOccurred())
			Expect(analytics.schemaEnsured).To(Equal(1))

			Expect(sched.calls).To(HaveLen(1))
			Expect(sched.calls[0].jobType).To(Equal(model.JobTypeAnalyticsLoad))

			raw, merr := json.Marshal(sched.calls[0].payload)
			Expect(merr).NotTo(HaveOccurred())
			var payload struct {
				Since time.Time `json:"since"`
				Total int64     `json:"total"`
			}
			Expect(json.Unmarshal(raw, &payload)).To(Succeed())
			Expect(payload.Since).To(Equal(since))
			Expect(payload.Total).To(Equal(int64(7)))
		})

		It("halts the chain when counting fails", func() {
			analytics.countFn = func(ctx context.Context, since time.Time) (int64, error) {
				return 0, errors.New("source unavailable")
			}

			_, err := handler.Handle(ctx, &model.JobRecord{ID: 1, Type: model.JobTypeAnalyticsDump})
			Expect(err).To(MatchError(ContainSubstring("source unavailable")))
			Expect(sched.calls).To(BeEmpty())
		})
	})

	Describe("load stage", func() {
		var handler *jobs.AnalyticsLoadHandler

		newJob := func(total int64) *model.JobRecord {
			raw, err := json.Marshal(map[string]any{"since": time.Now().UTC(), "total": total})
			Expect(err).NotTo(HaveOccurred())
			return &model.JobRecord{ID: 1, Type: model.JobTypeAnalyticsLoad, Payload: raw}
		}

		BeforeEach(func() {
			handler = jobs.NewAnalyticsLoadHandler(analytics, sched, 2)
		})

		It("copies in fixed windows and chains the enrich stage", func() {
			// total=5 with batch=2 means three windows at offsets 0, 2, 4.
			_, err := handler.Handle(ctx, newJob(5))
			Expect(err).NotTo(HaveOccurred())

			Expect(analytics.copiedOffsets).To(Equal([]int64{0, 2, 4}))
			Expect(sched.calls).To(HaveLen(1))
			Expect(sched.calls[0].jobType).To(Equal(model.JobTypeAnalyticsEnrich))
		})

		It("runs no window when there is nothing to copy", func() {
			_, err := handler.Handle(ctx, newJob(0))
			Expect(err).NotTo(HaveOccurred())
			Expect(analytics.copiedOffsets).To(BeEmpty())
			// An empty load still hands off so the views stay fresh.
			Expect(sched.calls).To(HaveLen(1))
		})

		It("halts the chain when a window fails", func() {
			analytics.copyBatchFn = func(ctx context.Context, since time.Time, limit, offset int64) (int64, error) {
				if offset == 2 {
					return 0, errors.New("copy failed")
				}
				return 2, nil
			}

			_, err := handler.Handle(ctx, newJob(5))
			Expect(err).To(MatchError(ContainSubstring("copy failed")))
			Expect(sched.calls).To(BeEmpty())
		})
	})

	Describe("enrich stage", func() {
		It("chains the views stage after enriching", func() {
			handler := jobs.NewAnalyticsEnrichHandler(analytics, sched)
			analytics.enrichFn = func(ctx context.Context) (int64, error) {
				return 9, nil
			}

			_, err := handler.Handle(ctx, &model.JobRecord{ID: 1, Type: model.JobTypeAnalyticsEnrich})
			Expect(err).NotTo(HaveOccurred())
			Expect(sched.calls).To(HaveLen(1))
			Expect(sched.calls[0].jobType).To(Equal(model.JobTypeAnalyticsViews))
		})
	})

	Describe("views stage", func() {
		It("refreshes the views and ends the chain", func() {
			handler := jobs.NewAnalyticsViewsHandler(analytics)
			analytics.refreshViewsFn = func(ctx context.Context) ([]string, error) {
				return []string{"engagement_weekly", "feature_usage_weekly"}, nil
			}

			_, err := handler.Handle(ctx, &model.JobRecord{ID: 1, Type: model.JobTypeAnalyticsViews})
			Expect(err).NotTo(HaveOccurred())
			Expect(sched.calls).To(BeEmpty())
		})
	})
})
