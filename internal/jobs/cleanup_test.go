package jobs_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/jobs"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
)

var _ = Describe("CleanupHandler", func() {
	var (
		ctx     context.Context
		store   *mockJobStore
		reports *mockReportStore
		handler *jobs.CleanupHandler
		job     *model.JobRecord
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = &mockJobStore{}
		reports = &mockReportStore{}
		handler = jobs.NewCleanupHandler(store, reports, 48*time.Hour, 90*24*time.Hour)
		job = &model.JobRecord{ID: 1, Type: model.JobTypeCleanupJobs}
	})

	It("reports how much was removed and the cutoff used", func() {
		store.deletePastDueFn = func(ctx context.Context, cutoff time.Time) (int64, []model.JobRecord, error) {
			Expect(cutoff).To(BeTemporally("~", time.Now().Add(-48*time.Hour), time.Minute))
			return 2, []model.JobRecord{
				{ID: 10, Type: model.JobTypeNotifyBeneficiaries},
				{ID: 11, Type: model.JobTypeProcessPartnerEvent},
			}, nil
		}
		reports.deleteOlderThanFn = func(ctx context.Context, cutoff time.Time) (int64, error) {
			return 5, nil
		}

		outcome, err := handler.Handle(ctx, job)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.ErrorCount).To(BeZero())

		stats, ok := outcome.Result.(model.CleanupStats)
		Expect(ok).To(BeTrue())
		Expect(stats.JobsDeleted).To(Equal(int64(2)))
		Expect(stats.ReportsDeleted).To(Equal(int64(5)))
	})

	It("fails the execution when the job sweep fails", func() {
		store.deletePastDueFn = func(ctx context.Context, cutoff time.Time) (int64, []model.JobRecord, error) {
			return 0, nil, errors.New("database down")
		}

		_, err := handler.Handle(ctx, job)
		Expect(err).To(MatchError(ContainSubstring("database down")))
	})

	It("counts a report sweep failure without failing the execution", func() {
		reports.deleteOlderThanFn = func(ctx context.Context, cutoff time.Time) (int64, error) {
			return 0, errors.New("table locked")
		}

		outcome, err := handler.Handle(ctx, job)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.ErrorCount).To(Equal(1))
	})
})
