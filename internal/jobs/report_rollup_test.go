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

var _ = Describe("ReportRollupHandler", func() {
	var (
		ctx     context.Context
		reports *mockReportStore
		sink    *mockSink
		handler *jobs.ReportRollupHandler
		job     *model.JobRecord
	)

	BeforeEach(func() {
		ctx = context.Background()
		reports = &mockReportStore{}
		sink = &mockSink{}
		handler = jobs.NewReportRollupHandler(reports, sink, 24*time.Hour)
		job = &model.JobRecord{ID: 1, Type: model.JobTypeReportRollup}
	})

	It("sends the window's reports to the digest", func() {
		reports.listSinceFn = func(ctx context.Context, since time.Time) ([]model.ExecutionReport, error) {
			Expect(since).To(BeTemporally("~", time.Now().Add(-24*time.Hour), time.Minute))
			return []model.ExecutionReport{
				{JobType: model.JobTypeCleanupJobs, Succeeded: true},
				{JobType: model.JobTypeSyncPartnerEvents, Succeeded: false},
			}, nil
		}

		outcome, err := handler.Handle(ctx, job)
		Expect(err).NotTo(HaveOccurred())
		Expect(sink.rollups).To(HaveLen(1))
		Expect(sink.rollups[0]).To(HaveLen(2))
		Expect(outcome.ErrorCount).To(BeZero())
	})

	It("fails when the digest cannot be sent", func() {
		sink.rollupFn = func(ctx context.Context, reports []model.ExecutionReport) error {
			return errors.New("webhook unreachable")
		}

		_, err := handler.Handle(ctx, job)
		Expect(err).To(MatchError(ContainSubstring("webhook unreachable")))
	})
})
