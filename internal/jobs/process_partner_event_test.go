package jobs_test

import (
	"context"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/jobs"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
)

var _ = Describe("ProcessPartnerEventHandler", func() {
	var (
		ctx     context.Context
		applier *mockApplier
		handler *jobs.ProcessPartnerEventHandler
	)

	newJob := func(ev model.PartnerEvent) *model.JobRecord {
		raw, err := json.Marshal(ev)
		Expect(err).NotTo(HaveOccurred())
		return &model.JobRecord{ID: 1, Type: model.JobTypeProcessPartnerEvent, Payload: raw}
	}

	BeforeEach(func() {
		ctx = context.Background()
		applier = &mockApplier{}
		handler = jobs.NewProcessPartnerEventHandler(applier)
	})

	It("applies a treatable event", func() {
		ev := model.PartnerEvent{
			ID:     "e1",
			Type:   model.PartnerEventUpdate,
			Object: model.PartnerObjectAppointment,
		}

		outcome, err := handler.Handle(ctx, newJob(ev))
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.ErrorCount).To(BeZero())
		Expect(applier.applied).To(HaveLen(1))
		Expect(applier.applied[0].ID).To(Equal("e1"))
	})

	It("ignores an event with an untreatable action", func() {
		ev := model.PartnerEvent{ID: "e1", Type: model.PartnerEventUntreatable, Object: model.PartnerObjectAppointment}

		_, err := handler.Handle(ctx, newJob(ev))
		Expect(err).NotTo(HaveOccurred())
		Expect(applier.applied).To(BeEmpty())
	})

	It("ignores an event on an untreatable object", func() {
		ev := model.PartnerEvent{ID: "e1", Type: model.PartnerEventCreate, Object: model.PartnerObjectUntreatable}

		_, err := handler.Handle(ctx, newJob(ev))
		Expect(err).NotTo(HaveOccurred())
		Expect(applier.applied).To(BeEmpty())
	})

	It("fails the execution when applying fails", func() {
		applier.applyFn = func(ctx context.Context, ev model.PartnerEvent) error {
			return errors.New("constraint violation")
		}
		ev := model.PartnerEvent{ID: "e1", Type: model.PartnerEventDelete, Object: model.PartnerObjectAppointment}

		_, err := handler.Handle(ctx, newJob(ev))
		Expect(err).To(MatchError(ContainSubstring("constraint violation")))
	})
})
