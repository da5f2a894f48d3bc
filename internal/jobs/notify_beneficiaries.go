package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/notify"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/runner"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/store"
)

// NotifyPayload drives one page of a notification campaign. The embedded
// cursor carries the continuation state; the remaining fields describe the
// campaign itself and are copied verbatim onto every follow-up record.
type NotifyPayload struct {
	model.Cursor
	Structures []string `json:"structures"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	PageSize   int      `json:"page_size,omitempty"`
}

type notifyResult struct {
	model.Cursor
	PageCount     int  `json:"page_count"`
	LastExecution bool `json:"last_execution"`
}

// NotifyBeneficiariesHandler sends one page of push notifications and, when
// the page was full, schedules the next page as a fresh job. Sends are rate
// limited so a large campaign cannot saturate the push gateway.
type NotifyBeneficiariesHandler struct {
	beneficiaries store.BeneficiaryStore
	push          notify.PushSender
	scheduler     JobScheduler
	limiter       *rate.Limiter
	pageSize      int
	batchDelay    time.Duration
	now           func() time.Time
}

func NewNotifyBeneficiariesHandler(
	beneficiaries store.BeneficiaryStore,
	push notify.PushSender,
	scheduler JobScheduler,
	ratePerSecond float64,
	pageSize int,
	batchDelay time.Duration,
) *NotifyBeneficiariesHandler {
	return &NotifyBeneficiariesHandler{
		beneficiaries: beneficiaries,
		push:          push,
		scheduler:     scheduler,
		limiter:       rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		pageSize:      pageSize,
		batchDelay:    batchDelay,
		now:           time.Now,
	}
}

func (h *NotifyBeneficiariesHandler) Type() model.JobType {
	return model.JobTypeNotifyBeneficiaries
}

func (h *NotifyBeneficiariesHandler) Handle(ctx context.Context, job *model.JobRecord) (runner.Outcome, error) {
	var payload NotifyPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return runner.Outcome{}, fmt.Errorf("decoding notification payload: %w", err)
	}
	if payload.PageSize <= 0 {
		payload.PageSize = h.pageSize
	}

	page, err := h.beneficiaries.ListWithPushTokens(ctx, payload.Structures, payload.PageSize, payload.Offset)
	if err != nil {
		return runner.Outcome{}, fmt.Errorf("listing beneficiaries at offset %d: %w", payload.Offset, err)
	}

	failed := 0
	for _, b := range page {
		if err := h.limiter.Wait(ctx); err != nil {
			return runner.Outcome{ErrorCount: failed}, fmt.Errorf("waiting for send slot: %w", err)
		}
		notification := notify.PushNotification{
			Token: b.PushToken,
			Title: payload.Title,
			Body:  payload.Body,
		}
		if err := h.push.Send(ctx, notification); err != nil {
			failed++
			slog.WarnContext(ctx, "push notification failed",
				"event", "jobs.notify.push_failed",
				"beneficiary_id", b.ID,
				"error", err.Error(),
			)
		}
	}

	cursor := payload.Cursor
	cursor.Processed += len(page)
	cursor.Failed += failed

	result := notifyResult{
		Cursor:        cursor,
		PageCount:     len(page),
		LastExecution: len(page) < payload.PageSize,
	}
	if result.LastExecution {
		return runner.Outcome{ErrorCount: failed, Result: result}, nil
	}

	next := payload
	next.Cursor = cursor.Advance(payload.PageSize)
	dueAt := deferToBusinessHours(h.now().Add(h.batchDelay))
	if err := h.scheduler.ScheduleJob(ctx, h.Type(), next, dueAt); err != nil {
		return runner.Outcome{ErrorCount: failed, Result: result},
			fmt.Errorf("scheduling next notification page: %w", err)
	}
	return runner.Outcome{ErrorCount: failed, Result: result}, nil
}

// deferToBusinessHours pushes a send time out of nights and weekends so
// beneficiaries never get woken up. Sends land between 08:00 and 17:00,
// Monday through Friday, in the time's own location.
func deferToBusinessHours(t time.Time) time.Time {
	if t.Hour() >= 17 {
		t = time.Date(t.Year(), t.Month(), t.Day()+1, 8, 0, 0, 0, t.Location())
	} else if t.Hour() < 8 {
		t = time.Date(t.Year(), t.Month(), t.Day(), 8, 0, 0, 0, t.Location())
	}
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = time.Date(t.Year(), t.Month(), t.Day()+1, 8, 0, 0, 0, t.Location())
	}
	return t
}
