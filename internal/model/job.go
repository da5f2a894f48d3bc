package model

import (
	"encoding/json"
	"time"
)

// JobType identifies one kind of schedulable work. Every value maps to
// exactly one handler at runtime; the mapping is validated when the worker
// starts.
type JobType string

const (
	JobTypeNotifyBeneficiaries JobType = "notify_beneficiaries"
	JobTypeSyncPartnerEvents   JobType = "sync_partner_events"
	JobTypeProcessPartnerEvent JobType = "process_partner_event"
	JobTypeCleanupJobs         JobType = "cleanup_jobs"
	JobTypeReportRollup        JobType = "report_rollup"
	JobTypeAnalyticsDump       JobType = "analytics_dump"
	JobTypeAnalyticsLoad       JobType = "analytics_load"
	JobTypeAnalyticsEnrich     JobType = "analytics_enrich"
	JobTypeAnalyticsViews      JobType = "analytics_views"
)

// JobTypes returns every known job type. Used to validate handler registry
// totality at startup.
func JobTypes() []JobType {
	return []JobType{
		JobTypeNotifyBeneficiaries,
		JobTypeSyncPartnerEvents,
		JobTypeProcessPartnerEvent,
		JobTypeCleanupJobs,
		JobTypeReportRollup,
		JobTypeAnalyticsDump,
		JobTypeAnalyticsLoad,
		JobTypeAnalyticsEnrich,
		JobTypeAnalyticsViews,
	}
}

func (t JobType) Valid() bool {
	for _, known := range JobTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// JobRecord is one persisted instance of scheduled work. DueAt may be in
// the past (runnable now) or in the future (deferred). Key carries the
// idempotency identity for records created on behalf of an upstream
// trigger; it is nil for recurring and continuation records.
type JobRecord struct {
	ID        int64           `json:"id"`
	Type      JobType         `json:"type"`
	Key       *string         `json:"key,omitempty"`
	DueAt     time.Time       `json:"due_at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ClaimedAt *time.Time      `json:"claimed_at,omitempty"`
}

// UnmarshalPayload decodes the record's payload into dst. An empty payload
// leaves dst untouched so handlers get their zero-value defaults.
func (r *JobRecord) UnmarshalPayload(dst any) error {
	if len(r.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(r.Payload, dst)
}
