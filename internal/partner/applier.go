package partner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/notify"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/store"
)

// EventApplier mirrors one partner event into the local appointment mirror
// and tells the beneficiary about it. Apply must be idempotent: the same
// event delivered twice converges to the same row state.
type EventApplier struct {
	pool          *pgxpool.Pool
	beneficiaries store.BeneficiaryStore
	push          notify.PushSender
}

func NewEventApplier(pool *pgxpool.Pool, beneficiaries store.BeneficiaryStore, push notify.PushSender) *EventApplier {
	return &EventApplier{
		pool:          pool,
		beneficiaries: beneficiaries,
		push:          push,
	}
}

func (a *EventApplier) Apply(ctx context.Context, ev model.PartnerEvent) error {
	switch ev.Type {
	case model.PartnerEventCreate, model.PartnerEventUpdate:
		if err := a.upsert(ctx, ev); err != nil {
			return err
		}
		return a.notifyBeneficiary(ctx, ev, "Votre rendez-vous a été mis à jour")
	case model.PartnerEventDelete:
		if err := a.delete(ctx, ev); err != nil {
			return err
		}
		return a.notifyBeneficiary(ctx, ev, "Votre rendez-vous a été supprimé")
	default:
		return fmt.Errorf("cannot apply partner event of type %q", ev.Type)
	}
}

func (a *EventApplier) upsert(ctx context.Context, ev model.PartnerEvent) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO partner_appointment (id, beneficiary_id, kind, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET beneficiary_id = EXCLUDED.beneficiary_id,
		    kind = EXCLUDED.kind,
		    updated_at = GREATEST(partner_appointment.updated_at, EXCLUDED.updated_at)`,
		ev.ObjectID, ev.BeneficiaryID, string(ev.Object), ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("upserting partner appointment %s: %w", ev.ObjectID, err)
	}
	return nil
}

func (a *EventApplier) delete(ctx context.Context, ev model.PartnerEvent) error {
	_, err := a.pool.Exec(ctx, `
		DELETE FROM partner_appointment WHERE id = $1`,
		ev.ObjectID,
	)
	if err != nil {
		return fmt.Errorf("deleting partner appointment %s: %w", ev.ObjectID, err)
	}
	return nil
}

// notifyBeneficiary is best-effort: a beneficiary without a registered
// device is normal and must not fail the event.
func (a *EventApplier) notifyBeneficiary(ctx context.Context, ev model.PartnerEvent, body string) error {
	token, err := a.beneficiaries.GetPushToken(ctx, ev.BeneficiaryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("resolving push token for %s: %w", ev.BeneficiaryID, err)
	}

	notification := notify.PushNotification{
		Token: token,
		Title: "Rendez-vous",
		Body:  body,
		Data:  map[string]string{"type": string(ev.Type), "appointment_id": ev.ObjectID},
	}
	if err := a.push.Send(ctx, notification); err != nil {
		slog.WarnContext(ctx, "failed to push appointment notification",
			"event", "partner.push_failed",
			"beneficiary_id", ev.BeneficiaryID,
			"error", err.Error(),
		)
	}
	return nil
}
