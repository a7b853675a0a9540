package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/saji-pos/api/internal/database"
	"github.com/saji-pos/api/internal/gateway"
)

// ErrInconclusive marks a poll that could not determine the intent's
// status. Nothing changed; the caller retries on its next tick or lets the
// intent run out its expiry.
var ErrInconclusive = errors.New("payment status check inconclusive")

// PollerStore defines the database methods the poller needs.
// Satisfied by *database.Queries.
type PollerStore interface {
	GetPaymentIntent(ctx context.Context, id uuid.UUID) (database.PaymentIntent, error)
}

// Poller performs one client-driven status check per call. It is stateless
// between calls: the payment screen invokes it on its own interval while a
// pending intent is displayed, and stops once the result is terminal.
type Poller struct {
	store PollerStore
	gw    gateway.Gateway
	rec   *Reconciler
	now   func() time.Time
}

// NewPoller creates a Poller feeding the given reconciler.
func NewPoller(store PollerStore, gw gateway.Gateway, rec *Reconciler) *Poller {
	return &Poller{store: store, gw: gw, rec: rec, now: time.Now}
}

// PollOnce queries the gateway for the intent's current status, records it
// as evidence, and reconciles. An intent past its expiry is reconciled as
// expired without a gateway round trip.
func (p *Poller) PollOnce(ctx context.Context, intentID uuid.UUID) (CanonicalStatus, error) {
	intent, err := p.store.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return "", fmt.Errorf("get intent: %w", err)
	}
	if intent.Status != database.IntentStatusPENDING {
		return FromIntentStatus(intent.Status), nil
	}

	if p.now().After(intent.ExpiresAt) {
		status, err := p.rec.Reconcile(ctx, intentID, Evidence{
			Status: StatusExpired,
			Source: database.EvidenceSourcePOLL,
			Raw:    []byte(`{"reason":"expiry elapsed before settlement"}`),
		})
		if err != nil {
			return "", fmt.Errorf("reconcile expiry: %w", err)
		}
		return FromIntentStatus(status), nil
	}

	providerStatus, err := p.gw.QueryStatus(ctx, intentID.String())
	if err != nil {
		// A failed query never changes the intent; report inconclusive
		// and let the caller retry.
		return "", fmt.Errorf("%w: %v", ErrInconclusive, err)
	}

	observed := Normalize(providerStatus)
	status, err := p.rec.Reconcile(ctx, intentID, Evidence{
		Status: observed,
		Source: database.EvidenceSourcePOLL,
		Raw:    []byte(fmt.Sprintf(`{"transaction_status":%q}`, providerStatus)),
	})
	if err != nil {
		return "", fmt.Errorf("reconcile poll result: %w", err)
	}
	return EffectiveStatus(database.PaymentIntent{
		Status:    status,
		ExpiresAt: intent.ExpiresAt,
	}, p.now()), nil
}
