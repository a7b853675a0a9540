package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/saji-pos/api/internal/database"
)

// FinalizeOutcome reports what a FinalizeOrder call did.
type FinalizeOutcome int

const (
	// FinalizeOk means this call completed the order and ran the
	// completion side effects.
	FinalizeOk FinalizeOutcome = iota

	// FinalizeAlreadyDone means the order was completed earlier; no side
	// effects ran.
	FinalizeAlreadyDone
)

// OrderFinalizer marks an order completed and runs its completion side
// effects (table release, receipt, notification). Calling it twice for the
// same order must be safe; the second call reports FinalizeAlreadyDone.
type OrderFinalizer interface {
	FinalizeOrder(ctx context.Context, orderID uuid.UUID) (FinalizeOutcome, error)
}

// ReconcilerStore defines the database methods the reconciler needs.
// Satisfied by *database.Queries.
type ReconcilerStore interface {
	GetPaymentIntent(ctx context.Context, id uuid.UUID) (database.PaymentIntent, error)
	TransitionPaymentIntent(ctx context.Context, arg database.TransitionPaymentIntentParams) (database.PaymentIntent, error)
	MarkIntentFinalized(ctx context.Context, id uuid.UUID) error
	CreateStatusEvidence(ctx context.Context, arg database.CreateStatusEvidenceParams) (database.StatusEvidence, error)
}

// Evidence is one observation of an intent's status, from either transport.
type Evidence struct {
	Status CanonicalStatus
	Source database.EvidenceSource
	Raw    []byte
}

// Reconciler folds status evidence into the intent state machine. It is
// the single decision point for both the poller and the webhook receiver,
// so the transition rules exist (and are tested) exactly once.
type Reconciler struct {
	store     ReconcilerStore
	finalizer OrderFinalizer
	now       func() time.Time
}

// NewReconciler creates a Reconciler.
func NewReconciler(store ReconcilerStore, finalizer OrderFinalizer) *Reconciler {
	return &Reconciler{store: store, finalizer: finalizer, now: time.Now}
}

// Reconcile records the evidence and, when it carries a terminal status for
// a pending intent, attempts the compare-and-set transition. The first
// terminal evidence to win the transition is authoritative; later
// conflicting evidence is logged as an anomaly and never applied. Returns
// the intent's status after the call.
func (r *Reconciler) Reconcile(ctx context.Context, intentID uuid.UUID, ev Evidence) (database.IntentStatus, error) {
	intent, err := r.store.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return "", fmt.Errorf("load intent: %w", err)
	}

	// Evidence is audit history: always appended, never a decision input
	// by itself. Duplicate observations collapse on the unique constraint.
	if _, err := r.store.CreateStatusEvidence(ctx, database.CreateStatusEvidenceParams{
		IntentID:       intentID,
		ObservedStatus: string(ev.Status),
		Source:         ev.Source,
		RawPayload:     ev.Raw,
	}); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("record evidence: %w", err)
	}

	// Terminal intents are final. Contradicting evidence is an anomaly;
	// an unfinished finalization gets retried here on later evidence.
	if intent.Status != database.IntentStatusPENDING {
		if IsTerminal(ev.Status) && ev.Status != FromIntentStatus(intent.Status) {
			log.Printf("WARN: anomaly: intent %s is %s but %s evidence reported %s",
				intentID, intent.Status, ev.Source, ev.Status)
		}
		if intent.Status == database.IntentStatusSETTLED && !intent.FinalizedAt.Valid {
			r.finalize(ctx, intent)
		}
		return intent.Status, nil
	}

	target, terminal := intentStatus(ev.Status)

	// A pending intent past its expiry is expired regardless of what the
	// evidence claims. Settlement evidence arriving after expiry must not
	// complete the order.
	if r.now().After(intent.ExpiresAt) {
		if ev.Status == StatusSettled {
			log.Printf("WARN: anomaly: intent %s received settlement evidence after expiry (%s)",
				intentID, intent.ExpiresAt.Format(time.RFC3339))
		}
		target, terminal = database.IntentStatusEXPIRED, true
	}

	if !terminal {
		// Pending/Unknown evidence on a pending intent: recorded, no
		// state change.
		return database.IntentStatusPENDING, nil
	}

	updated, err := r.store.TransitionPaymentIntent(ctx, database.TransitionPaymentIntentParams{
		ID:     intentID,
		Status: target,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race: another writer transitioned first. Their
			// terminal status stands.
			current, loadErr := r.store.GetPaymentIntent(ctx, intentID)
			if loadErr != nil {
				return "", fmt.Errorf("reload intent after lost transition: %w", loadErr)
			}
			if current.Status != target {
				log.Printf("WARN: anomaly: intent %s transition to %s lost to %s",
					intentID, target, current.Status)
			}
			return current.Status, nil
		}
		return "", fmt.Errorf("transition intent: %w", err)
	}

	if updated.Status == database.IntentStatusSETTLED {
		r.finalize(ctx, updated)
	}
	return updated.Status, nil
}

// finalize runs the completion side effect for a settled intent. Failure
// leaves finalized_at null so the next piece of evidence retries it; the
// intent's settled status is already durable either way.
func (r *Reconciler) finalize(ctx context.Context, intent database.PaymentIntent) {
	outcome, err := r.finalizer.FinalizeOrder(ctx, intent.OrderID)
	if err != nil {
		log.Printf("ERROR: finalize order %s for intent %s: %v", intent.OrderID, intent.ID, err)
		return
	}
	if outcome == FinalizeAlreadyDone {
		log.Printf("WARN: order %s already finalized when settling intent %s", intent.OrderID, intent.ID)
	}
	if err := r.store.MarkIntentFinalized(ctx, intent.ID); err != nil {
		log.Printf("ERROR: mark intent %s finalized: %v", intent.ID, err)
	}
}

// EffectiveStatus is the lazily-evaluated read view of an intent: a
// pending intent past its expiry reads as expired even before any
// transition has been persisted.
func EffectiveStatus(intent database.PaymentIntent, now time.Time) CanonicalStatus {
	if intent.Status == database.IntentStatusPENDING && now.After(intent.ExpiresAt) {
		return StatusExpired
	}
	return FromIntentStatus(intent.Status)
}
