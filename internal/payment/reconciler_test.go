package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/saji-pos/api/internal/database"
)

// --- Mock ReconcilerStore ---

// mockIntentStore keeps intents and evidence in memory and mimics the
// conditional-write semantics of the real queries: TransitionPaymentIntent
// only succeeds for a PENDING row, CreateStatusEvidence returns
// pgx.ErrNoRows for a duplicate (intent, status, source) observation.
type mockIntentStore struct {
	intents  map[uuid.UUID]database.PaymentIntent
	evidence []database.StatusEvidence

	transitionCalls int
	finalizedMarks  int
	evidenceErr     error
}

func newMockIntentStore() *mockIntentStore {
	return &mockIntentStore{intents: make(map[uuid.UUID]database.PaymentIntent)}
}

func (m *mockIntentStore) GetPaymentIntent(_ context.Context, id uuid.UUID) (database.PaymentIntent, error) {
	intent, ok := m.intents[id]
	if !ok {
		return database.PaymentIntent{}, pgx.ErrNoRows
	}
	return intent, nil
}

func (m *mockIntentStore) TransitionPaymentIntent(_ context.Context, arg database.TransitionPaymentIntentParams) (database.PaymentIntent, error) {
	m.transitionCalls++
	intent, ok := m.intents[arg.ID]
	if !ok || intent.Status != database.IntentStatusPENDING {
		return database.PaymentIntent{}, pgx.ErrNoRows
	}
	intent.Status = arg.Status
	if arg.Status == database.IntentStatusSETTLED {
		intent.SettledAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
	}
	m.intents[arg.ID] = intent
	return intent, nil
}

func (m *mockIntentStore) MarkIntentFinalized(_ context.Context, id uuid.UUID) error {
	intent, ok := m.intents[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if !intent.FinalizedAt.Valid {
		intent.FinalizedAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
		m.intents[id] = intent
		m.finalizedMarks++
	}
	return nil
}

func (m *mockIntentStore) CreateStatusEvidence(_ context.Context, arg database.CreateStatusEvidenceParams) (database.StatusEvidence, error) {
	if m.evidenceErr != nil {
		return database.StatusEvidence{}, m.evidenceErr
	}
	for _, ev := range m.evidence {
		if ev.IntentID == arg.IntentID && ev.ObservedStatus == arg.ObservedStatus && ev.Source == arg.Source {
			// Unique constraint: duplicate observation inserts nothing.
			return database.StatusEvidence{}, pgx.ErrNoRows
		}
	}
	ev := database.StatusEvidence{
		ID:             int64(len(m.evidence) + 1),
		IntentID:       arg.IntentID,
		ObservedStatus: arg.ObservedStatus,
		Source:         arg.Source,
		RawPayload:     arg.RawPayload,
		ObservedAt:     time.Now(),
	}
	m.evidence = append(m.evidence, ev)
	return ev, nil
}

// --- Mock OrderFinalizer ---

type mockFinalizer struct {
	calls   int
	outcome FinalizeOutcome
	err     error
}

func (m *mockFinalizer) FinalizeOrder(_ context.Context, _ uuid.UUID) (FinalizeOutcome, error) {
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	return m.outcome, nil
}

// --- Helpers ---

func pendingIntent(expiresAt time.Time) database.PaymentIntent {
	return database.PaymentIntent{
		ID:        uuid.New(),
		OrderID:   uuid.New(),
		Provider:  "midtrans",
		Status:    database.IntentStatusPENDING,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}
}

func newTestReconciler(store *mockIntentStore, fin *mockFinalizer, now time.Time) *Reconciler {
	rec := NewReconciler(store, fin)
	rec.now = func() time.Time { return now }
	return rec
}

// --- Tests ---

func TestReconcile_SettlementFinalizesOrder(t *testing.T) {
	store := newMockIntentStore()
	fin := &mockFinalizer{}
	now := time.Now()
	intent := pendingIntent(now.Add(10 * time.Minute))
	store.intents[intent.ID] = intent

	rec := newTestReconciler(store, fin, now)
	status, err := rec.Reconcile(context.Background(), intent.ID, Evidence{
		Status: StatusSettled,
		Source: database.EvidenceSourceWEBHOOK,
		Raw:    []byte(`{"transaction_status":"settlement"}`),
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if status != database.IntentStatusSETTLED {
		t.Errorf("expected SETTLED, got %s", status)
	}
	if fin.calls != 1 {
		t.Errorf("expected 1 finalize call, got %d", fin.calls)
	}
	if !store.intents[intent.ID].FinalizedAt.Valid {
		t.Error("expected finalized_at to be set")
	}
	if len(store.evidence) != 1 {
		t.Errorf("expected 1 evidence row, got %d", len(store.evidence))
	}
}

func TestReconcile_DuplicateWebhookIsIdempotent(t *testing.T) {
	store := newMockIntentStore()
	fin := &mockFinalizer{}
	now := time.Now()
	intent := pendingIntent(now.Add(10 * time.Minute))
	store.intents[intent.ID] = intent

	rec := newTestReconciler(store, fin, now)
	ev := Evidence{
		Status: StatusSettled,
		Source: database.EvidenceSourceWEBHOOK,
		Raw:    []byte(`{"transaction_status":"settlement"}`),
	}

	for i := 0; i < 3; i++ {
		status, err := rec.Reconcile(context.Background(), intent.ID, ev)
		if err != nil {
			t.Fatalf("Reconcile #%d: %v", i+1, err)
		}
		if status != database.IntentStatusSETTLED {
			t.Errorf("Reconcile #%d: expected SETTLED, got %s", i+1, status)
		}
	}

	if fin.calls != 1 {
		t.Errorf("expected exactly 1 finalize call across redeliveries, got %d", fin.calls)
	}
	if store.finalizedMarks != 1 {
		t.Errorf("expected finalized_at set once, got %d", store.finalizedMarks)
	}
	if len(store.evidence) != 1 {
		t.Errorf("expected duplicate evidence to collapse to 1 row, got %d", len(store.evidence))
	}
}

func TestReconcile_WebhookAndPollBothRecorded(t *testing.T) {
	store := newMockIntentStore()
	fin := &mockFinalizer{}
	now := time.Now()
	intent := pendingIntent(now.Add(10 * time.Minute))
	store.intents[intent.ID] = intent

	rec := newTestReconciler(store, fin, now)
	if _, err := rec.Reconcile(context.Background(), intent.ID, Evidence{
		Status: StatusSettled,
		Source: database.EvidenceSourceWEBHOOK,
	}); err != nil {
		t.Fatalf("webhook reconcile: %v", err)
	}
	if _, err := rec.Reconcile(context.Background(), intent.ID, Evidence{
		Status: StatusSettled,
		Source: database.EvidenceSourcePOLL,
	}); err != nil {
		t.Fatalf("poll reconcile: %v", err)
	}

	// Same status from two sources is two audit rows but one completion.
	if len(store.evidence) != 2 {
		t.Errorf("expected 2 evidence rows, got %d", len(store.evidence))
	}
	if fin.calls != 1 {
		t.Errorf("expected 1 finalize call, got %d", fin.calls)
	}
}

func TestReconcile_ConflictingEvidenceAfterTerminalIsIgnored(t *testing.T) {
	store := newMockIntentStore()
	fin := &mockFinalizer{}
	now := time.Now()
	intent := pendingIntent(now.Add(10 * time.Minute))
	store.intents[intent.ID] = intent

	rec := newTestReconciler(store, fin, now)
	if _, err := rec.Reconcile(context.Background(), intent.ID, Evidence{
		Status: StatusSettled,
		Source: database.EvidenceSourceWEBHOOK,
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	transitionsAfterSettle := store.transitionCalls

	status, err := rec.Reconcile(context.Background(), intent.ID, Evidence{
		Status: StatusExpired,
		Source: database.EvidenceSourcePOLL,
	})
	if err != nil {
		t.Fatalf("conflicting reconcile: %v", err)
	}
	if status != database.IntentStatusSETTLED {
		t.Errorf("expected SETTLED to stand, got %s", status)
	}
	if store.transitionCalls != transitionsAfterSettle {
		t.Error("conflicting evidence must not attempt a transition")
	}
	// The contradiction is still auditable.
	if len(store.evidence) != 2 {
		t.Errorf("expected conflicting evidence recorded, got %d rows", len(store.evidence))
	}
}

func TestReconcile_LostTransitionRace(t *testing.T) {
	store := newMockIntentStore()
	fin := &mockFinalizer{}
	now := time.Now()
	intent := pendingIntent(now.Add(10 * time.Minute))
	store.intents[intent.ID] = intent

	// A cashier cancels the intent first.
	rec := newTestReconciler(store, fin, now)
	if _, err := rec.Reconcile(context.Background(), intent.ID, Evidence{
		Status: StatusCancelled,
		Source: database.EvidenceSourcePOLL,
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// A concurrent settlement read the intent while it was still PENDING:
	// its CAS must lose and the cancellation must stand. The racing store
	// serves one stale read to reproduce the interleaving.
	racing := &racingStore{mockIntentStore: store, staleStatus: database.IntentStatusPENDING, staleOnce: true}
	rec2 := NewReconciler(racing, fin)
	rec2.now = func() time.Time { return now }

	status, err := rec2.Reconcile(context.Background(), intent.ID, Evidence{
		Status: StatusSettled,
		Source: database.EvidenceSourceWEBHOOK,
	})
	if err != nil {
		t.Fatalf("racing reconcile: %v", err)
	}
	if status != database.IntentStatusCANCELLED {
		t.Errorf("expected the earlier CANCELLED transition to stand, got %s", status)
	}
	if fin.calls != 0 {
		t.Errorf("losing settlement must not finalize, got %d calls", fin.calls)
	}
}

// racingStore reports a stale PENDING status on the first read so the
// reconciler attempts a transition that the underlying store rejects.
type racingStore struct {
	*mockIntentStore
	staleStatus database.IntentStatus
	staleOnce   bool
}

func (r *racingStore) GetPaymentIntent(ctx context.Context, id uuid.UUID) (database.PaymentIntent, error) {
	intent, err := r.mockIntentStore.GetPaymentIntent(ctx, id)
	if err != nil {
		return intent, err
	}
	if r.staleOnce {
		r.staleOnce = false
		intent.Status = r.staleStatus
	}
	return intent, nil
}

func TestReconcile_ExpiryOverridesLateSettlement(t *testing.T) {
	store := newMockIntentStore()
	fin := &mockFinalizer{}
	now := time.Now()
	intent := pendingIntent(now.Add(-1 * time.Minute)) // already expired
	store.intents[intent.ID] = intent

	rec := newTestReconciler(store, fin, now)
	status, err := rec.Reconcile(context.Background(), intent.ID, Evidence{
		Status: StatusSettled,
		Source: database.EvidenceSourceWEBHOOK,
		Raw:    []byte(`{"transaction_status":"settlement"}`),
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if status != database.IntentStatusEXPIRED {
		t.Errorf("expected EXPIRED, got %s", status)
	}
	if fin.calls != 0 {
		t.Errorf("late settlement must not complete the order, got %d finalize calls", fin.calls)
	}
	// The settlement observation is still on record for manual review.
	if len(store.evidence) != 1 || store.evidence[0].ObservedStatus != string(StatusSettled) {
		t.Error("expected the settlement evidence to be recorded as observed")
	}
}

func TestReconcile_FinalizationFailureRetriesOnNextEvidence(t *testing.T) {
	store := newMockIntentStore()
	fin := &mockFinalizer{err: errors.New("printer on fire")}
	now := time.Now()
	intent := pendingIntent(now.Add(10 * time.Minute))
	store.intents[intent.ID] = intent

	rec := newTestReconciler(store, fin, now)
	status, err := rec.Reconcile(context.Background(), intent.ID, Evidence{
		Status: StatusSettled,
		Source: database.EvidenceSourceWEBHOOK,
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	// Settlement is durable even though finalization failed.
	if status != database.IntentStatusSETTLED {
		t.Errorf("expected SETTLED, got %s", status)
	}
	if store.intents[intent.ID].FinalizedAt.Valid {
		t.Error("failed finalization must leave finalized_at null")
	}

	// Next evidence retries the finalization, this time succeeding.
	fin.err = nil
	if _, err := rec.Reconcile(context.Background(), intent.ID, Evidence{
		Status: StatusSettled,
		Source: database.EvidenceSourcePOLL,
	}); err != nil {
		t.Fatalf("retry reconcile: %v", err)
	}
	if fin.calls != 2 {
		t.Errorf("expected finalize retried, got %d calls", fin.calls)
	}
	if !store.intents[intent.ID].FinalizedAt.Valid {
		t.Error("expected finalized_at set after successful retry")
	}
}

func TestReconcile_AlreadyFinalizedOrderIsNotReFinalized(t *testing.T) {
	store := newMockIntentStore()
	fin := &mockFinalizer{outcome: FinalizeAlreadyDone}
	now := time.Now()
	intent := pendingIntent(now.Add(10 * time.Minute))
	store.intents[intent.ID] = intent

	rec := newTestReconciler(store, fin, now)
	if _, err := rec.Reconcile(context.Background(), intent.ID, Evidence{
		Status: StatusSettled,
		Source: database.EvidenceSourceWEBHOOK,
	}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	// AlreadyDone still marks the intent finalized so retries stop.
	if !store.intents[intent.ID].FinalizedAt.Valid {
		t.Error("expected finalized_at set when order was already complete")
	}
}

func TestReconcile_PendingEvidenceDoesNotTransition(t *testing.T) {
	store := newMockIntentStore()
	fin := &mockFinalizer{}
	now := time.Now()
	intent := pendingIntent(now.Add(10 * time.Minute))
	store.intents[intent.ID] = intent

	rec := newTestReconciler(store, fin, now)
	status, err := rec.Reconcile(context.Background(), intent.ID, Evidence{
		Status: StatusPending,
		Source: database.EvidenceSourcePOLL,
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if status != database.IntentStatusPENDING {
		t.Errorf("expected PENDING, got %s", status)
	}
	if store.transitionCalls != 0 {
		t.Error("pending evidence must not attempt a transition")
	}
}

func TestReconcile_UnknownStatusIsRecordedNotApplied(t *testing.T) {
	store := newMockIntentStore()
	fin := &mockFinalizer{}
	now := time.Now()
	intent := pendingIntent(now.Add(10 * time.Minute))
	store.intents[intent.ID] = intent

	rec := newTestReconciler(store, fin, now)
	status, err := rec.Reconcile(context.Background(), intent.ID, Evidence{
		Status: StatusUnknown,
		Source: database.EvidenceSourceWEBHOOK,
		Raw:    []byte(`{"transaction_status":"fraud_review"}`),
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if status != database.IntentStatusPENDING {
		t.Errorf("expected intent to stay PENDING, got %s", status)
	}
	if len(store.evidence) != 1 {
		t.Errorf("expected unknown evidence recorded, got %d rows", len(store.evidence))
	}
	if fin.calls != 0 {
		t.Error("unknown status must never finalize")
	}
}

func TestEffectiveStatus_LazyExpiry(t *testing.T) {
	now := time.Now()
	intent := pendingIntent(now.Add(-1 * time.Second))

	if got := EffectiveStatus(intent, now); got != StatusExpired {
		t.Errorf("expected pending intent past expiry to read EXPIRED, got %s", got)
	}

	intent.ExpiresAt = now.Add(time.Minute)
	if got := EffectiveStatus(intent, now); got != StatusPending {
		t.Errorf("expected live pending intent to read PENDING, got %s", got)
	}

	intent.Status = database.IntentStatusSETTLED
	intent.ExpiresAt = now.Add(-time.Hour)
	if got := EffectiveStatus(intent, now); got != StatusSettled {
		t.Errorf("terminal status must not be overridden by expiry, got %s", got)
	}
}
