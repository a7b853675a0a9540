package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/saji-pos/api/internal/database"
	"github.com/saji-pos/api/internal/gateway"
	"github.com/shopspring/decimal"
)

// Errors returned by the issuer.
var (
	ErrIntentConflict  = errors.New("order already has a pending payment intent")
	ErrOrderNotPayable = errors.New("order cannot accept payment")
	ErrNothingDue      = errors.New("order has no remaining balance")
)

// IssuerStore defines the database methods the issuer needs.
// Satisfied by *database.Queries.
type IssuerStore interface {
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	SumPaymentsByOrder(ctx context.Context, orderID uuid.UUID) (pgtype.Numeric, error)
	GetPendingIntentByOrder(ctx context.Context, orderID uuid.UUID) (database.PaymentIntent, error)
	TransitionPaymentIntent(ctx context.Context, arg database.TransitionPaymentIntentParams) (database.PaymentIntent, error)
	CreatePaymentIntent(ctx context.Context, arg database.CreatePaymentIntentParams) (database.PaymentIntent, error)
}

// Issuer creates payment intents for the remaining balance of an order.
// Conflict policy: an order with a live pending intent is rejected; the
// caller must wait for it to expire or cancel it first. A pending intent
// whose expiry has already passed is lazily expired and superseded.
type Issuer struct {
	store    IssuerStore
	gw       gateway.Gateway
	provider string
	expiry   time.Duration
	now      func() time.Time
}

// NewIssuer creates an Issuer. expiry is the intent lifetime used when the
// provider does not dictate one.
func NewIssuer(store IssuerStore, gw gateway.Gateway, provider string, expiry time.Duration) *Issuer {
	return &Issuer{store: store, gw: gw, provider: provider, expiry: expiry, now: time.Now}
}

// CreateIntent opens a QRIS collection for the order's remaining balance
// and persists one new pending intent. A gateway failure persists nothing.
func (iss *Issuer) CreateIntent(ctx context.Context, orderID uuid.UUID) (database.PaymentIntent, error) {
	order, err := iss.store.GetOrder(ctx, orderID)
	if err != nil {
		return database.PaymentIntent{}, fmt.Errorf("get order: %w", err)
	}
	if order.Status == database.OrderStatusCANCELLED || order.Status == database.OrderStatusCOMPLETED {
		return database.PaymentIntent{}, ErrOrderNotPayable
	}

	paid, err := iss.store.SumPaymentsByOrder(ctx, orderID)
	if err != nil {
		return database.PaymentIntent{}, fmt.Errorf("sum payments: %w", err)
	}
	remaining := numericToDecimal(order.TotalAmount).Sub(numericToDecimal(paid))
	if remaining.LessThanOrEqual(decimal.Zero) {
		return database.PaymentIntent{}, ErrNothingDue
	}

	existing, err := iss.store.GetPendingIntentByOrder(ctx, orderID)
	switch {
	case err == nil:
		if iss.now().Before(existing.ExpiresAt) {
			return database.PaymentIntent{}, ErrIntentConflict
		}
		// Stale pending intent: expire it through the same conditional
		// write every transition uses, then issue a fresh one.
		if _, err := iss.store.TransitionPaymentIntent(ctx, database.TransitionPaymentIntentParams{
			ID:     existing.ID,
			Status: database.IntentStatusEXPIRED,
		}); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return database.PaymentIntent{}, fmt.Errorf("expire stale intent: %w", err)
		}
		log.Printf("WARN: expired stale intent %s for order %s before reissuing", existing.ID, orderID)
	case errors.Is(err, pgx.ErrNoRows):
		// No live intent; proceed.
	default:
		return database.PaymentIntent{}, fmt.Errorf("check pending intent: %w", err)
	}

	items, err := iss.store.ListOrderItemsByOrder(ctx, orderID)
	if err != nil {
		return database.PaymentIntent{}, fmt.Errorf("list order items: %w", err)
	}
	chargeItems := make([]gateway.ChargeItem, len(items))
	for i, item := range items {
		chargeItems[i] = gateway.ChargeItem{
			Name:     item.ProductName,
			Quantity: item.Quantity,
			Price:    numericToDecimal(item.UnitPrice),
		}
	}

	intentID := uuid.New()
	collection, err := iss.gw.CreateCollectionIntent(ctx, gateway.ChargeRequest{
		OrderRef:    intentID.String(),
		GrossAmount: remaining,
		Items:       chargeItems,
	})
	if err != nil {
		// No pending row exists yet, so a gateway failure leaves no
		// orphaned state behind.
		return database.PaymentIntent{}, fmt.Errorf("create collection: %w", err)
	}

	expiresAt := collection.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = iss.now().Add(iss.expiry)
	}

	providerRef := pgtype.Text{}
	if collection.ProviderRef != "" {
		providerRef = pgtype.Text{String: collection.ProviderRef, Valid: true}
	}

	intent, err := iss.store.CreatePaymentIntent(ctx, database.CreatePaymentIntentParams{
		ID:                 intentID,
		OrderID:            orderID,
		Provider:           iss.provider,
		ProviderRef:        providerRef,
		Amount:             decimalToNumeric(remaining),
		CollectionArtifact: pgtype.Text{String: collection.Artifact, Valid: true},
		ExpiresAt:          expiresAt,
	})
	if err != nil {
		if isPendingIntentConflict(err) {
			return database.PaymentIntent{}, ErrIntentConflict
		}
		return database.PaymentIntent{}, fmt.Errorf("persist intent: %w", err)
	}
	return intent, nil
}

// isPendingIntentConflict checks for the partial unique index that allows
// only one pending intent per order (pgconn error code 23505).
func isPendingIntentConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "payment_intents_one_pending"
	}
	return false
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}
