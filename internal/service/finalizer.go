package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/saji-pos/api/internal/database"
	"github.com/saji-pos/api/internal/notify"
	"github.com/saji-pos/api/internal/payment"
	"github.com/saji-pos/api/internal/receipt"
	"github.com/saji-pos/api/internal/ws"
)

// ErrOrderCancelled is returned when a finalization targets a cancelled
// order. This should not happen in normal operation and indicates money was
// collected for an order that will not be served.
var ErrOrderCancelled = errors.New("cannot finalize a cancelled order")

// FinalizerStore defines the DB methods needed to finalize orders.
// Satisfied by *database.Queries (and its WithTx variant).
type FinalizerStore interface {
	CompleteOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	ListIntentsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.PaymentIntent, error)
	CreatePayment(ctx context.Context, arg database.CreatePaymentParams) (database.Payment, error)
	ReleaseDiningTable(ctx context.Context, id uuid.UUID) error
	GetDiningTable(ctx context.Context, id uuid.UUID) (database.DiningTable, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.Payment, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (database.User, error)
}

// NewFinalizerStore creates a FinalizerStore from a DBTX (pool or tx).
type NewFinalizerStore func(db database.DBTX) FinalizerStore

// Broadcaster pushes an event to connected POS terminals.
// Satisfied by *ws.Hub.
type Broadcaster interface {
	Broadcast(eventType string, payload interface{})
}

// OrderFinalizer completes orders whose payment has settled: it marks the
// order completed, frees its table, and runs the post-completion side
// effects (receipt, notification, terminal broadcast).
//
// The completion write is conditional on completed_at being null, so
// concurrent or repeated finalizations collapse to one: exactly one caller
// completes the order and runs the side effects, every other caller gets
// FinalizeAlreadyDone.
type OrderFinalizer struct {
	store    FinalizerStore
	pool     TxBeginner
	newStore NewFinalizerStore
	notifier notify.Notifier
	hub      Broadcaster
}

// NewOrderFinalizer creates an OrderFinalizer. store is the pool-backed
// store for post-commit reads; newStore builds per-transaction stores.
func NewOrderFinalizer(store FinalizerStore, pool TxBeginner, newStore NewFinalizerStore, notifier notify.Notifier, hub Broadcaster) *OrderFinalizer {
	return &OrderFinalizer{store: store, pool: pool, newStore: newStore, notifier: notifier, hub: hub}
}

// FinalizeOrder implements payment.OrderFinalizer.
func (f *OrderFinalizer) FinalizeOrder(ctx context.Context, orderID uuid.UUID) (payment.FinalizeOutcome, error) {
	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := f.newStore(tx)

	order, err := store.CompleteOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conditional write matched nothing: the order is already
			// completed, cancelled, or missing. Fetch to tell which.
			current, fetchErr := store.GetOrder(ctx, orderID)
			if fetchErr != nil {
				return 0, fmt.Errorf("get order after failed completion: %w", fetchErr)
			}
			if current.Status == database.OrderStatusCANCELLED {
				return 0, ErrOrderCancelled
			}
			return payment.FinalizeAlreadyDone, nil
		}
		return 0, fmt.Errorf("complete order: %w", err)
	}

	// Settled QRIS intents become payment rows here, in the same
	// transaction as the completion write. The conditional completion
	// above runs this block at most once per order, so the rows cannot
	// duplicate. processed_by stays null: no operator touched the money.
	if err := f.recordSettledIntents(ctx, store, order.ID); err != nil {
		return 0, err
	}

	if order.TableID.Valid {
		if err := store.ReleaseDiningTable(ctx, uuid.UUID(order.TableID.Bytes)); err != nil {
			return 0, fmt.Errorf("release table: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	// Side effects below are best-effort: the completion is already durable
	// and must not be rolled back because a printer or chat API is down.
	f.runSideEffects(ctx, order)

	return payment.FinalizeOk, nil
}

// recordSettledIntents writes a COMPLETED QRIS payment for every settled
// intent on the order, carrying the provider reference for receipts and
// the payment-method breakdown.
func (f *OrderFinalizer) recordSettledIntents(ctx context.Context, store FinalizerStore, orderID uuid.UUID) error {
	intents, err := store.ListIntentsByOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("list intents: %w", err)
	}
	for _, intent := range intents {
		if intent.Status != database.IntentStatusSETTLED {
			continue
		}
		_, err := store.CreatePayment(ctx, database.CreatePaymentParams{
			OrderID:         orderID,
			PaymentMethod:   database.PaymentMethodQRIS,
			Amount:          intent.Amount,
			Status:          database.PaymentStatusCOMPLETED,
			ReferenceNumber: intent.ProviderRef,
		})
		if err != nil {
			return fmt.Errorf("record settled intent %s: %w", intent.ID, err)
		}
	}
	return nil
}

// runSideEffects spools the receipt, notifies the owner's chat channels,
// and pushes the settlement event to connected terminals.
func (f *OrderFinalizer) runSideEffects(ctx context.Context, order database.Order) {
	text, err := f.buildReceipt(ctx, order)
	if err != nil {
		log.Printf("WARN: build receipt for order %s: %v", order.ID, err)
	} else {
		// Receipt spool: terminals pick the text up over the event stream,
		// but keep a server-side copy in the log for reprints.
		log.Printf("receipt for order %s:\n%s", order.OrderNumber, text)
	}

	total := numericToDecimal(order.TotalAmount)
	msg := fmt.Sprintf("Pembayaran diterima: %s, total Rp%s", order.OrderNumber, total.StringFixed(0))
	if err := f.notifier.Send(ctx, msg); err != nil {
		log.Printf("WARN: notify settlement for order %s: %v", order.ID, err)
	}

	f.hub.Broadcast(ws.EventPaymentSettled, map[string]interface{}{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"status":       string(order.Status),
		"total_amount": total.StringFixed(2),
		"receipt":      text,
	})
}

// buildReceipt assembles the receipt from the completed order's rows.
func (f *OrderFinalizer) buildReceipt(ctx context.Context, order database.Order) (string, error) {
	items, err := f.store.ListOrderItemsByOrder(ctx, order.ID)
	if err != nil {
		return "", fmt.Errorf("list items: %w", err)
	}
	payments, err := f.store.ListPaymentsByOrder(ctx, order.ID)
	if err != nil {
		return "", fmt.Errorf("list payments: %w", err)
	}

	r := receipt.Receipt{
		StoreName:      "Warung Saji",
		StoreLine:      "Jl. Merdeka No. 17",
		OrderNumber:    order.OrderNumber,
		OrderType:      string(order.OrderType),
		IssuedAt:       order.UpdatedAt,
		Subtotal:       numericToDecimal(order.Subtotal),
		DiscountAmount: numericToDecimal(order.DiscountAmount),
		Total:          numericToDecimal(order.TotalAmount),
		FooterText:     "Terima kasih!",
	}

	if order.TableID.Valid {
		if table, err := f.store.GetDiningTable(ctx, uuid.UUID(order.TableID.Bytes)); err == nil {
			r.TableNumber = table.TableNumber
		}
	}
	if cashier, err := f.store.GetUserByID(ctx, order.CreatedBy); err == nil {
		r.CashierName = cashier.FullName
	}

	for _, item := range items {
		r.Items = append(r.Items, receipt.Line{
			Name:     item.ProductName,
			Quantity: item.Quantity,
			Subtotal: numericToDecimal(item.Subtotal),
		})
	}
	for _, p := range payments {
		r.Payments = append(r.Payments, receipt.PaymentLine{
			Method: string(p.PaymentMethod),
			Amount: numericToDecimal(p.Amount),
		})
		if p.ChangeAmount.Valid {
			r.ChangeAmount = r.ChangeAmount.Add(numericToDecimal(p.ChangeAmount))
		}
	}

	return r.Render(), nil
}
