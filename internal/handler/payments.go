package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/saji-pos/api/internal/database"
	"github.com/saji-pos/api/internal/middleware"
	"github.com/saji-pos/api/internal/payment"
	"github.com/saji-pos/api/internal/service"
	"github.com/saji-pos/api/internal/ws"
	"github.com/shopspring/decimal"
)

// PaymentStore defines the database methods needed by payment handlers.
type PaymentStore interface {
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (database.Order, error)
	ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.Payment, error)
	CreatePayment(ctx context.Context, arg database.CreatePaymentParams) (database.Payment, error)
	SumPaymentsByOrder(ctx context.Context, orderID uuid.UUID) (pgtype.Numeric, error)
}

// NewPaymentStore creates a PaymentStore from a DBTX (pool or tx).
type NewPaymentStore func(db database.DBTX) PaymentStore

// PaymentHandler handles over-the-counter payment endpoints (CASH and
// TRANSFER). QRIS payments go through the payment intent flow instead.
type PaymentHandler struct {
	store     PaymentStore
	pool      service.TxBeginner
	newStore  NewPaymentStore
	finalizer payment.OrderFinalizer
	hub       Broadcaster
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(store PaymentStore, pool service.TxBeginner, newStore NewPaymentStore, finalizer payment.OrderFinalizer, hub Broadcaster) *PaymentHandler {
	return &PaymentHandler{store: store, pool: pool, newStore: newStore, finalizer: finalizer, hub: hub}
}

// RegisterRoutes registers payment endpoints on the given Chi router.
// Expected to be mounted at /orders/{id}/payments
func (h *PaymentHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Add)
	r.Get("/", h.List)
}

// --- Request / Response types ---

type addPaymentRequest struct {
	PaymentMethod   string `json:"payment_method"`
	Amount          string `json:"amount"`
	AmountReceived  string `json:"amount_received"`
	ReferenceNumber string `json:"reference_number"`
}

// --- Handlers ---

// Add handles POST /orders/{id}/payments.
func (h *PaymentHandler) Add(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req addPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.PaymentMethod == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "payment_method is required"})
		return
	}
	paymentMethod := database.PaymentMethod(req.PaymentMethod)
	switch paymentMethod {
	case database.PaymentMethodCASH, database.PaymentMethodTRANSFER:
	case database.PaymentMethodQRIS:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "QRIS payments go through the /qris intent flow"})
		return
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payment_method"})
		return
	}

	if req.Amount == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount is required"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be positive"})
		return
	}

	// For CASH payments, validate amount_received
	var amountReceived pgtype.Numeric
	var changeAmount pgtype.Numeric
	if paymentMethod == database.PaymentMethodCASH {
		if req.AmountReceived == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount_received is required for CASH payments"})
			return
		}
		received, err := decimal.NewFromString(req.AmountReceived)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid amount_received"})
			return
		}
		if received.LessThan(amount) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount_received must be >= amount"})
			return
		}
		amountReceived = decimalToNumeric(received)
		changeAmount = decimalToNumeric(received.Sub(amount))
	}

	var referenceNumber pgtype.Text
	if req.ReferenceNumber != "" {
		referenceNumber = pgtype.Text{String: req.ReferenceNumber, Valid: true}
	}

	// Begin transaction BEFORE reading order state to prevent TOCTOU races.
	// Two concurrent payments could both pass validation outside a tx,
	// causing overpayment.
	tx, err := h.pool.Begin(r.Context())
	if err != nil {
		log.Printf("ERROR: begin tx for add payment: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	defer tx.Rollback(r.Context())

	txStore := h.newStore(tx)

	// Lock the order row (FOR NO KEY UPDATE) to serialize concurrent
	// payment inserts
	order, err := txStore.GetOrderForUpdate(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		log.Printf("ERROR: get order for add payment: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if order.Status == database.OrderStatusCANCELLED {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "cannot add payment to cancelled order"})
		return
	}

	totalPaid, err := txStore.SumPaymentsByOrder(r.Context(), orderID)
	if err != nil {
		log.Printf("ERROR: sum payments: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	totalPaidDecimal := numericToDecimal(totalPaid)
	orderTotal := numericToDecimal(order.TotalAmount)

	if totalPaidDecimal.GreaterThanOrEqual(orderTotal) {
		// Fully paid but not completed means an earlier finalization
		// failed mid-flight. Retry it here so the order does not stay
		// stuck until someone notices. Release the row lock first; the
		// finalizer takes its own.
		if !order.CompletedAt.Valid {
			tx.Rollback(r.Context())
			if _, err := h.finalizer.FinalizeOrder(r.Context(), orderID); err != nil {
				log.Printf("ERROR: retry finalize for fully paid order %s: %v", orderID, err)
			}
		}
		writeJSON(w, http.StatusConflict, map[string]string{"error": "order is already fully paid"})
		return
	}

	newTotalPaid := totalPaidDecimal.Add(amount)
	if newTotalPaid.GreaterThan(orderTotal) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "payment exceeds remaining balance"})
		return
	}

	created, err := txStore.CreatePayment(r.Context(), database.CreatePaymentParams{
		OrderID:         orderID,
		PaymentMethod:   paymentMethod,
		Amount:          decimalToNumeric(amount),
		Status:          database.PaymentStatusCOMPLETED,
		ReferenceNumber: referenceNumber,
		AmountReceived:  amountReceived,
		ChangeAmount:    changeAmount,
		ProcessedBy:     pgtype.UUID{Bytes: claims.UserID, Valid: true},
	})
	if err != nil {
		log.Printf("ERROR: create payment: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if err := tx.Commit(r.Context()); err != nil {
		log.Printf("ERROR: commit tx for add payment: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	// Fully paid: finalize outside the payment tx. The finalizer takes its
	// own locks; holding the order row across both would deadlock.
	updatedOrder := order
	if newTotalPaid.GreaterThanOrEqual(orderTotal) {
		if _, err := h.finalizer.FinalizeOrder(r.Context(), orderID); err != nil {
			log.Printf("ERROR: finalize order after payment: %v", err)
		}
		if o, err := h.store.GetOrder(r.Context(), orderID); err == nil {
			updatedOrder = o
		}
	}

	h.hub.Broadcast(ws.EventPaymentAdded, dbPaymentToResponse(created))

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"payment": dbPaymentToResponse(created),
		"order":   dbOrderToResponse(updatedOrder),
	})
}

// List handles GET /orders/{id}/payments.
func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	// Verify the order exists
	_, err = h.store.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		log.Printf("ERROR: get order for list payments: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	payments, err := h.store.ListPaymentsByOrder(r.Context(), orderID)
	if err != nil {
		log.Printf("ERROR: list payments: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]paymentResponse, len(payments))
	for i, p := range payments {
		resp[i] = dbPaymentToResponse(p)
	}

	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

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
