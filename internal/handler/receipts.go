package handler

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/saji-pos/api/internal/database"
	"github.com/saji-pos/api/internal/receipt"
)

// ReceiptStore defines the database methods needed to render receipts.
// Satisfied by *database.Queries.
type ReceiptStore interface {
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.Payment, error)
	GetDiningTable(ctx context.Context, id uuid.UUID) (database.DiningTable, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (database.User, error)
}

// ReceiptHandler renders reprintable plain-text receipts.
type ReceiptHandler struct {
	store ReceiptStore
}

// NewReceiptHandler creates a new ReceiptHandler.
func NewReceiptHandler(store ReceiptStore) *ReceiptHandler {
	return &ReceiptHandler{store: store}
}

// RegisterRoutes registers receipt endpoints on the given Chi router.
// Expected to be mounted inside the /orders subrouter.
func (h *ReceiptHandler) RegisterRoutes(r chi.Router) {
	r.Get("/{id}/receipt", h.Get)
}

// Get handles GET /orders/{id}/receipt. Returns text/plain formatted for
// a 58mm thermal printer.
func (h *ReceiptHandler) Get(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	order, err := h.store.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		log.Printf("ERROR: get order for receipt: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if order.Status != database.OrderStatusCOMPLETED {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "receipt available after the order is completed"})
		return
	}

	items, err := h.store.ListOrderItemsByOrder(r.Context(), orderID)
	if err != nil {
		log.Printf("ERROR: list items for receipt: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	payments, err := h.store.ListPaymentsByOrder(r.Context(), orderID)
	if err != nil {
		log.Printf("ERROR: list payments for receipt: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	rc := receipt.Receipt{
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
		if table, err := h.store.GetDiningTable(r.Context(), uuid.UUID(order.TableID.Bytes)); err == nil {
			rc.TableNumber = table.TableNumber
		}
	}
	if cashier, err := h.store.GetUserByID(r.Context(), order.CreatedBy); err == nil {
		rc.CashierName = cashier.FullName
	}

	for _, item := range items {
		rc.Items = append(rc.Items, receipt.Line{
			Name:     item.ProductName,
			Quantity: item.Quantity,
			Subtotal: numericToDecimal(item.Subtotal),
		})
	}
	for _, p := range payments {
		rc.Payments = append(rc.Payments, receipt.PaymentLine{
			Method: string(p.PaymentMethod),
			Amount: numericToDecimal(p.Amount),
		})
		if p.ChangeAmount.Valid {
			rc.ChangeAmount = rc.ChangeAmount.Add(numericToDecimal(p.ChangeAmount))
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(rc.Render())); err != nil {
		log.Printf("ERROR: write receipt response: %v", err)
	}
}
