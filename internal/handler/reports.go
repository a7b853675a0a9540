package handler

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/saji-pos/api/internal/database"
)

// ReportStore defines the database methods needed by report handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type ReportStore interface {
	GetSalesSummary(ctx context.Context, arg database.GetSalesSummaryParams) (database.GetSalesSummaryRow, error)
	GetPaymentMethodBreakdown(ctx context.Context, arg database.GetPaymentMethodBreakdownParams) ([]database.GetPaymentMethodBreakdownRow, error)
	GetTopProducts(ctx context.Context, arg database.GetTopProductsParams) ([]database.GetTopProductsRow, error)
}

// ReportHandler handles reporting endpoints (ADMIN-only).
type ReportHandler struct {
	store ReportStore
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(store ReportStore) *ReportHandler {
	return &ReportHandler{store: store}
}

// RegisterRoutes registers report endpoints on the given Chi router.
func (h *ReportHandler) RegisterRoutes(r chi.Router) {
	r.Get("/sales-summary", h.SalesSummary)
	r.Get("/payment-methods", h.PaymentMethods)
	r.Get("/top-products", h.TopProducts)
}

// --- Response types ---

type salesSummaryResponse struct {
	FromDate        string `json:"from_date"`
	ToDate          string `json:"to_date"`
	CompletedOrders int64  `json:"completed_orders"`
	CancelledOrders int64  `json:"cancelled_orders"`
	GrossSales      string `json:"gross_sales"`
	TotalDiscount   string `json:"total_discount"`
	NetSales        string `json:"net_sales"`
}

type paymentMethodResponse struct {
	PaymentMethod string `json:"payment_method"`
	PaymentCount  int64  `json:"payment_count"`
	TotalAmount   string `json:"total_amount"`
}

type topProductResponse struct {
	ProductName   string `json:"product_name"`
	TotalQuantity int64  `json:"total_quantity"`
	TotalSales    string `json:"total_sales"`
}

// --- Handlers ---

// SalesSummary handles GET /reports/sales-summary?from=...&to=...
func (h *ReportHandler) SalesSummary(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseDateRange(w, r)
	if !ok {
		return
	}

	row, err := h.store.GetSalesSummary(r.Context(), database.GetSalesSummaryParams{
		FromDate: pgtype.Date{Time: from, Valid: true},
		ToDate:   pgtype.Date{Time: to, Valid: true},
	})
	if err != nil {
		log.Printf("ERROR: sales summary: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, salesSummaryResponse{
		FromDate:        from.Format("2006-01-02"),
		ToDate:          to.Format("2006-01-02"),
		CompletedOrders: row.CompletedOrders,
		CancelledOrders: row.CancelledOrders,
		GrossSales:      numericToString(row.GrossSales),
		TotalDiscount:   numericToString(row.TotalDiscount),
		NetSales:        numericToString(row.NetSales),
	})
}

// PaymentMethods handles GET /reports/payment-methods?from=...&to=...
func (h *ReportHandler) PaymentMethods(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseDateRange(w, r)
	if !ok {
		return
	}

	rows, err := h.store.GetPaymentMethodBreakdown(r.Context(), database.GetPaymentMethodBreakdownParams{
		FromDate: pgtype.Date{Time: from, Valid: true},
		ToDate:   pgtype.Date{Time: to, Valid: true},
	})
	if err != nil {
		log.Printf("ERROR: payment method breakdown: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]paymentMethodResponse, len(rows))
	for i, row := range rows {
		resp[i] = paymentMethodResponse{
			PaymentMethod: string(row.PaymentMethod),
			PaymentCount:  row.PaymentCount,
			TotalAmount:   numericToString(row.TotalAmount),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// TopProducts handles GET /reports/top-products?from=...&to=...&limit=10
func (h *ReportHandler) TopProducts(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseDateRange(w, r)
	if !ok {
		return
	}

	limit := 10
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}

	rows, err := h.store.GetTopProducts(r.Context(), database.GetTopProductsParams{
		FromDate: pgtype.Date{Time: from, Valid: true},
		ToDate:   pgtype.Date{Time: to, Valid: true},
		Limit:    int32(limit),
	})
	if err != nil {
		log.Printf("ERROR: top products: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]topProductResponse, len(rows))
	for i, row := range rows {
		resp[i] = topProductResponse{
			ProductName:   row.ProductName,
			TotalQuantity: row.TotalQuantity,
			TotalSales:    numericToString(row.TotalSales),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

// parseDateRange reads from/to query params, defaulting both to today.
// On failure it has already written the error response.
func parseDateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	today := time.Now().Truncate(24 * time.Hour)
	from, to := today, today

	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid from date, use YYYY-MM-DD"})
			return time.Time{}, time.Time{}, false
		}
		from = t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid to date, use YYYY-MM-DD"})
			return time.Time{}, time.Time{}, false
		}
		to = t
	}
	if to.Before(from) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to date must not be before from date"})
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}
