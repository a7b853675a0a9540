package handler_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/saji-pos/api/internal/database"
	"github.com/saji-pos/api/internal/handler"
	"github.com/saji-pos/api/internal/middleware"
	"github.com/saji-pos/api/internal/service"
	"github.com/shopspring/decimal"
)

// --- Mock OrderServicer ---

type mockOrderService struct {
	result  *service.CreateOrderResult
	err     error
	lastReq service.CreateOrderRequest
}

func (m *mockOrderService) CreateOrder(_ context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

// --- Mock OrderStore ---

type mockOrderStore struct {
	orders   map[uuid.UUID]database.Order
	released []uuid.UUID
}

func newMockOrderStore() *mockOrderStore {
	return &mockOrderStore{orders: make(map[uuid.UUID]database.Order)}
}

func (m *mockOrderStore) GetOrder(_ context.Context, id uuid.UUID) (database.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return database.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (m *mockOrderStore) ListOrders(_ context.Context, arg database.ListOrdersParams) ([]database.Order, error) {
	var out []database.Order
	for _, o := range m.orders {
		if arg.Status != "" && string(o.Status) != arg.Status {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *mockOrderStore) ListOrderItemsByOrder(_ context.Context, _ uuid.UUID) ([]database.OrderItem, error) {
	return nil, nil
}

func (m *mockOrderStore) ListPaymentsByOrder(_ context.Context, _ uuid.UUID) ([]database.Payment, error) {
	return nil, nil
}

func (m *mockOrderStore) UpdateOrderStatus(_ context.Context, arg database.UpdateOrderStatusParams) (database.Order, error) {
	o, ok := m.orders[arg.ID]
	if !ok {
		return database.Order{}, pgx.ErrNoRows
	}
	o.Status = arg.Status
	o.UpdatedAt = time.Now()
	m.orders[arg.ID] = o
	return o, nil
}

func (m *mockOrderStore) CancelOrder(_ context.Context, id uuid.UUID) (database.Order, error) {
	o, ok := m.orders[id]
	if !ok || o.Status == database.OrderStatusCOMPLETED || o.Status == database.OrderStatusCANCELLED {
		return database.Order{}, pgx.ErrNoRows
	}
	o.Status = database.OrderStatusCANCELLED
	o.UpdatedAt = time.Now()
	m.orders[id] = o
	return o, nil
}

func (m *mockOrderStore) ReleaseDiningTable(_ context.Context, id uuid.UUID) error {
	m.released = append(m.released, id)
	return nil
}

// --- Recording hub ---

type recordingHub struct {
	events []string
}

func (r *recordingHub) Broadcast(eventType string, _ interface{}) {
	r.events = append(r.events, eventType)
}

// --- Helpers ---

func makeOrder(status database.OrderStatus) database.Order {
	return database.Order{
		ID:          uuid.New(),
		OrderNumber: "SJI-001",
		OrderType:   database.OrderTypeTAKEAWAY,
		Status:      status,
		Subtotal:    toNumeric(decimal.NewFromInt(50000)),
		TotalAmount: toNumeric(decimal.NewFromInt(50000)),
		CreatedBy:   uuid.New(),
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
}

func setupOrderRouter(svc *mockOrderService, store *mockOrderStore, hub *recordingHub) *chi.Mux {
	h := handler.NewOrderHandler(svc, store, hub)
	r := chi.NewRouter()
	r.Use(middleware.Authenticate(testSecret))
	r.Route("/orders", h.RegisterRoutes)
	return r
}

// --- Create tests ---

func TestCreateOrder_Created(t *testing.T) {
	order := makeOrder(database.OrderStatusNEW)
	svc := &mockOrderService{result: &service.CreateOrderResult{Order: order}}
	hub := &recordingHub{}
	r := setupOrderRouter(svc, newMockOrderStore(), hub)
	userID := uuid.New()

	rr := authedRequest(t, r, "POST", "/orders", map[string]interface{}{
		"order_type": "TAKEAWAY",
		"items": []map[string]interface{}{
			{"product_id": uuid.New().String(), "quantity": 2},
		},
	}, userID, "CASHIER")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.lastReq.CreatedBy != userID {
		t.Error("expected order attributed to the authenticated user")
	}
	if len(hub.events) != 1 || hub.events[0] != "order.created" {
		t.Errorf("expected order.created broadcast, got %v", hub.events)
	}
}

func TestCreateOrder_ValidationErrors(t *testing.T) {
	r := setupOrderRouter(&mockOrderService{}, newMockOrderStore(), &recordingHub{})

	cases := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing order_type", map[string]interface{}{
			"items": []map[string]interface{}{{"product_id": uuid.New().String(), "quantity": 1}},
		}},
		{"no items", map[string]interface{}{"order_type": "TAKEAWAY"}},
		{"zero quantity", map[string]interface{}{
			"order_type": "TAKEAWAY",
			"items":      []map[string]interface{}{{"product_id": uuid.New().String(), "quantity": 0}},
		}},
		{"missing product_id", map[string]interface{}{
			"order_type": "TAKEAWAY",
			"items":      []map[string]interface{}{{"quantity": 1}},
		}},
	}
	for _, tc := range cases {
		rr := authedRequest(t, r, "POST", "/orders", tc.body, uuid.New(), "CASHIER")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, rr.Code)
		}
	}
}

func TestCreateOrder_OccupiedTableConflict(t *testing.T) {
	svc := &mockOrderService{err: service.ErrTableOccupied}
	r := setupOrderRouter(svc, newMockOrderStore(), &recordingHub{})

	rr := authedRequest(t, r, "POST", "/orders", map[string]interface{}{
		"order_type": "DINE_IN",
		"table_id":   uuid.New().String(),
		"items": []map[string]interface{}{
			{"product_id": uuid.New().String(), "quantity": 1},
		},
	}, uuid.New(), "CASHIER")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

// --- Status update tests ---

func TestUpdateStatus_KitchenPipeline(t *testing.T) {
	store := newMockOrderStore()
	order := makeOrder(database.OrderStatusNEW)
	store.orders[order.ID] = order
	hub := &recordingHub{}
	r := setupOrderRouter(&mockOrderService{}, store, hub)

	rr := authedRequest(t, r, "PATCH", "/orders/"+order.ID.String()+"/status",
		map[string]string{"status": "PREPARING"}, uuid.New(), "KITCHEN")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if store.orders[order.ID].Status != database.OrderStatusPREPARING {
		t.Error("expected status updated to PREPARING")
	}
	if len(hub.events) != 1 || hub.events[0] != "order.status_changed" {
		t.Errorf("expected status change broadcast, got %v", hub.events)
	}
}

func TestUpdateStatus_SkippingStagesRejected(t *testing.T) {
	store := newMockOrderStore()
	order := makeOrder(database.OrderStatusNEW)
	store.orders[order.ID] = order
	r := setupOrderRouter(&mockOrderService{}, store, &recordingHub{})

	rr := authedRequest(t, r, "PATCH", "/orders/"+order.ID.String()+"/status",
		map[string]string{"status": "READY"}, uuid.New(), "KITCHEN")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestUpdateStatus_CompletionReservedForPaymentFlow(t *testing.T) {
	store := newMockOrderStore()
	order := makeOrder(database.OrderStatusREADY)
	store.orders[order.ID] = order
	r := setupOrderRouter(&mockOrderService{}, store, &recordingHub{})

	for _, status := range []string{"COMPLETED", "CANCELLED"} {
		rr := authedRequest(t, r, "PATCH", "/orders/"+order.ID.String()+"/status",
			map[string]string{"status": status}, uuid.New(), "CASHIER")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", status, rr.Code)
		}
	}
}

// --- Cancel tests ---

func TestCancelOrder(t *testing.T) {
	store := newMockOrderStore()
	tableID := uuid.New()
	order := makeOrder(database.OrderStatusNEW)
	order.OrderType = database.OrderTypeDINEIN
	order.TableID = pgtype.UUID{Bytes: tableID, Valid: true}
	store.orders[order.ID] = order
	hub := &recordingHub{}
	r := setupOrderRouter(&mockOrderService{}, store, hub)

	rr := authedRequest(t, r, "DELETE", "/orders/"+order.ID.String(), nil, uuid.New(), "CASHIER")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if store.orders[order.ID].Status != database.OrderStatusCANCELLED {
		t.Error("expected order cancelled")
	}
	if len(store.released) != 1 || store.released[0] != tableID {
		t.Errorf("expected dine-in table released on cancel, got %v", store.released)
	}
}

func TestCancelOrder_CompletedRejected(t *testing.T) {
	store := newMockOrderStore()
	order := makeOrder(database.OrderStatusCOMPLETED)
	store.orders[order.ID] = order
	r := setupOrderRouter(&mockOrderService{}, store, &recordingHub{})

	rr := authedRequest(t, r, "DELETE", "/orders/"+order.ID.String(), nil, uuid.New(), "CASHIER")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestCancelOrder_Unknown(t *testing.T) {
	r := setupOrderRouter(&mockOrderService{}, newMockOrderStore(), &recordingHub{})
	rr := authedRequest(t, r, "DELETE", "/orders/"+uuid.New().String(), nil, uuid.New(), "CASHIER")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

// --- Get / List tests ---

func TestGetOrder(t *testing.T) {
	store := newMockOrderStore()
	order := makeOrder(database.OrderStatusNEW)
	store.orders[order.ID] = order
	r := setupOrderRouter(&mockOrderService{}, store, &recordingHub{})

	rr := authedRequest(t, r, "GET", "/orders/"+order.ID.String(), nil, uuid.New(), "CASHIER")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeResponse(t, rr)
	if resp["order_number"] != "SJI-001" {
		t.Errorf("unexpected order_number %v", resp["order_number"])
	}
	if resp["total_amount"] != "50000.00" {
		t.Errorf("unexpected total_amount %v", resp["total_amount"])
	}
}

func TestListOrders_StatusFilter(t *testing.T) {
	store := newMockOrderStore()
	a := makeOrder(database.OrderStatusNEW)
	b := makeOrder(database.OrderStatusCOMPLETED)
	store.orders[a.ID] = a
	store.orders[b.ID] = b
	r := setupOrderRouter(&mockOrderService{}, store, &recordingHub{})

	rr := authedRequest(t, r, "GET", "/orders?status=NEW", nil, uuid.New(), "CASHIER")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeResponse(t, rr)
	orders := resp["orders"].([]interface{})
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
}

func TestListOrders_InvalidStatus(t *testing.T) {
	r := setupOrderRouter(&mockOrderService{}, newMockOrderStore(), &recordingHub{})
	rr := authedRequest(t, r, "GET", "/orders?status=FROZEN", nil, uuid.New(), "CASHIER")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
