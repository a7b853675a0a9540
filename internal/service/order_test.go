package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/saji-pos/api/internal/database"
	"github.com/shopspring/decimal"
)

// --- Mock implementations ---

// mockTx implements pgx.Tx with only the methods we need.
// The unused methods panic so we catch accidental calls.
type mockTx struct {
	commitErr   error
	rollbackErr error
	commits     int
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (m *mockTx) Commit(ctx context.Context) error {
	m.commits++
	return m.commitErr
}
func (m *mockTx) Rollback(ctx context.Context) error { return m.rollbackErr }
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (m *mockTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (m *mockTx) Conn() *pgx.Conn { panic("not implemented") }

// mockTxBeginner implements TxBeginner.
type mockTxBeginner struct {
	tx  pgx.Tx
	err error
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	return m.tx, m.err
}

// mockOrderStore implements OrderStore with configurable behavior.
type mockOrderStore struct {
	getNextOrderNumberFn func(ctx context.Context) (int32, error)
	getProductForOrderFn func(ctx context.Context, id uuid.UUID) (database.GetProductForOrderRow, error)
	occupyTableFn        func(ctx context.Context, id uuid.UUID) (database.DiningTable, error)
	createOrderFn        func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	createOrderItemFn    func(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
}

func (m *mockOrderStore) GetNextOrderNumber(ctx context.Context) (int32, error) {
	return m.getNextOrderNumberFn(ctx)
}
func (m *mockOrderStore) GetProductForOrder(ctx context.Context, id uuid.UUID) (database.GetProductForOrderRow, error) {
	return m.getProductForOrderFn(ctx, id)
}
func (m *mockOrderStore) OccupyDiningTable(ctx context.Context, id uuid.UUID) (database.DiningTable, error) {
	return m.occupyTableFn(ctx, id)
}
func (m *mockOrderStore) CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
	return m.createOrderFn(ctx, arg)
}
func (m *mockOrderStore) CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
	return m.createOrderItemFn(ctx, arg)
}

// --- Test helpers ---

func makeNumeric(val string) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(val)
	return n
}

func numericEquals(n pgtype.Numeric, expected string) bool {
	d := numericToDecimal(n)
	exp, _ := decimal.NewFromString(expected)
	return d.Equal(exp)
}

// newTestService creates an OrderService with mocked dependencies.
func newTestService(store *mockOrderStore) (*OrderService, *mockTx) {
	tx := &mockTx{}
	pool := &mockTxBeginner{tx: tx}
	newStore := func(db database.DBTX) OrderStore { return store }
	return NewOrderService(pool, newStore), tx
}

// defaultStore returns a mockOrderStore with sensible defaults for a basic
// order. Individual tests override the functions they care about.
func defaultStore(productID uuid.UUID) *mockOrderStore {
	return &mockOrderStore{
		getNextOrderNumberFn: func(ctx context.Context) (int32, error) {
			return 1, nil
		},
		getProductForOrderFn: func(ctx context.Context, id uuid.UUID) (database.GetProductForOrderRow, error) {
			if id == productID {
				return database.GetProductForOrderRow{
					ID:    productID,
					Name:  "Nasi Goreng Spesial",
					Price: makeNumeric("25000.00"),
				}, nil
			}
			return database.GetProductForOrderRow{}, pgx.ErrNoRows
		},
		occupyTableFn: func(ctx context.Context, id uuid.UUID) (database.DiningTable, error) {
			return database.DiningTable{ID: id, Status: database.TableStatusOCCUPIED}, nil
		},
		createOrderFn: func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
			return database.Order{
				ID:             uuid.New(),
				OrderNumber:    arg.OrderNumber,
				OrderType:      arg.OrderType,
				TableID:        arg.TableID,
				Status:         database.OrderStatusNEW,
				Subtotal:       arg.Subtotal,
				DiscountType:   arg.DiscountType,
				DiscountValue:  arg.DiscountValue,
				DiscountAmount: arg.DiscountAmount,
				TotalAmount:    arg.TotalAmount,
				CreatedBy:      arg.CreatedBy,
			}, nil
		},
		createOrderItemFn: func(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
			return database.OrderItem{
				ID:          uuid.New(),
				OrderID:     arg.OrderID,
				ProductID:   arg.ProductID,
				ProductName: arg.ProductName,
				Quantity:    arg.Quantity,
				UnitPrice:   arg.UnitPrice,
				Subtotal:    arg.Subtotal,
			}, nil
		},
	}
}

func basicRequest(productID uuid.UUID) CreateOrderRequest {
	return CreateOrderRequest{
		CreatedBy: uuid.New(),
		OrderType: "TAKEAWAY",
		Items: []CreateOrderItemRequest{
			{ProductID: productID.String(), Quantity: 2},
		},
	}
}

// --- Tests ---

func TestCreateOrder_HappyPath(t *testing.T) {
	productID := uuid.New()
	store := defaultStore(productID)
	svc, tx := newTestService(store)

	result, err := svc.CreateOrder(context.Background(), basicRequest(productID))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if result.Order.OrderNumber != "SJI-001" {
		t.Errorf("expected order number SJI-001, got %s", result.Order.OrderNumber)
	}
	// 2 x 25000
	if !numericEquals(result.Order.TotalAmount, "50000") {
		t.Errorf("expected total 50000, got %v", numericToDecimal(result.Order.TotalAmount))
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(result.Items))
	}
	if tx.commits != 1 {
		t.Errorf("expected 1 commit, got %d", tx.commits)
	}
}

func TestCreateOrder_EmptyItems(t *testing.T) {
	svc, _ := newTestService(defaultStore(uuid.New()))
	req := CreateOrderRequest{OrderType: "TAKEAWAY"}
	if _, err := svc.CreateOrder(context.Background(), req); !errors.Is(err, ErrEmptyItems) {
		t.Fatalf("expected ErrEmptyItems, got %v", err)
	}
}

func TestCreateOrder_InvalidOrderType(t *testing.T) {
	productID := uuid.New()
	svc, _ := newTestService(defaultStore(productID))
	req := basicRequest(productID)
	req.OrderType = "DRIVE_THRU"
	if _, err := svc.CreateOrder(context.Background(), req); !errors.Is(err, ErrInvalidOrderType) {
		t.Fatalf("expected ErrInvalidOrderType, got %v", err)
	}
}

func TestCreateOrder_DineInRequiresTable(t *testing.T) {
	productID := uuid.New()
	svc, _ := newTestService(defaultStore(productID))
	req := basicRequest(productID)
	req.OrderType = "DINE_IN"
	if _, err := svc.CreateOrder(context.Background(), req); !errors.Is(err, ErrTableRequired) {
		t.Fatalf("expected ErrTableRequired, got %v", err)
	}
}

func TestCreateOrder_DineInClaimsTable(t *testing.T) {
	productID := uuid.New()
	tableID := uuid.New()
	store := defaultStore(productID)

	var occupied uuid.UUID
	store.occupyTableFn = func(ctx context.Context, id uuid.UUID) (database.DiningTable, error) {
		occupied = id
		return database.DiningTable{ID: id, Status: database.TableStatusOCCUPIED}, nil
	}

	svc, _ := newTestService(store)
	req := basicRequest(productID)
	req.OrderType = "DINE_IN"
	req.TableID = tableID.String()

	result, err := svc.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if occupied != tableID {
		t.Errorf("expected table %s claimed, got %s", tableID, occupied)
	}
	if !result.Order.TableID.Valid || uuid.UUID(result.Order.TableID.Bytes) != tableID {
		t.Error("expected order linked to the table")
	}
}

func TestCreateOrder_OccupiedTableRejected(t *testing.T) {
	productID := uuid.New()
	store := defaultStore(productID)
	store.occupyTableFn = func(ctx context.Context, id uuid.UUID) (database.DiningTable, error) {
		return database.DiningTable{}, pgx.ErrNoRows
	}

	svc, _ := newTestService(store)
	req := basicRequest(productID)
	req.OrderType = "DINE_IN"
	req.TableID = uuid.New().String()

	if _, err := svc.CreateOrder(context.Background(), req); !errors.Is(err, ErrTableOccupied) {
		t.Fatalf("expected ErrTableOccupied, got %v", err)
	}
}

func TestCreateOrder_ProductNotFound(t *testing.T) {
	productID := uuid.New()
	svc, _ := newTestService(defaultStore(productID))
	req := basicRequest(uuid.New()) // different product
	_, err := svc.CreateOrder(context.Background(), req)
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "item[0]") {
		t.Errorf("expected item index in error, got %q", err.Error())
	}
}

func TestCreateOrder_InvalidQuantity(t *testing.T) {
	productID := uuid.New()
	svc, _ := newTestService(defaultStore(productID))
	req := basicRequest(productID)
	req.Items[0].Quantity = 0
	if _, err := svc.CreateOrder(context.Background(), req); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestCreateOrder_ItemPercentageDiscount(t *testing.T) {
	productID := uuid.New()
	store := defaultStore(productID)
	svc, _ := newTestService(store)

	req := basicRequest(productID)
	req.Items[0].DiscountType = "PERCENTAGE"
	req.Items[0].DiscountValue = "10"

	result, err := svc.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	// 2 x 25000 = 50000, minus 10% = 45000
	if !numericEquals(result.Order.TotalAmount, "45000") {
		t.Errorf("expected total 45000, got %v", numericToDecimal(result.Order.TotalAmount))
	}
	if !numericEquals(result.Items[0].Subtotal, "45000") {
		t.Errorf("expected item subtotal 45000, got %v", numericToDecimal(result.Items[0].Subtotal))
	}
}

func TestCreateOrder_OrderFixedDiscount(t *testing.T) {
	productID := uuid.New()
	svc, _ := newTestService(defaultStore(productID))

	req := basicRequest(productID)
	req.DiscountType = "FIXED_AMOUNT"
	req.DiscountValue = "5000"

	result, err := svc.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if !numericEquals(result.Order.TotalAmount, "45000") {
		t.Errorf("expected total 45000, got %v", numericToDecimal(result.Order.TotalAmount))
	}
}

func TestCreateOrder_DiscountNeverGoesNegative(t *testing.T) {
	productID := uuid.New()
	svc, _ := newTestService(defaultStore(productID))

	req := basicRequest(productID)
	req.DiscountType = "FIXED_AMOUNT"
	req.DiscountValue = "999999"

	result, err := svc.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if !numericEquals(result.Order.TotalAmount, "0") {
		t.Errorf("expected total clamped to 0, got %v", numericToDecimal(result.Order.TotalAmount))
	}
}

func TestCreateOrder_InvalidDiscountType(t *testing.T) {
	productID := uuid.New()
	svc, _ := newTestService(defaultStore(productID))
	req := basicRequest(productID)
	req.DiscountType = "BOGO"
	if _, err := svc.CreateOrder(context.Background(), req); !errors.Is(err, ErrInvalidDiscount) {
		t.Fatalf("expected ErrInvalidDiscount, got %v", err)
	}
}

func TestCreateOrder_RetriesOnOrderNumberConflict(t *testing.T) {
	productID := uuid.New()
	store := defaultStore(productID)

	attempts := 0
	store.createOrderFn = func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
		attempts++
		if attempts < 3 {
			return database.Order{}, &pgconn.PgError{Code: "23505", ConstraintName: "orders_order_number_key"}
		}
		return database.Order{
			ID:          uuid.New(),
			OrderNumber: arg.OrderNumber,
			OrderType:   arg.OrderType,
			Status:      database.OrderStatusNEW,
			TotalAmount: arg.TotalAmount,
		}, nil
	}

	svc, _ := newTestService(store)
	result, err := svc.CreateOrder(context.Background(), basicRequest(productID))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if result.Order.OrderNumber == "" {
		t.Error("expected an order number after retries")
	}
}

func TestCreateOrder_GivesUpAfterMaxRetries(t *testing.T) {
	productID := uuid.New()
	store := defaultStore(productID)
	store.createOrderFn = func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
		return database.Order{}, &pgconn.PgError{Code: "23505", ConstraintName: "orders_order_number_key"}
	}

	svc, _ := newTestService(store)
	_, err := svc.CreateOrder(context.Background(), basicRequest(productID))
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		t.Fatalf("expected the conflict surfaced after retries, got %v", err)
	}
}

func TestCreateOrder_OtherDBErrorNotRetried(t *testing.T) {
	productID := uuid.New()
	store := defaultStore(productID)

	attempts := 0
	store.createOrderFn = func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
		attempts++
		return database.Order{}, errors.New("connection lost")
	}

	svc, _ := newTestService(store)
	if _, err := svc.CreateOrder(context.Background(), basicRequest(productID)); err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected no retry on non-conflict errors, got %d attempts", attempts)
	}
}
