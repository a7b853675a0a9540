package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/saji-pos/api/internal/database"
	"github.com/shopspring/decimal"
)

const maxOrderNumberRetries = 3

// Errors returned by the order service.
var (
	ErrEmptyItems           = errors.New("items are required")
	ErrInvalidOrderType     = errors.New("invalid order_type")
	ErrInvalidQuantity      = errors.New("quantity must be > 0")
	ErrProductNotFound      = errors.New("product not found")
	ErrInvalidProductID     = errors.New("invalid product_id")
	ErrInvalidDiscount      = errors.New("invalid discount_type")
	ErrInvalidDiscountValue = errors.New("invalid discount_value")
	ErrTableRequired        = errors.New("table_id is required for DINE_IN orders")
	ErrInvalidTableID       = errors.New("invalid table_id")
	ErrTableNotFound        = errors.New("table not found")
	ErrTableOccupied        = errors.New("table is already occupied")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderStore defines the DB methods needed to create orders.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	GetNextOrderNumber(ctx context.Context) (int32, error)
	GetProductForOrder(ctx context.Context, id uuid.UUID) (database.GetProductForOrderRow, error)
	OccupyDiningTable(ctx context.Context, id uuid.UUID) (database.DiningTable, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
// This allows the service to create store instances from transactions.
type NewOrderStore func(db database.DBTX) OrderStore

// CreateOrderRequest is the validated input for creating an order.
type CreateOrderRequest struct {
	CreatedBy     uuid.UUID
	OrderType     string
	TableID       string
	Notes         string
	DiscountType  string
	DiscountValue string
	Items         []CreateOrderItemRequest
}

// CreateOrderItemRequest is a single item in the order.
type CreateOrderItemRequest struct {
	ProductID     string
	Quantity      int32
	Notes         string
	DiscountType  string
	DiscountValue string
}

// CreateOrderResult is the full created order with items.
type CreateOrderResult struct {
	Order database.Order
	Items []database.OrderItem
}

// OrderService handles order business logic.
type OrderService struct {
	pool     TxBeginner
	newStore NewOrderStore
}

// NewOrderService creates a new OrderService.
func NewOrderService(pool TxBeginner, newStore NewOrderStore) *OrderService {
	return &OrderService{pool: pool, newStore: newStore}
}

// processedItem holds a prepared order item.
type processedItem struct {
	params database.CreateOrderItemParams
}

// CreateOrder validates, calculates prices, and creates an order atomically.
// Retries up to maxOrderNumberRetries times on order_number unique constraint
// violations (race condition where concurrent transactions get the same MAX).
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	orderType, err := validateOrderType(req.OrderType)
	if err != nil {
		return nil, err
	}

	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	if orderType == database.OrderTypeDINEIN && req.TableID == "" {
		return nil, ErrTableRequired
	}

	if req.DiscountType != "" && !isValidDiscountType(req.DiscountType) {
		return nil, ErrInvalidDiscount
	}

	// Retry loop: handles order_number unique constraint race condition.
	var lastErr error
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		result, err := s.createOrderTx(ctx, req, orderType)
		if err == nil {
			return result, nil
		}
		if isOrderNumberConflict(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// isOrderNumberConflict checks if the error is a unique constraint violation
// on the order number (pgconn error code 23505).
func isOrderNumberConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "orders_order_number_key"
	}
	return false
}

// createOrderTx executes the full order creation in a single transaction.
func (s *OrderService) createOrderTx(ctx context.Context, req CreateOrderRequest, orderType database.OrderType) (*CreateOrderResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	// --- Claim the table for dine-in orders ---
	tableID := pgtype.UUID{}
	if orderType == database.OrderTypeDINEIN {
		tid, err := uuid.Parse(req.TableID)
		if err != nil {
			return nil, ErrInvalidTableID
		}
		if _, err := store.OccupyDiningTable(ctx, tid); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Either the table doesn't exist or it's occupied; the
				// conditional update can't tell them apart, so report the
				// common case.
				return nil, ErrTableOccupied
			}
			return nil, fmt.Errorf("occupy table: %w", err)
		}
		tableID = pgtype.UUID{Bytes: tid, Valid: true}
	}

	// --- Generate order number ---
	nextNum, err := store.GetNextOrderNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("get next order number: %w", err)
	}
	orderNumber := fmt.Sprintf("SJI-%03d", nextNum)

	// --- Process items: validate + calculate prices ---
	orderSubtotal := decimal.Zero
	var items []processedItem

	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("item[%d]: %w", i, ErrInvalidQuantity)
		}

		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("item[%d]: %w", i, ErrInvalidProductID)
		}

		product, err := store.GetProductForOrder(ctx, productID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("item[%d]: %w", i, ErrProductNotFound)
			}
			return nil, fmt.Errorf("item[%d]: get product: %w", i, err)
		}

		unitPrice := numericToDecimal(product.Price)

		// Calculate item discount
		itemDiscountType := pgtype.Text{}
		itemDiscountValue := pgtype.Numeric{}
		itemDiscountAmount := decimal.Zero
		if item.DiscountType != "" {
			if !isValidDiscountType(item.DiscountType) {
				return nil, fmt.Errorf("item[%d]: %w", i, ErrInvalidDiscount)
			}
			dv, err := decimal.NewFromString(item.DiscountValue)
			if err != nil {
				return nil, fmt.Errorf("item[%d]: %w", i, ErrInvalidDiscountValue)
			}
			itemDiscountType = pgtype.Text{String: item.DiscountType, Valid: true}
			itemDiscountValue = decimalToNumeric(dv)

			if item.DiscountType == "PERCENTAGE" {
				lineTotal := unitPrice.Mul(decimal.NewFromInt32(item.Quantity))
				itemDiscountAmount = lineTotal.Mul(dv).Div(decimal.NewFromInt(100))
			} else {
				itemDiscountAmount = dv
			}
		}

		// item subtotal = (unit_price * quantity) - discount_amount
		itemSubtotal := unitPrice.Mul(decimal.NewFromInt32(item.Quantity)).Sub(itemDiscountAmount)
		if itemSubtotal.IsNegative() {
			itemSubtotal = decimal.Zero
		}

		orderSubtotal = orderSubtotal.Add(itemSubtotal)

		itemNotes := pgtype.Text{}
		if item.Notes != "" {
			itemNotes = pgtype.Text{String: item.Notes, Valid: true}
		}

		items = append(items, processedItem{
			params: database.CreateOrderItemParams{
				ProductID:      productID,
				ProductName:    product.Name,
				Quantity:       item.Quantity,
				UnitPrice:      decimalToNumeric(unitPrice),
				DiscountType:   itemDiscountType,
				DiscountValue:  itemDiscountValue,
				DiscountAmount: decimalToNumeric(itemDiscountAmount),
				Subtotal:       decimalToNumeric(itemSubtotal),
				Notes:          itemNotes,
			},
		})
	}

	// --- Calculate order-level discount ---
	orderDiscountType := pgtype.Text{}
	orderDiscountValue := pgtype.Numeric{}
	orderDiscountAmount := decimal.Zero
	if req.DiscountType != "" {
		dv, err := decimal.NewFromString(req.DiscountValue)
		if err != nil {
			return nil, ErrInvalidDiscountValue
		}
		orderDiscountType = pgtype.Text{String: req.DiscountType, Valid: true}
		orderDiscountValue = decimalToNumeric(dv)

		if req.DiscountType == "PERCENTAGE" {
			orderDiscountAmount = orderSubtotal.Mul(dv).Div(decimal.NewFromInt(100))
		} else {
			orderDiscountAmount = dv
		}
	}

	totalAmount := orderSubtotal.Sub(orderDiscountAmount)
	if totalAmount.IsNegative() {
		totalAmount = decimal.Zero
	}

	notes := pgtype.Text{}
	if req.Notes != "" {
		notes = pgtype.Text{String: req.Notes, Valid: true}
	}

	// --- Insert order ---
	order, err := store.CreateOrder(ctx, database.CreateOrderParams{
		OrderNumber:    orderNumber,
		OrderType:      orderType,
		TableID:        tableID,
		Notes:          notes,
		Subtotal:       decimalToNumeric(orderSubtotal),
		DiscountType:   orderDiscountType,
		DiscountValue:  orderDiscountValue,
		DiscountAmount: decimalToNumeric(orderDiscountAmount),
		TotalAmount:    decimalToNumeric(totalAmount),
		CreatedBy:      req.CreatedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	// --- Insert items ---
	var itemResults []database.OrderItem
	for _, pi := range items {
		pi.params.OrderID = order.ID
		item, err := store.CreateOrderItem(ctx, pi.params)
		if err != nil {
			return nil, fmt.Errorf("create order item: %w", err)
		}
		itemResults = append(itemResults, item)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &CreateOrderResult{
		Order: order,
		Items: itemResults,
	}, nil
}

// --- Helpers ---

func validateOrderType(s string) (database.OrderType, error) {
	switch database.OrderType(s) {
	case database.OrderTypeDINEIN, database.OrderTypeTAKEAWAY, database.OrderTypeDELIVERY:
		return database.OrderType(s), nil
	}
	return "", ErrInvalidOrderType
}

func isValidDiscountType(s string) bool {
	switch s {
	case "PERCENTAGE", "FIXED_AMOUNT":
		return true
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
