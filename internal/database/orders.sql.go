package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const getNextOrderNumber = `-- name: GetNextOrderNumber :one
SELECT COALESCE(MAX(CAST(SUBSTRING(order_number FROM 5) AS INTEGER)), 0) + 1
FROM orders
WHERE created_at::date = CURRENT_DATE
`

func (q *Queries) GetNextOrderNumber(ctx context.Context) (int32, error) {
	row := q.db.QueryRow(ctx, getNextOrderNumber)
	var next int32
	err := row.Scan(&next)
	return next, err
}

const createOrder = `-- name: CreateOrder :one
INSERT INTO orders (
	order_number, order_type, table_id, notes,
	subtotal, discount_type, discount_value, discount_amount, total_amount,
	created_by
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id, order_number, order_type, status, table_id, notes, subtotal,
	discount_type, discount_value, discount_amount, total_amount,
	created_by, created_at, updated_at, completed_at
`

type CreateOrderParams struct {
	OrderNumber    string
	OrderType      OrderType
	TableID        pgtype.UUID
	Notes          pgtype.Text
	Subtotal       pgtype.Numeric
	DiscountType   pgtype.Text
	DiscountValue  pgtype.Numeric
	DiscountAmount pgtype.Numeric
	TotalAmount    pgtype.Numeric
	CreatedBy      uuid.UUID
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.OrderNumber,
		arg.OrderType,
		arg.TableID,
		arg.Notes,
		arg.Subtotal,
		arg.DiscountType,
		arg.DiscountValue,
		arg.DiscountAmount,
		arg.TotalAmount,
		arg.CreatedBy,
	)
	return scanOrder(row)
}

const createOrderItem = `-- name: CreateOrderItem :one
INSERT INTO order_items (
	order_id, product_id, product_name, quantity, unit_price,
	discount_type, discount_value, discount_amount, subtotal, notes
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id, order_id, product_id, product_name, quantity, unit_price,
	discount_type, discount_value, discount_amount, subtotal, notes
`

type CreateOrderItemParams struct {
	OrderID        uuid.UUID
	ProductID      uuid.UUID
	ProductName    string
	Quantity       int32
	UnitPrice      pgtype.Numeric
	DiscountType   pgtype.Text
	DiscountValue  pgtype.Numeric
	DiscountAmount pgtype.Numeric
	Subtotal       pgtype.Numeric
	Notes          pgtype.Text
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, createOrderItem,
		arg.OrderID,
		arg.ProductID,
		arg.ProductName,
		arg.Quantity,
		arg.UnitPrice,
		arg.DiscountType,
		arg.DiscountValue,
		arg.DiscountAmount,
		arg.Subtotal,
		arg.Notes,
	)
	var i OrderItem
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.ProductID,
		&i.ProductName,
		&i.Quantity,
		&i.UnitPrice,
		&i.DiscountType,
		&i.DiscountValue,
		&i.DiscountAmount,
		&i.Subtotal,
		&i.Notes,
	)
	return i, err
}

const getOrder = `-- name: GetOrder :one
SELECT id, order_number, order_type, status, table_id, notes, subtotal,
	discount_type, discount_value, discount_amount, total_amount,
	created_by, created_at, updated_at, completed_at
FROM orders
WHERE id = $1
`

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	row := q.db.QueryRow(ctx, getOrder, id)
	return scanOrder(row)
}

const getOrderForUpdate = `-- name: GetOrderForUpdate :one
SELECT id, order_number, order_type, status, table_id, notes, subtotal,
	discount_type, discount_value, discount_amount, total_amount,
	created_by, created_at, updated_at, completed_at
FROM orders
WHERE id = $1
FOR NO KEY UPDATE
`

func (q *Queries) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (Order, error) {
	row := q.db.QueryRow(ctx, getOrderForUpdate, id)
	return scanOrder(row)
}

const listOrders = `-- name: ListOrders :many
SELECT id, order_number, order_type, status, table_id, notes, subtotal,
	discount_type, discount_value, discount_amount, total_amount,
	created_by, created_at, updated_at, completed_at
FROM orders
WHERE ($1::text = '' OR status = $1::order_status)
  AND ($2::date IS NULL OR created_at::date = $2::date)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4
`

type ListOrdersParams struct {
	Status string
	Date   pgtype.Date
	Limit  int32
	Offset int32
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, listOrders,
		arg.Status,
		arg.Date,
		arg.Limit,
		arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Order
	for rows.Next() {
		i, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listOrderItemsByOrder = `-- name: ListOrderItemsByOrder :many
SELECT id, order_id, product_id, product_name, quantity, unit_price,
	discount_type, discount_value, discount_amount, subtotal, notes
FROM order_items
WHERE order_id = $1
ORDER BY id
`

func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listOrderItemsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItem
	for rows.Next() {
		var i OrderItem
		if err := rows.Scan(
			&i.ID,
			&i.OrderID,
			&i.ProductID,
			&i.ProductName,
			&i.Quantity,
			&i.UnitPrice,
			&i.DiscountType,
			&i.DiscountValue,
			&i.DiscountAmount,
			&i.Subtotal,
			&i.Notes,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateOrderStatus = `-- name: UpdateOrderStatus :one
UPDATE orders
SET status = $2, updated_at = now()
WHERE id = $1
RETURNING id, order_number, order_type, status, table_id, notes, subtotal,
	discount_type, discount_value, discount_amount, total_amount,
	created_by, created_at, updated_at, completed_at
`

type UpdateOrderStatusParams struct {
	ID     uuid.UUID
	Status OrderStatus
}

func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderStatus, arg.ID, arg.Status)
	return scanOrder(row)
}

const cancelOrder = `-- name: CancelOrder :one
UPDATE orders
SET status = 'CANCELLED', updated_at = now()
WHERE id = $1 AND status NOT IN ('COMPLETED', 'CANCELLED')
RETURNING id, order_number, order_type, status, table_id, notes, subtotal,
	discount_type, discount_value, discount_amount, total_amount,
	created_by, created_at, updated_at, completed_at
`

func (q *Queries) CancelOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	row := q.db.QueryRow(ctx, cancelOrder, id)
	return scanOrder(row)
}

const completeOrder = `-- name: CompleteOrder :one
UPDATE orders
SET status = 'COMPLETED', completed_at = now(), updated_at = now()
WHERE id = $1 AND completed_at IS NULL AND status <> 'CANCELLED'
RETURNING id, order_number, order_type, status, table_id, notes, subtotal,
	discount_type, discount_value, discount_amount, total_amount,
	created_by, created_at, updated_at, completed_at
`

// CompleteOrder marks an order completed at most once. The completed_at
// guard makes it a conditional write: a second caller gets pgx.ErrNoRows.
func (q *Queries) CompleteOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	row := q.db.QueryRow(ctx, completeOrder, id)
	return scanOrder(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.OrderNumber,
		&i.OrderType,
		&i.Status,
		&i.TableID,
		&i.Notes,
		&i.Subtotal,
		&i.DiscountType,
		&i.DiscountValue,
		&i.DiscountAmount,
		&i.TotalAmount,
		&i.CreatedBy,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.CompletedAt,
	)
	return i, err
}
