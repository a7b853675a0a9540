package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const getSalesSummary = `-- name: GetSalesSummary :one
SELECT
	COUNT(*) FILTER (WHERE status = 'COMPLETED')::bigint AS completed_orders,
	COUNT(*) FILTER (WHERE status = 'CANCELLED')::bigint AS cancelled_orders,
	COALESCE(SUM(subtotal) FILTER (WHERE status = 'COMPLETED'), 0)::numeric AS gross_sales,
	COALESCE(SUM(discount_amount) FILTER (WHERE status = 'COMPLETED'), 0)::numeric AS total_discount,
	COALESCE(SUM(total_amount) FILTER (WHERE status = 'COMPLETED'), 0)::numeric AS net_sales
FROM orders
WHERE created_at::date BETWEEN $1 AND $2
`

type GetSalesSummaryParams struct {
	FromDate pgtype.Date
	ToDate   pgtype.Date
}

type GetSalesSummaryRow struct {
	CompletedOrders int64
	CancelledOrders int64
	GrossSales      pgtype.Numeric
	TotalDiscount   pgtype.Numeric
	NetSales        pgtype.Numeric
}

func (q *Queries) GetSalesSummary(ctx context.Context, arg GetSalesSummaryParams) (GetSalesSummaryRow, error) {
	row := q.db.QueryRow(ctx, getSalesSummary, arg.FromDate, arg.ToDate)
	var i GetSalesSummaryRow
	err := row.Scan(
		&i.CompletedOrders,
		&i.CancelledOrders,
		&i.GrossSales,
		&i.TotalDiscount,
		&i.NetSales,
	)
	return i, err
}

const getPaymentMethodBreakdown = `-- name: GetPaymentMethodBreakdown :many
SELECT payment_method, COUNT(*)::bigint AS payment_count, COALESCE(SUM(amount), 0)::numeric AS total_amount
FROM payments
WHERE status = 'COMPLETED' AND processed_at::date BETWEEN $1 AND $2
GROUP BY payment_method
ORDER BY payment_method
`

type GetPaymentMethodBreakdownParams struct {
	FromDate pgtype.Date
	ToDate   pgtype.Date
}

type GetPaymentMethodBreakdownRow struct {
	PaymentMethod PaymentMethod
	PaymentCount  int64
	TotalAmount   pgtype.Numeric
}

func (q *Queries) GetPaymentMethodBreakdown(ctx context.Context, arg GetPaymentMethodBreakdownParams) ([]GetPaymentMethodBreakdownRow, error) {
	rows, err := q.db.Query(ctx, getPaymentMethodBreakdown, arg.FromDate, arg.ToDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GetPaymentMethodBreakdownRow
	for rows.Next() {
		var i GetPaymentMethodBreakdownRow
		if err := rows.Scan(&i.PaymentMethod, &i.PaymentCount, &i.TotalAmount); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getTopProducts = `-- name: GetTopProducts :many
SELECT oi.product_name, SUM(oi.quantity)::bigint AS total_quantity, COALESCE(SUM(oi.subtotal), 0)::numeric AS total_sales
FROM order_items oi
JOIN orders o ON o.id = oi.order_id
WHERE o.status = 'COMPLETED' AND o.created_at::date BETWEEN $1 AND $2
GROUP BY oi.product_name
ORDER BY total_quantity DESC
LIMIT $3
`

type GetTopProductsParams struct {
	FromDate pgtype.Date
	ToDate   pgtype.Date
	Limit    int32
}

type GetTopProductsRow struct {
	ProductName   string
	TotalQuantity int64
	TotalSales    pgtype.Numeric
}

func (q *Queries) GetTopProducts(ctx context.Context, arg GetTopProductsParams) ([]GetTopProductsRow, error) {
	rows, err := q.db.Query(ctx, getTopProducts, arg.FromDate, arg.ToDate, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GetTopProductsRow
	for rows.Next() {
		var i GetTopProductsRow
		if err := rows.Scan(&i.ProductName, &i.TotalQuantity, &i.TotalSales); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
