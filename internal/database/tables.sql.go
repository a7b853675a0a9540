package database

import (
	"context"

	"github.com/google/uuid"
)

const createDiningTable = `-- name: CreateDiningTable :one
INSERT INTO dining_tables (table_number, capacity)
VALUES ($1, $2)
RETURNING id, table_number, capacity, status, created_at
`

type CreateDiningTableParams struct {
	TableNumber string
	Capacity    int32
}

func (q *Queries) CreateDiningTable(ctx context.Context, arg CreateDiningTableParams) (DiningTable, error) {
	row := q.db.QueryRow(ctx, createDiningTable, arg.TableNumber, arg.Capacity)
	var i DiningTable
	err := row.Scan(&i.ID, &i.TableNumber, &i.Capacity, &i.Status, &i.CreatedAt)
	return i, err
}

const getDiningTable = `-- name: GetDiningTable :one
SELECT id, table_number, capacity, status, created_at
FROM dining_tables
WHERE id = $1
`

func (q *Queries) GetDiningTable(ctx context.Context, id uuid.UUID) (DiningTable, error) {
	row := q.db.QueryRow(ctx, getDiningTable, id)
	var i DiningTable
	err := row.Scan(&i.ID, &i.TableNumber, &i.Capacity, &i.Status, &i.CreatedAt)
	return i, err
}

const listDiningTables = `-- name: ListDiningTables :many
SELECT id, table_number, capacity, status, created_at
FROM dining_tables
ORDER BY table_number
`

func (q *Queries) ListDiningTables(ctx context.Context) ([]DiningTable, error) {
	rows, err := q.db.Query(ctx, listDiningTables)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DiningTable
	for rows.Next() {
		var i DiningTable
		if err := rows.Scan(&i.ID, &i.TableNumber, &i.Capacity, &i.Status, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const occupyDiningTable = `-- name: OccupyDiningTable :one
UPDATE dining_tables
SET status = 'OCCUPIED'
WHERE id = $1 AND status = 'AVAILABLE'
RETURNING id, table_number, capacity, status, created_at
`

// OccupyDiningTable claims a table for a new order. Returns pgx.ErrNoRows
// when the table is already occupied, which callers treat as a conflict.
func (q *Queries) OccupyDiningTable(ctx context.Context, id uuid.UUID) (DiningTable, error) {
	row := q.db.QueryRow(ctx, occupyDiningTable, id)
	var i DiningTable
	err := row.Scan(&i.ID, &i.TableNumber, &i.Capacity, &i.Status, &i.CreatedAt)
	return i, err
}

const releaseDiningTable = `-- name: ReleaseDiningTable :exec
UPDATE dining_tables
SET status = 'AVAILABLE'
WHERE id = $1
`

func (q *Queries) ReleaseDiningTable(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, releaseDiningTable, id)
	return err
}

const deleteDiningTable = `-- name: DeleteDiningTable :exec
DELETE FROM dining_tables
WHERE id = $1
`

func (q *Queries) DeleteDiningTable(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteDiningTable, id)
	return err
}
