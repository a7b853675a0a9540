package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const createPaymentIntent = `-- name: CreatePaymentIntent :one
INSERT INTO payment_intents (
	id, order_id, provider, provider_ref, amount, collection_artifact, expires_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, order_id, provider, provider_ref, amount, status,
	collection_artifact, created_at, expires_at, settled_at, finalized_at
`

type CreatePaymentIntentParams struct {
	ID                 uuid.UUID
	OrderID            uuid.UUID
	Provider           string
	ProviderRef        pgtype.Text
	Amount             pgtype.Numeric
	CollectionArtifact pgtype.Text
	ExpiresAt          time.Time
}

func (q *Queries) CreatePaymentIntent(ctx context.Context, arg CreatePaymentIntentParams) (PaymentIntent, error) {
	row := q.db.QueryRow(ctx, createPaymentIntent,
		arg.ID,
		arg.OrderID,
		arg.Provider,
		arg.ProviderRef,
		arg.Amount,
		arg.CollectionArtifact,
		arg.ExpiresAt,
	)
	return scanPaymentIntent(row)
}

const getPaymentIntent = `-- name: GetPaymentIntent :one
SELECT id, order_id, provider, provider_ref, amount, status,
	collection_artifact, created_at, expires_at, settled_at, finalized_at
FROM payment_intents
WHERE id = $1
`

func (q *Queries) GetPaymentIntent(ctx context.Context, id uuid.UUID) (PaymentIntent, error) {
	row := q.db.QueryRow(ctx, getPaymentIntent, id)
	return scanPaymentIntent(row)
}

const getPendingIntentByOrder = `-- name: GetPendingIntentByOrder :one
SELECT id, order_id, provider, provider_ref, amount, status,
	collection_artifact, created_at, expires_at, settled_at, finalized_at
FROM payment_intents
WHERE order_id = $1 AND status = 'PENDING'
`

func (q *Queries) GetPendingIntentByOrder(ctx context.Context, orderID uuid.UUID) (PaymentIntent, error) {
	row := q.db.QueryRow(ctx, getPendingIntentByOrder, orderID)
	return scanPaymentIntent(row)
}

const listIntentsByOrder = `-- name: ListIntentsByOrder :many
SELECT id, order_id, provider, provider_ref, amount, status,
	collection_artifact, created_at, expires_at, settled_at, finalized_at
FROM payment_intents
WHERE order_id = $1
ORDER BY created_at
`

func (q *Queries) ListIntentsByOrder(ctx context.Context, orderID uuid.UUID) ([]PaymentIntent, error) {
	rows, err := q.db.Query(ctx, listIntentsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PaymentIntent
	for rows.Next() {
		i, err := scanPaymentIntent(rows)
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

const transitionPaymentIntent = `-- name: TransitionPaymentIntent :one
UPDATE payment_intents
SET status = $2,
	settled_at = CASE WHEN $2::intent_status = 'SETTLED' THEN now() ELSE settled_at END
WHERE id = $1 AND status = 'PENDING'
RETURNING id, order_id, provider, provider_ref, amount, status,
	collection_artifact, created_at, expires_at, settled_at, finalized_at
`

type TransitionPaymentIntentParams struct {
	ID     uuid.UUID
	Status IntentStatus
}

// TransitionPaymentIntent is the compare-and-set that moves an intent out of
// PENDING. Only one writer can win; losers get pgx.ErrNoRows. Terminal
// statuses never transition again.
func (q *Queries) TransitionPaymentIntent(ctx context.Context, arg TransitionPaymentIntentParams) (PaymentIntent, error) {
	row := q.db.QueryRow(ctx, transitionPaymentIntent, arg.ID, arg.Status)
	return scanPaymentIntent(row)
}

const markIntentFinalized = `-- name: MarkIntentFinalized :exec
UPDATE payment_intents
SET finalized_at = now()
WHERE id = $1 AND finalized_at IS NULL
`

func (q *Queries) MarkIntentFinalized(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, markIntentFinalized, id)
	return err
}

func scanPaymentIntent(row rowScanner) (PaymentIntent, error) {
	var i PaymentIntent
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.Provider,
		&i.ProviderRef,
		&i.Amount,
		&i.Status,
		&i.CollectionArtifact,
		&i.CreatedAt,
		&i.ExpiresAt,
		&i.SettledAt,
		&i.FinalizedAt,
	)
	return i, err
}
