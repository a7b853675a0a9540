package database

import (
	"context"

	"github.com/google/uuid"
)

const createStatusEvidence = `-- name: CreateStatusEvidence :one
INSERT INTO status_evidence (intent_id, observed_status, source, raw_payload)
VALUES ($1, $2, $3, $4)
ON CONFLICT (intent_id, observed_status, source) DO NOTHING
RETURNING id, intent_id, observed_status, source, raw_payload, observed_at
`

type CreateStatusEvidenceParams struct {
	IntentID       uuid.UUID
	ObservedStatus string
	Source         EvidenceSource
	RawPayload     []byte
}

// CreateStatusEvidence appends one status observation. Evidence is
// append-only and deduplicated on (intent_id, observed_status, source);
// a duplicate returns pgx.ErrNoRows and leaves the log untouched.
func (q *Queries) CreateStatusEvidence(ctx context.Context, arg CreateStatusEvidenceParams) (StatusEvidence, error) {
	row := q.db.QueryRow(ctx, createStatusEvidence,
		arg.IntentID,
		arg.ObservedStatus,
		arg.Source,
		arg.RawPayload,
	)
	var i StatusEvidence
	err := row.Scan(
		&i.ID,
		&i.IntentID,
		&i.ObservedStatus,
		&i.Source,
		&i.RawPayload,
		&i.ObservedAt,
	)
	return i, err
}

const listEvidenceByIntent = `-- name: ListEvidenceByIntent :many
SELECT id, intent_id, observed_status, source, raw_payload, observed_at
FROM status_evidence
WHERE intent_id = $1
ORDER BY observed_at, id
`

func (q *Queries) ListEvidenceByIntent(ctx context.Context, intentID uuid.UUID) ([]StatusEvidence, error) {
	rows, err := q.db.Query(ctx, listEvidenceByIntent, intentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []StatusEvidence
	for rows.Next() {
		var i StatusEvidence
		if err := rows.Scan(
			&i.ID,
			&i.IntentID,
			&i.ObservedStatus,
			&i.Source,
			&i.RawPayload,
			&i.ObservedAt,
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
