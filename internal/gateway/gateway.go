// Package gateway is the boundary to the external payment provider.
// The rest of the system depends only on the Gateway interface and the
// provider's raw status vocabulary; normalization happens in the payment
// package.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Errors returned by gateway implementations.
var (
	// ErrGatewayUnavailable marks transient transport or provider-side
	// failures. Callers may retry; no local state should change.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrInvalidRequest marks requests the provider rejected. Retrying
	// without changing the request will not help.
	ErrInvalidRequest = errors.New("payment gateway rejected request")
)

// ChargeItem is one line item forwarded to the provider.
type ChargeItem struct {
	Name     string
	Quantity int32
	Price    decimal.Decimal
}

// ChargeRequest asks the provider to open a QRIS collection.
type ChargeRequest struct {
	OrderRef    string // merchant-side reference, unique per intent
	GrossAmount decimal.Decimal
	Items       []ChargeItem
}

// CollectionIntent is the provider's answer to a charge request.
type CollectionIntent struct {
	ProviderRef string    // provider-assigned transaction id
	Artifact    string    // QR payload or URL, displayed as-is
	ExpiresAt   time.Time // zero when the provider did not supply one
}

// Notification is a parsed webhook payload. Status is the provider's raw
// vocabulary, untranslated.
type Notification struct {
	OrderRef    string
	ProviderRef string
	Status      string
	Raw         json.RawMessage
}

// Gateway is the outbound provider contract.
type Gateway interface {
	// CreateCollectionIntent opens a payment collection and returns the
	// artifact to display.
	CreateCollectionIntent(ctx context.Context, req ChargeRequest) (CollectionIntent, error)

	// QueryStatus returns the provider's raw status string for a
	// previously created collection.
	QueryStatus(ctx context.Context, orderRef string) (string, error)
}

// ParseNotification decodes a provider webhook body into a Notification.
// Returns an error when the body is not a recognizable payload; the caller
// must answer 4xx without recording evidence.
func ParseNotification(body []byte) (Notification, error) {
	var payload struct {
		OrderID           string `json:"order_id"`
		TransactionID     string `json:"transaction_id"`
		TransactionStatus string `json:"transaction_status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	if payload.OrderID == "" || payload.TransactionStatus == "" {
		return Notification{}, errors.New("notification missing order_id or transaction_status")
	}
	return Notification{
		OrderRef:    payload.OrderID,
		ProviderRef: payload.TransactionID,
		Status:      payload.TransactionStatus,
		Raw:         json.RawMessage(body),
	}, nil
}
