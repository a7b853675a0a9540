package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// expiryLayout is the provider's local-time timestamp format.
const expiryLayout = "2006-01-02 15:04:05"

// MidtransGateway talks to the Midtrans Core API over HTTPS.
type MidtransGateway struct {
	baseURL   string
	serverKey string
	client    *http.Client
}

// NewMidtransGateway creates a gateway client. baseURL is the Core API
// root (e.g. https://api.sandbox.midtrans.com).
func NewMidtransGateway(baseURL, serverKey string) *MidtransGateway {
	return &MidtransGateway{
		baseURL:   baseURL,
		serverKey: serverKey,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type midtransChargeRequest struct {
	PaymentType        string                     `json:"payment_type"`
	TransactionDetails midtransTransactionDetails `json:"transaction_details"`
	ItemDetails        []midtransItemDetail       `json:"item_details,omitempty"`
}

type midtransTransactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type midtransItemDetail struct {
	Name     string `json:"name"`
	Quantity int32  `json:"quantity"`
	Price    int64  `json:"price"`
}

type midtransChargeResponse struct {
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	QRString          string `json:"qr_string"`
	ExpiryTime        string `json:"expiry_time"`
	Actions           []struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"actions"`
}

// CreateCollectionIntent opens a QRIS charge and returns the QR payload.
func (g *MidtransGateway) CreateCollectionIntent(ctx context.Context, req ChargeRequest) (CollectionIntent, error) {
	items := make([]midtransItemDetail, len(req.Items))
	for i, item := range req.Items {
		items[i] = midtransItemDetail{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    item.Price.IntPart(),
		}
	}

	body, err := json.Marshal(midtransChargeRequest{
		PaymentType: "qris",
		TransactionDetails: midtransTransactionDetails{
			OrderID:     req.OrderRef,
			GrossAmount: req.GrossAmount.IntPart(),
		},
		ItemDetails: items,
	})
	if err != nil {
		return CollectionIntent{}, fmt.Errorf("marshal charge request: %w", err)
	}

	var resp midtransChargeResponse
	if err := g.do(ctx, http.MethodPost, "/v2/charge", body, &resp); err != nil {
		return CollectionIntent{}, err
	}

	artifact := resp.QRString
	if artifact == "" {
		for _, action := range resp.Actions {
			if action.Name == "generate-qr-code" {
				artifact = action.URL
				break
			}
		}
	}
	if artifact == "" {
		return CollectionIntent{}, fmt.Errorf("%w: charge response carried no QR artifact", ErrInvalidRequest)
	}

	intent := CollectionIntent{
		ProviderRef: resp.TransactionID,
		Artifact:    artifact,
	}
	if resp.ExpiryTime != "" {
		if t, err := time.ParseInLocation(expiryLayout, resp.ExpiryTime, time.Local); err == nil {
			intent.ExpiresAt = t
		}
	}
	return intent, nil
}

type midtransStatusResponse struct {
	StatusCode        string `json:"status_code"`
	TransactionStatus string `json:"transaction_status"`
}

// QueryStatus asks the provider for the current raw transaction status.
func (g *MidtransGateway) QueryStatus(ctx context.Context, orderRef string) (string, error) {
	var resp midtransStatusResponse
	if err := g.do(ctx, http.MethodGet, "/v2/"+orderRef+"/status", nil, &resp); err != nil {
		return "", err
	}
	if resp.TransactionStatus == "" {
		return "", fmt.Errorf("%w: status response missing transaction_status", ErrGatewayUnavailable)
	}
	return resp.TransactionStatus, nil
}

func (g *MidtransGateway) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(g.serverKey, "")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: provider returned %d", ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: provider returned %d: %s", ErrInvalidRequest, resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
	}
	return nil
}
