package handler

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/saji-pos/api/internal/database"
	"github.com/saji-pos/api/internal/gateway"
	"github.com/saji-pos/api/internal/payment"
)

// IntentIssuer creates QRIS payment intents.
// Satisfied by *payment.Issuer.
type IntentIssuer interface {
	CreateIntent(ctx context.Context, orderID uuid.UUID) (database.PaymentIntent, error)
}

// IntentPoller checks a pending intent against the gateway.
// Satisfied by *payment.Poller.
type IntentPoller interface {
	PollOnce(ctx context.Context, intentID uuid.UUID) (payment.CanonicalStatus, error)
}

// IntentReconciler folds evidence into the intent state machine.
// Satisfied by *payment.Reconciler.
type IntentReconciler interface {
	Reconcile(ctx context.Context, intentID uuid.UUID, ev payment.Evidence) (database.IntentStatus, error)
}

// QrisStore defines the database methods needed by QRIS handlers.
// Satisfied by *database.Queries.
type QrisStore interface {
	GetPaymentIntent(ctx context.Context, id uuid.UUID) (database.PaymentIntent, error)
	ListIntentsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.PaymentIntent, error)
	ListEvidenceByIntent(ctx context.Context, intentID uuid.UUID) ([]database.StatusEvidence, error)
}

// QrisHandler handles the QRIS payment intent lifecycle: issuing an
// intent, client-driven status polling, the provider webhook, and the
// evidence audit trail.
type QrisHandler struct {
	store  QrisStore
	issuer IntentIssuer
	poller IntentPoller
	rec    IntentReconciler
	now    func() time.Time
}

// NewQrisHandler creates a new QrisHandler.
func NewQrisHandler(store QrisStore, issuer IntentIssuer, poller IntentPoller, rec IntentReconciler) *QrisHandler {
	return &QrisHandler{store: store, issuer: issuer, poller: poller, rec: rec, now: time.Now}
}

// RegisterOrderRoutes registers the order-scoped QRIS endpoints.
// Expected to be mounted inside the /orders subrouter.
func (h *QrisHandler) RegisterOrderRoutes(r chi.Router) {
	r.Post("/{id}/qris", h.CreateIntent)
	r.Get("/{id}/qris", h.ListIntents)
}

// RegisterIntentRoutes registers the intent polling and audit endpoints.
func (h *QrisHandler) RegisterIntentRoutes(r chi.Router) {
	r.Get("/payment-intents/{id}", h.Poll)
	r.Get("/payment-intents/{id}/evidence", h.ListEvidence)
}

// RegisterWebhookRoutes registers the public provider callback.
func (h *QrisHandler) RegisterWebhookRoutes(r chi.Router) {
	r.Post("/webhooks/payment", h.Webhook)
}

// --- Response types ---

type intentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	OrderID            uuid.UUID  `json:"order_id"`
	Provider           string     `json:"provider"`
	ProviderRef        *string    `json:"provider_ref"`
	Amount             string     `json:"amount"`
	Status             string     `json:"status"`
	CollectionArtifact *string    `json:"qr_string"`
	CreatedAt          time.Time  `json:"created_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
	SettledAt          *time.Time `json:"settled_at"`
}

type evidenceResponse struct {
	ID             int64     `json:"id"`
	ObservedStatus string    `json:"observed_status"`
	Source         string    `json:"source"`
	ObservedAt     time.Time `json:"observed_at"`
}

// toIntentResponse renders an intent with its lazily-evaluated status: a
// pending intent past expiry reads as EXPIRED even before any transition
// has been persisted.
func toIntentResponse(i database.PaymentIntent, now time.Time) intentResponse {
	resp := intentResponse{
		ID:        i.ID,
		OrderID:   i.OrderID,
		Provider:  i.Provider,
		Amount:    numericToString(i.Amount),
		Status:    string(payment.EffectiveStatus(i, now)),
		CreatedAt: i.CreatedAt,
		ExpiresAt: i.ExpiresAt,
	}
	if i.ProviderRef.Valid {
		resp.ProviderRef = &i.ProviderRef.String
	}
	if i.CollectionArtifact.Valid {
		resp.CollectionArtifact = &i.CollectionArtifact.String
	}
	if i.SettledAt.Valid {
		resp.SettledAt = &i.SettledAt.Time
	}
	return resp
}

// --- Handlers ---

// CreateIntent handles POST /orders/{id}/qris.
func (h *QrisHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	intent, err := h.issuer.CreateIntent(r.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		case errors.Is(err, payment.ErrIntentConflict):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "order already has a pending payment intent"})
		case errors.Is(err, payment.ErrOrderNotPayable):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "order cannot accept payment"})
		case errors.Is(err, payment.ErrNothingDue):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "order has no remaining balance"})
		case errors.Is(err, gateway.ErrGatewayUnavailable):
			log.Printf("ERROR: create intent for order %s: %v", orderID, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "payment gateway unavailable, try again"})
		case errors.Is(err, gateway.ErrInvalidRequest):
			log.Printf("ERROR: create intent for order %s: %v", orderID, err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "payment gateway rejected the charge"})
		default:
			log.Printf("ERROR: create intent for order %s: %v", orderID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	writeJSON(w, http.StatusCreated, toIntentResponse(intent, h.now()))
}

// ListIntents handles GET /orders/{id}/qris.
func (h *QrisHandler) ListIntents(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	intents, err := h.store.ListIntentsByOrder(r.Context(), orderID)
	if err != nil {
		log.Printf("ERROR: list intents: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	now := h.now()
	resp := make([]intentResponse, len(intents))
	for i, intent := range intents {
		resp[i] = toIntentResponse(intent, now)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Poll handles GET /payment-intents/{id}. Each call performs one status
// check against the gateway; the payment screen calls this on its own
// interval while the QR code is displayed.
func (h *QrisHandler) Poll(w http.ResponseWriter, r *http.Request) {
	intentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid intent ID"})
		return
	}

	status, err := h.poller.PollOnce(r.Context(), intentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "payment intent not found"})
			return
		}
		if errors.Is(err, payment.ErrInconclusive) {
			// The gateway couldn't be reached; nothing changed. Report the
			// stored state so the client keeps its QR up and retries.
			intent, loadErr := h.store.GetPaymentIntent(r.Context(), intentID)
			if loadErr != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status":     string(payment.EffectiveStatus(intent, h.now())),
				"conclusive": false,
			})
			return
		}
		log.Printf("ERROR: poll intent %s: %v", intentID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     string(status),
		"conclusive": true,
	})
}

// ListEvidence handles GET /payment-intents/{id}/evidence.
func (h *QrisHandler) ListEvidence(w http.ResponseWriter, r *http.Request) {
	intentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid intent ID"})
		return
	}

	evidence, err := h.store.ListEvidenceByIntent(r.Context(), intentID)
	if err != nil {
		log.Printf("ERROR: list evidence: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]evidenceResponse, len(evidence))
	for i, ev := range evidence {
		resp[i] = evidenceResponse{
			ID:             ev.ID,
			ObservedStatus: ev.ObservedStatus,
			Source:         string(ev.Source),
			ObservedAt:     ev.ObservedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Webhook handles POST /webhooks/payment, the provider's push
// notification. Non-2xx is reserved for payloads we cannot parse; anything
// else is acknowledged with a 200 even when our own reconciliation fails,
// so an internal hiccup never reads as a delivery failure on the
// provider's side. The poller picks up whatever a dropped reconcile left
// behind.
//
// An unknown intent reference still gets a 200: it is either a stale
// notification for a deleted intent or a test ping, and asking the
// provider to retry it forever helps nobody. It is logged for the audit
// trail instead.
func (h *QrisHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	notif, err := gateway.ParseNotification(body)
	if err != nil {
		log.Printf("WARN: unparseable webhook payload: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unparseable payload"})
		return
	}

	// The charge was created with OrderRef = intent ID.
	intentID, err := uuid.Parse(notif.OrderRef)
	if err != nil {
		log.Printf("WARN: webhook order_id %q is not an intent reference", notif.OrderRef)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if _, err := h.store.GetPaymentIntent(r.Context(), intentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Printf("WARN: webhook for unknown intent %s (status %q)", intentID, notif.Status)
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		log.Printf("ERROR: load intent for webhook %s: %v", intentID, err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
		return
	}

	observed := payment.Normalize(notif.Status)
	status, err := h.rec.Reconcile(r.Context(), intentID, payment.Evidence{
		Status: observed,
		Source: database.EvidenceSourceWEBHOOK,
		Raw:    notif.Raw,
	})
	if err != nil {
		log.Printf("ERROR: reconcile webhook for intent %s: %v", intentID, err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}
