// Package payment implements the QRIS payment lifecycle: issuing
// collection intents, polling and receiving status evidence, and
// reconciling that evidence into exactly one order completion.
package payment

import (
	"strings"

	"github.com/saji-pos/api/internal/database"
)

// CanonicalStatus is the provider-agnostic status vocabulary. Every
// provider string maps into this closed set before any decision is made.
type CanonicalStatus string

const (
	StatusPending   CanonicalStatus = "PENDING"
	StatusSettled   CanonicalStatus = "SETTLED"
	StatusExpired   CanonicalStatus = "EXPIRED"
	StatusCancelled CanonicalStatus = "CANCELLED"
	StatusFailed    CanonicalStatus = "FAILED"

	// StatusUnknown is the explicit fallback for vocabulary we do not
	// recognize. Unknown is never terminal and never settles an order.
	StatusUnknown CanonicalStatus = "UNKNOWN"
)

// providerVocabulary maps provider status strings (lowercased) to the
// canonical set. Covers Midtrans and DOKU vocabularies plus the common
// aliases seen across gateways.
var providerVocabulary = map[string]CanonicalStatus{
	"pending":       StatusPending,
	"authorize":     StatusPending,
	"settlement":    StatusSettled,
	"capture":       StatusSettled,
	"accept":        StatusSettled,
	"success":       StatusSettled,
	"paid":          StatusSettled,
	"expire":        StatusExpired,
	"expired":       StatusExpired,
	"cancel":        StatusCancelled,
	"cancelled":     StatusCancelled,
	"refund":        StatusCancelled,
	"partial_refund": StatusCancelled,
	"deny":          StatusFailed,
	"failure":       StatusFailed,
	"failed":        StatusFailed,
}

// Normalize translates a provider status string into the canonical
// vocabulary. Total: anything unrecognized becomes StatusUnknown.
func Normalize(providerStatus string) CanonicalStatus {
	if s, ok := providerVocabulary[strings.ToLower(strings.TrimSpace(providerStatus))]; ok {
		return s
	}
	return StatusUnknown
}

// IsTerminal reports whether a canonical status permits no further
// transition.
func IsTerminal(s CanonicalStatus) bool {
	switch s {
	case StatusSettled, StatusExpired, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// intentStatus maps a terminal canonical status onto the persisted intent
// status. Returns false for non-terminal statuses, which never transition
// an intent.
func intentStatus(s CanonicalStatus) (database.IntentStatus, bool) {
	switch s {
	case StatusSettled:
		return database.IntentStatusSETTLED, true
	case StatusExpired:
		return database.IntentStatusEXPIRED, true
	case StatusCancelled:
		return database.IntentStatusCANCELLED, true
	case StatusFailed:
		return database.IntentStatusFAILED, true
	}
	return "", false
}

// FromIntentStatus converts a persisted intent status back into the
// canonical vocabulary.
func FromIntentStatus(s database.IntentStatus) CanonicalStatus {
	switch s {
	case database.IntentStatusSETTLED:
		return StatusSettled
	case database.IntentStatusEXPIRED:
		return StatusExpired
	case database.IntentStatusCANCELLED:
		return StatusCancelled
	case database.IntentStatusFAILED:
		return StatusFailed
	}
	return StatusPending
}
