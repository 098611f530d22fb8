package models

import (
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/tokenledger/internal/domain"
)

// TransactionRequest is the payload for convert and spend.
type TransactionRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

type PurchaseRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	ProductID string          `json:"product_id"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// AdminRequest is the payload for admin adjustments and payouts. Adjustment
// amounts are signed; payout amounts are magnitudes.
type AdminRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// EvaluateRequest asks the detector for a verdict without moving any balance.
// Amount is left loosely typed so numbers and numeric strings are both accepted.
type EvaluateRequest struct {
	TransactionType string `json:"transaction_type"`
	Amount          any    `json:"amount"`
}

// TransactionResponse is the canonical response for a committed balance change.
type TransactionResponse struct {
	UserID          int64                  `json:"user_id"`
	TransactionType domain.TransactionType `json:"transaction_type"`
	Amount          decimal.Decimal        `json:"amount"`
	BalanceBefore   decimal.Decimal        `json:"balance_before"`
	BalanceAfter    decimal.Decimal        `json:"balance_after"`
	AuditEntryID    string                 `json:"audit_entry_id,omitempty"`
	AuditWarning    string                 `json:"audit_warning,omitempty"`
	Flagged         bool                   `json:"flagged"`
	FlagReason      string                 `json:"flag_reason,omitempty"`
}

type BalanceResponse struct {
	UserID  int64           `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

type HistoryResponse struct {
	UserID  int64               `json:"user_id"`
	Limit   int                 `json:"limit"`
	Entries []domain.AuditEntry `json:"entries"`
}

type VerdictResponse struct {
	UserID     int64  `json:"user_id"`
	Suspicious bool   `json:"suspicious"`
	Reason     string `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
