package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds a user's token balance.
type Account struct {
	UserID    int64           `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AuditEntry is the immutable snapshot of one balance change.
// BalanceAfter always equals BalanceBefore plus TransactionType.Signed(Amount).
// Version is the account version the change produced; history is ordered by it.
type AuditEntry struct {
	ID              string          `json:"id"`
	UserID          int64           `json:"user_id"`
	Version         int64           `json:"version"`
	TransactionType TransactionType `json:"transaction_type"`
	Amount          decimal.Decimal `json:"amount"`
	BalanceBefore   decimal.Decimal `json:"balance_before"`
	BalanceAfter    decimal.Decimal `json:"balance_after"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	IPAddress       *string         `json:"ip_address"`
	UserAgent       *string         `json:"user_agent"`
	CreatedAt       time.Time       `json:"created_at"`
}

// BalanceChange is what the balance store reports after a committed mutation.
// Version is incremented under the row lock, so it orders a user's changes
// exactly as they were committed.
type BalanceChange struct {
	UserID  int64
	Before  decimal.Decimal
	After   decimal.Decimal
	Version int64
}

// RequestContext carries request provenance into the audit log.
// Both fields are nil when the caller has nothing to offer.
type RequestContext struct {
	IPAddress *string
	UserAgent *string
}

// NewRequestContext builds a RequestContext, mapping empty strings to nil.
func NewRequestContext(ip, userAgent string) *RequestContext {
	rc := &RequestContext{}
	if ip != "" {
		rc.IPAddress = &ip
	}
	if userAgent != "" {
		rc.UserAgent = &userAgent
	}
	return rc
}
