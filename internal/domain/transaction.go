package domain

import (
	"github.com/shopspring/decimal"
)

// TransactionType is the closed set of reasons a balance can change.
type TransactionType string

const (
	TypeConvert         TransactionType = "convert"
	TypeSpend           TransactionType = "spend"
	TypePayout          TransactionType = "payout"
	TypeAdminAdjustment TransactionType = "admin_adjustment"
	TypePurchase        TransactionType = "purchase"
)

// TransactionTypes lists every valid type, in declaration order.
var TransactionTypes = []TransactionType{
	TypeConvert,
	TypeSpend,
	TypePayout,
	TypeAdminAdjustment,
	TypePurchase,
}

func (t TransactionType) Valid() bool {
	switch t {
	case TypeConvert, TypeSpend, TypePayout, TypeAdminAdjustment, TypePurchase:
		return true
	}
	return false
}

// IsDebit reports whether the type always removes tokens from the balance.
func (t TransactionType) IsDebit() bool {
	return t == TypeSpend || t == TypePurchase
}

// Signed turns a stored amount into the delta applied to the balance.
// Amounts are stored as magnitudes and the type carries the direction;
// admin adjustments are the exception and keep their own sign.
func (t TransactionType) Signed(amount decimal.Decimal) decimal.Decimal {
	switch {
	case t.IsDebit():
		return amount.Abs().Neg()
	case t == TypeConvert, t == TypePayout:
		return amount.Abs()
	default:
		return amount
	}
}

// AmountScale is the number of fractional digits balances are stored with.
const AmountScale = 4

// MaxMagnitude bounds amounts and balances from above (exclusive). NUMERIC(20,4)
// leaves 16 integer digits.
var MaxMagnitude = decimal.New(1, 20-AmountScale)

// ValidateAmount checks an amount against the storage convention for t.
func (t TransactionType) ValidateAmount(amount decimal.Decimal) error {
	if !t.Valid() {
		return ErrInvalidTransactionType
	}
	if !amount.Round(AmountScale).Equal(amount) || amount.Abs().GreaterThanOrEqual(MaxMagnitude) {
		return ErrInvalidAmount
	}
	if t == TypeAdminAdjustment {
		if amount.IsZero() {
			return ErrInvalidAmount
		}
		return nil
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// ParseTransactionType validates a raw type string.
func ParseTransactionType(raw string) (TransactionType, error) {
	t := TransactionType(raw)
	if !t.Valid() {
		return "", ErrInvalidTransactionType
	}
	return t, nil
}
