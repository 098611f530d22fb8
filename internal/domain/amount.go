package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount normalises the representations an amount arrives in (decimal,
// string, json.Number, integers) to a decimal.Decimal so that amounts compare
// by value. Floats are accepted only as their shortest decimal form.
func ParseAmount(v any) (decimal.Decimal, error) {
	switch a := v.(type) {
	case decimal.Decimal:
		return a, nil
	case *decimal.Decimal:
		if a == nil {
			return decimal.Zero, ErrInvalidAmount
		}
		return *a, nil
	case string:
		return parseAmountString(a)
	case json.Number:
		return parseAmountString(a.String())
	case int:
		return decimal.NewFromInt(int64(a)), nil
	case int32:
		return decimal.NewFromInt32(a), nil
	case int64:
		return decimal.NewFromInt(a), nil
	case uint32:
		return decimal.NewFromInt(int64(a)), nil
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(a), 0), nil
	case float64:
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, a)
		}
		return decimal.NewFromFloat(a), nil
	case nil:
		return decimal.Zero, ErrInvalidAmount
	default:
		return decimal.Zero, fmt.Errorf("%w: unsupported type %T", ErrInvalidAmount, v)
	}
}

func parseAmountString(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}
