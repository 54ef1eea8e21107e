package revenue

import (
	"fmt"
	"math/big"
	"strings"

	"attribledger/native/agreement"
)

// RoundingPolicy selects which party absorbs the sub-unit remainder when a
// gross amount does not divide evenly by the split ratio. The remainder is
// never lost: the two shares always reconcile exactly to the gross amount.
type RoundingPolicy string

const (
	// RemainderToPlatform floors the counterparty share and assigns the
	// remainder to the platform. This is the default policy.
	RemainderToPlatform RoundingPolicy = "remainder_to_platform"
	// RemainderToCounterparty floors the platform share and assigns the
	// remainder to the counterparty.
	RemainderToCounterparty RoundingPolicy = "remainder_to_counterparty"
)

// Valid reports whether the policy is one of the supported values.
func (p RoundingPolicy) Valid() bool {
	return p == RemainderToPlatform || p == RemainderToCounterparty
}

var currencyPrecision = map[string]int{
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"JPY": 0,
	"KRW": 0,
	"BTC": 8,
	"ETH": 18,
}

const defaultPrecision = 2

// Precision returns the number of minor-unit digits for the currency code.
// Unknown codes fall back to two digits.
func Precision(code string) int {
	if p, ok := currencyPrecision[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return p
	}
	return defaultPrecision
}

// ParseAmount converts a decimal string into integer minor units at the
// currency's precision. Amounts with more fractional digits than the currency
// supports are rejected rather than silently truncated.
func ParseAmount(value, currency string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	negative := strings.HasPrefix(trimmed, "-")
	if negative {
		trimmed = trimmed[1:]
	}
	whole, frac := trimmed, ""
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		whole, frac = trimmed[:idx], trimmed[idx+1:]
	}
	// Only bare digits are allowed past the single optional leading minus;
	// anything else (second sign, letters, extra dots) is rejected outright.
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("malformed amount %q", value)
	}
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("malformed amount %q", value)
		}
	}
	if whole == "" {
		whole = "0"
	}
	precision := Precision(currency)
	if len(frac) > precision {
		return nil, fmt.Errorf("amount %q exceeds %s precision of %d digits", value, strings.ToUpper(currency), precision)
	}
	frac += strings.Repeat("0", precision-len(frac))
	digits := whole + frac
	minor, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", value)
	}
	if negative {
		minor.Neg(minor)
	}
	return minor, nil
}

// FormatAmount renders minor units as a decimal string at the currency's precision.
func FormatAmount(minor *big.Int, currency string) string {
	if minor == nil {
		minor = big.NewInt(0)
	}
	precision := Precision(currency)
	if precision == 0 {
		return minor.String()
	}
	negative := minor.Sign() < 0
	abs := new(big.Int).Abs(minor)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(precision)), nil)
	whole, frac := new(big.Int).QuoRem(abs, scale, new(big.Int))
	out := fmt.Sprintf("%s.%0*s", whole.String(), precision, frac.String())
	if negative {
		return "-" + out
	}
	return out
}

// ComputeSplit derives the counterparty and platform shares for a gross amount
// in minor units. The floored party's share is floor(gross * ratio) and the
// other party receives gross minus that share, so the two always sum to the
// gross amount exactly.
func ComputeSplit(gross *big.Int, splits map[string]float64, policy RoundingPolicy) (counterparty, platform *big.Int, err error) {
	if gross == nil || gross.Sign() < 0 {
		return nil, nil, ErrInvalidAmount
	}
	if !policy.Valid() {
		policy = RemainderToPlatform
	}
	flooredRatio := splits[agreement.RoleCounterparty]
	if policy == RemainderToCounterparty {
		flooredRatio = splits[agreement.RolePlatform]
	}
	floored := floorShare(gross, flooredRatio)
	remainder := new(big.Int).Sub(gross, floored)
	if policy == RemainderToCounterparty {
		return remainder, floored, nil
	}
	return floored, remainder, nil
}

// floorShare computes floor(gross * ratio) using exact rational arithmetic so
// repeated splits never accumulate floating-point drift.
func floorShare(gross *big.Int, ratio float64) *big.Int {
	if ratio <= 0 {
		return big.NewInt(0)
	}
	rat := new(big.Rat).SetFloat64(ratio)
	if rat == nil {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(gross, rat.Num())
	share.Quo(share, rat.Denom())
	if share.Sign() < 0 {
		return big.NewInt(0)
	}
	if share.Cmp(gross) > 0 {
		return new(big.Int).Set(gross)
	}
	return share
}
