package payment

import (
	"math/big"
	"strings"

	"franchise-license-workers/internal/common/config"
	"franchise-license-workers/internal/common/errors"
)

// ToBaseUnits converts a human decimal amount to ledger base units (amount × 10^decimals).
// Fractional digits beyond decimals are dropped under the truncate policy and rejected
// otherwise. The result is never rounded up.
func ToBaseUnits(amount string, decimals uint8, policy string) (*big.Int, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return nil, errors.NewInvalidAmountError(amount, "amount is empty")
	}
	if strings.HasPrefix(s, "-") {
		return nil, errors.NewInvalidAmountError(amount, "amount must not be negative")
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return nil, errors.NewInvalidAmountError(amount, "amount has no digits")
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return nil, errors.NewInvalidAmountError(amount, "amount must be a plain decimal number")
	}

	if len(frac) > int(decimals) {
		excess := strings.TrimRight(frac[decimals:], "0")
		if excess != "" && policy != config.PrecisionTruncate {
			return nil, errors.NewExcessPrecisionError(amount, decimals)
		}
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))

	digits := strings.TrimLeft(whole+frac, "0")
	if digits == "" {
		return new(big.Int), nil
	}
	units, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, errors.NewInvalidAmountError(amount, "amount must be a plain decimal number")
	}
	return units, nil
}

// FromBaseUnits renders base units as a decimal amount without trailing zeros.
func FromBaseUnits(units *big.Int, decimals uint8) string {
	neg := units.Sign() < 0
	digits := new(big.Int).Abs(units).String()
	if pad := int(decimals) + 1 - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}

	cut := len(digits) - int(decimals)
	out := digits[:cut]
	if frac := strings.TrimRight(digits[cut:], "0"); frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
