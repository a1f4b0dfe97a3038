// Package amount converts between human readable SYNX values and the
// 18-decimal base units the contracts operate on.
package amount

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
)

// Decimals is the SYNX token precision.
const Decimals = 18

// MaxUint256 is the largest representable token amount, used for
// unlimited approvals.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ParseSYNX converts a decimal SYNX string such as "1.5" into base units.
// Inputs with more than 18 fractional digits or negative values are
// rejected.
func ParseSYNX(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, xerrors.New(xerrors.CodeConfig, "amount must not be empty")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfig, err, "unparseable amount")
	}
	if d.IsNegative() {
		return nil, xerrors.New(xerrors.CodeConfig, "amount must not be negative")
	}
	shifted := d.Shift(Decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, xerrors.New(xerrors.CodeConfig, "amount has more than 18 decimal places")
	}
	return shifted.BigInt(), nil
}

// FormatSYNX renders base units as a decimal SYNX string with trailing
// zeros removed. A nil amount formats as "0".
func FormatSYNX(units *big.Int) string {
	if units == nil {
		return "0"
	}
	return decimal.NewFromBigInt(units, -Decimals).String()
}
