package candles

import (
	"math"

	"github.com/shopspring/decimal"
)

// maxDecimalAbs is the largest magnitude the snapshot fixed-point format
// can carry (the 96-bit decimal range used by the legacy snapshots).
const maxDecimalAbs = 7.9228162514264338e28

var (
	decimalMax = decimal.RequireFromString("79228162514264337593543950335")
	decimalMin = decimalMax.Neg()
)

// ToDecimal converts an OHLC value to its fixed-point snapshot form.
// Values outside the representable range saturate to the range bounds
// instead of failing; NaN collapses to zero. Precision loss at this
// boundary is tolerated.
func ToDecimal(v float64) decimal.Decimal {
	switch {
	case math.IsNaN(v):
		return decimal.Zero
	case math.IsInf(v, 1) || v > maxDecimalAbs:
		return decimalMax
	case math.IsInf(v, -1) || v < -maxDecimalAbs:
		return decimalMin
	default:
		return decimal.NewFromFloat(v)
	}
}

// RoundToAccuracy rounds a price to the instrument's configured accuracy
// (number of decimal places), used when deriving mid candles for reads.
func RoundToAccuracy(v float64, accuracy int) float64 {
	if accuracy < 0 {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(int32(accuracy)).Float64()
	return f
}
