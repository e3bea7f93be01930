package oracle

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Float decodes the scaled-decimal reading into a float64. The result is
// Mantissa * 10^-Scale; readings whose magnitude falls outside double
// precision fail with ErrNonFinite.
func (d Decimal) Float() (float64, error) {
	if d.Mantissa == nil {
		return 0, ErrNonFinite
	}
	mantissa, _ := new(big.Float).SetInt(d.Mantissa).Float64()
	value := mantissa * math.Pow(10, -float64(d.Scale))
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, fmt.Errorf("%w: mantissa=%s scale=%d", ErrNonFinite, d.Mantissa, d.Scale)
	}
	// A nonzero mantissa collapsing to zero means the scale pushed the
	// reading outside double precision; treat the silent underflow the same
	// as overflow.
	if value == 0 && d.Mantissa.Sign() != 0 {
		return 0, fmt.Errorf("%w: mantissa=%s scale=%d", ErrNonFinite, d.Mantissa, d.Scale)
	}
	return value, nil
}

// Text renders the decoded reading in its shortest decimal form. Text is the
// entry point for the structured decoder strategies below, which operate on
// the textual payload some feeds smuggle through the decimal channel.
func (d Decimal) Text() (string, error) {
	value, err := d.Float()
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(value, 'g', -1, 64), nil
}

// PackedReading is the decoded form of a multi-asset feed payload: six
// price/APY pairs in canonical slot order, SOL excluded.
type PackedReading struct {
	Prices [PackedAssetCount]float64
	APYs   [PackedAssetCount]float64
}

// packedValueCount is the expected field count of a packed payload:
// PackedAssetCount assets times {price, apy}.
const packedValueCount = PackedAssetCount * 2

// ParsePackedReading decodes a comma-separated multi-asset payload. The
// payload must carry exactly twelve parseable values in alternating
// price,apy order; anything short or malformed fails closed.
func ParsePackedReading(raw string) (PackedReading, error) {
	fields := strings.Split(raw, ",")
	if len(fields) != packedValueCount {
		return PackedReading{}, fmt.Errorf("%w: packed payload has %d fields, want %d", ErrInvalidFeedAccount, len(fields), packedValueCount)
	}
	values := make([]float64, 0, packedValueCount)
	for _, field := range fields {
		value, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return PackedReading{}, fmt.Errorf("%w: packed payload field %q", ErrInvalidFeedAccount, field)
		}
		if math.IsInf(value, 0) || math.IsNaN(value) {
			return PackedReading{}, fmt.Errorf("%w: packed payload field %q", ErrNonFinite, field)
		}
		values = append(values, value)
	}
	var reading PackedReading
	for i := 0; i < PackedAssetCount; i++ {
		reading.Prices[i] = values[2*i]
		reading.APYs[i] = values[2*i+1]
	}
	return reading, nil
}

// ParseDecimal converts a plain decimal string into its exact scaled form.
// Exponent notation is not accepted.
func ParseDecimal(raw string) (Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	whole, frac, _ := strings.Cut(trimmed, ".")
	mantissa, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return Decimal{}, fmt.Errorf("%w: decimal %q", ErrInvalidFeedAccount, raw)
	}
	return Decimal{Mantissa: mantissa, Scale: int32(len(frac))}, nil
}

// ParseResultPayload decodes the JSON envelope some scalar feeds publish,
// extracting the "result" field as a float.
func ParseResultPayload(raw string) (float64, error) {
	var payload struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return 0, fmt.Errorf("%w: result payload: %v", ErrInvalidFeedAccount, err)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(payload.Result), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: result field %q", ErrInvalidFeedAccount, payload.Result)
	}
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, fmt.Errorf("%w: result field %q", ErrNonFinite, payload.Result)
	}
	return value, nil
}
