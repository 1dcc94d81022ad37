package model

import "math"

// fractionMultiplier is the fixed multiplier applied to fractional values.
// Values with more than 3 decimal digits of precision are rounded.
const fractionMultiplier = 1000

// EncodeValue converts a raw numeric value into the integer+multiplier pair
// stored on events and blocks. The pair satisfies the round-trip contract
// value == encoded/multiplier (within float rounding).
//
// A nil or non-finite input yields (nil, nil). An integral value is stored
// as-is with the given default multiplier (1 when zero or negative). A
// fractional value is scaled by 1000.
func EncodeValue(v *float64, defaultMultiplier int64) (*int64, *int64) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil, nil
	}

	if defaultMultiplier < 1 {
		defaultMultiplier = 1
	}

	if *v == math.Trunc(*v) {
		encoded := int64(*v)
		mult := defaultMultiplier
		return &encoded, &mult
	}

	encoded := int64(math.Round(*v * fractionMultiplier))
	mult := int64(fractionMultiplier)
	return &encoded, &mult
}

// EncodeFloat is EncodeValue for a known-present value
func EncodeFloat(v float64, defaultMultiplier int64) (*int64, *int64) {
	return EncodeValue(&v, defaultMultiplier)
}

// DecodeValue reconstructs the original numeric value from the stored pair.
// Returns nil when either part is absent.
func DecodeValue(encoded, multiplier *int64) *float64 {
	if encoded == nil || multiplier == nil || *multiplier == 0 {
		return nil
	}
	v := float64(*encoded) / float64(*multiplier)
	return &v
}
