// Package floats provides the epsilon-based comparisons used throughout the
// solver. All numeric code compares doubles through these helpers rather
// than with raw operators, so that the tolerance lives in a single place.
package floats

import "math"

// Epsilon is the default comparison tolerance.
const Epsilon = 1e-9

// Infinity returns the double used to represent an unbounded upper bound.
func Infinity() float64 {
	return math.Inf(1)
}

// NegativeInfinity returns the double used to represent an unbounded lower bound.
func NegativeInfinity() float64 {
	return math.Inf(-1)
}

// IsZero reports whether x is zero up to Epsilon.
func IsZero(x float64) bool {
	return math.Abs(x) <= Epsilon
}

// IsPositive reports whether x is strictly positive up to Epsilon.
func IsPositive(x float64) bool {
	return x > Epsilon
}

// IsNegative reports whether x is strictly negative up to Epsilon.
func IsNegative(x float64) bool {
	return x < -Epsilon
}

// Equal reports whether x and y are equal up to Epsilon.
// Two infinities of the same sign are equal.
func Equal(x, y float64) bool {
	if math.IsInf(x, 0) || math.IsInf(y, 0) {
		return x == y
	}
	return IsZero(x - y)
}

// Gt reports whether x > y up to Epsilon.
func Gt(x, y float64) bool {
	return IsPositive(x - y)
}

// Gte reports whether x >= y up to Epsilon.
func Gte(x, y float64) bool {
	return !IsNegative(x - y)
}

// Lt reports whether x < y up to Epsilon.
func Lt(x, y float64) bool {
	return IsNegative(x - y)
}

// Lte reports whether x <= y up to Epsilon.
func Lte(x, y float64) bool {
	return !IsPositive(x - y)
}

// Abs returns |x|.
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Min returns the smaller of x and y.
func Min(x, y float64) float64 {
	return math.Min(x, y)
}

// Max returns the larger of x and y.
func Max(x, y float64) float64 {
	return math.Max(x, y)
}
