// Package gf256 implements the binary extension field GF(256) with reducing
// polynomial 0x11D, using precomputed log/antilog tables.
package gf256

import "errors"

// ErrDivByZero is returned by Div and Inv when the divisor/operand is zero.
var ErrDivByZero = errors.New("gf256: division by zero")

// Element is a single byte interpreted as an element of GF(256).
type Element struct {
	value byte
}

// Zero is the additive identity.
var Zero = Element{0}

// One is the multiplicative identity.
var One = Element{1}

// New wraps a raw byte as a GF(256) element.
func New(v byte) Element { return Element{v} }

// Value returns the underlying byte.
func (e Element) Value() byte { return e.value }

// Add returns e XOR other: addition in a binary extension field is XOR.
func (e Element) Add(other Element) Element { return Element{e.value ^ other.value} }

// Sub is identical to Add in characteristic 2.
func (e Element) Sub(other Element) Element { return e.Add(other) }

// Neg returns e unchanged: every element is its own additive inverse.
func (e Element) Neg() Element { return e }

// Mul multiplies two elements using the log/antilog tables.
func (e Element) Mul(other Element) Element {
	logSelf := logTable[e.value]
	logOther := logTable[other.value]
	return Element{alogTable[logSelf+logOther]}
}

// Div returns e / other, failing if other is zero.
func (e Element) Div(other Element) (Element, error) {
	if other.value == 0 {
		return Element{}, ErrDivByZero
	}
	logSelf := logTable[e.value]
	logOther := logTable[other.value]
	return Element{alogTable[logSelf+255-logOther]}, nil
}

// Inv returns the multiplicative inverse of e, failing if e is zero.
func (e Element) Inv() (Element, error) {
	if e.value == 0 {
		return Element{}, ErrDivByZero
	}
	logSelf := logTable[e.value]
	return Element{alogTable[255-logSelf%255]}, nil
}

// Equal reports whether two elements hold the same value.
func (e Element) Equal(other Element) bool { return e.value == other.value }

// IsZero reports whether e is the additive identity.
func (e Element) IsZero() bool { return e.value == 0 }

// LSB returns the least significant bit, used by the CRT reconstruction in pkg/ring.
func (e Element) LSB() int { return int(e.value & 1) }

const reducingPolynomial = 0x11D

var logTable [256]int
var alogTable [1025]byte

func init() {
	logTable[0] = 512
	alogTable[0] = 1

	for i := 1; i < 255; i++ {
		next := int(alogTable[i-1]) * 2
		if next >= 256 {
			next ^= reducingPolynomial
		}
		alogTable[i] = byte(next)
		logTable[alogTable[i]] = i
	}

	alogTable[255] = alogTable[0]
	logTable[alogTable[255]] = 255
	for i := 256; i < 510; i++ {
		alogTable[i] = alogTable[i%255]
	}
	alogTable[510] = 1
}
