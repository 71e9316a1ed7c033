// Package ring implements the semi-prime ring Z/2pZ used to combine a
// prime-field share with a GF(256) share via the Chinese Remainder Theorem,
// as required by the bit-decomposition and comparison protocols.
package ring

import (
	"math/big"

	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/gf256"
)

// Tuple pairs a residue modulo a Sophie Germain prime p with a residue
// modulo 2 (carried as the low bit of a GF(256) element), ready for CRT
// reconstruction into Z/2pZ.
type Tuple struct {
	Prime  field.Element
	Binary gf256.Element
}

// NewTuple builds a Tuple from its two components.
func NewTuple(prime field.Element, binary gf256.Element) Tuple {
	return Tuple{Prime: prime, Binary: binary}
}

// SemiPrime is the ring Z/2pZ, where p is the Sophie Germain prime backing
// a field.SafePrime. It does not support general division: only the
// operations needed to carry a CRT-reconstructed value (Add, Sub, Neg, and
// parity extraction).
type SemiPrime struct {
	p  *big.Int
	m  *big.Int // 2p
}

// NewSemiPrime builds the ring Z/2pZ from the Sophie Germain prime p.
func NewSemiPrime(p *big.Int) *SemiPrime {
	m := new(big.Int).Lsh(p, 1)
	return &SemiPrime{p: new(big.Int).Set(p), m: m}
}

// Modulus returns 2p.
func (r *SemiPrime) Modulus() *big.Int { return new(big.Int).Set(r.m) }

// Value is an element of Z/2pZ.
type Value struct {
	ring *SemiPrime
	v    *big.Int
}

// NewValue reduces v modulo 2p.
func (r *SemiPrime) NewValue(v *big.Int) Value {
	return Value{ring: r, v: new(big.Int).Mod(v, r.m)}
}

// Big returns the non-negative representative in [0, 2p).
func (v Value) Big() *big.Int { return new(big.Int).Set(v.v) }

// IsOdd reports whether the value's representative is odd.
func (v Value) IsOdd() bool { return v.v.Bit(0) == 1 }

// Add returns v + other mod 2p.
func (v Value) Add(other Value) Value {
	sum := new(big.Int).Add(v.v, other.v)
	return Value{ring: v.ring, v: sum.Mod(sum, v.ring.m)}
}

// Sub returns v - other mod 2p.
func (v Value) Sub(other Value) Value {
	diff := new(big.Int).Sub(v.v, other.v)
	return Value{ring: v.ring, v: diff.Mod(diff, v.ring.m)}
}

// Neg returns -v mod 2p.
func (v Value) Neg() Value {
	neg := new(big.Int).Neg(v.v)
	return Value{ring: v.ring, v: neg.Mod(neg, v.ring.m)}
}

// CRT reconstructs the unique value x in [0, 2p) such that x = tuple.Prime
// (mod p) and the low bit of x equals the low bit of tuple.Binary, given that
// p is odd. This combines a prime-field share with a single-bit GF(256) share
// into a semi-prime-ring value, the standard bridge between the two
// preprocessing element families used by comparison and truncation protocols.
func CRT(tuple Tuple) Value {
	f := tuple.Prime.Field()
	p := f.Prime()
	r := NewSemiPrime(p)

	x := tuple.Prime.Big()
	isPrimeOdd := x.Bit(0) == 1
	isBinaryOdd := tuple.Binary.LSB() == 1

	result := new(big.Int).Set(x)
	if isPrimeOdd != isBinaryOdd {
		result.Add(result, p)
	}
	return r.NewValue(result)
}
