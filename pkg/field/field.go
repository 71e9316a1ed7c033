// Package field implements modular arithmetic over safe primes.
//
// An element lives in Z/pZ for a safe prime p (a prime such that (p-1)/2 is
// also prime). All arithmetic is performed through saferith.Nat/Modulus so
// that it does not branch on secret operands.
package field

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/cronokirby/saferith"
)

// ErrDivByZero is returned when dividing or inverting by the zero element.
var ErrDivByZero = errors.New("field: division by zero")

// ErrNonQuadraticResidue is returned by Sqrt when the element has no square root.
var ErrNonQuadraticResidue = errors.New("field: not a quadratic residue")

// ErrOutOfRange is returned when decoding a value that is not reduced modulo p.
var ErrOutOfRange = errors.New("field: value out of range for prime")

// SafePrime is a prime p such that (p-1)/2 is also prime, used as the
// modulus for a Shamir secret-sharing field.
type SafePrime struct {
	p       *big.Int
	sophie  *big.Int // (p-1)/2
	modulus *saferith.Modulus
	bitLen  int
	byteLen int
}

// NewSafePrime builds a SafePrime from p, verifying that p and (p-1)/2 are
// both prime. This check is only ever done at construction, never mid-execution.
func NewSafePrime(p *big.Int) (*SafePrime, error) {
	if p.Sign() <= 0 || !p.ProbablyPrime(32) {
		return nil, fmt.Errorf("field: %s is not prime", p)
	}
	sophie := new(big.Int).Sub(p, big.NewInt(1))
	sophie.Rsh(sophie, 1)
	if !sophie.ProbablyPrime(32) {
		return nil, fmt.Errorf("field: %s is not a safe prime", p)
	}
	nat := new(saferith.Nat).SetBig(p, p.BitLen())
	return &SafePrime{
		p:       new(big.Int).Set(p),
		sophie:  sophie,
		modulus: saferith.ModulusFromNat(nat),
		bitLen:  p.BitLen(),
		byteLen: (p.BitLen() + 7) / 8,
	}, nil
}

// NewPrimeField builds a SafePrime-shaped field modulus for any prime p,
// without requiring (p-1)/2 to also be prime. The generic polynomial and
// FFT algorithms in pkg/polynomial and pkg/fft only need a prime modulus;
// the safe-prime requirement is specific to the Shamir sharing layer
// (pkg/shamir) and the VM's statistical-security parameters.
func NewPrimeField(p *big.Int) (*SafePrime, error) {
	if p.Sign() <= 0 || !p.ProbablyPrime(32) {
		return nil, fmt.Errorf("field: %s is not prime", p)
	}
	nat := new(saferith.Nat).SetBig(p, p.BitLen())
	return &SafePrime{
		p:       new(big.Int).Set(p),
		sophie:  nil,
		modulus: saferith.ModulusFromNat(nat),
		bitLen:  p.BitLen(),
		byteLen: (p.BitLen() + 7) / 8,
	}, nil
}

// MustSafePrime is NewSafePrime but panics on error; used only for the
// package-level cluster constants below, never on user input.
func MustSafePrime(decimal string) *SafePrime {
	p, ok := new(big.Int).SetString(decimal, 10)
	if !ok {
		panic("field: invalid decimal literal: " + decimal)
	}
	sp, err := NewSafePrime(p)
	if err != nil {
		panic(err)
	}
	return sp
}

// Well-known cluster-wide safe primes, sized for 64/128/256-bit security
// parameters. These are fixed per-cluster constants (spec.md §9): kappa and
// k must satisfy kappa+k < floor(log2(p)) at construction time.
var (
	// SafePrime64 is an 8-byte safe prime, suitable for small test clusters.
	SafePrime64 = MustSafePrime("18446744073709551557")

	// SafePrime128 is a 16-byte safe prime.
	SafePrime128 = MustSafePrime("306854684278034558298634856442769374379")

	// SafePrime256 is a 32-byte safe prime.
	SafePrime256 = MustSafePrime(
		"115792089237316195423570985008687907853269984665640564039457584007908834671663")
)

// BitLen returns the bit length of the prime.
func (f *SafePrime) BitLen() int { return f.bitLen }

// ByteLen returns the fixed encoding width, in bytes, for elements of this field.
func (f *SafePrime) ByteLen() int { return f.byteLen }

// Prime returns a copy of the prime modulus as a big.Int.
func (f *SafePrime) Prime() *big.Int { return new(big.Int).Set(f.p) }

// Modulus returns the underlying saferith modulus.
func (f *SafePrime) Modulus() *saferith.Modulus { return f.modulus }

// Element is a value in Z/pZ. The zero value is not valid; use a SafePrime's
// constructors. An Element always holds a value strictly less than p.
type Element struct {
	field *SafePrime
	nat   *saferith.Nat
}

// Zero returns the additive identity.
func (f *SafePrime) Zero() Element {
	return Element{field: f, nat: new(saferith.Nat).SetUint64(0)}
}

// One returns the multiplicative identity.
func (f *SafePrime) One() Element {
	return Element{field: f, nat: new(saferith.Nat).SetUint64(1)}
}

// NewElement reduces v modulo p and returns the resulting element.
func (f *SafePrime) NewElement(v *big.Int) Element {
	reduced := new(big.Int).Mod(v, f.p)
	nat := new(saferith.Nat).SetBig(reduced, f.bitLen)
	return Element{field: f, nat: nat.Mod(f.modulus)}
}

// FromUint64 builds an element from a uint64, reducing modulo p.
func (f *SafePrime) FromUint64(v uint64) Element {
	nat := new(saferith.Nat).SetUint64(v)
	return Element{field: f, nat: nat.Mod(f.modulus)}
}

// FromInt64 builds an element from a signed integer, mapping negative values
// to their centered-residue representative (p + v).
func (f *SafePrime) FromInt64(v int64) Element {
	return f.NewElement(big.NewInt(v))
}

// RandomElement draws a uniformly random element using rnd (use crypto/rand.Reader
// in production).
func (f *SafePrime) RandomElement(rnd io.Reader) (Element, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	v, err := rand.Int(rnd, f.p)
	if err != nil {
		return Element{}, err
	}
	return f.NewElement(v), nil
}

// Field returns the element's field.
func (e Element) Field() *SafePrime { return e.field }

// IsZero reports whether the element is the additive identity.
func (e Element) IsZero() bool {
	return e.nat.EqZero() == 1
}

// Equal reports whether two elements of the same field are equal.
func (e Element) Equal(other Element) bool {
	return e.nat.Eq(other.nat) == 1
}

// Add returns e + other.
func (e Element) Add(other Element) Element {
	return Element{field: e.field, nat: new(saferith.Nat).ModAdd(e.nat, other.nat, e.field.modulus)}
}

// Sub returns e - other.
func (e Element) Sub(other Element) Element {
	return Element{field: e.field, nat: new(saferith.Nat).ModSub(e.nat, other.nat, e.field.modulus)}
}

// Neg returns -e.
func (e Element) Neg() Element {
	return Element{field: e.field, nat: new(saferith.Nat).ModNeg(e.nat, e.field.modulus)}
}

// Mul returns e * other.
func (e Element) Mul(other Element) Element {
	return Element{field: e.field, nat: new(saferith.Nat).ModMul(e.nat, other.nat, e.field.modulus)}
}

// Inverse returns the multiplicative inverse of e, or ErrDivByZero if e is zero.
func (e Element) Inverse() (Element, error) {
	if e.IsZero() {
		return Element{}, ErrDivByZero
	}
	return Element{field: e.field, nat: new(saferith.Nat).ModInverse(e.nat, e.field.modulus)}, nil
}

// Div returns e / other, or ErrDivByZero if other is zero.
func (e Element) Div(other Element) (Element, error) {
	inv, err := other.Inverse()
	if err != nil {
		return Element{}, err
	}
	return e.Mul(inv), nil
}

// Inv is an alias of Inverse, satisfying the polynomial package's generic
// field-element contract (which also admits gf256.Element, whose inverse
// method is spelled Inv).
func (e Element) Inv() (Element, error) {
	return e.Inverse()
}

// ExpBig raises e to the given non-negative exponent.
func (e Element) ExpBig(exp *big.Int) Element {
	expNat := new(saferith.Nat).SetBig(exp, exp.BitLen())
	return Element{field: e.field, nat: new(saferith.Nat).Exp(e.nat, expNat, e.field.modulus)}
}

// ExpUint64 raises e to the given non-negative exponent.
func (e Element) ExpUint64(exp uint64) Element {
	expNat := new(saferith.Nat).SetUint64(exp)
	return Element{field: e.field, nat: new(saferith.Nat).Exp(e.nat, expNat, e.field.modulus)}
}

// Big returns the non-negative representative of e in [0, p).
func (e Element) Big() *big.Int {
	return e.nat.Big()
}

// FloorMod returns the centered-residue (signed) representative of e: a value
// x in e such that x = e (mod p) and -p/2 < x <= p/2.
func (e Element) FloorMod() *big.Int {
	v := e.Big()
	half := new(big.Int).Rsh(e.field.p, 1)
	if v.Cmp(half) > 0 {
		v.Sub(v, e.field.p)
	}
	return v
}

// Sign returns -1, 0 or 1 according to the sign of the centered residue.
func (e Element) Sign() int {
	return e.FloorMod().Sign()
}

// Bytes encodes e as a fixed-width big-endian byte string.
func (e Element) Bytes() []byte {
	buf := make([]byte, e.field.byteLen)
	e.nat.Big().FillBytes(buf)
	return buf
}

// Decode decodes a fixed-width big-endian byte string produced by Bytes.
// It fails if the encoded value is not strictly less than p.
func (f *SafePrime) Decode(buf []byte) (Element, error) {
	v := new(big.Int).SetBytes(buf)
	if v.Cmp(f.p) >= 0 {
		return Element{}, ErrOutOfRange
	}
	return f.NewElement(v), nil
}

// String renders the centered-residue representation, useful for debugging.
func (e Element) String() string {
	return e.FloorMod().String()
}
