// Package fft implements the radix-2 fast Fourier transform over prime
// fields, used to evaluate and interpolate polynomials at roots of unity in
// O(n log n) instead of the O(n^2) Lagrange approach.
package fft

import (
	"errors"

	"github.com/nilmpc/coren/pkg/field"
)

// ErrIndexNotFound mirrors an out-of-bounds slice access during the butterfly pass.
var ErrIndexNotFound = errors.New("fft: index not found")

// FFT2 evaluates values at the powers of w, which must be a primitive
// len(values)-th root of unity. len(values) must be a power of two.
func FFT2(values []field.Element, w field.Element) ([]field.Element, error) {
	rearranged := rearrange(values)
	return compute(rearranged, w)
}

// FFT2Inverse inverts FFT2, recovering the original values from their
// evaluations at the powers of w.
func FFT2Inverse(values []field.Element, w field.Element) ([]field.Element, error) {
	wInv, err := w.Inverse()
	if err != nil {
		return nil, err
	}
	f := w.Field()
	l := f.FromUint64(uint64(len(values)))
	lInv, err := l.Inverse()
	if err != nil {
		return nil, err
	}
	out, err := FFT2(values, wInv)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i] = out[i].Mul(lInv)
	}
	return out, nil
}

// rearrange performs the bit-reversal permutation in place, operating on a copy.
func rearrange(values []field.Element) []field.Element {
	out := make([]field.Element, len(values))
	copy(out, values)

	target := 0
	for pos := 0; pos < len(out); pos++ {
		if target > pos {
			out[target], out[pos] = out[pos], out[target]
		}
		mask := len(out) >> 1
		for target&mask != 0 {
			target &^= mask
			mask >>= 1
		}
		target |= mask
	}
	return out
}

// compute runs the in-place Cooley-Tukey butterfly passes.
func compute(values []field.Element, w field.Element) ([]field.Element, error) {
	for depth := uint(0); ; depth++ {
		step := 1 << depth
		if step >= len(values) {
			break
		}
		jump := step * 2
		exp := len(values) / jump
		factorStride := w.ExpUint64(uint64(exp))
		factor := w.Field().One()

		for group := 0; group < step; group++ {
			for pair := group; pair < len(values); pair += jump {
				pairStep := pair + step
				if pairStep >= len(values) {
					return nil, ErrIndexNotFound
				}
				x := values[pair]
				y := values[pairStep].Mul(factor)
				values[pairStep] = x.Sub(y)
				values[pair] = x.Add(y)
			}
			factor = factor.Mul(factorStride)
		}
	}
	return values, nil
}
